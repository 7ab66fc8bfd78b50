package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/corvid-social/corvid/domain"
	"github.com/gin-gonic/gin"
)

const outboxPageSize = 20

// HandleOutbox serves an OrderedCollection of a local actor's public
// posts so remote servers can backfill without following.
func (s *Server) HandleOutbox(c *gin.Context) {
	actor, err := s.db.ReadLocalActorByUsername(c.Param("username"))
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if actor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	notes, err := s.db.ReadNotesByAuthor(actor.Id, 1000)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	var public []domain.Note
	for _, n := range notes {
		if n.Visibility == domain.VisibilityPublic || n.Visibility == domain.VisibilityHome {
			public = append(public, n)
		}
	}

	outboxURL := s.kernel.ActorURI(actor) + "/outbox"
	c.Header("Content-Type", activityJSON)

	page := ParsePageParam(c.Query("page"))
	if page == 0 {
		c.JSON(http.StatusOK, gin.H{
			"@context":   "https://www.w3.org/ns/activitystreams",
			"id":         outboxURL,
			"type":       "OrderedCollection",
			"totalItems": len(public),
			"first":      outboxURL + "?page=1",
		})
		return
	}

	offset := (page - 1) * outboxPageSize
	if offset > len(public) {
		offset = len(public)
	}
	end := offset + outboxPageSize
	if end > len(public) {
		end = len(public)
	}

	items := make([]json.RawMessage, 0, end-offset)
	for i := offset; i < end; i++ {
		note := public[i]
		poll, err := s.db.ReadPollByNoteId(note.Id)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		doc := s.kernel.RenderNoteObject(&note, actor, poll)
		items = append(items, s.kernel.RenderCreate(actor, doc))
	}

	pageDoc := gin.H{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           outboxURL + "?page=" + strconv.Itoa(page),
		"type":         "OrderedCollectionPage",
		"partOf":       outboxURL,
		"orderedItems": items,
	}
	if end < len(public) {
		pageDoc["next"] = outboxURL + "?page=" + strconv.Itoa(page+1)
	}
	if page > 1 {
		pageDoc["prev"] = outboxURL + "?page=" + strconv.Itoa(page-1)
	}
	c.JSON(http.StatusOK, pageDoc)
}

// HandleFollowers serves the follower collection as a count only; the
// membership list stays private.
func (s *Server) HandleFollowers(c *gin.Context) {
	s.handleFollowCollection(c, "followers")
}

func (s *Server) HandleFollowing(c *gin.Context) {
	s.handleFollowCollection(c, "following")
}

func (s *Server) handleFollowCollection(c *gin.Context, kind string) {
	actor, err := s.db.ReadLocalActorByUsername(c.Param("username"))
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if actor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	var total int
	if kind == "followers" {
		follows, err := s.db.ReadFollowersOf(actor.Id)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		total = len(follows)
	} else {
		follows, err := s.db.ReadFollowingOf(actor.Id)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		total = len(follows)
	}

	c.Header("Content-Type", activityJSON)
	c.JSON(http.StatusOK, gin.H{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         s.kernel.ActorURI(actor) + "/" + kind,
		"type":       "OrderedCollection",
		"totalItems": total,
	})
}

// ParsePageParam extracts the page parameter from a query string.
func ParsePageParam(pageStr string) int {
	if pageStr == "" {
		return 0
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return 0
	}
	return page
}
