package web

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/corvid-social/corvid/activitypub"
	"github.com/corvid-social/corvid/domain"
	"github.com/corvid-social/corvid/util"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/gorilla/feeds"
)

// HandleRSS serves the public local timeline as RSS, optionally
// filtered to one local actor via ?username=.
func (s *Server) HandleRSS(c *gin.Context) {
	c.Header("Content-Type", "application/xml; charset=utf-8")
	rss, err := s.buildRSS(c.Query("username"))
	if err != nil {
		c.Render(http.StatusNotFound, render.String{Format: ""})
		return
	}
	c.Render(http.StatusOK, render.String{Format: rss})
}

func (s *Server) buildRSS(username string) (string, error) {
	var all []domain.Note
	var title string
	var author string

	if username != "" {
		actor, err := s.db.ReadLocalActorByUsername(username)
		if err != nil {
			return "", err
		}
		if actor == nil {
			return "", errors.New("unknown user")
		}
		all, err = s.db.ReadNotesByAuthor(actor.Id, 50)
		if err != nil {
			return "", err
		}
		title = fmt.Sprintf("Corvid Notes - %s", username)
		author = username
	} else {
		var err error
		all, err = s.db.ReadPublicLocalNotes(50)
		if err != nil {
			return "", err
		}
		title = "All Corvid Notes"
		author = "everyone"
	}

	// the feed is anonymous: anything the visibility layer hides for a
	// nil viewer is left out rather than shown as a stub
	page := make([]*domain.Note, 0, len(all))
	for i := range all {
		page = append(page, &all[i])
	}
	visible, err := s.visibility.Timeline(page, nil)
	if err != nil {
		return "", err
	}
	var notes []*domain.Note
	for _, n := range visible {
		if !n.Hidden {
			notes = append(notes, n)
		}
	}

	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: s.conf.BaseURL() + "/feed"},
		Description: "corvid public timeline",
		Author:      &feeds.Author{Name: author, Email: fmt.Sprintf("%s@%s", author, s.conf.Conf.Domain)},
		Created:     time.Now(),
	}

	for _, note := range notes {
		name := s.authorNameOf(note)
		feed.Items = append(feed.Items, &feeds.Item{
			Id:      note.Id.String(),
			Title:   note.CreatedAt.Format(util.DateTimeFormat()),
			Link:    &feeds.Link{Href: s.conf.BaseURL() + "/notes/" + note.Id.String()},
			Content: activitypub.RenderContent(note.Text),
			Author:  &feeds.Author{Name: name, Email: fmt.Sprintf("%s@%s", name, s.conf.Conf.Domain)},
			Created: note.CreatedAt,
		})
	}

	return feed.ToRss()
}

func (s *Server) authorNameOf(n *domain.Note) string {
	actor, err := s.db.ReadActorById(n.AuthorId)
	if err != nil || actor == nil {
		return "unknown"
	}
	return actor.Username
}
