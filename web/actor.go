package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/corvid-social/corvid/activitypub"
	"github.com/gin-gonic/gin"
)

const activityJSON = "application/activity+json; charset=utf-8"

// HandleActor serves the ActivityPub document of a local actor.
func (s *Server) HandleActor(c *gin.Context) {
	actor, err := s.db.ReadLocalActorByUsername(c.Param("username"))
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if actor == nil || actor.Suspended {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	uri := s.kernel.ActorURI(actor)
	doc := activitypub.ActorDocument{
		Context:           activitypub.ActivityStreamsContext,
		ID:                uri,
		Type:              "Person",
		PreferredUsername: actor.Username,
		Name:              actor.DisplayName,
		Summary:           actor.Summary,
		Inbox:             uri + "/inbox",
		Outbox:            uri + "/outbox",
		Followers:         uri + "/followers",
	}
	doc.Endpoints.SharedInbox = s.conf.BaseURL() + "/inbox"
	doc.PublicKey.ID = uri + "#main-key"
	doc.PublicKey.Owner = uri
	doc.PublicKey.PublicKeyPem = actor.PublicKeyPem
	if actor.AvatarURL != "" {
		doc.Icon.Type = "Image"
		doc.Icon.URL = actor.AvatarURL
	}

	c.Header("Content-Type", activityJSON)
	c.JSON(http.StatusOK, doc)
}

// HandleWebfinger answers acct: lookups for local actors.
func (s *Server) HandleWebfinger(c *gin.Context) {
	resource := c.Query("resource")
	if !strings.HasPrefix(resource, "acct:") {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}

	acct := strings.TrimPrefix(resource, "acct:")
	username := strings.TrimSuffix(acct, "@"+s.conf.Conf.Domain)
	if strings.Contains(username, "@") {
		// acct for a different domain
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}

	actor, err := s.db.ReadLocalActorByUsername(username)
	if err != nil || actor == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subject": fmt.Sprintf("acct:%s@%s", actor.Username, s.conf.Conf.Domain),
		"links": []gin.H{
			{
				"rel":  "self",
				"type": "application/activity+json",
				"href": s.kernel.ActorURI(actor),
			},
		},
	})
}
