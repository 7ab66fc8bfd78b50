package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/corvid-social/corvid/activitypub"
	"github.com/corvid-social/corvid/domain"
	"github.com/corvid-social/corvid/util"
	"github.com/gin-gonic/gin"
)

// HandleInbox accepts one signed activity on the shared or per-actor
// inbox. Both routes behave identically: the activity's own addressing
// decides what it applies to.
func (s *Server) HandleInbox(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Inbox: failed to read body: %v", err)
		c.Status(http.StatusBadRequest)
		return
	}

	var activity activitypub.Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		log.Printf("Inbox: failed to parse activity: %v", err)
		c.Status(http.StatusBadRequest)
		return
	}

	if host, err := util.ExtractHost(activity.Actor); err == nil && s.conf.IsBlockedHost(host) {
		// blocked senders get the same answer as success
		c.Status(http.StatusAccepted)
		return
	}

	if err := s.verifySignature(c, &activity); err != nil {
		log.Printf("Inbox: rejecting %s from %s: %v", activity.Type, activity.Actor, err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		return
	}

	if err := s.kernel.Perform(c.Request.Context(), &activity, body); err != nil {
		status := performStatus(err)
		if status == http.StatusInternalServerError {
			log.Printf("Inbox: failed to process %s %s: %v", activity.Type, activity.ID, err)
		} else {
			log.Printf("Inbox: refusing %s %s: %v", activity.Type, activity.ID, err)
		}
		c.Status(status)
		return
	}

	c.Status(http.StatusAccepted)
}

// performStatus maps kernel errors onto inbox responses. Policy
// failures answer as accepted so the sender does not retry them; only
// transient processing failures surface as 500 and earn a redelivery.
func performStatus(err error) int {
	switch {
	case errors.Is(err, activitypub.ErrActorRejected):
		return http.StatusForbidden
	case errors.Is(err, activitypub.ErrHostBlocked):
		// blocked senders get the same answer as success
		return http.StatusAccepted
	case errors.Is(err, activitypub.ErrResolutionCycle), errors.Is(err, activitypub.ErrDepthExceeded):
		// resolution policy limits won't clear on retry
		return http.StatusAccepted
	case errors.Is(err, domain.ErrAlreadyVoted), errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// verifySignature checks the HTTP signature against the key of the
// actor the keyId names, and requires that actor to match the
// activity's actor field.
func (s *Server) verifySignature(c *gin.Context, activity *activitypub.Activity) error {
	keyOwner, err := activitypub.SignatureKeyId(c.Request)
	if err != nil {
		return err
	}
	if keyOwner != activity.Actor {
		return errors.New("keyId does not match activity actor")
	}

	actor, err := s.kernel.GetOrFetchActor(c.Request.Context(), activitypub.NewResolver(s.db, s.conf), keyOwner)
	if err != nil {
		return err
	}
	_, err = activitypub.VerifyRequest(c.Request, actor.PublicKeyPem)
	return err
}
