package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HandleNote serves a local note's ActivityPub document. Anonymous
// readers only get what the note's visibility allows: followers-only
// and specified notes answer 404 rather than confirm their content.
func (s *Server) HandleNote(c *gin.Context) {
	noteId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	note, err := s.db.ReadNoteById(noteId)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if note == nil || !note.IsLocal() {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	visible, err := s.visibility.CanSee(note, nil)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if !visible {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	author, err := s.db.ReadActorById(note.AuthorId)
	if err != nil || author == nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	poll, err := s.db.ReadPollByNoteId(note.Id)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	doc := s.kernel.RenderNoteObject(note, author, poll)
	doc.Context = "https://www.w3.org/ns/activitystreams"

	c.Header("Content-Type", activityJSON)
	c.JSON(http.StatusOK, doc)
}
