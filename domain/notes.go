package domain

import (
	"github.com/google/uuid"
	"time"
)

// Visibility is the audience policy of a note.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityHome      Visibility = "home"
	VisibilityFollowers Visibility = "followers"
	VisibilitySpecified Visibility = "specified"
)

// ParseVisibility maps a stored or wire value to a Visibility.
// "private" is accepted as a legacy alias of "specified" and never produced.
func ParseVisibility(s string) Visibility {
	switch s {
	case "public":
		return VisibilityPublic
	case "home":
		return VisibilityHome
	case "followers":
		return VisibilityFollowers
	case "specified", "private":
		return VisibilitySpecified
	}
	return VisibilityPublic
}

// Attachment is a media file attached to a note.
type Attachment struct {
	URL       string `json:"url"`
	MediaType string `json:"mediaType"`
	Name      string `json:"name,omitempty"`
	Sensitive bool   `json:"sensitive,omitempty"`
}

// Note is a post, local or federated. A remote note carries its origin
// URI and is immutable here except for reaction counters and poll tallies.
type Note struct {
	Id              uuid.UUID
	AuthorId        uuid.UUID
	URI             string // empty for local notes, globally unique otherwise
	Text            string
	CW              string // content warning / summary, empty means none
	Visibility      Visibility
	VisibleActorIds []uuid.UUID // populated only when Visibility == specified
	ReplyId         uuid.UUID   // uuid.Nil means not a reply
	QuoteId         uuid.UUID   // uuid.Nil means no quote
	Attachments     []Attachment
	Tags            []string
	MentionIds      []uuid.UUID
	Emojis          []string
	Reactions       map[string]int // reaction symbol -> count
	HasPoll         bool
	Hidden          bool // set by redaction only, never persisted
	CreatedAt       time.Time
}

// IsLocal reports whether this server has authority over the note.
func (n *Note) IsLocal() bool {
	return n.URI == ""
}

// Poll is an embedded question attached to a note.
type Poll struct {
	NoteId    uuid.UUID
	Choices   []string
	Votes     []int // per-choice tallies, same length as Choices
	Multiple  bool
	ExpiresAt time.Time // zero value means the poll never expires
}

// Expired reports whether the poll is past its expiry instant.
func (p *Poll) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// PollVote records a single vote. Uniqueness is enforced by the store:
// one vote per (voter, poll) for single-choice polls, one per
// (voter, poll, choice) for multiple-choice polls.
type PollVote struct {
	Id        uuid.UUID
	NoteId    uuid.UUID
	ActorId   uuid.UUID
	Choice    int
	CreatedAt time.Time
}

// Reaction records one actor's reaction on a note, keyed by symbol.
type Reaction struct {
	Id        uuid.UUID
	NoteId    uuid.UUID
	ActorId   uuid.UUID
	Symbol    string
	CreatedAt time.Time
}

// Emoji is a custom emoji referenced by remote notes, keyed by (name, host).
type Emoji struct {
	Id        uuid.UUID
	Name      string
	Host      string
	URI       string
	URL       string
	UpdatedAt time.Time
}
