package domain

import (
	"errors"
	"github.com/google/uuid"
	"time"
)

// Typed domain failures, returned to callers and never logged as errors.
var (
	ErrInvalidChoice = errors.New("invalid choice")
	ErrAlreadyVoted  = errors.New("already voted")
	ErrPollExpired   = errors.New("poll expired")
	ErrNotReacted    = errors.New("not reacted")
	ErrAlreadyExists = errors.New("already exists")
)

// Instance is a federation peer, registered lazily the first time any
// actor from its host is resolved.
type Instance struct {
	Id                 uuid.UUID
	Host               string
	CaughtAt           time.Time
	DeliverySuccesses  int
	DeliveryFailures   int
	Blocked            bool
	LastCommunicatedAt time.Time
}

// DeliveryJob is a persisted queue entry for one outbound activity POST.
// The payload is signed with the sending actor's key at delivery time,
// because HTTP signatures cover the Date header and go stale.
type DeliveryJob struct {
	Id            uuid.UUID
	InboxURI      string
	ActorId       uuid.UUID // local signing actor
	Payload       string
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// ActivityRecord logs an inbound or outbound activity by URI for
// deduplication and debugging. Processed turns true only once the
// activity's handler has run to completion; a record that is present
// but unprocessed marks a delivery that failed mid-handling and may
// be retried.
type ActivityRecord struct {
	Id           uuid.UUID
	URI          string
	ActivityType string
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Processed    bool
	Local        bool
	CreatedAt    time.Time
}
