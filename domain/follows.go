package domain

import (
	"github.com/google/uuid"
	"time"
)

// Follow is a confirmed directed relationship follower -> followee.
// The origin hosts of both sides are denormalized so delivery fan-out
// doesn't need extra joins (empty host = local).
type Follow struct {
	Id           uuid.UUID
	FollowerId   uuid.UUID
	FolloweeId   uuid.UUID
	FollowerHost string
	FolloweeHost string
	URI          string // ActivityPub Follow activity URI, empty for local-only follows
	CreatedAt    time.Time
}

// FollowRequest is a pending follow awaiting Accept or Reject.
type FollowRequest struct {
	Id           uuid.UUID
	FollowerId   uuid.UUID
	FolloweeId   uuid.UUID
	FollowerHost string
	FolloweeHost string
	URI          string
	CreatedAt    time.Time
}

// Block is a directed suppression edge. Creating one forces an
// unfollow in both directions.
type Block struct {
	Id        uuid.UUID
	BlockerId uuid.UUID
	BlockeeId uuid.UUID
	CreatedAt time.Time
}

// Mute is a directed suppression edge consulted at read time only.
type Mute struct {
	Id        uuid.UUID
	MuterId   uuid.UUID
	MuteeId   uuid.UUID
	CreatedAt time.Time
}
