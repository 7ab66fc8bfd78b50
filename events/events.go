// Package events is the message-passing boundary between the federation
// core and its subscribers (realtime fan-out, notifications). The core
// only publishes; consumers hold their own subscription channels.
package events

import (
	"sync"

	"github.com/google/uuid"
)

type Type string

const (
	NotePosted      Type = "note-posted"
	NoteReacted     Type = "note-reacted"
	NoteUnreacted   Type = "note-unreacted"
	PollVoted       Type = "poll-voted"
	FollowRequested Type = "follow-requested"
	Followed        Type = "followed"
	Unfollowed      Type = "unfollowed"
	ActorBlocked    Type = "actor-blocked"
)

// Event is one typed notification. NoteId and TargetId are uuid.Nil
// when they don't apply to the event type.
type Event struct {
	Type     Type
	ActorId  uuid.UUID
	NoteId   uuid.UUID
	TargetId uuid.UUID
	Symbol   string // reaction symbol, when applicable
	Choice   int    // poll choice index, when applicable
}

// Bus fans events out to subscribers. Publishing never blocks: a
// subscriber that falls behind loses events rather than stalling
// activity processing.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a buffered event channel and a cancel func.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
