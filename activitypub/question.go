package activitypub

import (
	"time"

	"github.com/corvid-social/corvid/domain"
	"github.com/corvid-social/corvid/events"
	"github.com/google/uuid"
)

// extractPoll builds a poll from a Question document's oneOf/anyOf
// arrays. Returns nil when the document carries no poll.
func extractPoll(doc *NoteObject, noteId uuid.UUID) *domain.Poll {
	choices := doc.OneOf
	multiple := false
	if len(choices) == 0 && len(doc.AnyOf) > 0 {
		choices = doc.AnyOf
		multiple = true
	}
	if len(choices) == 0 {
		return nil
	}

	poll := &domain.Poll{
		NoteId:   noteId,
		Choices:  make([]string, len(choices)),
		Votes:    make([]int, len(choices)),
		Multiple: multiple,
	}
	for i, c := range choices {
		poll.Choices[i] = c.Name
		poll.Votes[i] = c.Replies.TotalItems
	}

	// closed wins over endTime when both are present
	if t := parseTimeOrZero(doc.Closed); !t.IsZero() {
		poll.ExpiresAt = t
	} else if t := parseTimeOrZero(doc.EndTime); !t.IsZero() {
		poll.ExpiresAt = t
	}
	return poll
}

// Vote records a local actor's vote on a note's poll and, for remote
// polls, queues the vote reply to the poll's origin server. Returns
// ErrInvalidChoice, ErrPollExpired or ErrAlreadyVoted on refusal.
func (k *Kernel) Vote(voter *domain.Actor, note *domain.Note, choice int) error {
	poll, err := k.db.ReadPollByNoteId(note.Id)
	if err != nil {
		return err
	}
	if poll == nil {
		return domain.ErrInvalidChoice
	}
	if choice < 0 || choice >= len(poll.Choices) {
		return domain.ErrInvalidChoice
	}
	if poll.Expired(time.Now()) {
		return domain.ErrPollExpired
	}

	vote := &domain.PollVote{
		Id:        uuid.New(),
		NoteId:    note.Id,
		ActorId:   voter.Id,
		Choice:    choice,
		CreatedAt: time.Now(),
	}
	if err := k.db.CreatePollVote(vote, !poll.Multiple); err != nil {
		return err
	}

	if !note.IsLocal() {
		author, err := k.db.ReadActorById(note.AuthorId)
		if err != nil {
			return err
		}
		if author != nil {
			payload := k.RenderVote(voter, note, poll.Choices[choice])
			if err := k.delivery.Enqueue(voter, author.DeliveryInbox(), payload); err != nil {
				return err
			}
		}
	}

	k.bus.Publish(events.Event{Type: events.PollVoted, ActorId: voter.Id, NoteId: note.Id, Choice: choice})
	return nil
}
