package activitypub

import (
	"time"

	"github.com/corvid-social/corvid/db"
	"github.com/corvid-social/corvid/domain"
	"github.com/corvid-social/corvid/events"
	"github.com/corvid-social/corvid/util"
	"github.com/google/uuid"
)

// PublishNote stores a local note and fans its Create activity out to
// the author's remote followers, or to the named recipients for a
// specified-visibility note.
func (k *Kernel) PublishNote(author *domain.Actor, note *domain.Note, poll *domain.Poll) error {
	note.HasPoll = poll != nil
	if err := k.db.CreateNote(note, poll); err != nil {
		return err
	}

	doc := k.RenderNoteObject(note, author, poll)
	payload := k.RenderCreate(author, doc)

	if note.Visibility == domain.VisibilitySpecified {
		for _, id := range note.VisibleActorIds {
			recipient, err := k.db.ReadActorById(id)
			if err != nil {
				return err
			}
			if recipient == nil || recipient.IsLocal() {
				continue
			}
			if err := k.delivery.Enqueue(author, recipient.DeliveryInbox(), payload); err != nil {
				return err
			}
		}
	} else {
		if err := k.delivery.EnqueueToFollowers(author, payload); err != nil {
			return err
		}
	}

	k.bus.Publish(events.Event{Type: events.NotePosted, ActorId: author.Id, NoteId: note.Id})
	return nil
}

// Follow starts following on behalf of a local actor. Following a
// local target resolves immediately when it auto-accepts or follows
// back; a remote target gets the Follow delivered and stays pending
// until its Accept arrives.
func (k *Kernel) Follow(follower, followee *domain.Actor) error {
	if blocked, err := k.db.ReadBlock(followee.Id, follower.Id); err != nil {
		return err
	} else if blocked != nil {
		return domain.ErrAlreadyExists
	}

	req := &domain.FollowRequest{
		Id:           uuid.New(),
		FollowerId:   follower.Id,
		FolloweeId:   followee.Id,
		FollowerHost: follower.Host,
		FolloweeHost: followee.Host,
		URI:          k.newActivityID(),
		CreatedAt:    time.Now(),
	}
	if err := k.db.CreateFollowRequest(req); err != nil {
		return err
	}

	if followee.IsLocal() {
		followsBack, err := k.db.ReadFollow(followee.Id, follower.Id)
		if err != nil {
			return err
		}
		if followee.AutoAcceptFollows || followsBack != nil {
			return k.acceptFollowRequest(followee, follower, req)
		}
		k.bus.Publish(events.Event{Type: events.FollowRequested, ActorId: follower.Id, TargetId: followee.Id})
		return nil
	}

	payload := k.RenderFollow(follower, followee, req.URI)
	if err := k.delivery.Enqueue(follower, followee.DeliveryInbox(), payload); err != nil {
		return err
	}
	k.bus.Publish(events.Event{Type: events.FollowRequested, ActorId: follower.Id, TargetId: followee.Id})
	return nil
}

// Unfollow cancels a pending request and/or an established follow.
// Safe to call when neither exists.
func (k *Kernel) Unfollow(follower, followee *domain.Actor) error {
	req, err := k.db.ReadFollowRequest(follower.Id, followee.Id)
	if err != nil {
		return err
	}
	follow, err := k.db.ReadFollow(follower.Id, followee.Id)
	if err != nil {
		return err
	}
	if req == nil && follow == nil {
		return nil
	}

	followURI := ""
	if follow != nil {
		followURI = follow.URI
	} else {
		followURI = req.URI
	}

	if err := k.db.DeleteFollowRequest(follower.Id, followee.Id); err != nil {
		return err
	}
	if err := k.db.DeleteFollow(follower.Id, followee.Id); err != nil {
		return err
	}

	if !followee.IsLocal() {
		inner := &Activity{
			ID:     followURI,
			Type:   "Follow",
			Actor:  k.ActorURI(follower),
			Object: rawURI(k.ActorURI(followee)),
		}
		payload := k.RenderUndo(follower, inner)
		if err := k.delivery.Enqueue(follower, followee.DeliveryInbox(), payload); err != nil {
			return err
		}
	}

	k.bus.Publish(events.Event{Type: events.Unfollowed, ActorId: follower.Id, TargetId: followee.Id})
	return nil
}

// AcceptFollow resolves a pending inbound request in the follower's
// favor, on behalf of the local target.
func (k *Kernel) AcceptFollow(followee, follower *domain.Actor) error {
	req, err := k.db.ReadFollowRequest(follower.Id, followee.Id)
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}
	return k.acceptFollowRequest(followee, follower, req)
}

// RejectFollow drops a pending inbound request and tells a remote
// follower so.
func (k *Kernel) RejectFollow(followee, follower *domain.Actor) error {
	req, err := k.db.ReadFollowRequest(follower.Id, followee.Id)
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}
	if err := k.db.DeleteFollowRequest(follower.Id, followee.Id); err != nil {
		return err
	}
	if follower.IsLocal() {
		return nil
	}
	inner := k.RenderFollowFromRequest(req, follower, followee)
	payload := k.RenderReject(followee, inner)
	return k.delivery.Enqueue(followee, follower.DeliveryInbox(), payload)
}

// React records a local actor's reaction and delivers the Like to a
// remote note's origin.
func (k *Kernel) React(actor *domain.Actor, note *domain.Note, symbol string) error {
	symbol = normalizeReaction(symbol)
	if err := k.addReaction(actor, note, symbol); err != nil {
		return err
	}
	if note.IsLocal() {
		return nil
	}
	author, err := k.db.ReadActorById(note.AuthorId)
	if err != nil {
		return err
	}
	if author == nil {
		return nil
	}
	payload := k.RenderLike(actor, note, symbol)
	return k.delivery.Enqueue(actor, author.DeliveryInbox(), payload)
}

// Unreact removes the actor's reaction. Returns ErrNotReacted when
// there is none.
func (k *Kernel) Unreact(actor *domain.Actor, note *domain.Note) error {
	reaction, err := k.db.ReadReaction(note.Id, actor.Id)
	if err != nil {
		return err
	}
	if reaction == nil {
		return domain.ErrNotReacted
	}
	if err := k.removeReaction(actor, note); err != nil {
		return err
	}
	if note.IsLocal() {
		return nil
	}
	author, err := k.db.ReadActorById(note.AuthorId)
	if err != nil {
		return err
	}
	if author == nil {
		return nil
	}
	inner := &Activity{
		ID:       k.newActivityID(),
		Type:     "Like",
		Actor:    k.ActorURI(actor),
		Object:   rawURI(k.NoteURI(note)),
		Reaction: reaction.Symbol,
	}
	payload := k.RenderUndo(actor, inner)
	return k.delivery.Enqueue(actor, author.DeliveryInbox(), payload)
}

// Block severs both directions of the relationship and informs a
// remote blockee.
func (k *Kernel) Block(blocker, blockee *domain.Actor) error {
	block := &domain.Block{
		Id:        uuid.New(),
		BlockerId: blocker.Id,
		BlockeeId: blockee.Id,
		CreatedAt: time.Now(),
	}
	if err := k.db.CreateBlock(block); err != nil && err != domain.ErrAlreadyExists {
		return err
	}
	for _, pair := range [][2]uuid.UUID{{blocker.Id, blockee.Id}, {blockee.Id, blocker.Id}} {
		if err := k.db.DeleteFollowRequest(pair[0], pair[1]); err != nil {
			return err
		}
		if err := k.db.DeleteFollow(pair[0], pair[1]); err != nil {
			return err
		}
	}
	if !blockee.IsLocal() {
		payload := k.RenderBlock(blocker, blockee)
		if err := k.delivery.Enqueue(blocker, blockee.DeliveryInbox(), payload); err != nil {
			return err
		}
	}
	k.bus.Publish(events.Event{Type: events.ActorBlocked, ActorId: blocker.Id, TargetId: blockee.Id})
	return nil
}

// Mute suppresses a target from the muter's reads. Mutes stay local
// and are never federated; the target keeps seeing and following the
// muter as before.
func (k *Kernel) Mute(muter, mutee *domain.Actor) error {
	mute := &domain.Mute{
		Id:        uuid.New(),
		MuterId:   muter.Id,
		MuteeId:   mutee.Id,
		CreatedAt: time.Now(),
	}
	if err := k.db.CreateMute(mute); err != nil && err != domain.ErrAlreadyExists {
		return err
	}
	return nil
}

// Unmute lifts a mute. Unmuting someone who was never muted is a no-op.
func (k *Kernel) Unmute(muter, mutee *domain.Actor) error {
	return k.db.DeleteMute(muter.Id, mutee.Id)
}

// CreateLocalActor provisions a local account with a fresh keypair.
func (k *Kernel) CreateLocalActor(username, displayName string) (*domain.Actor, error) {
	keys := util.GeneratePemKeypair()
	actor := &domain.Actor{
		Id:            uuid.New(),
		Username:      username,
		DisplayName:   displayName,
		PublicKeyPem:  keys.Public,
		PrivateKeyPem: keys.Private,
		CreatedAt:     time.Now(),
	}
	if err := k.db.CreateActor(actor); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, err
	}
	return actor, nil
}
