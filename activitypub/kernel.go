package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/corvid-social/corvid/db"
	"github.com/corvid-social/corvid/domain"
	"github.com/corvid-social/corvid/events"
	"github.com/corvid-social/corvid/util"
	"github.com/google/uuid"
)

// Kernel applies inbound activities to local state and drives the
// outbound side through the delivery queue. One Kernel serves the
// whole process; per-request state lives in the Resolver.
type Kernel struct {
	db       *db.DB
	conf     *util.AppConfig
	bus      *events.Bus
	delivery *Delivery
	client   *http.Client
}

func NewKernel(store *db.DB, conf *util.AppConfig, bus *events.Bus, delivery *Delivery) *Kernel {
	return &Kernel{
		db:       store,
		conf:     conf,
		bus:      bus,
		delivery: delivery,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (k *Kernel) newResolver() *Resolver {
	return NewResolverWithClient(k.db, k.conf, k.client)
}

// Perform applies one verified inbound activity. Duplicate deliveries
// (same activity id) are acknowledged without effect once the first
// one has been fully handled; a redelivery after a transient failure
// runs the handler again. Activities from unknown-unfetchable or
// suspended actors fail with ErrActorRejected.
func (k *Kernel) Perform(ctx context.Context, activity *Activity, raw []byte) error {
	if activity.Actor == "" || activity.Type == "" {
		return fmt.Errorf("malformed activity: missing actor or type")
	}

	host, err := util.ExtractHost(activity.Actor)
	if err != nil {
		return err
	}
	r := k.newResolver()
	if err := r.CheckHost(host); err != nil {
		return err
	}

	if activity.ID != "" {
		record := &domain.ActivityRecord{
			Id:           uuid.New(),
			URI:          activity.ID,
			ActivityType: activity.Type,
			ActorURI:     activity.Actor,
			ObjectURI:    activity.ObjectURI(),
			RawJSON:      string(raw),
			CreatedAt:    time.Now(),
		}
		if err := k.db.CreateActivityRecord(record); err != nil {
			if err != domain.ErrAlreadyExists {
				return err
			}
			prior, err := k.db.ReadActivityByURI(activity.ID)
			if err != nil {
				return err
			}
			if prior != nil && prior.Processed {
				log.Printf("Inbox: duplicate activity %s, ignoring", activity.ID)
				return nil
			}
			// an earlier delivery of this activity failed mid-handling;
			// run the handler again, every handler tolerates replays
		}
	}

	actor, err := k.GetOrFetchActor(ctx, r, activity.Actor)
	if err != nil {
		if IsPermanentRemote(err) {
			return ErrActorRejected
		}
		return err
	}
	if actor == nil || actor.Suspended {
		return ErrActorRejected
	}

	if err := k.dispatch(ctx, r, actor, activity); err != nil {
		return err
	}
	if activity.ID != "" {
		if err := k.db.MarkActivityProcessed(activity.ID); err != nil {
			return err
		}
	}
	return nil
}

func (k *Kernel) dispatch(ctx context.Context, r *Resolver, actor *domain.Actor, activity *Activity) error {
	switch activity.Type {
	case "Follow":
		return k.handleFollow(ctx, r, actor, activity)
	case "Undo":
		return k.handleUndo(ctx, r, actor, activity)
	case "Accept":
		return k.handleAccept(actor, activity)
	case "Reject":
		return k.handleReject(actor, activity)
	case "Block":
		return k.handleBlock(ctx, r, actor, activity)
	case "Like":
		return k.handleLike(ctx, r, actor, activity)
	case "Create":
		return k.handleCreate(ctx, r, actor, activity)
	default:
		log.Printf("Inbox: ignoring unsupported activity type %s from %s", activity.Type, activity.Actor)
		return nil
	}
}

// handleFollow records a follow request against a local actor and
// auto-accepts it when the target allows that or already follows back.
func (k *Kernel) handleFollow(ctx context.Context, r *Resolver, follower *domain.Actor, activity *Activity) error {
	followee, err := k.GetOrFetchActor(ctx, r, activity.ObjectURI())
	if err != nil {
		return err
	}
	if !followee.IsLocal() {
		log.Printf("Inbox: follow target %s is not local, ignoring", activity.ObjectURI())
		return nil
	}

	if blocked, err := k.db.ReadBlock(followee.Id, follower.Id); err != nil {
		return err
	} else if blocked != nil {
		return k.deliverReject(followee, follower, activity)
	}

	req := &domain.FollowRequest{
		Id:           uuid.New(),
		FollowerId:   follower.Id,
		FolloweeId:   followee.Id,
		FollowerHost: follower.Host,
		FolloweeHost: followee.Host,
		URI:          activity.ID,
		CreatedAt:    time.Now(),
	}
	if err := k.db.CreateFollowRequest(req); err != nil && err != domain.ErrAlreadyExists {
		return err
	}

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

// acceptFollowRequest promotes a pending request to a confirmed follow
// and delivers the Accept when the follower is remote.
func (k *Kernel) acceptFollowRequest(followee, follower *domain.Actor, req *domain.FollowRequest) error {
	follow := &domain.Follow{
		Id:           uuid.New(),
		FollowerId:   follower.Id,
		FolloweeId:   followee.Id,
		FollowerHost: follower.Host,
		FolloweeHost: followee.Host,
		URI:          req.URI,
		CreatedAt:    time.Now(),
	}
	if err := k.db.CreateFollow(follow); err != nil && err != domain.ErrAlreadyExists {
		return err
	}
	if err := k.db.DeleteFollowRequest(follower.Id, followee.Id); err != nil {
		return err
	}

	if !follower.IsLocal() {
		payload := k.RenderAccept(followee, k.RenderFollowFromRequest(req, follower, followee))
		if err := k.delivery.Enqueue(followee, follower.DeliveryInbox(), payload); err != nil {
			return err
		}
	}

	k.bus.Publish(events.Event{Type: events.Followed, ActorId: follower.Id, TargetId: followee.Id})
	return nil
}

func (k *Kernel) deliverReject(followee, follower *domain.Actor, activity *Activity) error {
	if follower.IsLocal() {
		return nil
	}
	inner := Activity{ID: activity.ID, Type: "Follow", Actor: follower.URI,
		Object: json.RawMessage(fmt.Sprintf("%q", followee.URI))}
	payload := k.RenderReject(followee, &inner)
	return k.delivery.Enqueue(followee, follower.DeliveryInbox(), payload)
}

// handleUndo reverses the embedded activity: a Follow undo cancels the
// pending request and the relationship, a Like undo removes the
// reaction. Undoing something that never happened is a no-op so
// retried deliveries stay safe.
func (k *Kernel) handleUndo(ctx context.Context, r *Resolver, actor *domain.Actor, activity *Activity) error {
	var inner Activity
	if err := json.Unmarshal(activity.Object, &inner); err != nil {
		return fmt.Errorf("malformed undo object: %w", err)
	}

	switch inner.Type {
	case "Follow":
		followee, err := k.GetOrFetchActor(ctx, r, inner.ObjectURI())
		if err != nil {
			return err
		}
		if err := k.db.DeleteFollowRequest(actor.Id, followee.Id); err != nil {
			return err
		}
		if err := k.db.DeleteFollow(actor.Id, followee.Id); err != nil {
			return err
		}
		k.bus.Publish(events.Event{Type: events.Unfollowed, ActorId: actor.Id, TargetId: followee.Id})
		return nil

	case "Like":
		note, err := k.FetchNote(ctx, r, inner.ObjectURI())
		if err != nil {
			if IsPermanentRemote(err) {
				return nil
			}
			return err
		}
		if err := k.removeReaction(actor, note); err != nil {
			if err == domain.ErrNotReacted {
				return nil
			}
			return err
		}
		return nil

	default:
		log.Printf("Inbox: ignoring undo of unsupported type %s", inner.Type)
		return nil
	}
}

// handleAccept confirms a follow request we sent. The issuer must be
// the actor the request targets; an Accept from anyone else is
// discarded.
func (k *Kernel) handleAccept(issuer *domain.Actor, activity *Activity) error {
	req, err := k.findFollowRequest(issuer, activity)
	if err != nil || req == nil {
		return err
	}
	if req.FolloweeId != issuer.Id {
		log.Printf("Inbox: accept from %s does not match request target, ignoring", issuer.URI)
		return nil
	}

	follower, err := k.db.ReadActorById(req.FollowerId)
	if err != nil {
		return err
	}
	if follower == nil {
		return k.db.DeleteFollowRequest(req.FollowerId, req.FolloweeId)
	}

	follow := &domain.Follow{
		Id:           uuid.New(),
		FollowerId:   req.FollowerId,
		FolloweeId:   req.FolloweeId,
		FollowerHost: req.FollowerHost,
		FolloweeHost: req.FolloweeHost,
		URI:          req.URI,
		CreatedAt:    time.Now(),
	}
	if err := k.db.CreateFollow(follow); err != nil && err != domain.ErrAlreadyExists {
		return err
	}
	if err := k.db.DeleteFollowRequest(req.FollowerId, req.FolloweeId); err != nil {
		return err
	}
	k.bus.Publish(events.Event{Type: events.Followed, ActorId: req.FollowerId, TargetId: req.FolloweeId})
	return nil
}

// handleReject drops the matching pending follow request.
func (k *Kernel) handleReject(issuer *domain.Actor, activity *Activity) error {
	req, err := k.findFollowRequest(issuer, activity)
	if err != nil || req == nil {
		return err
	}
	if req.FolloweeId != issuer.Id {
		log.Printf("Inbox: reject from %s does not match request target, ignoring", issuer.URI)
		return nil
	}
	return k.db.DeleteFollowRequest(req.FollowerId, req.FolloweeId)
}

// findFollowRequest locates the pending request an Accept/Reject
// refers to, by the embedded Follow's id first and by the
// (follower, followee) pair as fallback.
func (k *Kernel) findFollowRequest(issuer *domain.Actor, activity *Activity) (*domain.FollowRequest, error) {
	var inner Activity
	if err := json.Unmarshal(activity.Object, &inner); err != nil {
		return nil, fmt.Errorf("malformed follow object: %w", err)
	}
	if inner.ID != "" {
		req, err := k.db.ReadFollowRequestByURI(inner.ID)
		if err != nil || req != nil {
			return req, err
		}
	}
	if inner.Actor != "" {
		follower, err := k.db.ReadActorByURI(inner.Actor)
		if err != nil {
			return nil, err
		}
		if follower == nil && k.conf.IsLocalURI(inner.Actor) {
			username := localUsernameFromURI(k.conf, inner.Actor)
			follower, err = k.db.ReadLocalActorByUsername(username)
			if err != nil {
				return nil, err
			}
		}
		if follower != nil {
			return k.db.ReadFollowRequest(follower.Id, issuer.Id)
		}
	}
	return nil, nil
}

// handleBlock records a block against a local actor and severs the
// relationship in both directions.
func (k *Kernel) handleBlock(ctx context.Context, r *Resolver, blocker *domain.Actor, activity *Activity) error {
	blockee, err := k.GetOrFetchActor(ctx, r, activity.ObjectURI())
	if err != nil {
		return err
	}
	if !blockee.IsLocal() {
		log.Printf("Inbox: block target %s is not local, ignoring", activity.ObjectURI())
		return nil
	}

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
	k.bus.Publish(events.Event{Type: events.ActorBlocked, ActorId: blocker.Id, TargetId: blockee.Id})
	return nil
}

// handleLike adds a reaction. The _reaction extension selects the
// symbol; a plain Like counts as 👍.
func (k *Kernel) handleLike(ctx context.Context, r *Resolver, actor *domain.Actor, activity *Activity) error {
	note, err := k.FetchNote(ctx, r, activity.ObjectURI())
	if err != nil {
		if IsPermanentRemote(err) {
			log.Printf("Inbox: like target %s unresolvable, ignoring", activity.ObjectURI())
			return nil
		}
		return err
	}
	return k.addReaction(actor, note, activity.Reaction)
}

// handleCreate imports the created object through the note pipeline.
// The embedded copy is trusted when its id lives on the verified
// sender's host, saving the round trip most deliveries would cost;
// anything else is re-fetched by its own URI so an inline object
// cannot spoof content under a foreign id.
func (k *Kernel) handleCreate(ctx context.Context, r *Resolver, actor *domain.Actor, activity *Activity) error {
	uri := activity.ObjectURI()
	if uri == "" {
		return fmt.Errorf("create without object id")
	}
	if existing, err := k.db.ReadNoteByURI(uri); err != nil {
		return err
	} else if existing != nil {
		return nil
	}

	var err error
	if doc := trustedEmbeddedNote(actor, activity); doc != nil {
		_, err = k.createRemoteNote(ctx, r, doc)
	} else {
		_, err = k.FetchNote(ctx, r, uri)
	}
	if err != nil && IsPermanentRemote(err) {
		log.Printf("Inbox: created object %s unresolvable, ignoring", uri)
		return nil
	}
	return err
}

// trustedEmbeddedNote returns the Create's inline object when both its
// id and its attributedTo live on the sender's host.
func trustedEmbeddedNote(actor *domain.Actor, activity *Activity) *NoteObject {
	var doc NoteObject
	if err := json.Unmarshal(activity.Object, &doc); err != nil {
		return nil
	}
	if doc.ID == "" || doc.AttributedTo == "" {
		return nil
	}
	idHost, err := util.ExtractHost(doc.ID)
	if err != nil || idHost != actor.Host {
		return nil
	}
	authorHost, err := util.ExtractHost(doc.AttributedTo)
	if err != nil || authorHost != actor.Host {
		return nil
	}
	return &doc
}

// legacyReactions maps pre-unicode reaction names still sent by older
// servers onto their emoji.
var legacyReactions = map[string]string{
	"like":     "👍",
	"love":     "❤",
	"laugh":    "😆",
	"hmm":      "🤔",
	"surprise": "😮",
	"congrats": "🎉",
	"angry":    "💢",
	"confused": "😥",
	"rip":      "😇",
	"pudding":  "🍮",
	"star":     "⭐",
}

func normalizeReaction(symbol string) string {
	if symbol == "" {
		return "👍"
	}
	if mapped, ok := legacyReactions[symbol]; ok {
		return mapped
	}
	return symbol
}

// addReaction records one actor's reaction on a note. A second
// reaction from the same actor is ignored, whatever its symbol.
func (k *Kernel) addReaction(actor *domain.Actor, note *domain.Note, symbol string) error {
	symbol = normalizeReaction(symbol)
	reaction := &domain.Reaction{
		Id:        uuid.New(),
		NoteId:    note.Id,
		ActorId:   actor.Id,
		Symbol:    symbol,
		CreatedAt: time.Now(),
	}
	if err := k.db.CreateReaction(reaction); err != nil {
		if err == domain.ErrAlreadyExists {
			return nil
		}
		return err
	}
	if err := k.db.IncrementReaction(note.Id, symbol, 1); err != nil {
		return err
	}
	k.bus.Publish(events.Event{Type: events.NoteReacted, ActorId: actor.Id, NoteId: note.Id, Symbol: symbol})
	return nil
}

// removeReaction deletes the actor's reaction and decrements its
// counter. Returns ErrNotReacted when there is nothing to remove.
func (k *Kernel) removeReaction(actor *domain.Actor, note *domain.Note) error {
	reaction, err := k.db.ReadReaction(note.Id, actor.Id)
	if err != nil {
		return err
	}
	if reaction == nil {
		return domain.ErrNotReacted
	}
	if err := k.db.DeleteReaction(reaction.Id); err != nil {
		return err
	}
	if err := k.db.IncrementReaction(note.Id, reaction.Symbol, -1); err != nil {
		return err
	}
	k.bus.Publish(events.Event{Type: events.NoteUnreacted, ActorId: actor.Id, NoteId: note.Id, Symbol: reaction.Symbol})
	return nil
}
