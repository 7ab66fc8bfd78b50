package activitypub

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/corvid-social/corvid/db"
	"github.com/corvid-social/corvid/domain"
	"github.com/corvid-social/corvid/util"
	"github.com/google/uuid"
)

// actorCacheMaxAge is how long a cached remote profile stays fresh.
const actorCacheMaxAge = 24 * time.Hour

// ActorDocument is the wire shape of an ActivityPub actor.
type ActorDocument struct {
	Context           interface{} `json:"@context,omitempty"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name,omitempty"`
	Summary           string      `json:"summary,omitempty"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox,omitempty"`
	Followers         string      `json:"followers,omitempty"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox,omitempty"`
	} `json:"endpoints,omitempty"`
	Icon struct {
		Type      string `json:"type,omitempty"`
		MediaType string `json:"mediaType,omitempty"`
		URL       string `json:"url,omitempty"`
	} `json:"icon,omitempty"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
	Suspended bool `json:"suspended,omitempty"`
}

// GetOrFetchActor resolves an actor URI to a stored actor. Local URIs
// go straight to the store; remote actors come from cache when fresh
// (< 24h) and are re-fetched otherwise.
func (k *Kernel) GetOrFetchActor(ctx context.Context, r *Resolver, actorURI string) (*domain.Actor, error) {
	if k.conf.IsLocalURI(actorURI) {
		username := localUsernameFromURI(k.conf, actorURI)
		if username == "" {
			return nil, fmt.Errorf("unrecognized local actor URI %s", actorURI)
		}
		actor, err := k.db.ReadLocalActorByUsername(username)
		if err != nil {
			return nil, err
		}
		if actor == nil {
			return nil, fmt.Errorf("local actor %s not found", username)
		}
		return actor, nil
	}

	cached, err := k.db.ReadActorByURI(actorURI)
	if err != nil {
		return nil, err
	}
	if cached != nil && time.Since(cached.LastFetchedAt) < actorCacheMaxAge {
		return cached, nil
	}

	fetched, err := k.fetchRemoteActor(ctx, r, actorURI)
	if err != nil {
		// a stale cache entry still beats a failed refresh
		if cached != nil && IsTransient(err) {
			return cached, nil
		}
		return nil, err
	}
	return fetched, nil
}

// fetchRemoteActor fetches, validates and caches a remote actor, and
// lazily registers its instance.
func (k *Kernel) fetchRemoteActor(ctx context.Context, r *Resolver, actorURI string) (*domain.Actor, error) {
	object, err := r.Resolve(ctx, actorURI)
	if err != nil {
		return nil, err
	}

	var doc ActorDocument
	if err := decodeObject(object, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse actor: %w", err)
	}

	if doc.ID == "" || doc.Inbox == "" || doc.PublicKey.PublicKeyPem == "" {
		return nil, &RemoteError{StatusCode: 400, URI: actorURI}
	}

	host, err := util.ExtractHost(doc.ID)
	if err != nil {
		return nil, err
	}

	if _, err := k.db.RegisterInstance(host); err != nil {
		return nil, err
	}

	actor := &domain.Actor{
		Id:             uuid.New(),
		Username:       doc.PreferredUsername,
		Host:           host,
		URI:            doc.ID,
		DisplayName:    doc.Name,
		Summary:        doc.Summary,
		InboxURI:       doc.Inbox,
		SharedInboxURI: doc.Endpoints.SharedInbox,
		PublicKeyPem:   doc.PublicKey.PublicKeyPem,
		AvatarURL:      doc.Icon.URL,
		Suspended:      doc.Suspended,
		LastFetchedAt:  time.Now(),
		CreatedAt:      time.Now(),
	}

	if err := k.db.CreateActor(actor); err != nil {
		if !db.IsUniqueViolation(err) {
			return nil, err
		}
		// already cached: refresh the existing row instead
		if err := k.db.UpdateRemoteActor(actor); err != nil {
			return nil, fmt.Errorf("failed to store remote actor: %w", err)
		}
		return k.db.ReadActorByURI(actor.URI)
	}

	return actor, nil
}

// RefreshActorAsync re-fetches a stale remote profile in the background
// without blocking the caller.
func (k *Kernel) RefreshActorAsync(actorURI string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		r := k.newResolver()
		if _, err := k.fetchRemoteActor(ctx, r, actorURI); err != nil {
			log.Printf("Resolver: background refresh of %s failed: %v", actorURI, err)
		}
	}()
}

// localUsernameFromURI extracts the username from a local actor URI
// like "https://domain/users/alice" (tolerating trailing path parts
// such as "/followers").
func localUsernameFromURI(conf *util.AppConfig, uri string) string {
	prefix := conf.BaseURL() + "/users/"
	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	rest := strings.TrimPrefix(uri, prefix)
	if idx := strings.Index(rest, "/"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}
