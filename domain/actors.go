package domain

import (
	"github.com/google/uuid"
	"time"
)

// Actor represents an account, local or remote. A local actor has an
// empty Host and owns a private signing key; a remote actor carries its
// origin host and a cached public key.
type Actor struct {
	Id                uuid.UUID
	Username          string
	Host              string // empty for local actors
	URI               string // canonical actor URI, empty for local actors
	DisplayName       string
	Summary           string
	InboxURI          string // remote only
	SharedInboxURI    string // remote only, optional
	PublicKeyPem      string
	PrivateKeyPem     string // local only
	AvatarURL         string
	Suspended         bool
	AutoAcceptFollows bool // local only: false means follow requests stay pending
	LastFetchedAt     time.Time
	CreatedAt         time.Time
}

// IsLocal reports whether the actor is owned by this server.
func (a *Actor) IsLocal() bool {
	return a.Host == ""
}

// DeliveryInbox returns the shared inbox when the remote server
// advertises one, otherwise the personal inbox.
func (a *Actor) DeliveryInbox() string {
	if a.SharedInboxURI != "" {
		return a.SharedInboxURI
	}
	return a.InboxURI
}
