package activitypub

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Policy errors: immediate rejection, no retry.
var (
	ErrHostBlocked     = errors.New("host blocked")
	ErrResolutionCycle = errors.New("resolution cycle")
	ErrDepthExceeded   = errors.New("resolution depth exceeded")

	// ErrLocalObject means a local URI reached the remote-fetch path;
	// local objects are always loaded from the store, never fetched.
	ErrLocalObject = errors.New("local object must be loaded from the store")

	// ErrActorRejected means the inbound actor was missing or suspended.
	ErrActorRejected = errors.New("actor rejected")
)

// RemoteError carries the upstream HTTP status of a failed fetch or
// delivery so callers can tell "intentionally missing" (4xx) from
// "try again later" (5xx).
type RemoteError struct {
	StatusCode int
	URI        string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote returned status %d for %s", e.StatusCode, e.URI)
}

// IsPermanentRemote reports whether err is a 4xx-class remote failure,
// to be treated as "target intentionally absent".
func IsPermanentRemote(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.StatusCode >= 400 && re.StatusCode < 500
	}
	return false
}

// IsTransient reports whether err should be retried: network-level
// failures, timeouts and 5xx responses.
func IsTransient(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.StatusCode >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
