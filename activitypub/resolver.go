package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/corvid-social/corvid/db"
	"github.com/corvid-social/corvid/util"
)

// maxResolutionDepth bounds recursive fan-out (author, reply chain,
// quote, attachments, mentions) of one top-level resolution.
const maxResolutionDepth = 10

var supportedObjectTypes = map[string]bool{
	"Note": true, "Question": true, "Article": true,
	"Person": true, "Service": true, "Application": true,
	"Image": true, "Document": true, "Video": true, "Audio": true,
}

// Resolver fetches remote objects by URI with anti-spoofing, host
// blocking and cycle/depth protection. The visited-URI history is
// scoped to one top-level resolution; create a fresh Resolver per
// inbound activity and discard it afterwards.
type Resolver struct {
	db      *db.DB
	conf    *util.AppConfig
	client  *http.Client
	history map[string]struct{}
}

func NewResolver(store *db.DB, conf *util.AppConfig) *Resolver {
	return NewResolverWithClient(store, conf, &http.Client{Timeout: 10 * time.Second})
}

func NewResolverWithClient(store *db.DB, conf *util.AppConfig, client *http.Client) *Resolver {
	return &Resolver{
		db:      store,
		conf:    conf,
		client:  client,
		history: make(map[string]struct{}),
	}
}

// Resolve returns the object the value refers to. An embedded object
// with recognized identity fields is returned as-is after a type
// check; a URI is fetched from the remote server. Local URIs are never
// fetched: callers load those from the store and get ErrLocalObject
// here.
func (r *Resolver) Resolve(ctx context.Context, value interface{}) (map[string]interface{}, error) {
	switch v := value.(type) {
	case string:
		return r.resolveURI(ctx, v)
	case map[string]interface{}:
		id, _ := v["id"].(string)
		typ, _ := v["type"].(string)
		if id == "" || !supportedObjectTypes[typ] {
			return nil, fmt.Errorf("unsupported embedded object (id=%q, type=%q)", id, typ)
		}
		if err := r.visit(id); err != nil {
			return nil, err
		}
		return v, nil
	case json.RawMessage:
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return r.resolveURI(ctx, s)
		}
		var obj map[string]interface{}
		if err := json.Unmarshal(v, &obj); err != nil {
			return nil, fmt.Errorf("unresolvable value: %w", err)
		}
		return r.Resolve(ctx, obj)
	}
	return nil, fmt.Errorf("unresolvable value of type %T", value)
}

// CheckHost fails with ErrHostBlocked when the host is on the
// configured block list or its instance row is marked blocked.
func (r *Resolver) CheckHost(host string) error {
	if r.conf.IsBlockedHost(host) {
		return ErrHostBlocked
	}
	inst, err := r.db.ReadInstanceByHost(host)
	if err != nil {
		return err
	}
	if inst != nil && inst.Blocked {
		return ErrHostBlocked
	}
	return nil
}

func (r *Resolver) visit(uri string) error {
	if _, seen := r.history[uri]; seen {
		return ErrResolutionCycle
	}
	if len(r.history) >= maxResolutionDepth {
		return ErrDepthExceeded
	}
	r.history[uri] = struct{}{}
	return nil
}

func (r *Resolver) resolveURI(ctx context.Context, uri string) (map[string]interface{}, error) {
	if r.conf.IsLocalURI(uri) {
		return nil, ErrLocalObject
	}

	host, err := util.ExtractHost(uri)
	if err != nil {
		return nil, err
	}
	// the block check runs before any network I/O
	if err := r.CheckHost(host); err != nil {
		return nil, err
	}

	if err := r.visit(uri); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RemoteError{StatusCode: resp.StatusCode, URI: uri}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var object map[string]interface{}
	if err := json.Unmarshal(body, &object); err != nil {
		return nil, fmt.Errorf("failed to parse object JSON: %w", err)
	}

	// anti-spoofing: the response must declare the id we asked for
	if id, _ := object["id"].(string); id != uri {
		return nil, fmt.Errorf("object id %q does not match requested URI %q", object["id"], uri)
	}

	return object, nil
}

// decodeObject round-trips a resolved map into a typed wire struct.
func decodeObject(object map[string]interface{}, target interface{}) error {
	raw, err := json.Marshal(object)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
