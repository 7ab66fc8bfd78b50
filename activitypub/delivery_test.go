package activitypub

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/corvid-social/corvid/db"
	"github.com/corvid-social/corvid/domain"
	"github.com/google/uuid"
)

func testPrivateKeyPem(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatal(err)
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

func seedSigningActor(t *testing.T, database *db.DB, username string) *domain.Actor {
	t.Helper()
	a := &domain.Actor{
		Id:            uuid.New(),
		Username:      username,
		PrivateKeyPem: testPrivateKeyPem(t),
		CreatedAt:     time.Now(),
	}
	if err := database.CreateActor(a); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestEnqueueRefusesBlockedHost(t *testing.T) {
	database := testDB(t)
	conf := testConf("corvid.example")
	conf.Conf.BlockedHosts = []string{"bad.example"}
	d := NewDelivery(database, conf)
	signer := seedSigningActor(t, database, "alice")

	if err := d.Enqueue(signer, "https://bad.example/inbox", []byte("{}")); err != nil {
		t.Fatalf("Enqueue should refuse silently, got %v", err)
	}
	due, _ := database.ReadDueDeliveries(time.Now().Add(time.Minute), 10)
	if len(due) != 0 {
		t.Errorf("blocked host got %d queued jobs", len(due))
	}
}

func TestEnqueueRefusesBlockedInstance(t *testing.T) {
	database := testDB(t)
	conf := testConf("corvid.example")
	d := NewDelivery(database, conf)
	signer := seedSigningActor(t, database, "alice")

	if _, err := database.RegisterInstance("spam.example"); err != nil {
		t.Fatal(err)
	}
	if err := database.SetInstanceBlocked("spam.example", true); err != nil {
		t.Fatal(err)
	}

	if err := d.Enqueue(signer, "https://spam.example/inbox", []byte("{}")); err != nil {
		t.Fatalf("Enqueue should refuse silently, got %v", err)
	}
	due, _ := database.ReadDueDeliveries(time.Now().Add(time.Minute), 10)
	if len(due) != 0 {
		t.Errorf("blocked instance got %d queued jobs", len(due))
	}
}

func TestDeliverySignsAndPosts(t *testing.T) {
	var gotSignature, gotDigest string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotSignature = req.Header.Get("Signature")
		gotDigest = req.Header.Get("Digest")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	database := testDB(t)
	conf := testConf("corvid.example")
	d := NewDelivery(database, conf)
	signer := seedSigningActor(t, database, "alice")

	if err := d.Enqueue(signer, srv.URL+"/inbox", []byte(`{"type":"Like"}`)); err != nil {
		t.Fatal(err)
	}
	d.ProcessQueue(context.Background())

	if gotSignature == "" {
		t.Error("request was not signed")
	}
	if gotDigest == "" {
		t.Error("request carried no digest")
	}

	due, _ := database.ReadDueDeliveries(time.Now().Add(time.Minute), 10)
	if len(due) != 0 {
		t.Errorf("delivered job still queued: %+v", due)
	}

	host := srv.Listener.Addr().String()
	inst, _ := database.ReadInstanceByHost(host)
	if inst == nil || inst.DeliverySuccesses != 1 {
		t.Errorf("expected one recorded success for %s, got %+v", host, inst)
	}
}

func TestDeliveryDropsOnClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	database := testDB(t)
	conf := testConf("corvid.example")
	d := NewDelivery(database, conf)
	signer := seedSigningActor(t, database, "alice")

	if err := d.Enqueue(signer, srv.URL+"/inbox", []byte("{}")); err != nil {
		t.Fatal(err)
	}
	d.ProcessQueue(context.Background())

	due, _ := database.ReadDueDeliveries(time.Now().Add(24*time.Hour), 10)
	if len(due) != 0 {
		t.Errorf("4xx job should be dropped, still queued: %+v", due)
	}
	host := srv.Listener.Addr().String()
	inst, _ := database.ReadInstanceByHost(host)
	if inst == nil || inst.DeliveryFailures != 1 {
		t.Errorf("expected one recorded failure, got %+v", inst)
	}
}

func TestDeliveryRetriesThenDropsOnServerError(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	database := testDB(t)
	conf := testConf("corvid.example")
	d := NewDelivery(database, conf)
	d.maxAttempts = 3
	signer := seedSigningActor(t, database, "alice")

	if err := d.Enqueue(signer, srv.URL+"/inbox", []byte("{}")); err != nil {
		t.Fatal(err)
	}

	host := srv.Listener.Addr().String()
	for i := 0; i < d.maxAttempts; i++ {
		// pull the job forward instead of waiting out the backoff
		due, _ := database.ReadDueDeliveries(time.Now().Add(48*time.Hour), 10)
		if len(due) == 0 {
			break
		}
		if err := database.UpdateDeliveryAttempt(due[0].Id, due[0].Attempts, time.Now().Add(-time.Second)); err != nil {
			t.Fatal(err)
		}
		d.ProcessQueue(context.Background())
	}

	if hits != d.maxAttempts {
		t.Errorf("hits = %d, want %d", hits, d.maxAttempts)
	}
	due, _ := database.ReadDueDeliveries(time.Now().Add(48*time.Hour), 10)
	if len(due) != 0 {
		t.Errorf("exhausted job still queued: %+v", due)
	}

	// the failure counter moves exactly once, at the final drop
	inst, _ := database.ReadInstanceByHost(host)
	if inst == nil || inst.DeliveryFailures != 1 {
		t.Errorf("expected exactly one recorded failure, got %+v", inst)
	}
}

func TestDeliveryDropsJobWithoutSigner(t *testing.T) {
	database := testDB(t)
	conf := testConf("corvid.example")
	d := NewDelivery(database, conf)

	job := &domain.DeliveryJob{
		Id: uuid.New(), InboxURI: "https://remote.example/inbox",
		ActorId: uuid.New(), Payload: "{}", NextAttemptAt: time.Now().Add(-time.Second),
		CreatedAt: time.Now(),
	}
	if err := database.CreateDelivery(job); err != nil {
		t.Fatal(err)
	}

	d.ProcessQueue(context.Background())
	due, _ := database.ReadDueDeliveries(time.Now().Add(time.Hour), 10)
	if len(due) != 0 {
		t.Errorf("job with missing signer should be dropped, got %+v", due)
	}
}

func TestEnqueueToFollowersCollapsesSharedInbox(t *testing.T) {
	database := testDB(t)
	conf := testConf("corvid.example")
	d := NewDelivery(database, conf)
	author := seedSigningActor(t, database, "alice")

	shared := "https://remote.example/inbox"
	for _, name := range []string{"bob", "carol"} {
		follower := &domain.Actor{
			Id:             uuid.New(),
			Username:       name,
			Host:           "remote.example",
			URI:            "https://remote.example/users/" + name,
			InboxURI:       "https://remote.example/users/" + name + "/inbox",
			SharedInboxURI: shared,
			LastFetchedAt:  time.Now(),
			CreatedAt:      time.Now(),
		}
		if err := database.CreateActor(follower); err != nil {
			t.Fatal(err)
		}
		f := &domain.Follow{
			Id: uuid.New(), FollowerId: follower.Id, FolloweeId: author.Id,
			FollowerHost: follower.Host, CreatedAt: time.Now(),
		}
		if err := database.CreateFollow(f); err != nil {
			t.Fatal(err)
		}
	}

	// a local follower never gets a queue entry
	local := &domain.Actor{Id: uuid.New(), Username: "dave", CreatedAt: time.Now()}
	if err := database.CreateActor(local); err != nil {
		t.Fatal(err)
	}
	lf := &domain.Follow{Id: uuid.New(), FollowerId: local.Id, FolloweeId: author.Id, CreatedAt: time.Now()}
	if err := database.CreateFollow(lf); err != nil {
		t.Fatal(err)
	}

	if err := d.EnqueueToFollowers(author, []byte("{}")); err != nil {
		t.Fatal(err)
	}

	due, _ := database.ReadDueDeliveries(time.Now().Add(time.Minute), 10)
	if len(due) != 1 {
		t.Fatalf("queued %d jobs, want 1 via the shared inbox", len(due))
	}
	if due[0].InboxURI != shared {
		t.Errorf("inbox = %s, want %s", due[0].InboxURI, shared)
	}
}
