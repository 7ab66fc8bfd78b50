package activitypub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/corvid-social/corvid/db"
	"github.com/corvid-social/corvid/events"
	"github.com/google/uuid"
)

// fakePeer is a stub federation peer serving actor and object documents.
type fakePeer struct {
	srv     *httptest.Server
	mux     *http.ServeMux
	objects map[string]map[string]interface{}
	broken  map[string]int
}

func newFakePeer(t *testing.T) *fakePeer {
	t.Helper()
	p := &fakePeer{
		mux:     http.NewServeMux(),
		objects: make(map[string]map[string]interface{}),
		broken:  make(map[string]int),
	}
	p.mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		if status, ok := p.broken[req.URL.Path]; ok {
			w.WriteHeader(status)
			return
		}
		obj, ok := p.objects[req.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/activity+json")
		json.NewEncoder(w).Encode(obj)
	})
	p.srv = httptest.NewServer(p.mux)
	t.Cleanup(p.srv.Close)
	return p
}

// breakWith makes a path answer with the given status until fixed.
func (p *fakePeer) breakWith(path string, status int) {
	p.broken[path] = status
}

func (p *fakePeer) fix(path string) {
	delete(p.broken, path)
}

func (p *fakePeer) url(path string) string {
	return p.srv.URL + path
}

func (p *fakePeer) addActor(path, username string) string {
	uri := p.url(path)
	p.objects[path] = map[string]interface{}{
		"id":                uri,
		"type":              "Person",
		"preferredUsername": username,
		"inbox":             uri + "/inbox",
		"publicKey": map[string]interface{}{
			"id":           uri + "#main-key",
			"owner":        uri,
			"publicKeyPem": "-----BEGIN PUBLIC KEY-----\nstub\n-----END PUBLIC KEY-----",
		},
	}
	return uri
}

func (p *fakePeer) addObject(path string, obj map[string]interface{}) string {
	uri := p.url(path)
	obj["id"] = uri
	p.objects[path] = obj
	return uri
}

func importKernel(t *testing.T) (*Kernel, *db.DB) {
	t.Helper()
	database := testDB(t)
	conf := testConf("corvid.example")
	return NewKernel(database, conf, events.NewBus(), NewDelivery(database, conf)), database
}

func TestImportPublicNote(t *testing.T) {
	peer := newFakePeer(t)
	actorURI := peer.addActor("/users/alice", "alice")
	noteURI := peer.addObject("/notes/1", map[string]interface{}{
		"type":         "Note",
		"attributedTo": actorURI,
		"content":      "<p>hello <script>alert(1)</script>world</p>",
		"to":           []string{PublicCollection},
		"cc":           []string{actorURI + "/followers"},
		"published":    "2026-08-01T12:00:00Z",
		"tag": []map[string]interface{}{
			{"type": "Hashtag", "name": "#golang"},
		},
	})

	k, database := importKernel(t)
	note, err := k.FetchNote(context.Background(), k.newResolver(), noteURI)
	if err != nil {
		t.Fatalf("FetchNote failed: %v", err)
	}
	if note == nil {
		t.Fatal("expected a note")
	}
	if note.Visibility != "public" {
		t.Errorf("visibility = %s, want public", note.Visibility)
	}
	if strings.Contains(note.Text, "script") {
		t.Errorf("content not sanitized: %q", note.Text)
	}
	if !strings.Contains(note.Text, "hello") {
		t.Errorf("content lost: %q", note.Text)
	}
	if len(note.Tags) != 1 || note.Tags[0] != "golang" {
		t.Errorf("tags = %v", note.Tags)
	}

	author, _ := database.ReadActorByURI(actorURI)
	if author == nil || author.Username != "alice" {
		t.Fatalf("author not cached: %+v", author)
	}

	inst, _ := database.ReadInstanceByHost(author.Host)
	if inst == nil {
		t.Error("instance should be registered on first contact")
	}
}

func TestImportNoteIdempotent(t *testing.T) {
	peer := newFakePeer(t)
	actorURI := peer.addActor("/users/alice", "alice")
	noteURI := peer.addObject("/notes/1", map[string]interface{}{
		"type":         "Note",
		"attributedTo": actorURI,
		"content":      "once",
		"to":           []string{PublicCollection},
	})

	k, _ := importKernel(t)
	first, err := k.FetchNote(context.Background(), k.newResolver(), noteURI)
	if err != nil {
		t.Fatalf("first import failed: %v", err)
	}
	second, err := k.FetchNote(context.Background(), k.newResolver(), noteURI)
	if err != nil {
		t.Fatalf("second import failed: %v", err)
	}
	if first.Id != second.Id {
		t.Errorf("duplicate import created a second note: %s vs %s", first.Id, second.Id)
	}
}

func TestImportFollowersNoteDerivation(t *testing.T) {
	peer := newFakePeer(t)
	actorURI := peer.addActor("/users/alice", "alice")
	noteURI := peer.addObject("/notes/1", map[string]interface{}{
		"type":         "Note",
		"attributedTo": actorURI,
		"content":      "followers only",
		"to":           []string{actorURI + "/followers"},
	})

	k, _ := importKernel(t)
	note, err := k.FetchNote(context.Background(), k.newResolver(), noteURI)
	if err != nil {
		t.Fatalf("FetchNote failed: %v", err)
	}
	if note.Visibility != "followers" {
		t.Errorf("visibility = %s, want followers", note.Visibility)
	}
}

func TestImportNoteWithGoneReply(t *testing.T) {
	peer := newFakePeer(t)
	actorURI := peer.addActor("/users/alice", "alice")
	noteURI := peer.addObject("/notes/2", map[string]interface{}{
		"type":         "Note",
		"attributedTo": actorURI,
		"content":      "replying to nothing",
		"to":           []string{PublicCollection},
		"inReplyTo":    peer.url("/notes/deleted"),
	})

	k, _ := importKernel(t)
	note, err := k.FetchNote(context.Background(), k.newResolver(), noteURI)
	if err != nil {
		t.Fatalf("a 404 reply target must not sink the import: %v", err)
	}
	if note == nil {
		t.Fatal("expected a note")
	}
	if note.ReplyId != uuid.Nil {
		t.Errorf("reply id should be empty, got %s", note.ReplyId)
	}
}

func TestImportSuspendedAuthorDiscarded(t *testing.T) {
	peer := newFakePeer(t)
	actorURI := peer.addActor("/users/troll", "troll")
	peer.objects["/users/troll"]["suspended"] = true
	noteURI := peer.addObject("/notes/1", map[string]interface{}{
		"type":         "Note",
		"attributedTo": actorURI,
		"content":      "spam",
		"to":           []string{PublicCollection},
	})

	k, database := importKernel(t)
	note, err := k.FetchNote(context.Background(), k.newResolver(), noteURI)
	if err != nil {
		t.Fatalf("FetchNote failed: %v", err)
	}
	if note != nil {
		t.Error("note from suspended actor should be discarded")
	}
	stored, _ := database.ReadNoteByURI(noteURI)
	if stored != nil {
		t.Error("discarded note must not be persisted")
	}
}

func TestImportQuestionWithPoll(t *testing.T) {
	peer := newFakePeer(t)
	actorURI := peer.addActor("/users/alice", "alice")
	noteURI := peer.addObject("/notes/poll", map[string]interface{}{
		"type":         "Question",
		"attributedTo": actorURI,
		"content":      "tabs or spaces?",
		"to":           []string{PublicCollection},
		"oneOf": []map[string]interface{}{
			{"type": "Note", "name": "tabs", "replies": map[string]interface{}{"totalItems": 40}},
			{"type": "Note", "name": "spaces", "replies": map[string]interface{}{"totalItems": 60}},
		},
		"endTime": "2030-01-01T00:00:00Z",
	})

	k, database := importKernel(t)
	note, err := k.FetchNote(context.Background(), k.newResolver(), noteURI)
	if err != nil {
		t.Fatalf("FetchNote failed: %v", err)
	}
	if !note.HasPoll {
		t.Fatal("expected HasPoll")
	}
	poll, _ := database.ReadPollByNoteId(note.Id)
	if poll == nil {
		t.Fatal("poll not stored")
	}
	if poll.Votes[0] != 40 || poll.Votes[1] != 60 {
		t.Errorf("imported tallies = %v, want [40 60]", poll.Votes)
	}
}

func TestImportVoteReplyRecordsVote(t *testing.T) {
	peer := newFakePeer(t)
	pollAuthor := peer.addActor("/users/alice", "alice")
	pollURI := peer.addObject("/notes/poll", map[string]interface{}{
		"type":         "Question",
		"attributedTo": pollAuthor,
		"content":      "tabs or spaces?",
		"to":           []string{PublicCollection},
		"oneOf": []map[string]interface{}{
			{"type": "Note", "name": "tabs", "replies": map[string]interface{}{"totalItems": 0}},
			{"type": "Note", "name": "spaces", "replies": map[string]interface{}{"totalItems": 0}},
		},
	})
	voterURI := peer.addActor("/users/bob", "bob")
	voteURI := peer.addObject("/notes/vote", map[string]interface{}{
		"type":         "Note",
		"attributedTo": voterURI,
		"name":         "spaces",
		"inReplyTo":    pollURI,
		"to":           []string{pollAuthor},
	})

	k, database := importKernel(t)
	note, err := k.FetchNote(context.Background(), k.newResolver(), voteURI)
	if err != nil {
		t.Fatalf("FetchNote failed: %v", err)
	}
	if note != nil {
		t.Error("vote reply should be recorded as a vote, not a note")
	}

	pollNote, _ := database.ReadNoteByURI(pollURI)
	poll, _ := database.ReadPollByNoteId(pollNote.Id)
	if poll.Votes[1] != 1 {
		t.Errorf("tallies = %v, want [0 1]", poll.Votes)
	}
}

func TestImportVoteReplyByIndex(t *testing.T) {
	peer := newFakePeer(t)
	pollAuthor := peer.addActor("/users/alice", "alice")
	pollURI := peer.addObject("/notes/poll", map[string]interface{}{
		"type":         "Question",
		"attributedTo": pollAuthor,
		"content":      "pick",
		"to":           []string{PublicCollection},
		"oneOf": []map[string]interface{}{
			{"type": "Note", "name": "first", "replies": map[string]interface{}{"totalItems": 0}},
			{"type": "Note", "name": "second", "replies": map[string]interface{}{"totalItems": 0}},
		},
	})
	voterURI := peer.addActor("/users/bob", "bob")
	voteURI := peer.addObject("/notes/vote", map[string]interface{}{
		"type":         "Note",
		"attributedTo": voterURI,
		"name":         "1",
		"inReplyTo":    pollURI,
		"to":           []string{pollAuthor},
	})

	k, database := importKernel(t)
	if _, err := k.FetchNote(context.Background(), k.newResolver(), voteURI); err != nil {
		t.Fatalf("FetchNote failed: %v", err)
	}

	pollNote, _ := database.ReadNoteByURI(pollURI)
	poll, _ := database.ReadPollByNoteId(pollNote.Id)
	if poll.Votes[1] != 1 {
		t.Errorf("tallies = %v, want index fallback to hit choice 1", poll.Votes)
	}
}

func TestImportVoteReplyByTrailingDigitsInText(t *testing.T) {
	peer := newFakePeer(t)
	pollAuthor := peer.addActor("/users/alice", "alice")
	pollURI := peer.addObject("/notes/poll", map[string]interface{}{
		"type":         "Question",
		"attributedTo": pollAuthor,
		"content":      "pick",
		"to":           []string{PublicCollection},
		"oneOf": []map[string]interface{}{
			{"type": "Note", "name": "first", "replies": map[string]interface{}{"totalItems": 0}},
			{"type": "Note", "name": "second", "replies": map[string]interface{}{"totalItems": 0}},
		},
	})
	voterURI := peer.addActor("/users/bob", "bob")
	voteURI := peer.addObject("/notes/vote", map[string]interface{}{
		"type":         "Note",
		"attributedTo": voterURI,
		"content":      "<p>I pick 1</p>",
		"inReplyTo":    pollURI,
		"to":           []string{pollAuthor},
	})

	k, database := importKernel(t)
	note, err := k.FetchNote(context.Background(), k.newResolver(), voteURI)
	if err != nil {
		t.Fatalf("FetchNote failed: %v", err)
	}
	if note != nil {
		t.Error("a digit-suffixed reply to a poll should count as a vote, not a note")
	}

	pollNote, _ := database.ReadNoteByURI(pollURI)
	poll, _ := database.ReadPollByNoteId(pollNote.Id)
	if poll.Votes[1] != 1 {
		t.Errorf("tallies = %v, want trailing digits to hit choice 1", poll.Votes)
	}
}

func TestImportPlainReplyToPollStaysNote(t *testing.T) {
	peer := newFakePeer(t)
	pollAuthor := peer.addActor("/users/alice", "alice")
	pollURI := peer.addObject("/notes/poll", map[string]interface{}{
		"type":         "Question",
		"attributedTo": pollAuthor,
		"content":      "pick",
		"to":           []string{PublicCollection},
		"oneOf": []map[string]interface{}{
			{"type": "Note", "name": "first", "replies": map[string]interface{}{"totalItems": 0}},
		},
	})
	voterURI := peer.addActor("/users/bob", "bob")
	replyURI := peer.addObject("/notes/reply", map[string]interface{}{
		"type":         "Note",
		"attributedTo": voterURI,
		"content":      "interesting poll!",
		"inReplyTo":    pollURI,
		"to":           []string{PublicCollection},
	})

	k, database := importKernel(t)
	note, err := k.FetchNote(context.Background(), k.newResolver(), replyURI)
	if err != nil {
		t.Fatalf("FetchNote failed: %v", err)
	}
	if note == nil {
		t.Fatal("a reply without a matching choice must stay a note")
	}

	pollNote, _ := database.ReadNoteByURI(pollURI)
	poll, _ := database.ReadPollByNoteId(pollNote.Id)
	if poll.Votes[0] != 0 {
		t.Errorf("tallies = %v, want untouched", poll.Votes)
	}
}

func TestImportNamedReplyWithUnknownChoiceDropped(t *testing.T) {
	peer := newFakePeer(t)
	pollAuthor := peer.addActor("/users/alice", "alice")
	pollURI := peer.addObject("/notes/poll", map[string]interface{}{
		"type":         "Question",
		"attributedTo": pollAuthor,
		"content":      "pick",
		"to":           []string{PublicCollection},
		"oneOf": []map[string]interface{}{
			{"type": "Note", "name": "first", "replies": map[string]interface{}{"totalItems": 0}},
		},
	})
	voterURI := peer.addActor("/users/bob", "bob")
	voteURI := peer.addObject("/notes/vote", map[string]interface{}{
		"type":         "Note",
		"attributedTo": voterURI,
		"name":         "nonesuch",
		"inReplyTo":    pollURI,
		"to":           []string{pollAuthor},
	})

	k, database := importKernel(t)
	note, err := k.FetchNote(context.Background(), k.newResolver(), voteURI)
	if err != nil {
		t.Fatalf("FetchNote failed: %v", err)
	}
	if note != nil {
		t.Error("a named vote for an unknown choice should be dropped, not imported")
	}
	stored, _ := database.ReadNoteByURI(voteURI)
	if stored != nil {
		t.Error("dropped vote must not be persisted")
	}
}

func TestImportVoteOnExpiredPollDropped(t *testing.T) {
	peer := newFakePeer(t)
	pollAuthor := peer.addActor("/users/alice", "alice")
	pollURI := peer.addObject("/notes/poll", map[string]interface{}{
		"type":         "Question",
		"attributedTo": pollAuthor,
		"content":      "too late",
		"to":           []string{PublicCollection},
		"oneOf": []map[string]interface{}{
			{"type": "Note", "name": "a", "replies": map[string]interface{}{"totalItems": 0}},
		},
		"closed": time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
	})
	voterURI := peer.addActor("/users/bob", "bob")
	voteURI := peer.addObject("/notes/vote", map[string]interface{}{
		"type":         "Note",
		"attributedTo": voterURI,
		"name":         "a",
		"inReplyTo":    pollURI,
		"to":           []string{pollAuthor},
	})

	k, database := importKernel(t)
	note, err := k.FetchNote(context.Background(), k.newResolver(), voteURI)
	if err != nil {
		t.Fatalf("expired-poll vote must be dropped silently, got %v", err)
	}
	if note != nil {
		t.Error("vote reply should not become a note")
	}

	pollNote, _ := database.ReadNoteByURI(pollURI)
	poll, _ := database.ReadPollByNoteId(pollNote.Id)
	if poll.Votes[0] != 0 {
		t.Errorf("tallies = %v, want untouched", poll.Votes)
	}
}

func TestImportNoteResolvesReferencedAttachments(t *testing.T) {
	peer := newFakePeer(t)
	actorURI := peer.addActor("/users/alice", "alice")
	fileURI := peer.addObject("/files/1", map[string]interface{}{
		"type":      "Document",
		"url":       peer.url("/media/1.png"),
		"mediaType": "image/png",
	})
	noteURI := peer.addObject("/notes/1", map[string]interface{}{
		"type":         "Note",
		"attributedTo": actorURI,
		"content":      "with media",
		"to":           []string{PublicCollection},
		"attachment": []map[string]interface{}{
			{"type": "Document", "id": fileURI},
			{"type": "Document", "id": peer.url("/files/deleted")},
			{"type": "Document", "url": peer.url("/media/2.png"), "mediaType": "image/png"},
		},
	})

	k, _ := importKernel(t)
	note, err := k.FetchNote(context.Background(), k.newResolver(), noteURI)
	if err != nil {
		t.Fatalf("FetchNote failed: %v", err)
	}
	if len(note.Attachments) != 2 {
		t.Fatalf("attachments = %+v, want the gone one discarded", note.Attachments)
	}
	if note.Attachments[0].URL != peer.url("/media/1.png") {
		t.Errorf("referenced attachment not resolved: %+v", note.Attachments[0])
	}
	if note.Attachments[1].URL != peer.url("/media/2.png") {
		t.Errorf("embedded attachment lost: %+v", note.Attachments[1])
	}
}

func TestImportEmojiUpsertOnlyWhenNewer(t *testing.T) {
	peer := newFakePeer(t)
	actorURI := peer.addActor("/users/alice", "alice")
	tag := []map[string]interface{}{{
		"type":    "Emoji",
		"name":    ":blobcat:",
		"updated": "2026-01-01T00:00:00Z",
		"icon":    map[string]interface{}{"url": peer.url("/emoji/blobcat.png")},
	}}
	noteURI := peer.addObject("/notes/1", map[string]interface{}{
		"type":         "Note",
		"attributedTo": actorURI,
		"content":      ":blobcat:",
		"to":           []string{PublicCollection},
		"tag":          tag,
	})

	k, database := importKernel(t)
	if _, err := k.FetchNote(context.Background(), k.newResolver(), noteURI); err != nil {
		t.Fatalf("FetchNote failed: %v", err)
	}

	author, _ := database.ReadActorByURI(actorURI)
	emoji, _ := database.ReadEmoji("blobcat", author.Host)
	if emoji == nil {
		t.Fatal("emoji not imported")
	}
	firstURL := emoji.URL

	// older copy in a second note must not overwrite
	tag[0]["updated"] = "2025-01-01T00:00:00Z"
	tag[0]["icon"] = map[string]interface{}{"url": peer.url("/emoji/old.png")}
	note2URI := peer.addObject("/notes/2", map[string]interface{}{
		"type":         "Note",
		"attributedTo": actorURI,
		"content":      ":blobcat: again",
		"to":           []string{PublicCollection},
		"tag":          tag,
	})
	if _, err := k.FetchNote(context.Background(), k.newResolver(), note2URI); err != nil {
		t.Fatalf("FetchNote failed: %v", err)
	}

	emoji, _ = database.ReadEmoji("blobcat", author.Host)
	if emoji.URL != firstURL {
		t.Errorf("older emoji overwrote newer: %s", emoji.URL)
	}
}
