package activitypub

import (
	"testing"
	"time"

	"github.com/corvid-social/corvid/db"
	"github.com/corvid-social/corvid/domain"
	"github.com/google/uuid"
)

func TestDeriveVisibility(t *testing.T) {
	followers := "https://remote.example/users/alice/followers"
	bob := "https://remote.example/users/bob"

	tests := []struct {
		name          string
		to, cc        StringList
		wantVis       domain.Visibility
		wantAddressed int
	}{
		{"public in to", StringList{PublicCollection}, nil, domain.VisibilityPublic, 0},
		{"public alias", StringList{"as:Public"}, nil, domain.VisibilityPublic, 0},
		{"public in cc", StringList{followers}, StringList{PublicCollection}, domain.VisibilityHome, 0},
		{"followers only", StringList{followers}, nil, domain.VisibilityFollowers, 0},
		{"direct", StringList{bob}, nil, domain.VisibilitySpecified, 1},
		{"empty addressing", nil, nil, domain.VisibilitySpecified, 0},
		{"public beats followers", StringList{PublicCollection, followers}, nil, domain.VisibilityPublic, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vis, addressed := DeriveVisibility(tt.to, tt.cc, followers)
			if vis != tt.wantVis {
				t.Errorf("visibility = %s, want %s", vis, tt.wantVis)
			}
			if len(addressed) != tt.wantAddressed {
				t.Errorf("addressed = %v, want %d entries", addressed, tt.wantAddressed)
			}
		})
	}
}

func seedActor(t *testing.T, database *db.DB, username, host string) *domain.Actor {
	t.Helper()
	uri := ""
	if host != "" {
		uri = "https://" + host + "/users/" + username
	}
	a := &domain.Actor{
		Id:        uuid.New(),
		Username:  username,
		Host:      host,
		URI:       uri,
		CreatedAt: time.Now(),
	}
	if err := database.CreateActor(a); err != nil {
		t.Fatalf("CreateActor failed: %v", err)
	}
	return a
}

func TestRedactFollowersOnlyNote(t *testing.T) {
	database := testDB(t)
	conf := testConf("corvid.example")
	v := NewVisibility(database, conf)

	author := seedActor(t, database, "alice", "")
	follower := seedActor(t, database, "bob", "remote.example")
	stranger := seedActor(t, database, "mallory", "remote.example")

	note := &domain.Note{
		Id:         uuid.New(),
		AuthorId:   author.Id,
		Text:       "for my followers",
		CW:         "cw",
		Visibility: domain.VisibilityFollowers,
		Tags:       []string{"secret"},
		CreatedAt:  time.Now(),
	}
	if err := database.CreateNote(note, nil); err != nil {
		t.Fatal(err)
	}
	follow := &domain.Follow{
		Id: uuid.New(), FollowerId: follower.Id, FolloweeId: author.Id,
		FollowerHost: follower.Host, CreatedAt: time.Now(),
	}
	if err := database.CreateFollow(follow); err != nil {
		t.Fatal(err)
	}

	got, err := v.Redact(note, follower)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hidden || got.Text == "" {
		t.Error("confirmed follower should see the note")
	}

	got, err = v.Redact(note, stranger)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Hidden {
		t.Error("stranger should get a redacted note")
	}
	if got.Text != "" || got.CW != "" || got.Tags != nil {
		t.Errorf("redacted note leaks content: %+v", got)
	}

	// redaction must not touch the stored row
	stored, _ := database.ReadNoteById(note.Id)
	if stored.Text == "" {
		t.Error("redaction leaked into the store")
	}

	got, err = v.Redact(note, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Hidden {
		t.Error("anonymous reader should get a redacted note")
	}
}

func TestRedactSpecifiedNote(t *testing.T) {
	database := testDB(t)
	v := NewVisibility(database, testConf("corvid.example"))

	author := seedActor(t, database, "alice", "")
	recipient := seedActor(t, database, "bob", "remote.example")
	other := seedActor(t, database, "carol", "remote.example")

	note := &domain.Note{
		Id:              uuid.New(),
		AuthorId:        author.Id,
		Text:            "just for bob",
		Visibility:      domain.VisibilitySpecified,
		VisibleActorIds: []uuid.UUID{recipient.Id},
		CreatedAt:       time.Now(),
	}
	if err := database.CreateNote(note, nil); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		viewer *domain.Actor
		want   bool
	}{
		{author, true},
		{recipient, true},
		{other, false},
		{nil, false},
	} {
		ok, err := v.CanSee(note, tc.viewer)
		if err != nil {
			t.Fatal(err)
		}
		if ok != tc.want {
			name := "anonymous"
			if tc.viewer != nil {
				name = tc.viewer.Username
			}
			t.Errorf("CanSee(%s) = %v, want %v", name, ok, tc.want)
		}
	}
}

func TestReplyTargetAuthorSeesFollowersReply(t *testing.T) {
	database := testDB(t)
	v := NewVisibility(database, testConf("corvid.example"))

	op := seedActor(t, database, "alice", "")
	replier := seedActor(t, database, "bob", "")

	parent := &domain.Note{
		Id: uuid.New(), AuthorId: op.Id, Text: "original",
		Visibility: domain.VisibilityPublic, CreatedAt: time.Now(),
	}
	if err := database.CreateNote(parent, nil); err != nil {
		t.Fatal(err)
	}
	reply := &domain.Note{
		Id: uuid.New(), AuthorId: replier.Id, Text: "reply",
		Visibility: domain.VisibilityFollowers, ReplyId: parent.Id, CreatedAt: time.Now(),
	}
	if err := database.CreateNote(reply, nil); err != nil {
		t.Fatal(err)
	}

	// alice doesn't follow bob, but she wrote what he's replying to
	ok, err := v.CanSee(reply, op)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("reply target's author should see the reply")
	}
}

func TestMentionedActorSeesFollowersNote(t *testing.T) {
	database := testDB(t)
	v := NewVisibility(database, testConf("corvid.example"))

	author := seedActor(t, database, "alice", "")
	mentioned := seedActor(t, database, "bob", "remote.example")

	note := &domain.Note{
		Id: uuid.New(), AuthorId: author.Id, Text: "@bob hi",
		Visibility: domain.VisibilityFollowers,
		MentionIds: []uuid.UUID{mentioned.Id},
		CreatedAt:  time.Now(),
	}
	if err := database.CreateNote(note, nil); err != nil {
		t.Fatal(err)
	}

	ok, err := v.CanSee(note, mentioned)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("mentioned actor should see the note")
	}
}

func TestParseVisibilityPrivateAlias(t *testing.T) {
	if got := domain.ParseVisibility("private"); got != domain.VisibilitySpecified {
		t.Errorf("private parsed as %s, want specified", got)
	}
	if got := domain.ParseVisibility("specified"); got != domain.VisibilitySpecified {
		t.Errorf("specified parsed as %s", got)
	}
}

func TestTimelineDropsMutedAndBlockedAuthors(t *testing.T) {
	database := testDB(t)
	v := NewVisibility(database, testConf("corvid.example"))

	viewer := seedActor(t, database, "alice", "")
	muted := seedActor(t, database, "bob", "remote.example")
	blocked := seedActor(t, database, "carol", "remote.example")
	stranger := seedActor(t, database, "dave", "remote.example")

	makeTimelineNote := func(author *domain.Actor, text string, vis domain.Visibility) *domain.Note {
		n := &domain.Note{
			Id: uuid.New(), AuthorId: author.Id, Text: text,
			Visibility: vis, CreatedAt: time.Now(),
		}
		if err := database.CreateNote(n, nil); err != nil {
			t.Fatal(err)
		}
		return n
	}
	notes := []*domain.Note{
		makeTimelineNote(muted, "muted away", domain.VisibilityPublic),
		makeTimelineNote(blocked, "blocked away", domain.VisibilityPublic),
		makeTimelineNote(stranger, "readable", domain.VisibilityPublic),
		makeTimelineNote(stranger, "followers only", domain.VisibilityFollowers),
	}

	if err := database.CreateMute(&domain.Mute{
		Id: uuid.New(), MuterId: viewer.Id, MuteeId: muted.Id, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := database.CreateBlock(&domain.Block{
		Id: uuid.New(), BlockerId: viewer.Id, BlockeeId: blocked.Id, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	got, err := v.Timeline(notes, viewer)
	if err != nil {
		t.Fatalf("Timeline failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("timeline = %+v, want muted and blocked authors dropped", got)
	}
	if got[0].Text != "readable" || got[0].Hidden {
		t.Errorf("public note mangled: %+v", got[0])
	}
	if !got[1].Hidden || got[1].Text != "" {
		t.Errorf("followers-only note from a stranger should be redacted: %+v", got[1])
	}

	// an anonymous reader skips the suppression consults entirely
	anon, err := v.Timeline(notes, nil)
	if err != nil {
		t.Fatalf("Timeline failed: %v", err)
	}
	if len(anon) != 4 {
		t.Errorf("anonymous timeline = %d notes, want all 4", len(anon))
	}
}
