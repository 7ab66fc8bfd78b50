package activitypub

import (
	"github.com/corvid-social/corvid/db"
	"github.com/corvid-social/corvid/domain"
	"github.com/corvid-social/corvid/util"
	"github.com/google/uuid"
)

// publicAliases covers the shorthand forms some servers emit instead of
// the full public collection URI.
var publicAliases = []string{
	PublicCollection,
	"Public",
	"as:Public",
}

func containsPublic(list StringList) bool {
	for _, alias := range publicAliases {
		if list.Contains(alias) {
			return true
		}
	}
	return false
}

// DeriveVisibility maps a note's to/cc addressing onto a visibility
// level, from the author's perspective:
//
//	to has Public            -> public
//	cc has Public            -> home (unlisted)
//	to has author followers  -> followers
//	otherwise                -> specified, addressed to whatever actors
//	                            the to list names
func DeriveVisibility(to, cc StringList, authorFollowersURI string) (domain.Visibility, []string) {
	if containsPublic(to) {
		return domain.VisibilityPublic, nil
	}
	if containsPublic(cc) {
		return domain.VisibilityHome, nil
	}
	if authorFollowersURI != "" && to.Contains(authorFollowersURI) {
		return domain.VisibilityFollowers, nil
	}
	var recipients []string
	for _, uri := range to {
		if uri == authorFollowersURI {
			continue
		}
		recipients = append(recipients, uri)
	}
	return domain.VisibilitySpecified, recipients
}

// Visibility decides per-viewer access to notes and redacts what the
// viewer may not see.
type Visibility struct {
	db   *db.DB
	conf *util.AppConfig
}

func NewVisibility(database *db.DB, conf *util.AppConfig) *Visibility {
	return &Visibility{db: database, conf: conf}
}

// CanSee reports whether viewer may read note in full. A nil viewer is
// an anonymous reader.
func (v *Visibility) CanSee(note *domain.Note, viewer *domain.Actor) (bool, error) {
	switch note.Visibility {
	case domain.VisibilityPublic, domain.VisibilityHome:
		return true, nil
	}

	if viewer == nil {
		return false, nil
	}
	if viewer.Id == note.AuthorId {
		return true, nil
	}

	switch note.Visibility {
	case domain.VisibilitySpecified:
		for _, id := range note.VisibleActorIds {
			if id == viewer.Id {
				return true, nil
			}
		}
		return false, nil

	case domain.VisibilityFollowers:
		// the author of the note being replied to may always see the reply
		if note.ReplyId != uuid.Nil {
			parent, err := v.db.ReadNoteById(note.ReplyId)
			if err != nil {
				return false, err
			}
			if parent != nil && parent.AuthorId == viewer.Id {
				return true, nil
			}
		}
		for _, id := range note.MentionIds {
			if id == viewer.Id {
				return true, nil
			}
		}
		follow, err := v.db.ReadFollow(viewer.Id, note.AuthorId)
		if err != nil {
			return false, err
		}
		return follow != nil, nil
	}

	return false, nil
}

// Redact strips the content of a note the viewer may not see, leaving
// only its identity and threading skeleton. The returned copy is never
// written back to the store.
func (v *Visibility) Redact(note *domain.Note, viewer *domain.Actor) (*domain.Note, error) {
	ok, err := v.CanSee(note, viewer)
	if err != nil {
		return nil, err
	}
	if ok {
		return note, nil
	}

	hidden := *note
	hidden.Text = ""
	hidden.CW = ""
	hidden.Attachments = nil
	hidden.Tags = nil
	hidden.Reactions = nil
	hidden.HasPoll = false
	hidden.Hidden = true
	return &hidden, nil
}

// RedactAll applies Redact across a page of notes for one viewer.
func (v *Visibility) RedactAll(notes []*domain.Note, viewer *domain.Actor) ([]*domain.Note, error) {
	out := make([]*domain.Note, 0, len(notes))
	for _, n := range notes {
		r, err := v.Redact(n, viewer)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Timeline prepares a page of notes for one viewer: notes from authors
// the viewer muted or blocked are dropped entirely, everything else is
// redacted down to what the viewer may see. Suppression is applied
// here, at read time; imports never consult mutes or blocks.
func (v *Visibility) Timeline(notes []*domain.Note, viewer *domain.Actor) ([]*domain.Note, error) {
	kept := make([]*domain.Note, 0, len(notes))
	for _, n := range notes {
		if viewer != nil && n.AuthorId != viewer.Id {
			mute, err := v.db.ReadMute(viewer.Id, n.AuthorId)
			if err != nil {
				return nil, err
			}
			if mute != nil {
				continue
			}
			block, err := v.db.ReadBlock(viewer.Id, n.AuthorId)
			if err != nil {
				return nil, err
			}
			if block != nil {
				continue
			}
		}
		kept = append(kept, n)
	}
	return v.RedactAll(kept, viewer)
}
