package activitypub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/corvid-social/corvid/domain"
	"github.com/gomarkdown/markdown"
	"github.com/google/uuid"
)

// ActorURI returns the canonical URI of an actor, minting the local
// form for actors this server owns.
func (k *Kernel) ActorURI(a *domain.Actor) string {
	if a.IsLocal() {
		return k.conf.BaseURL() + "/users/" + a.Username
	}
	return a.URI
}

func (k *Kernel) FollowersURI(a *domain.Actor) string {
	return k.ActorURI(a) + "/followers"
}

// NoteURI returns the canonical URI of a note, minting the local form
// for notes this server owns.
func (k *Kernel) NoteURI(n *domain.Note) string {
	if n.IsLocal() {
		return k.conf.BaseURL() + "/notes/" + n.Id.String()
	}
	return n.URI
}

func (k *Kernel) newActivityID() string {
	return k.conf.BaseURL() + "/activities/" + uuid.New().String()
}

// RenderContent converts local markdown to sanitized HTML for
// federation and web views.
func RenderContent(text string) string {
	html := markdown.ToHTML([]byte(text), nil, nil)
	return contentPolicy.Sanitize(string(html))
}

func marshalActivity(a *Activity) []byte {
	a.Context = ActivityStreamsContext
	raw, err := json.Marshal(a)
	if err != nil {
		// all builders marshal plain structs; this cannot fail
		panic(err)
	}
	return raw
}

func rawURI(uri string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf("%q", uri))
}

func rawObject(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// RenderNoteObject builds the wire document of a local note.
func (k *Kernel) RenderNoteObject(note *domain.Note, author *domain.Actor, poll *domain.Poll) *NoteObject {
	doc := &NoteObject{
		ID:           k.NoteURI(note),
		Type:         "Note",
		AttributedTo: k.ActorURI(author),
		Content:      RenderContent(note.Text),
		Summary:      note.CW,
		Published:    note.CreatedAt.UTC().Format(time.RFC3339),
		Sensitive:    note.CW != "",
	}

	followers := k.FollowersURI(author)
	switch note.Visibility {
	case domain.VisibilityPublic:
		doc.To = StringList{PublicCollection}
		doc.CC = StringList{followers}
	case domain.VisibilityHome:
		doc.To = StringList{followers}
		doc.CC = StringList{PublicCollection}
	case domain.VisibilityFollowers:
		doc.To = StringList{followers}
	case domain.VisibilitySpecified:
		for _, id := range note.VisibleActorIds {
			if recipient, err := k.db.ReadActorById(id); err == nil && recipient != nil {
				doc.To = append(doc.To, k.ActorURI(recipient))
			}
		}
	}

	if note.ReplyId != uuid.Nil {
		if parent, err := k.db.ReadNoteById(note.ReplyId); err == nil && parent != nil {
			doc.InReplyTo = k.NoteURI(parent)
		}
	}
	if note.QuoteId != uuid.Nil {
		if quoted, err := k.db.ReadNoteById(note.QuoteId); err == nil && quoted != nil {
			doc.Quote = k.NoteURI(quoted)
		}
	}

	for _, tag := range note.Tags {
		doc.Tag = append(doc.Tag, TagObject{
			Type: "Hashtag",
			Name: "#" + tag,
			Href: k.conf.BaseURL() + "/tags/" + tag,
		})
	}
	for _, id := range note.MentionIds {
		if mentioned, err := k.db.ReadActorById(id); err == nil && mentioned != nil {
			doc.Tag = append(doc.Tag, TagObject{
				Type: "Mention",
				Name: "@" + mentioned.Username,
				Href: k.ActorURI(mentioned),
			})
		}
	}

	for _, a := range note.Attachments {
		doc.Attachment = append(doc.Attachment, AttachmentObject{
			Type:      "Document",
			MediaType: a.MediaType,
			URL:       a.URL,
			Name:      a.Name,
			Sensitive: a.Sensitive,
		})
	}

	if poll != nil {
		doc.Type = "Question"
		choices := make([]QuestionChoice, len(poll.Choices))
		for i, c := range poll.Choices {
			choices[i].Type = "Note"
			choices[i].Name = c
			choices[i].Replies.Type = "Collection"
			choices[i].Replies.TotalItems = poll.Votes[i]
		}
		if poll.Multiple {
			doc.AnyOf = choices
		} else {
			doc.OneOf = choices
		}
		if !poll.ExpiresAt.IsZero() {
			if poll.Expired(time.Now()) {
				doc.Closed = poll.ExpiresAt.UTC().Format(time.RFC3339)
			} else {
				doc.EndTime = poll.ExpiresAt.UTC().Format(time.RFC3339)
			}
		}
	}

	return doc
}

// RenderCreate wraps a local note document in its Create activity.
func (k *Kernel) RenderCreate(author *domain.Actor, doc *NoteObject) []byte {
	return marshalActivity(&Activity{
		ID:     doc.ID + "/activity",
		Type:   "Create",
		Actor:  k.ActorURI(author),
		Object: rawObject(doc),
		To:     doc.To,
		CC:     doc.CC,
	})
}

// RenderFollow builds a Follow activity from a local follower.
func (k *Kernel) RenderFollow(follower, followee *domain.Actor, followURI string) []byte {
	return marshalActivity(&Activity{
		ID:     followURI,
		Type:   "Follow",
		Actor:  k.ActorURI(follower),
		Object: rawURI(k.ActorURI(followee)),
	})
}

// RenderFollowFromRequest rebuilds the Follow activity a stored
// request refers to, for embedding in Accept and Reject.
func (k *Kernel) RenderFollowFromRequest(req *domain.FollowRequest, follower, followee *domain.Actor) *Activity {
	uri := req.URI
	if uri == "" {
		uri = k.newActivityID()
	}
	return &Activity{
		ID:     uri,
		Type:   "Follow",
		Actor:  k.ActorURI(follower),
		Object: rawURI(k.ActorURI(followee)),
	}
}

func (k *Kernel) RenderAccept(issuer *domain.Actor, inner *Activity) []byte {
	return marshalActivity(&Activity{
		ID:     k.newActivityID(),
		Type:   "Accept",
		Actor:  k.ActorURI(issuer),
		Object: rawObject(inner),
	})
}

func (k *Kernel) RenderReject(issuer *domain.Actor, inner *Activity) []byte {
	return marshalActivity(&Activity{
		ID:     k.newActivityID(),
		Type:   "Reject",
		Actor:  k.ActorURI(issuer),
		Object: rawObject(inner),
	})
}

// RenderLike builds a Like carrying the reaction symbol in the
// _reaction extension field.
func (k *Kernel) RenderLike(actor *domain.Actor, note *domain.Note, symbol string) []byte {
	return marshalActivity(&Activity{
		ID:       k.newActivityID(),
		Type:     "Like",
		Actor:    k.ActorURI(actor),
		Object:   rawURI(k.NoteURI(note)),
		Reaction: symbol,
	})
}

// RenderUndo wraps a previously sent activity for reversal.
func (k *Kernel) RenderUndo(actor *domain.Actor, inner *Activity) []byte {
	return marshalActivity(&Activity{
		ID:     k.newActivityID(),
		Type:   "Undo",
		Actor:  k.ActorURI(actor),
		Object: rawObject(inner),
	})
}

func (k *Kernel) RenderBlock(blocker, blockee *domain.Actor) []byte {
	return marshalActivity(&Activity{
		ID:     k.newActivityID(),
		Type:   "Block",
		Actor:  k.ActorURI(blocker),
		Object: rawURI(k.ActorURI(blockee)),
	})
}

// RenderVote builds the Create-wrapped vote reply sent to a remote
// poll's origin server.
func (k *Kernel) RenderVote(voter *domain.Actor, note *domain.Note, choiceName string) []byte {
	author, _ := k.db.ReadActorById(note.AuthorId)
	var to StringList
	if author != nil {
		to = StringList{k.ActorURI(author)}
	}
	voteNote := &NoteObject{
		ID:           k.conf.BaseURL() + "/notes/" + uuid.New().String(),
		Type:         "Note",
		AttributedTo: k.ActorURI(voter),
		Name:         choiceName,
		InReplyTo:    k.NoteURI(note),
		Published:    time.Now().UTC().Format(time.RFC3339),
		To:           to,
	}
	return marshalActivity(&Activity{
		ID:     voteNote.ID + "/activity",
		Type:   "Create",
		Actor:  k.ActorURI(voter),
		Object: rawObject(voteNote),
		To:     to,
	})
}
