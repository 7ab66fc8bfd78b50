package activitypub

import (
	"encoding/json"
)

const (
	ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"
	PublicCollection       = "https://www.w3.org/ns/activitystreams#Public"
)

// Activity represents a generic ActivityPub activity. Object is kept
// raw because it may be a URI string or an embedded object.
type Activity struct {
	Context  interface{}     `json:"@context,omitempty"`
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Actor    string          `json:"actor"`
	Object   json.RawMessage `json:"object"`
	To       StringList      `json:"to,omitempty"`
	CC       StringList      `json:"cc,omitempty"`
	Reaction string          `json:"_reaction,omitempty"`
}

// ObjectURI extracts the object's URI whether it is a plain string or
// an embedded object with an id.
func (a *Activity) ObjectURI() string {
	return objectURI(a.Object)
}

func objectURI(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// NoteObject is the wire shape of a Note, Question or Article.
type NoteObject struct {
	Context      interface{}    `json:"@context,omitempty"`
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	AttributedTo string         `json:"attributedTo"`
	Content      string         `json:"content"`
	Summary      string         `json:"summary,omitempty"`
	Name         string         `json:"name,omitempty"`
	Published    string         `json:"published,omitempty"`
	To           StringList     `json:"to,omitempty"`
	CC           StringList     `json:"cc,omitempty"`
	InReplyTo    string         `json:"inReplyTo,omitempty"`
	Attachment   AttachmentList `json:"attachment,omitempty"`
	Tag          []TagObject    `json:"tag,omitempty"`
	Sensitive    bool           `json:"sensitive,omitempty"`
	Quote        string         `json:"_quote,omitempty"`
	Question     string         `json:"_question,omitempty"`

	// Question fields, present when the object embeds a poll
	OneOf   []QuestionChoice `json:"oneOf,omitempty"`
	AnyOf   []QuestionChoice `json:"anyOf,omitempty"`
	EndTime string           `json:"endTime,omitempty"`
	Closed  string           `json:"closed,omitempty"`
}

// TagObject covers Hashtag, Mention and Emoji entries in a tag array.
type TagObject struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Href    string `json:"href,omitempty"`
	Updated string `json:"updated,omitempty"`
	Icon    struct {
		URL string `json:"url"`
	} `json:"icon,omitempty"`
}

// AttachmentObject is a Document-style attachment, either embedded in
// full or carried as a bare reference to be resolved.
type AttachmentObject struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url"`
	Name      string `json:"name,omitempty"`
	Sensitive bool   `json:"sensitive,omitempty"`
}

// QuestionChoice is one poll option with its reply tally.
type QuestionChoice struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Replies struct {
		Type       string `json:"type,omitempty"`
		TotalItems int    `json:"totalItems"`
	} `json:"replies"`
}

// StringList unmarshals a JSON value that is either a single string or
// an array of strings; remote servers use both forms.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		// tolerate arrays of objects by keeping their ids
		var objs []struct {
			ID string `json:"id"`
		}
		if err2 := json.Unmarshal(data, &objs); err2 != nil {
			return err
		}
		for _, o := range objs {
			if o.ID != "" {
				many = append(many, o.ID)
			}
		}
	}
	*l = StringList(many)
	return nil
}

// Contains reports whether the list holds the given entry.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// AttachmentList unmarshals a single attachment object or an array.
type AttachmentList []AttachmentObject

func (l *AttachmentList) UnmarshalJSON(data []byte) error {
	var single AttachmentObject
	if err := json.Unmarshal(data, &single); err == nil {
		*l = AttachmentList{single}
		return nil
	}
	var many []AttachmentObject
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = AttachmentList(many)
	return nil
}
