package activitypub

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/corvid-social/corvid/db"
	"github.com/corvid-social/corvid/domain"
	"github.com/corvid-social/corvid/events"
	"github.com/corvid-social/corvid/util"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/errgroup"
)

// resolveConcurrency bounds parallel sub-resolutions (mentions,
// specified recipients) per imported note.
const resolveConcurrency = 2

var contentPolicy = bluemonday.UGCPolicy()

// FetchNote resolves a note reference to a stored note, importing it
// first when it is remote and unseen. Local URIs are looked up by id
// and never fetched.
func (k *Kernel) FetchNote(ctx context.Context, r *Resolver, uri string) (*domain.Note, error) {
	if k.conf.IsLocalURI(uri) {
		id := localNoteIdFromURI(k.conf, uri)
		if id == uuid.Nil {
			return nil, fmt.Errorf("unrecognized local note URI %s", uri)
		}
		note, err := k.db.ReadNoteById(id)
		if err != nil {
			return nil, err
		}
		if note == nil {
			return nil, fmt.Errorf("local note %s not found", id)
		}
		return note, nil
	}

	existing, err := k.db.ReadNoteByURI(uri)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return k.importNote(ctx, r, uri)
}

// importNote fetches a remote note by URI and runs it through the
// import pipeline. The fetch always goes to the note's own URI, never
// trusting an embedded copy, so a spoofed inline object cannot claim a
// foreign id.
func (k *Kernel) importNote(ctx context.Context, r *Resolver, uri string) (*domain.Note, error) {
	host, err := util.ExtractHost(uri)
	if err != nil {
		return nil, err
	}
	if err := r.CheckHost(host); err != nil {
		return nil, err
	}

	object, err := r.Resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	var doc NoteObject
	if err := decodeObject(object, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse note %s: %w", uri, err)
	}
	if doc.ID == "" || doc.AttributedTo == "" {
		return nil, &RemoteError{StatusCode: 400, URI: uri}
	}
	return k.createRemoteNote(ctx, r, &doc)
}

// createRemoteNote turns a fetched note document into a stored note.
// It returns (nil, nil) when the note is deliberately discarded: a
// suspended author, an expired-poll vote, or a vote reply that was
// recorded as a vote instead of a note.
func (k *Kernel) createRemoteNote(ctx context.Context, r *Resolver, doc *NoteObject) (*domain.Note, error) {
	author, err := k.GetOrFetchActor(ctx, r, doc.AttributedTo)
	if err != nil {
		return nil, err
	}
	if author.Suspended {
		log.Printf("Inbox: discarding note %s from suspended actor %s", doc.ID, author.URI)
		return nil, nil
	}

	// re-check after the author round trip: another inbox delivery may
	// have imported the same note meanwhile
	if existing, err := k.db.ReadNoteByURI(doc.ID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	// reply first: a reply that targets a poll may be a vote, not a note
	var reply *domain.Note
	if doc.InReplyTo != "" {
		reply, err = k.fetchRelated(ctx, r, doc.InReplyTo)
		if err != nil {
			return nil, err
		}
	}
	if reply != nil && reply.HasPoll {
		voted, err := k.recordRemoteVote(author, reply, doc)
		if err != nil {
			return nil, err
		}
		if voted {
			return nil, nil
		}
	}

	var quote *domain.Note
	if doc.Quote != "" {
		quote, err = k.fetchRelated(ctx, r, doc.Quote)
		if err != nil {
			return nil, err
		}
	}

	visibility, recipientURIs := DeriveVisibility(doc.To, doc.CC, author.URI+"/followers")

	mentionURIs, hashtags := splitTags(doc.Tag)
	if err := k.importEmojis(doc.Tag, author.Host); err != nil {
		return nil, err
	}

	mentionIds, err := k.resolveActorSet(ctx, mentionURIs)
	if err != nil {
		return nil, err
	}
	attachments, err := k.resolveAttachments(ctx, doc.Attachment, doc.Sensitive)
	if err != nil {
		return nil, err
	}
	var visibleIds []uuid.UUID
	if visibility == domain.VisibilitySpecified {
		visibleIds, err = k.resolveActorSet(ctx, recipientURIs)
		if err != nil {
			return nil, err
		}
	}

	note := &domain.Note{
		Id:              uuid.New(),
		AuthorId:        author.Id,
		URI:             doc.ID,
		Text:            contentPolicy.Sanitize(doc.Content),
		CW:              summaryToCW(doc),
		Visibility:      visibility,
		VisibleActorIds: visibleIds,
		MentionIds:      mentionIds,
		Attachments:     attachments,
		Tags:            hashtags,
		Emojis:          emojiNames(doc.Tag),
		Reactions:       map[string]int{},
		CreatedAt:       parsePublished(doc.Published),
	}
	if reply != nil {
		note.ReplyId = reply.Id
	}
	if quote != nil {
		note.QuoteId = quote.Id
	}

	poll := extractPoll(doc, note.Id)
	note.HasPoll = poll != nil

	if err := k.db.CreateNote(note, poll); err != nil {
		if db.IsUniqueViolation(err) {
			return k.db.ReadNoteByURI(doc.ID)
		}
		return nil, err
	}

	if time.Since(author.LastFetchedAt) > actorCacheMaxAge {
		k.RefreshActorAsync(author.URI)
	}

	k.bus.Publish(events.Event{Type: events.NotePosted, ActorId: author.Id, NoteId: note.Id})
	return note, nil
}

// fetchRelated resolves a reply or quote target. A permanently failing
// target (gone, forbidden) degrades to no relation instead of sinking
// the whole import.
func (k *Kernel) fetchRelated(ctx context.Context, r *Resolver, uri string) (*domain.Note, error) {
	note, err := k.FetchNote(ctx, r, uri)
	if err != nil {
		if IsPermanentRemote(err) {
			log.Printf("Inbox: dropping relation to %s: %v", uri, err)
			return nil, nil
		}
		return nil, err
	}
	return note, nil
}

var trailingDigits = regexp.MustCompile(`(\d+)$`)

var plainTextPolicy = bluemonday.StrictPolicy()

// recordRemoteVote interprets a reply to a poll note as a vote. The
// explicit name is matched against choice text, then read as a bare
// index; without a name, trailing digits in the reply text pick the
// choice ("I vote 2" is a vote for index 2). It reports whether the
// reply was consumed as a vote attempt: a nameless reply that matches
// nothing stays a regular note. Votes on expired polls and repeat
// votes are dropped silently; a remote server cannot act on the
// refusal.
func (k *Kernel) recordRemoteVote(voter *domain.Actor, note *domain.Note, doc *NoteObject) (bool, error) {
	poll, err := k.db.ReadPollByNoteId(note.Id)
	if err != nil {
		return false, err
	}
	if poll == nil {
		return false, nil
	}

	choice := -1
	if doc.Name != "" {
		for i, c := range poll.Choices {
			if c == doc.Name {
				choice = i
				break
			}
		}
		if choice < 0 {
			choice = choiceFromDigits(strings.TrimSpace(doc.Name), len(poll.Choices))
		}
		if choice < 0 {
			log.Printf("Inbox: dropping vote with unrecognized choice %q on poll %s", doc.Name, note.Id)
			return true, nil
		}
	} else {
		text := strings.TrimSpace(plainTextPolicy.Sanitize(doc.Content))
		choice = choiceFromDigits(text, len(poll.Choices))
		if choice < 0 {
			return false, nil
		}
	}

	if poll.Expired(time.Now()) {
		log.Printf("Inbox: dropping vote on expired poll %s", note.Id)
		return true, nil
	}

	vote := &domain.PollVote{
		Id:        uuid.New(),
		NoteId:    note.Id,
		ActorId:   voter.Id,
		Choice:    choice,
		CreatedAt: time.Now(),
	}
	if err := k.db.CreatePollVote(vote, !poll.Multiple); err != nil {
		if err == domain.ErrAlreadyVoted {
			return true, nil
		}
		return false, err
	}
	k.bus.Publish(events.Event{Type: events.PollVoted, ActorId: voter.Id, NoteId: note.Id, Choice: choice})
	return true, nil
}

// choiceFromDigits reads trailing digits off a value and returns them
// as a choice index, or -1 when there are none or they are out of
// range.
func choiceFromDigits(value string, choices int) int {
	m := trailingDigits.FindStringSubmatch(value)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 0 || n >= choices {
		return -1
	}
	return n
}

// resolveActorSet resolves actor URIs with bounded concurrency.
// Permanently unresolvable actors are skipped.
func (k *Kernel) resolveActorSet(ctx context.Context, uris []string) ([]uuid.UUID, error) {
	if len(uris) == 0 {
		return nil, nil
	}
	results := make([]uuid.UUID, len(uris))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for i, uri := range uris {
		i, uri := i, uri
		g.Go(func() error {
			actor, err := k.GetOrFetchActor(gctx, k.newResolver(), uri)
			if err != nil {
				if IsPermanentRemote(err) {
					log.Printf("Inbox: skipping unresolvable actor %s: %v", uri, err)
					return nil
				}
				return err
			}
			results[i] = actor.Id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(results))
	for _, id := range results {
		if id != uuid.Nil {
			out = append(out, id)
		}
	}
	return out, nil
}

// importEmojis upserts the custom emojis a note's tag array carries.
// An existing emoji is only overwritten when the remote copy is
// strictly newer.
func (k *Kernel) importEmojis(tags []TagObject, host string) error {
	for _, t := range tags {
		if t.Type != "Emoji" || t.Name == "" || t.Icon.URL == "" {
			continue
		}
		name := strings.Trim(t.Name, ":")
		updated := parseTimeOrZero(t.Updated)

		existing, err := k.db.ReadEmoji(name, host)
		if err != nil {
			return err
		}
		if existing == nil {
			e := &domain.Emoji{
				Id:        uuid.New(),
				Name:      name,
				Host:      host,
				URI:       t.ID,
				URL:       t.Icon.URL,
				UpdatedAt: updated,
			}
			if err := k.db.CreateEmoji(e); err != nil && !db.IsUniqueViolation(err) {
				return err
			}
			continue
		}
		if updated.After(existing.UpdatedAt) {
			existing.URI = t.ID
			existing.URL = t.Icon.URL
			existing.UpdatedAt = updated
			if err := k.db.UpdateEmoji(existing); err != nil {
				return err
			}
		}
	}
	return nil
}

func splitTags(tags []TagObject) (mentionURIs, hashtags []string) {
	for _, t := range tags {
		switch t.Type {
		case "Mention":
			if t.Href != "" {
				mentionURIs = append(mentionURIs, t.Href)
			}
		case "Hashtag":
			hashtags = append(hashtags, strings.TrimPrefix(t.Name, "#"))
		}
	}
	return mentionURIs, hashtags
}

func emojiNames(tags []TagObject) []string {
	var names []string
	for _, t := range tags {
		if t.Type == "Emoji" && t.Name != "" {
			names = append(names, strings.Trim(t.Name, ":"))
		}
	}
	return names
}

// resolveAttachments turns a note's attachment entries into stored
// attachments, fetching the Document of any entry that arrives as a
// bare reference. Resolution runs with bounded concurrency; an entry
// that fails permanently is discarded without sinking the import.
func (k *Kernel) resolveAttachments(ctx context.Context, list AttachmentList, sensitive bool) ([]domain.Attachment, error) {
	if len(list) == 0 {
		return nil, nil
	}
	results := make([]*domain.Attachment, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for i, a := range list {
		i, a := i, a
		g.Go(func() error {
			doc := a
			if doc.URL == "" && doc.ID != "" {
				object, err := k.newResolver().Resolve(gctx, doc.ID)
				if err != nil {
					if IsPermanentRemote(err) {
						log.Printf("Inbox: skipping unresolvable attachment %s: %v", doc.ID, err)
						return nil
					}
					return err
				}
				if err := decodeObject(object, &doc); err != nil {
					return err
				}
			}
			if doc.URL == "" {
				return nil
			}
			results[i] = &domain.Attachment{
				URL:       doc.URL,
				MediaType: doc.MediaType,
				Name:      doc.Name,
				Sensitive: doc.Sensitive || sensitive,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []domain.Attachment
	for _, a := range results {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out, nil
}

// summaryToCW returns the content warning. Question documents reuse
// summary for other purposes, so only Note/Article summaries count.
func summaryToCW(doc *NoteObject) string {
	if doc.Type == "Question" {
		return ""
	}
	return doc.Summary
}

func parseTimeOrZero(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parsePublished(value string) time.Time {
	if value == "" {
		return time.Now()
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Now()
	}
	return t
}

// localNoteIdFromURI extracts the note id from a local note URI like
// "https://domain/notes/<uuid>".
func localNoteIdFromURI(conf *util.AppConfig, uri string) uuid.UUID {
	prefix := conf.BaseURL() + "/notes/"
	if !strings.HasPrefix(uri, prefix) {
		return uuid.Nil
	}
	id, err := uuid.Parse(strings.TrimPrefix(uri, prefix))
	if err != nil {
		return uuid.Nil
	}
	return id
}
