package db

import (
	"database/sql"
	"encoding/json"

	"github.com/corvid-social/corvid/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertNote = `INSERT INTO notes(id, author_id, uri, text, cw, visibility, visible_actor_ids, reply_id, quote_id,
		attachments, tags, mention_ids, emojis, reactions, has_poll, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectNote = `SELECT id, author_id, uri, text, cw, visibility, visible_actor_ids, reply_id, quote_id,
		attachments, tags, mention_ids, emojis, reactions, has_poll, created_at FROM notes`
	sqlSelectNoteById       = sqlSelectNote + ` WHERE id = ?`
	sqlSelectNoteByURI      = sqlSelectNote + ` WHERE uri = ?`
	sqlSelectPublicNotes    = sqlSelectNote + ` WHERE visibility = 'public' AND uri = '' ORDER BY created_at DESC LIMIT ?`
	sqlSelectNotesByAuthor  = sqlSelectNote + ` WHERE author_id = ? ORDER BY created_at DESC LIMIT ?`

	// single conditional update, not read-modify-write
	sqlIncrementReaction = `UPDATE notes SET reactions = json_set(reactions, '$."' || ? || '"',
		COALESCE(json_extract(reactions, '$."' || ? || '"'), 0) + ?) WHERE id = ?`

	sqlInsertReaction = `INSERT INTO reactions(id, note_id, actor_id, symbol, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectReaction = `SELECT id, note_id, actor_id, symbol, created_at FROM reactions WHERE note_id = ? AND actor_id = ?`
	sqlDeleteReaction = `DELETE FROM reactions WHERE id = ?`
)

// CreateNote persists a note and, when poll is non-nil, its poll in the
// same transaction. A duplicate origin URI fails the uniqueness
// constraint; callers treat that as "already imported".
func (db *DB) CreateNote(n *domain.Note, poll *domain.Poll) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNote,
			n.Id.String(), n.AuthorId.String(), n.URI, n.Text, n.CW, string(n.Visibility),
			marshalJSON(uuidStrings(n.VisibleActorIds)), uuidOrEmpty(n.ReplyId), uuidOrEmpty(n.QuoteId),
			marshalJSON(n.Attachments), marshalJSON(n.Tags), marshalJSON(uuidStrings(n.MentionIds)),
			marshalJSON(n.Emojis), marshalJSON(n.Reactions), n.HasPoll, n.CreatedAt)
		if err != nil {
			return err
		}
		if poll != nil {
			return insertPoll(tx, poll)
		}
		return nil
	})
}

func (db *DB) ReadNoteById(id uuid.UUID) (*domain.Note, error) {
	return db.scanNote(db.db.QueryRow(sqlSelectNoteById, id.String()))
}

func (db *DB) ReadNoteByURI(uri string) (*domain.Note, error) {
	return db.scanNote(db.db.QueryRow(sqlSelectNoteByURI, uri))
}

// ReadPublicLocalNotes returns the newest public local notes, for the
// outward-facing feed.
func (db *DB) ReadPublicLocalNotes(limit int) ([]domain.Note, error) {
	return db.queryNotes(sqlSelectPublicNotes, limit)
}

func (db *DB) ReadNotesByAuthor(authorId uuid.UUID, limit int) ([]domain.Note, error) {
	return db.queryNotes(sqlSelectNotesByAuthor, authorId.String(), limit)
}

// IncrementReaction adjusts a single reaction counter by delta.
func (db *DB) IncrementReaction(noteId uuid.UUID, symbol string, delta int) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlIncrementReaction, symbol, symbol, delta, noteId.String())
		return err
	})
}

// CreateReaction records one actor's reaction. A second reaction from
// the same actor on the same note violates UNIQUE(note_id, actor_id)
// and surfaces domain.ErrAlreadyExists.
func (db *DB) CreateReaction(r *domain.Reaction) error {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertReaction,
			r.Id.String(), r.NoteId.String(), r.ActorId.String(), r.Symbol, r.CreatedAt)
		return err
	})
	if err != nil && IsUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (db *DB) ReadReaction(noteId, actorId uuid.UUID) (*domain.Reaction, error) {
	row := db.db.QueryRow(sqlSelectReaction, noteId.String(), actorId.String())
	var r domain.Reaction
	var idStr, noteStr, actorStr string
	err := row.Scan(&idStr, &noteStr, &actorStr, &r.Symbol, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Id = parseUUIDOrNil(idStr)
	r.NoteId = parseUUIDOrNil(noteStr)
	r.ActorId = parseUUIDOrNil(actorStr)
	return &r, nil
}

func (db *DB) DeleteReaction(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteReaction, id.String())
		return err
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (db *DB) scanNote(row rowScanner) (*domain.Note, error) {
	var n domain.Note
	var idStr, authorStr, visibility, visibleIds, replyStr, quoteStr string
	var attachments, tags, mentionIds, emojis, reactions string
	err := row.Scan(&idStr, &authorStr, &n.URI, &n.Text, &n.CW, &visibility, &visibleIds,
		&replyStr, &quoteStr, &attachments, &tags, &mentionIds, &emojis, &reactions,
		&n.HasPoll, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	n.Id = parseUUIDOrNil(idStr)
	n.AuthorId = parseUUIDOrNil(authorStr)
	n.Visibility = domain.ParseVisibility(visibility)
	n.VisibleActorIds = unmarshalUUIDs(visibleIds)
	n.ReplyId = parseUUIDOrNil(replyStr)
	n.QuoteId = parseUUIDOrNil(quoteStr)
	json.Unmarshal([]byte(attachments), &n.Attachments)
	n.Tags = unmarshalStrings(tags)
	n.MentionIds = unmarshalUUIDs(mentionIds)
	n.Emojis = unmarshalStrings(emojis)
	n.Reactions = map[string]int{}
	json.Unmarshal([]byte(reactions), &n.Reactions)
	return &n, nil
}

func (db *DB) queryNotes(query string, args ...interface{}) ([]domain.Note, error) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []domain.Note
	for rows.Next() {
		n, err := db.scanNote(rows)
		if err != nil {
			return notes, err
		}
		notes = append(notes, *n)
	}
	return notes, rows.Err()
}
