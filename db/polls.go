package db

import (
	"database/sql"

	"github.com/corvid-social/corvid/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertPoll       = `INSERT INTO polls(note_id, choices, votes, multiple, expires_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectPoll       = `SELECT note_id, choices, votes, multiple, expires_at FROM polls WHERE note_id = ?`
	sqlInsertPollVote   = `INSERT INTO poll_votes(id, note_id, actor_id, choice, single, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	// single conditional update on the tally array
	sqlIncrementPollVote = `UPDATE polls SET votes = json_set(votes, '$[' || ? || ']',
		COALESCE(json_extract(votes, '$[' || ? || ']'), 0) + 1) WHERE note_id = ?`
)

func insertPoll(tx *sql.Tx, p *domain.Poll) error {
	votes := p.Votes
	if votes == nil {
		votes = make([]int, len(p.Choices))
	}
	var expires interface{}
	if !p.ExpiresAt.IsZero() {
		expires = p.ExpiresAt
	}
	_, err := tx.Exec(sqlInsertPoll,
		p.NoteId.String(), marshalJSON(p.Choices), marshalJSON(votes), p.Multiple, expires)
	return err
}

func (db *DB) ReadPollByNoteId(noteId uuid.UUID) (*domain.Poll, error) {
	row := db.db.QueryRow(sqlSelectPoll, noteId.String())
	var p domain.Poll
	var noteStr, choices, votes string
	var expires sql.NullTime
	err := row.Scan(&noteStr, &choices, &votes, &p.Multiple, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.NoteId = parseUUIDOrNil(noteStr)
	p.Choices = unmarshalStrings(choices)
	p.Votes = unmarshalInts(votes)
	if expires.Valid {
		p.ExpiresAt = expires.Time
	}
	return &p, nil
}

// CreatePollVote records the vote and increments the choice tally in
// one transaction. single marks votes on non-multiple polls so the
// partial unique index enforces one vote per (voter, poll); a losing
// concurrent writer gets domain.ErrAlreadyVoted.
func (db *DB) CreatePollVote(v *domain.PollVote, single bool) error {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlInsertPollVote,
			v.Id.String(), v.NoteId.String(), v.ActorId.String(), v.Choice, single, v.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(sqlIncrementPollVote, v.Choice, v.Choice, v.NoteId.String())
		return err
	})
	if err != nil && IsUniqueViolation(err) {
		return domain.ErrAlreadyVoted
	}
	return err
}
