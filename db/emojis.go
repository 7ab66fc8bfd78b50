package db

import (
	"database/sql"

	"github.com/corvid-social/corvid/domain"
)

const (
	sqlInsertEmoji      = `INSERT INTO emojis(id, name, host, uri, url, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectEmoji      = `SELECT id, name, host, uri, url, updated_at FROM emojis WHERE name = ? AND host = ?`
	sqlUpdateEmojiByKey = `UPDATE emojis SET uri = ?, url = ?, updated_at = ? WHERE name = ? AND host = ?`
)

func (db *DB) CreateEmoji(e *domain.Emoji) error {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		var updated interface{}
		if !e.UpdatedAt.IsZero() {
			updated = e.UpdatedAt
		}
		_, err := tx.Exec(sqlInsertEmoji, e.Id.String(), e.Name, e.Host, e.URI, e.URL, updated)
		return err
	})
	if err != nil && IsUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (db *DB) ReadEmoji(name, host string) (*domain.Emoji, error) {
	row := db.db.QueryRow(sqlSelectEmoji, name, host)
	var e domain.Emoji
	var idStr string
	var updated sql.NullTime
	err := row.Scan(&idStr, &e.Name, &e.Host, &e.URI, &e.URL, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Id = parseUUIDOrNil(idStr)
	if updated.Valid {
		e.UpdatedAt = updated.Time
	}
	return &e, nil
}

func (db *DB) UpdateEmoji(e *domain.Emoji) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateEmojiByKey, e.URI, e.URL, e.UpdatedAt, e.Name, e.Host)
		return err
	})
}
