package db

import (
	"database/sql"

	"github.com/corvid-social/corvid/domain"
)

const (
	sqlInsertActivity        = `INSERT INTO activities(id, uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectActivityByURI   = `SELECT id, uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at FROM activities WHERE uri = ?`
	sqlMarkActivityProcessed = `UPDATE activities SET processed = 1 WHERE uri = ?`
)

// CreateActivityRecord logs an activity by URI. Duplicate delivery of
// the same activity loses on the uri uniqueness constraint.
func (db *DB) CreateActivityRecord(a *domain.ActivityRecord) error {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			a.Id.String(), a.URI, a.ActivityType, a.ActorURI, a.ObjectURI, a.RawJSON, a.Processed, a.Local, a.CreatedAt)
		return err
	})
	if err != nil && IsUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (db *DB) ReadActivityByURI(uri string) (*domain.ActivityRecord, error) {
	row := db.db.QueryRow(sqlSelectActivityByURI, uri)
	var a domain.ActivityRecord
	var idStr string
	err := row.Scan(&idStr, &a.URI, &a.ActivityType, &a.ActorURI, &a.ObjectURI, &a.RawJSON, &a.Processed, &a.Local, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Id = parseUUIDOrNil(idStr)
	return &a, nil
}

// MarkActivityProcessed flags an activity as fully handled, so a
// redelivery of the same URI becomes a no-op.
func (db *DB) MarkActivityProcessed(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkActivityProcessed, uri)
		return err
	})
}
