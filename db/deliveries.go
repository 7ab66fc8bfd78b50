package db

import (
	"database/sql"
	"time"

	"github.com/corvid-social/corvid/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertDelivery = `INSERT INTO deliveries(id, inbox_uri, actor_id, payload, attempts, next_attempt_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectDueDeliveries = `SELECT id, inbox_uri, actor_id, payload, attempts, next_attempt_at, created_at
		FROM deliveries WHERE next_attempt_at <= ? ORDER BY next_attempt_at LIMIT ?`
	sqlUpdateDeliveryAttempt = `UPDATE deliveries SET attempts = ?, next_attempt_at = ? WHERE id = ?`
	sqlDeleteDelivery        = `DELETE FROM deliveries WHERE id = ?`
)

func (db *DB) CreateDelivery(j *domain.DeliveryJob) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDelivery,
			j.Id.String(), j.InboxURI, j.ActorId.String(), j.Payload,
			j.Attempts, j.NextAttemptAt, j.CreatedAt)
		return err
	})
}

// ReadDueDeliveries returns at most limit jobs whose next attempt is due.
func (db *DB) ReadDueDeliveries(now time.Time, limit int) ([]domain.DeliveryJob, error) {
	rows, err := db.db.Query(sqlSelectDueDeliveries, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.DeliveryJob
	for rows.Next() {
		var j domain.DeliveryJob
		var idStr, actorStr string
		if err := rows.Scan(&idStr, &j.InboxURI, &actorStr, &j.Payload,
			&j.Attempts, &j.NextAttemptAt, &j.CreatedAt); err != nil {
			return jobs, err
		}
		j.Id = parseUUIDOrNil(idStr)
		j.ActorId = parseUUIDOrNil(actorStr)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextAttemptAt time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextAttemptAt, id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id.String())
		return err
	})
}
