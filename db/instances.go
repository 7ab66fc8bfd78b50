package db

import (
	"database/sql"
	"time"

	"github.com/corvid-social/corvid/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertInstance       = `INSERT INTO instances(id, host, caught_at) VALUES (?, ?, ?)`
	sqlSelectInstanceByHost = `SELECT id, host, caught_at, delivery_successes, delivery_failures, blocked, last_communicated_at FROM instances WHERE host = ?`
	sqlInstanceSuccess      = `UPDATE instances SET delivery_successes = delivery_successes + 1, last_communicated_at = ? WHERE host = ?`
	sqlInstanceFailure      = `UPDATE instances SET delivery_failures = delivery_failures + 1 WHERE host = ?`
	sqlUpdateInstanceBlocked = `UPDATE instances SET blocked = ? WHERE host = ?`
)

// RegisterInstance creates the instance row for host if it doesn't
// exist yet and returns it. Called lazily on first federation contact.
func (db *DB) RegisterInstance(host string) (*domain.Instance, error) {
	existing, err := db.ReadInstanceByHost(host)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	inst := &domain.Instance{
		Id:       uuid.New(),
		Host:     host,
		CaughtAt: time.Now(),
	}
	err = db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertInstance, inst.Id.String(), inst.Host, inst.CaughtAt)
		return err
	})
	if err != nil {
		// a concurrent registration won the race
		if IsUniqueViolation(err) {
			return db.ReadInstanceByHost(host)
		}
		return nil, err
	}
	return inst, nil
}

func (db *DB) ReadInstanceByHost(host string) (*domain.Instance, error) {
	row := db.db.QueryRow(sqlSelectInstanceByHost, host)
	var i domain.Instance
	var idStr string
	var lastComm sql.NullTime
	err := row.Scan(&idStr, &i.Host, &i.CaughtAt, &i.DeliverySuccesses, &i.DeliveryFailures, &i.Blocked, &lastComm)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	i.Id = parseUUIDOrNil(idStr)
	if lastComm.Valid {
		i.LastCommunicatedAt = lastComm.Time
	}
	return &i, nil
}

func (db *DB) RecordDeliverySuccess(host string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInstanceSuccess, time.Now(), host)
		return err
	})
}

func (db *DB) RecordDeliveryFailure(host string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInstanceFailure, host)
		return err
	})
}

func (db *DB) SetInstanceBlocked(host string, blocked bool) error {
	if _, err := db.RegisterInstance(host); err != nil {
		return err
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateInstanceBlocked, blocked, host)
		return err
	})
}
