package db

import (
	"database/sql"

	"github.com/corvid-social/corvid/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertActor = `INSERT INTO actors(id, username, host, uri, display_name, summary, inbox_uri, shared_inbox_uri,
		public_key_pem, private_key_pem, avatar_url, suspended, auto_accept_follows, last_fetched_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectActor = `SELECT id, username, host, uri, display_name, summary, inbox_uri, shared_inbox_uri,
		public_key_pem, private_key_pem, avatar_url, suspended, auto_accept_follows, last_fetched_at, created_at FROM actors`
	sqlSelectActorById       = sqlSelectActor + ` WHERE id = ?`
	sqlSelectActorByURI      = sqlSelectActor + ` WHERE uri = ?`
	sqlSelectLocalActor      = sqlSelectActor + ` WHERE username = ? AND host = ''`
	sqlUpdateRemoteActor     = `UPDATE actors SET display_name = ?, summary = ?, inbox_uri = ?, shared_inbox_uri = ?, public_key_pem = ?, avatar_url = ?, suspended = ?, last_fetched_at = ? WHERE uri = ?`
	sqlUpdateActorSuspended  = `UPDATE actors SET suspended = ? WHERE id = ?`
	sqlUpdateActorAutoAccept = `UPDATE actors SET auto_accept_follows = ? WHERE id = ?`
)

func (db *DB) CreateActor(a *domain.Actor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActor,
			a.Id.String(), a.Username, a.Host, a.URI, a.DisplayName, a.Summary,
			a.InboxURI, a.SharedInboxURI, a.PublicKeyPem, a.PrivateKeyPem,
			a.AvatarURL, a.Suspended, a.AutoAcceptFollows, a.LastFetchedAt, a.CreatedAt)
		return err
	})
}

// UpdateRemoteActor refreshes the mutable fields of a cached remote actor.
func (db *DB) UpdateRemoteActor(a *domain.Actor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateRemoteActor,
			a.DisplayName, a.Summary, a.InboxURI, a.SharedInboxURI,
			a.PublicKeyPem, a.AvatarURL, a.Suspended, a.LastFetchedAt, a.URI)
		return err
	})
}

func (db *DB) SetActorSuspended(id uuid.UUID, suspended bool) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActorSuspended, suspended, id.String())
		return err
	})
}

func (db *DB) SetActorAutoAcceptFollows(id uuid.UUID, autoAccept bool) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActorAutoAccept, autoAccept, id.String())
		return err
	})
}

func (db *DB) ReadActorById(id uuid.UUID) (*domain.Actor, error) {
	return db.scanActor(db.db.QueryRow(sqlSelectActorById, id.String()))
}

func (db *DB) ReadActorByURI(uri string) (*domain.Actor, error) {
	return db.scanActor(db.db.QueryRow(sqlSelectActorByURI, uri))
}

func (db *DB) ReadLocalActorByUsername(username string) (*domain.Actor, error) {
	return db.scanActor(db.db.QueryRow(sqlSelectLocalActor, username))
}

func (db *DB) scanActor(row *sql.Row) (*domain.Actor, error) {
	var a domain.Actor
	var idStr string
	var lastFetched sql.NullTime
	err := row.Scan(&idStr, &a.Username, &a.Host, &a.URI, &a.DisplayName, &a.Summary,
		&a.InboxURI, &a.SharedInboxURI, &a.PublicKeyPem, &a.PrivateKeyPem,
		&a.AvatarURL, &a.Suspended, &a.AutoAcceptFollows, &lastFetched, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Id = parseUUIDOrNil(idStr)
	if lastFetched.Valid {
		a.LastFetchedAt = lastFetched.Time
	}
	return &a, nil
}
