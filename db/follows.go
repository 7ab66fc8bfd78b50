package db

import (
	"database/sql"

	"github.com/corvid-social/corvid/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertFollow = `INSERT INTO follows(id, follower_id, followee_id, follower_host, followee_host, uri, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectFollow          = `SELECT id, follower_id, followee_id, follower_host, followee_host, uri, created_at FROM follows`
	sqlSelectFollowByPair    = sqlSelectFollow + ` WHERE follower_id = ? AND followee_id = ?`
	sqlSelectFollowersOf     = sqlSelectFollow + ` WHERE followee_id = ?`
	sqlSelectFollowingOf     = sqlSelectFollow + ` WHERE follower_id = ?`
	sqlDeleteFollowByPair    = `DELETE FROM follows WHERE follower_id = ? AND followee_id = ?`

	sqlInsertFollowRequest = `INSERT INTO follow_requests(id, follower_id, followee_id, follower_host, followee_host, uri, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectFollowRequest       = `SELECT id, follower_id, followee_id, follower_host, followee_host, uri, created_at FROM follow_requests`
	sqlSelectFollowRequestByPair = sqlSelectFollowRequest + ` WHERE follower_id = ? AND followee_id = ?`
	sqlSelectFollowRequestByURI  = sqlSelectFollowRequest + ` WHERE uri = ?`
	sqlDeleteFollowRequestByPair = `DELETE FROM follow_requests WHERE follower_id = ? AND followee_id = ?`

	sqlInsertBlock       = `INSERT INTO blocks(id, blocker_id, blockee_id, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectBlockByPair = `SELECT id, blocker_id, blockee_id, created_at FROM blocks WHERE blocker_id = ? AND blockee_id = ?`
	sqlInsertMute        = `INSERT INTO mutes(id, muter_id, mutee_id, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectMuteByPair  = `SELECT id, muter_id, mutee_id, created_at FROM mutes WHERE muter_id = ? AND mutee_id = ?`
	sqlDeleteMuteByPair  = `DELETE FROM mutes WHERE muter_id = ? AND mutee_id = ?`
)

// CreateFollow promotes a relationship. Duplicate edges lose on
// UNIQUE(follower_id, followee_id) and surface domain.ErrAlreadyExists.
func (db *DB) CreateFollow(f *domain.Follow) error {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollow,
			f.Id.String(), f.FollowerId.String(), f.FolloweeId.String(),
			f.FollowerHost, f.FolloweeHost, f.URI, f.CreatedAt)
		return err
	})
	if err != nil && IsUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (db *DB) ReadFollow(followerId, followeeId uuid.UUID) (*domain.Follow, error) {
	return scanFollow(db.db.QueryRow(sqlSelectFollowByPair, followerId.String(), followeeId.String()))
}

// ReadFollowersOf returns all confirmed followers of an actor.
func (db *DB) ReadFollowersOf(followeeId uuid.UUID) ([]domain.Follow, error) {
	rows, err := db.db.Query(sqlSelectFollowersOf, followeeId.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var follows []domain.Follow
	for rows.Next() {
		f, err := scanFollow(rows)
		if err != nil {
			return follows, err
		}
		follows = append(follows, *f)
	}
	return follows, rows.Err()
}

// ReadFollowingOf returns all actors an actor follows.
func (db *DB) ReadFollowingOf(followerId uuid.UUID) ([]domain.Follow, error) {
	rows, err := db.db.Query(sqlSelectFollowingOf, followerId.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var follows []domain.Follow
	for rows.Next() {
		f, err := scanFollow(rows)
		if err != nil {
			return follows, err
		}
		follows = append(follows, *f)
	}
	return follows, rows.Err()
}

func (db *DB) DeleteFollow(followerId, followeeId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByPair, followerId.String(), followeeId.String())
		return err
	})
}

func (db *DB) CreateFollowRequest(r *domain.FollowRequest) error {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollowRequest,
			r.Id.String(), r.FollowerId.String(), r.FolloweeId.String(),
			r.FollowerHost, r.FolloweeHost, r.URI, r.CreatedAt)
		return err
	})
	if err != nil && IsUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (db *DB) ReadFollowRequest(followerId, followeeId uuid.UUID) (*domain.FollowRequest, error) {
	return scanFollowRequest(db.db.QueryRow(sqlSelectFollowRequestByPair, followerId.String(), followeeId.String()))
}

func (db *DB) ReadFollowRequestByURI(uri string) (*domain.FollowRequest, error) {
	return scanFollowRequest(db.db.QueryRow(sqlSelectFollowRequestByURI, uri))
}

func (db *DB) DeleteFollowRequest(followerId, followeeId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowRequestByPair, followerId.String(), followeeId.String())
		return err
	})
}

func (db *DB) CreateBlock(b *domain.Block) error {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertBlock, b.Id.String(), b.BlockerId.String(), b.BlockeeId.String(), b.CreatedAt)
		return err
	})
	if err != nil && IsUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (db *DB) ReadBlock(blockerId, blockeeId uuid.UUID) (*domain.Block, error) {
	row := db.db.QueryRow(sqlSelectBlockByPair, blockerId.String(), blockeeId.String())
	var b domain.Block
	var idStr, blockerStr, blockeeStr string
	err := row.Scan(&idStr, &blockerStr, &blockeeStr, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Id = parseUUIDOrNil(idStr)
	b.BlockerId = parseUUIDOrNil(blockerStr)
	b.BlockeeId = parseUUIDOrNil(blockeeStr)
	return &b, nil
}

func (db *DB) CreateMute(m *domain.Mute) error {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertMute, m.Id.String(), m.MuterId.String(), m.MuteeId.String(), m.CreatedAt)
		return err
	})
	if err != nil && IsUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (db *DB) ReadMute(muterId, muteeId uuid.UUID) (*domain.Mute, error) {
	row := db.db.QueryRow(sqlSelectMuteByPair, muterId.String(), muteeId.String())
	var m domain.Mute
	var idStr, muterStr, muteeStr string
	err := row.Scan(&idStr, &muterStr, &muteeStr, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Id = parseUUIDOrNil(idStr)
	m.MuterId = parseUUIDOrNil(muterStr)
	m.MuteeId = parseUUIDOrNil(muteeStr)
	return &m, nil
}

func (db *DB) DeleteMute(muterId, muteeId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteMuteByPair, muterId.String(), muteeId.String())
		return err
	})
}

func scanFollow(row rowScanner) (*domain.Follow, error) {
	var f domain.Follow
	var idStr, followerStr, followeeStr string
	err := row.Scan(&idStr, &followerStr, &followeeStr, &f.FollowerHost, &f.FolloweeHost, &f.URI, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.Id = parseUUIDOrNil(idStr)
	f.FollowerId = parseUUIDOrNil(followerStr)
	f.FolloweeId = parseUUIDOrNil(followeeStr)
	return &f, nil
}

func scanFollowRequest(row rowScanner) (*domain.FollowRequest, error) {
	var r domain.FollowRequest
	var idStr, followerStr, followeeStr string
	err := row.Scan(&idStr, &followerStr, &followeeStr, &r.FollowerHost, &r.FolloweeHost, &r.URI, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Id = parseUUIDOrNil(idStr)
	r.FollowerId = parseUUIDOrNil(followerStr)
	r.FolloweeId = parseUUIDOrNil(followeeStr)
	return &r, nil
}
