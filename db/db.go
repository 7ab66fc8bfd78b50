package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the record store. All single-record operations are atomic;
// per-object mutual exclusion comes from the schema's uniqueness
// constraints, not from application-level locks.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
// Use ":memory:" for tests.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	d := &DB{db: sqlDB}
	if err := d.RunMigrations(); err != nil {
		return nil, err
	}
	return d, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr := &sqlite.Error{}
			if errors.As(err, &serr) && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

// IsUniqueViolation reports whether err is a uniqueness-constraint
// failure. A losing concurrent writer sees this, not a hard failure.
func IsUniqueViolation(err error) bool {
	serr := &sqlite.Error{}
	if errors.As(err, &serr) {
		code := serr.Code()
		return code == sqlitelib.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY ||
			code == sqlitelib.SQLITE_CONSTRAINT
	}
	return false
}

// JSON column helpers. Empty slices/maps round-trip as empty, never null.

func marshalJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func unmarshalStrings(s string) []string {
	var out []string
	if s != "" {
		json.Unmarshal([]byte(s), &out)
	}
	return out
}

func unmarshalInts(s string) []int {
	var out []int
	if s != "" {
		json.Unmarshal([]byte(s), &out)
	}
	return out
}

func unmarshalUUIDs(s string) []uuid.UUID {
	var out []uuid.UUID
	for _, raw := range unmarshalStrings(s) {
		if id, err := uuid.Parse(raw); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

// uuidOrEmpty renders uuid.Nil as the empty string for storage.
func uuidOrEmpty(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func parseUUIDOrNil(s string) uuid.UUID {
	if s == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}
