package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/remsync/internal/errors"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// MemoryPath opens a journal that disappears with the process.
const MemoryPath = ":memory:"

// Store is the session journal.
type Store struct {
	db *sql.DB
}

// Open creates or opens a journal at path. Use MemoryPath for the usual
// process-lifetime journal.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}

	// An in-memory database belongs to a single connection; a file
	// database only ever has one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connect journal")
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply pragmas")
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Wrapf(err, "execute %q", pragma)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return errors.Wrap(err, "execute schema")
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return errors.Wrap(err, "get user_version")
	}
	if version > currentSchemaVersion {
		return errors.Newf("journal schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return errors.Wrap(err, "set user_version")
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return errors.Wrapf(err, "query %s", name)
	}
	if value != expected {
		return errors.Newf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
