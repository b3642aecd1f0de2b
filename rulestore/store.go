// Package rulestore implements the named, versioned compiled-rule-set
// store described in SPEC_FULL.md §4.I: a SQLite-backed table of
// (name, version) -> serialized rule set, so a long-running host can
// publish a newly compiled rule set under a name and have scanners
// pick up the latest version without recompiling from source on every
// process start.
//
// modernc.org/sqlite is used because it is CGo-free: a store package
// embedded into a scanning library shouldn't force a CGo build
// requirement onto whatever embeds it, the same reasoning that
// motivates its use elsewhere in the retrieval pack.
package rulestore

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sansecio/yarax/scanner"
)

// Store is a SQLite-backed rule-set store. The zero value is not
// usable; construct with Open.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and
// ensures the rule_sets table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("rulestore: open %s: %w", path, err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS rule_sets (
	name       TEXT NOT NULL,
	version    INTEGER NOT NULL,
	blob       BLOB NOT NULL,
	source_hash TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (name, version)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("rulestore: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Put serializes rs and stores it under name at the next version
// number for that name (1 if none exist yet).
func (s *Store) Put(name string, rs *scanner.Rules, sourceHash string) (version int, err error) {
	blob, err := rs.Serialize()
	if err != nil {
		return 0, fmt.Errorf("rulestore: serialize: %w", err)
	}

	row := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM rule_sets WHERE name = ?`, name)
	var maxVersion int
	if err := row.Scan(&maxVersion); err != nil {
		return 0, fmt.Errorf("rulestore: querying latest version: %w", err)
	}
	version = maxVersion + 1

	_, err = s.db.Exec(
		`INSERT INTO rule_sets (name, version, blob, source_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		name, version, blob, sourceHash, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("rulestore: insert: %w", err)
	}
	return version, nil
}

// Get fetches and deserializes one named version.
func (s *Store) Get(name string, version int) (*scanner.Rules, error) {
	row := s.db.QueryRow(`SELECT blob FROM rule_sets WHERE name = ? AND version = ?`, name, version)
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("rulestore: %s@%d: %w", name, version, err)
		}
		return nil, fmt.Errorf("rulestore: get %s@%d: %w", name, version, err)
	}
	return scanner.Deserialize(blob)
}

// Latest fetches and deserializes the highest version stored under name.
func (s *Store) Latest(name string) (*scanner.Rules, error) {
	row := s.db.QueryRow(`SELECT blob FROM rule_sets WHERE name = ? ORDER BY version DESC LIMIT 1`, name)
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		return nil, fmt.Errorf("rulestore: latest %s: %w", name, err)
	}
	return scanner.Deserialize(blob)
}

// List returns every (name, version, created_at) triple in the store,
// most recent first, for the CLI's "store list" subcommand.
type Entry struct {
	Name      string
	Version   int
	CreatedAt time.Time
}

func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT name, version, created_at FROM rule_sets ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("rulestore: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.Name, &e.Version, &created); err != nil {
			return nil, fmt.Errorf("rulestore: scanning row: %w", err)
		}
		e.CreatedAt = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}
