// Package index provides the indexing engine the host feeds: a persistent
// store of index units plus the task descriptions that prepare targets and
// update the store through the scheduler.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"hash/crc32"
	"os"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/conneroisu/lsphost/internal/types"
)

// crcTable is a pre-computed CRC32 Castagnoli table for content hashing.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Store persists index units and prepared-target records in a sqlite
// database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the store at the given path. Use
// ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening index store: %w", err)
	}
	// The store is accessed from scheduler worker goroutines; a single
	// connection avoids sqlite write contention.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS units (
	uri          TEXT PRIMARY KEY,
	target       TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL,
	indexed_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS prepared_targets (
	target      TEXT PRIMARY KEY,
	prepared_at INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrating index store: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// RecordUnit stores or replaces the index unit for a file.
func (s *Store) RecordUnit(ctx context.Context, uri types.DocumentURI, target, contentHash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO units (uri, target, content_hash, indexed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(uri) DO UPDATE SET target = excluded.target,
		 content_hash = excluded.content_hash, indexed_at = excluded.indexed_at`,
		string(uri), target, contentHash, time.Now().Unix())
	return err
}

// UnitHash returns the stored content hash for a file's unit and whether a
// unit exists.
func (s *Store) UnitHash(ctx context.Context, uri types.DocumentURI) (string, bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash FROM units WHERE uri = ?`, string(uri)).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// RemoveUnit drops the unit for a deleted file.
func (s *Store) RemoveUnit(ctx context.Context, uri types.DocumentURI) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM units WHERE uri = ?`, string(uri))
	return err
}

// UnitCount returns the number of stored units.
func (s *Store) UnitCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM units`).Scan(&count)
	return count, err
}

// MarkTargetPrepared records that a target's build dependencies are ready.
func (s *Store) MarkTargetPrepared(ctx context.Context, target string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prepared_targets (target, prepared_at) VALUES (?, ?)
		 ON CONFLICT(target) DO UPDATE SET prepared_at = excluded.prepared_at`,
		target, time.Now().Unix())
	return err
}

// IsTargetPrepared reports whether the target has a prepared record.
func (s *Store) IsTargetPrepared(ctx context.Context, target string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM prepared_targets WHERE target = ?`, target).Scan(&count)
	return count > 0, err
}

// HashFileContents computes the content hash used for up-to-date checks.
func HashFileContents(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(uint64(crc32.Checksum(data, crcTable)), 16), nil
}
