// Package segstore persists the HLS sliding-window segment index to a
// SQLite database so a restarted process can resume numbering and replay
// the last known playlist instead of starting cold. It is optional: a nil
// *Store disables persistence entirely and callers don't need to branch on
// it (all methods are nil-receiver safe).
package segstore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Segment is the persisted form of one hls.Segment.
type Segment struct {
	Variant        string
	SequenceNumber uint32
	Filename       string
	DurationMillis int64
	StartUnixNanos int64
}

// Store wraps a SQLite database recording the current HLS segment window.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the segment index database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("segstore: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("segstore: migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS segments (
	variant          TEXT NOT NULL,
	sequence_number  INTEGER NOT NULL,
	filename         TEXT NOT NULL,
	duration_millis  INTEGER NOT NULL,
	start_unix_nanos INTEGER NOT NULL,
	PRIMARY KEY (variant, sequence_number)
);
`

// Close closes the underlying database handle. Safe to call on a nil Store.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// RecordSegment inserts (or replaces) the row for one finished segment.
// Safe to call on a nil Store, in which case it is a no-op.
func (s *Store) RecordSegment(seg Segment) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO segments (variant, sequence_number, filename, duration_millis, start_unix_nanos)
		 VALUES (?, ?, ?, ?, ?)`,
		seg.Variant, seg.SequenceNumber, seg.Filename, seg.DurationMillis, seg.StartUnixNanos,
	)
	if err != nil {
		return fmt.Errorf("segstore: record segment: %w", err)
	}
	return nil
}

// EvictSegment removes the row for a segment the in-memory sliding window
// has dropped. Safe to call on a nil Store.
func (s *Store) EvictSegment(variant string, sequenceNumber uint32) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(
		`DELETE FROM segments WHERE variant = ? AND sequence_number = ?`,
		variant, sequenceNumber,
	)
	if err != nil {
		return fmt.Errorf("segstore: evict segment: %w", err)
	}
	return nil
}

// LoadWindow returns the persisted segments for variant ordered by
// ascending sequence number, for priming a segmenter after a restart.
// Safe to call on a nil Store, returning (nil, nil).
func (s *Store) LoadWindow(variant string) ([]Segment, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT variant, sequence_number, filename, duration_millis, start_unix_nanos
		 FROM segments WHERE variant = ? ORDER BY sequence_number ASC`,
		variant,
	)
	if err != nil {
		return nil, fmt.Errorf("segstore: load window: %w", err)
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.Variant, &seg.SequenceNumber, &seg.Filename, &seg.DurationMillis, &seg.StartUnixNanos); err != nil {
			return nil, fmt.Errorf("segstore: scan segment row: %w", err)
		}
		out = append(out, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("segstore: iterate segment rows: %w", err)
	}
	return out, nil
}

// LastSequenceNumber returns the highest persisted sequence number for
// variant, and false if none is on record (a cold start). Safe to call on
// a nil Store.
func (s *Store) LastSequenceNumber(variant string) (uint32, bool, error) {
	if s == nil {
		return 0, false, nil
	}
	var seq sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MAX(sequence_number) FROM segments WHERE variant = ?`,
		variant,
	).Scan(&seq)
	if err != nil {
		return 0, false, fmt.Errorf("segstore: last sequence number: %w", err)
	}
	if !seq.Valid {
		return 0, false, nil
	}
	return uint32(seq.Int64), true, nil
}
