// Package eventlog records the diagnostic trail of each test: what was sent,
// what came back and how the test ended.
package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const entryColumns = `id, test_id, event_type, level, message, metadata, timestamp`

// Store manages log entry persistence. It shares the database opened by the
// lifecycle store.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database that already carries the schema.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts e and fills in its ID.
func (s *Store) Append(ctx context.Context, e *Entry) error {
	if e.TestID == "" {
		return errors.New("appending log: empty test id")
	}
	if !e.EventType.Valid() {
		return fmt.Errorf("appending log: unknown event type %q", e.EventType)
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
	if !e.Level.Valid() {
		return fmt.Errorf("appending log: unknown level %q", e.Level)
	}

	var metadata sql.NullString
	if len(e.Metadata) > 0 {
		metadata = sql.NullString{String: string(e.Metadata), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO test_logs (test_id, event_type, level, message, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.TestID, string(e.EventType), string(e.Level), e.Message, metadata, e.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("inserting log: %w", err)
	}
	e.ID = id
	return nil
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, f Filter, limit, offset int) (Page, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	total, err := s.Count(ctx, f)
	if err != nil {
		return Page{}, err
	}

	where, args := f.where()
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM test_logs`+where+`
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return Page{}, fmt.Errorf("listing logs: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Entries: entries,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+len(entries)) < total,
	}, nil
}

// Count returns the number of entries matching f.
func (s *Store) Count(ctx context.Context, f Filter) (int64, error) {
	where, args := f.where()
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM test_logs`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting logs: %w", err)
	}
	return n, nil
}

// ByTest returns every entry of a test in the order it was written.
func (s *Store) ByTest(ctx context.Context, testID string) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM test_logs
		WHERE test_id = ?
		ORDER BY id ASC`, testID)
	if err != nil {
		return nil, fmt.Errorf("listing logs for %s: %w", testID, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (f Filter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.TestID != "" {
		conds = append(conds, "test_id = ?")
		args = append(args, f.TestID)
	}
	if f.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, string(f.EventType))
	}
	if f.Level != "" {
		conds = append(conds, "level = ?")
		args = append(args, string(f.Level))
	}
	if !f.From.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.From.UnixMilli())
	}
	if !f.To.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, f.To.UnixMilli())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var (
			e         Entry
			eventType string
			level     string
			metadata  sql.NullString
			ts        int64
		)
		if err := rows.Scan(&e.ID, &e.TestID, &eventType, &level, &e.Message, &metadata, &ts); err != nil {
			return nil, fmt.Errorf("scanning log row: %w", err)
		}
		e.EventType = EventType(eventType)
		e.Level = Level(level)
		if metadata.Valid && metadata.String != "" {
			e.Metadata = []byte(metadata.String)
		}
		e.Timestamp = time.UnixMilli(ts)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
