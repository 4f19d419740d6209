// Package lifecycle persists correlation records and moves them through the
// pending -> completed | timeout state machine.
//
// Every transition is a single UPDATE guarded by status = 'pending', so the
// callback listener, an expiring wait and the sweeper can race on the same
// row and exactly one of them wins.
package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sadopc/hookwait/internal/protocol"
	"github.com/sadopc/hookwait/internal/storage"
)

const (
	// DefaultPollInterval is used by WaitForCompletion when none is given.
	DefaultPollInterval = 200 * time.Millisecond

	// SweepReason is stored on tests expired by the sweeper.
	SweepReason = "Cleanup: exceeded timeout"
)

const testColumns = `test_id, status, request_type, request, response, payload, error,
	created_at, timeout_at, completed_at, duration_ms`

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// Store manages test persistence.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	log    *zap.Logger
	notify *notifier
}

// Open opens the database at path (":memory:" for a private in-memory store)
// and applies migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := storage.Open(ctx, path)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:     db,
		now:    time.Now,
		log:    zap.NewNop(),
		notify: newNotifier(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("component", "lifecycle"))
	return s, nil
}

// DB exposes the underlying handle so other stores can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateTest inserts a new pending test. A terminal test with the same id is
// replaced together with its logs; a pending one yields a ConflictError.
// request and response are stored as JSON snapshots and may be nil.
func (s *Store) CreateTest(ctx context.Context, id, requestType string, timeout time.Duration, request, response any) (*Test, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("creating test: empty test id")
	}
	reqJSON, err := encodeSnapshot(request)
	if err != nil {
		return nil, fmt.Errorf("encoding request snapshot: %w", err)
	}
	respJSON, err := encodeSnapshot(response)
	if err != nil {
		return nil, fmt.Errorf("encoding response snapshot: %w", err)
	}

	created := s.nowMillis()
	deadline := created + timeout.Milliseconds()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("creating test: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM tests WHERE test_id = ? AND status != 'pending'`, id)
	if err != nil {
		return nil, fmt.Errorf("replacing test: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Debug("replaced terminal test", zap.String("test_id", id))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tests (test_id, status, request_type, request, response, created_at, timeout_at)
		VALUES (?, 'pending', ?, ?, ?, ?, ?)`,
		id, requestType, reqJSON, respJSON, created, deadline)
	if err != nil {
		if storage.IsConstraint(err) {
			return nil, &ConflictError{TestID: id}
		}
		return nil, fmt.Errorf("inserting test: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("creating test: %w", err)
	}

	return &Test{
		ID:          id,
		Status:      StatusPending,
		RequestType: requestType,
		CreatedAt:   time.UnixMilli(created),
		TimeoutAt:   time.UnixMilli(deadline),
		Request:     rawOrNil(reqJSON),
		Response:    rawOrNil(respJSON),
	}, nil
}

// CompleteTest moves a pending test to completed and stores the callback
// payload. It reports false when the test is missing or already terminal.
func (s *Store) CompleteTest(ctx context.Context, id string, payload any) (bool, error) {
	data, err := encodeSnapshot(payload)
	if err != nil {
		return false, fmt.Errorf("encoding payload: %w", err)
	}
	now := s.nowMillis()
	return s.transition(ctx, id, `
		UPDATE tests
		SET status = 'completed', payload = ?, completed_at = ?, duration_ms = MAX(? - created_at, 0)
		WHERE test_id = ? AND status = 'pending'`,
		data, now, now, id)
}

// TimeoutTest moves a pending test to timeout and stores reason. It reports
// false when the test is missing or already terminal.
func (s *Store) TimeoutTest(ctx context.Context, id, reason string) (bool, error) {
	now := s.nowMillis()
	return s.transition(ctx, id, `
		UPDATE tests
		SET status = 'timeout', error = ?, completed_at = ?, duration_ms = MAX(? - created_at, 0)
		WHERE test_id = ? AND status = 'pending'`,
		reason, now, now, id)
}

func (s *Store) transition(ctx context.Context, id, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("updating test %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating test %s: %w", id, err)
	}
	if n == 0 {
		return false, nil
	}
	s.notify.broadcast(id)
	return true, nil
}

// AttachResponse records the outbound response snapshot on an existing test.
// It does not change the test's status.
func (s *Store) AttachResponse(ctx context.Context, id string, response any) error {
	data, err := encodeSnapshot(response)
	if err != nil {
		return fmt.Errorf("encoding response snapshot: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tests SET response = ? WHERE test_id = ?`, data, id)
	if err != nil {
		return fmt.Errorf("attaching response to %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{TestID: id}
	}
	return nil
}

// GetTest returns the test with the given id or a NotFoundError.
func (s *Store) GetTest(ctx context.Context, id string) (*Test, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+testColumns+` FROM tests WHERE test_id = ?`, id)
	t, err := scanTest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{TestID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("loading test %s: %w", id, err)
	}
	return t, nil
}

// WaitForCompletion polls the test until it is terminal or timeout elapses.
// A completed test is returned as-is; a timed-out one yields a TimeoutError
// carrying the stored reason. When the wait's own deadline passes first the
// test is forced to timeout, unless a completion wins that race.
func (s *Store) WaitForCompletion(ctx context.Context, id string, timeout, pollInterval time.Duration) (*Test, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	wake, unsubscribe := s.notify.subscribe(id)
	defer unsubscribe()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		t, err := s.GetTest(ctx, id)
		if err != nil {
			return nil, err
		}
		switch t.Status {
		case StatusCompleted:
			return t, nil
		case StatusTimeout:
			return nil, &TimeoutError{TestID: id, Reason: t.Error}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return s.expireWait(ctx, id, timeout)
		case <-ticker.C:
		case <-wake:
		}
	}
}

func (s *Store) expireWait(ctx context.Context, id string, timeout time.Duration) (*Test, error) {
	reason := "Timeout after " + strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64) + " seconds"
	won, err := s.TimeoutTest(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	t, err := s.GetTest(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusCompleted {
		return t, nil
	}
	return nil, &TimeoutError{TestID: id, Reason: t.Error, Expired: won}
}

// GetStats aggregates counts and the average completed duration.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	since := s.now().Add(-24 * time.Hour).UnixMilli()
	var (
		st  Stats
		avg sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'timeout' THEN 1 ELSE 0 END), 0),
			AVG(CASE WHEN status = 'completed' THEN duration_ms END),
			COALESCE(SUM(CASE WHEN created_at > ? THEN 1 ELSE 0 END), 0)
		FROM tests`, since).
		Scan(&st.Total, &st.Completed, &st.Pending, &st.TimedOut, &avg, &st.Recent)
	if err != nil {
		return Stats{}, fmt.Errorf("computing stats: %w", err)
	}
	if avg.Valid {
		st.AvgDuration = int64(math.Round(avg.Float64))
	}
	if st.Total > 0 {
		st.SuccessRate = int64(math.Round(float64(st.Completed) / float64(st.Total) * 100))
	}
	return st, nil
}

// ListTests returns tests newest first.
func (s *Store) ListTests(ctx context.Context, f Filter, limit, offset int) (Page, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	where, args := f.where()

	total, err := s.Count(ctx, f)
	if err != nil {
		return Page{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+testColumns+`
		FROM tests`+where+`
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return Page{}, fmt.Errorf("listing tests: %w", err)
	}
	defer rows.Close()

	tests, err := scanTests(rows)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Tests:   tests,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+len(tests)) < total,
	}, nil
}

// Count returns the number of tests matching f.
func (s *Store) Count(ctx context.Context, f Filter) (int64, error) {
	where, args := f.where()
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tests`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting tests: %w", err)
	}
	return n, nil
}

// ClearTests removes every test and, by cascade, every log entry.
func (s *Store) ClearTests(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tests`)
	if err != nil {
		return 0, fmt.Errorf("clearing tests: %w", err)
	}
	return res.RowsAffected()
}

// ExpireOverdue moves every pending test whose deadline is before now to
// timeout and returns their ids.
func (s *Store) ExpireOverdue(ctx context.Context, now time.Time) ([]string, error) {
	ts := now.UnixMilli()
	rows, err := s.db.QueryContext(ctx, `
		UPDATE tests
		SET status = 'timeout', error = ?, completed_at = ?, duration_ms = MAX(? - created_at, 0)
		WHERE status = 'pending' AND timeout_at < ?
		RETURNING test_id`,
		SweepReason, ts, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("expiring tests: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning expired test: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("expiring tests: %w", err)
	}
	for _, id := range ids {
		s.notify.broadcast(id)
	}
	return ids, nil
}

// PurgeOlderThan deletes tests created before cutoff regardless of status.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tests WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purging tests: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purging tests: %w", err)
	}
	return n, nil
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (f Filter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.From.UnixMilli())
	}
	if !f.To.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.To.UnixMilli())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTest(row rowScanner) (*Test, error) {
	var (
		t                           Test
		status                      string
		request, response, payload  sql.NullString
		errMsg                      sql.NullString
		created, deadline           int64
		completedAt, durationMillis sql.NullInt64
	)
	err := row.Scan(&t.ID, &status, &t.RequestType, &request, &response, &payload, &errMsg,
		&created, &deadline, &completedAt, &durationMillis)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.Request = rawOrNil(request)
	t.Response = rawOrNil(response)
	t.Payload = rawOrNil(payload)
	t.Error = errMsg.String
	t.CreatedAt = time.UnixMilli(created)
	t.TimeoutAt = time.UnixMilli(deadline)
	if completedAt.Valid {
		ts := time.UnixMilli(completedAt.Int64)
		t.CompletedAt = &ts
	}
	if durationMillis.Valid {
		d := time.Duration(durationMillis.Int64) * time.Millisecond
		t.Duration = &d
	}
	return &t, nil
}

func scanTests(rows *sql.Rows) ([]*Test, error) {
	var tests []*Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning test row: %w", err)
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// encodeSnapshot turns a snapshot value into the JSON text stored in a column.
// Raw JSON is kept verbatim; strings that are not JSON are stored as JSON strings.
func encodeSnapshot(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case json.RawMessage:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
		if !json.Valid(x) {
			return sql.NullString{}, errors.New("invalid raw JSON")
		}
		return sql.NullString{String: string(x), Valid: true}, nil
	}

	data, err := protocol.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	out := string(data)
	if out == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: out, Valid: true}, nil
}

func rawOrNil(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}
