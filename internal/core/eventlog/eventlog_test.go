package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sadopc/hookwait/internal/protocol"
	"github.com/sadopc/hookwait/internal/storage"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type capture struct {
	mu      sync.Mutex
	entries []*Entry
}

func (c *capture) Publish(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func openDB(t *testing.T, ids ...string) *sql.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	for _, id := range ids {
		_, err := db.Exec(`INSERT INTO tests (test_id, status, created_at, timeout_at) VALUES (?, 'pending', 0, 0)`, id)
		require.NoError(t, err)
	}
	return db
}

func TestStore_AppendAndByTest(t *testing.T) {
	db := openDB(t, "t1", "t2")
	s := NewStore(db)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)
	for i, ev := range []EventType{EventCreated, EventRequestSent, EventCompleted} {
		e := &Entry{TestID: "t1", EventType: ev, Message: string(ev), Timestamp: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, s.Append(ctx, e))
		assert.NotZero(t, e.ID)
		assert.Equal(t, LevelInfo, e.Level)
	}
	require.NoError(t, s.Append(ctx, &Entry{TestID: "t2", EventType: EventCreated, Timestamp: base}))

	entries, err := s.ByTest(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, EventCreated, entries[0].EventType)
	assert.Equal(t, EventCompleted, entries[2].EventType)
	assert.True(t, entries[1].Timestamp.Equal(base.Add(time.Second)))
}

func TestStore_AppendRejectsInvalid(t *testing.T) {
	s := NewStore(openDB(t, "t1"))
	ctx := context.Background()

	assert.Error(t, s.Append(ctx, &Entry{TestID: "", EventType: EventCreated}))
	assert.Error(t, s.Append(ctx, &Entry{TestID: "t1", EventType: "bogus"}))
	assert.Error(t, s.Append(ctx, &Entry{TestID: "t1", EventType: EventCreated, Level: "loud"}))
	// Unknown test ids violate the foreign key.
	assert.Error(t, s.Append(ctx, &Entry{TestID: "missing", EventType: EventCreated}))
}

func TestStore_ListFiltersAndPaginates(t *testing.T) {
	s := NewStore(openDB(t, "a", "b"))
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	write := func(id string, ev EventType, level Level, offset time.Duration) {
		require.NoError(t, s.Append(ctx, &Entry{TestID: id, EventType: ev, Level: level, Message: "m", Timestamp: base.Add(offset)}))
	}
	write("a", EventCreated, LevelInfo, 0)
	write("a", EventResponseReceived, LevelWarn, time.Second)
	write("b", EventCreated, LevelInfo, 2*time.Second)
	write("b", EventErrored, LevelError, 3*time.Second)
	write("a", EventTimedOut, LevelWarn, 4*time.Second)

	page, err := s.List(ctx, Filter{}, 2, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, page.Total)
	assert.True(t, page.HasMore)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, EventTimedOut, page.Entries[0].EventType)
	assert.Equal(t, EventErrored, page.Entries[1].EventType)

	page, err = s.List(ctx, Filter{}, 2, 4)
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	require.Len(t, page.Entries, 1)

	page, err = s.List(ctx, Filter{TestID: "a"}, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)

	page, err = s.List(ctx, Filter{Level: LevelWarn}, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)

	page, err = s.List(ctx, Filter{EventType: EventCreated}, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)

	page, err = s.List(ctx, Filter{From: base.Add(time.Second), To: base.Add(3 * time.Second)}, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
}

func TestCorrelator_WritesAndPublishes(t *testing.T) {
	s := NewStore(openDB(t, "t1"))
	pub := &capture{}
	clock := &stepClock{now: time.UnixMilli(1_700_000_000_000)}
	c := NewCorrelator(s, WithPublisher(pub), WithClock(clock.Now))
	ctx := context.Background()

	req := protocol.NewRequest("https://api.example.com/jobs", "POST", nil, protocol.ParseBody(`{"cb":"https://x/webhook/t1"}`))
	c.TestCreated(ctx, "t1", "curl")
	c.RequestSent(ctx, "t1", req)
	c.ResponseReceived(ctx, "t1", &protocol.Response{StatusCode: 500, Status: "Internal Server Error"})
	c.CallbackReceived(ctx, "t1", json.RawMessage(`{"ok":true}`))
	c.TestCompleted(ctx, "t1", 1234*time.Millisecond)

	entries, err := s.ByTest(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, entries, 5)

	assert.Equal(t, "Test created: curl", entries[0].Message)
	assert.Equal(t, "HTTP request sent: POST https://api.example.com/jobs", entries[1].Message)
	assert.Equal(t, LevelWarn, entries[2].Level)
	assert.Equal(t, "HTTP response received: 500 Internal Server Error", entries[2].Message)
	assert.JSONEq(t, `{"payload":{"ok":true}}`, string(entries[3].Metadata))
	assert.Equal(t, "Test completed in 1234ms", entries[4].Message)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(entries[1].Metadata, &meta))
	body := meta["request"].(map[string]any)["body"].(map[string]any)
	assert.Equal(t, "https://x/webhook/t1", body["cb"])

	require.Len(t, pub.entries, 5)
	assert.Equal(t, entries[4].ID, pub.entries[4].ID)
}

func TestCorrelator_FailuresAreLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := NewStore(openDB(t))
	pub := &capture{}
	c := NewCorrelator(s, WithPublisher(pub), WithLogger(zap.New(core)))

	// The test row does not exist, so the insert fails on the foreign key.
	c.TestTimedOut(context.Background(), "ghost", "Cleanup: exceeded timeout")
	c.TestErrored(context.Background(), "ghost", "dial tcp: refused")

	assert.Empty(t, pub.entries)
	failures := logs.FilterMessage("failed to write test log").All()
	require.Len(t, failures, 2)
	assert.Equal(t, "ghost", failures[0].ContextMap()["test_id"])
	assert.Equal(t, "eventlog", failures[0].ContextMap()["component"])
}
