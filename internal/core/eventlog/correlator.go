package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sadopc/hookwait/internal/protocol"
)

// Publisher receives every entry after it has been stored.
type Publisher interface {
	Publish(e *Entry)
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithPublisher forwards stored entries to p.
func WithPublisher(p Publisher) Option {
	return func(c *Correlator) { c.pub = p }
}

// WithLogger sets the logger that receives write failures.
func WithLogger(log *zap.Logger) Option {
	return func(c *Correlator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock overrides the time source for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) {
		if now != nil {
			c.now = now
		}
	}
}

// Correlator writes log entries keyed by test id. Writes never fail from the
// caller's point of view: errors are reported to the zap logger and dropped.
type Correlator struct {
	store *Store
	pub   Publisher
	log   *zap.Logger
	now   func() time.Time
}

// NewCorrelator creates a correlator over store.
func NewCorrelator(store *Store, opts ...Option) *Correlator {
	c := &Correlator{
		store: store,
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("component", "eventlog"))
	return c
}

// Store returns the underlying store for reads.
func (c *Correlator) Store() *Store {
	return c.store
}

// Log appends one entry. metadata is JSON-encoded and may be nil.
func (c *Correlator) Log(ctx context.Context, testID string, event EventType, level Level, message string, metadata any) {
	e := &Entry{
		TestID:    testID,
		EventType: event,
		Level:     level,
		Message:   message,
		Timestamp: c.now(),
	}
	if metadata != nil {
		data, err := encodeMetadata(metadata)
		if err != nil {
			c.log.Warn("dropping log metadata", zap.String("test_id", testID), zap.Error(err))
		} else {
			e.Metadata = data
		}
	}

	if err := c.store.Append(ctx, e); err != nil {
		c.log.Warn("failed to write test log",
			zap.String("test_id", testID),
			zap.String("event", string(event)),
			zap.Error(err))
		return
	}
	if c.pub != nil {
		c.pub.Publish(e)
	}
}

// TestCreated records a new pending test.
func (c *Correlator) TestCreated(ctx context.Context, testID, requestType string) {
	c.Log(ctx, testID, EventCreated, LevelInfo, "Test created: "+requestType,
		map[string]any{"requestType": requestType})
}

// RequestSent records the outbound request.
func (c *Correlator) RequestSent(ctx context.Context, testID string, req *protocol.Request) {
	c.Log(ctx, testID, EventRequestSent, LevelInfo,
		fmt.Sprintf("HTTP request sent: %s %s", req.Method, req.URL),
		map[string]any{"request": req})
}

// ResponseReceived records the outbound response. Statuses of 400 and above
// are logged at warn level.
func (c *Correlator) ResponseReceived(ctx context.Context, testID string, resp *protocol.Response) {
	level := LevelInfo
	if resp.StatusCode >= 400 {
		level = LevelWarn
	}
	c.Log(ctx, testID, EventResponseReceived, level,
		fmt.Sprintf("HTTP response received: %d %s", resp.StatusCode, resp.Status),
		map[string]any{"response": resp, "durationMs": resp.Duration.Milliseconds()})
}

// CallbackReceived records an inbound callback.
func (c *Correlator) CallbackReceived(ctx context.Context, testID string, payload any) {
	c.Log(ctx, testID, EventCallbackReceived, LevelInfo, "Webhook received",
		map[string]any{"payload": payload})
}

// TestCompleted records a completion.
func (c *Correlator) TestCompleted(ctx context.Context, testID string, d time.Duration) {
	c.Log(ctx, testID, EventCompleted, LevelInfo,
		fmt.Sprintf("Test completed in %dms", d.Milliseconds()),
		map[string]any{"duration": d.Milliseconds()})
}

// TestTimedOut records a timeout with its reason.
func (c *Correlator) TestTimedOut(ctx context.Context, testID, reason string) {
	c.Log(ctx, testID, EventTimedOut, LevelWarn, "Test timed out: "+reason,
		map[string]any{"error": reason})
}

// TestErrored records a failure that ended the test early.
func (c *Correlator) TestErrored(ctx context.Context, testID, reason string) {
	c.Log(ctx, testID, EventErrored, LevelError, "Test error: "+reason,
		map[string]any{"error": reason})
}

func encodeMetadata(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return protocol.Marshal(v)
}
