package lifecycle

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a test.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusTimeout
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// Test is one correlation record: an outbound request waiting for its callback.
type Test struct {
	ID          string
	Status      Status
	RequestType string
	CreatedAt   time.Time
	TimeoutAt   time.Time
	CompletedAt *time.Time
	Duration    *time.Duration
	Request     json.RawMessage
	Response    json.RawMessage
	Payload     json.RawMessage
	Error       string
}

type testJSON struct {
	ID          string          `json:"testId"`
	Status      Status          `json:"status"`
	RequestType string          `json:"requestType"`
	CreatedAt   time.Time       `json:"createdAt"`
	TimeoutAt   time.Time       `json:"timeoutAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	DurationMS  *int64          `json:"duration,omitempty"`
	Request     json.RawMessage `json:"request,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// MarshalJSON renders the duration in milliseconds.
func (t Test) MarshalJSON() ([]byte, error) {
	out := testJSON{
		ID:          t.ID,
		Status:      t.Status,
		RequestType: t.RequestType,
		CreatedAt:   t.CreatedAt,
		TimeoutAt:   t.TimeoutAt,
		CompletedAt: t.CompletedAt,
		Request:     t.Request,
		Response:    t.Response,
		Payload:     t.Payload,
		Error:       t.Error,
	}
	if t.Duration != nil {
		ms := t.Duration.Milliseconds()
		out.DurationMS = &ms
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (t *Test) UnmarshalJSON(data []byte) error {
	var in testJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*t = Test{
		ID:          in.ID,
		Status:      in.Status,
		RequestType: in.RequestType,
		CreatedAt:   in.CreatedAt,
		TimeoutAt:   in.TimeoutAt,
		CompletedAt: in.CompletedAt,
		Request:     in.Request,
		Response:    in.Response,
		Payload:     in.Payload,
		Error:       in.Error,
	}
	if in.DurationMS != nil {
		d := time.Duration(*in.DurationMS) * time.Millisecond
		t.Duration = &d
	}
	return nil
}

// Stats aggregates the store for reporting.
type Stats struct {
	Total       int64 `json:"totalTests"`
	Completed   int64 `json:"completedTests"`
	Pending     int64 `json:"pendingTests"`
	TimedOut    int64 `json:"timedOutTests"`
	SuccessRate int64 `json:"successRate"`
	AvgDuration int64 `json:"avgDuration"` // milliseconds, completed tests only
	Recent      int64 `json:"recentTests"` // created in the trailing 24h
}

// Filter narrows ListTests and Count. Zero fields match everything.
type Filter struct {
	Status Status
	From   time.Time
	To     time.Time
}

// Page is one slice of a newest-first listing.
type Page struct {
	Tests   []*Test `json:"data"`
	Total   int64   `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
	HasMore bool    `json:"hasMore"`
}
