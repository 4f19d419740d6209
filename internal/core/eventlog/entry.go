package eventlog

import (
	"encoding/json"
	"time"
)

// EventType is one of the fixed lifecycle events recorded per test.
type EventType string

const (
	EventCreated          EventType = "created"
	EventRequestSent      EventType = "request-sent"
	EventResponseReceived EventType = "response-received"
	EventCallbackReceived EventType = "callback-received"
	EventCompleted        EventType = "completed"
	EventTimedOut         EventType = "timed-out"
	EventErrored          EventType = "errored"
)

// EventTypes lists every known event type in lifecycle order.
var EventTypes = []EventType{
	EventCreated,
	EventRequestSent,
	EventResponseReceived,
	EventCallbackReceived,
	EventCompleted,
	EventTimedOut,
	EventErrored,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Level is the severity of an entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// Entry is a single append-only log record tied to a test.
type Entry struct {
	ID        int64           `json:"id"`
	TestID    string          `json:"testId"`
	EventType EventType       `json:"eventType"`
	Level     Level           `json:"level"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Filter narrows List and Count. Zero fields match everything.
type Filter struct {
	TestID    string
	EventType EventType
	Level     Level
	From      time.Time
	To        time.Time
}

// Page is one slice of a newest-first listing.
type Page struct {
	Entries []*Entry `json:"data"`
	Total   int64    `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
	HasMore bool     `json:"hasMore"`
}
