package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sadopc/hookwait/internal/config"
	"github.com/sadopc/hookwait/internal/core/eventlog"
	"github.com/sadopc/hookwait/internal/core/lifecycle"
	"github.com/sadopc/hookwait/internal/metrics"
)

const (
	maxCallbackBody = 10 << 20
	defaultPageSize = 50
	maxPageSize     = 100
	healthWindow    = 1000

	// RemoteFailureReason is stored when a /fail callback carries no reason.
	RemoteFailureReason = "Remote reported failure"
)

const errUnknownTest = "Test ID not found or already completed"

// Handler serves the callback and query routes.
type Handler struct {
	cfg     config.Config
	store   *lifecycle.Store
	events  *eventlog.Correlator
	hub     *Hub
	metrics *metrics.Metrics
	log     *zap.Logger
}

type pagination struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"hasMore"`
}

func (h *Handler) apiError(c *gin.Context, code int, what string, err error) {
	if code >= 500 {
		h.log.Error("Error "+what, zap.Error(err))
	}
	_ = c.Error(err)
	c.PureJSON(code, gin.H{"success": false, "error": err.Error()})
}

// Health reports liveness with counts over the most recent tests.
func (h *Handler) Health(c *gin.Context) {
	page, err := h.store.ListTests(c.Request.Context(), lifecycle.Filter{}, healthWindow, 0)
	if err != nil {
		h.log.Error("Error loading tests for health", zap.Error(err))
		c.PureJSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": err.Error()})
		return
	}
	pending := 0
	for _, t := range page.Tests {
		if t.Status == lifecycle.StatusPending {
			pending++
		}
	}
	c.PureJSON(http.StatusOK, gin.H{
		"status":          "ok",
		"pendingWebhooks": pending,
		"testResults":     len(page.Tests),
	})
}

// WebhookURL returns the callback URL for a test id.
func (h *Handler) WebhookURL(c *gin.Context) {
	id := c.Param("testId")
	c.PureJSON(http.StatusOK, gin.H{
		"testId":     id,
		"webhookUrl": h.cfg.WebhookURL(id),
	})
}

// Callback completes the pending test named in the path. The body is kept
// as JSON when it parses and as a string otherwise.
func (h *Handler) Callback(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("testId")

	raw, err := readBody(c)
	if err != nil {
		c.PureJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload := decodePayload(raw)

	ok, err := h.store.CompleteTest(ctx, id, payload)
	if err != nil {
		h.log.Error("Failed to complete test", zap.String("test_id", id), zap.Error(err))
		c.PureJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		h.unmatched(c, id, payload)
		return
	}

	h.metrics.ObserveCallback(metrics.CallbackCompleted)
	h.events.CallbackReceived(ctx, id, payload)
	if t, err := h.store.GetTest(ctx, id); err == nil && t.Duration != nil {
		h.events.TestCompleted(ctx, id, *t.Duration)
	}
	h.log.Info("Received webhook", zap.String("test_id", id))
	c.PureJSON(http.StatusOK, gin.H{"status": "received", "testId": id})
}

// Fail ends the pending test as timed out with the reason the remote sent,
// either the "error" field of a JSON object or the raw body.
func (h *Handler) Fail(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("testId")

	raw, err := readBody(c)
	if err != nil {
		c.PureJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reason := failureReason(raw)

	ok, err := h.store.TimeoutTest(ctx, id, reason)
	if err != nil {
		h.log.Error("Failed to fail test", zap.String("test_id", id), zap.Error(err))
		c.PureJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		h.unmatched(c, id, decodePayload(raw))
		return
	}

	h.metrics.ObserveCallback(metrics.CallbackFailed)
	h.events.TestTimedOut(ctx, id, reason)
	h.log.Info("Remote reported failure", zap.String("test_id", id), zap.String("reason", reason))
	c.PureJSON(http.StatusOK, gin.H{"status": "received", "testId": id})
}

// unmatched answers a callback for a missing or terminal test. A late
// callback for a known test is still written to its log.
func (h *Handler) unmatched(c *gin.Context, id string, payload any) {
	ctx := c.Request.Context()
	h.metrics.ObserveCallback(metrics.CallbackUnmatched)
	h.log.Warn(errUnknownTest, zap.String("test_id", id))
	if _, err := h.store.GetTest(ctx, id); err == nil {
		h.events.Log(ctx, id, eventlog.EventCallbackReceived, eventlog.LevelWarn,
			"Webhook received after test finished", map[string]any{"payload": payload})
	}
	c.PureJSON(http.StatusNotFound, gin.H{"error": errUnknownTest})
}

// Stats returns aggregate counters.
func (h *Handler) Stats(c *gin.Context) {
	st, err := h.store.GetStats(c.Request.Context())
	if err != nil {
		h.apiError(c, http.StatusInternalServerError, "getting stats", err)
		return
	}
	c.PureJSON(http.StatusOK, gin.H{"success": true, "data": st})
}

// ListTests returns a newest-first page of tests.
func (h *Handler) ListTests(c *gin.Context) {
	var f lifecycle.Filter
	if s := c.Query("status"); s != "" {
		f.Status = lifecycle.Status(s)
		if !f.Status.Valid() {
			h.apiError(c, http.StatusBadRequest, "listing tests", fmt.Errorf("invalid status %q", s))
			return
		}
	}
	var err error
	if f.From, f.To, err = dateRange(c); err != nil {
		h.apiError(c, http.StatusBadRequest, "listing tests", err)
		return
	}
	limit, offset, err := pageParams(c)
	if err != nil {
		h.apiError(c, http.StatusBadRequest, "listing tests", err)
		return
	}

	page, err := h.store.ListTests(c.Request.Context(), f, limit, offset)
	if err != nil {
		h.apiError(c, http.StatusInternalServerError, "getting tests", err)
		return
	}
	c.PureJSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       nonNil(page.Tests),
		"pagination": pagination{Total: page.Total, Limit: page.Limit, Offset: page.Offset, HasMore: page.HasMore},
	})
}

// GetTest returns one test.
func (h *Handler) GetTest(c *gin.Context) {
	t, err := h.store.GetTest(c.Request.Context(), c.Param("testId"))
	var nf *lifecycle.NotFoundError
	switch {
	case errors.As(err, &nf):
		c.PureJSON(http.StatusNotFound, gin.H{"success": false, "error": "Test not found"})
		return
	case err != nil:
		h.apiError(c, http.StatusInternalServerError, "getting test", err)
		return
	}
	c.PureJSON(http.StatusOK, gin.H{"success": true, "data": t})
}

// TestLogs returns every log entry of one test in order.
func (h *Handler) TestLogs(c *gin.Context) {
	entries, err := h.events.Store().ByTest(c.Request.Context(), c.Param("testId"))
	if err != nil {
		h.apiError(c, http.StatusInternalServerError, "getting test logs", err)
		return
	}
	c.PureJSON(http.StatusOK, gin.H{"success": true, "data": nonNil(entries)})
}

// ListLogs returns a newest-first page of log entries.
func (h *Handler) ListLogs(c *gin.Context) {
	f := eventlog.Filter{TestID: c.Query("testId")}
	if s := c.Query("eventType"); s != "" {
		f.EventType = eventlog.EventType(s)
		if !f.EventType.Valid() {
			h.apiError(c, http.StatusBadRequest, "listing logs", fmt.Errorf("invalid eventType %q", s))
			return
		}
	}
	if s := c.Query("level"); s != "" {
		f.Level = eventlog.Level(s)
		if !f.Level.Valid() {
			h.apiError(c, http.StatusBadRequest, "listing logs", fmt.Errorf("invalid level %q", s))
			return
		}
	}
	var err error
	if f.From, f.To, err = dateRange(c); err != nil {
		h.apiError(c, http.StatusBadRequest, "listing logs", err)
		return
	}
	limit, offset, err := pageParams(c)
	if err != nil {
		h.apiError(c, http.StatusBadRequest, "listing logs", err)
		return
	}

	page, err := h.events.Store().List(c.Request.Context(), f, limit, offset)
	if err != nil {
		h.apiError(c, http.StatusInternalServerError, "getting logs", err)
		return
	}
	c.PureJSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       nonNil(page.Entries),
		"pagination": pagination{Total: page.Total, Limit: page.Limit, Offset: page.Offset, HasMore: page.HasMore},
	})
}

func readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if len(raw) > maxCallbackBody {
		return nil, fmt.Errorf("body exceeds %d bytes", maxCallbackBody)
	}
	return raw, nil
}

// decodePayload keeps valid JSON verbatim, wraps anything else as a string
// and maps an empty body to nil.
func decodePayload(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	return string(raw)
}

func failureReason(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	var text string
	if json.Unmarshal(trimmed, &text) == nil && text != "" {
		return text
	}
	var body struct {
		Error any `json:"error"`
	}
	if json.Unmarshal(trimmed, &body) == nil {
		switch v := body.Error.(type) {
		case string:
			if v != "" {
				return v
			}
		case nil:
		default:
			if data, err := json.Marshal(v); err == nil {
				return string(data)
			}
		}
	}
	if len(trimmed) > 0 && trimmed[0] != '{' {
		return string(trimmed)
	}
	return RemoteFailureReason
}

func pageParams(c *gin.Context) (limit, offset int, err error) {
	limit = defaultPageSize
	if s := c.Query("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 1 {
			return 0, 0, fmt.Errorf("invalid limit %q", s)
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if s := c.Query("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", s)
		}
	}
	return limit, offset, nil
}

func dateRange(c *gin.Context) (from, to time.Time, err error) {
	if from, err = parseDate(c.Query("fromDate")); err != nil {
		return
	}
	to, err = parseDate(c.Query("toDate"))
	return
}

// parseDate accepts RFC 3339 timestamps, plain dates and unix milliseconds.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
