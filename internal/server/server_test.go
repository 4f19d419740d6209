package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/hookwait/internal/config"
	"github.com/sadopc/hookwait/internal/core/eventlog"
	"github.com/sadopc/hookwait/internal/core/lifecycle"
)

func newTestServer(t *testing.T) (*Server, *lifecycle.Store) {
	t.Helper()
	store, err := lifecycle.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.DefaultConfig()
	cfg.BaseURL = "https://hooks.example.com/"
	srv := New(cfg, store)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv, store
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func createTest(t *testing.T, store *lifecycle.Store, id string) {
	t.Helper()
	_, err := store.CreateTest(context.Background(), id, "POST https://api.example.com/jobs", time.Minute, nil, nil)
	require.NoError(t, err)
}

func eventTypes(entries []*eventlog.Entry) []eventlog.EventType {
	out := make([]eventlog.EventType, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.EventType)
	}
	return out
}

func TestCallback_CompletesPendingTest(t *testing.T) {
	srv, store := newTestServer(t)
	createTest(t, store, "t1")

	rec := do(t, srv.Handler(), http.MethodPost, "/webhook/t1", `{"status":"done","url":"https://x/?a=1&b=2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"received","testId":"t1"}`, rec.Body.String())

	got, err := store.GetTest(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"status":"done","url":"https://x/?a=1&b=2"}`, string(got.Payload))

	entries, err := srv.Correlator().Store().ByTest(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, []eventlog.EventType{eventlog.EventCallbackReceived, eventlog.EventCompleted}, eventTypes(entries))
}

func TestCallback_RawBodyStoredAsString(t *testing.T) {
	srv, store := newTestServer(t)
	createTest(t, store, "t1")

	rec := do(t, srv.Handler(), http.MethodPost, "/webhook/t1", "status=done")
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := store.GetTest(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, `"status=done"`, string(got.Payload))
}

func TestCallback_EmptyBody(t *testing.T) {
	srv, store := newTestServer(t)
	createTest(t, store, "t1")

	rec := do(t, srv.Handler(), http.MethodPost, "/webhook/t1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := store.GetTest(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCompleted, got.Status)
	assert.Nil(t, got.Payload)
}

func TestCallback_UnknownOrFinishedTest(t *testing.T) {
	srv, store := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodPost, "/webhook/missing", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Test ID not found or already completed"}`, rec.Body.String())

	createTest(t, store, "t1")
	require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodPost, "/webhook/t1", `{"n":1}`).Code)

	rec = do(t, srv.Handler(), http.MethodPost, "/webhook/t1", `{"n":2}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	got, err := store.GetTest(context.Background(), "t1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(got.Payload), "first callback wins")

	entries, err := srv.Correlator().Store().ByTest(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	late := entries[2]
	assert.Equal(t, eventlog.EventCallbackReceived, late.EventType)
	assert.Equal(t, eventlog.LevelWarn, late.Level)
}

func TestFail_RecordsRemoteReason(t *testing.T) {
	srv, store := newTestServer(t)
	createTest(t, store, "t1")

	rec := do(t, srv.Handler(), http.MethodPost, "/webhook/t1/fail", `{"error":"card declined"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"received","testId":"t1"}`, rec.Body.String())

	got, err := store.GetTest(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusTimeout, got.Status)
	assert.Equal(t, "card declined", got.Error)

	entries, err := srv.Correlator().Store().ByTest(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, []eventlog.EventType{eventlog.EventTimedOut}, eventTypes(entries))

	rec = do(t, srv.Handler(), http.MethodPost, "/webhook/t1", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, "a failed test cannot be completed")
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":"card declined"}`, "card declined"},
		{`{"error":{"code":42}}`, `{"code":42}`},
		{`"quota exceeded"`, "quota exceeded"},
		{"upstream exploded\n", "upstream exploded"},
		{`{"status":"failed"}`, RemoteFailureReason},
		{"", RemoteFailureReason},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			assert.Equal(t, tt.want, failureReason([]byte(tt.body)))
		})
	}
}

func TestHealth(t *testing.T) {
	srv, store := newTestServer(t)
	createTest(t, store, "a")
	createTest(t, store, "b")
	_, err := store.CompleteTest(context.Background(), "b", nil)
	require.NoError(t, err)

	rec := do(t, srv.Handler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","pendingWebhooks":1,"testResults":2}`, rec.Body.String())
}

func TestWebhookURL(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodGet, "/webhook-url/abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"testId":"abc","webhookUrl":"https://hooks.example.com/webhook/abc"}`, rec.Body.String())
}

func TestAPI_GetTest_KeepsURLsUnescaped(t *testing.T) {
	srv, store := newTestServer(t)
	createTest(t, store, "t1")
	_, err := store.CompleteTest(context.Background(), "t1", map[string]any{"next": "https://x.example/?a=1&b=<2>"})
	require.NoError(t, err)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/tests/t1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `https://x.example/?a=1&b=<2>`)
	assert.NotContains(t, rec.Body.String(), `\u0026`)
}

func TestAPI_ListTests(t *testing.T) {
	srv, store := newTestServer(t)
	for i := 0; i < 3; i++ {
		createTest(t, store, fmt.Sprintf("t%d", i))
	}
	_, err := store.CompleteTest(context.Background(), "t0", nil)
	require.NoError(t, err)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/tests?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Len(t, body["data"], 2)
	assert.Equal(t, map[string]any{"total": 3.0, "limit": 2.0, "offset": 0.0, "hasMore": true}, body["pagination"])

	rec = do(t, srv.Handler(), http.MethodGet, "/api/tests?status=completed", "")
	body = decode(t, rec)
	require.Len(t, body["data"], 1)
	assert.Equal(t, "t0", body["data"].([]any)[0].(map[string]any)["testId"])

	rec = do(t, srv.Handler(), http.MethodGet, "/api/tests?limit=500", "")
	body = decode(t, rec)
	assert.Equal(t, 100.0, body["pagination"].(map[string]any)["limit"])

	rec = do(t, srv.Handler(), http.MethodGet, "/api/tests?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])

	rec = do(t, srv.Handler(), http.MethodGet, "/api/tests?fromDate=2999-01-01", "")
	body = decode(t, rec)
	assert.Equal(t, []any{}, body["data"])
}

func TestAPI_GetTest(t *testing.T) {
	srv, store := newTestServer(t)
	createTest(t, store, "t1")

	rec := do(t, srv.Handler(), http.MethodGet, "/api/tests/t1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "t1", data["testId"])
	assert.Equal(t, "pending", data["status"])

	rec = do(t, srv.Handler(), http.MethodGet, "/api/tests/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Test not found"}`, rec.Body.String())
}

func TestAPI_Logs(t *testing.T) {
	srv, store := newTestServer(t)
	createTest(t, store, "t1")
	createTest(t, store, "t2")
	do(t, srv.Handler(), http.MethodPost, "/webhook/t1", `{}`)
	do(t, srv.Handler(), http.MethodPost, "/webhook/t2/fail", `boom`)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/tests/t1/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["data"], 2)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/logs?eventType=timed-out", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Len(t, body["data"], 1)
	entry := body["data"].([]any)[0].(map[string]any)
	assert.Equal(t, "t2", entry["testId"])
	assert.Equal(t, "warn", entry["level"])

	rec = do(t, srv.Handler(), http.MethodGet, "/api/logs?testId=t1&limit=1", "")
	body = decode(t, rec)
	assert.Len(t, body["data"], 1)
	assert.Equal(t, true, body["pagination"].(map[string]any)["hasMore"])

	rec = do(t, srv.Handler(), http.MethodGet, "/api/logs?level=loud", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Stats(t *testing.T) {
	srv, store := newTestServer(t)
	createTest(t, store, "a")
	createTest(t, store, "b")
	do(t, srv.Handler(), http.MethodPost, "/webhook/a", `{}`)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, 2.0, data["totalTests"])
	assert.Equal(t, 1.0, data["completedTests"])
	assert.Equal(t, 50.0, data["successRate"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	createTest(t, store, "t1")
	do(t, srv.Handler(), http.MethodPost, "/webhook/t1", `{}`)
	do(t, srv.Handler(), http.MethodPost, "/webhook/t1", `{}`)

	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `hookwait_callbacks_total{outcome="completed"} 1`)
	assert.Contains(t, body, `hookwait_callbacks_total{outcome="unmatched"} 1`)
	assert.Contains(t, body, `route="/webhook/:testId"`)
}

func TestEvents_StreamsEntriesForTest(t *testing.T) {
	srv, store := newTestServer(t)
	createTest(t, store, "t1")
	createTest(t, store, "t2")

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events?testId=t1"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return srv.Hub().Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(ts.URL+"/webhook/t2", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	resp, err = http.Post(ts.URL+"/webhook/t1", "application/json", strings.NewReader(`{"ok":true}`))
	require.NoError(t, err)
	resp.Body.Close()

	var got []*eventlog.Entry
	for len(got) < 2 {
		typ, data, err := conn.Read(ctx)
		require.NoError(t, err)
		require.Equal(t, websocket.MessageText, typ)
		var e eventlog.Entry
		require.NoError(t, json.Unmarshal(data, &e))
		got = append(got, &e)
	}
	assert.Equal(t, []eventlog.EventType{eventlog.EventCallbackReceived, eventlog.EventCompleted}, eventTypes(got))
	for _, e := range got {
		assert.Equal(t, "t1", e.TestID)
	}
}

func TestEvents_OriginCheck(t *testing.T) {
	store, err := lifecycle.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer store.Close()

	cfg := config.DefaultConfig()
	cfg.OriginPatterns = []string{"dashboard.example.com"}
	srv := New(cfg, store)
	defer srv.Shutdown(context.Background())

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"no origin", "", true},
		{"same origin", ts.URL, true},
		{"allowed pattern", "https://dashboard.example.com", true},
		{"foreign origin", "https://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
			if tt.ok {
				require.NoError(t, err)
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
	assert.Eventually(t, func() bool { return srv.Hub().Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStart_ServesAndShutsDown(t *testing.T) {
	store, err := lifecycle.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer store.Close()

	cfg := config.DefaultConfig()
	cfg.Port = 0
	srv := New(cfg, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	require.NotNil(t, srv.Addr())

	port := srv.Addr().(*net.TCPAddr).Port
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Error(t, srv.Start(ctx), "second start")
	require.NoError(t, srv.Shutdown(context.Background()))
}

func TestStart_AddrInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	store, err := lifecycle.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer store.Close()

	cfg := config.DefaultConfig()
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	srv := New(cfg, store)
	defer srv.Shutdown(context.Background())

	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAddrInUse), err.Error())
}
