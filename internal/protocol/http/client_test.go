package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/hookwait/internal/protocol"
)

func TestClient_GET_DecodesJSONResponse(t *testing.T) {
	headers := make(http.Header)
	headers.Set("Content-Type", "application/json; charset=utf-8")
	handler, requests := httphelpers.RecordingHandler(
		httphelpers.HandlerWithResponse(200, headers, []byte(`{"status":"ok","jobs":[1,2]}`)),
	)
	server := httptest.NewServer(handler)
	defer server.Close()

	client := New()
	resp, err := client.Execute(context.Background(),
		protocol.NewRequest(server.URL+"/test?page=1", "GET", map[string]string{"Accept": "application/json"}, protocol.Body{}))
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "OK", resp.Status)
	assert.True(t, resp.IsSuccess())
	assert.Greater(t, resp.Duration, time.Duration(0))
	require.True(t, resp.Body.IsJSON())
	body := resp.Body.Value().(map[string]any)
	assert.Equal(t, "ok", body["status"])

	info := <-requests
	assert.Equal(t, "GET", info.Request.Method)
	assert.Equal(t, "1", info.Request.URL.Query().Get("page"))
	assert.Equal(t, "application/json", info.Request.Header.Get("Accept"))
	assert.Empty(t, info.Body)
}

func TestClient_POST_StructuredBody(t *testing.T) {
	handler, requests := httphelpers.RecordingHandler(httphelpers.HandlerWithStatus(202))
	server := httptest.NewServer(handler)
	defer server.Close()

	req := protocol.NewRequest(server.URL+"/jobs", "POST", nil,
		protocol.JSONBody(map[string]any{"callback": "https://x/webhook/t1?a=1&b=2"}))
	resp, err := New().Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 202, resp.StatusCode)
	assert.Equal(t, "Accepted", resp.Status)
	assert.True(t, resp.Body.IsZero())

	info := <-requests
	assert.Equal(t, "application/json", info.Request.Header.Get("Content-Type"))
	var sent map[string]string
	require.NoError(t, json.Unmarshal(info.Body, &sent))
	assert.Equal(t, "https://x/webhook/t1?a=1&b=2", sent["callback"])
}

func TestClient_POST_RawBodyKeepsContentType(t *testing.T) {
	handler, requests := httphelpers.RecordingHandler(
		httphelpers.HandlerWithResponse(400, nil, []byte("bad input")),
	)
	server := httptest.NewServer(handler)
	defer server.Close()

	req := protocol.NewRequest(server.URL, "PUT",
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		protocol.RawBody("a=1&b=2"))
	resp, err := New().Execute(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, resp.IsSuccess())
	assert.Equal(t, "Bad Request", resp.Status)
	assert.False(t, resp.Body.IsJSON())
	assert.Equal(t, "bad input", resp.Body.String())

	info := <-requests
	assert.Equal(t, "PUT", info.Request.Method)
	assert.Equal(t, "application/x-www-form-urlencoded", info.Request.Header.Get("Content-Type"))
	assert.Equal(t, "a=1&b=2", string(info.Body))
}

func TestClient_InvalidJSONResponseFallsBackToText(t *testing.T) {
	headers := make(http.Header)
	headers.Set("Content-Type", "application/json")
	server := httptest.NewServer(httphelpers.HandlerWithResponse(200, headers, []byte("{not json")))
	defer server.Close()

	resp, err := New().Execute(context.Background(), protocol.NewRequest(server.URL, "GET", nil, protocol.Body{}))
	require.NoError(t, err)
	assert.False(t, resp.Body.IsJSON())
	assert.Equal(t, "{not json", resp.Body.String())
}

func TestClient_MultiValueHeadersAreJoined(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("X-Trace", "a")
		w.Header().Add("X-Trace", "b")
		w.WriteHeader(204)
	}))
	defer server.Close()

	resp, err := New().Execute(context.Background(), protocol.NewRequest(server.URL, "GET", nil, protocol.Body{}))
	require.NoError(t, err)
	assert.Equal(t, "a, b", resp.Headers["X-Trace"])
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	client := New()
	client.SetTimeout(50 * time.Millisecond)
	_, err := client.Execute(context.Background(), protocol.NewRequest(server.URL, "GET", nil, protocol.Body{}))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "sending request"))
}

func TestClient_Validate(t *testing.T) {
	client := New()

	assert.Error(t, client.Validate(nil))
	assert.Error(t, client.Validate(&protocol.Request{URL: "", Method: "GET"}))
	assert.Error(t, client.Validate(&protocol.Request{URL: "http://example.com", Method: ""}))
	assert.Error(t, client.Validate(&protocol.Request{URL: "ftp://example.com", Method: "GET"}))
	assert.NoError(t, client.Validate(&protocol.Request{URL: "http://example.com", Method: "GET"}))
}

func TestClient_ProxyConfig(t *testing.T) {
	client := New()
	client.SetProxy("socks5://user:pw@127.0.0.1:1080", "localhost,.internal")
	_, err := client.buildTransport()
	assert.NoError(t, err)

	client.SetProxy("gopher://proxy", "")
	_, err = client.buildTransport()
	assert.Error(t, err)

	client.SetProxy("", "")
	_, err = client.buildTransport()
	assert.NoError(t, err)
}

func TestShouldBypassProxy(t *testing.T) {
	hosts := parseNoProxy(" localhost , .internal.example.com,")
	assert.True(t, shouldBypassProxy("LOCALHOST", hosts))
	assert.True(t, shouldBypassProxy("api.internal.example.com", hosts))
	assert.False(t, shouldBypassProxy("example.com", hosts))
}
