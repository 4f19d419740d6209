package protocol

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// DefaultPlaceholder is the token replaced with the callback URL at dispatch time.
const DefaultPlaceholder = "{{WEBHOOK_URL}}"

// Executor sends a canonical request and returns the remote response.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Request is the canonical outbound request. Treat it as immutable: every
// transformation returns a new value.
type Request struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    Body              `json:"body"`
}

// NewRequest builds a request, defaulting the method to GET.
func NewRequest(url, method string, headers map[string]string, body Body) *Request {
	if method == "" {
		method = "GET"
	}
	return &Request{
		URL:     url,
		Method:  strings.ToUpper(method),
		Headers: copyHeaders(headers),
		Body:    body,
	}
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	return &Request{
		URL:     r.URL,
		Method:  r.Method,
		Headers: copyHeaders(r.Headers),
		Body:    r.Body.clone(),
	}
}

// ReplacePlaceholder replaces every literal occurrence of placeholder in the
// URL and in the body with value. The receiver is left untouched.
func (r *Request) ReplacePlaceholder(placeholder, value string) *Request {
	out := r.Clone()
	if placeholder == "" {
		return out
	}
	out.URL = strings.ReplaceAll(r.URL, placeholder, value)
	if !r.Body.IsZero() {
		out.Body = ParseBody(strings.ReplaceAll(r.Body.String(), placeholder, value))
	}
	return out
}

// Snapshot returns the JSON form stored alongside a test.
func (r *Request) Snapshot() json.RawMessage {
	data, err := Marshal(r)
	if err != nil {
		return nil
	}
	return data
}

// Response is what the executor observed from the remote side.
type Response struct {
	StatusCode int               `json:"status"`
	Status     string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       Body              `json:"body"`
	Duration   time.Duration     `json:"-"`
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Snapshot returns the JSON form stored alongside a test.
func (r *Response) Snapshot() json.RawMessage {
	data, err := Marshal(r)
	if err != nil {
		return nil
	}
	return data
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
