package scripting

import (
	"encoding/json"
	"strings"

	"github.com/sadopc/hookwait/internal/protocol"
)

// ScriptRequest is the request object exposed as hook.request. Pre-scripts
// may mutate it before it is dispatched.
type ScriptRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// NewScriptRequest copies req into the script view.
func NewScriptRequest(req *protocol.Request) *ScriptRequest {
	if req == nil {
		return &ScriptRequest{Headers: map[string]string{}}
	}
	headers := make(map[string]string, len(req.Headers))
	for k, v := range req.Headers {
		headers[k] = v
	}
	body := ""
	if !req.Body.IsZero() {
		body = req.Body.String()
	}
	return &ScriptRequest{Method: req.Method, URL: req.URL, Headers: headers, Body: body}
}

// SetHeader sets a request header.
func (r *ScriptRequest) SetHeader(key, value string) {
	if r.Headers == nil {
		r.Headers = map[string]string{}
	}
	r.Headers[key] = value
}

// RemoveHeader deletes a request header, ignoring case.
func (r *ScriptRequest) RemoveHeader(key string) {
	for k := range r.Headers {
		if strings.EqualFold(k, key) {
			delete(r.Headers, k)
		}
	}
}

// SetBody sets the request body.
func (r *ScriptRequest) SetBody(body string) {
	r.Body = body
}

// SetURL sets the request URL.
func (r *ScriptRequest) SetURL(url string) {
	r.URL = url
}

// SetMethod sets the request method.
func (r *ScriptRequest) SetMethod(method string) {
	r.Method = strings.ToUpper(method)
}

// ToRequest converts the script view back into a canonical request. A body
// that parses as JSON stays structured.
func (r *ScriptRequest) ToRequest() *protocol.Request {
	var body protocol.Body
	if r.Body != "" {
		body = protocol.ParseBody(r.Body)
	}
	return protocol.NewRequest(r.URL, r.Method, r.Headers, body)
}

// ScriptResponse is the read-only response object exposed as hook.response.
type ScriptResponse struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Duration   float64           `json:"duration"` // milliseconds
}

// NewScriptResponse copies resp into the script view. It returns nil for a
// nil response so scripts see null.
func NewScriptResponse(resp *protocol.Response) *ScriptResponse {
	if resp == nil {
		return nil
	}
	return &ScriptResponse{
		Status:     resp.StatusCode,
		StatusText: resp.Status,
		Headers:    resp.Headers,
		Body:       resp.Body.String(),
		Duration:   float64(resp.Duration.Microseconds()) / 1000,
	}
}

// BodyJSON decodes the response body, returning nil when it is not JSON.
func (r *ScriptResponse) BodyJSON() any {
	var v any
	if err := json.Unmarshal([]byte(r.Body), &v); err != nil {
		return nil
	}
	return v
}

// ScriptContext holds the data exposed to assertion scripts once a test has
// reached a terminal state.
type ScriptContext struct {
	Request  *ScriptRequest
	Response *ScriptResponse
	// Test is the stored test record in its JSON form.
	Test json.RawMessage
	// Payload is the callback body, null when the test timed out.
	Payload json.RawMessage
	Vars    map[string]string
}
