package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sadopc/hookwait/internal/config"
	"github.com/sadopc/hookwait/internal/core/eventlog"
	"github.com/sadopc/hookwait/internal/core/lifecycle"
	"github.com/sadopc/hookwait/internal/import/curl"
	"github.com/sadopc/hookwait/internal/protocol"
	"github.com/sadopc/hookwait/internal/scripting"
)

// ValidationError reports input that cannot start a test.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Input describes one outbound request and the callback to wait for.
// Either Curl or URL must be set.
type Input struct {
	Name        string            `yaml:"name" json:"name,omitempty"`
	TestID      string            `yaml:"test_id" json:"testId"`
	Curl        string            `yaml:"curl" json:"curlCommand,omitempty"`
	URL         string            `yaml:"url" json:"url,omitempty"`
	Method      string            `yaml:"method" json:"method,omitempty"`
	Headers     map[string]string `yaml:"headers" json:"headers,omitempty"`
	Body        string            `yaml:"body" json:"body,omitempty"`
	Placeholder string            `yaml:"placeholder" json:"webhookUrlPlaceholder,omitempty"`
	Timeout     time.Duration     `yaml:"timeout" json:"-"`
	// PreScript may rewrite the request before dispatch.
	PreScript string `yaml:"pre_script" json:"-"`
	// Script runs assertions against the callback payload.
	Script string `yaml:"script" json:"-"`
	// Schema is a JSON Schema document the payload must satisfy.
	Schema string `yaml:"schema" json:"-"`
}

// Result is the outcome of one webhook test.
type Result struct {
	Name         string             `json:"name,omitempty"`
	TestID       string             `json:"testId"`
	WebhookURL   string             `json:"webhookUrl"`
	Status       lifecycle.Status   `json:"status"`
	Success      bool               `json:"success"`
	Request      *protocol.Request  `json:"httpRequest,omitempty"`
	Response     *protocol.Response `json:"httpResponse,omitempty"`
	Payload      json.RawMessage    `json:"webhookResponse,omitempty"`
	Duration     time.Duration      `json:"-"`
	DurationMS   int64              `json:"duration"`
	Test         *lifecycle.Test    `json:"-"`
	Script       *scripting.Result  `json:"script,omitempty"`
	SchemaErrors []string           `json:"schemaErrors,omitempty"`
	Err          error              `json:"-"`
	ErrorString  string             `json:"error,omitempty"`
}

// AssertionsPassed reports whether the script and schema checks succeeded.
func (r *Result) AssertionsPassed() bool {
	if r.Script != nil && !r.Script.Passed() {
		return false
	}
	return len(r.SchemaErrors) == 0
}

func (r *Result) fail(err error) {
	r.Err = err
	r.ErrorString = err.Error()
	r.Success = false
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// WithScriptEngine overrides the assertion engine.
func WithScriptEngine(e *scripting.Engine) Option {
	return func(r *Runner) {
		if e != nil {
			r.engine = e
		}
	}
}

// Runner dispatches requests and blocks until their callbacks arrive.
type Runner struct {
	store    *lifecycle.Store
	events   *eventlog.Correlator
	executor protocol.Executor
	engine   *scripting.Engine
	cfg      config.Config
	log      *zap.Logger
}

// New creates a runner. events may be nil when no event log is kept.
func New(store *lifecycle.Store, events *eventlog.Correlator, executor protocol.Executor, cfg config.Config, opts ...Option) *Runner {
	r := &Runner{
		store:    store,
		events:   events,
		executor: executor,
		cfg:      cfg,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.engine == nil {
		r.engine = scripting.NewEngine(cfg.ScriptTimeout)
	}
	r.log = r.log.With(zap.String("component", "runner"))
	return r
}

// NewTestID returns a fresh random test id.
func NewTestID() string {
	return uuid.New().String()
}

// WebhookURL returns the callback URL for id, generating an id when empty.
func (r *Runner) WebhookURL(id string) (string, string) {
	if id == "" {
		id = NewTestID()
	}
	return id, r.cfg.WebhookURL(id)
}

// BuildRequest turns the input into a canonical request with the callback
// placeholder already substituted.
func (r *Runner) BuildRequest(in Input) (*protocol.Request, error) {
	var req *protocol.Request
	switch {
	case strings.TrimSpace(in.Curl) != "":
		parsed, err := curl.ParseCurl(in.Curl)
		if err != nil {
			return nil, err
		}
		req = parsed
	case in.URL != "":
		var body protocol.Body
		if in.Body != "" {
			body = protocol.ParseBody(in.Body)
		}
		req = protocol.NewRequest(in.URL, in.Method, in.Headers, body)
	default:
		return nil, &ValidationError{Field: "request", Message: "must provide either a curl command or a url"}
	}

	placeholder := in.Placeholder
	if placeholder == "" {
		placeholder = protocol.DefaultPlaceholder
	}
	if in.TestID != "" {
		req = req.ReplacePlaceholder(placeholder, r.cfg.WebhookURL(in.TestID))
	}

	if in.PreScript != "" {
		sr := scripting.NewScriptRequest(req)
		res := r.engine.RunPreScript(in.PreScript, sr, r.scriptVars(in.TestID))
		for _, line := range res.Logs {
			r.log.Debug("pre-script", zap.String("test_id", in.TestID), zap.String("log", line))
		}
		if res.Err != nil {
			return nil, fmt.Errorf("pre-script: %w", res.Err)
		}
		req = sr.ToRequest()
	}
	return req, nil
}

func (r *Runner) scriptVars(id string) map[string]string {
	return map[string]string{
		"testId":     id,
		"webhookUrl": r.cfg.WebhookURL(id),
	}
}

func (r *Runner) timeout(in Input) time.Duration {
	if in.Timeout > 0 {
		return in.Timeout
	}
	return r.cfg.DefaultTimeout
}

// Run registers a pending test, sends the request and waits for the callback.
// Setup problems are returned as errors; request failures and timeouts are
// reported on the result.
func (r *Runner) Run(ctx context.Context, in Input) (*Result, error) {
	if strings.TrimSpace(in.TestID) == "" {
		return nil, &ValidationError{Field: "testId", Message: "a descriptive test id is required, e.g. test-payment-001"}
	}
	req, err := r.BuildRequest(in)
	if err != nil {
		return nil, err
	}

	timeout := r.timeout(in)
	requestType := req.Method + " " + req.URL
	result := &Result{
		Name:       in.Name,
		TestID:     in.TestID,
		WebhookURL: r.cfg.WebhookURL(in.TestID),
		Status:     lifecycle.StatusPending,
		Request:    req,
	}

	// The row exists before dispatch so a fast callback always finds it.
	if _, err := r.store.CreateTest(ctx, in.TestID, requestType, timeout, req.Snapshot(), nil); err != nil {
		return nil, err
	}
	r.logEvent(func(c *eventlog.Correlator) { c.TestCreated(ctx, in.TestID, requestType) })
	r.log.Info("dispatching request",
		zap.String("test_id", in.TestID),
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.String("webhook_url", result.WebhookURL))

	r.logEvent(func(c *eventlog.Correlator) { c.RequestSent(ctx, in.TestID, req) })
	resp, err := r.executor.Execute(ctx, req)
	if err != nil {
		reason := err.Error()
		if _, terr := r.store.TimeoutTest(ctx, in.TestID, reason); terr != nil {
			r.log.Warn("failed to record request error", zap.String("test_id", in.TestID), zap.Error(terr))
		}
		r.logEvent(func(c *eventlog.Correlator) { c.TestErrored(ctx, in.TestID, reason) })
		result.Status = lifecycle.StatusTimeout
		result.fail(fmt.Errorf("executing request: %w", err))
		return result, nil
	}
	result.Response = resp
	if err := r.store.AttachResponse(ctx, in.TestID, resp.Snapshot()); err != nil {
		r.log.Warn("failed to attach response", zap.String("test_id", in.TestID), zap.Error(err))
	}
	r.logEvent(func(c *eventlog.Correlator) { c.ResponseReceived(ctx, in.TestID, resp) })

	r.wait(ctx, result, timeout)
	if result.Status == lifecycle.StatusCompleted {
		r.check(result, in)
	}
	return result, nil
}

// Wait blocks until the test completes, creating a manual test when none
// exists yet.
func (r *Runner) Wait(ctx context.Context, id string, timeout time.Duration) (*Result, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &ValidationError{Field: "testId", Message: "test id is required"}
	}
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}

	_, err := r.store.GetTest(ctx, id)
	var nf *lifecycle.NotFoundError
	switch {
	case errors.As(err, &nf):
		if _, err := r.store.CreateTest(ctx, id, "manual", timeout, nil, nil); err != nil {
			return nil, err
		}
		r.logEvent(func(c *eventlog.Correlator) { c.TestCreated(ctx, id, "manual") })
	case err != nil:
		return nil, err
	}

	result := &Result{TestID: id, WebhookURL: r.cfg.WebhookURL(id), Status: lifecycle.StatusPending}
	r.log.Info("waiting for webhook", zap.String("test_id", id), zap.Duration("timeout", timeout))
	r.wait(ctx, result, timeout)
	return result, nil
}

// WaitWithChecks is Wait followed by the input's payload assertions.
func (r *Runner) WaitWithChecks(ctx context.Context, in Input) (*Result, error) {
	result, err := r.Wait(ctx, in.TestID, in.Timeout)
	if err != nil {
		return nil, err
	}
	result.Name = in.Name
	if result.Status == lifecycle.StatusCompleted {
		r.check(result, in)
	}
	return result, nil
}

func (r *Runner) wait(ctx context.Context, result *Result, timeout time.Duration) {
	t, err := r.store.WaitForCompletion(ctx, result.TestID, timeout, r.cfg.PollInterval)
	var terr *lifecycle.TimeoutError
	switch {
	case errors.As(err, &terr):
		if terr.Expired {
			r.logEvent(func(c *eventlog.Correlator) { c.TestTimedOut(ctx, result.TestID, terr.Reason) })
		}
		result.Status = lifecycle.StatusTimeout
		if stored, gerr := r.store.GetTest(ctx, result.TestID); gerr == nil {
			result.setTest(stored)
		}
		result.fail(terr)
		r.log.Warn("webhook test timed out", zap.String("test_id", result.TestID), zap.String("reason", terr.Reason))
	case err != nil:
		result.fail(err)
	default:
		result.setTest(t)
		result.Success = true
		r.log.Info("webhook received",
			zap.String("test_id", result.TestID),
			zap.Duration("duration", result.Duration))
	}
}

func (r *Result) setTest(t *lifecycle.Test) {
	r.Test = t
	r.Status = t.Status
	r.Payload = t.Payload
	if t.Duration != nil {
		r.Duration = *t.Duration
		r.DurationMS = t.Duration.Milliseconds()
	}
}

// check runs the optional script and schema assertions on a completed test.
func (r *Runner) check(result *Result, in Input) {
	if in.Script != "" {
		record, err := json.Marshal(result.Test)
		if err != nil {
			result.fail(fmt.Errorf("encoding test record: %w", err))
			return
		}
		sc := &scripting.ScriptContext{
			Request:  scripting.NewScriptRequest(result.Request),
			Response: scripting.NewScriptResponse(result.Response),
			Test:     record,
			Payload:  result.Payload,
			Vars:     r.scriptVars(result.TestID),
		}
		result.Script = r.engine.RunAssertions(in.Script, sc)
		if result.Script.Err != nil {
			result.fail(fmt.Errorf("assertion script: %w", result.Script.Err))
			return
		}
	}
	if in.Schema != "" {
		errs, err := ValidatePayload(in.Schema, result.Payload)
		if err != nil {
			result.fail(err)
			return
		}
		result.SchemaErrors = errs
	}
	if !result.AssertionsPassed() {
		result.Success = false
	}
}

// Send executes the request without registering a test or waiting.
func (r *Runner) Send(ctx context.Context, in Input) (*protocol.Request, *protocol.Response, error) {
	req, err := r.BuildRequest(in)
	if err != nil {
		return nil, nil, err
	}
	resp, err := r.executor.Execute(ctx, req)
	if err != nil {
		return req, nil, fmt.Errorf("executing request: %w", err)
	}
	r.log.Info("request sent",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", resp.Duration))
	return req, resp, nil
}

func (r *Runner) logEvent(fn func(*eventlog.Correlator)) {
	if r.events != nil {
		fn(r.events)
	}
}

// ExitCode maps results to a process exit code.
// 0 = all succeeded, 1 = assertion failures, 2 = errors or timeouts.
func ExitCode(results []*Result) int {
	hasErrors := false
	hasFailures := false
	for _, r := range results {
		switch {
		case r.Err != nil || r.Status != lifecycle.StatusCompleted:
			hasErrors = true
		case !r.AssertionsPassed():
			hasFailures = true
		}
	}
	if hasErrors {
		return 2
	}
	if hasFailures {
		return 1
	}
	return 0
}
