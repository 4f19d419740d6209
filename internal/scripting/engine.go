package scripting

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// DefaultTimeout bounds a single script run.
const DefaultTimeout = 5 * time.Second

// Engine executes JavaScript pre-request and assertion scripts.
type Engine struct {
	timeout time.Duration
}

// NewEngine creates a new scripting engine with the given timeout.
func NewEngine(timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{timeout: timeout}
}

// Result holds script execution results.
type Result struct {
	Logs        []string     `json:"logs,omitempty"`
	TestResults []TestResult `json:"tests,omitempty"`
	Err         error        `json:"-"`
}

// Passed reports whether the script ran cleanly and every hook.test passed.
func (r *Result) Passed() bool {
	if r.Err != nil {
		return false
	}
	for _, tr := range r.TestResults {
		if !tr.Passed {
			return false
		}
	}
	return true
}

// Failed returns the failing test results.
func (r *Result) Failed() []TestResult {
	var out []TestResult
	for _, tr := range r.TestResults {
		if !tr.Passed {
			out = append(out, tr)
		}
	}
	return out
}

// RunPreScript executes a script that can mutate the request before it is
// dispatched. vars are readable through hook.get.
func (e *Engine) RunPreScript(script string, req *ScriptRequest, vars map[string]string) *Result {
	api := newScriptAPI(req, nil, vars)
	err := e.run(script, api)
	return &Result{
		Logs:        api.logs,
		TestResults: api.testResults,
		Err:         err,
	}
}

// RunAssertions executes a script against a finished test. The callback
// payload is exposed as hook.payload and the stored record as hook.record.
func (e *Engine) RunAssertions(script string, sc *ScriptContext) *Result {
	if sc == nil {
		sc = &ScriptContext{}
	}
	req := sc.Request
	if req == nil {
		req = &ScriptRequest{Headers: map[string]string{}}
	}
	api := newScriptAPI(req, sc.Response, sc.Vars)

	var err error
	if api.payload, err = decodeJSON(sc.Payload); err != nil {
		return &Result{Err: fmt.Errorf("decoding payload: %w", err)}
	}
	if api.record, err = decodeJSON(sc.Test); err != nil {
		return &Result{Err: fmt.Errorf("decoding test record: %w", err)}
	}

	err = e.run(script, api)
	return &Result{
		Logs:        api.logs,
		TestResults: api.testResults,
		Err:         err,
	}
}

func (e *Engine) run(script string, api *ScriptAPI) error {
	vm := goja.New()
	api.registerOnRuntime(vm)

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("script timeout exceeded")
		case <-done:
		}
	}()

	_, err := vm.RunString(script)
	close(done)

	if err != nil {
		return fmt.Errorf("script error: %w", err)
	}
	return nil
}
