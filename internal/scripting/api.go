package scripting

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

// ScriptAPI is the `hook` global object exposed to scripts.
type ScriptAPI struct {
	vars        map[string]string
	logs        []string
	testResults []TestResult
	request     *ScriptRequest
	response    *ScriptResponse
	record      any
	payload     any
}

// TestResult holds the result of a hook.test() call.
type TestResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

func newScriptAPI(req *ScriptRequest, resp *ScriptResponse, vars map[string]string) *ScriptAPI {
	v := map[string]string{}
	for k, val := range vars {
		v[k] = val
	}
	return &ScriptAPI{
		vars:     v,
		request:  req,
		response: resp,
	}
}

func decodeJSON(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (a *ScriptAPI) registerOnRuntime(vm *goja.Runtime) {
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	hookObj := vm.NewObject()

	// Variables
	hookObj.Set("get", func(call goja.FunctionCall) goja.Value {
		if v, ok := a.vars[call.Argument(0).String()]; ok {
			return vm.ToValue(v)
		}
		return goja.Undefined()
	})
	hookObj.Set("testId", a.vars["testId"])
	hookObj.Set("webhookUrl", a.vars["webhookUrl"])

	// Logging
	hookObj.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]interface{}, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		a.logs = append(a.logs, fmt.Sprint(args...))
		return goja.Undefined()
	})

	// Testing
	hookObj.Set("test", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			a.testResults = append(a.testResults, TestResult{Name: name, Passed: false, Error: "invalid test function"})
			return goja.Undefined()
		}

		result := TestResult{Name: name, Passed: true}
		if _, err := fn(goja.Undefined()); err != nil {
			result.Passed = false
			result.Error = assertionMessage(err)
		}
		a.testResults = append(a.testResults, result)
		return goja.Undefined()
	})

	hookObj.Set("assert", func(call goja.FunctionCall) goja.Value {
		if !call.Argument(0).ToBoolean() {
			msg := "assertion failed"
			if len(call.Arguments) > 1 {
				msg = call.Argument(1).String()
			}
			panic(vm.NewGoError(fmt.Errorf("%s", msg)))
		}
		return goja.Undefined()
	})

	// Utility functions
	hookObj.Set("base64encode", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(base64.StdEncoding.EncodeToString([]byte(call.Argument(0).String())))
	})
	hookObj.Set("base64decode", func(call goja.FunctionCall) goja.Value {
		decoded, err := base64.StdEncoding.DecodeString(call.Argument(0).String())
		if err != nil {
			return vm.ToValue("")
		}
		return vm.ToValue(string(decoded))
	})
	hookObj.Set("sha256", func(call goja.FunctionCall) goja.Value {
		h := sha256.Sum256([]byte(call.Argument(0).String()))
		return vm.ToValue(hex.EncodeToString(h[:]))
	})
	hookObj.Set("hmacSha256", func(call goja.FunctionCall) goja.Value {
		mac := hmac.New(sha256.New, []byte(call.Argument(0).String()))
		mac.Write([]byte(call.Argument(1).String()))
		return vm.ToValue(hex.EncodeToString(mac.Sum(nil)))
	})
	hookObj.Set("uuid", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(uuid.New().String())
	})

	// Request, response and callback data
	hookObj.Set("request", a.request)
	if a.response != nil {
		hookObj.Set("response", a.response)
	} else {
		hookObj.Set("response", goja.Null())
	}
	hookObj.Set("record", a.record)
	hookObj.Set("payload", a.payload)

	vm.Set("hook", hookObj)
}

// assertionMessage unwraps the Go error raised by hook.assert so results
// carry the script's own message.
func assertionMessage(err error) string {
	if ex, ok := err.(*goja.Exception); ok {
		if goErr := ex.Unwrap(); goErr != nil {
			return goErr.Error()
		}
		return ex.Value().String()
	}
	return err.Error()
}
