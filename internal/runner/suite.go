package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Suite is an ordered list of webhook tests loaded from YAML. Values
// extracted from one callback payload can be referenced as {{name}} in later
// steps.
type Suite struct {
	Name          string      `yaml:"name"`
	StopOnFailure bool        `yaml:"stop_on_failure"`
	Steps         []SuiteStep `yaml:"tests"`
}

// SuiteStep is one test plus the payload values it exports.
type SuiteStep struct {
	Input   `yaml:",inline"`
	Extract map[string]string `yaml:"extract"`
}

// SuiteResult holds the results of a suite run.
type SuiteResult struct {
	Name    string            `json:"name"`
	Steps   []*Result         `json:"steps"`
	Vars    map[string]string `json:"vars,omitempty"`
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
}

// LoadSuite reads a suite file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading suite: %w", err)
	}
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing suite: %w", err)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("suite %q has no tests", s.Name)
	}
	return &s, nil
}

// RunSuite executes the steps in order. A step that cannot start ends the
// suite; failed steps end it only when StopOnFailure is set.
func (r *Runner) RunSuite(ctx context.Context, s *Suite, vars map[string]string) *SuiteResult {
	result := &SuiteResult{
		Name:    s.Name,
		Vars:    map[string]string{},
		Success: true,
	}
	for k, v := range vars {
		result.Vars[k] = v
	}

	for i, step := range s.Steps {
		in := resolveInput(step.Input, result.Vars)
		label := in.Name
		if label == "" {
			label = in.TestID
		}

		stepResult, err := r.Run(ctx, in)
		if err != nil {
			result.Success = false
			result.Error = fmt.Sprintf("step %d (%s): %v", i+1, label, err)
			return result
		}
		result.Steps = append(result.Steps, stepResult)

		for name, expr := range step.Extract {
			if value := extractValue(stepResult.Payload, expr); value != "" {
				result.Vars[name] = value
			}
		}

		if ExitCode([]*Result{stepResult}) != 0 {
			result.Success = false
			if s.StopOnFailure {
				result.Error = fmt.Sprintf("step %d (%s) failed", i+1, label)
				return result
			}
		}
	}
	return result
}

// resolveInput replaces {{name}} references to known variables. Unknown
// placeholders, including the callback URL placeholder, are left as-is.
func resolveInput(in Input, vars map[string]string) Input {
	if len(vars) == 0 {
		return in
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	rep := strings.NewReplacer(pairs...)

	in.TestID = rep.Replace(in.TestID)
	in.Curl = rep.Replace(in.Curl)
	in.URL = rep.Replace(in.URL)
	in.Body = rep.Replace(in.Body)
	if len(in.Headers) > 0 {
		headers := make(map[string]string, len(in.Headers))
		for k, v := range in.Headers {
			headers[k] = rep.Replace(v)
		}
		in.Headers = headers
	}
	return in
}

// extractValue extracts a value from a JSON payload using a simple JSONPath-like expression.
// Supports: $.field, $.field.nested, $.array[0].field
func extractValue(body []byte, expr string) string {
	expr = strings.TrimSpace(expr)
	if len(body) == 0 || expr == "" {
		return ""
	}
	if expr == "$" {
		return jsonPathExtract(body, "")
	}
	return jsonPathExtract(body, strings.TrimPrefix(expr, "$."))
}

// jsonPathExtract does simple dot-notation JSON extraction.
func jsonPathExtract(body []byte, path string) string {
	var current interface{}
	if err := json.Unmarshal(body, &current); err != nil {
		return ""
	}

	if path != "" {
		for _, part := range strings.Split(path, ".") {
			// Handle array indexing: field[0]
			if idx := strings.Index(part, "["); idx > 0 {
				field := part[:idx]
				var arrayIdx int
				if _, err := fmt.Sscanf(strings.TrimSuffix(part[idx+1:], "]"), "%d", &arrayIdx); err != nil {
					return ""
				}

				obj, ok := current.(map[string]interface{})
				if !ok {
					return ""
				}
				arr, ok := obj[field].([]interface{})
				if !ok || arrayIdx < 0 || arrayIdx >= len(arr) {
					return ""
				}
				current = arr[arrayIdx]
				continue
			}

			obj, ok := current.(map[string]interface{})
			if !ok {
				return ""
			}
			current, ok = obj[part]
			if !ok {
				return ""
			}
		}
	}

	switch v := current.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case bool:
		return fmt.Sprintf("%v", v)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
