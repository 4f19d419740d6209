package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaResource = "payload.schema.json"

// ValidatePayload checks payload against a JSON Schema document. It returns
// one message per violated keyword; the error is reserved for schemas that
// do not compile.
func ValidatePayload(schema string, payload json.RawMessage) ([]string, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaResource, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}
	compiled, err := compiler.Compile(schemaResource)
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}

	var value any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &value); err != nil {
			return nil, fmt.Errorf("decoding payload: %w", err)
		}
	}

	err = compiled.Validate(value)
	if err == nil {
		return nil, nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, fmt.Errorf("validating payload: %w", err)
	}
	var out []string
	collectViolations(verr, &out)
	sort.Strings(out)
	return out, nil
}

func collectViolations(e *jsonschema.ValidationError, out *[]string) {
	if len(e.Causes) == 0 {
		loc := e.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*out = append(*out, loc+": "+e.Message)
		return
	}
	for _, c := range e.Causes {
		collectViolations(c, out)
	}
}
