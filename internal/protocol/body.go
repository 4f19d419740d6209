package protocol

import (
	"bytes"
	"encoding/json"
)

// Body is an optional request or response body holding either structured
// JSON data or raw text. The zero value means "no body".
type Body struct {
	value      any
	raw        string
	structured bool
	set        bool
}

// JSONBody wraps an already decoded JSON value.
func JSONBody(v any) Body {
	return Body{value: v, structured: true, set: true}
}

// RawBody wraps text that is sent as-is.
func RawBody(s string) Body {
	return Body{raw: s, set: true}
}

// ParseBody decodes s as JSON and falls back to raw text.
func ParseBody(s string) Body {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return RawBody(s)
	}
	return JSONBody(v)
}

// IsZero reports whether no body is present.
func (b Body) IsZero() bool { return !b.set }

// IsJSON reports whether the body holds structured data.
func (b Body) IsJSON() bool { return b.structured }

// Value returns the structured value, or the raw string for text bodies.
func (b Body) Value() any {
	if !b.set {
		return nil
	}
	if b.structured {
		return b.value
	}
	return b.raw
}

// String renders the body as text; structured values are JSON-encoded.
func (b Body) String() string {
	if !b.set {
		return ""
	}
	if !b.structured {
		return b.raw
	}
	data, err := Marshal(b.value)
	if err != nil {
		return ""
	}
	return string(data)
}

// Bytes is String as a byte slice.
func (b Body) Bytes() []byte {
	return []byte(b.String())
}

// MarshalJSON encodes structured bodies as their value and text bodies as a
// JSON string.
func (b Body) MarshalJSON() ([]byte, error) {
	if !b.set {
		return []byte("null"), nil
	}
	if b.structured {
		return Marshal(b.value)
	}
	return Marshal(b.raw)
}

// UnmarshalJSON restores a body from a snapshot. JSON strings become text
// bodies, everything else structured.
func (b *Body) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*b = Body{}
		return nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return err
	}
	if s, ok := v.(string); ok {
		*b = RawBody(s)
		return nil
	}
	*b = JSONBody(v)
	return nil
}

func (b Body) clone() Body {
	if !b.structured {
		return b
	}
	data, err := json.Marshal(b.value)
	if err != nil {
		return b
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return b
	}
	return JSONBody(v)
}

// Marshal encodes v as compact JSON without HTML escaping, so URLs survive
// a stringify/replace/parse round trip unchanged. No trailing newline.
func Marshal(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
