package protocol

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestReplacePlaceholder_URLAndJSONBody(t *testing.T) {
	req := NewRequest(
		"https://api.example.com/jobs?cb={{WEBHOOK_URL}}",
		"POST",
		map[string]string{"Content-Type": "application/json"},
		ParseBody(`{"cb":"{{WEBHOOK_URL}}"}`),
	)

	out := req.ReplacePlaceholder(DefaultPlaceholder, "https://x/webhook/t1")

	if out.URL != "https://api.example.com/jobs?cb=https://x/webhook/t1" {
		t.Errorf("unexpected URL: %s", out.URL)
	}
	if !out.Body.IsJSON() {
		t.Fatalf("expected structured body, got raw %q", out.Body.String())
	}
	want := map[string]any{"cb": "https://x/webhook/t1"}
	if !reflect.DeepEqual(out.Body.Value(), want) {
		t.Errorf("body = %#v, want %#v", out.Body.Value(), want)
	}

	// The input must not change.
	if req.URL != "https://api.example.com/jobs?cb={{WEBHOOK_URL}}" {
		t.Errorf("input URL mutated: %s", req.URL)
	}
	if got := req.Body.Value().(map[string]any)["cb"]; got != "{{WEBHOOK_URL}}" {
		t.Errorf("input body mutated: %v", got)
	}
}

func TestReplacePlaceholder_RawBodyStaysRaw(t *testing.T) {
	req := NewRequest("https://example.com", "POST", nil, RawBody("callback={{WEBHOOK_URL}}&x=1"))
	out := req.ReplacePlaceholder(DefaultPlaceholder, "https://x/webhook/t1")
	if out.Body.IsJSON() {
		t.Fatal("expected raw body")
	}
	if out.Body.String() != "callback=https://x/webhook/t1&x=1" {
		t.Errorf("unexpected body: %s", out.Body.String())
	}
}

func TestReplacePlaceholder_MultipleOccurrences(t *testing.T) {
	req := NewRequest("https://example.com/{{X}}/{{X}}", "GET", nil, Body{})
	out := req.ReplacePlaceholder("{{X}}", "y")
	if out.URL != "https://example.com/y/y" {
		t.Errorf("unexpected URL: %s", out.URL)
	}
	if !out.Body.IsZero() {
		t.Error("empty body should stay empty")
	}
}

func TestReplacePlaceholder_HeadersCopied(t *testing.T) {
	req := NewRequest("https://example.com", "GET", map[string]string{"A": "1"}, Body{})
	out := req.ReplacePlaceholder(DefaultPlaceholder, "v")
	out.Headers["A"] = "2"
	if req.Headers["A"] != "1" {
		t.Error("header map shared between request values")
	}
}

func TestNewRequest_DefaultMethod(t *testing.T) {
	req := NewRequest("https://example.com", "", nil, Body{})
	if req.Method != "GET" {
		t.Errorf("expected GET, got %s", req.Method)
	}
	req = NewRequest("https://example.com", "patch", nil, Body{})
	if req.Method != "PATCH" {
		t.Errorf("expected PATCH, got %s", req.Method)
	}
}

func TestBody_ParseFallsBackToRaw(t *testing.T) {
	tests := []struct {
		in     string
		isJSON bool
	}{
		{`{"a":1}`, true},
		{`[1,2]`, true},
		{`42`, true},
		{`data=value`, false},
		{`{"a":`, false},
		{``, false},
	}
	for _, tt := range tests {
		b := ParseBody(tt.in)
		if b.IsJSON() != tt.isJSON {
			t.Errorf("ParseBody(%q).IsJSON() = %v, want %v", tt.in, b.IsJSON(), tt.isJSON)
		}
		if b.IsZero() {
			t.Errorf("ParseBody(%q) should never be zero", tt.in)
		}
	}
}

func TestBody_SnapshotKeepsURLsUnescaped(t *testing.T) {
	b := JSONBody(map[string]any{"cb": "https://x/webhook/t1?a=1&b=2"})
	if b.String() != `{"cb":"https://x/webhook/t1?a=1&b=2"}` {
		t.Errorf("unexpected encoding: %s", b.String())
	}
}

func TestRequest_SnapshotRestores(t *testing.T) {
	req := NewRequest("https://example.com", "POST", map[string]string{"X": "1"}, ParseBody(`{"k":"v"}`))
	var back Request
	if err := json.Unmarshal(req.Snapshot(), &back); err != nil {
		t.Fatal(err)
	}
	if back.URL != req.URL || back.Method != req.Method || back.Headers["X"] != "1" {
		t.Errorf("unexpected restore: %+v", back)
	}
	if !back.Body.IsJSON() {
		t.Error("expected structured body after restore")
	}

	raw := NewRequest("https://example.com", "POST", nil, RawBody("hello"))
	var rawBack Request
	if err := json.Unmarshal(raw.Snapshot(), &rawBack); err != nil {
		t.Fatal(err)
	}
	if rawBack.Body.IsJSON() || rawBack.Body.String() != "hello" {
		t.Errorf("unexpected raw restore: %q", rawBack.Body.String())
	}
}

func TestMarshal_NoHTMLEscapeNoNewline(t *testing.T) {
	got, err := Marshal(map[string]string{"url": "https://x.example/cb?a=1&b=<2>"})
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"url":"https://x.example/cb?a=1&b=<2>"}`; string(got) != want {
		t.Fatalf("Marshal = %s, want %s", got, want)
	}
}
