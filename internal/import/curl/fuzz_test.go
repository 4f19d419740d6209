package curl

import (
	"strings"
	"testing"

	"github.com/sadopc/hookwait/internal/protocol"
)

func FuzzParseCurl(f *testing.F) {
	for _, seed := range []string{
		`curl https://api.example.com/jobs`,
		`curl -X POST -H 'Content-Type: application/json' -d '{"callback":"{{WEBHOOK_URL}}"}' https://api.example.com/jobs`,
		`curl -d '{"notify":{"url":"{{WEBHOOK_URL}}","events":["done"]}}' https://api.example.com/exports`,
		`curl "https://api.example.com/subscribe?hook={{WEBHOOK_URL}}"`,
		`curl -u ci:token -H "X-Request-Id: 42" --data-raw 'cb={{WEBHOOK_URL}}' https://example.com/form`,
		"curl \\\n  -X PUT \\\n  -d 'hello' \\\n  https://example.com",
		`curl -m 30 -o /dev/null https://example.com`,
		`curl --max-time 5 --output out.json --user-agent hookwait https://example.com`,
		``,
		`curl`,
		`curl -H 'Accept: */*'`,
		`curl -H 'broken' https://example.com`,
		`curl -H ': empty' https://example.com`,
		`curl -X`,
		`curl -d`,
		`curl 'unterminated https://example.com`,
		`curl ftp://example.com`,
	} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, input string) {
		req, err := ParseCurl(input)
		if err != nil {
			return
		}
		if req == nil {
			t.Fatal("nil request without error")
		}
		if req.Method == "" {
			t.Fatal("empty method without error")
		}
		if !hasURLScheme(req.URL) {
			t.Fatalf("non-http URL %q accepted", req.URL)
		}

		// Substitution must leave the parsed request untouched.
		before := string(req.Snapshot())
		out := req.ReplacePlaceholder(protocol.DefaultPlaceholder, "https://hooks.example.com/webhook/t1")
		if got := string(req.Snapshot()); got != before {
			t.Fatalf("ReplacePlaceholder mutated the receiver:\n%s\n%s", before, got)
		}
		if strings.Contains(out.URL, protocol.DefaultPlaceholder) {
			t.Fatalf("placeholder left in URL %q", out.URL)
		}
	})
}

func FuzzTokenize(f *testing.F) {
	for _, seed := range []string{
		`curl -d '{"a":"b c"}' "https://example.com/x y"`,
		`'single' "double" plain`,
		`escaped\ space`,
		`"unclosed`,
		`'unclosed`,
		`trailing\`,
		"line\\\ncontinued",
		"tabs\tand\nnewlines",
		``,
	} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, input string) {
		quoted := strings.ContainsAny(input, `'"`)
		for _, tok := range tokenize(input) {
			if tok == "" && !quoted {
				t.Fatalf("empty token from unquoted input %q", input)
			}
		}
	})
}
