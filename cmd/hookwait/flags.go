package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sadopc/hookwait/internal/runner"
)

// headerFlag collects repeated -H "Name: value" flags.
type headerFlag map[string]string

func (h headerFlag) String() string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k+": "+h[k])
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}

func (h headerFlag) Set(s string) error {
	name, value, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("header must look like \"Name: value\", got %q", s)
	}
	h[strings.TrimSpace(name)] = strings.TrimSpace(value)
	return nil
}

// varFlag collects repeated --var key=value flags.
type varFlag map[string]string

func (v varFlag) String() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k+"="+v[k])
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func (v varFlag) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("variable must look like key=value, got %q", s)
	}
	v[key] = value
	return nil
}

// requestFlags describe one outbound request on the command line.
type requestFlags struct {
	id          *string
	name        *string
	curl        *string
	url         *string
	method      *string
	data        *string
	placeholder *string
	timeout     *time.Duration
	reqTimeout  *time.Duration
	preScript   *string
	proxy       *string
	noProxy     *string
	headers     headerFlag
}

func addRequestFlags(fs *flag.FlagSet) *requestFlags {
	rf := &requestFlags{
		id:          fs.String("id", "", "Test id (required for run; generated for send)"),
		name:        fs.String("name", "", "Display name for the test"),
		curl:        fs.String("curl", "", "curl command describing the request"),
		url:         fs.String("url", "", "Request URL (alternative to --curl)"),
		method:      fs.String("method", "", "HTTP method for --url (default GET, or POST with --data)"),
		data:        fs.String("data", "", "Request body for --url; JSON is sent structured"),
		placeholder: fs.String("placeholder", "", "Placeholder replaced by the webhook URL (default {{WEBHOOK_URL}})"),
		timeout:     fs.Duration("timeout", 0, "How long to wait for the webhook (default from config)"),
		reqTimeout:  fs.Duration("request-timeout", 0, "Timeout for the outbound request itself (default 30s)"),
		preScript:   fs.String("pre-script", "", "JavaScript file that may rewrite the request before sending"),
		proxy:       fs.String("proxy", "", "Proxy URL for the outbound request (http, https or socks5)"),
		noProxy:     fs.String("no-proxy", "", "Comma-separated hosts that bypass the proxy"),
		headers:     headerFlag{},
	}
	fs.Var(rf.headers, "H", "Request header \"Name: value\" for --url (repeatable)")
	return rf
}

// input builds a runner input. A positional argument is taken as the curl
// command when --curl is not set.
func (rf *requestFlags) input(fs *flag.FlagSet) (runner.Input, error) {
	in := runner.Input{
		Name:        *rf.name,
		TestID:      *rf.id,
		Curl:        *rf.curl,
		URL:         *rf.url,
		Method:      *rf.method,
		Body:        *rf.data,
		Placeholder: *rf.placeholder,
		Timeout:     *rf.timeout,
	}
	if len(rf.headers) > 0 {
		in.Headers = map[string]string(rf.headers)
	}
	if in.Curl == "" && in.URL == "" && fs.NArg() > 0 {
		in.Curl = strings.Join(fs.Args(), " ")
	}
	if in.Method == "" && in.Body != "" {
		in.Method = "POST"
	}
	if *rf.preScript != "" {
		src, err := readFile(*rf.preScript)
		if err != nil {
			return in, err
		}
		in.PreScript = src
	}
	return in, nil
}

// checkFlags are the payload assertions shared by run and wait.
type checkFlags struct {
	script *string
	schema *string
}

func addCheckFlags(fs *flag.FlagSet) *checkFlags {
	return &checkFlags{
		script: fs.String("script", "", "JavaScript file with assertions on the webhook payload"),
		schema: fs.String("schema", "", "JSON Schema file the webhook payload must satisfy"),
	}
}

func (cf *checkFlags) apply(in *runner.Input) error {
	if *cf.script != "" {
		src, err := readFile(*cf.script)
		if err != nil {
			return err
		}
		in.Script = src
	}
	if *cf.schema != "" {
		src, err := readFile(*cf.schema)
		if err != nil {
			return err
		}
		in.Schema = src
	}
	return nil
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}
