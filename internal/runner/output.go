package runner

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/tidwall/pretty"

	"github.com/sadopc/hookwait/internal/core/lifecycle"
	"github.com/sadopc/hookwait/internal/protocol"
)

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	failMark = color.New(color.FgRed).SprintFunc()
	dim      = color.New(color.Faint).SprintFunc()
)

// PrintText outputs results in human-readable format.
func PrintText(w io.Writer, results []*Result, verbose bool) {
	completed, timedOut, errored := 0, 0, 0
	passed, failed := 0, 0

	for _, r := range results {
		icon := okMark("✓")
		if r.Err != nil || r.Status != lifecycle.StatusCompleted || !r.AssertionsPassed() {
			icon = failMark("✗")
		}
		switch r.Status {
		case lifecycle.StatusCompleted:
			completed++
		case lifecycle.StatusTimeout:
			timedOut++
		default:
			errored++
		}

		name := r.TestID
		if r.Name != "" && r.Name != r.TestID {
			name = r.Name + " (" + r.TestID + ")"
		}
		fmt.Fprintf(w, "%s %-40s %-10s %s\n", icon, truncate(name, 40), r.Status, formatDuration(r.Duration))

		if r.Request != nil {
			line := fmt.Sprintf("  %s %s", r.Request.Method, truncate(r.Request.URL, 60))
			if r.Response != nil {
				line += fmt.Sprintf(" → %d %s (%s, %s)",
					r.Response.StatusCode, r.Response.Status,
					formatDuration(r.Response.Duration),
					humanize.Bytes(uint64(len(r.Response.Body.Bytes()))))
			}
			fmt.Fprintln(w, line)
		}
		if verbose {
			fmt.Fprintf(w, "  %s %s\n", dim("webhook:"), r.WebhookURL)
		}
		if r.Err != nil {
			fmt.Fprintf(w, "  └ Error: %s\n", r.Err)
		}

		if r.Script != nil {
			for _, tr := range r.Script.TestResults {
				if tr.Passed {
					passed++
					fmt.Fprintf(w, "  %s %s\n", okMark("✓"), tr.Name)
				} else {
					failed++
					fmt.Fprintf(w, "  %s %s: %s\n", failMark("✗"), tr.Name, tr.Error)
				}
			}
			if verbose {
				for _, log := range r.Script.Logs {
					fmt.Fprintf(w, "  [log] %s\n", log)
				}
			}
		}
		for _, msg := range r.SchemaErrors {
			failed++
			fmt.Fprintf(w, "  %s schema %s\n", failMark("✗"), msg)
		}

		if verbose && len(r.Payload) > 0 {
			fmt.Fprintf(w, "  --- Webhook Payload ---\n")
			for _, line := range strings.Split(strings.TrimRight(string(pretty.Pretty(r.Payload)), "\n"), "\n") {
				fmt.Fprintf(w, "  %s\n", line)
			}
			fmt.Fprintf(w, "  -----------------------\n")
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Tests: %d total, %d completed, %d timed out", len(results), completed, timedOut)
	if errored > 0 {
		fmt.Fprintf(w, ", %d errors", errored)
	}
	fmt.Fprintln(w)
	if passed+failed > 0 {
		fmt.Fprintf(w, "Assertions: %d passed, %d failed\n", passed, failed)
	}
}

// PrintJSON outputs results as indented JSON. A single result is written as
// an object rather than a one-element array.
func PrintJSON(w io.Writer, results []*Result, colorize bool) error {
	var v any = results
	if len(results) == 1 {
		v = results[0]
	}
	return WriteJSON(w, v, colorize)
}

// WriteJSON encodes v without HTML escaping and pretty-prints it, adding
// terminal colors when colorize is set.
func WriteJSON(w io.Writer, v any, colorize bool) error {
	data, err := protocol.Marshal(v)
	if err != nil {
		return err
	}
	out := pretty.Pretty(data)
	if colorize {
		out = pretty.Color(out, pretty.TerminalStyle)
	}
	_, err = w.Write(out)
	return err
}

// junitTestSuites is the root JUnit XML element.
type junitTestSuites struct {
	XMLName xml.Name         `xml:"testsuites"`
	Suites  []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	XMLName  xml.Name        `xml:"testsuite"`
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Errors   int             `xml:"errors,attr"`
	Time     float64         `xml:"time,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	XMLName   xml.Name      `xml:"testcase"`
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Error     *junitError   `xml:"error,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

type junitError struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

// PrintJUnit outputs results as JUnit XML for CI. Each webhook test is a
// suite; its assertions are the cases.
func PrintJUnit(w io.Writer, results []*Result) error {
	suites := junitTestSuites{}

	for _, r := range results {
		name := r.Name
		if name == "" {
			name = r.TestID
		}
		suite := junitTestSuite{
			Name: name,
			Time: r.Duration.Seconds(),
		}

		switch {
		case r.Err != nil || r.Status != lifecycle.StatusCompleted:
			msg := string(r.Status)
			if r.Err != nil {
				msg = r.Err.Error()
			}
			errType := "RequestError"
			if r.Status == lifecycle.StatusTimeout {
				errType = "WebhookTimeout"
			}
			suite.Errors = 1
			suite.Tests = 1
			suite.Cases = append(suite.Cases, junitTestCase{
				Name:      name,
				ClassName: r.TestID,
				Time:      r.Duration.Seconds(),
				Error:     &junitError{Message: msg, Type: errType, Content: msg},
			})
		case (r.Script != nil && len(r.Script.TestResults) > 0) || len(r.SchemaErrors) > 0:
			if r.Script != nil {
				for _, tr := range r.Script.TestResults {
					tc := junitTestCase{Name: tr.Name, ClassName: r.TestID, Time: r.Duration.Seconds()}
					if !tr.Passed {
						suite.Failures++
						tc.Failure = &junitFailure{Message: tr.Error, Type: "AssertionFailure", Content: tr.Error}
					}
					suite.Cases = append(suite.Cases, tc)
				}
			}
			if len(r.SchemaErrors) > 0 {
				msg := strings.Join(r.SchemaErrors, "\n")
				suite.Failures++
				suite.Cases = append(suite.Cases, junitTestCase{
					Name:      "payload schema",
					ClassName: r.TestID,
					Time:      r.Duration.Seconds(),
					Failure:   &junitFailure{Message: r.SchemaErrors[0], Type: "SchemaViolation", Content: msg},
				})
			}
			suite.Tests = len(suite.Cases)
		default:
			suite.Tests = 1
			suite.Cases = append(suite.Cases, junitTestCase{
				Name:      name,
				ClassName: r.TestID,
				Time:      r.Duration.Seconds(),
			})
		}

		suites.Suites = append(suites.Suites, suite)
	}

	fmt.Fprint(w, xml.Header)
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(suites); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return nil
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// PrintSuiteText outputs a suite run followed by its verdict.
func PrintSuiteText(w io.Writer, s *SuiteResult, verbose bool) {
	fmt.Fprintf(w, "Suite: %s\n\n", s.Name)
	PrintText(w, s.Steps, verbose)
	if s.Error != "" {
		fmt.Fprintf(w, "%s %s\n", failMark("✗"), s.Error)
	}
	if s.Success {
		fmt.Fprintf(w, "%s Suite passed\n", okMark("✓"))
	} else {
		fmt.Fprintf(w, "%s Suite failed\n", failMark("✗"))
	}
}

// PrintComparison outputs callback latency against a baseline.
func PrintComparison(w io.Writer, comparisons []Comparison, threshold float64) {
	fmt.Fprintf(w, "\nCallback Latency Comparison (threshold %.0f%%)\n", threshold)
	for _, c := range comparisons {
		if c.IsNew {
			fmt.Fprintf(w, "  %-30s %10s  (new)\n", truncate(c.Name, 30), formatDuration(c.Current))
			continue
		}
		verdict := "stable"
		switch {
		case c.Regressed:
			verdict = failMark("regression")
		case c.DeltaPercent < -threshold/2:
			verdict = okMark("improvement")
		}
		fmt.Fprintf(w, "  %-30s %10s  vs %10s  %+6.1f%%  %s\n",
			truncate(c.Name, 30), formatDuration(c.Current), formatDuration(c.Baseline), c.DeltaPercent, verdict)
	}
}

// PrintResponse outputs one exchange: the request line, the status, headers
// when verbose, and the body.
func PrintResponse(w io.Writer, req *protocol.Request, resp *protocol.Response, verbose bool) {
	fmt.Fprintf(w, "%s %s\n", req.Method, req.URL)
	mark := okMark
	if !resp.IsSuccess() {
		mark = failMark
	}
	body := resp.Body.Bytes()
	fmt.Fprintf(w, "%s %d %s (%s, %s)\n", mark("→"), resp.StatusCode, resp.Status,
		formatDuration(resp.Duration), humanize.Bytes(uint64(len(body))))

	if verbose && len(resp.Headers) > 0 {
		keys := make([]string, 0, len(resp.Headers))
		for k := range resp.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s %s\n", dim(k+":"), resp.Headers[k])
		}
	}
	if len(body) == 0 {
		return
	}
	fmt.Fprintln(w)
	if resp.Body.IsJSON() {
		w.Write(pretty.Pretty(body))
		return
	}
	fmt.Fprintln(w, strings.TrimRight(string(body), "\n"))
}
