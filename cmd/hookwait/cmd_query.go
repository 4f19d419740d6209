package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/sahilm/fuzzy"

	"github.com/sadopc/hookwait/internal/core/eventlog"
	"github.com/sadopc/hookwait/internal/core/lifecycle"
	"github.com/sadopc/hookwait/internal/protocol"
	"github.com/sadopc/hookwait/internal/runner"
)

const matchWindow = 1000

var (
	statusColors = map[lifecycle.Status]func(a ...any) string{
		lifecycle.StatusPending:   color.New(color.FgYellow).SprintFunc(),
		lifecycle.StatusCompleted: color.New(color.FgGreen).SprintFunc(),
		lifecycle.StatusTimeout:   color.New(color.FgRed).SprintFunc(),
	}
	levelColors = map[eventlog.Level]func(a ...any) string{
		eventlog.LevelDebug: color.New(color.Faint).SprintFunc(),
		eventlog.LevelInfo:  color.New(color.FgCyan).SprintFunc(),
		eventlog.LevelWarn:  color.New(color.FgYellow).SprintFunc(),
		eventlog.LevelError: color.New(color.FgRed).SprintFunc(),
	}
)

func testsCmd() {
	fs := flag.NewFlagSet("tests", flag.ExitOnError)
	common := addCommonFlags(fs)
	statusFlag := fs.String("status", "", "Filter by status: pending, completed, timeout")
	sinceFlag := fs.Duration("since", 0, "Only tests created within this window, e.g. 1h")
	limitFlag := fs.Int("limit", 20, "Maximum number of tests")
	offsetFlag := fs.Int("offset", 0, "Skip this many tests")
	matchFlag := fs.String("match", "", "Fuzzy-match test ids and requests")
	outputFlag := fs.String("output", "text", "Output format: text, json")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hookwait tests [flags]\n\n")
		fmt.Fprintf(os.Stderr, "List recorded tests, newest first.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	parse(fs)
	checkOutput(*outputFlag, "text", "json")

	f := lifecycle.Filter{Status: lifecycle.Status(*statusFlag)}
	if f.Status != "" && !f.Status.Valid() {
		fatalf("Error: invalid status %q", *statusFlag)
	}
	if *sinceFlag > 0 {
		f.From = time.Now().Add(-*sinceFlag)
	}

	e := setup(common)
	os.Exit(func() int {
		defer e.Close()
		ctx := context.Background()

		limit, offset := *limitFlag, *offsetFlag
		if *matchFlag != "" {
			limit, offset = matchWindow, 0
		}
		page, err := e.store.ListTests(ctx, f, limit, offset)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErrored
		}
		tests := page.Tests
		if *matchFlag != "" {
			tests = matchTests(tests, *matchFlag)
			if len(tests) > *limitFlag {
				tests = tests[:*limitFlag]
			}
		}

		if *outputFlag == "json" {
			out := page
			out.Tests = tests
			if err := runner.WriteJSON(os.Stdout, out, colorize()); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
				return exitErrored
			}
			return exitOK
		}
		printTests(os.Stdout, tests, time.Now())
		if *matchFlag == "" && page.HasMore {
			fmt.Fprintf(os.Stdout, "\n%d of %s tests shown (use --offset %d for more)\n",
				len(tests), humanize.Comma(page.Total), offset+len(tests))
		}
		return exitOK
	}())
}

// matchTests orders tests by fuzzy score against their id and request line,
// dropping those that do not match.
func matchTests(tests []*lifecycle.Test, pattern string) []*lifecycle.Test {
	data := make([]string, len(tests))
	for i, t := range tests {
		data[i] = t.ID + " " + t.RequestType
	}
	matches := fuzzy.Find(pattern, data)
	out := make([]*lifecycle.Test, 0, len(matches))
	for _, m := range matches {
		out = append(out, tests[m.Index])
	}
	return out
}

func printTests(w io.Writer, tests []*lifecycle.Test, now time.Time) {
	if len(tests) == 0 {
		fmt.Fprintln(w, "No tests found")
		return
	}
	for _, t := range tests {
		paint := statusColors[t.Status]
		if paint == nil {
			paint = fmt.Sprint
		}
		dur := "-"
		if t.Duration != nil {
			dur = formatMillis(*t.Duration)
		}
		fmt.Fprintf(w, "%-9s  %-36s  %-8s  %-16s  %s\n",
			paint(string(t.Status)), t.ID, dur,
			humanize.RelTime(t.CreatedAt, now, "ago", "from now"),
			shorten(t.RequestType, 60))
	}
}

func showCmd() {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	common := addCommonFlags(fs)
	logsFlag := fs.Bool("logs", true, "Include the test's event log")
	outputFlag := fs.String("output", "text", "Output format: text, json")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hookwait show [flags] <test-id>\n\n")
		fmt.Fprintf(os.Stderr, "Show one test with its request, response, payload and event log.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	parse(fs)
	checkOutput(*outputFlag, "text", "json")
	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: test id is required\n\n")
		fs.Usage()
		os.Exit(exitErrored)
	}

	e := setup(common)
	os.Exit(func() int {
		defer e.Close()
		ctx := context.Background()

		t, err := e.store.GetTest(ctx, fs.Arg(0))
		var nf *lifecycle.NotFoundError
		if errors.As(err, &nf) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitFailed
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErrored
		}

		var entries []*eventlog.Entry
		if *logsFlag {
			if entries, err = eventlog.NewStore(e.store.DB()).ByTest(ctx, t.ID); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return exitErrored
			}
		}

		if *outputFlag == "json" {
			out := map[string]any{"test": t}
			if *logsFlag {
				out["logs"] = entries
			}
			if err := runner.WriteJSON(os.Stdout, out, colorize()); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
				return exitErrored
			}
			return exitOK
		}
		printTest(os.Stdout, t)
		if *logsFlag {
			fmt.Fprintln(os.Stdout)
			printLogs(os.Stdout, entries)
		}
		return exitOK
	}())
}

func printTest(w io.Writer, t *lifecycle.Test) {
	paint := statusColors[t.Status]
	if paint == nil {
		paint = fmt.Sprint
	}
	fmt.Fprintf(w, "Test:     %s\n", t.ID)
	fmt.Fprintf(w, "Status:   %s\n", paint(string(t.Status)))
	fmt.Fprintf(w, "Request:  %s\n", t.RequestType)
	fmt.Fprintf(w, "Created:  %s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Deadline: %s\n", t.TimeoutAt.Format(time.RFC3339))
	if t.CompletedAt != nil {
		fmt.Fprintf(w, "Finished: %s\n", t.CompletedAt.Format(time.RFC3339))
	}
	if t.Duration != nil {
		fmt.Fprintf(w, "Duration: %s\n", formatMillis(*t.Duration))
	}
	if t.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", t.Error)
	}
	for _, section := range []struct {
		title string
		data  []byte
	}{
		{"Request", t.Request},
		{"Response", t.Response},
		{"Payload", t.Payload},
	} {
		if len(section.data) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", section.title)
		runner.WriteJSON(w, rawJSON(section.data), colorize())
	}
}

func logsCmd() {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	common := addCommonFlags(fs)
	testFlag := fs.String("test", "", "Only entries of this test id")
	eventFlag := fs.String("event", "", "Only this event type, e.g. callback-received")
	levelFlag := fs.String("level", "", "Only this level: debug, info, warn, error")
	sinceFlag := fs.Duration("since", 0, "Only entries within this window, e.g. 30m")
	limitFlag := fs.Int("limit", 50, "Maximum number of entries")
	offsetFlag := fs.Int("offset", 0, "Skip this many entries")
	outputFlag := fs.String("output", "text", "Output format: text, json")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hookwait logs [flags]\n\n")
		fmt.Fprintf(os.Stderr, "List event log entries, newest first.\n\n")
		fmt.Fprintf(os.Stderr, "Event types: %s\n\n", joinEventTypes())
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	parse(fs)
	checkOutput(*outputFlag, "text", "json")

	f := eventlog.Filter{
		TestID:    *testFlag,
		EventType: eventlog.EventType(*eventFlag),
		Level:     eventlog.Level(*levelFlag),
	}
	if f.EventType != "" && !f.EventType.Valid() {
		fatalf("Error: invalid event type %q (one of %s)", *eventFlag, joinEventTypes())
	}
	if f.Level != "" && !f.Level.Valid() {
		fatalf("Error: invalid level %q", *levelFlag)
	}
	if *sinceFlag > 0 {
		f.From = time.Now().Add(-*sinceFlag)
	}

	e := setup(common)
	os.Exit(func() int {
		defer e.Close()

		page, err := eventlog.NewStore(e.store.DB()).List(context.Background(), f, *limitFlag, *offsetFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErrored
		}
		if *outputFlag == "json" {
			if err := runner.WriteJSON(os.Stdout, page, colorize()); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
				return exitErrored
			}
			return exitOK
		}
		printLogs(os.Stdout, page.Entries)
		return exitOK
	}())
}

func printLogs(w io.Writer, entries []*eventlog.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No log entries")
		return
	}
	for _, e := range entries {
		fmt.Fprintln(w, formatEntry(e))
	}
}

func formatEntry(e *eventlog.Entry) string {
	paint := levelColors[e.Level]
	if paint == nil {
		paint = fmt.Sprint
	}
	return fmt.Sprintf("%s  %-5s  %-18s  %s  %s",
		e.Timestamp.Format("2006-01-02 15:04:05.000"),
		paint(strings.ToUpper(string(e.Level))),
		e.EventType, e.TestID, e.Message)
}

func joinEventTypes() string {
	names := make([]string, len(eventlog.EventTypes))
	for i, t := range eventlog.EventTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func statsCmd() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	common := addCommonFlags(fs)
	outputFlag := fs.String("output", "text", "Output format: text, json")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hookwait stats [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Print totals, success rate and average callback latency.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	parse(fs)
	checkOutput(*outputFlag, "text", "json")

	e := setup(common)
	os.Exit(func() int {
		defer e.Close()

		st, err := e.store.GetStats(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErrored
		}
		if *outputFlag == "json" {
			if err := runner.WriteJSON(os.Stdout, st, colorize()); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
				return exitErrored
			}
			return exitOK
		}
		printStats(os.Stdout, st)
		return exitOK
	}())
}

func printStats(w io.Writer, st lifecycle.Stats) {
	fmt.Fprintf(w, "Total tests:     %s\n", humanize.Comma(st.Total))
	fmt.Fprintf(w, "  completed:     %s\n", humanize.Comma(st.Completed))
	fmt.Fprintf(w, "  pending:       %s\n", humanize.Comma(st.Pending))
	fmt.Fprintf(w, "  timed out:     %s\n", humanize.Comma(st.TimedOut))
	fmt.Fprintf(w, "Success rate:    %d%%\n", st.SuccessRate)
	fmt.Fprintf(w, "Avg latency:     %s\n", formatMillis(time.Duration(st.AvgDuration)*time.Millisecond))
	fmt.Fprintf(w, "Last 24h:        %s\n", humanize.Comma(st.Recent))
}

func clearCmd() {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	common := addCommonFlags(fs)
	forceFlag := fs.Bool("force", false, "Required: confirm deleting every test and log entry")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hookwait clear --force [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Delete every recorded test together with its event log.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	parse(fs)
	if !*forceFlag {
		fmt.Fprintf(os.Stderr, "Error: refusing to clear without --force\n\n")
		fs.Usage()
		os.Exit(exitErrored)
	}

	e := setup(common)
	os.Exit(func() int {
		defer e.Close()

		n, err := e.store.ClearTests(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErrored
		}
		fmt.Printf("Deleted %s tests\n", humanize.Comma(n))
		return exitOK
	}())
}

// formatMillis renders a latency at millisecond precision.
func formatMillis(d time.Duration) string {
	switch {
	case d <= 0:
		return "0ms"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

func shorten(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// rawJSON lets WriteJSON re-indent stored snapshots verbatim.
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) {
	return r, nil
}

// marshalLine encodes v as one line of JSON without HTML escaping.
func marshalLine(v any) ([]byte, error) {
	data, err := protocol.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
