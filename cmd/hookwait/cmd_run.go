package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/sadopc/hookwait/internal/export"
	httpclient "github.com/sadopc/hookwait/internal/protocol/http"
	"github.com/sadopc/hookwait/internal/runner"
	"github.com/sadopc/hookwait/internal/server"
)

const shutdownTimeout = 5 * time.Second

// startServer starts the embedded callback server. When the port is taken
// another instance receives callbacks into the same database, so the wait
// still works. The returned stop func is always safe to call.
func startServer(ctx context.Context, e *env, disabled bool) (*server.Server, func(), error) {
	srv := server.New(e.cfg, e.store, server.WithLogger(e.log))
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			e.log.Warn("callback server shutdown", zap.Error(err))
		}
	}
	if disabled {
		return srv, stop, nil
	}
	err := srv.Start(ctx)
	switch {
	case errors.Is(err, server.ErrAddrInUse):
		e.log.Warn("callback port in use, relying on the running instance",
			zap.String("addr", e.cfg.ListenAddr()))
	case err != nil:
		return nil, stop, err
	}
	return srv, stop, nil
}

func newExecutor(rf *requestFlags) *httpclient.Client {
	c := httpclient.New()
	c.SetTimeout(*rf.reqTimeout)
	if *rf.proxy != "" {
		c.SetProxy(*rf.proxy, *rf.noProxy)
	}
	return c
}

func colorize() bool {
	return !color.NoColor
}

func runCmd() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	common := addCommonFlags(fs)
	rf := addRequestFlags(fs)
	cf := addCheckFlags(fs)
	suiteFlag := fs.String("suite", "", "Run a YAML suite of chained webhook tests")
	vars := varFlag{}
	fs.Var(vars, "var", "Suite variable key=value (repeatable)")
	outputFlag := fs.String("output", "text", "Output format: text, json, junit")
	verboseFlag := fs.Bool("verbose", false, "Show webhook URLs, script logs and payloads")
	noServerFlag := fs.Bool("no-server", false, "Do not start the embedded callback server")
	saveBaselineFlag := fs.String("save-baseline", "", "Save callback latencies as a baseline file")
	baselineFlag := fs.String("baseline", "", "Compare callback latencies against a baseline file")
	thresholdFlag := fs.Float64("threshold", 20.0, "Regression threshold percentage")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hookwait run [flags] [curl command]\n\n")
		fmt.Fprintf(os.Stderr, "Send a request, then block until its webhook arrives or the timeout passes.\n")
		fmt.Fprintf(os.Stderr, "Every {{WEBHOOK_URL}} in the request is replaced with the test's callback URL.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  hookwait run --id pay-001 \"curl -X POST https://api.example.com/pay -d '{\\\"callback\\\":\\\"{{WEBHOOK_URL}}\\\"}'\"\n")
		fmt.Fprintf(os.Stderr, "  hookwait run --id job-1 --url https://api.example.com/jobs --data '{\"cb\":\"{{WEBHOOK_URL}}\"}' --script checks.js\n")
		fmt.Fprintf(os.Stderr, "  hookwait run --suite checkout.yaml --var env=staging --output junit > results.xml\n")
		fmt.Fprintf(os.Stderr, "\nExit codes:\n")
		fmt.Fprintf(os.Stderr, "  0  Webhook received and all assertions passed\n")
		fmt.Fprintf(os.Stderr, "  1  One or more assertions failed\n")
		fmt.Fprintf(os.Stderr, "  2  Request error, timeout or invalid input\n")
	}

	parse(fs)
	checkOutput(*outputFlag, "text", "json", "junit")

	e := setup(common)
	os.Exit(func() int {
		defer e.Close()

		ctx, cancel := signalContext()
		defer cancel()

		srv, stop, err := startServer(ctx, e, *noServerFlag)
		defer stop()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErrored
		}
		r := runner.New(e.store, srv.Correlator(), newExecutor(rf), e.cfg, runner.WithLogger(e.log))

		if *suiteFlag != "" {
			return runSuite(ctx, r, *suiteFlag, vars, *outputFlag, *verboseFlag)
		}

		in, err := rf.input(fs)
		if err == nil {
			err = cf.apply(&in)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErrored
		}

		result, err := r.Run(ctx, in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			var verr *runner.ValidationError
			if errors.As(err, &verr) {
				fmt.Fprintln(os.Stderr)
				fs.Usage()
			}
			return exitErrored
		}
		results := []*runner.Result{result}
		if err := printResults(results, *outputFlag, *verboseFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
			return exitErrored
		}

		if code := baselineStep(results, *saveBaselineFlag, *baselineFlag, *thresholdFlag); code != exitOK {
			return code
		}
		return runner.ExitCode(results)
	}())
}

func runSuite(ctx context.Context, r *runner.Runner, path string, vars varFlag, output string, verbose bool) int {
	s, err := runner.LoadSuite(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitErrored
	}
	res := r.RunSuite(ctx, s, vars)

	switch output {
	case "json":
		err = runner.WriteJSON(os.Stdout, res, colorize())
	case "junit":
		err = runner.PrintJUnit(os.Stdout, res.Steps)
	default:
		runner.PrintSuiteText(os.Stdout, res, verbose)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		return exitErrored
	}

	if code := runner.ExitCode(res.Steps); code != exitOK {
		return code
	}
	if !res.Success {
		return exitErrored
	}
	return exitOK
}

func printResults(results []*runner.Result, output string, verbose bool) error {
	switch output {
	case "json":
		return runner.PrintJSON(os.Stdout, results, colorize())
	case "junit":
		return runner.PrintJUnit(os.Stdout, results)
	}
	runner.PrintText(os.Stdout, results, verbose)
	return nil
}

func baselineStep(results []*runner.Result, savePath, comparePath string, threshold float64) int {
	if savePath != "" {
		if err := runner.SaveBaseline(savePath, results); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving baseline: %v\n", err)
			return exitErrored
		}
		fmt.Fprintf(os.Stderr, "Baseline saved to %s\n", savePath)
	}
	if comparePath != "" {
		baseline, err := runner.LoadBaseline(comparePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading baseline: %v\n", err)
			return exitErrored
		}
		comparisons := runner.CompareBaseline(results, baseline, threshold)
		runner.PrintComparison(os.Stdout, comparisons, threshold)
		if runner.HasRegressions(comparisons) {
			return exitFailed
		}
	}
	return exitOK
}

func waitCmd() {
	fs := flag.NewFlagSet("wait", flag.ExitOnError)
	common := addCommonFlags(fs)
	cf := addCheckFlags(fs)
	timeoutFlag := fs.Duration("timeout", 0, "How long to wait (default from config)")
	outputFlag := fs.String("output", "text", "Output format: text, json, junit")
	verboseFlag := fs.Bool("verbose", false, "Show the webhook payload")
	noServerFlag := fs.Bool("no-server", false, "Do not start the embedded callback server")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hookwait wait [flags] <test-id>\n\n")
		fmt.Fprintf(os.Stderr, "Block until the webhook for test-id arrives. A test that does not exist yet\n")
		fmt.Fprintf(os.Stderr, "is created, so the URL from 'hookwait url' can be handed out first.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	parse(fs)
	checkOutput(*outputFlag, "text", "json", "junit")
	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: test id is required\n\n")
		fs.Usage()
		os.Exit(exitErrored)
	}

	e := setup(common)
	os.Exit(func() int {
		defer e.Close()

		ctx, cancel := signalContext()
		defer cancel()

		srv, stop, err := startServer(ctx, e, *noServerFlag)
		defer stop()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErrored
		}
		r := runner.New(e.store, srv.Correlator(), httpclient.New(), e.cfg, runner.WithLogger(e.log))

		in := runner.Input{TestID: fs.Arg(0), Timeout: *timeoutFlag}
		if err := cf.apply(&in); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErrored
		}
		fmt.Fprintf(os.Stderr, "Waiting for webhook at %s\n", e.cfg.WebhookURL(in.TestID))

		result, err := r.WaitWithChecks(ctx, in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErrored
		}
		results := []*runner.Result{result}
		if err := printResults(results, *outputFlag, *verboseFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
			return exitErrored
		}
		return runner.ExitCode(results)
	}())
}

// sendOutput is the JSON shape printed by send.
type sendOutput struct {
	TestID     string `json:"testId,omitempty"`
	WebhookURL string `json:"webhookUrl,omitempty"`
	Request    any    `json:"httpRequest"`
	Response   any    `json:"httpResponse,omitempty"`
	Curl       string `json:"curl,omitempty"`
}

func sendCmd() {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	common := addCommonFlags(fs)
	rf := addRequestFlags(fs)
	dryRunFlag := fs.Bool("dry-run", false, "Print the resolved request as a curl command without sending it")
	outputFlag := fs.String("output", "text", "Output format: text, json")
	verboseFlag := fs.Bool("verbose", false, "Show response headers")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hookwait send [flags] [curl command]\n\n")
		fmt.Fprintf(os.Stderr, "Send a request with the webhook placeholder resolved, without registering\n")
		fmt.Fprintf(os.Stderr, "or waiting. Pair with 'hookwait wait <id>' to receive the callback.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	parse(fs)
	checkOutput(*outputFlag, "text", "json")

	e := setup(common)
	os.Exit(func() int {
		defer e.Close()

		ctx, cancel := signalContext()
		defer cancel()

		r := runner.New(e.store, nil, newExecutor(rf), e.cfg, runner.WithLogger(e.log))
		in, err := rf.input(fs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErrored
		}
		var webhookURL string
		in.TestID, webhookURL = r.WebhookURL(in.TestID)

		if *dryRunFlag {
			req, err := r.BuildRequest(in)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return exitErrored
			}
			if *outputFlag == "json" {
				err = runner.WriteJSON(os.Stdout, sendOutput{TestID: in.TestID, WebhookURL: webhookURL, Request: req, Curl: export.AsCurl(req)}, colorize())
			} else {
				fmt.Println(export.AsCurl(req))
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
				return exitErrored
			}
			return exitOK
		}

		req, resp, err := r.Send(ctx, in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErrored
		}

		if *outputFlag == "json" {
			if err := runner.WriteJSON(os.Stdout, sendOutput{TestID: in.TestID, WebhookURL: webhookURL, Request: req, Response: resp}, colorize()); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
				return exitErrored
			}
		} else {
			runner.PrintResponse(os.Stdout, req, resp, *verboseFlag)
			fmt.Fprintf(os.Stdout, "\nWebhook URL: %s\n", webhookURL)
			fmt.Fprintf(os.Stdout, "Receive it with: hookwait wait %s\n", in.TestID)
		}
		if !resp.IsSuccess() {
			return exitFailed
		}
		return exitOK
	}())
}
