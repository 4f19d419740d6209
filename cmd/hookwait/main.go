package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/sadopc/hookwait/internal/config"
	"github.com/sadopc/hookwait/internal/core/lifecycle"
	"github.com/sadopc/hookwait/internal/logging"
	"github.com/sadopc/hookwait/pkg/version"
)

// Exit codes shared by every command.
const (
	exitOK      = 0
	exitFailed  = 1
	exitErrored = 2
)

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(exitErrored)
	}
	switch os.Args[1] {
	case "serve":
		serveCmd()
	case "run":
		runCmd()
	case "send":
		sendCmd()
	case "wait":
		waitCmd()
	case "url":
		urlCmd()
	case "tests":
		testsCmd()
	case "show":
		showCmd()
	case "logs":
		logsCmd()
	case "stats":
		statsCmd()
	case "clear":
		clearCmd()
	case "tail":
		tailCmd()
	case "completion":
		completionCmd()
	case "version", "--version":
		fmt.Printf("hookwait %s\n", version.String())
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", os.Args[1])
		printHelp()
		os.Exit(exitErrored)
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `hookwait - test HTTP integrations that answer with a webhook

Usage:
  hookwait <command> [args] [flags]

Commands:
  serve       Run the callback server and query API
  run         Send a request and wait for its webhook
  send        Send a request without waiting
  wait        Wait for a webhook on an existing or new test id
  url         Print the webhook URL for a test id
  tests       List recorded tests
  show        Show one test with its event log
  logs        List event log entries
  stats       Print aggregate statistics
  clear       Delete every recorded test
  tail        Follow the live event feed of a running server
  completion  Generate shell completion scripts (bash, zsh, fish)
  version     Print version information
  help        Show this help message

Configuration is read from ~/.config/hookwait/config.yaml (or --config) and
the WEBHOOK_PORT, WEBHOOK_BASE_URL, DB_PATH and HOOKWAIT_* environment
variables.

Run 'hookwait <command> --help' for more information about a command.
`)
}

// commonFlags are accepted by every command that touches the store.
type commonFlags struct {
	config  *string
	db      *string
	port    *int
	baseURL *string
	level   *string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		config:  fs.String("config", "", "Path to config file (default ~/.config/hookwait/config.yaml)"),
		db:      fs.String("db", "", "SQLite database path (overrides DB_PATH)"),
		port:    fs.Int("port", 0, "Callback server port (overrides WEBHOOK_PORT)"),
		baseURL: fs.String("base-url", "", "Public base URL for webhook URLs (overrides WEBHOOK_BASE_URL)"),
		level:   fs.String("log-level", "", "Log level: debug, info, warn, error"),
	}
}

// load resolves the configuration: file, then environment, then flags.
func (f *commonFlags) load() (config.Config, error) {
	cfg, err := config.Load(*f.config)
	if err != nil {
		return cfg, err
	}
	if *f.db != "" {
		cfg.DBPath = *f.db
	}
	if *f.port != 0 {
		cfg.Port = *f.port
	}
	if *f.baseURL != "" {
		cfg.BaseURL = *f.baseURL
	}
	if *f.level != "" {
		cfg.LogLevel = *f.level
	}
	return cfg, cfg.Validate()
}

// env bundles what most commands need.
type env struct {
	cfg   config.Config
	log   *zap.Logger
	store *lifecycle.Store
}

func (e *env) Close() {
	if e.store != nil {
		e.store.Close()
	}
	_ = e.log.Sync()
}

// setup loads config, builds the logger and opens the store, exiting with
// code 2 on failure.
func setup(f *commonFlags) *env {
	cfg, err := f.load()
	if err != nil {
		fatalf("Error: %v", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		fatalf("Error: %v", err)
	}
	store, err := lifecycle.Open(context.Background(), cfg.DBPath, lifecycle.WithLogger(log))
	if err != nil {
		fatalf("Error opening database: %v", err)
	}
	return &env{cfg: cfg, log: log, store: store}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(exitErrored)
}

func checkOutput(format string, allowed ...string) {
	for _, a := range allowed {
		if format == a {
			return
		}
	}
	fatalf("Error: invalid output format %q (must be %s)", format, strings.Join(allowed, ", "))
}

// parse parses args after the command name and exits on error.
func parse(fs *flag.FlagSet) {
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(exitErrored)
	}
}
