package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sadopc/hookwait/internal/config"
	"github.com/sadopc/hookwait/internal/core/eventlog"
	"github.com/sadopc/hookwait/internal/stream"
)

func tailCmd() {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	configFlag := fs.String("config", "", "Path to config file (default ~/.config/hookwait/config.yaml)")
	serverFlag := fs.String("server", "", "Server base URL (default from config)")
	testFlag := fs.String("test", "", "Only follow this test id")
	eventFlag := fs.String("event", "", "Only print this event type")
	jsonFlag := fs.Bool("json", false, "Print entries as JSON lines")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hookwait tail [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Follow the live event feed of a running 'hookwait serve'.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	parse(fs)

	event := eventlog.EventType(*eventFlag)
	if event != "" && !event.Valid() {
		fatalf("Error: invalid event type %q (one of %s)", *eventFlag, joinEventTypes())
	}

	base := *serverFlag
	if base == "" {
		cfg, err := config.Load(*configFlag)
		if err != nil {
			fatalf("Error: %v", err)
		}
		base = cfg.PublicBaseURL()
	}

	ctx, cancel := signalContext()
	defer cancel()

	c := stream.New()
	if err := c.Connect(ctx, base, *testFlag, nil); err != nil {
		fatalf("Error: %v", err)
	}
	defer c.Close()
	fmt.Fprintf(os.Stderr, "Following %s (Ctrl+C to stop)\n", base)

	msgs := make(chan stream.Message, 64)
	go c.ReadEntries(ctx, msgs)

	code := exitOK
	for m := range msgs {
		if m.Err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", m.Err)
			code = exitErrored
			continue
		}
		if event != "" && m.Entry.EventType != event {
			continue
		}
		if *jsonFlag {
			data, err := marshalLine(m.Entry)
			if err != nil {
				continue
			}
			os.Stdout.Write(data)
			continue
		}
		fmt.Println(formatEntry(m.Entry))
	}
	c.Close()
	cancel()
	os.Exit(code)
}
