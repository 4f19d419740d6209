package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/atotto/clipboard"

	"github.com/sadopc/hookwait/internal/runner"
)

func urlCmd() {
	fs := flag.NewFlagSet("url", flag.ExitOnError)
	common := addCommonFlags(fs)
	copyFlag := fs.Bool("copy", false, "Copy the URL to the clipboard")
	jsonFlag := fs.Bool("json", false, "Print {testId, webhookUrl} as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hookwait url [flags] [test-id]\n\n")
		fmt.Fprintf(os.Stderr, "Print the webhook URL for test-id. A random id is generated when omitted.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	parse(fs)

	cfg, err := common.load()
	if err != nil {
		fatalf("Error: %v", err)
	}
	id := fs.Arg(0)
	if id == "" {
		id = runner.NewTestID()
	}
	webhookURL := cfg.WebhookURL(id)

	if *jsonFlag {
		out := map[string]string{"testId": id, "webhookUrl": webhookURL}
		if err := runner.WriteJSON(os.Stdout, out, colorize()); err != nil {
			fatalf("Error writing output: %v", err)
		}
	} else {
		fmt.Println(webhookURL)
	}

	if *copyFlag {
		if err := clipboard.WriteAll(webhookURL); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not copy to clipboard: %v\n", err)
			os.Exit(exitFailed)
		}
		fmt.Fprintf(os.Stderr, "Copied to clipboard\n")
	}
}
