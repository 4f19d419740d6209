package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/sadopc/hookwait/internal/server"
)

func serveCmd() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	common := addCommonFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hookwait serve [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Run the callback server. Webhooks are accepted on POST /webhook/<test-id>,\n")
		fmt.Fprintf(os.Stderr, "failures on POST /webhook/<test-id>/fail. The query API lives under /api,\n")
		fmt.Fprintf(os.Stderr, "live events on /api/events and Prometheus metrics on /metrics.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	parse(fs)

	e := setup(common)
	os.Exit(func() int {
		defer e.Close()

		ctx, cancel := signalContext()
		defer cancel()

		srv := server.New(e.cfg, e.store, server.WithLogger(e.log))
		e.log.Info("Starting server",
			zap.String("db", e.cfg.DBPath),
			zap.String("webhook_url", e.cfg.WebhookURL("<test-id>")))
		if err := srv.Run(ctx); err != nil {
			if errors.Is(err, server.ErrAddrInUse) {
				fmt.Fprintf(os.Stderr, "Error: %v (is another hookwait serve running?)\n", err)
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			return exitErrored
		}
		return exitOK
	}())
}
