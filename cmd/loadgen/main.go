// Access ledger load generator.
// Drives create_user traffic against a running facade and reports latency.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gateway-fm/accessledger/internal/config"
	"github.com/gateway-fm/accessledger/internal/loadgen"
)

func main() {
	cfg, err := config.LoadLoadGen(os.Args[1:])
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	gen, err := loadgen.New(cfg, loadgen.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to create load generator", "error", err)
		os.Exit(1)
	}

	// Interrupt stops dispatch and still prints what completed.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := gen.Run(ctx)
	if summary != nil {
		loadgen.LogSummary(logger, summary)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("load test failed", "error", err)
		os.Exit(1)
	}
}
