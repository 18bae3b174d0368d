// Command ingest indexes book files into the configured storage backend and
// runs ad-hoc searches against it.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"bookrag/internal/app"
	"bookrag/internal/config"
)

func load(ctx context.Context) (*app.App, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(cfg.NewLogger())

	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, cleanup := newRootCmd(load)
	err := root.ExecuteContext(ctx)
	if cerr := cleanup(); cerr != nil {
		slog.Error("Failed to release resources", "error", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}
