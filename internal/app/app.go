// Package app assembles the negotiation service: it wires the message bus,
// stores, caches, blob storage, and notifiers, then runs the goroutines the
// configured mode calls for.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/barterline/swapd/internal/config"
)

// App owns the process lifecycle: configuration, the root logger, and the
// cleanup stack unwound on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the dependencies, dispatches on the configured mode, and blocks
// until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting swapd",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "gateway":
		return a.GatewayMode(ctx, deps)
	case "archiver":
		return a.ArchiverMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close unwinds the cleanup stack in reverse registration order. Calling it
// again is a no-op.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
