package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/barterline/swapd/internal/negotiation"
	"github.com/barterline/swapd/internal/server"
	"github.com/barterline/swapd/internal/server/handler"
	"github.com/barterline/swapd/internal/server/ws"
	"github.com/barterline/swapd/internal/service"
)

// GatewayMode runs the negotiation gateway: the HTTP + WebSocket API backed by
// the chat bus, the swap platform API, and (when available) the offer store.
func (a *App) GatewayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting gateway mode")

	g, ctx := errgroup.WithContext(ctx)

	svc, err := a.buildNegotiationService(deps)
	if err != nil {
		return err
	}

	a.startHTTPServer(ctx, g, deps, svc)

	return g.Wait()
}

// ArchiverMode periodically exports confirmed offers older than the retention
// window to object storage. The HTTP server is not started.
func (a *App) ArchiverMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archiver mode")

	if deps.Archiver == nil {
		return fmt.Errorf("app: archiver mode requires postgres and s3")
	}

	return a.runArchiveLoop(ctx, deps)
}

// FullMode runs the gateway plus the archive loop when archiving is enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svc, err := a.buildNegotiationService(deps)
	if err != nil {
		return err
	}

	a.startHTTPServer(ctx, g, deps, svc)

	if a.cfg.Archive.Enabled {
		if deps.Archiver == nil {
			a.logger.WarnContext(ctx, "archive enabled but archiver unavailable; skipping")
		} else {
			g.Go(func() error {
				return a.runArchiveLoop(ctx, deps)
			})
		}
	}

	return g.Wait()
}

// buildNegotiationService assembles the confirmation gate and the negotiation
// service from the wired dependencies.
func (a *App) buildNegotiationService(deps *Dependencies) (*service.NegotiationService, error) {
	gate := negotiation.NewGate(
		deps.Lookup,
		deps.ProductCache,
		a.cfg.Negotiation.FairnessThreshold,
		a.logger,
	)

	svc, err := service.NewNegotiationService(service.Config{
		Bus:       deps.Bus,
		Submitter: deps.Submitter,
		Gate:      gate,
		Offers:    deps.OfferStore,
		Locks:     deps.LockManager,
		Notifier:  deps.Notifier,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: build negotiation service: %w", err)
	}
	return svc, nil
}

// startHTTPServer wires the handlers, the WebSocket hub, and the HTTP server
// into the errgroup. The server shuts down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.NegotiationService) {
	if !a.cfg.Server.Enabled {
		a.logger.Warn("HTTP server disabled by config; gateway API unavailable")
		return
	}

	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{})
	g.Go(func() error {
		err := hub.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(a.cfg.Mode),
		Negotiation: handler.NewNegotiationHandler(svc, a.logger),
	}
	if deps.OfferStore != nil {
		handlers.Offers = handler.NewOffersHandler(deps.OfferStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// runArchiveLoop exports offers older than the retention window on every tick.
// An immediate export runs at startup so a crashed archiver catches up fast.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := a.cfg.Archive.RetentionDays
	if retention <= 0 {
		retention = 90
	}

	archive := func() {
		before := time.Now().UTC().AddDate(0, 0, -retention)
		n, err := deps.Archiver.ArchiveOffers(ctx, before)
		if err != nil {
			a.logger.ErrorContext(ctx, "offer archive failed",
				slog.String("error", err.Error()),
			)
			return
		}
		a.logger.InfoContext(ctx, "offer archive complete",
			slog.Int64("offers", n),
			slog.Time("before", before),
		)
	}

	archive()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			archive()
		}
	}
}
