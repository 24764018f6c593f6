// Package server exposes the trade-negotiation gateway over HTTP and
// WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/barterline/swapd/internal/domain"
	"github.com/barterline/swapd/internal/server/handler"
	"github.com/barterline/swapd/internal/server/middleware"
	"github.com/barterline/swapd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// rate limiting even when a limiter is supplied.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Offers may be nil when the gateway runs without the offer store.
type Handlers struct {
	Health      *handler.HealthHandler
	Negotiation *handler.NegotiationHandler
	Offers      *handler.OffersHandler
}

// Server is the HTTP + WebSocket gateway for the swap negotiation service.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limiting, auth, logging, CORS) and attaches the
// WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Liveness probe.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Negotiation session endpoints.
	mux.HandleFunc("POST /api/sessions", handlers.Negotiation.StartSession)
	mux.HandleFunc("GET /api/sessions/{chatID}", handlers.Negotiation.GetSession)
	mux.HandleFunc("DELETE /api/sessions/{chatID}", handlers.Negotiation.EndSession)
	mux.HandleFunc("POST /api/sessions/{chatID}/selection", handlers.Negotiation.SelectProducts)
	mux.HandleFunc("POST /api/sessions/{chatID}/messages", handlers.Negotiation.SendMessage)
	mux.HandleFunc("GET /api/sessions/{chatID}/review", handlers.Negotiation.Review)
	mux.HandleFunc("POST /api/sessions/{chatID}/confirm", handlers.Negotiation.Confirm)
	mux.HandleFunc("POST /api/sessions/{chatID}/cancel", handlers.Negotiation.Cancel)
	mux.HandleFunc("POST /api/sessions/{chatID}/view/close", handlers.Negotiation.CloseConfirmView)

	// Chat transcript endpoint.
	mux.HandleFunc("GET /api/chats/{chatID}/history", handlers.Negotiation.History)

	// Confirmed offer history endpoints.
	if handlers.Offers != nil {
		mux.HandleFunc("GET /api/offers", handlers.Offers.ListOffers)
		mux.HandleFunc("GET /api/offers/{id}", handlers.Offers.GetOffer)
	}

	// Live chat bridge.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Middleware wraps outside-in: CORS answers preflights first, logging
	// sees every request, then rate limiting and auth gate the handlers.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
