// Package server assembles the sync backend HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/iudanet/gophsync/internal/server/handlers"
	"github.com/iudanet/gophsync/internal/server/middleware"
)

// Backend is the service behind the HTTP API.
type Backend interface {
	handlers.SyncService
	handlers.HealthChecker
	// RunRetention purges the change log periodically until ctx is done
	RunRetention(ctx context.Context) error
}

// RouterConfig collects the router dependencies.
type RouterConfig struct {
	Logger  *slog.Logger
	Backend Backend
	Tokens  middleware.TokenValidator
	// Limiter nil отключает ограничение частоты
	Limiter *middleware.RateLimiter
	// Gatherer nil отключает /metrics
	Gatherer prometheus.Gatherer
	Version  string
}

// NewRouter builds the API handler:
//
//	POST /api/v1/scopes/{scope}/push
//	GET  /api/v1/scopes/{scope}/changes
//	POST /api/v1/scopes/{scope}/cursor
//	GET  /api/v1/scopes/{scope}/subscribe (WebSocket)
//	GET  /api/v1/health
//	GET  /metrics
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	syncHandler := handlers.NewSyncHandler(cfg.Logger, cfg.Backend)
	healthHandler := handlers.NewHealthHandler(cfg.Logger, cfg.Backend, cfg.Version)

	// лимит считается по устройству, поэтому он стоит после проверки токена
	protect := func(h http.HandlerFunc) http.Handler {
		var handler http.Handler = h
		if cfg.Limiter != nil {
			handler = middleware.RateLimitMiddleware(cfg.Limiter, cfg.Logger)(handler)
		}
		return middleware.AuthMiddleware(cfg.Logger, cfg.Tokens)(handler)
	}

	mux.Handle("POST /api/v1/scopes/{scope}/push", protect(syncHandler.Push))
	mux.Handle("GET /api/v1/scopes/{scope}/changes", protect(syncHandler.Changes))
	mux.Handle("POST /api/v1/scopes/{scope}/cursor", protect(syncHandler.ReportCursor))
	mux.Handle("GET /api/v1/scopes/{scope}/subscribe", protect(syncHandler.Subscribe))
	mux.HandleFunc("GET /api/v1/health", healthHandler.Health)
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	handler = middleware.LoggingWithSkip(cfg.Logger, []string{"/api/v1/health", "/metrics"})(handler)
	handler = middleware.RecoveryMiddleware(cfg.Logger)(handler)
	return handler
}

// Server runs the HTTP API and the change log retention loop.
type Server struct {
	handler         http.Handler
	backend         Backend
	logger          *slog.Logger
	addr            string
	shutdownTimeout time.Duration
}

// New creates a server listening on addr.
func New(addr string, handler http.Handler, backend Backend, shutdownTimeout time.Duration, logger *slog.Logger) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Server{
		handler:         handler,
		backend:         backend,
		logger:          logger,
		addr:            addr,
		shutdownTimeout: shutdownTimeout,
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully. Live
// subscriptions are hijacked connections that Shutdown does not track;
// their request contexts are cancelled once Shutdown returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Server listening", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.backend.RunRetention(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		// подписки завершаются после обычных запросов
		cancelBase()
		if err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}
