// Package api exposes the HTTP surface: a health endpoint, read-only page
// endpoints for initial render and history, and the WebSocket upgrade that
// hands the connection to a session. All mutation flows through sessions;
// there is no REST write path.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/rs/cors"

	"github.com/aidekit/scribe/pkg/config"
	"github.com/aidekit/scribe/pkg/events"
	"github.com/aidekit/scribe/pkg/session"
	"github.com/aidekit/scribe/pkg/store"
)

// Server owns the echo router and the http.Server wrapping it.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	cfg        *config.Config
	reader     store.Reader
	runner     session.Runner
	hub        *events.Hub
	profiles   session.ProfileSwitcher
	logger     *slog.Logger
}

// NewServer builds the router with all routes and middleware registered.
// profiles is nil outside mock mode; sessions then reject set_profile.
func NewServer(cfg *config.Config, reader store.Reader, runner session.Runner, hub *events.Hub, profiles session.ProfileSwitcher, logger *slog.Logger) *Server {
	s := &Server{
		echo:     echo.New(),
		cfg:      cfg,
		reader:   reader,
		runner:   runner,
		hub:      hub,
		profiles: profiles,
		logger:   logger,
	}
	s.echo.Use(securityHeaders(), requestLogger(logger), recoverPanics(logger))
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.healthHandler)
	s.echo.GET("/api/v1/aides/:id/snapshot", s.snapshotHandler)
	s.echo.GET("/api/v1/aides/:id/turns", s.turnsHandler)
	s.echo.GET("/ws/aides/:id", s.wsHandler)
}

// Handler returns the fully wrapped http.Handler (CORS outermost, so
// preflight requests resolve before routing).
func (s *Server) Handler() http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
	}
	if len(s.cfg.AllowedOrigins) > 0 {
		opts.AllowedOrigins = s.cfg.AllowedOrigins
		opts.AllowCredentials = true
	}
	return cors.New(opts).Handler(s.echo)
}

// Start blocks serving HTTP until Shutdown or a listener error. ctx becomes
// the base of every request context, so cancelling it tears down WebSocket
// sessions that Shutdown alone would leave hanging (hijacked connections are
// outside its reach).
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.StartWithListener(ctx, ln)
}

// StartWithListener serves on an existing listener. Tests use this with a
// random port.
func (s *Server) StartWithListener(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	return s.httpServer.Serve(ln)
}

// Shutdown stops the HTTP server. Open WebSocket sessions are closed by
// their own lifecycle when the base context is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
