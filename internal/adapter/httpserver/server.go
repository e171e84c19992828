// Package httpserver exposes the REST API, the WebSocket endpoint and the
// operational endpoints over echo.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/metrics"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/auth"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/platform/config"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
)

type appService interface {
	CreateStream(ctx context.Context, name string) (*domain.Stream, error)
	ListStreams(ctx context.Context) ([]domain.Stream, error)
	GetStream(ctx context.Context, streamID string) (*domain.Snapshot, error)
	LookupStream(ctx context.Context, streamID string) (*domain.Stream, error)
	AddTask(ctx context.Context, streamID, userName, description string) (*domain.Task, error)
	Vote(ctx context.Context, taskID string) (int64, error)
	SetStatus(ctx context.Context, taskID string, status domain.Status) (*domain.Task, error)
	DeleteTask(ctx context.Context, taskID string) error
}

type tokenService interface {
	Login(username, password string) (*auth.Token, error)
	Verify(token string) (*auth.Claims, error)
}

type roomRegistry interface {
	Join(conn *websocket.Conn, streamID string) error
	Leave(conn *websocket.Conn)
}

// RateLimitStore is the distributed token bucket behind the public endpoints.
type RateLimitStore interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	app    appService
	tokens tokenService
	rooms  roomRegistry

	upgrader     websocket.Upgrader
	wsLimits     *connectionLimits
	rateStore    RateLimitStore
	httpMetrics  *metrics.HTTPMetrics
	wsMetrics    *metrics.BroadcastMetrics
	metricsPage  http.Handler
	healthChecks []HealthCheck
	startTime    time.Time
}

// Option customizes a Server.
type Option func(*Server)

// WithRateLimitStore shares public rate limits across instances through store.
// Without it each instance limits in memory.
func WithRateLimitStore(store RateLimitStore) Option {
	return func(s *Server) { s.rateStore = store }
}

// WithMetrics instruments requests and serves page at /metrics.
func WithMetrics(httpMetrics *metrics.HTTPMetrics, wsMetrics *metrics.BroadcastMetrics, page http.Handler) Option {
	return func(s *Server) {
		s.httpMetrics = httpMetrics
		s.wsMetrics = wsMetrics
		s.metricsPage = page
	}
}

func WithHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) { s.healthChecks = checks }
}

func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

func NewServer(cfg *config.Config, app appService, tokens tokenService, rooms roomRegistry, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:   e,
		config: cfg,
		clock:  clockwork.NewRealClock(),
		app:    app,
		tokens: tokens,
		rooms:  rooms,
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.startTime = srv.clock.Now()
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     NewCheckOrigin(cfg.PublicURL, cfg.CORSOrigins, !cfg.IsProduction()),
	}
	srv.wsLimits = newConnectionLimits(cfg.MaxWebSocketConnections, cfg.MaxConnectionsPerIP, srv.wsMetrics)

	srv.registerRoutes()
	return srv
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
