// Package httpserver is the HTTP surface of the service: the event socket,
// the publish API, stats, health and metrics.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/muzlik-gm/Portfolio-sub000/internal/adapter/metrics"
	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
	"github.com/muzlik-gm/Portfolio-sub000/internal/platform/config"
	"github.com/muzlik-gm/Portfolio-sub000/internal/pool"
	"github.com/prometheus/client_golang/prometheus"
)

type connectionPool interface {
	Acquire() (pool.Instance, error)
	Stats() pool.Stats
}

// statsCache is the subset of the Redis cache used for the stats endpoint.
type statsCache interface {
	GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(context.Context) ([]byte, error)) ([]byte, error)
}

// Deps are the collaborators the server routes to. Cache may be nil.
type Deps struct {
	Pool         connectionPool
	Publisher    domain.Publisher
	Verifier     domain.TokenVerifier
	Cache        statsCache
	Clock        clockwork.Clock
	Registry     *prometheus.Registry
	HTTPMetrics  *metrics.HTTPMetrics
	HealthChecks []HealthCheck
	NodeID       string
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	pool         connectionPool
	publisher    domain.Publisher
	verifier     domain.TokenVerifier
	cache        statsCache
	clock        clockwork.Clock
	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	healthChecks []HealthCheck
	nodeID       string

	upgrader  websocket.Upgrader
	startTime time.Time
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		pool:         deps.Pool,
		publisher:    deps.Publisher,
		verifier:     deps.Verifier,
		cache:        deps.Cache,
		clock:        deps.Clock,
		registry:     deps.Registry,
		httpMetrics:  deps.HTTPMetrics,
		healthChecks: deps.HealthChecks,
		nodeID:       deps.NodeID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     newCheckOrigin(cfg.AppURL, cfg.Origins(), cfg.IsDevelopment()),
		},
		startTime: deps.Clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port, "node_id", s.nodeID)
	if err := s.echo.Start(":" + s.config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests. Hijacked sockets are not tracked by the
// HTTP server; stop the pool to close them.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
