package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/muzlik-gm/Portfolio-sub000/internal/adapter/eventpublisher"
	"github.com/muzlik-gm/Portfolio-sub000/internal/adapter/httpserver"
	"github.com/muzlik-gm/Portfolio-sub000/internal/adapter/metrics"
	"github.com/muzlik-gm/Portfolio-sub000/internal/adapter/redis"
	"github.com/muzlik-gm/Portfolio-sub000/internal/auth"
	"github.com/muzlik-gm/Portfolio-sub000/internal/broadcast"
	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
	"github.com/muzlik-gm/Portfolio-sub000/internal/events"
	"github.com/muzlik-gm/Portfolio-sub000/internal/platform/config"
	"github.com/muzlik-gm/Portfolio-sub000/internal/platform/logging"
	"github.com/muzlik-gm/Portfolio-sub000/internal/platform/version"
	"github.com/muzlik-gm/Portfolio-sub000/internal/pool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
)

// redisDeps is everything that exists only when REDIS_URL is set.
type redisDeps struct {
	client  *goredis.Client
	cache   *redis.Cache
	metrics *metrics.RedisMetrics
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) *redisDeps {
	if cfg.RedisURL == "" {
		slog.Info("REDIS_URL not set, running as a single node without shared cache")
		return nil
	}

	redisMetrics := metrics.NewRedisMetrics(reg)
	client, err := redis.NewClient(ctx, cfg.RedisURL, redisMetrics)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	cacheCfg := redis.DefaultCacheConfig()
	cacheCfg.Prefix = cfg.RedisPrefix

	return &redisDeps{
		client:  client,
		cache:   redis.NewCache(client, cacheCfg, metrics.NewCacheMetrics(reg)),
		metrics: redisMetrics,
	}
}

func setupPool(cfg *config.Config, verifier domain.TokenVerifier, clock clockwork.Clock, reg prometheus.Registerer) *pool.Pool {
	wsMetrics := metrics.NewWebSocketMetrics(reg)

	factory := func(id string) pool.Instance {
		bcfg := broadcast.Config{
			InstanceID:               id,
			HeartbeatInterval:        cfg.HeartbeatInterval,
			HeartbeatTimeoutMultiple: cfg.HeartbeatTimeoutMultiple,
			MaxConnections:           cfg.PoolConnectionsPerInstance,
		}
		return broadcast.NewBroadcaster(bcfg, verifier, clock, wsMetrics)
	}

	return pool.New(pool.Config{
		MinInstances:           cfg.PoolMinInstances,
		MaxInstances:           cfg.PoolMaxInstances,
		ConnectionsPerInstance: cfg.PoolConnectionsPerInstance,
		IdleTimeout:            cfg.PoolIdleTimeout,
		ReapInterval:           cfg.PoolReapInterval,
	}, factory, clock, metrics.NewPoolMetrics(reg))
}

func runGracefulShutdown(cfg *config.Config, srv *httpserver.Server, connPool *pool.Pool, notices *events.Emitter, stopRelay context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		// Let connected panels know before their sockets close.
		if _, err := notices.Maintenance(context.Background(), domain.SystemData{
			Status:  "shutting_down",
			Message: "Live updates are restarting",
		}); err != nil {
			slog.Warn("Failed to announce shutdown", "error", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopRelay()
		connPool.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	reg := metrics.NewRegistry()

	rd := setupRedis(context.Background(), cfg, reg)

	var revocations auth.Cache
	if rd != nil {
		revocations = rd.cache
	}
	verifier := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer, revocations, clock)

	connPool := setupPool(cfg, verifier, clock, reg)

	// Node-local notices go straight to this node's sockets.
	notices := events.NewEmitter(connPool, clock, "server")

	deps := httpserver.Deps{
		Pool:        connPool,
		Publisher:   connPool,
		Verifier:    verifier,
		Clock:       clock,
		Registry:    reg,
		HTTPMetrics: metrics.NewHTTPMetrics(reg),
		NodeID:      nodeID,
		HealthChecks: []httpserver.HealthCheck{
			{Name: "pool", Check: func(context.Context) error {
				if connPool.Size() == 0 {
					return errors.New("no broadcast instances")
				}
				return nil
			}},
		},
	}

	relayCtx, stopRelay := context.WithCancel(context.Background())
	if rd != nil {
		defer func() { _ = rd.client.Close() }()
		defer rd.cache.Close()

		relay := redis.NewRelay(rd.client, cfg.RedisPrefix, nodeID, connPool, rd.metrics)
		deps.Publisher = eventpublisher.New(connPool, relay)
		deps.Cache = rd.cache
		deps.HealthChecks = append(deps.HealthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rd.client.Ping(ctx).Err() },
		})

		go func() {
			if err := relay.Run(relayCtx); err != nil {
				slog.Error("Event relay stopped", "error", err)
				if _, err := notices.SystemError(context.Background(), "relay", "relay_stopped", err); err != nil {
					slog.Warn("Failed to announce relay failure", "error", err)
				}
			}
		}()
	}

	srv := httpserver.NewServer(cfg, deps)

	done := runGracefulShutdown(cfg, srv, connPool, notices, stopRelay)

	if err := srv.Start(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
