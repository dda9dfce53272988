package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/speedfox3/Space-Explorer/internal/config"
	"github.com/speedfox3/Space-Explorer/internal/engine"
	"github.com/speedfox3/Space-Explorer/internal/handlers"
	"github.com/speedfox3/Space-Explorer/internal/minigame"
	"github.com/speedfox3/Space-Explorer/internal/rate"
	"github.com/speedfox3/Space-Explorer/internal/reward"
	"github.com/speedfox3/Space-Explorer/internal/service"
	"github.com/speedfox3/Space-Explorer/internal/storage"
	"github.com/speedfox3/Space-Explorer/libs/health"
	"github.com/speedfox3/Space-Explorer/libs/httpmiddleware"
	"github.com/speedfox3/Space-Explorer/libs/logging"
	"github.com/speedfox3/Space-Explorer/libs/metrics"
)

// marketStore is the full storage surface marketd wires together, satisfied
// by both the postgres and memory backends.
type marketStore interface {
	engine.Store
	service.Store
	reward.Ledger
	minigame.SessionStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)
	engineMetrics := engine.NewPromMetrics(registry)

	ready := health.NewManager(false)

	var store marketStore
	var pool *pgxpool.Pool
	switch cfg.Storage.Backend {
	case "memory":
		logger.Warn("using in-memory storage, all state is lost on restart")
		store = storage.NewMemory()
	default:
		pool, err = connectDB(cfg)
		if err != nil {
			logger.Error("db connection failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = storage.NewPostgres(pool)
	}

	var limiter rate.Limiter
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer client.Close()
		limiter = rate.NewRedisLimiter(client, cfg.RateLimit.Limit, cfg.RateLimit.Window, "")
	} else {
		limiter = rate.NewMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}

	matchingEngine := engine.New(store, logger, engineMetrics)
	marketService := service.NewMarketService(store, logger)
	rewardService := reward.New(store, logger)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	minigameService := minigame.New(store, rewardService, logger, rng.Float64)

	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	jwtSecret := []byte(cfg.Auth.JWTSecret)
	handlers.NewMarket(marketService, matchingEngine, limiter, logger).Register(router, jwtSecret)
	handlers.NewMinigame(minigameService, logger).Register(router, jwtSecret)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the engine holds no timer: this goroutine is the external periodic
	// trigger driving the matching cycle
	schedulerDone := make(chan struct{})
	go runScheduler(ctx, matchingEngine, cfg.Matching.Interval, logger, schedulerDone)

	go func() {
		logger.Info("http server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	ready.SetReady(true)

	<-ctx.Done()
	ready.SetReady(false)
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	<-schedulerDone
}

func runScheduler(ctx context.Context, e *engine.Engine, interval time.Duration, logger *slog.Logger, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := e.RunMatchingCycle(ctx)
			if err != nil {
				logger.Error("matching cycle failed", "error", err, "trades_settled", count)
				continue
			}
			if count > 0 {
				logger.Info("matching cycle complete", "trades_settled", count)
			}
		}
	}
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.ConnString())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
