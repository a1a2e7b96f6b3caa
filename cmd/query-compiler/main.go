package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/seanankenbruck/analytics-nlq/internal/catalog"
	"github.com/seanankenbruck/analytics-nlq/internal/config"
	"github.com/seanankenbruck/analytics-nlq/internal/database"
	"github.com/seanankenbruck/analytics-nlq/internal/executor"
	"github.com/seanankenbruck/analytics-nlq/internal/lineage"
	"github.com/seanankenbruck/analytics-nlq/internal/observability"
	"github.com/seanankenbruck/analytics-nlq/internal/processor"
	"github.com/seanankenbruck/analytics-nlq/internal/quota"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewDefaultLoader()
	cfg := loader.MustLoad(ctx)
	if err := cfg.ValidateWithContext(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := observability.NewLogger("main").WithLevel(observability.ParseLevel(cfg.LogLevel))
	gin.SetMode(cfg.Server.GinMode)

	sources := make(map[string]interface{})
	for key, provider := range loader.Sources() {
		sources[key] = provider
	}
	logger.Info(ctx, "Configuration loaded", sources)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error(context.Background(), "Query compiler stopped with error", err, nil)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	// Initialize the analytics database
	db, err := database.Open(ctx, database.PostgresConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	// Initialize Redis client
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	templates, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return err
	}

	limiter := quota.NewLimiter(quota.NewRedisStore(rdb), quota.Config{
		Limits: quota.Limits{
			Daily:      cfg.RateLimit.Daily,
			Hourly:     cfg.RateLimit.Hourly,
			Concurrent: cfg.RateLimit.Concurrent,
		},
		ConcurrentTTL: cfg.RateLimit.ConcurrentTTL,
		KeyPrefix:     cfg.RateLimit.KeyPrefix,
	}).WithLogger(logger.Named("quota"))

	breakerConfig := executor.DefaultCircuitBreakerConfig()
	breakerConfig.Interval = cfg.Executor.BreakerInterval
	breakerConfig.Timeout = cfg.Executor.BreakerTimeout
	failures := uint32(cfg.Executor.BreakerFailures)
	breakerConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= failures
	}
	exec := executor.NewCircuitBreakerExecutor(
		executor.NewSQLExecutor(db, executor.SQLConfig{
			StatementTimeout: cfg.Executor.StatementTimeout,
			MaxRows:          cfg.Executor.MaxRows,
		}),
		"analytics-db",
		breakerConfig,
	)

	compiler := processor.NewCompiler(templates, limiter, processor.CompilerConfig{
		DefaultRowLimit: cfg.Catalog.DefaultRowLimit,
		LineageThresholds: lineage.Thresholds{
			Low:    cfg.Lineage.ComplexityLow,
			Medium: cfg.Lineage.ComplexityMedium,
		},
	}).WithExecutor(exec).WithLogger(logger.Named("query-compiler"))

	if cfg.Lineage.Persist {
		store := lineage.NewCachedStore(
			lineage.NewPostgresStore(db),
			lineage.NewRedisCache(rdb, cfg.Lineage.CacheTTL),
		).WithLogger(logger.Named("lineage"))
		compiler = compiler.WithLineageStore(store)
	}

	// Register health checks
	healthChecker := observability.NewHealthChecker("query-compiler", version)
	healthChecker.Register("database", observability.DatabaseHealthCheck(func(ctx context.Context) error {
		return database.HealthCheck(ctx, db)
	}))
	healthChecker.Register("rate_limit_store", observability.RateLimitStoreHealthCheck(limiter.Ping))
	healthChecker.Register("executor", observability.ExecutorHealthCheck(exec.State))
	healthChecker.Register("memory", observability.MemoryHealthCheck(func() (uint64, uint64) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return m.Alloc, m.Sys
	}))

	router := compiler.SetupRoutes(processor.RouterConfig{
		Limiter:       limiter,
		HealthChecker: healthChecker,
		Logger:        logger.Named("http"),
	})
	if len(cfg.Server.TrustedProxies) > 0 {
		if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			return fmt.Errorf("invalid trusted proxies: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "Query compiler starting", map[string]interface{}{
			"port":      cfg.Server.Port,
			"version":   version,
			"templates": templates.Len(),
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		logger.Info(shutdownCtx, "Shutting down", nil)
		// stop accepting requests before handing back their slots
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, "HTTP shutdown did not complete", err, nil)
		}
		return limiter.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
