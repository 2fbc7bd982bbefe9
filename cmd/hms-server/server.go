package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/notification"
	"github.com/hms/hms/internal/domain/opd"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/cache"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/scheduler"
	"github.com/hms/hms/internal/platform/websocket"
)

const (
	sweepJobName    = "opd-queue-sweep"
	sweepJobTimeout = 5 * time.Minute
	shutdownTimeout = 10 * time.Second
)

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Logger
	logger := newLogger(cfg)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolOptions{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Directory cache
	dirCache, err := newCache(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer dirCache.Close()

	// Live board and event stream
	hub := websocket.NewHub(logger)
	publisher, closePublisher := newEventPublisher(cfg, hub, logger)
	defer closePublisher()

	// Services
	staffRepo := identity.NewStaffRepo(pool)
	directory := identity.NewDirectory(identity.NewPatientRepo(pool), staffRepo)
	doctors := identity.NewCachedDoctors(directory, dirCache, cfg.DirectoryCacheTTL, logger)
	notifySvc := notification.NewService(notification.NewRepoPG(pool), logger)
	queueSvc := opd.NewService(opd.NewRepoPG(pool), directory, doctors, opd.ServiceConfig{
		Clock:             opd.NewClock(loc),
		MinutesPerPatient: cfg.QueueMinutesPerPatient,
		Publisher:         publisher,
		Notifier:          notifySvc,
		Logger:            logger,
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID", opd.IdempotencyKeyHeader},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	authMW, err := authMiddleware(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure auth")
	}

	// API group: authenticated, tenant scoped, audited
	apiV1 := e.Group("/api/v1", authMW, db.TenantMiddleware(pool, cfg.DefaultTenant), middleware.Audit(logger))

	opd.NewHandler(queueSvc, logger).RegisterRoutes(apiV1)
	notification.NewHandler(notifySvc, logger).RegisterRoutes(apiV1)
	identity.NewHandler(directory).RegisterRoutes(apiV1)

	// Live queue board
	websocket.NewHandler(hub, cfg.CORSOrigins, logger).RegisterRoutes(e.Group(""))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, logger))

	// Background jobs
	sched := scheduler.New(loc, sweepJobTimeout, logger)
	added, err := sched.Add(sweepJobName, cfg.QueueSweepSchedule, func(ctx context.Context) error {
		tenants, err := db.ListTenants(ctx, pool)
		if err != nil {
			return err
		}
		return sweepTenants(ctx, tenants, tenantRunner(pool), queueSvc.SweepStale, logger)
	})
	if err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.QueueSweepSchedule).Msg("invalid sweep schedule")
	}
	if added {
		logger.Info().Str("schedule", cfg.QueueSweepSchedule).Msg("queue sweep scheduled")
	}
	sched.Start()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sched.Stop(ctx); err != nil {
		logger.Warn().Err(err).Msg("scheduler did not stop cleanly")
	}
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// authMiddleware picks dev impersonation or JWT validation from AUTH_MODE.
func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	if cfg.ResolvedAuthMode() == "development" {
		return auth.DevAuthMiddleware(cfg.DefaultTenant), nil
	}
	var key []byte
	if cfg.AuthSigningKey != "" {
		key = []byte(cfg.AuthSigningKey)
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: key,
	})
}

// newCache uses Redis when REDIS_URL is set so replicas share one directory
// cache; otherwise entries live in process.
func newCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	if cfg.RedisURL == "" {
		return cache.NewMemoryCache(), nil
	}
	return cache.NewRedisCache(ctx, cfg.RedisURL, "hms:")
}

// newEventPublisher always feeds the websocket hub and adds a best-effort
// Kafka writer when brokers are configured. The returned func closes the
// writer.
func newEventPublisher(cfg *config.Config, hub *websocket.Hub, logger zerolog.Logger) (events.Publisher, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		return hub, func() {}
	}
	kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaQueueTopic)
	logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaQueueTopic).Msg("kafka event stream enabled")
	return events.Fanout{hub, events.BestEffort(kp, logger)}, func() {
		if err := kp.Close(); err != nil {
			logger.Warn().Err(err).Msg("kafka writer close failed")
		}
	}
}

// runInTenant runs fn with the tenant's schema on the context.
type runInTenant func(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error

func tenantRunner(pool *pgxpool.Pool) runInTenant {
	return func(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
		return db.WithTenant(ctx, pool, tenantID, fn)
	}
}

// sweepTenants cancels stale entries tenant by tenant. A failing tenant does
// not stop the others; all failures are returned together.
func sweepTenants(ctx context.Context, tenants []string, run runInTenant, sweep func(ctx context.Context) (int64, error), logger zerolog.Logger) error {
	var errs []error
	for _, tid := range tenants {
		err := run(ctx, tid, func(ctx context.Context) error {
			n, err := sweep(ctx)
			if err != nil {
				return err
			}
			logger.Info().Str("tenant_id", tid).Int64("cancelled", n).Msg("stale queue entries swept")
			return nil
		})
		if err != nil {
			logger.Error().Err(err).Str("tenant_id", tid).Msg("queue sweep failed")
			errs = append(errs, fmt.Errorf("tenant %s: %w", tid, err))
		}
	}
	return errors.Join(errs...)
}
