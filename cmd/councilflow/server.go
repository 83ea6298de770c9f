package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/councilflow/api/handlers"
	"github.com/BaSui01/councilflow/config"
	"github.com/BaSui01/councilflow/council"
	"github.com/BaSui01/councilflow/gateway"
	"github.com/BaSui01/councilflow/internal/metrics"
	"github.com/BaSui01/councilflow/internal/server"
	"github.com/BaSui01/councilflow/internal/telemetry"
	"github.com/BaSui01/councilflow/metering"
	"github.com/BaSui01/councilflow/store"
)

// Server wires the deliberation pipeline, its backends and the HTTP surface.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	healthHandler     *handlers.HealthHandler
	deliberateHandler *handlers.DeliberateHandler
	recordsHandler    *handlers.RecordsHandler

	registry  *prometheus.Registry
	collector *metrics.Collector

	telemetryProvider *telemetry.Provider

	db          *gorm.DB
	redisClient *redis.Client

	rateLimiterCancel context.CancelFunc
}

// NewServer creates an unstarted server.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// Start initializes every component and brings up the HTTP and metrics
// listeners.
func (s *Server) Start() error {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollector("councilflow", s.registry)

	provider, err := telemetry.Init(context.Background(), s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		s.telemetryProvider = provider
	}

	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// initHandlers builds the pipeline and the HTTP handlers around it.
func (s *Server) initHandlers() error {
	s.healthHandler = handlers.NewHealthHandler(s.logger)

	invoker := gateway.New(s.cfg.Gateway, s.logger)
	tiers := council.NewClassifier(s.cfg.Council)
	guard := s.initGuard()
	deliberationStore := s.initStore()

	pipeline := council.NewPipeline(invoker, tiers, guard, deliberationStore, s.logger).
		WithMetrics(s.collector)

	s.deliberateHandler = handlers.NewDeliberateHandler(pipeline, s.logger)

	s.logger.Info("Handlers initialized")
	return nil
}

// initGuard builds the metering guard: a Redis-backed credit ledger when
// metering is enabled, AllowAll otherwise.
func (s *Server) initGuard() metering.Guard {
	if !s.cfg.Metering.Enabled {
		s.logger.Info("Metering disabled, all deliberations admitted")
		return metering.AllowAll{}
	}

	s.redisClient = redis.NewClient(&redis.Options{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
	})
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", func(ctx context.Context) error {
		return s.redisClient.Ping(ctx).Err()
	}))

	s.logger.Info("Metering ledger enabled", zap.String("redis_addr", s.cfg.Redis.Addr))
	return metering.NewLedger(s.redisClient, s.cfg.Metering, s.logger)
}

// initStore opens the database when one is configured. A missing or broken
// database degrades to in-memory operation: deliberations still run, the
// record API is simply absent.
func (s *Server) initStore() council.Store {
	if s.cfg.Database.Driver == "" {
		s.logger.Info("No database configured, deliberation records disabled")
		return council.NopStore{}
	}

	db, err := store.Open(s.cfg.Database, s.logger)
	if err != nil {
		s.logger.Warn("Database not available, deliberation records disabled", zap.Error(err))
		return council.NopStore{}
	}
	s.db = db

	if s.cfg.Database.Driver == "sqlite" {
		// sqlite deployments skip versioned migrations.
		if err := store.AutoMigrate(db); err != nil {
			s.logger.Error("Database auto-migrate failed", zap.Error(err))
		}
	}

	s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}))

	gormStore := store.New(db, s.logger)
	s.recordsHandler = handlers.NewRecordsHandler(gormStore, s.logger)
	return gormStore
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReadyz)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, GitCommit, BuildDate))

	mux.HandleFunc("POST /api/v1/deliberations/stream", s.deliberateHandler.HandleStream)
	mux.HandleFunc("GET /api/v1/deliberations/stream/ws", s.deliberateHandler.HandleWebSocket)

	if s.recordsHandler != nil {
		mux.HandleFunc("GET /api/v1/deliberations/{id}", s.recordsHandler.HandleGet)
		mux.HandleFunc("GET /api/v1/conversations/{id}/deliberations", s.recordsHandler.HandleList)
		s.logger.Info("Deliberation record routes registered")
	}

	skipAuthPaths := []string{"/healthz", "/readyz", "/version"}

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSOrigins),
		MetricsMiddleware(s.collector),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		rateLimiterCtx, cancel := context.WithCancel(context.Background())
		s.rateLimiterCancel = cancel
		middlewares = append(middlewares,
			RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))
	}
	if s.cfg.Auth.Enabled {
		middlewares = append(middlewares, JWTAuth(s.cfg.Auth, skipAuthPaths, s.logger))
	}
	handler := Chain(mux, middlewares...)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks until a termination signal, then shuts everything
// down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops the listeners and closes the backends.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				s.logger.Error("Database close error", zap.Error(err))
			}
		}
	}
	if s.telemetryProvider != nil {
		if err := s.telemetryProvider.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
