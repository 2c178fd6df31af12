package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fluxwire/fluxwire/api"
	"github.com/fluxwire/fluxwire/api/handlers"
	"github.com/fluxwire/fluxwire/config"
	"github.com/fluxwire/fluxwire/fetch"
	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/internal/metrics"
	"github.com/fluxwire/fluxwire/internal/pool"
	"github.com/fluxwire/fluxwire/internal/server"
	"github.com/fluxwire/fluxwire/internal/telemetry"
	"github.com/fluxwire/fluxwire/nodes"
	"github.com/fluxwire/fluxwire/store"
)

// Server assembles the engine, store, API surface and listeners from
// configuration and manages their lifecycle.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	logLevel   zap.AtomicLevel

	otel      *telemetry.Providers
	collector *metrics.Collector

	runStore store.RunStore
	registry *flow.TypeRegistry
	engine   *flow.Engine
	hub      *api.RunHub
	archive  *pool.WorkerPool

	runService    *handlers.RunService
	healthHandler *handlers.HealthHandler

	httpManager    *server.Manager
	metricsManager *server.Manager

	hotReload        *config.HotReloadManager
	configAPIHandler *config.ConfigAPIHandler

	ipLimiter *IPRateLimiter
}

// NewServer creates a server; Start wires and launches it.
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		logLevel:   level,
		otel:       otel,
	}
}

// Start wires every component and launches the listeners. It returns
// once both servers accept connections.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("fluxwire", s.logger)

	if err := s.initCore(); err != nil {
		return fmt.Errorf("init core: %w", err)
	}
	if err := s.initHotReload(); err != nil {
		return fmt.Errorf("init hot reload: %w", err)
	}
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)
	return nil
}

// initCore builds the store, node registry, engine and API services.
func (s *Server) initCore() error {
	runStore, err := store.OpenFromConfig(storeConfig(s.cfg), s.logger)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	s.runStore = runStore

	s.registry = flow.NewTypeRegistry(s.logger)
	if err := nodes.RegisterAll(s.registry, nodes.WithLogger(s.logger)); err != nil {
		return fmt.Errorf("register node types: %w", err)
	}

	fetchClient := fetch.New(
		fetch.WithTimeout(s.cfg.Fetch.Timeout),
		fetch.WithRateLimit(s.cfg.Fetch.RateLimitRPS, s.cfg.Fetch.RateLimitBurst),
		fetch.WithMaxBodyBytes(s.cfg.Fetch.MaxBodyBytes),
		fetch.WithLogger(s.logger),
	)

	s.hub = api.NewRunHub(s.logger)

	engineOpts := []flow.Option{
		flow.WithLogger(s.logger),
		flow.WithNetwork(fetchClient),
		flow.WithMaxConcurrentNodes(s.cfg.Engine.MaxConcurrentNodes),
		flow.WithDefaultNodeTimeout(s.cfg.Engine.DefaultNodeTimeout),
		flow.WithFailFast(s.cfg.Engine.FailFast),
		flow.WithObserver(metrics.NewObserver(s.collector)),
		flow.WithObserver(s.hub),
	}
	if s.cfg.Telemetry.Enabled {
		// nil provider means the global one Init installed.
		engineOpts = append(engineOpts, flow.WithObserver(telemetry.NewTraceObserver(nil)))
	}
	s.engine = flow.NewEngine(s.registry, engineOpts...)

	s.archive = pool.NewWorkerPool(pool.DefaultWorkerPoolConfig(), s.logger)

	s.runService = handlers.NewRunService(
		s.engine, s.registry, s.runStore, s.hub, s.archive, s.logger,
		handlers.WithDefaultRunTimeout(s.cfg.Engine.RunTimeout),
	)

	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("store", func(ctx context.Context) error {
		_, err := s.runStore.ListByTimeRange(ctx, time.Time{}, time.Time{}, 1)
		return err
	}))

	return nil
}

// storeConfig maps the application config onto the store package's own
// config type.
func storeConfig(cfg *config.Config) store.Config {
	return store.Config{
		Driver:      cfg.Store.Driver,
		DSN:         cfg.Store.DSN,
		AutoMigrate: cfg.Store.AutoMigrate,
		Redis: store.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		},
		Mongo: store.MongoConfig{
			Database: cfg.Store.MongoDatabase,
		},
		Pool: store.PoolConfig{
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		},
	}
}

// initHotReload starts the config watcher and registers the callbacks
// that apply runtime-tunable settings.
func (s *Server) initHotReload() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger),
	}
	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReload = config.NewHotReloadManager(s.cfg, opts...)

	s.hotReload.OnChange(func(change config.ConfigChange) {
		s.logger.Info("configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	s.hotReload.OnReload(func(oldConfig, newConfig *config.Config) {
		s.applyRuntimeConfig(oldConfig, newConfig)
		s.cfg = newConfig
	})

	if err := s.hotReload.Start(context.Background()); err != nil {
		return err
	}

	s.configAPIHandler = config.NewConfigAPIHandler(s.hotReload)
	return nil
}

// applyRuntimeConfig applies the settings that take effect without a
// restart: log level and API rate limits.
func (s *Server) applyRuntimeConfig(oldConfig, newConfig *config.Config) {
	if oldConfig.Log.Level != newConfig.Log.Level {
		var level zapcore.Level
		if err := level.Set(newConfig.Log.Level); err != nil {
			s.logger.Warn("ignoring invalid log level", zap.String("level", newConfig.Log.Level))
		} else {
			s.logLevel.SetLevel(level)
			s.logger.Info("log level updated", zap.String("level", newConfig.Log.Level))
		}
	}

	if s.ipLimiter != nil &&
		(oldConfig.Server.RateLimitRPS != newConfig.Server.RateLimitRPS ||
			oldConfig.Server.RateLimitBurst != newConfig.Server.RateLimitBurst) {
		s.ipLimiter.SetRate(newConfig.Server.RateLimitRPS, newConfig.Server.RateLimitBurst)
		s.logger.Info("rate limits updated",
			zap.Float64("rps", newConfig.Server.RateLimitRPS),
			zap.Int("burst", newConfig.Server.RateLimitBurst),
		)
	}
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	s.runService.RegisterRoutes(mux)
	s.configAPIHandler.RegisterRoutes(mux)

	s.ipLimiter = NewIPRateLimiter(s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger)

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version"}
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		MetricsMiddleware(s.collector),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	middlewares = append(middlewares,
		s.ipLimiter.Middleware(),
		JWTAuth(s.cfg.Auth, skipAuthPaths, s.logger),
	)
	handler := Chain(mux, middlewares...)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		MaxConns:        s.cfg.Server.MaxConns,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort <= 0 {
		s.logger.Info("metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks until a termination signal arrives, then shuts
// everything down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown tears the server down in dependency order: stop accepting
// work, cancel live runs, flush archives, close the store.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.ipLimiter != nil {
		s.ipLimiter.Stop()
	}

	if s.hotReload != nil {
		if err := s.hotReload.Stop(); err != nil {
			s.logger.Error("hot reload shutdown error", zap.Error(err))
		}
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	if s.runService != nil {
		if n := s.runService.CancelActiveRuns(); n > 0 {
			s.logger.Info("cancelled active runs", zap.Int("count", n))
		}
		if err := s.runService.AwaitActiveRuns(ctx); err != nil {
			s.logger.Warn("not all runs finalized before shutdown deadline", zap.Error(err))
		}
	}

	// Close drains queued archive tasks before returning.
	if s.archive != nil {
		s.archive.Close()
	}

	if s.runStore != nil {
		if err := s.runStore.Close(); err != nil {
			s.logger.Error("store close error", zap.Error(err))
		}
	}

	if err := s.otel.Shutdown(ctx); err != nil {
		s.logger.Error("telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("graceful shutdown completed")
}
