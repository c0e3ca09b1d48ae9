package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"folio/api/db"
	"folio/api/internal/app"
	"folio/api/internal/auth"
	"folio/api/internal/cache"
	"folio/api/internal/config"
	"folio/api/internal/gitrepo"
	"folio/api/internal/store"
	"folio/api/internal/telemetry"
	"folio/api/internal/textdiff"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	ctx := context.Background()

	shutdownTracing, err := telemetry.InitTracing(ctx, logger.With().Str("component", "telemetry").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing init failed")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	sqlDB, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer sqlDB.Close()

	applied, err := store.ApplyMigrations(ctx, sqlDB, migrationsFS(cfg, logger), logger.With().Str("component", "migrations").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}
	logger.Info().Int("applied", len(applied)).Msg("migrations up to date")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	backend, err := newCacheBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("cache backend failed")
	}
	defer backend.Close()
	cacheMetrics, err := cache.NewMetrics(registry)
	if err != nil {
		logger.Fatal().Err(err).Msg("cache metrics registration failed")
	}
	revisionCache := cache.NewRevisionCache(backend, cfg.CacheTTL, logger.With().Str("component", "cache").Logger(), cacheMetrics)

	mergeMetrics, err := app.NewMetrics(registry)
	if err != nil {
		logger.Fatal().Err(err).Msg("merge metrics registration failed")
	}
	httpMetrics, err := telemetry.NewHTTPMetrics(registry)
	if err != nil {
		logger.Fatal().Err(err).Msg("http metrics registration failed")
	}

	deps := app.Dependencies{
		Store:            store.NewPostgresStore(sqlDB),
		Diff:             textdiff.New(cfg.Diff),
		Cache:            revisionCache,
		Metrics:          mergeMetrics,
		Logger:           logger.With().Str("component", "revision").Logger(),
		VersionsPageSize: cfg.VersionsPageSize,
	}
	if cfg.ArchiveDir != "" {
		if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
			logger.Fatal().Err(err).Str("dir", cfg.ArchiveDir).Msg("archive dir create failed")
		}
		deps.Archive = gitrepo.New(cfg.ArchiveDir)
		logger.Info().Str("dir", cfg.ArchiveDir).Msg("git version archive enabled")
	}
	service := app.New(deps)

	httpServer := app.NewHTTPServer(service, app.HTTPOptions{
		Verifier:   auth.NewVerifier(cfg.JWTSecret),
		CORSOrigin: cfg.CORSOrigin,
		Logger:     logger.With().Str("component", "http").Logger(),
		Metrics:    httpMetrics,
		Gatherer:   registry,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("folio api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var logger zerolog.Logger
	if cfg.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "folio-api").Logger()
}

// migrationsFS prefers MIGRATIONS_DIR on disk and falls back to the
// migrations compiled into the binary.
func migrationsFS(cfg config.Config, logger zerolog.Logger) fs.FS {
	if cfg.MigrationsDir != "" {
		if info, err := os.Stat(cfg.MigrationsDir); err == nil && info.IsDir() {
			return os.DirFS(cfg.MigrationsDir)
		}
		logger.Warn().Str("dir", cfg.MigrationsDir).Msg("migrations dir not found, using embedded migrations")
	}
	return db.Migrations()
}

func newCacheBackend(ctx context.Context, cfg config.Config, logger zerolog.Logger) (cache.Backend, error) {
	if cfg.RedisURL == "" {
		logger.Info().Msg("using in-process revision cache")
		return cache.NewMemoryBackend(cfg.CacheTTL), nil
	}
	backend, err := cache.NewRedisBackend(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("using redis revision cache")
	return backend, nil
}
