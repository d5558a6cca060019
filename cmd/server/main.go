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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"colorstock/backend/internal/cache"
	"colorstock/backend/internal/config"
	"colorstock/backend/internal/httpapi"
	"colorstock/backend/internal/logger"
	"colorstock/backend/internal/metrics"
	"colorstock/backend/internal/service"
	"colorstock/backend/internal/store"
	"colorstock/backend/internal/store/memory"
	pgstore "colorstock/backend/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid security configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		ServiceName: "colorstock-api",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})

	if err := run(cfg, log); err != nil {
		log.Error(context.Background(), "server exited", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.Error(context.Background(), "close failed", err)
			}
		}
	}()

	reports, closeCache := openReportCache(ctx, cfg, log)
	if closeCache != nil {
		closers = append(closers, closeCache)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	svc := service.New(repo,
		service.WithReportCache(reports, cfg.ReportCacheTTL),
		service.WithLogger(log),
		service.WithMetrics(m),
	)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo)

	if cfg.BootstrapAdminEmail != "" {
		admin, created, err := auth.EnsureAdmin(ctx, "Administrator", cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			log.Info(log.WithUserID(ctx, admin.ID), "bootstrap admin created")
		}
	}

	api := httpapi.New(svc, auth, cfg.AllowedOrigin,
		httpapi.WithLogger(log),
		httpapi.WithMetrics(m, registry),
	)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(log.WithField(context.Background(), "addr", cfg.Address()), "colorstock backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "shutdown failed", err)
	}
	log.Info(context.Background(), "server stopped")
	return nil
}

// openRepository selects postgres when DATABASE_URL is set and refuses to fall
// back to memory if it is unreachable.
func openRepository(ctx context.Context, cfg config.Config, log *logger.Logger) (store.Repository, []func() error, error) {
	if cfg.DatabaseURL == "" {
		log.Info(log.WithField(ctx, "repository", "memory"), "repository selected")
		return memory.NewSeeded(), nil, nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
	}
	if cfg.AutoMigrate {
		if err := pg.Migrate(ctx, "up"); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		log.Info(ctx, "migrations applied")
	}
	log.Info(log.WithField(ctx, "repository", "postgres"), "repository selected")
	return pg, []func() error{pg.Close}, nil
}

// openReportCache degrades to the noop cache when redis is unset or unreachable.
func openReportCache(ctx context.Context, cfg config.Config, log *logger.Logger) (cache.ReportCache, func() error) {
	if cfg.RedisAddr == "" {
		log.Info(log.WithField(ctx, "cache", "noop"), "report cache selected")
		return cache.NoopReportCache{}, nil
	}
	redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		log.Warn(log.WithField(ctx, "error", err.Error()), "redis unavailable, using noop report cache")
		_ = redisCache.Close()
		return cache.NoopReportCache{}, nil
	}
	log.Info(log.WithField(ctx, "cache", "redis"), "report cache selected")
	return redisCache, redisCache.Close
}
