// cmd/crawler/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"github-star-crawler/internal/api"
	"github-star-crawler/internal/config"
	"github-star-crawler/internal/crawler"
	"github-star-crawler/internal/github"
	"github-star-crawler/internal/ratelimit"
	"github-star-crawler/internal/retry"
	"github-star-crawler/internal/store"
)

// defaultRateBudget is GitHub's full GraphQL point budget per hour; the
// tracker starts here and is corrected by the first response.
const defaultRateBudget = 5000

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	// 5. Initialize application components
	db := store.New(dbpool, logger)
	budget := ratelimit.NewBudget(defaultRateBudget)
	retrier := retry.NewPolicy(cfg.RetryMaxAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay, budget, logger)
	ghClient := github.NewClient(cfg.GithubToken, cfg.GithubGraphQLURL, logger)
	appCrawler := crawler.New(ghClient, db, budget, retrier, logger, crawler.Options{
		TargetCount: cfg.TargetRepoCount,
		Concurrency: cfg.CrawlConcurrency,
		BatchSize:   cfg.BatchSize,
		RateReserve: cfg.RateReserve,
	})

	// 6. Start the read API
	server := &http.Server{
		Addr:    cfg.HTTPListenAddr,
		Handler: api.NewRouter(db, budget, logger),
	}
	go func() {
		logger.Info("HTTP API listening", "addr", cfg.HTTPListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	// 7. Run the crawl: once by default, on a loop when an interval is set
	var crawlErr error
	if cfg.CrawlInterval > 0 {
		appCrawler.Start(ctx, cfg.CrawlInterval)
	} else {
		_, crawlErr = appCrawler.Run(ctx)
	}

	// 8. Shut the API down gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if crawlErr != nil && !errors.Is(crawlErr, context.Canceled) {
		return fmt.Errorf("crawl failed: %w", crawlErr)
	}
	return nil
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
