// Package main implements the Bazos deal watcher: it scrapes the
// configured classified categories, versions every listing it sees, and
// records listings matching the configured criteria as deals.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"cloud.google.com/go/storage"

	"bazos-watcher/config"
	"bazos-watcher/deals"
	"bazos-watcher/filter"
	"bazos-watcher/scraper"
	"bazos-watcher/snapshot"
	"bazos-watcher/watch"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}
	cfg, err := config.Load(configPath, logger)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Snapshot backend: local directory by default, Cloud Storage when a
	// bucket is configured.
	localPath := os.Getenv("SNAPSHOT_DIR")
	bucket := os.Getenv("SNAPSHOT_BUCKET")
	if bucket == "" && localPath == "" {
		localPath = "./cache"
		logger.Info("No SNAPSHOT_BUCKET set, using local snapshot storage", "path", localPath)
	}

	var store *snapshot.Store
	if localPath != "" {
		if err := os.MkdirAll(localPath, 0o755); err != nil {
			logger.Error("Failed to create snapshot directory", "path", localPath, "error", err)
			os.Exit(1)
		}
		store = snapshot.New(nil, "", localPath, logger)
	} else {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
		store = snapshot.New(storageClient, bucket, "", logger)
	}

	var dealStore watch.DealStore
	if cfg.Database != "" {
		db, err := deals.Open(ctx, cfg.Database)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close database", "error", err)
			}
		}()
		dealStore = deals.NewRepository(db, logger)
	} else {
		logger.Info("No database configured, deal persistence disabled")
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	monitor := watch.New(
		scraper.New(httpClient, logger),
		filter.NewEngine(logger),
		snapshot.NewDetector(store, logger),
		dealStore,
		logger,
	)

	// One-shot by default; WATCH_INTERVAL enables continuous mode.
	interval := time.Duration(0)
	if v := os.Getenv("WATCH_INTERVAL"); v != "" {
		interval, err = time.ParseDuration(v)
		if err != nil {
			logger.Error("Invalid WATCH_INTERVAL", "value", v, "error", err)
			os.Exit(1)
		}
	}

	if err := monitor.CheckAll(ctx, cfg.Watches); err != nil {
		logger.Error("Watch cycle failed", "error", err)
		os.Exit(1)
	}
	if interval <= 0 {
		return
	}

	logger.Info("Entering continuous mode", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down", "reason", ctx.Err())
			return
		case <-ticker.C:
			if err := monitor.CheckAll(ctx, cfg.Watches); err != nil {
				logger.Error("Watch cycle failed", "error", err)
			}
		}
	}
}

func logLevel() slog.Level {
	if os.Getenv("DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
