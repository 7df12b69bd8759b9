package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/modelkeep/model-artifact-cache/internal/adapter/filesystem"
	"github.com/modelkeep/model-artifact-cache/internal/adapter/registry"
	"github.com/modelkeep/model-artifact-cache/internal/adapter/sqlite"
	"github.com/modelkeep/model-artifact-cache/internal/config"
	"github.com/modelkeep/model-artifact-cache/internal/logger"
	"github.com/modelkeep/model-artifact-cache/internal/service/downloader"
	"github.com/modelkeep/model-artifact-cache/internal/service/maintenance"
	"github.com/modelkeep/model-artifact-cache/internal/service/server"
	"go.uber.org/zap"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	zapLogger := logger.GetZapLogger()
	zapLogger.Info("starting model-artifact-cache",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	fsManager, err := filesystem.NewManager(cfg.Cache.RootDir)
	if err != nil {
		zapLogger.Fatal("failed to create filesystem manager", zap.Error(err))
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = filepath.Join(cfg.Cache.RootDir, "tasks.db")
	}

	journal, err := sqlite.Open(dbPath)
	if err != nil {
		zapLogger.Fatal("failed to open task journal", zap.Error(err), zap.String("path", dbPath))
	}
	defer journal.Close()

	source := registry.NewClient(
		cfg.Registry.BaseURL,
		cfg.Registry.AuthToken,
		cfg.Registry.SkipTLSVerify,
		cfg.Registry.GetRequestTimeout(),
	)

	managerCfg := &downloader.Config{
		ConcurrentDownloads: cfg.Cache.ConcurrentDownloads,
		MaxCacheSizeBytes:   cfg.Cache.GetMaxSizeBytes(),
		MaxAttempts:         cfg.Cache.MaxDownloadRetries,
		RetryBaseDelay:      cfg.Cache.GetRetryBaseDelay(),
		ChunkSize:           cfg.Cache.GetChunkSize(),
		ProgressInterval:    cfg.Cache.GetProgressUpdateInterval(),
		SpeedWindow:         cfg.Cache.GetSpeedWindow(),
		KeepPartialOnCancel: cfg.Cache.KeepPartialOnCancel,
	}
	manager := downloader.New(managerCfg, source, fsManager, journal, zapLogger)

	// Resume transfers interrupted by the previous run
	resumable, err := journal.ListResumable()
	if err != nil {
		zapLogger.Warn("failed to load resumable tasks", zap.Error(err))
	} else if len(resumable) > 0 {
		manager.Restore(resumable)
		zapLogger.Info("restored tasks from journal", zap.Int("count", len(resumable)))
	}

	sweeperCfg := &maintenance.Config{
		SweepInterval:   cfg.Retention.GetSweepInterval(),
		RetentionWindow: cfg.Retention.GetWindow(),
		PartialMaxAge:   cfg.Retention.GetPartialMaxAge(),
	}
	sweeper := maintenance.New(sweeperCfg, manager, fsManager, journal, zapLogger)

	serverCfg := &server.Config{
		BindAddr:     cfg.HTTP.BindAddr,
		ReadTimeout:  cfg.HTTP.GetReadTimeout(),
		WriteTimeout: cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:  cfg.HTTP.GetIdleTimeout(),
	}
	httpServer := server.New(serverCfg, manager, sweeper, fsManager, journal, zapLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := httpServer.Start(); err != nil {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := manager.Start(ctx); err != nil && err != context.Canceled {
			zapLogger.Error("download manager stopped with error", zap.Error(err))
		}
	}()

	go func() {
		if err := sweeper.Start(ctx); err != nil && err != context.Canceled {
			zapLogger.Error("sweeper stopped with error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	zapLogger.Info("application started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("cache_dir", cfg.Cache.RootDir),
	)
	<-sigChan

	zapLogger.Info("shutdown signal received, stopping services...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	manager.Stop()
	sweeper.Stop()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		zapLogger.Error("failed to stop HTTP server gracefully", zap.Error(err))
	}

	zapLogger.Info("application stopped successfully")
}
