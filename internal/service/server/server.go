package server

import (
	"context"
	"net/http"
	"time"

	"github.com/modelkeep/model-artifact-cache/internal/port"
	"github.com/modelkeep/model-artifact-cache/internal/service/downloader"
	"github.com/modelkeep/model-artifact-cache/internal/service/maintenance"
	"go.uber.org/zap"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "0.0.0.0:8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server exposes the download manager operations over HTTP
type Server struct {
	config          *Config
	logger          *zap.Logger
	journal         port.TaskJournal // optional, may be nil
	server          *http.Server
	downloadHandler *DownloadHandler
}

// New creates a new HTTP server
func New(cfg *Config, manager *downloader.Manager, sweeper *maintenance.Service, fs port.CacheFS, journal port.TaskJournal, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config:  cfg,
		logger:  logger,
		journal: journal,
	}

	s.downloadHandler = NewDownloadHandler(manager, sweeper, fs, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/api/downloads", s.downloadHandler.HandleDownloads)
	mux.HandleFunc("/api/downloads/", s.downloadHandler.HandleTask)
	mux.HandleFunc("/api/downloads/batch", s.downloadHandler.HandleBatch)
	mux.HandleFunc("/api/stats", s.downloadHandler.HandleStats)
	mux.HandleFunc("/api/maintenance/cleanup", s.downloadHandler.HandleCleanup)

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      LoggingMiddleware(logger)(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests. The journal connection is
// checked so a wedged database surfaces as degraded rather than healthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := "healthy"
	if s.journal != nil {
		if err := s.journal.Ping(); err != nil {
			s.logger.Warn("journal ping failed", zap.Error(err))
			status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"` + status + `","time":"` + time.Now().Format(time.RFC3339) + `"}`))
}
