package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/modelkeep/model-artifact-cache/internal/port"
	"go.uber.org/zap"
)

// TaskReaper removes terminal task records past the retention window.
// Implemented by the download manager.
type TaskReaper interface {
	SweepTerminal(olderThan time.Duration, force bool) int
}

// Config contains sweeper configuration
type Config struct {
	// SweepInterval is how often the periodic sweep runs
	SweepInterval time.Duration

	// RetentionWindow is the minimum age a terminal task must reach before
	// the periodic sweep removes it
	RetentionWindow time.Duration

	// PartialMaxAge is the maximum age of orphaned partial files before
	// they are deleted from the cache
	PartialMaxAge time.Duration
}

// DefaultConfig returns default sweeper configuration
func DefaultConfig() *Config {
	return &Config{
		SweepInterval:   time.Hour,
		RetentionWindow: 24 * time.Hour,
		PartialMaxAge:   24 * time.Hour,
	}
}

// Service periodically evicts terminal task records and orphaned partial
// files. Queued, downloading and paused tasks are never touched.
type Service struct {
	config  *Config
	reaper  TaskReaper
	fs      port.CacheFS
	journal port.TaskJournal // optional, may be nil
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new sweeper Service
func New(cfg *Config, reaper TaskReaper, fs port.CacheFS, journal port.TaskJournal, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.RetentionWindow == 0 {
		cfg.RetentionWindow = 24 * time.Hour
	}
	if cfg.PartialMaxAge == 0 {
		cfg.PartialMaxAge = 24 * time.Hour
	}

	return &Service{
		config:  cfg,
		reaper:  reaper,
		fs:      fs,
		journal: journal,
		logger:  logger,
	}
}

// Start starts the periodic sweep loop
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("sweeper started",
		zap.Duration("sweep_interval", s.config.SweepInterval),
		zap.Duration("retention_window", s.config.RetentionWindow))

	s.wg.Add(1)
	go s.sweepLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("sweeper stopped")
	return nil
}

// Stop stops the sweeper
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// sweepLoop runs the periodic sweep
func (s *Service) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupTasks(false)
			s.cleanupPartials()
		}
	}
}

// CleanupTasks removes terminal task records older than the retention window,
// or every terminal record when forced. Safe to call on an empty store.
// Returns the number of records removed.
func (s *Service) CleanupTasks(force bool) int {
	removed := s.reaper.SweepTerminal(s.config.RetentionWindow, force)
	if removed > 0 {
		s.logger.Info("cleaned up terminal tasks",
			zap.Int("count", removed),
			zap.Bool("force", force))
	}

	if s.journal != nil {
		// Rows left behind by previous runs
		purged, err := s.journal.PurgeTerminal(s.config.RetentionWindow)
		if err != nil {
			s.logger.Error("failed to purge journal rows", zap.Error(err))
		} else if purged > 0 {
			s.logger.Info("purged terminal journal rows", zap.Int("count", purged))
		}
	}

	return removed
}

// cleanupPartials removes orphaned partial files past their max age
func (s *Service) cleanupPartials() {
	count, err := s.fs.CleanOldPartials(s.config.PartialMaxAge)
	if err != nil {
		s.logger.Error("failed to clean old partial files", zap.Error(err))
	} else if count > 0 {
		s.logger.Info("cleaned up old partial files", zap.Int("count", count))
	}
}
