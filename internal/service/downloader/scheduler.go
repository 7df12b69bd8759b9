package downloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelkeep/model-artifact-cache/internal/domain"
	"github.com/modelkeep/model-artifact-cache/internal/port"
	"go.uber.org/zap"
)

// Config contains download manager configuration
type Config struct {
	ConcurrentDownloads int
	MaxCacheSizeBytes   int64 // 0 disables the cache ceiling check
	MaxAttempts         int
	RetryBaseDelay      time.Duration
	ChunkSize           int
	ProgressInterval    time.Duration // journal flush rate limit
	SpeedWindow         time.Duration
	KeepPartialOnCancel bool
	WorkerPollInterval  time.Duration
}

// DefaultConfig returns default manager configuration
func DefaultConfig() *Config {
	return &Config{
		ConcurrentDownloads: 3,
		MaxAttempts:         3,
		RetryBaseDelay:      500 * time.Millisecond,
		ChunkSize:           256 * 1024,
		ProgressInterval:    time.Second,
		SpeedWindow:         10 * time.Second,
		WorkerPollInterval:  time.Second,
	}
}

// Request is one download request submitted by a caller
type Request struct {
	SourceRef       string
	DestinationPath string
}

// Manager owns the task store and runs the bounded pool of transfer workers.
// It is the only component that mutates task records, either directly for
// enqueue/pause/resume/cancel or through the executor assigned to a task.
type Manager struct {
	config  *Config
	source  port.ArtifactSource
	fs      port.CacheFS
	journal port.TaskJournal // optional, may be nil
	logger  *zap.Logger

	store *TaskStore
	stats *statsAccumulator
	wake  chan struct{}

	mu      sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new download Manager
func New(cfg *Config, source port.ArtifactSource, fs port.CacheFS, journal port.TaskJournal, logger *zap.Logger) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ConcurrentDownloads == 0 {
		cfg.ConcurrentDownloads = 3
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 256 * 1024
	}
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = time.Second
	}
	if cfg.SpeedWindow == 0 {
		cfg.SpeedWindow = 10 * time.Second
	}
	if cfg.WorkerPollInterval == 0 {
		cfg.WorkerPollInterval = time.Second
	}

	return &Manager{
		config:  cfg,
		source:  source,
		fs:      fs,
		journal: journal,
		logger:  logger,
		store:   NewTaskStore(),
		stats:   &statsAccumulator{},
		wake:    make(chan struct{}, 1),
	}
}

// Start runs the transfer workers until ctx is cancelled
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("download manager already running")
	}
	m.running = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.logger.Info("download manager started",
		zap.Int("workers", m.config.ConcurrentDownloads))

	for i := 0; i < m.config.ConcurrentDownloads; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}

	<-ctx.Done()
	m.wg.Wait()
	m.logger.Info("download manager stopped")
	return nil
}

// Stop stops the manager. A stopped manager rejects new enqueues.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	m.running = false
	m.stopped = true
}

// Enqueue validates the request, creates a queued task and returns its ID.
// Admission into an execution slot happens asynchronously.
func (m *Manager) Enqueue(req Request) (string, error) {
	if req.SourceRef == "" || req.DestinationPath == "" {
		return "", domain.ErrInvalidRequest
	}

	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return "", domain.ErrManagerStopped
	}

	if m.config.MaxCacheSizeBytes > 0 {
		size, err := m.fs.CacheSize()
		if err != nil {
			m.logger.Warn("cache size check failed", zap.Error(err))
		} else if size >= m.config.MaxCacheSizeBytes {
			return "", domain.ErrCapacityExceeded
		}
	}

	now := time.Now()
	task := &domain.DownloadTask{
		ID:              uuid.NewString(),
		SourceRef:       req.SourceRef,
		DestinationPath: req.DestinationPath,
		State:           domain.TaskStateQueued,
		BytesTotal:      domain.SizeUnknown,
		MaxAttempts:     m.config.MaxAttempts,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	m.store.add(task)
	m.journalSave(task)
	m.notify()

	m.logger.Info("download task enqueued",
		zap.String("task_id", task.ID),
		zap.String("source_ref", task.SourceRef))
	return task.ID, nil
}

// Pause signals the running transfer to stop after the current chunk.
// Returns false when the task does not exist or is not downloading.
func (m *Manager) Pause(id string) bool {
	paused := false
	m.store.update(id, func(tt *trackedTask) {
		if tt.task.State == domain.TaskStateDownloading && tt.signal == signalNone {
			tt.signal = signalPause
			paused = true
		}
	})

	if paused {
		m.logger.Info("pause requested", zap.String("task_id", id))
	}
	return paused
}

// Resume re-admits a paused task into the queue at its stored resume offset.
// Returns false when the task does not exist or is not paused.
func (m *Manager) Resume(id string) bool {
	resumed := false
	var snapshot *domain.DownloadTask
	m.store.update(id, func(tt *trackedTask) {
		if tt.task.State != domain.TaskStatePaused {
			return
		}
		if err := tt.task.Transition(domain.TaskStateQueued); err != nil {
			return
		}
		tt.signal = signalNone
		resumed = true
		snapshot = tt.task.Clone()
	})

	if resumed {
		m.journalSave(snapshot)
		m.notify()
		m.logger.Info("download task resumed",
			zap.String("task_id", id),
			zap.Int64("resume_offset", snapshot.ResumeOffset))
	}
	return resumed
}

// Cancel aborts a task. Queued and paused tasks are finalized immediately;
// a downloading task is signalled and finalized by its executor within one
// chunk interval. Returns false when the task is unknown or already terminal.
func (m *Manager) Cancel(id string) bool {
	signalled := false
	finalize := false
	m.store.update(id, func(tt *trackedTask) {
		switch tt.task.State {
		case domain.TaskStateDownloading:
			if tt.signal != signalCancel {
				tt.signal = signalCancel
				signalled = true
			}
		case domain.TaskStateQueued, domain.TaskStatePaused:
			finalize = true
		}
	})

	if finalize {
		m.finalizeTask(id, domain.TaskStateCancelled, "")
		return true
	}
	if signalled {
		m.logger.Info("cancel requested", zap.String("task_id", id))
	}
	return signalled
}

// ActiveTasks returns a snapshot of queued and downloading tasks ordered by
// creation time.
func (m *Manager) ActiveTasks() []*domain.DownloadTask {
	tasks := m.store.list(domain.TaskStateQueued, domain.TaskStateDownloading)
	if tasks == nil {
		tasks = []*domain.DownloadTask{}
	}
	return tasks
}

// GetTask returns a copy of the task record, or nil when unknown
func (m *Manager) GetTask(id string) *domain.DownloadTask {
	return m.store.get(id)
}

// Restore re-adds tasks persisted by a previous run and queues them for
// transfer at their stored resume offsets. Rows left in the downloading
// state by a crash are equivalent to paused-at-offset and re-queued too.
func (m *Manager) Restore(tasks []*domain.DownloadTask) {
	for _, task := range tasks {
		restored := task.Clone()
		switch restored.State {
		case domain.TaskStateDownloading:
			// The last journalled offset is the resume point
			restored.ResumeOffset = restored.BytesTransferred
			restored.State = domain.TaskStatePaused
		case domain.TaskStateQueued, domain.TaskStatePaused:
		default:
			continue
		}
		if restored.State == domain.TaskStatePaused {
			if err := restored.Transition(domain.TaskStateQueued); err != nil {
				continue
			}
		}
		m.store.add(restored)
		m.journalSave(restored)
		m.logger.Info("restored download task",
			zap.String("task_id", restored.ID),
			zap.String("journalled_state", string(task.State)),
			zap.Int64("resume_offset", restored.ResumeOffset))
	}
	m.notify()
}

// Delete evicts a terminal task record and its artifact from the cache:
// the promoted file for completed tasks, the partial for failed and
// cancelled ones. Returns false when the task is unknown or not terminal.
func (m *Manager) Delete(id string) bool {
	task := m.store.get(id)
	if task == nil || !task.State.IsTerminal() {
		return false
	}
	if !m.store.remove(id) {
		return false
	}

	var err error
	if task.State == domain.TaskStateCompleted {
		err = m.fs.DeleteFile(task.DestinationPath)
	} else {
		err = m.fs.DeletePartial(task.DestinationPath)
	}
	if err != nil {
		m.logger.Warn("failed to delete artifact",
			zap.String("task_id", id),
			zap.Error(err))
	}

	if m.journal != nil {
		if err := m.journal.DeleteTask(id); err != nil {
			m.logger.Warn("failed to delete journal row",
				zap.String("task_id", id),
				zap.Error(err))
		}
	}

	m.logger.Info("deleted download task",
		zap.String("task_id", id),
		zap.String("state", string(task.State)))
	return true
}

// SweepTerminal removes terminal task records whose last update is older than
// the retention window, or every terminal record when forced. Partial
// artifacts of removed failed and cancelled tasks are deleted as orphans.
// Returns the number of records removed.
func (m *Manager) SweepTerminal(olderThan time.Duration, force bool) int {
	cutoff := time.Now().Add(-olderThan)
	removed := 0

	for _, task := range m.store.list(domain.TaskStateCompleted, domain.TaskStateFailed, domain.TaskStateCancelled) {
		if !force && task.UpdatedAt.After(cutoff) {
			continue
		}
		if !m.store.remove(task.ID) {
			continue
		}
		removed++

		if task.State != domain.TaskStateCompleted {
			if err := m.fs.DeletePartial(task.DestinationPath); err != nil {
				m.logger.Warn("failed to delete orphaned partial",
					zap.String("task_id", task.ID),
					zap.Error(err))
			}
		}
		if m.journal != nil {
			if err := m.journal.DeleteTask(task.ID); err != nil {
				m.logger.Warn("failed to delete journal row",
					zap.String("task_id", task.ID),
					zap.Error(err))
			}
		}
	}

	if removed > 0 {
		m.logger.Info("swept terminal tasks", zap.Int("count", removed))
	}
	return removed
}

// worker admits queued tasks into its execution slot until ctx is cancelled
func (m *Manager) worker(ctx context.Context, workerID int) {
	defer m.wg.Done()

	m.logger.Debug("transfer worker started", zap.Int("worker", workerID))

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("transfer worker stopped", zap.Int("worker", workerID))
			return
		default:
		}

		task := m.store.claimOldestQueued()
		if task == nil {
			select {
			case <-ctx.Done():
			case <-m.wake:
			case <-time.After(m.config.WorkerPollInterval):
			}
			continue
		}

		m.logger.Info("admitted download task",
			zap.Int("worker", workerID),
			zap.String("task_id", task.ID),
			zap.String("source_ref", task.SourceRef),
			zap.Int64("resume_offset", task.ResumeOffset))

		m.runTask(ctx, task.ID)
	}
}

// finalizeTask moves the task into a terminal state and performs the side
// effects tied to it: partial cleanup, statistics, journal, done signal.
func (m *Manager) finalizeTask(id string, state domain.TaskState, lastError string) {
	var snapshot *domain.DownloadTask
	var activeTime time.Duration
	var done chan struct{}

	m.store.update(id, func(tt *trackedTask) {
		tt.task.ResumeOffset = tt.task.BytesTransferred
		if lastError != "" {
			tt.task.LastError = lastError
		}
		if err := tt.task.Transition(state); err != nil {
			return
		}
		tt.signal = signalNone
		snapshot = tt.task.Clone()
		activeTime = tt.activeTime
		done = tt.done
	})
	if snapshot == nil {
		return
	}

	if state == domain.TaskStateCancelled && !m.config.KeepPartialOnCancel {
		if err := m.fs.DeletePartial(snapshot.DestinationPath); err != nil {
			m.logger.Warn("failed to delete partial on cancel",
				zap.String("task_id", id),
				zap.Error(err))
		}
	}

	m.stats.record(snapshot, activeTime)
	m.journalSave(snapshot)
	close(done)

	switch state {
	case domain.TaskStateCompleted:
		m.logger.Info("download completed",
			zap.String("task_id", id),
			zap.Int64("bytes", snapshot.BytesTransferred))
	case domain.TaskStateFailed:
		m.logger.Error("download failed",
			zap.String("task_id", id),
			zap.Int("attempts", snapshot.Attempt),
			zap.String("last_error", snapshot.LastError))
	case domain.TaskStateCancelled:
		m.logger.Info("download cancelled", zap.String("task_id", id))
	}
}

// journalSave persists the task record, ignoring a missing journal
func (m *Manager) journalSave(task *domain.DownloadTask) {
	if m.journal == nil || task == nil {
		return
	}
	if err := m.journal.SaveTask(task); err != nil {
		m.logger.Warn("failed to save task to journal",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}

// notify wakes one idle worker
func (m *Manager) notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
