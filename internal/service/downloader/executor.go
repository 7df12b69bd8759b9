package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/modelkeep/model-artifact-cache/internal/domain"
	"github.com/modelkeep/model-artifact-cache/internal/port"
	"github.com/modelkeep/model-artifact-cache/internal/util/ratelimiter"
	"go.uber.org/zap"
)

// Control-flow sentinels inside the executor. A shutdown is handled like a
// pause so the journal row stays resumable after restart.
var (
	errPauseRequested  = errors.New("pause requested")
	errCancelRequested = errors.New("cancel requested")
)

const maxRetryDelay = 60 * time.Second

// runTask drives a single claimed task to completion, failure, pause or
// cancellation. Transient errors are retried with exponential backoff until
// the attempt budget is exhausted.
func (m *Manager) runTask(ctx context.Context, id string) {
	var resolved *port.ResolvedArtifact

	for {
		err := m.transfer(ctx, id, &resolved)
		switch {
		case err == nil:
			m.finalizeTask(id, domain.TaskStateCompleted, "")
			return

		case errors.Is(err, errPauseRequested):
			m.finalizePaused(id)
			return

		case errors.Is(err, errCancelRequested):
			m.finalizeTask(id, domain.TaskStateCancelled, "")
			return

		case domain.IsRetryable(err):
			attempt := 0
			canRetry := false
			m.store.update(id, func(tt *trackedTask) {
				tt.task.Attempt++
				tt.task.LastError = err.Error()
				tt.task.UpdatedAt = time.Now()
				attempt = tt.task.Attempt
				canRetry = tt.task.CanRetry()
			})
			if !canRetry {
				m.finalizeTask(id, domain.TaskStateFailed, err.Error())
				return
			}

			delay := m.config.RetryBaseDelay << (attempt - 1)
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
			m.logger.Warn("transfer attempt failed, retrying",
				zap.String("task_id", id),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err))

			if werr := m.waitRetry(ctx, id, delay); werr != nil {
				if errors.Is(werr, errCancelRequested) {
					m.finalizeTask(id, domain.TaskStateCancelled, "")
				} else {
					m.finalizePaused(id)
				}
				return
			}

		default:
			m.finalizeTask(id, domain.TaskStateFailed, err.Error())
			return
		}
	}
}

// transfer performs one resumable transfer attempt for the task
func (m *Manager) transfer(ctx context.Context, id string, resolved **port.ResolvedArtifact) error {
	task := m.store.get(id)
	if task == nil {
		return domain.ErrTaskNotFound
	}

	if err := m.checkControl(ctx, id); err != nil {
		return err
	}

	// Resolve the source reference once per admission
	if *resolved == nil {
		r, err := m.source.Resolve(ctx, task.SourceRef)
		if err != nil {
			return err
		}
		*resolved = r
		if r.Size > 0 {
			task.BytesTotal = r.Size
		}
		if r.Checksum != "" && task.Checksum == "" {
			task.Checksum = r.Checksum
		}
		m.store.update(id, func(tt *trackedTask) {
			tt.task.BytesTotal = task.BytesTotal
			tt.task.Checksum = task.Checksum
		})
	}

	// Reconcile the resume offset against what is actually on disk; the
	// partial file is the source of truth for byte alignment.
	offset := task.ResumeOffset
	if offset > 0 {
		size, err := m.fs.PartialSize(task.DestinationPath)
		if err != nil {
			return domain.NewRetryableError(fmt.Errorf("partial stat failed: %w", err))
		}
		if size < offset {
			offset = size
		}
	}

	written := offset
	if task.BytesTotal == domain.SizeUnknown || written < task.BytesTotal {
		var err error
		written, err = m.copyBody(ctx, id, task, (*resolved).URL, offset)
		if err != nil {
			return err
		}
	}

	if task.BytesTotal >= 0 && written != task.BytesTotal {
		m.store.update(id, func(tt *trackedTask) {
			tt.task.ResumeOffset = written
		})
		return domain.NewRetryableError(
			fmt.Errorf("short body: got %d of %d bytes", written, task.BytesTotal))
	}

	if task.Checksum != "" {
		digest, derr := m.fs.PartialDigest(task.DestinationPath)
		if derr != nil {
			return fmt.Errorf("digest failed: %w", derr)
		}
		if !strings.EqualFold(digest, task.Checksum) {
			// A corrupt partial is useless for resume
			m.fs.DeletePartial(task.DestinationPath)
			m.store.update(id, func(tt *trackedTask) {
				tt.task.BytesTransferred = 0
				tt.task.ResumeOffset = 0
			})
			return domain.ErrChecksumMismatch
		}
	}

	if err := m.fs.Promote(task.DestinationPath); err != nil {
		return fmt.Errorf("failed to promote artifact: %w", err)
	}

	m.store.update(id, func(tt *trackedTask) {
		tt.task.BytesTransferred = written
		if tt.task.BytesTotal == domain.SizeUnknown {
			tt.task.BytesTotal = written
		}
	})
	return nil
}

// copyBody streams the artifact body into the partial file in chunks,
// checking for pause/cancel signals between chunks. Returns the total bytes
// on disk afterwards. task is the executor's working copy and is updated
// alongside the store record.
func (m *Manager) copyBody(ctx context.Context, id string, task *domain.DownloadTask, url string, offset int64) (int64, error) {
	body, total, err := m.source.Fetch(ctx, url, offset)
	if errors.Is(err, domain.ErrResumeNotSupported) {
		m.logger.Warn("resume not supported by source, restarting from zero",
			zap.String("task_id", id))
		if derr := m.fs.DeletePartial(task.DestinationPath); derr != nil {
			return offset, derr
		}
		offset = 0
		body, total, err = m.source.Fetch(ctx, url, 0)
	}
	if err != nil {
		return offset, err
	}
	defer body.Close()

	if total > 0 {
		task.BytesTotal = total
		m.store.update(id, func(tt *trackedTask) {
			tt.task.BytesTotal = total
		})
	}

	w, err := m.fs.OpenPartial(task.DestinationPath, offset)
	if err != nil {
		return offset, fmt.Errorf("failed to open partial: %w", err)
	}
	defer w.Close()

	start := time.Now()
	defer func() {
		m.store.update(id, func(tt *trackedTask) {
			tt.activeTime += time.Since(start)
		})
	}()

	m.store.update(id, func(tt *trackedTask) {
		tt.task.BytesTransferred = offset
		tt.task.ResumeOffset = offset
		tt.samples = []speedSample{{at: start, bytes: offset}}
	})

	flush := ratelimiter.New(m.config.ProgressInterval)
	buf := make([]byte, m.config.ChunkSize)
	written := offset

	for {
		// Cooperative pause/cancel check between chunks keeps partial
		// writes byte-aligned; worst-case latency is one chunk.
		if err := m.checkControl(ctx, id); err != nil {
			return written, err
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if task.BytesTotal >= 0 && written+int64(n) > task.BytesTotal {
				return written, fmt.Errorf("source sent more than the expected %d bytes", task.BytesTotal)
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("write failed: %w", werr)
			}
			written += int64(n)
			m.recordProgress(id, written, flush)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			m.store.update(id, func(tt *trackedTask) {
				tt.task.ResumeOffset = written
			})
			return written, domain.NewRetryableError(fmt.Errorf("read failed: %w", rerr))
		}
	}

	if err := w.Close(); err != nil {
		return written, fmt.Errorf("failed to close partial: %w", err)
	}
	return written, nil
}

// recordProgress updates the task record and speed window, flushing to the
// journal at a bounded rate.
func (m *Manager) recordProgress(id string, written int64, flush *ratelimiter.Limiter) {
	now := time.Now()
	var snapshot *domain.DownloadTask

	persist, _ := flush.Allow()
	m.store.update(id, func(tt *trackedTask) {
		tt.task.BytesTransferred = written
		tt.task.UpdatedAt = now

		tt.samples = append(tt.samples, speedSample{at: now, bytes: written})
		horizon := now.Add(-m.config.SpeedWindow)
		trim := 0
		for trim < len(tt.samples)-1 && tt.samples[trim].at.Before(horizon) {
			trim++
		}
		tt.samples = tt.samples[trim:]

		if persist {
			tt.task.ResumeOffset = written
			snapshot = tt.task.Clone()
		}
	})

	if persist {
		m.journalSave(snapshot)
	}
}

// checkControl reports a pending pause or cancel signal, or a shutdown.
// Cancel takes precedence over pause.
func (m *Manager) checkControl(ctx context.Context, id string) error {
	var sig controlSignal
	m.store.update(id, func(tt *trackedTask) {
		sig = tt.signal
	})

	switch sig {
	case signalCancel:
		return errCancelRequested
	case signalPause:
		return errPauseRequested
	}
	if ctx.Err() != nil {
		return errPauseRequested
	}
	return nil
}

// waitRetry sleeps for the backoff delay while staying responsive to
// pause/cancel signals and shutdown.
func (m *Manager) waitRetry(ctx context.Context, id string, delay time.Duration) error {
	deadline := time.Now().Add(delay)
	for {
		if err := m.checkControl(ctx, id); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		step := 100 * time.Millisecond
		if remaining < step {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return errPauseRequested
		case <-time.After(step):
		}
	}
}

// finalizePaused freezes the task at its current offset. Paused is not
// terminal: statistics are untouched and the done channel stays open.
func (m *Manager) finalizePaused(id string) {
	var snapshot *domain.DownloadTask
	m.store.update(id, func(tt *trackedTask) {
		tt.task.ResumeOffset = tt.task.BytesTransferred
		if err := tt.task.Transition(domain.TaskStatePaused); err != nil {
			return
		}
		tt.signal = signalNone
		tt.samples = nil
		snapshot = tt.task.Clone()
	})
	if snapshot == nil {
		return
	}

	m.journalSave(snapshot)
	m.logger.Info("download paused",
		zap.String("task_id", id),
		zap.Int64("resume_offset", snapshot.ResumeOffset))
}
