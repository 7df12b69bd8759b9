package downloader

import (
	"sync"
	"time"

	"github.com/modelkeep/model-artifact-cache/internal/domain"
)

// statsAccumulator keeps the process-wide download aggregate. Updates are
// serialized behind its mutex so concurrent terminal transitions of
// different tasks never interleave a partial update.
type statsAccumulator struct {
	mu    sync.Mutex
	stats domain.DownloadStatistics
}

// record applies exactly one terminal transition to the aggregate.
// Cancelled tasks count only toward the total.
func (a *statsAccumulator) record(task *domain.DownloadTask, activeTime time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.TotalDownloads++

	switch task.State {
	case domain.TaskStateCompleted:
		a.stats.SuccessfulDownloads++
		a.stats.TotalBytesDownloaded += task.BytesTransferred

		speed := 0.0
		if activeTime > 0 {
			speed = float64(task.BytesTransferred) / activeTime.Seconds()
		}
		n := float64(a.stats.SuccessfulDownloads)
		a.stats.AverageSpeed = (a.stats.AverageSpeed*(n-1) + speed) / n

	case domain.TaskStateFailed:
		a.stats.FailedDownloads++
	}
}

// snapshot returns a copy of the aggregate
func (a *statsAccumulator) snapshot() domain.DownloadStatistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Stats returns a copy of the process-wide download statistics
func (m *Manager) Stats() domain.DownloadStatistics {
	return m.stats.snapshot()
}
