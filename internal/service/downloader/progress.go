package downloader

import (
	"time"

	"github.com/modelkeep/model-artifact-cache/internal/domain"
)

// Progress is an on-demand snapshot of one task's transfer state.
// PercentComplete and EstimatedTimeRemaining are nil when the total size is
// unknown; EstimatedTimeRemaining is also nil when the current speed is zero.
type Progress struct {
	TaskID                 string
	State                  domain.TaskState
	BytesTransferred       int64
	BytesTotal             int64
	PercentComplete        *float64
	CurrentSpeed           float64 // bytes/sec over the sliding window
	EstimatedTimeRemaining *time.Duration
}

// Progress returns a progress snapshot for the task, or nil when the task
// does not exist. It is purely computed from the task record and its speed
// sample window.
func (m *Manager) Progress(id string) *Progress {
	var p *Progress

	m.store.update(id, func(tt *trackedTask) {
		p = &Progress{
			TaskID:           tt.task.ID,
			State:            tt.task.State,
			BytesTransferred: tt.task.BytesTransferred,
			BytesTotal:       tt.task.BytesTotal,
		}

		if tt.task.State == domain.TaskStateDownloading {
			p.CurrentSpeed = windowSpeed(tt.samples)
		}

		if tt.task.BytesTotal > 0 {
			pct := float64(tt.task.BytesTransferred) / float64(tt.task.BytesTotal) * 100
			p.PercentComplete = &pct

			if p.CurrentSpeed > 0 {
				remaining := float64(tt.task.BytesTotal - tt.task.BytesTransferred)
				eta := time.Duration(remaining / p.CurrentSpeed * float64(time.Second))
				p.EstimatedTimeRemaining = &eta
			}
		}
	})

	return p
}

// windowSpeed derives bytes/sec from the oldest and newest samples in the
// sliding window. Requires at least two samples covering a non-zero span.
func windowSpeed(samples []speedSample) float64 {
	if len(samples) < 2 {
		return 0
	}
	first := samples[0]
	last := samples[len(samples)-1]

	span := last.at.Sub(first.at).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(last.bytes-first.bytes) / span
}
