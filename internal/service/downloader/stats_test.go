package downloader

import (
	"testing"
	"time"

	"github.com/modelkeep/model-artifact-cache/internal/domain"
)

func TestStatsAccumulator_Record(t *testing.T) {
	a := &statsAccumulator{}

	// Two completions at known speeds: 1000 B/s and 3000 B/s
	a.record(&domain.DownloadTask{
		State:            domain.TaskStateCompleted,
		BytesTransferred: 2000,
	}, 2*time.Second)
	a.record(&domain.DownloadTask{
		State:            domain.TaskStateCompleted,
		BytesTransferred: 3000,
	}, time.Second)

	// One failure and one cancellation
	a.record(&domain.DownloadTask{State: domain.TaskStateFailed}, 0)
	a.record(&domain.DownloadTask{State: domain.TaskStateCancelled}, 0)

	stats := a.snapshot()
	if stats.TotalDownloads != 4 {
		t.Errorf("TotalDownloads = %d, want 4", stats.TotalDownloads)
	}
	if stats.SuccessfulDownloads != 2 {
		t.Errorf("SuccessfulDownloads = %d, want 2", stats.SuccessfulDownloads)
	}
	if stats.FailedDownloads != 1 {
		t.Errorf("FailedDownloads = %d, want 1", stats.FailedDownloads)
	}
	if stats.TotalBytesDownloaded != 5000 {
		t.Errorf("TotalBytesDownloaded = %d, want 5000", stats.TotalBytesDownloaded)
	}

	// Mean of the two per-download speeds
	if stats.AverageSpeed != 2000 {
		t.Errorf("AverageSpeed = %v, want 2000", stats.AverageSpeed)
	}
}

func TestStatsAccumulator_ZeroActiveTime(t *testing.T) {
	a := &statsAccumulator{}

	a.record(&domain.DownloadTask{
		State:            domain.TaskStateCompleted,
		BytesTransferred: 1000,
	}, 0)

	stats := a.snapshot()
	if stats.SuccessfulDownloads != 1 {
		t.Errorf("SuccessfulDownloads = %d, want 1", stats.SuccessfulDownloads)
	}
	if stats.AverageSpeed != 0 {
		t.Errorf("AverageSpeed = %v, want 0 with no measured time", stats.AverageSpeed)
	}
}

func TestStatsAccumulator_SnapshotIsCopy(t *testing.T) {
	a := &statsAccumulator{}
	a.record(&domain.DownloadTask{State: domain.TaskStateFailed}, 0)

	snap := a.snapshot()
	snap.TotalDownloads = 99

	if a.snapshot().TotalDownloads != 1 {
		t.Error("mutating a snapshot changed the accumulator")
	}
}
