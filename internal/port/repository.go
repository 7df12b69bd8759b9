package port

import (
	"time"

	"github.com/modelkeep/model-artifact-cache/internal/domain"
)

// TaskJournal persists task records so paused and failed transfers survive a
// process restart. The in-memory task store stays authoritative; the journal
// is written behind it and replayed at startup.
type TaskJournal interface {
	// SaveTask inserts or updates the journal row for a task.
	SaveTask(task *domain.DownloadTask) error

	// DeleteTask removes the journal row for a task.
	DeleteTask(id string) error

	// ListResumable returns non-terminal tasks recorded by a previous run,
	// oldest first.
	ListResumable() ([]*domain.DownloadTask, error)

	// PurgeTerminal deletes terminal rows older than the cutoff and returns
	// the number removed.
	PurgeTerminal(olderThan time.Duration) (int, error)

	// Ping checks journal connectivity.
	Ping() error
}
