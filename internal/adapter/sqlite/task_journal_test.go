package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/modelkeep/model-artifact-cache/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func journalTask(id string, state domain.TaskState, createdAt time.Time) *domain.DownloadTask {
	return &domain.DownloadTask{
		ID:              id,
		SourceRef:       "llama:7b",
		DestinationPath: id + ".bin",
		State:           state,
		BytesTotal:      domain.SizeUnknown,
		MaxAttempts:     3,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func TestStore_ListResumable(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	// Every non-terminal state survives a restart, terminal rows do not
	queued := journalTask("queued-1", domain.TaskStateQueued, now.Add(-3*time.Hour))
	downloading := journalTask("downloading-1", domain.TaskStateDownloading, now.Add(-2*time.Hour))
	downloading.BytesTotal = 5000
	downloading.BytesTransferred = 1500
	paused := journalTask("paused-1", domain.TaskStatePaused, now.Add(-time.Hour))
	paused.ResumeOffset = 400
	paused.Checksum = "abc123"
	completed := journalTask("completed-1", domain.TaskStateCompleted, now.Add(-4*time.Hour))
	failed := journalTask("failed-1", domain.TaskStateFailed, now.Add(-5*time.Hour))
	failed.LastError = "download returned 404"

	for _, task := range []*domain.DownloadTask{queued, downloading, paused, completed, failed} {
		if err := store.SaveTask(task); err != nil {
			t.Fatalf("SaveTask(%s) error = %v", task.ID, err)
		}
	}

	tasks, err := store.ListResumable()
	if err != nil {
		t.Fatalf("ListResumable() error = %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("ListResumable() = %d tasks, want 3", len(tasks))
	}

	// Oldest first so FIFO admission order survives the restart
	wantOrder := []string{"queued-1", "downloading-1", "paused-1"}
	for i, want := range wantOrder {
		if tasks[i].ID != want {
			t.Errorf("tasks[%d].ID = %s, want %s", i, tasks[i].ID, want)
		}
	}

	if tasks[0].State != domain.TaskStateQueued {
		t.Errorf("queued row state = %v, want queued", tasks[0].State)
	}
	if tasks[1].BytesTransferred != 1500 {
		t.Errorf("downloading row BytesTransferred = %d, want 1500", tasks[1].BytesTransferred)
	}
	if tasks[2].ResumeOffset != 400 {
		t.Errorf("paused row ResumeOffset = %d, want 400", tasks[2].ResumeOffset)
	}
	if tasks[2].Checksum != "abc123" {
		t.Errorf("paused row Checksum = %q, want abc123", tasks[2].Checksum)
	}
}

func TestStore_SaveTaskUpsert(t *testing.T) {
	store := newTestStore(t)

	task := journalTask("task-1", domain.TaskStateQueued, time.Now().Add(-time.Minute))
	if err := store.SaveTask(task); err != nil {
		t.Fatalf("SaveTask() error = %v", err)
	}

	task.State = domain.TaskStateDownloading
	task.BytesTotal = 9000
	task.BytesTransferred = 2048
	task.Attempt = 1
	task.UpdatedAt = time.Now()
	if err := store.SaveTask(task); err != nil {
		t.Fatalf("SaveTask() update error = %v", err)
	}

	tasks, err := store.ListResumable()
	if err != nil {
		t.Fatalf("ListResumable() error = %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("ListResumable() = %d tasks, want 1", len(tasks))
	}
	got := tasks[0]
	if got.State != domain.TaskStateDownloading {
		t.Errorf("State = %v, want downloading", got.State)
	}
	if got.BytesTransferred != 2048 {
		t.Errorf("BytesTransferred = %d, want 2048", got.BytesTransferred)
	}
	if got.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", got.Attempt)
	}
}

func TestStore_DeleteTask(t *testing.T) {
	store := newTestStore(t)

	task := journalTask("task-1", domain.TaskStatePaused, time.Now())
	if err := store.SaveTask(task); err != nil {
		t.Fatalf("SaveTask() error = %v", err)
	}

	if err := store.DeleteTask("task-1"); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	tasks, err := store.ListResumable()
	if err != nil {
		t.Fatalf("ListResumable() error = %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("ListResumable() = %d tasks after delete, want 0", len(tasks))
	}

	// Deleting an unknown row is not an error
	if err := store.DeleteTask("missing"); err != nil {
		t.Errorf("DeleteTask(missing) error = %v", err)
	}
}

func TestStore_PurgeTerminal(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	oldCompleted := journalTask("old-completed", domain.TaskStateCompleted, now.Add(-48*time.Hour))
	oldFailed := journalTask("old-failed", domain.TaskStateFailed, now.Add(-48*time.Hour))
	freshCompleted := journalTask("fresh-completed", domain.TaskStateCompleted, now)
	oldPaused := journalTask("old-paused", domain.TaskStatePaused, now.Add(-48*time.Hour))

	for _, task := range []*domain.DownloadTask{oldCompleted, oldFailed, freshCompleted, oldPaused} {
		if err := store.SaveTask(task); err != nil {
			t.Fatalf("SaveTask(%s) error = %v", task.ID, err)
		}
	}

	removed, err := store.PurgeTerminal(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeTerminal() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("PurgeTerminal() = %d, want 2", removed)
	}

	// Old non-terminal rows are never purged, they belong to Restore
	tasks, err := store.ListResumable()
	if err != nil {
		t.Fatalf("ListResumable() error = %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "old-paused" {
		t.Errorf("ListResumable() = %+v, want only old-paused", tasks)
	}
}

func TestStore_Ping(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
