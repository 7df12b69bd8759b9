package downloader

import (
	"testing"
	"time"

	"github.com/modelkeep/model-artifact-cache/internal/domain"
)

func newQueuedTask(id string, createdAt time.Time) *domain.DownloadTask {
	return &domain.DownloadTask{
		ID:              id,
		SourceRef:       "model:" + id,
		DestinationPath: id + ".bin",
		State:           domain.TaskStateQueued,
		BytesTotal:      domain.SizeUnknown,
		MaxAttempts:     3,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func TestTaskStore_AddGet(t *testing.T) {
	s := NewTaskStore()

	if got := s.get("missing"); got != nil {
		t.Errorf("get(missing) = %v, want nil", got)
	}

	s.add(newQueuedTask("a", time.Now()))

	got := s.get("a")
	if got == nil {
		t.Fatal("get(a) = nil after add")
	}
	if got.State != domain.TaskStateQueued {
		t.Errorf("State = %v, want queued", got.State)
	}

	// Reads hand out copies; mutating one must not touch the store
	got.BytesTransferred = 999
	if s.get("a").BytesTransferred != 0 {
		t.Error("mutating a returned copy changed the stored record")
	}
}

func TestTaskStore_Update(t *testing.T) {
	s := NewTaskStore()
	s.add(newQueuedTask("a", time.Now()))

	ok := s.update("a", func(tt *trackedTask) {
		tt.task.BytesTransferred = 42
	})
	if !ok {
		t.Fatal("update(a) = false")
	}
	if s.get("a").BytesTransferred != 42 {
		t.Error("update did not persist")
	}

	if s.update("missing", func(tt *trackedTask) {}) {
		t.Error("update(missing) = true, want false")
	}
}

func TestTaskStore_ClaimOldestQueued(t *testing.T) {
	s := NewTaskStore()
	now := time.Now()

	if got := s.claimOldestQueued(); got != nil {
		t.Errorf("claim on empty store = %v, want nil", got)
	}

	s.add(newQueuedTask("newer", now))
	s.add(newQueuedTask("oldest", now.Add(-time.Minute)))
	s.add(newQueuedTask("middle", now.Add(-30*time.Second)))

	// Claims must come out in enqueue order
	for _, want := range []string{"oldest", "middle", "newer"} {
		got := s.claimOldestQueued()
		if got == nil {
			t.Fatalf("claim = nil, want %s", want)
		}
		if got.ID != want {
			t.Errorf("claim = %s, want %s", got.ID, want)
		}
		if got.State != domain.TaskStateDownloading {
			t.Errorf("claimed task state = %v, want downloading", got.State)
		}
	}

	if got := s.claimOldestQueued(); got != nil {
		t.Errorf("claim with nothing queued = %v, want nil", got)
	}
}

func TestTaskStore_List(t *testing.T) {
	s := NewTaskStore()
	now := time.Now()

	s.add(newQueuedTask("b", now))
	s.add(newQueuedTask("a", now.Add(-time.Minute)))
	s.update("b", func(tt *trackedTask) {
		tt.task.State = domain.TaskStateCompleted
	})

	all := s.list()
	if len(all) != 2 {
		t.Fatalf("list() = %d tasks, want 2", len(all))
	}
	if all[0].ID != "a" || all[1].ID != "b" {
		t.Errorf("list() order = [%s %s], want [a b]", all[0].ID, all[1].ID)
	}

	queued := s.list(domain.TaskStateQueued)
	if len(queued) != 1 || queued[0].ID != "a" {
		t.Errorf("list(queued) = %v, want [a]", queued)
	}
}

func TestTaskStore_Remove(t *testing.T) {
	s := NewTaskStore()
	s.add(newQueuedTask("a", time.Now()))

	if !s.remove("a") {
		t.Error("remove(a) = false")
	}
	if s.remove("a") {
		t.Error("second remove(a) = true")
	}
	if s.len() != 0 {
		t.Errorf("len() = %d, want 0", s.len())
	}
}

func TestTaskStore_DoneChan(t *testing.T) {
	s := NewTaskStore()

	if s.doneChan("missing") != nil {
		t.Error("doneChan(missing) != nil")
	}

	s.add(newQueuedTask("a", time.Now()))
	done := s.doneChan("a")
	if done == nil {
		t.Fatal("doneChan(a) = nil")
	}

	select {
	case <-done:
		t.Fatal("done channel closed before terminal transition")
	default:
	}
}
