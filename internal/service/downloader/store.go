package downloader

import (
	"sort"
	"sync"
	"time"

	"github.com/modelkeep/model-artifact-cache/internal/domain"
)

// controlSignal is a cooperative stop request for a running transfer.
// The executor observes it between chunks; it is never preemptive.
type controlSignal int

const (
	signalNone controlSignal = iota
	signalPause
	signalCancel
)

// speedSample records cumulative transferred bytes at a point in time.
type speedSample struct {
	at    time.Time
	bytes int64
}

// trackedTask pairs the task record with runtime-only transfer state.
// All fields are guarded by the TaskStore mutex.
type trackedTask struct {
	task domain.DownloadTask

	signal     controlSignal
	samples    []speedSample
	activeTime time.Duration // accumulated transfer time across runs
	done       chan struct{} // closed once the task reaches a terminal state
}

// TaskStore is the authoritative in-memory record of all tasks. It is the
// single piece of mutable shared state; every mutation goes through update
// and reads hand out deep copies only.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[string]*trackedTask
}

// NewTaskStore creates an empty task store
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]*trackedTask),
	}
}

// add registers a new task record
func (s *TaskStore) add(task *domain.DownloadTask) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[task.ID] = &trackedTask{
		task: *task,
		done: make(chan struct{}),
	}
}

// get returns a copy of the task record, or nil when unknown
func (s *TaskStore) get(id string) *domain.DownloadTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	tt, ok := s.tasks[id]
	if !ok {
		return nil
	}
	return tt.task.Clone()
}

// update runs fn against the tracked record under the store lock.
// Returns false when the task does not exist. fn must not block.
func (s *TaskStore) update(id string, fn func(*trackedTask)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	tt, ok := s.tasks[id]
	if !ok {
		return false
	}
	fn(tt)
	return true
}

// doneChan returns the channel closed on the task's terminal transition,
// or nil when the task is unknown.
func (s *TaskStore) doneChan(id string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	tt, ok := s.tasks[id]
	if !ok {
		return nil
	}
	return tt.done
}

// list returns copies of tasks in the given states, ordered by creation time.
// With no states it returns every task.
func (s *TaskStore) list(states ...domain.TaskState) []*domain.DownloadTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.DownloadTask
	for _, tt := range s.tasks {
		if len(states) == 0 || stateIn(tt.task.State, states) {
			out = append(out, tt.task.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// claimOldestQueued admits the oldest queued task into execution and returns
// a copy of it, or nil when nothing is queued. FIFO by enqueue time.
func (s *TaskStore) claimOldestQueued() *domain.DownloadTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *trackedTask
	for _, tt := range s.tasks {
		if tt.task.State != domain.TaskStateQueued {
			continue
		}
		if oldest == nil || tt.task.CreatedAt.Before(oldest.task.CreatedAt) {
			oldest = tt
		}
	}
	if oldest == nil {
		return nil
	}

	if err := oldest.task.Transition(domain.TaskStateDownloading); err != nil {
		return nil
	}
	return oldest.task.Clone()
}

// remove drops the task record. Returns false when unknown.
func (s *TaskStore) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	return true
}

// len returns the number of tracked tasks
func (s *TaskStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func stateIn(state domain.TaskState, states []domain.TaskState) bool {
	for _, s := range states {
		if state == s {
			return true
		}
	}
	return false
}
