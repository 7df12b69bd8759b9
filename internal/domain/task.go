package domain

import "time"

// TaskState is the lifecycle state of a download task.
type TaskState string

const (
	TaskStateQueued      TaskState = "queued"
	TaskStateDownloading TaskState = "downloading"
	TaskStatePaused      TaskState = "paused"
	TaskStateCompleted   TaskState = "completed"
	TaskStateFailed      TaskState = "failed"
	TaskStateCancelled   TaskState = "cancelled"
)

// SizeUnknown marks a transfer whose total size was not reported by the source.
const SizeUnknown int64 = -1

// validTransitions is the closed set of allowed state changes.
// Terminal states have no outgoing transitions.
var validTransitions = map[TaskState][]TaskState{
	TaskStateQueued:      {TaskStateDownloading, TaskStateCancelled},
	TaskStateDownloading: {TaskStatePaused, TaskStateCompleted, TaskStateFailed, TaskStateCancelled},
	TaskStatePaused:      {TaskStateQueued, TaskStateCancelled},
}

// IsTerminal returns true for states with no outgoing transitions.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether a change from s to next is legal.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DownloadTask represents one requested artifact transfer and its tracked state.
type DownloadTask struct {
	ID              string
	SourceRef       string
	DestinationPath string
	State           TaskState

	// Size accounting. BytesTotal is SizeUnknown until the source reports a
	// content length. ResumeOffset equals BytesTransferred whenever the task
	// leaves the downloading state without completing.
	BytesTotal       int64
	BytesTransferred int64
	ResumeOffset     int64

	// Retry handling
	Attempt     int
	MaxAttempts int
	LastError   string

	// Checksum is an optional hex-encoded sha256 digest from the registry.
	Checksum string

	// Timestamps
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Transition moves the task to the next state, validating the change against
// the transition table. UpdatedAt is refreshed and CompletedAt is set when the
// task reaches a terminal state.
func (t *DownloadTask) Transition(next TaskState) error {
	if !t.State.CanTransitionTo(next) {
		return ErrInvalidStateTransition
	}
	t.State = next
	now := time.Now()
	t.UpdatedAt = now
	if next.IsTerminal() {
		t.CompletedAt = &now
	}
	return nil
}

// CanRetry returns true if another transfer attempt is allowed.
func (t *DownloadTask) CanRetry() bool {
	return t.Attempt < t.MaxAttempts
}

// Clone returns a deep copy safe to hand to callers.
func (t *DownloadTask) Clone() *DownloadTask {
	c := *t
	if t.CompletedAt != nil {
		done := *t.CompletedAt
		c.CompletedAt = &done
	}
	return &c
}
