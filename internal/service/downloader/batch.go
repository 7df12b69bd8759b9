package downloader

import (
	"context"

	"github.com/modelkeep/model-artifact-cache/internal/domain"
)

// BatchOutcome is the per-request result of a batch download. TaskID is empty
// when the request was rejected before a task could be created.
type BatchOutcome struct {
	TaskID    string
	SourceRef string
	State     domain.TaskState
	Error     string
}

// DownloadBatch enqueues one task per request and waits for all of them to
// reach a terminal state. Outcomes are returned in request order regardless
// of completion order; one request's failure never aborts its siblings.
// An empty input returns an empty result with no side effects.
func (m *Manager) DownloadBatch(ctx context.Context, requests []Request) []BatchOutcome {
	outcomes := make([]BatchOutcome, len(requests))
	if len(requests) == 0 {
		return outcomes
	}

	ids := make([]string, len(requests))
	for i, req := range requests {
		id, err := m.Enqueue(req)
		if err != nil {
			outcomes[i] = BatchOutcome{
				SourceRef: req.SourceRef,
				State:     domain.TaskStateFailed,
				Error:     err.Error(),
			}
			continue
		}
		ids[i] = id
	}

	for i, id := range ids {
		if id == "" {
			continue
		}

		done := m.store.doneChan(id)
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
			}
		}

		task := m.store.get(id)
		if task == nil {
			// Swept between terminal transition and readback
			outcomes[i] = BatchOutcome{
				TaskID:    id,
				SourceRef: requests[i].SourceRef,
				State:     domain.TaskStateCompleted,
			}
			continue
		}

		outcomes[i] = BatchOutcome{
			TaskID:    id,
			SourceRef: task.SourceRef,
			State:     task.State,
			Error:     task.LastError,
		}
		if !task.State.IsTerminal() && ctx.Err() != nil {
			outcomes[i].Error = ctx.Err().Error()
		}
	}

	return outcomes
}
