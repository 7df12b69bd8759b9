package downloader

import (
	"context"
	"testing"
	"time"

	"github.com/modelkeep/model-artifact-cache/internal/domain"
)

func TestManager_DownloadBatchEmpty(t *testing.T) {
	m, _ := newTestManager(t, nil, &fakeSource{})

	outcomes := m.DownloadBatch(context.Background(), nil)
	if outcomes == nil {
		t.Fatal("DownloadBatch(nil) = nil, want empty slice")
	}
	if len(outcomes) != 0 {
		t.Errorf("DownloadBatch(nil) = %d outcomes, want 0", len(outcomes))
	}

	// No tasks created, no statistics touched
	if m.store.len() != 0 {
		t.Errorf("store holds %d tasks after empty batch", m.store.len())
	}
	if m.Stats().TotalDownloads != 0 {
		t.Error("empty batch changed statistics")
	}
}

func TestManager_DownloadBatch(t *testing.T) {
	a := testArtifact(2 * 1024)
	b := testArtifact(3 * 1024)
	src := &fakeSource{
		artifacts: map[string]fakeArtifact{
			"model-a:1": {data: a, checksum: sha256Hex(a)},
			"model-b:1": {data: b, checksum: sha256Hex(b)},
		},
	}
	m, _ := newTestManager(t, nil, src)
	startManager(t, m)

	outcomes := m.DownloadBatch(context.Background(), []Request{
		{SourceRef: "model-a:1", DestinationPath: "a.bin"},
		{SourceRef: "", DestinationPath: "rejected.bin"},
		{SourceRef: "model-b:1", DestinationPath: "b.bin"},
	})

	if len(outcomes) != 3 {
		t.Fatalf("DownloadBatch() = %d outcomes, want 3", len(outcomes))
	}

	// Outcomes come back in request order
	if outcomes[0].SourceRef != "model-a:1" || outcomes[2].SourceRef != "model-b:1" {
		t.Errorf("outcome order = [%s _ %s], want request order",
			outcomes[0].SourceRef, outcomes[2].SourceRef)
	}

	if outcomes[0].State != domain.TaskStateCompleted {
		t.Errorf("outcome[0].State = %v, want completed", outcomes[0].State)
	}
	if outcomes[0].TaskID == "" {
		t.Error("outcome[0].TaskID empty for an accepted request")
	}

	// The rejected request fails without aborting its siblings
	if outcomes[1].State != domain.TaskStateFailed {
		t.Errorf("outcome[1].State = %v, want failed", outcomes[1].State)
	}
	if outcomes[1].TaskID != "" {
		t.Errorf("outcome[1].TaskID = %s, want empty for a rejected request", outcomes[1].TaskID)
	}
	if outcomes[1].Error == "" {
		t.Error("outcome[1].Error empty for a rejected request")
	}

	if outcomes[2].State != domain.TaskStateCompleted {
		t.Errorf("outcome[2].State = %v, want completed", outcomes[2].State)
	}
}

func TestManager_DownloadBatchFailedItem(t *testing.T) {
	data := testArtifact(1024)
	src := &fakeSource{
		artifacts: map[string]fakeArtifact{
			"good:1": {data: data},
			// "gone:1" is unknown to the source and will fail to resolve
		},
	}
	m, _ := newTestManager(t, &Config{MaxAttempts: 1}, src)
	startManager(t, m)

	outcomes := m.DownloadBatch(context.Background(), []Request{
		{SourceRef: "good:1", DestinationPath: "good.bin"},
		{SourceRef: "gone:1", DestinationPath: "gone.bin"},
	})

	if outcomes[0].State != domain.TaskStateCompleted {
		t.Errorf("outcome[0].State = %v, want completed", outcomes[0].State)
	}
	if outcomes[1].State != domain.TaskStateFailed {
		t.Errorf("outcome[1].State = %v, want failed", outcomes[1].State)
	}
	if outcomes[1].Error == "" {
		t.Error("outcome[1].Error empty for a failed download")
	}
}

func TestManager_DownloadBatchContextCancelled(t *testing.T) {
	// Manager not started: enqueued tasks never leave the queue
	m, _ := newTestManager(t, nil, &fakeSource{
		artifacts: map[string]fakeArtifact{"llama:7b": {data: testArtifact(1024)}},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	outcomes := m.DownloadBatch(ctx, []Request{
		{SourceRef: "llama:7b", DestinationPath: "model.bin"},
	})

	if len(outcomes) != 1 {
		t.Fatalf("DownloadBatch() = %d outcomes, want 1", len(outcomes))
	}
	if outcomes[0].State != domain.TaskStateQueued {
		t.Errorf("outcome state = %v, want queued after context timeout", outcomes[0].State)
	}
	if outcomes[0].Error == "" {
		t.Error("outcome error empty after context timeout")
	}
}
