package downloader

import (
	"testing"
	"time"

	"github.com/modelkeep/model-artifact-cache/internal/domain"
)

func TestWindowSpeed(t *testing.T) {
	base := time.Now()

	tests := []struct {
		name    string
		samples []speedSample
		want    float64
	}{
		{
			name:    "no samples",
			samples: nil,
			want:    0,
		},
		{
			name:    "single sample",
			samples: []speedSample{{at: base, bytes: 100}},
			want:    0,
		},
		{
			name: "steady transfer",
			samples: []speedSample{
				{at: base, bytes: 0},
				{at: base.Add(time.Second), bytes: 1000},
				{at: base.Add(2 * time.Second), bytes: 2000},
			},
			want: 1000,
		},
		{
			name: "zero span",
			samples: []speedSample{
				{at: base, bytes: 0},
				{at: base, bytes: 1000},
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := windowSpeed(tt.samples); got != tt.want {
				t.Errorf("windowSpeed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestManager_ProgressQueued(t *testing.T) {
	m, _ := newTestManager(t, nil, &fakeSource{})

	id, err := m.Enqueue(Request{SourceRef: "llama:7b", DestinationPath: "model.bin"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	p := m.Progress(id)
	if p == nil {
		t.Fatal("Progress() = nil for a known task")
	}
	if p.State != domain.TaskStateQueued {
		t.Errorf("State = %v, want queued", p.State)
	}
	if p.BytesTotal != domain.SizeUnknown {
		t.Errorf("BytesTotal = %d, want SizeUnknown", p.BytesTotal)
	}
	if p.PercentComplete != nil {
		t.Errorf("PercentComplete = %v, want nil with unknown total", *p.PercentComplete)
	}
	if p.EstimatedTimeRemaining != nil {
		t.Error("EstimatedTimeRemaining set with unknown total")
	}
	if p.CurrentSpeed != 0 {
		t.Errorf("CurrentSpeed = %v, want 0 for a queued task", p.CurrentSpeed)
	}
}

func TestManager_ProgressDownloading(t *testing.T) {
	m, _ := newTestManager(t, nil, &fakeSource{})

	id, err := m.Enqueue(Request{SourceRef: "llama:7b", DestinationPath: "model.bin"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	// Shape a mid-transfer record: 2500 of 10000 bytes at 500 bytes/sec
	base := time.Now().Add(-4 * time.Second)
	m.store.update(id, func(tt *trackedTask) {
		tt.task.Transition(domain.TaskStateDownloading)
		tt.task.BytesTotal = 10000
		tt.task.BytesTransferred = 2500
		tt.samples = []speedSample{
			{at: base, bytes: 500},
			{at: base.Add(4 * time.Second), bytes: 2500},
		}
	})

	p := m.Progress(id)
	if p == nil {
		t.Fatal("Progress() = nil")
	}
	if p.PercentComplete == nil {
		t.Fatal("PercentComplete = nil with a known total")
	}
	if *p.PercentComplete != 25 {
		t.Errorf("PercentComplete = %v, want 25", *p.PercentComplete)
	}
	if p.CurrentSpeed != 500 {
		t.Errorf("CurrentSpeed = %v, want 500", p.CurrentSpeed)
	}
	if p.EstimatedTimeRemaining == nil {
		t.Fatal("EstimatedTimeRemaining = nil with known total and speed")
	}

	// 7500 bytes left at 500 bytes/sec
	if got := *p.EstimatedTimeRemaining; got != 15*time.Second {
		t.Errorf("EstimatedTimeRemaining = %v, want 15s", got)
	}
}

func TestManager_ProgressCompleted(t *testing.T) {
	data := testArtifact(4 * 1024)
	src := &fakeSource{
		artifacts: map[string]fakeArtifact{"llama:7b": {data: data}},
	}
	m, _ := newTestManager(t, nil, src)
	startManager(t, m)

	id, err := m.Enqueue(Request{SourceRef: "llama:7b", DestinationPath: "model.bin"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	waitState(t, m, id, domain.TaskStateCompleted)

	p := m.Progress(id)
	if p == nil {
		t.Fatal("Progress() = nil")
	}
	if p.PercentComplete == nil || *p.PercentComplete != 100 {
		t.Errorf("PercentComplete = %v, want 100", p.PercentComplete)
	}
	if p.CurrentSpeed != 0 {
		t.Errorf("CurrentSpeed = %v, want 0 after completion", p.CurrentSpeed)
	}
}
