package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/modelkeep/model-artifact-cache/internal/domain"
	"github.com/modelkeep/model-artifact-cache/internal/port"
	"github.com/modelkeep/model-artifact-cache/internal/service/downloader"
	"github.com/modelkeep/model-artifact-cache/internal/service/maintenance"
	"go.uber.org/zap"
)

// DownloadHandler handles download manager API requests
type DownloadHandler struct {
	manager *downloader.Manager
	sweeper *maintenance.Service
	fs      port.CacheFS
	logger  *zap.Logger
}

// NewDownloadHandler creates a new DownloadHandler
func NewDownloadHandler(manager *downloader.Manager, sweeper *maintenance.Service, fs port.CacheFS, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		manager: manager,
		sweeper: sweeper,
		fs:      fs,
		logger:  logger,
	}
}

// downloadRequest is the request payload for enqueue and batch
type downloadRequest struct {
	SourceRef       string `json:"source_ref"`
	DestinationPath string `json:"destination_path"`
}

// taskView is the JSON representation of a task record
type taskView struct {
	ID               string     `json:"id"`
	SourceRef        string     `json:"source_ref"`
	DestinationPath  string     `json:"destination_path"`
	State            string     `json:"state"`
	BytesTotal       int64      `json:"bytes_total"`
	BytesTransferred int64      `json:"bytes_transferred"`
	ResumeOffset     int64      `json:"resume_offset"`
	Attempt          int        `json:"attempt"`
	LastError        string     `json:"last_error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

func toTaskView(t *domain.DownloadTask) taskView {
	return taskView{
		ID:               t.ID,
		SourceRef:        t.SourceRef,
		DestinationPath:  t.DestinationPath,
		State:            string(t.State),
		BytesTotal:       t.BytesTotal,
		BytesTransferred: t.BytesTransferred,
		ResumeOffset:     t.ResumeOffset,
		Attempt:          t.Attempt,
		LastError:        t.LastError,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
		CompletedAt:      t.CompletedAt,
	}
}

// HandleDownloads handles POST /api/downloads (enqueue) and GET /api/downloads
// (active task listing)
func (h *DownloadHandler) HandleDownloads(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleEnqueue(w, r)
	case http.MethodGet:
		h.handleActiveTasks(w)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *DownloadHandler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.manager.Enqueue(downloader.Request{
		SourceRef:       req.SourceRef,
		DestinationPath: req.DestinationPath,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidRequest):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, domain.ErrCapacityExceeded):
			http.Error(w, err.Error(), http.StatusInsufficientStorage)
		case errors.Is(err, domain.ErrManagerStopped):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			h.logger.Error("enqueue failed", zap.Error(err))
			http.Error(w, "Failed to enqueue download", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (h *DownloadHandler) handleActiveTasks(w http.ResponseWriter) {
	tasks := h.manager.ActiveTasks()
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, toTaskView(t))
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleTask handles task-scoped requests:
// GET    /api/downloads/{id}/progress
// POST   /api/downloads/{id}/pause
// POST   /api/downloads/{id}/resume
// POST   /api/downloads/{id}/cancel
// DELETE /api/downloads/{id}
func (h *DownloadHandler) HandleTask(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/downloads/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 1 && parts[0] != "" {
		if r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleDelete(w, parts[0])
		return
	}
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	id, action := parts[0], parts[1]

	switch action {
	case "progress":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleProgress(w, id)
	case "pause", "resume", "cancel":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleSignal(w, id, action)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (h *DownloadHandler) handleProgress(w http.ResponseWriter, id string) {
	p := h.manager.Progress(id)
	if p == nil {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}

	view := map[string]interface{}{
		"task_id":           p.TaskID,
		"state":             string(p.State),
		"bytes_transferred": p.BytesTransferred,
		"bytes_total":       p.BytesTotal,
		"percent_complete":  p.PercentComplete,
		"current_speed":     p.CurrentSpeed,
	}
	if p.EstimatedTimeRemaining != nil {
		view["eta_seconds"] = p.EstimatedTimeRemaining.Seconds()
	} else {
		view["eta_seconds"] = nil
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *DownloadHandler) handleSignal(w http.ResponseWriter, id, action string) {
	var ok bool
	switch action {
	case "pause":
		ok = h.manager.Pause(id)
	case "resume":
		ok = h.manager.Resume(id)
	case "cancel":
		ok = h.manager.Cancel(id)
	}

	if !ok {
		http.Error(w, "Task not found or not in an eligible state", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleDelete evicts a terminal task and its artifact from the cache
func (h *DownloadHandler) handleDelete(w http.ResponseWriter, id string) {
	if !h.manager.Delete(id) {
		http.Error(w, "Task not found or not terminal", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleBatch handles POST /api/downloads/batch. The response is written once
// every task in the batch reaches a terminal state.
func (h *DownloadHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var reqs []downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	requests := make([]downloader.Request, len(reqs))
	for i, req := range reqs {
		requests[i] = downloader.Request{
			SourceRef:       req.SourceRef,
			DestinationPath: req.DestinationPath,
		}
	}

	outcomes := h.manager.DownloadBatch(r.Context(), requests)

	views := make([]map[string]interface{}, len(outcomes))
	for i, o := range outcomes {
		views[i] = map[string]interface{}{
			"task_id":    o.TaskID,
			"source_ref": o.SourceRef,
			"state":      string(o.State),
		}
		if o.Error != "" {
			views[i]["error"] = o.Error
		}
	}

	writeJSON(w, http.StatusOK, views)
}

// HandleStats handles GET /api/stats
func (h *DownloadHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.manager.Stats()
	view := map[string]interface{}{
		"total_downloads":        stats.TotalDownloads,
		"successful_downloads":   stats.SuccessfulDownloads,
		"failed_downloads":       stats.FailedDownloads,
		"total_bytes_downloaded": stats.TotalBytesDownloaded,
		"average_speed":          stats.AverageSpeed,
	}

	if usage, err := h.fs.DiskUsage(); err != nil {
		h.logger.Warn("disk usage lookup failed", zap.Error(err))
	} else {
		view["disk"] = map[string]interface{}{
			"total_bytes": usage.Total,
			"used_bytes":  usage.Used,
			"free_bytes":  usage.Free,
			"used_pct":    usage.UsedPct,
		}
	}

	writeJSON(w, http.StatusOK, view)
}

// HandleCleanup handles POST /api/maintenance/cleanup. With force=1 every
// terminal task is removed regardless of the retention window.
func (h *DownloadHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	force := r.URL.Query().Get("force") == "1"
	removed := h.sweeper.CleanupTasks(force)

	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
