package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gwlsn/remuxer/internal/jobs"
	"github.com/gwlsn/remuxer/internal/logger"
	"github.com/gwlsn/remuxer/internal/scan"
	"github.com/gwlsn/remuxer/internal/settings"
	"github.com/gwlsn/remuxer/internal/store"
)

// History is the read side of the run store.
type History interface {
	ListRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
	GetRun(ctx context.Context, id string) (*store.RunRecord, error)
}

// Handler provides HTTP API handlers
type Handler struct {
	ctx      context.Context
	engine   *jobs.Engine
	settings *settings.Store
	history  History
	hub      *Hub

	mu        sync.Mutex
	files     []string // inputs of the last scan, in order
	outputDir string
}

// NewHandler creates a new API handler. ctx bounds scans and jobs started
// through the API; history may be nil.
func NewHandler(ctx context.Context, engine *jobs.Engine, st *settings.Store, history History, hub *Hub) *Handler {
	return &Handler{
		ctx:      ctx,
		engine:   engine,
		settings: st,
		history:  history,
		hub:      hub,
	}
}

// response helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeEngineError maps engine sentinels onto status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrBusy), errors.Is(err, jobs.ErrNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, jobs.ErrNoFiles):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) loadSettings() settings.Settings {
	s, err := h.settings.Load()
	if err != nil {
		logger.Warn("Failed to load settings, using defaults", "path", h.settings.Path(), "error", err)
	}
	return s
}

func (h *Handler) lastScan() ([]string, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.files...), h.outputDir
}

// GetSettings handles GET /api/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.loadSettings())
}

// UpdateSettings handles PUT /api/settings. Fields absent from the body keep
// their current values.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	current := h.loadSettings()
	if err := json.NewDecoder(r.Body).Decode(&current); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.settings.Save(current); err != nil {
		logger.Warn("Failed to save settings", "path", h.settings.Path(), "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save settings: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, h.loadSettings())
}

// ScanRequest is the request body for starting a scan
type ScanRequest struct {
	Paths     []string `json:"paths"`
	OutputDir string   `json:"output_dir,omitempty"`
}

// StartScan handles POST /api/scan
// Responds immediately; progress and the result arrive over /api/events.
func (h *Handler) StartScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "no paths provided")
		return
	}

	files, err := scan.CollectVideoFiles(req.Paths)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no video files found")
		return
	}

	js := h.loadSettings().Job(files, req.OutputDir)
	if err := h.engine.StartScan(h.ctx, files, js); err != nil {
		writeEngineError(w, err)
		return
	}

	h.mu.Lock()
	h.files = files
	h.outputDir = req.OutputDir
	h.mu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "scanning",
		"files":  len(files),
	})
}

// JobRequest is the request body for starting a job. Empty fields fall back
// to the last scan.
type JobRequest struct {
	Inputs    []string `json:"inputs,omitempty"`
	OutputDir *string  `json:"output_dir,omitempty"`
}

// StartJob handles POST /api/job
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	files, outDir := h.lastScan()
	if len(req.Inputs) > 0 {
		files = req.Inputs
	}
	if req.OutputDir != nil {
		outDir = *req.OutputDir
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "nothing scanned yet")
		return
	}

	runID, err := h.engine.StartJob(h.ctx, h.loadSettings().Job(files, outDir), nil)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "running",
		"run_id": runID,
		"files":  len(files),
	})
}

// Control handles POST /api/job/{action} for pause, resume, skip and cancel
func (h *Handler) Control(w http.ResponseWriter, r *http.Request) {
	var err error
	action := r.PathValue("action")
	switch action {
	case "pause":
		err = h.engine.RequestPause()
	case "resume":
		err = h.engine.RequestResume()
	case "skip":
		err = h.engine.RequestSkip()
	case "cancel":
		err = h.engine.RequestCancel()
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action: %s", action))
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": action + " requested"})
}

// Status handles GET /api/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// Preview handles GET /api/preview
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	files, outDir := h.lastScan()
	if q := r.URL.Query().Get("output_dir"); q != "" {
		outDir = q
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "nothing scanned yet")
		return
	}

	entries := h.engine.Preview(h.loadSettings().Job(files, outDir), nil)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"commands": entries,
	})
}

// ListRuns handles GET /api/runs?limit=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := h.history.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type runView struct {
		store.RunRecord
		Summary string `json:"summary"`
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, runView{RunRecord: run, Summary: run.Describe()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": views})
}

// GetRun handles GET /api/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	id := r.PathValue("id")
	run, err := h.history.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	writeJSON(w, http.StatusOK, run)
}
