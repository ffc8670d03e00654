package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gwlsn/remuxer/internal/ffmpeg"
	"github.com/gwlsn/remuxer/internal/logger"
	"github.com/gwlsn/remuxer/internal/media"
	"github.com/gwlsn/remuxer/internal/scan"
)

// Scanner produces descriptors for a list of paths. *scan.Scanner
// implements it.
type Scanner interface {
	Run(ctx context.Context, req scan.Request) scan.Result
}

// HistoryStore records finished jobs.
type HistoryStore interface {
	RecordRun(ctx context.Context, sum Summary, settings JobSettings) error
}

// Engine is the boundary the CLI and the HTTP API drive. It runs at most one
// scan or job at a time.
type Engine struct {
	scanner Scanner
	ctrl    *Controller
	history HistoryStore
	ffmpeg  string

	mu          sync.Mutex
	descriptors map[string]media.Descriptor
	scanCancel  context.CancelFunc
	done        chan struct{}
	last        *Summary
}

// NewEngine creates an engine. history may be nil.
func NewEngine(scanner Scanner, launcher Launcher, out Publisher, history HistoryStore, opts ControllerOptions) *Engine {
	ctrl := NewController(launcher, out, opts)
	done := make(chan struct{})
	close(done)
	return &Engine{
		scanner:     scanner,
		ctrl:        ctrl,
		history:     history,
		ffmpeg:      ctrl.opts.FFmpegPath,
		descriptors: make(map[string]media.Descriptor),
		done:        done,
	}
}

// State returns the engine state.
func (e *Engine) State() State {
	return e.ctrl.State()
}

// StartScan probes paths in the background. ctx bounds the scan itself, not
// the call. Descriptors replace those of any previous scan.
func (e *Engine) StartScan(ctx context.Context, paths []string, settings JobSettings) error {
	if len(paths) == 0 {
		return ErrNoFiles
	}
	if err := e.ctrl.begin(StateScanning); err != nil {
		return err
	}

	scanCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.mu.Lock()
	e.scanCancel = cancel
	e.done = done
	e.mu.Unlock()

	req := scan.Request{
		Paths:        append([]string(nil), paths...),
		IncludeAudio: settings.IncludeAudio,
		Validate:     settings.ValidateFiles,
	}
	go func() {
		defer close(done)
		defer cancel()

		res := e.scanner.Run(scanCtx, req)

		e.mu.Lock()
		e.descriptors = res.Descriptors
		e.scanCancel = nil
		e.mu.Unlock()
		e.ctrl.finish()
	}()
	return nil
}

// StartJob runs settings.Inputs in the background and returns the run id.
// A nil descriptors map uses those of the last scan.
func (e *Engine) StartJob(ctx context.Context, settings JobSettings, descriptors map[string]media.Descriptor) (string, error) {
	if len(settings.Inputs) == 0 {
		return "", ErrNoFiles
	}
	if descriptors == nil {
		descriptors = e.Descriptors()
	}

	runID := uuid.NewString()
	jc := NewJobContext(runID, settings, descriptors)
	if err := e.ctrl.Start(jc); err != nil {
		return "", err
	}

	done := make(chan struct{})
	e.mu.Lock()
	e.done = done
	e.mu.Unlock()

	go func() {
		defer close(done)
		sum := e.ctrl.Run(ctx, jc)

		if e.history != nil {
			hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			if err := e.history.RecordRun(hctx, sum, jc.Settings); err != nil {
				logger.Warn("Failed to record run", "run_id", runID, "error", err)
			}
			cancel()
		}

		e.mu.Lock()
		e.last = &sum
		e.mu.Unlock()
		e.ctrl.finish()
	}()
	return runID, nil
}

// RequestPause pauses the running job at its next checkpoint.
func (e *Engine) RequestPause() error { return e.ctrl.Send(IntentPause) }

// RequestResume resumes a paused job.
func (e *Engine) RequestResume() error { return e.ctrl.Send(IntentResume) }

// RequestSkip skips the current file, killing its mux if one is running.
func (e *Engine) RequestSkip() error { return e.ctrl.Send(IntentSkip) }

// RequestCancel cancels the running job or scan.
func (e *Engine) RequestCancel() error {
	e.mu.Lock()
	cancel := e.scanCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
		return nil
	}
	return e.ctrl.Send(IntentCancel)
}

// Wait blocks until the current scan or job has finished.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Descriptors returns a copy of the last scan's descriptors.
func (e *Engine) Descriptors() map[string]media.Descriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]media.Descriptor, len(e.descriptors))
	for k, v := range e.descriptors {
		out[k] = v
	}
	return out
}

// LastSummary returns the summary of the last finished job, or nil.
func (e *Engine) LastSummary() *Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	s := *e.last
	return &s
}

// Status is a point-in-time view of the engine.
type Status struct {
	State    State     `json:"state"`
	Scanned  int       `json:"scanned"`
	Progress *Progress `json:"progress,omitempty"`
	LastRun  *Summary  `json:"last_run,omitempty"`
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	st := Status{State: e.ctrl.State(), LastRun: e.LastSummary()}
	if jc := e.ctrl.Active(); jc != nil {
		p := jc.Snapshot()
		st.Progress = &p
	}
	e.mu.Lock()
	st.Scanned = len(e.descriptors)
	e.mu.Unlock()
	return st
}

// PreviewEntry is the command a job would run for one input.
type PreviewEntry struct {
	Input    string   `json:"input"`
	Command  string   `json:"command,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Skip     Reason   `json:"skip,omitempty"`
}

// Preview returns the mux command for every input without running anything.
// A nil descriptors map uses those of the last scan.
func (e *Engine) Preview(settings JobSettings, descriptors map[string]media.Descriptor) []PreviewEntry {
	if descriptors == nil {
		descriptors = e.Descriptors()
	}
	settings = settings.Normalized()
	opts := muxOptions(settings)

	entries := make([]PreviewEntry, 0, len(settings.Inputs))
	for _, in := range settings.Inputs {
		entry := PreviewEntry{Input: in}
		desc, ok := descriptors[in]
		if !ok || !desc.Valid {
			entry.Skip = ReasonInvalidInput
			entries = append(entries, entry)
			continue
		}
		mc, warnings := ffmpeg.BuildMuxCommand(e.ffmpeg, in, desc, opts)
		entry.Command = mc.String()
		entry.Warnings = warnings
		entries = append(entries, entry)
	}
	return entries
}

// Describe formats a preview entry as one line for terminals.
func (p PreviewEntry) Describe() string {
	if p.Skip != "" {
		return fmt.Sprintf("%s: skipped (%s)", filepath.Base(p.Input), skipText(p.Skip))
	}
	return p.Command
}
