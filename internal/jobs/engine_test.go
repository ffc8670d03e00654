package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gwlsn/remuxer/internal/events"
	"github.com/gwlsn/remuxer/internal/ffmpeg"
	"github.com/gwlsn/remuxer/internal/fftest"
	"github.com/gwlsn/remuxer/internal/scan"
)

type memHistory struct {
	mu   sync.Mutex
	runs []Summary
}

func (m *memHistory) RecordRun(_ context.Context, sum Summary, _ JobSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, sum)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *harness, *memHistory) {
	t.Helper()
	h := newHarness(t)
	ffmpegPath, ffprobePath := fftest.Install(t)
	scanner := scan.New(ffmpeg.NewProber(ffprobePath), nil, h.ch, scan.Options{})
	hist := &memHistory{}
	e := NewEngine(scanner, ffmpeg.NewMuxer(ffmpegPath), h.ch, hist, ControllerOptions{FFmpegPath: ffmpegPath})
	return e, h, hist
}

func wait(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestEngineScanThenJob(t *testing.T) {
	e, h, hist := newTestEngine(t)
	paths, _ := h.inputs("a.mkv", "broken.mkv", "c.mkv")
	settings := h.settings(paths, ActionKeep)

	if err := e.StartScan(context.Background(), paths, settings); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	wait(t, e)

	descs := e.Descriptors()
	if len(descs) != 3 {
		t.Fatalf("expected 3 descriptors, got %d", len(descs))
	}
	if descs[paths[1]].Valid {
		t.Error("broken file should be invalid with validation on")
	}
	if e.State() != StateIdle {
		t.Errorf("state after scan = %s", e.State())
	}

	runID, err := e.StartJob(context.Background(), settings, nil)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if runID == "" {
		t.Error("expected a run id")
	}
	wait(t, e)

	sum := e.LastSummary()
	if sum == nil {
		t.Fatal("expected a summary")
	}
	if sum.RunID != runID {
		t.Errorf("run id = %q, want %q", sum.RunID, runID)
	}
	if sum.Remuxed != 2 || sum.Skipped != 1 || sum.Breakdown[ReasonInvalidInput] != 1 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if len(hist.runs) != 1 {
		t.Errorf("history recorded %d runs, want 1", len(hist.runs))
	}
	if st := e.Status(); st.State != StateIdle || st.LastRun == nil || st.Scanned != 3 {
		t.Errorf("unexpected status: %+v", st)
	}

	var scanComplete, finished int
	for _, ev := range h.ch.Drain(0) {
		switch ev.Kind {
		case events.KindScanComplete:
			scanComplete++
		case events.KindFinished:
			finished++
		}
	}
	if scanComplete != 1 || finished != 1 {
		t.Errorf("scan_complete=%d finished=%d, want 1 each", scanComplete, finished)
	}
}

func TestEngineRejectsWhileBusy(t *testing.T) {
	e, h, _ := newTestEngine(t)
	paths, descs := h.inputs("hang.mkv")
	settings := h.settings(paths, ActionKeep)

	if _, err := e.StartJob(context.Background(), settings, descs); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if _, err := e.StartJob(context.Background(), settings, descs); !errors.Is(err, ErrBusy) {
		t.Errorf("second StartJob = %v, want ErrBusy", err)
	}
	if err := e.StartScan(context.Background(), paths, settings); !errors.Is(err, ErrBusy) {
		t.Errorf("StartScan while running = %v, want ErrBusy", err)
	}

	waitFor(t, "mux to start", func() bool { return exists(h.output(paths[0])) })
	if err := e.RequestCancel(); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	wait(t, e)

	if sum := e.LastSummary(); sum == nil || !sum.Cancelled {
		t.Errorf("expected cancelled summary, got %+v", sum)
	}
}

func TestEngineIntentsWhenIdle(t *testing.T) {
	e, _, _ := newTestEngine(t)

	for name, fn := range map[string]func() error{
		"pause":  e.RequestPause,
		"resume": e.RequestResume,
		"skip":   e.RequestSkip,
		"cancel": e.RequestCancel,
	} {
		if err := fn(); !errors.Is(err, ErrNotRunning) {
			t.Errorf("%s while idle = %v, want ErrNotRunning", name, err)
		}
	}
}

func TestEngineNoFiles(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if err := e.StartScan(context.Background(), nil, DefaultJobSettings()); !errors.Is(err, ErrNoFiles) {
		t.Errorf("StartScan = %v, want ErrNoFiles", err)
	}
	if _, err := e.StartJob(context.Background(), DefaultJobSettings(), nil); !errors.Is(err, ErrNoFiles) {
		t.Errorf("StartJob = %v, want ErrNoFiles", err)
	}
}

func TestEnginePreview(t *testing.T) {
	e, h, _ := newTestEngine(t)
	paths, descs := h.inputs("show.mkv", "bad.mkv")
	delete(descs, paths[1])

	settings := h.settings(paths, ActionKeep)
	settings.IncludeAudio = false
	entries := e.Preview(settings, descs)

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if !strings.Contains(entries[0].Command, "-an") || !strings.Contains(entries[0].Command, "-video_track_timescale 30000") {
		t.Errorf("unexpected command: %s", entries[0].Command)
	}
	if entries[1].Skip != ReasonInvalidInput {
		t.Errorf("expected invalid skip, got %+v", entries[1])
	}
	if !strings.Contains(entries[1].Describe(), "invalid file") {
		t.Errorf("Describe = %q", entries[1].Describe())
	}
	if got := fftest.Launches(t, h.launchLog); got != 0 {
		t.Errorf("preview launched %d processes", got)
	}
}
