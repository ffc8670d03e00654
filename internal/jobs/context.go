package jobs

import (
	"sync"
	"time"

	"github.com/gwlsn/remuxer/internal/ffmpeg"
	"github.com/gwlsn/remuxer/internal/media"
)

// JobContext holds every piece of state of one job run. The controller owns
// it; other goroutines only read snapshots or raise signals.
type JobContext struct {
	RunID       string
	Settings    JobSettings
	Descriptors map[string]media.Descriptor
	Signals     *Signals
	StartedAt   time.Time

	// procMu guards the single live mux process.
	procMu sync.Mutex
	proc   *ffmpeg.Process

	mu        sync.Mutex
	index     int
	current   string
	remuxed   int
	skipped   int
	failed    int
	breakdown map[Reason]int
	results   []FileResult
	moveFails int
}

// NewJobContext creates the context for one run. Settings are normalized
// and copied; descriptors are not modified.
func NewJobContext(runID string, settings JobSettings, descriptors map[string]media.Descriptor) *JobContext {
	return &JobContext{
		RunID:       runID,
		Settings:    settings.Normalized(),
		Descriptors: descriptors,
		Signals:     NewSignals(),
		breakdown:   make(map[Reason]int),
	}
}

func (jc *JobContext) setProcess(p *ffmpeg.Process) {
	jc.procMu.Lock()
	jc.proc = p
	jc.procMu.Unlock()
}

// Pid returns the pid of the live mux process, 0 if none.
func (jc *JobContext) Pid() int {
	jc.procMu.Lock()
	defer jc.procMu.Unlock()
	if jc.proc == nil {
		return 0
	}
	return jc.proc.Pid()
}

// Total returns the number of files in the job.
func (jc *JobContext) Total() int {
	return len(jc.Settings.Inputs)
}

func (jc *JobContext) setCurrent(index int, name string) {
	jc.mu.Lock()
	jc.index = index
	jc.current = name
	jc.mu.Unlock()
}

func (jc *JobContext) advance() int {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	jc.index++
	jc.current = ""
	return jc.index
}

func (jc *JobContext) record(r FileResult) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	switch r.Outcome {
	case OutcomeCompleted:
		jc.remuxed++
	case OutcomeSkipped:
		jc.skipped++
	case OutcomeError:
		jc.skipped++
		jc.failed++
	}
	jc.breakdown[r.Reason]++
	jc.results = append(jc.results, r)
}

func (jc *JobContext) dispositionFailed() {
	jc.mu.Lock()
	jc.moveFails++
	jc.mu.Unlock()
}

// Progress is a point-in-time view of a running job.
type Progress struct {
	RunID     string `json:"run_id"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Current   string `json:"current,omitempty"`
	Remuxed   int    `json:"remuxed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Pid       int    `json:"pid,omitempty"`
	Paused    bool   `json:"paused"`
	Cancelled bool   `json:"cancelled"`
}

// Snapshot returns the job's current progress.
func (jc *JobContext) Snapshot() Progress {
	flags, _ := jc.Signals.Load()
	pid := jc.Pid()

	jc.mu.Lock()
	defer jc.mu.Unlock()
	return Progress{
		RunID:     jc.RunID,
		Index:     jc.index,
		Total:     jc.Total(),
		Current:   jc.current,
		Remuxed:   jc.remuxed,
		Skipped:   jc.skipped,
		Failed:    jc.failed,
		Pid:       pid,
		Paused:    flags.Paused,
		Cancelled: flags.Cancelled,
	}
}

func (jc *JobContext) summary(cancelled bool, elapsed time.Duration) Summary {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	breakdown := make(map[Reason]int, len(jc.breakdown))
	for k, v := range jc.breakdown {
		breakdown[k] = v
	}
	return Summary{
		RunID:               jc.RunID,
		Total:               jc.Total(),
		Remuxed:             jc.remuxed,
		Skipped:             jc.skipped,
		Failed:              jc.failed,
		Cancelled:           cancelled,
		Breakdown:           breakdown,
		Files:               append([]FileResult(nil), jc.results...),
		DispositionFailures: jc.moveFails,
		StartedAt:           jc.StartedAt,
		Elapsed:             elapsed,
	}
}
