package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gwlsn/remuxer/internal/events"
	"github.com/gwlsn/remuxer/internal/ffmpeg"
	"github.com/gwlsn/remuxer/internal/logger"
)

// Launcher starts mux processes. *ffmpeg.Muxer implements it.
type Launcher interface {
	Launch(ffmpeg.MuxCommand) (*ffmpeg.Process, error)
}

// Publisher receives job events. *events.Channel implements it.
type Publisher interface {
	Publish(events.Event) events.Event
}

// Intent is a user request aimed at the running job.
type Intent string

const (
	IntentPause  Intent = "pause"
	IntentResume Intent = "resume"
	IntentSkip   Intent = "skip"
	IntentCancel Intent = "cancel"
)

// ControllerOptions tune the controller. Zero values get defaults.
type ControllerOptions struct {
	FFmpegPath     string
	TerminateGrace time.Duration
	// LogEvery forwards one in every LogEvery lines of ffmpeg output.
	LogEvery int
}

// Controller runs jobs one file at a time. It owns the state machine and
// the dispatcher that turns intents into signals.
type Controller struct {
	launcher Launcher
	out      Publisher
	opts     ControllerOptions

	intents chan Intent
	sendMu  sync.Mutex // serializes Send against the end of a run

	mu      sync.RWMutex
	state   State
	active  *JobContext
	jobDone chan struct{}
}

// NewController creates an idle controller.
func NewController(launcher Launcher, out Publisher, opts ControllerOptions) *Controller {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.TerminateGrace <= 0 {
		opts.TerminateGrace = 2 * time.Second
	}
	if opts.LogEvery < 1 {
		opts.LogEvery = 10
	}
	return &Controller{
		launcher: launcher,
		out:      out,
		opts:     opts,
		intents:  make(chan Intent, 16),
		state:    StateIdle,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Active returns the running job, or nil.
func (c *Controller) Active() *JobContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// transition moves to the given state when the edge is allowed.
func (c *Controller) transition(to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == to {
		return true
	}
	if !isValidTransition(c.state, to) {
		logger.Debug("Ignoring state change", "from", c.state, "to", to)
		return false
	}
	c.state = to
	return true
}

// begin claims the controller for a scan.
func (c *Controller) begin(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return busyError(c.state)
	}
	c.state = to
	return nil
}

// Start claims the controller for jc. Intents sent after Start returns are
// delivered to jc once Run begins.
func (c *Controller) Start(jc *JobContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return busyError(c.state)
	}
	c.state = StateRunning
	c.active = jc
	c.jobDone = make(chan struct{})
	return nil
}

// Send delivers an intent to the running job's dispatcher.
func (c *Controller) Send(it Intent) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.mu.RLock()
	active, done := c.active, c.jobDone
	c.mu.RUnlock()
	if active == nil {
		return ErrNotRunning
	}
	select {
	case c.intents <- it:
		return nil
	case <-done:
		return ErrNotRunning
	}
}

// dispatch applies intents to jc's signals until stop is closed.
func (c *Controller) dispatch(jc *JobContext, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case it := <-c.intents:
			c.apply(jc, it)
		}
	}
}

func (c *Controller) apply(jc *JobContext, it Intent) {
	if c.Active() != jc {
		return
	}
	sig := jc.Signals
	var changed bool
	var text string
	switch it {
	case IntentPause:
		changed, text = sig.Pause(), "Paused"
	case IntentResume:
		changed, text = sig.Resume(), "Resumed"
	case IntentSkip:
		changed, text = sig.RequestSkip(), "Skipping current file"
	case IntentCancel:
		changed, text = sig.Cancel(), "Cancelling"
	}
	if !changed {
		return
	}
	c.settle(jc)
	c.out.Publish(events.Status(text))
	logger.Info("Job intent applied", "run_id", jc.RunID, "intent", it, "pid", jc.Pid())
}

// settle derives the state from jc's flags. Flags are read under c.mu so
// concurrent callers always leave the latest view behind.
func (c *Controller) settle(jc *JobContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateRunning, StatePaused, StateSkipping:
	default:
		return
	}

	flags, _ := jc.Signals.Load()
	next := StateRunning
	switch {
	case flags.Cancelled:
		next = StateCancelling
	case flags.Skip:
		next = StateSkipping
	case flags.Paused:
		next = StatePaused
	}
	if isValidTransition(c.state, next) {
		c.state = next
	}
}

type checkpointResult int

const (
	proceed checkpointResult = iota
	skipFile
	cancelJob
)

// checkpoint blocks while paused. Cancel wins over skip, skip over pause.
func (c *Controller) checkpoint(jc *JobContext) checkpointResult {
	for {
		flags, changed := jc.Signals.Load()
		switch {
		case flags.Cancelled:
			return cancelJob
		case flags.Skip:
			return skipFile
		case !flags.Paused:
			return proceed
		}
		<-changed
	}
}

// Run processes every input of jc in order and returns the summary. jc must
// have been claimed with Start. Cancelling ctx behaves like a cancel intent.
func (c *Controller) Run(ctx context.Context, jc *JobContext) Summary {
	jc.StartedAt = time.Now()

	c.mu.RLock()
	stop := c.jobDone
	c.mu.RUnlock()

	go c.dispatch(jc, stop)
	stopAfter := context.AfterFunc(ctx, func() { c.apply(jc, IntentCancel) })

	total := jc.Total()
	logger.Info("Job started", "run_id", jc.RunID, "files", total,
		"action", jc.Settings.FileAction, "format", jc.Settings.OutputFormat)
	c.out.Publish(events.Status(fmt.Sprintf("Remuxing %d files", total)))

	cancelled := false
	for i := 0; i < total && !cancelled; {
		path := jc.Settings.Inputs[i]
		name := filepath.Base(path)
		jc.setCurrent(i, name)
		c.out.Publish(events.CurrentFile(name))
		c.out.Publish(events.Progress(i, total))

		switch c.checkpoint(jc) {
		case cancelJob:
			cancelled = true
			continue
		case skipFile:
			jc.Signals.TakeSkip()
			c.classify(jc, FileResult{Index: i, Input: path, Outcome: OutcomeSkipped, Reason: ReasonUserSkipped}, nil)
			c.dispose(jc, path, ReasonUserSkipped)
			c.settle(jc)
		default:
			if c.processFile(jc, i, path) == OutcomeCancelled {
				cancelled = true
				continue
			}
		}

		i = jc.advance()
		if i == total {
			c.out.Publish(events.Progress(i, total))
		}
	}

	stopAfter()
	// Once active is cleared no Send can queue, so the drain leaves nothing
	// behind for the next job.
	c.sendMu.Lock()
	c.mu.Lock()
	c.active = nil
	c.mu.Unlock()
	c.sendMu.Unlock()
	close(stop)
	c.drainIntents()

	sum := jc.summary(cancelled, time.Since(jc.StartedAt))
	c.transition(StateFinished)

	breakdown := make(map[string]int, len(sum.Breakdown))
	for k, v := range sum.Breakdown {
		breakdown[string(k)] = v
	}
	c.out.Publish(events.Event{
		Kind:      events.KindFinished,
		RunID:     sum.RunID,
		Total:     sum.Total,
		Remuxed:   sum.Remuxed,
		Skipped:   sum.Skipped,
		Failed:    sum.Failed,
		Cancelled: sum.Cancelled,
		Breakdown: breakdown,
		Elapsed:   sum.Elapsed,
	})
	logger.Info("Job finished", "run_id", jc.RunID, "remuxed", sum.Remuxed, "skipped", sum.Skipped,
		"failed", sum.Failed, "cancelled", sum.Cancelled, "elapsed", sum.Elapsed.Round(time.Millisecond))
	return sum
}

// finish returns the controller to Idle after a run or scan.
func (c *Controller) finish() {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

// drainIntents drops intents that arrived after the job ended.
func (c *Controller) drainIntents() {
	for {
		select {
		case <-c.intents:
		default:
			return
		}
	}
}

// processFile handles one file that passed the checkpoint.
func (c *Controller) processFile(jc *JobContext, index int, path string) Outcome {
	name := filepath.Base(path)
	res := FileResult{Index: index, Input: path}

	desc, ok := jc.Descriptors[path]
	if !ok || !desc.Valid {
		res.Outcome, res.Reason = OutcomeSkipped, ReasonInvalidInput
		err := ErrInvalidInput
		if !ok {
			err = ErrNotScanned
		}
		c.classify(jc, res, err)
		return res.Outcome
	}

	mc, warnings := ffmpeg.BuildMuxCommand(c.opts.FFmpegPath, path, desc, muxOptions(jc.Settings))
	res.Output = mc.Output

	if samePath(mc.Output, path) {
		res.Outcome, res.Reason = OutcomeSkipped, ReasonOutputExists
		c.classify(jc, res, fmt.Errorf("%w: output would replace the input", ErrOutputExists))
		return res.Outcome
	}
	if !jc.Settings.OverwriteExisting {
		if _, err := os.Stat(mc.Output); err == nil {
			res.Outcome, res.Reason = OutcomeSkipped, ReasonOutputExists
			c.classify(jc, res, ErrOutputExists)
			c.dispose(jc, path, ReasonOutputExists)
			return res.Outcome
		}
	}

	if dir := filepath.Dir(mc.Output); jc.Settings.OutputDir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			res.Outcome, res.Reason = OutcomeError, ReasonMuxFailure
			c.classify(jc, res, fmt.Errorf("create output folder: %w", err))
			return res.Outcome
		}
	}

	for _, w := range warnings {
		c.out.Publish(events.Log(events.LevelWarn, w))
	}

	start := time.Now()
	outcome, err := c.monitor(jc, mc)
	res.Elapsed = time.Since(start)
	res.Outcome = outcome
	res.Reason = ReasonFor(err)

	switch outcome {
	case OutcomeCompleted:
		if jc.Settings.PreserveTimestamps {
			if err := PreserveTimestamps(path, mc.Output); err != nil {
				c.out.Publish(events.Log(events.LevelWarn, fmt.Sprintf("Could not preserve timestamps for %s: %v", name, err)))
			}
		}
		c.classify(jc, res, nil)
		c.dispose(jc, path, ReasonCompleted)
	case OutcomeSkipped:
		c.classify(jc, res, err)
		c.dispose(jc, path, ReasonUserSkipped)
		c.settle(jc)
	default:
		c.classify(jc, res, err)
	}
	return outcome
}

func muxOptions(s JobSettings) ffmpeg.MuxOptions {
	return ffmpeg.MuxOptions{
		IncludeAudio:    s.IncludeAudio,
		OutputFormat:    s.OutputFormat,
		OutputDir:       s.OutputDir,
		UseTimescale:    s.UseTimescale,
		ForceTimescale:  s.ForceTimescale,
		TimescalePreset: s.TimescalePreset,
	}
}

func samePath(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == bb
}

// classify records a file's outcome and emits its single outcome Log event.
func (c *Controller) classify(jc *JobContext, res FileResult, err error) {
	if err != nil {
		res.Error = err.Error()
	}
	jc.record(res)

	name := filepath.Base(res.Input)
	var level events.Level
	var text string
	switch res.Outcome {
	case OutcomeCompleted:
		level, text = events.LevelSuccess, "Remuxed "+name
	case OutcomeSkipped:
		level, text = events.LevelWarn, fmt.Sprintf("Skipped %s (%s)", name, skipText(res.Reason))
	case OutcomeCancelled:
		level, text = events.LevelWarn, "Cancelled "+name
	default:
		level, text = events.LevelError, fmt.Sprintf("Failed %s: %s", name, errorText(err))
	}

	e := events.Log(level, text)
	e.File = name
	e.Outcome = string(res.Reason)
	e.RunID = jc.RunID
	c.out.Publish(e)

	logger.Info("File finished", "run_id", jc.RunID, "file", res.Input,
		"outcome", res.Outcome, "reason", res.Reason, "elapsed", res.Elapsed.Round(time.Millisecond))
}

func skipText(r Reason) string {
	switch r {
	case ReasonUserSkipped:
		return "skipped by user"
	case ReasonInvalidInput:
		return "invalid file"
	case ReasonOutputExists:
		return "output exists"
	}
	return string(r)
}

func errorText(err error) string {
	var muxErr *ffmpeg.MuxError
	if errors.As(err, &muxErr) {
		msg := fmt.Sprintf("ffmpeg exited with code %d", muxErr.ExitCode)
		if n := len(muxErr.Tail); n > 0 {
			msg += ": " + muxErr.Tail[n-1]
		}
		return msg
	}
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// dispose applies the file action for an outcome. Invalid files and errors
// never reach here. Skips only ever move; they never delete.
func (c *Controller) dispose(jc *JobContext, path string, reason Reason) {
	action := jc.Settings.FileAction
	if reason != ReasonCompleted && action != ActionMove {
		return
	}
	if action == ActionKeep {
		return
	}

	dest, err := Dispose(path, action)
	name := filepath.Base(path)
	if err != nil {
		jc.dispositionFailed()
		logger.Warn("Disposition failed", "run_id", jc.RunID, "file", path, "action", action, "error", err)
		c.out.Publish(events.Log(events.LevelWarn, fmt.Sprintf("Could not %s original %s: %v", action, name, err)))
		return
	}
	switch action {
	case ActionMove:
		c.out.Publish(events.Log(events.LevelInfo, fmt.Sprintf("Moved original %s to %s", name, filepath.Dir(dest))))
	case ActionDelete:
		c.out.Publish(events.Log(events.LevelInfo, "Deleted original "+name))
	}
}
