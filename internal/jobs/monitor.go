package jobs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gwlsn/remuxer/internal/events"
	"github.com/gwlsn/remuxer/internal/ffmpeg"
	"github.com/gwlsn/remuxer/internal/logger"
)

// monitor launches mc and watches it until it exits or a signal ends it.
//
// While paused the monitor stops reading output; ffmpeg blocks once the pipe
// fills and resumes when reading does. A skip kills the process at once. A
// cancel terminates it with a grace period. In both of those cases the partial
// output is removed before returning.
func (c *Controller) monitor(jc *JobContext, mc ffmpeg.MuxCommand) (Outcome, error) {
	name := filepath.Base(mc.Input)

	proc, err := c.launcher.Launch(mc)
	if err != nil {
		return OutcomeError, fmt.Errorf("launch ffmpeg: %w", err)
	}
	jc.setProcess(proc)
	defer jc.setProcess(nil)

	logger.Debug("Mux started", "run_id", jc.RunID, "file", mc.Input, "pid", proc.Pid())
	c.out.Publish(events.Log(events.LevelInfo, "Running: "+mc.String()))

	lines := proc.Lines()
	count := 0
	for {
		flags, changed := jc.Signals.Load()
		switch {
		case flags.Cancelled:
			if err := proc.Terminate(c.opts.TerminateGrace); err != nil {
				logger.Warn("Failed to stop ffmpeg", "pid", proc.Pid(), "error", err)
			}
			removePartial(mc.Output)
			return OutcomeCancelled, ErrUserCancelled
		case flags.Skip:
			jc.Signals.TakeSkip()
			if err := proc.Kill(); err != nil {
				logger.Warn("Failed to kill ffmpeg", "pid", proc.Pid(), "error", err)
			}
			removePartial(mc.Output)
			return OutcomeSkipped, ErrUserSkipped
		case flags.Paused:
			<-changed
			continue
		}

		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			count++
			c.forward(name, line, count)
		case <-proc.Done():
			if lines != nil {
				// Flush what the reader queued before it closed the channel.
				for line := range lines {
					count++
					c.forward(name, line, count)
				}
			}
			// A failed mux leaves whatever ffmpeg wrote in place.
			if err := proc.Result(mc.Input); err != nil {
				return OutcomeError, err
			}
			return OutcomeCompleted, nil
		case <-changed:
		}
	}
}

// forward publishes the first line and every LogEvery-th line; lines that
// mention an error always go through.
func (c *Controller) forward(name, line string, n int) {
	if strings.Contains(strings.ToLower(line), "error") {
		c.out.Publish(events.Log(events.LevelWarn, name+": "+line))
		return
	}
	if n == 1 || n%c.opts.LogEvery == 0 {
		c.out.Publish(events.Log(events.LevelInfo, line))
	}
}

func removePartial(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to remove partial output", "path", path, "error", err)
	}
}
