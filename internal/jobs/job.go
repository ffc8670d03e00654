package jobs

import (
	"time"
)

// State is the engine's current phase.
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateRunning    State = "running"
	StatePaused     State = "paused"
	StateSkipping   State = "skipping"
	StateCancelling State = "cancelling"
	StateFinished   State = "finished"
)

// IsActive returns true while a scan or job owns the engine.
func (s State) IsActive() bool {
	switch s {
	case StateScanning, StateRunning, StatePaused, StateSkipping, StateCancelling:
		return true
	}
	return false
}

// isValidTransition enforces the allowed state machine edges.
func isValidTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateScanning || to == StateRunning
	case StateScanning:
		return to == StateIdle || to == StateRunning
	case StateRunning:
		return to == StatePaused || to == StateSkipping || to == StateCancelling || to == StateFinished
	case StatePaused:
		return to == StateRunning || to == StateSkipping || to == StateCancelling || to == StateFinished
	case StateSkipping:
		return to == StateRunning || to == StatePaused || to == StateCancelling || to == StateFinished
	case StateCancelling:
		return to == StateFinished
	case StateFinished:
		return to == StateIdle
	default:
		return false
	}
}

// FileResult is the classified outcome of one file.
type FileResult struct {
	Index   int           `json:"index"`
	Input   string        `json:"input"`
	Output  string        `json:"output,omitempty"`
	Outcome Outcome       `json:"outcome"`
	Reason  Reason        `json:"reason"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Summary is the final tally of a job. Skipped includes errors; Failed
// counts errors alone.
type Summary struct {
	RunID     string         `json:"run_id"`
	Total     int            `json:"total"`
	Remuxed   int            `json:"remuxed"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Cancelled bool           `json:"cancelled"`
	Breakdown map[Reason]int `json:"breakdown"`
	Files     []FileResult   `json:"files"`
	// DispositionFailures counts originals that could not be moved or
	// deleted. It does not affect Remuxed or Skipped.
	DispositionFailures int           `json:"disposition_failures,omitempty"`
	StartedAt           time.Time     `json:"started_at"`
	Elapsed             time.Duration `json:"elapsed"`
}
