package jobs

import (
	"errors"
	"fmt"

	"github.com/gwlsn/remuxer/internal/ffmpeg"
)

// Sentinel errors for engine operations.
// These can be checked with errors.Is().
var (
	ErrBusy          = errors.New("engine is busy")
	ErrNotRunning    = errors.New("no job is running")
	ErrNoFiles       = errors.New("no input files")
	ErrNotScanned    = errors.New("file has not been scanned")
	ErrOutputExists  = errors.New("output already exists")
	ErrInvalidInput  = errors.New("input failed validation")
	ErrUserSkipped   = errors.New("skipped by user")
	ErrUserCancelled = errors.New("cancelled by user")
)

// Reason classifies why a file ended the way it did.
type Reason string

const (
	ReasonCompleted          Reason = "completed"
	ReasonProbeTimeout       Reason = "probe_timeout"
	ReasonProbeFailure       Reason = "probe_failure"
	ReasonMuxFailure         Reason = "mux_failure"
	ReasonDispositionFailure Reason = "disposition_failure"
	ReasonUserSkipped        Reason = "user_skipped"
	ReasonInvalidInput       Reason = "invalid_input"
	ReasonOutputExists       Reason = "output_exists"
	ReasonUserCancelled      Reason = "user_cancelled"
)

// Outcome is the classification of one file.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// ReasonFor maps an error from the mux path onto a Reason.
func ReasonFor(err error) Reason {
	switch {
	case err == nil:
		return ReasonCompleted
	case errors.Is(err, ErrUserCancelled):
		return ReasonUserCancelled
	case errors.Is(err, ErrUserSkipped):
		return ReasonUserSkipped
	case errors.Is(err, ErrOutputExists):
		return ReasonOutputExists
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNotScanned):
		return ReasonInvalidInput
	case ffmpeg.IsTimeout(err):
		return ReasonProbeTimeout
	default:
		return ReasonMuxFailure
	}
}

// busyError returns a wrapped error for a request made in the wrong state.
func busyError(state State) error {
	return fmt.Errorf("%w (state: %s)", ErrBusy, state)
}
