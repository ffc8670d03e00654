package jobs

import "sync"

// Signals holds the control flags of one job. Every change closes the
// channel returned by Changed, so waiters wake without polling.
type Signals struct {
	mu        sync.Mutex
	paused    bool
	cancelled bool // sticky
	skip      bool // edge-triggered, consumed by TakeSkip
	changed   chan struct{}
}

// NewSignals returns signals in the running state.
func NewSignals() *Signals {
	return &Signals{changed: make(chan struct{})}
}

// notify must be called with mu held.
func (s *Signals) notify() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Changed returns a channel closed at the next change of any flag.
func (s *Signals) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// Pause sets the paused flag. It reports whether anything changed.
func (s *Signals) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.cancelled {
		return false
	}
	s.paused = true
	s.notify()
	return true
}

// Resume clears the paused flag. It reports whether anything changed.
func (s *Signals) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return false
	}
	s.paused = false
	s.notify()
	return true
}

// RequestSkip asks for the current (or next) file to be skipped.
func (s *Signals) RequestSkip() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.skip || s.cancelled {
		return false
	}
	s.skip = true
	s.notify()
	return true
}

// Cancel requests cancellation of the whole job. It cannot be undone.
func (s *Signals) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return false
	}
	s.cancelled = true
	s.notify()
	return true
}

// TakeSkip consumes a pending skip request.
func (s *Signals) TakeSkip() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.skip {
		return false
	}
	s.skip = false
	return true
}

// Snapshot is a consistent view of all flags.
type Snapshot struct {
	Paused    bool
	Cancelled bool
	Skip      bool
}

// Load returns the current flags and the channel that will signal the
// next change, read atomically so no change can be missed between the two.
func (s *Signals) Load() (Snapshot, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Paused: s.paused, Cancelled: s.cancelled, Skip: s.skip}, s.changed
}

func (s *Signals) Paused() bool {
	snap, _ := s.Load()
	return snap.Paused
}

func (s *Signals) Cancelled() bool {
	snap, _ := s.Load()
	return snap.Cancelled
}
