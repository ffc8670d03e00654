// Package events carries progress from the scanner and job controller to a
// single consumer.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gwlsn/remuxer/internal/media"
)

// Kind classifies an event.
type Kind string

const (
	KindScanProgress Kind = "scan_progress"
	KindScanComplete Kind = "scan_complete"
	KindLog          Kind = "log"
	KindStatus       Kind = "status"
	KindProgress     Kind = "progress"
	KindCurrentFile  Kind = "current_file"
	KindFinished     Kind = "finished"
)

// Level tags Log events for rendering.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// Event is one message on the channel. Which fields are set depends on Kind.
type Event struct {
	Seq   int64     `json:"seq"`
	Time  time.Time `json:"time"`
	Kind  Kind      `json:"kind"`
	RunID string    `json:"run_id,omitempty"`

	// ScanProgress and Progress
	Done    int     `json:"done,omitempty"`
	Total   int     `json:"total,omitempty"`
	Percent float64 `json:"percent,omitempty"`

	// Log and Status
	Text  string `json:"text,omitempty"`
	Level Level  `json:"level,omitempty"`

	// CurrentFile, and Log events that classify a file
	File    string `json:"file,omitempty"`
	Outcome string `json:"outcome,omitempty"`

	// ScanComplete
	Descriptors map[string]media.Descriptor `json:"descriptors,omitempty"`

	// Finished
	Remuxed   int            `json:"remuxed,omitempty"`
	Skipped   int            `json:"skipped,omitempty"`
	Failed    int            `json:"failed,omitempty"`
	Cancelled bool           `json:"cancelled,omitempty"`
	Breakdown map[string]int `json:"breakdown,omitempty"`
	Elapsed   time.Duration  `json:"elapsed,omitempty"`
}

// MarshalJSON keeps zero counters on the kinds that report them.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	switch e.Kind {
	case KindScanProgress, KindProgress:
		return json.Marshal(struct {
			plain
			Done    int     `json:"done"`
			Total   int     `json:"total"`
			Percent float64 `json:"percent"`
		}{plain(e), e.Done, e.Total, e.Percent})
	case KindFinished:
		return json.Marshal(struct {
			plain
			Total     int  `json:"total"`
			Remuxed   int  `json:"remuxed"`
			Skipped   int  `json:"skipped"`
			Failed    int  `json:"failed"`
			Cancelled bool `json:"cancelled"`
		}{plain(e), e.Total, e.Remuxed, e.Skipped, e.Failed, e.Cancelled})
	}
	return json.Marshal(plain(e))
}

// Percent returns done/total as a percentage, 0 when total is 0.
func Percent(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}

// Constructors for the common kinds.

func ScanProgress(done, total int) Event {
	return Event{Kind: KindScanProgress, Done: done, Total: total, Percent: Percent(done, total)}
}

func ScanComplete(descriptors map[string]media.Descriptor) Event {
	return Event{Kind: KindScanComplete, Descriptors: descriptors, Total: len(descriptors)}
}

func Log(level Level, text string) Event {
	return Event{Kind: KindLog, Level: level, Text: text}
}

func Status(text string) Event {
	return Event{Kind: KindStatus, Text: text}
}

// Progress reports position current (1-based file being attempted or the
// number of files handled) out of total.
func Progress(current, total int) Event {
	return Event{Kind: KindProgress, Done: current, Total: total, Percent: Percent(current, total)}
}

func CurrentFile(name string) Event {
	return Event{Kind: KindCurrentFile, File: name}
}

// Channel is an unbounded, ordered FIFO. Any goroutine may Publish; exactly
// one consumer should Drain or Consume.
type Channel struct {
	mu      sync.Mutex
	nextSeq int64
	queue   []Event
	notify  chan struct{}
}

// NewChannel creates an empty channel.
func NewChannel() *Channel {
	return &Channel{notify: make(chan struct{}, 1)}
}

// Publish appends one event, assigning its sequence number and timestamp.
func (c *Channel) Publish(e Event) Event {
	c.mu.Lock()
	c.nextSeq++
	e.Seq = c.nextSeq
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	c.queue = append(c.queue, e)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return e
}

// Drain removes and returns up to max events in publish order. max <= 0
// drains everything.
func (c *Channel) Drain(max int) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.queue)
	if n == 0 {
		return nil
	}
	if max > 0 && n > max {
		n = max
	}
	out := make([]Event, n)
	copy(out, c.queue[:n])
	// Shift rather than reslice so the backing array doesn't grow forever.
	rest := copy(c.queue, c.queue[n:])
	for i := rest; i < len(c.queue); i++ {
		c.queue[i] = Event{}
	}
	c.queue = c.queue[:rest]
	return out
}

// Len returns the number of undelivered events.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Notify returns a channel that receives after a Publish. It is a hint for
// consumers that prefer waking up over polling.
func (c *Channel) Notify() <-chan struct{} {
	return c.notify
}

// Consume drains at most batch events every interval and hands them to fn in
// order until ctx is done, then delivers whatever is left.
func (c *Channel) Consume(ctx context.Context, interval time.Duration, batch int, fn func(Event)) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, e := range c.Drain(0) {
				fn(e)
			}
			return
		case <-ticker.C:
			for _, e := range c.Drain(batch) {
				fn(e)
			}
		}
	}
}
