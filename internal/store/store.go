package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gwlsn/remuxer/internal/jobs"
	"github.com/gwlsn/remuxer/internal/media"
	"github.com/gwlsn/remuxer/internal/scan"
)

// Store defines the persistence interface for probe results and run history.
// Implementations must be safe for concurrent use.
type Store interface {
	// LookupDescriptor returns the cached descriptor of an unchanged file.
	LookupDescriptor(ctx context.Context, key scan.CacheKey) (media.Descriptor, bool, error)

	// StoreDescriptor caches a descriptor, replacing any older version.
	StoreDescriptor(ctx context.Context, key scan.CacheKey, d media.Descriptor) error

	// RecordRun persists a finished job with its per-file outcomes.
	RecordRun(ctx context.Context, sum jobs.Summary, settings jobs.JobSettings) error

	// ListRuns returns the most recent runs first. limit <= 0 means all.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// GetRun returns one run with its files. Returns nil if not found.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// PruneCache removes cache entries for files that no longer exist.
	// Returns the number of entries removed.
	PruneCache(ctx context.Context) (int, error)

	// Stats returns table counts.
	Stats(ctx context.Context) (Stats, error)

	// Close closes the store and releases resources.
	Close() error
}

// Stats holds store statistics.
type Stats struct {
	CachedFiles int `json:"cached_files"`
	Runs        int `json:"runs"`
	Files       int `json:"files"`
	Remuxed     int `json:"remuxed"`
}

// RunRecord is one finished job as stored in the history.
type RunRecord struct {
	ID        string         `json:"id"`
	StartedAt time.Time      `json:"started_at"`
	Elapsed   time.Duration  `json:"elapsed"`
	Total     int            `json:"total"`
	Remuxed   int            `json:"remuxed"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Cancelled bool           `json:"cancelled"`
	Action    string         `json:"action"`
	Format    string         `json:"format"`
	Breakdown map[string]int `json:"breakdown"`
	Files     []FileRecord   `json:"files,omitempty"`
}

// FileRecord is one file's outcome within a run.
type FileRecord struct {
	Index   int           `json:"index"`
	Input   string        `json:"input"`
	Output  string        `json:"output,omitempty"`
	Outcome string        `json:"outcome"`
	Reason  string        `json:"reason"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Describe renders the run as one line, e.g.
// "3 hours ago: 12/14 remuxed, 2 skipped (took 4m10s)".
func (r RunRecord) Describe() string {
	line := fmt.Sprintf("%s: %d/%d remuxed, %d skipped", humanize.Time(r.StartedAt), r.Remuxed, r.Total, r.Skipped)
	if r.Failed > 0 {
		line += fmt.Sprintf(" (%d failed)", r.Failed)
	}
	if r.Cancelled {
		line += ", cancelled"
	}
	return line + fmt.Sprintf(" (took %s)", r.Elapsed.Round(time.Second))
}
