// Package scan probes candidate files in parallel and classifies each one
// before a job starts.
package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gwlsn/remuxer/internal/events"
	"github.com/gwlsn/remuxer/internal/ffmpeg"
	"github.com/gwlsn/remuxer/internal/logger"
	"github.com/gwlsn/remuxer/internal/media"
)

// progressEvery batches ScanProgress events.
const progressEvery = 5

var errPoolFailure = errors.New("scan worker panicked")

// Prober is the subset of ffmpeg.Prober the scanner needs.
type Prober interface {
	FrameRate(ctx context.Context, path string) (string, error)
	Duration(ctx context.Context, path string) (float64, error)
	AudioTracks(ctx context.Context, path string) ([]media.AudioTrack, error)
}

// Cache stores descriptors of files that have not changed since they were
// last probed. Implementations must be safe for concurrent use.
type Cache interface {
	LookupDescriptor(ctx context.Context, key CacheKey) (media.Descriptor, bool, error)
	StoreDescriptor(ctx context.Context, key CacheKey, d media.Descriptor) error
}

// CacheKey identifies one version of a file scanned with one set of flags.
type CacheKey struct {
	Path         string
	Size         int64
	ModTime      time.Time
	IncludeAudio bool
	Validate     bool
}

// Publisher receives scan events. *events.Channel implements it.
type Publisher interface {
	Publish(events.Event) events.Event
}

// Options tune the scanner. Zero values get defaults.
type Options struct {
	MaxWorkers       int
	ProbeTimeout     time.Duration
	FrameRateTimeout time.Duration
}

// Request is one scan over an ordered path list.
type Request struct {
	Paths        []string
	IncludeAudio bool
	Validate     bool
}

// Result is what a scan produced. Descriptors holds only files whose scan
// completed.
type Result struct {
	Descriptors map[string]media.Descriptor
	Total       int
	Cancelled   bool
	FellBack    bool
	Elapsed     time.Duration
}

// Scanner runs metadata probes over a bounded worker pool.
type Scanner struct {
	prober Prober
	cache  Cache
	out    Publisher
	opts   Options
}

// New creates a Scanner. cache may be nil.
func New(prober Prober, cache Cache, out Publisher, opts Options) *Scanner {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.FrameRateTimeout <= 0 {
		opts.FrameRateTimeout = 8 * time.Second
	}
	return &Scanner{prober: prober, cache: cache, out: out, opts: opts}
}

type collector struct {
	mu    sync.Mutex
	total int
	done  int
	byKey map[string]media.Descriptor
	out   Publisher
}

func (c *collector) record(d media.Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.byKey[d.Path]; dup {
		return
	}
	c.byKey[d.Path] = d
	c.done++
	// Published under the lock so progress never goes backwards.
	if c.done%progressEvery == 0 || c.done == c.total {
		c.out.Publish(events.ScanProgress(c.done, c.total))
	}
}

func (c *collector) has(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byKey[path]
	return ok
}

// Run scans req.Paths and publishes ScanProgress, summary Log events and
// finally one ScanComplete. A cancelled ctx stops new files from starting;
// probes already running finish under their own timeouts.
func (s *Scanner) Run(ctx context.Context, req Request) Result {
	start := time.Now()
	req.Paths = unique(req.Paths)
	total := len(req.Paths)
	col := &collector{total: total, byKey: make(map[string]media.Descriptor, total), out: s.out}

	workers := WorkerCount(total, s.opts.MaxWorkers)
	logger.Info("Scan started", "files", total, "workers", workers,
		"include_audio", req.IncludeAudio, "validate", req.Validate)
	s.out.Publish(events.Status(fmt.Sprintf("Scanning %d files...", total)))

	var broken atomic.Bool
	var g errgroup.Group
	g.SetLimit(workers)

	for _, path := range req.Paths {
		if ctx.Err() != nil || broken.Load() {
			break
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					broken.Store(true)
					logger.Error("Scan worker panicked", "path", path, "panic", r)
					err = errPoolFailure
				}
			}()
			// g.Go may have blocked on the limit past a cancel.
			if ctx.Err() != nil {
				return nil
			}
			col.record(s.scanFile(ctx, path, req))
			return nil
		})
	}

	res := Result{Total: total}
	if err := g.Wait(); errors.Is(err, errPoolFailure) {
		res.FellBack = true
		s.out.Publish(events.Log(events.LevelWarn, "Parallel scan failed, continuing sequentially"))
		s.sequential(ctx, req, col)
	}

	res.Descriptors = col.byKey
	res.Cancelled = ctx.Err() != nil && len(res.Descriptors) < total
	res.Elapsed = time.Since(start)

	s.summarize(req, res)
	s.out.Publish(events.ScanComplete(copyMap(res.Descriptors)))
	logger.Info("Scan finished", "scanned", len(res.Descriptors), "files", total,
		"cancelled", res.Cancelled, "elapsed", res.Elapsed.Round(time.Millisecond))
	return res
}

// sequential finishes whatever the pool left undone, one file at a time.
func (s *Scanner) sequential(ctx context.Context, req Request, col *collector) {
	for _, path := range req.Paths {
		if ctx.Err() != nil {
			return
		}
		if col.has(path) {
			continue
		}
		col.record(s.scanFileSafe(ctx, path, req))
	}
}

func (s *Scanner) scanFileSafe(ctx context.Context, path string, req Request) (d media.Descriptor) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Probe panicked", "path", path, "panic", r)
			d = media.Invalid(path)
		}
	}()
	return s.scanFile(ctx, path, req)
}

// scanFile runs up to three probes for one file. Probes are detached from
// ctx so a cancel never interrupts a file half way.
func (s *Scanner) scanFile(ctx context.Context, path string, req Request) media.Descriptor {
	pctx := context.WithoutCancel(ctx)

	key, keyErr := cacheKey(path, req)
	if s.cache != nil && keyErr == nil {
		if d, ok, err := s.cache.LookupDescriptor(pctx, key); err != nil {
			logger.Warn("Probe cache lookup failed", "path", path, "error", err)
		} else if ok {
			d.Path = path
			return d
		}
	}

	d := media.Descriptor{Path: path, Valid: true}
	name := d.Name()

	invalidate := func(reason string, err error) media.Descriptor {
		logger.Debug("File failed validation", "path", path, "reason", reason, "error", err)
		s.out.Publish(events.Log(events.LevelWarn, fmt.Sprintf("Invalid file %s: %s", name, reason)))
		return media.Invalid(path)
	}
	// Only descriptors built from successful probes are cached.
	clean := true
	warn := func(what string, err error) {
		clean = false
		s.out.Publish(events.Log(events.LevelWarn, fmt.Sprintf("Could not read %s of %s: %v", what, name, err)))
	}

	fctx, cancel := context.WithTimeout(pctx, s.opts.FrameRateTimeout)
	raw, err := s.prober.FrameRate(fctx, path)
	cancel()
	if err != nil {
		if req.Validate {
			return invalidate(reasonFor(err, "unreadable video stream"), err)
		}
		warn("frame rate", err)
	} else if fr, ok := media.ParseFrameRate(raw); ok {
		d.FrameRate = fr
	}

	dctx, cancel := context.WithTimeout(pctx, s.opts.ProbeTimeout)
	dur, err := s.prober.Duration(dctx, path)
	cancel()
	if err != nil {
		if req.Validate && isTimeout(err) {
			return invalidate("duration probe timed out", err)
		}
		warn("duration", err)
	} else {
		d.DurationSeconds = dur
	}

	if req.IncludeAudio {
		actx, cancel := context.WithTimeout(pctx, s.opts.ProbeTimeout)
		tracks, err := s.prober.AudioTracks(actx, path)
		cancel()
		if err != nil {
			if req.Validate && isTimeout(err) {
				return invalidate("audio probe timed out", err)
			}
			warn("audio tracks", err)
		} else {
			d.AudioTrackCount = len(tracks)
			d.AudioLanguages = ffmpeg.Languages(tracks)
		}
	}

	if s.cache != nil && keyErr == nil && clean {
		if err := s.cache.StoreDescriptor(pctx, key, d); err != nil {
			logger.Warn("Probe cache store failed", "path", path, "error", err)
		}
	}
	return d
}

func isTimeout(err error) bool {
	return ffmpeg.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded)
}

func reasonFor(err error, fallback string) string {
	if isTimeout(err) {
		return "probe timed out"
	}
	return fallback
}

func cacheKey(path string, req Request) (CacheKey, error) {
	info, err := os.Stat(path)
	if err != nil {
		return CacheKey{}, err
	}
	return CacheKey{
		Path:         path,
		Size:         info.Size(),
		ModTime:      info.ModTime(),
		IncludeAudio: req.IncludeAudio,
		Validate:     req.Validate,
	}, nil
}

// summarize publishes the frame-rate and validation summaries.
func (s *Scanner) summarize(req Request, res Result) {
	if len(res.Descriptors) == 0 {
		return
	}

	rates := make(map[string]int)
	var order []media.FrameRate
	missing, valid := 0, 0
	for _, d := range res.Descriptors {
		if !d.Valid {
			continue
		}
		valid++
		if d.FrameRate.IsZero() {
			missing++
			continue
		}
		label := d.FrameRate.Label()
		if rates[label] == 0 {
			order = append(order, d.FrameRate)
		}
		rates[label]++
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Float() < order[j].Float() })
	var parts []string
	for _, fr := range order {
		parts = append(parts, fmt.Sprintf("%s fps (%s)", fr.Label(), plural(rates[fr.Label()], "file")))
	}
	if missing > 0 {
		parts = append(parts, fmt.Sprintf("unknown (%s)", plural(missing, "file")))
	}
	if len(parts) > 0 {
		s.out.Publish(events.Log(events.LevelInfo, "Frame rates: "+strings.Join(parts, ", ")))
	}

	if req.Validate {
		s.out.Publish(events.Log(events.LevelInfo, fmt.Sprintf("Validated %d/%d files", valid, len(res.Descriptors))))
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func unique(paths []string) []string {
	out := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func copyMap(m map[string]media.Descriptor) map[string]media.Descriptor {
	out := make(map[string]media.Descriptor, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
