package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gwlsn/remuxer/internal/config"
	"github.com/gwlsn/remuxer/internal/events"
	"github.com/gwlsn/remuxer/internal/jobs"
	"github.com/gwlsn/remuxer/internal/logger"
	"github.com/gwlsn/remuxer/internal/scan"
	"github.com/gwlsn/remuxer/internal/settings"
)

type runOptions struct {
	paths       []string
	outputDir   string
	settings    settings.Settings
	dryRun      bool
	tty         bool
	interactive bool
}

// runOnce scans the given paths, then remuxes them while rendering events to
// stdout. The first SIGINT cancels gracefully, the second exits.
func runOnce(cfg *config.Config, engine *jobs.Engine, ch *events.Channel, opts runOptions) int {
	files, err := scan.CollectVideoFiles(opts.paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "error: no video files found")
		return 1
	}
	js := opts.settings.Job(files, opts.outputDir)

	con := newConsole(os.Stdout, opts.tty)
	consumeCtx, stopConsume := context.WithCancel(context.Background())
	consumed := make(chan struct{})
	go func() {
		ch.Consume(consumeCtx, cfg.DrainInterval, cfg.DrainBatch, con.handle)
		close(consumed)
	}()
	flush := func() {
		stopConsume()
		<-consumed
	}

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	var interrupted atomic.Bool
	go func() {
		<-sigChan
		interrupted.Store(true)
		con.note("Cancelling... (press Ctrl+C again to quit immediately)")
		if err := engine.RequestCancel(); err != nil {
			logger.Debug("Cancel ignored", "error", err)
		}
		<-sigChan
		os.Exit(130)
	}()

	ctx := context.Background()
	if err := engine.StartScan(ctx, files, js); err != nil {
		flush()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	engine.Wait(ctx)
	if interrupted.Load() {
		flush()
		fmt.Fprintln(os.Stderr, "Scan cancelled")
		return 130
	}

	if opts.dryRun || opts.settings.PreviewCommands {
		con.note("Commands:")
		for _, entry := range engine.Preview(js, nil) {
			con.note("  " + entry.Describe())
			for _, w := range entry.Warnings {
				con.note("    warning: " + w)
			}
		}
		if opts.dryRun {
			flush()
			return 0
		}
	}

	if opts.interactive {
		con.note("Controls: p = pause, r = resume, s = skip file, c = cancel (then Enter)")
		go readKeys(os.Stdin, engine, con)
	}

	if _, err := engine.StartJob(ctx, js, nil); err != nil {
		flush()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	engine.Wait(ctx)
	flush()

	sum := engine.LastSummary()
	if sum == nil {
		return 1
	}
	printSummary(os.Stdout, sum)
	switch {
	case sum.Cancelled:
		return 130
	case sum.Failed > 0:
		return 1
	}
	return 0
}

// readKeys maps one-letter lines on r to engine controls until r closes.
func readKeys(r io.Reader, engine *jobs.Engine, con *console) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.ToLower(strings.TrimSpace(sc.Text()))
		if line == "" {
			continue
		}
		var err error
		switch line[0] {
		case 'p':
			err = engine.RequestPause()
		case 'r':
			err = engine.RequestResume()
		case 's':
			err = engine.RequestSkip()
		case 'c', 'q':
			err = engine.RequestCancel()
		default:
			con.note(fmt.Sprintf("Unknown key %q", line))
			continue
		}
		if err != nil {
			con.note(err.Error())
		}
	}
}

// console renders events as lines. On a terminal progress is redrawn in place
// on a single status line.
type console struct {
	mu      sync.Mutex
	w       io.Writer
	tty     bool
	current string
	live    bool // a progress line is on screen
}

func newConsole(w io.Writer, tty bool) *console {
	return &console{w: w, tty: tty}
}

func (c *console) note(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLive()
	fmt.Fprintln(c.w, text)
}

func (c *console) clearLive() {
	if c.live {
		fmt.Fprint(c.w, "\r\033[K")
		c.live = false
	}
}

func (c *console) progress(text string) {
	if !c.tty {
		return
	}
	fmt.Fprint(c.w, "\r\033[K"+text)
	c.live = true
}

func (c *console) handle(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Kind {
	case events.KindScanProgress:
		c.progress(fmt.Sprintf("Scanning %d/%d (%.0f%%)", e.Done, e.Total, e.Percent))
	case events.KindScanComplete:
		c.clearLive()
	case events.KindLog:
		c.clearLive()
		fmt.Fprintf(c.w, "%s %s\n", levelTag(e.Level), e.Text)
	case events.KindStatus:
		c.clearLive()
		fmt.Fprintf(c.w, "==> %s\n", e.Text)
	case events.KindCurrentFile:
		c.current = e.File
	case events.KindProgress:
		c.progress(fmt.Sprintf("[%d/%d] %5.1f%%  %s", e.Done, e.Total, e.Percent, c.current))
	case events.KindFinished:
		c.clearLive()
	}
}

func levelTag(l events.Level) string {
	switch l {
	case events.LevelSuccess:
		return "[ ok ]"
	case events.LevelWarn:
		return "[warn]"
	case events.LevelError:
		return "[fail]"
	default:
		return "[info]"
	}
}

// printSummary writes the final tally, the per-reason breakdown and the size
// of what was written.
func printSummary(w io.Writer, sum *jobs.Summary) {
	var written uint64
	for _, f := range sum.Files {
		if f.Outcome != jobs.OutcomeCompleted || f.Output == "" {
			continue
		}
		if info, err := os.Stat(f.Output); err == nil {
			written += uint64(info.Size())
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "─────────────────────────────────────────────────────────────")
	status := "Finished"
	if sum.Cancelled {
		status = "Cancelled"
	}
	fmt.Fprintf(w, "  %s in %s\n", status, sum.Elapsed.Round(10*time.Millisecond))
	fmt.Fprintf(w, "  Remuxed:  %d/%d (%s written)\n", sum.Remuxed, sum.Total, humanize.Bytes(written))
	fmt.Fprintf(w, "  Skipped:  %d (%d failed)\n", sum.Skipped, sum.Failed)
	if sum.DispositionFailures > 0 {
		fmt.Fprintf(w, "  Originals not moved/deleted: %d\n", sum.DispositionFailures)
	}

	reasons := make([]string, 0, len(sum.Breakdown))
	for r, n := range sum.Breakdown {
		if n > 0 {
			reasons = append(reasons, fmt.Sprintf("%s=%d", r, n))
		}
	}
	sort.Strings(reasons)
	if len(reasons) > 0 {
		fmt.Fprintf(w, "  Breakdown: %s\n", strings.Join(reasons, ", "))
	}

	for _, f := range sum.Files {
		if f.Outcome == jobs.OutcomeError {
			fmt.Fprintf(w, "  ! %s: %s\n", filepath.Base(f.Input), f.Error)
		}
	}
	fmt.Fprintln(w, "─────────────────────────────────────────────────────────────")
}
