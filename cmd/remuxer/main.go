package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"

	"github.com/gwlsn/remuxer/internal/api"
	"github.com/gwlsn/remuxer/internal/config"
	"github.com/gwlsn/remuxer/internal/events"
	"github.com/gwlsn/remuxer/internal/ffmpeg"
	"github.com/gwlsn/remuxer/internal/jobs"
	"github.com/gwlsn/remuxer/internal/logger"
	"github.com/gwlsn/remuxer/internal/scan"
	"github.com/gwlsn/remuxer/internal/settings"
	"github.com/gwlsn/remuxer/internal/store"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file (default: ./config/remuxer.yaml)")
	listen := flag.String("listen", "", "Serve the HTTP API on this address instead of running once (e.g. :8080)")
	outDir := flag.String("out", "", "Directory for remuxed files (default: next to each source)")
	action := flag.String("action", "", "What to do with originals: move, keep or delete (default: from settings)")
	format := flag.String("format", "", "Output container: mp4 or mov (default: from settings)")
	preview := flag.Bool("preview", false, "Print the ffmpeg commands without running them")
	history := flag.Int("history", 0, "List the last N recorded runs and exit")
	verbose := flag.Bool("verbose", false, "Log every event to stderr in CLI mode")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <file or folder>...\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: could not read .env: %v\n", err)
	}

	// Determine config path
	cfgPath := *configPath
	if cfgPath == "" {
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			cfgPath = envPath
		} else {
			cfgPath = "config/remuxer.yaml"
		}
	}

	// Load config
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Init("info")
		logger.Warn("Could not load config", "path", cfgPath, "error", err)
		cfg = config.DefaultConfig()
	}
	cfg.ApplyEnv()
	cfg.ResolveTools()
	if *listen != "" {
		cfg.Listen = *listen
	}

	logger.InitWithWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if cfg.Listen == "" && !*verbose {
		// The console renders events itself; keep stderr for problems.
		logger.SetLevel("warn")
	}

	settingsStore := settings.NewStore(cfg.SettingsPath)

	// Optional SQLite store for the probe cache and run history
	var (
		db       *store.SQLiteStore
		cache    scan.Cache
		recorder jobs.HistoryStore
		runs     api.History
	)
	if cfg.DatabasePath != "" {
		db, err = store.NewSQLiteStore(cfg.DatabasePath)
		if err != nil {
			logger.Error("Failed to open database", "path", cfg.DatabasePath, "error", err)
			return 1
		}
		defer db.Close()
		cache, recorder, runs = db, db, db

		if n, err := db.PruneCache(context.Background()); err != nil {
			logger.Warn("Failed to prune probe cache", "error", err)
		} else if n > 0 {
			logger.Debug("Pruned probe cache", "removed", n)
		}
	}

	if *history > 0 {
		return printHistory(db, *history)
	}

	// Initialize components
	ch := events.NewChannel()
	scanner := scan.New(ffmpeg.NewProber(cfg.FFprobePath), cache, ch, scan.Options{
		MaxWorkers:       cfg.MaxScanWorkers,
		ProbeTimeout:     cfg.ProbeTimeout,
		FrameRateTimeout: cfg.FrameRateTimeout,
	})
	engine := jobs.NewEngine(scanner, ffmpeg.NewMuxer(cfg.FFmpegPath), ch, recorder, jobs.ControllerOptions{
		FFmpegPath:     cfg.FFmpegPath,
		TerminateGrace: cfg.TerminateGrace,
		LogEvery:       cfg.MuxLogEvery,
	})

	if cfg.Listen != "" {
		printBanner(cfg, cfgPath, db)
		return serve(cfg, engine, ch, settingsStore, runs)
	}

	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}

	s, err := settingsStore.Load()
	if err != nil {
		logger.Warn("Failed to load settings, using defaults", "path", settingsStore.Path(), "error", err)
	}
	if *action != "" {
		if !jobs.FileAction(*action).Valid() {
			fmt.Fprintf(os.Stderr, "unknown action %q (want move, keep or delete)\n", *action)
			return 2
		}
		s.FileAction = *action
	}
	if *format != "" {
		s.OutputFormat = *format
	}

	tty := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	interactive := tty && isatty.IsTerminal(os.Stdin.Fd())

	return runOnce(cfg, engine, ch, runOptions{
		paths:       flag.Args(),
		outputDir:   *outDir,
		settings:    s,
		dryRun:      *preview,
		tty:         tty,
		interactive: interactive,
	})
}

func printBanner(cfg *config.Config, cfgPath string, db *store.SQLiteStore) {
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                          REMUXER                          ║")
	fmt.Println("║             Batch stream-copy into MP4 and MOV            ║")
	versionLine := fmt.Sprintf("v%s", version)
	padding := 59 - len(versionLine)
	fmt.Printf("║%*s%s%*s║\n", padding/2, "", versionLine, (padding+1)/2, "")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Config:       %s\n", cfgPath)
	fmt.Printf("  Settings:     %s\n", cfg.SettingsPath)
	if db != nil {
		fmt.Printf("  Database:     %s\n", db.Path())
		if stats, err := db.Stats(context.Background()); err == nil {
			fmt.Printf("  History:      %s runs, %s files remuxed, %s cached probes\n",
				humanize.Comma(int64(stats.Runs)), humanize.Comma(int64(stats.Remuxed)), humanize.Comma(int64(stats.CachedFiles)))
		}
	} else {
		fmt.Printf("  Database:     (disabled)\n")
	}
	fmt.Printf("  Scan workers: %d\n", cfg.MaxScanWorkers)
	fmt.Printf("  FFmpeg:       %s\n", cfg.FFmpegPath)
	fmt.Printf("  FFprobe:      %s\n", cfg.FFprobePath)
	fmt.Println()
}

// serve runs the HTTP API until SIGINT or SIGTERM. A running job is cancelled
// and awaited before the server stops.
func serve(cfg *config.Config, engine *jobs.Engine, ch *events.Channel, st *settings.Store, runs api.History) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := api.NewHub()
	pumpDone := make(chan struct{})
	go func() {
		hub.Pump(ctx, ch, cfg.DrainInterval, cfg.DrainBatch)
		close(pumpDone)
	}()

	handler := api.NewHandler(ctx, engine, st, runs, hub)
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("  Starting server on %s\n", cfg.Listen)
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()
	fmt.Println("─────────────────────────────────────────────────────────────")
	fmt.Printf("  Logging started (level: %s)\n", cfg.LogLevel)
	fmt.Println("─────────────────────────────────────────────────────────────")
	logger.Info("Remuxer started", "version", version, "listen", cfg.Listen)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\n  Shutting down...")
		logger.Info("Shutdown signal received")
		if err := engine.RequestCancel(); err == nil {
			waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.TerminateGrace+5*time.Second)
			if err := engine.Wait(waitCtx); err != nil {
				logger.Warn("Job did not stop in time", "error", err)
			}
			waitCancel()
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("Server error", "error", err)
		return 1
	}

	cancel()
	<-pumpDone
	logger.Info("Server stopped")
	fmt.Println("  Goodbye!")
	return 0
}

func printHistory(db *store.SQLiteStore, limit int) int {
	if db == nil {
		fmt.Fprintln(os.Stderr, "run history is disabled (set database_path in the config)")
		return 1
	}
	runs, err := db.ListRuns(context.Background(), limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list runs: %v\n", err)
		return 1
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return 0
	}
	for _, run := range runs {
		fmt.Println(run.Describe())
	}
	return 0
}
