package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ProbeTimeout != 5*time.Second {
		t.Errorf("expected probe timeout 5s, got %v", cfg.ProbeTimeout)
	}
	if cfg.FrameRateTimeout != 8*time.Second {
		t.Errorf("expected frame rate timeout 8s, got %v", cfg.FrameRateTimeout)
	}
	if cfg.DrainBatch != 10 {
		t.Errorf("expected drain batch 10, got %d", cfg.DrainBatch)
	}
}

func TestLoadAppliesDefaultsForZeroValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "ffmpeg_path: /opt/ffmpeg/bin/ffmpeg\nterminate_grace: 500ms\nmax_scan_workers: 0\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.FFmpegPath != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("expected ffmpeg path from file, got %s", cfg.FFmpegPath)
	}
	if cfg.FFprobePath != "ffprobe" {
		t.Errorf("expected default ffprobe, got %s", cfg.FFprobePath)
	}
	if cfg.TerminateGrace != 500*time.Millisecond {
		t.Errorf("expected grace 500ms, got %v", cfg.TerminateGrace)
	}
	if cfg.MaxScanWorkers != DefaultMaxScanWorkers {
		t.Errorf("expected default scan workers, got %d", cfg.MaxScanWorkers)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("ffmpeg_path: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Listen = ":8099"
	cfg.TerminateGrace = 3 * time.Second

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Listen != ":8099" {
		t.Errorf("expected listen :8099, got %s", loaded.Listen)
	}
	if loaded.TerminateGrace != 3*time.Second {
		t.Errorf("expected grace 3s, got %v", loaded.TerminateGrace)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("FFMPEG_PATH", "/env/ffmpeg")
	t.Setenv("FFPROBE_PATH", "")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if cfg.FFmpegPath != "/env/ffmpeg" {
		t.Errorf("expected env ffmpeg path, got %s", cfg.FFmpegPath)
	}
	if cfg.FFprobePath != "ffprobe" {
		t.Errorf("empty env var should not override, got %s", cfg.FFprobePath)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.LogLevel)
	}
}

func TestResolveToolKeepsExplicitPath(t *testing.T) {
	if got := resolveTool("/usr/local/bin/ffmpeg", t.TempDir()); got != "/usr/local/bin/ffmpeg" {
		t.Errorf("expected explicit path untouched, got %s", got)
	}
}

func TestResolveToolPrefersExecutableDir(t *testing.T) {
	dir := t.TempDir()
	name := "remuxer-test-tool"
	if err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	got := resolveTool(name, dir)
	if got != filepath.Join(dir, name) {
		t.Errorf("expected tool beside executable, got %s", got)
	}
}

func TestResolveToolFallsBackToName(t *testing.T) {
	name := "remuxer-no-such-tool-xyz"
	if got := resolveTool(name, t.TempDir()); got != name {
		t.Errorf("expected bare name when not found, got %s", got)
	}
}
