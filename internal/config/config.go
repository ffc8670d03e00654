package config

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// FFmpegPath is the path to the ffmpeg binary (default: discovered, then "ffmpeg")
	FFmpegPath string `yaml:"ffmpeg_path"`

	// FFprobePath is the path to the ffprobe binary (default: discovered, then "ffprobe")
	FFprobePath string `yaml:"ffprobe_path"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// LogFormat is "text" or "json"
	LogFormat string `yaml:"log_format"`

	// SettingsPath is the JSON job-settings file shared with the control API
	SettingsPath string `yaml:"settings_path"`

	// DatabasePath is the SQLite file holding the probe cache and run history.
	// Empty disables both.
	DatabasePath string `yaml:"database_path"`

	// MaxScanWorkers caps the scanner pool. The pool never exceeds
	// min(8, NumCPU) regardless of this value.
	MaxScanWorkers int `yaml:"max_scan_workers"`

	// ProbeTimeout bounds the duration and audio-track probes
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// FrameRateTimeout bounds the frame-rate probe
	FrameRateTimeout time.Duration `yaml:"frame_rate_timeout"`

	// TerminateGrace is how long a cancelled mux process gets before it is killed
	TerminateGrace time.Duration `yaml:"terminate_grace"`

	// DrainInterval is how often the event consumer drains the channel
	DrainInterval time.Duration `yaml:"drain_interval"`

	// DrainBatch is the most events delivered per drain cycle
	DrainBatch int `yaml:"drain_batch"`

	// MuxLogEvery logs one in every N lines of ffmpeg output
	MuxLogEvery int `yaml:"mux_log_every"`

	// Listen is the control API address; empty means CLI only
	Listen string `yaml:"listen"`
}

const (
	DefaultProbeTimeout     = 5 * time.Second
	DefaultFrameRateTimeout = 8 * time.Second
	DefaultTerminateGrace   = 2 * time.Second
	DefaultDrainInterval    = 100 * time.Millisecond
	DefaultDrainBatch       = 10
	DefaultMuxLogEvery      = 10
	DefaultMaxScanWorkers   = 8
)

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		FFmpegPath:       "ffmpeg",
		FFprobePath:      "ffprobe",
		LogLevel:         "info",
		LogFormat:        "text",
		SettingsPath:     "remuxer_settings.json",
		DatabasePath:     "",
		MaxScanWorkers:   DefaultMaxScanWorkers,
		ProbeTimeout:     DefaultProbeTimeout,
		FrameRateTimeout: DefaultFrameRateTimeout,
		TerminateGrace:   DefaultTerminateGrace,
		DrainInterval:    DefaultDrainInterval,
		DrainBatch:       DefaultDrainBatch,
		MuxLogEvery:      DefaultMuxLogEvery,
	}
}

// Load reads config from a YAML file, applying defaults for missing values
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file - use defaults
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.FFmpegPath == "" {
		c.FFmpegPath = d.FFmpegPath
	}
	if c.FFprobePath == "" {
		c.FFprobePath = d.FFprobePath
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.SettingsPath == "" {
		c.SettingsPath = d.SettingsPath
	}
	if c.MaxScanWorkers < 1 {
		c.MaxScanWorkers = d.MaxScanWorkers
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.FrameRateTimeout <= 0 {
		c.FrameRateTimeout = d.FrameRateTimeout
	}
	if c.TerminateGrace <= 0 {
		c.TerminateGrace = d.TerminateGrace
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = d.DrainInterval
	}
	if c.DrainBatch < 1 {
		c.DrainBatch = d.DrainBatch
	}
	if c.MuxLogEvery < 1 {
		c.MuxLogEvery = d.MuxLogEvery
	}
}

// ApplyEnv overrides file values with FFMPEG_PATH, FFPROBE_PATH and LOG_LEVEL
// when they are set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("FFMPEG_PATH"); v != "" {
		c.FFmpegPath = v
	}
	if v := os.Getenv("FFPROBE_PATH"); v != "" {
		c.FFprobePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Save writes the config to a YAML file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ResolveTools replaces bare tool names with the binaries found next to the
// running executable, falling back to $PATH. Explicit paths are left alone.
func (c *Config) ResolveTools() {
	exeDir := ""
	if exe, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exe)
	}
	c.FFmpegPath = resolveTool(c.FFmpegPath, exeDir)
	c.FFprobePath = resolveTool(c.FFprobePath, exeDir)
}

func resolveTool(name, exeDir string) string {
	if name == "" || filepath.Base(name) != name {
		return name
	}
	if exeDir != "" {
		candidate := filepath.Join(exeDir, name)
		if runtime.GOOS == "windows" && filepath.Ext(candidate) == "" {
			candidate += ".exe"
		}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	return name
}
