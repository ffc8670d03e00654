// Package settings persists the user's job preferences as a flat JSON record.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gwlsn/remuxer/internal/jobs"
)

// Settings is the persisted preference record. Keys not listed here are
// ignored on load; keys missing from the file keep their defaults.
type Settings struct {
	IncludeAudio       bool   `json:"includeAudio"`
	FileAction         string `json:"fileAction"`
	OutputFormat       string `json:"outputFormat"`
	ValidateFiles      bool   `json:"validateFiles"`
	PreserveTimestamps bool   `json:"preserveTimestamps"`
	PreviewCommands    bool   `json:"previewCommands"`
	OverwriteExisting  bool   `json:"overwriteExisting"`
	UseTimescale       bool   `json:"useTimescale"`
	ForceTimescale     bool   `json:"forceTimescale"`
	TimescalePreset    string `json:"timescalePreset"`
}

// Defaults returns the first-run settings.
func Defaults() Settings {
	return Settings{
		IncludeAudio:       true,
		FileAction:         string(jobs.ActionKeep),
		OutputFormat:       jobs.FormatMP4,
		ValidateFiles:      true,
		PreserveTimestamps: true,
		PreviewCommands:    false,
		OverwriteExisting:  false,
		UseTimescale:       true,
		ForceTimescale:     false,
		TimescalePreset:    jobs.DefaultTimescalePreset,
	}
}

// normalize replaces out-of-range enum values with their defaults.
func (s Settings) normalize() Settings {
	if !jobs.FileAction(s.FileAction).Valid() {
		s.FileAction = string(jobs.ActionKeep)
	}
	s.OutputFormat = jobs.NormalizeFormat(s.OutputFormat)
	if s.TimescalePreset == "" {
		s.TimescalePreset = jobs.DefaultTimescalePreset
	}
	return s
}

// Job builds the settings for one job over inputs. outputDir may be empty.
func (s Settings) Job(inputs []string, outputDir string) jobs.JobSettings {
	s = s.normalize()
	return jobs.JobSettings{
		Inputs:             inputs,
		OutputDir:          outputDir,
		IncludeAudio:       s.IncludeAudio,
		FileAction:         jobs.FileAction(s.FileAction),
		OutputFormat:       s.OutputFormat,
		UseTimescale:       s.UseTimescale,
		PreserveTimestamps: s.PreserveTimestamps,
		OverwriteExisting:  s.OverwriteExisting,
		ValidateFiles:      s.ValidateFiles,
		ForceTimescale:     s.ForceTimescale,
		TimescalePreset:    s.TimescalePreset,
	}.Normalized()
}

// Store persists settings in a single JSON file on disk.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a JSON-backed settings store.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load reads settings from disk. It always returns usable settings: on a
// missing file the defaults, on a read or parse failure the defaults plus
// the error so the caller can log it.
func (s *Store) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := Defaults()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read settings: %w", err)
	}

	// Unmarshal onto the defaults so absent keys keep them.
	loaded := cfg
	if err := json.Unmarshal(data, &loaded); err != nil {
		return cfg, fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	return loaded.normalize(), nil
}

// Save writes settings as indented JSON and creates parent directories.
func (s *Store) Save(cfg Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
	}

	data, err := json.MarshalIndent(cfg.normalize(), "", "  ")
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
