package jobs

import (
	"path/filepath"
	"strings"
)

// FileAction is what happens to an original file once its outcome is known.
type FileAction string

const (
	ActionMove   FileAction = "move"
	ActionKeep   FileAction = "keep"
	ActionDelete FileAction = "delete"
)

// Valid reports whether a is one of the known actions.
func (a FileAction) Valid() bool {
	switch a {
	case ActionMove, ActionKeep, ActionDelete:
		return true
	}
	return false
}

// Supported output containers.
const (
	FormatMP4 = ".mp4"
	FormatMOV = ".mov"
)

// NormalizeFormat lowercases a container extension and adds the leading dot.
// Unsupported values fall back to .mp4.
func NormalizeFormat(f string) string {
	f = strings.ToLower(strings.TrimSpace(f))
	if f != "" && !strings.HasPrefix(f, ".") {
		f = "." + f
	}
	switch f {
	case FormatMP4, FormatMOV:
		return f
	}
	return FormatMP4
}

// DefaultTimescalePreset is the forced timescale used when no preset is given.
const DefaultTimescalePreset = "30"

// JobSettings is the read-only configuration of one job.
type JobSettings struct {
	// Inputs is the ordered list of files to process
	Inputs []string `json:"inputs"`

	// OutputDir is where remuxed files go. Empty means next to each source.
	OutputDir string `json:"outputDir,omitempty"`

	IncludeAudio       bool       `json:"includeAudio"`
	FileAction         FileAction `json:"fileAction"`
	OutputFormat       string     `json:"outputFormat"`
	UseTimescale       bool       `json:"useTimescale"`
	PreserveTimestamps bool       `json:"preserveTimestamps"`
	OverwriteExisting  bool       `json:"overwriteExisting"`
	ValidateFiles      bool       `json:"validateFiles"`

	// ForceTimescale applies TimescalePreset to every file instead of the
	// probed frame rate.
	ForceTimescale  bool   `json:"forceTimescale"`
	TimescalePreset string `json:"timescalePreset,omitempty"`
}

// DefaultJobSettings mirrors the settings-file defaults.
func DefaultJobSettings() JobSettings {
	return JobSettings{
		IncludeAudio:       true,
		FileAction:         ActionKeep,
		OutputFormat:       FormatMP4,
		UseTimescale:       true,
		PreserveTimestamps: true,
		ValidateFiles:      true,
		TimescalePreset:    DefaultTimescalePreset,
	}
}

// Normalized returns a copy with unknown enum values replaced by defaults.
func (s JobSettings) Normalized() JobSettings {
	if !s.FileAction.Valid() {
		s.FileAction = ActionKeep
	}
	s.OutputFormat = NormalizeFormat(s.OutputFormat)
	if strings.TrimSpace(s.TimescalePreset) == "" {
		s.TimescalePreset = DefaultTimescalePreset
	}
	if s.OutputDir != "" {
		s.OutputDir = filepath.Clean(s.OutputDir)
	}
	s.Inputs = append([]string(nil), s.Inputs...)
	return s
}
