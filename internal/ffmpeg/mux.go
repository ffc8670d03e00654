package ffmpeg

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gwlsn/remuxer/internal/media"
)

// MuxOptions are the job settings that shape one ffmpeg invocation.
type MuxOptions struct {
	IncludeAudio    bool
	OutputFormat    string // ".mp4" or ".mov"
	OutputDir       string // empty: next to the input
	UseTimescale    bool
	ForceTimescale  bool
	TimescalePreset string
}

// MuxCommand is a fully built ffmpeg invocation.
type MuxCommand struct {
	Path   string   `json:"path"`
	Args   []string `json:"args"`
	Input  string   `json:"input"`
	Output string   `json:"output"`
	// Timescale is the -video_track_timescale value, 0 when omitted.
	Timescale int64 `json:"timescale,omitempty"`
}

// String renders the command for previews and logs, quoting arguments that
// contain spaces.
func (c MuxCommand) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quoteArg(c.Path))
	for _, a := range c.Args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"'") {
		return strconv.Quote(s)
	}
	return s
}

// OutputPath returns where a remux of input is written: outputDir (or the
// input's directory) plus the input's base name with format as extension.
func OutputPath(input, outputDir, format string) string {
	dir := outputDir
	if dir == "" {
		dir = filepath.Dir(input)
	}
	base := filepath.Base(input)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, name+format)
}

// BuildMuxCommand builds the stream-copy command for one file. Warnings
// describe options that could not be honored, such as a missing frame rate
// when a timescale was requested.
func BuildMuxCommand(ffmpegPath, input string, desc media.Descriptor, opts MuxOptions) (MuxCommand, []string) {
	var warnings []string
	output := OutputPath(input, opts.OutputDir, opts.OutputFormat)

	args := []string{"-y", "-i", input, "-c:v", "copy"}
	if opts.IncludeAudio {
		args = append(args, "-map", "0:v", "-map", "0:a?", "-c:a", "copy")
	} else {
		args = append(args, "-an")
	}

	var timescale int64
	if opts.UseTimescale {
		var warn string
		timescale, warn = chooseTimescale(desc, opts)
		if warn != "" {
			warnings = append(warnings, warn)
		}
		if timescale > 0 {
			args = append(args, "-video_track_timescale", strconv.FormatInt(timescale, 10))
		}
	}

	args = append(args, output)
	return MuxCommand{
		Path:      ffmpegPath,
		Args:      args,
		Input:     input,
		Output:    output,
		Timescale: timescale,
	}, warnings
}

func chooseTimescale(desc media.Descriptor, opts MuxOptions) (int64, string) {
	name := filepath.Base(desc.Path)
	if opts.ForceTimescale {
		if n, err := strconv.ParseInt(strings.TrimSpace(opts.TimescalePreset), 10, 64); err == nil && n > 0 {
			return n, ""
		}
		if fr, ok := media.ParseFrameRate(opts.TimescalePreset); ok {
			return fr.Timescale(), ""
		}
		return 0, fmt.Sprintf("Invalid timescale preset %q for %s, timescale not set", opts.TimescalePreset, name)
	}
	if desc.FrameRate.IsZero() {
		return 0, fmt.Sprintf("No frame rate detected for %s, timescale not set", name)
	}
	return desc.FrameRate.Timescale(), ""
}
