package ffmpeg

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/gwlsn/remuxer/internal/media"
)

func TestOutputPath(t *testing.T) {
	tests := []struct {
		input    string
		outDir   string
		format   string
		expected string
	}{
		{"/media/movie.mkv", "", ".mp4", "/media/movie.mp4"},
		{"/media/tv/episode.avi", "/out", ".mov", "/out/episode.mov"},
		{"/media/name.with.dots.mkv", "", ".mp4", "/media/name.with.dots.mp4"},
	}
	for _, tt := range tests {
		got := OutputPath(filepath.FromSlash(tt.input), filepath.FromSlash(tt.outDir), tt.format)
		if got != filepath.FromSlash(tt.expected) {
			t.Errorf("OutputPath(%s, %s, %s) = %s, expected %s", tt.input, tt.outDir, tt.format, got, tt.expected)
		}
	}
}

func TestBuildMuxCommand(t *testing.T) {
	desc := media.Descriptor{
		Path:      "/media/movie.mkv",
		Valid:     true,
		FrameRate: media.FrameRate{Num: 30000, Den: 1001},
	}

	tests := []struct {
		name      string
		desc      media.Descriptor
		opts      MuxOptions
		args      []string
		timescale int64
		warnings  int
	}{
		{
			name: "audio and probed timescale",
			desc: desc,
			opts: MuxOptions{IncludeAudio: true, OutputFormat: ".mp4", UseTimescale: true},
			args: []string{"-y", "-i", "/media/movie.mkv", "-c:v", "copy",
				"-map", "0:v", "-map", "0:a?", "-c:a", "copy",
				"-video_track_timescale", "30000", "/media/movie.mp4"},
			timescale: 30000,
		},
		{
			name: "no audio no timescale",
			desc: desc,
			opts: MuxOptions{OutputFormat: ".mov", OutputDir: "/out"},
			args: []string{"-y", "-i", "/media/movie.mkv", "-c:v", "copy", "-an", "/out/movie.mov"},
		},
		{
			name: "missing frame rate warns and omits flag",
			desc: media.Descriptor{Path: "/media/movie.mkv", Valid: true},
			opts: MuxOptions{OutputFormat: ".mp4", UseTimescale: true},
			args: []string{"-y", "-i", "/media/movie.mkv", "-c:v", "copy", "-an", "/media/movie.mp4"},
			warnings: 1,
		},
		{
			name: "forced preset overrides probed rate",
			desc: desc,
			opts: MuxOptions{OutputFormat: ".mp4", UseTimescale: true, ForceTimescale: true, TimescalePreset: "60"},
			args: []string{"-y", "-i", "/media/movie.mkv", "-c:v", "copy", "-an",
				"-video_track_timescale", "60", "/media/movie.mp4"},
			timescale: 60,
		},
		{
			name: "invalid preset warns",
			desc: desc,
			opts: MuxOptions{OutputFormat: ".mp4", UseTimescale: true, ForceTimescale: true, TimescalePreset: "fast"},
			args: []string{"-y", "-i", "/media/movie.mkv", "-c:v", "copy", "-an", "/media/movie.mp4"},
			warnings: 1,
		},
		{
			name: "force ignored when timescale disabled",
			desc: desc,
			opts: MuxOptions{OutputFormat: ".mp4", ForceTimescale: true, TimescalePreset: "60"},
			args: []string{"-y", "-i", "/media/movie.mkv", "-c:v", "copy", "-an", "/media/movie.mp4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, warnings := BuildMuxCommand("ffmpeg", "/media/movie.mkv", tt.desc, tt.opts)
			if !reflect.DeepEqual(cmd.Args, tt.args) {
				t.Errorf("args:\n got %v\nwant %v", cmd.Args, tt.args)
			}
			if cmd.Output != tt.args[len(tt.args)-1] {
				t.Errorf("expected output %s, got %s", tt.args[len(tt.args)-1], cmd.Output)
			}
			if cmd.Timescale != tt.timescale {
				t.Errorf("expected timescale %d, got %d", tt.timescale, cmd.Timescale)
			}
			if len(warnings) != tt.warnings {
				t.Errorf("expected %d warnings, got %v", tt.warnings, warnings)
			}
		})
	}
}

func TestMuxCommandString(t *testing.T) {
	cmd := MuxCommand{Path: "ffmpeg", Args: []string{"-i", "/media/my movie.mkv", "out.mp4"}}
	got := cmd.String()
	if !strings.Contains(got, `"/media/my movie.mkv"`) {
		t.Errorf("expected quoted path, got %s", got)
	}
	if !strings.HasPrefix(got, "ffmpeg -i ") {
		t.Errorf("unexpected rendering %s", got)
	}
}
