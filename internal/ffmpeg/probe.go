package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/gwlsn/remuxer/internal/media"
)

// ErrProbeTimeout is wrapped by probe errors caused by the context deadline.
var ErrProbeTimeout = errors.New("ffprobe timed out")

// ProbeError describes a failed ffprobe invocation.
type ProbeError struct {
	Op       string // "frame_rate", "duration" or "audio_tracks"
	Path     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProbeError) Error() string {
	msg := fmt.Sprintf("ffprobe %s %s: %v", e.Op, e.Path, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err came from a probe that ran out of time.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrProbeTimeout)
}

// Prober wraps ffprobe. Each method is one independent invocation; the
// caller bounds it with the context.
type Prober struct {
	ffprobePath string
}

// NewProber creates a new Prober with the given ffprobe path
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath}
}

// Path returns the ffprobe binary in use.
func (p *Prober) Path() string {
	return p.ffprobePath
}

func (p *Prober) run(ctx context.Context, op, path string, args ...string) (string, error) {
	args = append(args, path)
	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		perr := &ProbeError{Op: op, Path: path, ExitCode: -1, Stderr: strings.TrimSpace(stderr.String())}
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			perr.Err = fmt.Errorf("%w: %w", ErrProbeTimeout, ctx.Err())
		case ctx.Err() != nil:
			perr.Err = ctx.Err()
		case errors.As(err, &exitErr):
			perr.ExitCode = exitErr.ExitCode()
			perr.Err = err
		default:
			perr.Err = err
		}
		return "", perr
	}
	return string(output), nil
}

// FrameRate returns the raw avg_frame_rate of the first video stream, e.g.
// "30000/1001". Use media.ParseFrameRate to interpret it.
func (p *Prober) FrameRate(ctx context.Context, path string) (string, error) {
	out, err := p.run(ctx, "frame_rate", path,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=avg_frame_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
	)
	if err != nil {
		return "", err
	}
	return firstLine(out), nil
}

// Duration returns the container duration in seconds. A file without a
// known duration returns 0 and no error.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	out, err := p.run(ctx, "duration", path,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
	)
	if err != nil {
		return 0, err
	}
	return parseDuration(firstLine(out)), nil
}

// AudioTracks lists every audio stream. Streams without a language tag get "und".
func (p *Prober) AudioTracks(ctx context.Context, path string) ([]media.AudioTrack, error) {
	out, err := p.run(ctx, "audio_tracks", path,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index,codec_name,channels:stream_tags=language",
		"-of", "csv=p=0",
	)
	if err != nil {
		return nil, err
	}
	return parseAudioTracks(out), nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func parseDuration(s string) float64 {
	if s == "" || s == "N/A" {
		return 0
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// parseAudioTracks reads ffprobe csv rows of "index,codec,channels[,language]".
func parseAudioTracks(out string) []media.AudioTrack {
	var tracks []media.AudioTrack
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		idx, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}
		t := media.AudioTrack{Index: idx, Language: "und"}
		if len(fields) > 1 {
			t.Codec = strings.TrimSpace(fields[1])
		}
		if len(fields) > 2 {
			t.Channels = strings.TrimSpace(fields[2])
		}
		if len(fields) > 3 {
			if lang := strings.TrimSpace(fields[3]); lang != "" {
				t.Language = lang
			}
		}
		tracks = append(tracks, t)
	}
	return tracks
}

// Languages returns the distinct, known languages of tracks in stream order.
func Languages(tracks []media.AudioTrack) []string {
	var langs []string
	seen := make(map[string]bool)
	for _, t := range tracks {
		if t.Language == "" || t.Language == "und" || seen[t.Language] {
			continue
		}
		seen[t.Language] = true
		langs = append(langs, t.Language)
	}
	return langs
}
