// Package media holds the per-file metadata produced by scanning and read by
// the job controller.
package media

import (
	"fmt"
	"math/big"
	"path/filepath"
	"strconv"
	"strings"
)

// FrameRate is a reduced rational frame rate such as 30000/1001.
// The zero value means "no frame rate".
type FrameRate struct {
	Num int64 `json:"num"`
	Den int64 `json:"den"`
}

// ParseFrameRate parses ffprobe's avg_frame_rate output ("30000/1001", "25/1")
// or a plain decimal ("23.976"). "0/0", empty and malformed values report ok=false.
func ParseFrameRate(s string) (FrameRate, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0/0" {
		return FrameRate{}, false
	}

	r := new(big.Rat)
	if num, den, found := strings.Cut(s, "/"); found {
		n, err := strconv.ParseInt(strings.TrimSpace(num), 10, 64)
		if err != nil {
			return FrameRate{}, false
		}
		d, err := strconv.ParseInt(strings.TrimSpace(den), 10, 64)
		if err != nil || d == 0 {
			return FrameRate{}, false
		}
		r.SetFrac64(n, d)
	} else if _, ok := r.SetString(s); !ok {
		return FrameRate{}, false
	}

	if r.Sign() <= 0 || !r.Num().IsInt64() || !r.Denom().IsInt64() {
		return FrameRate{}, false
	}
	return FrameRate{Num: r.Num().Int64(), Den: r.Denom().Int64()}, true
}

// IsZero reports whether no frame rate is set.
func (f FrameRate) IsZero() bool {
	return f.Num <= 0 || f.Den <= 0
}

// Float returns the rate in frames per second.
func (f FrameRate) Float() float64 {
	if f.IsZero() {
		return 0
	}
	return float64(f.Num) / float64(f.Den)
}

// Timescale returns a container timescale in which every frame duration is
// an integer number of ticks. For a reduced rate N/D that is N.
func (f FrameRate) Timescale() int64 {
	if f.IsZero() {
		return 0
	}
	return f.Num
}

func (f FrameRate) String() string {
	if f.IsZero() {
		return ""
	}
	if f.Den == 1 {
		return strconv.FormatInt(f.Num, 10)
	}
	return fmt.Sprintf("%d/%d", f.Num, f.Den)
}

// Label formats the rate for summaries, rounded to three decimals with
// trailing zeros removed ("23.976", "25").
func (f FrameRate) Label() string {
	s := strconv.FormatFloat(f.Float(), 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// AudioTrack describes one audio stream as reported by ffprobe.
type AudioTrack struct {
	Index    int    `json:"index"`
	Codec    string `json:"codec"`
	Channels string `json:"channels"`
	Language string `json:"language"`
}

// Descriptor is the scan result for one input path. It is not modified once
// scanning completes.
type Descriptor struct {
	Path            string    `json:"path"`
	Valid           bool      `json:"valid"`
	FrameRate       FrameRate `json:"frame_rate"`
	DurationSeconds float64   `json:"duration_seconds"`
	AudioTrackCount int       `json:"audio_track_count,omitempty"`
	AudioLanguages  []string  `json:"audio_languages,omitempty"`
}

// Invalid returns the descriptor recorded for a file that could not be read.
func Invalid(path string) Descriptor {
	return Descriptor{Path: path, Valid: false}
}

// Name returns the base file name.
func (d Descriptor) Name() string {
	return filepath.Base(d.Path)
}

// videoExtensions lists the containers picked up when a directory is given.
var videoExtensions = []string{
	".mkv", ".mp4", ".avi", ".mov", ".wmv", ".flv",
	".webm", ".m4v", ".mpeg", ".mpg", ".m2ts", ".ts",
}

// IsVideoFile returns true if the file extension suggests a video file
func IsVideoFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, ve := range videoExtensions {
		if ext == ve {
			return true
		}
	}
	return false
}
