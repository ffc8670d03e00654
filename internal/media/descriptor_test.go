package media

import "testing"

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
		num   int64
		den   int64
	}{
		{"30/1", true, 30, 1},
		{"30000/1001", true, 30000, 1001},
		{"50/2", true, 25, 1},
		{"24", true, 24, 1},
		{"23.976", true, 2997, 125},
		{" 25/1\n", true, 25, 1},
		{"0/0", false, 0, 0},
		{"", false, 0, 0},
		{"25/0", false, 0, 0},
		{"N/A", false, 0, 0},
		{"abc", false, 0, 0},
		{"-25/1", false, 0, 0},
	}

	for _, tt := range tests {
		got, ok := ParseFrameRate(tt.input)
		if ok != tt.ok {
			t.Errorf("ParseFrameRate(%q) ok = %v, expected %v", tt.input, ok, tt.ok)
			continue
		}
		if got.Num != tt.num || got.Den != tt.den {
			t.Errorf("ParseFrameRate(%q) = %d/%d, expected %d/%d", tt.input, got.Num, got.Den, tt.num, tt.den)
		}
	}
}

func TestFrameRateTimescale(t *testing.T) {
	tests := []struct {
		rate     FrameRate
		expected int64
	}{
		{FrameRate{Num: 30000, Den: 1001}, 30000},
		{FrameRate{Num: 25, Den: 1}, 25},
		{FrameRate{}, 0},
	}
	for _, tt := range tests {
		if got := tt.rate.Timescale(); got != tt.expected {
			t.Errorf("Timescale(%v) = %d, expected %d", tt.rate, got, tt.expected)
		}
	}
}

func TestFrameRateLabel(t *testing.T) {
	tests := []struct {
		rate     FrameRate
		expected string
	}{
		{FrameRate{Num: 24000, Den: 1001}, "23.976"},
		{FrameRate{Num: 25, Den: 1}, "25"},
		{FrameRate{Num: 30000, Den: 1001}, "29.97"},
	}
	for _, tt := range tests {
		if got := tt.rate.Label(); got != tt.expected {
			t.Errorf("Label(%v) = %q, expected %q", tt.rate, got, tt.expected)
		}
	}
}

func TestIsVideoFile(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"/media/movie.mkv", true},
		{"/media/movie.MKV", true},
		{"/media/movie.mov", true},
		{"/media/document.pdf", false},
		{"/media/subtitle.srt", false},
		{"/media/noext", false},
	}
	for _, tt := range tests {
		if got := IsVideoFile(tt.path); got != tt.expected {
			t.Errorf("IsVideoFile(%s) = %v, expected %v", tt.path, got, tt.expected)
		}
	}
}
