// Package fftest provides fake ffmpeg and ffprobe binaries for tests. The
// fakes are the test binary itself, re-executed through a small wrapper
// script, so a package using them must call Run from its TestMain.
//
// Behavior is keyed on substrings of the input file's base name:
//
//	nofps      ffprobe reports "0/0" as frame rate
//	broken     every ffprobe call exits 1
//	slowprobe  ffprobe sleeps until killed
//	noaudio    ffprobe lists no audio streams
//	fail       ffmpeg writes partial output and exits 1
//	hang       ffmpeg writes partial output and runs until signalled
//	stubborn   like hang, but ignores SIGTERM
//	slow       ffmpeg prints progress for a while, then succeeds
//
// Anything else succeeds: ffprobe reports 30000/1001 fps, 12.5 s and two
// audio tracks, ffmpeg copies the input to the output.
package fftest

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"
)

const (
	modeEnv = "REMUXER_FAKE_FF"

	// LaunchLogEnv names a file the fake ffmpeg appends one line per
	// invocation to.
	LaunchLogEnv = "REMUXER_FAKE_FF_LOG"
)

// Run turns the current process into a fake tool when the wrapper asked for
// one. Otherwise it returns immediately.
func Run() {
	switch os.Getenv(modeEnv) {
	case "ffprobe":
		os.Exit(fakeProbe(os.Args[1:]))
	case "ffmpeg":
		os.Exit(fakeMux(os.Args[1:]))
	}
}

// Install writes ffmpeg and ffprobe wrapper scripts into a temp dir and
// returns their paths.
func Install(t testing.TB) (ffmpegPath, ffprobePath string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tools need a POSIX shell")
	}
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	dir := t.TempDir()
	ffmpegPath = writeWrapper(t, dir, "ffmpeg", exe)
	ffprobePath = writeWrapper(t, dir, "ffprobe", exe)
	return ffmpegPath, ffprobePath
}

func writeWrapper(t testing.TB, dir, tool, exe string) string {
	t.Helper()
	quoted := "'" + strings.ReplaceAll(exe, "'", `'\''`) + "'"
	script := fmt.Sprintf("#!/bin/sh\n%s=%s exec %s \"$@\"\n", modeEnv, tool, quoted)
	path := filepath.Join(dir, tool)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write %s wrapper: %v", tool, err)
	}
	return path
}

// Launches returns how many times the fake ffmpeg was started, according to
// the launch log at path.
func Launches(t testing.TB, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatalf("read launch log: %v", err)
	}
	return strings.Count(string(data), "\n")
}

func has(path, marker string) bool {
	return strings.Contains(filepath.Base(path), marker)
}

func fakeProbe(args []string) int {
	if len(args) == 0 {
		return 2
	}
	input := args[len(args)-1]
	joined := strings.Join(args, " ")

	if has(input, "slowprobe") {
		time.Sleep(time.Hour)
	}
	if has(input, "broken") {
		fmt.Fprintln(os.Stderr, input+": Invalid data found when processing input")
		return 1
	}

	switch {
	case strings.Contains(joined, "stream=avg_frame_rate"):
		if has(input, "nofps") {
			fmt.Println("0/0")
		} else {
			fmt.Println("30000/1001")
		}
	case strings.Contains(joined, "format=duration"):
		fmt.Println("12.500000")
	case strings.Contains(joined, "-select_streams a"):
		if !has(input, "noaudio") {
			fmt.Println("1,aac,2,eng")
			fmt.Println("2,ac3,6")
		}
	default:
		fmt.Fprintln(os.Stderr, "unexpected ffprobe invocation:", joined)
		return 2
	}
	return 0
}

func fakeMux(args []string) int {
	if p := os.Getenv(LaunchLogEnv); p != "" {
		if f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			fmt.Fprintln(f, strings.Join(args, " "))
			f.Close()
		}
	}

	var input string
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-i" {
			input = args[i+1]
		}
	}
	if input == "" || len(args) < 2 {
		fmt.Println("missing input")
		return 1
	}
	output := args[len(args)-1]
	if has(input, "stubborn") {
		signal.Ignore(syscall.SIGTERM)
	}

	fmt.Printf("Input #0, matroska,webm, from '%s':\n", input)

	switch {
	case has(input, "fail"):
		_ = os.WriteFile(output, []byte("partial"), 0o644)
		fmt.Println(input + ": Invalid data found when processing input")
		return 1
	case has(input, "hang"), has(input, "stubborn"):
		_ = os.WriteFile(output, []byte("partial"), 0o644)
		for frame := 1; ; frame++ {
			fmt.Printf("frame=%d fps=30 time=00:00:01.00 speed=1.0x\r", frame)
			time.Sleep(10 * time.Millisecond)
		}
	case has(input, "slow"):
		for frame := 1; frame <= 30; frame++ {
			fmt.Printf("frame=%d fps=30 speed=1.0x\r", frame)
			time.Sleep(10 * time.Millisecond)
		}
	}

	if err := copyFile(input, output); err != nil {
		fmt.Println(err)
		return 1
	}
	fmt.Println("video:1kB audio:1kB muxing overhead: 0.1%")
	return 0
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
