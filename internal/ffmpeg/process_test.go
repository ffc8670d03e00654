package ffmpeg

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gwlsn/remuxer/internal/fftest"
	"github.com/gwlsn/remuxer/internal/media"
)

func launch(t *testing.T, name string) (*Process, MuxCommand) {
	t.Helper()
	ffmpeg, _ := fftest.Install(t)
	dir := t.TempDir()
	input := touch(t, dir, name)
	mc, _ := BuildMuxCommand(ffmpeg, input, media.Descriptor{Path: input, Valid: true}, MuxOptions{OutputFormat: ".mp4"})

	p, err := NewMuxer(ffmpeg).Launch(mc)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	return p, mc
}

func waitDone(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestProcessSuccess(t *testing.T) {
	p, mc := launch(t, "movie.mkv")

	var lines []string
	for line := range p.Lines() {
		lines = append(lines, line)
	}
	waitDone(t, p)

	if err := p.Result(mc.Input); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if p.ExitCode() != 0 {
		t.Errorf("expected exit 0, got %d", p.ExitCode())
	}
	if len(lines) == 0 {
		t.Error("expected merged output lines")
	}
	if _, err := os.Stat(mc.Output); err != nil {
		t.Errorf("expected output file: %v", err)
	}
}

func TestProcessFailure(t *testing.T) {
	p, mc := launch(t, "fail.mkv")
	for range p.Lines() {
	}
	waitDone(t, p)

	err := p.Result(mc.Input)
	var merr *MuxError
	if !errors.As(err, &merr) {
		t.Fatalf("expected *MuxError, got %v", err)
	}
	if merr.ExitCode != 1 {
		t.Errorf("expected exit 1, got %d", merr.ExitCode)
	}
	if len(merr.Tail) == 0 || !strings.Contains(strings.Join(merr.Tail, "\n"), "Invalid data") {
		t.Errorf("expected stderr tail, got %v", merr.Tail)
	}
}

func TestProcessKill(t *testing.T) {
	p, _ := launch(t, "hang.mkv")

	// wait for some output so the child is definitely running
	select {
	case <-p.Lines():
	case <-time.After(10 * time.Second):
		t.Fatal("no output from hanging process")
	}

	if err := p.Kill(); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	waitDone(t, p)
	if p.ExitCode() == 0 {
		t.Error("killed process should not report exit 0")
	}
	// a second kill is a no-op
	if err := p.Kill(); err != nil {
		t.Errorf("second Kill returned %v", err)
	}
}

func TestProcessTerminateGraceful(t *testing.T) {
	p, _ := launch(t, "hang.mkv")
	<-p.Lines()

	start := time.Now()
	if err := p.Terminate(5 * time.Second); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("SIGTERM should stop the process quickly, took %v", elapsed)
	}
}

func TestProcessTerminateEscalatesToKill(t *testing.T) {
	p, _ := launch(t, "stubborn.mkv")
	<-p.Lines()

	start := time.Now()
	if err := p.Terminate(200 * time.Millisecond); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("expected to wait out the grace period, took %v", elapsed)
	}
	if !p.Exited() {
		t.Error("process should have exited")
	}
}

func TestScanLinesWithCR(t *testing.T) {
	input := "frame=1\rframe=2\r\nerror line\n\nlast"
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(scanLinesWithCR)

	var got []string
	for scanner.Scan() {
		got = append(got, scanner.Text())
	}
	expected := []string{"frame=1", "frame=2", "error line", "last"}
	if strings.Join(got, "|") != strings.Join(expected, "|") {
		t.Errorf("expected %v, got %v", expected, got)
	}
}

func TestMuxRealFFmpeg(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mux test in short mode")
	}
	testFile := filepath.Join(getTestdataPath(), "test_x264.mkv")
	if _, err := os.Stat(testFile); os.IsNotExist(err) {
		t.Skipf("test file not found: %s", testFile)
	}

	outDir := t.TempDir()
	mc, _ := BuildMuxCommand("ffmpeg", testFile, media.Descriptor{Path: testFile, Valid: true},
		MuxOptions{IncludeAudio: true, OutputFormat: ".mp4", OutputDir: outDir})
	p, err := NewMuxer("ffmpeg").Launch(mc)
	if err != nil {
		t.Skipf("ffmpeg not available: %v", err)
	}
	for range p.Lines() {
	}
	if err := p.Result(mc.Input); err != nil {
		t.Fatalf("mux failed: %v", err)
	}
	info, err := os.Stat(mc.Output)
	if err != nil || info.Size() == 0 {
		t.Errorf("expected non-empty output, got %v", err)
	}
}
