package ffmpeg

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gwlsn/remuxer/internal/logger"
)

// tailLines is how much ffmpeg output is kept for error reports.
const tailLines = 20

// MuxError represents a mux process that exited non-zero.
type MuxError struct {
	Input    string
	ExitCode int
	Tail     []string // last lines of merged output
	Err      error
}

func (e *MuxError) Error() string {
	return fmt.Sprintf("ffmpeg failed on %s (exit %d): %v", e.Input, e.ExitCode, e.Err)
}

func (e *MuxError) Unwrap() error {
	return e.Err
}

// Muxer starts ffmpeg processes.
type Muxer struct {
	ffmpegPath string
}

// NewMuxer creates a new Muxer with the given ffmpeg path
func NewMuxer(ffmpegPath string) *Muxer {
	return &Muxer{ffmpegPath: ffmpegPath}
}

// Path returns the ffmpeg binary in use.
func (m *Muxer) Path() string {
	return m.ffmpegPath
}

// Launch starts mc. The process is not tied to a context: it runs until it
// exits or is terminated through the returned handle.
func (m *Muxer) Launch(mc MuxCommand) (*Process, error) {
	path := mc.Path
	if path == "" {
		path = m.ffmpegPath
	}
	logger.Debug("FFmpeg command", "args", strings.Join(mc.Args, " "))
	return StartCmd(exec.Command(path, mc.Args...))
}

// Process is a running command whose stdout and stderr are merged into one
// line stream.
type Process struct {
	cmd   *exec.Cmd
	lines chan string
	done  chan struct{}
	stop  chan struct{}

	stopOnce sync.Once

	mu       sync.Mutex
	tail     []string
	exitCode int
	waitErr  error
}

// StartCmd starts cmd with merged output. cmd must not have Stdout or Stderr set.
func StartCmd(cmd *exec.Cmd) (*Process, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	p := &Process{
		cmd:      cmd,
		lines:    make(chan string, 64),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
		exitCode: -1,
	}

	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		scanner.Split(scanLinesWithCR)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			p.remember(line)
			select {
			case p.lines <- line:
			case <-p.stop:
				// Nobody is listening any more; keep draining so the child
				// never blocks on a full pipe.
			}
		}

		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		if cmd.ProcessState != nil {
			p.exitCode = cmd.ProcessState.ExitCode()
		}
		p.mu.Unlock()

		close(p.lines)
		close(p.done)
	}()

	return p, nil
}

func (p *Process) remember(line string) {
	p.mu.Lock()
	p.tail = append(p.tail, line)
	if len(p.tail) > tailLines {
		p.tail = p.tail[len(p.tail)-tailLines:]
	}
	p.mu.Unlock()
}

// Lines delivers output lines. It is closed once the process has exited and
// all output was read.
func (p *Process) Lines() <-chan string {
	return p.lines
}

// Done is closed after the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Pid returns the operating system process id.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// ExitCode is valid after Done. -1 means the process was killed by a signal
// or never ran.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Err returns the error from Wait, nil on a clean exit. Valid after Done.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Tail returns the last lines of output.
func (p *Process) Tail() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tail...)
}

// Exited reports whether Done is closed.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Process) detach() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Kill stops the process immediately and waits for it to be reaped.
func (p *Process) Kill() error {
	p.detach()
	if p.Exited() {
		return nil
	}
	err := p.cmd.Process.Kill()
	<-p.done
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Terminate asks the process to exit with SIGTERM and kills it if it has not
// exited within grace. On platforms without SIGTERM it kills straight away.
func (p *Process) Terminate(grace time.Duration) error {
	p.detach()
	if p.Exited() {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Debug("SIGTERM not delivered, killing", "pid", p.Pid(), "error", err)
		return p.Kill()
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		logger.Warn("FFmpeg did not exit after SIGTERM, killing", "pid", p.Pid(), "grace", grace)
		return p.Kill()
	}
}

// Result converts the exit status into nil or a *MuxError.
func (p *Process) Result(input string) error {
	<-p.done
	err := p.Err()
	if err == nil {
		return nil
	}
	return &MuxError{Input: input, ExitCode: p.ExitCode(), Tail: p.Tail(), Err: err}
}

// scanLinesWithCR splits on \n and \r so ffmpeg's in-place progress
// updates arrive as separate lines.
func scanLinesWithCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i := 0; i < len(data); i++ {
		if data[i] == '\r' || data[i] == '\n' {
			advance = i + 1
			for advance < len(data) && (data[advance] == '\r' || data[advance] == '\n') {
				advance++
			}
			return advance, data[0:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
