// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LaunchError reports a helper that could not be started.
type LaunchError struct {
	Command string // Command is the executable that failed to start.
	Err     error  // Err retains the underlying cause.
}

// Error implements the error interface for LaunchError.
func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch helper %q: %v", e.Command, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As checks.
func (e *LaunchError) Unwrap() error {
	return e.Err
}

// launchSpec is everything needed to start one helper.
type launchSpec struct {
	command   string
	args      []string
	env       []string
	waitDelay time.Duration
	stderr    io.Writer
}

// process is the handle for one running helper. release must be called on
// every path once start succeeded; it kills the helper if still running,
// closes the pipes and reaps the child.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	cancel context.CancelFunc
	stop   func() bool

	waitOnce sync.Once
	waitErr  error
}

func start(ctx context.Context, spec launchSpec) (*process, error) {
	ctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx, spec.command, spec.args...)
	cmd.Env = spec.env
	cmd.Stderr = spec.stderr
	cmd.WaitDelay = spec.waitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, &LaunchError{Command: spec.command, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		cancel()
		return nil, &LaunchError{Command: spec.command, Err: err}
	}

	// Start closes the pipes it created when it fails.
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &LaunchError{Command: spec.command, Err: err}
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		cancel: cancel,
	}
	// A cancelled session must not stay blocked on stdout held open by
	// grandchildren of the helper.
	p.stop = context.AfterFunc(ctx, func() {
		_ = stdout.Close()
	})
	return p, nil
}

func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// wait reaps the helper. All reads from stdout must be complete first.
func (p *process) wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// exitCode is -1 while running or when the helper was killed by a signal.
func (p *process) exitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

func (p *process) release() {
	p.cancel()
	_ = p.wait()
	p.stop()
}

// stderrLogger turns helper stderr into debug log lines.
type stderrLogger struct {
	logger zerolog.Logger
	buf    []byte
}

const maxStderrLine = 4096

func newStderrLogger(logger zerolog.Logger) *stderrLogger {
	return &stderrLogger{logger: logger}
}

// Write is called from the single goroutine os/exec uses to copy stderr.
func (s *stderrLogger) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		s.emit(s.buf[:i])
		s.buf = s.buf[i+1:]
	}
	if len(s.buf) >= maxStderrLine {
		s.Flush()
	}
	return len(p), nil
}

// Flush logs any partial line. Only call it once the helper has been reaped.
func (s *stderrLogger) Flush() {
	if len(s.buf) > 0 {
		s.emit(s.buf)
		s.buf = nil
	}
}

func (s *stderrLogger) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	s.logger.Debug().Str("stream", "stderr").Bytes("line", line).Msg("helper output")
}
