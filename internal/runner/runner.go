// Package runner executes external pipeline tools in their own process
// groups so a cancellation or timeout can tear down the whole tree,
// including children spawned by wrapper scripts.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"fivecut/internal/logging"
	"fivecut/internal/services"
)

// KilledExitCode is the sentinel exit code reported when the runner kills
// the process group instead of letting it exit on its own.
const KilledExitCode = -9

const (
	pollInterval = 500 * time.Millisecond
	termGrace    = 8 * time.Second
	readerGrace  = 500 * time.Millisecond
)

// Observer reports whether the current job should stop. It is polled while
// the child runs.
type Observer interface {
	ShouldAbort(ctx context.Context) (bool, error)
}

// Sink receives interleaved stdout and stderr lines and the child's pid.
type Sink interface {
	AppendLines(ctx context.Context, lines ...string) error
	SetChildPID(ctx context.Context, pid int) error
}

// Command describes one external tool invocation.
type Command struct {
	Binary string
	Args   []string
	Dir    string
	Env    []string
}

// Runner starts commands in dedicated process groups and supervises them.
type Runner struct {
	logger *slog.Logger
}

// New constructs a runner. A nil logger disables logging.
func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{logger: logger}
}

// Run starts the command and supervises it until exit, cancellation, or
// context expiry. Output lines are flushed to the sink on every poll tick.
// A cooperative abort kills the process group and returns KilledExitCode
// with a cancellation error; a normal exit returns the child's exit code
// with a nil error, even when the code is nonzero.
func (r *Runner) Run(ctx context.Context, cmd Command, obs Observer, sink Sink) (int, error) {
	if cmd.Binary == "" {
		return 0, errors.New("binary required")
	}

	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("create output pipe: %w", err)
	}

	child := exec.Command(cmd.Binary, cmd.Args...)
	child.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		child.Env = append(os.Environ(), cmd.Env...)
	}
	child.Stdout = writeEnd
	child.Stderr = writeEnd
	child.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := child.Start(); err != nil {
		readEnd.Close()
		writeEnd.Close()
		return 0, services.Wrap(services.ErrExternalTool, "", "start", fmt.Sprintf("start %s", cmd.Binary), err)
	}
	// The child holds its own copy of the write end; closing ours lets the
	// reader observe EOF once every process in the group is gone.
	writeEnd.Close()

	pid := child.Process.Pid
	if sink != nil {
		if err := sink.SetChildPID(ctx, pid); err != nil {
			r.logger.Warn("record child pid", logging.Error(err), logging.Int("pid", pid))
		}
	}
	r.logger.Debug("tool started", logging.String("binary", cmd.Binary), logging.Int("pid", pid))

	collector := newLineCollector()
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer readEnd.Close()
		scanner := bufio.NewScanner(readEnd)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			collector.add(scanner.Text())
		}
	}()

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- child.Wait()
	}()

	flush := func() {
		if sink == nil {
			return
		}
		lines := collector.drain()
		if len(lines) == 0 {
			return
		}
		if err := sink.AppendLines(context.WithoutCancel(ctx), lines...); err != nil {
			r.logger.Warn("flush tool output", logging.Error(err))
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case waitErr := <-waitCh:
			r.awaitReader(readerDone, readEnd)
			flush()
			code := exitCode(child, waitErr)
			r.logger.Debug("tool exited", logging.String("binary", cmd.Binary), logging.Int("code", code))
			return code, nil
		case <-ctx.Done():
			r.terminateGroup(pid, waitCh)
			r.awaitReader(readerDone, readEnd)
			flush()
			return KilledExitCode, services.Wrap(services.ErrExternalTool, "", "run", fmt.Sprintf("%s timed out", cmd.Binary), ctx.Err())
		case <-ticker.C:
			flush()
			if obs == nil {
				continue
			}
			abort, err := obs.ShouldAbort(ctx)
			if err != nil {
				r.logger.Warn("poll abort flag", logging.Error(err))
				continue
			}
			if abort {
				r.logger.Info("abort requested, stopping tool", logging.String("binary", cmd.Binary), logging.Int("pid", pid))
				r.terminateGroup(pid, waitCh)
				r.awaitReader(readerDone, readEnd)
				flush()
				return KilledExitCode, services.Wrap(services.ErrCanceled, "", "run", fmt.Sprintf("%s canceled", cmd.Binary), nil)
			}
		}
	}
}

// awaitReader waits briefly for the output reader to reach EOF. The pipe's
// write end can outlive the direct child when a wrapper script leaves a
// background process holding it, so after the grace period the read end is
// closed to detach the scanner instead of waiting out that process.
func (r *Runner) awaitReader(readerDone <-chan struct{}, readEnd *os.File) {
	select {
	case <-readerDone:
		return
	case <-time.After(readerGrace):
	}
	_ = readEnd.Close()
	<-readerDone
}

// terminateGroup sends SIGTERM to the process group, waits out the grace
// period, then escalates to SIGKILL.
func (r *Runner) terminateGroup(pid int, waitCh <-chan error) {
	_ = unix.Kill(-pid, unix.SIGTERM)

	deadline := time.NewTimer(termGrace)
	defer deadline.Stop()
	select {
	case <-waitCh:
		return
	case <-deadline.C:
	}

	_ = unix.Kill(-pid, unix.SIGKILL)
	<-waitCh
}

func exitCode(child *exec.Cmd, waitErr error) int {
	if child.ProcessState != nil {
		code := child.ProcessState.ExitCode()
		if code >= 0 {
			return code
		}
		// Signaled exits have no code; report the kill sentinel.
		return KilledExitCode
	}
	if waitErr != nil {
		return KilledExitCode
	}
	return 0
}

type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func newLineCollector() *lineCollector {
	return &lineCollector{}
}

func (c *lineCollector) add(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

func (c *lineCollector) drain() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lines) == 0 {
		return nil
	}
	out := c.lines
	c.lines = nil
	return out
}
