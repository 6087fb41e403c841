package runner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fivecut/internal/runner"
	"fivecut/internal/services"
)

type recordingSink struct {
	mu    sync.Mutex
	lines []string
	pid   int
}

func (s *recordingSink) AppendLines(_ context.Context, lines ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, lines...)
	return nil
}

func (s *recordingSink) SetChildPID(_ context.Context, pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pid = pid
	return nil
}

func (s *recordingSink) snapshot() ([]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...), s.pid
}

type abortAfter struct {
	mu    sync.Mutex
	polls int
	after int
}

func (o *abortAfter) ShouldAbort(context.Context) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.polls++
	return o.polls > o.after, nil
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	sink := &recordingSink{}
	r := runner.New(nil)

	code, err := r.Run(context.Background(), runner.Command{
		Binary: "/bin/sh",
		Args:   []string{"-c", "echo out-line; echo err-line >&2; exit 3"},
	}, nil, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 3 {
		t.Fatalf("expected exit code 3, got %d", code)
	}

	lines, pid := sink.snapshot()
	if pid <= 0 {
		t.Fatalf("expected recorded pid, got %d", pid)
	}
	if len(lines) != 2 {
		t.Fatalf("expected stdout and stderr captured, got %v", lines)
	}
	seen := map[string]bool{}
	for _, line := range lines {
		seen[line] = true
	}
	if !seen["out-line"] || !seen["err-line"] {
		t.Fatalf("missing expected lines in %v", lines)
	}
}

func TestRunReturnsAtChildExitDespiteBackgroundHolder(t *testing.T) {
	sink := &recordingSink{}
	r := runner.New(nil)

	// The backgrounded sleep inherits the output pipe's write end and
	// outlives the shell; the runner must still return at the shell's exit.
	start := time.Now()
	code, err := r.Run(context.Background(), runner.Command{
		Binary: "/bin/sh",
		Args:   []string{"-c", "sleep 6 & echo parent-done; exit 0"},
	}, nil, sink)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("return was held by the background process: %v", elapsed)
	}

	lines, _ := sink.snapshot()
	seen := false
	for _, line := range lines {
		if line == "parent-done" {
			seen = true
		}
	}
	if !seen {
		t.Fatalf("expected output flushed before return, got %v", lines)
	}
}

func TestRunAbortKillsProcessGroup(t *testing.T) {
	sink := &recordingSink{}
	r := runner.New(nil)

	start := time.Now()
	code, err := r.Run(context.Background(), runner.Command{
		Binary: "/bin/sh",
		Args:   []string{"-c", "sleep 60"},
	}, &abortAfter{after: 1}, sink)
	elapsed := time.Since(start)

	if code != runner.KilledExitCode {
		t.Fatalf("expected kill sentinel %d, got %d", runner.KilledExitCode, code)
	}
	if !errors.Is(err, services.ErrCanceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if elapsed > 20*time.Second {
		t.Fatalf("abort took too long: %v", elapsed)
	}
}

func TestRunAbortKillsSignalIgnoringProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the SIGTERM grace period")
	}
	sink := &recordingSink{}
	r := runner.New(nil)

	start := time.Now()
	code, err := r.Run(context.Background(), runner.Command{
		Binary: "/bin/sh",
		Args:   []string{"-c", `trap "" TERM; while true; do sleep 1; done`},
	}, &abortAfter{after: 1}, sink)
	elapsed := time.Since(start)

	if code != runner.KilledExitCode {
		t.Fatalf("expected kill sentinel %d, got %d", runner.KilledExitCode, code)
	}
	if !errors.Is(err, services.ErrCanceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	// SIGTERM is ignored, so the runner must escalate to SIGKILL after the
	// grace period rather than waiting for the child.
	if elapsed > 30*time.Second {
		t.Fatalf("escalation took too long: %v", elapsed)
	}
}

func TestRunContextTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r := runner.New(nil)
	code, err := r.Run(ctx, runner.Command{
		Binary: "/bin/sh",
		Args:   []string{"-c", "sleep 60"},
	}, nil, &recordingSink{})

	if code != runner.KilledExitCode {
		t.Fatalf("expected kill sentinel, got %d", code)
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestRunMissingBinary(t *testing.T) {
	r := runner.New(nil)
	if _, err := r.Run(context.Background(), runner.Command{Binary: "/nonexistent/tool"}, nil, nil); err == nil {
		t.Fatal("expected start failure for missing binary")
	}
}
