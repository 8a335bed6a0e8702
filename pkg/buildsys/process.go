package buildsys

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"time"
)

// DefaultGrace is used when a command has a timeout but no grace period.
const DefaultGrace = 10 * time.Second

// ProcessResult holds the outcome of a process that was started successfully.
type ProcessResult struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Runner starts external processes.
//
// A returned error means the process could not be started (or waited for); a non-zero
// exit status is reported through ProcessResult.ExitCode with a nil error.
type Runner interface {
	Run(ctx context.Context, cmd Command, stdout, stderr io.Writer) (*ProcessResult, error)
}

// ProcessRunner runs commands with os/exec.
//
// When a command's timeout expires (or ctx is cancelled), the process receives an
// interrupt, gets Grace to exit on its own and is killed afterwards.
type ProcessRunner struct{}

var _ Runner = ProcessRunner{}

// Run implements the Runner interface
func (ProcessRunner) Run(ctx context.Context, c Command, stdout, stderr io.Writer) (*ProcessResult, error) {
	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Program, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = os.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	// graceful stop first, the kill happens once WaitDelay runs out
	cmd.Cancel = func() error {
		if runtime.GOOS == "windows" {
			return cmd.Process.Kill()
		}
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = c.Grace
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultGrace
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	err := cmd.Wait()
	result := &ProcessResult{
		Duration: time.Since(start),
		TimedOut: err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil,
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	case cmd.ProcessState != nil:
		// i.e. exec.ErrWaitDelay after the process already exited
		result.ExitCode = cmd.ProcessState.ExitCode()
	default:
		return nil, err
	}

	// a process that handled the stop signal may still exit cleanly; leftover pipes
	// (ErrWaitDelay) on a successful exit don't count as failure
	if result.ExitCode == 0 && err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		result.ExitCode = -1
	}

	return result, nil
}
