package buildsys

import (
	"fmt"
	"strings"
	"time"

	"github.com/CyberDay1/the-expanse/pkg/registry"
)

// Mode selects how variants are dispatched.
type Mode int

const (
	// Sequential builds one variant after the other and stops at the first failure
	// unless ContinueOnFailure is set.
	Sequential Mode = iota
	// Parallel builds variants concurrently through a bounded worker pool.
	Parallel
)

func (m Mode) String() string {
	switch m {
	case Sequential:
		return "sequential"
	case Parallel:
		return "parallel"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts "sequential" or "parallel" into a Mode.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(value) {
	case "", "sequential", "serial":
		return Sequential, nil
	case "parallel":
		return Parallel, nil
	default:
		return Sequential, &registry.ConfigurationError{Msg: fmt.Sprintf("unknown dispatch mode %q (must be sequential or parallel)", value)}
	}
}

// ExitStatus is the outcome of a single dispatch.
type ExitStatus int

const (
	Success ExitStatus = iota
	Failure
	// Skipped marks variants that were up to date or never started because the
	// run was aborted.
	Skipped
)

func (s ExitStatus) String() string {
	switch s {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// BuildResult is the outcome of dispatching one variant.
type BuildResult struct {
	Variant  *registry.Variant
	Status   ExitStatus
	ExitCode int
	TimedOut bool
	// Artifacts lists the produced files, filled in once they've been collected.
	Artifacts []string
	Duration  time.Duration
	// Err is a *BuildFailure or *ProcessLaunchError for failed results.
	Err error
}

// Failed returns true if the build ran (or tried to run) and didn't succeed.
func (r *BuildResult) Failed() bool {
	return r != nil && r.Status == Failure
}

func (r *BuildResult) String() string {
	if r.Status == Failure {
		return fmt.Sprintf("%s: %s (code %d)", r.Variant.Name(), r.Status, r.ExitCode)
	}

	return fmt.Sprintf("%s: %s", r.Variant.Name(), r.Status)
}

// FailedCount counts the failed results.
func FailedCount(results []*BuildResult) int {
	count := 0
	for _, r := range results {
		if r.Failed() {
			count++
		}
	}

	return count
}

// AnyFailed returns true if at least one variant failed.
func AnyFailed(results []*BuildResult) bool {
	return FailedCount(results) > 0
}
