package buildsys

import (
	"errors"
	"fmt"

	"github.com/CyberDay1/the-expanse/pkg/registry"
)

// Process exit codes, one per failure class.
const (
	ExitOK            = 0
	ExitInternal      = 1
	ExitConfiguration = 2
	ExitLaunch        = 3
	ExitBuildFailure  = 4
	ExitCleanup       = 5
)

// ProcessLaunchError means the build action could not be started at all (missing
// program, bad working directory, ...). It is always fatal.
type ProcessLaunchError struct {
	Variant string
	Program string
	Err     error
}

var _ error = (*ProcessLaunchError)(nil)

func (e *ProcessLaunchError) Error() string {
	return fmt.Sprintf("failed to start %s for variant %s: %s", e.Program, e.Variant, e.Err)
}

func (e *ProcessLaunchError) Unwrap() error {
	return e.Err
}

// BuildFailure means the build action ran but returned a non-zero status.
type BuildFailure struct {
	Variant  string
	Code     int
	TimedOut bool
}

var _ error = (*BuildFailure)(nil)

func (e *BuildFailure) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("build of variant %s timed out (code %d)", e.Variant, e.Code)
	}

	return fmt.Sprintf("build of variant %s failed with code %d", e.Variant, e.Code)
}

// FailedBuildsError aggregates the failures of a run.
type FailedBuildsError struct {
	Failed []string
	Total  int
}

var _ error = (*FailedBuildsError)(nil)

func (e *FailedBuildsError) Error() string {
	return fmt.Sprintf("%d of %d variants failed: %v", len(e.Failed), e.Total, e.Failed)
}

// CleanupError is returned when deleting caches or outputs failed. It aborts the run
// before any build starts.
type CleanupError struct {
	Path string
	Err  error
}

var _ error = (*CleanupError)(nil)

func (e *CleanupError) Error() string {
	return fmt.Sprintf("failed to clean %s: %s", e.Path, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// ResultsError returns a *FailedBuildsError if any result failed.
func ResultsError(results []*BuildResult) error {
	if !AnyFailed(results) {
		return nil
	}

	failed := make([]string, 0)
	for _, r := range results {
		if r.Failed() {
			failed = append(failed, r.Variant.Name())
		}
	}

	return &FailedBuildsError{Failed: failed, Total: len(results)}
}

// ExitCode maps an error to the process exit code for its failure class.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		cfgErr     *registry.ConfigurationError
		unknownErr *registry.UnknownVariantError
		launchErr  *ProcessLaunchError
		buildErr   *BuildFailure
		failedErr  *FailedBuildsError
		cleanErr   *CleanupError
	)

	switch {
	case errors.As(err, &cfgErr), errors.As(err, &unknownErr):
		return ExitConfiguration
	case errors.As(err, &launchErr):
		return ExitLaunch
	case errors.As(err, &buildErr), errors.As(err, &failedErr):
		return ExitBuildFailure
	case errors.As(err, &cleanErr):
		return ExitCleanup
	default:
		return ExitInternal
	}
}
