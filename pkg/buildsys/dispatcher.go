package buildsys

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/CyberDay1/the-expanse/pkg/registry"
)

// Options configures a Dispatcher.
type Options struct {
	Action      Action
	ProjectRoot string
	// Jobs bounds the parallel worker pool; zero means runtime.NumCPU().
	Jobs              int
	ContinueOnFailure bool
	// Runner defaults to ProcessRunner.
	Runner Runner
	// SkipCheck reports whether a variant is up to date and doesn't need a build.
	SkipCheck func(ctx context.Context, v *registry.Variant) (bool, error)
	// LogDir receives one <variant>.log file per build when set.
	LogDir string
	// OnResult is called once per finished variant. Calls are serialized.
	OnResult func(*BuildResult)
}

// Dispatcher runs the build action for a set of variants.
type Dispatcher struct {
	opts       Options
	notifyLock sync.Mutex
}

func NewDispatcher(opts Options) *Dispatcher {
	if opts.Runner == nil {
		opts.Runner = ProcessRunner{}
	}

	return &Dispatcher{opts: opts}
}

// Jobs returns the effective worker count for n variants.
func (d *Dispatcher) Jobs(n int) int {
	jobs := d.opts.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	if n < jobs {
		jobs = n
	}
	if jobs < 1 {
		jobs = 1
	}

	return jobs
}

// Dispatch builds the given variants.
//
// The returned error is only set for fatal problems (a build that couldn't be launched or
// an invalid build command); failed builds are reported through the results. Build commands
// are resolved for every variant before the first build starts.
// Sequential mode returns results for the attempted variants only, parallel mode returns
// one result per variant in input order.
func (d *Dispatcher) Dispatch(ctx context.Context, variants []*registry.Variant, mode Mode) ([]*BuildResult, error) {
	Log(ctx).Info().
		Str("mode", mode.String()).
		Int("variants", len(variants)).
		Msg("Dispatching builds")

	commands, err := ResolveCommands(d.opts.Action, d.opts.ProjectRoot, variants)
	if err != nil {
		return nil, err
	}

	switch mode {
	case Sequential:
		return d.dispatchSequential(ctx, variants, commands)
	case Parallel:
		return d.dispatchParallel(ctx, variants, commands)
	default:
		return nil, eris.Errorf("unsupported dispatch mode %s", mode)
	}
}

// ResolveCommands expands the action for every variant. The first invalid command is
// returned as a *registry.ConfigurationError.
func ResolveCommands(action Action, projectRoot string, variants []*registry.Variant) ([]Command, error) {
	commands := make([]Command, len(variants))
	for idx, v := range variants {
		cmd, err := action.Resolve(v, projectRoot)
		if err != nil {
			return nil, err
		}
		commands[idx] = cmd
	}

	return commands, nil
}

func (d *Dispatcher) dispatchSequential(ctx context.Context, variants []*registry.Variant, commands []Command) ([]*BuildResult, error) {
	results := make([]*BuildResult, 0, len(variants))
	for idx, v := range variants {
		result, err := d.build(ctx, v, commands[idx])
		if result != nil {
			results = append(results, result)
			d.notify(result)
		}
		if err != nil {
			return results, err
		}

		if result.Failed() && !d.opts.ContinueOnFailure {
			Log(ctx).Error().Str("variant", v.Name()).Msg("Stopping after failed build")
			break
		}
	}

	return results, nil
}

func (d *Dispatcher) dispatchParallel(ctx context.Context, variants []*registry.Variant, commands []Command) ([]*BuildResult, error) {
	results := make([]*BuildResult, len(variants))
	if len(variants) == 0 {
		return results, nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(d.Jobs(len(variants)))

	for idx, v := range variants {
		idx, v := idx, v
		eg.Go(func() error {
			result, err := d.build(egCtx, v, commands[idx])
			if result != nil {
				// every worker owns its own slot
				results[idx] = result
				d.notify(result)
			}
			return err
		})
	}

	err := eg.Wait()
	for idx, result := range results {
		if result == nil {
			results[idx] = &BuildResult{Variant: variants[idx], Status: Skipped}
		}
	}

	return results, err
}

func (d *Dispatcher) notify(result *BuildResult) {
	if d.opts.OnResult == nil {
		return
	}

	d.notifyLock.Lock()
	defer d.notifyLock.Unlock()
	d.opts.OnResult(result)
}

func (d *Dispatcher) build(ctx context.Context, v *registry.Variant, cmd Command) (*BuildResult, error) {
	logger := Log(ctx).With().Str("variant", v.Name()).Logger()
	ctx = WithLogger(ctx, &logger)

	if ctx.Err() != nil {
		logger.Debug().Msg("Skipping build, run was aborted")
		return &BuildResult{Variant: v, Status: Skipped}, nil
	}

	if d.opts.SkipCheck != nil {
		upToDate, err := d.opts.SkipCheck(ctx, v)
		if err != nil {
			logger.Warn().Err(err).Msg("Up-to-date check failed, building anyway")
		} else if upToDate {
			logger.Info().Msg("Up to date, skipping")
			return &BuildResult{Variant: v, Status: Skipped}, nil
		}
	}

	stdout := newLineLogger(ctx, v.Name(), "stdout", zerolog.InfoLevel)
	stderr := newLineLogger(ctx, v.Name(), "stderr", zerolog.WarnLevel)
	var outWriter, errWriter io.Writer = stdout, stderr

	if d.opts.LogDir != "" {
		logFile, err := d.openLogFile(v)
		if err != nil {
			return nil, err
		}
		defer logFile.Close()

		outWriter = io.MultiWriter(stdout, logFile)
		errWriter = io.MultiWriter(stderr, logFile)
	}

	logger.Info().Str("command", cmd.String()).Msg("Building")

	start := time.Now()
	proc, err := d.opts.Runner.Run(ctx, cmd, outWriter, errWriter)
	stdout.Flush()
	stderr.Flush()

	if err != nil {
		launchErr := &ProcessLaunchError{Variant: v.Name(), Program: cmd.Program, Err: err}
		logger.Error().Err(launchErr).Msg("Failed to start build")
		return &BuildResult{
			Variant:  v,
			Status:   Failure,
			ExitCode: -1,
			Duration: time.Since(start),
			Err:      launchErr,
		}, launchErr
	}

	result := &BuildResult{
		Variant:  v,
		Status:   Success,
		ExitCode: proc.ExitCode,
		TimedOut: proc.TimedOut,
		Duration: proc.Duration,
	}

	if proc.TimedOut {
		result.ExitCode = -1
	}

	if result.ExitCode != 0 {
		result.Status = Failure
		result.Err = &BuildFailure{Variant: v.Name(), Code: result.ExitCode, TimedOut: result.TimedOut}
		logger.Error().Err(result.Err).Dur("duration", result.Duration).Msg("Build failed")
	} else {
		logger.Info().Dur("duration", result.Duration).Msg("Build finished")
	}

	return result, nil
}

func (d *Dispatcher) openLogFile(v *registry.Variant) (*os.File, error) {
	err := os.MkdirAll(d.opts.LogDir, 0o770)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create log directory %s", d.opts.LogDir)
	}

	logPath := filepath.Join(d.opts.LogDir, v.Name()+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open build log %s", logPath)
	}

	return logFile, nil
}
