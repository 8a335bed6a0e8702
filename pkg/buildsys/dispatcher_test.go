package buildsys

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CyberDay1/the-expanse/pkg/registry"
)

type mockRunner struct {
	codes    map[string]int
	launch   map[string]error
	delay    time.Duration
	lock     sync.Mutex
	invoked  []string
	running  atomic.Int32
	maxSeen  atomic.Int32
	commands []Command
}

func (m *mockRunner) Run(ctx context.Context, cmd Command, stdout, stderr io.Writer) (*ProcessResult, error) {
	name := cmd.Env["VARIANT"]

	m.lock.Lock()
	m.invoked = append(m.invoked, name)
	m.commands = append(m.commands, cmd)
	m.lock.Unlock()

	if err, ok := m.launch[name]; ok {
		return nil, err
	}

	current := m.running.Add(1)
	defer m.running.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if current <= seen || m.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}

	fmt.Fprintf(stdout, "building %s\n", name)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return &ProcessResult{ExitCode: -1}, nil
		}
	}

	return &ProcessResult{ExitCode: m.codes[name], Duration: m.delay}, nil
}

func (m *mockRunner) invokedNames() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]string{}, m.invoked...)
}

func makeVariants(names ...string) []*registry.Variant {
	variants := make([]*registry.Variant, len(names))
	for idx, name := range names {
		variants[idx] = registry.NewVariant(registry.VariantSpec{
			Name:   name,
			Config: map[string]string{"MC_VERSION": name},
		})
	}

	return variants
}

func resultNames(results []*BuildResult) []string {
	names := make([]string, len(results))
	for idx, r := range results {
		names[idx] = r.Variant.Name()
	}
	return names
}

var echoAction = Action{Command: []string{"build", "$VARIANT"}}

func TestParallelKeepsInputOrderAndCountsFailures(t *testing.T) {
	names := []string{"v1", "v2", "v3", "v4", "v5", "v6"}
	runner := &mockRunner{
		codes: map[string]int{"v2": 1, "v5": 2},
		delay: 10 * time.Millisecond,
	}
	d := NewDispatcher(Options{Action: echoAction, Runner: runner, Jobs: 3})

	results, err := d.Dispatch(context.Background(), makeVariants(names...), Parallel)
	require.NoError(t, err)
	require.Len(t, results, 6)
	assert.Equal(t, names, resultNames(results))

	assert.Equal(t, 2, FailedCount(results))
	assert.Equal(t, Failure, results[1].Status)
	assert.Equal(t, 1, results[1].ExitCode)
	assert.Equal(t, Failure, results[4].Status)
	assert.Equal(t, 2, results[4].ExitCode)
	assert.Equal(t, Success, results[0].Status)

	var failure *BuildFailure
	require.True(t, errors.As(results[4].Err, &failure))
	assert.Equal(t, "v5", failure.Variant)

	runErr := ResultsError(results)
	require.Error(t, runErr)
	assert.Equal(t, ExitBuildFailure, ExitCode(runErr))
}

func TestParallelRespectsJobLimit(t *testing.T) {
	runner := &mockRunner{delay: 20 * time.Millisecond}
	d := NewDispatcher(Options{Action: echoAction, Runner: runner, Jobs: 2})

	results, err := d.Dispatch(context.Background(), makeVariants("a", "b", "c", "d", "e", "f"), Parallel)
	require.NoError(t, err)
	assert.Len(t, results, 6)
	assert.LessOrEqual(t, runner.maxSeen.Load(), int32(2))
	assert.Len(t, runner.invokedNames(), 6)
}

func TestSequentialStopsAtFirstFailure(t *testing.T) {
	runner := &mockRunner{codes: map[string]int{"v2": 1}}
	d := NewDispatcher(Options{Action: echoAction, Runner: runner})

	results, err := d.Dispatch(context.Background(), makeVariants("v1", "v2", "v3", "v4"), Sequential)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, Success, results[0].Status)
	assert.Equal(t, Failure, results[1].Status)
	assert.Equal(t, []string{"v1", "v2"}, runner.invokedNames())
	assert.Equal(t, ExitBuildFailure, ExitCode(ResultsError(results)))
}

func TestSequentialContinueOnFailure(t *testing.T) {
	runner := &mockRunner{codes: map[string]int{"v2": 1}}
	d := NewDispatcher(Options{Action: echoAction, Runner: runner, ContinueOnFailure: true})

	results, err := d.Dispatch(context.Background(), makeVariants("v1", "v2", "v3", "v4"), Sequential)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, 1, FailedCount(results))
	assert.Equal(t, []string{"v1", "v2", "v3", "v4"}, runner.invokedNames())
}

func TestLaunchErrorIsFatal(t *testing.T) {
	launchErr := errors.New("executable file not found")

	t.Run("sequential", func(t *testing.T) {
		runner := &mockRunner{launch: map[string]error{"v2": launchErr}}
		d := NewDispatcher(Options{Action: echoAction, Runner: runner, ContinueOnFailure: true})

		results, err := d.Dispatch(context.Background(), makeVariants("v1", "v2", "v3"), Sequential)
		require.Error(t, err)
		assert.Equal(t, ExitLaunch, ExitCode(err))
		assert.ErrorIs(t, err, launchErr)
		assert.Len(t, results, 2)
		assert.Equal(t, []string{"v1", "v2"}, runner.invokedNames())
	})

	t.Run("parallel", func(t *testing.T) {
		runner := &mockRunner{
			launch: map[string]error{"v1": launchErr},
			delay:  time.Second,
		}
		d := NewDispatcher(Options{Action: echoAction, Runner: runner, Jobs: 4})

		start := time.Now()
		results, err := d.Dispatch(context.Background(), makeVariants("v1", "v2", "v3"), Parallel)
		require.Error(t, err)

		var launch *ProcessLaunchError
		require.True(t, errors.As(err, &launch))
		assert.Equal(t, "v1", launch.Variant)
		require.Len(t, results, 3)
		assert.Equal(t, Failure, results[0].Status)
		// siblings were cancelled instead of running to completion
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestCancelledContextSkipsVariants(t *testing.T) {
	runner := &mockRunner{}
	d := NewDispatcher(Options{Action: echoAction, Runner: runner})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := d.Dispatch(ctx, makeVariants("v1", "v2"), Sequential)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, Skipped, r.Status)
	}
	assert.Empty(t, runner.invokedNames())
}

func TestSkipCheck(t *testing.T) {
	runner := &mockRunner{}
	d := NewDispatcher(Options{
		Action: echoAction,
		Runner: runner,
		SkipCheck: func(ctx context.Context, v *registry.Variant) (bool, error) {
			return v.Name() == "v1", nil
		},
	})

	results, err := d.Dispatch(context.Background(), makeVariants("v1", "v2"), Sequential)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, Skipped, results[0].Status)
	assert.Equal(t, Success, results[1].Status)
	assert.Equal(t, []string{"v2"}, runner.invokedNames())
}

func TestInvalidCommandIsConfigurationError(t *testing.T) {
	runner := &mockRunner{}
	d := NewDispatcher(Options{Action: Action{Command: []string{"build", "$NOT_SET_ANYWHERE"}}, Runner: runner})

	_, err := d.Dispatch(context.Background(), makeVariants("v1"), Sequential)
	require.Error(t, err)
	assert.Equal(t, ExitConfiguration, ExitCode(err))
	assert.Empty(t, runner.invokedNames())
}

func TestOnResultAndExpandedCommand(t *testing.T) {
	runner := &mockRunner{}
	seen := []string{}
	d := NewDispatcher(Options{
		Action:      Action{Command: []string{"gradle", "-p", "$PROJECT_ROOT/versions/$VARIANT", "-Pmc=${MC_VERSION}"}},
		ProjectRoot: "/work",
		Runner:      runner,
		OnResult: func(r *BuildResult) {
			seen = append(seen, r.Variant.Name())
		},
	})

	_, err := d.Dispatch(context.Background(), makeVariants("1.21.1", "1.20.4"), Parallel)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1.21.1", "1.20.4"}, seen)

	require.Len(t, runner.commands, 2)
	for _, cmd := range runner.commands {
		name := cmd.Env["VARIANT"]
		assert.Equal(t, "gradle", cmd.Program)
		assert.Equal(t, []string{"-p", "/work/versions/" + name, "-Pmc=" + name}, cmd.Args)
	}
}

func TestJobs(t *testing.T) {
	d := NewDispatcher(Options{Jobs: 4})
	assert.Equal(t, 2, d.Jobs(2))
	assert.Equal(t, 4, d.Jobs(10))
	assert.Equal(t, 1, d.Jobs(0))
}

func TestConfigurationErrorBeforeAnyBuild(t *testing.T) {
	variants := []*registry.Variant{
		registry.NewVariant(registry.VariantSpec{Name: "a", Config: map[string]string{"NEO": "21.1"}}),
		registry.NewVariant(registry.VariantSpec{Name: "b", Config: map[string]string{"NEO": "21.3"}}),
		registry.NewVariant(registry.VariantSpec{Name: "c", Config: map[string]string{"MC_VERSION": "1.20.1"}}),
	}

	for _, mode := range []Mode{Sequential, Parallel} {
		t.Run(mode.String(), func(t *testing.T) {
			runner := &mockRunner{}
			d := NewDispatcher(Options{Action: Action{Command: []string{"build", "$NEO"}}, Runner: runner})

			results, err := d.Dispatch(context.Background(), variants, mode)
			require.Error(t, err)
			assert.Equal(t, ExitConfiguration, ExitCode(err))
			assert.Contains(t, err.Error(), "variant c")
			assert.Empty(t, results)
			assert.Empty(t, runner.invokedNames())
		})
	}
}
