package buildsys

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess isn't a real test. It's used as a stand-in build tool.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("VBUILD_WANT_HELPER_PROCESS") != "1" {
		return
	}

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}

	switch args[1] {
	case "echo":
		fmt.Println("hello from", os.Getenv("VARIANT"))
		fmt.Fprintf(os.Stderr, "warning from %s", os.Getenv("VARIANT"))
		os.Exit(0)
	case "exit":
		code, _ := strconv.Atoi(args[2])
		os.Exit(code)
	case "sleep":
		time.Sleep(30 * time.Second)
		os.Exit(0)
	}

	os.Exit(2)
}

func helperAction(args ...string) Action {
	return Action{
		Command: append([]string{os.Args[0], "-test.run=TestHelperProcess", "--"}, args...),
		Env:     map[string]string{"VBUILD_WANT_HELPER_PROCESS": "1"},
	}
}

func captureLogger(ctx context.Context) (context.Context, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(zerolog.SyncWriter(buf))
	return WithLogger(ctx, &logger), buf
}

func TestProcessExitCode(t *testing.T) {
	d := NewDispatcher(Options{Action: helperAction("exit", "3"), ProjectRoot: t.TempDir()})

	results, err := d.Dispatch(context.Background(), makeVariants("v1"), Sequential)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Failure, results[0].Status)
	assert.Equal(t, 3, results[0].ExitCode)
	assert.False(t, results[0].TimedOut)
}

func TestProcessOutputForwarding(t *testing.T) {
	ctx, buf := captureLogger(context.Background())
	logDir := t.TempDir()
	d := NewDispatcher(Options{Action: helperAction("echo"), ProjectRoot: t.TempDir(), LogDir: logDir})

	results, err := d.Dispatch(ctx, makeVariants("1.21.1"), Sequential)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Success, results[0].Status)

	output := buf.String()
	assert.Contains(t, output, `"message":"hello from 1.21.1"`)
	assert.Contains(t, output, `"stream":"stdout"`)
	assert.Contains(t, output, `"message":"warning from 1.21.1"`)
	assert.Contains(t, output, `"stream":"stderr"`)
	assert.Contains(t, output, `"variant":"1.21.1"`)

	logContent, err := os.ReadFile(logDir + "/1.21.1.log")
	require.NoError(t, err)
	assert.Contains(t, string(logContent), "hello from 1.21.1")
}

func TestProcessTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("interrupts aren't supported on Windows")
	}

	action := helperAction("sleep")
	action.Timeout = 200 * time.Millisecond
	action.Grace = time.Second
	d := NewDispatcher(Options{Action: action, ProjectRoot: t.TempDir()})

	start := time.Now()
	results, err := d.Dispatch(context.Background(), makeVariants("v1"), Sequential)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Less(t, time.Since(start), 10*time.Second)

	assert.Equal(t, Failure, results[0].Status)
	assert.True(t, results[0].TimedOut)
	assert.Equal(t, -1, results[0].ExitCode)

	var failure *BuildFailure
	require.True(t, errors.As(results[0].Err, &failure))
	assert.True(t, failure.TimedOut)
	assert.Contains(t, failure.Error(), "timed out")
}

func TestProcessLaunchFailure(t *testing.T) {
	d := NewDispatcher(Options{
		Action:      Action{Command: []string{"/nonexistent/vbuild-missing-tool"}},
		ProjectRoot: t.TempDir(),
	})

	results, err := d.Dispatch(context.Background(), makeVariants("v1", "v2"), Parallel)
	require.Error(t, err)
	assert.Equal(t, ExitLaunch, ExitCode(err))
	require.Len(t, results, 2)
}
