package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CyberDay1/the-expanse/pkg/buildsys"
)

// TestHelperProcess isn't a real test. It's the build tool of the end-to-end tests.
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
	case "jar":
		libs := filepath.Join(os.Getenv("VARIANT_DIR"), "build", "libs")
		if err := os.MkdirAll(libs, 0o755); err != nil {
			os.Exit(10)
		}
		if err := os.WriteFile(filepath.Join(libs, "output.jar"), []byte(os.Getenv("VARIANT")), 0o644); err != nil {
			os.Exit(11)
		}
		fmt.Println("built", os.Getenv("VARIANT"))
		os.Exit(0)
	case "fail":
		if os.Getenv("VARIANT") == args[2] {
			os.Exit(3)
		}
		os.Exit(0)
	}

	os.Exit(2)
}

func setupProject(t *testing.T, mode string) string {
	t.Helper()
	root := t.TempDir()

	for _, name := range []string{"1.20.1-forge", "1.21.1-neoforge"} {
		dir := filepath.Join(root, "versions", name)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "gradle.properties"),
			[]byte("MC_VERSION="+strings.Split(name, "-")[0]+"\nMOD_VERSION=1.0.0\n"), 0o644))
	}

	command := []string{os.Args[0], "-test.run=TestHelperProcess", "--"}
	command = append(command, strings.Fields(mode)...)
	quoted := make([]string, len(command))
	for idx, item := range command {
		quoted[idx] = fmt.Sprintf("%q", item)
	}

	cfg := fmt.Sprintf(`[project]
product_name = "expanse"

[variants]
default = "1.21.1-neoforge"

[action]
command = [%s]
`, strings.Join(quoted, ", "))
	require.NoError(t, os.WriteFile(filepath.Join(root, "vbuild.toml"), []byte(cfg), 0o644))

	t.Setenv("VBUILD_WANT_HELPER_PROCESS", "1")
	return root
}

func runCLI(t *testing.T, root string, args ...string) (int, string, string) {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	args = append([]string{"--config", filepath.Join(root, "vbuild.toml"), "--no-progress"}, args...)

	code := run(context.Background(), args, stdout, stderr)
	return code, stdout.String(), stderr.String()
}

func TestParseProperties(t *testing.T) {
	props, err := parseProperties([]string{"MOD_VERSION=1.2.3", "EMPTY=", "URL=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"MOD_VERSION": "1.2.3", "EMPTY": "", "URL": "a=b"}, props)

	_, err = parseProperties([]string{"=value"})
	assert.Error(t, err)

	_, err = parseProperties([]string{"novalue"})
	assert.Equal(t, buildsys.ExitConfiguration, buildsys.ExitCode(err))
}

func TestConsoleWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(NewConsoleWriter(buf))

	logger.Info().Str("variant", "1.21.1-neoforge").Msg("compiling")
	logger.Error().Msg("broken")

	out := buf.String()
	assert.Contains(t, out, "1.21.1-neoforge")
	assert.Contains(t, out, "compiling")
	assert.Contains(t, out, "Error: broken")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestConsoleWriterKeepsBuildOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(NewConsoleWriter(buf))

	logger.Info().Str("variant", "1.20.1-forge").Str("stream", "stdout").Msg("> Task :compileJava [red] [reset] [bold]")

	out := buf.String()
	assert.Contains(t, out, "> Task :compileJava [red] [reset] [bold]")
	assert.NotContains(t, out, "\x1b[31m")
}

func TestBuildAllCollectsArtifacts(t *testing.T) {
	root := setupProject(t, "jar")

	code, stdout, stderr := runCLI(t, root, "build-all")
	require.Equal(t, buildsys.ExitOK, code, stderr)
	assert.Contains(t, stdout, "Summary")

	assert.FileExists(t, filepath.Join(root, "dist", "expanse-forge-1.20.1.jar"))
	assert.FileExists(t, filepath.Join(root, "dist", "expanse-neoforge-1.21.1.jar"))
	assert.NoFileExists(t, filepath.Join(root, "versions", "1.20.1-forge", "build", "libs", "output.jar"))

	code, stdout, _ = runCLI(t, root, "status")
	assert.Equal(t, buildsys.ExitOK, code)
	assert.Contains(t, stdout, "build-all")

	code, stdout, _ = runCLI(t, root, "list")
	assert.Equal(t, buildsys.ExitOK, code)
	assert.Contains(t, stdout, "* ")
	assert.Contains(t, stdout, "last build ok")
}

func TestBuildAllFailureExitCode(t *testing.T) {
	root := setupProject(t, "fail 1.20.1-forge")

	code, stdout, _ := runCLI(t, root, "build-all", "--continue-on-failure")
	assert.Equal(t, buildsys.ExitBuildFailure, code)
	assert.Contains(t, stdout, "1 of 2 variants failed")
}

func TestBuildUnknownVariant(t *testing.T) {
	root := setupProject(t, "jar")

	code, _, stderr := runCLI(t, root, "build", "1.7.10-forge")
	assert.Equal(t, buildsys.ExitConfiguration, code)
	assert.Contains(t, stderr, "1.7.10-forge")
}

func TestBuildDefaultVariant(t *testing.T) {
	root := setupProject(t, "jar")

	code, _, stderr := runCLI(t, root, "build")
	require.Equal(t, buildsys.ExitOK, code, stderr)
	assert.FileExists(t, filepath.Join(root, "dist", "expanse-neoforge-1.21.1.jar"))
	assert.NoFileExists(t, filepath.Join(root, "dist", "expanse-forge-1.20.1.jar"))
}

func TestCleanKeepsSources(t *testing.T) {
	root := setupProject(t, "jar")
	build := filepath.Join(root, "versions", "1.20.1-forge", "build")
	require.NoError(t, os.MkdirAll(build, 0o755))

	code, stdout, stderr := runCLI(t, root, "clean", "--deep")
	require.Equal(t, buildsys.ExitOK, code, stderr)
	assert.Contains(t, stdout, "Removed")
	assert.NoDirExists(t, build)
	assert.DirExists(t, filepath.Join(root, "versions", "1.20.1-forge", "src"))
}

func TestInvalidFlag(t *testing.T) {
	root := setupProject(t, "jar")

	code, _, _ := runCLI(t, root, "build-all", "--jobs", "many")
	assert.Equal(t, buildsys.ExitConfiguration, code)
}

func TestInvalidCommandFailsBeforeClean(t *testing.T) {
	root := setupProject(t, "jar $VBUILD_NO_SUCH_KEY")
	build := filepath.Join(root, "versions", "1.20.1-forge", "build")
	require.NoError(t, os.MkdirAll(build, 0o755))

	code, _, stderr := runCLI(t, root, "build-all", "--clean")
	assert.Equal(t, buildsys.ExitConfiguration, code)
	assert.Contains(t, stderr, "VBUILD_NO_SUCH_KEY")
	assert.DirExists(t, build)
}
