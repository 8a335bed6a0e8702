package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[project]
product_name = "TheExpanse"

[dispatch]
mode = "parallel"
jobs = 3

[action]
command = ["./gradlew", "build"]
timeout = "30m"
`

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "TheExpanse", cfg.Project.ProductName)
	assert.Equal(t, "parallel", cfg.Dispatch.Mode)
	assert.Equal(t, 3, cfg.Dispatch.Jobs)
	assert.Equal(t, []string{"./gradlew", "build"}, cfg.Action.Command)
	assert.Equal(t, 30*time.Minute, cfg.Action.Timeout)

	// defaults
	assert.Equal(t, "versions", cfg.Variants.Source)
	assert.Equal(t, "build/libs", cfg.Collect.SourceDir)
	assert.Equal(t, []string{".jar"}, cfg.Collect.Extensions)
	assert.Equal(t, 10*time.Second, cfg.Action.Grace)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())

	root, err := filepath.Abs(dir)
	require.NoError(t, err)
	assert.Equal(t, root, cfg.ProjectRoot())
	assert.Equal(t, filepath.Join(root, "dist"), cfg.Path(cfg.Project.OutputDir))
	assert.Equal(t, "/abs/out", cfg.Path("/abs/out"))
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))
	t.Setenv("VBUILD_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel())
	assert.Equal(t, "parallel", cfg.Dispatch.Mode)
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "versions", "1.21.1", "src")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(""), 0o644))

	path, err := Find(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, FileName), path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, loader := Loader("")
		require.NoError(t, loader.Load())
		return cfg
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	cfg = valid()
	cfg.Log.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Dispatch.Mode = "sideways"
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Action.Command = nil
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Variants.NamePattern = "("
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Dispatch.Jobs = -1
	assert.Error(t, cfg.Validate())
}
