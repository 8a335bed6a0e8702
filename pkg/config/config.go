package config

import (
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/CyberDay1/the-expanse/pkg/buildsys"
)

// FileName is the name of the project configuration file.
const FileName = "vbuild.toml"

// Config describes all configuration options
type Config struct {
	Log struct {
		Level string `default:"info" toml:"level" usage:"Log level (debug, info, warn, error)"`
		File  string `toml:"file" usage:"Additionally write JSON logs to this file"`
		JSON  bool   `default:"false" toml:"json" usage:"Output JSONND instead of pretty console messages"`
	} `toml:"log"`
	Project struct {
		ProductName string `default:"mod" toml:"product_name" usage:"Base name of the collected artifacts"`
		OutputDir   string `default:"dist" toml:"output_dir" usage:"Directory receiving the collected artifacts"`
	} `toml:"project"`
	Variants struct {
		Source        string   `default:"versions" toml:"source" usage:"Variant directory, registry document (.yml, .json) or script (.star)"`
		Default       string   `toml:"default" usage:"Variant used when none is requested"`
		Required      []string `toml:"required" usage:"Keys every variant must define"`
		NamePattern   string   `toml:"name_pattern" usage:"Only directories matching this regexp are variants"`
		VersionKey    string   `default:"MC_VERSION" toml:"version_key" usage:"Key holding the platform version"`
		LoaderKey     string   `toml:"loader_key" usage:"Key holding the loader name"`
		DefaultLoader string   `toml:"default_loader" usage:"Loader name for variants that don't specify one"`
		BuildScript   string   `toml:"build_script" usage:"Build script reference used when a variant has none"`
	} `toml:"variants"`
	Action struct {
		Command []string      `default:"./gradlew,-p,$VARIANT_DIR,build" toml:"command" usage:"Build command, every element is expanded on its own"`
		Dir     string        `toml:"dir" usage:"Working directory of the build command"`
		Timeout time.Duration `toml:"timeout" usage:"Deadline for a single build (0 disables it)"`
		Grace   time.Duration `default:"10s" toml:"grace" usage:"Time between the stop signal and the kill"`
		LogDir  string        `default:".vbuild/logs" toml:"log_dir" usage:"Per-variant build logs"`
	} `toml:"action"`
	Dispatch struct {
		Mode              string `default:"sequential" toml:"mode" usage:"sequential or parallel"`
		Jobs              int    `default:"0" toml:"jobs" usage:"Parallel worker count (0 uses the number of CPUs)"`
		ContinueOnFailure bool   `default:"false" toml:"continue_on_failure"`
	} `toml:"dispatch"`
	Collect struct {
		SourceDir   string   `default:"build/libs" toml:"source_dir" usage:"Build output directory relative to the variant directory"`
		Extensions  []string `default:".jar" toml:"extensions"`
		Classifiers []string `default:"sources,javadoc" toml:"classifiers"`
	} `toml:"collect"`
	Clean struct {
		Targets     []string `toml:"targets" usage:"Additional paths removed by clean"`
		DeepTargets []string `toml:"deep_targets" usage:"Additional paths removed by clean --deep"`
	} `toml:"clean"`
	UpToDate struct {
		Inputs []string `default:"src/**,gradle.properties,build.gradle.kts,build.gradle" toml:"inputs" usage:"Inputs checked by --changed-only, relative to the variant directory"`
	} `toml:"up_to_date"`
	Render struct {
		TemplateDir string   `default:"src/main/resources" toml:"template_dir"`
		Files       []string `toml:"files"`
	} `toml:"render"`
	History struct {
		Path     string `default:".vbuild/history.db" toml:"path"`
		MaxRuns  int    `default:"50" toml:"max_runs"`
		Disabled bool   `default:"false" toml:"disabled"`
	} `toml:"history"`

	// directory of the loaded config file (or the working directory)
	projectRoot string
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object.
// Flags are handled by cobra and applied on top of the loaded values.
func Loader(path string) (*Config, *aconfig.Loader) {
	cfg := Config{}
	files := []string{}
	if path != "" {
		files = append(files, path)
	}

	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags:        true,
		EnvPrefix:        "VBUILD",
		AllowUnknownEnvs: true,
		Files:            files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Find searches the next vbuild.toml starting at dir and walking up.
// It returns an empty string if there is none.
func Find(dir string) (string, error) {
	path := dir
	for {
		cfgPath := filepath.Join(path, FileName)
		_, err := os.Stat(cfgPath)
		if err == nil {
			return cfgPath, nil
		}
		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "failed to check %s", cfgPath)
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", nil
		}

		path = parent
	}
}

// Load finds (unless path is set) and loads the configuration.
func Load(path string) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, eris.Wrap(err, "failed to retrieve the current working directory")
	}

	if path == "" {
		path, err = Find(wd)
		if err != nil {
			return nil, err
		}
	} else if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "failed to open config %s", path)
	}

	cfg, loader := Loader(path)
	err = loader.Load()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load config")
	}

	cfg.projectRoot = wd
	if path != "" {
		root, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return nil, eris.Wrap(err, "failed to resolve project root")
		}
		cfg.projectRoot = root
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	_, err := buildsys.ParseMode(cfg.Dispatch.Mode)
	if err != nil {
		return eris.Errorf(`Invalid value for dispatch.mode: %s (must be sequential or parallel)`, cfg.Dispatch.Mode)
	}

	if cfg.Dispatch.Jobs < 0 {
		return eris.Errorf(`Invalid value for dispatch.jobs: %d`, cfg.Dispatch.Jobs)
	}

	if len(cfg.Action.Command) == 0 || cfg.Action.Command[0] == "" {
		return eris.New(`action.command must not be empty`)
	}

	if cfg.Action.Timeout < 0 || cfg.Action.Grace < 0 {
		return eris.New(`action.timeout and action.grace must not be negative`)
	}

	if cfg.Variants.NamePattern != "" {
		_, err := regexp.Compile(cfg.Variants.NamePattern)
		if err != nil {
			return eris.Wrapf(err, `Invalid value for variants.name_pattern`)
		}
	}

	if cfg.Variants.Source == "" {
		return eris.New(`variants.source must not be empty`)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// ProjectRoot returns the directory containing the config file. Without a config file,
// it's the working directory.
func (cfg *Config) ProjectRoot() string {
	return cfg.projectRoot
}

// Path resolves a configured path relative to the project root.
func (cfg *Config) Path(value string) string {
	if value == "" || filepath.IsAbs(value) {
		return value
	}

	return filepath.Join(cfg.projectRoot, value)
}

// BuildAction returns the build action described by the config.
func (cfg *Config) BuildAction() buildsys.Action {
	return buildsys.Action{
		Command: cfg.Action.Command,
		Dir:     cfg.Action.Dir,
		Timeout: cfg.Action.Timeout,
		Grace:   cfg.Action.Grace,
	}
}
