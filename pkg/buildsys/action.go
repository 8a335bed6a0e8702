package buildsys

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"

	"github.com/CyberDay1/the-expanse/pkg/registry"
)

// Action describes the external build command run for every variant.
//
// Each element of Command is expanded on its own; $VARIANT, $VARIANT_DIR, $BUILD_SCRIPT,
// $PROJECT_ROOT, $LOADER, $VERSION_TAG and every configuration key of the variant are
// available. Expansion never splits words or runs commands.
type Action struct {
	Command []string
	// Dir is the working directory, relative to the project root. Defaults to the root.
	Dir string
	// Env is exported in addition to the variant's configuration values.
	Env map[string]string
	// Timeout is the deadline for a single build; zero disables it.
	Timeout time.Duration
	// Grace is how long a build may take to exit after the stop signal before it's killed.
	Grace time.Duration
}

// Command is a fully expanded process invocation.
type Command struct {
	Program string
	Args    []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
	Grace   time.Duration
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Program}, c.Args...), " ")
}

// VariantEnv returns the variables available to the build command of v.
func VariantEnv(v *registry.Variant, projectRoot string) map[string]string {
	env := v.Config()
	env["VARIANT"] = v.Name()
	env["VARIANT_DIR"] = v.Dir()
	env["BUILD_SCRIPT"] = v.BuildScript()
	env["PROJECT_ROOT"] = projectRoot
	env["LOADER"] = v.LoaderTag()
	env["VERSION_TAG"] = v.VersionTag()
	return env
}

func environ(extra map[string]string) expand.Environ {
	envVars := os.Environ()
	for name, value := range extra {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, value))
	}

	return expand.ListEnviron(envVars...)
}

// ExpandString expands $VAR and ${VAR} references in value. Quotes are kept verbatim
// and unset variables are reported as errors.
func ExpandString(value string, env map[string]string) (string, error) {
	if !strings.ContainsRune(value, '$') {
		return value, nil
	}

	parser := syntax.NewParser()
	word, err := parser.Document(strings.NewReader(value))
	if err != nil {
		return "", eris.Wrapf(err, "failed to parse %q", value)
	}

	cfg := &expand.Config{
		Env:     environ(env),
		NoUnset: true,
	}

	return expand.Document(cfg, word)
}

// Resolve expands the action for the given variant.
func (a Action) Resolve(v *registry.Variant, projectRoot string) (Command, error) {
	if len(a.Command) == 0 {
		return Command{}, &registry.ConfigurationError{Msg: "no build command configured"}
	}

	env := VariantEnv(v, projectRoot)
	for k, val := range a.Env {
		env[k] = val
	}

	argv := make([]string, len(a.Command))
	for idx, arg := range a.Command {
		expanded, err := ExpandString(arg, env)
		if err != nil {
			return Command{}, &registry.ConfigurationError{
				Variant: v.Name(),
				Msg:     fmt.Sprintf("failed to expand build command argument %q: %s", arg, err),
			}
		}
		argv[idx] = expanded
	}

	program := argv[0]
	if runtime.GOOS == "windows" && program == "./gradlew" {
		program = "gradlew.bat"
	}

	dir := projectRoot
	if a.Dir != "" {
		expanded, err := ExpandString(a.Dir, env)
		if err != nil {
			return Command{}, &registry.ConfigurationError{Variant: v.Name(), Msg: err.Error()}
		}
		if filepath.IsAbs(expanded) {
			dir = expanded
		} else {
			dir = filepath.Join(projectRoot, expanded)
		}
	}

	// relative programs are resolved against the working directory
	if strings.ContainsRune(program, '/') && !filepath.IsAbs(program) {
		program = filepath.Join(dir, program)
	}

	return Command{
		Program: program,
		Args:    argv[1:],
		Dir:     dir,
		Env:     env,
		Timeout: a.Timeout,
		Grace:   a.Grace,
	}, nil
}
