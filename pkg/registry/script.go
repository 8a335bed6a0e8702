package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
)

type scriptCtx struct {
	ctx         context.Context
	filepath    string
	projectRoot string
	result      *loadResult
}

// * Helpers

func getScriptCtx(thread *starlark.Thread) *scriptCtx {
	return thread.Local("scriptCtx").(*scriptCtx)
}

func scriptLog(thread *starlark.Thread, level zerolog.Level, msg string) {
	ctx := getScriptCtx(thread)
	pos := thread.CallFrame(1).Pos

	zerolog.Ctx(ctx.ctx).WithLevel(level).
		Str("path", ctx.filepath).
		Msgf("%s:%d:%d: %s", filepath.Base(ctx.filepath), pos.Line, pos.Col, msg)
}

func dictToStringMap(dict *starlark.Dict, field string) (map[string]string, error) {
	result := make(map[string]string)
	if dict == nil {
		return result, nil
	}

	for _, rawKey := range dict.Keys() {
		key, ok := rawKey.(starlark.String)
		if !ok {
			return nil, eris.Errorf("found key type %s in %s but only strings are supported", rawKey.Type(), field)
		}

		rawValue, _, err := dict.Get(rawKey)
		if err != nil {
			return nil, err
		}

		switch value := rawValue.(type) {
		case starlark.String:
			result[key.GoString()] = value.GoString()
		case starlark.Int, starlark.Float, starlark.Bool:
			result[key.GoString()] = value.String()
		default:
			return nil, eris.Errorf("found value of type %s for key %s in %s but only strings and numbers are supported",
				rawValue.Type(), key.GoString(), field)
		}
	}

	return result, nil
}

// * Builtin functions

func starVariant(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, script, dir string
	var config *starlark.Dict

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "config?", &config, "script?", &script, "dir?", &dir)
	if err != nil {
		return nil, err
	}

	ctx := getScriptCtx(thread)
	inline, err := dictToStringMap(config, "config")
	if err != nil {
		return nil, err
	}

	raw := rawVariant{
		name:   name,
		dir:    resolveDir(ctx.projectRoot, dir),
		script: resolveDir(ctx.projectRoot, script),
		inline: inline,
	}

	if raw.dir != "" {
		propFile, err := findPropertyFile(raw.dir)
		if err != nil {
			return nil, err
		}

		if propFile != "" {
			raw.file, err = ReadProperties(propFile)
			if err != nil {
				return nil, err
			}
		}

		if raw.script == "" {
			raw.script = detectBuildScript(raw.dir)
		}
	}

	ctx.result.variants = append(ctx.result.variants, raw)
	return starlark.String(name), nil
}

func starSetDefault(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name)
	if err != nil {
		return nil, err
	}

	getScriptCtx(thread).result.defaultName = name
	return starlark.None, nil
}

func starShared(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var config *starlark.Dict
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "config", &config)
	if err != nil {
		return nil, err
	}

	values, err := dictToStringMap(config, "config")
	if err != nil {
		return nil, err
	}

	result := getScriptCtx(thread).result
	if result.shared == nil {
		result.shared = make(map[string]string)
	}
	for k, v := range values {
		result.shared[k] = v
	}

	return starlark.None, nil
}

func starGetenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.String

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue)
	if err != nil {
		return nil, err
	}

	value, ok := os.LookupEnv(name)
	if !ok {
		return defaultValue, nil
	}

	return starlark.String(value), nil
}

func starListDir(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dir string
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "dir", &dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(resolveDir(getScriptCtx(thread).projectRoot, dir))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to list %s", dir)
	}

	items := make([]starlark.Value, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			items = append(items, starlark.String(entry.Name()))
		}
	}

	return starlark.NewList(items), nil
}

func starInfo(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg string
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "msg", &msg)
	if err != nil {
		return nil, err
	}

	scriptLog(thread, zerolog.InfoLevel, msg)
	return starlark.None, nil
}

func starWarn(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg string
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "msg", &msg)
	if err != nil {
		return nil, err
	}

	scriptLog(thread, zerolog.WarnLevel, msg)
	return starlark.None, nil
}

// loadScript executes a Starlark registry script. The script declares variants by calling
// variant(); the declaration order is kept.
func loadScript(ctx context.Context, path, projectRoot string) (*loadResult, error) {
	builtins := starlark.StringDict{
		"OS":          starlark.String(runtime.GOOS),
		"ARCH":        starlark.String(runtime.GOARCH),
		"variant":     starlark.NewBuiltin("variant", starVariant),
		"set_default": starlark.NewBuiltin("set_default", starSetDefault),
		"shared":      starlark.NewBuiltin("shared", starShared),
		"getenv":      starlark.NewBuiltin("getenv", starGetenv),
		"list_dirs":   starlark.NewBuiltin("list_dirs", starListDir),
		"info":        starlark.NewBuiltin("info", starInfo),
		"warn":        starlark.NewBuiltin("warn", starWarn),
	}

	threadCtx := &scriptCtx{
		ctx:         ctx,
		filepath:    path,
		projectRoot: projectRoot,
		result: &loadResult{
			variants: make([]rawVariant, 0),
		},
	}

	thread := &starlark.Thread{
		Name: "registry",
		Print: func(thread *starlark.Thread, msg string) {
			zerolog.Ctx(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	thread.SetLocal("scriptCtx", threadCtx)

	script, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read file %s", path)
	}

	_, err = starlark.ExecFile(thread, filepath.Base(path), script, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("failed to execute %s:\n%s", path, evalError.Backtrace())}
		}
		return nil, &ConfigurationError{Msg: fmt.Sprintf("failed to execute %s: %s", path, err)}
	}

	return threadCtx.result, nil
}
