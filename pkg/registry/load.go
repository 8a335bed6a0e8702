// Package registry discovers build variants and resolves their configuration values.
//
// A registry can be loaded from a directory of version folders (each containing a
// gradle.properties style file), from a YAML/JSON registry document or from a Starlark
// script. Configuration values are layered: shared defaults, the variant's property file,
// inline registry values, VBUILD_PROP_<KEY> environment variables and finally explicit
// overrides passed on the command line.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// EnvPrefix is prepended to a configuration key to look up its environment override.
const EnvPrefix = "VBUILD_PROP_"

// PropertyFiles lists the per-variant property file names in lookup order.
var PropertyFiles = []string{"gradle.properties", "variant.properties"}

// Source describes where and how to load the variant registry.
type Source struct {
	// Path is a directory of variants, a .yml/.yaml/.json document or a .star script.
	Path string
	// ProjectRoot is used to resolve relative variant directories. Defaults to the
	// parent of Path.
	ProjectRoot string
	// Default designates the default variant if the registry itself doesn't.
	Default      string
	RequiredKeys []string
	// Shared values apply to every variant and have the lowest precedence.
	Shared map[string]string
	// Overrides have the highest precedence (i.e. -P KEY=VALUE).
	Overrides map[string]string
	// NamePattern restricts discovered variant names.
	NamePattern string
	// VersionKey and LoaderKey name the keys holding the tags used for artifact names.
	VersionKey    string
	LoaderKey     string
	DefaultLoader string
	// BuildScript is used for variants that don't reference their own script.
	BuildScript string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// rawVariant is a variant as declared by one of the loaders, before layering.
type rawVariant struct {
	name   string
	dir    string
	script string
	file   map[string]string
	inline map[string]string
}

type loadResult struct {
	variants    []rawVariant
	shared      map[string]string
	defaultName string
}

// Load reads the registry described by src.
func Load(ctx context.Context, src Source) (*Registry, error) {
	if src.Path == "" {
		return nil, &ConfigurationError{Msg: "no variant source configured"}
	}

	path, err := filepath.Abs(src.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve %s", src.Path)
	}

	if src.ProjectRoot == "" {
		src.ProjectRoot = filepath.Dir(path)
	}

	info, err := os.Stat(path)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("variant source %s does not exist", src.Path)}
		}
		return nil, eris.Wrapf(err, "failed to check %s", path)
	}

	pattern, err := compileNamePattern(src.NamePattern)
	if err != nil {
		return nil, err
	}

	var result *loadResult
	switch {
	case info.IsDir():
		result, err = loadDirectory(ctx, path, pattern)
	case strings.HasSuffix(path, ".star"):
		result, err = loadScript(ctx, path, src.ProjectRoot)
	default:
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yml" && ext != ".yaml" && ext != ".json" {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("unsupported registry format %s", ext)}
		}
		result, err = loadDocument(ctx, path, src.ProjectRoot)
	}
	if err != nil {
		return nil, err
	}

	return finalize(src, result, pattern)
}

func compileNamePattern(namePattern string) (*regexp.Regexp, error) {
	if namePattern == "" {
		return nil, nil
	}

	pattern, err := regexp.Compile(namePattern)
	if err != nil {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("invalid name pattern %s: %s", namePattern, err)}
	}

	return pattern, nil
}

func finalize(src Source, result *loadResult, pattern *regexp.Regexp) (*Registry, error) {
	lookupEnv := src.LookupEnv
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}

	variants := make([]*Variant, 0, len(result.variants))
	for _, raw := range result.variants {
		if raw.name == "" {
			return nil, &ConfigurationError{Msg: "found a variant without a name"}
		}

		if pattern != nil && !pattern.MatchString(raw.name) {
			continue
		}

		v, err := layer(src, result.shared, raw, lookupEnv)
		if err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}

	defaultName := result.defaultName
	if defaultName == "" {
		defaultName = src.Default
	}

	return NewRegistry(variants, defaultName)
}

func layer(src Source, shared map[string]string, raw rawVariant, lookupEnv func(string) (string, bool)) (*Variant, error) {
	config := make(map[string]string)
	for _, values := range []map[string]string{src.Shared, shared, raw.file, raw.inline} {
		for k, v := range values {
			config[k] = v
		}
	}

	// environment overrides apply to every known key and to required ones
	keys := make([]string, 0, len(config)+len(src.RequiredKeys))
	for k := range config {
		keys = append(keys, k)
	}
	keys = append(keys, src.RequiredKeys...)
	for _, k := range keys {
		if value, ok := lookupEnv(EnvPrefix + k); ok {
			config[k] = value
		}
	}

	for k, v := range src.Overrides {
		config[k] = v
	}

	if len(config) == 0 {
		return nil, &ConfigurationError{Variant: raw.name, Msg: "no configuration values found"}
	}

	required := append([]string(nil), src.RequiredKeys...)
	sort.Strings(required)
	for _, key := range required {
		if config[key] == "" {
			return nil, MissingKeyError(raw.name, key)
		}
	}

	v := &Variant{
		name:        raw.name,
		dir:         raw.dir,
		buildScript: raw.script,
		config:      config,
	}

	if v.buildScript == "" {
		v.buildScript = config["BUILD_SCRIPT"]
	}
	if v.buildScript == "" {
		v.buildScript = src.BuildScript
	}

	if src.LoaderKey != "" {
		v.loaderTag = config[src.LoaderKey]
	}
	if v.loaderTag == "" {
		v.loaderTag = deriveLoaderTag(raw.name)
	}
	if v.loaderTag == "" {
		v.loaderTag = src.DefaultLoader
	}

	if src.VersionKey != "" {
		v.versionTag = config[src.VersionKey]
	}
	if v.versionTag == "" {
		v.versionTag = deriveVersionTag(raw.name, v.loaderTag)
	}

	return v, nil
}

func resolveDir(projectRoot, dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}

	return filepath.Join(projectRoot, dir)
}
