package registry

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/go-ini/ini"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// ReadProperties parses a key=value property file. Comments (# and ;) and blank
// lines are ignored; keys are kept verbatim.
func ReadProperties(path string) (map[string]string, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:       true,
		SkipUnrecognizableLines:   false,
		UnescapeValueDoubleQuotes: true,
		KeyValueDelimiters:        "=:",
	}, path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", path)
	}

	result := make(map[string]string)
	for _, key := range file.Section(ini.DefaultSection).Keys() {
		result[key.Name()] = key.String()
	}

	return result, nil
}

// findPropertyFile returns the first existing property file in dir.
func findPropertyFile(dir string) (string, error) {
	for _, name := range PropertyFiles {
		candidate := filepath.Join(dir, name)
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}

		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "failed to check %s", candidate)
		}
	}

	return "", nil
}

// loadDirectory registers every subdirectory of path whose name matches pattern (all of
// them if pattern is nil).
func loadDirectory(ctx context.Context, path string, pattern *regexp.Regexp) (*loadResult, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to list variants in %s", path)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if pattern != nil && !pattern.MatchString(entry.Name()) {
			zerolog.Ctx(ctx).Debug().Str("path", filepath.Join(path, entry.Name())).Msg("Skipping folder, name doesn't match")
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	result := &loadResult{
		variants: make([]rawVariant, 0, len(names)),
	}

	// the project-level gradle.properties holds the values shared by all versions
	sharedFile, err := findPropertyFile(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	if sharedFile != "" {
		result.shared, err = ReadProperties(sharedFile)
		if err != nil {
			return nil, err
		}
	}

	for _, name := range names {
		dir := filepath.Join(path, name)
		propFile, err := findPropertyFile(dir)
		if err != nil {
			return nil, err
		}

		if propFile == "" {
			return nil, &ConfigurationError{Variant: name, Msg: "no property file found in " + dir}
		}

		values, err := ReadProperties(propFile)
		if err != nil {
			return nil, err
		}

		zerolog.Ctx(ctx).Debug().
			Str("variant", name).
			Str("path", propFile).
			Msgf("Registered variant %s", name)

		result.variants = append(result.variants, rawVariant{
			name:   name,
			dir:    dir,
			script: detectBuildScript(dir),
			file:   values,
		})
	}

	return result, nil
}

// detectBuildScript picks up a variant-local build script.
func detectBuildScript(dir string) string {
	for _, name := range []string{"build.gradle.kts", "build.gradle"} {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}

	return ""
}
