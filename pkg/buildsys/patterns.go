package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// ResolvePatterns expands the glob patterns (including **) relative to base.
// Patterns that don't match anything are dropped. Only the patterns are parsed as shell
// words; base is used verbatim.
func ResolvePatterns(base string, patterns []string) ([]string, error) {
	result := []string{}
	cfg := expand.Config{
		// relative globs are resolved against $PWD
		Env:      expand.ListEnviron("PWD=" + base),
		ReadDir2: os.ReadDir,
		GlobStar: true,
		NoUnset:  true,
	}

	parser := syntax.NewParser()
	for _, item := range patterns {
		item = filepath.ToSlash(item)

		words := make([]*syntax.Word, 0)
		err := parser.Words(strings.NewReader(item), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse pattern %s", item)
		}
		if len(words) != 1 {
			return nil, eris.Errorf("pattern %q must be a single word", item)
		}

		matches, err := expand.Fields(&cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", item)
		}

		for _, match := range matches {
			// If a pattern didn't match anything, it's returned as a result. Skip those results.
			if strings.ContainsAny(match, "*?[") {
				continue
			}

			match = filepath.FromSlash(match)
			if !filepath.IsAbs(match) {
				match = filepath.Join(base, match)
			}
			result = append(result, match)
		}
	}

	return result, nil
}

// OutputsUpToDate returns true if every output exists and the oldest output is newer
// than the newest input. Missing inputs are ignored.
func OutputsUpToDate(ctx context.Context, base string, inputs, outputs []string) (bool, error) {
	if len(outputs) == 0 {
		return false, nil
	}

	inputList, err := ResolvePatterns(base, inputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve inputs")
	}

	var newestInput time.Time
	for _, item := range inputList {
		err = filepath.WalkDir(item, func(path string, entry os.DirEntry, err error) error {
			if err != nil {
				if eris.Is(err, os.ErrNotExist) {
					return nil
				}
				return err
			}

			if entry.IsDir() {
				return nil
			}

			info, err := entry.Info()
			if err != nil {
				return err
			}

			if info.ModTime().After(newestInput) {
				newestInput = info.ModTime()
			}
			return nil
		})
		if err != nil {
			return false, eris.Wrapf(err, "failed to check input %s", item)
		}
	}

	if newestInput.IsZero() {
		return false, nil
	}

	var oldestOutput time.Time
	for _, item := range outputs {
		info, err := os.Stat(item)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				return false, nil
			}
			return false, eris.Wrapf(err, "failed to check output %s", item)
		}

		if oldestOutput.IsZero() || info.ModTime().Before(oldestOutput) {
			oldestOutput = info.ModTime()
		}
	}

	if oldestOutput.After(newestInput) {
		Log(ctx).Debug().
			Msgf("nothing to do (output is %f seconds newer)", oldestOutput.Sub(newestInput).Seconds())
		return true, nil
	}

	return false, nil
}
