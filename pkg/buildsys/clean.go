package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/CyberDay1/the-expanse/pkg/registry"
)

var (
	// CleanTargets are removed by a regular clean.
	CleanTargets = []string{"build", "versions/*/build"}
	// DeepCleanTargets are removed in addition to CleanTargets by a deep clean.
	DeepCleanTargets = []string{".gradle", "versions/*/.gradle", "versions/*/run"}
)

// CleanOptions configures Clean.
type CleanOptions struct {
	ProjectRoot string
	// Targets are glob patterns relative to ProjectRoot. Matches outside of ProjectRoot
	// are refused.
	Targets []string
	// Protected paths are never deleted and nothing inside them is either.
	Protected []string
	// Anchors may contain deleted paths but are never deleted themselves.
	Anchors []string
	DryRun  bool
}

// ProtectVariants fills Protected and Anchors for the given variants: every variant's
// source tree is protected, the variant directories and the project root are anchors.
func (o *CleanOptions) ProtectVariants(variants []*registry.Variant) {
	o.Anchors = append(o.Anchors, o.ProjectRoot)
	for _, v := range variants {
		o.Anchors = append(o.Anchors, v.Dir())
		o.Protected = append(o.Protected, filepath.Join(v.Dir(), "src"))
	}
}

// Clean deletes every path matched by the target patterns and returns the deleted paths.
// Any failure is reported as a *CleanupError.
func Clean(ctx context.Context, opts CleanOptions) ([]string, error) {
	items, err := ResolvePatterns(opts.ProjectRoot, opts.Targets)
	if err != nil {
		return nil, &CleanupError{Path: opts.ProjectRoot, Err: err}
	}

	sort.Strings(items)
	items = dedupe(items)

	// check everything first, a refused target must not leave a half-cleaned tree behind
	for _, item := range items {
		if err := checkProtected(item, opts); err != nil {
			return nil, err
		}
	}

	deleted := make([]string, 0, len(items))
	for _, item := range items {
		if _, err := os.Lstat(item); eris.Is(err, os.ErrNotExist) {
			continue
		}

		if opts.DryRun {
			Log(ctx).Info().Str("path", item).Msg("Would delete")
			deleted = append(deleted, item)
			continue
		}

		Log(ctx).Debug().Str("path", item).Msg("Deleting")
		err := os.RemoveAll(item)
		if err != nil && !eris.Is(err, os.ErrNotExist) {
			return deleted, &CleanupError{Path: item, Err: err}
		}
		deleted = append(deleted, item)
	}

	Log(ctx).Info().Int("paths", len(deleted)).Msg("Clean finished")
	return deleted, nil
}

func dedupe(items []string) []string {
	result := items[:0]
	for idx, item := range items {
		if idx > 0 && items[idx-1] == item {
			continue
		}
		result = append(result, item)
	}

	return result
}

func checkProtected(item string, opts CleanOptions) error {
	target, err := filepath.Abs(item)
	if err != nil {
		return &CleanupError{Path: item, Err: err}
	}

	root, err := filepath.Abs(opts.ProjectRoot)
	if err != nil {
		return &CleanupError{Path: opts.ProjectRoot, Err: err}
	}
	if !isWithin(target, root) {
		return &CleanupError{Path: item, Err: eris.Errorf("refusing to delete %s outside of the project %s", item, root)}
	}

	for _, p := range opts.Protected {
		protected, err := filepath.Abs(p)
		if err != nil {
			return &CleanupError{Path: p, Err: err}
		}

		if isWithin(target, protected) || isWithin(protected, target) {
			return &CleanupError{Path: item, Err: eris.Errorf("refusing to delete protected path %s", p)}
		}
	}

	for _, a := range opts.Anchors {
		anchor, err := filepath.Abs(a)
		if err != nil {
			return &CleanupError{Path: a, Err: err}
		}

		if isWithin(anchor, target) {
			return &CleanupError{Path: item, Err: eris.Errorf("refusing to delete %s", a)}
		}
	}

	return nil
}

// isWithin returns true if path equals parent or lies below it.
func isWithin(path, parent string) bool {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
