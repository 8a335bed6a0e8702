// Package collect moves the files produced by variant builds into a single flat output
// directory under canonical names.
package collect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/CyberDay1/the-expanse/pkg/buildsys"
	"github.com/CyberDay1/the-expanse/pkg/registry"
)

const DefaultSourceDir = "build/libs"

var (
	DefaultExtensions  = []string{".jar"}
	DefaultClassifiers = []string{"sources", "javadoc"}
)

// ArtifactRecord describes one collected file.
type ArtifactRecord struct {
	Variant         string
	SourcePath      string
	CanonicalName   string
	DestinationPath string
}

// Options configures a Collector.
type Options struct {
	ProductBaseName string
	ProjectRoot     string
	// SourceDir is the build output directory, relative to the variant directory.
	// Variables like $VARIANT or $MC_VERSION are expanded.
	SourceDir   string
	Extensions  []string
	Classifiers []string
	// Jobs bounds CollectAll; zero means one worker per result.
	Jobs int
}

// Collector relocates build outputs. It is safe for concurrent use.
type Collector struct {
	opts Options

	locksLock sync.Mutex
	locks     map[string]*sync.Mutex
}

func NewCollector(opts Options) *Collector {
	if opts.SourceDir == "" {
		opts.SourceDir = DefaultSourceDir
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if opts.Classifiers == nil {
		opts.Classifiers = DefaultClassifiers
	}

	exts := make([]string, len(opts.Extensions))
	for idx, ext := range opts.Extensions {
		exts[idx] = "." + strings.TrimPrefix(ext, ".")
	}
	opts.Extensions = exts

	return &Collector{
		opts:  opts,
		locks: make(map[string]*sync.Mutex),
	}
}

// CanonicalName builds "<base>-<loader>-<tag>[-<classifier>]<ext>". Empty parts are left out.
func CanonicalName(base, loader, tag, classifier, ext string) string {
	return canonicalPrefix(base, loader, tag) + classifierSuffix(classifier) + "." + strings.TrimPrefix(ext, ".")
}

func canonicalPrefix(base, loader, tag string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{base, loader, tag} {
		if part != "" {
			parts = append(parts, part)
		}
	}

	return strings.Join(parts, "-")
}

func classifierSuffix(classifier string) string {
	if classifier == "" {
		return ""
	}
	return "-" + classifier
}

// SourceDir returns the directory that holds the build output of v.
func (c *Collector) SourceDir(v *registry.Variant) (string, error) {
	dir, err := buildsys.ExpandString(c.opts.SourceDir, buildsys.VariantEnv(v, c.opts.ProjectRoot))
	if err != nil {
		return "", &registry.ConfigurationError{Variant: v.Name(), Msg: fmt.Sprintf("invalid output directory: %s", err)}
	}

	if filepath.IsAbs(dir) {
		return dir, nil
	}

	base := v.Dir()
	if base == "" {
		base = c.opts.ProjectRoot
	}

	return filepath.Join(base, dir), nil
}

// Prefix returns the canonical name prefix shared by every artifact of v.
func (c *Collector) Prefix(v *registry.Variant) string {
	return canonicalPrefix(c.opts.ProductBaseName, v.LoaderTag(), v.VersionTag())
}

// Collect moves the outputs of a successful build into outputDir. Failed or skipped
// results are ignored. A missing output directory is logged, not returned as an error.
//
// Stale artifacts are evicted before the move. Eviction only matches names of the form
// <prefix>[-<classifier>]<ext> with a configured classifier and extension. It is not a plain
// prefix match, so 1.0 never evicts 1.0.1, and a leftover like <prefix>-dev.jar is kept.
func (c *Collector) Collect(ctx context.Context, result *buildsys.BuildResult, outputDir string) ([]ArtifactRecord, error) {
	if result == nil || result.Status != buildsys.Success {
		return nil, nil
	}

	v := result.Variant
	logger := buildsys.Log(ctx).With().Str("variant", v.Name()).Logger()

	sourceDir, err := c.SourceDir(v)
	if err != nil {
		return nil, err
	}

	candidates, err := c.findCandidates(sourceDir)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			logger.Warn().Str("path", sourceDir).Msg("Build output directory is missing, nothing to collect")
			return nil, nil
		}
		return nil, err
	}

	if len(candidates) == 0 {
		logger.Warn().Str("path", sourceDir).Msg("Build finished without producing artifacts")
		return nil, nil
	}

	err = os.MkdirAll(outputDir, 0o770)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create output directory %s", outputDir)
	}

	prefix := c.Prefix(v)
	lock := c.lockFor(prefix)
	lock.Lock()
	defer lock.Unlock()

	err = c.evict(ctx, outputDir, prefix)
	if err != nil {
		return nil, err
	}

	records := make([]ArtifactRecord, 0, len(candidates))
	for _, item := range candidates {
		name := prefix + classifierSuffix(item.classifier) + item.ext
		dest := filepath.Join(outputDir, name)

		logger.Debug().Str("source", item.path).Str("dest", dest).Msg("Collecting artifact")
		err = moveFile(item.path, dest)
		if err != nil {
			return records, err
		}

		records = append(records, ArtifactRecord{
			Variant:         v.Name(),
			SourcePath:      item.path,
			CanonicalName:   name,
			DestinationPath: dest,
		})
		result.Artifacts = append(result.Artifacts, dest)
	}

	logger.Info().Int("artifacts", len(records)).Msg("Collected artifacts")
	return records, nil
}

// CollectAll runs Collect for every result. Records are returned in result order.
func (c *Collector) CollectAll(ctx context.Context, results []*buildsys.BuildResult, outputDir string) ([]ArtifactRecord, error) {
	perResult := make([][]ArtifactRecord, len(results))

	eg, egCtx := errgroup.WithContext(ctx)
	if c.opts.Jobs > 0 {
		eg.SetLimit(c.opts.Jobs)
	}

	for idx, result := range results {
		idx, result := idx, result
		eg.Go(func() error {
			records, err := c.Collect(egCtx, result, outputDir)
			perResult[idx] = records
			return err
		})
	}

	err := eg.Wait()

	records := make([]ArtifactRecord, 0, len(results))
	for _, items := range perResult {
		records = append(records, items...)
	}

	return records, err
}

func (c *Collector) lockFor(prefix string) *sync.Mutex {
	c.locksLock.Lock()
	defer c.locksLock.Unlock()

	lock, ok := c.locks[prefix]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[prefix] = lock
	}

	return lock
}

type candidate struct {
	path       string
	classifier string
	ext        string
	modTime    int64
}

// findCandidates lists the matching files in dir. When several files map to the same
// canonical name, the newest one wins.
func (c *Collector) findCandidates(dir string) ([]candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", dir)
	}

	byName := make(map[string]candidate)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := c.matchExtension(entry.Name())
		if ext == "" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, eris.Wrapf(err, "failed to stat %s", entry.Name())
		}

		item := candidate{
			path:       filepath.Join(dir, entry.Name()),
			classifier: c.matchClassifier(strings.TrimSuffix(entry.Name(), ext)),
			ext:        ext,
			modTime:    info.ModTime().UnixNano(),
		}

		key := item.classifier + item.ext
		if existing, ok := byName[key]; !ok || existing.modTime < item.modTime {
			byName[key] = item
		}
	}

	result := make([]candidate, 0, len(byName))
	for _, item := range byName {
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].path < result[j].path
	})

	return result, nil
}

func (c *Collector) matchExtension(name string) string {
	for _, ext := range c.opts.Extensions {
		if strings.HasSuffix(name, ext) && len(name) > len(ext) {
			return ext
		}
	}
	return ""
}

func (c *Collector) matchClassifier(stem string) string {
	for _, classifier := range c.opts.Classifiers {
		if strings.HasSuffix(stem, "-"+classifier) {
			return classifier
		}
	}
	return ""
}

// stalePattern matches the prefix followed by an optional classifier and one of the
// configured extensions. "mod-neoforge-1.21" must not match "mod-neoforge-1.21.1.jar".
func (c *Collector) stalePattern(prefix string) *regexp.Regexp {
	exts := make([]string, len(c.opts.Extensions))
	for idx, ext := range c.opts.Extensions {
		exts[idx] = regexp.QuoteMeta(ext)
	}

	classifiers := ""
	if len(c.opts.Classifiers) > 0 {
		quoted := make([]string, len(c.opts.Classifiers))
		for idx, classifier := range c.opts.Classifiers {
			quoted[idx] = regexp.QuoteMeta(classifier)
		}
		classifiers = "(-(" + strings.Join(quoted, "|") + "))?"
	}

	return regexp.MustCompile("^" + regexp.QuoteMeta(prefix) + classifiers + "(" + strings.Join(exts, "|") + ")$")
}

func (c *Collector) evict(ctx context.Context, outputDir, prefix string) error {
	pattern := c.stalePattern(prefix)
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return eris.Wrapf(err, "failed to read %s", outputDir)
	}

	for _, entry := range entries {
		if entry.IsDir() || !pattern.MatchString(entry.Name()) {
			continue
		}

		stale := filepath.Join(outputDir, entry.Name())
		buildsys.Log(ctx).Debug().Str("path", stale).Msg("Removing stale artifact")
		err = os.Remove(stale)
		if err != nil && !eris.Is(err, os.ErrNotExist) {
			return eris.Wrapf(err, "failed to remove stale artifact %s", stale)
		}
	}

	return nil
}
