package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/CyberDay1/the-expanse/pkg/buildsys"
	"github.com/CyberDay1/the-expanse/pkg/collect"
	"github.com/CyberDay1/the-expanse/pkg/history"
	"github.com/CyberDay1/the-expanse/pkg/registry"
)

// parseProperties turns "KEY=VALUE" pairs into a map.
func parseProperties(items []string) (map[string]string, error) {
	result := make(map[string]string, len(items))
	for _, item := range items {
		pos := strings.Index(item, "=")
		if pos < 1 {
			return nil, &registry.ConfigurationError{Msg: fmt.Sprintf("invalid property %q (expected KEY=VALUE)", item)}
		}

		result[item[:pos]] = item[pos+1:]
	}

	return result, nil
}

func addPropertyFlag(cmd *cobra.Command) {
	cmd.Flags().StringArrayP("property", "P", nil, "override a variant property (KEY=VALUE, repeatable)")
}

func (a *app) loadRegistry(ctx context.Context, cmd *cobra.Command) (*registry.Registry, error) {
	overrides := map[string]string{}
	if cmd.Flags().Lookup("property") != nil {
		items, err := cmd.Flags().GetStringArray("property")
		if err != nil {
			return nil, err
		}

		overrides, err = parseProperties(items)
		if err != nil {
			return nil, err
		}
	}

	buildsys.Log(ctx).Debug().Str("source", a.cfg.Variants.Source).Msg("Loading variants")
	return registry.Load(ctx, registry.Source{
		Path:          a.cfg.Path(a.cfg.Variants.Source),
		ProjectRoot:   a.cfg.ProjectRoot(),
		Default:       a.cfg.Variants.Default,
		RequiredKeys:  a.cfg.Variants.Required,
		Overrides:     overrides,
		NamePattern:   a.cfg.Variants.NamePattern,
		VersionKey:    a.cfg.Variants.VersionKey,
		LoaderKey:     a.cfg.Variants.LoaderKey,
		DefaultLoader: a.cfg.Variants.DefaultLoader,
		BuildScript:   a.cfg.Variants.BuildScript,
	})
}

func (a *app) newCollector() *collect.Collector {
	return collect.NewCollector(collect.Options{
		ProductBaseName: a.cfg.Project.ProductName,
		ProjectRoot:     a.cfg.ProjectRoot(),
		SourceDir:       a.cfg.Collect.SourceDir,
		Extensions:      a.cfg.Collect.Extensions,
		Classifiers:     a.cfg.Collect.Classifiers,
	})
}

// upToDateCheck skips variants whose collected main artifact is newer than their inputs.
func (a *app) upToDateCheck(collector *collect.Collector) func(context.Context, *registry.Variant) (bool, error) {
	outputDir := a.cfg.Path(a.cfg.Project.OutputDir)
	ext := ".jar"
	if len(a.cfg.Collect.Extensions) > 0 {
		ext = a.cfg.Collect.Extensions[0]
	}

	return func(ctx context.Context, v *registry.Variant) (bool, error) {
		if v.Dir() == "" {
			return false, nil
		}

		artifact := filepath.Join(outputDir, collector.Prefix(v)+"."+strings.TrimPrefix(ext, "."))
		return buildsys.OutputsUpToDate(ctx, v.Dir(), a.cfg.UpToDate.Inputs, []string{artifact})
	}
}

func (a *app) newProgressBar(count int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(count,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(a.stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetVisibility(a.showProgress()),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(a.stderr, "\n")
		}),
	)
}

// dispatch runs the builds, collects the artifacts and records the run.
func (a *app) dispatch(ctx context.Context, name string, variants []*registry.Variant, mode buildsys.Mode, opts buildsys.Options) ([]*buildsys.BuildResult, error) {
	started := time.Now()
	bar := a.newProgressBar(len(variants), "Building")
	opts.OnResult = func(*buildsys.BuildResult) {
		bar.Add(1)
	}

	results, err := buildsys.NewDispatcher(opts).Dispatch(ctx, variants, mode)
	bar.Finish()

	collector := a.newCollector()
	outputDir := a.cfg.Path(a.cfg.Project.OutputDir)
	_, collectErr := collector.CollectAll(ctx, results, outputDir)
	if collectErr != nil {
		buildsys.Log(ctx).Error().Err(collectErr).Msg("Failed to collect artifacts")
	}

	a.printSummary(results)
	a.saveHistory(ctx, name, mode, started, results)

	if err != nil {
		return results, err
	}
	if collectErr != nil {
		return results, collectErr
	}

	return results, buildsys.ResultsError(results)
}

func (a *app) dispatchOptions() buildsys.Options {
	opts := buildsys.Options{
		Action:            a.cfg.BuildAction(),
		ProjectRoot:       a.cfg.ProjectRoot(),
		Jobs:              a.cfg.Dispatch.Jobs,
		ContinueOnFailure: a.cfg.Dispatch.ContinueOnFailure,
	}
	if a.cfg.Action.LogDir != "" {
		opts.LogDir = a.cfg.Path(a.cfg.Action.LogDir)
	}

	return opts
}

func (a *app) printSummary(results []*buildsys.BuildResult) {
	if len(results) == 0 {
		return
	}

	maxNameLen := 0
	for _, r := range results {
		if len(r.Variant.Name()) > maxNameLen {
			maxNameLen = len(r.Variant.Name())
		}
	}

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	colorstring.Fprintf(a.stdout, "[blue][bold]==>[default] Summary\n")
	for _, r := range results {
		var status string
		switch r.Status {
		case buildsys.Success:
			status = fmt.Sprintf("[green]ok[reset] (%s)", r.Duration.Round(time.Millisecond))
			if len(r.Artifacts) > 0 {
				status += " -> " + strings.Join(relativePaths(r.Artifacts), ", ")
			}
		case buildsys.Skipped:
			status = "[yellow]skipped[reset]"
		default:
			status = fmt.Sprintf("[red]failed[reset] (code %d)", r.ExitCode)
			if r.TimedOut {
				status += " timed out"
			}
		}

		colorstring.Fprintf(a.stdout, lineFmt, r.Variant.Name()+":", status)
	}

	if failed := buildsys.FailedCount(results); failed > 0 {
		colorstring.Fprintf(a.stdout, "[red][bold]%d of %d variants failed[reset]\n", failed, len(results))
	}
}

func relativePaths(paths []string) []string {
	wd, err := os.Getwd()
	if err != nil {
		return paths
	}

	result := make([]string, len(paths))
	for idx, path := range paths {
		rel, err := filepath.Rel(wd, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = path
		}
		result[idx] = rel
	}

	return result
}

func (a *app) saveHistory(ctx context.Context, name string, mode buildsys.Mode, started time.Time, results []*buildsys.BuildResult) {
	if a.cfg.History.Disabled || len(results) == 0 {
		return
	}

	logger := buildsys.Log(ctx)
	record, err := history.NewRunRecord(name, mode, started, results)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to record build history")
		return
	}

	store, err := history.Open(ctx, a.cfg.Path(a.cfg.History.Path))
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to open build history")
		return
	}
	defer store.Close()

	store.MaxRuns = a.cfg.History.MaxRuns
	err = store.SaveRun(ctx, record)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to save build history")
		return
	}

	logger.Debug().Str("run", record.ID).Msg("Recorded build run")
}
