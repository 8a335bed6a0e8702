package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CyberDay1/the-expanse/pkg"
	"github.com/CyberDay1/the-expanse/pkg/buildsys"
	"github.com/CyberDay1/the-expanse/pkg/registry"
)

func newBuildAllCmd(a *app) *cobra.Command {
	buildAllCmd := &cobra.Command{
		Use:   "build-all [variant...]",
		Short: "Builds every registered variant",
		Long: `Builds all variants (or the ones passed as arguments) and collects their artifacts into
the output directory. Stale artifacts of the same variant are replaced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			flags := cmd.Flags()

			if flags.Changed("parallel") {
				parallel, _ := flags.GetBool("parallel")
				if parallel {
					a.cfg.Dispatch.Mode = buildsys.Parallel.String()
				} else {
					a.cfg.Dispatch.Mode = buildsys.Sequential.String()
				}
			}
			if flags.Changed("jobs") {
				a.cfg.Dispatch.Jobs, _ = flags.GetInt("jobs")
			}
			if flags.Changed("continue-on-failure") {
				a.cfg.Dispatch.ContinueOnFailure, _ = flags.GetBool("continue-on-failure")
			}
			if flags.Changed("timeout") {
				a.cfg.Action.Timeout, _ = flags.GetDuration("timeout")
			}

			mode, err := buildsys.ParseMode(a.cfg.Dispatch.Mode)
			if err != nil {
				return err
			}

			clean, _ := flags.GetBool("clean")
			deep, _ := flags.GetBool("deep")
			changedOnly, _ := flags.GetBool("changed-only")
			match, _ := flags.GetString("match")
			sortVersions, _ := flags.GetBool("sort-versions")

			if (clean || deep) && changedOnly {
				return &registry.ConfigurationError{Msg: "--clean/--deep and --changed-only can't be combined"}
			}

			reg, err := a.loadRegistry(ctx, cmd)
			if err != nil {
				return err
			}

			variants, err := reg.Select(registry.Filter{Names: args, Constraint: match})
			if err != nil {
				return err
			}

			if sortVersions {
				err = registry.SortByVersion(variants)
				if err != nil {
					return err
				}
			}

			opts := a.dispatchOptions()
			if changedOnly {
				opts.SkipCheck = a.upToDateCheck(a.newCollector())
			}

			// an invalid build command must fail before anything is deleted
			_, err = buildsys.ResolveCommands(opts.Action, opts.ProjectRoot, variants)
			if err != nil {
				return err
			}

			pkg.Output = a.stdout
			if clean || deep {
				pkg.PrintTask("Cleaning")
				_, err = buildsys.Clean(ctx, a.cleanOptions(reg, deep, false))
				if err != nil {
					return err
				}
			}

			pkg.PrintTask(fmt.Sprintf("Building %d variants (%s)", len(variants), mode))
			_, err = a.dispatch(ctx, "build-all", variants, mode, opts)
			return err
		},
	}

	flags := buildAllCmd.Flags()
	flags.BoolP("parallel", "p", false, "build variants concurrently")
	flags.IntP("jobs", "j", 0, "maximum number of concurrent builds (defaults to the number of CPUs)")
	flags.BoolP("continue-on-failure", "k", false, "keep building the remaining variants after a failure")
	flags.Duration("timeout", 0, "deadline for each build")
	flags.Bool("clean", false, "delete build outputs before building")
	flags.Bool("deep", false, "delete build outputs and caches before building")
	flags.Bool("changed-only", false, "skip variants whose artifact is newer than their inputs")
	flags.String("match", "", "only build variants whose version matches this constraint (i.e. \">= 1.21\")")
	flags.Bool("sort-versions", false, "build variants in version order instead of discovery order")
	addPropertyFlag(buildAllCmd)

	return buildAllCmd
}
