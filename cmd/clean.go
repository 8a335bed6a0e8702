package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CyberDay1/the-expanse/pkg"
	"github.com/CyberDay1/the-expanse/pkg/buildsys"
	"github.com/CyberDay1/the-expanse/pkg/registry"
)

func (a *app) cleanOptions(reg *registry.Registry, deep, dryRun bool) buildsys.CleanOptions {
	targets := append([]string{}, buildsys.CleanTargets...)
	targets = append(targets, a.cfg.Clean.Targets...)
	if deep {
		targets = append(targets, buildsys.DeepCleanTargets...)
		targets = append(targets, a.cfg.Clean.DeepTargets...)
	}

	opts := buildsys.CleanOptions{
		ProjectRoot: a.cfg.ProjectRoot(),
		Targets:     targets,
		DryRun:      dryRun,
	}
	opts.ProtectVariants(reg.Variants())

	return opts
}

func newCleanCmd(a *app) *cobra.Command {
	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Deletes build outputs",
		Long: `Deletes the build directories of the project and every variant. With --deep, the Gradle caches
and run directories are removed as well. Variant sources are never touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deep, _ := cmd.Flags().GetBool("deep")
			dryRun, _ := cmd.Flags().GetBool("dry")

			reg, err := a.loadRegistry(ctx, cmd)
			if err != nil {
				return err
			}

			pkg.Output = a.stdout
			pkg.PrintTask("Cleaning")
			deleted, err := buildsys.Clean(ctx, a.cleanOptions(reg, deep, dryRun))
			for _, item := range deleted {
				pkg.PrintSubtask(item)
			}
			if err != nil {
				return err
			}

			pkg.PrintTask(fmt.Sprintf("Removed %d paths", len(deleted)))
			return nil
		},
	}

	cleanCmd.Flags().Bool("deep", false, "also delete caches and run directories")
	cleanCmd.Flags().BoolP("dry", "n", false, "only print what would be deleted")

	return cleanCmd
}
