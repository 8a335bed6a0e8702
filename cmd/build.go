package cmd

import (
	"github.com/spf13/cobra"

	"github.com/CyberDay1/the-expanse/pkg"
	"github.com/CyberDay1/the-expanse/pkg/buildsys"
	"github.com/CyberDay1/the-expanse/pkg/registry"
)

func newBuildCmd(a *app) *cobra.Command {
	buildCmd := &cobra.Command{
		Use:   "build [variant]",
		Short: "Builds a single variant",
		Long: `Builds one variant and collects its artifacts. Without --variant, the configured default
variant is built (or the first one if there is no default).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			name, err := cmd.Flags().GetString("variant")
			if err != nil {
				return err
			}
			if len(args) > 0 {
				name = args[0]
			}

			reg, err := a.loadRegistry(ctx, cmd)
			if err != nil {
				return err
			}

			variant, err := reg.Resolve(name)
			if err != nil {
				return err
			}

			pkg.Output = a.stdout
			pkg.PrintTask("Building " + variant.Name())

			_, err = a.dispatch(ctx, "build", []*registry.Variant{variant}, buildsys.Sequential, a.dispatchOptions())
			return err
		},
	}

	buildCmd.Flags().StringP("variant", "v", "", "variant to build")
	addPropertyFlag(buildCmd)

	return buildCmd
}
