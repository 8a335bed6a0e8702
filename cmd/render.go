package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CyberDay1/the-expanse/pkg"
	"github.com/CyberDay1/the-expanse/pkg/registry"
	"github.com/CyberDay1/the-expanse/pkg/render"
)

func newRenderCmd(a *app) *cobra.Command {
	renderCmd := &cobra.Command{
		Use:   "render [variant]",
		Short: "Renders the resource templates of a variant",
		Long: `Expands the variant properties in mods.toml, neoforge.mods.toml and pack.mcmeta and writes
the results to <out>/<variant>/. Useful to check the metadata without running a build.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			flags := cmd.Flags()
			name, _ := flags.GetString("variant")
			all, _ := flags.GetBool("all")
			outDir, _ := flags.GetString("out")
			if len(args) > 0 {
				name = args[0]
			}

			if all && name != "" {
				return &registry.ConfigurationError{Msg: "--all can't be combined with a variant name"}
			}

			reg, err := a.loadRegistry(ctx, cmd)
			if err != nil {
				return err
			}

			variants := reg.Variants()
			if !all {
				v, err := reg.Resolve(name)
				if err != nil {
					return err
				}
				variants = []*registry.Variant{v}
			}

			opts := render.Options{
				ProjectRoot: a.cfg.ProjectRoot(),
				TemplateDir: a.cfg.Render.TemplateDir,
				Files:       a.cfg.Render.Files,
				OutDir:      a.cfg.Path(outDir),
			}

			pkg.Output = a.stdout
			for _, v := range variants {
				pkg.PrintTask(fmt.Sprintf("Rendering %s", v.Name()))
				written, err := render.Render(ctx, v, opts)
				if err != nil {
					return err
				}

				for _, path := range relativePaths(written) {
					pkg.PrintSubtask(path)
				}
				if len(written) == 0 {
					pkg.PrintWarning("no templates found")
				}
			}

			return nil
		},
	}

	flags := renderCmd.Flags()
	flags.StringP("variant", "v", "", "variant to render (defaults to the default variant)")
	flags.Bool("all", false, "render every variant")
	flags.StringP("out", "o", ".vbuild/rendered", "output directory, relative to the project root")
	addPropertyFlag(renderCmd)

	return renderCmd
}
