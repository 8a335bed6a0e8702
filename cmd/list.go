package cmd

import (
	"fmt"
	"strings"

	"github.com/mitchellh/colorstring"
	"github.com/spf13/cobra"

	"github.com/CyberDay1/the-expanse/pkg/buildsys"
	"github.com/CyberDay1/the-expanse/pkg/history"
	"github.com/CyberDay1/the-expanse/pkg/registry"
)

func newListCmd(a *app) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Lists the registered variants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			showKeys, _ := cmd.Flags().GetBool("keys")

			reg, err := a.loadRegistry(ctx, cmd)
			if err != nil {
				return err
			}

			var store *history.Store
			if !a.cfg.History.Disabled {
				store, err = history.OpenExisting(ctx, a.cfg.Path(a.cfg.History.Path))
				if err != nil {
					return err
				}
				if store != nil {
					defer store.Close()
				}
			}

			for _, v := range reg.Variants() {
				marker := " "
				if v.Name() == reg.Default {
					marker = "*"
				}

				line := fmt.Sprintf("%s [bold]%s[reset]", marker, v.Name())
				if v.LoaderTag() != "" {
					line += " [cyan]" + v.LoaderTag() + "[reset]"
				}
				if v.VersionTag() != "" {
					line += " " + v.VersionTag()
				}

				if store != nil {
					last, err := store.LatestFor(v.Name())
					if err != nil {
						return err
					}
					line += " " + lastStatus(last)
				}

				colorstring.Fprintln(a.stdout, line)
				if showKeys {
					printKeys(a, v)
				}
			}

			return nil
		},
	}

	listCmd.Flags().Bool("keys", false, "print the resolved properties of every variant")
	addPropertyFlag(listCmd)

	return listCmd
}

func lastStatus(record *history.VariantRecord) string {
	if record == nil {
		return "[dark_gray](never built)[reset]"
	}

	switch record.Status {
	case buildsys.Success.String():
		return "[green](last build ok)[reset]"
	case buildsys.Failure.String():
		if record.TimedOut {
			return "[red](last build timed out)[reset]"
		}
		return fmt.Sprintf("[red](last build failed with code %d)[reset]", record.ExitCode)
	default:
		return "(" + strings.ToLower(record.Status) + ")"
	}
}

func printKeys(a *app, v *registry.Variant) {
	for _, key := range v.Keys() {
		value, _ := v.Get(key)
		fmt.Fprintf(a.stdout, "      %s = %s\n", key, value)
	}
}
