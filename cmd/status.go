package cmd

import (
	"fmt"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/spf13/cobra"

	"github.com/CyberDay1/the-expanse/pkg"
	"github.com/CyberDay1/the-expanse/pkg/buildsys"
	"github.com/CyberDay1/the-expanse/pkg/history"
)

func newStatusCmd(a *app) *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Shows the most recent build runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			count, _ := cmd.Flags().GetInt("runs")

			pkg.Output = a.stdout
			if a.cfg.History.Disabled {
				pkg.PrintWarning("build history is disabled")
				return nil
			}

			store, err := history.OpenExisting(ctx, a.cfg.Path(a.cfg.History.Path))
			if err != nil {
				return err
			}
			if store == nil {
				pkg.PrintWarning("no builds recorded yet")
				return nil
			}
			defer store.Close()

			runs, err := store.LatestRuns(count)
			if err != nil {
				return err
			}

			for _, run := range runs {
				printRun(a, run)
			}

			return nil
		},
	}

	statusCmd.Flags().IntP("runs", "n", 5, "number of runs to show (0 shows all)")

	return statusCmd
}

func printRun(a *app, run *history.RunRecord) {
	state := "[green]ok[reset]"
	if failed := run.Failed(); failed > 0 {
		state = fmt.Sprintf("[red]%d failed[reset]", failed)
	}

	colorstring.Fprintf(a.stdout, "[blue][bold]==>[default] %s %s (%s, %s) %s\n",
		run.Started.Local().Format("2006-01-02 15:04:05"), run.Command, run.Mode,
		run.Finished.Sub(run.Started).Round(time.Second), state)

	for _, item := range run.Results {
		line := fmt.Sprintf("     %-20s %s", item.Name, item.Status)
		switch item.Status {
		case buildsys.Failure.String():
			line = fmt.Sprintf("     %-20s [red]%s[reset] (code %d)", item.Name, item.Status, item.ExitCode)
		case buildsys.Skipped.String():
			line = fmt.Sprintf("     %-20s [yellow]%s[reset]", item.Name, item.Status)
		}

		colorstring.Fprintln(a.stdout, line)
		if item.Error != "" {
			fmt.Fprintf(a.stdout, "       %s\n", item.Error)
		}
	}
}
