package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/CyberDay1/the-expanse/pkg"
	"github.com/CyberDay1/the-expanse/pkg/buildsys"
	"github.com/CyberDay1/the-expanse/pkg/config"
	"github.com/CyberDay1/the-expanse/pkg/registry"
)

// app holds the state shared by all commands of one invocation.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	logFile *os.File
	stdout  io.Writer
	stderr  io.Writer

	configPath string
	logLevel   string
	logPath    string
	noProgress bool
	jsonLogs   bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "vbuild",
		Short: "Builds every version variant of a multi-version mod project",
		Long: `vbuild discovers the version variants of a project (usually the folders in versions/),
runs the build for one or all of them and collects the produced jars into a single directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logFile != nil {
				a.logFile.Close()
			}
		},
	}

	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &registry.ConfigurationError{Msg: err.Error()}
	})

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (defaults to the next vbuild.toml in the current or a parent directory)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&a.logPath, "log-file", "", "additionally write JSON logs to this file")
	flags.BoolVar(&a.noProgress, "no-progress", false, "don't display progress bars")
	flags.BoolVar(&a.jsonLogs, "json", false, "print JSON logs instead of formatted messages")

	rootCmd.AddCommand(
		newBuildCmd(a),
		newBuildAllCmd(a),
		newCleanCmd(a),
		newListCmd(a),
		newRenderCmd(a),
		newStatusCmd(a),
	)

	return rootCmd
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return &registry.ConfigurationError{Msg: eris.ToString(err, false)}
	}

	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logPath != "" {
		cfg.Log.File = a.logPath
	}
	if a.jsonLogs {
		cfg.Log.JSON = true
	}

	err = cfg.Validate()
	if err != nil {
		return &registry.ConfigurationError{Msg: err.Error()}
	}
	a.cfg = cfg

	var console io.Writer = NewConsoleWriter(a.stderr)
	if cfg.Log.JSON {
		console = zerolog.SyncWriter(a.stderr)
	}

	writers := []io.Writer{console}
	if cfg.Log.File != "" {
		a.logFile, err = os.Create(cfg.Path(cfg.Log.File))
		if err != nil {
			return eris.Wrapf(err, "failed to open log file %s", cfg.Log.File)
		}

		// the file always receives everything, the console is filtered below
		writers = append(writers, zerolog.SyncWriter(a.logFile))
	}

	a.logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(cfg.LogLevel()).
		With().Timestamp().Logger()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(buildsys.WithLogger(ctx, &a.logger))

	a.logger.Debug().Str("root", cfg.ProjectRoot()).Msg("Loaded configuration")
	return nil
}

// showProgress decides whether progress bars are rendered.
func (a *app) showProgress() bool {
	return !a.noProgress && !a.cfg.Log.JSON && os.Getenv("CI") != "true"
}

// Execute runs the CLI and exits with the code matching the failure class.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		var failed *buildsys.FailedBuildsError
		if !eris.As(err, &failed) {
			pkg.Output = stderr
			pkg.PrintError(fmt.Sprintf("Error: %s", err))
		}
	}

	return buildsys.ExitCode(err)
}
