package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/formula-install/internal/service/installer"
	"github.com/oshokin/formula-install/internal/version"
)

var (
	// options collects the flags shared by the root and test commands.
	options = &installer.Options{
		Retries: installer.RetriesUnset,
	}

	// rootCmd installs one or more formulas.
	rootCmd = &cobra.Command{
		Use:   "formula-install [flags] <descriptor>...",
		Short: "Fetch, verify, build, install and self-test formulas",
		Long: `Installs every descriptor in order. The source archive is checked against
the declared SHA-256 before anything is built, and a failed self-test rolls
the install back.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options.Descriptors = args

			return installer.Run(ctx, options)
		},
	}

	// testCmd re-runs the post-install check.
	testCmd = &cobra.Command{
		Use:           "test <descriptor>...",
		Short:         "Re-run the self-test of installed formulas",
		Args:          cobra.MinimumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options.Descriptors = args

			return installer.RunTest(ctx, options)
		},
	}
)

// Execute runs the formula-install CLI and exits with the status of the failed stage.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(testCmd)

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, diagnostic(err))

		os.Exit(installer.ExitCode(err))
	}
}

// diagnostic renders pipeline errors with their captured output.
func diagnostic(err error) string {
	var pipelineErr *installer.Error
	if errors.As(err, &pipelineErr) {
		return pipelineErr.Diagnostic()
	}

	return err.Error()
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&options.ConfigPath, "config", "c", "", "path to configuration file (default formula-install.yaml when present)")
	flags.StringVar(&options.Prefix, "prefix", "", "root of the installed tree")
	flags.StringVar(&options.WorkDir, "work-dir", "", "directory for per-run build workspaces")
	flags.IntVar(&options.Retries, "retries", installer.RetriesUnset, "extra download attempts after a transient failure")
	flags.StringVar(&options.LogLevel, "log-level", "", "minimum log level: debug, info, warn or error")

	rootCmd.Flags().BoolVar(&options.Head, "head", false, "build from the development head instead of the release")
	rootCmd.Flags().BoolVar(&options.Force, "force", false, "reinstall even when the installed version is current")
}
