package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/formula-install/internal/service/checksum"
	"github.com/oshokin/formula-install/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// write replaces the sha256 of a YAML descriptor in place.
	write bool

	// rootCmd computes the expected source digest of a formula.
	rootCmd = &cobra.Command{
		Use:   "formula-checksum [--write] <descriptor>",
		Short: "Print the SHA-256 of a formula's source archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &checksum.Options{
				ConfigPath: configPath,
				Descriptor: args[0],
				Write:      write,
				Out:        cmd.OutOrStdout(),
			}

			return checksum.Run(ctx, options)
		},
	}
)

// Execute runs the formula-checksum CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.Flags().BoolVarP(&write, "write", "w", false, "update the sha256 of a YAML descriptor in place")
}
