package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-engine/internal/config"
	"github.com/oshokin/alarm-engine/internal/service/daemon"
	"github.com/oshokin/alarm-engine/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// stateDir where scheduling intent is persisted.
	stateDir string
	// logLevel overrides the configured log level.
	logLevel string

	// rootCmd represents the base command for running the alarm daemon.
	rootCmd = &cobra.Command{
		Use:   "alarmd",
		Short: "Run the alarm delivery engine.",
		Long: `Starts the alarm daemon that schedules alarms, fires them through
redundant delivery layers, and guarantees that a single stop silences
everything the alarm acquired.

Alarms are declared in the configuration YAML file and re-synced live when
the file changes. Scheduling intent is persisted to the state directory so
armed alarms survive a restart; an alarm whose trigger passed while the
process was down rings immediately on recovery.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &daemon.Options{
				ConfigPath: configPath,
				StateDir:   stateDir,
				LogLevel:   logLevel,
			}

			return daemon.Run(ctx, options)
		},
	}
)

// Execute runs the alarmd CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().
		StringVarP(&stateDir, "state-dir", "s", config.DefaultStateDirname, "directory to persist scheduling state")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "override the configured log level")
}
