package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"servicesift-backend/internal/shared/config"
	"servicesift-backend/internal/shared/telemetry"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	rootCmd := &cobra.Command{
		Use:           "siftctl",
		Short:         "Operate the ServiceSift analysis pipeline",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return telemetry.Init(telemetry.Options{Level: logLevel, Format: "console"})
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(recoverStaleCmd())
	rootCmd.AddCommand(deadLettersCmd())
	rootCmd.AddCommand(migrateCmd())
	return rootCmd
}

// loadConfig reads the same environment the API uses.
func loadConfig() config.Config {
	return config.Load()
}
