package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "autoflow",
	Short:         "Automation workflow engine",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `autoflow runs user-defined workflows: ordered lists of typed steps
started by schedules, file events, API events or manual invocation.`,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default $HOME/.autoflow/autoflow.yaml)")
	rootCmd.PersistentFlags().String("db", "", "Database path (overrides db_path)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
