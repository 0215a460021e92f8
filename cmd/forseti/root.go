package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "forseti",
	Short: "Forseti - hot-reloading rule engine",
	Long: `Forseti is a rule engine service built around compiled CEL rule bases.

It provides:
  - Declarative YAML rule files compiled to CEL programs
  - A bounded pool of reusable evaluation sessions
  - Hot reload: edited rules go live without a restart
  - A compilation cache so reverted rule sets republish instantly
  - Prometheus metrics for evaluations, pool occupancy, and reloads`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
