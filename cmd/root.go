// Package cmd provides the command-line interface for lsphost.
//
// Configuration is loaded from (highest priority first) command-line flags,
// LSPHOST_-prefixed environment variables, and a .lsphost.yml configuration
// file in the working directory.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "lsphost",
	Short: "A language server host coordinating builds and indexing",
	Long: `lsphost sits between editors and language backends. It serializes
per-connection message handling, resolves per-file build settings over a
primary and a fallback build system, and schedules target preparation and
index updates with priority-aware admission control.

Quick Start:
  lsphost serve                  Start the host
  lsphost version                Show version information`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .lsphost.yml)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
}
