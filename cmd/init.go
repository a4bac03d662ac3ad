package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/lsphost/internal/config"
)

// initCmd writes a starter configuration file.
var initCmd = &cobra.Command{
	Use:     "init",
	Aliases: []string{"i"},
	Short:   "Write a default .lsphost.yml configuration file",
	RunE:    runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().Bool("force", false, "overwrite an existing configuration file")
}

func runInit(cmd *cobra.Command, _ []string) error {
	const path = ".lsphost.yml"
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.Config{
		Server: config.ServerConfig{Host: "localhost", Port: 8600},
		Log:    config.LogConfig{Level: "info", Format: "text"},
		Watch: config.WatchConfig{
			Paths:      []string{"."},
			Ignore:     []string{".git", ".build", "node_modules"},
			DebounceMs: 100,
		},
		Scheduler: config.SchedulerConfig{
			Concurrency: []config.ConcurrencyEntry{
				{Priority: "high", MaxConcurrentTasks: 4},
				{Priority: "low", MaxConcurrentTasks: 2},
			},
		},
		Fallback: config.FallbackConfig{
			Arguments: map[string][]string{
				"c":   {"-fsyntax-only"},
				"cpp": {"-fsyntax-only"},
			},
		},
		Index: config.IndexConfig{StorePath: ".lsphost/index.db"},
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
