package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/lsphost/internal/buildsettings"
	"github.com/conneroisu/lsphost/internal/buildsystem"
	"github.com/conneroisu/lsphost/internal/config"
	"github.com/conneroisu/lsphost/internal/host"
	"github.com/conneroisu/lsphost/internal/index"
	"github.com/conneroisu/lsphost/internal/interfaces"
	"github.com/conneroisu/lsphost/internal/logging"
	"github.com/conneroisu/lsphost/internal/scheduler"
	"github.com/conneroisu/lsphost/internal/types"
	"github.com/conneroisu/lsphost/internal/watcher"
)

// serveCmd starts the host.
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the language server host",
	RunE:    runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "bind address (overrides config)")
	serveCmd.Flags().Int("port", 0, "bind port (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if hostFlag, _ := cmd.Flags().GetString("host"); hostFlag != "" {
		cfg.Server.Host = hostFlag
	}
	if portFlag, _ := cmd.Flags().GetInt("port"); portFlag != 0 {
		cfg.Server.Port = portFlag
	}
	level := cfg.Log.Level
	if cmd.Flags().Changed("log-level") {
		level, _ = cmd.Flags().GetString("log-level")
	}

	logger := logging.New(&logging.Config{
		Level:  logging.ParseLevel(level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, err := scheduler.NewTaskScheduler(concurrencyTable(cfg), logger)
	if err != nil {
		return err
	}
	defer sched.Shutdown()

	fallbackArgs := make(map[types.Language][]string, len(cfg.Fallback.Arguments))
	for language, args := range cfg.Fallback.Arguments {
		fallbackArgs[types.Language(language)] = args
	}
	fallback := buildsystem.NewFallback(fallbackArgs, cfg.Fallback.WorkingDirectory)

	settings := buildsettings.NewManager(nil, fallback, nil, logger)
	defer settings.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.Index.StorePath), 0o755); err != nil {
		return fmt.Errorf("creating index store directory: %w", err)
	}
	store, err := index.Open(cfg.Index.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	orchestrator := index.NewOrchestrator(sched, store, settings, nil, logger)
	languageHost := host.New(settings, sched, orchestrator, logger)

	fileWatcher, err := watcher.New(time.Duration(cfg.Watch.DebounceMs)*time.Millisecond, logger)
	if err != nil {
		return err
	}
	defer fileWatcher.Stop()
	fileWatcher.AddFilter(ignoreFilter(cfg.Watch.Ignore))
	fileWatcher.AddHandler(languageHost.FilesDidChange)
	for _, path := range cfg.Watch.Paths {
		if err := fileWatcher.AddRecursive(path); err != nil {
			logger.Warn(ctx, err, "failed to watch path", "path", path)
		}
	}
	fileWatcher.Start(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info(ctx, "starting host", "addr", addr)
	server := host.NewServer(languageHost, addr)
	return server.ListenAndServe(ctx)
}

// concurrencyTable converts the configured (priority, cap) entries, falling
// back to the test-mode default table when none are configured.
func concurrencyTable(cfg *config.Config) scheduler.MaxConcurrencyTable {
	if len(cfg.Scheduler.Concurrency) == 0 {
		return scheduler.DefaultTestTable()
	}
	table := make(scheduler.MaxConcurrencyTable, 0, len(cfg.Scheduler.Concurrency))
	for _, entry := range cfg.Scheduler.Concurrency {
		table = append(table, scheduler.ConcurrencyLimit{
			Priority:           types.PriorityFromString(entry.Priority),
			MaxConcurrentTasks: entry.MaxConcurrentTasks,
		})
	}
	return table
}

// ignoreFilter excludes paths containing any of the configured ignore
// fragments.
func ignoreFilter(ignore []string) interfaces.FileFilter {
	return interfaces.FileFilterFunc(func(path string) bool {
		for _, fragment := range ignore {
			if fragment != "" && strings.Contains(path, fragment) {
				return false
			}
		}
		return true
	})
}
