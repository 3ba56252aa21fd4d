package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/seekwalk/internal/config"
	"github.com/nvandessel/seekwalk/internal/logging"
	"github.com/nvandessel/seekwalk/internal/store"
	"github.com/nvandessel/seekwalk/internal/telemetry"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "seekwalk",
		Short: "Seekwalk - phased simulation of state-dependent random walks",
		Long: `seekwalk runs batches of random walks whose up-probability decays as
they progress, collects the runs that reach a target value within phased
time budgets, and renders where the runs spent their time as a density.

Batches are recorded in ~/.seekwalk/history.db and can be re-rendered,
exported to archives, or served to a browser.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.seekwalk/config.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newDensityCmd(),
		newStatsCmd(),
		newHistoryCmd(),
		newExportCmd(),
		newImportCmd(),
		newPruneCmd(),
		newConfigCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				printJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "seekwalk version %s\n", version)
			}
		},
	}
}

// configPath returns the --config flag or the default config file.
func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	return config.DefaultPath()
}

// loadConfig loads and validates the configuration for cmd.
func loadConfig(cmd *cobra.Command) (*config.SeekwalkConfig, error) {
	cfg, err := config.LoadPath(configPath(cmd))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openStore opens the batch history. Disabled history yields an in-memory
// store so commands still work within one process.
func openStore(cfg *config.SeekwalkConfig) (store.HistoryStore, error) {
	if cfg.Store.Disabled {
		return store.NewInMemoryStore(), nil
	}
	hs, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return hs, nil
}

// newLoggers builds the stderr logger and the optional event trail.
func newLoggers(cfg *config.SeekwalkConfig, stderr io.Writer) (*slog.Logger, *logging.EventLogger) {
	return logging.NewLogger(cfg.Logging.Level, stderr), logging.NewEventLogger(cfg.Logging.Dir, cfg.Logging.Level)
}

// setupTelemetry starts tracing when configured. Failures only warn.
func setupTelemetry(ctx context.Context, cfg *config.SeekwalkConfig, logger *slog.Logger) func() {
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.Settings())
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
