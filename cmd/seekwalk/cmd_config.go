package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/seekwalk/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage seekwalk configuration",
		Long: `View and modify seekwalk configuration settings.

Configuration is stored in ~/.seekwalk/config.yaml. SEEKWALK_* environment
variables override the file.

Examples:
  seekwalk config list                             # Effective settings
  seekwalk config get simulation.target_value
  seekwalk config set simulation.decay_factor 0.98
  seekwalk config set scheduler.initial_total 5s
  seekwalk config path`,
	}

	cmd.AddCommand(
		newConfigListCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
		newConfigPathCmd(),
	)
	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			cfg, err := config.LoadPath(configPath(cmd))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", configPath(cmd), data)
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key := args[0]

			cfg, err := config.LoadPath(configPath(cmd))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			value, found := getConfigValue(cfg, key)
			if !found {
				return fmt.Errorf("unknown configuration key: %s", key)
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]any{"key": key, "value": value})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key, value := args[0], args[1]
			path := configPath(cmd)

			// Edit the file alone so environment overrides are not persisted.
			cfg := config.Default()
			if _, err := os.Stat(path); err == nil {
				if cfg, err = config.LoadFromFile(path); err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			}

			if err := setConfigValue(cfg, key, value); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]any{"status": "updated", "key": key, "value": value})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), configPath(cmd))
		},
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.SeekwalkConfig, key string) (any, bool) {
	switch key {
	case "simulation.desired_successes":
		return cfg.Simulation.DesiredSuccesses, true
	case "simulation.target_value":
		return cfg.Simulation.TargetValue, true
	case "simulation.initial_prob":
		return cfg.Simulation.InitialProb, true
	case "simulation.decay_factor":
		return cfg.Simulation.DecayFactor, true
	case "simulation.iteration_safety_cap":
		return cfg.Simulation.IterationSafetyCap, true
	case "simulation.seed":
		return cfg.Simulation.Seed, true
	case "scheduler.initial_total":
		return cfg.Scheduler.InitialTotal.String(), true
	case "scheduler.initial_per_attempt":
		return cfg.Scheduler.InitialPerAttempt.String(), true
	case "scheduler.extended_total":
		return cfg.Scheduler.ExtendedTotal.String(), true
	case "scheduler.extended_per_attempt":
		return cfg.Scheduler.ExtendedPerAttempt.String(), true
	case "scheduler.unlimited_per_attempt":
		return cfg.Scheduler.UnlimitedPerAttempt.String(), true
	case "scheduler.soft_warning":
		return cfg.Scheduler.SoftWarning.String(), true
	case "scheduler.hard_abort":
		return cfg.Scheduler.HardAbort.String(), true
	case "scheduler.auto_continue":
		return cfg.Scheduler.AutoContinue, true
	case "visualization.mode":
		return cfg.Visualization.Mode, true
	case "visualization.color_scaling":
		return cfg.Visualization.ColorScaling, true
	case "visualization.histogram_buckets":
		return cfg.Visualization.HistogramBuckets, true
	case "visualization.open_browser":
		return cfg.Visualization.OpenBrowser, true
	case "logging.level":
		return cfg.Logging.Level, true
	case "logging.dir":
		return cfg.Logging.Dir, true
	case "store.path":
		return cfg.Store.Path, true
	case "store.disabled":
		return cfg.Store.Disabled, true
	case "telemetry.enabled":
		return cfg.Telemetry.Enabled, true
	case "telemetry.endpoint":
		return cfg.Telemetry.Endpoint, true
	case "telemetry.service_name":
		return cfg.Telemetry.ServiceName, true
	default:
		return nil, false
	}
}

// setConfigValue sets a configuration value by dot-notation key. Range
// checks are left to SeekwalkConfig.Validate.
func setConfigValue(cfg *config.SeekwalkConfig, key, value string) error {
	var err error
	switch key {
	case "simulation.desired_successes":
		cfg.Simulation.DesiredSuccesses, err = parseInt(value)
	case "simulation.target_value":
		cfg.Simulation.TargetValue, err = parseInt(value)
	case "simulation.initial_prob":
		cfg.Simulation.InitialProb, err = parseFloat(value)
	case "simulation.decay_factor":
		cfg.Simulation.DecayFactor, err = parseFloat(value)
	case "simulation.iteration_safety_cap":
		cfg.Simulation.IterationSafetyCap, err = parseInt(value)
	case "simulation.seed":
		cfg.Simulation.Seed, err = strconv.ParseInt(value, 10, 64)
	case "scheduler.initial_total":
		cfg.Scheduler.InitialTotal, err = parseDuration(value)
	case "scheduler.initial_per_attempt":
		cfg.Scheduler.InitialPerAttempt, err = parseDuration(value)
	case "scheduler.extended_total":
		cfg.Scheduler.ExtendedTotal, err = parseDuration(value)
	case "scheduler.extended_per_attempt":
		cfg.Scheduler.ExtendedPerAttempt, err = parseDuration(value)
	case "scheduler.unlimited_per_attempt":
		cfg.Scheduler.UnlimitedPerAttempt, err = parseDuration(value)
	case "scheduler.soft_warning":
		cfg.Scheduler.SoftWarning, err = parseDuration(value)
	case "scheduler.hard_abort":
		cfg.Scheduler.HardAbort, err = parseDuration(value)
	case "scheduler.auto_continue":
		cfg.Scheduler.AutoContinue = parseBool(value)
	case "visualization.mode":
		cfg.Visualization.Mode = value
	case "visualization.color_scaling":
		cfg.Visualization.ColorScaling = value
	case "visualization.histogram_buckets":
		cfg.Visualization.HistogramBuckets, err = parseInt(value)
	case "visualization.open_browser":
		cfg.Visualization.OpenBrowser = parseBool(value)
	case "logging.level":
		cfg.Logging.Level = value
	case "logging.dir":
		cfg.Logging.Dir = value
	case "store.path":
		cfg.Store.Path = value
	case "store.disabled":
		cfg.Store.Disabled = parseBool(value)
	case "telemetry.enabled":
		cfg.Telemetry.Enabled = parseBool(value)
	case "telemetry.endpoint":
		cfg.Telemetry.Endpoint = value
	case "telemetry.service_name":
		cfg.Telemetry.ServiceName = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %q", key, value)
	}
	return nil
}

func parseInt(s string) (int, error) { return strconv.Atoi(s) }

func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func parseDuration(s string) (time.Duration, error) { return time.ParseDuration(s) }

func parseBool(s string) bool { return s == "true" || s == "1" }
