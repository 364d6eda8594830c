package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stagefire [flags] <config-file>",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (YAML, JSON or TOML); may also be given positionally")

	// Target flags
	flags.String("base-url", "", "Base URL that step paths are resolved against")
	flags.StringSlice("header", nil, "Additional request header in key=value form (repeatable)")
	flags.Duration("timeout", defaultTimeout, "Per-request timeout")

	// Load control flags
	flags.Int("vus", 0, "Run a constant number of virtual users instead of the configured stages (requires --duration)")
	flags.DurationP("duration", "d", 0, "Duration of the constant --vus stage (e.g. 30s, 1m)")
	flags.Duration("graceful-stop", 0, "Time in-flight iterations get to finish when the schedule ends")
	flags.Int("max-rps", 0, "Global requests per second cap across all virtual users (0 means unlimited)")

	// Output flags
	flags.String("summary-file", "", "Write the structured summary to this file")
	flags.String("summary-format", "json", "Structured summary format: 'json' or 'yaml'")
	flags.Bool("no-color", false, "Disable colors in the text report")
	flags.Bool("progress", false, "Print a live progress line to stderr")
	flags.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	flags.String("log-format", "text", "Log format: 'text' or 'json'")
	flags.String("metrics-addr", "", "Serve live Prometheus metrics on this address (e.g. :9464)")

	// Threshold flags
	flags.StringArray("threshold", nil, "Threshold rule (repeatable, e.g. 'http_req_duration:p95 < 500')")
	flags.Bool("abort-on-fail", false, "Stop the run as soon as a threshold fails during live evaluation")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("base-url") {
		val, err := fs.GetString("base-url")
		if err != nil {
			return err
		}
		cfg.BaseURL = strings.TrimSpace(val)
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("graceful-stop") {
		val, err := fs.GetDuration("graceful-stop")
		if err != nil {
			return err
		}
		cfg.GracefulStop = val
	}
	if fs.Changed("max-rps") {
		val, err := fs.GetInt("max-rps")
		if err != nil {
			return err
		}
		cfg.MaxRPS = val
	}

	if fs.Changed("vus") || fs.Changed("duration") {
		vus, err := fs.GetInt("vus")
		if err != nil {
			return err
		}
		dur, err := fs.GetDuration("duration")
		if err != nil {
			return err
		}
		if !fs.Changed("vus") || !fs.Changed("duration") {
			return fmt.Errorf("--vus and --duration must be used together")
		}
		cfg.StartVUs = vus
		cfg.Stages = []Stage{{Duration: dur, Target: vus}}
	}

	if fs.Changed("summary-file") {
		val, err := fs.GetString("summary-file")
		if err != nil {
			return err
		}
		cfg.SummaryFile = strings.TrimSpace(val)
	}
	if fs.Changed("summary-format") {
		val, err := fs.GetString("summary-format")
		if err != nil {
			return err
		}
		cfg.SummaryFormat = val
	}
	if fs.Changed("no-color") {
		val, err := fs.GetBool("no-color")
		if err != nil {
			return err
		}
		cfg.NoColor = val
	}
	if fs.Changed("progress") {
		val, err := fs.GetBool("progress")
		if err != nil {
			return err
		}
		cfg.Progress = val
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = strings.TrimSpace(val)
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		cfg.LogFormat = strings.TrimSpace(val)
	}
	if fs.Changed("metrics-addr") {
		val, err := fs.GetString("metrics-addr")
		if err != nil {
			return err
		}
		cfg.MetricsAddr = strings.TrimSpace(val)
	}
	if fs.Changed("abort-on-fail") {
		val, err := fs.GetBool("abort-on-fail")
		if err != nil {
			return err
		}
		cfg.AbortOnFail = val
	}

	vals, err := fs.GetStringSlice("header")
	if err != nil {
		return err
	}
	if len(vals) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, entry := range vals {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("header must be in key=value format: %s", entry)
			}
			key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
			if key == "" {
				return fmt.Errorf("header key cannot be empty")
			}
			cfg.Headers[key] = strings.TrimSpace(parts[1])
		}
	}

	if fs.Changed("threshold") {
		val, err := fs.GetStringArray("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds.Rules = append(cfg.Thresholds.Rules, val...)
	}

	return nil
}
