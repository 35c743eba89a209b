package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/bootgate/internal/cli/output"
	"github.com/marmos91/bootgate/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	Long: `Load the configuration file, environment and defaults, and validate
the result.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  bootgate config validate
  DATABASE_URL=sqlite:///tmp/app.db bootgate config validate`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration: %s\n", describeSource(path))
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if warnings := configWarnings(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintln(out, "\nConfiguration summary:")
	return output.PrintPairs(out, summary(cfg))
}

// configWarnings lists settings that are valid but likely unintended.
func configWarnings(cfg *config.Config) []string {
	var warnings []string
	if err := cfg.RequireDatabase(); err != nil {
		warnings = append(warnings, "no database configured: 'migrate' will fail ("+err.Error()+")")
	}
	if cfg.Probe.Deadline == 0 && cfg.Probe.MaxAttempts == 0 {
		warnings = append(warnings, "probe has neither deadline nor max_attempts: it waits until interrupted")
	}
	if cfg.Metrics.PushURL != "" && !cfg.Metrics.Enabled {
		warnings = append(warnings, "metrics.push_url is set but metrics are disabled")
	}
	return warnings
}

func summary(cfg *config.Config) [][2]string {
	driver := cfg.Database.Driver()
	if driver == "" {
		driver = "none"
	}
	migrations := "embedded"
	if cfg.Migrations.Dir != "" {
		migrations = cfg.Migrations.Dir
	}
	command := "bootgate serve"
	if len(cfg.Service.Command) > 0 {
		command = strings.Join(cfg.Service.Command, " ")
	}
	deadline := cfg.Probe.Deadline.String()
	if cfg.Probe.Deadline == 0 {
		deadline = "none"
	}
	return [][2]string{
		{"Probe target", cfg.Probe.Address()},
		{"Probe interval", cfg.Probe.Interval.String()},
		{"Probe deadline", deadline},
		{"Database", driver},
		{"Migrations", migrations},
		{"Service", command},
		{"Service port", strconv.Itoa(cfg.Service.Port)},
		{"Log level", cfg.Logging.Level},
	}
}

func describeSource(path string) string {
	if path != "" {
		return path
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "environment and defaults (no file)"
}
