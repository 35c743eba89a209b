// Package commands implements the bootgate CLI.
package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/marmos91/bootgate/cmd/bootgate/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "bootgate",
	Short: "bootgate - ordered container bootstrap",
	Long: `bootgate brings a service up in three gated stages:

  1. probe    wait until the database accepts TCP connections
  2. migrate  apply pending SQL migrations exactly once
  3. launch   start the service once migrations succeeded

Each stage starts only after the previous one exited 0. A failing stage
stops the run with a distinct exit code:

  0 ok, 1 configuration error, 2 probe timeout, 3 migration failure,
  4 launch failure

Use "bootgate [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx; cancelling ctx stops
// whichever stage is running.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/bootgate/bootgate.yaml, optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (DEBUG|INFO|WARN|ERROR)")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
