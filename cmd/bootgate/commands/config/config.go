// Package config implements configuration management subcommands.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd is the config subcommand.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Manage bootgate configuration.

A configuration file is optional: every key can be set through BOOTGATE_*
environment variables, and DB_HOST, DB_PORT, DATABASE_URL, PORT,
REDIS_HOST and REDIS_PORT are honoured as aliases.

Subcommands:
  init      Write a sample configuration file
  validate  Validate the effective configuration
  show      Display the effective configuration
  schema    Generate JSON schema for IDE/validation`,
}

func init() {
	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(validateCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(schemaCmd)
}

// configPath returns the --config persistent flag.
func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
