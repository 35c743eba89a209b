package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/bootgate/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	Long: `Write a sample bootgate configuration file with every default spelled out.

By default the file is created at $XDG_CONFIG_HOME/bootgate/bootgate.yaml.
Use --config to choose another path.

Examples:
  bootgate config init
  bootgate config init --config ./bootgate.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)

	var err error
	if path != "" {
		err = config.InitConfigToPath(path, initForce)
	} else {
		path, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Set database.url and probe.host for your deployment")
	_, _ = fmt.Fprintln(out, "  2. Check it with: bootgate config validate")
	_, _ = fmt.Fprintf(out, "  3. Bootstrap with: bootgate up --config %s\n", path)
	return nil
}
