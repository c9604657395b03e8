package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgbasebackup/agent/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample pgbasebackup-agent configuration file.

The configuration file is always created at
$XDG_CONFIG_HOME/pgbasebackup/config.yaml. This command does not accept the
global --config flag and fails if it is set.

Examples:
  pgbasebackup-agent init
  pgbasebackup-agent init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath != "" {
		return fmt.Errorf("--config with an explicit path is not supported by init; edit %s directly or omit --config to use the default location", configPath)
	}

	path, err := config.InitConfig(initForce)
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to add at least one site")
	fmt.Printf("  2. Start the agent with: pgbasebackup-agent agent --config %s\n", path)

	return nil
}
