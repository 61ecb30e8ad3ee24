package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wallvault/wallvault/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample wallvault configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/wallvault/config.yaml. Use --config to specify a custom path.

Examples:
  # Initialize with default location
  wallvault init

  # Initialize with custom path
  wallvault init --config /etc/wallvault/config.yaml

  # Force overwrite existing config
  wallvault init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to point at your PostgreSQL, S3 and NATS endpoints")
	fmt.Println("  2. Run the migrations with: wallvault migrate")
	fmt.Printf("  3. Start the service with: wallvault serve --config %s\n", configPath)
	fmt.Println("\nAll settings can also be provided through WALLVAULT_* environment variables.")

	return nil
}
