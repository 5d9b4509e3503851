package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidsonq/modelforge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and persist configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if path := viper.ConfigFileUsed(); path != "" {
			fmt.Printf("# loaded from %s\n", path)
		} else {
			fmt.Println("# built-in defaults (no config file)")
		}
		data, err := config.ToYAML(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var configWriteCmd = &cobra.Command{
	Use:   "write",
	Short: "Persist the effective configuration to the config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := viper.ConfigFileUsed()
		if path == "" {
			path = filepath.Join(config.DefaultDataDir(), "config.yaml")
		}
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configWriteCmd)
}
