package cmd

import (
	"github.com/spf13/cobra"

	"github.com/victorjacobs/go-vallox/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "go-vallox",
	Short: "Vallox Digit SE to MQTT bridge",
	Long: `go-vallox talks to a Vallox Digit SE ventilation unit over its RS-485 bus,
posing as a wall panel, and mirrors the unit's state to MQTT with Home
Assistant discovery.

Without a subcommand it runs the bridge. The bus is reached through a local
serial adapter or a network serial bridge over WebSocket, as configured in
the YAML configuration file.`,
	SilenceUsage: true,
	RunE:         runBridge,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Configuration file")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
