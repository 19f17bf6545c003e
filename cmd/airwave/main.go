// Command airwave serves the station catalog and player API, and offers
// headless listening and token inspection from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stwalsh4118/airwave/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "airwave",
	Short:         "Resilient live radio player",
	Long:          "airwave plays live radio streams, recovering from network drops and expiring stream tokens.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: ./config.yaml or /etc/airwave/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(inspectCmd)
}

// loadConfig reads the --config file when given, otherwise the default locations
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
