package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	configPath string
	probeID    string
)

var rootCmd = &cobra.Command{
	Use:   "otswd",
	Short: "OpenTraceSWD - SWD debug probe tools",
	Long: `OpenTraceSWD (otswd) talks to ARM targets over Serial Wire Debug through
pluggable probe backends: the Raspberry Pi GPIO header or a CMSIS-DAP USB
probe.

Examples:
  otswd list                                  # Enumerate connected probes
  otswd info --probe /dev/spidev0.0           # Show probe identity
  otswd reset --probe /dev/spidev0.0          # Pulse target reset
  otswd dap idcode --probe 2e8a:000c          # Read the DP IDCODE
  otswd swo --probe 2e8a:000c --baud 2000000  # Capture SWO trace`,
	Version: "0.1.0",
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML file of session option values")
	rootCmd.PersistentFlags().StringVarP(&probeID, "probe", "p", "", "probe unique id (spidev path, VID:PID[:serial], or 'sim')")
}
