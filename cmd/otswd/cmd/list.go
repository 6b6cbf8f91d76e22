package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceSWD/pkg/probe"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Enumerate connected debug probes",
	Long: `Enumerate connected debug probes across all applicable backends.

Examples:
  otswd list                      # All probes
  otswd list --probe 2e8a:000c    # Only probes matching an id`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	if _, err := newSession(); err != nil {
		return err
	}

	probes, err := probe.AllProbes(probeID)
	if err != nil {
		return fmt.Errorf("enumerate probes: %w", err)
	}
	if len(probes) == 0 {
		fmt.Println("No debug probes found.")
		return nil
	}

	for i, p := range probes {
		fmt.Printf("%d: %s %s [%s]\n", i, p.VendorName(), p.ProductName(), p.UniqueID())
		if verbose {
			fmt.Printf("   protocols: %v\n", p.SupportedWireProtocols())
		}
	}
	return nil
}
