package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	resetAssert   bool
	resetDeassert bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Control the target reset line",
	Long: `Pulse the target's nRESET line, or hold it in a fixed state.

Examples:
  otswd reset --probe /dev/spidev0.0             # Full reset pulse
  otswd reset --assert --probe /dev/spidev0.0    # Hold reset asserted
  otswd reset --deassert --probe /dev/spidev0.0  # Release reset`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().BoolVar(&resetAssert, "assert", false, "assert nRESET and leave it asserted")
	resetCmd.Flags().BoolVar(&resetDeassert, "deassert", false, "deassert nRESET")
}

func runReset(cmd *cobra.Command, args []string) error {
	if resetAssert && resetDeassert {
		return fmt.Errorf("--assert and --deassert are mutually exclusive")
	}

	session, err := newSession()
	if err != nil {
		return err
	}
	p, err := connectProbe(session)
	if err != nil {
		return err
	}
	defer p.Close()

	switch {
	case resetAssert:
		if err := p.AssertReset(true); err != nil {
			return err
		}
		fmt.Println("nRESET asserted")
	case resetDeassert:
		if err := p.AssertReset(false); err != nil {
			return err
		}
		fmt.Println("nRESET deasserted")
	default:
		if err := p.Reset(); err != nil {
			return err
		}
		fmt.Println("Target reset")
	}
	return nil
}
