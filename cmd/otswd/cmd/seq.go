package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var seqBits int

var seqCmd = &cobra.Command{
	Use:   "seq <hex-data>",
	Short: "Shift a raw SWJ bit sequence",
	Long: `Shift up to 256 raw bits out on SWDIO, LSB first, from hex-encoded data.

Examples:
  otswd seq --bits 51 ffffffffffffff --probe /dev/spidev0.0   # Line reset
  otswd seq --bits 16 9ee7 --probe /dev/spidev0.0             # JTAG-to-SWD`,
	Args: cobra.ExactArgs(1),
	RunE: runSeq,
}

func init() {
	rootCmd.AddCommand(seqCmd)

	seqCmd.Flags().IntVar(&seqBits, "bits", 0, "number of bits to shift (defaults to all)")
}

func runSeq(cmd *cobra.Command, args []string) error {
	data, err := hex.DecodeString(args[0])
	if err != nil {
		return fmt.Errorf("bad hex data: %w", err)
	}
	bits := seqBits
	if bits == 0 {
		bits = 8 * len(data)
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

	if err := p.SWJSequence(bits, data); err != nil {
		return err
	}
	if verbose {
		fmt.Printf("shifted %d bits\n", bits)
	}
	return nil
}
