package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	swoBaud     float64
	swoDuration time.Duration
)

var swoCmd = &cobra.Command{
	Use:   "swo",
	Short: "Capture SWO trace data",
	Long: `Start SWO trace reception and dump received bytes to stdout until the
capture window elapses. The probe's buffer is polled continuously; a probe
without SWO support fails with an unsupported-operation error.`,
	RunE: runSWO,
}

func init() {
	rootCmd.AddCommand(swoCmd)

	swoCmd.Flags().Float64Var(&swoBaud, "baud", 1_000_000, "SWO baudrate in Hz")
	swoCmd.Flags().DurationVar(&swoDuration, "duration", 5*time.Second, "capture window")
}

func runSWO(cmd *cobra.Command, args []string) error {
	session, err := newSession()
	if err != nil {
		return err
	}
	p, err := connectProbe(session)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.SWOStart(swoBaud); err != nil {
		return err
	}
	defer p.SWOStop()

	deadline := time.Now().Add(swoDuration)
	total := 0
	for time.Now().Before(deadline) {
		data, err := p.SWORead()
		if err != nil {
			return err
		}
		if len(data) == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		os.Stdout.Write(data)
		total += len(data)
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "\ncaptured %d bytes\n", total)
	}
	return nil
}
