package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceSWD/pkg/probe"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show identity and capabilities of a probe",
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	session, err := newSession()
	if err != nil {
		return err
	}
	p, err := openProbe(session)
	if err != nil {
		return err
	}
	defer p.Close()

	fmt.Printf("Vendor:       %s\n", p.VendorName())
	fmt.Printf("Product:      %s\n", p.ProductName())
	fmt.Printf("Unique ID:    %s\n", p.UniqueID())
	fmt.Printf("Protocols:    %v\n", p.SupportedWireProtocols())
	fmt.Printf("Capabilities:%s\n", capabilityList(p.Capabilities()))
	return nil
}

func capabilityList(c probe.Capability) string {
	out := ""
	for _, entry := range []struct {
		cap  probe.Capability
		name string
	}{
		{probe.CapSWJSequence, "swj-sequence"},
		{probe.CapSWDSequence, "swd-sequence"},
		{probe.CapSWO, "swo"},
		{probe.CapBankedDPRegisters, "banked-dp-registers"},
	} {
		if c.Has(entry.cap) {
			out += " " + entry.name
		}
	}
	if out == "" {
		out = " none"
	}
	return out
}
