package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceSWD/pkg/dpidr"
	"github.com/OpenTraceLab/OpenTraceSWD/pkg/probe"
)

var dapCmd = &cobra.Command{
	Use:   "dap",
	Short: "Raw DP/AP register access",
}

var dapReadCmd = &cobra.Command{
	Use:   "read {dp|ap} <addr>",
	Short: "Read a DP or AP register",
	Args:  cobra.ExactArgs(2),
	RunE:  runDapRead,
}

var dapWriteCmd = &cobra.Command{
	Use:   "write {dp|ap} <addr> <value>",
	Short: "Write a DP or AP register",
	Args:  cobra.ExactArgs(3),
	RunE:  runDapWrite,
}

var dapIDCodeCmd = &cobra.Command{
	Use:   "idcode",
	Short: "Read the debug port IDCODE",
	RunE:  runDapIDCode,
}

func init() {
	rootCmd.AddCommand(dapCmd)
	dapCmd.AddCommand(dapReadCmd)
	dapCmd.AddCommand(dapWriteCmd)
	dapCmd.AddCommand(dapIDCodeCmd)
}

func parsePort(s string) (ap bool, err error) {
	switch s {
	case "dp":
		return false, nil
	case "ap":
		return true, nil
	default:
		return false, fmt.Errorf("port must be dp or ap, got %q", s)
	}
}

func parseNum(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad number %q: %w", s, err)
	}
	return v, nil
}

func runDapRead(cmd *cobra.Command, args []string) error {
	ap, err := parsePort(args[0])
	if err != nil {
		return err
	}
	addr, err := parseNum(args[1])
	if err != nil {
		return err
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

	var result probe.Deferred
	if ap {
		result, err = p.ReadAP(uint32(addr), true)
	} else {
		result, err = p.ReadDP(uint8(addr), true)
	}
	if err != nil {
		return err
	}
	value, err := result()
	if err != nil {
		return err
	}
	fmt.Printf("0x%08X\n", value)
	return nil
}

func runDapWrite(cmd *cobra.Command, args []string) error {
	ap, err := parsePort(args[0])
	if err != nil {
		return err
	}
	addr, err := parseNum(args[1])
	if err != nil {
		return err
	}
	value, err := parseNum(args[2])
	if err != nil {
		return err
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

	if ap {
		return p.WriteAP(uint32(addr), uint32(value))
	}
	return p.WriteDP(uint8(addr), uint32(value))
}

func runDapIDCode(cmd *cobra.Command, args []string) error {
	session, err := newSession()
	if err != nil {
		return err
	}
	p, err := connectProbe(session)
	if err != nil {
		return err
	}
	defer p.Close()

	// A SWJ-DP powers up in JTAG mode; switch it to SWD before reading.
	if err := switchToSWD(p); err != nil && verbose {
		fmt.Printf("warning: jtag-to-swd switch: %v\n", err)
	}

	result, err := p.ReadDP(0x0, true)
	if err != nil {
		return err
	}
	idcode, err := result()
	if err != nil {
		return err
	}

	id := dpidr.Parse(idcode)
	designer, _ := dpidr.LookupDesigner(id.Designer)
	fmt.Printf("IDCODE:   0x%08X\n", id.Raw)
	fmt.Printf("Designer: %s (0x%03X)\n", designer.Name, id.Designer)
	fmt.Printf("Part:     0x%02X rev %d\n", id.PartNo, id.Revision)
	fmt.Printf("DP:       DPv%d", id.Version)
	if id.Min {
		fmt.Printf(" (minimal)")
	}
	fmt.Println()
	return nil
}

// switchToSWD runs the SWJ sequence moving a SWJ-DP from JTAG to SWD: line
// reset, the 0xE79E select value, another line reset and two idle cycles.
func switchToSWD(p probe.DebugProbe) error {
	high := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if err := p.SWJSequence(51, high); err != nil {
		return err
	}
	if err := p.SWJSequence(16, []byte{0x9E, 0xE7}); err != nil {
		return err
	}
	if err := p.SWJSequence(51, high); err != nil {
		return err
	}
	return p.SWJSequence(8, []byte{0x00})
}
