// Package dpidr decodes the ARM debug port identification register read from
// DP address 0x0.
package dpidr

// DPIDR represents a decoded debug port identification register.
type DPIDR struct {
	Raw      uint32 // full register value
	Revision uint8  // [31:28] implementation revision
	PartNo   uint8  // [27:20] designer part number
	Min      bool   // [16] minimal DP, no transaction counter/pushed compare
	Version  uint8  // [15:12] DP architecture version
	Designer uint16 // [11:1] JEP106 designer, continuation count in [11:8]
}

// Designer represents a JEP106 designer entry.
type Designer struct {
	Code         uint16 // packed JEP106 code
	Name         string // "Arm Ltd"
	Abbreviation string // "ARM"
}

// Parse decodes a raw 32-bit DPIDR value into its component fields.
func Parse(raw uint32) DPIDR {
	return DPIDR{
		Raw:      raw,
		Revision: uint8((raw >> 28) & 0xF),
		PartNo:   uint8((raw >> 20) & 0xFF),
		Min:      (raw>>16)&0x1 == 0x1,
		Version:  uint8((raw >> 12) & 0xF),
		Designer: uint16((raw >> 1) & 0x7FF),
	}
}
