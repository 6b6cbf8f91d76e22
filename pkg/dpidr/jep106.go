package dpidr

import "fmt"

// designers maps packed JEP106 codes (continuation count in the upper four
// bits) to the designers seen in debug port and TARGETID registers.
var designers = map[uint16]Designer{
	0x017: {Code: 0x017, Name: "Texas Instruments", Abbreviation: "TI"},
	0x020: {Code: 0x020, Name: "STMicroelectronics", Abbreviation: "STM"},
	0x01F: {Code: 0x01F, Name: "Atmel", Abbreviation: "Atmel"},
	0x025: {Code: 0x025, Name: "Analog Devices", Abbreviation: "ADI"},
	0x029: {Code: 0x029, Name: "Microchip", Abbreviation: "Microchip"},
	0x041: {Code: 0x041, Name: "Infineon", Abbreviation: "Infineon"},
	0x23B: {Code: 0x23B, Name: "Arm Ltd", Abbreviation: "ARM"},
	0x2BB: {Code: 0x2BB, Name: "NXP Semiconductors", Abbreviation: "NXP"},
	0x244: {Code: 0x244, Name: "Nordic Semiconductor", Abbreviation: "Nordic"},
	0x34E: {Code: 0x34E, Name: "Espressif", Abbreviation: "Espressif"},
	0x493: {Code: 0x493, Name: "Raspberry Pi", Abbreviation: "RPi"},
}

// LookupDesigner returns designer info for a packed JEP106 code.
func LookupDesigner(code uint16) (Designer, bool) {
	d, ok := designers[code]
	if !ok {
		return Designer{
			Code:         code,
			Name:         fmt.Sprintf("Unknown (0x%03X)", code),
			Abbreviation: "Unknown",
		}, false
	}
	return d, true
}
