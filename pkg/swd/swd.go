// Package swd implements the ARM Serial Wire Debug transfer protocol at the
// bit level: request packets, acknowledge phase, data phase with parity,
// turnaround and idle cycles, line reset and the JTAG-to-SWD switch. It is
// transport-agnostic; callers supply a Wire that shifts bits on SWDIO/SWCLK.
package swd

import "math/bits"

// Acknowledge responses, LSB first on the wire.
const (
	AckOK    = 0b001
	AckWait  = 0b010
	AckFault = 0b100
)

// Request packet framing bits, LSB first: Start, APnDP, RnW, A2, A3, parity,
// Stop, Park.
const (
	reqStart = 1 << 0
	reqAPnDP = 1 << 1
	reqRnW   = 1 << 2
	reqA2    = 1 << 3
	reqA3    = 1 << 4
	reqPar   = 1 << 5
	reqPark  = 1 << 7
)

// Request builds the 8-bit SWD request packet for a DP or AP register access.
// Only bits [3:2] of addr select the register within the current bank.
func Request(ap, read bool, addr uint8) byte {
	req := byte(reqStart | reqPark)
	n := 0
	if ap {
		req |= reqAPnDP
		n++
	}
	if read {
		req |= reqRnW
		n++
	}
	if addr&0x4 != 0 {
		req |= reqA2
		n++
	}
	if addr&0x8 != 0 {
		req |= reqA3
		n++
	}
	if n%2 != 0 {
		req |= reqPar
	}
	return req
}

// Parity32 returns the even-parity bit of a 32-bit data word.
func Parity32(v uint32) byte {
	return byte(bits.OnesCount32(v) & 1)
}

// Wire shifts bits on the SWD lines. Data is LSB first. The host owns SWDIO
// after construction and after every Turnaround(false); Turnaround(toTarget)
// clocks the single turnaround cycle while handing the line over.
type Wire interface {
	// WriteBits drives n bits of data onto SWDIO, one per clock.
	WriteBits(data []byte, n int) error
	// ReadBits samples n bits of SWDIO driven by the target.
	ReadBits(n int) ([]byte, error)
	// Turnaround clocks one cycle with SWDIO undriven, transferring line
	// ownership to the target (true) or back to the host (false).
	Turnaround(toTarget bool) error
}
