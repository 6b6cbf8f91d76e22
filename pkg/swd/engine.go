package swd

import (
	"encoding/binary"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceSWD/pkg/probe"
)

const (
	// DefaultIdleCycles is the number of low cycles driven after each
	// transfer so the target can complete it.
	DefaultIdleCycles = 8
	// DefaultWaitRetries bounds how often a transfer is reissued after a
	// WAIT acknowledge before giving up.
	DefaultWaitRetries = 8

	// lineResetCycles is the number of high cycles of a line reset. The
	// architecture requires at least 50.
	lineResetCycles = 51
)

// jtagToSWDSelect is the 16-bit JTAG-to-SWD switch sequence, LSB first.
var jtagToSWDSelect = []byte{0x9E, 0xE7}

// Engine runs SWD transactions over a Wire. It is not safe for concurrent
// use; the owning probe serializes access.
type Engine struct {
	wire Wire

	// IdleCycles and WaitRetries may be tuned before first use.
	IdleCycles  int
	WaitRetries int
}

// New builds an engine with default idle and retry policy.
func New(wire Wire) *Engine {
	return &Engine{
		wire:        wire,
		IdleCycles:  DefaultIdleCycles,
		WaitRetries: DefaultWaitRetries,
	}
}

// Read performs one DP (ap=false) or AP (ap=true) register read.
func (e *Engine) Read(ap bool, addr uint8) (uint32, error) {
	req := []byte{Request(ap, true, addr)}

	for attempt := 0; ; attempt++ {
		if err := e.wire.WriteBits(req, 8); err != nil {
			return 0, err
		}
		if err := e.wire.Turnaround(true); err != nil {
			return 0, err
		}
		ack, err := e.readAck()
		if err != nil {
			return 0, err
		}

		switch ack {
		case AckOK:
			data, err := e.wire.ReadBits(33)
			if err != nil {
				return 0, err
			}
			if err := e.wire.Turnaround(false); err != nil {
				return 0, err
			}
			if err := e.Idle(e.IdleCycles); err != nil {
				return 0, err
			}
			value := binary.LittleEndian.Uint32(data[:4])
			parity := data[4] & 1
			if parity != Parity32(value) {
				return 0, fmt.Errorf("%w: read parity mismatch on %s", probe.ErrHardwareFault, regName(ap, addr))
			}
			return value, nil

		case AckWait:
			if err := e.endStalledTransfer(); err != nil {
				return 0, err
			}
			if attempt >= e.WaitRetries {
				return 0, fmt.Errorf("%w: target kept WAITing on %s", probe.ErrTimeout, regName(ap, addr))
			}

		case AckFault:
			if err := e.endStalledTransfer(); err != nil {
				return 0, err
			}
			return 0, fmt.Errorf("%w: FAULT ack on %s", probe.ErrHardwareFault, regName(ap, addr))

		default:
			return 0, e.protocolError(ack, regName(ap, addr))
		}
	}
}

// Write performs one DP or AP register write.
func (e *Engine) Write(ap bool, addr uint8, value uint32) error {
	req := []byte{Request(ap, false, addr)}

	var payload [5]byte
	binary.LittleEndian.PutUint32(payload[:4], value)
	payload[4] = Parity32(value)

	for attempt := 0; ; attempt++ {
		if err := e.wire.WriteBits(req, 8); err != nil {
			return err
		}
		if err := e.wire.Turnaround(true); err != nil {
			return err
		}
		ack, err := e.readAck()
		if err != nil {
			return err
		}
		if err := e.wire.Turnaround(false); err != nil {
			return err
		}

		switch ack {
		case AckOK:
			if err := e.wire.WriteBits(payload[:], 33); err != nil {
				return err
			}
			return e.Idle(e.IdleCycles)

		case AckWait:
			if err := e.Idle(e.IdleCycles); err != nil {
				return err
			}
			if attempt >= e.WaitRetries {
				return fmt.Errorf("%w: target kept WAITing on %s", probe.ErrTimeout, regName(ap, addr))
			}

		case AckFault:
			if err := e.Idle(e.IdleCycles); err != nil {
				return err
			}
			return fmt.Errorf("%w: FAULT ack on %s", probe.ErrHardwareFault, regName(ap, addr))

		default:
			return e.protocolError(ack, regName(ap, addr))
		}
	}
}

// LineReset drives SWDIO high for at least 50 cycles, returning the target's
// SWD interface to its reset state, then idles the line.
func (e *Engine) LineReset() error {
	high := make([]byte, (lineResetCycles+7)/8)
	for i := range high {
		high[i] = 0xFF
	}
	if err := e.wire.WriteBits(high, lineResetCycles); err != nil {
		return err
	}
	return e.Idle(e.IdleCycles)
}

// JTAGToSWD switches a SWJ-DP from its default JTAG mode to SWD: line reset,
// the 0xE79E select sequence, another line reset, then idle cycles.
func (e *Engine) JTAGToSWD() error {
	high := make([]byte, (lineResetCycles+7)/8)
	for i := range high {
		high[i] = 0xFF
	}
	if err := e.wire.WriteBits(high, lineResetCycles); err != nil {
		return err
	}
	if err := e.wire.WriteBits(jtagToSWDSelect, 16); err != nil {
		return err
	}
	if err := e.wire.WriteBits(high, lineResetCycles); err != nil {
		return err
	}
	return e.Idle(e.IdleCycles)
}

// Idle drives SWDIO low for n cycles.
func (e *Engine) Idle(n int) error {
	if n <= 0 {
		return nil
	}
	return e.wire.WriteBits(make([]byte, (n+7)/8), n)
}

func (e *Engine) readAck() (byte, error) {
	bits, err := e.wire.ReadBits(3)
	if err != nil {
		return 0, err
	}
	return bits[0] & 0x7, nil
}

// endStalledTransfer hands the line back to the host after a WAIT or FAULT
// acknowledge of a read, where no data phase follows, and idles the line.
func (e *Engine) endStalledTransfer() error {
	if err := e.wire.Turnaround(false); err != nil {
		return err
	}
	return e.Idle(e.IdleCycles)
}

// protocolError recovers from an acknowledge that is neither OK, WAIT nor
// FAULT: the target is out of sync, so reset the line before reporting.
func (e *Engine) protocolError(ack byte, reg string) error {
	if err := e.wire.Turnaround(false); err != nil {
		return err
	}
	if err := e.LineReset(); err != nil {
		return err
	}
	return fmt.Errorf("%w: protocol error (ack %03b) on %s", probe.ErrHardwareFault, ack, reg)
}

func regName(ap bool, addr uint8) string {
	if ap {
		return fmt.Sprintf("AP[%#x]", addr)
	}
	return fmt.Sprintf("DP[%#x]", addr)
}
