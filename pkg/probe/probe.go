package probe

import (
	"fmt"
	"sync"
)

// Protocol identifies a wire protocol a probe can drive.
type Protocol int

const (
	// ProtocolNone means the probe is not connected to a target.
	ProtocolNone Protocol = iota
	// ProtocolDefault lets the probe pick its preferred protocol.
	ProtocolDefault
	ProtocolSWD
	ProtocolJTAG
)

func (p Protocol) String() string {
	switch p {
	case ProtocolNone:
		return "none"
	case ProtocolDefault:
		return "default"
	case ProtocolSWD:
		return "swd"
	case ProtocolJTAG:
		return "jtag"
	default:
		return fmt.Sprintf("protocol(%d)", int(p))
	}
}

// Capability is a bit position within a probe's capability mask.
type Capability uint32

const (
	// CapSWJSequence indicates support for raw SWJ bit sequences on SWDIO/TMS.
	CapSWJSequence Capability = 1 << iota
	// CapSWDSequence indicates support for mixed read/write SWDIO sequences.
	CapSWDSequence
	// CapSWO indicates the probe can capture SWO trace data.
	CapSWO
	// CapBankedDPRegisters indicates the probe handles DP register banking.
	CapBankedDPRegisters
)

// Has reports whether all bits of other are set in c.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

// Deferred produces the result of a read transfer that may not have completed
// when the transfer method returned. Calling it more than once returns the
// same result.
type Deferred func() (uint32, error)

// DeferredSlice is the block-transfer variant of Deferred.
type DeferredSlice func() ([]uint32, error)

// SWDSequence describes one step of a raw SWD sequence. Cycles must be in
// [1,64]. A nil Data means the step captures SWDIO input for Cycles clocks;
// otherwise Data is shifted out LSB first.
type SWDSequence struct {
	Cycles int
	Data   []byte
}

// IsInput reports whether the step captures SWDIO rather than driving it.
func (s SWDSequence) IsInput() bool {
	return s.Data == nil
}

// DebugProbe abstracts a physical or virtual debug probe. Implementations
// serialize their own bus access internally, but callers interleaving
// multi-step operation sequences from several goroutines must coordinate
// externally.
type DebugProbe interface {
	// Identity.
	VendorName() string
	ProductName() string
	UniqueID() string
	SupportedWireProtocols() []Protocol
	// WireProtocol returns the connected protocol, or ProtocolNone when
	// disconnected.
	WireProtocol() Protocol
	Capabilities() Capability
	IsOpen() bool

	// Lifecycle.
	Open() error
	Close() error
	Connect(proto Protocol) error
	Disconnect() error

	// SetClock sets the wire clock frequency in Hertz.
	SetClock(hz float64) error

	// Reset asserts the target reset line, waits the configured hold time,
	// deasserts, then waits the configured post delay.
	Reset() error
	AssertReset(asserted bool) error
	// IsResetAsserted returns the last asserted state when the hardware line
	// cannot be read back.
	IsResetAsserted() bool

	// Data transfer. Read operations complete immediately when now is true;
	// the returned Deferred then hands back the cached result. With now
	// false the result is produced when the Deferred is invoked.
	ReadDP(addr uint8, now bool) (Deferred, error)
	WriteDP(addr uint8, value uint32) error
	ReadAP(addr uint32, now bool) (Deferred, error)
	WriteAP(addr uint32, value uint32) error
	ReadAPMultiple(addr uint32, count int, now bool) (DeferredSlice, error)
	WriteAPMultiple(addr uint32, values []uint32) error
	SWJSequence(bits int, data []byte) error
	SWDSequence(seqs []SWDSequence) ([][]byte, error)

	// Trace.
	SWOStart(baudrate float64) error
	SWOStop() error
	SWORead() ([]byte, error)
}

// DeferRead wraps a read transfer per the Deferred contract: with now set the
// transfer runs before returning and the closure replays the cached result;
// otherwise the transfer runs on first invocation of the closure.
func DeferRead(read func() (uint32, error), now bool) (Deferred, error) {
	if !now {
		var (
			once  sync.Once
			value uint32
			err   error
		)
		return func() (uint32, error) {
			once.Do(func() { value, err = read() })
			return value, err
		}, nil
	}
	value, err := read()
	if err != nil {
		return nil, err
	}
	return func() (uint32, error) { return value, nil }, nil
}

// DeferReadSlice is the block-transfer variant of DeferRead.
func DeferReadSlice(read func() ([]uint32, error), now bool) (DeferredSlice, error) {
	if !now {
		var (
			once   sync.Once
			values []uint32
			err    error
		)
		return func() ([]uint32, error) {
			once.Do(func() { values, err = read() })
			return values, err
		}, nil
	}
	values, err := read()
	if err != nil {
		return nil, err
	}
	return func() ([]uint32, error) { return values, nil }, nil
}

// Resolve maps ProtocolDefault to the probe's preferred protocol and
// validates the request against the supported set.
func Resolve(proto Protocol, supported []Protocol, preferred Protocol) (Protocol, error) {
	if proto == ProtocolNone || proto == ProtocolDefault {
		proto = preferred
	}
	for _, s := range supported {
		if s == proto {
			return proto, nil
		}
	}
	return ProtocolNone, fmt.Errorf("%w: wire protocol %s", ErrInvalidArgument, proto)
}
