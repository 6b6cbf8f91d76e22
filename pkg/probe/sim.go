package probe

import (
	"fmt"
	"sync"
)

// SimProbe is an in-memory DebugProbe useful for unit tests and for
// exercising the CLI without hardware. It keeps small DP/AP register files,
// records reset activity and can emulate device behavior via hooks.
type SimProbe struct {
	ID string

	// OnReadDP, when set, overrides the register-file lookup.
	OnReadDP func(addr uint8) (uint32, error)
	// OnReadAP, when set, overrides the register-file lookup.
	OnReadAP func(addr uint32) (uint32, error)

	mu        sync.Mutex
	open      bool
	proto     Protocol
	reset     bool
	resets    int
	clockHz   float64
	dpRegs    map[uint8]uint32
	apRegs    map[uint32]uint32
	swoOn     bool
	swoBuf    []byte
	lastSWJ   []byte
	swjBits   int
	seqCalls  int
	setsClock int
}

// NewSimProbe builds a simulator identified by id.
func NewSimProbe(id string) *SimProbe {
	return &SimProbe{
		ID:     id,
		dpRegs: make(map[uint8]uint32),
		apRegs: make(map[uint32]uint32),
	}
}

// SeedDP preloads a DP register value, e.g. an IDCODE at address 0.
func (s *SimProbe) SeedDP(addr uint8, value uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dpRegs[addr] = value
}

// SeedSWO preloads buffered trace data returned by SWORead.
func (s *SimProbe) SeedSWO(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swoBuf = append(s.swoBuf, data...)
}

// ResetCount reports how many full reset pulses were requested.
func (s *SimProbe) ResetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// LastSWJ returns the bit count and data of the most recent SWJ sequence.
func (s *SimProbe) LastSWJ() (int, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swjBits, append([]byte(nil), s.lastSWJ...)
}

func (s *SimProbe) VendorName() string  { return "OpenTraceLab" }
func (s *SimProbe) ProductName() string { return "Simulated probe" }
func (s *SimProbe) UniqueID() string    { return s.ID }

func (s *SimProbe) SupportedWireProtocols() []Protocol {
	return []Protocol{ProtocolDefault, ProtocolSWD}
}

func (s *SimProbe) WireProtocol() Protocol {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proto
}

func (s *SimProbe) Capabilities() Capability {
	return CapSWJSequence | CapSWDSequence | CapSWO
}

func (s *SimProbe) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *SimProbe) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	return nil
}

func (s *SimProbe) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.proto = ProtocolNone
	return nil
}

func (s *SimProbe) Connect(proto Protocol) error {
	resolved, err := Resolve(proto, s.SupportedWireProtocols(), ProtocolSWD)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proto = resolved
	return nil
}

func (s *SimProbe) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proto = ProtocolNone
	return nil
}

func (s *SimProbe) SetClock(hz float64) error {
	if hz <= 0 {
		return fmt.Errorf("%w: clock %v Hz", ErrInvalidArgument, hz)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clockHz = hz
	s.setsClock++
	return nil
}

func (s *SimProbe) Reset() error {
	if err := s.AssertReset(true); err != nil {
		return err
	}
	if err := s.AssertReset(false); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	return nil
}

func (s *SimProbe) AssertReset(asserted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset = asserted
	return nil
}

func (s *SimProbe) IsResetAsserted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reset
}

func (s *SimProbe) ReadDP(addr uint8, now bool) (Deferred, error) {
	read := func() (uint32, error) {
		if s.OnReadDP != nil {
			return s.OnReadDP(addr)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.dpRegs[addr], nil
	}
	return DeferRead(read, now)
}

func (s *SimProbe) WriteDP(addr uint8, value uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dpRegs[addr] = value
	return nil
}

func (s *SimProbe) ReadAP(addr uint32, now bool) (Deferred, error) {
	read := func() (uint32, error) {
		if s.OnReadAP != nil {
			return s.OnReadAP(addr)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.apRegs[addr], nil
	}
	return DeferRead(read, now)
}

func (s *SimProbe) WriteAP(addr uint32, value uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apRegs[addr] = value
	return nil
}

func (s *SimProbe) ReadAPMultiple(addr uint32, count int, now bool) (DeferredSlice, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: count %d", ErrInvalidArgument, count)
	}
	read := func() ([]uint32, error) {
		values := make([]uint32, count)
		for i := range values {
			d, err := s.ReadAP(addr, true)
			if err != nil {
				return nil, err
			}
			if values[i], err = d(); err != nil {
				return nil, err
			}
		}
		return values, nil
	}
	return DeferReadSlice(read, now)
}

func (s *SimProbe) WriteAPMultiple(addr uint32, values []uint32) error {
	for _, v := range values {
		if err := s.WriteAP(addr, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *SimProbe) SWJSequence(bits int, data []byte) error {
	if bits <= 0 || bits > 256 {
		return fmt.Errorf("%w: swj sequence of %d bits", ErrInvalidArgument, bits)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swjBits = bits
	s.lastSWJ = append([]byte(nil), data...)
	return nil
}

func (s *SimProbe) SWDSequence(seqs []SWDSequence) ([][]byte, error) {
	s.mu.Lock()
	s.seqCalls++
	s.mu.Unlock()

	var captured [][]byte
	for _, seq := range seqs {
		if seq.Cycles < 1 || seq.Cycles > 64 {
			return nil, fmt.Errorf("%w: sequence of %d cycles", ErrInvalidArgument, seq.Cycles)
		}
		if seq.IsInput() {
			captured = append(captured, make([]byte, (seq.Cycles+7)/8))
		}
	}
	return captured, nil
}

func (s *SimProbe) SWOStart(baudrate float64) error {
	if baudrate <= 0 {
		return fmt.Errorf("%w: baudrate %v", ErrInvalidArgument, baudrate)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swoOn = true
	return nil
}

func (s *SimProbe) SWOStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swoOn = false
	return nil
}

func (s *SimProbe) SWORead() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.swoOn {
		return nil, Unsupported("swo read while stopped")
	}
	out := s.swoBuf
	s.swoBuf = nil
	return out, nil
}
