package rpi

import (
	"fmt"
	"sync"
	"time"

	"github.com/OpenTraceLab/OpenTraceSWD/pkg/probe"
	"github.com/OpenTraceLab/OpenTraceSWD/pkg/swd"
)

// Option names declared by the Raspberry Pi probe plugin. GPIO numbers use
// Broadcom numbering, not physical pin positions.
const (
	NResetGPIOOption = "rpiprobe.gpio.nreset"
	DIOGPIOOption    = "rpiprobe.gpio.dio"
	CLKGPIOOption    = "rpiprobe.gpio.clk"
)

// Probe adapts the Raspberry Pi's GPIO header to the DebugProbe contract:
// SWD is bit-banged on two GPIO lines, target reset is a third line, and the
// spidev clock generator caps the bit rate. Individual operations lock
// internally, but callers interleaving multi-step sequences from several
// goroutines must coordinate externally.
type Probe struct {
	mu sync.Mutex

	spi     *SPIPort
	gpio    GPIO
	session *probe.Session

	// sleep is replaceable so reset-timing tests need not block.
	sleep func(time.Duration)

	connected     bool
	unsubscribe   func()
	resetAsserted bool
	clockHz       float64

	nreset Pin
	wire   *bitbangWire
	engine *swd.Engine
}

// New builds a probe over the given SPI handle and GPIO controller, taking
// its configuration from the session's options.
func New(spi *SPIPort, gpio GPIO, session *probe.Session) *Probe {
	return &Probe{
		spi:     spi,
		gpio:    gpio,
		session: session,
		sleep:   time.Sleep,
	}
}

func (p *Probe) VendorName() string  { return "Raspberry Pi Foundation" }
func (p *Probe) ProductName() string { return "Raspberry Pi GPIO probe" }

func (p *Probe) UniqueID() string {
	return p.spi.String()
}

func (p *Probe) SupportedWireProtocols() []probe.Protocol {
	return []probe.Protocol{probe.ProtocolDefault, probe.ProtocolSWD}
}

func (p *Probe) WireProtocol() probe.Protocol {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return probe.ProtocolSWD
	}
	return probe.ProtocolNone
}

func (p *Probe) Capabilities() probe.Capability {
	return probe.CapSWJSequence | probe.CapSWDSequence
}

func (p *Probe) IsOpen() bool {
	return p.spi.IsOpen()
}

func (p *Probe) Open() error {
	return p.spi.Open()
}

func (p *Probe) Close() error {
	return p.spi.Close()
}

// Connect claims the configured GPIO pins, brings up the SWD engine and
// subscribes to pin reassignment. Only SWD (or default, resolving to SWD) is
// accepted; a rejected protocol leaves the probe state untouched.
func (p *Probe) Connect(proto probe.Protocol) error {
	if _, err := probe.Resolve(proto, p.SupportedWireProtocols(), probe.ProtocolSWD); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return fmt.Errorf("%w: already connected", probe.ErrInvalidArgument)
	}

	if err := p.setupResetPin(); err != nil {
		return err
	}
	if err := p.setupWire(); err != nil {
		return err
	}

	p.unsubscribe = p.session.Options.Subscribe(p.optionChanged,
		NResetGPIOOption, DIOGPIOOption, CLKGPIOOption)

	p.connected = true
	return nil
}

// Disconnect releases pin ownership and the option subscriptions taken on
// Connect. The SPI handle stays open until Close.
func (p *Probe) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	p.connected = false
	p.nreset = nil
	p.wire = nil
	p.engine = nil
	return nil
}

// SetClock caps both the SPI clock generator and the bit-bang pacing.
func (p *Probe) SetClock(hz float64) error {
	if err := p.spi.SetClock(hz); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clockHz = hz
	if p.wire != nil {
		p.wire.setClock(hz)
	}
	return nil
}

// Reset pulses the nRESET line: assert, hold, deassert, post delay.
func (p *Probe) Reset() error {
	hold, err := p.session.Options.GetFloat(probe.ResetHoldOption)
	if err != nil {
		return err
	}
	post, err := p.session.Options.GetFloat(probe.ResetPostOption)
	if err != nil {
		return err
	}
	if err := p.AssertReset(true); err != nil {
		return err
	}
	p.sleep(secondsToDuration(hold))
	if err := p.AssertReset(false); err != nil {
		return err
	}
	p.sleep(secondsToDuration(post))
	return nil
}

// AssertReset drives nRESET (active low) and records the requested state for
// IsResetAsserted, since the line cannot be read back while driven.
func (p *Probe) AssertReset(asserted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.setupResetPin(); err != nil {
		return err
	}
	if err := p.nreset.Out(!asserted); err != nil {
		return fmt.Errorf("%w: nRESET: %v", probe.ErrHardwareFault, err)
	}
	p.resetAsserted = asserted
	return nil
}

func (p *Probe) IsResetAsserted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resetAsserted
}

func (p *Probe) ReadDP(addr uint8, now bool) (probe.Deferred, error) {
	engine, err := p.engineForTransfer()
	if err != nil {
		return nil, err
	}
	return probe.DeferRead(func() (uint32, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return engine.Read(false, addr)
	}, now)
}

func (p *Probe) WriteDP(addr uint8, value uint32) error {
	engine, err := p.engineForTransfer()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return engine.Write(false, addr, value)
}

func (p *Probe) ReadAP(addr uint32, now bool) (probe.Deferred, error) {
	engine, err := p.engineForTransfer()
	if err != nil {
		return nil, err
	}
	return probe.DeferRead(func() (uint32, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return engine.Read(true, uint8(addr&0xF))
	}, now)
}

func (p *Probe) WriteAP(addr uint32, value uint32) error {
	engine, err := p.engineForTransfer()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return engine.Write(true, uint8(addr&0xF), value)
}

func (p *Probe) ReadAPMultiple(addr uint32, count int, now bool) (probe.DeferredSlice, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: count %d", probe.ErrInvalidArgument, count)
	}
	engine, err := p.engineForTransfer()
	if err != nil {
		return nil, err
	}
	return probe.DeferReadSlice(func() ([]uint32, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		values := make([]uint32, count)
		for i := range values {
			v, err := engine.Read(true, uint8(addr&0xF))
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		return values, nil
	}, now)
}

func (p *Probe) WriteAPMultiple(addr uint32, values []uint32) error {
	engine, err := p.engineForTransfer()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range values {
		if err := engine.Write(true, uint8(addr&0xF), v); err != nil {
			return err
		}
	}
	return nil
}

// SWJSequence shifts up to 256 bits out on SWDIO, LSB first.
func (p *Probe) SWJSequence(bits int, data []byte) error {
	if bits <= 0 || bits > 256 {
		return fmt.Errorf("%w: swj sequence of %d bits", probe.ErrInvalidArgument, bits)
	}
	if (bits+7)/8 > len(data) {
		return fmt.Errorf("%w: swj sequence needs %d bytes, got %d", probe.ErrInvalidArgument, (bits+7)/8, len(data))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wire == nil {
		return probe.Unsupported("swj sequence while disconnected")
	}
	return p.wire.WriteBits(data, bits)
}

// SWDSequence runs mixed output/capture steps on SWDIO, returning one byte
// slice per capture step.
func (p *Probe) SWDSequence(seqs []probe.SWDSequence) ([][]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wire == nil {
		return nil, probe.Unsupported("swd sequence while disconnected")
	}

	var captured [][]byte
	for _, seq := range seqs {
		if seq.Cycles < 1 || seq.Cycles > 64 {
			return nil, fmt.Errorf("%w: sequence of %d cycles", probe.ErrInvalidArgument, seq.Cycles)
		}
		if seq.IsInput() {
			if err := p.wire.Turnaround(true); err != nil {
				return nil, err
			}
			data, err := p.wire.ReadBits(seq.Cycles)
			if err != nil {
				return nil, err
			}
			if err := p.wire.Turnaround(false); err != nil {
				return nil, err
			}
			captured = append(captured, data)
			continue
		}
		if (seq.Cycles+7)/8 > len(seq.Data) {
			return nil, fmt.Errorf("%w: %d cycles from %d bytes", probe.ErrInvalidArgument, seq.Cycles, len(seq.Data))
		}
		if err := p.wire.WriteBits(seq.Data, seq.Cycles); err != nil {
			return nil, err
		}
	}
	return captured, nil
}

// The GPIO header has no SWO-capable UART hookup, so trace stays unsupported
// rather than returning fabricated data.
func (p *Probe) SWOStart(baudrate float64) error { return probe.Unsupported("swo start") }
func (p *Probe) SWOStop() error                  { return probe.Unsupported("swo stop") }
func (p *Probe) SWORead() ([]byte, error)        { return nil, probe.Unsupported("swo read") }

// engineForTransfer returns the live SWD engine or an unsupported error when
// the probe is not connected.
func (p *Probe) engineForTransfer() (*swd.Engine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected || p.engine == nil {
		return nil, probe.Unsupported("transfer while disconnected")
	}
	return p.engine, nil
}

// setupResetPin (re)claims the configured nRESET pin as a deasserted output.
// Callers hold p.mu.
func (p *Probe) setupResetPin() error {
	if p.nreset != nil {
		return nil
	}
	n, err := p.session.Options.GetInt(NResetGPIOOption)
	if err != nil {
		return err
	}
	pin, err := p.gpio.Pin(n)
	if err != nil {
		return err
	}
	if err := pin.Out(true); err != nil {
		return fmt.Errorf("%w: nRESET: %v", probe.ErrHardwareFault, err)
	}
	p.nreset = pin
	return nil
}

// setupWire (re)claims the configured SWDIO/SWCLK pins and rebuilds the
// engine on top. Callers hold p.mu.
func (p *Probe) setupWire() error {
	dioNum, err := p.session.Options.GetInt(DIOGPIOOption)
	if err != nil {
		return err
	}
	clkNum, err := p.session.Options.GetInt(CLKGPIOOption)
	if err != nil {
		return err
	}
	dio, err := p.gpio.Pin(dioNum)
	if err != nil {
		return err
	}
	clk, err := p.gpio.Pin(clkNum)
	if err != nil {
		return err
	}
	wire, err := newBitbangWire(dio, clk)
	if err != nil {
		return err
	}
	if p.clockHz > 0 {
		wire.setClock(p.clockHz)
	}
	p.wire = wire
	p.engine = swd.New(wire)
	return nil
}

// optionChanged reacts to live pin reassignment: the affected pin (or the
// whole wire, for SWDIO/SWCLK) is reclaimed under the new number.
func (p *Probe) optionChanged(n probe.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return
	}
	switch n.Option {
	case NResetGPIOOption:
		p.nreset = nil
		_ = p.setupResetPin()
	case DIOGPIOOption, CLKGPIOOption:
		_ = p.setupWire()
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
