package cmsisdap

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/OpenTraceLab/OpenTraceSWD/pkg/probe"
)

// Transfer tuning handed to DAP_TransferConfigure on connect. The probe
// firmware retries WAIT acknowledges itself within this budget.
const (
	transferIdleCycles = 8
	transferWaitRetry  = 64
)

// Probe drives a CMSIS-DAP USB probe through the DebugProbe contract.
// Individual operations lock internally; callers interleaving multi-step
// sequences from several goroutines must coordinate externally.
type Probe struct {
	mu sync.Mutex

	desc    Descriptor
	session *probe.Session

	// openTransport is replaceable so tests run against a scripted fake.
	openTransport func() (Transport, error)
	sleep         func(time.Duration)

	transport Transport
	protocol  *Protocol

	vendor   string
	product  string
	firmware string

	connected     bool
	resetAsserted bool
	swoRunning    bool
}

// NewProbe builds a closed probe for the described USB device.
func NewProbe(desc Descriptor, session *probe.Session) *Probe {
	return &Probe{
		desc:    desc,
		session: session,
		openTransport: func() (Transport, error) {
			return OpenUSB(desc.VID, desc.PID)
		},
		sleep: time.Sleep,
	}
}

func (p *Probe) VendorName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.vendor != "" {
		return p.vendor
	}
	return "CMSIS-DAP"
}

func (p *Probe) ProductName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.product != "" {
		return p.product
	}
	return p.desc.Description
}

func (p *Probe) UniqueID() string {
	return p.desc.UniqueID()
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
	return probe.CapSWJSequence | probe.CapSWDSequence | probe.CapSWO | probe.CapBankedDPRegisters
}

func (p *Probe) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transport != nil
}

// Open claims the USB device and reads the probe's identity strings.
func (p *Probe) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transport != nil {
		return fmt.Errorf("%w: %s already open", probe.ErrInvalidArgument, p.desc.UniqueID())
	}
	t, err := p.openTransport()
	if err != nil {
		return err
	}
	p.transport = t
	p.protocol = NewProtocol(t.PacketSize())

	if err := p.queryInfo(); err != nil {
		t.Close()
		p.transport = nil
		p.protocol = nil
		return err
	}
	return nil
}

// queryInfo fills the identity strings from DAP_Info. Callers hold p.mu.
func (p *Probe) queryInfo() error {
	for _, q := range []struct {
		id   byte
		dest *string
	}{
		{InfoVendorID, &p.vendor},
		{InfoProductID, &p.product},
		{InfoFirmwareVer, &p.firmware},
	} {
		resp, err := p.transport.WriteRead(p.protocol.EncodeInfo(q.id))
		if err != nil {
			return err
		}
		s, err := p.protocol.DecodeInfoString(resp)
		if err != nil {
			return err
		}
		*q.dest = strings.TrimSpace(s)
	}
	return nil
}

func (p *Probe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transport == nil {
		return fmt.Errorf("%w: %s not open", probe.ErrInvalidArgument, p.desc.UniqueID())
	}
	if p.swoRunning {
		p.transport.WriteRead(p.protocol.EncodeSWOControl(false))
		p.swoRunning = false
	}
	if p.connected {
		p.transport.WriteRead(p.protocol.EncodeDisconnect())
		p.connected = false
	}
	err := p.transport.Close()
	p.transport = nil
	p.protocol = nil
	return err
}

// Connect selects the SWD port on the probe and configures transfer retry
// and turnaround behavior.
func (p *Probe) Connect(proto probe.Protocol) error {
	if _, err := probe.Resolve(proto, p.SupportedWireProtocols(), probe.ProtocolSWD); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transport == nil {
		return fmt.Errorf("%w: connect before open", probe.ErrInvalidArgument)
	}

	resp, err := p.transport.WriteRead(p.protocol.EncodeConnect(PortSWD))
	if err != nil {
		return err
	}
	port, err := p.protocol.DecodeConnect(resp)
	if err != nil {
		return err
	}
	if port != PortSWD {
		return fmt.Errorf("%w: probe selected port %d, want SWD", probe.ErrHardwareFault, port)
	}

	resp, err = p.transport.WriteRead(p.protocol.EncodeTransferConfigure(transferIdleCycles, transferWaitRetry, 0))
	if err != nil {
		return err
	}
	if err := p.protocol.DecodeTransferConfigure(resp); err != nil {
		return err
	}

	resp, err = p.transport.WriteRead(p.protocol.EncodeSWDConfigure(1, false))
	if err != nil {
		return err
	}
	if err := p.protocol.DecodeSWDConfigure(resp); err != nil {
		return err
	}

	p.connected = true
	return nil
}

func (p *Probe) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil
	}
	p.connected = false
	if p.transport == nil {
		return nil
	}
	resp, err := p.transport.WriteRead(p.protocol.EncodeDisconnect())
	if err != nil {
		return err
	}
	return p.protocol.DecodeDisconnect(resp)
}

func (p *Probe) SetClock(hz float64) error {
	if hz <= 0 {
		return fmt.Errorf("%w: clock %v Hz", probe.ErrInvalidArgument, hz)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transport == nil {
		return fmt.Errorf("%w: set clock before open", probe.ErrInvalidArgument)
	}
	resp, err := p.transport.WriteRead(p.protocol.EncodeSetClock(uint32(hz)))
	if err != nil {
		return err
	}
	return p.protocol.DecodeSetClock(resp)
}

// Reset pulses nRESET through DAP_SWJ_Pins: assert, hold, deassert, post
// delay.
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
	p.sleep(time.Duration(hold * float64(time.Second)))
	if err := p.AssertReset(false); err != nil {
		return err
	}
	p.sleep(time.Duration(post * float64(time.Second)))
	return nil
}

func (p *Probe) AssertReset(asserted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transport == nil {
		return fmt.Errorf("%w: reset before open", probe.ErrInvalidArgument)
	}
	output := byte(PinNRESET)
	if asserted {
		output = 0
	}
	resp, err := p.transport.WriteRead(p.protocol.EncodeSWJPins(output, PinNRESET, 0))
	if err != nil {
		return err
	}
	if _, err := p.protocol.DecodeSWJPins(resp); err != nil {
		return err
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
	return probe.DeferRead(func() (uint32, error) {
		return p.transferRead(false, addr)
	}, now)
}

func (p *Probe) WriteDP(addr uint8, value uint32) error {
	return p.transferWrite(false, addr, value)
}

func (p *Probe) ReadAP(addr uint32, now bool) (probe.Deferred, error) {
	return probe.DeferRead(func() (uint32, error) {
		return p.transferRead(true, uint8(addr&0xF))
	}, now)
}

func (p *Probe) WriteAP(addr uint32, value uint32) error {
	return p.transferWrite(true, uint8(addr&0xF), value)
}

func (p *Probe) ReadAPMultiple(addr uint32, count int, now bool) (probe.DeferredSlice, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: count %d", probe.ErrInvalidArgument, count)
	}
	return probe.DeferReadSlice(func() ([]uint32, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.connected {
			return nil, probe.Unsupported("transfer while disconnected")
		}
		resp, err := p.transport.WriteRead(p.protocol.EncodeTransferBlock(true, true, uint8(addr&0xF), count, nil))
		if err != nil {
			return nil, err
		}
		return p.protocol.DecodeTransferBlock(resp, true, count)
	}, now)
}

func (p *Probe) WriteAPMultiple(addr uint32, values []uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return probe.Unsupported("transfer while disconnected")
	}
	resp, err := p.transport.WriteRead(p.protocol.EncodeTransferBlock(true, false, uint8(addr&0xF), len(values), values))
	if err != nil {
		return err
	}
	_, err = p.protocol.DecodeTransferBlock(resp, false, len(values))
	return err
}

func (p *Probe) SWJSequence(bits int, data []byte) error {
	if bits <= 0 || bits > 256 {
		return fmt.Errorf("%w: swj sequence of %d bits", probe.ErrInvalidArgument, bits)
	}
	if (bits+7)/8 > len(data) {
		return fmt.Errorf("%w: swj sequence needs %d bytes, got %d", probe.ErrInvalidArgument, (bits+7)/8, len(data))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transport == nil {
		return fmt.Errorf("%w: sequence before open", probe.ErrInvalidArgument)
	}
	resp, err := p.transport.WriteRead(p.protocol.EncodeSWJSequence(bits, data))
	if err != nil {
		return err
	}
	return p.protocol.DecodeSWJSequence(resp)
}

func (p *Probe) SWDSequence(seqs []probe.SWDSequence) ([][]byte, error) {
	for _, s := range seqs {
		if s.Cycles < 1 || s.Cycles > 64 {
			return nil, fmt.Errorf("%w: sequence of %d cycles", probe.ErrInvalidArgument, s.Cycles)
		}
		if !s.IsInput() && (s.Cycles+7)/8 > len(s.Data) {
			return nil, fmt.Errorf("%w: %d cycles from %d bytes", probe.ErrInvalidArgument, s.Cycles, len(s.Data))
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transport == nil {
		return nil, fmt.Errorf("%w: sequence before open", probe.ErrInvalidArgument)
	}
	resp, err := p.transport.WriteRead(p.protocol.EncodeSWDSequence(seqs))
	if err != nil {
		return nil, err
	}
	return p.protocol.DecodeSWDSequence(resp, seqs)
}

// SWOStart routes trace data through DAP_SWO_Data in UART mode at the given
// baudrate. SWORead must then be polled often enough to keep the probe's
// buffer from overflowing.
func (p *Probe) SWOStart(baudrate float64) error {
	if baudrate <= 0 {
		return fmt.Errorf("%w: baudrate %v", probe.ErrInvalidArgument, baudrate)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transport == nil {
		return fmt.Errorf("%w: swo start before open", probe.ErrInvalidArgument)
	}

	steps := []struct {
		cmd    []byte
		decode func([]byte) error
	}{
		{p.protocol.EncodeSWOTransport(SWOTransportDAPData), p.protocol.DecodeSWOTransport},
		{p.protocol.EncodeSWOMode(SWOModeUART), p.protocol.DecodeSWOMode},
		{p.protocol.EncodeSWOBaudrate(uint32(baudrate)), func(resp []byte) error {
			actual, err := p.protocol.DecodeSWOBaudrate(resp)
			if err != nil {
				return err
			}
			if actual == 0 {
				return fmt.Errorf("%w: probe rejected baudrate %v", probe.ErrInvalidArgument, baudrate)
			}
			return nil
		}},
		{p.protocol.EncodeSWOControl(true), p.protocol.DecodeSWOControl},
	}
	for _, step := range steps {
		resp, err := p.transport.WriteRead(step.cmd)
		if err != nil {
			return err
		}
		if err := step.decode(resp); err != nil {
			return err
		}
	}
	p.swoRunning = true
	return nil
}

func (p *Probe) SWOStop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.swoRunning {
		return nil
	}
	p.swoRunning = false
	resp, err := p.transport.WriteRead(p.protocol.EncodeSWOControl(false))
	if err != nil {
		return err
	}
	return p.protocol.DecodeSWOControl(resp)
}

func (p *Probe) SWORead() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.swoRunning {
		return nil, probe.Unsupported("swo read while stopped")
	}
	count := uint16(p.transport.PacketSize() - 4)
	resp, err := p.transport.WriteRead(p.protocol.EncodeSWOData(count))
	if err != nil {
		return nil, err
	}
	return p.protocol.DecodeSWOData(resp)
}

func (p *Probe) transferRead(ap bool, addr uint8) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return 0, probe.Unsupported("transfer while disconnected")
	}
	transfers := []Transfer{{AP: ap, Read: true, Addr: addr}}
	resp, err := p.transport.WriteRead(p.protocol.EncodeTransfer(transfers))
	if err != nil {
		return 0, err
	}
	values, err := p.protocol.DecodeTransfer(resp, transfers)
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

func (p *Probe) transferWrite(ap bool, addr uint8, value uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return probe.Unsupported("transfer while disconnected")
	}
	transfers := []Transfer{{AP: ap, Addr: addr, Value: value}}
	resp, err := p.transport.WriteRead(p.protocol.EncodeTransfer(transfers))
	if err != nil {
		return err
	}
	_, err = p.protocol.DecodeTransfer(resp, transfers)
	return err
}
