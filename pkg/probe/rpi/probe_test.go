package rpi

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/OpenTraceLab/OpenTraceSWD/pkg/probe"
)

// fakePin records direction and level changes, optionally into a shared event
// log, and replays queued input bits to Read.
type fakePin struct {
	name   string
	log    *[]string
	dir    string
	levels []bool
	inputs []bool
}

func (p *fakePin) Out(high bool) error {
	p.dir = "out"
	p.levels = append(p.levels, high)
	if p.log != nil {
		*p.log = append(*p.log, fmt.Sprintf("%s:out:%v", p.name, high))
	}
	return nil
}

func (p *fakePin) In() error {
	p.dir = "in"
	return nil
}

func (p *fakePin) Read() (bool, error) {
	if len(p.inputs) == 0 {
		return false, nil
	}
	bit := p.inputs[0]
	p.inputs = p.inputs[1:]
	return bit, nil
}

// fakeGPIO hands out fakePins by number and records which were requested.
type fakeGPIO struct {
	pins      map[int]*fakePin
	requested []int
}

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{pins: make(map[int]*fakePin)}
}

func (g *fakeGPIO) Pin(n int) (Pin, error) {
	g.requested = append(g.requested, n)
	if p, ok := g.pins[n]; ok {
		return p, nil
	}
	p := &fakePin{name: fmt.Sprintf("GPIO%d", n)}
	g.pins[n] = p
	return p, nil
}

func newTestProbe() (*Probe, *fakeGPIO, *probe.Session) {
	session := probe.NewSession()
	plugin := &Plugin{Detect: func() bool { return true }, Session: session}
	session.Options.Declare(plugin.Options()...)

	gpio := newFakeGPIO()
	port := NewSPIPort(0, 0)
	return New(port, gpio, session), gpio, session
}

func TestProbe_ValidateInterface(t *testing.T) {
	// Compile-time check that Probe implements DebugProbe interface
	var _ probe.DebugProbe = (*Probe)(nil)
}

func TestProbeIdentity(t *testing.T) {
	p, _, _ := newTestProbe()

	if p.UniqueID() != "/dev/spidev0.0" {
		t.Fatalf("UniqueID = %s", p.UniqueID())
	}
	if p.Capabilities() != probe.CapSWJSequence|probe.CapSWDSequence {
		t.Fatalf("Capabilities = %b, want exactly SWJ|SWD sequence", p.Capabilities())
	}

	protos := p.SupportedWireProtocols()
	hasDefault, hasSWD := false, false
	for _, proto := range protos {
		switch proto {
		case probe.ProtocolDefault:
			hasDefault = true
		case probe.ProtocolSWD:
			hasSWD = true
		case probe.ProtocolJTAG:
			t.Fatalf("JTAG must never be supported")
		}
	}
	if !hasDefault || !hasSWD {
		t.Fatalf("supported protocols = %v, want default and swd", protos)
	}
}

func TestConnectRejectsJTAG(t *testing.T) {
	p, gpio, _ := newTestProbe()

	err := p.Connect(probe.ProtocolJTAG)
	if !errors.Is(err, probe.ErrInvalidArgument) {
		t.Fatalf("Connect(JTAG) err = %v, want ErrInvalidArgument", err)
	}
	if p.WireProtocol() != probe.ProtocolNone {
		t.Fatalf("rejected connect left protocol %v", p.WireProtocol())
	}
	if len(gpio.requested) != 0 {
		t.Fatalf("rejected connect touched pins %v", gpio.requested)
	}
}

func TestConnectClaimsConfiguredPins(t *testing.T) {
	p, gpio, _ := newTestProbe()

	if err := p.Connect(probe.ProtocolDefault); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	if p.WireProtocol() != probe.ProtocolSWD {
		t.Fatalf("WireProtocol = %v, want SWD", p.WireProtocol())
	}

	want := map[int]bool{23: true, 24: true, 25: true}
	for _, n := range gpio.requested {
		delete(want, n)
	}
	if len(want) != 0 {
		t.Fatalf("pins not claimed: %v (requested %v)", want, gpio.requested)
	}

	// nRESET starts deasserted (line high).
	nreset := gpio.pins[23]
	if len(nreset.levels) == 0 || !nreset.levels[0] {
		t.Fatalf("nRESET levels = %v, want initial high", nreset.levels)
	}
}

func TestAssertResetTracksState(t *testing.T) {
	p, gpio, _ := newTestProbe()

	if err := p.AssertReset(true); err != nil {
		t.Fatalf("AssertReset returned error: %v", err)
	}
	if !p.IsResetAsserted() {
		t.Fatalf("IsResetAsserted = false after assert")
	}

	// Asserted means the active-low line is driven low.
	nreset := gpio.pins[23]
	if got := nreset.levels[len(nreset.levels)-1]; got {
		t.Fatalf("nRESET level = high while asserted")
	}

	if err := p.AssertReset(false); err != nil {
		t.Fatalf("AssertReset returned error: %v", err)
	}
	if p.IsResetAsserted() {
		t.Fatalf("IsResetAsserted = true after deassert")
	}
}

func TestResetOrdering(t *testing.T) {
	p, gpio, session := newTestProbe()
	session.Options.Set(probe.ResetHoldOption, 0.25)
	session.Options.Set(probe.ResetPostOption, 0.5)

	var events []string
	nreset := &fakePin{name: "nreset", log: &events}
	gpio.pins[23] = nreset
	p.sleep = func(d time.Duration) {
		events = append(events, fmt.Sprintf("sleep:%v", d))
	}

	if err := p.Reset(); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}

	want := []string{
		"nreset:out:true", // claimed as deasserted output
		"nreset:out:false",
		"sleep:250ms",
		"nreset:out:true",
		"sleep:500ms",
	}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d] = %s, want %s (full: %v)", i, events[i], want[i], events)
		}
	}
	if p.IsResetAsserted() {
		t.Fatalf("reset left line asserted")
	}
}

func TestTransfersBeforeConnectUnsupported(t *testing.T) {
	p, _, _ := newTestProbe()

	if _, err := p.ReadDP(0x0, true); !errors.Is(err, probe.ErrUnsupported) {
		t.Fatalf("ReadDP err = %v, want ErrUnsupported", err)
	}
	if err := p.WriteAP(0x0, 1); !errors.Is(err, probe.ErrUnsupported) {
		t.Fatalf("WriteAP err = %v, want ErrUnsupported", err)
	}
	if err := p.SWJSequence(8, []byte{0}); !errors.Is(err, probe.ErrUnsupported) {
		t.Fatalf("SWJSequence err = %v, want ErrUnsupported", err)
	}
}

func TestSWOAlwaysUnsupported(t *testing.T) {
	p, _, _ := newTestProbe()
	if err := p.Connect(probe.ProtocolSWD); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	if err := p.SWOStart(1_000_000); !errors.Is(err, probe.ErrUnsupported) {
		t.Fatalf("SWOStart err = %v, want ErrUnsupported", err)
	}
	if err := p.SWOStop(); !errors.Is(err, probe.ErrUnsupported) {
		t.Fatalf("SWOStop err = %v, want ErrUnsupported", err)
	}
	if _, err := p.SWORead(); !errors.Is(err, probe.ErrUnsupported) {
		t.Fatalf("SWORead err = %v, want ErrUnsupported", err)
	}
}

// bitsOf expands a value into n LSB-first bits.
func bitsOf(value uint64, n int) []bool {
	bits := make([]bool, n)
	for i := 0; i < n; i++ {
		bits[i] = value&(1<<i) != 0
	}
	return bits
}

func TestReadDPOverBitbangWire(t *testing.T) {
	p, gpio, _ := newTestProbe()

	// Script the target side of an IDCODE read on SWDIO: OK ack, then the
	// 32-bit value and its parity bit.
	const idcode = 0x2BA01477
	dio := &fakePin{name: "dio"}
	dio.inputs = append(dio.inputs, bitsOf(0b001, 3)...)
	dio.inputs = append(dio.inputs, bitsOf(idcode, 32)...)
	dio.inputs = append(dio.inputs, false) // even parity
	gpio.pins[24] = dio

	if err := p.Connect(probe.ProtocolSWD); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	d, err := p.ReadDP(0x0, true)
	if err != nil {
		t.Fatalf("ReadDP returned error: %v", err)
	}
	value, err := d()
	if err != nil {
		t.Fatalf("deferred returned error: %v", err)
	}
	if value != idcode {
		t.Fatalf("ReadDP = %#08x, want %#08x", value, idcode)
	}
}

func TestOptionChangeReassignsResetPin(t *testing.T) {
	p, gpio, session := newTestProbe()
	if err := p.Connect(probe.ProtocolSWD); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	session.Options.Set(NResetGPIOOption, 17)

	found := false
	for _, n := range gpio.requested {
		if n == 17 {
			found = true
		}
	}
	if !found {
		t.Fatalf("pin 17 never claimed after option change (requested %v)", gpio.requested)
	}
}

func TestOptionChangeRebuildsWire(t *testing.T) {
	p, gpio, session := newTestProbe()
	if err := p.Connect(probe.ProtocolSWD); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	oldWire := p.wire

	session.Options.Set(DIOGPIOOption, 5)

	if p.wire == oldWire {
		t.Fatalf("wire not rebuilt after SWDIO reassignment")
	}
	found := false
	for _, n := range gpio.requested {
		if n == 5 {
			found = true
		}
	}
	if !found {
		t.Fatalf("pin 5 never claimed (requested %v)", gpio.requested)
	}
}

func TestDisconnectReleasesOptionSubscriptions(t *testing.T) {
	p, gpio, session := newTestProbe()
	if err := p.Connect(probe.ProtocolSWD); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	if err := p.Disconnect(); err != nil {
		t.Fatalf("Disconnect returned error: %v", err)
	}
	if err := p.Connect(probe.ProtocolSWD); err != nil {
		t.Fatalf("reconnect returned error: %v", err)
	}

	gpio.requested = nil
	session.Options.Set(DIOGPIOOption, 5)

	claims := 0
	for _, n := range gpio.requested {
		if n == 5 {
			claims++
		}
	}
	if claims != 1 {
		t.Fatalf("pin 5 claimed %d times after one option change, want 1 (requested %v)", claims, gpio.requested)
	}
}
