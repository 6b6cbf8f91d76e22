package cmsisdap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"

	"github.com/OpenTraceLab/OpenTraceSWD/pkg/probe"
)

// Descriptor identifies a CMSIS-DAP device on the USB bus.
type Descriptor struct {
	VID         uint16
	PID         uint16
	Serial      string
	Description string
}

// UniqueID formats the identifier probes are addressed by: VVVV:PPPP with an
// optional trailing serial number.
func (d Descriptor) UniqueID() string {
	id := fmt.Sprintf("%04x:%04x", d.VID, d.PID)
	if d.Serial != "" {
		id += ":" + d.Serial
	}
	return id
}

// ParseUniqueID recovers a descriptor from its UniqueID form.
func ParseUniqueID(s string) (Descriptor, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return Descriptor{}, fmt.Errorf("%w: %q is not a VID:PID id", probe.ErrInvalidArgument, s)
	}
	vid, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: bad VID in %q", probe.ErrInvalidArgument, s)
	}
	pid, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: bad PID in %q", probe.ErrInvalidArgument, s)
	}
	d := Descriptor{VID: uint16(vid), PID: uint16(pid)}
	if len(parts) == 3 {
		d.Serial = parts[2]
	}
	return d, nil
}

type knownDevice struct {
	VID         uint16
	PID         uint16
	Description string
}

var knownDevices = []knownDevice{
	{VID: 0x2e8a, PID: 0x000c, Description: "Raspberry Pi Debug Probe"},
	{VID: 0x0d28, PID: 0x0204, Description: "DAPLink CMSIS-DAP"},
	{VID: 0x1366, PID: 0x0101, Description: "SEGGER J-Link CMSIS-DAP"},
}

func classify(vid, pid uint16) (knownDevice, bool) {
	for _, k := range knownDevices {
		if k.VID == vid && k.PID == pid {
			return k, true
		}
	}
	return knownDevice{}, false
}

// enumerateUSB scans the bus for devices matching the known VID/PID table.
func enumerateUSB() ([]Descriptor, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		_, ok := classify(uint16(desc.Vendor), uint16(desc.Product))
		return ok
	})
	if err != nil && err != gousb.ErrorAccess {
		return nil, fmt.Errorf("%w: usb enumerate: %v", probe.ErrHardwareFault, err)
	}

	var found []Descriptor
	for _, dev := range devs {
		k, _ := classify(uint16(dev.Desc.Vendor), uint16(dev.Desc.Product))
		serial, _ := dev.SerialNumber()
		found = append(found, Descriptor{
			VID:         uint16(dev.Desc.Vendor),
			PID:         uint16(dev.Desc.Product),
			Serial:      serial,
			Description: k.Description,
		})
		dev.Close()
	}
	return found, nil
}

// Plugin registers the CMSIS-DAP backend. USB probes can show up on any
// host, so ShouldLoad is unconditional.
type Plugin struct {
	Session *probe.Session
	// Enumerate is replaceable in tests to avoid touching the USB bus.
	Enumerate func() ([]Descriptor, error)
}

// NewPlugin builds the plugin with the real USB enumerator.
func NewPlugin(session *probe.Session) *Plugin {
	return &Plugin{Session: session, Enumerate: enumerateUSB}
}

func (p *Plugin) Name() string        { return "cmsisdap" }
func (p *Plugin) Description() string { return "CMSIS-DAP USB probe" }
func (p *Plugin) ShouldLoad() bool    { return true }

func (p *Plugin) Load() probe.Provider {
	return &provider{session: p.Session, enumerate: p.Enumerate}
}

func (p *Plugin) Options() []probe.OptionInfo {
	return nil
}

type provider struct {
	session   *probe.Session
	enumerate func() ([]Descriptor, error)
}

func (pr *provider) Probes(uniqueID string) ([]probe.DebugProbe, error) {
	descs, err := pr.enumerate()
	if err != nil {
		return nil, err
	}
	var probes []probe.DebugProbe
	for _, d := range descs {
		if uniqueID != "" && d.UniqueID() != uniqueID {
			continue
		}
		probes = append(probes, NewProbe(d, pr.session))
	}
	return probes, nil
}

func (pr *provider) ProbeWithID(uniqueID string) (probe.DebugProbe, error) {
	d, err := ParseUniqueID(uniqueID)
	if err != nil {
		return nil, err
	}
	if k, ok := classify(d.VID, d.PID); ok && d.Description == "" {
		d.Description = k.Description
	}
	return NewProbe(d, pr.session), nil
}
