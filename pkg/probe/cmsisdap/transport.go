package cmsisdap

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"

	"github.com/OpenTraceLab/OpenTraceSWD/pkg/probe"
)

const (
	// DefaultPacketSize for CMSIS-DAP v1/v2 probes.
	DefaultPacketSize = 64
	DefaultTimeout    = 5 * time.Second
)

// Transport moves fixed-size command/response packets to a CMSIS-DAP probe.
// Implemented by USBTransport for real hardware and by fakes in tests.
type Transport interface {
	WriteRead(cmd []byte) ([]byte, error)
	PacketSize() int
	Close() error
}

// USBTransport drives the probe's vendor-class bulk endpoints over gousb.
type USBTransport struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	packetSize int
	timeout    time.Duration
}

// OpenUSB opens the first device matching vid/pid and claims its CMSIS-DAP
// interface.
func OpenUSB(vid, pid uint16) (*USBTransport, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("%w: usb open: %v", probe.ErrHardwareFault, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("%w: no device %04X:%04X", probe.ErrInvalidArgument, vid, pid)
	}

	// Detach the kernel driver where the platform supports it.
	_ = dev.SetAutoDetach(true)

	t := &USBTransport{
		ctx:        ctx,
		dev:        dev,
		packetSize: DefaultPacketSize,
		timeout:    DefaultTimeout,
	}
	if err := t.claimInterface(); err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	return t, nil
}

// claimInterface finds and claims the vendor-class interface carrying the
// CMSIS-DAP bulk endpoints.
func (t *USBTransport) claimInterface() error {
	cfg, err := t.dev.Config(1)
	if err != nil {
		return fmt.Errorf("%w: usb config: %v", probe.ErrHardwareFault, err)
	}

	vendorIntfNum := -1
	for _, intf := range cfg.Desc.Interfaces {
		if len(intf.AltSettings) > 0 && intf.AltSettings[0].Class == gousb.ClassVendorSpec {
			vendorIntfNum = intf.Number
			break
		}
	}
	if vendorIntfNum == -1 {
		vendorIntfNum = 0
	}

	intf, err := cfg.Interface(vendorIntfNum, 0)
	if err != nil {
		return fmt.Errorf("%w: claim interface %d: %v", probe.ErrHardwareFault, vendorIntfNum, err)
	}
	t.intf = intf

	if err := t.findEndpoints(); err != nil {
		intf.Close()
		return err
	}
	return nil
}

func (t *USBTransport) findEndpoints() error {
	setting := t.intf.Setting

	var outAddr, inAddr int
	for _, ep := range setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionOut:
			if outAddr == 0 {
				outAddr = ep.Number
			}
		case gousb.EndpointDirectionIn:
			if inAddr == 0 {
				inAddr = ep.Number
				t.packetSize = ep.MaxPacketSize
			}
		}
	}
	if outAddr == 0 {
		return fmt.Errorf("%w: bulk OUT endpoint not found", probe.ErrHardwareFault)
	}
	if inAddr == 0 {
		return fmt.Errorf("%w: bulk IN endpoint not found", probe.ErrHardwareFault)
	}

	epOut, err := t.intf.OutEndpoint(outAddr)
	if err != nil {
		return fmt.Errorf("%w: open OUT endpoint: %v", probe.ErrHardwareFault, err)
	}
	t.epOut = epOut

	epIn, err := t.intf.InEndpoint(inAddr)
	if err != nil {
		return fmt.Errorf("%w: open IN endpoint: %v", probe.ErrHardwareFault, err)
	}
	t.epIn = epIn
	return nil
}

// WriteRead performs one command/response transaction. Commands are padded to
// the probe's fixed packet size.
func (t *USBTransport) WriteRead(cmd []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	packet := make([]byte, t.packetSize)
	copy(packet, cmd)
	if _, err := t.epOut.WriteContext(ctx, packet); err != nil {
		return nil, fmt.Errorf("%w: usb write: %v", probe.ErrHardwareFault, err)
	}

	resp := make([]byte, t.packetSize)
	n, err := t.epIn.ReadContext(ctx, resp)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: usb read: %v", probe.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: usb read: %v", probe.ErrHardwareFault, err)
	}
	return resp[:n], nil
}

// PacketSize returns the negotiated packet size.
func (t *USBTransport) PacketSize() int {
	return t.packetSize
}

// Close releases the interface, device and context.
func (t *USBTransport) Close() error {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}
