package rpi

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/OpenTraceLab/OpenTraceSWD/pkg/probe"
)

// Pin is the slice of GPIO pin behavior the probe needs: drive a level,
// release the pin to input, and sample it.
type Pin interface {
	Out(high bool) error
	In() error
	Read() (bool, error)
}

// GPIO resolves pin numbers to owned Pin handles. Injected at probe
// construction so the adapter logic is testable against a fake.
type GPIO interface {
	Pin(number int) (Pin, error)
}

// HostGPIO is the periph.io implementation of GPIO using the Broadcom pin
// numbering exposed by the host driver.
type HostGPIO struct {
	initOnce sync.Once
	initErr  error
}

// NewHostGPIO returns a GPIO backed by the real hardware registry.
func NewHostGPIO() *HostGPIO {
	return &HostGPIO{}
}

// Pin resolves BCM pin n, initializing the host drivers on first use.
func (h *HostGPIO) Pin(n int) (Pin, error) {
	h.initOnce.Do(func() {
		_, h.initErr = host.Init()
	})
	if h.initErr != nil {
		return nil, fmt.Errorf("%w: host init: %v", probe.ErrHardwareFault, h.initErr)
	}
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	if p == nil {
		return nil, fmt.Errorf("%w: no GPIO%d on this host", probe.ErrInvalidArgument, n)
	}
	return &hostPin{p: p}, nil
}

type hostPin struct {
	p gpio.PinIO
}

func (h *hostPin) Out(high bool) error {
	return h.p.Out(gpio.Level(high))
}

func (h *hostPin) In() error {
	// The target drives the line during input phases, so no pull.
	return h.p.In(gpio.Float, gpio.NoEdge)
}

func (h *hostPin) Read() (bool, error) {
	return bool(h.p.Read()), nil
}
