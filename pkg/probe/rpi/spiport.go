package rpi

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"

	"github.com/OpenTraceLab/OpenTraceSWD/pkg/probe"
)

var spidevPattern = regexp.MustCompile(`^/dev/spidev(\d+)\.(\d+)$`)

// PortOpener opens the named SPI device. Overridable so tests run without
// /dev/spidev nodes.
type PortOpener func(name string) (spi.PortCloser, error)

// SPIPort wraps one spidev bus/device pair. The kernel SPI clock generator
// backs the probe's clock configuration; the SWD data path itself is
// bit-banged on GPIO.
type SPIPort struct {
	Bus    int
	Device int

	opener PortOpener
	port   spi.PortCloser
	isOpen bool
}

// NewSPIPort builds a closed port handle for the given bus and device.
func NewSPIPort(bus, device int) *SPIPort {
	return &SPIPort{Bus: bus, Device: device, opener: spireg.Open}
}

// ParseSPIPath recovers the bus and device indices from a /dev/spidevB.D
// path.
func ParseSPIPath(s string) (*SPIPort, error) {
	m := spidevPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("%w: %q is not a spidev path", probe.ErrInvalidArgument, s)
	}
	bus, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, fmt.Errorf("%w: spidev bus in %q: %v", probe.ErrInvalidArgument, s, err)
	}
	device, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, fmt.Errorf("%w: spidev device in %q: %v", probe.ErrInvalidArgument, s, err)
	}
	return NewSPIPort(bus, device), nil
}

// DiscoverPorts enumerates the spidev nodes present on the host, sorted by
// path.
func DiscoverPorts() ([]*SPIPort, error) {
	matches, err := filepath.Glob("/dev/spidev*.*")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var ports []*SPIPort
	for _, m := range matches {
		port, err := ParseSPIPath(m)
		if err != nil {
			continue
		}
		ports = append(ports, port)
	}
	return ports, nil
}

// String formats the identifier the port was discovered under.
func (p *SPIPort) String() string {
	return fmt.Sprintf("/dev/spidev%d.%d", p.Bus, p.Device)
}

// IsOpen reports whether the underlying device is open.
func (p *SPIPort) IsOpen() bool {
	return p.isOpen
}

// Open claims the spidev device. Opening an already-open port fails closed.
func (p *SPIPort) Open() error {
	if p.isOpen {
		return fmt.Errorf("%w: %s already open", probe.ErrInvalidArgument, p)
	}
	port, err := p.opener(p.String())
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", probe.ErrHardwareFault, p, err)
	}
	p.port = port
	p.isOpen = true
	return nil
}

// Close releases the device.
func (p *SPIPort) Close() error {
	if !p.isOpen {
		return fmt.Errorf("%w: %s not open", probe.ErrInvalidArgument, p)
	}
	p.isOpen = false
	port := p.port
	p.port = nil
	if port == nil {
		return nil
	}
	if err := port.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", probe.ErrHardwareFault, p, err)
	}
	return nil
}

// SetClock caps the SPI clock generator at the given frequency.
func (p *SPIPort) SetClock(hz float64) error {
	if hz <= 0 {
		return fmt.Errorf("%w: clock %v Hz", probe.ErrInvalidArgument, hz)
	}
	if !p.isOpen {
		return fmt.Errorf("%w: %s not open", probe.ErrInvalidArgument, p)
	}
	f := physic.Frequency(hz * float64(physic.Hertz))
	if err := p.port.LimitSpeed(f); err != nil {
		return fmt.Errorf("%w: set clock on %s: %v", probe.ErrHardwareFault, p, err)
	}
	return nil
}
