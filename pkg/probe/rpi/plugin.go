package rpi

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/OpenTraceLab/OpenTraceSWD/pkg/probe"
)

// PlatformDetector reports whether the current host is a Raspberry Pi.
// Pluggable so tests can force either answer.
type PlatformDetector func() bool

// IsRaspberryPi fingerprints the host by looking for a Broadcom hardware
// string in /proc/cpuinfo.
func IsRaspberryPi() bool {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return false
	}
	defer f.Close()
	return detectBroadcom(f)
}

func detectBroadcom(r io.Reader) bool {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "Hardware") && strings.Contains(line, "BCM") {
			return true
		}
	}
	return false
}

// Plugin registers the Raspberry Pi GPIO probe with the host framework.
type Plugin struct {
	Detect  PlatformDetector
	GPIO    GPIO
	Session *probe.Session
}

// NewPlugin builds the plugin with the real platform detector and hardware
// GPIO controller.
func NewPlugin(session *probe.Session) *Plugin {
	return &Plugin{
		Detect:  IsRaspberryPi,
		GPIO:    NewHostGPIO(),
		Session: session,
	}
}

func (p *Plugin) Name() string        { return "rpiprobe" }
func (p *Plugin) Description() string { return "Raspberry Pi GPIO probe" }

func (p *Plugin) ShouldLoad() bool {
	return p.Detect()
}

func (p *Plugin) Load() probe.Provider {
	return &provider{gpio: p.GPIO, session: p.Session}
}

func (p *Plugin) Options() []probe.OptionInfo {
	return []probe.OptionInfo{
		{Name: NResetGPIOOption, Default: 23, Help: "GPIO number (not physical pin) for nRESET."},
		{Name: DIOGPIOOption, Default: 24, Help: "GPIO number (not physical pin) for SWDIO."},
		{Name: CLKGPIOOption, Default: 25, Help: "GPIO number (not physical pin) for SWCLK."},
	}
}

type provider struct {
	gpio    GPIO
	session *probe.Session
	// discover is replaceable in tests to avoid touching /dev.
	discover func() ([]*SPIPort, error)
}

func (pr *provider) Probes(uniqueID string) ([]probe.DebugProbe, error) {
	if uniqueID != "" {
		p, err := pr.ProbeWithID(uniqueID)
		if err != nil {
			return nil, err
		}
		return []probe.DebugProbe{p}, nil
	}

	discover := pr.discover
	if discover == nil {
		discover = DiscoverPorts
	}
	ports, err := discover()
	if err != nil {
		return nil, fmt.Errorf("enumerate spidev ports: %w", err)
	}
	probes := make([]probe.DebugProbe, 0, len(ports))
	for _, port := range ports {
		probes = append(probes, New(port, pr.gpio, pr.session))
	}
	return probes, nil
}

func (pr *provider) ProbeWithID(uniqueID string) (probe.DebugProbe, error) {
	port, err := ParseSPIPath(uniqueID)
	if err != nil {
		return nil, err
	}
	return New(port, pr.gpio, pr.session), nil
}
