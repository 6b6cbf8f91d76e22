package cmd

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/OpenTraceLab/OpenTraceSWD/pkg/probe"
	"github.com/OpenTraceLab/OpenTraceSWD/pkg/probe/cmsisdap"
	"github.com/OpenTraceLab/OpenTraceSWD/pkg/probe/rpi"
)

var registerOnce sync.Once

// newSession builds a session, registers the probe plugins, declares their
// options and applies the --config option file.
func newSession() (*probe.Session, error) {
	session := probe.NewSession()

	registerOnce.Do(func() {
		probe.Register(rpi.NewPlugin(session))
		probe.Register(cmsisdap.NewPlugin(session))
	})
	probe.DeclareOptions(session)

	if configPath == "" {
		return session, nil
	}
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	values := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", configPath, err)
	}
	for name, value := range values {
		session.Options.Set(name, value)
	}
	return session, nil
}

// openProbe resolves --probe and opens the probe. The id "sim" yields an
// in-memory simulator so commands can be exercised without hardware.
func openProbe(session *probe.Session) (probe.DebugProbe, error) {
	if probeID == "sim" {
		sim := probe.NewSimProbe("sim")
		sim.SeedDP(0x0, 0x2BA01477) // Cortex-M4 DPIDR
		if err := sim.Open(); err != nil {
			return nil, err
		}
		return sim, nil
	}
	if probeID == "" {
		return nil, fmt.Errorf("--probe is required (run 'otswd list' to see ids)")
	}
	p, err := probe.ProbeWithID(probeID)
	if err != nil {
		return nil, err
	}
	if err := p.Open(); err != nil {
		return nil, err
	}
	return p, nil
}

// connectProbe opens the probe and brings the SWD link up.
func connectProbe(session *probe.Session) (probe.DebugProbe, error) {
	p, err := openProbe(session)
	if err != nil {
		return nil, err
	}
	if err := p.Connect(probe.ProtocolDefault); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}
