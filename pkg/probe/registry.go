package probe

import (
	"fmt"
	"sort"
	"sync"
)

// Provider constructs probes for one backend. Probes enumerates connected
// probes, optionally filtered to those matching uniqueID; ProbeWithID builds
// the single probe identified by uniqueID.
type Provider interface {
	Probes(uniqueID string) ([]DebugProbe, error)
	ProbeWithID(uniqueID string) (DebugProbe, error)
}

// Plugin is the registration contract a probe backend exposes to the host.
type Plugin interface {
	Name() string
	Description() string
	// ShouldLoad reports whether the backend applies to the current host,
	// e.g. by fingerprinting the hardware.
	ShouldLoad() bool
	// Load returns the backend's probe factory.
	Load() Provider
	// Options lists the user-configurable options the backend declares.
	Options() []OptionInfo
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]Plugin)
)

// Register adds a plugin to the process-wide registry. Registering two
// plugins under the same name is a programming error.
func Register(p Plugin) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[p.Name()]; dup {
		panic(fmt.Sprintf("probe: duplicate plugin %q", p.Name()))
	}
	registry[p.Name()] = p
}

// Plugins returns the registered plugins that apply to this host, sorted by
// name.
func Plugins() []Plugin {
	registryMu.Lock()
	defer registryMu.Unlock()

	var out []Plugin
	for _, p := range registry {
		if p.ShouldLoad() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// PluginByName looks a plugin up regardless of whether it applies to this
// host.
func PluginByName(name string) (Plugin, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	p, ok := registry[name]
	return p, ok
}

// AllProbes enumerates connected probes across every applicable plugin. A
// non-empty uniqueID restricts results to probes matching it. Enumeration
// failures of individual backends are collected rather than aborting the
// scan.
func AllProbes(uniqueID string) ([]DebugProbe, error) {
	var (
		probes  []DebugProbe
		firstEr error
	)
	for _, p := range Plugins() {
		found, err := p.Load().Probes(uniqueID)
		if err != nil {
			if firstEr == nil {
				firstEr = fmt.Errorf("%s: %w", p.Name(), err)
			}
			continue
		}
		probes = append(probes, found...)
	}
	if len(probes) == 0 && firstEr != nil {
		return nil, firstEr
	}
	return probes, nil
}

// ProbeWithID builds the probe identified by uniqueID, asking each applicable
// plugin in turn.
func ProbeWithID(uniqueID string) (DebugProbe, error) {
	for _, p := range Plugins() {
		probe, err := p.Load().ProbeWithID(uniqueID)
		if err == nil && probe != nil {
			return probe, nil
		}
	}
	return nil, fmt.Errorf("%w: no probe with id %q", ErrInvalidArgument, uniqueID)
}

// DeclareOptions registers every applicable plugin's option defaults into the
// session's option store.
func DeclareOptions(session *Session) {
	for _, p := range Plugins() {
		session.Options.Declare(p.Options()...)
	}
}
