package probe

import (
	"fmt"
	"sync"
)

// Framework-level option names shared by every probe backend.
const (
	// ResetHoldOption is how long, in seconds, a reset pulse keeps nRESET
	// asserted.
	ResetHoldOption = "reset.hold_time"
	// ResetPostOption is how long, in seconds, to wait after deasserting
	// nRESET before touching the target.
	ResetPostOption = "reset.post_delay"
)

// CommonOptions are the framework options declared on every session.
var CommonOptions = []OptionInfo{
	{Name: ResetHoldOption, Default: 0.1, Help: "Seconds to hold nRESET asserted during a reset pulse."},
	{Name: ResetPostOption, Default: 0.1, Help: "Seconds to wait after deasserting nRESET."},
}

// OptionInfo declares a user-configurable option published by a plugin.
type OptionInfo struct {
	Name    string
	Default interface{}
	Help    string
}

// Notification describes a single option change delivered to subscribers.
type Notification struct {
	Option string
	Old    interface{}
	New    interface{}
}

// Options is a session-scoped option store with change notification. Values
// fall back to the declared default until set. The store itself is safe for
// concurrent use; subscriber callbacks run on the goroutine calling Set.
type Options struct {
	mu       sync.Mutex
	nextID   int
	defaults map[string]interface{}
	values   map[string]interface{}
	subs     map[string][]subscription
}

type subscription struct {
	id int
	fn func(Notification)
}

// NewOptions builds an empty option store.
func NewOptions() *Options {
	return &Options{
		defaults: make(map[string]interface{}),
		values:   make(map[string]interface{}),
		subs:     make(map[string][]subscription),
	}
}

// Declare registers option defaults, typically from a plugin's OptionInfo
// list. Later declarations of the same name win.
func (o *Options) Declare(infos ...OptionInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, info := range infos {
		o.defaults[info.Name] = info.Default
	}
}

// Get returns the current value of the named option, or the declared default,
// or nil when the option is unknown.
func (o *Options) Get(name string) interface{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if v, ok := o.values[name]; ok {
		return v
	}
	return o.defaults[name]
}

// GetInt returns the named option as an int.
func (o *Options) GetInt(name string) (int, error) {
	switch v := o.Get(name).(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case nil:
		return 0, fmt.Errorf("%w: option %q not declared", ErrInvalidArgument, name)
	default:
		return 0, fmt.Errorf("%w: option %q is %T, want int", ErrInvalidArgument, name, v)
	}
}

// GetFloat returns the named option as a float64.
func (o *Options) GetFloat(name string) (float64, error) {
	switch v := o.Get(name).(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case nil:
		return 0, fmt.Errorf("%w: option %q not declared", ErrInvalidArgument, name)
	default:
		return 0, fmt.Errorf("%w: option %q is %T, want float", ErrInvalidArgument, name, v)
	}
}

// Set stores a new value and notifies subscribers of the named option.
func (o *Options) Set(name string, value interface{}) {
	o.mu.Lock()
	old, ok := o.values[name]
	if !ok {
		old = o.defaults[name]
	}
	o.values[name] = value
	fns := make([]func(Notification), 0, len(o.subs[name]))
	for _, s := range o.subs[name] {
		fns = append(fns, s.fn)
	}
	o.mu.Unlock()

	n := Notification{Option: name, Old: old, New: value}
	for _, fn := range fns {
		fn(n)
	}
}

// Subscribe registers fn for change notifications on each named option. The
// returned cancel function removes the registration; calling it more than
// once is harmless.
func (o *Options) Subscribe(fn func(Notification), names ...string) func() {
	o.mu.Lock()
	o.nextID++
	id := o.nextID
	for _, name := range names {
		o.subs[name] = append(o.subs[name], subscription{id: id, fn: fn})
	}
	o.mu.Unlock()

	registered := append([]string{}, names...)
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for _, name := range registered {
			subs := o.subs[name]
			for i, s := range subs {
				if s.id == id {
					o.subs[name] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		}
	}
}

// Session ties an option store to the probe using it. It is the probe-facing
// slice of the host framework's session object.
type Session struct {
	Options *Options
}

// NewSession builds a session with the framework options declared.
func NewSession() *Session {
	o := NewOptions()
	o.Declare(CommonOptions...)
	return &Session{Options: o}
}
