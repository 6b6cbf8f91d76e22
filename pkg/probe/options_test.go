package probe

import (
	"errors"
	"testing"
)

func TestOptionsDefaultsAndSet(t *testing.T) {
	o := NewOptions()
	o.Declare(OptionInfo{Name: "pin", Default: 23, Help: "a pin"})

	if got, err := o.GetInt("pin"); err != nil || got != 23 {
		t.Fatalf("GetInt(pin) = %d, %v; want 23", got, err)
	}

	o.Set("pin", 7)
	if got, _ := o.GetInt("pin"); got != 7 {
		t.Fatalf("GetInt(pin) after Set = %d, want 7", got)
	}
}

func TestOptionsTypedGetters(t *testing.T) {
	o := NewOptions()
	o.Declare(
		OptionInfo{Name: "hold", Default: 0.1},
		OptionInfo{Name: "count", Default: 4},
	)

	if got, err := o.GetFloat("hold"); err != nil || got != 0.1 {
		t.Fatalf("GetFloat(hold) = %v, %v; want 0.1", got, err)
	}
	// Integers coerce to float for duration-style options.
	o.Set("hold", 1)
	if got, err := o.GetFloat("hold"); err != nil || got != 1.0 {
		t.Fatalf("GetFloat(hold) = %v, %v; want 1", got, err)
	}

	if _, err := o.GetInt("missing"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("GetInt(missing) err = %v, want ErrInvalidArgument", err)
	}
	o.Set("count", "four")
	if _, err := o.GetInt("count"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("GetInt(count) err = %v, want ErrInvalidArgument", err)
	}
}

func TestOptionsSubscribe(t *testing.T) {
	o := NewOptions()
	o.Declare(
		OptionInfo{Name: "gpio.dio", Default: 24},
		OptionInfo{Name: "gpio.clk", Default: 25},
	)

	var got []Notification
	o.Subscribe(func(n Notification) { got = append(got, n) }, "gpio.dio", "gpio.clk")

	o.Set("gpio.dio", 5)
	o.Set("gpio.other", 1) // not subscribed
	o.Set("gpio.clk", 6)

	if len(got) != 2 {
		t.Fatalf("got %d notifications, want 2: %+v", len(got), got)
	}
	if got[0].Option != "gpio.dio" || got[0].Old != 24 || got[0].New != 5 {
		t.Fatalf("first notification = %+v", got[0])
	}
	if got[1].Option != "gpio.clk" || got[1].New != 6 {
		t.Fatalf("second notification = %+v", got[1])
	}
}

func TestOptionsSubscribeCancel(t *testing.T) {
	o := NewOptions()
	o.Declare(OptionInfo{Name: "gpio.dio", Default: 24})

	var first, second int
	cancel := o.Subscribe(func(n Notification) { first++ }, "gpio.dio")
	o.Subscribe(func(n Notification) { second++ }, "gpio.dio")

	o.Set("gpio.dio", 5)
	cancel()
	cancel() // second cancel is a no-op
	o.Set("gpio.dio", 6)

	if first != 1 {
		t.Fatalf("cancelled subscriber saw %d notifications, want 1", first)
	}
	if second != 2 {
		t.Fatalf("remaining subscriber saw %d notifications, want 2", second)
	}
}

func TestNewSessionDeclaresResetTiming(t *testing.T) {
	s := NewSession()
	if got, err := s.Options.GetFloat(ResetHoldOption); err != nil || got != 0.1 {
		t.Fatalf("GetFloat(%s) = %v, %v; want 0.1", ResetHoldOption, got, err)
	}
	if got, err := s.Options.GetFloat(ResetPostOption); err != nil || got != 0.1 {
		t.Fatalf("GetFloat(%s) = %v, %v; want 0.1", ResetPostOption, got, err)
	}
}
