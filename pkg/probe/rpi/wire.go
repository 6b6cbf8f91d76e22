package rpi

import (
	"fmt"
	"time"

	"github.com/OpenTraceLab/OpenTraceSWD/pkg/probe"
)

// bitbangWire drives SWDIO/SWCLK on two GPIO pins. Bits are shifted LSB
// first; with writes the data line changes while the clock is low and the
// target samples on the rising edge, with reads the host samples before
// raising the clock.
type bitbangWire struct {
	dio Pin
	clk Pin

	// halfPeriod stretches each clock phase for targets that cannot keep up
	// with raw GPIO toggle rates. Zero means toggle as fast as the host can.
	halfPeriod time.Duration
	sleep      func(time.Duration)
}

func newBitbangWire(dio, clk Pin) (*bitbangWire, error) {
	w := &bitbangWire{dio: dio, clk: clk, sleep: time.Sleep}
	if err := clk.Out(false); err != nil {
		return nil, fmt.Errorf("%w: init SWCLK: %v", probe.ErrHardwareFault, err)
	}
	if err := dio.Out(false); err != nil {
		return nil, fmt.Errorf("%w: init SWDIO: %v", probe.ErrHardwareFault, err)
	}
	return w, nil
}

// setClock derives the per-phase delay from the requested bit rate. Above
// roughly 500 kHz the GPIO toggle overhead already dominates, so no
// artificial delay is added.
func (w *bitbangWire) setClock(hz float64) {
	half := time.Duration(float64(time.Second) / (2 * hz))
	if half < time.Microsecond {
		half = 0
	}
	w.halfPeriod = half
}

func (w *bitbangWire) pause() {
	if w.halfPeriod > 0 {
		w.sleep(w.halfPeriod)
	}
}

func (w *bitbangWire) WriteBits(data []byte, n int) error {
	if n <= 0 || (n+7)/8 > len(data) {
		return fmt.Errorf("%w: write of %d bits from %d bytes", probe.ErrInvalidArgument, n, len(data))
	}
	for i := 0; i < n; i++ {
		bit := data[i/8]&(1<<(i%8)) != 0
		if err := w.dio.Out(bit); err != nil {
			return fmt.Errorf("%w: SWDIO: %v", probe.ErrHardwareFault, err)
		}
		if err := w.clockPulse(); err != nil {
			return err
		}
	}
	return nil
}

func (w *bitbangWire) ReadBits(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: read of %d bits", probe.ErrInvalidArgument, n)
	}
	out := make([]byte, (n+7)/8)
	for i := 0; i < n; i++ {
		bit, err := w.dio.Read()
		if err != nil {
			return nil, fmt.Errorf("%w: SWDIO: %v", probe.ErrHardwareFault, err)
		}
		if bit {
			out[i/8] |= 1 << (i % 8)
		}
		if err := w.clockPulse(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (w *bitbangWire) Turnaround(toTarget bool) error {
	if toTarget {
		if err := w.dio.In(); err != nil {
			return fmt.Errorf("%w: release SWDIO: %v", probe.ErrHardwareFault, err)
		}
		return w.clockPulse()
	}
	if err := w.clockPulse(); err != nil {
		return err
	}
	if err := w.dio.Out(false); err != nil {
		return fmt.Errorf("%w: reclaim SWDIO: %v", probe.ErrHardwareFault, err)
	}
	return nil
}

func (w *bitbangWire) clockPulse() error {
	if err := w.clk.Out(true); err != nil {
		return fmt.Errorf("%w: SWCLK: %v", probe.ErrHardwareFault, err)
	}
	w.pause()
	if err := w.clk.Out(false); err != nil {
		return fmt.Errorf("%w: SWCLK: %v", probe.ErrHardwareFault, err)
	}
	w.pause()
	return nil
}
