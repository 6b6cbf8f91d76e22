package probe

import (
	"errors"
	"fmt"
)

// Error kinds. Probes wrap these so callers can classify failures with
// errors.Is: ErrUnsupported means the probe lacks the capability (permanent),
// ErrInvalidArgument means the request itself is malformed, ErrHardwareFault
// covers wire-level failures (FAULT acks, parity errors, bus trouble), and
// ErrTimeout covers transfers the target kept deferring.
var (
	ErrUnsupported     = errors.New("probe: unsupported operation")
	ErrInvalidArgument = errors.New("probe: invalid argument")
	ErrHardwareFault   = errors.New("probe: hardware fault")
	ErrTimeout         = errors.New("probe: timeout")
)

// Unsupported builds an ErrUnsupported for the named operation.
func Unsupported(op string) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, op)
}
