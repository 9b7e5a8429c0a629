package decode

import (
	"errors"
	"fmt"
)

// ErrInvalidSamplingConfig is the sentinel for generation requests that can
// never be serviced: an unrecognized or missing sampling method, a
// non-positive temperature, or out-of-range policy parameters.  It is
// raised before any model call.
var ErrInvalidSamplingConfig = errors.New("invalid_sampling_config")

type invalidConfigError struct {
	msg string
}

func (e invalidConfigError) Error() string { return "decode: " + e.msg }

func (e invalidConfigError) Unwrap() error { return ErrInvalidSamplingConfig }

func newInvalidConfig(format string, args ...any) error {
	return invalidConfigError{msg: fmt.Sprintf(format, args...)}
}
