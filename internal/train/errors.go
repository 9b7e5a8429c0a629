package train

import (
	"errors"
	"fmt"
)

// ErrAccumulationConfig is the sentinel for accumulation setups that cannot
// produce a correct step: a count that does not divide the batch, or a batch
// whose accumulation axis disagrees with the configured count.  Raised at
// setup, never mid-loop.
var ErrAccumulationConfig = errors.New("accumulation_config")

type accumulationConfigError struct {
	msg string
}

func (e accumulationConfigError) Error() string { return "train: " + e.msg }

func (e accumulationConfigError) Unwrap() error { return ErrAccumulationConfig }

func newAccumulationConfig(format string, args ...any) error {
	return accumulationConfigError{msg: fmt.Sprintf(format, args...)}
}
