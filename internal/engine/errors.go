package engine

import (
	"errors"
	"fmt"
)

// Run failures fall into two families. Configuration errors are fatal and
// never retried: the run was asked for something the schedule or sampler
// cannot do. Numeric instability is surfaced rather than clipped, since it
// indicates a misconfigured guidance scale or divergent model state.
var (
	ErrConfiguration            = errors.New("invalid_configuration")
	ErrInvalidSamplingParameter = fmt.Errorf("%w: invalid sampling parameter", ErrConfiguration)
	ErrNonFiniteLogits          = errors.New("non-finite logits after guidance")
)

type runError struct {
	msg  string
	base error
}

func (e runError) Error() string { return e.msg }

func (e runError) Unwrap() error { return e.base }

func newConfigError(format string, args ...any) error {
	return runError{msg: fmt.Sprintf(format, args...), base: ErrConfiguration}
}

func newSamplingError(format string, args ...any) error {
	return runError{msg: fmt.Sprintf(format, args...), base: ErrInvalidSamplingParameter}
}
