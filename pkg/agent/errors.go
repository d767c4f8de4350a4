package agent

import (
	"errors"
	"fmt"
)

// ErrValidation marks requests rejected before any state was touched.
var ErrValidation = errors.New("invalid turn request")

// ValidationError reports which field of a request was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) hold for every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
