package walk

import (
	"errors"
	"strings"
)

// ValidationError lists every human-readable problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid configuration: " + e.Problems[0]
	}
	return "invalid configuration:\n  - " + strings.Join(e.Problems, "\n  - ")
}

// Merge appends the problems of other when it is a ValidationError.
// Non-validation errors are recorded by message.
func (e *ValidationError) Merge(other error) {
	if other == nil {
		return
	}
	var ve *ValidationError
	if errors.As(other, &ve) {
		e.Problems = append(e.Problems, ve.Problems...)
		return
	}
	e.Problems = append(e.Problems, other.Error())
}

// Err returns e when it holds problems and nil otherwise.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Problems) == 0 {
		return nil
	}
	return e
}

// Problems extracts the problem list from err, or nil if err is not a
// ValidationError.
func Problems(err error) []string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Problems
	}
	return nil
}
