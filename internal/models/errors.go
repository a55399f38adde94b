package models

import "errors"

// ValidationError marks bad input rejected synchronously at the boundary.
// Nothing is persisted when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an optimistic update lost its version race
// more times than the retry bound allows. Callers must be able to tell
// contention apart from bad input, so this is never wrapped in a
// ValidationError.
var ErrConflict = errors.New("concurrency conflict")

// ErrCorruptFeatures marks a malformed feature vector (NaN, Inf, or
// out-of-range values). Corrupt vectors are discarded before any persisted
// weight is touched.
var ErrCorruptFeatures = errors.New("corrupt feature vector")
