package imgcas

import "errors"

var (
	ErrNotFound   = errors.New("imgcas: not found")
	ErrValidation = errors.New("imgcas: validation failed")
	ErrIO         = errors.New("imgcas: storage i/o failed")
)

// ValidationError carries the human-readable reason an upload was rejected.
// It matches ErrValidation with errors.Is.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
