package tryon

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("job not found")
	ErrForbidden           = errors.New("job belongs to another user")
	ErrAlreadyTerminal     = errors.New("job already terminal")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// ValidationError reports a structurally invalid submission.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
