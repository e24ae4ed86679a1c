package codec

import (
	"errors"
	"fmt"
)

// FormatException is a recoverable failure of a single value. Callers log it
// and skip or substitute the value, then carry on with the next one.
type FormatException struct {
	Field  string
	Reason string
}

func (e *FormatException) Error() string {
	if e.Field == "" {
		return "format exception: " + e.Reason
	}
	return fmt.Sprintf("format exception: %s: %s", e.Field, e.Reason)
}

// FatalFormatError means the value cannot be produced at all and the
// operation consuming it has to stop.
type FatalFormatError struct {
	Field  string
	Reason string
	Err    error
}

func (e *FatalFormatError) Error() string {
	msg := "fatal format error: "
	if e.Field != "" {
		msg += e.Field + ": "
	}
	msg += e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FatalFormatError) Unwrap() error {
	return e.Err
}

// Recoverable builds a FormatException.
func Recoverable(field, format string, args ...any) error {
	return &FormatException{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Fatal builds a FatalFormatError wrapping cause.
func Fatal(field, reason string, cause error) error {
	return &FatalFormatError{Field: field, Reason: reason, Err: cause}
}

// IsRecoverable reports whether err carries a FormatException.
func IsRecoverable(err error) bool {
	var fe *FormatException
	return errors.As(err, &fe)
}

// IsFatal reports whether err carries a FatalFormatError.
func IsFatal(err error) bool {
	var fe *FatalFormatError
	return errors.As(err, &fe)
}

// IsFormat reports whether err is either kind of format failure.
func IsFormat(err error) bool {
	return IsRecoverable(err) || IsFatal(err)
}
