package changes

import (
	"errors"
	"fmt"
)

// ErrUnknownType is returned when decoding meets an unregistered type name.
var ErrUnknownType = errors.New("unknown type name")

// ValidationError reports a change that does not fit the value it is
// applied to. It is a programming or protocol error and is never retried.
type ValidationError struct {
	Change Change
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Change == nil {
		return "invalid change: " + e.Reason
	}
	return fmt.Sprintf("invalid change %v: %s", e.Change, e.Reason)
}

func invalid(c Change, format string, args ...any) error {
	return &ValidationError{Change: c, Reason: fmt.Sprintf(format, args...)}
}

func withChange(err error, c Change) error {
	var v *ValidationError
	if errors.As(err, &v) && v.Change == nil {
		return &ValidationError{Change: c, Reason: v.Reason}
	}
	return err
}
