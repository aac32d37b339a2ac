package ops

import (
	"errors"
	"fmt"
)

// TransportError wraps a failed read or write. The caller's state is left as
// it was, so the call can be retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolDesyncError is returned when the op log rejects an operation whose
// basis or parent does not line up with what the log holds.
type ProtocolDesyncError struct {
	ID     string
	Reason string
}

func (e *ProtocolDesyncError) Error() string {
	return fmt.Sprintf("operation %s out of sync: %s", e.ID, e.Reason)
}

// IsDesync reports whether err carries a ProtocolDesyncError.
func IsDesync(err error) bool {
	var d *ProtocolDesyncError
	return errors.As(err, &d)
}

func desync(id, format string, args ...any) error {
	return &ProtocolDesyncError{ID: id, Reason: fmt.Sprintf(format, args...)}
}
