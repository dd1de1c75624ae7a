package protocol

import (
	"errors"
	"fmt"
	"strconv"
)

// ValidationError reports an argument that violates a register or command
// contract. It is raised before any bus activity.
type ValidationError struct {
	// Target names the register or command being validated (may be empty)
	Target string

	// Address is the register address, when Target is a register
	Address byte

	// Index is the offending byte position, or -1 for whole-argument errors
	Index int

	// Mask is the valid-bit mask for the offending byte
	Mask byte

	// Value is the offending byte
	Value byte

	// Reason describes whole-argument errors such as a length mismatch
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		if e.Target != "" {
			return fmt.Sprintf("%s: %s", e.Target, e.Reason)
		}
		return e.Reason
	}
	return fmt.Sprintf("%s (0x%02X): byte %d value 0x%02X has bits outside mask 0x%02X",
		e.Target, e.Address, e.Index, e.Value, e.Mask)
}

// ConnectionError reports a failure of the underlying transfer link
type ConnectionError struct {
	// Op is the operation that was running
	Op string

	// Err is the link error, if any
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: connection unavailable", e.Op)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// UnsupportedOperationError reports a command that this driver declares but
// does not implement
type UnsupportedOperationError struct {
	Command string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s is not supported", e.Command)
}

// IsValidationError returns true if err is or wraps a ValidationError
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConnectionError returns true if err is or wraps a ConnectionError
func IsConnectionError(err error) bool {
	var c *ConnectionError
	return errors.As(err, &c)
}

// IsUnsupported returns true if err is or wraps an UnsupportedOperationError
func IsUnsupported(err error) bool {
	var u *UnsupportedOperationError
	return errors.As(err, &u)
}

func quote(s string) string {
	return strconv.Quote(s)
}
