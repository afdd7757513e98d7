package dhcpopt

import (
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
)

const (
	// ErrTruncated is returned when the declared length of an option or a
	// header exceeds the remaining data.  It is always fatal for the message.
	ErrTruncated errors.Error = "data truncated"

	// ErrMalformedOption is returned when the payload of a known option
	// doesn't match its value kind.
	ErrMalformedOption errors.Error = "malformed option"

	// ErrUnknownOption is returned by strict decoders for option codes
	// missing from the registry.
	ErrUnknownOption errors.Error = "unknown option"

	// ErrTooLong is returned by encoders when an option payload doesn't fit
	// into the length field of the format.
	ErrTooLong errors.Error = "option too long"

	// ErrBadCode is returned by encoders for codes reserved by the format.
	ErrBadCode errors.Error = "bad option code"
)

// OptionError is an error about a particular option in a stream.
type OptionError struct {
	// Err is the underlying error.  It must not be nil.
	Err error

	// Code is the code of the offending option.
	Code uint16
}

// type check
var _ error = (*OptionError)(nil)

// Error implements the [error] interface for *OptionError.
func (err *OptionError) Error() (msg string) {
	return fmt.Sprintf("option %d: %s", err.Code, err.Err)
}

// type check
var _ errors.Wrapper = (*OptionError)(nil)

// Unwrap implements the [errors.Wrapper] interface for *OptionError.
func (err *OptionError) Unwrap() (unwrapped error) {
	return err.Err
}
