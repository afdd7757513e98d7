package dhcpsvc

import (
	"fmt"
	"log/slog"

	"github.com/AdguardTeam/golibs/errors"
)

const (
	// errNoClientID means that a message lacks the required client
	// identifier.
	errNoClientID errors.Error = "no client identifier"

	// errNoServerID means that a message lacks the required server
	// identifier.
	errNoServerID errors.Error = "no server identifier"

	// errUnexpectedServerID means that a message carries a server identifier
	// while it must not.
	errUnexpectedServerID errors.Error = "unexpected server identifier"

	// errOtherServer means that a message is addressed to another server.
	errOtherServer errors.Error = "server identifier mismatch"

	// errNoLink means that no configured link matches the message.
	errNoLink errors.Error = "no matching link"

	// errUnsupported means that the server doesn't process messages of this
	// type.
	errUnsupported errors.Error = "unsupported message type"

	// errBadClientState means that the fields of a DHCPv4 request don't
	// describe any of the client states.
	errBadClientState errors.Error = "inconsistent client state"

	// errUnexpectedIA means that a message carries an identity association
	// while it must not.
	errUnexpectedIA errors.Error = "unexpected identity association"

	// errNoAddrs means that a message lacks the addresses it must contain.
	errNoAddrs errors.Error = "no addresses"

	// errSilent means that the server must not answer the message although
	// it's valid.
	errSilent errors.Error = "no reply required"
)

// dropError is returned by the processors when a message must not be answered.
type dropError struct {
	// reason is the cause of the drop.
	reason error

	// msgType is the type of the dropped message.
	msgType fmt.Stringer

	// level is the level to log the drop with.
	level slog.Level
}

// type check
var _ errors.Wrapper = (*dropError)(nil)

// Error implements the [error] interface for *dropError.
func (err *dropError) Error() (msg string) {
	return fmt.Sprintf("dropping %s: %s", err.msgType, err.reason)
}

// Unwrap implements the [errors.Wrapper] interface for *dropError.
func (err *dropError) Unwrap() (unwrapped error) {
	return err.reason
}

// newDrop returns a drop of a message of type t logged at the warning level.
func newDrop(t fmt.Stringer, reason error) (err *dropError) {
	return &dropError{
		reason:  reason,
		msgType: t,
		level:   slog.LevelWarn,
	}
}

// newQuietDrop is like [newDrop] but the drop is logged at the debug level.
func newQuietDrop(t fmt.Stringer, reason error) (err *dropError) {
	return &dropError{
		reason:  reason,
		msgType: t,
		level:   slog.LevelDebug,
	}
}
