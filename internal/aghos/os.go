// Package aghos contains utilities for functions requiring system calls and
// other OS-specific APIs.
package aghos

import (
	"fmt"
	"io/fs"
	"os"
	"runtime"

	"github.com/AdguardTeam/golibs/errors"
)

// Default file and directory permissions.
const (
	DefaultPermDir  fs.FileMode = 0o700
	DefaultPermFile fs.FileMode = 0o600
)

// Unsupported is a helper that returns a wrapped [errors.ErrUnsupported].
func Unsupported(op string) (err error) {
	return fmt.Errorf("%s: not supported on %s: %w", op, runtime.GOOS, errors.ErrUnsupported)
}

// HaveAdminRights checks if the current user has root (administrator) rights.
// Serving the DHCP ports usually requires them.
func HaveAdminRights() (ok bool, err error) {
	return haveAdminRights()
}

// NotifyShutdownSignal notifies c on receiving shutdown signals.
func NotifyShutdownSignal(c chan<- os.Signal) {
	notifyShutdownSignal(c)
}

// NotifyReconfigureSignal notifies c on receiving reconfigure signals.
func NotifyReconfigureSignal(c chan<- os.Signal) {
	notifyReconfigureSignal(c)
}

// IsShutdownSignal returns true if sig is a shutdown signal.
func IsShutdownSignal(sig os.Signal) (ok bool) {
	return isShutdownSignal(sig)
}

// IsReconfigureSignal returns true if sig is a reconfigure signal.
func IsReconfigureSignal(sig os.Signal) (ok bool) {
	return isReconfigureSignal(sig)
}

// SendReconfigureSignal sends the reconfigure signal to the process with the
// given PID.
func SendReconfigureSignal(pid int) (err error) {
	return sendReconfigureSignal(pid)
}
