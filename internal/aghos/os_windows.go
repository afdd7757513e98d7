//go:build windows

package aghos

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/windows"
)

func haveAdminRights() (ok bool, err error) {
	var token windows.Token
	h := windows.CurrentProcess()
	err = windows.OpenProcessToken(h, windows.TOKEN_QUERY, &token)
	if err != nil {
		return false, err
	}
	defer func() { _ = token.Close() }()

	info := make([]byte, 4)
	var returnedLen uint32
	err = windows.GetTokenInformation(
		token,
		windows.TokenElevation,
		&info[0],
		uint32(len(info)),
		&returnedLen,
	)
	if err != nil {
		return false, err
	}

	return info[0] != 0, nil
}

func notifyShutdownSignal(c chan<- os.Signal) {
	// syscall.SIGTERM is processed automatically.  See go doc os/signal,
	// section Windows.
	signal.Notify(c, os.Interrupt)
}

func notifyReconfigureSignal(c chan<- os.Signal) {
	signal.Notify(c, windows.SIGHUP)
}

func isShutdownSignal(sig os.Signal) (ok bool) {
	switch sig {
	case os.Interrupt, syscall.SIGTERM:
		return true
	default:
		return false
	}
}

func isReconfigureSignal(sig os.Signal) (ok bool) {
	return sig == windows.SIGHUP
}

func sendReconfigureSignal(_ int) (err error) {
	return Unsupported("sending reconfigure signal")
}
