//go:build windows

package dhcpsvc

import (
	"net"
	"net/netip"
)

// newConn4 always returns errNoTransport.
func newConn4(_ *net.Interface, _ netip.Addr) (c conn4, err error) {
	return nil, errNoTransport
}

// newConn6 always returns errNoTransport.
func newConn6(_ *net.Interface) (c conn6, err error) {
	return nil, errNoTransport
}
