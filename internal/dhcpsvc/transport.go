package dhcpsvc

import (
	"fmt"
	"io"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
)

// conn4 is a DHCPv4 server connection bound to a single network interface.
type conn4 interface {
	io.Closer

	// readFrom reads a single packet into b.
	readFrom(b []byte) (n int, err error)

	// send writes the encoded reply b to p.
	send(b []byte, p *peer4) (err error)
}

// conn6 is a DHCPv6 server connection bound to a single network interface.
type conn6 interface {
	io.Closer

	// readFrom reads a single packet into b.  dst is the destination address
	// of the packet, if known.
	readFrom(b []byte) (n int, src netip.AddrPort, dst netip.Addr, err error)

	// writeTo writes the encoded reply b to dst.
	writeTo(b []byte, dst netip.AddrPort) (err error)
}

// errNoTransport is returned on the platforms without DHCP server sockets.
const errNoTransport errors.Error = "dhcp server sockets are not supported on this platform"

// wrapErrs is a helper to wrap the errors from two independent underlying
// connections.
func wrapErrs(action string, udpConnErr, rawConnErr error) (err error) {
	switch {
	case udpConnErr != nil && rawConnErr != nil:
		return fmt.Errorf("%s both connections: %w", action, errors.Join(udpConnErr, rawConnErr))
	case udpConnErr != nil:
		return fmt.Errorf("%s udp connection: %w", action, udpConnErr)
	case rawConnErr != nil:
		return fmt.Errorf("%s raw connection: %w", action, rawConnErr)
	default:
		return nil
	}
}
