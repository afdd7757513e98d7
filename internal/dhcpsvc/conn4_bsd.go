//go:build darwin || freebsd || openbsd

package dhcpsvc

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"
)

// udpConn4 is the DHCPv4 connection without the raw socket.  The replies to
// the hardware addresses are broadcast on the interface instead.
type udpConn4 struct {
	udpConn *net.UDPConn

	// bcast is the directed broadcast address of the interface's subnet.
	bcast netip.Addr
}

// type check
var _ conn4 = (*udpConn4)(nil)

// newConn4 opens the DHCPv4 connection on iface.  srcIP is the address of
// the server, used to find the directed broadcast address.
func newConn4(iface *net.Interface, srcIP netip.Addr) (c conn4, err error) {
	udp, err := server4.NewIPv4UDPConn(iface.Name, &net.UDPAddr{
		IP:   net.IPv4zero,
		Port: dhcpv4.ServerPort,
	})
	if err != nil {
		return nil, fmt.Errorf("creating udp connection: %w", err)
	}

	return &udpConn4{
		udpConn: udp,
		bcast:   directedBroadcast(iface, srcIP),
	}, nil
}

// directedBroadcast returns the broadcast address of the subnet of iface
// containing ip.  It returns the limited broadcast address if there is none.
func directedBroadcast(iface *net.Interface, ip netip.Addr) (bcast netip.Addr) {
	addrs, err := iface.Addrs()
	if err != nil {
		return bcastAddr
	}

	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}

		pref, pErr := netip.ParsePrefix(ipNet.String())
		if pErr != nil || !pref.Contains(ip) {
			continue
		}

		b := pref.Masked().Addr().As4()
		mask := net.CIDRMask(pref.Bits(), 32)
		for i := range b {
			b[i] |= ^mask[i]
		}

		return netip.AddrFrom4(b)
	}

	return bcastAddr
}

// readFrom implements the [conn4] interface for *udpConn4.
func (c *udpConn4) readFrom(b []byte) (n int, err error) {
	n, _, err = c.udpConn.ReadFromUDPAddrPort(b)

	return n, err
}

// send implements the [conn4] interface for *udpConn4.
func (c *udpConn4) send(b []byte, p *peer4) (err error) {
	dst := p.addr
	if p.hwAddr != nil || dst.Addr() == bcastAddr {
		// Writing to the addresses belonging to other interfaces fails on
		// these platforms, so use the broadcast address of the bound one.
		dst = netip.AddrPortFrom(c.bcast, dst.Port())
	}

	_, err = c.udpConn.WriteToUDPAddrPort(b, dst)

	return err
}

// Close implements the [conn4] interface for *udpConn4.
func (c *udpConn4) Close() (err error) {
	return c.udpConn.Close()
}
