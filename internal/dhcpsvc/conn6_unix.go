//go:build darwin || freebsd || linux || openbsd

package dhcpsvc

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/dhcpv6/server6"
	"golang.org/x/net/ipv6"
)

// udpConn6 is the DHCPv6 server connection joined to the well-known multicast
// groups of servers and relay agents.
type udpConn6 struct {
	udpConn *net.UDPConn
	pktConn *ipv6.PacketConn
}

// type check
var _ conn6 = (*udpConn6)(nil)

// newConn6 opens the DHCPv6 connection on iface.
func newConn6(iface *net.Interface) (c conn6, err error) {
	udp, err := server6.NewIPv6UDPConn(iface.Name, &net.UDPAddr{
		IP:   net.IPv6unspecified,
		Port: dhcpv6.DefaultServerPort,
	})
	if err != nil {
		return nil, fmt.Errorf("creating udp connection: %w", err)
	}

	defer func() {
		if err != nil {
			err = errors.WithDeferred(err, udp.Close())
		}
	}()

	pc := ipv6.NewPacketConn(udp)
	for _, g := range []net.IP{
		dhcpv6.AllDHCPRelayAgentsAndServers,
		dhcpv6.AllDHCPServers,
	} {
		err = pc.JoinGroup(iface, &net.UDPAddr{IP: g, Port: dhcpv6.DefaultServerPort})
		if err != nil {
			return nil, fmt.Errorf("joining group %s: %w", g, err)
		}
	}

	err = pc.SetControlMessage(ipv6.FlagDst, true)
	if err != nil {
		return nil, fmt.Errorf("setting control message: %w", err)
	}

	return &udpConn6{
		udpConn: udp,
		pktConn: pc,
	}, nil
}

// readFrom implements the [conn6] interface for *udpConn6.
func (c *udpConn6) readFrom(b []byte) (n int, src netip.AddrPort, dst netip.Addr, err error) {
	n, cm, addr, err := c.pktConn.ReadFrom(b)
	if err != nil {
		return 0, netip.AddrPort{}, netip.Addr{}, err
	}

	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, netip.AddrPort{}, netip.Addr{}, fmt.Errorf("source address: unexpected type %T", addr)
	}

	src = udpAddr.AddrPort()
	if cm != nil {
		dst, _ = netip.AddrFromSlice(cm.Dst)
	}

	return n, netip.AddrPortFrom(src.Addr().Unmap(), src.Port()), dst, nil
}

// writeTo implements the [conn6] interface for *udpConn6.
func (c *udpConn6) writeTo(b []byte, dst netip.AddrPort) (err error) {
	_, err = c.udpConn.WriteToUDPAddrPort(b, dst)

	return err
}

// Close implements the [conn6] interface for *udpConn6.
func (c *udpConn6) Close() (err error) {
	return c.udpConn.Close()
}
