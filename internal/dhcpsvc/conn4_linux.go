//go:build linux

package dhcpsvc

import (
	"fmt"
	"net"
	"net/netip"
	"os"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"
	"github.com/mdlayher/ethernet"
	"github.com/mdlayher/packet"
)

// rawConn4 is the DHCPv4 connection capable of unicasting the replies to the
// hardware addresses of unconfigured clients.
type rawConn4 struct {
	// udpConn is the connection for UDP addresses.
	udpConn *net.UDPConn

	// rawConn is the connection for hardware addresses.
	rawConn *packet.Conn

	// srcMAC is the hardware address of the network interface.
	srcMAC net.HardwareAddr

	// srcIP is the address of the server on the network interface.
	srcIP netip.Addr
}

// type check
var _ conn4 = (*rawConn4)(nil)

// newConn4 opens the DHCPv4 connection on iface.  srcIP is the address of
// the server used for the raw replies.
func newConn4(iface *net.Interface, srcIP netip.Addr) (c conn4, err error) {
	raw, err := packet.Listen(iface, packet.Raw, int(ethernet.EtherTypeIPv4), nil)
	if err != nil {
		return nil, fmt.Errorf("creating raw connection: %w", err)
	}

	udp, err := server4.NewIPv4UDPConn(iface.Name, &net.UDPAddr{
		IP:   net.IPv4zero,
		Port: dhcpv4.ServerPort,
	})
	if err != nil {
		return nil, errors.WithDeferred(
			fmt.Errorf("creating udp connection: %w", err),
			raw.Close(),
		)
	}

	return &rawConn4{
		udpConn: udp,
		rawConn: raw,
		srcMAC:  iface.HardwareAddr,
		srcIP:   srcIP,
	}, nil
}

// readFrom implements the [conn4] interface for *rawConn4.
func (c *rawConn4) readFrom(b []byte) (n int, err error) {
	n, _, err = c.udpConn.ReadFromUDPAddrPort(b)

	return n, err
}

// send implements the [conn4] interface for *rawConn4.
func (c *rawConn4) send(b []byte, p *peer4) (err error) {
	if p.hwAddr == nil {
		_, err = c.udpConn.WriteToUDPAddrPort(b, p.addr)

		return err
	}

	data, err := c.buildEtherPkt(b, p)
	if err != nil {
		return err
	}

	_, err = c.rawConn.WriteTo(data, &packet.Addr{HardwareAddr: p.hwAddr})

	return err
}

// Close implements the [conn4] interface for *rawConn4.
func (c *rawConn4) Close() (err error) {
	rerr := c.rawConn.Close()
	if errors.Is(rerr, os.ErrClosed) {
		// Ignore the error since the actual file is closed already.
		rerr = nil
	}

	return wrapErrs("closing", c.udpConn.Close(), rerr)
}

// ipv4DefaultTTL is the default Time to Live value in seconds as recommended by
// RFC-1700.
//
// See https://datatracker.ietf.org/doc/html/rfc1700.
const ipv4DefaultTTL = 64

// buildEtherPkt wraps the payload with IPv4, UDP and Ethernet frames.
// Validation of the payload is a caller's responsibility.
func (c *rawConn4) buildEtherPkt(payload []byte, p *peer4) (pkt []byte, err error) {
	udpLayer := &layers.UDP{
		SrcPort: dhcpv4.ServerPort,
		DstPort: layers.UDPPort(p.addr.Port()),
	}

	ipv4Layer := &layers.IPv4{
		Version:  4,
		Flags:    layers.IPv4DontFragment,
		TTL:      ipv4DefaultTTL,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    c.srcIP.AsSlice(),
		DstIP:    p.addr.Addr().AsSlice(),
	}

	// Ignore the error since it's only returned for invalid network layer's
	// type.
	_ = udpLayer.SetNetworkLayerForChecksum(ipv4Layer)

	ethLayer := &layers.Ethernet{
		SrcMAC:       c.srcMAC,
		DstMAC:       p.hwAddr,
		EthernetType: layers.EthernetTypeIPv4,
	}

	buf := gopacket.NewSerializeBuffer()
	setts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}

	err = gopacket.SerializeLayers(
		buf,
		setts,
		ethLayer,
		ipv4Layer,
		udpLayer,
		gopacket.Payload(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("serializing layers: %w", err)
	}

	return buf.Bytes(), nil
}
