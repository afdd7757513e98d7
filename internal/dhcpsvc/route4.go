package dhcpsvc

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp4"
	"github.com/insomniacslk/dhcp/dhcpv4"
)

// peer4 is the destination of a DHCPv4 reply.
type peer4 struct {
	// hwAddr is the hardware address of an unconfigured client.  If not nil,
	// the reply is unicast to addr through the raw connection.
	hwAddr net.HardwareAddr

	// addr is the destination address and port.
	addr netip.AddrPort
}

// type check
var _ fmt.Stringer = (*peer4)(nil)

// String implements the [fmt.Stringer] interface for *peer4.
func (p *peer4) String() (s string) {
	if p.hwAddr != nil {
		return fmt.Sprintf("%s (%s)", p.addr, p.hwAddr)
	}

	return p.addr.String()
}

// bcastAddr is the limited broadcast address.
var bcastAddr = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// replyPeer returns the destination of resp to req.  It sets the broadcast
// flag of resp when the relay agent should broadcast it.
//
// See https://datatracker.ietf.org/doc/html/rfc2131#section-4.1.
func replyPeer(req, resp *dhcp4.Message) (p *peer4) {
	isNAK := resp.MessageType() == dhcp4.MessageTypeNak

	switch {
	case isSpecified4(req.GatewayIP):
		// Send any return messages to the server port on the BOOTP relay agent
		// whose address appears in giaddr.
		if isNAK {
			// Set the broadcast bit in the DHCPNAK, so that the relay agent
			// broadcasts it to the client, because the client may not have a
			// correct network address or subnet mask, and the client may not
			// be answering ARP requests.
			resp.Flags |= dhcp4.FlagBroadcast
		}

		return &peer4{addr: netip.AddrPortFrom(req.GatewayIP, dhcpv4.ServerPort)}
	case isNAK:
		// Broadcast any DHCPNAK messages to 0xffffffff.
	case isSpecified4(req.ClientIP):
		// Unicast DHCPOFFER and DHCPACK messages to the address in ciaddr.
		return &peer4{addr: netip.AddrPortFrom(req.ClientIP, dhcpv4.ClientPort)}
	case !req.IsBroadcast() && req.HWAddrLen > 0 && isSpecified4(resp.YourIP):
		// Unicast DHCPOFFER and DHCPACK messages to the client's hardware
		// address and yiaddr.
		return &peer4{
			hwAddr: req.HardwareAddr(),
			addr:   netip.AddrPortFrom(resp.YourIP, dhcpv4.ClientPort),
		}
	default:
		// Go on since the broadcast is the default.
	}

	return &peer4{addr: netip.AddrPortFrom(bcastAddr, dhcpv4.ClientPort)}
}
