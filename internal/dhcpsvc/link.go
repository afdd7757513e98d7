package dhcpsvc

import (
	"net/netip"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp4"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp6"
)

// linkIndex selects the links of the received messages.  All the links must
// be of the same address family.
type linkIndex []*Link

// byAddr returns the link which subnet contains ip.
func (idx linkIndex) byAddr(ip netip.Addr) (l *Link) {
	for _, l = range idx {
		if l.Subnet.Contains(ip) {
			return l
		}
	}

	return nil
}

// byInterface returns the link attached to the network interface with the
// given name.
func (idx linkIndex) byInterface(name string) (l *Link) {
	if name == "" {
		return nil
	}

	for _, l = range idx {
		if l.Interface == name {
			return l
		}
	}

	return nil
}

// isLinkAddr returns true if ip may identify the link in a relay envelope.
func isLinkAddr(ip netip.Addr) (ok bool) {
	return ip.IsValid() && !ip.IsUnspecified() && !ip.IsLinkLocalUnicast()
}

// select6 returns the link of a DHCPv6 message received on the network
// interface iface within relays.  The envelopes are checked from the one
// closest to the client: the link address is used when specified, the
// Interface-ID option otherwise.  A message received directly is assigned to
// the link of iface.
func (idx linkIndex) select6(relays []*dhcp6.RelayMessage, iface string) (l *Link) {
	if len(relays) == 0 {
		return idx.byInterface(iface)
	}

	for i := len(relays) - 1; i >= 0; i-- {
		r := relays[i]
		if isLinkAddr(r.LinkAddr) {
			if l = idx.byAddr(r.LinkAddr); l != nil {
				return l
			}
		}

		if id, ok := r.InterfaceID(); ok {
			if l = idx.byInterface(string(id)); l != nil {
				return l
			}
		}
	}

	return nil
}

// select4 returns the link of a DHCPv4 message received on the network
// interface iface.  The relay agent address has precedence over the client
// address, which has precedence over the interface.
func (idx linkIndex) select4(req *dhcp4.Message, iface string) (l *Link) {
	if isSpecified4(req.GatewayIP) {
		return idx.byAddr(req.GatewayIP)
	}

	if isSpecified4(req.ClientIP) {
		if l = idx.byAddr(req.ClientIP); l != nil {
			return l
		}
	}

	return idx.byInterface(iface)
}

// isSpecified4 returns true if ip is a non-zero IPv4 address.
func isSpecified4(ip netip.Addr) (ok bool) {
	return ip.Is4() && !ip.IsUnspecified()
}
