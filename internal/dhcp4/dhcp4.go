// Package dhcp4 contains the DHCPv4 message model and its wire codec.
package dhcp4

import (
	"fmt"
	"net"
	"net/netip"
	"slices"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
)

// OpCode is the BOOTP operation code.
type OpCode uint8

// Operation codes.
const (
	OpCodeBootRequest OpCode = 1
	OpCodeBootReply   OpCode = 2
)

// MessageType is the value of the DHCP Message Type option.
type MessageType uint8

// Message types, see RFC 2132 Section 9.6 and RFC 4388.
const (
	MessageTypeNone     MessageType = 0
	MessageTypeDiscover MessageType = 1
	MessageTypeOffer    MessageType = 2
	MessageTypeRequest  MessageType = 3
	MessageTypeDecline  MessageType = 4
	MessageTypeAck      MessageType = 5
	MessageTypeNak      MessageType = 6
	MessageTypeRelease  MessageType = 7
	MessageTypeInform   MessageType = 8
)

// String implements the [fmt.Stringer] interface for MessageType.
func (t MessageType) String() (s string) {
	switch t {
	case MessageTypeNone:
		return "BOOTP"
	case MessageTypeDiscover:
		return "DISCOVER"
	case MessageTypeOffer:
		return "OFFER"
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeDecline:
		return "DECLINE"
	case MessageTypeAck:
		return "ACK"
	case MessageTypeNak:
		return "NAK"
	case MessageTypeRelease:
		return "RELEASE"
	case MessageTypeInform:
		return "INFORM"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Option codes, see RFC 2132, RFC 3046, RFC 4702, RFC 4039, and RFC 3397.
const (
	OptionSubnetMask       uint16 = 1
	OptionRouter           uint16 = 3
	OptionDomainNameServer uint16 = 6
	OptionHostName         uint16 = 12
	OptionDomainName       uint16 = 15
	OptionBroadcastAddress uint16 = 28
	OptionNTPServers       uint16 = 42
	OptionVendorSpecific   uint16 = 43
	OptionRequestedIP      uint16 = 50
	OptionLeaseTime        uint16 = 51
	OptionOverload         uint16 = 52
	OptionMessageType      uint16 = 53
	OptionServerIdentifier uint16 = 54
	OptionParameterRequest uint16 = 55
	OptionMessage          uint16 = 56
	OptionMaxMessageSize   uint16 = 57
	OptionRenewalTime      uint16 = 58
	OptionRebindingTime    uint16 = 59
	OptionClassIdentifier  uint16 = 60
	OptionClientIdentifier uint16 = 61
	OptionRapidCommit      uint16 = 80
	OptionClientFQDN       uint16 = 81
	OptionRelayAgentInfo   uint16 = 82
	OptionDomainSearch     uint16 = 119
	OptionClasslessRoutes  uint16 = 121
)

// Relay Agent Information sub-option codes, see RFC 3046.
const (
	AgentCircuitID uint16 = 1
	AgentRemoteID  uint16 = 2
)

// FlagBroadcast is the BOOTP broadcast flag.
const FlagBroadcast uint16 = 1 << 15

// Message is a DHCPv4 message.
type Message struct {
	// Options are the options of the message.
	Options dhcpopt.Options

	// ClientIP is the ciaddr field.
	ClientIP netip.Addr

	// YourIP is the yiaddr field.
	YourIP netip.Addr

	// ServerIP is the siaddr field.
	ServerIP netip.Addr

	// GatewayIP is the giaddr field.
	GatewayIP netip.Addr

	// ClientHWAddr is the chaddr field.  Only the first HWAddrLen bytes are
	// significant.
	ClientHWAddr [16]byte

	// ServerName is the sname field.
	ServerName [64]byte

	// BootFile is the file field.
	BootFile [128]byte

	// TransactionID is the xid field.
	TransactionID uint32

	// Secs is the number of seconds since the client began the exchange.
	Secs uint16

	// Flags are the BOOTP flags.
	Flags uint16

	// OpCode is the op field.
	OpCode OpCode

	// HWType is the htype field.
	HWType uint8

	// HWAddrLen is the hlen field.
	HWAddrLen uint8

	// Hops is the hops field.
	Hops uint8

	// Incomplete is true if the decoder stopped at a bad option and the rest
	// of the options were ignored.
	Incomplete bool
}

// HardwareAddr returns the significant part of the chaddr field.
func (m *Message) HardwareAddr() (hwAddr net.HardwareAddr) {
	l := min(int(m.HWAddrLen), len(m.ClientHWAddr))

	return slices.Clone(m.ClientHWAddr[:l])
}

// SetHardwareAddr sets the chaddr and hlen fields.  hwAddr must not be longer
// than 16 bytes.
func (m *Message) SetHardwareAddr(hwAddr net.HardwareAddr) {
	m.ClientHWAddr = [16]byte{}
	m.HWAddrLen = uint8(copy(m.ClientHWAddr[:], hwAddr))
}

// MessageType returns the value of the DHCP Message Type option, or
// [MessageTypeNone] for BOOTP messages.
func (m *Message) MessageType() (t MessageType) {
	v, _ := m.Options.Get(OptionMessageType)
	u, _ := v.(dhcpopt.Uint8)

	return MessageType(u)
}

// IsBroadcast returns true if the broadcast flag is set.
func (m *Message) IsBroadcast() (ok bool) {
	return m.Flags&FlagBroadcast != 0
}

// firstAddr returns the first address of an address list option.
func (m *Message) firstAddr(code uint16) (ip netip.Addr) {
	v, _ := m.Options.Get(code)
	if ips, ok := v.(dhcpopt.IPv4List); ok && len(ips) > 0 {
		return ips[0]
	}

	return netip.Addr{}
}

// RequestedIP returns the address from the Requested IP Address option.
func (m *Message) RequestedIP() (ip netip.Addr) {
	return m.firstAddr(OptionRequestedIP)
}

// ServerIdentifier returns the address from the Server Identifier option.
func (m *Message) ServerIdentifier() (ip netip.Addr) {
	return m.firstAddr(OptionServerIdentifier)
}

// ClientIdentifier returns the payload of the Client Identifier option.
func (m *Message) ClientIdentifier() (id []byte, ok bool) {
	v, ok := m.Options.Get(OptionClientIdentifier)
	if !ok {
		return nil, false
	}

	switch v := v.(type) {
	case dhcpopt.Opaque:
		return v.Bytes(), true
	case dhcpopt.Bytes:
		return v, true
	default:
		return nil, false
	}
}

// ParameterRequestList returns the codes from the Parameter Request List
// option.
func (m *Message) ParameterRequestList() (codes dhcpopt.Uint8List) {
	v, _ := m.Options.Get(OptionParameterRequest)
	codes, _ = v.(dhcpopt.Uint8List)

	return codes
}

// HostName returns the value of the Host Name option.
func (m *Message) HostName() (name string) {
	v, _ := m.Options.Get(OptionHostName)
	s, _ := v.(dhcpopt.String)

	return string(s)
}

// ClientFQDN returns the Client FQDN option, if any.
func (m *Message) ClientFQDN() (fqdn *ClientFQDN, ok bool) {
	v, _ := m.Options.Get(OptionClientFQDN)
	fqdn, ok = v.(*ClientFQDN)

	return fqdn, ok
}

// NewReply returns a reply to req with the given type.  The reply shares no
// memory with req.
func NewReply(req *Message, t MessageType) (resp *Message) {
	resp = &Message{
		ClientIP:      netip.IPv4Unspecified(),
		YourIP:        netip.IPv4Unspecified(),
		ServerIP:      netip.IPv4Unspecified(),
		GatewayIP:     req.GatewayIP,
		ClientHWAddr:  req.ClientHWAddr,
		TransactionID: req.TransactionID,
		Flags:         req.Flags,
		OpCode:        OpCodeBootReply,
		HWType:        req.HWType,
		HWAddrLen:     req.HWAddrLen,
	}

	resp.Options.Set(OptionMessageType, dhcpopt.Uint8(t))

	return resp
}
