// Package dhcp6 contains the DHCPv6 message model and its wire codec, including
// recursive Relay-Forward and Relay-Reply envelopes.
package dhcp6

import (
	"fmt"
	"net/netip"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
)

// MessageType is the type of a DHCPv6 message.
type MessageType uint8

// Message types, see RFC 3315 Section 5.3.
const (
	MessageTypeSolicit            MessageType = 1
	MessageTypeAdvertise          MessageType = 2
	MessageTypeRequest            MessageType = 3
	MessageTypeConfirm            MessageType = 4
	MessageTypeRenew              MessageType = 5
	MessageTypeRebind             MessageType = 6
	MessageTypeReply              MessageType = 7
	MessageTypeRelease            MessageType = 8
	MessageTypeDecline            MessageType = 9
	MessageTypeReconfigure        MessageType = 10
	MessageTypeInformationRequest MessageType = 11
	MessageTypeRelayForward       MessageType = 12
	MessageTypeRelayReply         MessageType = 13
)

// String implements the [fmt.Stringer] interface for MessageType.
func (t MessageType) String() (s string) {
	switch t {
	case MessageTypeSolicit:
		return "SOLICIT"
	case MessageTypeAdvertise:
		return "ADVERTISE"
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeConfirm:
		return "CONFIRM"
	case MessageTypeRenew:
		return "RENEW"
	case MessageTypeRebind:
		return "REBIND"
	case MessageTypeReply:
		return "REPLY"
	case MessageTypeRelease:
		return "RELEASE"
	case MessageTypeDecline:
		return "DECLINE"
	case MessageTypeReconfigure:
		return "RECONFIGURE"
	case MessageTypeInformationRequest:
		return "INFORMATION-REQUEST"
	case MessageTypeRelayForward:
		return "RELAY-FORW"
	case MessageTypeRelayReply:
		return "RELAY-REPL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// IsRelay returns true if t is one of the relay envelope types.
func (t MessageType) IsRelay() (ok bool) {
	return t == MessageTypeRelayForward || t == MessageTypeRelayReply
}

// Option codes, see RFC 3315, RFC 3633, RFC 3646, RFC 4242, and RFC 4704.
const (
	OptionClientID        uint16 = 1
	OptionServerID        uint16 = 2
	OptionIANA            uint16 = 3
	OptionIATA            uint16 = 4
	OptionIAAddr          uint16 = 5
	OptionORO             uint16 = 6
	OptionPreference      uint16 = 7
	OptionElapsedTime     uint16 = 8
	OptionRelayMsg        uint16 = 9
	OptionAuth            uint16 = 11
	OptionUnicast         uint16 = 12
	OptionStatusCode      uint16 = 13
	OptionRapidCommit     uint16 = 14
	OptionUserClass       uint16 = 15
	OptionVendorClass     uint16 = 16
	OptionVendorOpts      uint16 = 17
	OptionInterfaceID     uint16 = 18
	OptionReconfMsg       uint16 = 19
	OptionReconfAccept    uint16 = 20
	OptionSIPServersNames uint16 = 21
	OptionSIPServersAddrs uint16 = 22
	OptionDNSServers      uint16 = 23
	OptionDomainList      uint16 = 24
	OptionIAPD            uint16 = 25
	OptionIAPrefix        uint16 = 26
	OptionNISServers      uint16 = 27
	OptionNISPServers     uint16 = 28
	OptionNISDomainName   uint16 = 29
	OptionNISPDomainName  uint16 = 30
	OptionSNTPServers     uint16 = 31
	OptionInfoRefreshTime uint16 = 32
	OptionRemoteID        uint16 = 37
	OptionSubscriberID    uint16 = 38
	OptionClientFQDN      uint16 = 39
)

// Status is a DHCPv6 status code, see RFC 3315 Section 24.4.
type Status uint16

// Status codes.
const (
	StatusSuccess       Status = 0
	StatusUnspecFail    Status = 1
	StatusNoAddrsAvail  Status = 2
	StatusNoBinding     Status = 3
	StatusNotOnLink     Status = 4
	StatusUseMulticast  Status = 5
	StatusNoPrefixAvail Status = 6
)

// String implements the [fmt.Stringer] interface for Status.
func (s Status) String() (str string) {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusUnspecFail:
		return "UnspecFail"
	case StatusNoAddrsAvail:
		return "NoAddrsAvail"
	case StatusNoBinding:
		return "NoBinding"
	case StatusNotOnLink:
		return "NotOnLink"
	case StatusUseMulticast:
		return "UseMulticast"
	case StatusNoPrefixAvail:
		return "NoPrefixAvail"
	default:
		return fmt.Sprintf("Status(%d)", uint16(s))
	}
}

// Packet is a DHCPv6 packet: either a *Message or a *RelayMessage.
type Packet interface {
	// MessageType returns the type of the packet.
	MessageType() (t MessageType)

	// Opts returns a pointer to the options of the packet.
	Opts() (opts *dhcpopt.Options)

	// len returns the length of the encoded packet.
	len() (n int)

	// appendTo appends the encoded packet to b without validation.
	appendTo(b []byte) (res []byte)
}

// Message is a client or server DHCPv6 message.
type Message struct {
	// Options are the options of the message.
	Options dhcpopt.Options

	// TransactionID is the 24-bit transaction ID.
	TransactionID uint32

	// Type is the type of the message.  It must not be a relay type.
	Type MessageType

	// Incomplete is true if the decoder stopped at a bad option and the rest
	// of the options were ignored.
	Incomplete bool
}

// type check
var _ Packet = (*Message)(nil)

// MessageType implements the [Packet] interface for *Message.
func (m *Message) MessageType() (t MessageType) { return m.Type }

// Opts implements the [Packet] interface for *Message.
func (m *Message) Opts() (opts *dhcpopt.Options) { return &m.Options }

// messageHdrLen is the length of the client/server message header.
const messageHdrLen = 4

// len implements the [Packet] interface for *Message.
func (m *Message) len() (n int) {
	return messageHdrLen + dhcpopt.OptionsLen(dhcpopt.FormatV6, m.Options)
}

// appendTo implements the [Packet] interface for *Message.
func (m *Message) appendTo(b []byte) (res []byte) {
	xid := m.TransactionID
	b = append(b, byte(m.Type), byte(xid>>16), byte(xid>>8), byte(xid))

	return appendOpts(b, m.Options)
}

// RelayMessage is a Relay-Forward or a Relay-Reply message.
type RelayMessage struct {
	// LinkAddr is the address identifying the link of the client.
	LinkAddr netip.Addr

	// PeerAddr is the address of the client or the relay agent the message
	// came from.
	PeerAddr netip.Addr

	// Options are the options of the envelope.  A valid relay message
	// contains exactly one [OptionRelayMsg].
	Options dhcpopt.Options

	// Type is the type of the message.  It must be a relay type.
	Type MessageType

	// HopCount is the number of relay agents that have relayed the message.
	HopCount uint8

	// Incomplete is true if the decoder stopped at a bad option and the rest
	// of the options were ignored.
	Incomplete bool
}

// type check
var _ Packet = (*RelayMessage)(nil)

// MessageType implements the [Packet] interface for *RelayMessage.
func (m *RelayMessage) MessageType() (t MessageType) { return m.Type }

// Opts implements the [Packet] interface for *RelayMessage.
func (m *RelayMessage) Opts() (opts *dhcpopt.Options) { return &m.Options }

// relayHdrLen is the length of the relay message header.
const relayHdrLen = 34

// len implements the [Packet] interface for *RelayMessage.
func (m *RelayMessage) len() (n int) {
	return relayHdrLen + dhcpopt.OptionsLen(dhcpopt.FormatV6, m.Options)
}

// appendTo implements the [Packet] interface for *RelayMessage.
func (m *RelayMessage) appendTo(b []byte) (res []byte) {
	b = append(b, byte(m.Type), m.HopCount)
	link, peer := m.LinkAddr.As16(), m.PeerAddr.As16()
	b = append(b, link[:]...)
	b = append(b, peer[:]...)

	return appendOpts(b, m.Options)
}

// Inner returns the packet carried in the Relay Message option of m.
func (m *RelayMessage) Inner() (p Packet, err error) {
	v, ok := m.Options.Get(OptionRelayMsg)
	if !ok {
		return nil, ErrNoRelayMessage
	}

	rm, ok := v.(*RelayMsg)
	if !ok || rm.Packet == nil {
		return nil, ErrNoRelayMessage
	}

	return rm.Packet, nil
}

// appendOpts appends options to b.  The options are validated by [Encode].
func appendOpts(b []byte, opts dhcpopt.Options) (res []byte) {
	return dhcpopt.AppendOptions(b, dhcpopt.FormatV6, opts)
}
