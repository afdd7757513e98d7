package dhcp4

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/errors"
)

// ErrBadCookie is returned when a message lacks the DHCP magic cookie.
const ErrBadCookie errors.Error = "bad magic cookie"

// Header sizes.
const (
	// headerLen is the length of the fixed BOOTP header.
	headerLen = 236

	// optionsOffset is the offset of the options, right after the magic
	// cookie.
	optionsOffset = headerLen + 4

	// MinPacketLen is the minimum length of a BOOTP packet, see RFC 951.
	MinPacketLen = 300
)

// magicCookie is the DHCP magic cookie, see RFC 2131 Section 3.
var magicCookie = [4]byte{99, 130, 83, 99}

// Decoder decodes DHCPv4 messages.  It is safe for concurrent use.
type Decoder struct {
	opts *dhcpopt.Decoder
}

// NewDecoder returns a new decoder using the options described by r and
// treating unknown and malformed options according to p.  r must not be
// modified after calling NewDecoder.
func NewDecoder(r *dhcpopt.Registry, p dhcpopt.Policy) (d *Decoder) {
	return &Decoder{
		opts: &dhcpopt.Decoder{
			Registry: r,
			Format:   dhcpopt.FormatV4,
			Policy:   p,
		},
	}
}

// Decode decodes a single message from data.  The option values may share
// memory with data.  The Option Overload option is kept as is and the sname
// and file fields aren't parsed for options.
func (d *Decoder) Decode(data []byte) (m *Message, err error) {
	defer func() { err = errors.Annotate(err, "decoding dhcpv4: %w") }()

	if len(data) < optionsOffset {
		return nil, dhcpopt.ErrTruncated
	} else if [4]byte(data[headerLen:optionsOffset]) != magicCookie {
		return nil, ErrBadCookie
	}

	opts, stopped, err := d.opts.DecodeOptions(data[optionsOffset:])
	if err != nil {
		// Don't wrap the error, since it's informative enough as is.
		return nil, err
	}

	return &Message{
		Options:       opts,
		ClientIP:      netip.AddrFrom4([4]byte(data[12:16])),
		YourIP:        netip.AddrFrom4([4]byte(data[16:20])),
		ServerIP:      netip.AddrFrom4([4]byte(data[20:24])),
		GatewayIP:     netip.AddrFrom4([4]byte(data[24:28])),
		ClientHWAddr:  [16]byte(data[28:44]),
		ServerName:    [64]byte(data[44:108]),
		BootFile:      [128]byte(data[108:236]),
		TransactionID: binary.BigEndian.Uint32(data[4:]),
		Secs:          binary.BigEndian.Uint16(data[8:]),
		Flags:         binary.BigEndian.Uint16(data[10:]),
		OpCode:        OpCode(data[0]),
		HWType:        data[1],
		HWAddrLen:     data[2],
		Hops:          data[3],
		Incomplete:    stopped,
	}, nil
}

// Encode returns the wire encoding of m terminated with the End option.  Use
// [PadToMin] to pad the result for sending.
func (m *Message) Encode() (b []byte, err error) {
	defer func() { err = errors.Annotate(err, "encoding dhcpv4: %w") }()

	err = dhcpopt.ValidateOptions(dhcpopt.FormatV4, m.Options)
	if err != nil {
		// Don't wrap the error, since it's informative enough as is.
		return nil, err
	}

	for _, ip := range []netip.Addr{m.ClientIP, m.YourIP, m.ServerIP, m.GatewayIP} {
		if ip.IsValid() && !ip.Is4() {
			return nil, fmt.Errorf("address %s: not an ipv4 address", ip)
		}
	}

	n := optionsOffset + dhcpopt.OptionsLen(dhcpopt.FormatV4, m.Options) + 1
	b = make([]byte, 0, max(n, MinPacketLen))

	b = append(b, byte(m.OpCode), m.HWType, m.HWAddrLen, m.Hops)
	b = binary.BigEndian.AppendUint32(b, m.TransactionID)
	b = binary.BigEndian.AppendUint16(b, m.Secs)
	b = binary.BigEndian.AppendUint16(b, m.Flags)
	for _, ip := range []netip.Addr{m.ClientIP, m.YourIP, m.ServerIP, m.GatewayIP} {
		b = appendAddr(b, ip)
	}

	b = append(b, m.ClientHWAddr[:]...)
	b = append(b, m.ServerName[:]...)
	b = append(b, m.BootFile[:]...)
	b = append(b, magicCookie[:]...)
	b = dhcpopt.AppendOptions(b, dhcpopt.FormatV4, m.Options)
	b = append(b, byte(dhcpopt.CodeEnd))

	return b, nil
}

// appendAddr appends ip to b.  Invalid addresses are encoded as 0.0.0.0.
func appendAddr(b []byte, ip netip.Addr) (res []byte) {
	if !ip.IsValid() {
		return append(b, 0, 0, 0, 0)
	}

	a := ip.As4()

	return append(b, a[:]...)
}

// PadToMin pads b with zero bytes, which are also the Pad options, up to
// [MinPacketLen].
func PadToMin(b []byte) (res []byte) {
	if len(b) >= MinPacketLen {
		return b
	}

	return append(b, make([]byte, MinPacketLen-len(b))...)
}
