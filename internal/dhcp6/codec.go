package dhcp6

import (
	"fmt"
	"net/netip"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/errors"
)

const (
	// ErrNoRelayMessage is returned when a relay envelope doesn't carry a
	// Relay Message option.
	ErrNoRelayMessage errors.Error = "no relay message option"

	// ErrHopLimit is returned when a packet is nested deeper than
	// [MaxHopCount].
	ErrHopLimit errors.Error = "too many relay envelopes"
)

// MaxHopCount is the maximum number of relay envelopes, see RFC 8415 Section
// 7.6.
const MaxHopCount = 32

// Decoder decodes DHCPv6 packets.  It is safe for concurrent use.
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
			Format:   dhcpopt.FormatV6,
			Policy:   p,
		},
	}
}

// Decode decodes a single packet from data.  The packet may share memory with
// data.  Relay envelopes are decoded recursively.
func (d *Decoder) Decode(data []byte) (p Packet, err error) {
	defer func() { err = errors.Annotate(err, "decoding dhcpv6: %w") }()

	return decodePacket(d.opts, data)
}

// decodePacket decodes either a relay message or a client/server message.
func decodePacket(od *dhcpopt.Decoder, data []byte) (p Packet, err error) {
	if len(data) == 0 {
		return nil, dhcpopt.ErrTruncated
	}

	t := MessageType(data[0])
	if t.IsRelay() {
		return decodeRelay(od, t, data)
	}

	if len(data) < messageHdrLen {
		return nil, dhcpopt.ErrTruncated
	}

	opts, stopped, err := od.DecodeOptions(data[messageHdrLen:])
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", t, err)
	}

	return &Message{
		Options:       opts,
		TransactionID: uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3]),
		Type:          t,
		Incomplete:    stopped,
	}, nil
}

// decodeRelay decodes a relay envelope of type t.
func decodeRelay(od *dhcpopt.Decoder, t MessageType, data []byte) (p Packet, err error) {
	if len(data) < relayHdrLen {
		return nil, dhcpopt.ErrTruncated
	}

	opts, stopped, err := od.DecodeOptions(data[relayHdrLen:])
	if err != nil {
		return nil, fmt.Errorf("relay message %s: %w", t, err)
	}

	return &RelayMessage{
		LinkAddr:   netip.AddrFrom16([16]byte(data[2:18])),
		PeerAddr:   netip.AddrFrom16([16]byte(data[18:34])),
		Options:    opts,
		Type:       t,
		HopCount:   data[1],
		Incomplete: stopped,
	}, nil
}

// Encode returns the wire encoding of p.
func Encode(p Packet) (b []byte, err error) {
	defer func() { err = errors.Annotate(err, "encoding dhcpv6: %w") }()

	err = validate(p, 0)
	if err != nil {
		// Don't wrap the error, since it's informative enough as is.
		return nil, err
	}

	return p.appendTo(make([]byte, 0, p.len())), nil
}

// validate returns an error if p or any packet encapsulated into it can't be
// encoded.
func validate(p Packet, depth int) (err error) {
	if p == nil {
		return errors.Error("nil packet")
	} else if depth > MaxHopCount {
		return ErrHopLimit
	}

	t := p.MessageType()
	switch p := p.(type) {
	case *Message:
		if t.IsRelay() {
			return fmt.Errorf("message: relay type %s", t)
		} else if p.TransactionID > 0xFFFFFF {
			return fmt.Errorf("transaction id %#x: %w", p.TransactionID, errors.ErrOutOfRange)
		}
	case *RelayMessage:
		if !t.IsRelay() {
			return fmt.Errorf("relay message: type %s", t)
		}
	}

	opts := *p.Opts()
	err = dhcpopt.ValidateOptions(dhcpopt.FormatV6, opts)
	if err != nil {
		return fmt.Errorf("%s: %w", t, err)
	}

	for _, v := range opts.GetAll(OptionRelayMsg) {
		if rm, ok := v.(*RelayMsg); ok {
			err = validate(rm.Packet, depth+1)
			if err != nil {
				return err
			}
		}
	}

	return nil
}
