package dhcp6

import (
	"fmt"
)

// Unwrap descends through the relay envelopes of p and returns the innermost
// client message along with the envelopes, from the outermost to the
// innermost one.  relays is empty if p isn't relayed.
func Unwrap(p Packet) (msg *Message, relays []*RelayMessage, err error) {
	for {
		switch v := p.(type) {
		case *Message:
			return v, relays, nil
		case *RelayMessage:
			if len(relays) >= MaxHopCount {
				return nil, nil, ErrHopLimit
			}

			relays = append(relays, v)
			p, err = v.Inner()
			if err != nil {
				return nil, nil, fmt.Errorf("relay envelope %d: %w", len(relays)-1, err)
			}
		default:
			return nil, nil, fmt.Errorf("unwrapping: unexpected packet type %T", p)
		}
	}
}

// Rewrap puts reply into the envelopes of the request it answers.  relays must
// be the ones returned by [Unwrap] for the request.  Each envelope becomes a
// Relay-Reply keeping the hop count, the addresses, and the options of the
// corresponding Relay-Forward, except for the Relay Message option.  relays
// aren't modified.
func Rewrap(relays []*RelayMessage, reply *Message) (p Packet) {
	p = reply
	for i := len(relays) - 1; i >= 0; i-- {
		r := *relays[i]
		r.Type = MessageTypeRelayReply
		r.Options = r.Options.Clone()
		r.Options.Set(OptionRelayMsg, &RelayMsg{Packet: p})
		r.Incomplete = false

		p = &r
	}

	return p
}
