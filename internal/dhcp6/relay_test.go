package dhcp6_test

import (
	"net/netip"
	"testing"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp6"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRelayed returns msg wrapped into depth Relay-Forward envelopes.  The
// outermost envelope has the highest hop count.
func newRelayed(msg *dhcp6.Message, depth int) (p dhcp6.Packet) {
	p = msg
	for i := range depth {
		p = &dhcp6.RelayMessage{
			LinkAddr: netip.AddrFrom16([16]byte{0x20, 0x01, 0x0d, 0xb8, byte(i + 1), 15: 1}),
			PeerAddr: netip.MustParseAddr("fe80::1"),
			Options: dhcpopt.Options{{
				Code:  dhcp6.OptionInterfaceID,
				Value: dhcpopt.OpaqueHex([]byte{'i', 'f', byte('0' + i)}),
			}, {
				Code:  dhcp6.OptionRelayMsg,
				Value: &dhcp6.RelayMsg{Packet: p},
			}},
			Type:     dhcp6.MessageTypeRelayForward,
			HopCount: uint8(i),
		}
	}

	return p
}

func TestUnwrap(t *testing.T) {
	t.Parallel()

	msg := &dhcp6.Message{
		Options: dhcpopt.Options{{
			Code:  dhcp6.OptionClientID,
			Value: dhcpopt.OpaqueHex([]byte{1, 2, 3}),
		}},
		TransactionID: 7,
		Type:          dhcp6.MessageTypeSolicit,
	}

	for _, depth := range []int{0, 1, 2} {
		p := newRelayed(msg, depth)

		b, err := dhcp6.Encode(p)
		require.NoError(t, err)

		decoded, err := testDecoder.Decode(b)
		require.NoError(t, err)

		assert.Equal(t, p, decoded)

		inner, relays, err := dhcp6.Unwrap(decoded)
		require.NoError(t, err)
		require.Len(t, relays, depth)

		assert.Equal(t, msg, inner)
		if depth > 0 {
			assert.Equal(t, uint8(depth-1), relays[0].HopCount)
			assert.Equal(t, uint8(0), relays[depth-1].HopCount)
		}
	}
}

func TestUnwrap_noRelayMessage(t *testing.T) {
	t.Parallel()

	p := &dhcp6.RelayMessage{
		LinkAddr: netip.IPv6Unspecified(),
		PeerAddr: netip.MustParseAddr("fe80::1"),
		Type:     dhcp6.MessageTypeRelayForward,
	}

	_, _, err := dhcp6.Unwrap(p)
	assert.ErrorIs(t, err, dhcp6.ErrNoRelayMessage)
}

func TestRewrap(t *testing.T) {
	t.Parallel()

	req := &dhcp6.Message{
		TransactionID: 7,
		Type:          dhcp6.MessageTypeSolicit,
	}

	_, relays, err := dhcp6.Unwrap(newRelayed(req, 2))
	require.NoError(t, err)

	reply := &dhcp6.Message{
		Options: dhcpopt.Options{{
			Code:  dhcp6.OptionServerID,
			Value: dhcpopt.OpaqueASCII(testServerID),
		}},
		TransactionID: 7,
		Type:          dhcp6.MessageTypeAdvertise,
	}

	p := dhcp6.Rewrap(relays, reply)

	outer, ok := p.(*dhcp6.RelayMessage)
	require.True(t, ok)

	assert.Equal(t, dhcp6.MessageTypeRelayReply, outer.Type)
	assert.Equal(t, relays[0].HopCount, outer.HopCount)
	assert.Equal(t, relays[0].LinkAddr, outer.LinkAddr)
	assert.Equal(t, relays[0].PeerAddr, outer.PeerAddr)

	id, ok := outer.InterfaceID()
	require.True(t, ok)
	assert.Equal(t, "if1", string(id))

	// The request envelopes must stay intact.
	assert.Equal(t, dhcp6.MessageTypeRelayForward, relays[0].Type)

	b, err := dhcp6.Encode(p)
	require.NoError(t, err)

	decoded, err := testDecoder.Decode(b)
	require.NoError(t, err)

	gotReply, gotRelays, err := dhcp6.Unwrap(decoded)
	require.NoError(t, err)
	require.Len(t, gotRelays, 2)

	assert.Equal(t, dhcp6.MessageTypeRelayReply, gotRelays[1].Type)
	assert.Equal(t, relays[1].LinkAddr, gotRelays[1].LinkAddr)

	id, ok = gotRelays[1].InterfaceID()
	require.True(t, ok)
	assert.Equal(t, "if0", string(id))

	wantReply := &dhcp6.Message{
		Options: dhcpopt.Options{{
			Code:  dhcp6.OptionServerID,
			Value: dhcpopt.OpaqueHex([]byte(testServerID)),
		}},
		TransactionID: 7,
		Type:          dhcp6.MessageTypeAdvertise,
	}
	assert.Equal(t, wantReply, gotReply)
}
