package dhcp6_test

import (
	"net"
	"net/netip"
	"testing"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp6"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_Decode_interop(t *testing.T) {
	t.Parallel()

	mac := net.HardwareAddr{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}
	req, err := dhcpv6.NewSolicit(mac)
	require.NoError(t, err)

	p, err := testDecoder.Decode(req.ToBytes())
	require.NoError(t, err)

	msg, ok := p.(*dhcp6.Message)
	require.True(t, ok)

	assert.Equal(t, dhcp6.MessageTypeSolicit, msg.Type)
	assert.Equal(t, req.TransactionID[:], []byte{
		byte(msg.TransactionID >> 16),
		byte(msg.TransactionID >> 8),
		byte(msg.TransactionID),
	})

	duid, ok := msg.ClientID()
	require.True(t, ok)
	assert.NotEmpty(t, duid)

	v, ok := msg.Options.Get(dhcp6.OptionIANA)
	require.True(t, ok)
	assert.IsType(t, &dhcp6.IANA{}, v)

	for _, o := range msg.Options {
		_, isRaw := o.Value.(dhcpopt.Bytes)
		assert.Falsef(t, isRaw, "option %d is not decoded", o.Code)
	}
}

func TestEncode_interop(t *testing.T) {
	t.Parallel()

	reply := &dhcp6.Message{
		Options: dhcpopt.Options{{
			Code:  dhcp6.OptionServerID,
			Value: dhcpopt.OpaqueHex(dhcp6.NewDUIDLL(1, net.HardwareAddr{1, 2, 3, 4, 5, 6})),
		}, {
			Code: dhcp6.OptionIANA,
			Value: &dhcp6.IANA{
				Options: dhcpopt.Options{{
					Code: dhcp6.OptionIAAddr,
					Value: &dhcp6.IAAddr{
						Addr:              netip.MustParseAddr("2001:db8::10"),
						PreferredLifetime: 3600,
						ValidLifetime:     7200,
					},
				}},
				IAID: 1,
				T1:   1800,
				T2:   2880,
			},
		}},
		TransactionID: 0x010203,
		Type:          dhcp6.MessageTypeAdvertise,
	}

	b, err := dhcp6.Encode(reply)
	require.NoError(t, err)

	p, err := dhcpv6.FromBytes(b)
	require.NoError(t, err)

	msg, ok := p.(*dhcpv6.Message)
	require.True(t, ok)

	assert.Equal(t, dhcpv6.MessageTypeAdvertise, msg.Type())
	assert.Equal(t, dhcpv6.TransactionID{1, 2, 3}, msg.TransactionID)

	iana := msg.Options.OneIANA()
	require.NotNil(t, iana)

	addrs := iana.Options.Addresses()
	require.Len(t, addrs, 1)

	assert.True(t, addrs[0].IPv6Addr.Equal(net.ParseIP("2001:db8::10")))
}
