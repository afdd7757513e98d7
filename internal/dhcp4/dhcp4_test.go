package dhcp4_test

import (
	"encoding/binary"
	"net"
	"net/netip"
	"testing"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp4"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDecoder is the common decoder for tests.
var testDecoder = dhcp4.NewDecoder(dhcp4.NewRegistry(), dhcpopt.PolicyPreserve)

// testMAC is the hardware address of the client used in tests.
var testMAC = net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}

func TestDecoder_Decode_discover(t *testing.T) {
	t.Parallel()

	reqIP := net.IP{192, 168, 10, 150}
	req, err := dhcpv4.NewDiscovery(
		testMAC,
		dhcpv4.WithOption(dhcpv4.OptHostName("printer")),
		dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(reqIP)),
		dhcpv4.WithRequestedOptions(dhcpv4.OptionDomainNameServer),
	)
	require.NoError(t, err)

	msg, err := testDecoder.Decode(req.ToBytes())
	require.NoError(t, err)

	assert.Equal(t, dhcp4.OpCodeBootRequest, msg.OpCode)
	assert.Equal(t, dhcp4.MessageTypeDiscover, msg.MessageType())
	assert.Equal(t, binary.BigEndian.Uint32(req.TransactionID[:]), msg.TransactionID)
	assert.Equal(t, testMAC, msg.HardwareAddr())
	assert.Equal(t, "printer", msg.HostName())
	assert.Equal(t, netip.MustParseAddr("192.168.10.150"), msg.RequestedIP())
	assert.True(t, msg.ParameterRequestList().Contains(uint8(dhcp4.OptionDomainNameServer)))
	assert.False(t, msg.Incomplete)
}

func TestMessage_Encode_offer(t *testing.T) {
	t.Parallel()

	req, err := dhcpv4.NewDiscovery(testMAC)
	require.NoError(t, err)

	msg, err := testDecoder.Decode(req.ToBytes())
	require.NoError(t, err)

	serverIP := netip.MustParseAddr("192.168.10.1")
	yourIP := netip.MustParseAddr("192.168.10.100")

	resp := dhcp4.NewReply(msg, dhcp4.MessageTypeOffer)
	resp.YourIP = yourIP
	resp.Options.Add(dhcp4.OptionServerIdentifier, dhcpopt.IPv4List{serverIP})
	resp.Options.Add(dhcp4.OptionLeaseTime, dhcpopt.Uint32(3600))

	b, err := resp.Encode()
	require.NoError(t, err)

	b = dhcp4.PadToMin(b)
	require.Len(t, b, dhcp4.MinPacketLen)

	got, err := dhcpv4.FromBytes(b)
	require.NoError(t, err)

	assert.Equal(t, dhcpv4.OpcodeBootReply, got.OpCode)
	assert.Equal(t, dhcpv4.MessageTypeOffer, got.MessageType())
	assert.Equal(t, req.TransactionID, got.TransactionID)
	assert.Equal(t, testMAC, got.ClientHWAddr)
	assert.True(t, got.YourIPAddr.Equal(yourIP.AsSlice()))
	assert.True(t, got.ServerIdentifier().Equal(serverIP.AsSlice()))
	assert.Equal(t, []byte{0, 0, 0x0e, 0x10}, got.Options.Get(dhcpv4.OptionIPAddressLeaseTime))
}

func TestMessage_Encode_roundTrip(t *testing.T) {
	t.Parallel()

	msg := &dhcp4.Message{
		Options: dhcpopt.Options{{
			Code:  dhcp4.OptionMessageType,
			Value: dhcpopt.Uint8(dhcp4.MessageTypeRequest),
		}, {
			Code:  dhcp4.OptionClientIdentifier,
			Value: dhcpopt.OpaqueHex([]byte{1, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}),
		}, {
			Code: dhcp4.OptionClientFQDN,
			Value: &dhcp4.ClientFQDN{
				Name:  "host.example.com.",
				Flags: dhcp4.FQDNFlagS | dhcp4.FQDNFlagE,
			},
		}, {
			Code: dhcp4.OptionRelayAgentInfo,
			Value: &dhcpopt.Container{
				Options: dhcpopt.Options{{
					Code:  dhcp4.AgentCircuitID,
					Value: dhcpopt.OpaqueHex([]byte("eth0")),
				}},
				Format: dhcpopt.FormatV4,
			},
		}},
		ClientIP:      netip.IPv4Unspecified(),
		YourIP:        netip.IPv4Unspecified(),
		ServerIP:      netip.IPv4Unspecified(),
		GatewayIP:     netip.MustParseAddr("10.0.0.1"),
		TransactionID: 0x01020304,
		Secs:          3,
		Flags:         dhcp4.FlagBroadcast,
		OpCode:        dhcp4.OpCodeBootRequest,
		HWType:        1,
		Hops:          1,
	}
	msg.SetHardwareAddr(testMAC)

	b, err := msg.Encode()
	require.NoError(t, err)

	got, err := testDecoder.Decode(b)
	require.NoError(t, err)

	assert.Equal(t, msg, got)
	assert.True(t, got.IsBroadcast())

	id, ok := got.ClientIdentifier()
	require.True(t, ok)
	assert.Equal(t, []byte{1, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, id)

	again, err := got.Encode()
	require.NoError(t, err)

	assert.Equal(t, b, again)
}

func TestMessage_Encode_tooLong(t *testing.T) {
	t.Parallel()

	msg := &dhcp4.Message{
		Options: dhcpopt.Options{{
			Code:  dhcp4.OptionVendorSpecific,
			Value: make(dhcpopt.Bytes, 300),
		}},
	}

	_, err := msg.Encode()
	assert.ErrorIs(t, err, dhcpopt.ErrTooLong)
}

func TestDecoder_Decode_errors(t *testing.T) {
	t.Parallel()

	_, err := testDecoder.Decode(make([]byte, 100))
	assert.ErrorIs(t, err, dhcpopt.ErrTruncated)

	_, err = testDecoder.Decode(make([]byte, 300))
	assert.ErrorIs(t, err, dhcp4.ErrBadCookie)
}
