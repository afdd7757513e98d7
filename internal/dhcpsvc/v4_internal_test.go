package dhcpsvc

import (
	"net"
	"net/netip"
	"testing"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp4"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHWAddr is the hardware address of the client in tests.
var testHWAddr = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x42}

// newMsg4 returns a client message of type t with opts.
func newMsg4(t dhcp4.MessageType, opts ...dhcpopt.Option) (msg *dhcp4.Message) {
	msg = &dhcp4.Message{
		ClientIP:      netip.IPv4Unspecified(),
		YourIP:        netip.IPv4Unspecified(),
		ServerIP:      netip.IPv4Unspecified(),
		GatewayIP:     netip.IPv4Unspecified(),
		TransactionID: 0x12345678,
		OpCode:        dhcp4.OpCodeBootRequest,
		HWType:        1,
	}

	msg.SetHardwareAddr(testHWAddr)
	msg.Options.Set(dhcp4.OptionMessageType, dhcpopt.Uint8(t))
	msg.Options = append(msg.Options, opts...)

	return msg
}

// withAddr4 returns an address list option with code.
func withAddr4(code uint16, ip netip.Addr) (o dhcpopt.Option) {
	return dhcpopt.Option{Code: code, Value: dhcpopt.IPv4List{ip}}
}

func TestRequestState(t *testing.T) {
	ip := netip.MustParseAddr("192.168.1.15")

	testCases := []struct {
		msg       *dhcp4.Message
		ciaddr    netip.Addr
		wantIP    netip.Addr
		wantErr   error
		name      string
		wantState clientState
	}{{
		msg: newMsg4(
			dhcp4.MessageTypeRequest,
			withAddr4(dhcp4.OptionServerIdentifier, testServerIP4),
			withAddr4(dhcp4.OptionRequestedIP, ip),
		),
		ciaddr:    netip.Addr{},
		wantIP:    ip,
		wantErr:   nil,
		name:      "selecting",
		wantState: stateSelecting,
	}, {
		msg: newMsg4(
			dhcp4.MessageTypeRequest,
			withAddr4(dhcp4.OptionServerIdentifier, testServerIP4),
		),
		ciaddr:    netip.Addr{},
		wantIP:    netip.Addr{},
		wantErr:   errBadClientState,
		name:      "selecting_no_requested_ip",
		wantState: 0,
	}, {
		msg: newMsg4(
			dhcp4.MessageTypeRequest,
			withAddr4(dhcp4.OptionServerIdentifier, testServerIP4),
			withAddr4(dhcp4.OptionRequestedIP, ip),
		),
		ciaddr:    ip,
		wantIP:    netip.Addr{},
		wantErr:   errBadClientState,
		name:      "selecting_ciaddr",
		wantState: 0,
	}, {
		msg:       newMsg4(dhcp4.MessageTypeRequest, withAddr4(dhcp4.OptionRequestedIP, ip)),
		ciaddr:    netip.Addr{},
		wantIP:    ip,
		wantErr:   nil,
		name:      "init_reboot",
		wantState: stateInitReboot,
	}, {
		msg:       newMsg4(dhcp4.MessageTypeRequest),
		ciaddr:    ip,
		wantIP:    ip,
		wantErr:   nil,
		name:      "renewing",
		wantState: stateRenewing,
	}, {
		msg:       newMsg4(dhcp4.MessageTypeRequest),
		ciaddr:    netip.Addr{},
		wantIP:    netip.Addr{},
		wantErr:   errBadClientState,
		name:      "empty",
		wantState: 0,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.ciaddr.IsValid() {
				tc.msg.ClientIP = tc.ciaddr
			}

			st, gotIP, err := requestState(tc.msg)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, tc.wantState, st)
			assert.Equal(t, tc.wantIP, gotIP)
		})
	}
}

func TestReplyPeer(t *testing.T) {
	giaddr := netip.MustParseAddr("10.0.0.1")
	ciaddr := netip.MustParseAddr("192.168.1.15")
	yiaddr := netip.MustParseAddr("192.168.1.16")

	testCases := []struct {
		req         *dhcp4.Message
		resp        *dhcp4.Message
		want        *peer4
		name        string
		wantBcastFl bool
	}{{
		req: &dhcp4.Message{GatewayIP: giaddr},
		resp: func() (m *dhcp4.Message) {
			m = &dhcp4.Message{}
			m.Options.Set(dhcp4.OptionMessageType, dhcpopt.Uint8(dhcp4.MessageTypeOffer))

			return m
		}(),
		want:        &peer4{addr: netip.AddrPortFrom(giaddr, 67)},
		name:        "relay",
		wantBcastFl: false,
	}, {
		req: &dhcp4.Message{GatewayIP: giaddr},
		resp: func() (m *dhcp4.Message) {
			m = &dhcp4.Message{}
			m.Options.Set(dhcp4.OptionMessageType, dhcpopt.Uint8(dhcp4.MessageTypeNak))

			return m
		}(),
		want:        &peer4{addr: netip.AddrPortFrom(giaddr, 67)},
		name:        "relay_nak",
		wantBcastFl: true,
	}, {
		req: &dhcp4.Message{ClientIP: ciaddr},
		resp: func() (m *dhcp4.Message) {
			m = &dhcp4.Message{}
			m.Options.Set(dhcp4.OptionMessageType, dhcpopt.Uint8(dhcp4.MessageTypeNak))

			return m
		}(),
		want:        &peer4{addr: netip.AddrPortFrom(bcastAddr, 68)},
		name:        "nak",
		wantBcastFl: false,
	}, {
		req:         &dhcp4.Message{ClientIP: ciaddr},
		resp:        &dhcp4.Message{YourIP: yiaddr},
		want:        &peer4{addr: netip.AddrPortFrom(ciaddr, 68)},
		name:        "ciaddr",
		wantBcastFl: false,
	}, {
		req: func() (m *dhcp4.Message) {
			m = &dhcp4.Message{}
			m.SetHardwareAddr(testHWAddr)

			return m
		}(),
		resp: &dhcp4.Message{YourIP: yiaddr},
		want: &peer4{
			hwAddr: testHWAddr,
			addr:   netip.AddrPortFrom(yiaddr, 68),
		},
		name:        "unicast_hwaddr",
		wantBcastFl: false,
	}, {
		req: func() (m *dhcp4.Message) {
			m = &dhcp4.Message{Flags: dhcp4.FlagBroadcast}
			m.SetHardwareAddr(testHWAddr)

			return m
		}(),
		resp:        &dhcp4.Message{YourIP: yiaddr},
		want:        &peer4{addr: netip.AddrPortFrom(bcastAddr, 68)},
		name:        "broadcast_flag",
		wantBcastFl: false,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := replyPeer(tc.req, tc.resp)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantBcastFl, tc.resp.IsBroadcast())
		})
	}
}

func TestProcessor4_process_discoverRequest(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	hostName := dhcpopt.Option{Code: dhcp4.OptionHostName, Value: dhcpopt.String("printer")}

	offer, err := e.p4.process(ctx, newMsg4(dhcp4.MessageTypeDiscover, hostName), testIface)
	require.NoError(t, err)
	require.NotNil(t, offer)

	assert.Equal(t, dhcp4.MessageTypeOffer, offer.MessageType())
	assert.Equal(t, dhcp4.OpCodeBootReply, offer.OpCode)
	assert.Equal(t, testServerIP4, offer.ServerIdentifier())
	assert.Equal(t, netip.MustParseAddr("192.168.1.10"), offer.YourIP)
	assert.True(t, offer.Options.Has(dhcp4.OptionLeaseTime))
	assert.True(t, offer.Options.Has(dhcp4.OptionRouter))
	assert.Empty(t, e.ddns.submitted())

	req := newMsg4(
		dhcp4.MessageTypeRequest,
		withAddr4(dhcp4.OptionServerIdentifier, testServerIP4),
		withAddr4(dhcp4.OptionRequestedIP, offer.YourIP),
		hostName,
	)

	ack, err := e.p4.process(ctx, req, testIface)
	require.NoError(t, err)
	require.NotNil(t, ack)

	assert.Equal(t, dhcp4.MessageTypeAck, ack.MessageType())
	assert.Equal(t, offer.YourIP, ack.YourIP)

	v, ok := ack.Options.Get(dhcp4.OptionSubnetMask)
	require.True(t, ok)
	assert.Equal(t, dhcpopt.IPv4List{netip.MustParseAddr("255.255.255.0")}, v)

	jobs := e.ddns.submitted()
	require.Len(t, jobs, 1)
	assert.Equal(t, "printer."+testDomain+".", jobs[0].Update.FQDN)
	assert.Equal(t, offer.YourIP, jobs[0].Update.IP)

	t.Run("renewing", func(t *testing.T) {
		renew := newMsg4(dhcp4.MessageTypeRequest)
		renew.ClientIP = ack.YourIP

		resp, rErr := e.p4.process(ctx, renew, testIface)
		require.NoError(t, rErr)
		require.NotNil(t, resp)

		assert.Equal(t, dhcp4.MessageTypeAck, resp.MessageType())
		assert.Equal(t, ack.YourIP, resp.ClientIP)
		assert.Len(t, e.ddns.submitted(), 1)
	})

	t.Run("release", func(t *testing.T) {
		rel := newMsg4(dhcp4.MessageTypeRelease, withAddr4(dhcp4.OptionServerIdentifier, testServerIP4))
		rel.ClientIP = ack.YourIP

		resp, rErr := e.p4.process(ctx, rel, testIface)
		require.NoError(t, rErr)
		assert.Nil(t, resp)

		jobs = e.ddns.submitted()
		require.Len(t, jobs, 2)
		assert.True(t, jobs[1].Delete)
	})
}

func TestProcessor4_process_request(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	t.Run("init_reboot_not_on_link", func(t *testing.T) {
		req := newMsg4(
			dhcp4.MessageTypeRequest,
			withAddr4(dhcp4.OptionRequestedIP, netip.MustParseAddr("10.0.0.5")),
		)

		resp, err := e.p4.process(ctx, req, testIface)
		require.NoError(t, err)
		require.NotNil(t, resp)

		assert.Equal(t, dhcp4.MessageTypeNak, resp.MessageType())
		assert.True(t, resp.Options.Has(dhcp4.OptionMessage))
	})

	t.Run("init_reboot_unknown", func(t *testing.T) {
		req := newMsg4(
			dhcp4.MessageTypeRequest,
			withAddr4(dhcp4.OptionRequestedIP, netip.MustParseAddr("192.168.1.12")),
		)

		resp, err := e.p4.process(ctx, req, testIface)
		assert.Nil(t, resp)
		requireDrop(t, err, errSilent)
	})

	t.Run("other_server", func(t *testing.T) {
		req := newMsg4(
			dhcp4.MessageTypeRequest,
			withAddr4(dhcp4.OptionServerIdentifier, netip.MustParseAddr("192.168.1.2")),
			withAddr4(dhcp4.OptionRequestedIP, netip.MustParseAddr("192.168.1.12")),
		)

		resp, err := e.p4.process(ctx, req, testIface)
		assert.Nil(t, resp)
		requireDrop(t, err, errOtherServer)
	})

	t.Run("bad_state", func(t *testing.T) {
		resp, err := e.p4.process(ctx, newMsg4(dhcp4.MessageTypeRequest), testIface)
		assert.Nil(t, resp)
		requireDrop(t, err, errBadClientState)
	})
}

func TestProcessor4_process_inform(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	req := newMsg4(dhcp4.MessageTypeInform)
	req.ClientIP = netip.MustParseAddr("192.168.1.100")

	resp, err := e.p4.process(ctx, req, testIface)
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, dhcp4.MessageTypeAck, resp.MessageType())
	assert.Equal(t, req.ClientIP, resp.ClientIP)
	assert.Equal(t, netip.IPv4Unspecified(), resp.YourIP)
	assert.False(t, resp.Options.Has(dhcp4.OptionLeaseTime))
	assert.True(t, resp.Options.Has(dhcp4.OptionRouter))
}

func TestLinkIndex_select4(t *testing.T) {
	e := newTestEnv(t, nil)

	testCases := []struct {
		want   *Link
		giaddr netip.Addr
		ciaddr netip.Addr
		iface  string
		name   string
	}{{
		want:   e.link4,
		giaddr: netip.IPv4Unspecified(),
		ciaddr: netip.IPv4Unspecified(),
		iface:  testIface,
		name:   "interface",
	}, {
		want:   nil,
		giaddr: netip.MustParseAddr("10.0.0.1"),
		ciaddr: netip.IPv4Unspecified(),
		iface:  testIface,
		name:   "unknown_relay",
	}, {
		want:   e.link4,
		giaddr: netip.MustParseAddr("192.168.1.254"),
		ciaddr: netip.IPv4Unspecified(),
		iface:  "",
		name:   "relay",
	}, {
		want:   e.link4,
		giaddr: netip.IPv4Unspecified(),
		ciaddr: netip.MustParseAddr("192.168.1.15"),
		iface:  "eth1",
		name:   "ciaddr",
	}, {
		want:   nil,
		giaddr: netip.IPv4Unspecified(),
		ciaddr: netip.IPv4Unspecified(),
		iface:  "eth1",
		name:   "none",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := &dhcp4.Message{
				GatewayIP: tc.giaddr,
				ClientIP:  tc.ciaddr,
			}

			assert.Same(t, tc.want, e.p4.links.select4(req, tc.iface))
		})
	}
}
