package dhcpsvc

import (
	"net/netip"
	"testing"

	"github.com/AdguardTeam/AdGuardDHCP/internal/binding"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp6"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMsg6 returns a client message of type t with the client identifier and
// opts.
func newMsg6(t dhcp6.MessageType, opts ...dhcpopt.Option) (msg *dhcp6.Message) {
	msg = &dhcp6.Message{
		TransactionID: 0x0161e7,
		Type:          t,
	}

	msg.Options.Set(dhcp6.OptionClientID, dhcpopt.OpaqueHex(testClientDUID))
	msg.Options = append(msg.Options, opts...)

	return msg
}

// withServerID returns the Server Identifier option with id.
func withServerID(id []byte) (o dhcpopt.Option) {
	return dhcpopt.Option{Code: dhcp6.OptionServerID, Value: dhcpopt.OpaqueHex(id)}
}

// withIANA returns the IA_NA option listing addrs.
func withIANA(iaid uint32, addrs ...netip.Addr) (o dhcpopt.Option) {
	ia := &dhcp6.IANA{IAID: iaid}
	for _, a := range addrs {
		ia.Options.Add(dhcp6.OptionIAAddr, &dhcp6.IAAddr{Addr: a})
	}

	return dhcpopt.Option{Code: dhcp6.OptionIANA, Value: ia}
}

// requireReply requires p to be a message of type t and returns it.
func requireReply(tb testing.TB, p dhcp6.Packet, t dhcp6.MessageType) (msg *dhcp6.Message) {
	tb.Helper()

	require.NotNil(tb, p)

	msg, ok := p.(*dhcp6.Message)
	require.True(tb, ok)
	require.Equal(tb, t, msg.Type)

	return msg
}

// requireIANA returns the first IA_NA option of msg.
func requireIANA(tb testing.TB, msg *dhcp6.Message) (ia *dhcp6.IANA) {
	tb.Helper()

	v, ok := msg.Options.Get(dhcp6.OptionIANA)
	require.True(tb, ok)

	ia, ok = v.(*dhcp6.IANA)
	require.True(tb, ok)

	return ia
}

// statusOf returns the status code from opts.
func statusOf(tb testing.TB, opts dhcpopt.Options) (st *dhcp6.StatusCode) {
	tb.Helper()

	v, ok := opts.Get(dhcp6.OptionStatusCode)
	require.True(tb, ok)

	st, ok = v.(*dhcp6.StatusCode)
	require.True(tb, ok)

	return st
}

// requireDrop requires err to be a *dropError caused by want.
func requireDrop(tb testing.TB, err error, want error) {
	tb.Helper()

	dErr := &dropError{}
	require.True(tb, errors.As(err, &dErr))
	assert.ErrorIs(tb, dErr, want)
}

func TestProcessor6_validate(t *testing.T) {
	e := newTestEnv(t, nil)
	otherDUID := []byte{0x00, 0x03, 0x00, 0x01, 0x02, 0x00, 0x00, 0x00, 0x00, 0xff}

	testCases := []struct {
		msg     *dhcp6.Message
		wantErr error
		name    string
	}{{
		msg:     newMsg6(dhcp6.MessageTypeSolicit),
		wantErr: nil,
		name:    "solicit",
	}, {
		msg:     &dhcp6.Message{Type: dhcp6.MessageTypeSolicit},
		wantErr: errNoClientID,
		name:    "solicit_no_client_id",
	}, {
		msg:     newMsg6(dhcp6.MessageTypeSolicit, withServerID(testServerDUID)),
		wantErr: errUnexpectedServerID,
		name:    "solicit_server_id",
	}, {
		msg:     newMsg6(dhcp6.MessageTypeRebind, withServerID(testServerDUID)),
		wantErr: errUnexpectedServerID,
		name:    "rebind_server_id",
	}, {
		msg:     newMsg6(dhcp6.MessageTypeRequest),
		wantErr: errNoServerID,
		name:    "request_no_server_id",
	}, {
		msg:     newMsg6(dhcp6.MessageTypeRenew, withServerID(otherDUID)),
		wantErr: errOtherServer,
		name:    "renew_other_server",
	}, {
		msg:     newMsg6(dhcp6.MessageTypeRelease, withServerID(testServerDUID)),
		wantErr: nil,
		name:    "release",
	}, {
		msg:     newMsg6(dhcp6.MessageTypeInformationRequest),
		wantErr: nil,
		name:    "info_request",
	}, {
		msg:     newMsg6(dhcp6.MessageTypeInformationRequest, withIANA(1)),
		wantErr: errUnexpectedIA,
		name:    "info_request_ia",
	}, {
		msg:     newMsg6(dhcp6.MessageTypeInformationRequest, withServerID(otherDUID)),
		wantErr: errOtherServer,
		name:    "info_request_other_server",
	}, {
		msg:     newMsg6(dhcp6.MessageTypeReconfigure),
		wantErr: errUnsupported,
		name:    "reconfigure",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.p6.validate(tc.msg)
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				requireDrop(t, err, tc.wantErr)
			}
		})
	}
}

func TestProcessor6_process_solicitRequest(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	fqdn := dhcpopt.Option{
		Code:  dhcp6.OptionClientFQDN,
		Value: &dhcp6.ClientFQDN{Name: "host"},
	}

	reply, err := e.p6.process(ctx, newMsg6(dhcp6.MessageTypeSolicit, withIANA(1), fqdn), testIface)
	require.NoError(t, err)

	adv := requireReply(t, reply, dhcp6.MessageTypeAdvertise)
	sid, ok := adv.ServerID()
	require.True(t, ok)
	assert.Equal(t, testServerDUID, sid)

	ia := requireIANA(t, adv)
	v, ok := ia.Options.Get(dhcp6.OptionIAAddr)
	require.True(t, ok)

	addr := v.(*dhcp6.IAAddr).Addr
	assert.Equal(t, netip.MustParseAddr("2001:db8:1::a"), addr)
	assert.Empty(t, e.ddns.submitted())

	req := newMsg6(
		dhcp6.MessageTypeRequest,
		withServerID(testServerDUID),
		withIANA(1, addr),
		fqdn,
	)
	reply, err = e.p6.process(ctx, req, testIface)
	require.NoError(t, err)

	rep := requireReply(t, reply, dhcp6.MessageTypeReply)
	ia = requireIANA(t, rep)
	v, ok = ia.Options.Get(dhcp6.OptionIAAddr)
	require.True(t, ok)

	iaAddr := v.(*dhcp6.IAAddr)
	assert.Equal(t, addr, iaAddr.Addr)
	assert.NotZero(t, iaAddr.ValidLifetime)
	assert.False(t, ia.Options.Has(dhcp6.OptionStatusCode))

	assert.True(t, rep.Options.Has(dhcp6.OptionDNSServers))

	gotFQDN, ok := rep.ClientFQDN()
	require.True(t, ok)
	assert.Equal(t, "host."+testDomain+".", gotFQDN.Name)
	assert.Equal(t, dhcp6.FQDNFlagS|dhcp6.FQDNFlagO, gotFQDN.Flags)

	jobs := e.ddns.submitted()
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].Delete)
	assert.Equal(t, addr, jobs[0].Update.IP)
	assert.Equal(t, "host."+testDomain+".", jobs[0].Update.FQDN)
}

func TestProcessor6_process_rapidCommit(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	msg := newMsg6(dhcp6.MessageTypeSolicit, withIANA(1), dhcpopt.Option{
		Code:  dhcp6.OptionRapidCommit,
		Value: dhcpopt.Empty{},
	})

	reply, err := e.p6.process(ctx, msg, testIface)
	require.NoError(t, err)

	rep := requireReply(t, reply, dhcp6.MessageTypeReply)
	assert.True(t, rep.RapidCommit())
	assert.True(t, requireIANA(t, rep).Options.Has(dhcp6.OptionIAAddr))
}

func TestProcessor6_process_decline(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	reply, err := e.p6.process(ctx, newMsg6(dhcp6.MessageTypeSolicit, withIANA(1)), testIface)
	require.NoError(t, err)

	v, ok := requireIANA(t, requireReply(t, reply, dhcp6.MessageTypeAdvertise)).Options.Get(dhcp6.OptionIAAddr)
	require.True(t, ok)

	addr := v.(*dhcp6.IAAddr).Addr

	reply, err = e.p6.process(ctx, newMsg6(
		dhcp6.MessageTypeRequest,
		withServerID(testServerDUID),
		withIANA(1, addr),
	), testIface)
	require.NoError(t, err)
	requireReply(t, reply, dhcp6.MessageTypeReply)

	decline := newMsg6(
		dhcp6.MessageTypeDecline,
		withServerID(testServerDUID),
		withIANA(1, addr),
	)

	t.Run("declined", func(t *testing.T) {
		reply, err = e.p6.process(ctx, decline, testIface)
		require.NoError(t, err)

		rep := requireReply(t, reply, dhcp6.MessageTypeReply)
		assert.Equal(t, dhcp6.StatusSuccess, statusOf(t, rep.Options).Code)
		assert.False(t, rep.Options.Has(dhcp6.OptionIANA))
	})

	t.Run("no_binding", func(t *testing.T) {
		reply, err = e.p6.process(ctx, decline, testIface)
		require.NoError(t, err)

		rep := requireReply(t, reply, dhcp6.MessageTypeReply)
		assert.Equal(t, dhcp6.StatusSuccess, statusOf(t, rep.Options).Code)
		assert.Equal(t, dhcp6.StatusNoBinding, statusOf(t, requireIANA(t, rep).Options).Code)
	})
}

func TestProcessor6_process_unknownRebind(t *testing.T) {
	offLink := netip.MustParseAddr("2001:db8:ffff::1")

	t.Run("no_verify", func(t *testing.T) {
		e := newTestEnv(t, nil)
		ctx := testutil.ContextWithTimeout(t, testTimeout)

		reply, err := e.p6.process(ctx, newMsg6(dhcp6.MessageTypeRebind, withIANA(1, offLink)), testIface)
		assert.Nil(t, reply)
		requireDrop(t, err, errSilent)
	})

	t.Run("verify_off_link", func(t *testing.T) {
		pol := binding.DefaultPolicy()
		pol.VerifyUnknownRebind = true

		e := newTestEnv(t, pol)
		ctx := testutil.ContextWithTimeout(t, testTimeout)

		reply, err := e.p6.process(ctx, newMsg6(dhcp6.MessageTypeRebind, withIANA(1, offLink)), testIface)
		require.NoError(t, err)

		ia := requireIANA(t, requireReply(t, reply, dhcp6.MessageTypeReply))
		v, ok := ia.Options.Get(dhcp6.OptionIAAddr)
		require.True(t, ok)

		iaAddr := v.(*dhcp6.IAAddr)
		assert.Equal(t, offLink, iaAddr.Addr)
		assert.Zero(t, iaAddr.PreferredLifetime)
		assert.Zero(t, iaAddr.ValidLifetime)
	})
}

func TestProcessor6_process_confirm(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	testCases := []struct {
		name string
		addr netip.Addr
		want dhcp6.Status
	}{{
		name: "on_link",
		addr: netip.MustParseAddr("2001:db8:1::42"),
		want: dhcp6.StatusSuccess,
	}, {
		name: "not_on_link",
		addr: netip.MustParseAddr("2001:db8:3::42"),
		want: dhcp6.StatusNotOnLink,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reply, err := e.p6.process(ctx, newMsg6(dhcp6.MessageTypeConfirm, withIANA(1, tc.addr)), testIface)
			require.NoError(t, err)

			rep := requireReply(t, reply, dhcp6.MessageTypeReply)
			assert.Equal(t, tc.want, statusOf(t, rep.Options).Code)
		})
	}

	t.Run("no_addrs", func(t *testing.T) {
		reply, err := e.p6.process(ctx, newMsg6(dhcp6.MessageTypeConfirm, withIANA(1)), testIface)
		assert.Nil(t, reply)
		requireDrop(t, err, errNoAddrs)
	})
}

func TestProcessor6_process_relayed(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	inner := &dhcp6.RelayMessage{
		LinkAddr: netip.IPv6Unspecified(),
		PeerAddr: netip.MustParseAddr("fe80::2"),
		Type:     dhcp6.MessageTypeRelayForward,
		HopCount: 0,
	}
	inner.Options.Set(dhcp6.OptionInterfaceID, dhcpopt.OpaqueASCII("port-7"))
	inner.Options.Set(dhcp6.OptionRelayMsg, &dhcp6.RelayMsg{
		Packet: newMsg6(dhcp6.MessageTypeSolicit, withIANA(1)),
	})

	outer := &dhcp6.RelayMessage{
		LinkAddr: netip.MustParseAddr("2001:db8:2::1"),
		PeerAddr: netip.MustParseAddr("fe80::3"),
		Type:     dhcp6.MessageTypeRelayForward,
		HopCount: 1,
	}
	outer.Options.Set(dhcp6.OptionInterfaceID, dhcpopt.OpaqueASCII("uplink"))
	outer.Options.Set(dhcp6.OptionRelayMsg, &dhcp6.RelayMsg{Packet: inner})

	reply, err := e.p6.process(ctx, outer, "")
	require.NoError(t, err)

	msg, relays, err := dhcp6.Unwrap(reply)
	require.NoError(t, err)
	require.Len(t, relays, 2)

	for i, want := range []*dhcp6.RelayMessage{outer, inner} {
		got := relays[i]
		assert.Equal(t, dhcp6.MessageTypeRelayReply, got.Type)
		assert.Equal(t, want.HopCount, got.HopCount)
		assert.Equal(t, want.LinkAddr, got.LinkAddr)
		assert.Equal(t, want.PeerAddr, got.PeerAddr)

		wantID, _ := want.InterfaceID()
		gotID, ok := got.InterfaceID()
		require.True(t, ok)
		assert.Equal(t, wantID, gotID)
	}

	assert.Equal(t, dhcp6.MessageTypeAdvertise, msg.Type)

	v, ok := requireIANA(t, msg).Options.Get(dhcp6.OptionIAAddr)
	require.True(t, ok)

	// The inner envelope has no link address, so the outer one selects the
	// link.
	assert.True(t, e.relay.Subnet.Contains(v.(*dhcp6.IAAddr).Addr))
}

func TestProcessor6_process_noLink(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	reply, err := e.p6.process(ctx, newMsg6(dhcp6.MessageTypeSolicit, withIANA(1)), "eth1")
	assert.Nil(t, reply)
	requireDrop(t, err, errNoLink)
}
