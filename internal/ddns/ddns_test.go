package ddns_test

import (
	"encoding/base64"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/ddns"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// Test key parameters.
const (
	testKeyName   = "dhcp-key."
	testKeySecret = "c2VjcmV0c2VjcmV0c2VjcmV0c2VjcmV0"
)

// updateServer is a DNS server recording the update messages and replying
// with the configured response codes.
type updateServer struct {
	mu     *sync.Mutex
	msgs   []*dns.Msg
	rcodes []int
}

// ServeDNS implements the [dns.Handler] interface for *updateServer.
func (s *updateServer) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	s.mu.Lock()
	s.msgs = append(s.msgs, r.Copy())
	rcode := dns.RcodeSuccess
	if len(s.rcodes) > 0 {
		rcode, s.rcodes = s.rcodes[0], s.rcodes[1:]
	}
	s.mu.Unlock()

	resp := (&dns.Msg{}).SetRcode(r, rcode)
	if r.IsTsig() == nil || w.TsigStatus() != nil {
		resp.Rcode = dns.RcodeNotAuth
	} else {
		resp.SetTsig(testKeyName, dns.HmacSHA256, 300, time.Now().Unix())
	}

	err := w.WriteMsg(resp)
	require.NoError(testutil.PanicT{}, err)
}

// messages returns the recorded messages.
func (s *updateServer) messages() (msgs []*dns.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*dns.Msg(nil), s.msgs...)
}

// newUpdateServer starts a local TCP DNS server replying with rcodes and
// returns it along with its address.
func newUpdateServer(tb testing.TB, rcodes ...int) (s *updateServer, addr netip.AddrPort) {
	tb.Helper()

	s = &updateServer{
		mu:     &sync.Mutex{},
		rcodes: rcodes,
	}

	startCh := make(chan struct{})
	srv := &dns.Server{
		Addr:              netip.AddrPortFrom(netutil.IPv4Localhost(), 0).String(),
		Net:               "tcp",
		Handler:           s,
		TsigSecret:        map[string]string{testKeyName: testKeySecret},
		NotifyStartedFunc: func() { close(startCh) },
	}
	go func() {
		err := srv.ListenAndServe()
		require.NoError(testutil.PanicT{}, err)
	}()

	<-startCh
	testutil.CleanupAndRequireSuccess(tb, srv.Shutdown)

	return s, testutil.RequireTypeAssert[*net.TCPAddr](tb, srv.Listener.Addr()).AddrPort()
}

// newTestUpdater returns an updater sending to addr.
func newTestUpdater(tb testing.TB, addr netip.AddrPort) (u *ddns.Updater) {
	tb.Helper()

	conf := &ddns.Config{
		Logger: slogutil.NewDiscardLogger(),
		TSIG: &ddns.TSIG{
			Name:      testKeyName,
			Algorithm: dns.HmacSHA256,
			Secret:    testKeySecret,
		},
		Server:        addr,
		Network:       "tcp",
		Timeout:       testTimeout,
		TTL:           300,
		ReverseV4Bits: 24,
		ReverseV6Bits: 64,
	}
	require.NoError(tb, conf.Validate())

	return ddns.New(conf)
}

// testUpdate6 is the common IPv6 update for tests.
var testUpdate6 = &ddns.Update{
	FQDN:   "host.example.org",
	ID:     []byte{0x00, 0x03, 0x00, 0x01, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
	IP:     netip.MustParseAddr("2001:db8:1::a"),
	IDType: ddns.IDTypeDUID,
}

// headers returns the headers of rrs.
func headers(rrs []dns.RR) (hdrs []dns.RR_Header) {
	for _, rr := range rrs {
		hdrs = append(hdrs, *rr.Header())
	}

	return hdrs
}

func TestDHCID(t *testing.T) {
	t.Parallel()

	// See RFC 4701 Section 3.6.
	testCases := []struct {
		name   string
		fqdn   string
		want   string
		id     []byte
		idType ddns.IDType
	}{{
		name:   "duid",
		fqdn:   "chi6.example.com",
		want:   "AAIBY2/AuCccgoJbsaxcQc9TUapptP69lOjxfNuVAA2kjEA=",
		id:     []byte{0x00, 0x01, 0x00, 0x06, 0x41, 0x2d, 0xf1, 0x66, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06},
		idType: ddns.IDTypeDUID,
	}, {
		name:   "hwaddr",
		fqdn:   "client.example.com",
		want:   "AAABxLmlskllE0MVjd57zHcWmEH3pCQ6VytcKD//7es/deY=",
		id:     []byte{0x01, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06},
		idType: ddns.IDTypeHWAddr,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ddns.DHCID(tc.idType, tc.id, tc.fqdn)
			assert.Equal(t, tc.want, base64.StdEncoding.EncodeToString(got))
		})
	}

	t.Run("case_insensitive", func(t *testing.T) {
		t.Parallel()

		id := testUpdate6.ID
		assert.Equal(
			t,
			ddns.DHCID(ddns.IDTypeDUID, id, "Host.Example.ORG."),
			ddns.DHCID(ddns.IDTypeDUID, id, "host.example.org"),
		)
	})
}

func TestUpdater_ForwardAdd(t *testing.T) {
	t.Parallel()

	t.Run("free_name", func(t *testing.T) {
		t.Parallel()

		srv, addr := newUpdateServer(t)
		u := newTestUpdater(t, addr)

		ctx := testutil.ContextWithTimeout(t, testTimeout)
		require.NoError(t, u.ForwardAdd(ctx, testUpdate6))

		msgs := srv.messages()
		require.Len(t, msgs, 1)

		m := msgs[0]
		assert.Equal(t, dns.OpcodeUpdate, m.Opcode)
		require.Len(t, m.Question, 1)
		assert.Equal(t, "example.org.", m.Question[0].Name)

		assert.Equal(t, []dns.RR_Header{{
			Name:   "host.example.org.",
			Rrtype: dns.TypeANY,
			Class:  dns.ClassNONE,
		}}, headers(m.Answer))

		require.Len(t, m.Ns, 2)
		aaaa := testutil.RequireTypeAssert[*dns.AAAA](t, m.Ns[0])
		assert.Equal(t, testUpdate6.IP.AsSlice(), []byte(aaaa.AAAA.To16()))
		assert.Equal(t, uint32(300), aaaa.Hdr.Ttl)

		dhcid := testutil.RequireTypeAssert[*dns.DHCID](t, m.Ns[1])
		wantDigest := ddns.DHCID(testUpdate6.IDType, testUpdate6.ID, testUpdate6.FQDN)
		assert.Equal(t, base64.StdEncoding.EncodeToString(wantDigest), dhcid.Digest)

		assert.NotNil(t, m.IsTsig())
	})

	t.Run("name_in_use", func(t *testing.T) {
		t.Parallel()

		srv, addr := newUpdateServer(t, dns.RcodeYXDomain, dns.RcodeSuccess)
		u := newTestUpdater(t, addr)

		ctx := testutil.ContextWithTimeout(t, testTimeout)
		require.NoError(t, u.ForwardAdd(ctx, testUpdate6))

		msgs := srv.messages()
		require.Len(t, msgs, 2)

		m := msgs[1]
		require.Len(t, m.Answer, 1)

		dhcid := testutil.RequireTypeAssert[*dns.DHCID](t, m.Answer[0])
		assert.Equal(t, uint16(dns.ClassINET), dhcid.Hdr.Class)

		assert.Equal(t, []dns.RR_Header{{
			Name:   "host.example.org.",
			Rrtype: dns.TypeAAAA,
			Class:  dns.ClassANY,
		}, {
			Name:     "host.example.org.",
			Rrtype:   dns.TypeAAAA,
			Class:    dns.ClassINET,
			Ttl:      300,
			Rdlength: 16,
		}}, headers(m.Ns))
	})

	t.Run("conflict", func(t *testing.T) {
		t.Parallel()

		_, addr := newUpdateServer(t, dns.RcodeYXDomain, dns.RcodeNXRrset)
		u := newTestUpdater(t, addr)

		ctx := testutil.ContextWithTimeout(t, testTimeout)
		err := u.ForwardAdd(ctx, testUpdate6)
		assert.ErrorIs(t, err, ddns.ErrRcode)
	})
}

func TestUpdater_ForwardDelete(t *testing.T) {
	t.Parallel()

	srv, addr := newUpdateServer(t)
	u := newTestUpdater(t, addr)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, u.ForwardDelete(ctx, testUpdate6))

	msgs := srv.messages()
	require.Len(t, msgs, 2)

	first := msgs[0]
	require.Len(t, first.Answer, 1)
	testutil.RequireTypeAssert[*dns.DHCID](t, first.Answer[0])

	require.Len(t, first.Ns, 1)
	assert.Equal(t, uint16(dns.ClassNONE), first.Ns[0].Header().Class)
	assert.Equal(t, dns.TypeAAAA, first.Ns[0].Header().Rrtype)

	second := msgs[1]
	assert.Equal(t, []dns.RR_Header{{
		Name:   "host.example.org.",
		Rrtype: dns.TypeA,
		Class:  dns.ClassNONE,
	}, {
		Name:   "host.example.org.",
		Rrtype: dns.TypeAAAA,
		Class:  dns.ClassNONE,
	}}, headers(second.Answer))
	assert.Equal(t, []dns.RR_Header{{
		Name:   "host.example.org.",
		Rrtype: dns.TypeDHCID,
		Class:  dns.ClassANY,
	}}, headers(second.Ns))
}

func TestUpdater_ForwardDelete_mismatch(t *testing.T) {
	t.Parallel()

	srv, addr := newUpdateServer(t, dns.RcodeNXRrset)
	u := newTestUpdater(t, addr)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	err := u.ForwardDelete(ctx, testUpdate6)
	assert.ErrorIs(t, err, ddns.ErrRcode)

	assert.Len(t, srv.messages(), 1)
}

func TestUpdater_ReverseAdd(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		ip       netip.Addr
		name     string
		wantZone string
		wantName string
	}{{
		ip:       netip.MustParseAddr("192.168.1.15"),
		name:     "v4",
		wantZone: "1.168.192.in-addr.arpa.",
		wantName: "15.1.168.192.in-addr.arpa.",
	}, {
		ip:       netip.MustParseAddr("2001:db8:1::a"),
		name:     "v6",
		wantZone: "0.0.0.0.1.0.0.0.8.b.d.0.1.0.0.2.ip6.arpa.",
		wantName: "a.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.1.0.0.0.8.b.d.0.1.0.0.2.ip6.arpa.",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv, addr := newUpdateServer(t)
			u := newTestUpdater(t, addr)

			up := &ddns.Update{
				FQDN:   "host.example.org",
				ID:     testUpdate6.ID,
				IP:     tc.ip,
				IDType: ddns.IDTypeDUID,
			}

			ctx := testutil.ContextWithTimeout(t, testTimeout)
			require.NoError(t, u.ReverseAdd(ctx, up))

			msgs := srv.messages()
			require.Len(t, msgs, 1)

			m := msgs[0]
			require.Len(t, m.Question, 1)
			assert.Equal(t, tc.wantZone, m.Question[0].Name)

			require.Len(t, m.Ns, 2)
			assert.Equal(t, dns.RR_Header{
				Name:   tc.wantName,
				Rrtype: dns.TypePTR,
				Class:  dns.ClassANY,
			}, *m.Ns[0].Header())

			ptr := testutil.RequireTypeAssert[*dns.PTR](t, m.Ns[1])
			assert.Equal(t, tc.wantName, ptr.Hdr.Name)
			assert.Equal(t, "host.example.org.", ptr.Ptr)
		})
	}
}

func TestUpdater_SendDelete_callbacks(t *testing.T) {
	t.Parallel()

	// The forward delete fails on the prerequisite, the reverse one succeeds.
	_, addr := newUpdateServer(t, dns.RcodeNXRrset, dns.RcodeSuccess)
	u := newTestUpdater(t, addr)

	var fwd, rev []bool
	cb := &ddns.Callbacks{
		FwdDeleteComplete: func(ok bool) { fwd = append(fwd, ok) },
		RevDeleteComplete: func(ok bool) { rev = append(rev, ok) },
	}

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	err := u.SendDelete(ctx, testUpdate6, cb)
	assert.ErrorIs(t, err, ddns.ErrRcode)

	assert.Equal(t, []bool{false}, fwd)
	assert.Equal(t, []bool{true}, rev)
}

func TestUpdater_unsigned(t *testing.T) {
	t.Parallel()

	_, addr := newUpdateServer(t)

	conf := &ddns.Config{
		Logger:        slogutil.NewDiscardLogger(),
		Server:        addr,
		Network:       "tcp",
		Timeout:       testTimeout,
		TTL:           300,
		ReverseV4Bits: 24,
		ReverseV6Bits: 64,
	}
	require.NoError(t, conf.Validate())

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	err := ddns.New(conf).ReverseAdd(ctx, testUpdate6)
	assert.ErrorIs(t, err, ddns.ErrRcode)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		conf       *ddns.Config
		name       string
		wantErrMsg string
	}{{
		conf:       nil,
		name:       "nil",
		wantErrMsg: "no value",
	}, {
		conf: &ddns.Config{
			Logger:        slogutil.NewDiscardLogger(),
			Server:        netip.MustParseAddrPort("127.0.0.1:53"),
			Network:       "sctp",
			ReverseV4Bits: 24,
			ReverseV6Bits: 64,
		},
		name:       "bad_network",
		wantErrMsg: `Network: bad enum value: "sctp"`,
	}, {
		conf: &ddns.Config{
			Logger:        slogutil.NewDiscardLogger(),
			Server:        netip.MustParseAddrPort("127.0.0.1:53"),
			Network:       "udp",
			ReverseV4Bits: 20,
			ReverseV6Bits: 64,
		},
		name:       "bad_v4_bits",
		wantErrMsg: "ReverseV4Bits: out of range: 20",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			testutil.AssertErrorMsg(t, tc.wantErrMsg, tc.conf.Validate())
		})
	}
}
