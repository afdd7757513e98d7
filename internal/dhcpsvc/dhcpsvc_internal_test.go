package dhcpsvc

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/binding"
	"github.com/AdguardTeam/AdGuardDHCP/internal/ddns"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp4"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp6"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/AdGuardDHCP/internal/ippool"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil/faketime"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// testDomain is the domain name appended to the partial client names.
const testDomain = "home.arpa"

// testIface is the name of the network interface of the directly attached
// links.
const testIface = "eth0"

// testServerDUID is the DUID of the server in tests.
var testServerDUID = []byte{0x00, 0x03, 0x00, 0x01, 0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

// testClientDUID is the DUID of the client in tests.
var testClientDUID = []byte{0x00, 0x03, 0x00, 0x01, 0x02, 0x00, 0x00, 0x00, 0x00, 0x02}

// testServerIP4 is the address of the server on the IPv4 link.
var testServerIP4 = netip.MustParseAddr("192.168.1.1")

// testStart is the time of the test clock.
var testStart = time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)

// recordingDDNS is a [DDNS] implementation recording the submitted jobs.
type recordingDDNS struct {
	mu   *sync.Mutex
	jobs []*ddns.Job
}

// type check
var _ DDNS = (*recordingDDNS)(nil)

// Submit implements the [DDNS] interface for *recordingDDNS.
func (d *recordingDDNS) Submit(_ context.Context, j *ddns.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.jobs = append(d.jobs, j)
}

// submitted returns the jobs submitted so far.
func (d *recordingDDNS) submitted() (jobs []*ddns.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]*ddns.Job(nil), d.jobs...)
}

// testEnv is the common environment of the processor tests.
type testEnv struct {
	conf  *Config
	ddns  *recordingDDNS
	p6    *processor6
	p4    *processor4
	link6 *Link
	link4 *Link
	relay *Link
}

// newTestEnv returns a new environment with a direct IPv6 link, a relayed
// IPv6 link, and a direct IPv4 link.  If pol is nil, the default policy is
// used.
func newTestEnv(tb testing.TB, pol *binding.Policy) (e *testEnv) {
	tb.Helper()

	if pol == nil {
		pol = binding.DefaultPolicy()
	}

	logger := slogutil.NewDiscardLogger()
	store := lease.NewMemory()
	clock := &faketime.Clock{
		OnNow: func() (now time.Time) { return testStart },
	}

	newPool := func(start, end string) (p *ippool.Pool) {
		var err error
		p, err = ippool.New(&ippool.Config{
			Logger: logger,
			Store:  store,
			Range: lease.Range{
				Start: netip.MustParseAddr(start),
				End:   netip.MustParseAddr(end),
			},
		})
		require.NoError(tb, err)

		return p
	}

	pdPool, err := ippool.NewPrefixPool(&ippool.PrefixConfig{
		Logger:       logger,
		Store:        store,
		Prefix:       netip.MustParsePrefix("2001:db8:100::/40"),
		DelegatedLen: 56,
	})
	require.NoError(tb, err)

	e = &testEnv{
		ddns: &recordingDDNS{mu: &sync.Mutex{}},
	}

	e.link6 = &Link{
		Link: &binding.Link{
			Pools: map[lease.IAType][]binding.Allocator{
				lease.IATypeNA: {newPool("2001:db8:1::a", "2001:db8:1::ff")},
				lease.IATypePD: {pdPool},
			},
			Name:   "direct6",
			Subnet: netip.MustParsePrefix("2001:db8:1::/64"),
		},
		Interface: testIface,
		Options6: dhcpopt.Options{{
			Code:  dhcp6.OptionDNSServers,
			Value: dhcpopt.IPv6List{netip.MustParseAddr("2001:db8:1::1")},
		}},
	}

	e.relay = &Link{
		Link: &binding.Link{
			Pools: map[lease.IAType][]binding.Allocator{
				lease.IATypeNA: {newPool("2001:db8:2::a", "2001:db8:2::ff")},
			},
			Name:   "relayed6",
			Subnet: netip.MustParsePrefix("2001:db8:2::/64"),
		},
	}

	e.link4 = &Link{
		Link: &binding.Link{
			Pools: map[lease.IAType][]binding.Allocator{
				lease.IATypeV4: {newPool("192.168.1.10", "192.168.1.20")},
			},
			Name:   "direct4",
			Subnet: netip.MustParsePrefix("192.168.1.0/24"),
		},
		Interface: testIface,
		Options4: dhcpopt.Options{{
			Code:  dhcp4.OptionRouter,
			Value: dhcpopt.IPv4List{testServerIP4},
		}},
		ServerIP4: testServerIP4,
	}

	manager := binding.New(&binding.Config{
		Logger: logger,
		Store:  store,
		Clock:  clock,
		Policy: pol,
		Links:  []*binding.Link{e.link6.Link, e.relay.Link, e.link4.Link},
	})

	e.conf = &Config{
		Logger:   logger,
		Bindings: manager,
		Metrics:  EmptyMetrics{},
		DDNS:     e.ddns,
		V6: &V6Config{
			Decoder:    dhcp6.NewDecoder(dhcp6.NewRegistry(), dhcpopt.PolicyPreserve),
			ServerDUID: testServerDUID,
			Interfaces: []string{testIface},
		},
		V4: &V4Config{
			Decoder:    dhcp4.NewDecoder(dhcp4.NewRegistry(), dhcpopt.PolicyPreserve),
			Interfaces: []string{testIface},
		},
		DomainName:     testDomain,
		Links:          []*Link{e.link6, e.relay, e.link4},
		RequestTimeout: testTimeout,
		Workers:        1,
		QueueSize:      1,
		RapidCommit:    true,
	}

	require.NoError(tb, e.conf.Validate())

	e.p6 = newProcessor6(e.conf)
	e.p4 = newProcessor4(e.conf)

	return e
}
