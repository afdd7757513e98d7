package ippool_test

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/ippool"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// testNow is the fixed current time for tests.
var testNow = time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)

// newLeaseFunc returns a function creating committed leases for duid.
func newLeaseFunc(duid string) (f ippool.LeaseFunc) {
	return func(ip netip.Addr) (l *lease.Lease) {
		return &lease.Lease{
			IP:           ip,
			StartTime:    testNow,
			ValidEndTime: testNow.Add(time.Hour),
			DUID:         []byte(duid),
			IAType:       lease.IATypeNA,
			State:        lease.StateCommitted,
		}
	}
}

// newPool returns a pool over a new memory store.
func newPool(tb testing.TB, conf *ippool.Config) (p *ippool.Pool, s *lease.Memory) {
	tb.Helper()

	s = lease.NewMemory()
	conf.Logger = slogutil.NewDiscardLogger()
	conf.Store = s

	p, err := ippool.New(conf)
	require.NoError(tb, err)

	return p, s
}

// allocate allocates an address for duid and returns it.
func allocate(tb testing.TB, ctx context.Context, p *ippool.Pool, duid string) (ip netip.Addr) {
	tb.Helper()

	l, err := p.Allocate(ctx, testNow, newLeaseFunc(duid))
	require.NoError(tb, err)

	return l.IP
}

func TestPool_Allocate(t *testing.T) {
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	p, s := newPool(t, &ippool.Config{
		Range: lease.Range{
			Start: netip.MustParseAddr("2001:db8:1::a"),
			End:   netip.MustParseAddr("2001:db8:1::ff"),
		},
		Exclusions: []lease.Range{{
			Start: netip.MustParseAddr("2001:db8:1::d"),
			End:   netip.MustParseAddr("2001:db8:1::f"),
		}},
		Reserved: []netip.Addr{netip.MustParseAddr("2001:db8:1::11")},
	})

	assert.Equal(t, netip.MustParseAddr("2001:db8:1::a"), allocate(t, ctx, p, "c1"))
	assert.Equal(t, netip.MustParseAddr("2001:db8:1::b"), allocate(t, ctx, p, "c2"))
	assert.Equal(t, netip.MustParseAddr("2001:db8:1::c"), allocate(t, ctx, p, "c3"))

	released, err := s.FindByAddress(ctx, netip.MustParseAddr("2001:db8:1::b"))
	require.NoError(t, err)

	released.State = lease.StateReleased
	require.NoError(t, s.Update(ctx, released))

	assert.Equal(t, netip.MustParseAddr("2001:db8:1::b"), allocate(t, ctx, p, "c4"))
	assert.Equal(t, netip.MustParseAddr("2001:db8:1::10"), allocate(t, ctx, p, "c5"))
	assert.Equal(t, netip.MustParseAddr("2001:db8:1::12"), allocate(t, ctx, p, "c6"))

	reclaimed, err := s.FindByAddress(ctx, netip.MustParseAddr("2001:db8:1::b"))
	require.NoError(t, err)
	require.NotNil(t, reclaimed)

	assert.Equal(t, []byte("c4"), reclaimed.DUID)
}

func TestPool_Allocate_preexisting(t *testing.T) {
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	p, s := newPool(t, &ippool.Config{
		Range: lease.Range{
			Start: netip.MustParseAddr("192.168.1.1"),
			End:   netip.MustParseAddr("192.168.1.3"),
		},
	})

	require.NoError(t, s.Insert(ctx, newLeaseFunc("old")(netip.MustParseAddr("192.168.1.1"))))

	assert.Equal(t, netip.MustParseAddr("192.168.1.2"), allocate(t, ctx, p, "c1"))
	assert.Equal(t, netip.MustParseAddr("192.168.1.3"), allocate(t, ctx, p, "c2"))

	_, err := p.Allocate(ctx, testNow, newLeaseFunc("c3"))
	assert.ErrorIs(t, err, ippool.ErrExhausted)

	require.NoError(t, p.Free(ctx, netip.MustParseAddr("192.168.1.2")))
	assert.Equal(t, netip.MustParseAddr("192.168.1.2"), allocate(t, ctx, p, "c3"))

	err = p.Free(ctx, netip.MustParseAddr("192.168.2.1"))
	assert.ErrorIs(t, err, ippool.ErrUnavailable)
}

func TestPool_Allocate_concurrent(t *testing.T) {
	const (
		workers   = 10
		perWorker = 10
	)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	p, _ := newPool(t, &ippool.Config{
		Range: lease.Range{
			Start: netip.MustParseAddr("10.0.0.1"),
			End:   netip.MustParseAddr("10.0.0.100"),
		},
	})

	results := make(chan netip.Addr, workers*perWorker)
	wg := &sync.WaitGroup{}
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for j := range perWorker {
				l, err := p.Allocate(ctx, testNow, newLeaseFunc(fmt.Sprintf("c%d-%d", i, j)))
				if assert.NoError(t, err) {
					results <- l.IP
				}
			}
		}()
	}

	wg.Wait()
	close(results)

	seen := map[netip.Addr]struct{}{}
	for ip := range results {
		_, dup := seen[ip]
		assert.False(t, dup, ip)

		seen[ip] = struct{}{}
	}

	assert.Len(t, seen, workers*perWorker)

	_, err := p.Allocate(ctx, testNow, newLeaseFunc("extra"))
	assert.ErrorIs(t, err, ippool.ErrExhausted)
}

func TestPool_Reserve(t *testing.T) {
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	p, s := newPool(t, &ippool.Config{
		Range: lease.Range{
			Start: netip.MustParseAddr("192.168.1.1"),
			End:   netip.MustParseAddr("192.168.1.100"),
		},
		Exclusions: []lease.Range{{
			Start: netip.MustParseAddr("192.168.1.50"),
			End:   netip.MustParseAddr("192.168.1.60"),
		}},
	})

	expired := newLeaseFunc("old")(netip.MustParseAddr("192.168.1.20"))
	expired.State = lease.StateExpired
	require.NoError(t, s.Insert(ctx, expired))

	testCases := []struct {
		wantErr error
		ip      netip.Addr
		name    string
	}{{
		wantErr: nil,
		ip:      netip.MustParseAddr("192.168.1.10"),
		name:    "free",
	}, {
		wantErr: ippool.ErrUnavailable,
		ip:      netip.MustParseAddr("192.168.1.10"),
		name:    "taken",
	}, {
		wantErr: nil,
		ip:      netip.MustParseAddr("192.168.1.20"),
		name:    "unused",
	}, {
		wantErr: ippool.ErrUnavailable,
		ip:      netip.MustParseAddr("192.168.1.55"),
		name:    "excluded",
	}, {
		wantErr: ippool.ErrUnavailable,
		ip:      netip.MustParseAddr("192.168.2.1"),
		name:    "outside",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l, err := p.Reserve(ctx, testNow, tc.ip, newLeaseFunc(tc.name))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.ip, l.IP)
		})
	}

	assert.Equal(t, netip.MustParseAddr("192.168.1.1"), allocate(t, ctx, p, "next"))
}

func TestPrefixPool(t *testing.T) {
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	s := lease.NewMemory()

	p, err := ippool.NewPrefixPool(&ippool.PrefixConfig{
		Logger:       slogutil.NewDiscardLogger(),
		Store:        s,
		Prefix:       netip.MustParsePrefix("2001:db8:100::/40"),
		DelegatedLen: 48,
	})
	require.NoError(t, err)

	assert.Equal(t, lease.Range{
		Start: netip.MustParseAddr("2001:db8:100::"),
		End:   netip.MustParseAddr("2001:db8:1ff::"),
	}, p.Range())

	l, err := p.Allocate(ctx, testNow, newLeaseFunc("c1"))
	require.NoError(t, err)

	assert.Equal(t, netip.MustParsePrefix("2001:db8:100::/48"), l.Prefix())

	l, err = p.Allocate(ctx, testNow, newLeaseFunc("c2"))
	require.NoError(t, err)

	assert.Equal(t, netip.MustParsePrefix("2001:db8:101::/48"), l.Prefix())

	l, err = p.Reserve(ctx, testNow, netip.MustParseAddr("2001:db8:1ff::"), newLeaseFunc("c3"))
	require.NoError(t, err)

	assert.Equal(t, uint8(48), l.PrefixLen)

	_, err = p.Reserve(ctx, testNow, netip.MustParseAddr("2001:db8:1ff::1"), newLeaseFunc("c4"))
	assert.ErrorIs(t, err, ippool.ErrUnavailable)

	assert.True(t, p.Contains(netip.MustParseAddr("2001:db8:180::")))
	assert.False(t, p.Contains(netip.MustParseAddr("2001:db8:200::")))
}

func TestNewPrefixPool_errors(t *testing.T) {
	testCases := []struct {
		prefix     netip.Prefix
		name       string
		wantErrMsg string
		bits       int
	}{{
		prefix: netip.MustParsePrefix("2001:db8::/48"),
		name:   "short",
		wantErrMsg: "invalid prefix range: " +
			"delegated length 40 must be within (48, 128]",
		bits: 40,
	}, {
		prefix: netip.MustParsePrefix("2001:db8::/16"),
		name:   "too_many",
		wantErrMsg: "invalid prefix range: " +
			"delegated length 64 is too long for parent 2001:db8::/16",
		bits: 64,
	}, {
		prefix: netip.MustParsePrefix("10.0.0.0/8"),
		name:   "ipv4",
		wantErrMsg: "invalid prefix range: " +
			"parent prefix 10.0.0.0/8 must be a valid ipv6 prefix",
		bits: 16,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ippool.NewPrefixPool(&ippool.PrefixConfig{
				Logger:       slogutil.NewDiscardLogger(),
				Store:        lease.NewMemory(),
				Prefix:       tc.prefix,
				DelegatedLen: tc.bits,
			})
			testutil.AssertErrorMsg(t, tc.wantErrMsg, err)
		})
	}
}

func TestReconcile(t *testing.T) {
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	p, s := newPool(t, &ippool.Config{
		Range: lease.Range{
			Start: netip.MustParseAddr("2001:db8:1::a"),
			End:   netip.MustParseAddr("2001:db8:1::ff"),
		},
	})

	inside := netip.MustParseAddr("2001:db8:1::a")
	static := netip.MustParseAddr("2001:db8:9::1")
	for _, ip := range []netip.Addr{
		inside,
		static,
		netip.MustParseAddr("2001:db8:1::9"),
		netip.MustParseAddr("2001:db8:2::a"),
	} {
		require.NoError(t, s.Insert(ctx, newLeaseFunc(ip.String())(ip)))
	}

	n, err := ippool.Reconcile(
		ctx,
		slogutil.NewDiscardLogger(),
		s,
		[]*ippool.Pool{p},
		[]lease.Range{{Start: static, End: static}},
	)
	require.NoError(t, err)

	assert.Equal(t, 2, n)

	ips, err := s.FindExistingIPs(ctx, lease.Range{
		Start: netip.MustParseAddr("::"),
		End:   netip.MustParseAddr("ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff"),
	})
	require.NoError(t, err)

	assert.Equal(t, []netip.Addr{inside, static}, ips)
	assert.Equal(t, netip.MustParseAddr("2001:db8:1::b"), allocate(t, ctx, p, "next"))
}

func TestPool_Update(t *testing.T) {
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	p, _ := newPool(t, &ippool.Config{
		Range: lease.Range{
			Start: netip.MustParseAddr("192.168.1.1"),
			End:   netip.MustParseAddr("192.168.1.10"),
		},
	})

	ip := netip.MustParseAddr("192.168.1.5")
	l, err := p.Update(ctx, ip, func(cur *lease.Lease) (next *lease.Lease) {
		require.Nil(t, cur)

		return newLeaseFunc("c1")(ip)
	})
	require.NoError(t, err)

	assert.Equal(t, ip, l.IP)

	l, err = p.Update(ctx, ip, func(cur *lease.Lease) (next *lease.Lease) {
		require.NotNil(t, cur)

		next = cur.Clone()
		next.State = lease.StateReleased

		return next
	})
	require.NoError(t, err)

	assert.Equal(t, lease.StateReleased, l.State)

	_, err = p.Update(ctx, ip, func(_ *lease.Lease) (next *lease.Lease) { return nil })
	assert.ErrorIs(t, err, ippool.ErrUnavailable)

	outside := netip.MustParseAddr("192.168.1.11")
	_, err = p.Update(ctx, outside, func(_ *lease.Lease) (next *lease.Lease) {
		return newLeaseFunc("c2")(outside)
	})
	assert.ErrorIs(t, err, ippool.ErrUnavailable)
}
