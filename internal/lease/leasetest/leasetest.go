// Package leasetest contains common tests for the implementations of
// [lease.Store].
package leasetest

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Timeout is the common timeout for store tests.
const Timeout = 1 * time.Second

// Now is the fixed current time for store tests.
var Now = time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)

// NewLease returns a committed lease for ip with the given identity.
func NewLease(ip netip.Addr, duid string, iaid uint32, validEnd time.Time) (l *lease.Lease) {
	return &lease.Lease{
		IP:               ip,
		StartTime:        Now.Add(-time.Hour),
		PreferredEndTime: validEnd.Add(-time.Minute),
		ValidEndTime:     validEnd,
		DUID:             []byte(duid),
		FQDN:             "host.example.com.",
		IAID:             iaid,
		IAType:           lease.IATypeNA,
		State:            lease.StateCommitted,
	}
}

// AssertLeaseEqual asserts that want and got describe the same lease.  Times
// are compared with [time.Time.Equal].
func AssertLeaseEqual(tb testing.TB, want, got *lease.Lease) {
	tb.Helper()

	require.NotNil(tb, got)

	assert.Equal(tb, want.IP, got.IP)
	assert.Equal(tb, want.DUID, got.DUID)
	assert.Equal(tb, want.FQDN, got.FQDN)
	assert.Equal(tb, want.IAID, got.IAID)
	assert.Equal(tb, want.PrefixLen, got.PrefixLen)
	assert.Equal(tb, want.IAType, got.IAType)
	assert.Equal(tb, want.State, got.State)
	assert.True(tb, want.StartTime.Equal(got.StartTime), "start time")
	assert.True(tb, want.PreferredEndTime.Equal(got.PreferredEndTime), "preferred end time")
	assert.True(tb, want.ValidEndTime.Equal(got.ValidEndTime), "valid end time")
}

// ips returns the addresses of leases.
func ips(leases []*lease.Lease) (res []netip.Addr) {
	for _, l := range leases {
		res = append(res, l.IP)
	}

	return res
}

// TestStore runs the common tests for a store.  newStore must return a new
// empty store for each call.
func TestStore(t *testing.T, newStore func(t *testing.T) (s lease.Store)) {
	t.Run("insert_find", func(t *testing.T) {
		s := newStore(t)
		ctx := testutil.ContextWithTimeout(t, Timeout)

		ip := netip.MustParseAddr("2001:db8:1::a")
		l := NewLease(ip, "client-1", 1, Now.Add(time.Hour))
		require.NoError(t, s.Insert(ctx, l))

		err := s.Insert(ctx, NewLease(ip, "client-2", 1, Now.Add(time.Hour)))
		assert.ErrorIs(t, err, lease.ErrDuplicate)

		got, err := s.FindByAddress(ctx, ip)
		require.NoError(t, err)
		AssertLeaseEqual(t, l, got)

		got, err = s.FindByAddress(ctx, netip.MustParseAddr("2001:db8:1::b"))
		require.NoError(t, err)
		assert.Nil(t, got)

		found, err := s.FindByIdentity(ctx, []byte("client-1"), lease.IATypeNA, 1)
		require.NoError(t, err)
		require.Len(t, found, 1)
		AssertLeaseEqual(t, l, found[0])

		found, err = s.FindByIdentity(ctx, []byte("client-1"), lease.IATypeNA, 2)
		require.NoError(t, err)
		assert.Empty(t, found)

		found, err = s.FindByIdentity(ctx, []byte("client"), lease.IATypeNA, 1)
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("update_delete", func(t *testing.T) {
		s := newStore(t)
		ctx := testutil.ContextWithTimeout(t, Timeout)

		ip := netip.MustParseAddr("192.168.1.10")
		l := NewLease(ip, "client-1", 0, Now.Add(time.Hour))
		l.IAType = lease.IATypeV4

		err := s.Update(ctx, l)
		assert.ErrorIs(t, err, lease.ErrNotFound)

		require.NoError(t, s.Insert(ctx, l))

		upd := l.Clone()
		upd.DUID = []byte("client-2")
		upd.State = lease.StateAdvertised
		require.NoError(t, s.Update(ctx, upd))

		found, err := s.FindByIdentity(ctx, []byte("client-1"), lease.IATypeV4, 0)
		require.NoError(t, err)
		assert.Empty(t, found)

		found, err = s.FindByIdentity(ctx, []byte("client-2"), lease.IATypeV4, 0)
		require.NoError(t, err)
		require.Len(t, found, 1)
		AssertLeaseEqual(t, upd, found[0])

		require.NoError(t, s.Delete(ctx, ip))
		assert.ErrorIs(t, s.Delete(ctx, ip), lease.ErrNotFound)

		got, err := s.FindByAddress(ctx, ip)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("find_unused", func(t *testing.T) {
		s := newStore(t)
		ctx := testutil.ContextWithTimeout(t, Timeout)

		committed := NewLease(netip.MustParseAddr("2001:db8:1::a"), "c1", 1, Now.Add(time.Hour))
		released := NewLease(netip.MustParseAddr("2001:db8:1::b"), "c2", 1, Now.Add(time.Hour))
		released.State = lease.StateReleased
		expired := NewLease(netip.MustParseAddr("2001:db8:1::c"), "c3", 1, Now.Add(-2*time.Hour))
		expired.State = lease.StateExpired
		offer := NewLease(netip.MustParseAddr("2001:db8:1::d"), "c4", 1, Now.Add(-time.Minute))
		offer.State = lease.StateAdvertised
		liveOffer := NewLease(netip.MustParseAddr("2001:db8:1::e"), "c5", 1, Now.Add(time.Minute))
		liveOffer.State = lease.StateAdvertised
		outside := NewLease(netip.MustParseAddr("2001:db8:2::a"), "c6", 1, Now.Add(-time.Hour))
		outside.State = lease.StateReleased

		for _, l := range []*lease.Lease{committed, released, expired, offer, liveOffer, outside} {
			require.NoError(t, s.Insert(ctx, l))
		}

		r := lease.Range{
			Start: netip.MustParseAddr("2001:db8:1::1"),
			End:   netip.MustParseAddr("2001:db8:1::ff"),
		}

		unused, err := s.FindUnused(ctx, r, Now)
		require.NoError(t, err)

		assert.Equal(t, []netip.Addr{expired.IP, offer.IP, released.IP}, ips(unused))

		existing, err := s.FindExistingIPs(ctx, r)
		require.NoError(t, err)

		assert.Equal(t, []netip.Addr{
			committed.IP,
			released.IP,
			expired.IP,
			offer.IP,
			liveOffer.IP,
		}, existing)
	})

	t.Run("find_expired", func(t *testing.T) {
		s := newStore(t)
		ctx := testutil.ContextWithTimeout(t, Timeout)

		live := NewLease(netip.MustParseAddr("2001:db8:1::a"), "c1", 1, Now.Add(time.Hour))
		old := NewLease(netip.MustParseAddr("2001:db8:1::b"), "c2", 1, Now.Add(-time.Hour))
		static := NewLease(netip.MustParseAddr("2001:db8:1::c"), "c3", 1, Now.Add(-time.Hour))
		static.State = lease.StateStatic
		quarantine := NewLease(netip.MustParseAddr("2001:db8:1::d"), "", 0, Now)
		quarantine.State = lease.StateDeclined
		pd := NewLease(netip.MustParseAddr("2001:db8:100::"), "c4", 1, Now.Add(-time.Hour))
		pd.IAType, pd.PrefixLen = lease.IATypePD, 56

		for _, l := range []*lease.Lease{live, old, static, quarantine, pd} {
			require.NoError(t, s.Insert(ctx, l))
		}

		expired, err := s.FindExpired(ctx, lease.IATypeNA, Now)
		require.NoError(t, err)
		assert.Equal(t, []netip.Addr{old.IP, quarantine.IP}, ips(expired))

		expired, err = s.FindExpired(ctx, lease.IATypePD, Now)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		AssertLeaseEqual(t, pd, expired[0])
	})

	t.Run("delete_outside_ranges", func(t *testing.T) {
		s := newStore(t)
		ctx := testutil.ContextWithTimeout(t, Timeout)

		inside := []netip.Addr{
			netip.MustParseAddr("2001:db8:1::a"),
			netip.MustParseAddr("2001:db8:1::ff"),
			netip.MustParseAddr("192.168.1.10"),
		}
		outside := []netip.Addr{
			netip.MustParseAddr("2001:db8:1::9"),
			netip.MustParseAddr("2001:db8:1::100"),
			netip.MustParseAddr("192.168.2.10"),
		}

		for i, ip := range append(append([]netip.Addr{}, inside...), outside...) {
			require.NoError(t, s.Insert(ctx, NewLease(ip, "c", uint32(i), Now)))
		}

		ranges := []lease.Range{{
			Start: netip.MustParseAddr("2001:db8:1::a"),
			End:   netip.MustParseAddr("2001:db8:1::ff"),
		}, {
			Start: netip.MustParseAddr("192.168.1.1"),
			End:   netip.MustParseAddr("192.168.1.100"),
		}}

		n, err := s.DeleteOutsideRanges(ctx, ranges)
		require.NoError(t, err)
		assert.Equal(t, len(outside), n)

		for _, ip := range inside {
			var l *lease.Lease
			l, err = s.FindByAddress(ctx, ip)
			require.NoError(t, err)
			assert.NotNil(t, l, ip)
		}

		for _, ip := range outside {
			var l *lease.Lease
			l, err = s.FindByAddress(ctx, ip)
			require.NoError(t, err)
			assert.Nil(t, l, ip)
		}
	})
}

// Context returns a context for store tests.
func Context(tb testing.TB) (ctx context.Context) {
	return testutil.ContextWithTimeout(tb, Timeout)
}
