package lease_test

import (
	"net/netip"
	"testing"

	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease/leasetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	leasetest.TestStore(t, func(_ *testing.T) (s lease.Store) {
		return lease.NewMemory()
	})
}

func TestMemory_Replace(t *testing.T) {
	ctx := leasetest.Context(t)
	s := lease.NewMemory()

	old := leasetest.NewLease(netip.MustParseAddr("2001:db8:1::a"), "old", 1, leasetest.Now)
	require.NoError(t, s.Insert(ctx, old))

	l := leasetest.NewLease(netip.MustParseAddr("2001:db8:1::b"), "client", 1, leasetest.Now)
	s.Replace([]*lease.Lease{l})

	got, err := s.FindByAddress(ctx, old.IP)
	require.NoError(t, err)

	assert.Nil(t, got)

	leases, err := s.FindByIdentity(ctx, old.DUID, old.IAType, old.IAID)
	require.NoError(t, err)

	assert.Empty(t, leases)

	leases, err = s.FindByIdentity(ctx, l.DUID, l.IAType, l.IAID)
	require.NoError(t, err)
	require.Len(t, leases, 1)

	leasetest.AssertLeaseEqual(t, l, leases[0])
}
