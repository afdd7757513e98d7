package jsonfile_test

import (
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease/jsonfile"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease/leasetest"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStore returns a new store with the database in a temporary directory.
func newStore(t *testing.T, path string) (s *jsonfile.Store) {
	t.Helper()

	s, err := jsonfile.New(leasetest.Context(t), &jsonfile.Config{
		Logger: slogutil.NewDiscardLogger(),
		Path:   path,
	})
	require.NoError(t, err)

	return s
}

func TestStore(t *testing.T) {
	leasetest.TestStore(t, func(t *testing.T) (s lease.Store) {
		return newStore(t, filepath.Join(t.TempDir(), "leases.json"))
	})
}

func TestStore_persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leases.json")
	ctx := leasetest.Context(t)

	l := leasetest.NewLease(netip.MustParseAddr("2001:db8:1::a"), "client", 1, leasetest.Now)
	static := leasetest.NewLease(netip.MustParseAddr("192.168.1.2"), "client-4", 0, time.Time{})
	static.IAType, static.State = lease.IATypeV4, lease.StateStatic
	static.StartTime, static.PreferredEndTime = time.Time{}, time.Time{}

	s := newStore(t, path)
	require.NoError(t, s.Insert(ctx, l))
	require.NoError(t, s.Insert(ctx, static))
	require.NoError(t, s.Close())

	s = newStore(t, path)

	got, err := s.FindByAddress(ctx, l.IP)
	require.NoError(t, err)
	leasetest.AssertLeaseEqual(t, l, got)

	got, err = s.FindByAddress(ctx, static.IP)
	require.NoError(t, err)
	leasetest.AssertLeaseEqual(t, static, got)

	require.NoError(t, s.Delete(ctx, l.IP))

	s = newStore(t, path)

	got, err = s.FindByAddress(ctx, l.IP)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_writeError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "leases.json")
	ctx := leasetest.Context(t)
	s := newStore(t, path)

	ip := netip.MustParseAddr("2001:db8:1::a")
	l := leasetest.NewLease(ip, "client", 1, leasetest.Now)

	err := s.Insert(ctx, l)
	require.Error(t, err)

	got, err := s.FindByAddress(ctx, ip)
	require.NoError(t, err)

	assert.Nil(t, got)

	leases, err := s.FindByIdentity(ctx, l.DUID, l.IAType, l.IAID)
	require.NoError(t, err)

	assert.Empty(t, leases)

	other := leasetest.NewLease(ip, "other", 1, leasetest.Now)
	err = s.Insert(ctx, other)
	require.Error(t, err)

	assert.NotErrorIs(t, err, lease.ErrDuplicate)
}
