package lease

import (
	"context"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/errors"
)

const (
	// ErrDuplicate is returned by [Store.Insert] when the address is already
	// leased.
	ErrDuplicate errors.Error = "address already leased"

	// ErrNotFound is returned by [Store.Update] and [Store.Delete] when there
	// is no lease for the address.
	ErrNotFound errors.Error = "lease not found"
)

// Store is the persistent storage of leases keyed by address.  All methods
// must be safe for concurrent use.  Leases passed to and returned from the
// store are never retained or shared by it.
type Store interface {
	// Insert adds a new lease.  It returns [ErrDuplicate] if the address of
	// l is already stored.
	Insert(ctx context.Context, l *Lease) (err error)

	// Update replaces the lease with the address of l.  It returns
	// [ErrNotFound] if there is no such lease.
	Update(ctx context.Context, l *Lease) (err error)

	// Delete removes the lease with the address.  It returns [ErrNotFound] if
	// there is no such lease.
	Delete(ctx context.Context, ip netip.Addr) (err error)

	// FindByIdentity returns the leases of the identity association ordered
	// by address.
	FindByIdentity(ctx context.Context, duid []byte, t IAType, iaid uint32) (leases []*Lease, err error)

	// FindByAddress returns the lease with the address.  l is nil if there is
	// no such lease.
	FindByAddress(ctx context.Context, ip netip.Addr) (l *Lease, err error)

	// FindUnused returns the leases within r which addresses may be given to
	// other clients at now, the oldest first.  See [Lease.IsUnused].
	FindUnused(ctx context.Context, r Range, now time.Time) (leases []*Lease, err error)

	// FindExpired returns the non-static leases of type t which valid
	// lifetime, offer, or quarantine ended at now, ordered by address.
	FindExpired(ctx context.Context, t IAType, now time.Time) (leases []*Lease, err error)

	// FindExistingIPs returns the stored addresses within r in ascending
	// order.
	FindExistingIPs(ctx context.Context, r Range) (ips []netip.Addr, err error)

	// DeleteOutsideRanges removes the leases which addresses aren't within
	// any of ranges and returns the number of removed leases.
	DeleteOutsideRanges(ctx context.Context, ranges []Range) (n int, err error)

	// Close releases the resources of the store.
	Close() (err error)
}

// IsExpiredAt returns true if the lifetime of the non-static lease l has ended
// at now in the sense of [Store.FindExpired].
func IsExpiredAt(l *Lease, now time.Time) (ok bool) {
	switch l.State {
	case StateCommitted, StateAdvertised, StateDeclined:
		return !now.Before(l.ValidEndTime)
	default:
		return false
	}
}

// WithinAny returns true if ip is within any of ranges.
func WithinAny(ip netip.Addr, ranges []Range) (ok bool) {
	for _, r := range ranges {
		if r.Contains(ip) {
			return true
		}
	}

	return false
}
