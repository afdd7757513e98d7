package binding

import (
	"bytes"
	"context"
	"net/netip"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/ippool"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
)

// Allocator is a pool of addresses or delegated prefixes.
type Allocator interface {
	// Allocate stores and returns a lease for a free address of the pool.
	Allocate(ctx context.Context, now time.Time, f ippool.LeaseFunc) (l *lease.Lease, err error)

	// Reserve stores and returns a lease for ip, if it's free.
	Reserve(ctx context.Context, now time.Time, ip netip.Addr, f ippool.LeaseFunc) (l *lease.Lease, err error)

	// Update replaces the lease of ip with the one returned by f.
	Update(ctx context.Context, ip netip.Addr, f ippool.UpdateFunc) (l *lease.Lease, err error)

	// Free deletes the lease of ip and makes it available again.
	Free(ctx context.Context, ip netip.Addr) (err error)

	// FreeIf is like Free but only frees ip if cond returns true for its
	// current lease.
	FreeIf(
		ctx context.Context,
		ip netip.Addr,
		cond func(cur *lease.Lease) (ok bool),
	) (freed bool, err error)

	// Contains returns true if ip is an address of the pool.
	Contains(ip netip.Addr) (ok bool)
}

// type check
var (
	_ Allocator = (*ippool.Pool)(nil)
	_ Allocator = (*ippool.PrefixPool)(nil)
)

// StaticBinding is a pre-provisioned lease of a client.
type StaticBinding struct {
	// ID is the identifier of the client: the DUID for DHCPv6 and the client
	// identifier or the hardware address for DHCPv4.
	ID []byte

	// IP is the reserved address or the address of the reserved prefix.
	IP netip.Addr

	// FQDN is the domain name of the client, if any.
	FQDN string

	// IAID is the identifier of the identity association.  It's zero for
	// DHCPv4.
	IAID uint32

	// PrefixLen is the length of the reserved prefix for IA_PD.
	PrefixLen uint8

	// Type is the type of the identity association.
	Type lease.IAType
}

// matches returns true if sb is the binding of the identity association.
func (sb *StaticBinding) matches(id []byte, t lease.IAType, iaid uint32) (ok bool) {
	return sb.Type == t && sb.IAID == iaid && bytes.Equal(sb.ID, id)
}

// Link is a network link served by the manager.  Its fields must not be
// changed after passing it to the manager.
type Link struct {
	// Policy overrides the policy of the manager for this link, if not nil.
	Policy *Policy

	// Pools are the allocators of the link by the type of identity
	// association.
	Pools map[lease.IAType][]Allocator

	// Name is the name of the link used for logging.
	Name string

	// Static are the static bindings of the link.
	Static []*StaticBinding

	// Subnet is the on-link prefix of the link.  Addresses outside of it are
	// not appropriate for clients on the link.
	Subnet netip.Prefix
}

// static returns the static binding of the identity association, if any.
func (l *Link) static(id []byte, t lease.IAType, iaid uint32) (sb *StaticBinding) {
	for _, sb = range l.Static {
		if sb.matches(id, t, iaid) {
			return sb
		}
	}

	return nil
}

// pool returns the pool of type t containing ip, if any.
func (l *Link) pool(t lease.IAType, ip netip.Addr) (a Allocator) {
	for _, a = range l.Pools[t] {
		if a.Contains(ip) {
			return a
		}
	}

	return nil
}

// owns returns true if le belongs to the link.
func (l *Link) owns(le *lease.Lease) (ok bool) {
	if le.State == lease.StateStatic {
		for _, sb := range l.Static {
			if sb.IP == le.IP {
				return true
			}
		}
	}

	return l.pool(le.IAType, le.IP) != nil
}

// IsOnLink returns true if ip is appropriate for clients of the link.
func (l *Link) IsOnLink(ip netip.Addr) (ok bool) {
	return l.Subnet.Contains(ip)
}

// StaticRanges returns the single-address ranges of the static bindings.
func (l *Link) StaticRanges() (ranges []lease.Range) {
	for _, sb := range l.Static {
		ranges = append(ranges, lease.Range{Start: sb.IP, End: sb.IP})
	}

	return ranges
}
