// Package ippool contains the address and prefix pool allocators.
package ippool

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
	"github.com/AdguardTeam/golibs/errors"
)

const (
	// ErrExhausted is returned when a pool has no free addresses.
	ErrExhausted errors.Error = "pool exhausted"

	// ErrUnavailable is returned when a particular address can't be taken
	// from a pool.
	ErrUnavailable errors.Error = "address unavailable"
)

// LeaseFunc returns a new lease for ip.  It must not return nil.
type LeaseFunc func(ip netip.Addr) (l *lease.Lease)

// slots is the numbered set of allocatable addresses of a pool.
type slots interface {
	// addr returns the address of slot off.
	addr(off uint64) (ip netip.Addr)

	// offset returns the slot of ip, if any.
	offset(ip netip.Addr) (off uint64, ok bool)

	// size returns the number of slots.
	size() (n uint64)
}

// Config is the configuration of an address pool.
type Config struct {
	// Logger is used for logging the operation of the pool.  It must not be
	// nil.
	Logger *slog.Logger

	// Store is the lease storage.  It must not be nil.
	Store lease.Store

	// Range is the range of addresses of the pool.
	Range lease.Range

	// Exclusions are the subranges never given out.
	Exclusions []lease.Range

	// Reserved are the addresses of static bindings within the range.  They
	// are never given out dynamically.
	Reserved []netip.Addr
}

// Pool is an allocator of addresses within a range.  All allocation state of a
// pool is serialized with its own lock, and the lease store guards the
// uniqueness of addresses across processes.
type Pool struct {
	// mu serializes allocation.
	mu *sync.Mutex

	logger *slog.Logger
	store  lease.Store
	slots  slots

	// used is the set of slots known to have a stored lease.  It's nil until
	// loaded from the store.
	used *bitSet

	// reserved is the set of slots never given out dynamically.
	reserved *bitSet

	excluded []ipRange

	leaseRange lease.Range
	prefixLen  uint8
}

// New returns a new address pool.
func New(conf *Config) (p *Pool, err error) {
	r, err := newIPRange(conf.Range.Start, conf.Range.End)
	if err != nil {
		return nil, err
	}

	p = &Pool{
		mu:         &sync.Mutex{},
		logger:     conf.Logger,
		store:      conf.Store,
		slots:      r,
		reserved:   newBitSet(),
		leaseRange: conf.Range,
	}

	var errs []error
	for i, ex := range conf.Exclusions {
		var exr ipRange
		exr, err = newIPRange(ex.Start, ex.End)
		if err != nil {
			errs = append(errs, fmt.Errorf("exclusion at index %d: %w", i, err))
		} else if !r.contains(exr.start) || !r.contains(exr.end) {
			errs = append(errs, fmt.Errorf("exclusion at index %d: %s is not within %s", i, exr, r))
		} else {
			p.excluded = append(p.excluded, exr)
		}
	}

	for _, ip := range conf.Reserved {
		off, ok := r.offset(ip)
		if ok {
			p.reserved.set(off, true)
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// Range returns the range of addresses of p.  For prefix pools, it's the
// range of the first addresses of the delegated prefixes.
func (p *Pool) Range() (r lease.Range) {
	return p.leaseRange
}

// PrefixLen returns the length of the delegated prefixes or zero for address
// pools.
func (p *Pool) PrefixLen() (n uint8) {
	return p.prefixLen
}

// Contains returns true if ip is an address of p, including excluded and
// reserved ones.  For prefix pools, ip must be the first address of a
// delegated prefix.
func (p *Pool) Contains(ip netip.Addr) (ok bool) {
	_, ok = p.slots.offset(ip)

	return ok
}

// String implements the [fmt.Stringer] interface for *Pool.
func (p *Pool) String() (s string) {
	if p.prefixLen != 0 {
		return fmt.Sprintf("%s/%d", p.leaseRange, p.prefixLen)
	}

	return p.leaseRange.String()
}

// exclusion returns the exclusion containing ip, if any.
func (p *Pool) exclusion(ip netip.Addr) (r ipRange, ok bool) {
	for _, r = range p.excluded {
		if r.contains(ip) {
			return r, true
		}
	}

	return ipRange{}, false
}

// load fills the set of used slots from the store, if needed.  p.mu must be
// locked.
func (p *Pool) load(ctx context.Context) (err error) {
	if p.used != nil {
		return nil
	}

	ips, err := p.store.FindExistingIPs(ctx, p.leaseRange)
	if err != nil {
		return fmt.Errorf("loading used addresses: %w", err)
	}

	used := newBitSet()
	for _, ip := range ips {
		off, ok := p.slots.offset(ip)
		if ok {
			used.set(off, true)
		}
	}

	p.used = used
	p.logger.DebugContext(ctx, "loaded pool", "pool", p, "used", used.count())

	return nil
}

// Allocate stores a lease built by newLease for a free address of p and
// returns it.  Addresses of unused leases are reclaimed first, the oldest
// first, and only then the lowest address without a lease is taken.  It
// returns [ErrExhausted] if there are no free addresses.
func (p *Pool) Allocate(ctx context.Context, now time.Time, newLease LeaseFunc) (l *lease.Lease, err error) {
	defer func() { err = errors.Annotate(err, "allocating from %s: %w", p) }()

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.load(ctx)
	if err != nil {
		return nil, err
	}

	l, err = p.reclaim(ctx, now, newLease)
	if l != nil || err != nil {
		return l, err
	}

	return p.scan(ctx, newLease)
}

// reclaim replaces the oldest unused lease with a new one.  l is nil if there
// are no unused leases.  p.mu must be locked.
func (p *Pool) reclaim(ctx context.Context, now time.Time, newLease LeaseFunc) (l *lease.Lease, err error) {
	unused, err := p.store.FindUnused(ctx, p.leaseRange, now)
	if err != nil {
		return nil, fmt.Errorf("finding unused: %w", err)
	}

	for _, u := range unused {
		if !p.isDynamic(u.IP) {
			continue
		}

		l = newLease(u.IP)
		err = p.store.Update(ctx, l)
		if errors.Is(err, lease.ErrNotFound) {
			// Removed concurrently by another process.
			continue
		} else if err != nil {
			return nil, fmt.Errorf("reclaiming %s: %w", u.IP, err)
		}

		p.logger.DebugContext(ctx, "reclaimed", "ip", u.IP, "prev_state", u.State)

		return l, nil
	}

	return nil, nil
}

// isDynamic returns true if ip may be given out dynamically.
func (p *Pool) isDynamic(ip netip.Addr) (ok bool) {
	off, ok := p.slots.offset(ip)
	if !ok || p.reserved.isSet(off) {
		return false
	}

	_, excluded := p.exclusion(ip)

	return !excluded
}

// scan stores a new lease for the lowest address without a lease.  p.mu must
// be locked.
func (p *Pool) scan(ctx context.Context, newLease LeaseFunc) (l *lease.Lease, err error) {
	size := p.slots.size()
	for off := uint64(0); off < size; off++ {
		var ok bool
		off, ok = p.used.nextClear(off, size)
		if !ok {
			break
		}

		ip := p.slots.addr(off)
		if ex, isEx := p.exclusion(ip); isEx {
			off, _ = p.slots.offset(ex.end)

			continue
		} else if p.reserved.isSet(off) {
			continue
		}

		l = newLease(ip)
		err = p.store.Insert(ctx, l)
		if errors.Is(err, lease.ErrDuplicate) {
			p.used.set(off, true)

			continue
		} else if err != nil {
			return nil, fmt.Errorf("inserting %s: %w", ip, err)
		}

		p.used.set(off, true)

		return l, nil
	}

	return nil, ErrExhausted
}

// Reserve stores a lease built by newLease for ip, if ip is a free dynamic
// address of p or its lease is unused at now.  Otherwise, it returns
// [ErrUnavailable].
func (p *Pool) Reserve(
	ctx context.Context,
	now time.Time,
	ip netip.Addr,
	newLease LeaseFunc,
) (l *lease.Lease, err error) {
	defer func() { err = errors.Annotate(err, "reserving %s: %w", ip) }()

	if !p.isDynamic(ip) {
		return nil, ErrUnavailable
	}

	return p.update(ctx, ip, func(cur *lease.Lease) (next *lease.Lease) {
		if cur == nil || cur.IsUnused(now) {
			return newLease(ip)
		}

		return nil
	})
}

// UpdateFunc returns the new lease for an address given its current lease,
// which is nil if there is none.  It returns nil to leave the lease intact.
type UpdateFunc func(cur *lease.Lease) (next *lease.Lease)

// Update stores the lease returned by f for ip, which must be an address of p.
// It returns [ErrUnavailable] if f returns nil.  The calls of f for the
// addresses of p are serialized with allocations.
func (p *Pool) Update(ctx context.Context, ip netip.Addr, f UpdateFunc) (l *lease.Lease, err error) {
	defer func() { err = errors.Annotate(err, "updating %s: %w", ip) }()

	return p.update(ctx, ip, f)
}

// update is the common implementation of [Pool.Update] and [Pool.Reserve].
func (p *Pool) update(ctx context.Context, ip netip.Addr, f UpdateFunc) (l *lease.Lease, err error) {
	off, ok := p.slots.offset(ip)
	if !ok {
		return nil, ErrUnavailable
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.load(ctx)
	if err != nil {
		return nil, err
	}

	cur, err := p.store.FindByAddress(ctx, ip)
	if err != nil {
		return nil, fmt.Errorf("finding lease: %w", err)
	}

	l = f(cur)
	switch {
	case l == nil:
		return nil, ErrUnavailable
	case cur == nil:
		err = p.store.Insert(ctx, l)
		if errors.Is(err, lease.ErrDuplicate) {
			p.used.set(off, true)

			return nil, ErrUnavailable
		}
	default:
		err = p.store.Update(ctx, l)
	}

	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	p.used.set(off, true)

	return l, nil
}

// Free deletes the lease of ip, if any, and makes the address available for
// allocation.
func (p *Pool) Free(ctx context.Context, ip netip.Addr) (err error) {
	_, err = p.FreeIf(ctx, ip, func(_ *lease.Lease) (ok bool) { return true })

	return err
}

// FreeIf is like [Pool.Free] but only deletes the current lease of ip if cond
// returns true for it.  cur is nil if there is no lease.  The calls of cond
// are serialized with allocations and updates.
func (p *Pool) FreeIf(
	ctx context.Context,
	ip netip.Addr,
	cond func(cur *lease.Lease) (ok bool),
) (freed bool, err error) {
	off, ok := p.slots.offset(ip)
	if !ok {
		return false, fmt.Errorf("freeing %s: %w", ip, ErrUnavailable)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cur, err := p.store.FindByAddress(ctx, ip)
	if err != nil {
		return false, fmt.Errorf("freeing %s: finding lease: %w", ip, err)
	}

	if !cond(cur) {
		return false, nil
	}

	err = p.store.Delete(ctx, ip)
	if err != nil && !errors.Is(err, lease.ErrNotFound) {
		return false, fmt.Errorf("freeing %s: %w", ip, err)
	}

	p.used.set(off, false)

	return true, nil
}

// reset drops the set of used slots, so that it's reloaded from the store on
// the next allocation.
func (p *Pool) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.used = nil
}

// PrefixConfig is the configuration of a prefix delegation pool.
type PrefixConfig struct {
	// Logger is used for logging the operation of the pool.  It must not be
	// nil.
	Logger *slog.Logger

	// Store is the lease storage.  It must not be nil.
	Store lease.Store

	// Prefix is the parent prefix.
	Prefix netip.Prefix

	// DelegatedLen is the length of the delegated prefixes.
	DelegatedLen int
}

// PrefixPool is an allocator of delegated prefixes of a fixed length within a
// parent prefix.  Leases of delegated prefixes are keyed by their first
// addresses.
type PrefixPool struct {
	*Pool
}

// NewPrefixPool returns a new prefix delegation pool.
func NewPrefixPool(conf *PrefixConfig) (p *PrefixPool, err error) {
	r, err := newPrefixRange(conf.Prefix, conf.DelegatedLen)
	if err != nil {
		return nil, err
	}

	return &PrefixPool{
		Pool: &Pool{
			mu:       &sync.Mutex{},
			logger:   conf.Logger,
			store:    conf.Store,
			slots:    r,
			reserved: newBitSet(),
			leaseRange: lease.Range{
				Start: r.addr(0),
				End:   r.addr(r.size() - 1),
			},
			prefixLen: uint8(conf.DelegatedLen),
		},
	}, nil
}

// Allocate is like [Pool.Allocate] but the returned lease always has the
// prefix length of p.
func (p *PrefixPool) Allocate(
	ctx context.Context,
	now time.Time,
	newLease LeaseFunc,
) (l *lease.Lease, err error) {
	return p.Pool.Allocate(ctx, now, p.withPrefixLen(newLease))
}

// Reserve is like [Pool.Reserve] but the returned lease always has the prefix
// length of p.
func (p *PrefixPool) Reserve(
	ctx context.Context,
	now time.Time,
	ip netip.Addr,
	newLease LeaseFunc,
) (l *lease.Lease, err error) {
	return p.Pool.Reserve(ctx, now, ip, p.withPrefixLen(newLease))
}

// withPrefixLen wraps f to set the prefix length of p.
func (p *PrefixPool) withPrefixLen(f LeaseFunc) (wrapped LeaseFunc) {
	return func(ip netip.Addr) (l *lease.Lease) {
		l = f(ip)
		l.PrefixLen = p.prefixLen

		return l
	}
}

// Reconcile deletes the stored leases outside of the ranges of pools and
// extra, for example after reloading configuration, and makes the pools reload
// their state.  It returns the number of deleted leases.
func Reconcile(
	ctx context.Context,
	logger *slog.Logger,
	s lease.Store,
	pools []*Pool,
	extra []lease.Range,
) (n int, err error) {
	ranges := make([]lease.Range, 0, len(pools)+len(extra))
	for _, p := range pools {
		ranges = append(ranges, p.leaseRange)
	}

	ranges = append(ranges, extra...)

	n, err = s.DeleteOutsideRanges(ctx, ranges)
	if err != nil {
		return 0, fmt.Errorf("reconciling leases: %w", err)
	}

	for _, p := range pools {
		p.reset()
	}

	if n > 0 {
		logger.InfoContext(ctx, "deleted leases outside of pools", "num", n)
	} else {
		logger.DebugContext(ctx, "no leases outside of pools")
	}

	return n, nil
}
