package lease

import (
	"context"
	"net/netip"
	"slices"
	"sync"
	"time"
)

// identityKey is the key of the identity index.
type identityKey struct {
	duid string
	iaid uint32
	typ  IAType
}

// newIdentityKey returns the identity index key of l.
func newIdentityKey(l *Lease) (k identityKey) {
	return identityKey{
		duid: string(l.DUID),
		iaid: l.IAID,
		typ:  l.IAType,
	}
}

// Memory is an in-memory [Store].  It's also used as the index of the
// file-based store.
type Memory struct {
	// mu protects the fields below.
	mu *sync.RWMutex

	// byIP is the primary index.
	byIP map[netip.Addr]*Lease

	// byIdentity maps identity associations to their addresses.
	byIdentity map[identityKey][]netip.Addr
}

// NewMemory returns a new empty in-memory store.
func NewMemory() (s *Memory) {
	return &Memory{
		mu:         &sync.RWMutex{},
		byIP:       map[netip.Addr]*Lease{},
		byIdentity: map[identityKey][]netip.Addr{},
	}
}

// type check
var _ Store = (*Memory)(nil)

// Insert implements the [Store] interface for *Memory.
func (s *Memory) Insert(_ context.Context, l *Lease) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byIP[l.IP]; ok {
		return ErrDuplicate
	}

	s.add(l.Clone())

	return nil
}

// add adds l to the indexes.  s.mu is expected to be locked.
func (s *Memory) add(l *Lease) {
	s.byIP[l.IP] = l

	k := newIdentityKey(l)
	ips := s.byIdentity[k]
	i, _ := slices.BinarySearchFunc(ips, l.IP, netip.Addr.Compare)
	s.byIdentity[k] = slices.Insert(ips, i, l.IP)
}

// remove removes l from the indexes.  s.mu is expected to be locked.
func (s *Memory) remove(l *Lease) {
	delete(s.byIP, l.IP)

	k := newIdentityKey(l)
	ips := slices.DeleteFunc(s.byIdentity[k], func(ip netip.Addr) (ok bool) { return ip == l.IP })
	if len(ips) == 0 {
		delete(s.byIdentity, k)
	} else {
		s.byIdentity[k] = ips
	}
}

// Update implements the [Store] interface for *Memory.
func (s *Memory) Update(_ context.Context, l *Lease) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.byIP[l.IP]
	if !ok {
		return ErrNotFound
	}

	s.remove(prev)
	s.add(l.Clone())

	return nil
}

// Delete implements the [Store] interface for *Memory.
func (s *Memory) Delete(_ context.Context, ip netip.Addr) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.byIP[ip]
	if !ok {
		return ErrNotFound
	}

	s.remove(l)

	return nil
}

// FindByIdentity implements the [Store] interface for *Memory.
func (s *Memory) FindByIdentity(
	_ context.Context,
	duid []byte,
	t IAType,
	iaid uint32,
) (leases []*Lease, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ip := range s.byIdentity[identityKey{duid: string(duid), iaid: iaid, typ: t}] {
		leases = append(leases, s.byIP[ip].Clone())
	}

	return leases, nil
}

// FindByAddress implements the [Store] interface for *Memory.
func (s *Memory) FindByAddress(_ context.Context, ip netip.Addr) (l *Lease, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.byIP[ip].Clone(), nil
}

// FindUnused implements the [Store] interface for *Memory.
func (s *Memory) FindUnused(_ context.Context, r Range, now time.Time) (leases []*Lease, err error) {
	leases = s.filter(func(l *Lease) (ok bool) { return r.Contains(l.IP) && l.IsUnused(now) })
	SortUnused(leases)

	return leases, nil
}

// FindExpired implements the [Store] interface for *Memory.
func (s *Memory) FindExpired(_ context.Context, t IAType, now time.Time) (leases []*Lease, err error) {
	leases = s.filter(func(l *Lease) (ok bool) { return l.IAType == t && IsExpiredAt(l, now) })
	slices.SortFunc(leases, compareByIP)

	return leases, nil
}

// FindExistingIPs implements the [Store] interface for *Memory.
func (s *Memory) FindExistingIPs(_ context.Context, r Range) (ips []netip.Addr, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for ip := range s.byIP {
		if r.Contains(ip) {
			ips = append(ips, ip)
		}
	}

	slices.SortFunc(ips, netip.Addr.Compare)

	return ips, nil
}

// DeleteOutsideRanges implements the [Store] interface for *Memory.
func (s *Memory) DeleteOutsideRanges(_ context.Context, ranges []Range) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.byIP {
		if !WithinAny(l.IP, ranges) {
			s.remove(l)
			n++
		}
	}

	return n, nil
}

// Close implements the [Store] interface for *Memory.
func (s *Memory) Close() (err error) {
	return nil
}

// Replace replaces all stored leases with the clones of leases.  leases must
// not contain duplicate addresses.
func (s *Memory) Replace(leases []*Lease) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.byIP)
	clear(s.byIdentity)

	for _, l := range leases {
		s.add(l.Clone())
	}
}

// All returns clones of all stored leases ordered by address.
func (s *Memory) All() (leases []*Lease) {
	leases = s.filter(func(_ *Lease) (ok bool) { return true })
	slices.SortFunc(leases, compareByIP)

	return leases
}

// filter returns clones of the leases for which f returns true.
func (s *Memory) filter(f func(l *Lease) (ok bool)) (leases []*Lease) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, l := range s.byIP {
		if f(l) {
			leases = append(leases, l.Clone())
		}
	}

	return leases
}
