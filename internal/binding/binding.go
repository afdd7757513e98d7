// Package binding contains the manager of client bindings: the state machine
// driving leases from offer to commit, renewal, release, decline, and expiry.
package binding

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/ippool"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
)

// Status is the outcome of an operation on an identity association.
type Status uint8

// Status values.
const (
	StatusSuccess Status = iota
	StatusNoAddrsAvail
	StatusNoBinding
	StatusNotOnLink
	StatusNoPrefixAvail

	// StatusAddrInUse means that the requested address is leased to another
	// client.
	StatusAddrInUse
)

// String implements the [fmt.Stringer] interface for Status.
func (s Status) String() (str string) {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNoAddrsAvail:
		return "no_addrs_avail"
	case StatusNoBinding:
		return "no_binding"
	case StatusNotOnLink:
		return "not_on_link"
	case StatusNoPrefixAvail:
		return "no_prefix_avail"
	case StatusAddrInUse:
		return "addr_in_use"
	default:
		return fmt.Sprintf("!bad_status_%d", s)
	}
}

// Request is an identity association of a client message.
type Request struct {
	// DUID is the identifier of the client.  For DHCPv4, it's the client
	// identifier or the hardware address.
	DUID []byte

	// FQDN is the domain name to register for the client, if any.
	FQDN string

	// Hints are the addresses or prefixes listed by the client.  Addresses
	// are single-address prefixes.
	Hints []netip.Prefix

	// IAID is the identifier of the identity association.  It's zero for
	// DHCPv4.
	IAID uint32

	// Type is the type of the identity association.
	Type lease.IAType
}

// String implements the [fmt.Stringer] interface for *Request.
func (r *Request) String() (s string) {
	return fmt.Sprintf("%s duid=%x iaid=%d", r.Type, r.DUID, r.IAID)
}

// Address is an address or a delegated prefix to send to the client.
type Address struct {
	// Prefix is the address as a single-address prefix or the delegated
	// prefix.
	Prefix netip.Prefix

	// Preferred is the preferred lifetime.
	Preferred time.Duration

	// Valid is the valid lifetime.
	Valid time.Duration
}

// Result is the outcome of an operation on an identity association.
type Result struct {
	// IA is the binding affected by the operation.  It's nil if no stored
	// leases were affected.
	IA *lease.IdentityAssoc

	// Addresses are the addresses to send to the client, including the ones
	// with zero lifetimes.
	Addresses []*Address

	// T1 is the time after which the client should renew.
	T1 time.Duration

	// T2 is the time after which the client should rebind.
	T2 time.Duration

	// Status is the status of the operation.
	Status Status

	// Drop is true if the message should not be answered at all.
	Drop bool
}

// Config is the configuration of a binding manager.
type Config struct {
	// Logger is used for logging the operation of the manager.  It must not
	// be nil.
	Logger *slog.Logger

	// Store is the lease storage.  It must not be nil.
	Store lease.Store

	// Clock is used to get the current time.  It must not be nil.
	Clock timeutil.Clock

	// Policy is the default policy.  It must be valid.
	Policy *Policy

	// Links are the links served by the manager.
	Links []*Link
}

// lockStripes is the number of locks serializing the operations on identity
// associations.
const lockStripes = 64

// Manager drives the bindings of clients.  The operations on the same
// identity association are serialized, the allocations within a pool are
// serialized by the pool.
type Manager struct {
	logger *slog.Logger
	store  lease.Store
	clock  timeutil.Clock
	policy *Policy
	links  []*Link
	locks  []sync.Mutex
}

// New returns a new binding manager.
func New(conf *Config) (m *Manager) {
	return &Manager{
		logger: conf.Logger,
		store:  conf.Store,
		clock:  conf.Clock,
		policy: conf.Policy,
		links:  conf.Links,
		locks:  make([]sync.Mutex, lockStripes),
	}
}

// lock locks the identity association of req and returns the unlocking
// function.
func (m *Manager) lock(req *Request) (unlock func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte{byte(req.Type)})
	_, _ = h.Write(binary.BigEndian.AppendUint32(nil, req.IAID))
	_, _ = h.Write(req.DUID)

	mu := &m.locks[h.Sum32()%lockStripes]
	mu.Lock()

	return mu.Unlock
}

// PolicyFor returns the effective policy of link.
func (m *Manager) PolicyFor(link *Link) (p *Policy) {
	if link != nil && link.Policy != nil {
		return link.Policy
	}

	return m.policy
}

// lifetimes returns the preferred and valid lifetimes of a committed lease of
// type t.
func (p *Policy) lifetimes(t lease.IAType) (preferred, valid time.Duration) {
	switch t {
	case lease.IATypePD:
		return p.PDPreferredLifetime, p.PDValidLifetime
	case lease.IATypeV4:
		return p.V4LeaseTime, p.V4LeaseTime
	default:
		return p.PreferredLifetime, p.ValidLifetime
	}
}

// setTimes sets the state and the times of l for the state starting at now.
func (p *Policy) setTimes(l *lease.Lease, st lease.State, now time.Time) {
	l.State = st
	l.StartTime = now

	switch st {
	case lease.StateAdvertised:
		l.PreferredEndTime = now.Add(p.OfferExpiration)
		l.ValidEndTime = l.PreferredEndTime
	case lease.StateCommitted, lease.StateStatic:
		preferred, valid := p.lifetimes(l.IAType)
		l.PreferredEndTime = now.Add(preferred)
		l.ValidEndTime = now.Add(valid)
	default:
		l.PreferredEndTime = now
		l.ValidEndTime = now
	}
}

// owned returns the stored leases of the identity association of req which
// belong to link.
func (m *Manager) owned(ctx context.Context, link *Link, req *Request) (leases []*lease.Lease, err error) {
	all, err := m.store.FindByIdentity(ctx, req.DUID, req.Type, req.IAID)
	if err != nil {
		return nil, fmt.Errorf("finding binding: %w", err)
	}

	return slices.DeleteFunc(all, func(l *lease.Lease) (ok bool) {
		return !link.owns(l)
	}), nil
}

// isBound returns true if l is a current binding: a committed lease within
// its valid lifetime or a static one.
func isBound(l *lease.Lease, now time.Time) (ok bool) {
	switch l.State {
	case lease.StateStatic:
		return true
	case lease.StateCommitted:
		return now.Before(l.ValidEndTime)
	default:
		return false
	}
}

// newLeaseFunc returns a function creating leases for req in state st.
func newLeaseFunc(req *Request, p *Policy, st lease.State, now time.Time) (f ippool.LeaseFunc) {
	return func(ip netip.Addr) (l *lease.Lease) {
		l = &lease.Lease{
			IP:     ip,
			DUID:   slices.Clone(req.DUID),
			FQDN:   req.FQDN,
			IAID:   req.IAID,
			IAType: req.Type,
		}

		p.setTimes(l, st, now)

		return l
	}
}

// transition moves the owned lease l of req into state st under the lock of
// its pool.  It returns nil if l has been taken by another client meanwhile.
func (m *Manager) transition(
	ctx context.Context,
	link *Link,
	req *Request,
	l *lease.Lease,
	st lease.State,
	now time.Time,
) (next *lease.Lease, err error) {
	pol := m.PolicyFor(link)
	a := link.pool(l.IAType, l.IP)
	if a == nil {
		// Leases outside of pools are static ones.
		next = l.Clone()
		pol.setTimes(next, st, now)

		err = m.store.Update(ctx, next)
		if err != nil {
			return nil, err
		}

		return next, nil
	}

	next, err = a.Update(ctx, l.IP, func(cur *lease.Lease) (n *lease.Lease) {
		if cur == nil || !cur.BelongsTo(req.DUID, req.Type, req.IAID) {
			return nil
		}

		n = cur.Clone()
		if req.FQDN != "" {
			n.FQDN = req.FQDN
		}

		pol.setTimes(n, st, now)

		return n
	})
	if errors.Is(err, ippool.ErrUnavailable) {
		m.logger.DebugContext(ctx, "lease taken meanwhile", "ip", l.IP, "req", req)

		return nil, nil
	}

	return next, err
}

// ensureStatic stores the static lease of sb and returns it.
func (m *Manager) ensureStatic(
	ctx context.Context,
	link *Link,
	sb *StaticBinding,
	req *Request,
	now time.Time,
) (l *lease.Lease, err error) {
	l = &lease.Lease{
		IP:        sb.IP,
		DUID:      slices.Clone(sb.ID),
		FQDN:      sb.FQDN,
		IAID:      sb.IAID,
		PrefixLen: sb.PrefixLen,
		IAType:    sb.Type,
	}

	if l.FQDN == "" {
		l.FQDN = req.FQDN
	}

	m.PolicyFor(link).setTimes(l, lease.StateStatic, now)

	cur, err := m.store.FindByAddress(ctx, sb.IP)
	if err != nil {
		return nil, fmt.Errorf("finding static lease: %w", err)
	}

	if cur == nil {
		err = m.store.Insert(ctx, l)
		if err == nil {
			return l, nil
		} else if !errors.Is(err, lease.ErrDuplicate) {
			return nil, err
		}
	}

	err = m.store.Update(ctx, l)
	if err != nil {
		return nil, err
	}

	return l, nil
}

// result returns the result with the leases and the zero-lifetime addresses.
func (m *Manager) result(
	link *Link,
	leases []*lease.Lease,
	zero []netip.Prefix,
	st Status,
	now time.Time,
) (res *Result) {
	pol := m.PolicyFor(link)
	res = &Result{
		Status: st,
	}

	if len(leases) > 0 {
		res.IA = lease.FromLeases(leases)
	}

	var minPreferred time.Duration
	for _, l := range leases {
		addr := &Address{Prefix: l.Prefix()}
		switch l.State {
		case lease.StateAdvertised:
			addr.Preferred, addr.Valid = pol.lifetimes(l.IAType)
		case lease.StateCommitted, lease.StateStatic:
			addr.Preferred = max(l.PreferredEndTime.Sub(now), 0)
			addr.Valid = max(l.ValidEndTime.Sub(now), 0)
		}

		if addr.Preferred > 0 && (minPreferred == 0 || addr.Preferred < minPreferred) {
			minPreferred = addr.Preferred
		}

		res.Addresses = append(res.Addresses, addr)
	}

	for _, p := range zero {
		res.Addresses = append(res.Addresses, &Address{Prefix: p})
	}

	res.T1, res.T2 = pol.Timers(minPreferred)

	return res
}

// noAddrsStatus returns the status for an exhausted identity association of
// type t.
func noAddrsStatus(t lease.IAType) (st Status) {
	if t == lease.IATypePD {
		return StatusNoPrefixAvail
	}

	return StatusNoAddrsAvail
}

// allocate stores a new lease for req in state st, trying the hints first.
func (m *Manager) allocate(
	ctx context.Context,
	link *Link,
	req *Request,
	st lease.State,
	now time.Time,
) (l *lease.Lease, err error) {
	f := newLeaseFunc(req, m.PolicyFor(link), st, now)

	for _, h := range req.Hints {
		a := link.pool(req.Type, h.Addr())
		if a == nil {
			continue
		}

		l, err = a.Reserve(ctx, now, h.Addr(), f)
		if err == nil {
			return l, nil
		} else if !errors.Is(err, ippool.ErrUnavailable) {
			return nil, err
		}
	}

	for _, a := range link.Pools[req.Type] {
		l, err = a.Allocate(ctx, now, f)
		if err == nil {
			return l, nil
		} else if !errors.Is(err, ippool.ErrExhausted) {
			return nil, err
		}
	}

	return nil, ippool.ErrExhausted
}

// bind finds or creates the binding of req in state st.  A committed binding
// is never moved back to the advertised state.
func (m *Manager) bind(ctx context.Context, link *Link, req *Request, st lease.State) (res *Result, err error) {
	defer func() { err = errors.Annotate(err, "binding %s: %w", req) }()

	unlock := m.lock(req)
	defer unlock()

	now := m.clock.Now()
	if sb := link.static(req.DUID, req.Type, req.IAID); sb != nil {
		var l *lease.Lease
		l, err = m.ensureStatic(ctx, link, sb, req, now)
		if err != nil {
			return nil, err
		}

		return m.result(link, []*lease.Lease{l}, nil, StatusSuccess, now), nil
	}

	owned, err := m.owned(ctx, link, req)
	if err != nil {
		return nil, err
	}

	var bound []*lease.Lease
	for _, l := range owned {
		if l.State == lease.StateDeclined {
			continue
		} else if st == lease.StateAdvertised && isBound(l, now) {
			bound = append(bound, l)

			continue
		}

		var next *lease.Lease
		next, err = m.transition(ctx, link, req, l, st, now)
		if err != nil {
			return nil, err
		} else if next != nil {
			bound = append(bound, next)
		}
	}

	if len(bound) == 0 {
		var l *lease.Lease
		l, err = m.allocate(ctx, link, req, st, now)
		if errors.Is(err, ippool.ErrExhausted) {
			m.logger.InfoContext(ctx, "no addresses available", "link", link.Name, "req", req)

			return m.result(link, nil, nil, noAddrsStatus(req.Type), now), nil
		} else if err != nil {
			return nil, err
		}

		m.logger.DebugContext(ctx, "allocated", "lease", l)
		bound = append(bound, l)
	}

	return m.result(link, bound, nil, StatusSuccess, now), nil
}

// Solicit finds or creates the binding of req in the advertised state, or in
// the committed one, if rapidCommit is true.
func (m *Manager) Solicit(ctx context.Context, link *Link, req *Request, rapidCommit bool) (res *Result, err error) {
	st := lease.StateAdvertised
	if rapidCommit {
		st = lease.StateCommitted
	}

	return m.bind(ctx, link, req, st)
}

// Commit commits the binding of req advertised before or allocates a new one.
// An exhausted pool results in [StatusNoAddrsAvail] or [StatusNoPrefixAvail].
func (m *Manager) Commit(ctx context.Context, link *Link, req *Request) (res *Result, err error) {
	return m.bind(ctx, link, req, lease.StateCommitted)
}

// extend refreshes the current binding of req.  Hints not within the binding
// are returned with zero lifetimes.  res is nil if there is no binding.
func (m *Manager) extend(ctx context.Context, link *Link, req *Request) (res *Result, err error) {
	now := m.clock.Now()
	if sb := link.static(req.DUID, req.Type, req.IAID); sb != nil {
		var l *lease.Lease
		l, err = m.ensureStatic(ctx, link, sb, req, now)
		if err != nil {
			return nil, err
		}

		return m.result(link, []*lease.Lease{l}, unlisted(req.Hints, l), StatusSuccess, now), nil
	}

	owned, err := m.owned(ctx, link, req)
	if err != nil {
		return nil, err
	}

	var bound []*lease.Lease
	for _, l := range owned {
		if !isBound(l, now) {
			continue
		}

		var next *lease.Lease
		next, err = m.transition(ctx, link, req, l, lease.StateCommitted, now)
		if err != nil {
			return nil, err
		} else if next != nil {
			bound = append(bound, next)
		}
	}

	if len(bound) == 0 {
		return nil, nil
	}

	return m.result(link, bound, unlisted(req.Hints, bound...), StatusSuccess, now), nil
}

// unlisted returns the hints which aren't the addresses of leases.
func unlisted(hints []netip.Prefix, leases ...*lease.Lease) (res []netip.Prefix) {
	for _, h := range hints {
		if !slices.ContainsFunc(leases, func(l *lease.Lease) (ok bool) { return l.IP == h.Addr() }) {
			res = append(res, h)
		}
	}

	return res
}

// Renew extends the binding of req.  A missing binding results in
// [StatusNoBinding].
func (m *Manager) Renew(ctx context.Context, link *Link, req *Request) (res *Result, err error) {
	defer func() { err = errors.Annotate(err, "renewing %s: %w", req) }()

	unlock := m.lock(req)
	defer unlock()

	res, err = m.extend(ctx, link, req)
	if err != nil {
		return nil, err
	} else if res == nil {
		return m.result(link, nil, nil, StatusNoBinding, m.clock.Now()), nil
	}

	return res, nil
}

// Rebind extends the binding of req.  For a missing binding, the result
// depends on [Policy.VerifyUnknownRebind]: either the message is dropped, or
// the hints not appropriate for link are returned with zero lifetimes.
func (m *Manager) Rebind(ctx context.Context, link *Link, req *Request) (res *Result, err error) {
	defer func() { err = errors.Annotate(err, "rebinding %s: %w", req) }()

	unlock := m.lock(req)
	defer unlock()

	res, err = m.extend(ctx, link, req)
	if err != nil || res != nil {
		return res, err
	}

	now := m.clock.Now()
	if !m.PolicyFor(link).VerifyUnknownRebind {
		m.logger.DebugContext(ctx, "unknown rebind", "link", link.Name, "req", req)

		return &Result{Drop: true}, nil
	}

	var offLink []netip.Prefix
	for _, h := range req.Hints {
		if !m.isAppropriate(link, req.Type, h.Addr()) {
			offLink = append(offLink, h)
		}
	}

	if len(offLink) == 0 {
		return m.result(link, nil, nil, StatusNoBinding, now), nil
	}

	return m.result(link, nil, offLink, StatusSuccess, now), nil
}

// isAppropriate returns true if ip may be leased to the clients of link.
func (m *Manager) isAppropriate(link *Link, t lease.IAType, ip netip.Addr) (ok bool) {
	if t == lease.IATypePD {
		return link.pool(t, ip) != nil
	}

	return link.IsOnLink(ip)
}

// selectListed returns the leases of owned listed in hints or all of them if
// hints are empty.  Static leases are never selected.
func selectListed(owned []*lease.Lease, hints []netip.Prefix) (selected []*lease.Lease) {
	for _, l := range owned {
		if l.State == lease.StateStatic || l.State == lease.StateDeclined {
			continue
		}

		if len(hints) == 0 || slices.ContainsFunc(hints, func(h netip.Prefix) (ok bool) {
			return h.Addr() == l.IP
		}) {
			selected = append(selected, l)
		}
	}

	return selected
}

// Release releases the listed addresses of the binding of req, or all of
// them, if none are listed.  Released leases are kept as history.  A missing
// binding results in [StatusNoBinding].
func (m *Manager) Release(ctx context.Context, link *Link, req *Request) (res *Result, err error) {
	defer func() { err = errors.Annotate(err, "releasing %s: %w", req) }()

	unlock := m.lock(req)
	defer unlock()

	now := m.clock.Now()
	owned, err := m.owned(ctx, link, req)
	if err != nil {
		return nil, err
	}

	var released []*lease.Lease
	for _, l := range selectListed(owned, req.Hints) {
		if l.State == lease.StateReleased || l.State == lease.StateExpired {
			continue
		}

		var next *lease.Lease
		next, err = m.transition(ctx, link, req, l, lease.StateReleased, now)
		if err != nil {
			return nil, err
		} else if next != nil {
			m.logger.DebugContext(ctx, "released", "lease", next)
			released = append(released, next)
		}
	}

	if len(released) == 0 {
		return m.result(link, nil, nil, StatusNoBinding, now), nil
	}

	res = m.result(link, released, nil, StatusSuccess, now)
	res.Addresses = nil

	return res, nil
}

// Decline removes the listed addresses from the binding of req, or all of
// them, if none are listed.  By default, the leases of declined addresses are
// deleted at once.  A non-zero [Policy.DeclineQuarantine] instead keeps them
// out of allocation for that time as placeholders without an owner.  A missing
// binding results in [StatusNoBinding].
func (m *Manager) Decline(ctx context.Context, link *Link, req *Request) (res *Result, err error) {
	defer func() { err = errors.Annotate(err, "declining %s: %w", req) }()

	unlock := m.lock(req)
	defer unlock()

	now := m.clock.Now()
	owned, err := m.owned(ctx, link, req)
	if err != nil {
		return nil, err
	}

	var declined []*lease.Lease
	for _, l := range selectListed(owned, req.Hints) {
		var ok bool
		ok, err = m.quarantine(ctx, link, req, l, now)
		if err != nil {
			return nil, err
		} else if ok {
			m.logger.InfoContext(ctx, "address declined", "ip", l.IP, "req", req)
			declined = append(declined, l)
		}
	}

	if len(declined) == 0 {
		return m.result(link, nil, nil, StatusNoBinding, now), nil
	}

	res = m.result(link, declined, nil, StatusSuccess, now)
	res.Addresses = nil

	return res, nil
}

// quarantine replaces the owned lease l with a declined placeholder or
// deletes it, if the quarantine is disabled.
func (m *Manager) quarantine(
	ctx context.Context,
	link *Link,
	req *Request,
	l *lease.Lease,
	now time.Time,
) (ok bool, err error) {
	a := link.pool(l.IAType, l.IP)
	if a == nil {
		return false, nil
	}

	q := m.PolicyFor(link).DeclineQuarantine
	if q == 0 {
		return a.FreeIf(ctx, l.IP, func(cur *lease.Lease) (owned bool) {
			return cur != nil && cur.BelongsTo(req.DUID, req.Type, req.IAID)
		})
	}

	_, err = a.Update(ctx, l.IP, func(cur *lease.Lease) (next *lease.Lease) {
		if cur == nil || !cur.BelongsTo(req.DUID, req.Type, req.IAID) {
			return nil
		}

		return &lease.Lease{
			IP:               cur.IP,
			StartTime:        now,
			PreferredEndTime: now.Add(q),
			ValidEndTime:     now.Add(q),
			PrefixLen:        cur.PrefixLen,
			IAType:           cur.IAType,
			State:            lease.StateDeclined,
		}
	})
	if errors.Is(err, ippool.ErrUnavailable) {
		return false, nil
	}

	return err == nil, err
}

// Confirm returns true if all addrs are appropriate for link.  It doesn't
// change any bindings.
func (m *Manager) Confirm(link *Link, addrs []netip.Addr) (onLink bool) {
	for _, ip := range addrs {
		if !link.IsOnLink(ip) {
			return false
		}
	}

	return true
}
