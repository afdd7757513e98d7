package binding

import (
	"context"
	"net/netip"

	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
	"github.com/AdguardTeam/golibs/errors"
)

// DiscoverV4 finds or creates the DHCPv4 binding of req to offer.  The
// requested address, if any, is the only hint of req.
func (m *Manager) DiscoverV4(ctx context.Context, link *Link, req *Request) (res *Result, err error) {
	return m.bind(ctx, link, req, lease.StateAdvertised)
}

// RequestV4 commits the DHCPv4 binding of req for ip, which is the requested
// address or the client address of a renewing client.  The status of the
// result is:
//
//   - [StatusSuccess], if the address is committed to the client;
//   - [StatusNotOnLink], if the address isn't appropriate for link or the
//     client has a static binding for another address;
//   - [StatusAddrInUse], if the address is leased to another client;
//   - [StatusNoBinding], if there is no record of the address.
func (m *Manager) RequestV4(
	ctx context.Context,
	link *Link,
	req *Request,
	ip netip.Addr,
) (res *Result, err error) {
	defer func() { err = errors.Annotate(err, "requesting %s for %s: %w", ip, req) }()

	unlock := m.lock(req)
	defer unlock()

	now := m.clock.Now()
	if sb := link.static(req.DUID, req.Type, req.IAID); sb != nil {
		if sb.IP != ip {
			return m.result(link, nil, nil, StatusNotOnLink, now), nil
		}

		var l *lease.Lease
		l, err = m.ensureStatic(ctx, link, sb, req, now)
		if err != nil {
			return nil, err
		}

		return m.result(link, []*lease.Lease{l}, nil, StatusSuccess, now), nil
	}

	if !link.IsOnLink(ip) {
		return m.result(link, nil, nil, StatusNotOnLink, now), nil
	}

	cur, err := m.store.FindByAddress(ctx, ip)
	if err != nil {
		return nil, err
	}

	switch {
	case cur == nil:
		return m.result(link, nil, nil, StatusNoBinding, now), nil
	case !cur.BelongsTo(req.DUID, req.Type, req.IAID):
		return m.result(link, nil, nil, StatusAddrInUse, now), nil
	case link.pool(lease.IATypeV4, ip) == nil:
		return m.result(link, nil, nil, StatusNotOnLink, now), nil
	}

	next, err := m.transition(ctx, link, req, cur, lease.StateCommitted, now)
	if err != nil {
		return nil, err
	} else if next == nil {
		return m.result(link, nil, nil, StatusAddrInUse, now), nil
	}

	m.logger.DebugContext(ctx, "committed", "lease", next)

	return m.result(link, []*lease.Lease{next}, nil, StatusSuccess, now), nil
}
