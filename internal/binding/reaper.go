package binding

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/ippool"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// reapedTypes are the types of identity associations checked by the reaper.
var reapedTypes = []lease.IAType{
	lease.IATypeNA,
	lease.IATypeTA,
	lease.IATypePD,
	lease.IATypeV4,
}

// ReapExpired moves the leases which lifetimes have ended into the expired
// state or deletes them, according to [Policy.DeleteOldBindings].  Declined
// placeholders are always deleted when their quarantine ends.  It returns the
// committed leases that have expired.
func (m *Manager) ReapExpired(ctx context.Context) (expired []*lease.Lease, err error) {
	now := m.clock.Now()

	var errs []error
	for _, t := range reapedTypes {
		var found []*lease.Lease
		found, err = m.store.FindExpired(ctx, t, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("finding expired %s: %w", t, err))

			continue
		}

		for _, l := range found {
			var reaped *lease.Lease
			reaped, err = m.reap(ctx, l, now)
			if err != nil {
				errs = append(errs, fmt.Errorf("reaping %s: %w", l.IP, err))
			} else if reaped != nil && reaped.State == lease.StateCommitted {
				expired = append(expired, reaped)
			}
		}
	}

	if len(expired) > 0 {
		m.logger.InfoContext(ctx, "leases expired", "num", len(expired))
	}

	return expired, errors.Join(errs...)
}

// reap expires or deletes the lease of l.IP if it's still expired at now.
// reaped is the lease as it was before the change, or nil if the lease has
// been renewed or removed meanwhile.
func (m *Manager) reap(ctx context.Context, l *lease.Lease, now time.Time) (reaped *lease.Lease, err error) {
	link, a := m.locate(l)
	del := l.IsQuarantined() || m.PolicyFor(link).DeleteOldBindings

	if a == nil {
		return m.reapUnpooled(ctx, l.IP, now, del)
	}

	if del {
		_, err = a.FreeIf(ctx, l.IP, func(cur *lease.Lease) (ok bool) {
			if cur == nil || !lease.IsExpiredAt(cur, now) {
				return false
			}

			reaped = cur

			return true
		})

		return reaped, err
	}

	_, err = a.Update(ctx, l.IP, func(cur *lease.Lease) (next *lease.Lease) {
		if cur == nil || !lease.IsExpiredAt(cur, now) {
			return nil
		}

		reaped = cur
		next = cur.Clone()
		next.State = lease.StateExpired

		return next
	})
	if errors.Is(err, ippool.ErrUnavailable) {
		// Renewed meanwhile.
		return nil, nil
	}

	return reaped, err
}

// reapUnpooled is like [Manager.reap] for the leases outside of any pool, for
// example the ones left after a configuration change.
func (m *Manager) reapUnpooled(
	ctx context.Context,
	ip netip.Addr,
	now time.Time,
	del bool,
) (reaped *lease.Lease, err error) {
	cur, err := m.store.FindByAddress(ctx, ip)
	if err != nil {
		return nil, fmt.Errorf("finding lease: %w", err)
	} else if cur == nil || !lease.IsExpiredAt(cur, now) {
		return nil, nil
	}

	if del {
		err = m.store.Delete(ctx, ip)
		if errors.Is(err, lease.ErrNotFound) {
			return nil, nil
		}
	} else {
		next := cur.Clone()
		next.State = lease.StateExpired
		err = m.store.Update(ctx, next)
	}

	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	return cur, nil
}

// locate returns the link and the pool of l, if any.
func (m *Manager) locate(l *lease.Lease) (link *Link, a Allocator) {
	for _, link = range m.links {
		if a = link.pool(l.IAType, l.IP); a != nil {
			return link, a
		}
	}

	return nil, nil
}

// RunReaper calls [Manager.ReapExpired] every [Policy.ReaperPeriod] until ctx
// is canceled.  onExpired, if not nil, is called with the expired leases.  It
// is intended to be used as a goroutine.
func (m *Manager) RunReaper(ctx context.Context, onExpired func(ctx context.Context, l *lease.Lease)) {
	defer slogutil.RecoverAndLog(ctx, m.logger)

	ticker := time.NewTicker(m.policy.ReaperPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := m.ReapExpired(ctx)
			if err != nil {
				m.logger.ErrorContext(ctx, "reaping expired leases", slogutil.KeyError, err)
			}

			for _, l := range expired {
				if onExpired != nil {
					onExpired(ctx, l)
				}
			}
		}
	}
}
