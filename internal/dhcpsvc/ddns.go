package dhcpsvc

import (
	"context"
	"log/slog"

	"github.com/AdguardTeam/AdGuardDHCP/internal/binding"
	"github.com/AdguardTeam/AdGuardDHCP/internal/ddns"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
)

// processor contains the entities shared by the processors of both address
// families.
type processor struct {
	logger   *slog.Logger
	bindings *binding.Manager
	metrics  Metrics
	ddns     DDNS
	domain   string
	family   string

	rapidCommit bool
}

// newProcessor returns a new processor for family.  conf must be valid.
func newProcessor(conf *Config, family string) (p *processor) {
	return &processor{
		logger:      conf.Logger.With(keyFamily, family),
		bindings:    conf.Bindings,
		metrics:     conf.Metrics,
		ddns:        conf.DDNS,
		domain:      conf.DomainName,
		family:      family,
		rapidCommit: conf.RapidCommit,
	}
}

// fqdnFlags contains the values of the Client FQDN option flags.
type fqdnFlags struct {
	s uint8
	o uint8
	n uint8
}

// replyFlags returns the flags of the Client FQDN option of a reply to a
// client that sent the ones in req.  The server performs the updates whenever
// they are enabled and the name is known.
func (p *processor) replyFlags(req uint8, f fqdnFlags, fqdn string) (flags uint8) {
	switch {
	case p.ddns == nil, fqdn == "":
		return f.n
	case req&f.s == 0:
		return f.s | f.o
	default:
		return f.s
	}
}

// idType returns the type of the identifier used in the DHCID record of a
// lease of type t.
func idType(t lease.IAType) (it ddns.IDType) {
	if t == lease.IATypeV4 {
		return ddns.IDTypeClientID
	}

	return ddns.IDTypeDUID
}

// updateDNS submits the updates for the named addresses of ia.  The records
// are deleted if del is true.
func (p *processor) updateDNS(ctx context.Context, ia *lease.IdentityAssoc, del bool) {
	if p.ddns == nil || ia == nil || ia.Type == lease.IATypePD {
		return
	}

	for _, a := range ia.Addresses {
		if a.FQDN == "" {
			continue
		}

		p.ddns.Submit(ctx, &ddns.Job{
			Update: &ddns.Update{
				FQDN:   a.FQDN,
				ID:     ia.DUID,
				IP:     a.IP,
				IDType: idType(ia.Type),
			},
			Callbacks: p.callbacks(ctx),
			Delete:    del,
		})
	}
}

// onExpired is the callback for the leases moved out by the expiry reaper.
func (p *processor) onExpired(ctx context.Context, l *lease.Lease) {
	p.metrics.AddExpired(ctx, 1)
	p.updateDNS(ctx, lease.FromLeases([]*lease.Lease{l}), true)
}

// callbacks returns the callbacks recording the results of the updates.
func (p *processor) callbacks(ctx context.Context) (cb *ddns.Callbacks) {
	record := func(op string) (f func(ok bool)) {
		return func(ok bool) {
			p.metrics.IncrementDDNS(ctx, op, ok)
		}
	}

	return &ddns.Callbacks{
		FwdAddComplete:    record("fwd_add"),
		FwdDeleteComplete: record("fwd_delete"),
		RevAddComplete:    record("rev_add"),
		RevDeleteComplete: record("rev_delete"),
	}
}

// recordResults records the statuses of the processed identity associations.
func (p *processor) recordResults(ctx context.Context, results []*iaResult) {
	for _, r := range results {
		p.metrics.IncrementStatus(ctx, p.family, r.res.Status.String())
	}
}

// iaResult is a processed identity association.
type iaResult struct {
	req *binding.Request
	res *binding.Result
}

// bindFunc is a binding operation of [binding.Manager].
type bindFunc func(ctx context.Context, link *binding.Link, req *binding.Request) (res *binding.Result, err error)
