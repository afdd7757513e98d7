package configmgr

import (
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/AdguardTeam/AdGuardDHCP/internal/binding"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp4"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp6"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpsvc"
	"github.com/AdguardTeam/AdGuardDHCP/internal/ippool"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// newLinks returns the served links described by conf along with all their
// pools.  policy is the server-wide policy the policies of the links are based
// on.
func (m *Manager) newLinks(
	conf *config,
	policy *binding.Policy,
) (links []*dhcpsvc.Link, pools []*ippool.Pool, err error) {
	logger := m.baseLogger.With(slogutil.KeyPrefix, "ippool")
	for _, lc := range conf.Links {
		is4 := lc.Subnet.Addr().Is4()
		if (is4 && conf.V4 == nil) || (!is4 && conf.V6 == nil) {
			return nil, nil, fmt.Errorf("link %q: address family of %s is disabled", lc.Name, lc.Subnet)
		}

		var l *dhcpsvc.Link
		var lp []*ippool.Pool
		l, lp, err = newLink(logger, m.store, lc, policy)
		if err != nil {
			return nil, nil, fmt.Errorf("link %q: %w", lc.Name, err)
		}

		links = append(links, l)
		pools = append(pools, lp...)
	}

	return links, pools, nil
}

// newLink returns the link described by c and its pools.  c must be valid.
func newLink(
	logger *slog.Logger,
	store lease.Store,
	c *linkConfig,
	base *binding.Policy,
) (l *dhcpsvc.Link, pools []*ippool.Pool, err error) {
	is4 := c.Subnet.Addr().Is4()
	bl := &binding.Link{
		Pools:  map[lease.IAType][]binding.Allocator{},
		Name:   c.Name,
		Subnet: c.Subnet.Masked(),
	}

	if len(c.Policies) > 0 {
		bl.Policy, err = c.Policies.apply(base)
		if err == nil {
			err = bl.Policy.Validate()
		}

		if err != nil {
			return nil, nil, fmt.Errorf("policies: %w", err)
		}
	}

	var reserved []netip.Addr
	for _, s := range c.Static {
		var sb *binding.StaticBinding
		sb, err = s.binding(is4)
		if err != nil {
			// Shouldn't happen, since the configuration is validated.
			panic(err)
		}

		bl.Static = append(bl.Static, sb)
		reserved = append(reserved, sb.IP)
	}

	for i, pc := range c.Pools {
		var p *ippool.Pool
		p, err = newPool(logger, store, pc, reserved)
		if err != nil {
			return nil, nil, fmt.Errorf("pools: at index %d: %w", i, err)
		}

		t, _ := lease.ParseIAType(pc.Type)
		bl.Pools[t] = append(bl.Pools[t], p)
		pools = append(pools, p)
	}

	for i, pc := range c.PrefixPools {
		var p *ippool.PrefixPool
		p, err = ippool.NewPrefixPool(&ippool.PrefixConfig{
			Logger:       logger,
			Store:        store,
			Prefix:       pc.Prefix,
			DelegatedLen: pc.DelegatedLen,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("prefix_pools: at index %d: %w", i, err)
		}

		bl.Pools[lease.IATypePD] = append(bl.Pools[lease.IATypePD], p)
		pools = append(pools, p.Pool)
	}

	l = &dhcpsvc.Link{
		Link:      bl,
		Interface: c.Interface,
	}

	if is4 {
		l.ServerIP4 = c.ServerIP
		l.Options4, err = parseOptions(dhcpopt.FormatV4, c.Options)
	} else {
		l.Options6, err = parseOptions(dhcpopt.FormatV6, c.Options)
	}

	if err != nil {
		return nil, nil, fmt.Errorf("options: %w", err)
	}

	return l, pools, nil
}

// newPool returns the address pool described by c.  reserved are the
// addresses of the static bindings of the link.
func newPool(
	logger *slog.Logger,
	store lease.Store,
	c *poolConfig,
	reserved []netip.Addr,
) (p *ippool.Pool, err error) {
	excl := make([]lease.Range, 0, len(c.Exclude))
	for _, r := range c.Exclude {
		excl = append(excl, lease.Range{Start: r.Start, End: r.End})
	}

	return ippool.New(&ippool.Config{
		Logger: logger,
		Store:  store,
		Range: lease.Range{
			Start: c.Start,
			End:   c.End,
		},
		Exclusions: excl,
		Reserved:   reserved,
	})
}

// newV6Config returns the DHCPv6 configuration described by conf.
func (m *Manager) newV6Config(conf *config, p dhcpopt.Policy) (c *dhcpsvc.V6Config, err error) {
	duid, err := conf.Server.DUID.duid(m.ifaceByName)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	opts, err := parseOptions(dhcpopt.FormatV6, conf.V6.Options)
	if err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}

	reg := dhcp6.NewRegistry()
	registerDefinitions(reg, familyV6, conf.OptionDefinitions)

	return &dhcpsvc.V6Config{
		Decoder:    dhcp6.NewDecoder(reg, p),
		ServerDUID: duid,
		Options:    opts,
		Interfaces: conf.V6.Interfaces,
	}, nil
}

// newV4Config returns the DHCPv4 configuration described by conf.
func newV4Config(conf *config, p dhcpopt.Policy) (c *dhcpsvc.V4Config, err error) {
	opts, err := parseOptions(dhcpopt.FormatV4, conf.V4.Options)
	if err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}

	reg := dhcp4.NewRegistry()
	registerDefinitions(reg, familyV4, conf.OptionDefinitions)

	return &dhcpsvc.V4Config{
		Decoder:    dhcp4.NewDecoder(reg, p),
		Options:    opts,
		Interfaces: conf.V4.Interfaces,
	}, nil
}
