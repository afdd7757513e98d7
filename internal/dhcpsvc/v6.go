package dhcpsvc

import (
	"bytes"
	"context"
	"net/netip"

	"github.com/AdguardTeam/AdGuardDHCP/internal/binding"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp6"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
	"github.com/AdguardTeam/golibs/errors"
)

// fqdnFlags6 are the flags of the DHCPv6 Client FQDN option.
var fqdnFlags6 = fqdnFlags{
	s: dhcp6.FQDNFlagS,
	o: dhcp6.FQDNFlagO,
	n: dhcp6.FQDNFlagN,
}

// processor6 processes DHCPv6 messages.
type processor6 struct {
	*processor

	links      linkIndex
	serverDUID []byte
	options    dhcpopt.Options
}

// newProcessor6 returns a new DHCPv6 processor.  conf must be valid and
// conf.V6 must not be nil.
func newProcessor6(conf *Config) (p *processor6) {
	return &processor6{
		processor:  newProcessor(conf, familyV6),
		links:      links(conf.Links, false),
		serverDUID: conf.V6.ServerDUID,
		options:    conf.V6.Options,
	}
}

// process processes pkt received on the network interface iface and returns
// the reply.  err is a *dropError if the message must not be answered.
func (p *processor6) process(
	ctx context.Context,
	pkt dhcp6.Packet,
	iface string,
) (reply dhcp6.Packet, err error) {
	msg, relays, err := dhcp6.Unwrap(pkt)
	if err != nil {
		return nil, newQuietDrop(pkt.MessageType(), err)
	}

	link := p.links.select6(relays, iface)
	if link == nil {
		return nil, newDrop(msg.Type, errNoLink)
	}

	err = p.validate(msg)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	resp, err := p.handle(ctx, link, msg)
	if err != nil {
		if errors.Is(err, errSilent) {
			return nil, newQuietDrop(msg.Type, err)
		}

		return nil, err
	}

	return dhcp6.Rewrap(relays, resp), nil
}

// validate checks the identifiers in msg according to its type.
func (p *processor6) validate(msg *dhcp6.Message) (err error) {
	t := msg.Type
	_, hasCID := msg.ClientID()
	sid, hasSID := msg.ServerID()

	switch t {
	case
		dhcp6.MessageTypeSolicit,
		dhcp6.MessageTypeConfirm,
		dhcp6.MessageTypeRebind:
		if !hasCID {
			return newDrop(t, errNoClientID)
		} else if hasSID {
			return newDrop(t, errUnexpectedServerID)
		}
	case
		dhcp6.MessageTypeRequest,
		dhcp6.MessageTypeRenew,
		dhcp6.MessageTypeRelease,
		dhcp6.MessageTypeDecline:
		if !hasCID {
			return newDrop(t, errNoClientID)
		} else if !hasSID {
			return newDrop(t, errNoServerID)
		} else if !bytes.Equal(sid, p.serverDUID) {
			return newQuietDrop(t, errOtherServer)
		}
	case dhcp6.MessageTypeInformationRequest:
		if hasSID && !bytes.Equal(sid, p.serverDUID) {
			return newQuietDrop(t, errOtherServer)
		} else if hasIA(msg.Options) {
			return newDrop(t, errUnexpectedIA)
		}
	default:
		return newQuietDrop(t, errUnsupported)
	}

	return nil
}

// hasIA returns true if opts contain an identity association.
func hasIA(opts dhcpopt.Options) (ok bool) {
	return opts.Has(dhcp6.OptionIANA) || opts.Has(dhcp6.OptionIATA) || opts.Has(dhcp6.OptionIAPD)
}

// handle processes the valid msg received on link.
func (p *processor6) handle(
	ctx context.Context,
	link *Link,
	msg *dhcp6.Message,
) (resp *dhcp6.Message, err error) {
	switch msg.Type {
	case dhcp6.MessageTypeSolicit:
		return p.solicit(ctx, link, msg)
	case dhcp6.MessageTypeRequest:
		return p.bind(ctx, link, msg, p.bindings.Commit, true)
	case dhcp6.MessageTypeRenew:
		return p.bind(ctx, link, msg, p.bindings.Renew, false)
	case dhcp6.MessageTypeRebind:
		return p.bind(ctx, link, msg, p.bindings.Rebind, false)
	case dhcp6.MessageTypeRelease:
		return p.unbind(ctx, link, msg, p.bindings.Release, "released")
	case dhcp6.MessageTypeDecline:
		return p.unbind(ctx, link, msg, p.bindings.Decline, "declined")
	case dhcp6.MessageTypeConfirm:
		return p.confirm(link, msg)
	case dhcp6.MessageTypeInformationRequest:
		resp = p.newReply(msg, dhcp6.MessageTypeReply)
		p.addConfigured(resp, link, msg)

		return resp, nil
	default:
		return nil, newQuietDrop(msg.Type, errUnsupported)
	}
}

// solicit processes the Solicit message.  The addresses are committed at once
// when both the client and the server use the rapid commit.
func (p *processor6) solicit(
	ctx context.Context,
	link *Link,
	msg *dhcp6.Message,
) (resp *dhcp6.Message, err error) {
	rapid := p.rapidCommit && msg.RapidCommit()
	solicit := func(
		ctx context.Context,
		l *binding.Link,
		req *binding.Request,
	) (res *binding.Result, err error) {
		return p.bindings.Solicit(ctx, l, req, rapid)
	}

	fqdn, fqdnOpt := p.clientFQDN(msg)
	results, err := p.processIAs(ctx, link, msg, fqdn, solicit)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	t := dhcp6.MessageTypeAdvertise
	if rapid {
		t = dhcp6.MessageTypeReply
	}

	resp = p.newReply(msg, t)
	if rapid {
		resp.Options.Set(dhcp6.OptionRapidCommit, dhcpopt.Empty{})
	}

	p.addIAs(resp, results, false)
	if len(results) > 0 && !anySucceeded(results) {
		resp.Options.Add(dhcp6.OptionStatusCode, &dhcp6.StatusCode{
			Code:    dhcp6.StatusNoAddrsAvail,
			Message: "no addresses available",
		})
	}

	if fqdnOpt != nil {
		resp.Options.Add(dhcp6.OptionClientFQDN, fqdnOpt)
	}

	p.addConfigured(resp, link, msg)

	if rapid {
		p.updateResults(ctx, results, false)
	}

	return resp, nil
}

// bind processes the messages extending the bindings: Request, Renew, and
// Rebind.  The DNS records of the client are updated if update is true.
func (p *processor6) bind(
	ctx context.Context,
	link *Link,
	msg *dhcp6.Message,
	f bindFunc,
	update bool,
) (resp *dhcp6.Message, err error) {
	fqdn, fqdnOpt := p.clientFQDN(msg)
	results, err := p.processIAs(ctx, link, msg, fqdn, f)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	resp = p.newReply(msg, dhcp6.MessageTypeReply)
	p.addIAs(resp, results, false)
	if fqdnOpt != nil {
		resp.Options.Add(dhcp6.OptionClientFQDN, fqdnOpt)
	}

	p.addConfigured(resp, link, msg)

	if update {
		p.updateResults(ctx, results, false)
	}

	return resp, nil
}

// unbind processes the messages removing the bindings: Release and Decline.
// Only the identity associations without bindings are listed in the reply.
func (p *processor6) unbind(
	ctx context.Context,
	link *Link,
	msg *dhcp6.Message,
	f bindFunc,
	done string,
) (resp *dhcp6.Message, err error) {
	results, err := p.processIAs(ctx, link, msg, "", f)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	resp = p.newReply(msg, dhcp6.MessageTypeReply)
	resp.Options.Add(dhcp6.OptionStatusCode, &dhcp6.StatusCode{
		Code:    dhcp6.StatusSuccess,
		Message: done,
	})

	p.addIAs(resp, results, true)
	p.updateResults(ctx, results, true)

	return resp, nil
}

// confirm processes the Confirm message.
func (p *processor6) confirm(link *Link, msg *dhcp6.Message) (resp *dhcp6.Message, err error) {
	var addrs []netip.Addr
	for _, req := range iaRequests(msg, "") {
		if req.Type == lease.IATypePD {
			continue
		}

		for _, h := range req.Hints {
			addrs = append(addrs, h.Addr())
		}
	}

	if len(addrs) == 0 {
		return nil, newQuietDrop(msg.Type, errNoAddrs)
	}

	st := &dhcp6.StatusCode{
		Code:    dhcp6.StatusSuccess,
		Message: "all addresses on link",
	}
	if !p.bindings.Confirm(link.Link, addrs) {
		st.Code, st.Message = dhcp6.StatusNotOnLink, "addresses not on link"
	}

	resp = p.newReply(msg, dhcp6.MessageTypeReply)
	resp.Options.Add(dhcp6.OptionStatusCode, st)
	p.addConfigured(resp, link, msg)

	return resp, nil
}

// processIAs applies f to each identity association of msg.  Each of them is
// processed independently, but an identity association to drop makes the
// whole message dropped.
func (p *processor6) processIAs(
	ctx context.Context,
	link *Link,
	msg *dhcp6.Message,
	fqdn string,
	f bindFunc,
) (results []*iaResult, err error) {
	for _, req := range iaRequests(msg, fqdn) {
		var res *binding.Result
		res, err = f(ctx, link.Link, req)
		if err != nil {
			// Don't wrap the error since it's informative enough as is.
			return nil, err
		} else if res.Drop {
			return nil, errSilent
		}

		results = append(results, &iaResult{req: req, res: res})
	}

	p.recordResults(ctx, results)

	return results, nil
}

// updateResults updates the DNS records of the successful results.
func (p *processor6) updateResults(ctx context.Context, results []*iaResult, del bool) {
	for _, r := range results {
		if r.res.Status == binding.StatusSuccess {
			p.updateDNS(ctx, r.res.IA, del)
		}
	}
}

// anySucceeded returns true if any of results is successful.
func anySucceeded(results []*iaResult) (ok bool) {
	for _, r := range results {
		if r.res.Status == binding.StatusSuccess && len(r.res.Addresses) > 0 {
			return true
		}
	}

	return false
}

// iaRequests returns the identity associations of msg in the wire order.
func iaRequests(msg *dhcp6.Message, fqdn string) (reqs []*binding.Request) {
	duid, _ := msg.ClientID()
	for _, o := range msg.Options {
		req := &binding.Request{
			DUID: duid,
			FQDN: fqdn,
		}

		switch v := o.Value.(type) {
		case *dhcp6.IANA:
			req.IAID, req.Type, req.Hints = v.IAID, lease.IATypeNA, hints(v.Options)
		case *dhcp6.IATA:
			req.IAID, req.Type, req.Hints = v.IAID, lease.IATypeTA, hints(v.Options)
		case *dhcp6.IAPD:
			req.IAID, req.Type, req.Hints = v.IAID, lease.IATypePD, hints(v.Options)
		default:
			continue
		}

		reqs = append(reqs, req)
	}

	return reqs
}

// hints returns the addresses and prefixes listed in the options of an
// identity association.
func hints(opts dhcpopt.Options) (prefixes []netip.Prefix) {
	for _, o := range opts {
		switch v := o.Value.(type) {
		case *dhcp6.IAAddr:
			prefixes = append(prefixes, netip.PrefixFrom(v.Addr, v.Addr.BitLen()))
		case *dhcp6.IAPrefix:
			if v.Prefix.IsValid() && !v.Prefix.Addr().IsUnspecified() {
				prefixes = append(prefixes, v.Prefix)
			}
		}
	}

	return prefixes
}

// newReply returns a reply of type t to msg with the identifiers set.
func (p *processor6) newReply(msg *dhcp6.Message, t dhcp6.MessageType) (resp *dhcp6.Message) {
	resp = &dhcp6.Message{
		TransactionID: msg.TransactionID,
		Type:          t,
	}

	resp.Options.Set(dhcp6.OptionServerID, dhcpopt.OpaqueHex(p.serverDUID))
	if cid, ok := msg.Options.Get(dhcp6.OptionClientID); ok {
		resp.Options.Set(dhcp6.OptionClientID, cid)
	}

	return resp
}

// addConfigured appends the configured options of link to resp, filtering
// them by the ones requested in msg if the policy requires it.
func (p *processor6) addConfigured(resp *dhcp6.Message, link *Link, msg *dhcp6.Message) {
	pol := p.bindings.PolicyFor(link.Link)
	opts := selectOptions(
		mergeOptions(p.options, link.Options6),
		pol.SendRequestedOptionsOnly,
		msg.RequestedOptions().Contains,
	)

	resp.Options = append(resp.Options, opts...)
}

// addIAs appends the identity associations of results to resp.  If
// failedOnly is true, only unsuccessful ones are added.
func (p *processor6) addIAs(resp *dhcp6.Message, results []*iaResult, failedOnly bool) {
	for _, r := range results {
		if failedOnly && r.res.Status == binding.StatusSuccess {
			continue
		}

		code, v := iaOption(r.req, r.res)
		resp.Options.Add(code, v)
	}
}

// iaOption returns the option describing the result of processing req.
func iaOption(req *binding.Request, res *binding.Result) (code uint16, v dhcpopt.Value) {
	var sub dhcpopt.Options
	for _, a := range res.Addresses {
		if req.Type == lease.IATypePD {
			sub.Add(dhcp6.OptionIAPrefix, &dhcp6.IAPrefix{
				Prefix:            a.Prefix,
				PreferredLifetime: seconds(a.Preferred),
				ValidLifetime:     seconds(a.Valid),
			})
		} else {
			sub.Add(dhcp6.OptionIAAddr, &dhcp6.IAAddr{
				Addr:              a.Prefix.Addr(),
				PreferredLifetime: seconds(a.Preferred),
				ValidLifetime:     seconds(a.Valid),
			})
		}
	}

	if res.Status != binding.StatusSuccess {
		sub.Add(dhcp6.OptionStatusCode, &dhcp6.StatusCode{
			Code:    status6(res.Status),
			Message: res.Status.String(),
		})
	}

	switch req.Type {
	case lease.IATypeTA:
		return dhcp6.OptionIATA, &dhcp6.IATA{
			Options: sub,
			IAID:    req.IAID,
		}
	case lease.IATypePD:
		return dhcp6.OptionIAPD, &dhcp6.IAPD{
			Options: sub,
			IAID:    req.IAID,
			T1:      seconds(res.T1),
			T2:      seconds(res.T2),
		}
	default:
		return dhcp6.OptionIANA, &dhcp6.IANA{
			Options: sub,
			IAID:    req.IAID,
			T1:      seconds(res.T1),
			T2:      seconds(res.T2),
		}
	}
}

// status6 converts st into a DHCPv6 status code.
func status6(st binding.Status) (s dhcp6.Status) {
	switch st {
	case binding.StatusSuccess:
		return dhcp6.StatusSuccess
	case binding.StatusNoAddrsAvail:
		return dhcp6.StatusNoAddrsAvail
	case binding.StatusNoBinding:
		return dhcp6.StatusNoBinding
	case binding.StatusNotOnLink:
		return dhcp6.StatusNotOnLink
	case binding.StatusNoPrefixAvail:
		return dhcp6.StatusNoPrefixAvail
	default:
		return dhcp6.StatusUnspecFail
	}
}

// clientFQDN returns the name of the client from the Client FQDN option of
// msg along with the option for the reply.  opt is nil if msg has no such
// option.
func (p *processor6) clientFQDN(msg *dhcp6.Message) (fqdn string, opt *dhcp6.ClientFQDN) {
	req, ok := msg.ClientFQDN()
	if !ok {
		return "", nil
	}

	fqdn = qualify(req.Name, p.domain)

	return fqdn, &dhcp6.ClientFQDN{
		Name:  fqdn,
		Flags: p.replyFlags(req.Flags, fqdnFlags6, fqdn),
	}
}
