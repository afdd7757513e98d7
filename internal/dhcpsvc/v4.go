package dhcpsvc

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/AdguardTeam/AdGuardDHCP/internal/binding"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp4"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
)

// fqdnFlags4 are the flags of the DHCPv4 Client FQDN option.
var fqdnFlags4 = fqdnFlags{
	s: dhcp4.FQDNFlagS,
	o: dhcp4.FQDNFlagO,
	n: dhcp4.FQDNFlagN,
}

// clientState is the state of a DHCPv4 client sending a DHCPREQUEST message.
//
// See https://datatracker.ietf.org/doc/html/rfc2131#section-4.3.2.
type clientState uint8

// clientState values.  Renewing and rebinding clients only differ in the
// destination of the message, so they aren't distinguished.
const (
	stateSelecting clientState = iota + 1
	stateInitReboot
	stateRenewing
)

// processor4 processes DHCPv4 messages.
type processor4 struct {
	*processor

	links   linkIndex
	options dhcpopt.Options
}

// newProcessor4 returns a new DHCPv4 processor.  conf must be valid and
// conf.V4 must not be nil.
func newProcessor4(conf *Config) (p *processor4) {
	return &processor4{
		processor: newProcessor(conf, familyV4),
		links:     links(conf.Links, true),
		options:   conf.V4.Options,
	}
}

// process processes req received on the network interface iface and returns
// the reply.  resp is nil if the message requires no reply.  err is a
// *dropError if the message must not be answered.
func (p *processor4) process(
	ctx context.Context,
	req *dhcp4.Message,
	iface string,
) (resp *dhcp4.Message, err error) {
	typ := req.MessageType()
	if req.OpCode != dhcp4.OpCodeBootRequest || typ == dhcp4.MessageTypeNone {
		// The "DHCP message type" option must be included in every DHCP
		// message, so BOOTP clients aren't served.
		//
		// See https://datatracker.ietf.org/doc/html/rfc2131#section-3.
		return nil, newQuietDrop(typ, errUnsupported)
	}

	link := p.links.select4(req, iface)
	if link == nil {
		return nil, newDrop(typ, errNoLink)
	}

	switch typ {
	case dhcp4.MessageTypeDiscover:
		return p.discover(ctx, link, req)
	case dhcp4.MessageTypeRequest:
		return p.request(ctx, link, req)
	case dhcp4.MessageTypeRelease:
		return nil, p.unbind(ctx, link, req, req.ClientIP, p.bindings.Release)
	case dhcp4.MessageTypeDecline:
		return nil, p.unbind(ctx, link, req, req.RequestedIP(), p.bindings.Decline)
	case dhcp4.MessageTypeInform:
		return p.inform(link, req)
	default:
		return nil, newQuietDrop(typ, errUnsupported)
	}
}

// identity returns the identifier of the client sending req: the client
// identifier, if any, or the hardware type followed by the hardware address.
//
// See https://datatracker.ietf.org/doc/html/rfc2132#section-9.14.
func identity(req *dhcp4.Message) (id []byte) {
	if cid, ok := req.ClientIdentifier(); ok && len(cid) > 0 {
		return cid
	}

	return append([]byte{req.HWType}, req.HardwareAddr()...)
}

// bindingRequest returns the binding request for req with ip as the only
// hint, if it's specified.
func bindingRequest(req *dhcp4.Message, fqdn string, ip netip.Addr) (r *binding.Request) {
	r = &binding.Request{
		DUID: identity(req),
		FQDN: fqdn,
		Type: lease.IATypeV4,
	}

	if isSpecified4(ip) {
		r.Hints = []netip.Prefix{netip.PrefixFrom(ip, ip.BitLen())}
	}

	return r
}

// discover processes the DHCPDISCOVER message.  The address is committed at
// once when both the client and the server use the rapid commit.
//
// See https://datatracker.ietf.org/doc/html/rfc2131#section-4.3.1 and
// https://datatracker.ietf.org/doc/html/rfc4039.
func (p *processor4) discover(
	ctx context.Context,
	link *Link,
	req *dhcp4.Message,
) (resp *dhcp4.Message, err error) {
	rapid := p.rapidCommit && req.Options.Has(dhcp4.OptionRapidCommit)
	fqdn, fqdnOpt := p.clientFQDN(req)
	r := bindingRequest(req, fqdn, req.RequestedIP())

	var res *binding.Result
	if rapid {
		res, err = p.bindings.Solicit(ctx, link.Link, r, true)
	} else {
		res, err = p.bindings.DiscoverV4(ctx, link.Link, r)
	}
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	p.metrics.IncrementStatus(ctx, p.family, res.Status.String())
	if res.Status != binding.StatusSuccess || len(res.Addresses) == 0 {
		return nil, newQuietDrop(dhcp4.MessageTypeDiscover, fmt.Errorf("binding: %s", res.Status))
	}

	typ := dhcp4.MessageTypeOffer
	if rapid {
		typ = dhcp4.MessageTypeAck
	}

	resp = p.newReply(req, typ, link)
	if rapid {
		resp.Options.Set(dhcp4.OptionRapidCommit, dhcpopt.Empty{})
	}

	p.setLease(resp, link, res)
	p.finish(resp, link, req, fqdnOpt)

	if rapid {
		p.updateDNS(ctx, res.IA, false)
	}

	return resp, nil
}

// requestState returns the state of the client sending the DHCPREQUEST
// message req and the address it requests.
func requestState(req *dhcp4.Message) (st clientState, ip netip.Addr, err error) {
	srvID, reqIP := req.ServerIdentifier(), req.RequestedIP()
	hasCIAddr := isSpecified4(req.ClientIP)

	switch {
	case isSpecified4(srvID):
		// If the DHCPREQUEST message contains a server identifier option, the
		// message is in response to a DHCPOFFER message.  'ciaddr' MUST be
		// zero, 'requested IP address' MUST be filled in.
		if hasCIAddr || !isSpecified4(reqIP) {
			return 0, netip.Addr{}, errBadClientState
		}

		return stateSelecting, reqIP, nil
	case isSpecified4(reqIP):
		// Requested IP address option MUST be filled in with client's notion
		// of its previously assigned address.  'ciaddr' MUST be zero.
		if hasCIAddr {
			return 0, netip.Addr{}, errBadClientState
		}

		return stateInitReboot, reqIP, nil
	case hasCIAddr:
		// Server identifier MUST NOT be filled in, requested IP address option
		// MUST NOT be filled in, 'ciaddr' MUST be filled in with client's
		// notion of its previously assigned address.
		return stateRenewing, req.ClientIP, nil
	default:
		return 0, netip.Addr{}, errBadClientState
	}
}

// request processes the DHCPREQUEST message.
//
// See https://datatracker.ietf.org/doc/html/rfc2131#section-4.3.2.
func (p *processor4) request(
	ctx context.Context,
	link *Link,
	req *dhcp4.Message,
) (resp *dhcp4.Message, err error) {
	st, ip, err := requestState(req)
	if err != nil {
		return nil, newDrop(dhcp4.MessageTypeRequest, err)
	}

	if st == stateSelecting && req.ServerIdentifier() != link.ServerIP4 {
		// The client has chosen another server.
		return nil, newQuietDrop(dhcp4.MessageTypeRequest, errOtherServer)
	}

	fqdn, fqdnOpt := p.clientFQDN(req)
	res, err := p.bindings.RequestV4(ctx, link.Link, bindingRequest(req, fqdn, ip), ip)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	p.metrics.IncrementStatus(ctx, p.family, res.Status.String())

	switch res.Status {
	case binding.StatusSuccess:
		// Go on.
	case binding.StatusNoBinding:
		if st != stateSelecting {
			// If the DHCP server has no record of this client, then it MUST
			// remain silent.
			return nil, newQuietDrop(dhcp4.MessageTypeRequest, errSilent)
		}

		return p.newNAK(req, link, res.Status), nil
	default:
		return p.newNAK(req, link, res.Status), nil
	}

	resp = p.newReply(req, dhcp4.MessageTypeAck, link)
	resp.ClientIP = req.ClientIP
	p.setLease(resp, link, res)
	p.finish(resp, link, req, fqdnOpt)

	if st != stateRenewing {
		p.updateDNS(ctx, res.IA, false)
	}

	return resp, nil
}

// unbind processes the DHCPRELEASE and DHCPDECLINE messages which never
// require a reply.  ip is the address to release or decline.
//
// See https://datatracker.ietf.org/doc/html/rfc2131#section-4.3.3 and
// https://datatracker.ietf.org/doc/html/rfc2131#section-4.3.4.
func (p *processor4) unbind(
	ctx context.Context,
	link *Link,
	req *dhcp4.Message,
	ip netip.Addr,
	f bindFunc,
) (err error) {
	typ := req.MessageType()
	if srvID := req.ServerIdentifier(); isSpecified4(srvID) && srvID != link.ServerIP4 {
		return newQuietDrop(typ, errOtherServer)
	} else if !isSpecified4(ip) {
		return newDrop(typ, errNoAddrs)
	}

	res, err := f(ctx, link.Link, bindingRequest(req, "", ip))
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return err
	}

	p.metrics.IncrementStatus(ctx, p.family, res.Status.String())
	if res.Status == binding.StatusSuccess {
		p.updateDNS(ctx, res.IA, true)
	}

	return nil
}

// inform processes the DHCPINFORM message.  The reply contains the
// configuration without any lease.
//
// See https://datatracker.ietf.org/doc/html/rfc2131#section-4.3.5.
func (p *processor4) inform(link *Link, req *dhcp4.Message) (resp *dhcp4.Message, err error) {
	if !isSpecified4(req.ClientIP) {
		return nil, newDrop(dhcp4.MessageTypeInform, errNoAddrs)
	}

	resp = p.newReply(req, dhcp4.MessageTypeAck, link)
	resp.ClientIP = req.ClientIP
	resp.Options.Set(dhcp4.OptionSubnetMask, subnetMask(link.Subnet))
	p.finish(resp, link, req, nil)

	return resp, nil
}

// newReply returns a reply of type typ to req with the identifiers set.
func (p *processor4) newReply(req *dhcp4.Message, typ dhcp4.MessageType, link *Link) (resp *dhcp4.Message) {
	resp = dhcp4.NewReply(req, typ)
	resp.Options.Set(dhcp4.OptionServerIdentifier, dhcpopt.IPv4List{link.ServerIP4})

	// See https://datatracker.ietf.org/doc/html/rfc6842.
	if cid, ok := req.Options.Get(dhcp4.OptionClientIdentifier); ok {
		resp.Options.Set(dhcp4.OptionClientIdentifier, cid)
	}

	return resp
}

// newNAK returns a DHCPNAK reply to req explaining st.
func (p *processor4) newNAK(req *dhcp4.Message, link *Link, st binding.Status) (resp *dhcp4.Message) {
	resp = p.newReply(req, dhcp4.MessageTypeNak, link)
	resp.Options.Set(dhcp4.OptionMessage, dhcpopt.String(st.String()))
	p.addAgentInfo(resp, req)

	return resp
}

// setLease sets the address and the lifetimes of the first address of res to
// resp.
func (p *processor4) setLease(resp *dhcp4.Message, link *Link, res *binding.Result) {
	a := res.Addresses[0]
	resp.YourIP = a.Prefix.Addr()

	resp.Options.Set(dhcp4.OptionLeaseTime, dhcpopt.Uint32(seconds(a.Valid)))
	if res.T1 > 0 {
		resp.Options.Set(dhcp4.OptionRenewalTime, dhcpopt.Uint32(seconds(res.T1)))
		resp.Options.Set(dhcp4.OptionRebindingTime, dhcpopt.Uint32(seconds(res.T2)))
	}

	resp.Options.Set(dhcp4.OptionSubnetMask, subnetMask(link.Subnet))
}

// finish appends the Client FQDN option, the configured options, and the
// relay agent information to resp.
func (p *processor4) finish(resp *dhcp4.Message, link *Link, req *dhcp4.Message, fqdnOpt *dhcp4.ClientFQDN) {
	if fqdnOpt != nil {
		resp.Options.Set(dhcp4.OptionClientFQDN, fqdnOpt)
	}

	prl := req.ParameterRequestList()
	pol := p.bindings.PolicyFor(link.Link)
	opts := selectOptions(
		mergeOptions(p.options, link.Options4),
		pol.SendRequestedOptionsOnly,
		func(code uint16) (ok bool) { return code <= 0xFF && prl.Contains(uint8(code)) },
	)

	for _, o := range opts {
		// Don't let the configuration override the lease.
		if !resp.Options.Has(o.Code) {
			resp.Options.Add(o.Code, o.Value)
		}
	}

	p.addAgentInfo(resp, req)
}

// addAgentInfo copies the relay agent information option from req to resp.
// It must be the last option added.
//
// See https://datatracker.ietf.org/doc/html/rfc3046#section-2.2.
func (p *processor4) addAgentInfo(resp, req *dhcp4.Message) {
	if v, ok := req.Options.Get(dhcp4.OptionRelayAgentInfo); ok {
		resp.Options.Set(dhcp4.OptionRelayAgentInfo, v)
	}
}

// subnetMask returns the value of the Subnet Mask option for subnet.
func subnetMask(subnet netip.Prefix) (v dhcpopt.IPv4List) {
	mask, _ := netip.AddrFromSlice(net.CIDRMask(subnet.Bits(), net.IPv4len*8))

	return dhcpopt.IPv4List{mask}
}

// clientFQDN returns the name of the client from the Client FQDN or the Host
// Name option of req along with the Client FQDN option for the reply.  opt is
// nil if req has no Client FQDN option.
//
// See https://datatracker.ietf.org/doc/html/rfc4702.
func (p *processor4) clientFQDN(req *dhcp4.Message) (fqdn string, opt *dhcp4.ClientFQDN) {
	reqOpt, ok := req.ClientFQDN()
	if !ok {
		return qualify(req.HostName(), p.domain), nil
	}

	fqdn = qualify(reqOpt.Name, p.domain)

	return fqdn, &dhcp4.ClientFQDN{
		Name:   fqdn,
		Flags:  p.replyFlags(reqOpt.Flags, fqdnFlags4, fqdn) | reqOpt.Flags&dhcp4.FQDNFlagE,
		RCode1: 0xFF,
		RCode2: 0xFF,
	}
}
