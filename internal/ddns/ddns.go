// Package ddns contains the client of dynamic DNS updates, RFC 2136, for the
// names and addresses leased to DHCP clients.
package ddns

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/miekg/dns"
)

// TSIG is the key for signing the updates.
type TSIG struct {
	// Name is the name of the key.  It must not be empty.
	Name string

	// Algorithm is the name of the HMAC algorithm, for example
	// [dns.HmacSHA256].  It must not be empty.
	Algorithm string

	// Secret is the base64-encoded secret.  It must not be empty.
	Secret string
}

// Config is the configuration of an updater.
type Config struct {
	// Logger is used for logging the updates.  It must not be nil.
	Logger *slog.Logger

	// TSIG is the key for signing the updates.  If nil, the updates are not
	// signed.
	TSIG *TSIG

	// Server is the address of the primary DNS server of the zones.
	Server netip.AddrPort

	// Network is the network to send the updates over: "udp" or "tcp".
	Network string

	// ForwardZone is the zone of the forward records.  If empty, the parent
	// domain of the name is used.
	ForwardZone string

	// Timeout is the timeout of a single update.
	Timeout time.Duration

	// TTL is the TTL of the added records.
	TTL uint32

	// ReverseV4Bits is the prefix length of the IPv4 reverse zones.  It must
	// be a multiple of 8 within (0, 32].
	ReverseV4Bits int

	// ReverseV6Bits is the prefix length of the IPv6 reverse zones.  It must
	// be a multiple of 4 within (0, 128].
	ReverseV6Bits int
}

// type check
var _ validate.Interface = (*Config)(nil)

// Validate implements the [validate.Interface] interface for *Config.
func (c *Config) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotNil("Logger", c.Logger),
		validate.NotNegative("Timeout", c.Timeout),
	}

	if !c.Server.IsValid() {
		errs = append(errs, fmt.Errorf("Server: %w", errors.ErrNoValue))
	}

	if c.Network != "udp" && c.Network != "tcp" {
		errs = append(errs, fmt.Errorf("Network: %w: %q", errors.ErrBadEnumValue, c.Network))
	}

	if c.ReverseV4Bits <= 0 || c.ReverseV4Bits > 32 || c.ReverseV4Bits%8 != 0 {
		errs = append(errs, fmt.Errorf("ReverseV4Bits: %w: %d", errors.ErrOutOfRange, c.ReverseV4Bits))
	}

	if c.ReverseV6Bits <= 0 || c.ReverseV6Bits > 128 || c.ReverseV6Bits%4 != 0 {
		errs = append(errs, fmt.Errorf("ReverseV6Bits: %w: %d", errors.ErrOutOfRange, c.ReverseV6Bits))
	}

	if c.TSIG != nil {
		errs = append(
			errs,
			validate.NotEmpty("TSIG.Name", c.TSIG.Name),
			validate.NotEmpty("TSIG.Algorithm", c.TSIG.Algorithm),
			validate.NotEmpty("TSIG.Secret", c.TSIG.Secret),
		)
	}

	return errors.Join(errs...)
}

// Update is a name and an address of a client.
type Update struct {
	// FQDN is the domain name of the client.
	FQDN string

	// ID is the client identifier used for the DHCID record.
	ID []byte

	// IP is the address of the client.
	IP netip.Addr

	// IDType is the type of ID.
	IDType IDType
}

// String implements the [fmt.Stringer] interface for *Update.
func (u *Update) String() (s string) {
	return fmt.Sprintf("%s %s", u.FQDN, u.IP)
}

// Callbacks are called when the parts of an update complete.  Any of the
// fields may be nil.
type Callbacks struct {
	FwdAddComplete    func(ok bool)
	FwdDeleteComplete func(ok bool)
	RevAddComplete    func(ok bool)
	RevDeleteComplete func(ok bool)
}

// call calls f, if it's not nil.
func call(f func(ok bool), err error) {
	if f != nil {
		f(err == nil)
	}
}

// Updater sends the dynamic updates to a DNS server.
type Updater struct {
	logger *slog.Logger
	client *dns.Client
	tsig   *TSIG
	conf   *Config
	server string
}

// New returns a new updater.  conf must be valid.
func New(conf *Config) (u *Updater) {
	client := &dns.Client{
		Net:     conf.Network,
		Timeout: conf.Timeout,
	}

	if conf.TSIG != nil {
		client.TsigSecret = map[string]string{
			dns.Fqdn(conf.TSIG.Name): conf.TSIG.Secret,
		}
	}

	return &Updater{
		logger: conf.Logger,
		client: client,
		tsig:   conf.TSIG,
		conf:   conf,
		server: conf.Server.String(),
	}
}

// ErrRcode is returned when the server refuses an update.
const ErrRcode errors.Error = "update refused"

// rcodeError is the error for a refused update.
type rcodeError struct {
	rcode int
}

// type check
var _ errors.Wrapper = (*rcodeError)(nil)

// Error implements the error interface for *rcodeError.
func (err *rcodeError) Error() (msg string) {
	return fmt.Sprintf("%s: %s", ErrRcode, dns.RcodeToString[err.rcode])
}

// Unwrap implements the [errors.Wrapper] interface for *rcodeError.
func (err *rcodeError) Unwrap() (unwrapped error) {
	return ErrRcode
}

// exchange signs and sends the update message m and returns the response
// code.
func (u *Updater) exchange(ctx context.Context, m *dns.Msg) (rcode int, err error) {
	if u.tsig != nil {
		m.SetTsig(dns.Fqdn(u.tsig.Name), u.tsig.Algorithm, 300, time.Now().Unix())
	}

	resp, _, err := u.client.ExchangeContext(ctx, m, u.server)
	if err != nil {
		return 0, fmt.Errorf("exchanging with %s: %w", u.server, err)
	}

	return resp.Rcode, nil
}

// check returns an error for a refused update.
func check(rcode int) (err error) {
	if rcode == dns.RcodeSuccess {
		return nil
	}

	return &rcodeError{rcode: rcode}
}

// forwardZone returns the zone of the forward records of fqdn.
func (u *Updater) forwardZone(fqdn string) (zone string) {
	if u.conf.ForwardZone != "" {
		return dns.Fqdn(u.conf.ForwardZone)
	}

	labels := dns.SplitDomainName(fqdn)
	if len(labels) < 2 {
		return dns.Fqdn(fqdn)
	}

	return dns.Fqdn(strings.Join(labels[1:], "."))
}

// reverseName returns the reverse name of ip and its zone.
func (u *Updater) reverseName(ip netip.Addr) (name, zone string, err error) {
	name, err = dns.ReverseAddr(ip.String())
	if err != nil {
		return "", "", fmt.Errorf("reversing %s: %w", ip, err)
	}

	// Skip the labels of the host part.
	skip := (32 - u.conf.ReverseV4Bits) / 8
	if ip.Is6() {
		skip = (128 - u.conf.ReverseV6Bits) / 4
	}

	labels := dns.SplitDomainName(name)

	return name, dns.Fqdn(strings.Join(labels[skip:], ".")), nil
}

// addrRR returns the address record of the update.
func (u *Updater) addrRR(up *Update) (rr dns.RR) {
	hdr := dns.RR_Header{
		Name:  dns.Fqdn(up.FQDN),
		Class: dns.ClassINET,
		Ttl:   u.conf.TTL,
	}

	if up.IP.Is4() {
		hdr.Rrtype = dns.TypeA

		return &dns.A{Hdr: hdr, A: up.IP.AsSlice()}
	}

	hdr.Rrtype = dns.TypeAAAA

	return &dns.AAAA{Hdr: hdr, AAAA: up.IP.AsSlice()}
}

// ForwardAdd adds the address and the DHCID records of the name.  If the name
// is in use, the address records are replaced only if the DHCID record
// matches, see RFC 4703 Section 5.3.1.
func (u *Updater) ForwardAdd(ctx context.Context, up *Update) (err error) {
	defer func() { err = errors.Annotate(err, "forward add %s: %w", up) }()

	zone := u.forwardZone(up.FQDN)
	addr := u.addrRR(up)
	dhcid := newDHCIDRR(up, u.conf.TTL)

	m := (&dns.Msg{}).SetUpdate(zone)
	m.NameNotUsed([]dns.RR{&dns.ANY{Hdr: dns.RR_Header{Name: dns.Fqdn(up.FQDN)}}})
	m.Insert([]dns.RR{addr, dhcid})

	rcode, err := u.exchange(ctx, m)
	if err != nil {
		return err
	} else if rcode != dns.RcodeYXDomain {
		return check(rcode)
	}

	u.logger.DebugContext(ctx, "name in use, checking dhcid", "fqdn", up.FQDN)

	m = (&dns.Msg{}).SetUpdate(zone)
	m.Used([]dns.RR{dhcid})
	m.RemoveRRset([]dns.RR{addr})
	m.Insert([]dns.RR{addr})

	rcode, err = u.exchange(ctx, m)
	if err != nil {
		return err
	}

	return check(rcode)
}

// ForwardDelete deletes the address record of the name, if the DHCID record
// matches, and then the DHCID record, if no address records are left, see RFC
// 4703 Section 5.5.
func (u *Updater) ForwardDelete(ctx context.Context, up *Update) (err error) {
	defer func() { err = errors.Annotate(err, "forward delete %s: %w", up) }()

	zone := u.forwardZone(up.FQDN)
	dhcid := newDHCIDRR(up, 0)

	m := (&dns.Msg{}).SetUpdate(zone)
	m.Used([]dns.RR{dhcid})
	m.Remove([]dns.RR{u.addrRR(up)})

	rcode, err := u.exchange(ctx, m)
	if err != nil {
		return err
	} else if err = check(rcode); err != nil {
		return err
	}

	name := dns.Fqdn(up.FQDN)
	m = (&dns.Msg{}).SetUpdate(zone)
	m.RRsetNotUsed([]dns.RR{
		&dns.A{Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA}},
		&dns.AAAA{Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeAAAA}},
	})
	m.RemoveRRset([]dns.RR{dhcid})

	rcode, err = u.exchange(ctx, m)
	if err != nil {
		return err
	} else if rcode != dns.RcodeSuccess {
		u.logger.DebugContext(ctx, "keeping dhcid", "fqdn", up.FQDN, "rcode", dns.RcodeToString[rcode])
	}

	return nil
}

// ReverseAdd replaces the PTR records of the address with the one pointing to
// the name.
func (u *Updater) ReverseAdd(ctx context.Context, up *Update) (err error) {
	defer func() { err = errors.Annotate(err, "reverse add %s: %w", up) }()

	name, zone, err := u.reverseName(up.IP)
	if err != nil {
		return err
	}

	ptr := &dns.PTR{
		Hdr: dns.RR_Header{
			Name:   name,
			Rrtype: dns.TypePTR,
			Class:  dns.ClassINET,
			Ttl:    u.conf.TTL,
		},
		Ptr: dns.Fqdn(up.FQDN),
	}

	m := (&dns.Msg{}).SetUpdate(zone)
	m.RemoveRRset([]dns.RR{ptr})
	m.Insert([]dns.RR{ptr})

	rcode, err := u.exchange(ctx, m)
	if err != nil {
		return err
	}

	return check(rcode)
}

// ReverseDelete deletes the PTR records of the address.
func (u *Updater) ReverseDelete(ctx context.Context, up *Update) (err error) {
	defer func() { err = errors.Annotate(err, "reverse delete %s: %w", up) }()

	name, zone, err := u.reverseName(up.IP)
	if err != nil {
		return err
	}

	m := (&dns.Msg{}).SetUpdate(zone)
	m.RemoveRRset([]dns.RR{&dns.PTR{Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypePTR}}})

	rcode, err := u.exchange(ctx, m)
	if err != nil {
		return err
	}

	return check(rcode)
}

// SendAdd adds the forward and the reverse records of the update and reports
// the results to cb, which may be nil.
func (u *Updater) SendAdd(ctx context.Context, up *Update, cb *Callbacks) (err error) {
	if cb == nil {
		cb = &Callbacks{}
	}

	fwdErr := u.ForwardAdd(ctx, up)
	call(cb.FwdAddComplete, fwdErr)

	revErr := u.ReverseAdd(ctx, up)
	call(cb.RevAddComplete, revErr)

	return errors.Join(fwdErr, revErr)
}

// SendDelete deletes the forward and the reverse records of the update and
// reports the results to cb, which may be nil.
func (u *Updater) SendDelete(ctx context.Context, up *Update, cb *Callbacks) (err error) {
	if cb == nil {
		cb = &Callbacks{}
	}

	fwdErr := u.ForwardDelete(ctx, up)
	call(cb.FwdDeleteComplete, fwdErr)

	revErr := u.ReverseDelete(ctx, up)
	call(cb.RevDeleteComplete, revErr)

	return errors.Join(fwdErr, revErr)
}
