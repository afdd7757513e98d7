package configmgr

import (
	"fmt"
	"net/netip"
	"slices"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
)

// SchemaVersion is the current version of the configuration file schema.
const SchemaVersion = 1

// config is the top-level on-disk configuration structure.
type config struct {
	Server   *serverConfig `yaml:"server"`
	Store    *storeConfig  `yaml:"store"`
	DDNS     *ddnsConfig   `yaml:"ddns"`
	HTTP     *httpConfig   `yaml:"http"`
	V6       *familyConfig `yaml:"v6"`
	V4       *familyConfig `yaml:"v4"`
	Policies policies      `yaml:"policies"`

	// OptionDefinitions describe the options the decoders don't know.
	OptionDefinitions []*optionDefinition `yaml:"option_definitions"`

	Links []*linkConfig `yaml:"links"`

	SchemaVersion int `yaml:"schema_version"`
}

// type check
var _ validate.Interface = (*config)(nil)

// Validate implements the [validate.Interface] interface for *config.
func (c *config) Validate() (err error) {
	if c == nil {
		return errNoConf
	}

	var errs []error
	if c.SchemaVersion != SchemaVersion {
		errs = append(errs, fmt.Errorf(
			"schema_version: %w: got %d, want %d",
			errors.ErrBadEnumValue,
			c.SchemaVersion,
			SchemaVersion,
		))
	}

	// Keep this in the same order as the fields in the config.
	errs = validate.Append(errs, "server", c.Server)
	errs = validate.Append(errs, "store", c.Store)

	if c.DDNS != nil {
		errs = validate.Append(errs, "ddns", c.DDNS)
	}

	if c.HTTP != nil {
		errs = validate.Append(errs, "http", c.HTTP)
	}

	if c.V6 == nil && c.V4 == nil {
		errs = append(errs, fmt.Errorf("v6 and v4: %w", errNoConf))
	}

	if c.V6 != nil {
		errs = validate.Append(errs, "v6", c.V6.forFormat(dhcpopt.FormatV6))
		if c.Server != nil {
			errs = validate.Append(errs, "server: duid", c.Server.DUID)
		}
	}

	if c.V4 != nil {
		errs = validate.Append(errs, "v4", c.V4.forFormat(dhcpopt.FormatV4))
	}

	errs = validate.Append(errs, "policies", c.Policies)

	for i, d := range c.OptionDefinitions {
		errs = validate.Append(errs, fmt.Sprintf("option_definitions: at index %d", i), d)
	}

	if len(c.Links) == 0 {
		errs = append(errs, fmt.Errorf("links: %w", errors.ErrEmptyValue))
	}

	names := make([]string, 0, len(c.Links))
	for i, l := range c.Links {
		errs = validate.Append(errs, fmt.Sprintf("links: at index %d", i), l)
		if l == nil {
			continue
		}

		if slices.Contains(names, l.Name) {
			errs = append(errs, fmt.Errorf("links: at index %d: name: %w: %q", i, errors.ErrDuplicated, l.Name))
		}

		names = append(names, l.Name)
	}

	return errors.Join(errs...)
}

// serverConfig is the on-disk configuration of the server itself.
type serverConfig struct {
	// DUID is the DHCPv6 identifier of the server.  It's required when DHCPv6
	// is enabled.
	DUID *duidConfig `yaml:"duid"`

	// DomainName is appended to the partial names of the clients.
	DomainName string `yaml:"domain_name"`

	// DecodePolicy is the treatment of unknown and malformed options:
	// "preserve", "strict", or "stop".
	DecodePolicy string `yaml:"decode_policy"`

	RequestTimeout timeutil.Duration `yaml:"request_timeout"`
	Workers        int               `yaml:"workers"`
	QueueSize      int               `yaml:"queue_size"`
	RapidCommit    bool              `yaml:"rapid_commit"`
}

// type check
var _ validate.Interface = (*serverConfig)(nil)

// Validate implements the [validate.Interface] interface for *serverConfig.
func (c *serverConfig) Validate() (err error) {
	if c == nil {
		return errNoConf
	}

	var errs []error
	if c.RequestTimeout.Duration <= 0 {
		errs = append(errs, newErrNotPositive("request_timeout", c.RequestTimeout))
	}

	if c.Workers <= 0 {
		errs = append(errs, newErrNotPositive("workers", c.Workers))
	}

	if c.QueueSize <= 0 {
		errs = append(errs, newErrNotPositive("queue_size", c.QueueSize))
	}

	_, err = parseDecodePolicy(c.DecodePolicy)
	if err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// parseDecodePolicy returns the option decoding policy by its name.  An empty
// name means the default policy.
func parseDecodePolicy(name string) (p dhcpopt.Policy, err error) {
	for _, p = range []dhcpopt.Policy{
		dhcpopt.PolicyPreserve,
		dhcpopt.PolicyStrict,
		dhcpopt.PolicyStop,
	} {
		if p.String() == name {
			return p, nil
		}
	}

	if name == "" {
		return dhcpopt.PolicyPreserve, nil
	}

	return 0, newErrBadEnum("decode_policy", name)
}

// DUID types available in the configuration.
const (
	duidTypeLLT  = "llt"
	duidTypeEN   = "en"
	duidTypeLL   = "ll"
	duidTypeUUID = "uuid"
)

// duidConfig is the on-disk configuration of the server DUID.
type duidConfig struct {
	// Type is one of "llt", "en", "ll", and "uuid".
	Type string `yaml:"type"`

	// Interface is the name of the network interface which hardware address
	// is used in the DUID-LLT and DUID-LL.
	Interface string `yaml:"interface"`

	// Time is the time stored in the DUID-LLT.  The time should be kept
	// unchanged between restarts, so that the DUID persists.
	Time string `yaml:"time"`

	// Identifier is the hex-encoded identifier of the DUID-EN.
	Identifier string `yaml:"identifier"`

	// UUID is the UUID of the DUID-UUID.
	UUID string `yaml:"uuid"`

	// EnterpriseNumber is the vendor number of the DUID-EN.
	EnterpriseNumber uint32 `yaml:"enterprise_number"`
}

// type check
var _ validate.Interface = (*duidConfig)(nil)

// Validate implements the [validate.Interface] interface for *duidConfig.
func (c *duidConfig) Validate() (err error) {
	if c == nil {
		return errNoConf
	}

	switch c.Type {
	case duidTypeLLT, duidTypeLL:
		return validate.NotEmpty("interface", c.Interface)
	case duidTypeEN:
		return validate.NotEmpty("identifier", c.Identifier)
	case duidTypeUUID:
		return validate.NotEmpty("uuid", c.UUID)
	default:
		return newErrBadEnum("type", c.Type)
	}
}

// Lease store types available in the configuration.
const (
	storeTypeMemory = "memory"
	storeTypeJSON   = "json"
	storeTypeBolt   = "bolt"
	storeTypeSQLite = "sqlite"
)

// storeConfig is the on-disk configuration of the lease storage.
type storeConfig struct {
	// Type is one of "memory", "json", "bolt", and "sqlite".
	Type string `yaml:"type"`

	// Path is the path to the database file.  It's ignored for the memory
	// storage.
	Path string `yaml:"path"`
}

// type check
var _ validate.Interface = (*storeConfig)(nil)

// Validate implements the [validate.Interface] interface for *storeConfig.
func (c *storeConfig) Validate() (err error) {
	switch {
	case c == nil:
		return errNoConf
	case c.Type == storeTypeMemory:
		return nil
	case c.Type == storeTypeJSON, c.Type == storeTypeBolt, c.Type == storeTypeSQLite:
		return validate.NotEmpty("path", c.Path)
	default:
		return newErrBadEnum("type", c.Type)
	}
}

// ddnsConfig is the on-disk configuration of the dynamic DNS updates.
type ddnsConfig struct {
	TSIG          *tsigConfig       `yaml:"tsig"`
	Server        netip.AddrPort    `yaml:"server"`
	Network       string            `yaml:"network"`
	ForwardZone   string            `yaml:"forward_zone"`
	Timeout       timeutil.Duration `yaml:"timeout"`
	TTL           uint32            `yaml:"ttl"`
	ReverseV4Bits int               `yaml:"reverse_v4_bits"`
	ReverseV6Bits int               `yaml:"reverse_v6_bits"`
	Enabled       bool              `yaml:"enabled"`

	// Sync makes the server wait for the updates before replying.
	Sync bool `yaml:"sync"`
}

// tsigConfig is the on-disk configuration of the key signing the updates.
type tsigConfig struct {
	Name      string `yaml:"name"`
	Algorithm string `yaml:"algorithm"`
	Secret    string `yaml:"secret"`
}

// type check
var _ validate.Interface = (*ddnsConfig)(nil)

// Validate implements the [validate.Interface] interface for *ddnsConfig.
// The rest of the properties are validated by the updater itself.
func (c *ddnsConfig) Validate() (err error) {
	switch {
	case c == nil:
		return errNoConf
	case !c.Enabled:
		return nil
	case c.Timeout.Duration <= 0:
		return newErrNotPositive("timeout", c.Timeout)
	default:
		return nil
	}
}

// httpConfig is the on-disk configuration of the HTTP server exposing the
// metrics.
type httpConfig struct {
	Address netip.AddrPort `yaml:"address"`
	Enabled bool           `yaml:"enabled"`
}

// type check
var _ validate.Interface = (*httpConfig)(nil)

// Validate implements the [validate.Interface] interface for *httpConfig.
func (c *httpConfig) Validate() (err error) {
	switch {
	case c == nil:
		return errNoConf
	case c.Enabled && !c.Address.IsValid():
		return fmt.Errorf("address: %w", errors.ErrNoValue)
	default:
		return nil
	}
}

// familyConfig is the on-disk configuration of a protocol family.
type familyConfig struct {
	// Interfaces are the names of the network interfaces to listen on.
	Interfaces []string `yaml:"interfaces"`

	// Options are the options sent to all clients in the "CODE TYPE VALUE"
	// form.
	Options []string `yaml:"options"`
}

// familyValidator validates a familyConfig for a particular option format.
type familyValidator struct {
	conf   *familyConfig
	format dhcpopt.Format
}

// forFormat returns the validator of c for the options of format f.
func (c *familyConfig) forFormat(f dhcpopt.Format) (v *familyValidator) {
	return &familyValidator{
		conf:   c,
		format: f,
	}
}

// type check
var _ validate.Interface = (*familyValidator)(nil)

// Validate implements the [validate.Interface] interface for *familyValidator.
func (v *familyValidator) Validate() (err error) {
	_, err = parseOptions(v.format, v.conf.Options)

	return err
}

// optionDefinition is the on-disk definition of an option unknown to the
// decoders.
type optionDefinition struct {
	// Family is either "v4" or "v6".
	Family string `yaml:"family"`

	// Kind is the name of the kind of the option values, for example
	// "ipv4-list".
	Kind string `yaml:"kind"`

	// Code is the code of the option.
	Code uint16 `yaml:"code"`
}

// type check
var _ validate.Interface = (*optionDefinition)(nil)

// Validate implements the [validate.Interface] interface for
// *optionDefinition.
func (d *optionDefinition) Validate() (err error) {
	if d == nil {
		return errors.ErrNoValue
	}

	var errs []error
	switch d.Family {
	case familyV4:
		if d.Code == dhcpopt.CodePad || d.Code >= dhcpopt.CodeEnd {
			errs = append(errs, fmt.Errorf("code: %w: %d", errors.ErrOutOfRange, d.Code))
		}
	case familyV6:
		if d.Code == 0 {
			errs = append(errs, fmt.Errorf("code: %w", errors.ErrNoValue))
		}
	default:
		errs = append(errs, newErrBadEnum("family", d.Family))
	}

	if _, ok := dhcpopt.KindByName(d.Kind); !ok {
		errs = append(errs, newErrBadEnum("kind", d.Kind))
	}

	return errors.Join(errs...)
}

// Address families in the configuration.
const (
	familyV4 = "v4"
	familyV6 = "v6"
)

// linkConfig is the on-disk configuration of a served network link.
type linkConfig struct {
	// Name is the unique name of the link.
	Name string `yaml:"name"`

	// Interface is the name of the network interface the link is directly
	// attached to, or the Interface-ID set by the relay agents serving the
	// link.
	Interface string `yaml:"interface"`

	// Subnet is the on-link prefix.
	Subnet netip.Prefix `yaml:"subnet"`

	// ServerIP is the address of the server on an IPv4 link.
	ServerIP netip.Addr `yaml:"server_ip"`

	Pools       []*poolConfig       `yaml:"pools"`
	PrefixPools []*prefixPoolConfig `yaml:"prefix_pools"`
	Static      []*staticConfig     `yaml:"static"`
	Options     []string            `yaml:"options"`
	Policies    policies            `yaml:"policies"`
}

// type check
var _ validate.Interface = (*linkConfig)(nil)

// Validate implements the [validate.Interface] interface for *linkConfig.
func (c *linkConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotEmpty("name", c.Name),
	}

	if !c.Subnet.IsValid() {
		return errors.Join(append(errs, fmt.Errorf("subnet: %w", errors.ErrNoValue))...)
	}

	is4 := c.Subnet.Addr().Is4()
	format := dhcpopt.FormatV6
	if is4 {
		format = dhcpopt.FormatV4
		if !c.Subnet.Contains(c.ServerIP) {
			errs = append(errs, fmt.Errorf("server_ip: %s is not in subnet %s", c.ServerIP, c.Subnet))
		}

		if len(c.PrefixPools) > 0 {
			errs = append(errs, fmt.Errorf("prefix_pools: %w for ipv4 links", errors.ErrUnsupported))
		}
	}

	for i, p := range c.Pools {
		errs = validate.Append(errs, fmt.Sprintf("pools: at index %d", i), p.forSubnet(c.Subnet))
	}

	for i, p := range c.PrefixPools {
		errs = validate.Append(errs, fmt.Sprintf("prefix_pools: at index %d", i), p)
	}

	for i, s := range c.Static {
		errs = validate.Append(errs, fmt.Sprintf("static: at index %d", i), s.forSubnet(c.Subnet))
	}

	_, err = parseOptions(format, c.Options)
	if err != nil {
		errs = append(errs, fmt.Errorf("options: %w", err))
	}

	errs = validate.Append(errs, "policies", c.Policies)

	return errors.Join(errs...)
}

// rangeConfig is the on-disk inclusive range of addresses.
type rangeConfig struct {
	Start netip.Addr `yaml:"start"`
	End   netip.Addr `yaml:"end"`
}

// validate returns an error if r isn't a valid range within subnet.
func (r *rangeConfig) validate(subnet netip.Prefix) (err error) {
	switch {
	case r == nil:
		return errors.ErrNoValue
	case !subnet.Contains(r.Start) || !subnet.Contains(r.End):
		return fmt.Errorf("range %s-%s is not in subnet %s", r.Start, r.End, subnet)
	case r.End.Less(r.Start):
		return fmt.Errorf("range %s-%s: end is less than start", r.Start, r.End)
	default:
		return nil
	}
}

// poolConfig is the on-disk configuration of an address pool.
type poolConfig struct {
	rangeConfig `yaml:",inline"`

	// Type is the type of the identity associations served by the pool: "na"
	// or "ta" for IPv6 links and "v4" for IPv4 ones.
	Type string `yaml:"type"`

	// Exclude are the subranges never given out.
	Exclude []*rangeConfig `yaml:"exclude"`
}

// poolValidator validates a poolConfig within a subnet.
type poolValidator struct {
	pool   *poolConfig
	subnet netip.Prefix
}

// forSubnet returns the validator of c within subnet.
func (c *poolConfig) forSubnet(subnet netip.Prefix) (v *poolValidator) {
	return &poolValidator{
		pool:   c,
		subnet: subnet,
	}
}

// type check
var _ validate.Interface = (*poolValidator)(nil)

// Validate implements the [validate.Interface] interface for *poolValidator.
func (v *poolValidator) Validate() (err error) {
	p := v.pool
	if p == nil {
		return errors.ErrNoValue
	}

	errs := []error{p.rangeConfig.validate(v.subnet)}

	want := []string{"na", "ta"}
	if v.subnet.Addr().Is4() {
		want = []string{"v4"}
	}

	if !slices.Contains(want, p.Type) {
		errs = append(errs, newErrBadEnum("type", p.Type))
	}

	for i, r := range p.Exclude {
		err = r.validate(v.subnet)
		if err != nil {
			errs = append(errs, fmt.Errorf("exclude: at index %d: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// prefixPoolConfig is the on-disk configuration of a prefix delegation pool.
type prefixPoolConfig struct {
	// Prefix is the parent prefix.
	Prefix netip.Prefix `yaml:"prefix"`

	// DelegatedLen is the length of the delegated prefixes.
	DelegatedLen int `yaml:"delegated_len"`
}

// type check
var _ validate.Interface = (*prefixPoolConfig)(nil)

// Validate implements the [validate.Interface] interface for
// *prefixPoolConfig.
func (c *prefixPoolConfig) Validate() (err error) {
	switch {
	case c == nil:
		return errors.ErrNoValue
	case !c.Prefix.IsValid() || !c.Prefix.Addr().Is6():
		return fmt.Errorf("prefix: %w: %s", errors.ErrBadEnumValue, c.Prefix)
	case c.DelegatedLen < c.Prefix.Bits() || c.DelegatedLen > 128:
		return fmt.Errorf(
			"delegated_len: %w: %d for prefix %s",
			errors.ErrOutOfRange,
			c.DelegatedLen,
			c.Prefix,
		)
	default:
		return nil
	}
}

// staticConfig is the on-disk configuration of a static binding.
type staticConfig struct {
	// ID is the hex-encoded DUID of an IPv6 client or the client identifier
	// of an IPv4 one.
	ID string `yaml:"id"`

	// HWAddr is the hardware address of an IPv4 client without a client
	// identifier.
	HWAddr string `yaml:"hw_addr"`

	// FQDN is the domain name of the client.
	FQDN string `yaml:"fqdn"`

	// Type is the type of the identity association: "na", "ta", "pd", or
	// "v4".
	Type string `yaml:"type"`

	// IP is the reserved address or, for "pd", the reserved prefix.
	IP string `yaml:"ip"`

	IAID uint32 `yaml:"iaid"`
}

// staticValidator validates a staticConfig within a subnet.
type staticValidator struct {
	static *staticConfig
	subnet netip.Prefix
}

// forSubnet returns the validator of c within subnet.
func (c *staticConfig) forSubnet(subnet netip.Prefix) (v *staticValidator) {
	return &staticValidator{
		static: c,
		subnet: subnet,
	}
}

// type check
var _ validate.Interface = (*staticValidator)(nil)

// Validate implements the [validate.Interface] interface for *staticValidator.
func (v *staticValidator) Validate() (err error) {
	s := v.static
	if s == nil {
		return errors.ErrNoValue
	}

	sb, err := s.binding(v.subnet.Addr().Is4())
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return err
	}

	// Delegated prefixes are routed to the client and needn't be on-link.
	if sb.Type != lease.IATypePD && !v.subnet.Contains(sb.IP) {
		return fmt.Errorf("ip: %s is not in subnet %s", sb.IP, v.subnet)
	}

	return nil
}
