package configmgr

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/binding"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp6"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/uuid"
	"github.com/insomniacslk/dhcp/iana"
)

// parseOptions parses the option strings of the "CODE TYPE VALUE" form.
func parseOptions(f dhcpopt.Format, strs []string) (opts dhcpopt.Options, err error) {
	var errs []error
	for i, s := range strs {
		var o dhcpopt.Option
		o, err = dhcpopt.ParseOption(f, s)
		if err != nil {
			errs = append(errs, fmt.Errorf("at index %d: %w", i, err))

			continue
		}

		opts = append(opts, o)
	}

	err = errors.Join(errs...)
	if err != nil {
		return nil, err
	}

	return opts, dhcpopt.ValidateOptions(f, opts)
}

// registerDefinitions adds the kinds of the defined options of family to r.
// defs must be valid.
func registerDefinitions(r *dhcpopt.Registry, family string, defs []*optionDefinition) {
	for _, d := range defs {
		if d.Family != family {
			continue
		}

		k, _ := dhcpopt.KindByName(d.Kind)
		r.Register(d.Code, k)
	}
}

// parseHex decodes a hex string optionally separated by colons, for example
// "00:01:02" or "000102".
func parseHex(s string) (data []byte, err error) {
	data, err = hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, errors.ErrEmptyValue
	}

	return data, nil
}

// binding returns the static binding described by c.  is4 tells if the
// binding belongs to an IPv4 link.
func (c *staticConfig) binding(is4 bool) (sb *binding.StaticBinding, err error) {
	t, err := lease.ParseIAType(c.Type)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	if is4 != (t == lease.IATypeV4) {
		return nil, newErrBadEnum("type", c.Type)
	}

	sb = &binding.StaticBinding{
		FQDN: c.FQDN,
		IAID: c.IAID,
		Type: t,
	}

	sb.ID, err = c.identifier(is4)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	if t == lease.IATypePD {
		var p netip.Prefix
		p, err = netip.ParsePrefix(c.IP)
		if err != nil {
			return nil, fmt.Errorf("ip: %w", err)
		}

		sb.IP, sb.PrefixLen = p.Masked().Addr(), uint8(p.Bits())

		return sb, nil
	}

	sb.IP, err = netip.ParseAddr(c.IP)
	if err != nil {
		return nil, fmt.Errorf("ip: %w", err)
	}

	return sb, nil
}

// identifier returns the identifier of the client of the static binding.  For
// IPv4 clients without a client identifier it's the Ethernet hardware type
// followed by the hardware address.
func (c *staticConfig) identifier(is4 bool) (id []byte, err error) {
	switch {
	case c.ID != "" && c.HWAddr != "":
		return nil, errors.Error("id and hw_addr are mutually exclusive")
	case c.ID != "":
		id, err = parseHex(c.ID)
		if err != nil {
			return nil, fmt.Errorf("id: %w", err)
		}

		return id, nil
	case !is4:
		return nil, fmt.Errorf("id: %w", errors.ErrNoValue)
	case c.HWAddr == "":
		return nil, fmt.Errorf("id or hw_addr: %w", errors.ErrNoValue)
	}

	hw, err := net.ParseMAC(c.HWAddr)
	if err != nil {
		return nil, fmt.Errorf("hw_addr: %w", err)
	}

	return append([]byte{byte(iana.HWTypeEthernet)}, hw...), nil
}

// interfaceFunc returns the network interface by its name.
type interfaceFunc func(name string) (iface *net.Interface, err error)

// duid returns the server DUID described by c.  ifaceByName is used to look
// up the hardware address for the link-layer DUIDs.
func (c *duidConfig) duid(ifaceByName interfaceFunc) (duid []byte, err error) {
	defer func() { err = errors.Annotate(err, "duid: %w") }()

	switch c.Type {
	case duidTypeEN:
		var id []byte
		id, err = parseHex(c.Identifier)
		if err != nil {
			return nil, fmt.Errorf("identifier: %w", err)
		}

		return dhcp6.NewDUIDEN(c.EnterpriseNumber, id), nil
	case duidTypeUUID:
		var u uuid.UUID
		u, err = uuid.Parse(c.UUID)
		if err != nil {
			return nil, fmt.Errorf("uuid: %w", err)
		}

		return dhcp6.NewDUIDUUID(u), nil
	default:
		// Go on.
	}

	iface, err := ifaceByName(c.Interface)
	if err != nil {
		return nil, fmt.Errorf("interface: %w", err)
	} else if len(iface.HardwareAddr) == 0 {
		return nil, fmt.Errorf("interface %q: hardware address: %w", c.Interface, errors.ErrNoValue)
	}

	hwType := uint16(iana.HWTypeEthernet)
	if c.Type == duidTypeLL {
		return dhcp6.NewDUIDLL(hwType, iface.HardwareAddr), nil
	}

	t, err := c.lltTime()
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	return dhcp6.NewDUIDLLT(hwType, t, iface.HardwareAddr), nil
}

// lltTimeDefault is the DUID-LLT time used when none is configured, midnight
// UTC, January 1, 2000.
var lltTimeDefault = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// lltTime returns the time of the DUID-LLT.
func (c *duidConfig) lltTime() (t time.Time, err error) {
	if c.Time == "" {
		return lltTimeDefault, nil
	}

	t, err = time.Parse(time.RFC3339, c.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("time: %w", err)
	}

	return t, nil
}
