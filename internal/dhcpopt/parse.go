package dhcpopt

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil"
)

// The aliases for option types available for explicit declaration in the
// configuration.
const (
	TypeHex     = "hex"
	TypeIP      = "ip"
	TypeIPs     = "ips"
	TypeText    = "text"
	TypeDomains = "domains"
	TypeU8      = "u8"
	TypeU16     = "u16"
	TypeU32     = "u32"
)

// ParseOption parses an option string of the form "CODE TYPE VALUE".  For
// example:
//
//	6 ips 192.168.1.1,192.168.1.2
//	23 ips 2001:db8::53
//	24 domains example.com.,example.org.
//	252 text http://192.168.1.1/wpad.dat
//	224 hex 736f636b73
//
// The addresses must belong to the family of f.
func ParseOption(f Format, s string) (opt Option, err error) {
	defer func() { err = errors.Annotate(err, "invalid option string %q: %w", s) }()

	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, " ", 3)
	if len(parts) < 3 {
		return opt, errors.Error("need at least three fields")
	}

	bitSize := 16
	if f == FormatV4 {
		bitSize = 8
	}

	code64, err := strconv.ParseUint(parts[0], 10, bitSize)
	if err != nil {
		return opt, fmt.Errorf("parsing option code: %w", err)
	}

	code := uint16(code64)
	if f == FormatV4 && (code == CodePad || code == CodeEnd) {
		return opt, ErrBadCode
	}

	v, err := parseValue(f, parts[1], parts[2])
	if err != nil {
		// Don't wrap the error, since it's informative enough as is.
		return opt, err
	}

	return Option{
		Code:  code,
		Value: v,
	}, nil
}

// parseValue parses val according to typ.
func parseValue(f Format, typ, val string) (v Value, err error) {
	switch typ {
	case TypeHex:
		var data []byte
		data, err = hex.DecodeString(val)
		if err != nil {
			return nil, fmt.Errorf("decoding hex: %w", err)
		}

		return Bytes(data), nil
	case TypeIP:
		return parseIPs(f, val, false)
	case TypeIPs:
		return parseIPs(f, val, true)
	case TypeText:
		return String(val), nil
	case TypeDomains:
		return parseDomains(val)
	case TypeU8, TypeU16, TypeU32:
		return parseUint(typ, val)
	default:
		return nil, fmt.Errorf("unknown option type %q", typ)
	}
}

// parseIPs parses a single IP address or a comma-separated list of those.
func parseIPs(f Format, s string, isList bool) (v Value, err error) {
	var strs []string
	if isList {
		strs = strings.Split(s, ",")
	} else {
		strs = []string{s}
	}

	ips := make([]netip.Addr, 0, len(strs))
	for i, ipStr := range strs {
		var ip netip.Addr
		ip, err = netip.ParseAddr(strings.TrimSpace(ipStr))
		if err != nil {
			return nil, fmt.Errorf("parsing ip at index %d: %w", i, err)
		}

		if want4 := f == FormatV4; ip.Is4() != want4 {
			return nil, fmt.Errorf("ip at index %d: address %s has wrong family", i, ip)
		}

		ips = append(ips, ip)
	}

	if f == FormatV4 {
		return IPv4List(ips), nil
	}

	return IPv6List(ips), nil
}

// parseDomains parses a comma-separated list of domain names.
func parseDomains(s string) (v Value, err error) {
	names := strings.Split(s, ",")
	for i, name := range names {
		name = strings.TrimSpace(name)
		err = netutil.ValidateDomainName(strings.TrimSuffix(name, "."))
		if err != nil {
			return nil, fmt.Errorf("domain at index %d: %w", i, err)
		}

		names[i] = name
	}

	return DomainList(names), nil
}

// parseUint parses an unsigned integer of the size defined by typ.
func parseUint(typ, s string) (v Value, err error) {
	bitSize, _ := strconv.Atoi(strings.TrimPrefix(typ, "u"))
	u, err := strconv.ParseUint(s, 10, bitSize)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", typ, err)
	}

	switch bitSize {
	case 8:
		return Uint8(u), nil
	case 16:
		return Uint16(u), nil
	default:
		return Uint32(u), nil
	}
}
