package dhcpsvc

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
)

// mergeOptions returns the options of server with the ones of the same codes
// replaced by the options of link.
func mergeOptions(server, link dhcpopt.Options) (opts dhcpopt.Options) {
	opts = slices.DeleteFunc(server.Clone(), func(o dhcpopt.Option) (del bool) {
		return link.Has(o.Code)
	})

	return append(opts, link.Clone()...)
}

// selectOptions returns the configured options to send.  If onlyRequested is
// true, only the options which codes are reported by requested are returned.
func selectOptions(
	configured dhcpopt.Options,
	onlyRequested bool,
	requested func(code uint16) (ok bool),
) (opts dhcpopt.Options) {
	if !onlyRequested {
		return configured
	}

	return slices.DeleteFunc(configured, func(o dhcpopt.Option) (del bool) {
		return !requested(o.Code)
	})
}

// infinity is the lifetime in seconds meaning that a lease never expires.
const infinity = math.MaxUint32

// seconds converts d to whole seconds for the wire.
func seconds(d time.Duration) (s uint32) {
	if d <= 0 {
		return 0
	}

	secs := d / time.Second
	if secs >= infinity {
		return infinity
	}

	return uint32(secs)
}

// qualify returns the fully qualified form of name.  Partial names get domain
// appended.  qualify returns an empty string if name is empty or partial while
// domain is empty.
func qualify(name, domain string) (fqdn string) {
	switch {
	case name == "" || name == ".":
		return ""
	case strings.HasSuffix(name, "."):
		return strings.ToLower(name)
	case domain == "":
		return ""
	default:
		return strings.ToLower(name + "." + strings.TrimSuffix(domain, ".") + ".")
	}
}
