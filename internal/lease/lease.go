// Package lease contains the persistent model of DHCP bindings and the
// interface of lease stores along with an in-memory implementation.
package lease

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/AdguardTeam/golibs/errors"
)

// IAType is the type of an identity association.
type IAType uint8

// Identity association types.  IATypeV4 is used for DHCPv4 bindings.
const (
	IATypeNA IAType = 1
	IATypeTA IAType = 2
	IATypePD IAType = 3
	IATypeV4 IAType = 4
)

// String implements the [fmt.Stringer] interface for IAType.
func (t IAType) String() (s string) {
	switch t {
	case IATypeNA:
		return "na"
	case IATypeTA:
		return "ta"
	case IATypePD:
		return "pd"
	case IATypeV4:
		return "v4"
	default:
		return fmt.Sprintf("!bad_ia_type_%d", uint8(t))
	}
}

// State is the state of a binding or a single leased address.
type State uint8

// Binding states.
const (
	StateAdvertised State = 1
	StateCommitted  State = 2
	StateExpired    State = 3
	StateReleased   State = 4
	StateDeclined   State = 5
	StateStatic     State = 6
)

// String implements the [fmt.Stringer] interface for State.
func (s State) String() (str string) {
	switch s {
	case StateAdvertised:
		return "advertised"
	case StateCommitted:
		return "committed"
	case StateExpired:
		return "expired"
	case StateReleased:
		return "released"
	case StateDeclined:
		return "declined"
	case StateStatic:
		return "static"
	default:
		return fmt.Sprintf("!bad_state_%d", uint8(s))
	}
}

// Lease is a single leased address or delegated prefix.  The address is unique
// within a store.
type Lease struct {
	// IP is the leased address or the address of the delegated prefix.  It
	// must be valid.
	IP netip.Addr

	// StartTime is the time the lease was last committed or advertised.
	StartTime time.Time

	// PreferredEndTime is the end of the preferred lifetime.
	PreferredEndTime time.Time

	// ValidEndTime is the end of the valid lifetime.  For advertised leases
	// it's the end of the offer, for declined ones the end of the quarantine.
	ValidEndTime time.Time

	// DUID is the identifier of the client.  For DHCPv4 it's the client
	// identifier or the hardware address prefixed with the hardware type.  It
	// is empty for quarantined addresses.
	DUID []byte

	// FQDN is the domain name registered in DNS for the lease, if any.
	FQDN string

	// IAID is the identifier of the identity association.
	IAID uint32

	// PrefixLen is the length of the delegated prefix.  It's zero for
	// addresses.
	PrefixLen uint8

	// IAType is the type of the identity association.
	IAType IAType

	// State is the state of the lease.
	State State
}

// Clone returns a deep copy of l.
func (l *Lease) Clone() (clone *Lease) {
	if l == nil {
		return nil
	}

	c := *l
	c.DUID = slices.Clone(l.DUID)

	return &c
}

// Prefix returns the delegated prefix of l.  For addresses it's the
// single-address prefix.
func (l *Lease) Prefix() (p netip.Prefix) {
	if l.PrefixLen == 0 {
		return netip.PrefixFrom(l.IP, l.IP.BitLen())
	}

	return netip.PrefixFrom(l.IP, int(l.PrefixLen))
}

// BelongsTo returns true if l is leased to the identity association.
func (l *Lease) BelongsTo(duid []byte, t IAType, iaid uint32) (ok bool) {
	return l.IAType == t && l.IAID == iaid && bytes.Equal(l.DUID, duid)
}

// IsQuarantined returns true if l is a placeholder for a declined address.
func (l *Lease) IsQuarantined() (ok bool) {
	return l.State == StateDeclined && len(l.DUID) == 0
}

// IsUnused returns true if the address of l may be given to another client at
// now.
func (l *Lease) IsUnused(now time.Time) (ok bool) {
	switch l.State {
	case StateExpired, StateReleased:
		return true
	case StateAdvertised, StateDeclined:
		return !now.Before(l.ValidEndTime)
	default:
		return false
	}
}

// IsExpired returns true if the valid lifetime of the committed lease l has
// ended at now.
func (l *Lease) IsExpired(now time.Time) (ok bool) {
	return l.State == StateCommitted && !now.Before(l.ValidEndTime)
}

// String implements the [fmt.Stringer] interface for *Lease.
func (l *Lease) String() (s string) {
	return fmt.Sprintf(
		"%s %s/%d duid=%s iaid=%d %s",
		l.IAType,
		l.IP,
		l.PrefixLen,
		hex.EncodeToString(l.DUID),
		l.IAID,
		l.State,
	)
}

// Range is an inclusive range of addresses of the same family.
type Range struct {
	Start netip.Addr
	End   netip.Addr
}

// Contains returns true if r contains ip.
func (r Range) Contains(ip netip.Addr) (ok bool) {
	return r.Start.Is4() == ip.Is4() && !ip.Less(r.Start) && !r.End.Less(ip)
}

// String implements the [fmt.Stringer] interface for Range.
func (r Range) String() (s string) {
	return r.Start.String() + "-" + r.End.String()
}

// compareByValidEnd orders leases by the end of the valid lifetime and then by
// address.
func compareByValidEnd(a, b *Lease) (res int) {
	if res = a.ValidEndTime.Compare(b.ValidEndTime); res != 0 {
		return res
	}

	return a.IP.Compare(b.IP)
}

// compareByIP orders leases by address.
func compareByIP(a, b *Lease) (res int) {
	return a.IP.Compare(b.IP)
}

// SortUnused sorts leases in the order of reuse: the oldest first.
func SortUnused(leases []*Lease) {
	slices.SortFunc(leases, compareByValidEnd)
}

// ParseIAType parses the string form of an identity association type.
func ParseIAType(s string) (t IAType, err error) {
	for _, t = range []IAType{IATypeNA, IATypeTA, IATypePD, IATypeV4} {
		if t.String() == s {
			return t, nil
		}
	}

	return 0, fmt.Errorf("ia type: %w: %q", errors.ErrBadEnumValue, s)
}

// ParseState parses the string form of a state.
func ParseState(s string) (st State, err error) {
	for st = StateAdvertised; st <= StateStatic; st++ {
		if st.String() == s {
			return st, nil
		}
	}

	return 0, fmt.Errorf("state: %w: %q", errors.ErrBadEnumValue, s)
}
