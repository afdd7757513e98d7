package lease

import (
	"net/netip"
	"slices"
	"time"
)

// IdentityAssoc is a client binding: all the addresses or prefixes leased to a
// single identity association.
type IdentityAssoc struct {
	// DUID is the identifier of the client.
	DUID []byte

	// Addresses are the leased addresses.
	Addresses []*IAAddress

	// IAID is the identifier of the identity association.
	IAID uint32

	// Type is the type of the identity association.
	Type IAType

	// State is the state of the most recently updated address.
	State State
}

// IAAddress is a single address or prefix of an [IdentityAssoc].
type IAAddress struct {
	// IP is the address or the address of the delegated prefix.
	IP netip.Addr

	// StartTime is the time the address was last committed or advertised.
	StartTime time.Time

	// PreferredEndTime is the end of the preferred lifetime.
	PreferredEndTime time.Time

	// ValidEndTime is the end of the valid lifetime.
	ValidEndTime time.Time

	// FQDN is the domain name registered in DNS for the address.
	FQDN string

	// PrefixLen is the length of the delegated prefix.
	PrefixLen uint8

	// State is the state of the address.
	State State
}

// Prefix returns the delegated prefix of a, or the single-address prefix.
func (a *IAAddress) Prefix() (p netip.Prefix) {
	if a.PrefixLen == 0 {
		return netip.PrefixFrom(a.IP, a.IP.BitLen())
	}

	return netip.PrefixFrom(a.IP, int(a.PrefixLen))
}

// FromLeases groups leases of a single identity association.  leases must not
// be empty and must belong to the same identity association.
func FromLeases(leases []*Lease) (ia *IdentityAssoc) {
	first := leases[0]
	ia = &IdentityAssoc{
		DUID:      slices.Clone(first.DUID),
		Addresses: make([]*IAAddress, 0, len(leases)),
		IAID:      first.IAID,
		Type:      first.IAType,
	}

	var latest time.Time
	for _, l := range leases {
		ia.Addresses = append(ia.Addresses, &IAAddress{
			IP:               l.IP,
			StartTime:        l.StartTime,
			PreferredEndTime: l.PreferredEndTime,
			ValidEndTime:     l.ValidEndTime,
			FQDN:             l.FQDN,
			PrefixLen:        l.PrefixLen,
			State:            l.State,
		})

		if !l.StartTime.Before(latest) {
			latest = l.StartTime
			ia.State = l.State
		}
	}

	return ia
}

// Leases returns the store records of ia.
func (ia *IdentityAssoc) Leases() (leases []*Lease) {
	leases = make([]*Lease, 0, len(ia.Addresses))
	for _, a := range ia.Addresses {
		leases = append(leases, &Lease{
			IP:               a.IP,
			StartTime:        a.StartTime,
			PreferredEndTime: a.PreferredEndTime,
			ValidEndTime:     a.ValidEndTime,
			DUID:             slices.Clone(ia.DUID),
			FQDN:             a.FQDN,
			IAID:             ia.IAID,
			PrefixLen:        a.PrefixLen,
			IAType:           ia.Type,
			State:            a.State,
		})
	}

	return leases
}
