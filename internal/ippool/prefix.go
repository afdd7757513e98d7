package ippool

import (
	"fmt"
	"math/big"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
)

// prefixRange is the set of delegated prefixes of a fixed length within a
// parent prefix.  Slots are the delegated prefixes in ascending order.
type prefixRange struct {
	base   *big.Int
	parent netip.Prefix
	bits   int
}

// newPrefixRange returns the range of prefixes of length bits within parent.
func newPrefixRange(parent netip.Prefix, bits int) (r prefixRange, err error) {
	defer func() { err = errors.Annotate(err, "invalid prefix range: %w") }()

	switch {
	case !parent.IsValid() || parent.Addr().Is4():
		return prefixRange{}, fmt.Errorf("parent prefix %s must be a valid ipv6 prefix", parent)
	case bits <= parent.Bits() || bits > 128:
		return prefixRange{}, fmt.Errorf(
			"delegated length %d must be within (%d, 128]",
			bits,
			parent.Bits(),
		)
	case bits-parent.Bits() > 32:
		return prefixRange{}, fmt.Errorf(
			"delegated length %d is too long for parent %s",
			bits,
			parent,
		)
	}

	parent = parent.Masked()

	return prefixRange{
		base:   (&big.Int{}).SetBytes(parent.Addr().AsSlice()),
		parent: parent,
		bits:   bits,
	}, nil
}

// shift returns the number of host bits of a delegated prefix.
func (r prefixRange) shift() (n uint) {
	return uint(128 - r.bits)
}

// offset returns the number of the delegated prefix starting at ip.  It returns
// false if ip isn't the first address of a delegated prefix in r.
func (r prefixRange) offset(ip netip.Addr) (off uint64, ok bool) {
	if !r.parent.Contains(ip) || netip.PrefixFrom(ip, r.bits).Masked().Addr() != ip {
		return 0, false
	}

	i := (&big.Int{}).SetBytes(ip.AsSlice())
	i.Sub(i, r.base).Rsh(i, r.shift())

	return i.Uint64(), true
}

// addr returns the first address of the delegated prefix number off.
func (r prefixRange) addr(off uint64) (ip netip.Addr) {
	i := (&big.Int{}).SetUint64(off)
	i.Lsh(i, r.shift()).Add(i, r.base)

	return netip.AddrFrom16([16]byte(i.FillBytes(make([]byte, 16))))
}

// size returns the number of delegated prefixes in r.
func (r prefixRange) size() (n uint64) {
	return 1 << (r.bits - r.parent.Bits())
}
