package ippool

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"math/bits"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
)

// ipRange is an inclusive range of IP addresses.
type ipRange struct {
	start netip.Addr
	end   netip.Addr
}

// maxRangeLen is the maximum number of slots in a pool.  The offsets within a
// pool are kept in a bitset, so the limit keeps it reasonably small.
const maxRangeLen = math.MaxUint32

// newIPRange creates a new IP address range.  start must not be greater than
// end.  The resulting range must not be longer than maxRangeLen.
func newIPRange(start, end netip.Addr) (r ipRange, err error) {
	defer func() { err = errors.Annotate(err, "invalid ip range: %w") }()

	switch false {
	case start.IsValid() && end.IsValid():
		return ipRange{}, errors.Error("start and end must be valid addresses")
	case start.Is4() == end.Is4():
		return ipRange{}, fmt.Errorf("%s and %s must be within the same address family", start, end)
	case !end.Less(start):
		return ipRange{}, fmt.Errorf("start %s is greater than end %s", start, end)
	default:
		diff := (&big.Int{}).Sub(
			(&big.Int{}).SetBytes(end.AsSlice()),
			(&big.Int{}).SetBytes(start.AsSlice()),
		)

		if !diff.IsUint64() || diff.Uint64() >= maxRangeLen {
			return ipRange{}, fmt.Errorf("range length must be within %d", uint32(maxRangeLen))
		}
	}

	return ipRange{
		start: start,
		end:   end,
	}, nil
}

// contains returns true if r contains ip.
func (r ipRange) contains(ip netip.Addr) (ok bool) {
	return r.start.Is4() == ip.Is4() && !ip.Less(r.start) && !r.end.Less(ip)
}

// offset returns the offset of ip from the beginning of r.  It returns 0 and
// false if ip is not in r.
func (r ipRange) offset(ip netip.Addr) (offset uint64, ok bool) {
	if !r.contains(ip) {
		return 0, false
	}

	startData, ipData := r.start.As16(), ip.As16()
	be := binary.BigEndian

	// Assume that the range length was checked against maxRangeLen during
	// construction.
	return be.Uint64(ipData[8:]) - be.Uint64(startData[8:]), true
}

// addr returns the address at offset off from the beginning of r.
func (r ipRange) addr(off uint64) (ip netip.Addr) {
	data := r.start.As16()
	be := binary.BigEndian

	lo, carry := bits.Add64(be.Uint64(data[8:]), off, 0)
	be.PutUint64(data[8:], lo)
	be.PutUint64(data[:8], be.Uint64(data[:8])+carry)

	ip = netip.AddrFrom16(data)
	if r.start.Is4() {
		return ip.Unmap()
	}

	return ip
}

// size returns the number of addresses in r.
func (r ipRange) size() (n uint64) {
	last, _ := r.offset(r.end)

	return last + 1
}

// String implements the fmt.Stringer interface for ipRange.
func (r ipRange) String() (s string) {
	return fmt.Sprintf("%s-%s", r.start, r.end)
}
