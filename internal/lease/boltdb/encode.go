package boltdb

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
)

// recordVersion is the version of the binary lease encoding.
const recordVersion byte = 1

// recordFixedLen is the length of the fixed part of an encoded lease: version,
// type, state, prefix length, IAID, three timestamps, and two length fields.
const recordFixedLen = 1 + 1 + 1 + 1 + 4 + 3*8 + 2 + 2

// addrKey returns the key of the lease with the address ip.  IPv4 addresses
// are mapped, so that the keys of a range are contiguous.
func addrKey(ip netip.Addr) (k []byte) {
	a := ip.As16()

	return a[:]
}

// keyAddr parses the address from the key.
func keyAddr(k []byte) (ip netip.Addr, err error) {
	if len(k) != 16 {
		return netip.Addr{}, fmt.Errorf("bad key length %d", len(k))
	}

	return netip.AddrFrom16([16]byte(k)).Unmap(), nil
}

// identityPrefix returns the prefix of the identity index keys of the
// identity association.
func identityPrefix(duid []byte, t lease.IAType, iaid uint32) (p []byte) {
	p = make([]byte, 0, 5+len(duid)+16)
	p = append(p, byte(t))
	p = binary.BigEndian.AppendUint32(p, iaid)

	return append(p, duid...)
}

// identityKey returns the identity index key of l.
func identityKey(l *lease.Lease) (k []byte) {
	return append(identityPrefix(l.DUID, l.IAType, l.IAID), addrKey(l.IP)...)
}

// timeToNano returns the stored form of t.  Zero time is stored as 0.
func timeToNano(t time.Time) (n int64) {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

// nanoToTime parses the stored form of a time value.
func nanoToTime(n int64) (t time.Time) {
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, n).UTC()
}

// encodeLease serializes l, except for its address, into binary data.
func encodeLease(l *lease.Lease) (data []byte) {
	data = make([]byte, 0, recordFixedLen+len(l.DUID)+len(l.FQDN))
	data = append(data, recordVersion, byte(l.IAType), byte(l.State), l.PrefixLen)
	data = binary.BigEndian.AppendUint32(data, l.IAID)
	for _, t := range []time.Time{l.StartTime, l.PreferredEndTime, l.ValidEndTime} {
		data = binary.BigEndian.AppendUint64(data, uint64(timeToNano(t)))
	}

	data = binary.BigEndian.AppendUint16(data, uint16(len(l.DUID)))
	data = append(data, l.DUID...)
	data = binary.BigEndian.AppendUint16(data, uint16(len(l.FQDN)))

	return append(data, l.FQDN...)
}

// decodeLease deserializes binary data into a lease with the address ip.
func decodeLease(ip netip.Addr, data []byte) (l *lease.Lease, err error) {
	if len(data) < recordFixedLen {
		return nil, fmt.Errorf("length of the data is less than expected: got %d", len(data))
	} else if data[0] != recordVersion {
		return nil, fmt.Errorf("unsupported record version %d", data[0])
	}

	l = &lease.Lease{
		IP:        ip,
		IAType:    lease.IAType(data[1]),
		State:     lease.State(data[2]),
		PrefixLen: data[3],
		IAID:      binary.BigEndian.Uint32(data[4:]),
	}

	times := data[8:]
	l.StartTime = nanoToTime(int64(binary.BigEndian.Uint64(times)))
	l.PreferredEndTime = nanoToTime(int64(binary.BigEndian.Uint64(times[8:])))
	l.ValidEndTime = nanoToTime(int64(binary.BigEndian.Uint64(times[16:])))

	rest := data[32:]
	l.DUID, rest, err = readString(rest)
	if err != nil {
		return nil, fmt.Errorf("duid: %w", err)
	}

	fqdn, _, err := readString(rest)
	if err != nil {
		return nil, fmt.Errorf("fqdn: %w", err)
	}

	l.FQDN = string(fqdn)

	return l, nil
}

// readString reads a two-byte length-prefixed byte string from data.
func readString(data []byte) (s, rest []byte, err error) {
	if len(data) < 2 {
		return nil, nil, fmt.Errorf("length of the data is less than expected: got %d", len(data))
	}

	n := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < n {
		return nil, nil, fmt.Errorf("expected length %d, got %d", n, len(data))
	}

	return append([]byte(nil), data[:n]...), data[n:], nil
}
