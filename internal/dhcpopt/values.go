package dhcpopt

import (
	"encoding/binary"
	"net/netip"
	"slices"
)

// Empty is the value of options without payload, like Rapid Commit.
type Empty struct{}

// type check
var _ Value = Empty{}

// Len implements the [Value] interface for Empty.
func (Empty) Len() (n int) { return 0 }

// Append implements the [Value] interface for Empty.
func (Empty) Append(b []byte) (res []byte) { return b }

// Bytes is a raw option payload.  Unknown and malformed options are decoded
// as Bytes by the preserving decoders.
type Bytes []byte

// type check
var _ Value = Bytes(nil)

// Len implements the [Value] interface for Bytes.
func (v Bytes) Len() (n int) { return len(v) }

// Append implements the [Value] interface for Bytes.
func (v Bytes) Append(b []byte) (res []byte) { return append(b, v...) }

// String is a UTF-8 string payload.
type String string

// type check
var _ Value = String("")

// Len implements the [Value] interface for String.
func (v String) Len() (n int) { return len(v) }

// Append implements the [Value] interface for String.
func (v String) Append(b []byte) (res []byte) { return append(b, v...) }

// Uint8 is a single-byte payload.
type Uint8 uint8

// type check
var _ Value = Uint8(0)

// Len implements the [Value] interface for Uint8.
func (Uint8) Len() (n int) { return 1 }

// Append implements the [Value] interface for Uint8.
func (v Uint8) Append(b []byte) (res []byte) { return append(b, byte(v)) }

// Uint16 is a big-endian two-byte payload.
type Uint16 uint16

// type check
var _ Value = Uint16(0)

// Len implements the [Value] interface for Uint16.
func (Uint16) Len() (n int) { return 2 }

// Append implements the [Value] interface for Uint16.
func (v Uint16) Append(b []byte) (res []byte) { return binary.BigEndian.AppendUint16(b, uint16(v)) }

// Uint32 is a big-endian four-byte payload.
type Uint32 uint32

// type check
var _ Value = Uint32(0)

// Len implements the [Value] interface for Uint32.
func (Uint32) Len() (n int) { return 4 }

// Append implements the [Value] interface for Uint32.
func (v Uint32) Append(b []byte) (res []byte) { return binary.BigEndian.AppendUint32(b, uint32(v)) }

// Uint8List is a list of single-byte items, like the DHCPv4 Parameter Request
// List.
type Uint8List []uint8

// type check
var _ Value = Uint8List(nil)

// Len implements the [Value] interface for Uint8List.
func (v Uint8List) Len() (n int) { return len(v) }

// Append implements the [Value] interface for Uint8List.
func (v Uint8List) Append(b []byte) (res []byte) { return append(b, v...) }

// Contains returns true if v contains code.
func (v Uint8List) Contains(code uint8) (ok bool) { return slices.Contains(v, code) }

// Uint16List is a list of big-endian two-byte items, like the DHCPv6 Option
// Request option.
type Uint16List []uint16

// type check
var _ Value = Uint16List(nil)

// Len implements the [Value] interface for Uint16List.
func (v Uint16List) Len() (n int) { return 2 * len(v) }

// Append implements the [Value] interface for Uint16List.
func (v Uint16List) Append(b []byte) (res []byte) {
	for _, u := range v {
		b = binary.BigEndian.AppendUint16(b, u)
	}

	return b
}

// Contains returns true if v contains code.
func (v Uint16List) Contains(code uint16) (ok bool) { return slices.Contains(v, code) }

// Uint32List is a list of big-endian four-byte items.
type Uint32List []uint32

// type check
var _ Value = Uint32List(nil)

// Len implements the [Value] interface for Uint32List.
func (v Uint32List) Len() (n int) { return 4 * len(v) }

// Append implements the [Value] interface for Uint32List.
func (v Uint32List) Append(b []byte) (res []byte) {
	for _, u := range v {
		b = binary.BigEndian.AppendUint32(b, u)
	}

	return b
}

// IPv4List is a list of IPv4 addresses.  All addresses must be valid IPv4
// ones.
type IPv4List []netip.Addr

// type check
var _ Value = IPv4List(nil)

// Len implements the [Value] interface for IPv4List.
func (v IPv4List) Len() (n int) { return 4 * len(v) }

// Append implements the [Value] interface for IPv4List.
func (v IPv4List) Append(b []byte) (res []byte) {
	for _, ip := range v {
		a := ip.As4()
		b = append(b, a[:]...)
	}

	return b
}

// IPv6List is a list of IPv6 addresses.
type IPv6List []netip.Addr

// type check
var _ Value = IPv6List(nil)

// Len implements the [Value] interface for IPv6List.
func (v IPv6List) Len() (n int) { return 16 * len(v) }

// Append implements the [Value] interface for IPv6List.
func (v IPv6List) Append(b []byte) (res []byte) {
	for _, ip := range v {
		a := ip.As16()
		b = append(b, a[:]...)
	}

	return b
}

// DomainList is a list of domain names in the RFC 1035 encoding.  A name
// ending with a dot is fully qualified.
type DomainList []string

// type check
var _ Value = DomainList(nil)

// Len implements the [Value] interface for DomainList.
func (v DomainList) Len() (n int) {
	for _, name := range v {
		n += LabelsLen(name)
	}

	return n
}

// Append implements the [Value] interface for DomainList.
func (v DomainList) Append(b []byte) (res []byte) {
	for _, name := range v {
		b = AppendLabels(b, name)
	}

	return b
}

// Container is a payload consisting solely of sub-options, like the DHCPv4
// Relay Agent Information option.
type Container struct {
	// Options are the sub-options.
	Options Options

	// Format is the format of sub-option headers.
	Format Format
}

// type check
var _ Value = (*Container)(nil)

// Len implements the [Value] interface for *Container.
func (v *Container) Len() (n int) { return OptionsLen(v.Format, v.Options) }

// Append implements the [Value] interface for *Container.
func (v *Container) Append(b []byte) (res []byte) { return AppendOptions(b, v.Format, v.Options) }
