package dhcpopt

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"unicode/utf8"
)

// Opaque is an opaque data payload, like a DUID or an Interface-ID.  It's
// either an ASCII string or a hex-encoded byte sequence, whichever was set
// last.  Decoded values are always in the byte form.
type Opaque struct {
	ascii string
	data  []byte
	isHex bool
}

// type check
var _ Value = Opaque{}

// OpaqueASCII returns an opaque value holding s.
func OpaqueASCII(s string) (o Opaque) {
	o.SetASCII(s)

	return o
}

// OpaqueHex returns an opaque value holding data.  data must not be modified
// after calling OpaqueHex.
func OpaqueHex(data []byte) (o Opaque) {
	o.SetHex(data)

	return o
}

// SetASCII sets the ASCII form of o, discarding the byte form.
func (o *Opaque) SetASCII(s string) {
	o.ascii, o.data, o.isHex = s, nil, false
}

// SetHex sets the byte form of o, discarding the ASCII form.
func (o *Opaque) SetHex(data []byte) {
	o.ascii, o.data, o.isHex = "", data, true
}

// ASCII returns the ASCII form of o and true, if that form was the last one
// set.
func (o Opaque) ASCII() (s string, ok bool) {
	return o.ascii, !o.isHex
}

// Hex returns the hexadecimal encoding of the payload.
func (o Opaque) Hex() (s string) {
	return hex.EncodeToString(o.Bytes())
}

// Bytes returns the payload of o.  The result must not be modified.
func (o Opaque) Bytes() (data []byte) {
	if o.isHex {
		return o.data
	}

	return []byte(o.ascii)
}

// Equal returns true if o and other have the same payload.
func (o Opaque) Equal(other Opaque) (ok bool) {
	return string(o.Bytes()) == string(other.Bytes())
}

// String implements the [fmt.Stringer] interface for Opaque.
func (o Opaque) String() (s string) {
	if !o.isHex {
		return fmt.Sprintf("%q", o.ascii)
	}

	if utf8.Valid(o.data) && isPrintable(o.data) {
		return fmt.Sprintf("%q", o.data)
	}

	return o.Hex()
}

// isPrintable returns true if data only contains printable ASCII.
func isPrintable(data []byte) (ok bool) {
	for _, c := range data {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}

	return true
}

// Len implements the [Value] interface for Opaque.
func (o Opaque) Len() (n int) {
	if o.isHex {
		return len(o.data)
	}

	return len(o.ascii)
}

// Append implements the [Value] interface for Opaque.
func (o Opaque) Append(b []byte) (res []byte) {
	if o.isHex {
		return append(b, o.data...)
	}

	return append(b, o.ascii...)
}

// OpaqueList is a list of opaque items each prefixed with a two-byte length,
// like the DHCPv6 User Class option.
type OpaqueList []Opaque

// type check
var _ Value = OpaqueList(nil)

// Len implements the [Value] interface for OpaqueList.
func (v OpaqueList) Len() (n int) {
	for _, o := range v {
		n += 2 + o.Len()
	}

	return n
}

// Append implements the [Value] interface for OpaqueList.
func (v OpaqueList) Append(b []byte) (res []byte) {
	for _, o := range v {
		b = binary.BigEndian.AppendUint16(b, uint16(o.Len()))
		b = o.Append(b)
	}

	return b
}

// decodeOpaqueList decodes a list of length-prefixed opaque items.
func decodeOpaqueList(data []byte) (v OpaqueList, err error) {
	for len(data) > 0 {
		if len(data) < 2 {
			return nil, ErrMalformedOption
		}

		l := int(binary.BigEndian.Uint16(data))
		data = data[2:]
		if l > len(data) {
			return nil, ErrMalformedOption
		}

		v = append(v, OpaqueHex(data[:l:l]))
		data = data[l:]
	}

	return v, nil
}
