package dhcpopt

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Format is the layout of option headers in a stream.
type Format uint8

const (
	// FormatV4 is the DHCPv4 layout: one-byte code and length, with the Pad
	// and End options.
	FormatV4 Format = iota + 1

	// FormatV6 is the DHCPv6 layout: two-byte code and length.
	FormatV6
)

// DHCPv4 special option codes.
const (
	CodePad uint16 = 0
	CodeEnd uint16 = 255
)

// hdrLen returns the length of an option header.
func (f Format) hdrLen() (n int) {
	if f == FormatV4 {
		return 2
	}

	return 4
}

// maxLen returns the maximum length of an option payload.
func (f Format) maxLen() (n int) {
	if f == FormatV4 {
		return math.MaxUint8
	}

	return math.MaxUint16
}

// Policy defines how a decoder treats options it can't decode.
type Policy uint8

const (
	// PolicyPreserve keeps unknown and malformed options as [Bytes].
	PolicyPreserve Policy = iota

	// PolicyStrict fails the whole stream on unknown and malformed options.
	PolicyStrict

	// PolicyStop stops decoding at the first unknown or malformed option,
	// keeping the options decoded so far.
	PolicyStop
)

// String implements the [fmt.Stringer] interface for Policy.
func (p Policy) String() (s string) {
	switch p {
	case PolicyPreserve:
		return "preserve"
	case PolicyStrict:
		return "strict"
	case PolicyStop:
		return "stop"
	default:
		return fmt.Sprintf("!bad_policy_%d", uint8(p))
	}
}

// Decoder decodes option streams.  A truncated option is fatal regardless of
// the policy.
type Decoder struct {
	// Registry describes known options.
	Registry *Registry

	// Format is the layout of option headers.
	Format Format

	// Policy defines the treatment of unknown and malformed options.
	Policy Policy

	// isNested is true for decoders of sub-option streams, which always
	// preserve unknown sub-options.
	isNested bool
}

// Nested returns a decoder for a sub-option stream described by r.  Unknown
// sub-options are always preserved as [Bytes].
func (d *Decoder) Nested(r *Registry) (nd *Decoder) {
	return &Decoder{
		Registry: r,
		Format:   d.Format,
		Policy:   d.Policy,
		isNested: true,
	}
}

// DecodeNested decodes a sub-option stream described by r.  Unlike
// [Decoder.DecodeOptions], stopping at a bad sub-option is reported as
// [ErrMalformedOption], so that the policy is applied to the containing option.
func (d *Decoder) DecodeNested(r *Registry, data []byte) (opts Options, err error) {
	opts, stopped, err := d.Nested(r).DecodeOptions(data)
	if err != nil {
		return nil, err
	} else if stopped {
		return nil, ErrMalformedOption
	}

	return opts, nil
}

// DecodeOptions decodes an option stream.  stopped is true if [PolicyStop]
// made the decoder ignore the rest of data.  The values may share memory with
// data.
func (d *Decoder) DecodeOptions(data []byte) (opts Options, stopped bool, err error) {
	hdr := d.Format.hdrLen()
	for len(data) > 0 {
		var code uint16
		var l int
		if d.Format == FormatV4 {
			code = uint16(data[0])
			if code == CodePad {
				data = data[1:]

				continue
			} else if code == CodeEnd {
				return opts, false, nil
			} else if len(data) < hdr {
				return nil, false, &OptionError{Code: code, Err: ErrTruncated}
			}

			l = int(data[1])
		} else {
			if len(data) < hdr {
				return nil, false, ErrTruncated
			}

			code = binary.BigEndian.Uint16(data)
			l = int(binary.BigEndian.Uint16(data[2:]))
		}

		if l > len(data)-hdr {
			return nil, false, &OptionError{Code: code, Err: ErrTruncated}
		}

		payload := data[hdr : hdr+l : hdr+l]
		data = data[hdr+l:]

		var v Value
		v, err = d.decodeValue(code, payload)
		if err != nil {
			switch d.Policy {
			case PolicyStrict:
				return nil, false, &OptionError{Code: code, Err: err}
			case PolicyStop:
				return opts, true, nil
			default:
				v = Bytes(payload)
			}
		}

		opts = append(opts, Option{Code: code, Value: v})
	}

	return opts, false, nil
}

// decodeValue decodes a single option payload.
func (d *Decoder) decodeValue(code uint16, payload []byte) (v Value, err error) {
	k, ok := d.Registry.Lookup(code)
	if !ok {
		if d.isNested {
			return Bytes(payload), nil
		}

		return nil, ErrUnknownOption
	}

	return k.Decode(d, payload)
}

// OptionsLen returns the length of the encoding of opts in format f.
func OptionsLen(f Format, opts Options) (n int) {
	hdr := f.hdrLen()
	for _, o := range opts {
		n += hdr + o.Value.Len()
	}

	return n
}

// ValidateOptions returns an error if opts can't be encoded in format f.  It
// doesn't descend into nested values.
func ValidateOptions(f Format, opts Options) (err error) {
	for _, o := range opts {
		if f == FormatV4 && (o.Code == CodePad || o.Code >= CodeEnd) {
			return &OptionError{Code: o.Code, Err: ErrBadCode}
		}

		if o.Value == nil {
			return &OptionError{Code: o.Code, Err: ErrMalformedOption}
		}

		if l, maxLen := o.Value.Len(), f.maxLen(); l > maxLen {
			return &OptionError{
				Code: o.Code,
				Err:  fmt.Errorf("%w: %d bytes, max %d", ErrTooLong, l, maxLen),
			}
		}
	}

	return nil
}

// AppendOptions appends the encoding of opts in format f to b.  The DHCPv4 End
// option isn't appended.  opts should be validated with [ValidateOptions].
func AppendOptions(b []byte, f Format, opts Options) (res []byte) {
	for _, o := range opts {
		l := o.Value.Len()
		if f == FormatV4 {
			b = append(b, byte(o.Code), byte(l))
		} else {
			b = binary.BigEndian.AppendUint16(b, o.Code)
			b = binary.BigEndian.AppendUint16(b, uint16(l))
		}

		b = o.Value.Append(b)
	}

	return b
}
