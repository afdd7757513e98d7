package dhcpopt

import (
	"encoding/binary"
	"maps"
	"net/netip"
)

// DecodeFunc decodes the payload of a single option.  d is the decoder of the
// stream containing the option, it is used to decode nested streams.  The
// returned value may share memory with data.
type DecodeFunc func(d *Decoder, data []byte) (v Value, err error)

// Kind is a kind of option values.
type Kind struct {
	// Decode decodes the payload.  It must not be nil.
	Decode DecodeFunc

	// Name is the human-readable name of the kind.
	Name string
}

// Kinds of the values defined in this package.
var (
	KindBytes = &Kind{
		Name: "bytes",
		Decode: func(_ *Decoder, data []byte) (v Value, err error) {
			return Bytes(data), nil
		},
	}
	KindString = &Kind{
		Name: "string",
		Decode: func(_ *Decoder, data []byte) (v Value, err error) {
			return String(data), nil
		},
	}
	KindEmpty = &Kind{
		Name: "empty",
		Decode: func(_ *Decoder, data []byte) (v Value, err error) {
			if len(data) != 0 {
				return nil, ErrMalformedOption
			}

			return Empty{}, nil
		},
	}
	KindUint8 = &Kind{
		Name: "uint8",
		Decode: func(_ *Decoder, data []byte) (v Value, err error) {
			if len(data) != 1 {
				return nil, ErrMalformedOption
			}

			return Uint8(data[0]), nil
		},
	}
	KindUint16 = &Kind{
		Name: "uint16",
		Decode: func(_ *Decoder, data []byte) (v Value, err error) {
			if len(data) != 2 {
				return nil, ErrMalformedOption
			}

			return Uint16(binary.BigEndian.Uint16(data)), nil
		},
	}
	KindUint32 = &Kind{
		Name: "uint32",
		Decode: func(_ *Decoder, data []byte) (v Value, err error) {
			if len(data) != 4 {
				return nil, ErrMalformedOption
			}

			return Uint32(binary.BigEndian.Uint32(data)), nil
		},
	}
	KindUint8List = &Kind{
		Name: "uint8-list",
		Decode: func(_ *Decoder, data []byte) (v Value, err error) {
			return Uint8List(data), nil
		},
	}
	KindUint16List = &Kind{
		Name:   "uint16-list",
		Decode: decodeUint16List,
	}
	KindUint32List = &Kind{
		Name:   "uint32-list",
		Decode: decodeUint32List,
	}
	KindIPv4List = &Kind{
		Name:   "ipv4-list",
		Decode: decodeIPv4List,
	}
	KindIPv6List = &Kind{
		Name:   "ipv6-list",
		Decode: decodeIPv6List,
	}
	KindDomainList = &Kind{
		Name: "domain-list",
		Decode: func(_ *Decoder, data []byte) (v Value, err error) {
			names, err := DecodeLabels(data)
			if err != nil {
				return nil, err
			}

			return DomainList(names), nil
		},
	}
	KindOpaque = &Kind{
		Name: "opaque",
		Decode: func(_ *Decoder, data []byte) (v Value, err error) {
			return OpaqueHex(data), nil
		},
	}
	KindOpaqueList = &Kind{
		Name: "opaque-list",
		Decode: func(_ *Decoder, data []byte) (v Value, err error) {
			return decodeOpaqueList(data)
		},
	}
)

// kindsByName maps names of the simple kinds to the kinds.
var kindsByName = map[string]*Kind{
	KindBytes.Name:      KindBytes,
	KindString.Name:     KindString,
	KindEmpty.Name:      KindEmpty,
	KindUint8.Name:      KindUint8,
	KindUint16.Name:     KindUint16,
	KindUint32.Name:     KindUint32,
	KindUint8List.Name:  KindUint8List,
	KindUint16List.Name: KindUint16List,
	KindUint32List.Name: KindUint32List,
	KindIPv4List.Name:   KindIPv4List,
	KindIPv6List.Name:   KindIPv6List,
	KindDomainList.Name: KindDomainList,
	KindOpaque.Name:     KindOpaque,
	KindOpaqueList.Name: KindOpaqueList,
}

// KindByName returns the simple kind with the given name, if any.
func KindByName(name string) (k *Kind, ok bool) {
	k, ok = kindsByName[name]

	return k, ok
}

// ContainerKind returns a kind for options consisting of sub-options described
// by r.  Sub-options missing from r are always preserved as [Bytes].
func ContainerKind(name string, r *Registry) (k *Kind) {
	return &Kind{
		Name: name,
		Decode: func(d *Decoder, data []byte) (v Value, err error) {
			opts, err := d.DecodeNested(r, data)
			if err != nil {
				return nil, err
			}

			return &Container{
				Options: opts,
				Format:  d.Format,
			}, nil
		},
	}
}

func decodeUint16List(_ *Decoder, data []byte) (v Value, err error) {
	if len(data)%2 != 0 {
		return nil, ErrMalformedOption
	}

	l := make(Uint16List, 0, len(data)/2)
	for ; len(data) > 0; data = data[2:] {
		l = append(l, binary.BigEndian.Uint16(data))
	}

	return l, nil
}

func decodeUint32List(_ *Decoder, data []byte) (v Value, err error) {
	if len(data)%4 != 0 {
		return nil, ErrMalformedOption
	}

	l := make(Uint32List, 0, len(data)/4)
	for ; len(data) > 0; data = data[4:] {
		l = append(l, binary.BigEndian.Uint32(data))
	}

	return l, nil
}

func decodeIPv4List(_ *Decoder, data []byte) (v Value, err error) {
	if len(data)%4 != 0 {
		return nil, ErrMalformedOption
	}

	l := make(IPv4List, 0, len(data)/4)
	for ; len(data) > 0; data = data[4:] {
		l = append(l, netip.AddrFrom4([4]byte(data[:4])))
	}

	return l, nil
}

func decodeIPv6List(_ *Decoder, data []byte) (v Value, err error) {
	if len(data)%16 != 0 {
		return nil, ErrMalformedOption
	}

	l := make(IPv6List, 0, len(data)/16)
	for ; len(data) > 0; data = data[16:] {
		l = append(l, netip.AddrFrom16([16]byte(data[:16])))
	}

	return l, nil
}

// Registry maps option codes to value kinds.  A registry must not be modified
// after it's been passed to a [Decoder].
type Registry struct {
	kinds map[uint16]*Kind
}

// NewRegistry returns a new empty registry.
func NewRegistry() (r *Registry) {
	return &Registry{
		kinds: map[uint16]*Kind{},
	}
}

// Register sets the kind of the options with the given code.  k must not be
// nil.
func (r *Registry) Register(code uint16, k *Kind) {
	r.kinds[code] = k
}

// Lookup returns the kind registered for code.
func (r *Registry) Lookup(code uint16) (k *Kind, ok bool) {
	if r == nil {
		return nil, false
	}

	k, ok = r.kinds[code]

	return k, ok
}

// Clone returns a deep copy of r, which can be extended independently.
func (r *Registry) Clone() (clone *Registry) {
	return &Registry{
		kinds: maps.Clone(r.kinds),
	}
}
