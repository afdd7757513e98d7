package dhcp6

import (
	"encoding/binary"
	"net/netip"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
)

// Kinds of the DHCPv6-specific option values.
var (
	KindIANA = &dhcpopt.Kind{
		Name: "ia-na",
		Decode: func(d *dhcpopt.Decoder, data []byte) (v dhcpopt.Value, err error) {
			return decodeIA(d, data)
		},
	}
	KindIAPD = &dhcpopt.Kind{
		Name: "ia-pd",
		Decode: func(d *dhcpopt.Decoder, data []byte) (v dhcpopt.Value, err error) {
			ia, err := decodeIA(d, data)
			if err != nil {
				return nil, err
			}

			return (*IAPD)(ia), nil
		},
	}
	KindIATA = &dhcpopt.Kind{
		Name:   "ia-ta",
		Decode: decodeIATA,
	}
	KindIAAddr = &dhcpopt.Kind{
		Name:   "iaaddr",
		Decode: decodeIAAddr,
	}
	KindIAPrefix = &dhcpopt.Kind{
		Name:   "iaprefix",
		Decode: decodeIAPrefix,
	}
	KindStatusCode = &dhcpopt.Kind{
		Name:   "status-code",
		Decode: decodeStatusCode,
	}
	KindRelayMsg = &dhcpopt.Kind{
		Name:   "relay-msg",
		Decode: decodeRelayMsg,
	}
	KindVendorClass = &dhcpopt.Kind{
		Name:   "vendor-class",
		Decode: decodeVendorClass,
	}
	KindVendorOpts = &dhcpopt.Kind{
		Name:   "vendor-opts",
		Decode: decodeVendorOpts,
	}
	KindClientFQDN = &dhcpopt.Kind{
		Name:   "client-fqdn",
		Decode: decodeClientFQDN,
	}
)

// NewRegistry returns a registry of the standard DHCPv6 options.  The result
// may be extended with the options defined in the configuration.
func NewRegistry() (r *dhcpopt.Registry) {
	r = dhcpopt.NewRegistry()

	r.Register(OptionClientID, dhcpopt.KindOpaque)
	r.Register(OptionServerID, dhcpopt.KindOpaque)
	r.Register(OptionIANA, KindIANA)
	r.Register(OptionIATA, KindIATA)
	r.Register(OptionIAAddr, KindIAAddr)
	r.Register(OptionORO, dhcpopt.KindUint16List)
	r.Register(OptionPreference, dhcpopt.KindUint8)
	r.Register(OptionElapsedTime, dhcpopt.KindUint16)
	r.Register(OptionRelayMsg, KindRelayMsg)
	r.Register(OptionAuth, dhcpopt.KindBytes)
	r.Register(OptionUnicast, dhcpopt.KindIPv6List)
	r.Register(OptionStatusCode, KindStatusCode)
	r.Register(OptionRapidCommit, dhcpopt.KindEmpty)
	r.Register(OptionUserClass, dhcpopt.KindOpaqueList)
	r.Register(OptionVendorClass, KindVendorClass)
	r.Register(OptionVendorOpts, KindVendorOpts)
	r.Register(OptionInterfaceID, dhcpopt.KindOpaque)
	r.Register(OptionReconfMsg, dhcpopt.KindUint8)
	r.Register(OptionReconfAccept, dhcpopt.KindEmpty)
	r.Register(OptionSIPServersNames, dhcpopt.KindDomainList)
	r.Register(OptionSIPServersAddrs, dhcpopt.KindIPv6List)
	r.Register(OptionDNSServers, dhcpopt.KindIPv6List)
	r.Register(OptionDomainList, dhcpopt.KindDomainList)
	r.Register(OptionIAPD, KindIAPD)
	r.Register(OptionIAPrefix, KindIAPrefix)
	r.Register(OptionNISServers, dhcpopt.KindIPv6List)
	r.Register(OptionNISPServers, dhcpopt.KindIPv6List)
	r.Register(OptionNISDomainName, dhcpopt.KindDomainList)
	r.Register(OptionNISPDomainName, dhcpopt.KindDomainList)
	r.Register(OptionSNTPServers, dhcpopt.KindIPv6List)
	r.Register(OptionInfoRefreshTime, dhcpopt.KindUint32)
	r.Register(OptionRemoteID, dhcpopt.KindBytes)
	r.Register(OptionSubscriberID, dhcpopt.KindOpaque)
	r.Register(OptionClientFQDN, KindClientFQDN)

	return r
}

// decodeIA decodes the common layout of IA_NA and IA_PD.
func decodeIA(d *dhcpopt.Decoder, data []byte) (ia *IANA, err error) {
	if len(data) < iaHdrLen {
		return nil, dhcpopt.ErrMalformedOption
	}

	opts, err := d.DecodeNested(d.Registry, data[iaHdrLen:])
	if err != nil {
		return nil, err
	}

	return &IANA{
		Options: opts,
		IAID:    binary.BigEndian.Uint32(data),
		T1:      binary.BigEndian.Uint32(data[4:]),
		T2:      binary.BigEndian.Uint32(data[8:]),
	}, nil
}

func decodeIATA(d *dhcpopt.Decoder, data []byte) (v dhcpopt.Value, err error) {
	if len(data) < 4 {
		return nil, dhcpopt.ErrMalformedOption
	}

	opts, err := d.DecodeNested(d.Registry, data[4:])
	if err != nil {
		return nil, err
	}

	return &IATA{
		Options: opts,
		IAID:    binary.BigEndian.Uint32(data),
	}, nil
}

func decodeIAAddr(d *dhcpopt.Decoder, data []byte) (v dhcpopt.Value, err error) {
	if len(data) < 24 {
		return nil, dhcpopt.ErrMalformedOption
	}

	opts, err := d.DecodeNested(d.Registry, data[24:])
	if err != nil {
		return nil, err
	}

	return &IAAddr{
		Options:           opts,
		Addr:              netip.AddrFrom16([16]byte(data[:16])),
		PreferredLifetime: binary.BigEndian.Uint32(data[16:]),
		ValidLifetime:     binary.BigEndian.Uint32(data[20:]),
	}, nil
}

func decodeIAPrefix(d *dhcpopt.Decoder, data []byte) (v dhcpopt.Value, err error) {
	if len(data) < 25 || data[8] > 128 {
		return nil, dhcpopt.ErrMalformedOption
	}

	opts, err := d.DecodeNested(d.Registry, data[25:])
	if err != nil {
		return nil, err
	}

	addr := netip.AddrFrom16([16]byte(data[9:25]))

	return &IAPrefix{
		Options:           opts,
		Prefix:            netip.PrefixFrom(addr, int(data[8])),
		PreferredLifetime: binary.BigEndian.Uint32(data),
		ValidLifetime:     binary.BigEndian.Uint32(data[4:]),
	}, nil
}

func decodeStatusCode(_ *dhcpopt.Decoder, data []byte) (v dhcpopt.Value, err error) {
	if len(data) < 2 {
		return nil, dhcpopt.ErrMalformedOption
	}

	return &StatusCode{
		Message: string(data[2:]),
		Code:    Status(binary.BigEndian.Uint16(data)),
	}, nil
}

func decodeRelayMsg(d *dhcpopt.Decoder, data []byte) (v dhcpopt.Value, err error) {
	p, err := decodePacket(d, data)
	if err != nil {
		return nil, err
	}

	return &RelayMsg{Packet: p}, nil
}

func decodeVendorClass(_ *dhcpopt.Decoder, data []byte) (v dhcpopt.Value, err error) {
	if len(data) < 4 {
		return nil, dhcpopt.ErrMalformedOption
	}

	items, err := dhcpopt.KindOpaqueList.Decode(nil, data[4:])
	if err != nil {
		return nil, err
	}

	return &VendorClass{
		Data:             items.(dhcpopt.OpaqueList),
		EnterpriseNumber: binary.BigEndian.Uint32(data),
	}, nil
}

func decodeVendorOpts(d *dhcpopt.Decoder, data []byte) (v dhcpopt.Value, err error) {
	if len(data) < 4 {
		return nil, dhcpopt.ErrMalformedOption
	}

	opts, err := d.DecodeNested(nil, data[4:])
	if err != nil {
		return nil, err
	}

	return &VendorOpts{
		Options:          opts,
		EnterpriseNumber: binary.BigEndian.Uint32(data),
	}, nil
}

func decodeClientFQDN(_ *dhcpopt.Decoder, data []byte) (v dhcpopt.Value, err error) {
	if len(data) < 1 {
		return nil, dhcpopt.ErrMalformedOption
	}

	names, err := dhcpopt.DecodeLabels(data[1:])
	if err != nil {
		return nil, err
	} else if len(names) > 1 {
		return nil, dhcpopt.ErrMalformedOption
	}

	fqdn := &ClientFQDN{Flags: data[0]}
	if len(names) == 1 {
		fqdn.Name = names[0]
	}

	return fqdn, nil
}
