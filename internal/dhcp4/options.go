package dhcp4

import (
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
)

// Client FQDN option flags, see RFC 4702 Section 2.1.
const (
	FQDNFlagS uint8 = 1 << 0
	FQDNFlagO uint8 = 1 << 1
	FQDNFlagE uint8 = 1 << 2
	FQDNFlagN uint8 = 1 << 3
)

// ClientFQDN is the DHCPv4 Client FQDN option.
type ClientFQDN struct {
	// Name is the domain name.  A partial name doesn't end with a dot.
	Name string

	// Flags are the S, O, E, and N flags.
	Flags uint8

	// RCode1 is the deprecated first response code.
	RCode1 uint8

	// RCode2 is the deprecated second response code.
	RCode2 uint8
}

// type check
var _ dhcpopt.Value = (*ClientFQDN)(nil)

// Len implements the [dhcpopt.Value] interface for *ClientFQDN.
func (v *ClientFQDN) Len() (n int) {
	if v.Flags&FQDNFlagE != 0 {
		return 3 + dhcpopt.LabelsLen(v.Name)
	}

	return 3 + len(v.Name)
}

// Append implements the [dhcpopt.Value] interface for *ClientFQDN.
func (v *ClientFQDN) Append(b []byte) (res []byte) {
	b = append(b, v.Flags, v.RCode1, v.RCode2)
	if v.Flags&FQDNFlagE != 0 {
		return dhcpopt.AppendLabels(b, v.Name)
	}

	return append(b, v.Name...)
}

// KindClientFQDN is the kind of the Client FQDN option.
var KindClientFQDN = &dhcpopt.Kind{
	Name: "client-fqdn",
	Decode: func(_ *dhcpopt.Decoder, data []byte) (v dhcpopt.Value, err error) {
		if len(data) < 3 {
			return nil, dhcpopt.ErrMalformedOption
		}

		fqdn := &ClientFQDN{
			Flags:  data[0],
			RCode1: data[1],
			RCode2: data[2],
		}

		if fqdn.Flags&FQDNFlagE == 0 {
			fqdn.Name = string(data[3:])

			return fqdn, nil
		}

		names, err := dhcpopt.DecodeLabels(data[3:])
		if err != nil {
			return nil, err
		} else if len(names) > 1 {
			return nil, dhcpopt.ErrMalformedOption
		}

		if len(names) == 1 {
			fqdn.Name = names[0]
		}

		return fqdn, nil
	},
}

// NewRegistry returns a registry of the standard DHCPv4 options.  The result
// may be extended with the options defined in the configuration.
func NewRegistry() (r *dhcpopt.Registry) {
	agent := dhcpopt.NewRegistry()
	agent.Register(AgentCircuitID, dhcpopt.KindOpaque)
	agent.Register(AgentRemoteID, dhcpopt.KindOpaque)

	r = dhcpopt.NewRegistry()

	r.Register(OptionSubnetMask, dhcpopt.KindIPv4List)
	r.Register(OptionRouter, dhcpopt.KindIPv4List)
	r.Register(OptionDomainNameServer, dhcpopt.KindIPv4List)
	r.Register(OptionHostName, dhcpopt.KindString)
	r.Register(OptionDomainName, dhcpopt.KindString)
	r.Register(OptionBroadcastAddress, dhcpopt.KindIPv4List)
	r.Register(OptionNTPServers, dhcpopt.KindIPv4List)
	r.Register(OptionVendorSpecific, dhcpopt.KindBytes)
	r.Register(OptionRequestedIP, dhcpopt.KindIPv4List)
	r.Register(OptionLeaseTime, dhcpopt.KindUint32)
	r.Register(OptionOverload, dhcpopt.KindUint8)
	r.Register(OptionMessageType, dhcpopt.KindUint8)
	r.Register(OptionServerIdentifier, dhcpopt.KindIPv4List)
	r.Register(OptionParameterRequest, dhcpopt.KindUint8List)
	r.Register(OptionMessage, dhcpopt.KindString)
	r.Register(OptionMaxMessageSize, dhcpopt.KindUint16)
	r.Register(OptionRenewalTime, dhcpopt.KindUint32)
	r.Register(OptionRebindingTime, dhcpopt.KindUint32)
	r.Register(OptionClassIdentifier, dhcpopt.KindOpaque)
	r.Register(OptionClientIdentifier, dhcpopt.KindOpaque)
	r.Register(OptionRapidCommit, dhcpopt.KindEmpty)
	r.Register(OptionClientFQDN, KindClientFQDN)
	r.Register(OptionRelayAgentInfo, dhcpopt.ContainerKind("relay-agent-info", agent))
	r.Register(OptionDomainSearch, dhcpopt.KindDomainList)
	r.Register(OptionClasslessRoutes, dhcpopt.KindBytes)

	return r
}
