package dhcp6

import (
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
)

// opaqueBytes returns the payload of an opaque value, decoded either as
// [dhcpopt.Opaque] or, when malformed and preserved, as [dhcpopt.Bytes].
func opaqueBytes(v dhcpopt.Value) (data []byte, ok bool) {
	switch v := v.(type) {
	case dhcpopt.Opaque:
		return v.Bytes(), true
	case dhcpopt.Bytes:
		return v, true
	default:
		return nil, false
	}
}

// ClientID returns the DUID from the Client Identifier option of m.
func (m *Message) ClientID() (duid []byte, ok bool) {
	v, ok := m.Options.Get(OptionClientID)
	if !ok {
		return nil, false
	}

	return opaqueBytes(v)
}

// ServerID returns the DUID from the Server Identifier option of m.
func (m *Message) ServerID() (duid []byte, ok bool) {
	v, ok := m.Options.Get(OptionServerID)
	if !ok {
		return nil, false
	}

	return opaqueBytes(v)
}

// RequestedOptions returns the codes from the Option Request option of m.
func (m *Message) RequestedOptions() (codes dhcpopt.Uint16List) {
	v, _ := m.Options.Get(OptionORO)
	codes, _ = v.(dhcpopt.Uint16List)

	return codes
}

// RapidCommit returns true if m contains the Rapid Commit option.
func (m *Message) RapidCommit() (ok bool) {
	return m.Options.Has(OptionRapidCommit)
}

// ClientFQDN returns the Client FQDN option of m, if any.
func (m *Message) ClientFQDN() (fqdn *ClientFQDN, ok bool) {
	v, _ := m.Options.Get(OptionClientFQDN)
	fqdn, ok = v.(*ClientFQDN)

	return fqdn, ok
}

// InterfaceID returns the payload of the Interface-ID option of m.
func (m *RelayMessage) InterfaceID() (id []byte, ok bool) {
	v, ok := m.Options.Get(OptionInterfaceID)
	if !ok {
		return nil, false
	}

	return opaqueBytes(v)
}
