package dhcp6

import (
	"encoding/binary"
	"net/netip"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
)

// IANA is the Identity Association for Non-temporary Addresses option.  The
// same layout is used by [IAPD].
type IANA struct {
	// Options are the sub-options, usually [IAAddr] and [StatusCode].
	Options dhcpopt.Options

	// IAID is the identifier of the IA, unique among the IAs of the client.
	IAID uint32

	// T1 is the time in seconds at which the client should renew.
	T1 uint32

	// T2 is the time in seconds at which the client should rebind.
	T2 uint32
}

// type check
var _ dhcpopt.Value = (*IANA)(nil)

// iaHdrLen is the length of the fixed part of IA_NA and IA_PD.
const iaHdrLen = 12

// Len implements the [dhcpopt.Value] interface for *IANA.
func (v *IANA) Len() (n int) {
	return iaHdrLen + dhcpopt.OptionsLen(dhcpopt.FormatV6, v.Options)
}

// Append implements the [dhcpopt.Value] interface for *IANA.
func (v *IANA) Append(b []byte) (res []byte) {
	b = binary.BigEndian.AppendUint32(b, v.IAID)
	b = binary.BigEndian.AppendUint32(b, v.T1)
	b = binary.BigEndian.AppendUint32(b, v.T2)

	return appendOpts(b, v.Options)
}

// IAPD is the Identity Association for Prefix Delegation option.  Its layout is
// the one of [IANA] with [IAPrefix] sub-options.
type IAPD IANA

// type check
var _ dhcpopt.Value = (*IAPD)(nil)

// Len implements the [dhcpopt.Value] interface for *IAPD.
func (v *IAPD) Len() (n int) { return (*IANA)(v).Len() }

// Append implements the [dhcpopt.Value] interface for *IAPD.
func (v *IAPD) Append(b []byte) (res []byte) { return (*IANA)(v).Append(b) }

// IATA is the Identity Association for Temporary Addresses option.
type IATA struct {
	// Options are the sub-options.
	Options dhcpopt.Options

	// IAID is the identifier of the IA.
	IAID uint32
}

// type check
var _ dhcpopt.Value = (*IATA)(nil)

// Len implements the [dhcpopt.Value] interface for *IATA.
func (v *IATA) Len() (n int) {
	return 4 + dhcpopt.OptionsLen(dhcpopt.FormatV6, v.Options)
}

// Append implements the [dhcpopt.Value] interface for *IATA.
func (v *IATA) Append(b []byte) (res []byte) {
	b = binary.BigEndian.AppendUint32(b, v.IAID)

	return appendOpts(b, v.Options)
}

// IAAddr is the IA Address option.
type IAAddr struct {
	// Options are the sub-options.
	Options dhcpopt.Options

	// Addr is the address.  It must be an IPv6 one.
	Addr netip.Addr

	// PreferredLifetime is the preferred lifetime in seconds.
	PreferredLifetime uint32

	// ValidLifetime is the valid lifetime in seconds.
	ValidLifetime uint32
}

// type check
var _ dhcpopt.Value = (*IAAddr)(nil)

// Len implements the [dhcpopt.Value] interface for *IAAddr.
func (v *IAAddr) Len() (n int) {
	return 24 + dhcpopt.OptionsLen(dhcpopt.FormatV6, v.Options)
}

// Append implements the [dhcpopt.Value] interface for *IAAddr.
func (v *IAAddr) Append(b []byte) (res []byte) {
	a := v.Addr.As16()
	b = append(b, a[:]...)
	b = binary.BigEndian.AppendUint32(b, v.PreferredLifetime)
	b = binary.BigEndian.AppendUint32(b, v.ValidLifetime)

	return appendOpts(b, v.Options)
}

// IAPrefix is the IA Prefix option.
type IAPrefix struct {
	// Options are the sub-options.
	Options dhcpopt.Options

	// Prefix is the delegated prefix.
	Prefix netip.Prefix

	// PreferredLifetime is the preferred lifetime in seconds.
	PreferredLifetime uint32

	// ValidLifetime is the valid lifetime in seconds.
	ValidLifetime uint32
}

// type check
var _ dhcpopt.Value = (*IAPrefix)(nil)

// Len implements the [dhcpopt.Value] interface for *IAPrefix.
func (v *IAPrefix) Len() (n int) {
	return 25 + dhcpopt.OptionsLen(dhcpopt.FormatV6, v.Options)
}

// Append implements the [dhcpopt.Value] interface for *IAPrefix.
func (v *IAPrefix) Append(b []byte) (res []byte) {
	b = binary.BigEndian.AppendUint32(b, v.PreferredLifetime)
	b = binary.BigEndian.AppendUint32(b, v.ValidLifetime)
	b = append(b, byte(v.Prefix.Bits()))
	a := v.Prefix.Addr().As16()
	b = append(b, a[:]...)

	return appendOpts(b, v.Options)
}

// StatusCode is the Status Code option.
type StatusCode struct {
	// Message is the UTF-8 status message.
	Message string

	// Code is the status code.
	Code Status
}

// type check
var _ dhcpopt.Value = (*StatusCode)(nil)

// Len implements the [dhcpopt.Value] interface for *StatusCode.
func (v *StatusCode) Len() (n int) { return 2 + len(v.Message) }

// Append implements the [dhcpopt.Value] interface for *StatusCode.
func (v *StatusCode) Append(b []byte) (res []byte) {
	b = binary.BigEndian.AppendUint16(b, uint16(v.Code))

	return append(b, v.Message...)
}

// RelayMsg is the Relay Message option carrying an encapsulated packet.
type RelayMsg struct {
	// Packet is the encapsulated packet.  It must not be nil.
	Packet Packet
}

// type check
var _ dhcpopt.Value = (*RelayMsg)(nil)

// Len implements the [dhcpopt.Value] interface for *RelayMsg.
func (v *RelayMsg) Len() (n int) { return v.Packet.len() }

// Append implements the [dhcpopt.Value] interface for *RelayMsg.
func (v *RelayMsg) Append(b []byte) (res []byte) { return v.Packet.appendTo(b) }

// VendorClass is the Vendor Class option.
type VendorClass struct {
	// Data are the vendor class data items.
	Data dhcpopt.OpaqueList

	// EnterpriseNumber is the IANA enterprise number of the vendor.
	EnterpriseNumber uint32
}

// type check
var _ dhcpopt.Value = (*VendorClass)(nil)

// Len implements the [dhcpopt.Value] interface for *VendorClass.
func (v *VendorClass) Len() (n int) { return 4 + v.Data.Len() }

// Append implements the [dhcpopt.Value] interface for *VendorClass.
func (v *VendorClass) Append(b []byte) (res []byte) {
	b = binary.BigEndian.AppendUint32(b, v.EnterpriseNumber)

	return v.Data.Append(b)
}

// VendorOpts is the Vendor-specific Information option.  The sub-options are
// vendor-defined and are kept as raw bytes.
type VendorOpts struct {
	// Options are the vendor-defined sub-options.
	Options dhcpopt.Options

	// EnterpriseNumber is the IANA enterprise number of the vendor.
	EnterpriseNumber uint32
}

// type check
var _ dhcpopt.Value = (*VendorOpts)(nil)

// Len implements the [dhcpopt.Value] interface for *VendorOpts.
func (v *VendorOpts) Len() (n int) {
	return 4 + dhcpopt.OptionsLen(dhcpopt.FormatV6, v.Options)
}

// Append implements the [dhcpopt.Value] interface for *VendorOpts.
func (v *VendorOpts) Append(b []byte) (res []byte) {
	b = binary.BigEndian.AppendUint32(b, v.EnterpriseNumber)

	return appendOpts(b, v.Options)
}

// Client FQDN option flags, see RFC 4704 Section 4.1.
const (
	FQDNFlagS uint8 = 1 << 0
	FQDNFlagO uint8 = 1 << 1
	FQDNFlagN uint8 = 1 << 2
)

// ClientFQDN is the Client FQDN option.
type ClientFQDN struct {
	// Name is the domain name.  A partial name doesn't end with a dot.
	Name string

	// Flags are the S, O, and N flags.
	Flags uint8
}

// type check
var _ dhcpopt.Value = (*ClientFQDN)(nil)

// Len implements the [dhcpopt.Value] interface for *ClientFQDN.
func (v *ClientFQDN) Len() (n int) { return 1 + dhcpopt.LabelsLen(v.Name) }

// Append implements the [dhcpopt.Value] interface for *ClientFQDN.
func (v *ClientFQDN) Append(b []byte) (res []byte) {
	b = append(b, v.Flags)

	return dhcpopt.AppendLabels(b, v.Name)
}
