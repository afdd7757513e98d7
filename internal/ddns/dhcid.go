package ddns

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"strings"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/miekg/dns"
)

// IDType is the type of the client identifier used for computing a DHCID.
type IDType uint16

// Identifier types, see RFC 4701 Section 3.3.
const (
	// IDTypeHWAddr is the hardware type followed by the hardware address of a
	// DHCPv4 client without a client identifier.
	IDTypeHWAddr IDType = 0x0000

	// IDTypeClientID is the DHCPv4 client identifier option data.
	IDTypeClientID IDType = 0x0001

	// IDTypeDUID is the DHCPv6 DUID.
	IDTypeDUID IDType = 0x0002
)

// digestTypeSHA256 is the only digest type defined by RFC 4701.
const digestTypeSHA256 = 1

// DHCID returns the RDATA of the DHCID resource record for the client with
// identifier id of type t and the domain name fqdn.
func DHCID(t IDType, id []byte, fqdn string) (rdata []byte) {
	name := strings.ToLower(dns.Fqdn(fqdn))

	h := sha256.New()
	_, _ = h.Write(id)
	_, _ = h.Write(dhcpopt.AppendLabels(nil, name))

	rdata = binary.BigEndian.AppendUint16(make([]byte, 0, 3+sha256.Size), uint16(t))
	rdata = append(rdata, digestTypeSHA256)

	return h.Sum(rdata)
}

// newDHCIDRR returns the DHCID resource record for the update.
func newDHCIDRR(u *Update, ttl uint32) (rr *dns.DHCID) {
	return &dns.DHCID{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(u.FQDN),
			Rrtype: dns.TypeDHCID,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		Digest: base64.StdEncoding.EncodeToString(DHCID(u.IDType, u.ID, u.FQDN)),
	}
}
