package dhcp6

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/google/uuid"
)

// DUIDType is the type of a DHCP Unique Identifier, see RFC 8415 Section 11.
type DUIDType uint16

// DUID types.
const (
	DUIDTypeLLT  DUIDType = 1
	DUIDTypeEN   DUIDType = 2
	DUIDTypeLL   DUIDType = 3
	DUIDTypeUUID DUIDType = 4
)

// duidEpoch is the start of the DUID-LLT time, midnight UTC, January 1, 2000.
var duidEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// NewDUIDLLT returns a DUID based on the link-layer address plus time.
func NewDUIDLLT(hwType uint16, t time.Time, hwAddr net.HardwareAddr) (duid []byte) {
	duid = binary.BigEndian.AppendUint16(duid, uint16(DUIDTypeLLT))
	duid = binary.BigEndian.AppendUint16(duid, hwType)
	duid = binary.BigEndian.AppendUint32(duid, uint32(t.Sub(duidEpoch)/time.Second))

	return append(duid, hwAddr...)
}

// NewDUIDEN returns a DUID assigned by the vendor based on the enterprise
// number.
func NewDUIDEN(enterpriseNumber uint32, id []byte) (duid []byte) {
	duid = binary.BigEndian.AppendUint16(duid, uint16(DUIDTypeEN))
	duid = binary.BigEndian.AppendUint32(duid, enterpriseNumber)

	return append(duid, id...)
}

// NewDUIDLL returns a DUID based on the link-layer address.
func NewDUIDLL(hwType uint16, hwAddr net.HardwareAddr) (duid []byte) {
	duid = binary.BigEndian.AppendUint16(duid, uint16(DUIDTypeLL))
	duid = binary.BigEndian.AppendUint16(duid, hwType)

	return append(duid, hwAddr...)
}

// NewDUIDUUID returns a DUID based on the UUID, see RFC 6355.
func NewDUIDUUID(id uuid.UUID) (duid []byte) {
	duid = binary.BigEndian.AppendUint16(duid, uint16(DUIDTypeUUID))

	return append(duid, id[:]...)
}
