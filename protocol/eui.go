package protocol

import (
	"encoding/binary"
	"fmt"
)

// UniqueIdentifier is a 64-bit EUI-64 identifying an AVDECC entity or an
// entity model. Equality is bitwise.
type UniqueIdentifier uint64

// UniqueIdentifierUnspecified is the reserved all-ones value meaning "no
// entity" (accepted by discovery requests as "all entities", which go
// on the wire as an ADP DISCOVER with entity_id 0, and used in fields
// that carry no identifier).
const UniqueIdentifierUnspecified UniqueIdentifier = 0xFFFFFFFFFFFFFFFF

// IsUnspecified reports whether the identifier is the reserved all-ones
// value.
func (u UniqueIdentifier) IsUnspecified() bool {
	return u == UniqueIdentifierUnspecified
}

// String formats the identifier the way AVDECC tooling prints EUI-64s.
func (u UniqueIdentifier) String() string {
	return fmt.Sprintf("0x%016X", uint64(u))
}

// MacAddress is an IEEE 802 MAC address. The all-zero value is reserved
// and means "unset".
type MacAddress [6]byte

// MulticastIdentificationAddress is the AVDECC multicast group
// (91:E0:F0:01:00:00) that ADP and ACMP PDUs are addressed to.
var MulticastIdentificationAddress = MacAddress{0x91, 0xE0, 0xF0, 0x01, 0x00, 0x00}

// IsUnset reports whether the address is the reserved all-zero value.
func (m MacAddress) IsUnset() bool {
	return m == MacAddress{}
}

// String formats the address in the usual colon-separated form.
func (m MacAddress) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

func getUID(b []byte) UniqueIdentifier {
	return UniqueIdentifier(binary.BigEndian.Uint64(b))
}

func putUID(b []byte, u UniqueIdentifier) {
	binary.BigEndian.PutUint64(b, uint64(u))
}
