package protocol

import (
	"encoding/binary"
	"fmt"
)

// AdpMessageType selects the ADP operation.
type AdpMessageType uint8

const (
	AdpEntityAvailable AdpMessageType = 0
	AdpEntityDeparting AdpMessageType = 1
	AdpEntityDiscover  AdpMessageType = 2
)

// adpduControlDataLength is fixed by the standard: the 56 bytes following
// the entity_id field.
const adpduControlDataLength = 56

// Adpdu is a Discovery Protocol PDU.
//
// ValidTime is in seconds; the wire carries it in 2-second units in a
// 5-bit field, so the usable range is 2..62 and odd values round down.
type Adpdu struct {
	MessageType AdpMessageType
	ValidTime   uint8

	EntityID               UniqueIdentifier
	EntityModelID          UniqueIdentifier
	EntityCapabilities     uint32
	TalkerStreamSources    uint16
	TalkerCapabilities     uint16
	ListenerStreamSinks    uint16
	ListenerCapabilities   uint16
	ControllerCapabilities uint32
	AvailableIndex         uint32
	GptpGrandmasterID      UniqueIdentifier
	GptpDomainNumber       uint8
	Reserved0              [3]byte
	IdentifyControlIndex   uint16
	InterfaceIndex         uint16
	AssociationID          UniqueIdentifier
	Reserved1              [4]byte
}

func decodeAdpdu(messageType, statusField uint8, cdl int, body []byte) (*Adpdu, error) {
	if cdl != adpduControlDataLength {
		return nil, fmt.Errorf("%w: ADPDU control_data_length %d", ErrLengthMismatch, cdl)
	}

	p := &Adpdu{
		MessageType: AdpMessageType(messageType),
		ValidTime:   statusField * 2,
	}
	p.EntityID = getUID(body[0:])
	p.EntityModelID = getUID(body[8:])
	p.EntityCapabilities = binary.BigEndian.Uint32(body[16:])
	p.TalkerStreamSources = binary.BigEndian.Uint16(body[20:])
	p.TalkerCapabilities = binary.BigEndian.Uint16(body[22:])
	p.ListenerStreamSinks = binary.BigEndian.Uint16(body[24:])
	p.ListenerCapabilities = binary.BigEndian.Uint16(body[26:])
	p.ControllerCapabilities = binary.BigEndian.Uint32(body[28:])
	p.AvailableIndex = binary.BigEndian.Uint32(body[32:])
	p.GptpGrandmasterID = getUID(body[36:])
	p.GptpDomainNumber = body[44]
	copy(p.Reserved0[:], body[45:48])
	p.IdentifyControlIndex = binary.BigEndian.Uint16(body[48:])
	p.InterfaceIndex = binary.BigEndian.Uint16(body[50:])
	p.AssociationID = getUID(body[52:])
	copy(p.Reserved1[:], body[60:64])
	return p, nil
}

// Encode serializes the ADPDU into a complete Ethernet frame.
func (p *Adpdu) Encode(dst, src MacAddress) ([]byte, error) {
	if p.ValidTime > 62 {
		return nil, fmt.Errorf("%w: valid_time %d out of range", ErrProtocol, p.ValidTime)
	}
	body := make([]byte, 8+adpduControlDataLength)
	putUID(body[0:], p.EntityID)
	putUID(body[8:], p.EntityModelID)
	binary.BigEndian.PutUint32(body[16:], p.EntityCapabilities)
	binary.BigEndian.PutUint16(body[20:], p.TalkerStreamSources)
	binary.BigEndian.PutUint16(body[22:], p.TalkerCapabilities)
	binary.BigEndian.PutUint16(body[24:], p.ListenerStreamSinks)
	binary.BigEndian.PutUint16(body[26:], p.ListenerCapabilities)
	binary.BigEndian.PutUint32(body[28:], p.ControllerCapabilities)
	binary.BigEndian.PutUint32(body[32:], p.AvailableIndex)
	putUID(body[36:], p.GptpGrandmasterID)
	body[44] = p.GptpDomainNumber
	copy(body[45:48], p.Reserved0[:])
	binary.BigEndian.PutUint16(body[48:], p.IdentifyControlIndex)
	binary.BigEndian.PutUint16(body[50:], p.InterfaceIndex)
	putUID(body[52:], p.AssociationID)
	copy(body[60:64], p.Reserved1[:])
	return encodeFrame(dst, src, SubtypeAdp, uint8(p.MessageType), p.ValidTime/2, body)
}
