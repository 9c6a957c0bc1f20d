package protocol

import (
	"encoding/binary"
	"fmt"
)

// AcmpMessageType selects the ACMP operation. Commands are even,
// responses odd.
type AcmpMessageType uint8

const (
	AcmpConnectTxCommand        AcmpMessageType = 0
	AcmpConnectTxResponse       AcmpMessageType = 1
	AcmpDisconnectTxCommand     AcmpMessageType = 2
	AcmpDisconnectTxResponse    AcmpMessageType = 3
	AcmpGetTxStateCommand       AcmpMessageType = 4
	AcmpGetTxStateResponse      AcmpMessageType = 5
	AcmpConnectRxCommand        AcmpMessageType = 6
	AcmpConnectRxResponse       AcmpMessageType = 7
	AcmpDisconnectRxCommand     AcmpMessageType = 8
	AcmpDisconnectRxResponse    AcmpMessageType = 9
	AcmpGetRxStateCommand       AcmpMessageType = 10
	AcmpGetRxStateResponse      AcmpMessageType = 11
	AcmpGetTxConnectionCommand  AcmpMessageType = 12
	AcmpGetTxConnectionResponse AcmpMessageType = 13
)

// IsResponse reports whether the message type is a response.
func (t AcmpMessageType) IsResponse() bool {
	return t&1 == 1
}

// acmpduControlDataLength is fixed by the standard: the 44 bytes
// following the stream_id field.
const acmpduControlDataLength = 44

// ACMP connection flags.
const (
	AcmpFlagClassB        uint16 = 1 << 0
	AcmpFlagFastConnect   uint16 = 1 << 1
	AcmpFlagSavedState    uint16 = 1 << 2
	AcmpFlagStreamingWait uint16 = 1 << 3
)

// Acmpdu is a Connection Management Protocol PDU.
type Acmpdu struct {
	MessageType AcmpMessageType
	Status      uint8

	StreamID           UniqueIdentifier
	ControllerEntityID UniqueIdentifier
	TalkerEntityID     UniqueIdentifier
	ListenerEntityID   UniqueIdentifier
	TalkerUniqueID     uint16
	ListenerUniqueID   uint16
	StreamDestMac      MacAddress
	ConnectionCount    uint16
	SequenceID         uint16
	Flags              uint16
	StreamVlanID       uint16
	Reserved           [2]byte
}

func decodeAcmpdu(messageType, statusField uint8, cdl int, body []byte) (*Acmpdu, error) {
	if cdl != acmpduControlDataLength {
		return nil, fmt.Errorf("%w: ACMPDU control_data_length %d", ErrLengthMismatch, cdl)
	}

	p := &Acmpdu{
		MessageType: AcmpMessageType(messageType),
		Status:      statusField,
	}
	p.StreamID = getUID(body[0:])
	p.ControllerEntityID = getUID(body[8:])
	p.TalkerEntityID = getUID(body[16:])
	p.ListenerEntityID = getUID(body[24:])
	p.TalkerUniqueID = binary.BigEndian.Uint16(body[32:])
	p.ListenerUniqueID = binary.BigEndian.Uint16(body[34:])
	copy(p.StreamDestMac[:], body[36:42])
	p.ConnectionCount = binary.BigEndian.Uint16(body[42:])
	p.SequenceID = binary.BigEndian.Uint16(body[44:])
	p.Flags = binary.BigEndian.Uint16(body[46:])
	p.StreamVlanID = binary.BigEndian.Uint16(body[48:])
	copy(p.Reserved[:], body[50:52])
	return p, nil
}

// Encode serializes the ACMPDU into a complete Ethernet frame. The
// stream destination MAC is copied byte-for-byte.
func (p *Acmpdu) Encode(dst, src MacAddress) ([]byte, error) {
	body := make([]byte, 8+acmpduControlDataLength)
	putUID(body[0:], p.StreamID)
	putUID(body[8:], p.ControllerEntityID)
	putUID(body[16:], p.TalkerEntityID)
	putUID(body[24:], p.ListenerEntityID)
	binary.BigEndian.PutUint16(body[32:], p.TalkerUniqueID)
	binary.BigEndian.PutUint16(body[34:], p.ListenerUniqueID)
	copy(body[36:42], p.StreamDestMac[:])
	binary.BigEndian.PutUint16(body[42:], p.ConnectionCount)
	binary.BigEndian.PutUint16(body[44:], p.SequenceID)
	binary.BigEndian.PutUint16(body[46:], p.Flags)
	binary.BigEndian.PutUint16(body[48:], p.StreamVlanID)
	copy(body[50:52], p.Reserved[:])
	return encodeFrame(dst, src, SubtypeAcmp, uint8(p.MessageType), p.Status, body)
}
