package protocol

import (
	"encoding/binary"
	"fmt"
)

// AecpMessageType selects the AECP dialect and direction.
type AecpMessageType uint8

const (
	AecpAemCommand           AecpMessageType = 0
	AecpAemResponse          AecpMessageType = 1
	AecpAddressAccessCommand AecpMessageType = 2
	AecpAddressAccessReply   AecpMessageType = 3
	AecpVendorUniqueCommand  AecpMessageType = 6
	AecpVendorUniqueResponse AecpMessageType = 7
)

// IsResponse reports whether the message type is a response direction.
func (t AecpMessageType) IsResponse() bool {
	return t&1 == 1
}

// AemCommandType identifies an AEM operation (15-bit field).
type AemCommandType uint16

const (
	AemAcquireEntity          AemCommandType = 0x0000
	AemLockEntity             AemCommandType = 0x0001
	AemEntityAvailable        AemCommandType = 0x0002
	AemControllerAvailable    AemCommandType = 0x0003
	AemReadDescriptor         AemCommandType = 0x0004
	AemWriteDescriptor        AemCommandType = 0x0005
	AemSetConfiguration       AemCommandType = 0x0006
	AemGetConfiguration       AemCommandType = 0x0007
	AemSetStreamFormat        AemCommandType = 0x0008
	AemGetStreamFormat        AemCommandType = 0x0009
	AemSetStreamInfo          AemCommandType = 0x000E
	AemGetStreamInfo          AemCommandType = 0x000F
	AemSetName                AemCommandType = 0x0010
	AemGetName                AemCommandType = 0x0011
	AemSetAssociationID       AemCommandType = 0x0012
	AemGetAssociationID       AemCommandType = 0x0013
	AemSetSamplingRate        AemCommandType = 0x0014
	AemGetSamplingRate        AemCommandType = 0x0015
	AemSetClockSource         AemCommandType = 0x0016
	AemGetClockSource         AemCommandType = 0x0017
	AemStartStreaming         AemCommandType = 0x0022
	AemStopStreaming          AemCommandType = 0x0023
	AemRegisterUnsolicited    AemCommandType = 0x0024
	AemDeregisterUnsolicited  AemCommandType = 0x0025
	AemIdentifyNotification   AemCommandType = 0x0026
	AemGetAvbInfo             AemCommandType = 0x0027
	AemGetAsPath              AemCommandType = 0x0028
	AemGetCounters            AemCommandType = 0x0029
	AemGetAudioMap            AemCommandType = 0x002B
	AemAddAudioMappings       AemCommandType = 0x002C
	AemRemoveAudioMappings    AemCommandType = 0x002D
	AemStartOperation         AemCommandType = 0x002E
	AemAbortOperation         AemCommandType = 0x002F
	AemOperationStatus        AemCommandType = 0x0030
	AemSetMemoryObjectLength  AemCommandType = 0x0047
	AemGetMemoryObjectLength  AemCommandType = 0x0048
)

// AaMode selects the Address Access TLV operation.
type AaMode uint8

const (
	AaModeRead    AaMode = 0
	AaModeWrite   AaMode = 1
	AaModeExecute AaMode = 2
)

// AaTlv is one Address Access type-length-value record: an operation on
// a 64-bit address within the target's address space.
type AaTlv struct {
	Mode    AaMode
	Address uint64
	Data    []byte
}

// MvuCommandType identifies a Milan Vendor Unique operation.
type MvuCommandType uint16

const (
	MvuGetMilanInfo MvuCommandType = 0x0000
)

// MilanProtocolID selects Milan decoding of a VENDOR_UNIQUE AECPDU.
var MilanProtocolID = [6]byte{0x00, 0x1B, 0xC5, 0x0A, 0xC1, 0x00}

// Aecpdu is an Enumeration and Control Protocol PDU. The dialect fields
// populated depend on MessageType:
//
//   - AEM command/response: Unsolicited, CommandType, CommandPayload
//   - Address Access command/response: Tlvs
//   - Vendor Unique command/response: ProtocolID, then either
//     MvuCommandType+CommandPayload (Milan protocol ID) or the raw
//     VendorPayload for foreign vendors
//
// Unknown message types keep the undecoded bytes in VendorPayload so the
// frame still round-trips.
type Aecpdu struct {
	MessageType        AecpMessageType
	Status             uint8
	TargetEntityID     UniqueIdentifier
	ControllerEntityID UniqueIdentifier
	SequenceID         uint16

	Unsolicited    bool
	CommandType    AemCommandType
	CommandPayload []byte

	Tlvs []AaTlv

	ProtocolID     [6]byte
	MvuCommandType MvuCommandType
	VendorPayload  []byte
}

func decodeAecpdu(messageType, statusField uint8, cdl int, body []byte) (*Aecpdu, error) {
	// target_entity_id(8) + controller_entity_id(8) + sequence_id(2)
	if cdl < 10 {
		return nil, fmt.Errorf("%w: AECPDU control_data_length %d", ErrLengthMismatch, cdl)
	}

	p := &Aecpdu{
		MessageType:        AecpMessageType(messageType),
		Status:             statusField,
		TargetEntityID:     getUID(body[0:]),
		ControllerEntityID: getUID(body[8:]),
		SequenceID:         binary.BigEndian.Uint16(body[16:]),
	}
	rest := body[18:]

	switch p.MessageType {
	case AecpAemCommand, AecpAemResponse:
		if len(rest) < 2 {
			return nil, fmt.Errorf("%w: AEM payload %d bytes", ErrLengthMismatch, len(rest))
		}
		ct := binary.BigEndian.Uint16(rest)
		p.Unsolicited = ct&0x8000 != 0
		p.CommandType = AemCommandType(ct & 0x7FFF)
		p.CommandPayload = append([]byte(nil), rest[2:]...)

	case AecpAddressAccessCommand, AecpAddressAccessReply:
		tlvs, err := decodeAaTlvs(rest)
		if err != nil {
			return nil, err
		}
		p.Tlvs = tlvs

	case AecpVendorUniqueCommand, AecpVendorUniqueResponse:
		if len(rest) < 6 {
			return nil, fmt.Errorf("%w: VU payload %d bytes", ErrLengthMismatch, len(rest))
		}
		copy(p.ProtocolID[:], rest[0:6])
		vu := rest[6:]
		if p.ProtocolID == MilanProtocolID {
			if len(vu) < 2 {
				return nil, fmt.Errorf("%w: MVU payload %d bytes", ErrLengthMismatch, len(vu))
			}
			p.MvuCommandType = MvuCommandType(binary.BigEndian.Uint16(vu) & 0x7FFF)
			p.CommandPayload = append([]byte(nil), vu[2:]...)
		} else {
			p.VendorPayload = append([]byte(nil), vu...)
		}

	default:
		// Structurally valid traffic in a dialect this stack does not
		// speak. Preserve the bytes so observers and re-encodes see it.
		p.VendorPayload = append([]byte(nil), rest...)
	}
	return p, nil
}

func decodeAaTlvs(b []byte) ([]AaTlv, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("%w: AA payload %d bytes", ErrLengthMismatch, len(b))
	}
	count := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	tlvs := make([]AaTlv, 0, count)
	for i := 0; i < count; i++ {
		if len(b) < 10 {
			return nil, fmt.Errorf("%w: AA TLV %d truncated", ErrLengthMismatch, i)
		}
		modeLen := binary.BigEndian.Uint16(b)
		length := int(modeLen & 0x0FFF)
		tlv := AaTlv{
			Mode:    AaMode(modeLen >> 12),
			Address: binary.BigEndian.Uint64(b[2:]),
		}
		b = b[10:]
		if len(b) < length {
			return nil, fmt.Errorf("%w: AA TLV %d data truncated", ErrLengthMismatch, i)
		}
		tlv.Data = append([]byte(nil), b[:length]...)
		b = b[length:]
		tlvs = append(tlvs, tlv)
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after AA TLVs", ErrLengthMismatch, len(b))
	}
	return tlvs, nil
}

func encodeAaTlvs(tlvs []AaTlv) ([]byte, error) {
	size := 2
	for _, tlv := range tlvs {
		if len(tlv.Data) > 0x0FFF {
			return nil, fmt.Errorf("%w: AA TLV data %d bytes", ErrLengthMismatch, len(tlv.Data))
		}
		size += 10 + len(tlv.Data)
	}
	out := make([]byte, size)
	binary.BigEndian.PutUint16(out, uint16(len(tlvs)))
	b := out[2:]
	for _, tlv := range tlvs {
		binary.BigEndian.PutUint16(b, uint16(tlv.Mode)<<12|uint16(len(tlv.Data)))
		binary.BigEndian.PutUint64(b[2:], tlv.Address)
		copy(b[10:], tlv.Data)
		b = b[10+len(tlv.Data):]
	}
	return out, nil
}

// Encode serializes the AECPDU into a complete Ethernet frame.
func (p *Aecpdu) Encode(dst, src MacAddress) ([]byte, error) {
	var dialect []byte
	switch p.MessageType {
	case AecpAemCommand, AecpAemResponse:
		dialect = make([]byte, 2+len(p.CommandPayload))
		ct := uint16(p.CommandType) & 0x7FFF
		if p.Unsolicited {
			ct |= 0x8000
		}
		binary.BigEndian.PutUint16(dialect, ct)
		copy(dialect[2:], p.CommandPayload)

	case AecpAddressAccessCommand, AecpAddressAccessReply:
		var err error
		dialect, err = encodeAaTlvs(p.Tlvs)
		if err != nil {
			return nil, err
		}

	case AecpVendorUniqueCommand, AecpVendorUniqueResponse:
		if p.ProtocolID == MilanProtocolID {
			dialect = make([]byte, 6+2+len(p.CommandPayload))
			copy(dialect, p.ProtocolID[:])
			binary.BigEndian.PutUint16(dialect[6:], uint16(p.MvuCommandType)&0x7FFF)
			copy(dialect[8:], p.CommandPayload)
		} else {
			dialect = make([]byte, 6+len(p.VendorPayload))
			copy(dialect, p.ProtocolID[:])
			copy(dialect[6:], p.VendorPayload)
		}

	default:
		dialect = append([]byte(nil), p.VendorPayload...)
	}

	body := make([]byte, 18+len(dialect))
	putUID(body[0:], p.TargetEntityID)
	putUID(body[8:], p.ControllerEntityID)
	binary.BigEndian.PutUint16(body[16:], p.SequenceID)
	copy(body[18:], dialect)
	return encodeFrame(dst, src, SubtypeAecp, uint8(p.MessageType), p.Status, body)
}
