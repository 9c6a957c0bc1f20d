package protocol

import (
	"encoding/binary"
	"fmt"
)

// Descriptor types referenced by the controller itself. Descriptor
// payloads are otherwise opaque to this stack.
const (
	DescriptorTypeEntity           uint16 = 0x0000
	DescriptorTypeConfiguration    uint16 = 0x0001
	DescriptorTypeAudioUnit        uint16 = 0x0002
	DescriptorTypeStreamInput      uint16 = 0x0005
	DescriptorTypeStreamOutput     uint16 = 0x0006
	DescriptorTypeAvbInterface     uint16 = 0x0009
	DescriptorTypeMemoryObject     uint16 = 0x000B
	DescriptorTypeStreamPortInput  uint16 = 0x000E
	DescriptorTypeStreamPortOutput uint16 = 0x000F
	DescriptorTypeClockDomain      uint16 = 0x0024
)

// AcquireEntity flags.
const (
	AcquireFlagPersistent uint32 = 0x00000001
	AcquireFlagRelease    uint32 = 0x80000000
)

// LockEntity flags.
const LockFlagUnlock uint32 = 0x00000001

// FixedString is the 64-byte UTF-8 name field used by SET_NAME/GET_NAME.
// Unused trailing bytes are zero.
type FixedString [64]byte

// MakeFixedString truncates s into a FixedString.
func MakeFixedString(s string) FixedString {
	var f FixedString
	copy(f[:], s)
	return f
}

// String trims the zero padding.
func (f FixedString) String() string {
	for i, c := range f {
		if c == 0 {
			return string(f[:i])
		}
	}
	return string(f[:])
}

// AudioMapping is one entry of an audio map: a stream channel bound to a
// cluster channel.
type AudioMapping struct {
	StreamIndex    uint16
	StreamChannel  uint16
	ClusterOffset  uint16
	ClusterChannel uint16
}

// fieldReader walks a big-endian AEM payload, latching the first
// truncation error.
type fieldReader struct {
	b   []byte
	err error
}

func (r *fieldReader) skip(n int) {
	if r.err != nil {
		return
	}
	if len(r.b) < n {
		r.err = fmt.Errorf("%w: AEM payload truncated", ErrLengthMismatch)
		return
	}
	r.b = r.b[n:]
}

func (r *fieldReader) u16() uint16 {
	if r.err != nil {
		return 0
	}
	if len(r.b) < 2 {
		r.err = fmt.Errorf("%w: AEM payload truncated", ErrLengthMismatch)
		return 0
	}
	v := binary.BigEndian.Uint16(r.b)
	r.b = r.b[2:]
	return v
}

func (r *fieldReader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.b) < 4 {
		r.err = fmt.Errorf("%w: AEM payload truncated", ErrLengthMismatch)
		return 0
	}
	v := binary.BigEndian.Uint32(r.b)
	r.b = r.b[4:]
	return v
}

func (r *fieldReader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	if len(r.b) < 8 {
		r.err = fmt.Errorf("%w: AEM payload truncated", ErrLengthMismatch)
		return 0
	}
	v := binary.BigEndian.Uint64(r.b)
	r.b = r.b[8:]
	return v
}

func (r *fieldReader) name() FixedString {
	var f FixedString
	if r.err != nil {
		return f
	}
	if len(r.b) < 64 {
		r.err = fmt.Errorf("%w: AEM payload truncated", ErrLengthMismatch)
		return f
	}
	copy(f[:], r.b[:64])
	r.b = r.b[64:]
	return f
}

// fieldWriter builds a big-endian AEM payload.
type fieldWriter struct {
	b []byte
}

func (w *fieldWriter) u16(v uint16) {
	w.b = binary.BigEndian.AppendUint16(w.b, v)
}

func (w *fieldWriter) u32(v uint32) {
	w.b = binary.BigEndian.AppendUint32(w.b, v)
}

func (w *fieldWriter) u64(v uint64) {
	w.b = binary.BigEndian.AppendUint64(w.b, v)
}

func (w *fieldWriter) name(f FixedString) {
	w.b = append(w.b, f[:]...)
}

// AcquireEntityPayload is the ACQUIRE_ENTITY command and response body.
type AcquireEntityPayload struct {
	Flags           uint32
	OwnerID         UniqueIdentifier
	DescriptorType  uint16
	DescriptorIndex uint16
}

// Marshal serializes the payload.
func (p AcquireEntityPayload) Marshal() []byte {
	var w fieldWriter
	w.u32(p.Flags)
	w.u64(uint64(p.OwnerID))
	w.u16(p.DescriptorType)
	w.u16(p.DescriptorIndex)
	return w.b
}

// ParseAcquireEntityPayload decodes an ACQUIRE_ENTITY body.
func ParseAcquireEntityPayload(b []byte) (AcquireEntityPayload, error) {
	r := fieldReader{b: b}
	p := AcquireEntityPayload{
		Flags:           r.u32(),
		OwnerID:         UniqueIdentifier(r.u64()),
		DescriptorType:  r.u16(),
		DescriptorIndex: r.u16(),
	}
	return p, r.err
}

// LockEntityPayload is the LOCK_ENTITY command and response body.
type LockEntityPayload struct {
	Flags           uint32
	LockedID        UniqueIdentifier
	DescriptorType  uint16
	DescriptorIndex uint16
}

// Marshal serializes the payload.
func (p LockEntityPayload) Marshal() []byte {
	var w fieldWriter
	w.u32(p.Flags)
	w.u64(uint64(p.LockedID))
	w.u16(p.DescriptorType)
	w.u16(p.DescriptorIndex)
	return w.b
}

// ParseLockEntityPayload decodes a LOCK_ENTITY body.
func ParseLockEntityPayload(b []byte) (LockEntityPayload, error) {
	r := fieldReader{b: b}
	p := LockEntityPayload{
		Flags:           r.u32(),
		LockedID:        UniqueIdentifier(r.u64()),
		DescriptorType:  r.u16(),
		DescriptorIndex: r.u16(),
	}
	return p, r.err
}

// ReadDescriptorCommand builds a READ_DESCRIPTOR command body.
func ReadDescriptorCommand(configurationIndex, descriptorType, descriptorIndex uint16) []byte {
	var w fieldWriter
	w.u16(configurationIndex)
	w.u16(0)
	w.u16(descriptorType)
	w.u16(descriptorIndex)
	return w.b
}

// ReadDescriptorResponse is a decoded READ_DESCRIPTOR response: the
// descriptor image itself stays opaque, led by its type and index.
type ReadDescriptorResponse struct {
	ConfigurationIndex uint16
	DescriptorType     uint16
	DescriptorIndex    uint16
	Descriptor         []byte
}

// ParseReadDescriptorResponse decodes a READ_DESCRIPTOR response body.
func ParseReadDescriptorResponse(b []byte) (ReadDescriptorResponse, error) {
	r := fieldReader{b: b}
	p := ReadDescriptorResponse{ConfigurationIndex: r.u16()}
	r.skip(2)
	p.DescriptorType = r.u16()
	p.DescriptorIndex = r.u16()
	if r.err != nil {
		return p, r.err
	}
	// The descriptor image starts at its own type field.
	p.Descriptor = append([]byte(nil), b[4:]...)
	return p, nil
}

// ConfigurationPayload is the SET_CONFIGURATION / GET_CONFIGURATION body.
type ConfigurationPayload struct {
	ConfigurationIndex uint16
}

// Marshal serializes the payload.
func (p ConfigurationPayload) Marshal() []byte {
	var w fieldWriter
	w.u16(0)
	w.u16(p.ConfigurationIndex)
	return w.b
}

// ParseConfigurationPayload decodes a configuration body.
func ParseConfigurationPayload(b []byte) (ConfigurationPayload, error) {
	r := fieldReader{b: b}
	r.skip(2)
	p := ConfigurationPayload{ConfigurationIndex: r.u16()}
	return p, r.err
}

// StreamFormatPayload is the SET/GET_STREAM_FORMAT body. GET commands
// leave StreamFormat zero.
type StreamFormatPayload struct {
	DescriptorType  uint16
	DescriptorIndex uint16
	StreamFormat    uint64
}

// Marshal serializes the payload.
func (p StreamFormatPayload) Marshal() []byte {
	var w fieldWriter
	w.u16(p.DescriptorType)
	w.u16(p.DescriptorIndex)
	w.u64(p.StreamFormat)
	return w.b
}

// ParseStreamFormatPayload decodes a stream format body.
func ParseStreamFormatPayload(b []byte) (StreamFormatPayload, error) {
	r := fieldReader{b: b}
	p := StreamFormatPayload{
		DescriptorType:  r.u16(),
		DescriptorIndex: r.u16(),
		StreamFormat:    r.u64(),
	}
	return p, r.err
}

// GetStreamFormatCommand builds a GET_STREAM_FORMAT command body.
func GetStreamFormatCommand(descriptorType, descriptorIndex uint16) []byte {
	var w fieldWriter
	w.u16(descriptorType)
	w.u16(descriptorIndex)
	return w.b
}

// NamePayload is the SET_NAME / GET_NAME body. GET commands omit Name.
type NamePayload struct {
	DescriptorType     uint16
	DescriptorIndex    uint16
	NameIndex          uint16
	ConfigurationIndex uint16
	Name               FixedString
}

// Marshal serializes the payload including the name field.
func (p NamePayload) Marshal() []byte {
	var w fieldWriter
	w.u16(p.DescriptorType)
	w.u16(p.DescriptorIndex)
	w.u16(p.NameIndex)
	w.u16(p.ConfigurationIndex)
	w.name(p.Name)
	return w.b
}

// MarshalCommandOnly serializes the payload without the name field, as
// GET_NAME commands are sent.
func (p NamePayload) MarshalCommandOnly() []byte {
	var w fieldWriter
	w.u16(p.DescriptorType)
	w.u16(p.DescriptorIndex)
	w.u16(p.NameIndex)
	w.u16(p.ConfigurationIndex)
	return w.b
}

// ParseNamePayload decodes a SET_NAME/GET_NAME response body.
func ParseNamePayload(b []byte) (NamePayload, error) {
	r := fieldReader{b: b}
	p := NamePayload{
		DescriptorType:     r.u16(),
		DescriptorIndex:    r.u16(),
		NameIndex:          r.u16(),
		ConfigurationIndex: r.u16(),
		Name:               r.name(),
	}
	return p, r.err
}

// SamplingRatePayload is the SET/GET_SAMPLING_RATE body.
type SamplingRatePayload struct {
	DescriptorType  uint16
	DescriptorIndex uint16
	SamplingRate    uint32
}

// Marshal serializes the payload.
func (p SamplingRatePayload) Marshal() []byte {
	var w fieldWriter
	w.u16(p.DescriptorType)
	w.u16(p.DescriptorIndex)
	w.u32(p.SamplingRate)
	return w.b
}

// ParseSamplingRatePayload decodes a sampling rate body.
func ParseSamplingRatePayload(b []byte) (SamplingRatePayload, error) {
	r := fieldReader{b: b}
	p := SamplingRatePayload{
		DescriptorType:  r.u16(),
		DescriptorIndex: r.u16(),
		SamplingRate:    r.u32(),
	}
	return p, r.err
}

// GetSamplingRateCommand builds a GET_SAMPLING_RATE command body.
func GetSamplingRateCommand(descriptorType, descriptorIndex uint16) []byte {
	var w fieldWriter
	w.u16(descriptorType)
	w.u16(descriptorIndex)
	return w.b
}

// ClockSourcePayload is the SET/GET_CLOCK_SOURCE body.
type ClockSourcePayload struct {
	ClockDomainIndex uint16
	ClockSourceIndex uint16
}

// Marshal serializes the payload.
func (p ClockSourcePayload) Marshal() []byte {
	var w fieldWriter
	w.u16(DescriptorTypeClockDomain)
	w.u16(p.ClockDomainIndex)
	w.u16(p.ClockSourceIndex)
	w.u16(0)
	return w.b
}

// GetClockSourceCommand builds a GET_CLOCK_SOURCE command body.
func GetClockSourceCommand(clockDomainIndex uint16) []byte {
	var w fieldWriter
	w.u16(DescriptorTypeClockDomain)
	w.u16(clockDomainIndex)
	return w.b
}

// ParseClockSourcePayload decodes a clock source body.
func ParseClockSourcePayload(b []byte) (ClockSourcePayload, error) {
	r := fieldReader{b: b}
	r.skip(2)
	p := ClockSourcePayload{
		ClockDomainIndex: r.u16(),
		ClockSourceIndex: r.u16(),
	}
	return p, r.err
}

// StreamingPayload is the START_STREAMING / STOP_STREAMING body.
type StreamingPayload struct {
	DescriptorType  uint16
	DescriptorIndex uint16
}

// Marshal serializes the payload.
func (p StreamingPayload) Marshal() []byte {
	var w fieldWriter
	w.u16(p.DescriptorType)
	w.u16(p.DescriptorIndex)
	return w.b
}

// ParseStreamingPayload decodes a streaming body.
func ParseStreamingPayload(b []byte) (StreamingPayload, error) {
	r := fieldReader{b: b}
	p := StreamingPayload{
		DescriptorType:  r.u16(),
		DescriptorIndex: r.u16(),
	}
	return p, r.err
}

// AvbInfoPayload is the GET_AVB_INFO response body (MSRP mappings kept
// raw).
type AvbInfoPayload struct {
	AvbInterfaceIndex uint16
	GptpGrandmasterID UniqueIdentifier
	PropagationDelay  uint32
	GptpDomainNumber  uint8
	Flags             uint8
	MsrpMappings      []byte
}

// GetAvbInfoCommand builds a GET_AVB_INFO command body.
func GetAvbInfoCommand(avbInterfaceIndex uint16) []byte {
	var w fieldWriter
	w.u16(DescriptorTypeAvbInterface)
	w.u16(avbInterfaceIndex)
	return w.b
}

// ParseAvbInfoPayload decodes a GET_AVB_INFO response body. Layout:
// descriptor_type, descriptor_index, gptp_grandmaster_id,
// propagation_delay, gptp_domain_number, flags, msrp_mappings_count,
// then the raw MSRP mapping records.
func ParseAvbInfoPayload(b []byte) (AvbInfoPayload, error) {
	r := fieldReader{b: b}
	r.skip(2)
	p := AvbInfoPayload{AvbInterfaceIndex: r.u16()}
	p.GptpGrandmasterID = UniqueIdentifier(r.u64())
	p.PropagationDelay = r.u32()
	domainFlags := r.u16()
	p.GptpDomainNumber = uint8(domainFlags >> 8)
	p.Flags = uint8(domainFlags)
	r.skip(2) // msrp_mappings_count, implied by the remaining length
	if r.err != nil {
		return p, r.err
	}
	p.MsrpMappings = append([]byte(nil), r.b...)
	return p, nil
}

// CountersPayload is the GET_COUNTERS response body: a validity mask over
// 32 big-endian counters.
type CountersPayload struct {
	DescriptorType  uint16
	DescriptorIndex uint16
	CountersValid   uint32
	Counters        [32]uint32
}

// GetCountersCommand builds a GET_COUNTERS command body.
func GetCountersCommand(descriptorType, descriptorIndex uint16) []byte {
	var w fieldWriter
	w.u16(descriptorType)
	w.u16(descriptorIndex)
	return w.b
}

// ParseCountersPayload decodes a GET_COUNTERS response body.
func ParseCountersPayload(b []byte) (CountersPayload, error) {
	r := fieldReader{b: b}
	p := CountersPayload{
		DescriptorType:  r.u16(),
		DescriptorIndex: r.u16(),
		CountersValid:   r.u32(),
	}
	for i := range p.Counters {
		p.Counters[i] = r.u32()
	}
	return p, r.err
}

// AudioMapPayload is the GET_AUDIO_MAP response body.
type AudioMapPayload struct {
	DescriptorType  uint16
	DescriptorIndex uint16
	MapIndex        uint16
	NumberOfMaps    uint16
	Mappings        []AudioMapping
}

// GetAudioMapCommand builds a GET_AUDIO_MAP command body.
func GetAudioMapCommand(descriptorType, descriptorIndex, mapIndex uint16) []byte {
	var w fieldWriter
	w.u16(descriptorType)
	w.u16(descriptorIndex)
	w.u16(mapIndex)
	w.u16(0)
	return w.b
}

// ParseAudioMapPayload decodes a GET_AUDIO_MAP response body.
func ParseAudioMapPayload(b []byte) (AudioMapPayload, error) {
	r := fieldReader{b: b}
	p := AudioMapPayload{
		DescriptorType:  r.u16(),
		DescriptorIndex: r.u16(),
		MapIndex:        r.u16(),
		NumberOfMaps:    r.u16(),
	}
	count := r.u16()
	r.skip(2)
	for i := uint16(0); i < count; i++ {
		p.Mappings = append(p.Mappings, AudioMapping{
			StreamIndex:    r.u16(),
			StreamChannel:  r.u16(),
			ClusterOffset:  r.u16(),
			ClusterChannel: r.u16(),
		})
	}
	return p, r.err
}

// AudioMappingsPayload is the ADD/REMOVE_AUDIO_MAPPINGS body.
type AudioMappingsPayload struct {
	DescriptorType  uint16
	DescriptorIndex uint16
	Mappings        []AudioMapping
}

// Marshal serializes the payload.
func (p AudioMappingsPayload) Marshal() []byte {
	var w fieldWriter
	w.u16(p.DescriptorType)
	w.u16(p.DescriptorIndex)
	w.u16(uint16(len(p.Mappings)))
	w.u16(0)
	for _, m := range p.Mappings {
		w.u16(m.StreamIndex)
		w.u16(m.StreamChannel)
		w.u16(m.ClusterOffset)
		w.u16(m.ClusterChannel)
	}
	return w.b
}

// ParseAudioMappingsPayload decodes an ADD/REMOVE_AUDIO_MAPPINGS body.
func ParseAudioMappingsPayload(b []byte) (AudioMappingsPayload, error) {
	r := fieldReader{b: b}
	p := AudioMappingsPayload{
		DescriptorType:  r.u16(),
		DescriptorIndex: r.u16(),
	}
	count := r.u16()
	r.skip(2)
	for i := uint16(0); i < count; i++ {
		p.Mappings = append(p.Mappings, AudioMapping{
			StreamIndex:    r.u16(),
			StreamChannel:  r.u16(),
			ClusterOffset:  r.u16(),
			ClusterChannel: r.u16(),
		})
	}
	return p, r.err
}

// OperationPayload is the START/ABORT_OPERATION and OPERATION_STATUS
// body. PercentComplete is only meaningful for OPERATION_STATUS; Values
// only for START_OPERATION.
type OperationPayload struct {
	DescriptorType  uint16
	DescriptorIndex uint16
	OperationID     uint16
	OperationType   uint16
	PercentComplete uint16
	Values          []byte
}

// MarshalStart serializes a START_OPERATION body.
func (p OperationPayload) MarshalStart() []byte {
	var w fieldWriter
	w.u16(p.DescriptorType)
	w.u16(p.DescriptorIndex)
	w.u16(p.OperationID)
	w.u16(p.OperationType)
	w.b = append(w.b, p.Values...)
	return w.b
}

// MarshalAbort serializes an ABORT_OPERATION body.
func (p OperationPayload) MarshalAbort() []byte {
	var w fieldWriter
	w.u16(p.DescriptorType)
	w.u16(p.DescriptorIndex)
	w.u16(p.OperationID)
	w.u16(0)
	return w.b
}

// ParseStartOperationPayload decodes a START_OPERATION response body.
func ParseStartOperationPayload(b []byte) (OperationPayload, error) {
	r := fieldReader{b: b}
	p := OperationPayload{
		DescriptorType:  r.u16(),
		DescriptorIndex: r.u16(),
		OperationID:     r.u16(),
		OperationType:   r.u16(),
	}
	if r.err != nil {
		return p, r.err
	}
	p.Values = append([]byte(nil), r.b...)
	return p, nil
}

// ParseOperationStatusPayload decodes an OPERATION_STATUS notification
// body.
func ParseOperationStatusPayload(b []byte) (OperationPayload, error) {
	r := fieldReader{b: b}
	p := OperationPayload{
		DescriptorType:  r.u16(),
		DescriptorIndex: r.u16(),
		OperationID:     r.u16(),
		PercentComplete: r.u16(),
	}
	return p, r.err
}

// ParseAbortOperationPayload decodes an ABORT_OPERATION response body.
func ParseAbortOperationPayload(b []byte) (OperationPayload, error) {
	r := fieldReader{b: b}
	p := OperationPayload{
		DescriptorType:  r.u16(),
		DescriptorIndex: r.u16(),
		OperationID:     r.u16(),
	}
	r.skip(2)
	return p, r.err
}

// MemoryObjectLengthPayload is the SET/GET_MEMORY_OBJECT_LENGTH body.
type MemoryObjectLengthPayload struct {
	ConfigurationIndex uint16
	MemoryObjectIndex  uint16
	Length             uint64
}

// Marshal serializes the payload.
func (p MemoryObjectLengthPayload) Marshal() []byte {
	var w fieldWriter
	w.u16(p.ConfigurationIndex)
	w.u16(p.MemoryObjectIndex)
	w.u64(p.Length)
	return w.b
}

// MarshalCommandOnly serializes the GET command form without the length.
func (p MemoryObjectLengthPayload) MarshalCommandOnly() []byte {
	var w fieldWriter
	w.u16(p.ConfigurationIndex)
	w.u16(p.MemoryObjectIndex)
	return w.b
}

// ParseMemoryObjectLengthPayload decodes a memory object length body.
func ParseMemoryObjectLengthPayload(b []byte) (MemoryObjectLengthPayload, error) {
	r := fieldReader{b: b}
	p := MemoryObjectLengthPayload{
		ConfigurationIndex: r.u16(),
		MemoryObjectIndex:  r.u16(),
		Length:             r.u64(),
	}
	return p, r.err
}

// MilanInfoPayload is the GET_MILAN_INFO MVU response body.
type MilanInfoPayload struct {
	ConfigurationIndex   uint16
	ProtocolVersion      uint32
	FeaturesFlags        uint32
	CertificationVersion uint32
}

// GetMilanInfoCommand builds a GET_MILAN_INFO command body.
func GetMilanInfoCommand(configurationIndex uint16) []byte {
	var w fieldWriter
	w.u16(configurationIndex)
	w.u16(0)
	return w.b
}

// ParseMilanInfoPayload decodes a GET_MILAN_INFO response body.
func ParseMilanInfoPayload(b []byte) (MilanInfoPayload, error) {
	r := fieldReader{b: b}
	p := MilanInfoPayload{ConfigurationIndex: r.u16()}
	r.skip(2)
	p.ProtocolVersion = r.u32()
	p.FeaturesFlags = r.u32()
	p.CertificationVersion = r.u32()
	return p, r.err
}
