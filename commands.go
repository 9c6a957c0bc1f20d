package avdecc

import (
	"errors"

	"github.com/opd-ai/avdecc/acmp"
	"github.com/opd-ai/avdecc/aecp"
	"github.com/opd-ai/avdecc/entity"
	"github.com/opd-ai/avdecc/protocol"
)

/* Status translation */

func translateIssueError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, aecp.ErrUnknownEntity):
		return ErrorUnknownRemoteEntity
	case errors.Is(err, aecp.ErrNetwork), errors.Is(err, acmp.ErrNetwork):
		return ErrorTransportError
	case errors.Is(err, aecp.ErrEngineClosed), errors.Is(err, acmp.ErrEngineClosed):
		return ErrorInternalError
	default:
		return ErrorInternalError
	}
}

func aemResult(r aecp.Result) (AemCommandStatus, *protocol.Aecpdu) {
	switch r.Outcome {
	case aecp.OutcomeResponse:
		return AemCommandStatus(r.PDU.Status), r.PDU
	case aecp.OutcomeTimedOut:
		return AemStatusTimedOut, nil
	case aecp.OutcomeUnknownEntity:
		return AemStatusUnknownEntity, nil
	case aecp.OutcomeNetworkError:
		return AemStatusNetworkError, nil
	case aecp.OutcomeProtocolError:
		return AemStatusProtocolError, nil
	default:
		return AemStatusInternalError, nil
	}
}

func aaResult(r aecp.Result) (AaCommandStatus, *protocol.Aecpdu) {
	switch r.Outcome {
	case aecp.OutcomeResponse:
		return AaCommandStatus(r.PDU.Status), r.PDU
	case aecp.OutcomeTimedOut:
		return AaStatusTimedOut, nil
	case aecp.OutcomeUnknownEntity:
		return AaStatusUnknownEntity, nil
	case aecp.OutcomeNetworkError:
		return AaStatusNetworkError, nil
	case aecp.OutcomeProtocolError:
		return AaStatusProtocolError, nil
	default:
		return AaStatusInternalError, nil
	}
}

func mvuResult(r aecp.Result) (MvuCommandStatus, *protocol.Aecpdu) {
	switch r.Outcome {
	case aecp.OutcomeResponse:
		return MvuCommandStatus(r.PDU.Status), r.PDU
	case aecp.OutcomeTimedOut:
		return MvuStatusTimedOut, nil
	case aecp.OutcomeUnknownEntity:
		return MvuStatusUnknownEntity, nil
	case aecp.OutcomeNetworkError:
		return MvuStatusNetworkError, nil
	case aecp.OutcomeProtocolError:
		return MvuStatusProtocolError, nil
	default:
		return MvuStatusInternalError, nil
	}
}

func controlResult(r acmp.Result) (ControlStatus, *protocol.Acmpdu) {
	switch r.Outcome {
	case acmp.OutcomeResponse:
		return ControlStatus(r.PDU.Status), r.PDU
	case acmp.OutcomeTimedOut:
		return ControlStatusTimedOut, nil
	case acmp.OutcomeNetworkError:
		return ControlStatusNetworkError, nil
	default:
		return ControlStatusInternalError, nil
	}
}

// issueAem is the common path for every AEM operation.
func (c *Controller) issueAem(target protocol.UniqueIdentifier, ct protocol.AemCommandType,
	payload []byte, complete func(AemCommandStatus, *protocol.Aecpdu),
) error {
	err := c.aecp.Issue(target, aecp.Command{Kind: aecp.KindAem, CommandType: ct, Payload: payload},
		func(r aecp.Result) {
			status, pdu := aemResult(r)
			complete(status, pdu)
		})
	return translateIssueError(err)
}

/* AECP AEM handler signatures */

type (
	// AcquireEntityHandler receives the outcome of acquire/release.
	AcquireEntityHandler func(entityID protocol.UniqueIdentifier, status AemCommandStatus,
		owningEntity protocol.UniqueIdentifier, descriptorType, descriptorIndex uint16)

	// LockEntityHandler receives the outcome of lock/unlock.
	LockEntityHandler func(entityID protocol.UniqueIdentifier, status AemCommandStatus,
		lockedEntity protocol.UniqueIdentifier)

	// StatusHandler receives a bare command outcome.
	StatusHandler func(entityID protocol.UniqueIdentifier, status AemCommandStatus)

	// ReadDescriptorHandler receives an opaque descriptor image.
	ReadDescriptorHandler func(entityID protocol.UniqueIdentifier, status AemCommandStatus,
		configurationIndex, descriptorType, descriptorIndex uint16, descriptor []byte)

	// ConfigurationHandler receives a configuration index outcome.
	ConfigurationHandler func(entityID protocol.UniqueIdentifier, status AemCommandStatus,
		configurationIndex uint16)

	// StreamFormatHandler receives a stream format outcome.
	StreamFormatHandler func(entityID protocol.UniqueIdentifier, status AemCommandStatus,
		streamIndex uint16, streamFormat uint64)

	// NameHandler receives a SET_NAME/GET_NAME outcome.
	NameHandler func(entityID protocol.UniqueIdentifier, status AemCommandStatus,
		name string)

	// SamplingRateHandler receives a sampling rate outcome.
	SamplingRateHandler func(entityID protocol.UniqueIdentifier, status AemCommandStatus,
		descriptorIndex uint16, samplingRate uint32)

	// ClockSourceHandler receives a clock source outcome.
	ClockSourceHandler func(entityID protocol.UniqueIdentifier, status AemCommandStatus,
		clockDomainIndex, clockSourceIndex uint16)

	// StreamingHandler receives a start/stop streaming outcome.
	StreamingHandler func(entityID protocol.UniqueIdentifier, status AemCommandStatus,
		streamIndex uint16)

	// AvbInfoHandler receives a GET_AVB_INFO outcome.
	AvbInfoHandler func(entityID protocol.UniqueIdentifier, status AemCommandStatus,
		avbInterfaceIndex uint16, info protocol.AvbInfoPayload)

	// CountersHandler receives a GET_COUNTERS outcome.
	CountersHandler func(entityID protocol.UniqueIdentifier, status AemCommandStatus,
		descriptorIndex uint16, validCounters uint32, counters [32]uint32)

	// AudioMapHandler receives a GET_AUDIO_MAP outcome.
	AudioMapHandler func(entityID protocol.UniqueIdentifier, status AemCommandStatus,
		streamPortIndex, numberOfMaps, mapIndex uint16, mappings []protocol.AudioMapping)

	// AudioMappingsHandler receives an add/remove mappings outcome.
	AudioMappingsHandler func(entityID protocol.UniqueIdentifier, status AemCommandStatus,
		streamPortIndex uint16, mappings []protocol.AudioMapping)

	// OperationHandler receives a start/abort operation outcome.
	OperationHandler func(entityID protocol.UniqueIdentifier, status AemCommandStatus,
		descriptorType, descriptorIndex, operationID uint16)

	// MemoryObjectLengthHandler receives a memory object length outcome.
	MemoryObjectLengthHandler func(entityID protocol.UniqueIdentifier, status AemCommandStatus,
		configurationIndex, memoryObjectIndex uint16, length uint64)

	// AddressAccessHandler receives the outcome of an AA command.
	AddressAccessHandler func(entityID protocol.UniqueIdentifier, status AaCommandStatus,
		tlvs []protocol.AaTlv)

	// GetMilanInfoHandler receives the outcome of GET_MILAN_INFO.
	GetMilanInfoHandler func(entityID protocol.UniqueIdentifier, status MvuCommandStatus,
		info protocol.MilanInfoPayload)

	// AcmpHandler receives the outcome of an ACMP operation.
	AcmpHandler func(talkerStream, listenerStream entity.StreamIdentification,
		connectionCount uint16, flags uint16, status ControlStatus)
)

/* AECP AEM operations */

// AcquireEntity takes (or, with persistent, keeps across its own
// restarts) exclusive control of a descriptor on the target.
func (c *Controller) AcquireEntity(targetEntityID protocol.UniqueIdentifier, persistent bool,
	descriptorType, descriptorIndex uint16, handler AcquireEntityHandler,
) error {
	var flags uint32
	if persistent {
		flags = protocol.AcquireFlagPersistent
	}
	payload := protocol.AcquireEntityPayload{
		Flags:           flags,
		OwnerID:         0,
		DescriptorType:  descriptorType,
		DescriptorIndex: descriptorIndex,
	}
	return c.issueAem(targetEntityID, protocol.AemAcquireEntity, payload.Marshal(),
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			owner := protocol.UniqueIdentifier(0)
			dt, di := descriptorType, descriptorIndex
			if pdu != nil {
				if p, err := protocol.ParseAcquireEntityPayload(pdu.CommandPayload); err == nil {
					owner, dt, di = p.OwnerID, p.DescriptorType, p.DescriptorIndex
				} else if status == AemStatusSuccess {
					status = AemStatusProtocolError
				}
			}
			if handler != nil {
				handler(targetEntityID, status, owner, dt, di)
			}
		})
}

// ReleaseEntity relinquishes an earlier acquisition.
func (c *Controller) ReleaseEntity(targetEntityID protocol.UniqueIdentifier,
	descriptorType, descriptorIndex uint16, handler AcquireEntityHandler,
) error {
	payload := protocol.AcquireEntityPayload{
		Flags:           protocol.AcquireFlagRelease,
		DescriptorType:  descriptorType,
		DescriptorIndex: descriptorIndex,
	}
	return c.issueAem(targetEntityID, protocol.AemAcquireEntity, payload.Marshal(),
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			owner := protocol.UniqueIdentifier(0)
			dt, di := descriptorType, descriptorIndex
			if pdu != nil {
				if p, err := protocol.ParseAcquireEntityPayload(pdu.CommandPayload); err == nil {
					owner, dt, di = p.OwnerID, p.DescriptorType, p.DescriptorIndex
				}
			}
			if handler != nil {
				handler(targetEntityID, status, owner, dt, di)
			}
		})
}

// LockEntity takes the short-term command lock on the target.
func (c *Controller) LockEntity(targetEntityID protocol.UniqueIdentifier, handler LockEntityHandler) error {
	payload := protocol.LockEntityPayload{DescriptorType: protocol.DescriptorTypeEntity}
	return c.issueAem(targetEntityID, protocol.AemLockEntity, payload.Marshal(),
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			locked := protocol.UniqueIdentifier(0)
			if pdu != nil {
				if p, err := protocol.ParseLockEntityPayload(pdu.CommandPayload); err == nil {
					locked = p.LockedID
				}
			}
			if handler != nil {
				handler(targetEntityID, status, locked)
			}
		})
}

// UnlockEntity releases the command lock.
func (c *Controller) UnlockEntity(targetEntityID protocol.UniqueIdentifier, handler LockEntityHandler) error {
	payload := protocol.LockEntityPayload{
		Flags:          protocol.LockFlagUnlock,
		DescriptorType: protocol.DescriptorTypeEntity,
	}
	return c.issueAem(targetEntityID, protocol.AemLockEntity, payload.Marshal(),
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			if handler != nil {
				handler(targetEntityID, status, 0)
			}
		})
}

// QueryEntityAvailable pings the target entity.
func (c *Controller) QueryEntityAvailable(targetEntityID protocol.UniqueIdentifier, handler StatusHandler) error {
	return c.issueAem(targetEntityID, protocol.AemEntityAvailable, nil,
		func(status AemCommandStatus, _ *protocol.Aecpdu) {
			if handler != nil {
				handler(targetEntityID, status)
			}
		})
}

// QueryControllerAvailable asks the target whether its interested
// controller is still alive.
func (c *Controller) QueryControllerAvailable(targetEntityID protocol.UniqueIdentifier, handler StatusHandler) error {
	return c.issueAem(targetEntityID, protocol.AemControllerAvailable, nil,
		func(status AemCommandStatus, _ *protocol.Aecpdu) {
			if handler != nil {
				handler(targetEntityID, status)
			}
		})
}

// RegisterUnsolicitedNotifications subscribes this controller to the
// target's state change notifications.
func (c *Controller) RegisterUnsolicitedNotifications(targetEntityID protocol.UniqueIdentifier, handler StatusHandler) error {
	return c.issueAem(targetEntityID, protocol.AemRegisterUnsolicited, nil,
		func(status AemCommandStatus, _ *protocol.Aecpdu) {
			if handler != nil {
				handler(targetEntityID, status)
			}
		})
}

// DeregisterUnsolicitedNotifications cancels the subscription.
func (c *Controller) DeregisterUnsolicitedNotifications(targetEntityID protocol.UniqueIdentifier, handler StatusHandler) error {
	return c.issueAem(targetEntityID, protocol.AemDeregisterUnsolicited, nil,
		func(status AemCommandStatus, _ *protocol.Aecpdu) {
			if handler != nil {
				handler(targetEntityID, status)
			}
		})
}

// ReadDescriptor fetches one descriptor image; the payload stays
// opaque.
func (c *Controller) ReadDescriptor(targetEntityID protocol.UniqueIdentifier,
	configurationIndex, descriptorType, descriptorIndex uint16, handler ReadDescriptorHandler,
) error {
	cmd := protocol.ReadDescriptorCommand(configurationIndex, descriptorType, descriptorIndex)
	return c.issueAem(targetEntityID, protocol.AemReadDescriptor, cmd,
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			cfg, dt, di := configurationIndex, descriptorType, descriptorIndex
			var image []byte
			if pdu != nil {
				if p, err := protocol.ParseReadDescriptorResponse(pdu.CommandPayload); err == nil {
					cfg, dt, di, image = p.ConfigurationIndex, p.DescriptorType, p.DescriptorIndex, p.Descriptor
				} else if status == AemStatusSuccess {
					status = AemStatusProtocolError
				}
			}
			if handler != nil {
				handler(targetEntityID, status, cfg, dt, di, image)
			}
		})
}

// ReadEntityDescriptor fetches the ENTITY descriptor.
func (c *Controller) ReadEntityDescriptor(targetEntityID protocol.UniqueIdentifier, handler ReadDescriptorHandler) error {
	return c.ReadDescriptor(targetEntityID, 0, protocol.DescriptorTypeEntity, 0, handler)
}

// ReadConfigurationDescriptor fetches one CONFIGURATION descriptor.
func (c *Controller) ReadConfigurationDescriptor(targetEntityID protocol.UniqueIdentifier,
	configurationIndex uint16, handler ReadDescriptorHandler,
) error {
	return c.ReadDescriptor(targetEntityID, 0, protocol.DescriptorTypeConfiguration, configurationIndex, handler)
}

// ReadStreamInputDescriptor fetches one STREAM_INPUT descriptor.
func (c *Controller) ReadStreamInputDescriptor(targetEntityID protocol.UniqueIdentifier,
	configurationIndex, streamIndex uint16, handler ReadDescriptorHandler,
) error {
	return c.ReadDescriptor(targetEntityID, configurationIndex, protocol.DescriptorTypeStreamInput, streamIndex, handler)
}

// ReadStreamOutputDescriptor fetches one STREAM_OUTPUT descriptor.
func (c *Controller) ReadStreamOutputDescriptor(targetEntityID protocol.UniqueIdentifier,
	configurationIndex, streamIndex uint16, handler ReadDescriptorHandler,
) error {
	return c.ReadDescriptor(targetEntityID, configurationIndex, protocol.DescriptorTypeStreamOutput, streamIndex, handler)
}

// SetConfiguration switches the target's active configuration.
func (c *Controller) SetConfiguration(targetEntityID protocol.UniqueIdentifier,
	configurationIndex uint16, handler ConfigurationHandler,
) error {
	payload := protocol.ConfigurationPayload{ConfigurationIndex: configurationIndex}
	return c.issueAem(targetEntityID, protocol.AemSetConfiguration, payload.Marshal(),
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			cfg := configurationIndex
			if pdu != nil {
				if p, err := protocol.ParseConfigurationPayload(pdu.CommandPayload); err == nil {
					cfg = p.ConfigurationIndex
				}
			}
			if handler != nil {
				handler(targetEntityID, status, cfg)
			}
		})
}

// GetConfiguration reads the target's active configuration.
func (c *Controller) GetConfiguration(targetEntityID protocol.UniqueIdentifier, handler ConfigurationHandler) error {
	return c.issueAem(targetEntityID, protocol.AemGetConfiguration, nil,
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			var cfg uint16
			if pdu != nil {
				if p, err := protocol.ParseConfigurationPayload(pdu.CommandPayload); err == nil {
					cfg = p.ConfigurationIndex
				} else if status == AemStatusSuccess {
					status = AemStatusProtocolError
				}
			}
			if handler != nil {
				handler(targetEntityID, status, cfg)
			}
		})
}

func (c *Controller) setStreamFormat(targetEntityID protocol.UniqueIdentifier,
	descriptorType, streamIndex uint16, streamFormat uint64, handler StreamFormatHandler,
) error {
	payload := protocol.StreamFormatPayload{
		DescriptorType:  descriptorType,
		DescriptorIndex: streamIndex,
		StreamFormat:    streamFormat,
	}
	return c.issueAem(targetEntityID, protocol.AemSetStreamFormat, payload.Marshal(),
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			idx, format := streamIndex, streamFormat
			if pdu != nil {
				if p, err := protocol.ParseStreamFormatPayload(pdu.CommandPayload); err == nil {
					idx, format = p.DescriptorIndex, p.StreamFormat
				}
			}
			if handler != nil {
				handler(targetEntityID, status, idx, format)
			}
		})
}

func (c *Controller) getStreamFormat(targetEntityID protocol.UniqueIdentifier,
	descriptorType, streamIndex uint16, handler StreamFormatHandler,
) error {
	cmd := protocol.GetStreamFormatCommand(descriptorType, streamIndex)
	return c.issueAem(targetEntityID, protocol.AemGetStreamFormat, cmd,
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			idx, format := streamIndex, uint64(0)
			if pdu != nil {
				if p, err := protocol.ParseStreamFormatPayload(pdu.CommandPayload); err == nil {
					idx, format = p.DescriptorIndex, p.StreamFormat
				} else if status == AemStatusSuccess {
					status = AemStatusProtocolError
				}
			}
			if handler != nil {
				handler(targetEntityID, status, idx, format)
			}
		})
}

// SetStreamInputFormat reconfigures an input stream's format.
func (c *Controller) SetStreamInputFormat(targetEntityID protocol.UniqueIdentifier,
	streamIndex uint16, streamFormat uint64, handler StreamFormatHandler,
) error {
	return c.setStreamFormat(targetEntityID, protocol.DescriptorTypeStreamInput, streamIndex, streamFormat, handler)
}

// GetStreamInputFormat reads an input stream's format.
func (c *Controller) GetStreamInputFormat(targetEntityID protocol.UniqueIdentifier,
	streamIndex uint16, handler StreamFormatHandler,
) error {
	return c.getStreamFormat(targetEntityID, protocol.DescriptorTypeStreamInput, streamIndex, handler)
}

// SetStreamOutputFormat reconfigures an output stream's format.
func (c *Controller) SetStreamOutputFormat(targetEntityID protocol.UniqueIdentifier,
	streamIndex uint16, streamFormat uint64, handler StreamFormatHandler,
) error {
	return c.setStreamFormat(targetEntityID, protocol.DescriptorTypeStreamOutput, streamIndex, streamFormat, handler)
}

// GetStreamOutputFormat reads an output stream's format.
func (c *Controller) GetStreamOutputFormat(targetEntityID protocol.UniqueIdentifier,
	streamIndex uint16, handler StreamFormatHandler,
) error {
	return c.getStreamFormat(targetEntityID, protocol.DescriptorTypeStreamOutput, streamIndex, handler)
}

// SetName writes one name field of a descriptor.
func (c *Controller) SetName(targetEntityID protocol.UniqueIdentifier,
	descriptorType, descriptorIndex, nameIndex, configurationIndex uint16,
	name string, handler NameHandler,
) error {
	payload := protocol.NamePayload{
		DescriptorType:     descriptorType,
		DescriptorIndex:    descriptorIndex,
		NameIndex:          nameIndex,
		ConfigurationIndex: configurationIndex,
		Name:               protocol.MakeFixedString(name),
	}
	return c.issueAem(targetEntityID, protocol.AemSetName, payload.Marshal(),
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			got := name
			if pdu != nil {
				if p, err := protocol.ParseNamePayload(pdu.CommandPayload); err == nil {
					got = p.Name.String()
				}
			}
			if handler != nil {
				handler(targetEntityID, status, got)
			}
		})
}

// GetName reads one name field of a descriptor.
func (c *Controller) GetName(targetEntityID protocol.UniqueIdentifier,
	descriptorType, descriptorIndex, nameIndex, configurationIndex uint16, handler NameHandler,
) error {
	payload := protocol.NamePayload{
		DescriptorType:     descriptorType,
		DescriptorIndex:    descriptorIndex,
		NameIndex:          nameIndex,
		ConfigurationIndex: configurationIndex,
	}
	return c.issueAem(targetEntityID, protocol.AemGetName, payload.MarshalCommandOnly(),
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			var got string
			if pdu != nil {
				if p, err := protocol.ParseNamePayload(pdu.CommandPayload); err == nil {
					got = p.Name.String()
				} else if status == AemStatusSuccess {
					status = AemStatusProtocolError
				}
			}
			if handler != nil {
				handler(targetEntityID, status, got)
			}
		})
}

// SetEntityName writes the entity's name.
func (c *Controller) SetEntityName(targetEntityID protocol.UniqueIdentifier, name string, handler NameHandler) error {
	return c.SetName(targetEntityID, protocol.DescriptorTypeEntity, 0, 0, 0, name, handler)
}

// GetEntityName reads the entity's name.
func (c *Controller) GetEntityName(targetEntityID protocol.UniqueIdentifier, handler NameHandler) error {
	return c.GetName(targetEntityID, protocol.DescriptorTypeEntity, 0, 0, 0, handler)
}

// SetEntityGroupName writes the entity's group name.
func (c *Controller) SetEntityGroupName(targetEntityID protocol.UniqueIdentifier, name string, handler NameHandler) error {
	return c.SetName(targetEntityID, protocol.DescriptorTypeEntity, 0, 1, 0, name, handler)
}

// GetEntityGroupName reads the entity's group name.
func (c *Controller) GetEntityGroupName(targetEntityID protocol.UniqueIdentifier, handler NameHandler) error {
	return c.GetName(targetEntityID, protocol.DescriptorTypeEntity, 0, 1, 0, handler)
}

// SetSamplingRate changes an audio unit's sampling rate.
func (c *Controller) SetSamplingRate(targetEntityID protocol.UniqueIdentifier,
	descriptorType, descriptorIndex uint16, samplingRate uint32, handler SamplingRateHandler,
) error {
	payload := protocol.SamplingRatePayload{
		DescriptorType:  descriptorType,
		DescriptorIndex: descriptorIndex,
		SamplingRate:    samplingRate,
	}
	return c.issueAem(targetEntityID, protocol.AemSetSamplingRate, payload.Marshal(),
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			idx, rate := descriptorIndex, samplingRate
			if pdu != nil {
				if p, err := protocol.ParseSamplingRatePayload(pdu.CommandPayload); err == nil {
					idx, rate = p.DescriptorIndex, p.SamplingRate
				}
			}
			if handler != nil {
				handler(targetEntityID, status, idx, rate)
			}
		})
}

// GetSamplingRate reads an audio unit's sampling rate.
func (c *Controller) GetSamplingRate(targetEntityID protocol.UniqueIdentifier,
	descriptorType, descriptorIndex uint16, handler SamplingRateHandler,
) error {
	cmd := protocol.GetSamplingRateCommand(descriptorType, descriptorIndex)
	return c.issueAem(targetEntityID, protocol.AemGetSamplingRate, cmd,
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			idx, rate := descriptorIndex, uint32(0)
			if pdu != nil {
				if p, err := protocol.ParseSamplingRatePayload(pdu.CommandPayload); err == nil {
					idx, rate = p.DescriptorIndex, p.SamplingRate
				} else if status == AemStatusSuccess {
					status = AemStatusProtocolError
				}
			}
			if handler != nil {
				handler(targetEntityID, status, idx, rate)
			}
		})
}

// SetClockSource selects the clock source of a clock domain.
func (c *Controller) SetClockSource(targetEntityID protocol.UniqueIdentifier,
	clockDomainIndex, clockSourceIndex uint16, handler ClockSourceHandler,
) error {
	payload := protocol.ClockSourcePayload{
		ClockDomainIndex: clockDomainIndex,
		ClockSourceIndex: clockSourceIndex,
	}
	return c.issueAem(targetEntityID, protocol.AemSetClockSource, payload.Marshal(),
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			domain, source := clockDomainIndex, clockSourceIndex
			if pdu != nil {
				if p, err := protocol.ParseClockSourcePayload(pdu.CommandPayload); err == nil {
					domain, source = p.ClockDomainIndex, p.ClockSourceIndex
				}
			}
			if handler != nil {
				handler(targetEntityID, status, domain, source)
			}
		})
}

// GetClockSource reads the clock source of a clock domain.
func (c *Controller) GetClockSource(targetEntityID protocol.UniqueIdentifier,
	clockDomainIndex uint16, handler ClockSourceHandler,
) error {
	cmd := protocol.GetClockSourceCommand(clockDomainIndex)
	return c.issueAem(targetEntityID, protocol.AemGetClockSource, cmd,
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			domain, source := clockDomainIndex, uint16(0)
			if pdu != nil {
				if p, err := protocol.ParseClockSourcePayload(pdu.CommandPayload); err == nil {
					domain, source = p.ClockDomainIndex, p.ClockSourceIndex
				} else if status == AemStatusSuccess {
					status = AemStatusProtocolError
				}
			}
			if handler != nil {
				handler(targetEntityID, status, domain, source)
			}
		})
}

func (c *Controller) streaming(targetEntityID protocol.UniqueIdentifier, ct protocol.AemCommandType,
	descriptorType, streamIndex uint16, handler StreamingHandler,
) error {
	payload := protocol.StreamingPayload{
		DescriptorType:  descriptorType,
		DescriptorIndex: streamIndex,
	}
	return c.issueAem(targetEntityID, ct, payload.Marshal(),
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			idx := streamIndex
			if pdu != nil {
				if p, err := protocol.ParseStreamingPayload(pdu.CommandPayload); err == nil {
					idx = p.DescriptorIndex
				}
			}
			if handler != nil {
				handler(targetEntityID, status, idx)
			}
		})
}

// StartStreamInput starts streaming on an input stream.
func (c *Controller) StartStreamInput(targetEntityID protocol.UniqueIdentifier, streamIndex uint16, handler StreamingHandler) error {
	return c.streaming(targetEntityID, protocol.AemStartStreaming, protocol.DescriptorTypeStreamInput, streamIndex, handler)
}

// StartStreamOutput starts streaming on an output stream.
func (c *Controller) StartStreamOutput(targetEntityID protocol.UniqueIdentifier, streamIndex uint16, handler StreamingHandler) error {
	return c.streaming(targetEntityID, protocol.AemStartStreaming, protocol.DescriptorTypeStreamOutput, streamIndex, handler)
}

// StopStreamInput stops streaming on an input stream.
func (c *Controller) StopStreamInput(targetEntityID protocol.UniqueIdentifier, streamIndex uint16, handler StreamingHandler) error {
	return c.streaming(targetEntityID, protocol.AemStopStreaming, protocol.DescriptorTypeStreamInput, streamIndex, handler)
}

// StopStreamOutput stops streaming on an output stream.
func (c *Controller) StopStreamOutput(targetEntityID protocol.UniqueIdentifier, streamIndex uint16, handler StreamingHandler) error {
	return c.streaming(targetEntityID, protocol.AemStopStreaming, protocol.DescriptorTypeStreamOutput, streamIndex, handler)
}

// GetAvbInfo reads the gPTP and MSRP state of an AVB interface.
func (c *Controller) GetAvbInfo(targetEntityID protocol.UniqueIdentifier,
	avbInterfaceIndex uint16, handler AvbInfoHandler,
) error {
	cmd := protocol.GetAvbInfoCommand(avbInterfaceIndex)
	return c.issueAem(targetEntityID, protocol.AemGetAvbInfo, cmd,
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			var info protocol.AvbInfoPayload
			if pdu != nil {
				if p, err := protocol.ParseAvbInfoPayload(pdu.CommandPayload); err == nil {
					info = p
				} else if status == AemStatusSuccess {
					status = AemStatusProtocolError
				}
			}
			if handler != nil {
				handler(targetEntityID, status, avbInterfaceIndex, info)
			}
		})
}

// GetCounters reads a descriptor's counter block.
func (c *Controller) GetCounters(targetEntityID protocol.UniqueIdentifier,
	descriptorType, descriptorIndex uint16, handler CountersHandler,
) error {
	cmd := protocol.GetCountersCommand(descriptorType, descriptorIndex)
	return c.issueAem(targetEntityID, protocol.AemGetCounters, cmd,
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			var valid uint32
			var counters [32]uint32
			idx := descriptorIndex
			if pdu != nil {
				if p, err := protocol.ParseCountersPayload(pdu.CommandPayload); err == nil {
					idx, valid, counters = p.DescriptorIndex, p.CountersValid, p.Counters
				} else if status == AemStatusSuccess {
					status = AemStatusProtocolError
				}
			}
			if handler != nil {
				handler(targetEntityID, status, idx, valid, counters)
			}
		})
}

// GetAudioMap reads one page of a dynamic audio map.
func (c *Controller) GetAudioMap(targetEntityID protocol.UniqueIdentifier,
	descriptorType, streamPortIndex, mapIndex uint16, handler AudioMapHandler,
) error {
	cmd := protocol.GetAudioMapCommand(descriptorType, streamPortIndex, mapIndex)
	return c.issueAem(targetEntityID, protocol.AemGetAudioMap, cmd,
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			idx, maps, mi := streamPortIndex, uint16(0), mapIndex
			var mappings []protocol.AudioMapping
			if pdu != nil {
				if p, err := protocol.ParseAudioMapPayload(pdu.CommandPayload); err == nil {
					idx, maps, mi, mappings = p.DescriptorIndex, p.NumberOfMaps, p.MapIndex, p.Mappings
				} else if status == AemStatusSuccess {
					status = AemStatusProtocolError
				}
			}
			if handler != nil {
				handler(targetEntityID, status, idx, maps, mi, mappings)
			}
		})
}

func (c *Controller) audioMappings(targetEntityID protocol.UniqueIdentifier, ct protocol.AemCommandType,
	descriptorType, streamPortIndex uint16, mappings []protocol.AudioMapping, handler AudioMappingsHandler,
) error {
	payload := protocol.AudioMappingsPayload{
		DescriptorType:  descriptorType,
		DescriptorIndex: streamPortIndex,
		Mappings:        mappings,
	}
	return c.issueAem(targetEntityID, ct, payload.Marshal(),
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			idx := streamPortIndex
			got := mappings
			if pdu != nil {
				if p, err := protocol.ParseAudioMappingsPayload(pdu.CommandPayload); err == nil {
					idx, got = p.DescriptorIndex, p.Mappings
				}
			}
			if handler != nil {
				handler(targetEntityID, status, idx, got)
			}
		})
}

// AddStreamPortInputAudioMappings adds dynamic mappings on an input
// stream port.
func (c *Controller) AddStreamPortInputAudioMappings(targetEntityID protocol.UniqueIdentifier,
	streamPortIndex uint16, mappings []protocol.AudioMapping, handler AudioMappingsHandler,
) error {
	return c.audioMappings(targetEntityID, protocol.AemAddAudioMappings,
		protocol.DescriptorTypeStreamPortInput, streamPortIndex, mappings, handler)
}

// AddStreamPortOutputAudioMappings adds dynamic mappings on an output
// stream port.
func (c *Controller) AddStreamPortOutputAudioMappings(targetEntityID protocol.UniqueIdentifier,
	streamPortIndex uint16, mappings []protocol.AudioMapping, handler AudioMappingsHandler,
) error {
	return c.audioMappings(targetEntityID, protocol.AemAddAudioMappings,
		protocol.DescriptorTypeStreamPortOutput, streamPortIndex, mappings, handler)
}

// RemoveStreamPortInputAudioMappings removes dynamic mappings on an
// input stream port.
func (c *Controller) RemoveStreamPortInputAudioMappings(targetEntityID protocol.UniqueIdentifier,
	streamPortIndex uint16, mappings []protocol.AudioMapping, handler AudioMappingsHandler,
) error {
	return c.audioMappings(targetEntityID, protocol.AemRemoveAudioMappings,
		protocol.DescriptorTypeStreamPortInput, streamPortIndex, mappings, handler)
}

// RemoveStreamPortOutputAudioMappings removes dynamic mappings on an
// output stream port.
func (c *Controller) RemoveStreamPortOutputAudioMappings(targetEntityID protocol.UniqueIdentifier,
	streamPortIndex uint16, mappings []protocol.AudioMapping, handler AudioMappingsHandler,
) error {
	return c.audioMappings(targetEntityID, protocol.AemRemoveAudioMappings,
		protocol.DescriptorTypeStreamPortOutput, streamPortIndex, mappings, handler)
}

// StartOperation begins a long-running memory object operation
// (firmware upload, erase, ...).
func (c *Controller) StartOperation(targetEntityID protocol.UniqueIdentifier,
	descriptorType, descriptorIndex, operationType uint16, values []byte, handler OperationHandler,
) error {
	payload := protocol.OperationPayload{
		DescriptorType:  descriptorType,
		DescriptorIndex: descriptorIndex,
		OperationType:   operationType,
		Values:          values,
	}
	return c.issueAem(targetEntityID, protocol.AemStartOperation, payload.MarshalStart(),
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			var opID uint16
			if pdu != nil {
				if p, err := protocol.ParseStartOperationPayload(pdu.CommandPayload); err == nil {
					opID = p.OperationID
				} else if status == AemStatusSuccess {
					status = AemStatusProtocolError
				}
			}
			if handler != nil {
				handler(targetEntityID, status, descriptorType, descriptorIndex, opID)
			}
		})
}

// AbortOperation cancels a long-running operation.
func (c *Controller) AbortOperation(targetEntityID protocol.UniqueIdentifier,
	descriptorType, descriptorIndex, operationID uint16, handler OperationHandler,
) error {
	payload := protocol.OperationPayload{
		DescriptorType:  descriptorType,
		DescriptorIndex: descriptorIndex,
		OperationID:     operationID,
	}
	return c.issueAem(targetEntityID, protocol.AemAbortOperation, payload.MarshalAbort(),
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			if handler != nil {
				handler(targetEntityID, status, descriptorType, descriptorIndex, operationID)
			}
		})
}

// SetMemoryObjectLength truncates or extends a memory object.
func (c *Controller) SetMemoryObjectLength(targetEntityID protocol.UniqueIdentifier,
	configurationIndex, memoryObjectIndex uint16, length uint64, handler MemoryObjectLengthHandler,
) error {
	payload := protocol.MemoryObjectLengthPayload{
		ConfigurationIndex: configurationIndex,
		MemoryObjectIndex:  memoryObjectIndex,
		Length:             length,
	}
	return c.issueAem(targetEntityID, protocol.AemSetMemoryObjectLength, payload.Marshal(),
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			got := length
			if pdu != nil {
				if p, err := protocol.ParseMemoryObjectLengthPayload(pdu.CommandPayload); err == nil {
					got = p.Length
				}
			}
			if handler != nil {
				handler(targetEntityID, status, configurationIndex, memoryObjectIndex, got)
			}
		})
}

// GetMemoryObjectLength reads a memory object's length.
func (c *Controller) GetMemoryObjectLength(targetEntityID protocol.UniqueIdentifier,
	configurationIndex, memoryObjectIndex uint16, handler MemoryObjectLengthHandler,
) error {
	payload := protocol.MemoryObjectLengthPayload{
		ConfigurationIndex: configurationIndex,
		MemoryObjectIndex:  memoryObjectIndex,
	}
	return c.issueAem(targetEntityID, protocol.AemGetMemoryObjectLength, payload.MarshalCommandOnly(),
		func(status AemCommandStatus, pdu *protocol.Aecpdu) {
			var got uint64
			if pdu != nil {
				if p, err := protocol.ParseMemoryObjectLengthPayload(pdu.CommandPayload); err == nil {
					got = p.Length
				} else if status == AemStatusSuccess {
					status = AemStatusProtocolError
				}
			}
			if handler != nil {
				handler(targetEntityID, status, configurationIndex, memoryObjectIndex, got)
			}
		})
}

/* AECP AA */

// AddressAccess performs a list of read/write/execute TLV operations in
// the target's address space.
func (c *Controller) AddressAccess(targetEntityID protocol.UniqueIdentifier,
	tlvs []protocol.AaTlv, handler AddressAccessHandler,
) error {
	if len(tlvs) == 0 {
		return ErrorMessageNotSupported
	}
	err := c.aecp.Issue(targetEntityID, aecp.Command{Kind: aecp.KindAa, Tlvs: tlvs},
		func(r aecp.Result) {
			status, pdu := aaResult(r)
			var got []protocol.AaTlv
			if pdu != nil {
				got = pdu.Tlvs
			}
			if handler != nil {
				handler(targetEntityID, status, got)
			}
		})
	return translateIssueError(err)
}

/* AECP MVU */

// GetMilanInfo queries the target's Milan protocol information.
func (c *Controller) GetMilanInfo(targetEntityID protocol.UniqueIdentifier,
	configurationIndex uint16, handler GetMilanInfoHandler,
) error {
	err := c.aecp.Issue(targetEntityID, aecp.Command{
		Kind:           aecp.KindMvu,
		MvuCommandType: protocol.MvuGetMilanInfo,
		Payload:        protocol.GetMilanInfoCommand(configurationIndex),
	}, func(r aecp.Result) {
		status, pdu := mvuResult(r)
		var info protocol.MilanInfoPayload
		if pdu != nil {
			if p, err := protocol.ParseMilanInfoPayload(pdu.CommandPayload); err == nil {
				info = p
			} else if status == MvuStatusSuccess {
				status = MvuStatusProtocolError
			}
		}
		if handler != nil {
			handler(targetEntityID, status, info)
		}
	})
	return translateIssueError(err)
}

/* ACMP */

func (c *Controller) issueAcmp(pdu *protocol.Acmpdu, handler AcmpHandler) error {
	err := c.acmp.Issue(pdu, func(r acmp.Result) {
		status, resp := controlResult(r)
		talker := entity.StreamIdentification{EntityID: pdu.TalkerEntityID, StreamIndex: pdu.TalkerUniqueID}
		listener := entity.StreamIdentification{EntityID: pdu.ListenerEntityID, StreamIndex: pdu.ListenerUniqueID}
		var count, flags uint16
		if resp != nil {
			talker = entity.StreamIdentification{EntityID: resp.TalkerEntityID, StreamIndex: resp.TalkerUniqueID}
			listener = entity.StreamIdentification{EntityID: resp.ListenerEntityID, StreamIndex: resp.ListenerUniqueID}
			count, flags = resp.ConnectionCount, resp.Flags
		}
		if handler != nil {
			handler(talker, listener, count, flags, status)
		}
	})
	return translateIssueError(err)
}

// ConnectStream asks the listener to connect to the talker's stream
// (CONNECT_RX).
func (c *Controller) ConnectStream(talkerStream, listenerStream entity.StreamIdentification, handler AcmpHandler) error {
	return c.issueAcmp(&protocol.Acmpdu{
		MessageType:      protocol.AcmpConnectRxCommand,
		TalkerEntityID:   talkerStream.EntityID,
		TalkerUniqueID:   talkerStream.StreamIndex,
		ListenerEntityID: listenerStream.EntityID,
		ListenerUniqueID: listenerStream.StreamIndex,
	}, handler)
}

// DisconnectStream asks the listener to disconnect from the talker's
// stream (DISCONNECT_RX).
func (c *Controller) DisconnectStream(talkerStream, listenerStream entity.StreamIdentification, handler AcmpHandler) error {
	return c.issueAcmp(&protocol.Acmpdu{
		MessageType:      protocol.AcmpDisconnectRxCommand,
		TalkerEntityID:   talkerStream.EntityID,
		TalkerUniqueID:   talkerStream.StreamIndex,
		ListenerEntityID: listenerStream.EntityID,
		ListenerUniqueID: listenerStream.StreamIndex,
	}, handler)
}

// DisconnectTalkerStream tears the talker side down directly
// (DISCONNECT_TX), used when the listener is gone.
func (c *Controller) DisconnectTalkerStream(talkerStream, listenerStream entity.StreamIdentification, handler AcmpHandler) error {
	return c.issueAcmp(&protocol.Acmpdu{
		MessageType:      protocol.AcmpDisconnectTxCommand,
		TalkerEntityID:   talkerStream.EntityID,
		TalkerUniqueID:   talkerStream.StreamIndex,
		ListenerEntityID: listenerStream.EntityID,
		ListenerUniqueID: listenerStream.StreamIndex,
	}, handler)
}

// GetTalkerStreamState queries the talker's view of a stream.
func (c *Controller) GetTalkerStreamState(talkerStream entity.StreamIdentification, handler AcmpHandler) error {
	return c.issueAcmp(&protocol.Acmpdu{
		MessageType:    protocol.AcmpGetTxStateCommand,
		TalkerEntityID: talkerStream.EntityID,
		TalkerUniqueID: talkerStream.StreamIndex,
	}, handler)
}

// GetListenerStreamState queries the listener's view of a stream.
func (c *Controller) GetListenerStreamState(listenerStream entity.StreamIdentification, handler AcmpHandler) error {
	return c.issueAcmp(&protocol.Acmpdu{
		MessageType:      protocol.AcmpGetRxStateCommand,
		ListenerEntityID: listenerStream.EntityID,
		ListenerUniqueID: listenerStream.StreamIndex,
	}, handler)
}

// GetTalkerStreamConnection queries one connection of a talker stream
// by index.
func (c *Controller) GetTalkerStreamConnection(talkerStream entity.StreamIdentification,
	connectionIndex uint16, handler AcmpHandler,
) error {
	return c.issueAcmp(&protocol.Acmpdu{
		MessageType:     protocol.AcmpGetTxConnectionCommand,
		TalkerEntityID:  talkerStream.EntityID,
		TalkerUniqueID:  talkerStream.StreamIndex,
		ConnectionCount: connectionIndex,
	}, handler)
}
