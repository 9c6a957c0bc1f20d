package avdecc

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/avdecc/entity"
	"github.com/opd-ai/avdecc/protocol"
)

// unsolicitedCallbacks holds the delegate callbacks fired by AEM
// unsolicited notifications. Only successful notifications reach them;
// everything runs on the notifier executor.
type unsolicitedCallbacks struct {
	onEntityAcquired            func(entityID, owningEntity protocol.UniqueIdentifier, descriptorType, descriptorIndex uint16)
	onEntityReleased            func(entityID, owningEntity protocol.UniqueIdentifier, descriptorType, descriptorIndex uint16)
	onConfigurationChanged      func(entityID protocol.UniqueIdentifier, configurationIndex uint16)
	onStreamInputFormatChanged  func(entityID protocol.UniqueIdentifier, streamIndex uint16, streamFormat uint64)
	onStreamOutputFormatChanged func(entityID protocol.UniqueIdentifier, streamIndex uint16, streamFormat uint64)
	onNameChanged               func(entityID protocol.UniqueIdentifier, descriptorType, descriptorIndex, nameIndex uint16, name string)
	onSamplingRateChanged       func(entityID protocol.UniqueIdentifier, descriptorIndex uint16, samplingRate uint32)
	onClockSourceChanged        func(entityID protocol.UniqueIdentifier, clockDomainIndex, clockSourceIndex uint16)
	onStreamInputStarted        func(entityID protocol.UniqueIdentifier, streamIndex uint16)
	onStreamOutputStarted       func(entityID protocol.UniqueIdentifier, streamIndex uint16)
	onStreamInputStopped        func(entityID protocol.UniqueIdentifier, streamIndex uint16)
	onStreamOutputStopped       func(entityID protocol.UniqueIdentifier, streamIndex uint16)
	onAvbInfoChanged            func(entityID protocol.UniqueIdentifier, avbInterfaceIndex uint16, info protocol.AvbInfoPayload)
	onMemoryObjectLengthChanged func(entityID protocol.UniqueIdentifier, configurationIndex, memoryObjectIndex uint16, length uint64)
	onOperationStatus           func(entityID protocol.UniqueIdentifier, descriptorType, descriptorIndex, operationID, percentComplete uint16)
	onIdentify                  func(entityID protocol.UniqueIdentifier)
}

/* Unsolicited notification registration */

// OnEntityAcquired sets the callback for acquisitions by other
// controllers.
func (c *Controller) OnEntityAcquired(f func(entityID, owningEntity protocol.UniqueIdentifier, descriptorType, descriptorIndex uint16)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.unsolicited.onEntityAcquired = f
}

// OnEntityReleased sets the callback for releases by other controllers.
func (c *Controller) OnEntityReleased(f func(entityID, owningEntity protocol.UniqueIdentifier, descriptorType, descriptorIndex uint16)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.unsolicited.onEntityReleased = f
}

// OnConfigurationChanged sets the callback for configuration switches.
func (c *Controller) OnConfigurationChanged(f func(entityID protocol.UniqueIdentifier, configurationIndex uint16)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.unsolicited.onConfigurationChanged = f
}

// OnStreamInputFormatChanged sets the callback for input format
// changes.
func (c *Controller) OnStreamInputFormatChanged(f func(entityID protocol.UniqueIdentifier, streamIndex uint16, streamFormat uint64)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.unsolicited.onStreamInputFormatChanged = f
}

// OnStreamOutputFormatChanged sets the callback for output format
// changes.
func (c *Controller) OnStreamOutputFormatChanged(f func(entityID protocol.UniqueIdentifier, streamIndex uint16, streamFormat uint64)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.unsolicited.onStreamOutputFormatChanged = f
}

// OnNameChanged sets the callback for any SET_NAME performed by another
// controller.
func (c *Controller) OnNameChanged(f func(entityID protocol.UniqueIdentifier, descriptorType, descriptorIndex, nameIndex uint16, name string)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.unsolicited.onNameChanged = f
}

// OnSamplingRateChanged sets the callback for sampling rate changes.
func (c *Controller) OnSamplingRateChanged(f func(entityID protocol.UniqueIdentifier, descriptorIndex uint16, samplingRate uint32)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.unsolicited.onSamplingRateChanged = f
}

// OnClockSourceChanged sets the callback for clock source changes.
func (c *Controller) OnClockSourceChanged(f func(entityID protocol.UniqueIdentifier, clockDomainIndex, clockSourceIndex uint16)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.unsolicited.onClockSourceChanged = f
}

// OnStreamInputStarted sets the callback for input streams started
// elsewhere.
func (c *Controller) OnStreamInputStarted(f func(entityID protocol.UniqueIdentifier, streamIndex uint16)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.unsolicited.onStreamInputStarted = f
}

// OnStreamOutputStarted sets the callback for output streams started
// elsewhere.
func (c *Controller) OnStreamOutputStarted(f func(entityID protocol.UniqueIdentifier, streamIndex uint16)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.unsolicited.onStreamOutputStarted = f
}

// OnStreamInputStopped sets the callback for input streams stopped
// elsewhere.
func (c *Controller) OnStreamInputStopped(f func(entityID protocol.UniqueIdentifier, streamIndex uint16)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.unsolicited.onStreamInputStopped = f
}

// OnStreamOutputStopped sets the callback for output streams stopped
// elsewhere.
func (c *Controller) OnStreamOutputStopped(f func(entityID protocol.UniqueIdentifier, streamIndex uint16)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.unsolicited.onStreamOutputStopped = f
}

// OnAvbInfoChanged sets the callback for AVB interface info changes.
func (c *Controller) OnAvbInfoChanged(f func(entityID protocol.UniqueIdentifier, avbInterfaceIndex uint16, info protocol.AvbInfoPayload)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.unsolicited.onAvbInfoChanged = f
}

// OnMemoryObjectLengthChanged sets the callback for memory object
// length changes.
func (c *Controller) OnMemoryObjectLengthChanged(f func(entityID protocol.UniqueIdentifier, configurationIndex, memoryObjectIndex uint16, length uint64)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.unsolicited.onMemoryObjectLengthChanged = f
}

// OnOperationStatus sets the callback for progress updates on
// long-running operations.
func (c *Controller) OnOperationStatus(f func(entityID protocol.UniqueIdentifier, descriptorType, descriptorIndex, operationID, percentComplete uint16)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.unsolicited.onOperationStatus = f
}

// OnIdentify sets the callback for IDENTIFY notifications.
func (c *Controller) OnIdentify(f func(entityID protocol.UniqueIdentifier)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.unsolicited.onIdentify = f
}

// dispatchUnsolicited routes one successful unsolicited AEM response to
// its typed callback. Runs on the notifier executor.
func (c *Controller) dispatchUnsolicited(p *protocol.Aecpdu) {
	c.cbMu.RLock()
	u := c.unsolicited
	c.cbMu.RUnlock()

	entityID := p.TargetEntityID

	switch p.CommandType {
	case protocol.AemAcquireEntity:
		parsed, err := protocol.ParseAcquireEntityPayload(p.CommandPayload)
		if err != nil {
			break
		}
		if parsed.Flags&protocol.AcquireFlagRelease != 0 {
			if u.onEntityReleased != nil {
				u.onEntityReleased(entityID, parsed.OwnerID, parsed.DescriptorType, parsed.DescriptorIndex)
			}
		} else if u.onEntityAcquired != nil {
			u.onEntityAcquired(entityID, parsed.OwnerID, parsed.DescriptorType, parsed.DescriptorIndex)
		}

	case protocol.AemSetConfiguration:
		if parsed, err := protocol.ParseConfigurationPayload(p.CommandPayload); err == nil && u.onConfigurationChanged != nil {
			u.onConfigurationChanged(entityID, parsed.ConfigurationIndex)
		}

	case protocol.AemSetStreamFormat:
		parsed, err := protocol.ParseStreamFormatPayload(p.CommandPayload)
		if err != nil {
			break
		}
		switch parsed.DescriptorType {
		case protocol.DescriptorTypeStreamInput:
			if u.onStreamInputFormatChanged != nil {
				u.onStreamInputFormatChanged(entityID, parsed.DescriptorIndex, parsed.StreamFormat)
			}
		case protocol.DescriptorTypeStreamOutput:
			if u.onStreamOutputFormatChanged != nil {
				u.onStreamOutputFormatChanged(entityID, parsed.DescriptorIndex, parsed.StreamFormat)
			}
		}

	case protocol.AemSetName:
		if parsed, err := protocol.ParseNamePayload(p.CommandPayload); err == nil && u.onNameChanged != nil {
			u.onNameChanged(entityID, parsed.DescriptorType, parsed.DescriptorIndex, parsed.NameIndex, parsed.Name.String())
		}

	case protocol.AemSetSamplingRate:
		if parsed, err := protocol.ParseSamplingRatePayload(p.CommandPayload); err == nil && u.onSamplingRateChanged != nil {
			u.onSamplingRateChanged(entityID, parsed.DescriptorIndex, parsed.SamplingRate)
		}

	case protocol.AemSetClockSource:
		if parsed, err := protocol.ParseClockSourcePayload(p.CommandPayload); err == nil && u.onClockSourceChanged != nil {
			u.onClockSourceChanged(entityID, parsed.ClockDomainIndex, parsed.ClockSourceIndex)
		}

	case protocol.AemStartStreaming:
		parsed, err := protocol.ParseStreamingPayload(p.CommandPayload)
		if err != nil {
			break
		}
		switch parsed.DescriptorType {
		case protocol.DescriptorTypeStreamInput:
			if u.onStreamInputStarted != nil {
				u.onStreamInputStarted(entityID, parsed.DescriptorIndex)
			}
		case protocol.DescriptorTypeStreamOutput:
			if u.onStreamOutputStarted != nil {
				u.onStreamOutputStarted(entityID, parsed.DescriptorIndex)
			}
		}

	case protocol.AemStopStreaming:
		parsed, err := protocol.ParseStreamingPayload(p.CommandPayload)
		if err != nil {
			break
		}
		switch parsed.DescriptorType {
		case protocol.DescriptorTypeStreamInput:
			if u.onStreamInputStopped != nil {
				u.onStreamInputStopped(entityID, parsed.DescriptorIndex)
			}
		case protocol.DescriptorTypeStreamOutput:
			if u.onStreamOutputStopped != nil {
				u.onStreamOutputStopped(entityID, parsed.DescriptorIndex)
			}
		}

	case protocol.AemGetAvbInfo:
		if parsed, err := protocol.ParseAvbInfoPayload(p.CommandPayload); err == nil && u.onAvbInfoChanged != nil {
			u.onAvbInfoChanged(entityID, parsed.AvbInterfaceIndex, parsed)
		}

	case protocol.AemSetMemoryObjectLength:
		if parsed, err := protocol.ParseMemoryObjectLengthPayload(p.CommandPayload); err == nil && u.onMemoryObjectLengthChanged != nil {
			u.onMemoryObjectLengthChanged(entityID, parsed.ConfigurationIndex, parsed.MemoryObjectIndex, parsed.Length)
		}

	case protocol.AemOperationStatus:
		if parsed, err := protocol.ParseOperationStatusPayload(p.CommandPayload); err == nil && u.onOperationStatus != nil {
			u.onOperationStatus(entityID, parsed.DescriptorType, parsed.DescriptorIndex, parsed.OperationID, parsed.PercentComplete)
		}

	case protocol.AemIdentifyNotification:
		if u.onIdentify != nil {
			u.onIdentify(entityID)
		}

	default:
		logrus.WithFields(logrus.Fields{
			"function":     "dispatchUnsolicited",
			"entity_id":    entityID.String(),
			"command_type": uint16(p.CommandType),
		}).Debug("unsolicited notification with no registered consumer")
	}
}

/* Sniffed ACMP traffic */

// SniffedAcmpEvent is one ACMP message on the LAN that belongs to
// another controller (or none, for fast connect), delivered so higher
// layers can build a global connection map.
type SniffedAcmpEvent struct {
	MessageType     protocol.AcmpMessageType
	TalkerStream    entity.StreamIdentification
	ListenerStream  entity.StreamIdentification
	ConnectionCount uint16
	Flags           uint16
	Status          ControlStatus
}

// dispatchSniffed forwards third-party ACMP traffic to the delegate.
// Runs on the notifier executor.
func (c *Controller) dispatchSniffed(p *protocol.Acmpdu) {
	c.cbMu.RLock()
	f := c.onAcmpSniffed
	c.cbMu.RUnlock()
	if f == nil {
		return
	}
	f(SniffedAcmpEvent{
		MessageType: p.MessageType,
		TalkerStream: entity.StreamIdentification{
			EntityID:    p.TalkerEntityID,
			StreamIndex: p.TalkerUniqueID,
		},
		ListenerStream: entity.StreamIdentification{
			EntityID:    p.ListenerEntityID,
			StreamIndex: p.ListenerUniqueID,
		},
		ConnectionCount: p.ConnectionCount,
		Flags:           p.Flags,
		Status:          ControlStatus(p.Status),
	})
}
