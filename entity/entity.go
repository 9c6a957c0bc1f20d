// Package entity defines the value types describing AVDECC entities as
// seen by the controller: the discovery-time view of a remote entity,
// the local entity the controller advertises as, and stream
// identification.
package entity

import (
	"time"

	"github.com/opd-ai/avdecc/protocol"
)

// EntityCapabilities bits advertised in ADP.
const (
	CapabilityClassASupported       uint32 = 1 << 1
	CapabilityClassBSupported       uint32 = 1 << 2
	CapabilityAemSupported          uint32 = 1 << 3
	CapabilityGptpSupported         uint32 = 1 << 4
	CapabilityAssociationIDValid    uint32 = 1 << 6
	CapabilityVendorUniqueSupported uint32 = 1 << 8
)

// ControllerCapabilities bits.
const ControllerCapabilityImplemented uint32 = 1 << 0

// TalkerCapabilities bits.
const (
	TalkerCapabilityImplemented uint16 = 1 << 0
	TalkerCapabilityAudioSource uint16 = 1 << 14
)

// ListenerCapabilities bits.
const (
	ListenerCapabilityImplemented uint16 = 1 << 0
	ListenerCapabilityAudioSink   uint16 = 1 << 14
)

// DiscoveredEntity is the controller's view of a remote entity built
// from its ADP advertisements. Values are copies; the discovery engine
// owns the live table.
type DiscoveredEntity struct {
	EntityID               protocol.UniqueIdentifier
	EntityModelID          protocol.UniqueIdentifier
	Capabilities           uint32
	TalkerStreamSources    uint16
	TalkerCapabilities     uint16
	ListenerStreamSinks    uint16
	ListenerCapabilities   uint16
	ControllerCapabilities uint32
	AvailableIndex         uint32
	GptpGrandmasterID      protocol.UniqueIdentifier
	GptpDomainNumber       uint8
	IdentifyControlIndex   uint16
	InterfaceIndex         uint16
	AssociationID          protocol.UniqueIdentifier
	MacAddress             protocol.MacAddress
	ValidUntil             time.Time
}

// FromAdpdu builds the discovery view carried by one ENTITY_AVAILABLE.
func FromAdpdu(p *protocol.Adpdu, src protocol.MacAddress, now time.Time) DiscoveredEntity {
	return DiscoveredEntity{
		EntityID:               p.EntityID,
		EntityModelID:          p.EntityModelID,
		Capabilities:           p.EntityCapabilities,
		TalkerStreamSources:    p.TalkerStreamSources,
		TalkerCapabilities:     p.TalkerCapabilities,
		ListenerStreamSinks:    p.ListenerStreamSinks,
		ListenerCapabilities:   p.ListenerCapabilities,
		ControllerCapabilities: p.ControllerCapabilities,
		AvailableIndex:         p.AvailableIndex,
		GptpGrandmasterID:      p.GptpGrandmasterID,
		GptpDomainNumber:       p.GptpDomainNumber,
		IdentifyControlIndex:   p.IdentifyControlIndex,
		InterfaceIndex:         p.InterfaceIndex,
		AssociationID:          p.AssociationID,
		MacAddress:             src,
		ValidUntil:             now.Add(2 * time.Duration(p.ValidTime) * time.Second),
	}
}

// SameAdvertisement reports whether two views carry identical advertised
// fields, ignoring AvailableIndex, the source MAC and the timer. A
// refresh with identical fields must not produce an update event.
func (e DiscoveredEntity) SameAdvertisement(o DiscoveredEntity) bool {
	e.AvailableIndex, o.AvailableIndex = 0, 0
	e.ValidUntil, o.ValidUntil = time.Time{}, time.Time{}
	e.MacAddress, o.MacAddress = protocol.MacAddress{}, protocol.MacAddress{}
	return e == o
}

// LocalEntity describes the entity this controller advertises as.
type LocalEntity struct {
	EntityID               protocol.UniqueIdentifier
	EntityModelID          protocol.UniqueIdentifier
	Capabilities           uint32
	TalkerStreamSources    uint16
	TalkerCapabilities     uint16
	ListenerStreamSinks    uint16
	ListenerCapabilities   uint16
	ControllerCapabilities uint32
	GptpGrandmasterID      protocol.UniqueIdentifier
	GptpDomainNumber       uint8
	IdentifyControlIndex   uint16
	InterfaceIndex         uint16
	AssociationID          protocol.UniqueIdentifier
}

// StreamIdentification names one stream endpoint on an entity: a talker
// source or listener sink index. Usable as a map key.
type StreamIdentification struct {
	EntityID    protocol.UniqueIdentifier
	StreamIndex uint16
}
