package discovery

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/avdecc/entity"
	"github.com/opd-ai/avdecc/internal/sched"
	"github.com/opd-ai/avdecc/protocol"
)

// advertiseInterval is the re-send cadence: a quarter of the advertised
// validity so three losses still keep the entity alive.
func advertiseInterval(validTime uint8) time.Duration {
	return time.Duration(validTime) * time.Second / 4
}

// DefaultValidTime is the advertised availability duration when the
// caller does not choose one.
const DefaultValidTime uint8 = 62

// advertiser drives the local entity's ADP cadence: an ENTITY_AVAILABLE
// immediately on enable and then every valid_time/4 seconds.
type advertiser struct {
	engine *Engine

	mu             sync.Mutex
	enabled        bool
	validTime      uint8
	availableIndex uint32
	timerID        sched.ID
}

func clampValidTime(v uint8) uint8 {
	switch {
	case v == 0:
		return DefaultValidTime
	case v < 2:
		return 2
	case v > 62:
		return 62
	default:
		return v
	}
}

func (a *advertiser) enable(validTime uint8) error {
	a.mu.Lock()
	if a.enabled {
		a.mu.Unlock()
		return nil
	}
	a.enabled = true
	a.validTime = clampValidTime(validTime)
	a.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "enable",
		"entity_id":  a.engine.local.EntityID.String(),
		"valid_time": a.validTime,
	}).Info("entity advertising enabled")

	if err := a.sendAvailable(); err != nil {
		return err
	}
	a.schedule()
	return nil
}

func (a *advertiser) disable() error {
	a.mu.Lock()
	if !a.enabled {
		a.mu.Unlock()
		return nil
	}
	a.enabled = false
	timerID := a.timerID
	a.mu.Unlock()

	a.engine.tq.Cancel(timerID)
	logrus.WithFields(logrus.Fields{
		"function":  "disable",
		"entity_id": a.engine.local.EntityID.String(),
	}).Info("entity advertising disabled")
	return a.sendDeparting()
}

func (a *advertiser) stop() {
	a.mu.Lock()
	a.enabled = false
	timerID := a.timerID
	a.mu.Unlock()
	a.engine.tq.Cancel(timerID)
}

func (a *advertiser) update(mutate func(*entity.LocalEntity)) {
	a.mu.Lock()
	mutate(&a.engine.local)
	a.availableIndex++
	enabled := a.enabled
	a.mu.Unlock()

	if enabled {
		// Announce the change right away rather than waiting for the
		// cadence.
		_ = a.sendAvailable()
	}
}

func (a *advertiser) schedule() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.enabled {
		return
	}
	interval := advertiseInterval(a.validTime)
	a.timerID = a.engine.tq.Schedule(interval, a.tick)
}

func (a *advertiser) tick() {
	a.mu.Lock()
	enabled := a.enabled
	a.mu.Unlock()
	if !enabled {
		return
	}
	_ = a.sendAvailable()
	a.schedule()
}

// handleDiscover answers a sniffed ENTITY_DISCOVER aimed at us (or at
// everyone) with an immediate advertisement.
func (a *advertiser) handleDiscover(p *protocol.Adpdu) {
	a.mu.Lock()
	enabled := a.enabled
	a.mu.Unlock()
	if !enabled {
		return
	}
	if p.EntityID != 0 && p.EntityID != a.engine.local.EntityID {
		return
	}
	_ = a.sendAvailable()
}

func (a *advertiser) sendAvailable() error {
	a.mu.Lock()
	pdu := a.buildAdpdu(protocol.AdpEntityAvailable)
	a.mu.Unlock()
	return a.send(pdu)
}

func (a *advertiser) sendDeparting() error {
	a.mu.Lock()
	pdu := a.buildAdpdu(protocol.AdpEntityDeparting)
	// A departing entity restarts its index history.
	a.availableIndex = 0
	a.mu.Unlock()
	return a.send(pdu)
}

// buildAdpdu snapshots the local entity into a PDU. Caller holds a.mu.
func (a *advertiser) buildAdpdu(mt protocol.AdpMessageType) *protocol.Adpdu {
	local := a.engine.local
	return &protocol.Adpdu{
		MessageType:            mt,
		ValidTime:              a.validTime,
		EntityID:               local.EntityID,
		EntityModelID:          local.EntityModelID,
		EntityCapabilities:     local.Capabilities,
		TalkerStreamSources:    local.TalkerStreamSources,
		TalkerCapabilities:     local.TalkerCapabilities,
		ListenerStreamSinks:    local.ListenerStreamSinks,
		ListenerCapabilities:   local.ListenerCapabilities,
		ControllerCapabilities: local.ControllerCapabilities,
		AvailableIndex:         a.availableIndex,
		GptpGrandmasterID:      local.GptpGrandmasterID,
		GptpDomainNumber:       local.GptpDomainNumber,
		IdentifyControlIndex:   local.IdentifyControlIndex,
		InterfaceIndex:         local.InterfaceIndex,
		AssociationID:          local.AssociationID,
	}
}

func (a *advertiser) send(pdu *protocol.Adpdu) error {
	frame, err := pdu.Encode(protocol.MulticastIdentificationAddress, a.engine.tr.MAC())
	if err != nil {
		return err
	}
	return a.engine.tr.Send(frame)
}
