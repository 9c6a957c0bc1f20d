// Package discovery implements the ADP side of the controller: the
// table of remote entities with availability timers, and the local
// entity advertiser.
//
// The engine owns the entity table exclusively. Observers receive value
// copies through callbacks dispatched on the controller's notifier, so
// online strictly precedes any update or offline for a given entity.
package discovery

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/avdecc/entity"
	"github.com/opd-ai/avdecc/internal/sched"
	"github.com/opd-ai/avdecc/protocol"
	"github.com/opd-ai/avdecc/transport"
)

// sweepInterval is how often the availability sweep runs.
const sweepInterval = time.Second

// ErrEngineClosed is returned by operations on a closed engine.
var ErrEngineClosed = errors.New("discovery engine closed")

// OnlineFunc, UpdateFunc and OfflineFunc receive entity lifecycle
// events.
type (
	OnlineFunc  func(e entity.DiscoveredEntity)
	UpdateFunc  func(e entity.DiscoveredEntity)
	OfflineFunc func(entityID protocol.UniqueIdentifier)
)

// Engine maintains the set of discovered remote entities.
type Engine struct {
	local entity.LocalEntity
	tr    transport.Transport
	tq    *sched.Queue
	// notify serializes observer callbacks.
	notify func(func())

	mu       sync.Mutex
	entities map[protocol.UniqueIdentifier]entity.DiscoveredEntity
	closed   bool

	onOnline  OnlineFunc
	onUpdate  UpdateFunc
	onOffline []OfflineFunc

	adv advertiser
}

// NewEngine creates a discovery engine bound to the transport. notify
// is the serial executor callbacks are dispatched on.
func NewEngine(local entity.LocalEntity, tr transport.Transport, tq *sched.Queue, notify func(func())) *Engine {
	e := &Engine{
		local:    local,
		tr:       tr,
		tq:       tq,
		notify:   notify,
		entities: make(map[protocol.UniqueIdentifier]entity.DiscoveredEntity),
	}
	e.adv.engine = e
	return e
}

// Start arms the periodic availability sweep.
func (e *Engine) Start() {
	e.tq.Schedule(sweepInterval, e.sweep)
}

// OnOnline registers the entity-online callback.
func (e *Engine) OnOnline(f OnlineFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onOnline = f
}

// OnUpdate registers the entity-update callback.
func (e *Engine) OnUpdate(f UpdateFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onUpdate = f
}

// OnOffline adds an entity-offline callback. Several subscribers may
// register; they are invoked in registration order.
func (e *Engine) OnOffline(f OfflineFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onOffline = append(e.onOffline, f)
}

// Lookup returns a copy of the discovery view of an entity.
func (e *Engine) Lookup(id protocol.UniqueIdentifier) (entity.DiscoveredEntity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	de, ok := e.entities[id]
	return de, ok
}

// Entities returns a snapshot of every known entity.
func (e *Engine) Entities() []entity.DiscoveredEntity {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]entity.DiscoveredEntity, 0, len(e.entities))
	for _, de := range e.entities {
		out = append(out, de)
	}
	return out
}

// Discover multicasts an ENTITY_DISCOVER. A zero or unspecified target
// asks every entity on the LAN to advertise; otherwise only the named
// entity answers.
func (e *Engine) Discover(target protocol.UniqueIdentifier) error {
	if target.IsUnspecified() {
		target = 0
	}
	pdu := &protocol.Adpdu{
		MessageType: protocol.AdpEntityDiscover,
		EntityID:    target,
	}
	frame, err := pdu.Encode(protocol.MulticastIdentificationAddress, e.tr.MAC())
	if err != nil {
		return err
	}
	return e.tr.Send(frame)
}

// HandleAdpdu processes one inbound ADP PDU. Called from the inbound
// dispatch worker.
func (e *Engine) HandleAdpdu(p *protocol.Adpdu, src protocol.MacAddress, now time.Time) {
	switch p.MessageType {
	case protocol.AdpEntityAvailable:
		e.handleAvailable(p, src, now)
	case protocol.AdpEntityDeparting:
		e.handleDeparting(p)
	case protocol.AdpEntityDiscover:
		e.adv.handleDiscover(p)
	}
}

func (e *Engine) handleAvailable(p *protocol.Adpdu, src protocol.MacAddress, now time.Time) {
	if p.EntityID == e.local.EntityID {
		return // our own advertisement reflected back
	}

	seen := entity.FromAdpdu(p, src, now)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	known, exists := e.entities[p.EntityID]
	e.entities[p.EntityID] = seen
	onOnline, onUpdate := e.onOnline, e.onUpdate
	offline := append([]OfflineFunc(nil), e.onOffline...)
	e.mu.Unlock()

	switch {
	case !exists:
		logrus.WithFields(logrus.Fields{
			"function":  "handleAvailable",
			"entity_id": p.EntityID.String(),
			"mac":       src.String(),
		}).Info("remote entity online")
		e.notify(func() {
			if onOnline != nil {
				onOnline(seen)
			}
		})

	case seen.AvailableIndex < known.AvailableIndex:
		// A non-monotonic available_index is a re-birth: the entity
		// restarted faster than its timeout.
		logrus.WithFields(logrus.Fields{
			"function":  "handleAvailable",
			"entity_id": p.EntityID.String(),
			"old_index": known.AvailableIndex,
			"new_index": seen.AvailableIndex,
		}).Warn("available_index went backwards, treating as re-birth")
		e.notify(func() {
			for _, f := range offline {
				f(seen.EntityID)
			}
			if onOnline != nil {
				onOnline(seen)
			}
		})

	case !seen.SameAdvertisement(known):
		e.notify(func() {
			if onUpdate != nil {
				onUpdate(seen)
			}
		})

	default:
		// Identical refresh: timer already extended, no event.
	}
}

func (e *Engine) handleDeparting(p *protocol.Adpdu) {
	e.mu.Lock()
	_, exists := e.entities[p.EntityID]
	if exists {
		delete(e.entities, p.EntityID)
	}
	offline := append([]OfflineFunc(nil), e.onOffline...)
	e.mu.Unlock()

	if !exists {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function":  "handleDeparting",
		"entity_id": p.EntityID.String(),
	}).Info("remote entity departing")
	id := p.EntityID
	e.notify(func() {
		for _, f := range offline {
			f(id)
		}
	})
}

// sweep expires entities whose valid_until has passed, then re-arms.
func (e *Engine) sweep() {
	now := time.Now()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	var expired []protocol.UniqueIdentifier
	for id, de := range e.entities {
		if now.After(de.ValidUntil) {
			expired = append(expired, id)
			delete(e.entities, id)
		}
	}
	offline := append([]OfflineFunc(nil), e.onOffline...)
	e.mu.Unlock()

	for _, id := range expired {
		logrus.WithFields(logrus.Fields{
			"function":  "sweep",
			"entity_id": id.String(),
		}).Info("remote entity timed out")
		id := id
		e.notify(func() {
			for _, f := range offline {
				f(id)
			}
		})
	}

	e.tq.Schedule(sweepInterval, e.sweep)
}

// EnableAdvertising starts advertising the local entity. validTime is
// clamped to [2,62] seconds; zero selects the default of 62.
func (e *Engine) EnableAdvertising(validTime uint8) error {
	return e.adv.enable(validTime)
}

// DisableAdvertising sends ENTITY_DEPARTING and stops the cadence.
func (e *Engine) DisableAdvertising() error {
	return e.adv.disable()
}

// UpdateLocalEntity mutates the advertised fields under the advertiser
// lock and bumps available_index so peers see the change.
func (e *Engine) UpdateLocalEntity(mutate func(*entity.LocalEntity)) {
	e.adv.update(mutate)
}

// Close stops event delivery. The sweep entry dies on its next firing.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.adv.stop()
}
