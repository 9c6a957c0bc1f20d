package avdecc

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/avdecc/acmp"
	"github.com/opd-ai/avdecc/aecp"
	"github.com/opd-ai/avdecc/discovery"
	"github.com/opd-ai/avdecc/entity"
	"github.com/opd-ai/avdecc/internal/sched"
	"github.com/opd-ai/avdecc/protocol"
	"github.com/opd-ai/avdecc/transport"
)

// Options contains configuration options for creating a Controller.
type Options struct {
	// InterfaceName is the network interface to bind (ignored when
	// Transport is set).
	InterfaceName string

	// Transport overrides the default pcap backend, e.g. with an
	// in-memory bus endpoint for tests and virtual networks.
	Transport transport.Transport

	// EntityID is the controller's own EUI-64. Required.
	EntityID protocol.UniqueIdentifier

	// EntityModelID advertises the controller's model.
	EntityModelID protocol.UniqueIdentifier

	// Capabilities overrides the advertised entity capabilities.
	Capabilities uint32

	// AssociationID groups this controller with related entities.
	AssociationID protocol.UniqueIdentifier
}

// NewOptions creates default Options for a pure controller entity.
func NewOptions() *Options {
	return &Options{
		Capabilities:  entity.CapabilityAemSupported,
		AssociationID: protocol.UniqueIdentifierUnspecified,
	}
}

// localEntityRegistry prevents two controllers on the same interface
// from advertising the same entity ID.
var (
	localEntityMu       sync.Mutex
	localEntityRegistry = make(map[string]struct{})
)

func registryKey(mac protocol.MacAddress, id protocol.UniqueIdentifier) string {
	return mac.String() + "/" + id.String()
}

// Controller is an AVDECC controller bound to one network interface. A
// process may host several controllers, one per interface.
type Controller struct {
	localID protocol.UniqueIdentifier
	tr      transport.Transport
	ownsTr  bool
	tq      *sched.Queue
	n       *notifier
	disc    *discovery.Engine
	aecp    *aecp.Engine
	acmp    *acmp.Engine

	apiLock *reentrantLock
	running atomic.Bool

	cbMu             sync.RWMutex
	onTransportError func(error)
	onEntityOnline   discovery.OnlineFunc
	onEntityUpdate   discovery.UpdateFunc
	onEntityOffline  discovery.OfflineFunc
	onAcmpSniffed    func(SniffedAcmpEvent)
	unsolicited      unsolicitedCallbacks
}

// New creates a Controller and starts its workers.
func New(options *Options) (*Controller, error) {
	if options == nil {
		options = NewOptions()
	}
	if options.EntityID == 0 || options.EntityID.IsUnspecified() {
		return nil, ErrorUnknownLocalEntity
	}

	tr := options.Transport
	ownsTr := false
	if tr == nil {
		var err error
		tr, err = transport.NewPcapTransport(options.InterfaceName)
		if err != nil {
			return nil, translateTransportError(err)
		}
		ownsTr = true
	}

	key := registryKey(tr.MAC(), options.EntityID)
	localEntityMu.Lock()
	if _, dup := localEntityRegistry[key]; dup {
		localEntityMu.Unlock()
		if ownsTr {
			tr.Close()
		}
		return nil, ErrorDuplicateLocalEntityID
	}
	localEntityRegistry[key] = struct{}{}
	localEntityMu.Unlock()

	local := entity.LocalEntity{
		EntityID:               options.EntityID,
		EntityModelID:          options.EntityModelID,
		Capabilities:           options.Capabilities,
		ControllerCapabilities: entity.ControllerCapabilityImplemented,
		InterfaceIndex:         uint16(tr.InterfaceIndex()),
		AssociationID:          options.AssociationID,
	}

	c := &Controller{
		localID: options.EntityID,
		tr:      tr,
		ownsTr:  ownsTr,
		tq:      sched.NewQueue(),
		n:       newNotifier(),
		apiLock: newReentrantLock(),
	}

	c.disc = discovery.NewEngine(local, tr, c.tq, c.n.post)
	c.aecp = aecp.NewEngine(options.EntityID, tr, c.tq, c.n.post, func(id protocol.UniqueIdentifier) (protocol.MacAddress, bool) {
		de, ok := c.disc.Lookup(id)
		return de.MacAddress, ok
	})
	c.acmp = acmp.NewEngine(options.EntityID, tr, c.tq, c.n.post)

	// A vanished target's pending transactions are cancelled before the
	// offline event reaches the application; their UnknownEntity
	// completions are queued on the notifier and run after it.
	c.disc.OnOffline(func(id protocol.UniqueIdentifier) {
		c.aecp.CancelTarget(id, aecp.OutcomeUnknownEntity)
	})
	c.disc.OnOffline(func(id protocol.UniqueIdentifier) {
		c.cbMu.RLock()
		f := c.onEntityOffline
		c.cbMu.RUnlock()
		if f != nil {
			f(id)
		}
	})
	c.disc.OnOnline(func(e entity.DiscoveredEntity) {
		c.cbMu.RLock()
		f := c.onEntityOnline
		c.cbMu.RUnlock()
		if f != nil {
			f(e)
		}
	})
	c.disc.OnUpdate(func(e entity.DiscoveredEntity) {
		c.cbMu.RLock()
		f := c.onEntityUpdate
		c.cbMu.RUnlock()
		if f != nil {
			f(e)
		}
	})

	c.aecp.OnUnsolicited(c.dispatchUnsolicited)
	c.acmp.OnSniffed(c.dispatchSniffed)

	tr.OnFatal(c.handleTransportFatal)
	tr.SetReceiver(c.handleFrame)
	c.disc.Start()
	c.running.Store(true)

	logrus.WithFields(logrus.Fields{
		"function":  "New",
		"entity_id": c.localID.String(),
		"mac":       tr.MAC().String(),
	}).Info("AVDECC controller started")
	return c, nil
}

func translateTransportError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrInterfaceNotFound):
		return ErrorInterfaceNotFound
	case errors.Is(err, transport.ErrInterfaceInvalid):
		return ErrorInterfaceInvalid
	case errors.Is(err, transport.ErrInterfaceNotSupported):
		return ErrorInterfaceNotSupported
	default:
		return ErrorTransportError
	}
}

// IsRunning reports whether Kill has not been called yet.
func (c *Controller) IsRunning() bool {
	return c.running.Load()
}

// EntityID returns the controller's own EUI-64.
func (c *Controller) EntityID() protocol.UniqueIdentifier {
	return c.localID
}

// MacAddress returns the bound interface hardware address.
func (c *Controller) MacAddress() protocol.MacAddress {
	return c.tr.MAC()
}

// Lock grants the calling goroutine exclusive access across several
// controller calls. The lock is recursive.
func (c *Controller) Lock() { c.apiLock.lock() }

// Unlock releases one level of Lock.
func (c *Controller) Unlock() { c.apiLock.unlock() }

/* Discovery Protocol (ADP) */

// DiscoverRemoteEntities multicasts a global ENTITY_DISCOVER.
func (c *Controller) DiscoverRemoteEntities() error {
	return c.disc.Discover(protocol.UniqueIdentifierUnspecified)
}

// DiscoverRemoteEntity asks one specific entity to advertise.
func (c *Controller) DiscoverRemoteEntity(entityID protocol.UniqueIdentifier) error {
	return c.disc.Discover(entityID)
}

// GetDiscoveredEntities returns a snapshot of every known entity.
func (c *Controller) GetDiscoveredEntities() []entity.DiscoveredEntity {
	return c.disc.Entities()
}

// GetDiscoveredEntity returns the discovery view of one entity.
func (c *Controller) GetDiscoveredEntity(entityID protocol.UniqueIdentifier) (entity.DiscoveredEntity, bool) {
	return c.disc.Lookup(entityID)
}

// EnableEntityAdvertising starts advertising the local entity.
// validTimeSeconds is clamped to [2,62]; zero selects the default 62.
func (c *Controller) EnableEntityAdvertising(validTimeSeconds uint8) error {
	return c.disc.EnableAdvertising(validTimeSeconds)
}

// DisableEntityAdvertising sends ENTITY_DEPARTING and stops the
// cadence.
func (c *Controller) DisableEntityAdvertising() error {
	return c.disc.DisableAdvertising()
}

/* Delegate registration */

// OnTransportError sets the callback for a fatal interface loss.
func (c *Controller) OnTransportError(f func(error)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onTransportError = f
}

// OnEntityOnline sets the callback for newly discovered entities.
func (c *Controller) OnEntityOnline(f func(entity.DiscoveredEntity)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onEntityOnline = f
}

// OnEntityUpdate sets the callback for changed ADP information.
func (c *Controller) OnEntityUpdate(f func(entity.DiscoveredEntity)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onEntityUpdate = f
}

// OnEntityOffline sets the callback for departed or timed-out entities.
func (c *Controller) OnEntityOffline(f func(protocol.UniqueIdentifier)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onEntityOffline = f
}

// OnAcmpSniffed sets the callback for third-party ACMP traffic.
func (c *Controller) OnAcmpSniffed(f func(SniffedAcmpEvent)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onAcmpSniffed = f
}

/* Inbound dispatch */

// handleFrame is the inbound worker entry: decode and route. Handler
// invocations happen on the notifier, so this never blocks on user
// code.
func (c *Controller) handleFrame(f transport.Frame) {
	frame, err := protocol.DecodeFrame(f.Data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleFrame",
			"error":    err,
		}).Debug("dropping malformed frame")
		return
	}

	now := f.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	switch {
	case frame.ADP != nil:
		c.disc.HandleAdpdu(frame.ADP, frame.Src, now)
	case frame.AECP != nil:
		if frame.AECP.MessageType.IsResponse() {
			c.aecp.HandleResponse(frame.AECP)
		} else {
			c.handleAecpCommand(frame.AECP, frame.Src)
		}
	case frame.ACMP != nil:
		c.acmp.HandlePdu(frame.ACMP)
	}
}

// handleAecpCommand answers AEM commands addressed to the local entity:
// availability queries succeed, anything else is NOT_IMPLEMENTED.
func (c *Controller) handleAecpCommand(p *protocol.Aecpdu, src protocol.MacAddress) {
	if p.TargetEntityID != c.localID || p.MessageType != protocol.AecpAemCommand {
		return
	}

	resp := &protocol.Aecpdu{
		MessageType:        protocol.AecpAemResponse,
		TargetEntityID:     p.TargetEntityID,
		ControllerEntityID: p.ControllerEntityID,
		SequenceID:         p.SequenceID,
		CommandType:        p.CommandType,
		CommandPayload:     p.CommandPayload,
	}
	switch p.CommandType {
	case protocol.AemEntityAvailable, protocol.AemControllerAvailable:
		resp.Status = uint8(AemStatusSuccess)
	default:
		resp.Status = uint8(AemStatusNotImplemented)
	}

	frame, err := resp.Encode(src, c.tr.MAC())
	if err != nil {
		return
	}
	_ = c.tr.Send(frame)
}

// handleTransportFatal fails everything pending and notifies the
// delegate. The interface stays permanently unusable.
func (c *Controller) handleTransportFatal(cause error) {
	logrus.WithFields(logrus.Fields{
		"function": "handleTransportFatal",
		"error":    cause,
	}).Error("transport lost, failing pending transactions")

	c.aecp.CancelAll(aecp.OutcomeNetworkError)
	c.acmp.CancelAll(acmp.OutcomeNetworkError)

	c.cbMu.RLock()
	f := c.onTransportError
	c.cbMu.RUnlock()
	if f != nil {
		c.n.post(func() { f(cause) })
	}
}

// Kill stops the controller: advertising stops with ENTITY_DEPARTING,
// every pending transaction completes with InternalError, and Kill
// blocks until all handlers have been invoked.
func (c *Controller) Kill() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}

	_ = c.disc.DisableAdvertising()
	c.disc.Close()
	c.aecp.Close()
	c.acmp.Close()
	if c.ownsTr {
		c.tr.Close()
	}
	c.tq.Close()
	c.n.close()

	localEntityMu.Lock()
	delete(localEntityRegistry, registryKey(c.tr.MAC(), c.localID))
	localEntityMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "Kill",
		"entity_id": c.localID.String(),
	}).Info("AVDECC controller stopped")
}

