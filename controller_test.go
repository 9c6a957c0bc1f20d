package avdecc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/avdecc/entity"
	"github.com/opd-ai/avdecc/protocol"
	"github.com/opd-ai/avdecc/transport"
)

const (
	testEntityID     protocol.UniqueIdentifier = 0x0011223344550001
	testControllerID protocol.UniqueIdentifier = 0x0011223344550002
	testTalkerID     protocol.UniqueIdentifier = 0x0011223344550010
	testListenerID   protocol.UniqueIdentifier = 0x0011223344550020
)

var deviceMac = protocol.MacAddress{0x02, 0xAA, 0xBB, 0xCC, 0xDD, 0x01}

// device simulates an AVDECC entity on the in-memory segment.
type device struct {
	t  *testing.T
	tr *transport.MemTransport

	mu   sync.Mutex
	aecp []*protocol.Aecpdu
	acmp []*protocol.Acmpdu
}

func newDevice(t *testing.T, bus *transport.Bus, mac protocol.MacAddress) *device {
	d := &device{t: t, tr: bus.Endpoint(mac)}
	t.Cleanup(func() { d.tr.Close() })
	d.tr.SetReceiver(func(f transport.Frame) {
		decoded, err := protocol.DecodeFrame(f.Data)
		if err != nil {
			return
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if decoded.AECP != nil {
			d.aecp = append(d.aecp, decoded.AECP)
		}
		if decoded.ACMP != nil {
			d.acmp = append(d.acmp, decoded.ACMP)
		}
	})
	return d
}

func (d *device) aecpCommands() []*protocol.Aecpdu {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*protocol.Aecpdu(nil), d.aecp...)
}

func (d *device) acmpCommands() []*protocol.Acmpdu {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*protocol.Acmpdu(nil), d.acmp...)
}

func (d *device) waitAecp(n int) []*protocol.Aecpdu {
	require.Eventually(d.t, func() bool { return len(d.aecpCommands()) >= n }, 2*time.Second, 5*time.Millisecond)
	return d.aecpCommands()
}

func (d *device) send(frame []byte, err error) {
	require.NoError(d.t, err)
	require.NoError(d.t, d.tr.Send(frame))
}

// advertise injects an ENTITY_AVAILABLE for the given entity.
func (d *device) advertise(id protocol.UniqueIdentifier, availableIndex uint32, validTime uint8) {
	pdu := &protocol.Adpdu{
		MessageType:    protocol.AdpEntityAvailable,
		ValidTime:      validTime,
		EntityID:       id,
		EntityModelID:  0xAA,
		AvailableIndex: availableIndex,
	}
	frame, err := pdu.Encode(protocol.MulticastIdentificationAddress, d.tr.MAC())
	d.send(frame, err)
}

func (d *device) depart(id protocol.UniqueIdentifier) {
	pdu := &protocol.Adpdu{
		MessageType: protocol.AdpEntityDeparting,
		ValidTime:   10,
		EntityID:    id,
	}
	frame, err := pdu.Encode(protocol.MulticastIdentificationAddress, d.tr.MAC())
	d.send(frame, err)
}

func (d *device) respondAem(cmd *protocol.Aecpdu, status uint8, payload []byte) {
	if payload == nil {
		payload = cmd.CommandPayload
	}
	resp := &protocol.Aecpdu{
		MessageType:        protocol.AecpAemResponse,
		Status:             status,
		TargetEntityID:     cmd.TargetEntityID,
		ControllerEntityID: cmd.ControllerEntityID,
		SequenceID:         cmd.SequenceID,
		CommandType:        cmd.CommandType,
		CommandPayload:     payload,
	}
	frame, err := resp.Encode(protocol.MacAddress{0x02, 0, 0, 0, 0, 0x02}, d.tr.MAC())
	d.send(frame, err)
}

func newTestController(t *testing.T, bus *transport.Bus) *Controller {
	t.Helper()
	options := NewOptions()
	options.Transport = bus.Endpoint(protocol.MacAddress{0x02, 0, 0, 0, 0, 0x02})
	options.EntityID = testControllerID
	c, err := New(options)
	require.NoError(t, err)
	t.Cleanup(c.Kill)
	return c
}

// S1: discovery birth, identical refresh suppression.
func TestScenarioDiscoveryBirth(t *testing.T) {
	bus := transport.NewBus()
	dev := newDevice(t, bus, deviceMac)
	c := newTestController(t, bus)

	var mu sync.Mutex
	var online []entity.DiscoveredEntity
	c.OnEntityOnline(func(e entity.DiscoveredEntity) {
		mu.Lock()
		online = append(online, e)
		mu.Unlock()
	})

	dev.advertise(testEntityID, 0, 10)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(online) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, testEntityID, online[0].EntityID)
	assert.Equal(t, deviceMac, online[0].MacAddress)
	mu.Unlock()

	// Identical advertisements must not re-fire the event.
	dev.advertise(testEntityID, 0, 10)
	dev.advertise(testEntityID, 1, 10)
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Len(t, online, 1)
	mu.Unlock()

	got, ok := c.GetDiscoveredEntity(testEntityID)
	require.True(t, ok)
	assert.Equal(t, uint32(1), got.AvailableIndex)
}

// S2: AEM round trip through the typed facade.
func TestScenarioAcquireEntityRoundTrip(t *testing.T) {
	bus := transport.NewBus()
	dev := newDevice(t, bus, deviceMac)
	c := newTestController(t, bus)

	dev.advertise(testEntityID, 0, 10)
	require.Eventually(t, func() bool {
		_, ok := c.GetDiscoveredEntity(testEntityID)
		return ok
	}, time.Second, 5*time.Millisecond)

	var mu sync.Mutex
	var gotStatus AemCommandStatus
	var gotOwner protocol.UniqueIdentifier
	done := false
	err := c.AcquireEntity(testEntityID, false, protocol.DescriptorTypeEntity, 0,
		func(id protocol.UniqueIdentifier, status AemCommandStatus, owner protocol.UniqueIdentifier, dt, di uint16) {
			mu.Lock()
			gotStatus, gotOwner, done = status, owner, true
			mu.Unlock()
		})
	require.NoError(t, err)

	cmds := dev.waitAecp(1)
	cmd := cmds[0]
	assert.Equal(t, protocol.AemAcquireEntity, cmd.CommandType)
	assert.Equal(t, uint16(0), cmd.SequenceID)
	assert.Equal(t, testControllerID, cmd.ControllerEntityID)

	reply := protocol.AcquireEntityPayload{OwnerID: testEntityID, DescriptorType: protocol.DescriptorTypeEntity}
	dev.respondAem(cmd, 0, reply.Marshal())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return done
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, AemStatusSuccess, gotStatus)
	assert.Equal(t, testEntityID, gotOwner)
	mu.Unlock()
}

// S3: timeout and retry with the same sequence id.
func TestScenarioTimeoutAndRetry(t *testing.T) {
	bus := transport.NewBus()
	dev := newDevice(t, bus, deviceMac)
	c := newTestController(t, bus)

	dev.advertise(testEntityID, 0, 10)
	require.Eventually(t, func() bool {
		_, ok := c.GetDiscoveredEntity(testEntityID)
		return ok
	}, time.Second, 5*time.Millisecond)

	var mu sync.Mutex
	var statuses []AemCommandStatus
	err := c.QueryEntityAvailable(testEntityID, func(id protocol.UniqueIdentifier, status AemCommandStatus) {
		mu.Lock()
		statuses = append(statuses, status)
		mu.Unlock()
	})
	require.NoError(t, err)

	cmds := dev.waitAecp(2)
	assert.Equal(t, cmds[0].SequenceID, cmds[1].SequenceID, "retry re-uses the sequence id")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) == 1
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, AemStatusTimedOut, statuses[0])
	mu.Unlock()
}

// S4: entity departure fails queued and in-flight commands in issue
// order.
func TestScenarioOfflineCancelsPending(t *testing.T) {
	bus := transport.NewBus()
	dev := newDevice(t, bus, deviceMac)
	c := newTestController(t, bus)

	dev.advertise(testEntityID, 0, 10)
	require.Eventually(t, func() bool {
		_, ok := c.GetDiscoveredEntity(testEntityID)
		return ok
	}, time.Second, 5*time.Millisecond)

	var mu sync.Mutex
	var order []string
	require.NoError(t, c.LockEntity(testEntityID, func(id protocol.UniqueIdentifier, status AemCommandStatus, locked protocol.UniqueIdentifier) {
		mu.Lock()
		order = append(order, "a")
		mu.Unlock()
		assert.Equal(t, AemStatusUnknownEntity, status)
	}))
	require.NoError(t, c.GetConfiguration(testEntityID, func(id protocol.UniqueIdentifier, status AemCommandStatus, cfg uint16) {
		mu.Lock()
		order = append(order, "b")
		mu.Unlock()
		assert.Equal(t, AemStatusUnknownEntity, status)
	}))
	dev.waitAecp(1)

	dev.depart(testEntityID)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"a", "b"}, order)
	mu.Unlock()

	// After departure, issuing fails synchronously.
	err := c.QueryEntityAvailable(testEntityID, nil)
	assert.ErrorIs(t, err, ErrorUnknownRemoteEntity)
}

// S5: ACMP connect.
func TestScenarioConnectStream(t *testing.T) {
	bus := transport.NewBus()
	dev := newDevice(t, bus, deviceMac)
	c := newTestController(t, bus)

	var mu sync.Mutex
	var gotStatus ControlStatus
	var gotCount uint16
	done := false
	talker := entity.StreamIdentification{EntityID: testTalkerID, StreamIndex: 0}
	listener := entity.StreamIdentification{EntityID: testListenerID, StreamIndex: 0}
	require.NoError(t, c.ConnectStream(talker, listener,
		func(ts, ls entity.StreamIdentification, count uint16, flags uint16, status ControlStatus) {
			mu.Lock()
			gotStatus, gotCount, done = status, count, true
			mu.Unlock()
		}))

	require.Eventually(t, func() bool { return len(dev.acmpCommands()) == 1 }, time.Second, 5*time.Millisecond)
	cmd := dev.acmpCommands()[0]
	assert.Equal(t, protocol.AcmpConnectRxCommand, cmd.MessageType)
	assert.Equal(t, testListenerID, cmd.ListenerEntityID)

	resp := &protocol.Acmpdu{
		MessageType:        protocol.AcmpConnectRxResponse,
		Status:             0,
		ControllerEntityID: cmd.ControllerEntityID,
		TalkerEntityID:     cmd.TalkerEntityID,
		ListenerEntityID:   cmd.ListenerEntityID,
		ConnectionCount:    1,
		SequenceID:         cmd.SequenceID,
	}
	frame, err := resp.Encode(protocol.MulticastIdentificationAddress, dev.tr.MAC())
	dev.send(frame, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return done
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, ControlStatusSuccess, gotStatus)
	assert.Equal(t, uint16(1), gotCount)
	mu.Unlock()
}

// S6: unsolicited notification reaches the delegate and completes no
// transaction.
func TestScenarioUnsolicitedConfigurationChanged(t *testing.T) {
	bus := transport.NewBus()
	dev := newDevice(t, bus, deviceMac)
	c := newTestController(t, bus)

	dev.advertise(testEntityID, 0, 10)
	require.Eventually(t, func() bool {
		_, ok := c.GetDiscoveredEntity(testEntityID)
		return ok
	}, time.Second, 5*time.Millisecond)

	var mu sync.Mutex
	var changed []uint16
	c.OnConfigurationChanged(func(id protocol.UniqueIdentifier, cfg uint16) {
		assert.Equal(t, testEntityID, id)
		mu.Lock()
		changed = append(changed, cfg)
		mu.Unlock()
	})

	notif := &protocol.Aecpdu{
		MessageType:        protocol.AecpAemResponse,
		Status:             0,
		TargetEntityID:     testEntityID,
		ControllerEntityID: testControllerID,
		SequenceID:         0x9999,
		Unsolicited:        true,
		CommandType:        protocol.AemSetConfiguration,
		CommandPayload:     protocol.ConfigurationPayload{ConfigurationIndex: 3}.Marshal(),
	}
	frame, err := notif.Encode(c.MacAddress(), dev.tr.MAC())
	dev.send(frame, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changed) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []uint16{3}, changed)
	mu.Unlock()
}

func TestTransportFatalFailsPending(t *testing.T) {
	bus := transport.NewBus()
	dev := newDevice(t, bus, deviceMac)
	ep := bus.Endpoint(protocol.MacAddress{0x02, 0, 0, 0, 0, 0x02})
	options := NewOptions()
	options.Transport = ep
	options.EntityID = testControllerID
	c, err := New(options)
	require.NoError(t, err)
	t.Cleanup(c.Kill)

	dev.advertise(testEntityID, 0, 10)
	require.Eventually(t, func() bool {
		_, ok := c.GetDiscoveredEntity(testEntityID)
		return ok
	}, time.Second, 5*time.Millisecond)

	var mu sync.Mutex
	var status AemCommandStatus
	fatal := false
	done := false
	c.OnTransportError(func(error) {
		mu.Lock()
		fatal = true
		mu.Unlock()
	})
	require.NoError(t, c.QueryEntityAvailable(testEntityID, func(id protocol.UniqueIdentifier, s AemCommandStatus) {
		mu.Lock()
		status, done = s, true
		mu.Unlock()
	}))
	dev.waitAecp(1)

	ep.FailFatally(assert.AnError)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return done && fatal
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, AemStatusNetworkError, status)
	mu.Unlock()
}

func TestControllerAnswersAvailabilityQueries(t *testing.T) {
	bus := transport.NewBus()
	dev := newDevice(t, bus, deviceMac)
	c := newTestController(t, bus)

	query := &protocol.Aecpdu{
		MessageType:        protocol.AecpAemCommand,
		TargetEntityID:     testControllerID,
		ControllerEntityID: testEntityID,
		SequenceID:         5,
		CommandType:        protocol.AemControllerAvailable,
	}
	frame, err := query.Encode(c.MacAddress(), dev.tr.MAC())
	dev.send(frame, err)

	resp := dev.waitAecp(1)[0]
	assert.Equal(t, protocol.AecpAemResponse, resp.MessageType)
	assert.Equal(t, uint8(AemStatusSuccess), resp.Status)
	assert.Equal(t, uint16(5), resp.SequenceID)

	// Anything we do not implement is NOT_IMPLEMENTED.
	query.CommandType = protocol.AemReadDescriptor
	query.SequenceID = 6
	frame, err = query.Encode(c.MacAddress(), dev.tr.MAC())
	dev.send(frame, err)

	resps := dev.waitAecp(2)
	assert.Equal(t, uint8(AemStatusNotImplemented), resps[1].Status)
}

func TestDuplicateLocalEntityID(t *testing.T) {
	bus := transport.NewBus()
	ep := bus.Endpoint(protocol.MacAddress{0x02, 0, 0, 0, 0, 0x02})
	options := NewOptions()
	options.Transport = ep
	options.EntityID = testControllerID
	c, err := New(options)
	require.NoError(t, err)
	t.Cleanup(c.Kill)

	dup := NewOptions()
	dup.Transport = ep
	dup.EntityID = testControllerID
	_, err = New(dup)
	assert.ErrorIs(t, err, ErrorDuplicateLocalEntityID)
}

func TestNewRejectsMissingEntityID(t *testing.T) {
	_, err := New(NewOptions())
	assert.ErrorIs(t, err, ErrorUnknownLocalEntity)
}
