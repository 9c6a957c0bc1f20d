package discovery

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/avdecc/entity"
	"github.com/opd-ai/avdecc/internal/sched"
	"github.com/opd-ai/avdecc/protocol"
	"github.com/opd-ai/avdecc/transport"
)

const (
	remoteID protocol.UniqueIdentifier = 0x0011223344550001
	localID  protocol.UniqueIdentifier = 0x0011223344550002
)

var remoteMac = protocol.MacAddress{0x02, 0xAA, 0xBB, 0xCC, 0xDD, 0x01}

type eventLog struct {
	mu      sync.Mutex
	online  []entity.DiscoveredEntity
	update  []entity.DiscoveredEntity
	offline []protocol.UniqueIdentifier
}

func (l *eventLog) counts() (int, int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.online), len(l.update), len(l.offline)
}

func newTestEngine(t *testing.T) (*Engine, *eventLog, *transport.MemTransport) {
	t.Helper()
	bus := transport.NewBus()
	tr := bus.Endpoint(protocol.MacAddress{0x02, 0, 0, 0, 0, 0x10})
	tq := sched.NewQueue()
	t.Cleanup(tq.Close)
	t.Cleanup(func() { tr.Close() })

	e := NewEngine(entity.LocalEntity{EntityID: localID}, tr, tq, func(f func()) { f() })
	log := &eventLog{}
	e.OnOnline(func(de entity.DiscoveredEntity) {
		log.mu.Lock()
		log.online = append(log.online, de)
		log.mu.Unlock()
	})
	e.OnUpdate(func(de entity.DiscoveredEntity) {
		log.mu.Lock()
		log.update = append(log.update, de)
		log.mu.Unlock()
	})
	e.OnOffline(func(id protocol.UniqueIdentifier) {
		log.mu.Lock()
		log.offline = append(log.offline, id)
		log.mu.Unlock()
	})
	return e, log, tr
}

func available(availableIndex uint32, validTime uint8) *protocol.Adpdu {
	return &protocol.Adpdu{
		MessageType:    protocol.AdpEntityAvailable,
		ValidTime:      validTime,
		EntityID:       remoteID,
		EntityModelID:  0xAA,
		AvailableIndex: availableIndex,
	}
}

func TestEntityBirthAndIdenticalRefresh(t *testing.T) {
	e, log, _ := newTestEngine(t)
	now := time.Now()

	e.HandleAdpdu(available(0, 10), remoteMac, now)
	online, update, offline := log.counts()
	require.Equal(t, 1, online)
	assert.Equal(t, remoteID, log.online[0].EntityID)
	assert.Equal(t, remoteMac, log.online[0].MacAddress)

	// Identical refresh: timer extends, no event.
	e.HandleAdpdu(available(0, 10), remoteMac, now.Add(time.Second))
	e.HandleAdpdu(available(1, 10), remoteMac, now.Add(2*time.Second))
	online, update, offline = log.counts()
	assert.Equal(t, 1, online)
	assert.Zero(t, update)
	assert.Zero(t, offline)

	de, ok := e.Lookup(remoteID)
	require.True(t, ok)
	assert.Equal(t, uint32(1), de.AvailableIndex)
}

func TestEntityUpdateOnFieldChange(t *testing.T) {
	e, log, _ := newTestEngine(t)
	now := time.Now()

	e.HandleAdpdu(available(0, 10), remoteMac, now)
	changed := available(1, 10)
	changed.GptpGrandmasterID = 0x99
	e.HandleAdpdu(changed, remoteMac, now.Add(time.Second))

	online, update, _ := log.counts()
	assert.Equal(t, 1, online)
	require.Equal(t, 1, update)
	assert.Equal(t, protocol.UniqueIdentifier(0x99), log.update[0].GptpGrandmasterID)
}

func TestAvailableIndexRegressionIsRebirth(t *testing.T) {
	e, log, _ := newTestEngine(t)
	now := time.Now()

	e.HandleAdpdu(available(5, 10), remoteMac, now)
	e.HandleAdpdu(available(2, 10), remoteMac, now.Add(time.Second))

	log.mu.Lock()
	defer log.mu.Unlock()
	require.Len(t, log.offline, 1)
	require.Len(t, log.online, 2)
	assert.Equal(t, remoteID, log.offline[0])
}

func TestDepartingRemovesEntity(t *testing.T) {
	e, log, _ := newTestEngine(t)
	now := time.Now()

	e.HandleAdpdu(available(0, 10), remoteMac, now)
	dep := available(0, 10)
	dep.MessageType = protocol.AdpEntityDeparting
	e.HandleAdpdu(dep, remoteMac, now.Add(time.Second))

	_, _, offline := log.counts()
	assert.Equal(t, 1, offline)
	_, ok := e.Lookup(remoteID)
	assert.False(t, ok)

	// Departing for an unknown entity is silent.
	e.HandleAdpdu(dep, remoteMac, now.Add(2*time.Second))
	_, _, offline = log.counts()
	assert.Equal(t, 1, offline)
}

func TestSweepExpiresEntities(t *testing.T) {
	e, log, _ := newTestEngine(t)

	// valid_time 10s => valid_until = now + 20s. Arrive in the past so
	// the sweep sees it expired.
	e.HandleAdpdu(available(0, 10), remoteMac, time.Now().Add(-21*time.Second))
	e.sweep()

	_, _, offline := log.counts()
	assert.Equal(t, 1, offline)
	_, ok := e.Lookup(remoteID)
	assert.False(t, ok)
}

func TestOwnAdvertisementIgnored(t *testing.T) {
	e, log, _ := newTestEngine(t)
	own := available(0, 10)
	own.EntityID = localID
	e.HandleAdpdu(own, remoteMac, time.Now())
	online, _, _ := log.counts()
	assert.Zero(t, online)
}

func TestDiscoverSendsMulticast(t *testing.T) {
	bus := transport.NewBus()
	tr := bus.Endpoint(protocol.MacAddress{0x02, 0, 0, 0, 0, 0x10})
	peer := bus.Endpoint(protocol.MacAddress{0x02, 0, 0, 0, 0, 0x20})
	defer tr.Close()
	defer peer.Close()

	var mu sync.Mutex
	var seen []*protocol.Adpdu
	peer.SetReceiver(func(f transport.Frame) {
		fr, err := protocol.DecodeFrame(f.Data)
		if err == nil && fr.ADP != nil {
			mu.Lock()
			seen = append(seen, fr.ADP)
			mu.Unlock()
		}
	})

	tq := sched.NewQueue()
	defer tq.Close()
	e := NewEngine(entity.LocalEntity{EntityID: localID}, tr, tq, func(f func()) { f() })

	require.NoError(t, e.Discover(protocol.UniqueIdentifierUnspecified))
	require.NoError(t, e.Discover(remoteID))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, protocol.AdpEntityDiscover, seen[0].MessageType)
	assert.Zero(t, seen[0].EntityID, "global discover carries entity_id 0")
	assert.Equal(t, remoteID, seen[1].EntityID)
}
