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

type adpSniffer struct {
	mu   sync.Mutex
	pdus []*protocol.Adpdu
}

func (s *adpSniffer) attach(tr *transport.MemTransport) {
	tr.SetReceiver(func(f transport.Frame) {
		fr, err := protocol.DecodeFrame(f.Data)
		if err == nil && fr.ADP != nil {
			s.mu.Lock()
			s.pdus = append(s.pdus, fr.ADP)
			s.mu.Unlock()
		}
	})
}

func (s *adpSniffer) snapshot() []*protocol.Adpdu {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*protocol.Adpdu(nil), s.pdus...)
}

func newAdvertisingEngine(t *testing.T) (*Engine, *adpSniffer) {
	t.Helper()
	bus := transport.NewBus()
	tr := bus.Endpoint(protocol.MacAddress{0x02, 0, 0, 0, 0, 0x10})
	peer := bus.Endpoint(protocol.MacAddress{0x02, 0, 0, 0, 0, 0x20})
	t.Cleanup(func() { tr.Close(); peer.Close() })

	sniffer := &adpSniffer{}
	sniffer.attach(peer)

	tq := sched.NewQueue()
	t.Cleanup(tq.Close)
	e := NewEngine(entity.LocalEntity{
		EntityID:               localID,
		EntityModelID:          0xBB,
		ControllerCapabilities: entity.ControllerCapabilityImplemented,
	}, tr, tq, func(f func()) { f() })
	t.Cleanup(e.Close)
	return e, sniffer
}

func TestEnableAdvertisingSendsImmediately(t *testing.T) {
	e, sniffer := newAdvertisingEngine(t)

	require.NoError(t, e.EnableAdvertising(10))

	assert.Eventually(t, func() bool {
		return len(sniffer.snapshot()) >= 1
	}, time.Second, 5*time.Millisecond)

	pdus := sniffer.snapshot()
	assert.Equal(t, protocol.AdpEntityAvailable, pdus[0].MessageType)
	assert.Equal(t, localID, pdus[0].EntityID)
	assert.Equal(t, uint8(10), pdus[0].ValidTime)
}

func TestDisableAdvertisingSendsDeparting(t *testing.T) {
	e, sniffer := newAdvertisingEngine(t)

	require.NoError(t, e.EnableAdvertising(10))
	require.NoError(t, e.DisableAdvertising())

	assert.Eventually(t, func() bool {
		pdus := sniffer.snapshot()
		return len(pdus) >= 2 && pdus[len(pdus)-1].MessageType == protocol.AdpEntityDeparting
	}, time.Second, 5*time.Millisecond)
}

func TestValidTimeClamping(t *testing.T) {
	tests := []struct {
		name string
		in   uint8
		want uint8
	}{
		{"zero selects default", 0, 62},
		{"below minimum", 1, 2},
		{"above maximum", 63, 62},
		{"in range", 31, 31},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clampValidTime(tt.in))
		})
	}
}

func TestDiscoverIsAnsweredWhileAdvertising(t *testing.T) {
	e, sniffer := newAdvertisingEngine(t)
	require.NoError(t, e.EnableAdvertising(10))
	assert.Eventually(t, func() bool { return len(sniffer.snapshot()) >= 1 }, time.Second, 5*time.Millisecond)
	before := len(sniffer.snapshot())

	e.HandleAdpdu(&protocol.Adpdu{MessageType: protocol.AdpEntityDiscover}, remoteMac, time.Now())
	assert.Eventually(t, func() bool {
		return len(sniffer.snapshot()) > before
	}, time.Second, 5*time.Millisecond)

	// A discover aimed at someone else is ignored.
	count := len(sniffer.snapshot())
	e.HandleAdpdu(&protocol.Adpdu{MessageType: protocol.AdpEntityDiscover, EntityID: 0x1234}, remoteMac, time.Now())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, len(sniffer.snapshot()))
}

func TestUpdateLocalEntityBumpsAvailableIndex(t *testing.T) {
	e, sniffer := newAdvertisingEngine(t)
	require.NoError(t, e.EnableAdvertising(10))

	e.UpdateLocalEntity(func(l *entity.LocalEntity) {
		l.GptpGrandmasterID = 0x42
	})

	assert.Eventually(t, func() bool {
		pdus := sniffer.snapshot()
		if len(pdus) < 2 {
			return false
		}
		last := pdus[len(pdus)-1]
		return last.AvailableIndex == 1 && last.GptpGrandmasterID == 0x42
	}, time.Second, 5*time.Millisecond)
}
