package acmp

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/avdecc/internal/sched"
	"github.com/opd-ai/avdecc/protocol"
	"github.com/opd-ai/avdecc/transport"
)

const (
	controllerID protocol.UniqueIdentifier = 0x0011223344550002
	otherCtrlID  protocol.UniqueIdentifier = 0x0011223344550099
	talkerID     protocol.UniqueIdentifier = 0x0011223344550010
	listenerID   protocol.UniqueIdentifier = 0x0011223344550020
)

type fixture struct {
	t      *testing.T
	engine *Engine
	peer   *transport.MemTransport

	mu   sync.Mutex
	seen []*protocol.Acmpdu
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := transport.NewBus()
	local := bus.Endpoint(protocol.MacAddress{0x02, 0, 0, 0, 0, 0x02})
	peer := bus.Endpoint(protocol.MacAddress{0x02, 0, 0, 0, 0, 0x20})
	t.Cleanup(func() { local.Close(); peer.Close() })

	tq := sched.NewQueue()
	t.Cleanup(tq.Close)

	f := &fixture{t: t, peer: peer}
	f.engine = NewEngine(controllerID, local, tq, func(fn func()) { fn() })
	local.SetReceiver(func(fr transport.Frame) {
		decoded, err := protocol.DecodeFrame(fr.Data)
		if err == nil && decoded.ACMP != nil {
			f.engine.HandlePdu(decoded.ACMP)
		}
	})
	peer.SetReceiver(func(fr transport.Frame) {
		decoded, err := protocol.DecodeFrame(fr.Data)
		if err != nil || decoded.ACMP == nil {
			return
		}
		f.mu.Lock()
		f.seen = append(f.seen, decoded.ACMP)
		f.mu.Unlock()
	})
	return f
}

func (f *fixture) observed() []*protocol.Acmpdu {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.Acmpdu(nil), f.seen...)
}

func (f *fixture) inject(p *protocol.Acmpdu) {
	frame, err := p.Encode(protocol.MulticastIdentificationAddress, f.peer.MAC())
	require.NoError(f.t, err)
	require.NoError(f.t, f.peer.Send(frame))
}

func connectCommand() *protocol.Acmpdu {
	return &protocol.Acmpdu{
		MessageType:      protocol.AcmpConnectRxCommand,
		TalkerEntityID:   talkerID,
		ListenerEntityID: listenerID,
		ListenerUniqueID: 0,
	}
}

func TestConnectRoundTrip(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var results []Result
	require.NoError(t, f.engine.Issue(connectCommand(), func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}))

	require.Eventually(t, func() bool { return len(f.observed()) == 1 }, time.Second, 5*time.Millisecond)
	cmd := f.observed()[0]
	assert.Equal(t, controllerID, cmd.ControllerEntityID)

	f.inject(&protocol.Acmpdu{
		MessageType:        protocol.AcmpConnectRxResponse,
		Status:             0,
		ControllerEntityID: controllerID,
		TalkerEntityID:     talkerID,
		ListenerEntityID:   listenerID,
		ConnectionCount:    1,
		SequenceID:         cmd.SequenceID,
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, OutcomeResponse, results[0].Outcome)
	assert.Equal(t, uint16(1), results[0].PDU.ConnectionCount)
}

func TestTimeoutWithoutRetry(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var results []Result
	start := time.Now()
	require.NoError(t, f.engine.Issue(connectCommand(), func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, OutcomeTimedOut, results[0].Outcome)
	mu.Unlock()
	assert.GreaterOrEqual(t, time.Since(start), CommandTimeout-50*time.Millisecond)

	// No retry: exactly one command was transmitted.
	assert.Len(t, f.observed(), 1)
}

func TestThirdPartyTrafficIsSniffed(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var sniffed []*protocol.Acmpdu
	f.engine.OnSniffed(func(p *protocol.Acmpdu) {
		mu.Lock()
		sniffed = append(sniffed, p)
		mu.Unlock()
	})

	// Another controller's command and its response.
	f.inject(&protocol.Acmpdu{
		MessageType:        protocol.AcmpConnectRxCommand,
		ControllerEntityID: otherCtrlID,
		TalkerEntityID:     talkerID,
		ListenerEntityID:   listenerID,
		SequenceID:         9,
	})
	f.inject(&protocol.Acmpdu{
		MessageType:        protocol.AcmpConnectRxResponse,
		ControllerEntityID: otherCtrlID,
		TalkerEntityID:     talkerID,
		ListenerEntityID:   listenerID,
		ConnectionCount:    1,
		SequenceID:         9,
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sniffed) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, otherCtrlID, sniffed[0].ControllerEntityID)
	assert.Equal(t, protocol.AcmpConnectRxResponse, sniffed[1].MessageType)
}

func TestLateResponseIsDropped(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	called := false
	f.engine.OnSniffed(func(*protocol.Acmpdu) {
		mu.Lock()
		called = true
		mu.Unlock()
	})

	// A response for us with no pending transaction.
	f.inject(&protocol.Acmpdu{
		MessageType:        protocol.AcmpConnectRxResponse,
		ControllerEntityID: controllerID,
		SequenceID:         0x4242,
	})
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.False(t, called, "our own late response is not sniffed traffic")
	mu.Unlock()
}

func TestCancelAllOnClose(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var results []Result
	require.NoError(t, f.engine.Issue(connectCommand(), func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}))

	f.engine.Close()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, OutcomeInternalError, results[0].Outcome)
	mu.Unlock()

	assert.ErrorIs(t, f.engine.Issue(connectCommand(), func(Result) {}), ErrEngineClosed)
}

func TestSequenceIDsAreUniqueAcrossInflight(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.engine.Issue(connectCommand(), func(Result) {}))
	}
	require.Eventually(t, func() bool { return len(f.observed()) == 5 }, time.Second, 5*time.Millisecond)

	seen := make(map[uint16]bool)
	for _, p := range f.observed() {
		assert.False(t, seen[p.SequenceID], "duplicate in-flight sequence id %d", p.SequenceID)
		seen[p.SequenceID] = true
	}
}
