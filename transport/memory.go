package transport

import (
	"sync"
	"time"

	"github.com/opd-ai/avdecc/protocol"
)

// Bus is an in-process Ethernet segment: every attached endpoint sees
// frames addressed to its MAC, to the AVDECC multicast group, or to the
// broadcast address. It backs the virtual transport used by tests.
type Bus struct {
	mu        sync.Mutex
	endpoints []*MemTransport
	nextIndex int
}

// NewBus creates an empty segment.
func NewBus() *Bus {
	return &Bus{nextIndex: 1}
}

// Endpoint attaches a new adapter with the given MAC to the segment.
func (b *Bus) Endpoint(mac protocol.MacAddress) *MemTransport {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := &MemTransport{
		bus:     b,
		mac:     mac,
		ifIndex: b.nextIndex,
		inbound: make(chan Frame, 256),
		done:    make(chan struct{}),
	}
	b.nextIndex++
	b.endpoints = append(b.endpoints, t)
	go t.deliverLoop()
	return t
}

// broadcast fans a frame out to every endpoint except the sender whose
// filter accepts it.
func (b *Bus) broadcast(from *MemTransport, frame []byte) {
	var dst protocol.MacAddress
	copy(dst[:], frame[0:6])

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ep := range b.endpoints {
		if ep == from || ep.isClosed() {
			continue
		}
		if !ep.accepts(dst) {
			continue
		}
		data := make([]byte, len(frame))
		copy(data, frame)
		select {
		case ep.inbound <- Frame{Data: data, Timestamp: time.Now()}:
		default:
			// Best-effort segment, same as the wire.
		}
	}
}

// MemTransport is a Transport attached to a Bus.
type MemTransport struct {
	bus     *Bus
	mac     protocol.MacAddress
	ifIndex int

	mu       sync.RWMutex
	receiver Receiver
	fatal    func(error)
	closed   bool

	inbound chan Frame
	done    chan struct{}
}

func (t *MemTransport) accepts(dst protocol.MacAddress) bool {
	if dst == t.mac || dst == protocol.MulticastIdentificationAddress {
		return true
	}
	return dst == protocol.MacAddress{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
}

func (t *MemTransport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// Send transmits one Ethernet frame onto the segment.
func (t *MemTransport) Send(frame []byte) error {
	if t.isClosed() {
		return ErrClosed
	}
	if len(frame) < 14 {
		return ErrClosed
	}
	t.bus.broadcast(t, frame)
	return nil
}

// SetReceiver registers the inbound frame consumer.
func (t *MemTransport) SetReceiver(r Receiver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receiver = r
}

// OnFatal registers the fatal-loss handler.
func (t *MemTransport) OnFatal(f func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fatal = f
}

// FailFatally simulates a fatal interface loss, firing the registered
// handler once. Later calls, and calls on a closed endpoint, do
// nothing. Test hook.
func (t *MemTransport) FailFatally(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	f := t.fatal
	t.closed = true
	t.mu.Unlock()
	if f != nil {
		f(err)
	}
}

// MAC returns the endpoint address.
func (t *MemTransport) MAC() protocol.MacAddress { return t.mac }

// InterfaceIndex returns the synthetic interface index.
func (t *MemTransport) InterfaceIndex() int { return t.ifIndex }

// Close detaches the endpoint. Taking the bus lock first keeps the
// close ordered against in-flight broadcasts.
func (t *MemTransport) Close() error {
	t.bus.mu.Lock()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.bus.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	close(t.inbound)
	t.bus.mu.Unlock()
	<-t.done
	return nil
}

// deliverLoop is the endpoint's single inbound worker.
func (t *MemTransport) deliverLoop() {
	defer close(t.done)
	for frame := range t.inbound {
		t.mu.RLock()
		r := t.receiver
		t.mu.RUnlock()
		if r != nil {
			r(frame)
		}
	}
}
