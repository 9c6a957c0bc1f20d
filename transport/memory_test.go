package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/avdecc/protocol"
)

func ethFrame(dst, src protocol.MacAddress) []byte {
	buf := make([]byte, 60)
	copy(buf[0:6], dst[:])
	copy(buf[6:12], src[:])
	buf[12] = 0x22
	buf[13] = 0xF0
	return buf
}

func TestBusUnicastDelivery(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint(protocol.MacAddress{2, 0, 0, 0, 0, 1})
	b := bus.Endpoint(protocol.MacAddress{2, 0, 0, 0, 0, 2})
	c := bus.Endpoint(protocol.MacAddress{2, 0, 0, 0, 0, 3})
	defer a.Close()
	defer b.Close()
	defer c.Close()

	var mu sync.Mutex
	var got []protocol.MacAddress
	recvInto := func(who protocol.MacAddress) Receiver {
		return func(f Frame) {
			mu.Lock()
			got = append(got, who)
			mu.Unlock()
		}
	}
	b.SetReceiver(recvInto(b.MAC()))
	c.SetReceiver(recvInto(c.MAC()))

	require.NoError(t, a.Send(ethFrame(b.MAC(), a.MAC())))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == b.MAC()
	}, time.Second, 5*time.Millisecond)
}

func TestBusMulticastReachesAllButSender(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint(protocol.MacAddress{2, 0, 0, 0, 0, 1})
	b := bus.Endpoint(protocol.MacAddress{2, 0, 0, 0, 0, 2})
	defer a.Close()
	defer b.Close()

	var mu sync.Mutex
	aGot, bGot := 0, 0
	a.SetReceiver(func(Frame) { mu.Lock(); aGot++; mu.Unlock() })
	b.SetReceiver(func(Frame) { mu.Lock(); bGot++; mu.Unlock() })

	require.NoError(t, a.Send(ethFrame(protocol.MulticastIdentificationAddress, a.MAC())))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return bGot == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Zero(t, aGot, "sender must not hear its own frame")
	mu.Unlock()
}

func TestClosedEndpointRejectsSend(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint(protocol.MacAddress{2, 0, 0, 0, 0, 1})
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send(ethFrame(a.MAC(), a.MAC())), ErrClosed)
}

func TestFailFatallyFiresOnce(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint(protocol.MacAddress{2, 0, 0, 0, 0, 1})

	fired := 0
	a.OnFatal(func(err error) { fired++ })
	cause := errors.New("cable pulled")
	a.FailFatally(cause)

	assert.Equal(t, 1, fired)
	assert.ErrorIs(t, a.Send(ethFrame(a.MAC(), a.MAC())), ErrClosed)
}
