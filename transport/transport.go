// Package transport provides raw Layer-2 frame I/O for the AVDECC
// stack: one adapter per network interface, filtering for EtherType
// 0x22F0 traffic addressed to the AVDECC multicast group or the local
// MAC.
//
// Two backends are provided: a pcap capture handle for real interfaces,
// and an in-process bus used by tests and virtual setups.
package transport

import (
	"errors"
	"time"

	"github.com/opd-ai/avdecc/protocol"
)

// Adapter construction and runtime failures.
var (
	ErrInterfaceNotFound     = errors.New("interface not found")
	ErrInterfaceInvalid      = errors.New("interface invalid")
	ErrInterfaceNotSupported = errors.New("interface not supported")
	ErrClosed                = errors.New("transport closed")
)

// Frame is one inbound Ethernet frame with its capture timestamp.
type Frame struct {
	Data      []byte
	Timestamp time.Time
}

// Receiver consumes inbound frames. It is invoked from the transport's
// single inbound worker and must not block.
type Receiver func(Frame)

// Transport is a bound Layer-2 adapter. Implementations deliver inbound
// frames to the registered receiver from a dedicated worker goroutine,
// and report a fatal transport loss at most once; after that the
// adapter is permanently unusable.
type Transport interface {
	// Send transmits one complete Ethernet frame.
	Send(frame []byte) error

	// SetReceiver registers the inbound frame consumer. Must be called
	// before frames are expected; a nil receiver drops traffic.
	SetReceiver(r Receiver)

	// OnFatal registers the handler invoked once if the transport dies.
	OnFatal(f func(error))

	// MAC returns the interface hardware address.
	MAC() protocol.MacAddress

	// InterfaceIndex returns the OS interface index (a synthetic
	// per-bus index, starting at 1, for the in-memory backend).
	InterfaceIndex() int

	// Close stops the inbound worker and releases the handle.
	Close() error
}
