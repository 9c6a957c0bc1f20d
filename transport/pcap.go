package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket/pcap"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/avdecc/protocol"
)

const (
	pcapSnapLen = 1600
	// Keep the kernel filter tight: AVTP EtherType, addressed to the
	// AVDECC multicast group or to us.
	pcapFilterFormat = "ether proto 0x22f0 and (ether dst %s or ether dst %s)"
)

// PcapTransport is a Transport bound to a real interface through a
// libpcap capture handle.
type PcapTransport struct {
	handle  *pcap.Handle
	mac     protocol.MacAddress
	ifIndex int

	mu       sync.RWMutex
	receiver Receiver
	fatal    func(error)

	closed atomic.Bool
	dead   atomic.Bool
	done   chan struct{}
}

// NewPcapTransport opens the named interface for AVDECC traffic.
func NewPcapTransport(interfaceName string) (*PcapTransport, error) {
	iface, err := net.InterfaceByName(interfaceName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInterfaceNotFound, interfaceName)
	}
	if len(iface.HardwareAddr) != 6 {
		return nil, fmt.Errorf("%w: %s has no EUI-48 address", ErrInterfaceInvalid, interfaceName)
	}
	if iface.Flags&net.FlagUp == 0 {
		return nil, fmt.Errorf("%w: %s is down", ErrInterfaceInvalid, interfaceName)
	}

	handle, err := pcap.OpenLive(interfaceName, pcapSnapLen, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInterfaceNotSupported, err)
	}

	t := &PcapTransport{
		handle:  handle,
		ifIndex: iface.Index,
		done:    make(chan struct{}),
	}
	copy(t.mac[:], iface.HardwareAddr)

	filter := fmt.Sprintf(pcapFilterFormat,
		protocol.MulticastIdentificationAddress, t.mac)
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("%w: bpf: %v", ErrInterfaceNotSupported, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewPcapTransport",
		"interface": interfaceName,
		"mac":       t.mac.String(),
		"index":     t.ifIndex,
	}).Info("AVDECC transport bound")

	go t.readLoop()
	return t, nil
}

// Send transmits one Ethernet frame.
func (t *PcapTransport) Send(frame []byte) error {
	if t.closed.Load() || t.dead.Load() {
		return ErrClosed
	}
	if err := t.handle.WritePacketData(frame); err != nil {
		return fmt.Errorf("pcap send: %w", err)
	}
	return nil
}

// SetReceiver registers the inbound frame consumer.
func (t *PcapTransport) SetReceiver(r Receiver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receiver = r
}

// OnFatal registers the fatal-loss handler.
func (t *PcapTransport) OnFatal(f func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fatal = f
}

// MAC returns the interface hardware address.
func (t *PcapTransport) MAC() protocol.MacAddress { return t.mac }

// InterfaceIndex returns the OS interface index.
func (t *PcapTransport) InterfaceIndex() int { return t.ifIndex }

// Close stops the capture loop and releases the pcap handle.
func (t *PcapTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.handle.Close()
	<-t.done
	return nil
}

// readLoop is the single inbound worker draining the capture handle.
func (t *PcapTransport) readLoop() {
	defer close(t.done)
	for {
		data, ci, err := t.handle.ReadPacketData()
		if err != nil {
			if t.closed.Load() {
				return
			}
			if err == pcap.NextErrorTimeoutExpired {
				continue
			}
			t.reportFatal(err)
			return
		}

		t.mu.RLock()
		r := t.receiver
		t.mu.RUnlock()
		if r != nil {
			frame := make([]byte, len(data))
			copy(frame, data)
			r(Frame{Data: frame, Timestamp: ci.Timestamp})
		}
	}
}

// reportFatal marks the interface permanently unusable and fires the
// fatal handler exactly once.
func (t *PcapTransport) reportFatal(err error) {
	if !t.dead.CompareAndSwap(false, true) {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "reportFatal",
		"mac":      t.mac.String(),
		"error":    err,
	}).Error("AVDECC transport lost")

	t.mu.RLock()
	f := t.fatal
	t.mu.RUnlock()
	if f != nil {
		f(err)
	}
}
