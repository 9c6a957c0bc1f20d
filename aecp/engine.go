// Package aecp implements the AECP transaction engine: the
// command/response matcher for the AEM, Address Access and Milan Vendor
// Unique dialects, with per-target serialization, sequence-id
// allocation, retries and timeouts.
//
// The protocol requires responders to process AEM commands serially, so
// the engine keeps at most one command in flight per target entity;
// further commands to the same target queue FIFO behind it. AA and MVU
// share the same sequence-id space and the same discipline.
package aecp

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/avdecc/internal/sched"
	"github.com/opd-ai/avdecc/protocol"
	"github.com/opd-ai/avdecc/transport"
)

// Per-attempt command timeout. The standard allows 250 ms for AEM, AA
// and MVU alike, with one automatic retry.
const (
	CommandTimeout = 250 * time.Millisecond
	totalAttempts  = 2
)

// aemStatusInProgress is the wire status an entity returns while still
// working on a command; it re-arms the timeout instead of completing.
const aemStatusInProgress = 9

// Issue-time failures.
var (
	ErrUnknownEntity = errors.New("target entity not discovered")
	ErrEngineClosed  = errors.New("aecp engine closed")
	ErrNetwork       = errors.New("network send failed")
)

// Kind selects the AECP dialect of a command.
type Kind uint8

const (
	KindAem Kind = iota
	KindAa
	KindMvu
)

func (k Kind) commandMessageType() protocol.AecpMessageType {
	switch k {
	case KindAa:
		return protocol.AecpAddressAccessCommand
	case KindMvu:
		return protocol.AecpVendorUniqueCommand
	default:
		return protocol.AecpAemCommand
	}
}

// Outcome classifies how a transaction ended.
type Outcome uint8

const (
	// OutcomeResponse carries a matched response PDU.
	OutcomeResponse Outcome = iota
	OutcomeTimedOut
	OutcomeUnknownEntity
	OutcomeNetworkError
	OutcomeProtocolError
	OutcomeInternalError
)

// Result is delivered to the completion handler exactly once per
// issued command.
type Result struct {
	Outcome Outcome
	// PDU is the matched response when Outcome is OutcomeResponse.
	PDU *protocol.Aecpdu
}

// CompletionFunc receives the transaction result on the notifier
// executor.
type CompletionFunc func(Result)

// Command is one outbound AECP command before sequencing.
type Command struct {
	Kind Kind

	// AEM
	CommandType protocol.AemCommandType
	Payload     []byte

	// AA
	Tlvs []protocol.AaTlv

	// MVU
	MvuCommandType protocol.MvuCommandType
}

// transaction is one in-flight or queued command.
type transaction struct {
	target   protocol.UniqueIdentifier
	kind     Kind
	seq      uint16
	frame    []byte
	attempts int
	timerID  sched.ID
	complete CompletionFunc
}

// targetState serializes commands to one entity.
type targetState struct {
	nextSeq uint16
	current *transaction
	queue   []*transaction
}

// Engine is the AECP transaction engine for one controller on one
// interface.
type Engine struct {
	localID protocol.UniqueIdentifier
	tr      transport.Transport
	tq      *sched.Queue
	notify  func(func())
	// resolve maps a discovered entity to its last-known MAC.
	resolve func(protocol.UniqueIdentifier) (protocol.MacAddress, bool)

	mu      sync.Mutex
	targets map[protocol.UniqueIdentifier]*targetState
	closed  bool

	onUnsolicited func(*protocol.Aecpdu)
}

// NewEngine creates the engine. resolve is the discovery-table lookup;
// notify the serial callback executor.
func NewEngine(localID protocol.UniqueIdentifier, tr transport.Transport, tq *sched.Queue,
	notify func(func()), resolve func(protocol.UniqueIdentifier) (protocol.MacAddress, bool),
) *Engine {
	return &Engine{
		localID: localID,
		tr:      tr,
		tq:      tq,
		notify:  notify,
		resolve: resolve,
		targets: make(map[protocol.UniqueIdentifier]*targetState),
	}
}

// OnUnsolicited registers the consumer for unsolicited AEM responses.
func (e *Engine) OnUnsolicited(f func(*protocol.Aecpdu)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onUnsolicited = f
}

// Issue sends one command to target. It fails synchronously when the
// target is not in the discovery table, when the engine is closed, or
// when the frame cannot be transmitted; every later outcome arrives
// through complete on the notifier executor.
func (e *Engine) Issue(target protocol.UniqueIdentifier, cmd Command, complete CompletionFunc) error {
	mac, ok := e.resolve(target)
	if !ok {
		return ErrUnknownEntity
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	ts := e.targets[target]
	if ts == nil {
		ts = &targetState{}
		e.targets[target] = ts
	}

	seq := e.allocateSeq(ts)
	frame, err := e.encodeCommand(target, mac, seq, cmd)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	tx := &transaction{
		target:   target,
		kind:     cmd.Kind,
		seq:      seq,
		frame:    frame,
		attempts: totalAttempts,
		complete: complete,
	}

	if ts.current != nil {
		// Serialize: the responder handles one command at a time.
		ts.queue = append(ts.queue, tx)
		e.mu.Unlock()
		return nil
	}
	ts.current = tx
	e.mu.Unlock()

	if err := e.transmit(tx); err != nil {
		e.mu.Lock()
		e.dropCurrentLocked(ts, tx)
		e.mu.Unlock()
		return err
	}
	return nil
}

// allocateSeq post-increments next_sequence_id, skipping any id still
// in flight so a wrap never collides. Caller holds e.mu.
func (e *Engine) allocateSeq(ts *targetState) uint16 {
	for {
		seq := ts.nextSeq
		ts.nextSeq++
		if ts.current != nil && ts.current.seq == seq {
			continue
		}
		inQueue := false
		for _, q := range ts.queue {
			if q.seq == seq {
				inQueue = true
				break
			}
		}
		if !inQueue {
			return seq
		}
	}
}

func (e *Engine) encodeCommand(target protocol.UniqueIdentifier, mac protocol.MacAddress, seq uint16, cmd Command) ([]byte, error) {
	pdu := &protocol.Aecpdu{
		MessageType:        cmd.Kind.commandMessageType(),
		TargetEntityID:     target,
		ControllerEntityID: e.localID,
		SequenceID:         seq,
	}
	switch cmd.Kind {
	case KindAem:
		pdu.CommandType = cmd.CommandType
		pdu.CommandPayload = cmd.Payload
	case KindAa:
		pdu.Tlvs = cmd.Tlvs
	case KindMvu:
		pdu.ProtocolID = protocol.MilanProtocolID
		pdu.MvuCommandType = cmd.MvuCommandType
		pdu.CommandPayload = cmd.Payload
	}
	return pdu.Encode(mac, e.tr.MAC())
}

// transmit sends the frame and arms the attempt timer. Not called under
// e.mu: the transport may block briefly.
func (e *Engine) transmit(tx *transaction) error {
	tx.attempts--
	if err := e.tr.Send(tx.frame); err != nil {
		return errors.Join(ErrNetwork, err)
	}

	e.mu.Lock()
	tx.timerID = e.tq.Schedule(CommandTimeout, func() { e.onTimeout(tx) })
	e.mu.Unlock()
	return nil
}

// dropCurrentLocked clears tx from its target slot without completing
// it (the caller reports the failure synchronously). Caller holds e.mu.
func (e *Engine) dropCurrentLocked(ts *targetState, tx *transaction) {
	if ts.current == tx {
		ts.current = nil
	}
	e.advanceLocked(ts)
}

// onTimeout fires on the timer worker when an attempt deadline lapses.
func (e *Engine) onTimeout(tx *transaction) {
	e.mu.Lock()
	ts := e.targets[tx.target]
	if ts == nil || ts.current != tx {
		e.mu.Unlock()
		return
	}
	if tx.attempts > 0 {
		e.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":    "onTimeout",
			"target":      tx.target.String(),
			"sequence_id": tx.seq,
		}).Debug("command timed out, retrying")
		if err := e.transmit(tx); err == nil {
			return
		}
		// The retry could not even be sent; surface the timeout.
		e.mu.Lock()
		if ts.current != tx {
			e.mu.Unlock()
			return
		}
	}
	ts.current = nil
	e.advanceLocked(ts)
	e.mu.Unlock()

	e.finish(tx, Result{Outcome: OutcomeTimedOut})
}

// advanceLocked promotes the next queued command, if any, and transmits
// it off-lock. Caller holds e.mu.
func (e *Engine) advanceLocked(ts *targetState) {
	if ts.current != nil || len(ts.queue) == 0 {
		return
	}
	next := ts.queue[0]
	ts.queue = ts.queue[1:]
	ts.current = next
	go func() {
		if err := e.transmit(next); err != nil {
			e.mu.Lock()
			if ts.current == next {
				ts.current = nil
				e.advanceLocked(ts)
			}
			e.mu.Unlock()
			e.finish(next, Result{Outcome: OutcomeNetworkError})
		}
	}()
}

// finish delivers the result on the notifier executor.
func (e *Engine) finish(tx *transaction, r Result) {
	e.notify(func() { tx.complete(r) })
}

// HandleResponse processes one inbound AECP PDU addressed to this
// controller. Called from the inbound dispatch worker.
func (e *Engine) HandleResponse(p *protocol.Aecpdu) {
	if !p.MessageType.IsResponse() || p.ControllerEntityID != e.localID {
		return
	}

	e.mu.Lock()
	ts := e.targets[p.TargetEntityID]
	var tx *transaction
	if ts != nil && ts.current != nil &&
		ts.current.seq == p.SequenceID &&
		ts.current.kind.commandMessageType()+1 == p.MessageType {
		tx = ts.current
	}

	if tx == nil {
		onUnsolicited := e.onUnsolicited
		e.mu.Unlock()
		// Only successful unsolicited AEM responses are notifications;
		// everything else is protocol noise.
		if p.MessageType == protocol.AecpAemResponse && p.Unsolicited && p.Status == 0 && onUnsolicited != nil {
			e.notify(func() { onUnsolicited(p) })
		}
		return
	}

	if p.MessageType == protocol.AecpAemResponse && p.Status == aemStatusInProgress {
		// The entity is still working; re-arm the running attempt
		// without consuming the retry.
		e.tq.Cancel(tx.timerID)
		tx.timerID = e.tq.Schedule(CommandTimeout, func() { e.onTimeout(tx) })
		e.mu.Unlock()
		return
	}

	e.tq.Cancel(tx.timerID)
	ts.current = nil
	e.advanceLocked(ts)
	e.mu.Unlock()

	e.finish(tx, Result{Outcome: OutcomeResponse, PDU: p})
}

// CancelTarget fails every pending command for a vanished target, in
// issue order.
func (e *Engine) CancelTarget(target protocol.UniqueIdentifier, outcome Outcome) {
	e.mu.Lock()
	ts := e.targets[target]
	if ts == nil {
		e.mu.Unlock()
		return
	}
	var pending []*transaction
	if ts.current != nil {
		e.tq.Cancel(ts.current.timerID)
		pending = append(pending, ts.current)
		ts.current = nil
	}
	pending = append(pending, ts.queue...)
	ts.queue = nil
	delete(e.targets, target)
	e.mu.Unlock()

	for _, tx := range pending {
		e.finish(tx, Result{Outcome: outcome})
	}
}

// CancelAll fails every pending command on every target. Used on fatal
// transport loss (NetworkError) and on shutdown (InternalError).
func (e *Engine) CancelAll(outcome Outcome) {
	e.mu.Lock()
	var pending []*transaction
	for id, ts := range e.targets {
		if ts.current != nil {
			e.tq.Cancel(ts.current.timerID)
			pending = append(pending, ts.current)
		}
		pending = append(pending, ts.queue...)
		delete(e.targets, id)
	}
	e.mu.Unlock()

	for _, tx := range pending {
		e.finish(tx, Result{Outcome: outcome})
	}
}

// Close rejects further issues and cancels everything pending with
// InternalError.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	e.CancelAll(OutcomeInternalError)
}
