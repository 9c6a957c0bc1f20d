// Package acmp implements the ACMP transaction engine. ACMP is
// multicast-oriented: responses are matched purely on
// (controller_entity_id, sequence_id) because the answer may come from
// the talker or the listener depending on the message type, and every
// exchange on the LAN is visible. Traffic belonging to other
// controllers is surfaced as "sniffed" events so higher layers can
// build a global connection map.
package acmp

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/avdecc/internal/sched"
	"github.com/opd-ai/avdecc/protocol"
	"github.com/opd-ai/avdecc/transport"
)

// CommandTimeout allows for the listener-side relay work ACMP
// responders perform. No retries: a silent responder surfaces as
// TimedOut.
const CommandTimeout = 500 * time.Millisecond

// Issue-time failures.
var (
	ErrEngineClosed = errors.New("acmp engine closed")
	ErrNetwork      = errors.New("network send failed")
)

// Outcome classifies how a transaction ended.
type Outcome uint8

const (
	OutcomeResponse Outcome = iota
	OutcomeTimedOut
	OutcomeNetworkError
	OutcomeInternalError
)

// Result is delivered to the completion handler exactly once.
type Result struct {
	Outcome Outcome
	PDU     *protocol.Acmpdu
}

// CompletionFunc receives the transaction result on the notifier
// executor.
type CompletionFunc func(Result)

// SniffedFunc receives third-party ACMP traffic (commands and
// responses whose controller is not ours).
type SniffedFunc func(*protocol.Acmpdu)

type transaction struct {
	seq      uint16
	expect   protocol.AcmpMessageType
	timerID  sched.ID
	complete CompletionFunc
}

// Engine is the ACMP transaction engine for one controller.
type Engine struct {
	localID protocol.UniqueIdentifier
	tr      transport.Transport
	tq      *sched.Queue
	notify  func(func())

	mu       sync.Mutex
	nextSeq  uint16
	inflight map[uint16]*transaction
	closed   bool

	onSniffed SniffedFunc
}

// NewEngine creates the engine.
func NewEngine(localID protocol.UniqueIdentifier, tr transport.Transport, tq *sched.Queue, notify func(func())) *Engine {
	return &Engine{
		localID:  localID,
		tr:       tr,
		tq:       tq,
		notify:   notify,
		inflight: make(map[uint16]*transaction),
	}
}

// OnSniffed registers the consumer for third-party traffic.
func (e *Engine) OnSniffed(f SniffedFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSniffed = f
}

// Issue multicasts one ACMP command built from pdu (controller and
// sequence fields are filled in by the engine) and registers the
// matching transaction.
func (e *Engine) Issue(pdu *protocol.Acmpdu, complete CompletionFunc) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}

	seq := e.nextSeq
	for {
		if _, busy := e.inflight[seq]; !busy {
			break
		}
		seq++
	}
	e.nextSeq = seq + 1

	pdu.ControllerEntityID = e.localID
	pdu.SequenceID = seq

	frame, err := pdu.Encode(protocol.MulticastIdentificationAddress, e.tr.MAC())
	if err != nil {
		e.mu.Unlock()
		return err
	}

	tx := &transaction{
		seq:      seq,
		expect:   pdu.MessageType + 1,
		complete: complete,
	}
	e.inflight[seq] = tx
	e.mu.Unlock()

	if err := e.tr.Send(frame); err != nil {
		e.mu.Lock()
		delete(e.inflight, seq)
		e.mu.Unlock()
		return errors.Join(ErrNetwork, err)
	}

	e.mu.Lock()
	tx.timerID = e.tq.Schedule(CommandTimeout, func() { e.onTimeout(tx) })
	e.mu.Unlock()
	return nil
}

func (e *Engine) onTimeout(tx *transaction) {
	e.mu.Lock()
	if e.inflight[tx.seq] != tx {
		e.mu.Unlock()
		return
	}
	delete(e.inflight, tx.seq)
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "onTimeout",
		"sequence_id": tx.seq,
	}).Debug("ACMP command timed out")
	e.notify(func() { tx.complete(Result{Outcome: OutcomeTimedOut}) })
}

// HandlePdu processes one inbound ACMP PDU. Responses to our commands
// complete their transaction; traffic of other controllers is reported
// as sniffed. Unmatched responses addressed to us and our own reflected
// commands are dropped. Called from the inbound dispatch worker.
func (e *Engine) HandlePdu(p *protocol.Acmpdu) {
	if p.ControllerEntityID == e.localID && p.MessageType.IsResponse() {
		e.mu.Lock()
		tx := e.inflight[p.SequenceID]
		if tx != nil && tx.expect == p.MessageType {
			delete(e.inflight, p.SequenceID)
			e.tq.Cancel(tx.timerID)
			e.mu.Unlock()
			e.notify(func() { tx.complete(Result{Outcome: OutcomeResponse, PDU: p}) })
			return
		}
		e.mu.Unlock()
		// A response for us with no pending transaction: a misbehaving
		// or very late responder. Drop it.
		return
	}

	if p.ControllerEntityID == e.localID {
		// Our own multicast command reflected back.
		return
	}

	e.mu.Lock()
	sniffed := e.onSniffed
	e.mu.Unlock()
	if sniffed != nil {
		e.notify(func() { sniffed(p) })
	}
}

// CancelAll fails every pending transaction. Used on fatal transport
// loss (NetworkError) and shutdown (InternalError).
func (e *Engine) CancelAll(outcome Outcome) {
	e.mu.Lock()
	pending := make([]*transaction, 0, len(e.inflight))
	for seq, tx := range e.inflight {
		e.tq.Cancel(tx.timerID)
		pending = append(pending, tx)
		delete(e.inflight, seq)
	}
	e.mu.Unlock()

	for _, tx := range pending {
		tx := tx
		e.notify(func() { tx.complete(Result{Outcome: outcome}) })
	}
}

// Close rejects further issues and cancels everything pending.
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
