package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"trustline/internal/codec"
	"trustline/internal/crypto"
	"trustline/internal/domain"
)

// StepContext is handed to a running step. Everything a step posts,
// queries or notifies is buffered here and committed atomically with the
// new state.
type StepContext struct {
	Owned    domain.Identity
	Protocol ProtocolID
	Instance domain.UID
	PRNG     crypto.PRNG
	Now      time.Time
	Log      *zap.Logger

	outbox []OutboxItem
	links  []Link
}

// Post queues a protocol message. A zero Protocol or Instance defaults to
// the running instance.
func (sc *StepContext) Post(m OutboundMessage) {
	if m.Protocol == 0 {
		m.Protocol = sc.Protocol
	}
	if m.Instance.IsZero() {
		m.Instance = sc.Instance
	}
	sc.outbox = append(sc.outbox, OutboxItem{Owned: sc.Owned, Kind: ItemPost, Post: m})
}

// PostLocal queues a message to an instance of this device.
func (sc *StepContext) PostLocal(protocol ProtocolID, instance domain.UID, id MessageID, inputs ...codec.Encoded) {
	sc.Post(OutboundMessage{Protocol: protocol, Instance: instance, ID: id, Inputs: inputs, Channel: domain.LocalChannel()})
}

// Query queues a relay request answered to the running instance.
func (sc *StepContext) Query(q ServerQuery) {
	q.Protocol = sc.Protocol
	q.Instance = sc.Instance
	sc.outbox = append(sc.outbox, OutboxItem{Owned: sc.Owned, Kind: ItemQuery, Query: q})
}

// Notify queues a user-facing event.
func (sc *StepContext) Notify(kind domain.EventKind, contact domain.Identity, value string) {
	sc.outbox = append(sc.outbox, OutboxItem{
		Owned: sc.Owned,
		Kind:  ItemEvent,
		Event: domain.Event{
			Kind:     kind,
			Owned:    sc.Owned,
			Contact:  contact,
			Protocol: int(sc.Protocol),
			Instance: sc.Instance,
			Value:    value,
		},
	})
}

// StartChild starts an instance of protocol by posting it message id
// locally. When the child reaches state expect, the running instance
// receives a ChildOutcome as message reply. It returns the child's
// instance UID.
func (sc *StepContext) StartChild(protocol ProtocolID, id MessageID, inputs []codec.Encoded, expect StateID, reply MessageID) (domain.UID, error) {
	child, err := domain.NewUID(sc.PRNG)
	if err != nil {
		return domain.UID{}, fmt.Errorf("child instance: %w", err)
	}
	sc.links = append(sc.links, Link{
		Parent: Key{Owned: sc.Owned, Protocol: sc.Protocol, Instance: sc.Instance},
		Reply:  reply,
		Child:  Key{Owned: sc.Owned, Protocol: protocol, Instance: child},
		Expect: expect,
	})
	sc.PostLocal(protocol, child, id, inputs...)
	return child, nil
}

// StateChildCancelled is the outcome state reported when a child was
// cancelled, aborted or finished without reaching the awaited state.
const StateChildCancelled StateID = -1

// ChildOutcome is delivered to a parent when its child reaches the
// awaited state, or can no longer reach it.
type ChildOutcome struct {
	Protocol ProtocolID
	Instance domain.UID
	State    StateID
	Encoded  codec.Encoded
}

// Cancelled reports whether the child ended without reaching the awaited
// state. Encoded is then an empty list.
func (c ChildOutcome) Cancelled() bool { return c.State == StateChildCancelled }

// Inputs encodes the outcome as message inputs.
func (c ChildOutcome) Inputs() []codec.Encoded {
	return []codec.Encoded{
		codec.Int(int64(c.Protocol)),
		codec.Bytes(c.Instance[:]),
		codec.Int(int64(c.State)),
		c.Encoded,
	}
}

// ChildOutcomeFrom decodes the outcome carried by msg.
func ChildOutcomeFrom(msg Message) (ChildOutcome, error) {
	if len(msg.Inputs) != 4 {
		return ChildOutcome{}, fmt.Errorf("engine: child outcome has %d inputs", len(msg.Inputs))
	}
	d := decoder{}
	out := ChildOutcome{
		Protocol: ProtocolID(d.int(msg.Inputs[0])),
		Instance: d.uid(msg.Inputs[1]),
		State:    StateID(d.int(msg.Inputs[2])),
		Encoded:  msg.Inputs[3],
	}
	if d.err != nil {
		return ChildOutcome{}, fmt.Errorf("engine: child outcome: %w", d.err)
	}
	return out, nil
}
