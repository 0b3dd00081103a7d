package engine

import (
	"context"
	"fmt"
	"time"

	"trustline/internal/codec"
	"trustline/internal/domain"
)

type (
	// ProtocolID identifies a protocol definition.
	ProtocolID int
	// StateID identifies a state within a protocol.
	StateID int
	// MessageID identifies a message type within a protocol.
	MessageID int
)

// StateInitial is the state of an instance that does not exist yet.
const StateInitial StateID = 0

// State is a protocol state. Implementations are plain values.
type State interface {
	ID() StateID
	Encode() codec.Encoded
}

// StateDecoder rebuilds a state from its encoding.
type StateDecoder func(codec.Encoded) (State, error)

// Key identifies a protocol instance.
type Key struct {
	Owned    domain.Identity
	Protocol ProtocolID
	Instance domain.UID
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.Protocol, k.Instance.Short())
}

func (k Key) lockKey() string {
	return fmt.Sprintf("%x/%d/%x", k.Owned[:], k.Protocol, k.Instance[:])
}

// Message is an inbound protocol message after decryption.
type Message struct {
	Protocol        ProtocolID
	Instance        domain.UID
	Owned           domain.Identity
	ID              MessageID
	Inputs          []codec.Encoded
	Channel         domain.ReceptionChannel
	ServerTimestamp time.Time
}

// Key returns the instance the message is addressed to.
func (m Message) Key() Key {
	return Key{Owned: m.Owned, Protocol: m.Protocol, Instance: m.Instance}
}

// Input returns input i, or a zero value when absent.
func (m Message) Input(i int) codec.Encoded {
	if i < 0 || i >= len(m.Inputs) {
		return codec.Encoded{}
	}
	return m.Inputs[i]
}

// RunFunc executes a step. It returns the next state. Returning
// ErrCancelled deletes the instance; any other error drops the message
// and leaves the instance untouched.
type RunFunc func(ctx context.Context, sc *StepContext, state State, msg Message) (State, error)

// Step is a transition from From on message On.
type Step struct {
	Name    string
	From    StateID
	On      MessageID
	Channel domain.ChannelConstraint
	Run     RunFunc
}

// Definition is the static description of a protocol.
type Definition struct {
	ID          ProtocolID
	Name        string
	Initial     State
	States      map[StateID]StateDecoder
	FinalStates []StateID
	Steps       []Step
}

// IsFinal reports whether id is a final state.
func (d *Definition) IsFinal(id StateID) bool {
	for _, f := range d.FinalStates {
		if f == id {
			return true
		}
	}
	return false
}

func (d *Definition) decodeState(id StateID, raw []byte) (State, error) {
	if id == StateInitial && d.Initial != nil {
		return d.Initial, nil
	}
	dec, ok := d.States[id]
	if !ok {
		return nil, fmt.Errorf("%s: unknown state %d", d.Name, id)
	}
	e, err := codec.Parse(raw)
	if err != nil {
		return nil, err
	}
	return dec(e)
}

// steps returns the steps leaving from on message on.
func (d *Definition) steps(from StateID, on MessageID) []Step {
	var out []Step
	for _, s := range d.Steps {
		if s.From == from && s.On == on {
			out = append(out, s)
		}
	}
	return out
}
