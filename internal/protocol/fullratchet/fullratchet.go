// Package fullratchet replaces the send seed of a ratcheting channel with
// fresh key material from an ephemeral KEM exchange, restoring forward
// secrecy after a compromise of the old seed.
//
// The device whose send side is refreshed plays Alice. Bob installs the
// new seed as a receive provision before acknowledging, so Alice only
// switches once Bob can decrypt with it.
package fullratchet

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trustline/internal/channel"
	"trustline/internal/codec"
	"trustline/internal/crypto"
	"trustline/internal/domain"
	"trustline/internal/protocol"
	"trustline/internal/protocol/engine"
)

// Messages.
const (
	MsgInitial engine.MessageID = iota
	MsgAliceEphemeralKey
	MsgBobEphemeralKeyAndK1
	MsgAliceK2
	MsgBobAck
)

// States.
const (
	StateAliceWaitingForK1 engine.StateID = iota + 1
	StateAliceWaitingForAck
	StateBobWaitingForK2
	StateFullRatchetDone
)

const labelSeed = "trustline full ratchet"

var (
	// ErrStaleExchange is returned for messages of an exchange that was
	// restarted since.
	ErrStaleExchange = errors.New("fullratchet: restart counter mismatch")
	// ErrWrongPeer is returned when a message arrives from another
	// channel than the one being ratcheted.
	ErrWrongPeer = errors.New("fullratchet: message from unexpected device")
)

// Channels is the part of the channel manager the protocol drives.
type Channels interface {
	ChannelID(remote domain.Identity, device domain.UID) channel.ID
	UpdateSendSeed(ctx context.Context, id channel.ID, seed crypto.Seed) error
	CreateProvision(ctx context.Context, id channel.ID, seed crypto.Seed) error
}

// Deps are the collaborators of the protocol.
type Deps struct {
	Channels Channels
	Suite    crypto.Suite
}

// Instance is the instance UID of the ratchet of the send side from local
// to remote. Both devices derive it.
func Instance(local, remote domain.UID) domain.UID {
	return protocol.PairInstance("trustline full ratchet", local, remote, true)
}

// StartMessage is the local message that starts or restarts the ratchet
// of the channel id.
func StartMessage(owned domain.Identity, id channel.ID) engine.Message {
	return engine.Message{
		Protocol: protocol.FullRatchet,
		Instance: Instance(id.Local, id.RemoteDevice),
		Owned:    owned,
		ID:       MsgInitial,
		Inputs:   []codec.Encoded{protocol.EncodeIdentity(id.RemoteIdentity), protocol.EncodeUID(id.RemoteDevice)},
		Channel:  domain.ReceptionChannel{Kind: domain.ChannelLocal},
	}
}

// New returns the full ratchet protocol.
func New(d Deps) *engine.Definition {
	r := runner{Deps: d}
	return &engine.Definition{
		ID:      protocol.FullRatchet,
		Name:    "full-ratchet",
		Initial: initialState{},
		States: map[engine.StateID]engine.StateDecoder{
			StateAliceWaitingForK1:  decodeAliceWaitingForK1,
			StateAliceWaitingForAck: decodeAliceWaitingForAck,
			StateBobWaitingForK2:    decodeBobWaitingForK2,
		},
		FinalStates: []engine.StateID{StateFullRatchetDone},
		Steps: []engine.Step{
			{Name: "send-ephemeral-key", From: engine.StateInitial, On: MsgInitial, Channel: domain.LocalOnly, Run: r.start},
			{Name: "restart-before-k1", From: StateAliceWaitingForK1, On: MsgInitial, Channel: domain.LocalOnly, Run: r.start},
			{Name: "restart-before-ack", From: StateAliceWaitingForAck, On: MsgInitial, Channel: domain.LocalOnly, Run: r.start},
			{Name: "recover-k1", From: StateAliceWaitingForK1, On: MsgBobEphemeralKeyAndK1, Channel: domain.RatchetingOnly, Run: r.recoverK1},
			{Name: "update-send-seed", From: StateAliceWaitingForAck, On: MsgBobAck, Channel: domain.RatchetingOnly, Run: r.finish},
			{Name: "send-k1", From: engine.StateInitial, On: MsgAliceEphemeralKey, Channel: domain.RatchetingOnly, Run: r.sendK1},
			{Name: "resend-k1", From: StateBobWaitingForK2, On: MsgAliceEphemeralKey, Channel: domain.RatchetingOnly, Run: r.sendK1},
			{Name: "create-provision", From: StateBobWaitingForK2, On: MsgAliceK2, Channel: domain.RatchetingOnly, Run: r.createProvision},
		},
	}
}

type runner struct{ Deps }

func send(sc *engine.StepContext, p peer, id engine.MessageID, inputs ...codec.Encoded) {
	sc.Post(engine.OutboundMessage{
		ID:     id,
		Inputs: inputs,
		Channel: domain.SendChannel{
			Kind:              domain.ChannelRatcheting,
			ToIdentity:        p.Remote,
			ToDevices:         []domain.UID{p.Device},
			AllowUnconfirmed:  true,
			PartOfFullRatchet: true,
		},
	})
}

// from checks that msg travelled on the channel of p.
func from(msg engine.Message, p peer) error {
	if msg.Channel.RemoteIdentity != p.Remote || msg.Channel.RemoteDevice != p.Device {
		return ErrWrongPeer
	}
	return nil
}

func (r runner) start(_ context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	in, err := protocol.Inputs(msg, 2)
	if err != nil {
		return nil, err
	}
	f := protocol.FieldsOf(in)
	p := peer{Remote: f.Identity(), Device: f.UID()}
	if err := f.Err(); err != nil {
		return nil, err
	}
	var counter int64
	switch st := s.(type) {
	case AliceWaitingForK1:
		counter = st.Counter + 1
	case AliceWaitingForAck:
		counter = st.Counter + 1
	}
	eph, err := crypto.GenerateKEMKeyPair(r.Suite.Curve, sc.PRNG)
	if err != nil {
		return nil, err
	}
	send(sc, p, MsgAliceEphemeralKey, eph.Public.Encode(), codec.Int(counter))
	sc.Log.Debug("full ratchet started", zap.String("device", p.Device.Short()), zap.Int64("restart", counter))
	return AliceWaitingForK1{peer: p, Ephemeral: eph, Counter: counter}, nil
}

func (r runner) sendK1(_ context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	in, err := protocol.Inputs(msg, 2)
	if err != nil {
		return nil, err
	}
	alicePK, err := crypto.DecodePublicKey(in[0])
	if err != nil {
		return nil, err
	}
	counter, err := in[1].AsInt()
	if err != nil {
		return nil, err
	}
	p := peer{Remote: msg.Channel.RemoteIdentity, Device: msg.Channel.RemoteDevice}
	if st, ok := s.(BobWaitingForK2); ok {
		if err := from(msg, st.peer); err != nil {
			return nil, err
		}
		if counter <= st.Counter {
			return nil, fmt.Errorf("%w: got %d after %d", ErrStaleExchange, counter, st.Counter)
		}
	}
	if Instance(p.Device, r.Channels.ChannelID(p.Remote, p.Device).Local) != msg.Instance {
		return nil, ErrWrongPeer
	}
	ct1, k1, err := crypto.Encapsulate(alicePK, sc.PRNG)
	if err != nil {
		return nil, err
	}
	eph, err := crypto.GenerateKEMKeyPair(r.Suite.Curve, sc.PRNG)
	if err != nil {
		return nil, err
	}
	send(sc, p, MsgBobEphemeralKeyAndK1, codec.Bytes(ct1), eph.Public.Encode(), codec.Int(counter))
	return BobWaitingForK2{peer: p, K1: k1, Ephemeral: eph, Counter: counter}, nil
}

func (r runner) recoverK1(_ context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	st := s.(AliceWaitingForK1)
	if err := from(msg, st.peer); err != nil {
		return nil, err
	}
	in, err := protocol.Inputs(msg, 3)
	if err != nil {
		return nil, err
	}
	f := protocol.FieldsOf(in)
	ct1, bobKey, counter := f.Bytes(), f.Raw(), f.Int()
	if err := f.Err(); err != nil {
		return nil, err
	}
	if counter != st.Counter {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrStaleExchange, counter, st.Counter)
	}
	k1, err := crypto.Decapsulate(st.Ephemeral.Private, ct1)
	if err != nil {
		return nil, err
	}
	bobPK, err := crypto.DecodePublicKey(bobKey)
	if err != nil {
		return nil, err
	}
	ct2, k2, err := crypto.Encapsulate(bobPK, sc.PRNG)
	if err != nil {
		return nil, err
	}
	send(sc, st.peer, MsgAliceK2, codec.Bytes(ct2), codec.Int(counter))
	return AliceWaitingForAck{peer: st.peer, Seed: seed(k1, k2), Counter: counter}, nil
}

func (r runner) createProvision(ctx context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	st := s.(BobWaitingForK2)
	if err := from(msg, st.peer); err != nil {
		return nil, err
	}
	in, err := protocol.Inputs(msg, 2)
	if err != nil {
		return nil, err
	}
	f := protocol.FieldsOf(in)
	ct2, counter := f.Bytes(), f.Int()
	if err := f.Err(); err != nil {
		return nil, err
	}
	if counter != st.Counter {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrStaleExchange, counter, st.Counter)
	}
	k2, err := crypto.Decapsulate(st.Ephemeral.Private, ct2)
	if err != nil {
		return nil, err
	}
	if err := r.Channels.CreateProvision(ctx, r.Channels.ChannelID(st.Remote, st.Device), seed(st.K1, k2)); err != nil {
		return nil, err
	}
	send(sc, st.peer, MsgBobAck, codec.Int(counter))
	return FullRatchetDone{peer: st.peer}, nil
}

func (r runner) finish(ctx context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	st := s.(AliceWaitingForAck)
	if err := from(msg, st.peer); err != nil {
		return nil, err
	}
	in, err := protocol.Inputs(msg, 1)
	if err != nil {
		return nil, err
	}
	counter, err := in[0].AsInt()
	if err != nil {
		return nil, err
	}
	if counter != st.Counter {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrStaleExchange, counter, st.Counter)
	}
	if err := r.Channels.UpdateSendSeed(ctx, r.Channels.ChannelID(st.Remote, st.Device), st.Seed); err != nil {
		return nil, err
	}
	sc.Notify(domain.EventFullRatchetDone, st.Remote, st.Device.String())
	return FullRatchetDone{peer: st.peer}, nil
}

func seed(k1, k2 crypto.AEADKey) crypto.Seed {
	return crypto.SeedFromKeys(labelSeed, k1.Encode().Raw(), k2.Encode().Raw())
}
