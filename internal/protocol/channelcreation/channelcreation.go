// Package channelcreation establishes a ratcheting channel between this
// device and one device of a contact, or another device of the owned
// identity. Both sides contribute an ephemeral KEM key; every message of
// the exchange is signed by the sender identity so the asymmetric
// transport needs no further authentication.
package channelcreation

import (
	"bytes"
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
	MsgPing
	MsgK1
	MsgK2
	MsgAck
)

// States.
const (
	StateWaitingForK1 engine.StateID = iota + 1
	StateWaitingForK2
	StateWaitingForAck
	StateChannelCreated
)

const (
	labelPing = "trustline channel ping"
	labelK1   = "trustline channel k1"
	labelK2   = "trustline channel k2"
	labelSeed = "trustline channel seed"
)

// ErrNotAContact is returned when the peer is unknown to the owned identity.
var ErrNotAContact = errors.New("channelcreation: peer is not a contact")

// Channels is the part of the channel manager the protocol drives.
type Channels interface {
	ChannelID(remote domain.Identity, device domain.UID) channel.ID
	CreateChannel(ctx context.Context, id channel.ID, sendSeed, recvSeed crypto.Seed) error
}

// Deps are the collaborators of the protocol.
type Deps struct {
	Account  domain.Account
	Contacts domain.ContactStore
	Channels Channels
	Suite    crypto.Suite
}

// Instance returns the instance UID for the pair of devices. Both sides
// compute the same value.
func Instance(a, b domain.UID) domain.UID {
	return protocol.PairInstance("trustline channel creation", a, b, false)
}

// Start queues the local message that opens a channel to device of
// contact, if this side is the initiator of the pair. It reports whether
// anything was queued.
func Start(sc *engine.StepContext, local domain.UID, contact domain.Identity, device domain.UID) bool {
	if !protocol.Initiates(sc.Owned, local, contact, device) {
		return false
	}
	sc.PostLocal(protocol.ChannelCreation, Instance(local, device), MsgInitial,
		protocol.EncodeIdentity(contact), protocol.EncodeUID(device))
	return true
}

// InitialMessage is the local message Start would queue, for callers
// outside a step.
func InitialMessage(owned domain.Identity, local domain.UID, contact domain.Identity, device domain.UID) engine.Message {
	return engine.Message{
		Protocol: protocol.ChannelCreation,
		Instance: Instance(local, device),
		Owned:    owned,
		ID:       MsgInitial,
		Inputs:   []codec.Encoded{protocol.EncodeIdentity(contact), protocol.EncodeUID(device)},
		Channel:  domain.ReceptionChannel{Kind: domain.ChannelLocal},
	}
}

type initialState struct{}

func (initialState) ID() engine.StateID    { return engine.StateInitial }
func (initialState) Encode() codec.Encoded { return protocol.Empty() }

// peer identifies the remote end of the channel being created.
type peer struct {
	Contact domain.Identity
	Device  domain.UID
}

func (p peer) encode(extra ...codec.Encoded) codec.Encoded {
	items := append([]codec.Encoded{protocol.EncodeIdentity(p.Contact), protocol.EncodeUID(p.Device)}, extra...)
	return codec.List(items...)
}

func decodePeer(e codec.Encoded, n int) (peer, []codec.Encoded, error) {
	items, err := e.ListOf(2 + n)
	if err != nil {
		return peer{}, nil, err
	}
	id, err := protocol.DecodeIdentity(items[0])
	if err != nil {
		return peer{}, nil, err
	}
	dev, err := protocol.DecodeUID(items[1])
	if err != nil {
		return peer{}, nil, err
	}
	return peer{Contact: id, Device: dev}, items[2:], nil
}

// WaitingForK1 is Alice's state after the ping.
type WaitingForK1 struct {
	peer
	Ephemeral crypto.KeyPair
}

func (WaitingForK1) ID() engine.StateID      { return StateWaitingForK1 }
func (s WaitingForK1) Encode() codec.Encoded { return s.encode(crypto.EncodeKeyPair(s.Ephemeral)) }

// WaitingForK2 is Bob's state after answering the ping.
type WaitingForK2 struct {
	peer
	K1        crypto.AEADKey
	Ephemeral crypto.KeyPair
}

func (WaitingForK2) ID() engine.StateID { return StateWaitingForK2 }

func (s WaitingForK2) Encode() codec.Encoded {
	return s.encode(s.K1.Encode(), crypto.EncodeKeyPair(s.Ephemeral))
}

// WaitingForAck is Alice's state once her channel exists.
type WaitingForAck struct{ peer }

func (WaitingForAck) ID() engine.StateID      { return StateWaitingForAck }
func (s WaitingForAck) Encode() codec.Encoded { return s.encode() }

// ChannelCreated is the final state of both sides.
type ChannelCreated struct{ peer }

func (ChannelCreated) ID() engine.StateID      { return StateChannelCreated }
func (s ChannelCreated) Encode() codec.Encoded { return s.encode() }

func decodeStates() map[engine.StateID]engine.StateDecoder {
	return map[engine.StateID]engine.StateDecoder{
		StateWaitingForK1: func(e codec.Encoded) (engine.State, error) {
			p, rest, err := decodePeer(e, 1)
			if err != nil {
				return nil, err
			}
			kp, err := crypto.DecodeKeyPair(rest[0])
			return WaitingForK1{peer: p, Ephemeral: kp}, err
		},
		StateWaitingForK2: func(e codec.Encoded) (engine.State, error) {
			p, rest, err := decodePeer(e, 2)
			if err != nil {
				return nil, err
			}
			k1, err := crypto.DecodeAEADKey(rest[0])
			if err != nil {
				return nil, err
			}
			kp, err := crypto.DecodeKeyPair(rest[1])
			return WaitingForK2{peer: p, K1: k1, Ephemeral: kp}, err
		},
		StateWaitingForAck: func(e codec.Encoded) (engine.State, error) {
			p, _, err := decodePeer(e, 0)
			return WaitingForAck{peer: p}, err
		},
	}
}

// New returns the channel creation protocol.
func New(d Deps) *engine.Definition {
	r := runner{Deps: d}
	return &engine.Definition{
		ID:          protocol.ChannelCreation,
		Name:        "channel-creation",
		Initial:     initialState{},
		States:      decodeStates(),
		FinalStates: []engine.StateID{StateChannelCreated},
		Steps: []engine.Step{
			{Name: "send-ping", From: engine.StateInitial, On: MsgInitial, Channel: domain.LocalOnly, Run: r.sendPing},
			{Name: "answer-ping", From: engine.StateInitial, On: MsgPing, Channel: domain.AsymmetricOnly, Run: r.answerPing},
			{Name: "answer-repeated-ping", From: StateWaitingForK2, On: MsgPing, Channel: domain.AsymmetricOnly, Run: r.answerPing},
			{Name: "process-k1", From: StateWaitingForK1, On: MsgK1, Channel: domain.AsymmetricOnly, Run: r.processK1},
			{Name: "process-k2", From: StateWaitingForK2, On: MsgK2, Channel: domain.AsymmetricOnly, Run: r.processK2},
			{Name: "process-ack", From: StateWaitingForAck, On: MsgAck, Channel: domain.RatchetingOnly, Run: r.processAck},
		},
	}
}

type runner struct{ Deps }

// signed is the common header of the signed asymmetric messages.
type signed struct {
	from    peer
	payload []codec.Encoded
	sig     []byte
}

func (r runner) signingBytes(label string, instance domain.UID, to peer, from domain.UID, payload ...[]byte) []byte {
	var b bytes.Buffer
	b.WriteString(label)
	for _, p := range payload {
		b.Write(p)
	}
	b.Write(to.Contact[:])
	b.Write(to.Device[:])
	b.Write(from[:])
	b.Write(instance[:])
	return b.Bytes()
}

func (r runner) post(sc *engine.StepContext, to peer, id engine.MessageID, label string, payload ...codec.Encoded) error {
	raws := make([][]byte, 0, len(payload))
	for _, p := range payload {
		raws = append(raws, p.Raw())
	}
	sig, err := crypto.Sign(r.Account.Identity.Sign, r.signingBytes(label, sc.Instance, to, r.Account.Device, raws...), sc.PRNG)
	if err != nil {
		return err
	}
	inputs := []codec.Encoded{protocol.EncodeIdentity(sc.Owned), protocol.EncodeUID(r.Account.Device)}
	inputs = append(inputs, payload...)
	inputs = append(inputs, codec.Bytes(sig))
	sc.Post(engine.OutboundMessage{
		ID:     id,
		Inputs: inputs,
		Channel: domain.SendChannel{
			Kind:       domain.ChannelAsymmetric,
			ToIdentity: to.Contact,
			ToDevices:  []domain.UID{to.Device},
		},
	})
	return nil
}

// verify parses a signed message with n payload items and checks its
// signature against the claimed sender identity.
func (r runner) verify(ctx context.Context, msg engine.Message, label string, n int) (signed, error) {
	in, err := protocol.Inputs(msg, 3+n)
	if err != nil {
		return signed{}, err
	}
	from, err := protocol.DecodeIdentity(in[0])
	if err != nil {
		return signed{}, err
	}
	dev, err := protocol.DecodeUID(in[1])
	if err != nil {
		return signed{}, err
	}
	sig, err := in[2+n].AsBytes()
	if err != nil {
		return signed{}, err
	}
	pub, err := from.Public()
	if err != nil {
		return signed{}, err
	}
	raws := make([][]byte, 0, n)
	for _, p := range in[2 : 2+n] {
		raws = append(raws, p.Raw())
	}
	self := peer{Contact: msg.Owned, Device: r.Account.Device}
	if err := crypto.Verify(pub.Sign, r.signingBytes(label, msg.Instance, self, dev, raws...), sig); err != nil {
		return signed{}, err
	}
	known, err := protocol.KnownPeer(ctx, r.Contacts, msg.Owned, from)
	if err != nil {
		return signed{}, err
	}
	if !known {
		return signed{}, fmt.Errorf("%w: %s", ErrNotAContact, from)
	}
	if from == msg.Owned && dev == r.Account.Device {
		return signed{}, fmt.Errorf("channelcreation: message from this device")
	}
	return signed{from: peer{Contact: from, Device: dev}, payload: in[2 : 2+n], sig: sig}, nil
}

func (r runner) seeds(local, remote domain.UID, k1, k2 crypto.AEADKey) (send, recv crypto.Seed) {
	a, b := k1.Encode().Raw(), k2.Encode().Raw()
	send = crypto.SeedFromKeys(labelSeed, a, b, local[:], remote[:])
	recv = crypto.SeedFromKeys(labelSeed, a, b, remote[:], local[:])
	return send, recv
}

func (r runner) sendPing(ctx context.Context, sc *engine.StepContext, _ engine.State, msg engine.Message) (engine.State, error) {
	in, err := protocol.Inputs(msg, 2)
	if err != nil {
		return nil, err
	}
	contact, err := protocol.DecodeIdentity(in[0])
	if err != nil {
		return nil, err
	}
	dev, err := protocol.DecodeUID(in[1])
	if err != nil {
		return nil, err
	}
	known, err := protocol.KnownPeer(ctx, r.Contacts, sc.Owned, contact)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrNotAContact, contact)
	}
	eph, err := crypto.GenerateKEMKeyPair(r.Suite.Curve, sc.PRNG)
	if err != nil {
		return nil, err
	}
	to := peer{Contact: contact, Device: dev}
	if err := r.post(sc, to, MsgPing, labelPing, eph.Public.Encode()); err != nil {
		return nil, err
	}
	sc.Log.Debug("channel creation started", zap.Stringer("contact", contact), zap.String("device", dev.Short()))
	return WaitingForK1{peer: to, Ephemeral: eph}, nil
}

func (r runner) answerPing(ctx context.Context, sc *engine.StepContext, _ engine.State, msg engine.Message) (engine.State, error) {
	m, err := r.verify(ctx, msg, labelPing, 1)
	if err != nil {
		return nil, err
	}
	alicePK, err := crypto.DecodePublicKey(m.payload[0])
	if err != nil {
		return nil, err
	}
	ct1, k1, err := crypto.Encapsulate(alicePK, sc.PRNG)
	if err != nil {
		return nil, err
	}
	eph, err := crypto.GenerateKEMKeyPair(r.Suite.Curve, sc.PRNG)
	if err != nil {
		return nil, err
	}
	if err := r.post(sc, m.from, MsgK1, labelK1, codec.Bytes(ct1), eph.Public.Encode()); err != nil {
		return nil, err
	}
	return WaitingForK2{peer: m.from, K1: k1, Ephemeral: eph}, nil
}

func (r runner) processK1(ctx context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	st := s.(WaitingForK1)
	m, err := r.verify(ctx, msg, labelK1, 2)
	if err != nil {
		return nil, err
	}
	if m.from != st.peer {
		return nil, fmt.Errorf("channelcreation: k1 from unexpected device %s", m.from.Device.Short())
	}
	ct1, err := m.payload[0].AsBytes()
	if err != nil {
		return nil, err
	}
	k1, err := crypto.Decapsulate(st.Ephemeral.Private, ct1)
	if err != nil {
		return nil, err
	}
	bobPK, err := crypto.DecodePublicKey(m.payload[1])
	if err != nil {
		return nil, err
	}
	ct2, k2, err := crypto.Encapsulate(bobPK, sc.PRNG)
	if err != nil {
		return nil, err
	}
	send, recv := r.seeds(r.Account.Device, st.Device, k1, k2)
	if err := r.Channels.CreateChannel(ctx, r.Channels.ChannelID(st.Contact, st.Device), send, recv); err != nil {
		return nil, err
	}
	if err := r.post(sc, st.peer, MsgK2, labelK2, codec.Bytes(ct2)); err != nil {
		return nil, err
	}
	return WaitingForAck{peer: st.peer}, nil
}

func (r runner) processK2(ctx context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	st := s.(WaitingForK2)
	m, err := r.verify(ctx, msg, labelK2, 1)
	if err != nil {
		return nil, err
	}
	if m.from != st.peer {
		return nil, fmt.Errorf("channelcreation: k2 from unexpected device %s", m.from.Device.Short())
	}
	ct2, err := m.payload[0].AsBytes()
	if err != nil {
		return nil, err
	}
	k2, err := crypto.Decapsulate(st.Ephemeral.Private, ct2)
	if err != nil {
		return nil, err
	}
	send, recv := r.seeds(r.Account.Device, st.Device, st.K1, k2)
	if err := r.Channels.CreateChannel(ctx, r.Channels.ChannelID(st.Contact, st.Device), send, recv); err != nil {
		return nil, err
	}
	sc.Post(engine.OutboundMessage{
		ID: MsgAck,
		Channel: domain.SendChannel{
			Kind:             domain.ChannelRatcheting,
			ToIdentity:       st.Contact,
			ToDevices:        []domain.UID{st.Device},
			AllowUnconfirmed: true,
		},
	})
	sc.Notify(domain.EventChannelCreated, st.Contact, st.Device.String())
	return ChannelCreated{peer: st.peer}, nil
}

func (r runner) processAck(_ context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	st := s.(WaitingForAck)
	if msg.Channel.RemoteIdentity != st.Contact || msg.Channel.RemoteDevice != st.Device {
		return nil, fmt.Errorf("channelcreation: ack from unexpected device %s", msg.Channel.RemoteDevice.Short())
	}
	sc.Notify(domain.EventChannelCreated, st.Contact, st.Device.String())
	return ChannelCreated{peer: st.peer}, nil
}
