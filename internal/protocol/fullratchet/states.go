package fullratchet

import (
	"trustline/internal/codec"
	"trustline/internal/crypto"
	"trustline/internal/domain"
	"trustline/internal/protocol"
	"trustline/internal/protocol/engine"
)

type initialState struct{}

func (initialState) ID() engine.StateID    { return engine.StateInitial }
func (initialState) Encode() codec.Encoded { return protocol.Empty() }

// peer is the remote end of the channel.
type peer struct {
	Remote domain.Identity
	Device domain.UID
}

func (p peer) fields(extra ...codec.Encoded) codec.Encoded {
	return codec.List(append([]codec.Encoded{protocol.EncodeIdentity(p.Remote), protocol.EncodeUID(p.Device)}, extra...)...)
}

func readPeer(f *protocol.Fields) peer { return peer{Remote: f.Identity(), Device: f.UID()} }

// AliceWaitingForK1 holds Alice's ephemeral key until Bob answers.
type AliceWaitingForK1 struct {
	peer
	Ephemeral crypto.KeyPair
	Counter   int64
}

func (AliceWaitingForK1) ID() engine.StateID { return StateAliceWaitingForK1 }

func (s AliceWaitingForK1) Encode() codec.Encoded {
	return s.fields(crypto.EncodeKeyPair(s.Ephemeral), codec.Int(s.Counter))
}

func decodeAliceWaitingForK1(e codec.Encoded) (engine.State, error) {
	f := protocol.ReadFields(e, 4)
	p := readPeer(f)
	raw, counter := f.Raw(), f.Int()
	if err := f.Err(); err != nil {
		return nil, err
	}
	kp, err := crypto.DecodeKeyPair(raw)
	return AliceWaitingForK1{peer: p, Ephemeral: kp, Counter: counter}, err
}

// AliceWaitingForAck holds the new send seed until Bob installed it.
type AliceWaitingForAck struct {
	peer
	Seed    crypto.Seed
	Counter int64
}

func (AliceWaitingForAck) ID() engine.StateID { return StateAliceWaitingForAck }

func (s AliceWaitingForAck) Encode() codec.Encoded {
	return s.fields(codec.Bytes(s.Seed), codec.Int(s.Counter))
}

func decodeAliceWaitingForAck(e codec.Encoded) (engine.State, error) {
	f := protocol.ReadFields(e, 4)
	s := AliceWaitingForAck{peer: readPeer(f), Seed: f.Bytes(), Counter: f.Int()}
	return s, f.Err()
}

// BobWaitingForK2 holds k1 and Bob's ephemeral key.
type BobWaitingForK2 struct {
	peer
	K1        crypto.AEADKey
	Ephemeral crypto.KeyPair
	Counter   int64
}

func (BobWaitingForK2) ID() engine.StateID { return StateBobWaitingForK2 }

func (s BobWaitingForK2) Encode() codec.Encoded {
	return s.fields(s.K1.Encode(), crypto.EncodeKeyPair(s.Ephemeral), codec.Int(s.Counter))
}

func decodeBobWaitingForK2(e codec.Encoded) (engine.State, error) {
	f := protocol.ReadFields(e, 5)
	p := readPeer(f)
	rawK1, rawEph, counter := f.Raw(), f.Raw(), f.Int()
	if err := f.Err(); err != nil {
		return nil, err
	}
	k1, err := crypto.DecodeAEADKey(rawK1)
	if err != nil {
		return nil, err
	}
	kp, err := crypto.DecodeKeyPair(rawEph)
	return BobWaitingForK2{peer: p, K1: k1, Ephemeral: kp, Counter: counter}, err
}

// FullRatchetDone is the final state of both sides.
type FullRatchetDone struct{ peer }

func (FullRatchetDone) ID() engine.StateID      { return StateFullRatchetDone }
func (s FullRatchetDone) Encode() codec.Encoded { return s.fields() }
