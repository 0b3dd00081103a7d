package trust

import (
	"trustline/internal/codec"
	"trustline/internal/domain"
	"trustline/internal/protocol"
	"trustline/internal/protocol/engine"
)

type initialState struct{}

func (initialState) ID() engine.StateID    { return engine.StateInitial }
func (initialState) Encode() codec.Encoded { return protocol.Empty() }

// peerInfo is what a side knows about the other identity.
type peerInfo struct {
	Contact domain.Identity
	Name    string
	Devices []domain.UID
}

func (p peerInfo) fields() []codec.Encoded {
	return []codec.Encoded{protocol.EncodeIdentity(p.Contact), codec.String(p.Name), protocol.EncodeUIDs(p.Devices)}
}

func readPeer(f *protocol.Fields) peerInfo {
	return peerInfo{Contact: f.Identity(), Name: f.Text(), Devices: f.UIDs()}
}

// WaitingForSeed is Alice's state after sending her commitment.
type WaitingForSeed struct {
	Contact      domain.Identity
	Seed         []byte
	Decommitment []byte
}

func (WaitingForSeed) ID() engine.StateID { return StateWaitingForSeed }

func (s WaitingForSeed) Encode() codec.Encoded {
	return codec.List(protocol.EncodeIdentity(s.Contact), codec.Bytes(s.Seed), codec.Bytes(s.Decommitment))
}

func decodeWaitingForSeed(e codec.Encoded) (engine.State, error) {
	f := protocol.ReadFields(e, 3)
	s := WaitingForSeed{Contact: f.Identity(), Seed: f.Bytes(), Decommitment: f.Bytes()}
	return s, f.Err()
}

// WaitingForConfirmation is Bob's state while the user decides on the
// invitation.
type WaitingForConfirmation struct {
	peerInfo
	Commitment []byte
}

func (WaitingForConfirmation) ID() engine.StateID { return StateWaitingForConfirmation }

func (s WaitingForConfirmation) Encode() codec.Encoded {
	return codec.List(append(s.fields(), codec.Bytes(s.Commitment))...)
}

func decodeWaitingForConfirmation(e codec.Encoded) (engine.State, error) {
	f := protocol.ReadFields(e, 4)
	s := WaitingForConfirmation{peerInfo: readPeer(f), Commitment: f.Bytes()}
	return s, f.Err()
}

// WaitingForDecommitment is Bob's state after sending his seed.
type WaitingForDecommitment struct {
	peerInfo
	Commitment []byte
	Seed       []byte
}

func (WaitingForDecommitment) ID() engine.StateID { return StateWaitingForDecommitment }

func (s WaitingForDecommitment) Encode() codec.Encoded {
	return codec.List(append(s.fields(), codec.Bytes(s.Commitment), codec.Bytes(s.Seed))...)
}

func decodeWaitingForDecommitment(e codec.Encoded) (engine.State, error) {
	f := protocol.ReadFields(e, 5)
	s := WaitingForDecommitment{peerInfo: readPeer(f), Commitment: f.Bytes(), Seed: f.Bytes()}
	return s, f.Err()
}

// WaitingForUserSAS waits for the user to type the SAS shown on the other
// device. PeerConfirmed is set when the other side finished first.
type WaitingForUserSAS struct {
	peerInfo
	Seed          []byte
	PeerSeed      []byte
	BadAttempts   int
	PeerConfirmed bool
}

func (WaitingForUserSAS) ID() engine.StateID { return StateWaitingForUserSAS }

func (s WaitingForUserSAS) Encode() codec.Encoded {
	return codec.List(append(s.fields(),
		codec.Bytes(s.Seed),
		codec.Bytes(s.PeerSeed),
		codec.Int(int64(s.BadAttempts)),
		codec.Bool(s.PeerConfirmed))...)
}

func decodeWaitingForUserSAS(e codec.Encoded) (engine.State, error) {
	f := protocol.ReadFields(e, 7)
	s := WaitingForUserSAS{
		peerInfo:      readPeer(f),
		Seed:          f.Bytes(),
		PeerSeed:      f.Bytes(),
		BadAttempts:   int(f.Int()),
		PeerConfirmed: f.Bool(),
	}
	return s, f.Err()
}

// ContactSASChecked waits for the other side's confirmation.
type ContactSASChecked struct {
	peerInfo
}

func (ContactSASChecked) ID() engine.StateID      { return StateContactSASChecked }
func (s ContactSASChecked) Encode() codec.Encoded { return codec.List(s.fields()...) }

func decodeContactSASChecked(e codec.Encoded) (engine.State, error) {
	f := protocol.ReadFields(e, 3)
	s := ContactSASChecked{peerInfo: readPeer(f)}
	return s, f.Err()
}

// MutualTrustConfirmed is the final state of a successful exchange.
type MutualTrustConfirmed struct {
	Contact domain.Identity
}

func (MutualTrustConfirmed) ID() engine.StateID      { return StateMutualTrustConfirmed }
func (s MutualTrustConfirmed) Encode() codec.Encoded { return codec.List(protocol.EncodeIdentity(s.Contact)) }

// Cancelled is the final state of a declined invitation.
type Cancelled struct{}

func (Cancelled) ID() engine.StateID    { return StateCancelled }
func (Cancelled) Encode() codec.Encoded { return protocol.Empty() }
