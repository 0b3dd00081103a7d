// Package trust implements trust establishment between two identities by
// comparing short authentication strings out of band.
//
// Alice commits to a random seed and sends the commitment; Bob answers
// with his own seed; Alice then opens her commitment. Each side displays
// a SAS derived from both seeds and the user types the SAS shown on the
// other device. Once both sides have checked the SAS they add each other
// as contacts with a direct trust origin.
package trust

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trustline/internal/codec"
	"trustline/internal/crypto"
	"trustline/internal/domain"
	"trustline/internal/protocol"
	"trustline/internal/protocol/channelcreation"
	"trustline/internal/protocol/engine"
)

// Messages.
const (
	MsgInitial engine.MessageID = iota
	MsgAliceSendsCommitment
	MsgInvitationConfirmation
	MsgBobSendsSeed
	MsgAliceSendsDecommitment
	MsgSASEntered
	MsgMutualTrustConfirmation
)

// States.
const (
	StateWaitingForSeed engine.StateID = iota + 1
	StateWaitingForConfirmation
	StateWaitingForDecommitment
	StateWaitingForUserSAS
	StateContactSASChecked
	StateMutualTrustConfirmed
	StateCancelled
)

var (
	// ErrSelfInvitation is returned for an invitation to or from the owned
	// identity.
	ErrSelfInvitation = errors.New("trust: cannot invite the owned identity")
	// ErrWrongSender is returned when a message claims a different
	// identity than the one the instance is talking to.
	ErrWrongSender = errors.New("trust: message from unexpected identity")
)

// Deps are the collaborators of the protocol.
type Deps struct {
	Account     domain.Account
	Contacts    domain.ContactStore
	DisplayName string
}

// New returns the trust establishment protocol.
func New(d Deps) *engine.Definition {
	r := runner{Deps: d}
	return &engine.Definition{
		ID:      protocol.TrustEstablishment,
		Name:    "trust-establishment",
		Initial: initialState{},
		States: map[engine.StateID]engine.StateDecoder{
			StateWaitingForSeed:         decodeWaitingForSeed,
			StateWaitingForConfirmation: decodeWaitingForConfirmation,
			StateWaitingForDecommitment: decodeWaitingForDecommitment,
			StateWaitingForUserSAS:      decodeWaitingForUserSAS,
			StateContactSASChecked:      decodeContactSASChecked,
		},
		FinalStates: []engine.StateID{StateMutualTrustConfirmed, StateCancelled},
		Steps: []engine.Step{
			{Name: "send-commitment", From: engine.StateInitial, On: MsgInitial, Channel: domain.LocalOnly, Run: r.sendCommitment},
			{Name: "store-commitment", From: engine.StateInitial, On: MsgAliceSendsCommitment, Channel: domain.AsymmetricOnly, Run: r.storeCommitment},
			{Name: "confirm-invitation", From: StateWaitingForConfirmation, On: MsgInvitationConfirmation, Channel: domain.LocalOnly, Run: r.confirm},
			{Name: "send-decommitment", From: StateWaitingForSeed, On: MsgBobSendsSeed, Channel: domain.AsymmetricOnly, Run: r.sendDecommitment},
			{Name: "open-commitment", From: StateWaitingForDecommitment, On: MsgAliceSendsDecommitment, Channel: domain.AsymmetricOnly, Run: r.openCommitment},
			{Name: "check-sas", From: StateWaitingForUserSAS, On: MsgSASEntered, Channel: domain.LocalOnly, Run: r.checkSAS},
			{Name: "early-confirmation", From: StateWaitingForUserSAS, On: MsgMutualTrustConfirmation, Channel: domain.AsymmetricOnly, Run: r.earlyConfirmation},
			{Name: "mutual-confirmation", From: StateContactSASChecked, On: MsgMutualTrustConfirmation, Channel: domain.AsymmetricOnly, Run: r.mutualConfirmation},
		},
	}
}

// StartMessage is the local message that invites contact.
func StartMessage(owned domain.Identity, instance domain.UID, contact domain.Identity) engine.Message {
	return local(owned, instance, MsgInitial, protocol.EncodeIdentity(contact))
}

// ConfirmMessage accepts or declines a received invitation.
func ConfirmMessage(owned domain.Identity, instance domain.UID, accept bool) engine.Message {
	return local(owned, instance, MsgInvitationConfirmation, codec.Bool(accept))
}

// SASMessage submits the SAS the user read on the other device.
func SASMessage(owned domain.Identity, instance domain.UID, sas string) engine.Message {
	return local(owned, instance, MsgSASEntered, codec.String(sas))
}

func local(owned domain.Identity, instance domain.UID, id engine.MessageID, inputs ...codec.Encoded) engine.Message {
	return engine.Message{
		Protocol: protocol.TrustEstablishment,
		Instance: instance,
		Owned:    owned,
		ID:       id,
		Inputs:   inputs,
		Channel:  domain.ReceptionChannel{Kind: domain.ChannelLocal},
	}
}

type runner struct{ Deps }

// ownDevices lists every device of the owned identity, this one first.
func (r runner) ownDevices(ctx context.Context, owned domain.Identity) ([]domain.UID, error) {
	others, err := r.Contacts.OwnedDevices(ctx, owned)
	if err != nil {
		return nil, err
	}
	devs, _ := protocol.AddDevices([]domain.UID{r.Account.Device}, others...)
	return devs, nil
}

func send(sc *engine.StepContext, to domain.Identity, devices []domain.UID, id engine.MessageID, inputs ...codec.Encoded) {
	sc.Post(engine.OutboundMessage{
		ID:     id,
		Inputs: inputs,
		Channel: domain.SendChannel{
			Kind:       domain.ChannelAsymmetric,
			ToIdentity: to,
			ToDevices:  devices,
		},
	})
}

func (r runner) sendCommitment(ctx context.Context, sc *engine.StepContext, _ engine.State, msg engine.Message) (engine.State, error) {
	in, err := protocol.Inputs(msg, 1)
	if err != nil {
		return nil, err
	}
	contact, err := protocol.DecodeIdentity(in[0])
	if err != nil {
		return nil, err
	}
	if contact == sc.Owned {
		return nil, ErrSelfInvitation
	}
	devices, err := r.ownDevices(ctx, sc.Owned)
	if err != nil {
		return nil, err
	}
	seed := crypto.NewSeed(sc.PRNG)
	commitment, decommitment := crypto.Commit(sc.Owned[:], seed, sc.PRNG)
	// No device list: the relay delivers to every device of the contact.
	send(sc, contact, nil, MsgAliceSendsCommitment,
		protocol.EncodeIdentity(sc.Owned),
		codec.String(r.DisplayName),
		protocol.EncodeUIDs(devices),
		codec.Bytes(commitment))
	sc.Notify(domain.EventInviteSent, contact, "")
	return WaitingForSeed{
		Contact:      contact,
		Seed:         seed,
		Decommitment: decommitment,
	}, nil
}

func (r runner) storeCommitment(_ context.Context, sc *engine.StepContext, _ engine.State, msg engine.Message) (engine.State, error) {
	in, err := protocol.Inputs(msg, 4)
	if err != nil {
		return nil, err
	}
	f := protocol.FieldsOf(in)
	st := WaitingForConfirmation{peerInfo: readPeer(f), Commitment: f.Bytes()}
	if err := f.Err(); err != nil {
		return nil, err
	}
	if st.Contact == sc.Owned {
		return nil, ErrSelfInvitation
	}
	sc.Notify(domain.EventInviteReceived, st.Contact, st.Name)
	return st, nil
}

func (r runner) confirm(ctx context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	st := s.(WaitingForConfirmation)
	in, err := protocol.Inputs(msg, 1)
	if err != nil {
		return nil, err
	}
	accept, err := in[0].AsBool()
	if err != nil {
		return nil, err
	}
	if !accept {
		sc.Log.Info("invitation declined", zap.Stringer("contact", st.Contact))
		return Cancelled{}, nil
	}
	devices, err := r.ownDevices(ctx, sc.Owned)
	if err != nil {
		return nil, err
	}
	seed := crypto.NewSeed(sc.PRNG)
	send(sc, st.Contact, st.Devices, MsgBobSendsSeed,
		protocol.EncodeIdentity(sc.Owned),
		codec.String(r.DisplayName),
		protocol.EncodeUIDs(devices),
		codec.Bytes(seed))
	return WaitingForDecommitment{peerInfo: st.peerInfo, Commitment: st.Commitment, Seed: seed}, nil
}

func (r runner) sendDecommitment(_ context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	st := s.(WaitingForSeed)
	in, err := protocol.Inputs(msg, 4)
	if err != nil {
		return nil, err
	}
	f := protocol.FieldsOf(in)
	p, peerSeed := readPeer(f), f.Bytes()
	if err := f.Err(); err != nil {
		return nil, err
	}
	if p.Contact != st.Contact {
		return nil, ErrWrongSender
	}
	if _, err := crypto.ParseSeed(peerSeed); err != nil {
		return nil, err
	}
	send(sc, st.Contact, p.Devices, MsgAliceSendsDecommitment, codec.Bytes(st.Decommitment))
	return r.showSAS(sc, p, st.Seed, peerSeed), nil
}

func (r runner) openCommitment(_ context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	st := s.(WaitingForDecommitment)
	in, err := protocol.Inputs(msg, 1)
	if err != nil {
		return nil, err
	}
	decommitment, err := in[0].AsBytes()
	if err != nil {
		return nil, err
	}
	peerSeed, err := crypto.OpenCommitment(st.Contact[:], st.Commitment, decommitment)
	if err != nil {
		return nil, err
	}
	return r.showSAS(sc, st.peerInfo, st.Seed, peerSeed), nil
}

func (r runner) showSAS(sc *engine.StepContext, p peerInfo, seed, peerSeed []byte) WaitingForUserSAS {
	sc.Notify(domain.EventSASReady, p.Contact, crypto.SAS(seed, peerSeed))
	return WaitingForUserSAS{peerInfo: p, Seed: seed, PeerSeed: peerSeed}
}

func (r runner) checkSAS(ctx context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	st := s.(WaitingForUserSAS)
	in, err := protocol.Inputs(msg, 1)
	if err != nil {
		return nil, err
	}
	entered, err := in[0].AsString()
	if err != nil {
		return nil, err
	}
	if !crypto.CheckSAS(entered, crypto.SAS(st.PeerSeed, st.Seed)) {
		st.BadAttempts++
		sc.Log.Info("wrong sas entered", zap.Stringer("contact", st.Contact), zap.Int("attempts", st.BadAttempts))
		sc.Notify(domain.EventSASMismatch, st.Contact, fmt.Sprint(st.BadAttempts))
		return st, nil
	}

	if err := r.addContact(ctx, sc, st.peerInfo); err != nil {
		return nil, err
	}
	devices, err := r.ownDevices(ctx, sc.Owned)
	if err != nil {
		return nil, err
	}
	send(sc, st.Contact, st.Devices, MsgMutualTrustConfirmation,
		protocol.EncodeIdentity(sc.Owned),
		protocol.EncodeUIDs(devices))
	if st.PeerConfirmed {
		r.startChannels(sc, st.peerInfo)
		return MutualTrustConfirmed{Contact: st.Contact}, nil
	}
	return ContactSASChecked{peerInfo: st.peerInfo}, nil
}

// readConfirmation parses a MutualTrustConfirmation and merges the device
// list it carries.
func readConfirmation(msg engine.Message, p peerInfo) (peerInfo, error) {
	in, err := protocol.Inputs(msg, 2)
	if err != nil {
		return p, err
	}
	f := protocol.FieldsOf(in)
	from, devices := f.Identity(), f.UIDs()
	if err := f.Err(); err != nil {
		return p, err
	}
	if from != p.Contact {
		return p, ErrWrongSender
	}
	p.Devices, _ = protocol.AddDevices(p.Devices, devices...)
	return p, nil
}

func (r runner) earlyConfirmation(_ context.Context, _ *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	st := s.(WaitingForUserSAS)
	p, err := readConfirmation(msg, st.peerInfo)
	if err != nil {
		return nil, err
	}
	st.peerInfo = p
	st.PeerConfirmed = true
	return st, nil
}

func (r runner) mutualConfirmation(ctx context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	st := s.(ContactSASChecked)
	p, err := readConfirmation(msg, st.peerInfo)
	if err != nil {
		return nil, err
	}
	if err := r.addContact(ctx, sc, p); err != nil {
		return nil, err
	}
	r.startChannels(sc, p)
	return MutualTrustConfirmed{Contact: st.Contact}, nil
}

// addContact creates the contact or adds a direct trust origin to it.
func (r runner) addContact(ctx context.Context, sc *engine.StepContext, p peerInfo) error {
	c, ok, err := r.Contacts.GetContact(ctx, sc.Owned, p.Contact)
	if err != nil {
		return err
	}
	if !ok {
		c = domain.Contact{
			Owned:       sc.Owned,
			Identity:    p.Contact,
			DisplayName: p.Name,
			Active:      true,
			CreatedAt:   sc.Now,
		}
	}
	if c.TrustLevel() < domain.TrustLevelDirect {
		c.AddTrustOrigin(domain.TrustOrigin{Kind: domain.TrustDirect, Timestamp: sc.Now})
	}
	c.Devices, _ = protocol.AddDevices(c.Devices, p.Devices...)
	if err := r.Contacts.SaveContact(ctx, c); err != nil {
		return err
	}
	if !ok {
		sc.Notify(domain.EventContactAdded, p.Contact, p.Name)
	}
	return nil
}

// startChannels opens channels to the devices of the new contact. It runs
// only once both sides hold each other as contacts.
func (r runner) startChannels(sc *engine.StepContext, p peerInfo) {
	for _, d := range p.Devices {
		channelcreation.Start(sc, r.Account.Device, p.Contact, d)
	}
}
