// Package keycloak adds contacts vouched for by an identity provider. Both
// users present details signed by the provider, so no SAS is needed; the
// invitee still asks the relay whether the requester was revoked.
package keycloak

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"trustline/internal/codec"
	"trustline/internal/domain"
	"trustline/internal/protocol"
	"trustline/internal/protocol/channelcreation"
	"trustline/internal/protocol/devicediscovery"
	"trustline/internal/protocol/engine"
)

// Messages.
const (
	MsgInitial engine.MessageID = iota
	MsgChildOutcome
	MsgPropagate
	MsgInvite
	MsgRevocationResponse
	MsgConfirmation
)

// States.
const (
	StateWaitingForDeviceDiscovery engine.StateID = iota + 1
	StateWaitingForConfirmation
	StateCheckingForRevocation
	StateFinished
)

// Deps are the collaborators of the protocol. SignedDetails is the
// owned identity's own token, sent along with invitations.
type Deps struct {
	Account       domain.Account
	Contacts      domain.ContactStore
	Verifier      *Verifier
	SignedDetails string
}

// StartMessage is the local message that adds contact from its signed
// details.
func StartMessage(owned domain.Identity, instance domain.UID, contact domain.Identity, signedDetails string) engine.Message {
	return engine.Message{
		Protocol: protocol.KeycloakContact,
		Instance: instance,
		Owned:    owned,
		ID:       MsgInitial,
		Inputs:   []codec.Encoded{protocol.EncodeIdentity(contact), codec.String(signedDetails)},
		Channel:  domain.ReceptionChannel{Kind: domain.ChannelLocal},
	}
}

// New returns the keycloak contact addition protocol.
func New(d Deps) *engine.Definition {
	r := runner{Deps: d}
	return &engine.Definition{
		ID:      protocol.KeycloakContact,
		Name:    "keycloak-contact",
		Initial: initialState{},
		States: map[engine.StateID]engine.StateDecoder{
			StateWaitingForDeviceDiscovery: decodeWaitingForDeviceDiscovery,
			StateWaitingForConfirmation:    decodeWaitingForConfirmation,
			StateCheckingForRevocation:     decodeCheckingForRevocation,
		},
		FinalStates: []engine.StateID{StateFinished},
		Steps: []engine.Step{
			{Name: "verify-and-discover", From: engine.StateInitial, On: MsgInitial, Channel: domain.LocalOnly, Run: r.start},
			{Name: "add-and-invite", From: StateWaitingForDeviceDiscovery, On: MsgChildOutcome, Channel: domain.LocalOnly, Run: r.addAndInvite},
			{Name: "process-confirmation", From: StateWaitingForConfirmation, On: MsgConfirmation, Channel: domain.AsymmetricOnly, Run: r.processConfirmation},
			{Name: "process-propagated", From: engine.StateInitial, On: MsgPropagate, Channel: domain.OwnedDeviceOnly, Run: r.processPropagated},
			{Name: "check-revocation", From: engine.StateInitial, On: MsgInvite, Channel: domain.AsymmetricOnly, Run: r.checkRevocation},
			{Name: "answer-invite", From: StateCheckingForRevocation, On: MsgRevocationResponse, Channel: domain.LocalOnly, Run: r.answerInvite},
		},
	}
}

type runner struct{ Deps }

func (r runner) ownDevices(ctx context.Context, owned domain.Identity) ([]domain.UID, error) {
	others, err := r.Contacts.OwnedDevices(ctx, owned)
	if err != nil {
		return nil, err
	}
	devs, _ := protocol.AddDevices([]domain.UID{r.Account.Device}, others...)
	return devs, nil
}

func sendAsymmetric(sc *engine.StepContext, to domain.Identity, devices []domain.UID, id engine.MessageID, inputs ...codec.Encoded) {
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

// confirm answers an invitation.
func (r runner) confirm(ctx context.Context, sc *engine.StepContext, p pending, accepted bool) error {
	devices, err := r.ownDevices(ctx, sc.Owned)
	if err != nil {
		return err
	}
	sendAsymmetric(sc, p.Contact, p.Devices, MsgConfirmation,
		protocol.EncodeIdentity(sc.Owned),
		protocol.EncodeUIDs(devices),
		codec.Bool(accepted))
	return nil
}

// addContact creates the contact or adds a keycloak origin to it. It
// reports whether the contact existed before.
func (r runner) addContact(ctx context.Context, sc *engine.StepContext, p pending) (bool, error) {
	c, existed, err := r.Contacts.GetContact(ctx, sc.Owned, p.Contact)
	if err != nil {
		return false, err
	}
	if !existed {
		c = domain.Contact{
			Owned:       sc.Owned,
			Identity:    p.Contact,
			DisplayName: p.Name,
			Active:      true,
			CreatedAt:   sc.Now,
		}
	}
	hasOrigin := slices.ContainsFunc(c.Origins, func(o domain.TrustOrigin) bool {
		return o.Kind == domain.TrustKeycloak && o.KeycloakServer == r.Verifier.Server()
	})
	if !hasOrigin {
		c.AddTrustOrigin(domain.TrustOrigin{Kind: domain.TrustKeycloak, Timestamp: sc.Now, KeycloakServer: r.Verifier.Server()})
	}
	c.Devices, _ = protocol.AddDevices(c.Devices, p.Devices...)
	if err := r.Contacts.SaveContact(ctx, c); err != nil {
		return false, err
	}
	if !existed {
		sc.Notify(domain.EventContactAdded, p.Contact, p.Name)
	}
	return existed, nil
}

func (r runner) start(_ context.Context, sc *engine.StepContext, _ engine.State, msg engine.Message) (engine.State, error) {
	in, err := protocol.Inputs(msg, 2)
	if err != nil {
		return nil, err
	}
	f := protocol.FieldsOf(in)
	contact, token := f.Identity(), f.Text()
	if err := f.Err(); err != nil {
		return nil, err
	}
	if contact == sc.Owned {
		return nil, ErrIdentityMismatch
	}
	claims, err := r.Verifier.VerifyFor(token, contact, sc.Now)
	if err != nil {
		return nil, err
	}
	if _, err := sc.StartChild(protocol.DeviceDiscoveryRemote, devicediscovery.MsgInitial,
		[]codec.Encoded{protocol.EncodeIdentity(contact)}, devicediscovery.StateDeviceUIDsReceived, MsgChildOutcome); err != nil {
		return nil, err
	}
	return WaitingForDeviceDiscovery{pending: pending{Contact: contact, Name: claims.DisplayName}, Token: token}, nil
}

func (r runner) addAndInvite(ctx context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	st := s.(WaitingForDeviceDiscovery)
	outcome, err := engine.ChildOutcomeFrom(msg)
	if err != nil {
		return nil, err
	}
	if outcome.Cancelled() {
		sc.Log.Info("device discovery ended early, contact not added", zap.Stringer("identity", st.Contact))
		return nil, engine.ErrCancelled
	}
	found, err := devicediscovery.DecodeDeviceUIDsReceived(outcome.Encoded)
	if err != nil {
		return nil, err
	}
	if found.Identity != st.Contact {
		return nil, ErrIdentityMismatch
	}
	p := st.pending
	p.Devices = found.Devices
	existed, err := r.addContact(ctx, sc, p)
	if err != nil {
		return nil, err
	}

	others, err := r.Contacts.OwnedDevices(ctx, sc.Owned)
	if err != nil {
		return nil, err
	}
	if len(others) > 0 {
		sc.Post(engine.OutboundMessage{
			ID: MsgPropagate,
			Inputs: []codec.Encoded{
				protocol.EncodeIdentity(p.Contact),
				codec.String(st.Token),
				protocol.EncodeUIDs(p.Devices),
			},
			Channel: domain.SendChannel{
				Kind:       domain.ChannelRatcheting,
				ToIdentity: sc.Owned,
				Fallback:   domain.ChannelPreKey,
			},
		})
	}

	if existed {
		sc.Log.Info("keycloak origin added to existing contact", zap.Stringer("contact", p.Contact))
		return Finished{}, nil
	}
	devices, err := r.ownDevices(ctx, sc.Owned)
	if err != nil {
		return nil, err
	}
	sendAsymmetric(sc, p.Contact, p.Devices, MsgInvite,
		protocol.EncodeIdentity(sc.Owned),
		protocol.EncodeUIDs(devices),
		codec.String(r.SignedDetails))
	sc.Notify(domain.EventInviteSent, p.Contact, p.Name)
	return WaitingForConfirmation{pending: p}, nil
}

func (r runner) processConfirmation(ctx context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	st := s.(WaitingForConfirmation)
	in, err := protocol.Inputs(msg, 3)
	if err != nil {
		return nil, err
	}
	f := protocol.FieldsOf(in)
	from, devices, accepted := f.Identity(), f.UIDs(), f.Bool()
	if err := f.Err(); err != nil {
		return nil, err
	}
	if from != st.Contact {
		return nil, ErrIdentityMismatch
	}
	c, ok, err := r.Contacts.GetContact(ctx, sc.Owned, st.Contact)
	if err != nil || !ok {
		return Finished{}, err
	}
	if !accepted {
		if c.OnlyKeycloakOrigins(r.Verifier.Server()) {
			if err := r.Contacts.DeleteContact(ctx, sc.Owned, st.Contact); err != nil {
				return nil, err
			}
			sc.Notify(domain.EventContactDeleted, st.Contact, "")
		}
		return Finished{}, nil
	}
	var changed bool
	c.Devices, changed = protocol.AddDevices(c.Devices, devices...)
	if changed {
		if err := r.Contacts.SaveContact(ctx, c); err != nil {
			return nil, err
		}
	}
	for _, d := range c.Devices {
		channelcreation.Start(sc, r.Account.Device, st.Contact, d)
	}
	return Finished{}, nil
}

func (r runner) processPropagated(ctx context.Context, sc *engine.StepContext, _ engine.State, msg engine.Message) (engine.State, error) {
	in, err := protocol.Inputs(msg, 3)
	if err != nil {
		return nil, err
	}
	f := protocol.FieldsOf(in)
	contact, token, devices := f.Identity(), f.Text(), f.UIDs()
	if err := f.Err(); err != nil {
		return nil, err
	}
	claims, err := r.Verifier.VerifyFor(token, contact, sc.Now)
	if err != nil {
		return nil, err
	}
	if _, err := r.addContact(ctx, sc, pending{Contact: contact, Name: claims.DisplayName, Devices: devices}); err != nil {
		return nil, err
	}
	return Finished{}, nil
}

func (r runner) checkRevocation(ctx context.Context, sc *engine.StepContext, _ engine.State, msg engine.Message) (engine.State, error) {
	in, err := protocol.Inputs(msg, 3)
	if err != nil {
		return nil, err
	}
	f := protocol.FieldsOf(in)
	p := pending{Contact: f.Identity(), Devices: f.UIDs()}
	token := f.Text()
	if err := f.Err(); err != nil {
		return nil, err
	}
	claims, err := r.Verifier.VerifyFor(token, p.Contact, sc.Now)
	if err != nil {
		sc.Log.Info("keycloak invitation rejected", zap.Stringer("from", p.Contact), zap.Error(err))
		if err := r.confirm(ctx, sc, p, false); err != nil {
			return nil, err
		}
		return Finished{}, nil
	}
	p.Name = claims.DisplayName
	sc.Query(engine.ServerQuery{
		Kind:     engine.QueryCheckRevocation,
		Args:     []codec.Encoded{protocol.EncodeIdentity(p.Contact)},
		Response: MsgRevocationResponse,
	})
	return CheckingForRevocation{pending: p}, nil
}

func (r runner) answerInvite(ctx context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	st := s.(CheckingForRevocation)
	in, err := protocol.Inputs(msg, 1)
	if err != nil {
		return nil, err
	}
	revoked, err := in[0].AsBool()
	if err != nil {
		return nil, err
	}
	if revoked {
		sc.Log.Warn("keycloak invitation from revoked identity", zap.Stringer("from", st.Contact))
		if err := r.confirm(ctx, sc, st.pending, false); err != nil {
			return nil, err
		}
		return Finished{}, nil
	}
	if _, err := r.addContact(ctx, sc, st.pending); err != nil {
		return nil, err
	}
	if err := r.confirm(ctx, sc, st.pending, true); err != nil {
		return nil, err
	}
	for _, d := range st.Devices {
		channelcreation.Start(sc, r.Account.Device, st.Contact, d)
	}
	return Finished{}, nil
}
