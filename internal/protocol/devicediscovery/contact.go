package devicediscovery

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"trustline/internal/channel"
	"trustline/internal/codec"
	"trustline/internal/domain"
	"trustline/internal/protocol"
	"trustline/internal/protocol/channelcreation"
	"trustline/internal/protocol/engine"
)

// Messages of the contact protocol.
const (
	MsgContactInitial engine.MessageID = 0
	MsgChildOutcome   engine.MessageID = 1
)

// States of the contact protocol.
const (
	StateWaitingForChild engine.StateID = 1
	StateChildProcessed  engine.StateID = 2
	StateCancelled       engine.StateID = 3
)

// Channels is the part of the channel manager the contact protocol needs
// to forget removed devices.
type Channels interface {
	ChannelID(remote domain.Identity, device domain.UID) channel.ID
	Delete(ctx context.Context, id channel.ID) error
}

// ContactDeps are the collaborators of the contact protocol.
type ContactDeps struct {
	Account  domain.Account
	Contacts domain.ContactStore
	Channels Channels
}

// WaitingForChild waits for the remote discovery of Contact.
type WaitingForChild struct {
	Contact domain.Identity
}

func (WaitingForChild) ID() engine.StateID { return StateWaitingForChild }

func (s WaitingForChild) Encode() codec.Encoded {
	return codec.List(protocol.EncodeIdentity(s.Contact))
}

// ChildProcessed is the final state once the device list is updated.
type ChildProcessed struct {
	Contact domain.Identity
	Added   []domain.UID
	Removed []domain.UID
}

func (ChildProcessed) ID() engine.StateID { return StateChildProcessed }

func (s ChildProcessed) Encode() codec.Encoded {
	return codec.List(protocol.EncodeIdentity(s.Contact), protocol.EncodeUIDs(s.Added), protocol.EncodeUIDs(s.Removed))
}

// Cancelled is the final state for identities that are not contacts and
// for discoveries whose remote query ended early.
type Cancelled struct{}

func (Cancelled) ID() engine.StateID    { return StateCancelled }
func (Cancelled) Encode() codec.Encoded { return protocol.Empty() }

// NewContact returns the device discovery protocol for a contact or the
// owned identity.
func NewContact(d ContactDeps) *engine.Definition {
	r := contactRunner{ContactDeps: d}
	return &engine.Definition{
		ID:      protocol.DeviceDiscoveryContact,
		Name:    "device-discovery-contact",
		Initial: initialState{},
		States: map[engine.StateID]engine.StateDecoder{
			StateWaitingForChild: func(e codec.Encoded) (engine.State, error) {
				items, err := e.ListOf(1)
				if err != nil {
					return nil, err
				}
				id, err := protocol.DecodeIdentity(items[0])
				return WaitingForChild{Contact: id}, err
			},
		},
		FinalStates: []engine.StateID{StateChildProcessed, StateCancelled},
		Steps: []engine.Step{
			{
				Name:    "start-remote-discovery",
				From:    engine.StateInitial,
				On:      MsgContactInitial,
				Channel: domain.LocalOnly,
				Run:     r.start,
			},
			{
				Name:    "process-child",
				From:    StateWaitingForChild,
				On:      MsgChildOutcome,
				Channel: domain.LocalOnly,
				Run:     r.processChild,
			},
		},
	}
}

// ContactMessage is the local message that starts a discovery of contact.
func ContactMessage(owned domain.Identity, instance domain.UID, contact domain.Identity) engine.Message {
	return engine.Message{
		Protocol: protocol.DeviceDiscoveryContact,
		Instance: instance,
		Owned:    owned,
		ID:       MsgContactInitial,
		Inputs:   []codec.Encoded{protocol.EncodeIdentity(contact)},
		Channel:  domain.ReceptionChannel{Kind: domain.ChannelLocal},
	}
}

type contactRunner struct{ ContactDeps }

func (r contactRunner) start(ctx context.Context, sc *engine.StepContext, _ engine.State, msg engine.Message) (engine.State, error) {
	in, err := protocol.Inputs(msg, 1)
	if err != nil {
		return nil, err
	}
	contact, err := protocol.DecodeIdentity(in[0])
	if err != nil {
		return nil, err
	}
	known, err := protocol.KnownPeer(ctx, r.Contacts, sc.Owned, contact)
	if err != nil {
		return nil, err
	}
	if !known {
		sc.Log.Info("device discovery for unknown identity cancelled", zap.Stringer("identity", contact))
		return Cancelled{}, nil
	}
	if _, err := sc.StartChild(protocol.DeviceDiscoveryRemote, MsgInitial,
		[]codec.Encoded{protocol.EncodeIdentity(contact)}, StateDeviceUIDsReceived, MsgChildOutcome); err != nil {
		return nil, err
	}
	return WaitingForChild{Contact: contact}, nil
}

func (r contactRunner) processChild(ctx context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	st := s.(WaitingForChild)
	outcome, err := engine.ChildOutcomeFrom(msg)
	if err != nil {
		return nil, err
	}
	if outcome.Cancelled() {
		return Cancelled{}, nil
	}
	got, err := DecodeDeviceUIDsReceived(outcome.Encoded)
	if err != nil {
		return nil, err
	}
	if got.Identity != st.Contact {
		return nil, fmt.Errorf("devicediscovery: outcome for %s, want %s", got.Identity, st.Contact)
	}
	fresh := slices.DeleteFunc(slices.Clone(got.Devices), func(u domain.UID) bool {
		return sc.Owned == st.Contact && u == r.Account.Device
	})

	current, save, err := r.devices(ctx, sc.Owned, st.Contact)
	if err != nil {
		return nil, err
	}
	if save == nil {
		// Contact deleted while the query ran.
		return Cancelled{}, nil
	}

	var added, removed []domain.UID
	for _, d := range current {
		if !slices.Contains(fresh, d) {
			removed = append(removed, d)
		}
	}
	for _, d := range fresh {
		if !slices.Contains(current, d) {
			added = append(added, d)
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return ChildProcessed{Contact: st.Contact}, nil
	}

	if err := save(fresh); err != nil {
		return nil, err
	}
	for _, d := range removed {
		if err := r.Channels.Delete(ctx, r.Channels.ChannelID(st.Contact, d)); err != nil {
			return nil, err
		}
	}
	for _, d := range added {
		channelcreation.Start(sc, r.Account.Device, st.Contact, d)
	}
	sc.Log.Info("devices updated",
		zap.Stringer("identity", st.Contact),
		zap.Int("added", len(added)),
		zap.Int("removed", len(removed)))
	sc.Notify(domain.EventDevicesUpdated, st.Contact, fmt.Sprintf("+%d -%d", len(added), len(removed)))
	return ChildProcessed{Contact: st.Contact, Added: added, Removed: removed}, nil
}

// devices returns the known devices of identity and a function storing a
// replacement list. save is nil when identity is no longer known.
func (r contactRunner) devices(ctx context.Context, owned, identity domain.Identity) ([]domain.UID, func([]domain.UID) error, error) {
	if identity == owned {
		cur, err := r.Contacts.OwnedDevices(ctx, owned)
		if err != nil {
			return nil, nil, err
		}
		return cur, func(d []domain.UID) error { return r.Contacts.SetOwnedDevices(ctx, owned, d) }, nil
	}
	c, ok, err := r.Contacts.GetContact(ctx, owned, identity)
	if err != nil || !ok {
		return nil, nil, err
	}
	return c.Devices, func(d []domain.UID) error {
		c.Devices = d
		return r.Contacts.SaveContact(ctx, c)
	}, nil
}
