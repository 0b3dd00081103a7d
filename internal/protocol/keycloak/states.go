package keycloak

import (
	"trustline/internal/codec"
	"trustline/internal/domain"
	"trustline/internal/protocol"
	"trustline/internal/protocol/engine"
)

type initialState struct{}

func (initialState) ID() engine.StateID    { return engine.StateInitial }
func (initialState) Encode() codec.Encoded { return protocol.Empty() }

// pending describes the contact being added.
type pending struct {
	Contact domain.Identity
	Name    string
	Devices []domain.UID
}

func (p pending) fields(extra ...codec.Encoded) codec.Encoded {
	items := []codec.Encoded{protocol.EncodeIdentity(p.Contact), codec.String(p.Name), protocol.EncodeUIDs(p.Devices)}
	return codec.List(append(items, extra...)...)
}

func readPending(f *protocol.Fields) pending {
	return pending{Contact: f.Identity(), Name: f.Text(), Devices: f.UIDs()}
}

// WaitingForDeviceDiscovery waits for the devices of the new contact.
type WaitingForDeviceDiscovery struct {
	pending
	Token string
}

func (WaitingForDeviceDiscovery) ID() engine.StateID { return StateWaitingForDeviceDiscovery }

func (s WaitingForDeviceDiscovery) Encode() codec.Encoded { return s.fields(codec.String(s.Token)) }

func decodeWaitingForDeviceDiscovery(e codec.Encoded) (engine.State, error) {
	f := protocol.ReadFields(e, 4)
	s := WaitingForDeviceDiscovery{pending: readPending(f), Token: f.Text()}
	return s, f.Err()
}

// WaitingForConfirmation waits for the invitee's answer.
type WaitingForConfirmation struct{ pending }

func (WaitingForConfirmation) ID() engine.StateID      { return StateWaitingForConfirmation }
func (s WaitingForConfirmation) Encode() codec.Encoded { return s.fields() }

func decodeWaitingForConfirmation(e codec.Encoded) (engine.State, error) {
	f := protocol.ReadFields(e, 3)
	s := WaitingForConfirmation{pending: readPending(f)}
	return s, f.Err()
}

// CheckingForRevocation waits for the relay's revocation answer.
type CheckingForRevocation struct{ pending }

func (CheckingForRevocation) ID() engine.StateID      { return StateCheckingForRevocation }
func (s CheckingForRevocation) Encode() codec.Encoded { return s.fields() }

func decodeCheckingForRevocation(e codec.Encoded) (engine.State, error) {
	f := protocol.ReadFields(e, 3)
	s := CheckingForRevocation{pending: readPending(f)}
	return s, f.Err()
}

// Finished is the final state.
type Finished struct{}

func (Finished) ID() engine.StateID    { return StateFinished }
func (Finished) Encode() codec.Encoded { return protocol.Empty() }
