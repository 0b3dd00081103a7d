package devicediscovery

import (
	"context"

	"trustline/internal/codec"
	"trustline/internal/domain"
	"trustline/internal/protocol"
	"trustline/internal/protocol/engine"
)

// Messages of the remote identity protocol.
const (
	MsgInitial        engine.MessageID = 0
	MsgServerResponse engine.MessageID = 1
)

// States of the remote identity protocol.
const (
	StateWaitingForDeviceUIDs engine.StateID = 1
	StateDeviceUIDsReceived   engine.StateID = 2
)

type initialState struct{}

func (initialState) ID() engine.StateID    { return engine.StateInitial }
func (initialState) Encode() codec.Encoded { return protocol.Empty() }

// WaitingForDeviceUIDs is the state while the server query is pending.
type WaitingForDeviceUIDs struct {
	Identity domain.Identity
}

func (WaitingForDeviceUIDs) ID() engine.StateID { return StateWaitingForDeviceUIDs }

func (s WaitingForDeviceUIDs) Encode() codec.Encoded {
	return codec.List(protocol.EncodeIdentity(s.Identity))
}

// DeviceUIDsReceived is the final state carrying the discovered devices.
type DeviceUIDsReceived struct {
	Identity domain.Identity
	Devices  []domain.UID
}

func (DeviceUIDsReceived) ID() engine.StateID { return StateDeviceUIDsReceived }

func (s DeviceUIDsReceived) Encode() codec.Encoded {
	return codec.List(protocol.EncodeIdentity(s.Identity), protocol.EncodeUIDs(s.Devices))
}

// DecodeDeviceUIDsReceived parses the final state, as found in a
// ChildOutcome.
func DecodeDeviceUIDsReceived(e codec.Encoded) (DeviceUIDsReceived, error) {
	items, err := e.ListOf(2)
	if err != nil {
		return DeviceUIDsReceived{}, err
	}
	id, err := protocol.DecodeIdentity(items[0])
	if err != nil {
		return DeviceUIDsReceived{}, err
	}
	uids, err := protocol.DecodeUIDs(items[1])
	if err != nil {
		return DeviceUIDsReceived{}, err
	}
	return DeviceUIDsReceived{Identity: id, Devices: uids}, nil
}

// NewRemote returns the device discovery protocol for any identity.
func NewRemote() *engine.Definition {
	return &engine.Definition{
		ID:      protocol.DeviceDiscoveryRemote,
		Name:    "device-discovery-remote",
		Initial: initialState{},
		States: map[engine.StateID]engine.StateDecoder{
			StateWaitingForDeviceUIDs: func(e codec.Encoded) (engine.State, error) {
				items, err := e.ListOf(1)
				if err != nil {
					return nil, err
				}
				id, err := protocol.DecodeIdentity(items[0])
				return WaitingForDeviceUIDs{Identity: id}, err
			},
		},
		FinalStates: []engine.StateID{StateDeviceUIDsReceived},
		Steps: []engine.Step{
			{
				Name:    "query-server",
				From:    engine.StateInitial,
				On:      MsgInitial,
				Channel: domain.LocalOnly,
				Run:     queryServer,
			},
			{
				Name:    "process-response",
				From:    StateWaitingForDeviceUIDs,
				On:      MsgServerResponse,
				Channel: domain.LocalOnly,
				Run:     processResponse,
			},
		},
	}
}

func queryServer(_ context.Context, sc *engine.StepContext, _ engine.State, msg engine.Message) (engine.State, error) {
	in, err := protocol.Inputs(msg, 1)
	if err != nil {
		return nil, err
	}
	id, err := protocol.DecodeIdentity(in[0])
	if err != nil {
		return nil, err
	}
	sc.Query(engine.ServerQuery{
		Kind:     engine.QueryDeviceDiscovery,
		Args:     []codec.Encoded{protocol.EncodeIdentity(id)},
		Response: MsgServerResponse,
	})
	return WaitingForDeviceUIDs{Identity: id}, nil
}

func processResponse(_ context.Context, _ *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	in, err := protocol.Inputs(msg, 1)
	if err != nil {
		return nil, err
	}
	uids, err := protocol.DecodeUIDs(in[0])
	if err != nil {
		return nil, err
	}
	return DeviceUIDsReceived{Identity: s.(WaitingForDeviceUIDs).Identity, Devices: uids}, nil
}
