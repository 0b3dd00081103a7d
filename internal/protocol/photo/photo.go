// Package photo downloads the photo of a group from the relay. The photo
// is stored encrypted under a key shared by the group members; the label
// names the blob on the relay.
package photo

import (
	"context"

	"go.uber.org/zap"

	"trustline/internal/codec"
	"trustline/internal/crypto"
	"trustline/internal/domain"
	"trustline/internal/protocol"
	"trustline/internal/protocol/engine"
)

// Messages.
const (
	MsgInitial        engine.MessageID = 0
	MsgServerGetPhoto engine.MessageID = 1
)

// States.
const (
	StateDownloadingPhoto engine.StateID = 1
	StatePhotoDownloaded  engine.StateID = 2
)

// Deps are the collaborators of the protocol.
type Deps struct {
	Photos domain.PhotoSink
}

type initialState struct{}

func (initialState) ID() engine.StateID    { return engine.StateInitial }
func (initialState) Encode() codec.Encoded { return protocol.Empty() }

// DownloadingPhoto waits for the relay to return the encrypted photo.
type DownloadingPhoto struct {
	Group domain.UID
	Label []byte
	Key   crypto.AEADKey
}

func (DownloadingPhoto) ID() engine.StateID { return StateDownloadingPhoto }

func (s DownloadingPhoto) Encode() codec.Encoded {
	return codec.List(protocol.EncodeUID(s.Group), codec.Bytes(s.Label), s.Key.Encode())
}

func decodeDownloadingPhoto(e codec.Encoded) (engine.State, error) {
	f := protocol.ReadFields(e, 3)
	group, label, raw := f.UID(), f.Bytes(), f.Raw()
	if err := f.Err(); err != nil {
		return nil, err
	}
	key, err := crypto.DecodeAEADKey(raw)
	return DownloadingPhoto{Group: group, Label: label, Key: key}, err
}

// PhotoDownloaded is the final state. Found is false when the relay had
// no photo under the label.
type PhotoDownloaded struct {
	Group domain.UID
	Found bool
}

func (PhotoDownloaded) ID() engine.StateID { return StatePhotoDownloaded }

func (s PhotoDownloaded) Encode() codec.Encoded {
	return codec.List(protocol.EncodeUID(s.Group), codec.Bool(s.Found))
}

// StartMessage is the local message that downloads the photo of group.
func StartMessage(owned domain.Identity, instance, group domain.UID, label []byte, key crypto.AEADKey) engine.Message {
	return engine.Message{
		Protocol: protocol.GroupPhoto,
		Instance: instance,
		Owned:    owned,
		ID:       MsgInitial,
		Inputs:   []codec.Encoded{protocol.EncodeUID(group), codec.Bytes(label), key.Encode()},
		Channel:  domain.ReceptionChannel{Kind: domain.ChannelLocal},
	}
}

// New returns the group photo download protocol.
func New(d Deps) *engine.Definition {
	return &engine.Definition{
		ID:      protocol.GroupPhoto,
		Name:    "group-photo",
		Initial: initialState{},
		States: map[engine.StateID]engine.StateDecoder{
			StateDownloadingPhoto: decodeDownloadingPhoto,
		},
		FinalStates: []engine.StateID{StatePhotoDownloaded},
		Steps: []engine.Step{
			{Name: "query-server", From: engine.StateInitial, On: MsgInitial, Channel: domain.LocalOnly, Run: queryServer},
			{Name: "process-response", From: StateDownloadingPhoto, On: MsgServerGetPhoto, Channel: domain.LocalOnly, Run: d.processResponse},
		},
	}
}

func queryServer(_ context.Context, sc *engine.StepContext, _ engine.State, msg engine.Message) (engine.State, error) {
	in, err := protocol.Inputs(msg, 3)
	if err != nil {
		return nil, err
	}
	st, err := decodeDownloadingPhoto(codec.List(in...))
	if err != nil {
		return nil, err
	}
	sc.Query(engine.ServerQuery{
		Kind:     engine.QueryGetPhoto,
		Args:     []codec.Encoded{codec.Bytes(st.(DownloadingPhoto).Label)},
		Response: MsgServerGetPhoto,
	})
	return st, nil
}

// processResponse takes no input when the relay has no photo, or the
// encrypted photo otherwise.
func (d Deps) processResponse(ctx context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	st := s.(DownloadingPhoto)
	if len(msg.Inputs) == 0 {
		return PhotoDownloaded{Group: st.Group}, nil
	}
	encrypted, err := msg.Inputs[0].AsBytes()
	if err != nil {
		return nil, err
	}
	if len(encrypted) == 0 {
		return PhotoDownloaded{Group: st.Group}, nil
	}
	plain, err := crypto.Decrypt(st.Key, encrypted)
	if err != nil {
		sc.Log.Warn("group photo does not decrypt", zap.String("group", st.Group.Short()), zap.Error(err))
		return PhotoDownloaded{Group: st.Group}, nil
	}
	if err := d.Photos.SavePhoto(ctx, sc.Owned, st.Group, plain); err != nil {
		return nil, err
	}
	sc.Notify(domain.EventPhotoDownloaded, domain.Identity{}, st.Group.String())
	return PhotoDownloaded{Group: st.Group, Found: true}, nil
}
