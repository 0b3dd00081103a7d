package interfaces

import (
	"context"

	domaintypes "trustline/internal/domain/types"
)

// RelayClient is how we talk to the central relay server, all with context.
type RelayClient interface {
	PostEnvelopes(ctx context.Context, envelopes []domaintypes.Envelope) error
	FetchEnvelopes(
		ctx context.Context,
		identity domaintypes.Identity,
		device domaintypes.UID,
		limit int,
	) ([]domaintypes.Envelope, error)
	AckEnvelopes(ctx context.Context, identity domaintypes.Identity, device domaintypes.UID, ids []string) error

	RegisterDevice(ctx context.Context, identity domaintypes.Identity, device domaintypes.UID) error
	DeviceUIDs(ctx context.Context, identity domaintypes.Identity) ([]domaintypes.UID, error)

	PublishPreKey(ctx context.Context, preKey domaintypes.SignedPreKey) error
	FetchPreKeys(ctx context.Context, identity domaintypes.Identity) ([]domaintypes.SignedPreKey, error)

	PutPhoto(ctx context.Context, label []byte, encrypted []byte) error
	GetPhoto(ctx context.Context, label []byte) ([]byte, bool, error)

	Revoke(ctx context.Context, identity domaintypes.Identity) error
	IsRevoked(ctx context.Context, identity domaintypes.Identity) (bool, error)
}
