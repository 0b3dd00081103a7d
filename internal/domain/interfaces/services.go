package interfaces

import (
	"context"

	domaintypes "trustline/internal/domain/types"
)

// IdentityService creates, retrieves, and inspects the owned identity.
type IdentityService interface {
	GenerateIdentity(passphrase string) (domaintypes.Account, domaintypes.Fingerprint, error)
	LoadIdentity(passphrase string) (domaintypes.Account, error)
	FingerprintIdentity(passphrase string) (domaintypes.Fingerprint, error)
}

// PreKeyService generates, stores and publishes signed pre-keys.
type PreKeyService interface {
	RotatePreKey(ctx context.Context, account domaintypes.Account) (domaintypes.SignedPreKey, error)
	Publish(ctx context.Context, account domaintypes.Account) error
}
