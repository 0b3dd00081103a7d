package interfaces

import (
	"context"

	domaintypes "trustline/internal/domain/types"
)

// ContactStore persists contacts and the devices of the owned identity.
type ContactStore interface {
	GetContact(
		ctx context.Context,
		owned domaintypes.Identity,
		contact domaintypes.Identity,
	) (domaintypes.Contact, bool, error)
	SaveContact(ctx context.Context, contact domaintypes.Contact) error
	DeleteContact(ctx context.Context, owned domaintypes.Identity, contact domaintypes.Identity) error
	ListContacts(ctx context.Context, owned domaintypes.Identity) ([]domaintypes.Contact, error)

	// Other devices of the owned identity, this device excluded.
	OwnedDevices(ctx context.Context, owned domaintypes.Identity) ([]domaintypes.UID, error)
	SetOwnedDevices(ctx context.Context, owned domaintypes.Identity, devices []domaintypes.UID) error
}

// PreKeyStore keeps this device's signed pre-keys, private halves included.
type PreKeyStore interface {
	SavePreKey(ctx context.Context, owned domaintypes.Identity, record domaintypes.PreKeyRecord) error
	LoadPreKey(
		ctx context.Context,
		owned domaintypes.Identity,
		id domaintypes.UID,
	) (domaintypes.PreKeyRecord, bool, error)
	CurrentPreKey(ctx context.Context, owned domaintypes.Identity) (domaintypes.PreKeyRecord, bool, error)
}

// BackupKeyStore keeps the public material of the current backup key.
type BackupKeyStore interface {
	SaveBackupKey(ctx context.Context, owned domaintypes.Identity, info domaintypes.BackupKeyInfo) error
	LoadBackupKey(ctx context.Context, owned domaintypes.Identity) (domaintypes.BackupKeyInfo, bool, error)
	DeleteBackupKey(ctx context.Context, owned domaintypes.Identity) error
}

// PhotoSink receives decrypted group photos.
type PhotoSink interface {
	SavePhoto(ctx context.Context, owned domaintypes.Identity, group domaintypes.UID, photo []byte) error
}

// EventSink receives user-facing protocol notifications.
type EventSink interface {
	Emit(ctx context.Context, event domaintypes.Event)
}
