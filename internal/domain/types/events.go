package types

// EventKind classifies user-facing notifications emitted by protocols.
type EventKind uint8

const (
	EventInviteSent EventKind = iota + 1
	EventInviteReceived
	EventSASReady
	EventSASMismatch
	EventContactAdded
	EventContactDeleted
	EventProtocolCancelled
	EventChannelCreated
	EventFullRatchetDone
	EventPhotoDownloaded
	EventBackupKeyGenerated
	EventBackupKeyVerified
	EventBackupKeyRevoked
	EventDevicesUpdated
)

var eventNames = map[EventKind]string{
	EventInviteSent:         "invite-sent",
	EventInviteReceived:     "invite-received",
	EventSASReady:           "sas-ready",
	EventSASMismatch:        "sas-mismatch",
	EventContactAdded:       "contact-added",
	EventContactDeleted:     "contact-deleted",
	EventProtocolCancelled:  "protocol-cancelled",
	EventChannelCreated:     "channel-created",
	EventFullRatchetDone:    "full-ratchet-done",
	EventPhotoDownloaded:    "photo-downloaded",
	EventBackupKeyGenerated: "backup-key-generated",
	EventBackupKeyVerified:  "backup-key-verified",
	EventBackupKeyRevoked:   "backup-key-revoked",
	EventDevicesUpdated:     "devices-updated",
}

func (k EventKind) String() string {
	if n, ok := eventNames[k]; ok {
		return n
	}
	return "event"
}

// Event is a notification for the user interface layer. Value carries the
// kind-specific detail, such as the SAS to display or a generated backup
// key, and must not be logged.
type Event struct {
	Kind     EventKind
	Owned    Identity
	Contact  Identity
	Protocol int
	Instance UID
	Value    string
}
