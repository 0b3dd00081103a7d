package types

import "time"

// Envelope is one encrypted message for one recipient device, as posted to
// and fetched from the relay. Body is shared by every recipient of the
// same message; WrappedKey is specific to this device.
type Envelope struct {
	ID              string    `json:"id,omitempty"`
	ToIdentity      Identity  `json:"to_identity"`
	ToDevice        UID       `json:"to_device"`
	WrappedKey      []byte    `json:"wrapped_key"`
	Body            []byte    `json:"body"`
	ServerTimestamp time.Time `json:"server_timestamp"`
}

// PayloadKind distinguishes application payloads from protocol messages
// inside a decrypted envelope.
type PayloadKind int64

const (
	PayloadApplication PayloadKind = 0
	PayloadProtocol    PayloadKind = 1
)

// ApplicationMessage is a decrypted application payload handed back to
// the caller.
type ApplicationMessage struct {
	From            Identity
	FromDevice      UID
	Channel         ChannelKind
	Payload         []byte
	ServerTimestamp time.Time
}
