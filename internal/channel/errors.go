package channel

import "errors"

var (
	// ErrNoKey is returned when no receive key authenticates an envelope.
	ErrNoKey = errors.New("channel: no key allowed to decrypt")
	// ErrNoChannel is returned when no channel can reach a recipient.
	ErrNoChannel = errors.New("channel: no usable channel")
	// ErrNoRecipients is returned when a send channel resolves to no device.
	ErrNoRecipients = errors.New("channel: no recipient devices")
	// ErrLocal is returned when the local channel is passed to the
	// encryption layer.
	ErrLocal = errors.New("channel: local messages are not encrypted")
	// ErrMalformed is returned for wrapped keys or frames that cannot be
	// parsed.
	ErrMalformed = errors.New("channel: malformed envelope")
	// ErrUnknownKind is returned for an unknown wrapped key kind byte.
	ErrUnknownKind = errors.New("channel: unknown channel kind")
)

var (
	// ErrNoPreKey is returned when a device has no valid published pre-key.
	ErrNoPreKey = errors.New("channel: no valid pre-key")
	// ErrPreKeyExpired is returned when an envelope names a pre-key past
	// its expiry.
	ErrPreKeyExpired = errors.New("channel: pre-key expired")
)
