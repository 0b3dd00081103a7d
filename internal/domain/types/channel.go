package types

import "fmt"

// ChannelKind is the category of transport a message travelled on.
type ChannelKind uint8

const (
	// ChannelLocal is the loopback channel of a device with itself.
	ChannelLocal ChannelKind = iota + 1
	// ChannelRatcheting is an established, confirmed symmetric channel.
	ChannelRatcheting
	// ChannelPreKey is a one-shot channel keyed by the recipient's signed
	// pre-key. The sender is authenticated.
	ChannelPreKey
	// ChannelAsymmetric is a one-shot channel keyed by the recipient's
	// identity encryption key. The sender is not authenticated.
	ChannelAsymmetric
)

func (k ChannelKind) String() string {
	switch k {
	case ChannelLocal:
		return "local"
	case ChannelRatcheting:
		return "ratcheting"
	case ChannelPreKey:
		return "prekey"
	case ChannelAsymmetric:
		return "asymmetric"
	default:
		return fmt.Sprintf("channel(%d)", uint8(k))
	}
}

// ReceptionChannel describes how a message reached this device.
// RemoteIdentity and RemoteDevice are only authenticated for ratcheting
// and pre-key channels; they are zero for asymmetric channels.
type ReceptionChannel struct {
	Kind           ChannelKind
	RemoteIdentity Identity
	RemoteDevice   UID
}

// Authenticated reports whether the sender of the message is known.
func (rc ReceptionChannel) Authenticated() bool {
	switch rc.Kind {
	case ChannelLocal, ChannelRatcheting, ChannelPreKey:
		return true
	case ChannelAsymmetric:
		return false
	default:
		return false
	}
}

// ChannelConstraint is the reception requirement a protocol step declares.
type ChannelConstraint uint8

const (
	// LocalOnly accepts messages posted by this device to itself.
	LocalOnly ChannelConstraint = iota + 1
	// RatchetingOnly accepts messages on an established ratcheting channel.
	RatchetingOnly
	// SecureOnly accepts ratcheting or pre-key channels.
	SecureOnly
	// OwnedDeviceOnly accepts secure channels from another device of the
	// owned identity.
	OwnedDeviceOnly
	// AsymmetricOnly accepts one-shot public-key encrypted messages.
	AsymmetricOnly
	// AnyRemote accepts any channel except local.
	AnyRemote
)

func (c ChannelConstraint) String() string {
	switch c {
	case LocalOnly:
		return "local"
	case RatchetingOnly:
		return "ratcheting"
	case SecureOnly:
		return "secure"
	case OwnedDeviceOnly:
		return "owned-device"
	case AsymmetricOnly:
		return "asymmetric"
	case AnyRemote:
		return "any-remote"
	default:
		return fmt.Sprintf("constraint(%d)", uint8(c))
	}
}

// Allows reports whether a message received on rc may be handed to a step
// with this constraint. owned is the identity the instance belongs to.
func (c ChannelConstraint) Allows(rc ReceptionChannel, owned Identity) bool {
	secure := rc.Kind == ChannelRatcheting || rc.Kind == ChannelPreKey
	switch c {
	case LocalOnly:
		return rc.Kind == ChannelLocal
	case RatchetingOnly:
		return rc.Kind == ChannelRatcheting
	case SecureOnly:
		return secure
	case OwnedDeviceOnly:
		return secure && rc.RemoteIdentity == owned
	case AsymmetricOnly:
		return rc.Kind == ChannelAsymmetric
	case AnyRemote:
		return rc.Kind == ChannelRatcheting || rc.Kind == ChannelPreKey || rc.Kind == ChannelAsymmetric
	default:
		return false
	}
}

// SendChannel tells the channel layer where and how to deliver a message.
type SendChannel struct {
	// Kind is the preferred channel. ChannelRatcheting falls back to
	// Fallback when no usable ratcheting channel exists.
	Kind ChannelKind
	// ToIdentity is the recipient identity. Ignored for local delivery.
	ToIdentity Identity
	// ToDevices restricts delivery to these devices. Empty means every
	// known device of ToIdentity, except this one for owned identities.
	ToDevices []UID
	// Fallback is ChannelPreKey, ChannelAsymmetric or zero for none.
	Fallback ChannelKind
	// AllowUnconfirmed permits ratcheting channels that have not yet
	// decrypted a message from the peer.
	AllowUnconfirmed bool
	// PartOfFullRatchet marks messages of the full ratchet exchange
	// itself; they never trigger the ratchet policy.
	PartOfFullRatchet bool
}

// LocalChannel is the send channel for messages a device posts to itself.
func LocalChannel() SendChannel { return SendChannel{Kind: ChannelLocal} }
