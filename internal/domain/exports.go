package domain

import (
	interfaces "trustline/internal/domain/interfaces"
	types "trustline/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	UID                = types.UID
	Identity           = types.Identity
	Fingerprint        = types.Fingerprint
	Account            = types.Account
	ChannelKind        = types.ChannelKind
	ReceptionChannel   = types.ReceptionChannel
	ChannelConstraint  = types.ChannelConstraint
	SendChannel        = types.SendChannel
	Envelope           = types.Envelope
	PayloadKind        = types.PayloadKind
	ApplicationMessage = types.ApplicationMessage
	TrustOriginKind    = types.TrustOriginKind
	TrustOrigin        = types.TrustOrigin
	TrustLevel         = types.TrustLevel
	Contact            = types.Contact
	Event              = types.Event
	EventKind          = types.EventKind
	SignedPreKey       = types.SignedPreKey
	PreKeyRecord       = types.PreKeyRecord
	BackupKeyInfo      = types.BackupKeyInfo
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	IdentityService = interfaces.IdentityService
	PreKeyService   = interfaces.PreKeyService
	RelayClient     = interfaces.RelayClient
	AccountStore    = interfaces.AccountStore
	ContactStore    = interfaces.ContactStore
	PreKeyStore     = interfaces.PreKeyStore
	BackupKeyStore  = interfaces.BackupKeyStore
	PhotoSink       = interfaces.PhotoSink
	EventSink       = interfaces.EventSink
)

// Re-exported constants, so callers need only import domain.
const (
	UIDLength      = types.UIDLength
	IdentityLength = types.IdentityLength

	ChannelLocal      = types.ChannelLocal
	ChannelRatcheting = types.ChannelRatcheting
	ChannelPreKey     = types.ChannelPreKey
	ChannelAsymmetric = types.ChannelAsymmetric

	LocalOnly       = types.LocalOnly
	RatchetingOnly  = types.RatchetingOnly
	SecureOnly      = types.SecureOnly
	OwnedDeviceOnly = types.OwnedDeviceOnly
	AsymmetricOnly  = types.AsymmetricOnly
	AnyRemote       = types.AnyRemote

	PayloadApplication = types.PayloadApplication
	PayloadProtocol    = types.PayloadProtocol

	TrustDirect       = types.TrustDirect
	TrustGroup        = types.TrustGroup
	TrustIntroduction = types.TrustIntroduction
	TrustKeycloak     = types.TrustKeycloak

	EventInviteSent         = types.EventInviteSent
	EventInviteReceived     = types.EventInviteReceived
	EventSASReady           = types.EventSASReady
	EventSASMismatch        = types.EventSASMismatch
	EventContactAdded       = types.EventContactAdded
	EventContactDeleted     = types.EventContactDeleted
	EventProtocolCancelled  = types.EventProtocolCancelled
	EventChannelCreated     = types.EventChannelCreated
	EventFullRatchetDone    = types.EventFullRatchetDone
	EventPhotoDownloaded    = types.EventPhotoDownloaded
	EventBackupKeyGenerated = types.EventBackupKeyGenerated
	EventBackupKeyVerified  = types.EventBackupKeyVerified
	EventBackupKeyRevoked   = types.EventBackupKeyRevoked
	EventDevicesUpdated     = types.EventDevicesUpdated

	TrustLevelNone         = types.TrustLevelNone
	TrustLevelIntroduction = types.TrustLevelIntroduction
	TrustLevelGroup        = types.TrustLevelGroup
	TrustLevelKeycloak     = types.TrustLevelKeycloak
	TrustLevelDirect       = types.TrustLevelDirect
)

// Re-exported constructors.
var (
	NewUID            = types.NewUID
	UIDFromBytes      = types.UIDFromBytes
	ParseUID          = types.ParseUID
	IdentityFromBytes = types.IdentityFromBytes
	ParseIdentity     = types.ParseIdentity
	LocalChannel      = types.LocalChannel
	DecodeAccount     = types.DecodeAccount
)
