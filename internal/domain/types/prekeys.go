package types

import "time"

// SignedPreKey is the public pre-key a device publishes on the relay. The
// signature by the identity's signature key covers ID ‖ Device ‖ Key ‖
// ExpiresAt (big-endian Unix milliseconds).
type SignedPreKey struct {
	Identity  Identity  `json:"identity"`
	Device    UID       `json:"device"`
	ID        UID       `json:"id"`
	Key       []byte    `json:"key"` // codec-encoded public key
	ExpiresAt time.Time `json:"expires_at"`
	Signature []byte    `json:"signature"`
}

// PreKeyRecord is a pre-key with its private half, kept on the device.
type PreKeyRecord struct {
	ID         UID
	Public     []byte // codec-encoded public key
	Private    []byte // codec-encoded private key
	ExpiresAt  time.Time
	Signature  []byte
	ReplacedAt time.Time
}

// BackupKeyInfo is the derived public material of a backup key. The key
// string itself is never stored.
type BackupKeyInfo struct {
	UID                     UID       `json:"uid"`
	PublicKey               []byte    `json:"public_key"` // codec-encoded KEM public key
	MACKey                  []byte    `json:"mac_key"`
	CreatedAt               time.Time `json:"created_at"`
	LastVerificationAt      time.Time `json:"last_verification_at"`
	SuccessfulVerifications int       `json:"successful_verifications"`
	FailedVerifications     int       `json:"failed_verifications"`
}
