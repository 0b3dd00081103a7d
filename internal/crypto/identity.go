package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"trustline/internal/codec"
	"trustline/internal/crypto/edwards"
)

// IdentityLength is the size of a serialized public identity.
const IdentityLength = 2 * CompactKeyLength

// ErrBadIdentity is returned for malformed identity bytes.
var ErrBadIdentity = errors.New("crypto: malformed identity")

// PublicIdentity is the public half of an identity: a signature key and a
// public-key encryption key.
type PublicIdentity struct {
	Sign    PublicKey
	Encrypt PublicKey
}

// Bytes returns compact(sign) ‖ compact(encrypt).
func (p PublicIdentity) Bytes() []byte {
	return append(p.Sign.Compact(), p.Encrypt.Compact()...)
}

// ParsePublicIdentity decodes the output of Bytes.
func ParsePublicIdentity(b []byte) (PublicIdentity, error) {
	if len(b) != IdentityLength {
		return PublicIdentity{}, ErrBadIdentity
	}
	sig, err := ParseCompactPublicKey(ClassSignature, b[:CompactKeyLength])
	if err != nil {
		return PublicIdentity{}, errors.Join(ErrBadIdentity, err)
	}
	enc, err := ParseCompactPublicKey(ClassPublicKeyEncryption, b[CompactKeyLength:])
	if err != nil {
		return PublicIdentity{}, errors.Join(ErrBadIdentity, err)
	}
	return PublicIdentity{Sign: sig, Encrypt: enc}, nil
}

// OwnedIdentity carries the private material of a local identity.
type OwnedIdentity struct {
	Sign    KeyPair
	Encrypt KeyPair
}

// GenerateOwnedIdentity draws fresh signature and encryption keypairs.
func GenerateOwnedIdentity(id edwards.ID, prng PRNG) (OwnedIdentity, error) {
	sig, err := GenerateSignatureKeyPair(id, prng)
	if err != nil {
		return OwnedIdentity{}, err
	}
	enc, err := GenerateKEMKeyPair(id, prng)
	if err != nil {
		return OwnedIdentity{}, err
	}
	return OwnedIdentity{Sign: sig, Encrypt: enc}, nil
}

// Public returns the public half.
func (o OwnedIdentity) Public() PublicIdentity {
	return PublicIdentity{Sign: o.Sign.Public, Encrypt: o.Encrypt.Public}
}

// Encode serializes the identity, private keys included.
func (o OwnedIdentity) Encode() codec.Encoded {
	return codec.List(EncodeKeyPair(o.Sign), EncodeKeyPair(o.Encrypt))
}

// DecodeOwnedIdentity parses the output of Encode.
func DecodeOwnedIdentity(e codec.Encoded) (OwnedIdentity, error) {
	items, err := e.ListOf(2)
	if err != nil {
		return OwnedIdentity{}, err
	}
	sig, err := DecodeKeyPair(items[0])
	if err != nil {
		return OwnedIdentity{}, err
	}
	enc, err := DecodeKeyPair(items[1])
	if err != nil {
		return OwnedIdentity{}, err
	}
	if sig.Public.Class != ClassSignature || enc.Public.Class != ClassPublicKeyEncryption {
		return OwnedIdentity{}, ErrBadIdentity
	}
	return OwnedIdentity{Sign: sig, Encrypt: enc}, nil
}

// SameIdentity compares two serialized identities.
func SameIdentity(a, b []byte) bool { return bytes.Equal(a, b) }

// Fingerprint returns a short display form of serialized identity bytes:
// the first 10 bytes of their SHA-256, hex encoded.
func Fingerprint(identity []byte) string {
	sum := sha256.Sum256(identity)
	return hex.EncodeToString(sum[:10])
}
