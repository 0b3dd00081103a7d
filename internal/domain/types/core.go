package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"trustline/internal/crypto"
)

// UIDLength is the size of device and instance identifiers.
const UIDLength = 32

// IdentityLength is the size of a serialized identity.
const IdentityLength = crypto.IdentityLength

var (
	// ErrBadUID is returned when decoding an identifier of the wrong size.
	ErrBadUID = errors.New("domain: malformed uid")
	// ErrBadIdentity is returned when decoding identity bytes of the wrong size.
	ErrBadIdentity = errors.New("domain: malformed identity")
)

// UID is a random identifier for a device or a protocol instance.
type UID [UIDLength]byte

// NewUID draws a UID from r.
func NewUID(r io.Reader) (UID, error) {
	var u UID
	if _, err := io.ReadFull(r, u[:]); err != nil {
		return UID{}, err
	}
	return u, nil
}

// UIDFromBytes copies b into a UID.
func UIDFromBytes(b []byte) (UID, error) {
	var u UID
	if len(b) != UIDLength {
		return UID{}, fmt.Errorf("%w: %d bytes", ErrBadUID, len(b))
	}
	copy(u[:], b)
	return u, nil
}

// ParseUID decodes the hex form produced by String.
func ParseUID(s string) (UID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return UID{}, fmt.Errorf("%w: %v", ErrBadUID, err)
	}
	return UIDFromBytes(b)
}

// Bytes returns a copy of the identifier.
func (u UID) Bytes() []byte { return append([]byte(nil), u[:]...) }

// IsZero reports whether u is unset.
func (u UID) IsZero() bool { return u == UID{} }

// String returns the hex form.
func (u UID) String() string { return hex.EncodeToString(u[:]) }

// Short returns the first 8 hex characters, for logs.
func (u UID) Short() string { return hex.EncodeToString(u[:4]) }

func (u UID) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

func (u *UID) UnmarshalText(b []byte) error {
	v, err := ParseUID(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Identity is the public identifier of an owned identity or a contact. It
// is the compact signature key followed by the compact encryption key and
// is compared by raw byte equality.
type Identity [IdentityLength]byte

// IdentityFromBytes copies b into an Identity.
func IdentityFromBytes(b []byte) (Identity, error) {
	var id Identity
	if len(b) != IdentityLength {
		return Identity{}, fmt.Errorf("%w: %d bytes", ErrBadIdentity, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ParseIdentity decodes the hex form produced by Hex.
func ParseIdentity(s string) (Identity, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrBadIdentity, err)
	}
	return IdentityFromBytes(b)
}

// Bytes returns a copy of the identity bytes.
func (i Identity) Bytes() []byte { return append([]byte(nil), i[:]...) }

// IsZero reports whether i is unset.
func (i Identity) IsZero() bool { return i == Identity{} }

// Hex returns the full hex form.
func (i Identity) Hex() string { return hex.EncodeToString(i[:]) }

// Fingerprint returns the short display form.
func (i Identity) Fingerprint() Fingerprint { return Fingerprint(crypto.Fingerprint(i[:])) }

// String returns the fingerprint.
func (i Identity) String() string { return string(i.Fingerprint()) }

// Public parses the identity into its keys.
func (i Identity) Public() (crypto.PublicIdentity, error) { return crypto.ParsePublicIdentity(i[:]) }

func (i Identity) MarshalText() ([]byte, error) { return []byte(i.Hex()), nil }

func (i *Identity) UnmarshalText(b []byte) error {
	v, err := ParseIdentity(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Fingerprint is a short identifier for identities presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }
