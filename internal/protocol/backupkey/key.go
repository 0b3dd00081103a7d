package backupkey

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"trustline/internal/crypto"
	"trustline/internal/crypto/edwards"
)

// Alphabet is the set of characters of a backup key: digits and upper
// case letters without I, L, O and U, which read too much like others.
const Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// KeyLength is the number of characters in a backup key.
const KeyLength = 32

const (
	kdfSalt       = "trustline backup key"
	kdfIterations = 10000
	macLength     = sha256.Size
)

var (
	// ErrMalformedKey is returned for strings that are not backup keys.
	ErrMalformedKey = errors.New("backupkey: malformed key")
	// ErrBadMAC is returned when a sealed blob was not produced with the
	// key, or was altered.
	ErrBadMAC = errors.New("backupkey: authentication failed")
)

// NewKey draws a fresh backup key from prng.
func NewKey(prng crypto.PRNG) string {
	raw := prng.Bytes(KeyLength)
	var b strings.Builder
	b.Grow(KeyLength)
	for _, c := range raw {
		b.WriteByte(Alphabet[int(c)%len(Alphabet)])
	}
	return b.String()
}

// Normalize upper-cases s and strips separators. It fails when the
// result is not a key.
func Normalize(s string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		switch {
		case r == ' ' || r == '-':
			continue
		case strings.ContainsRune(Alphabet, r):
			b.WriteRune(r)
		default:
			return "", ErrMalformedKey
		}
	}
	if b.Len() != KeyLength {
		return "", ErrMalformedKey
	}
	return b.String(), nil
}

// Format splits key in groups of four for display.
func Format(key string) string {
	var groups []string
	for i := 0; i < len(key); i += 4 {
		groups = append(groups, key[i:min(i+4, len(key))])
	}
	return strings.Join(groups, " ")
}

// Derived is the key material obtained from a backup key.
type Derived struct {
	KeyPair crypto.KeyPair
	MACKey  []byte
}

// Derive stretches key with PBKDF2 and expands it to a KEM keypair and a
// MAC key. The same key always gives the same material.
func Derive(key string, curve edwards.ID) (Derived, error) {
	norm, err := Normalize(key)
	if err != nil {
		return Derived{}, err
	}
	seed := crypto.Seed(pbkdf2.Key([]byte(norm), []byte(kdfSalt), kdfIterations, crypto.SeedLength, sha256.New))
	defer seed.Wipe()
	prng := crypto.NewPRNG(seed)
	kp, err := crypto.GenerateKEMKeyPair(curve, prng)
	if err != nil {
		return Derived{}, err
	}
	return Derived{KeyPair: kp, MACKey: prng.Bytes(macLength)}, nil
}

// Matches reports whether d has the public half recorded in pub and mac.
func (d Derived) Matches(pub crypto.PublicKey, mac []byte) bool {
	return d.KeyPair.Public.Equal(pub) && hmac.Equal(d.MACKey, mac)
}

func blobMAC(key, sealed []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(sealed)
	return m.Sum(nil)
}

// Seal encrypts a backup blob to the public half of a backup key. The
// result is the KEM sealed box followed by an HMAC under macKey.
func Seal(pub crypto.PublicKey, macKey, plaintext []byte, prng crypto.PRNG) ([]byte, error) {
	sealed, err := crypto.Seal(pub, plaintext, prng)
	if err != nil {
		return nil, err
	}
	return append(sealed, blobMAC(macKey, sealed)...), nil
}

// Open decrypts a blob produced by Seal with the backup key string.
func Open(key string, curve edwards.ID, blob []byte) ([]byte, error) {
	d, err := Derive(key, curve)
	if err != nil {
		return nil, err
	}
	defer d.KeyPair.Private.Wipe()
	if len(blob) < macLength {
		return nil, ErrBadMAC
	}
	sealed, mac := blob[:len(blob)-macLength], blob[len(blob)-macLength:]
	if !hmac.Equal(mac, blobMAC(d.MACKey, sealed)) {
		return nil, ErrBadMAC
	}
	return crypto.Open(d.KeyPair.Private, sealed)
}
