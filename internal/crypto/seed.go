package crypto

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SeedLength is the size of seeds produced by this package.
const SeedLength = 32

// ErrShortSeed is returned for seeds shorter than SeedLength.
var ErrShortSeed = errors.New("crypto: seed too short")

// Seed is key material from which keys and generators are derived.
type Seed []byte

// NewSeed draws a fresh seed from prng.
func NewSeed(prng PRNG) Seed { return Seed(prng.Bytes(SeedLength)) }

// ParseSeed validates b as a seed.
func ParseSeed(b []byte) (Seed, error) {
	if len(b) < SeedLength {
		return nil, ErrShortSeed
	}
	return Seed(bytes.Clone(b)), nil
}

// SeedFromKeys combines several secrets into a single seed with
// HKDF-SHA-256. The order of keys matters.
func SeedFromKeys(info string, keys ...[]byte) Seed {
	var ikm []byte
	for _, k := range keys {
		ikm = append(ikm, k...)
	}
	defer Wipe(ikm)
	out := make([]byte, SeedLength)
	r := hkdf.New(sha256.New, ikm, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		panic(err) // 32 bytes is far below the HKDF output limit
	}
	return Seed(out)
}

// Wipe zeroes the seed in place.
func (s Seed) Wipe() { Wipe(s) }

// DeriveKey expands seed into n bytes of key material.
func DeriveKey(seed Seed, n int) []byte {
	return NewPRNG(seed).Bytes(n)
}
