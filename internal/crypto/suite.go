package crypto

import (
	"trustline/internal/crypto/edwards"
)

// Suite is the cryptographic configuration threaded through constructors:
// the curve used for new keys, the AEAD scheme and the randomness source.
type Suite struct {
	Curve edwards.ID
	AEAD  AEADID
	prng  PRNG
}

// DefaultSuite uses Curve25519 and the system entropy source.
func DefaultSuite() Suite {
	return Suite{Curve: edwards.Curve25519, AEAD: AEADCTRAES256HMACSHA256, prng: SystemPRNG()}
}

// NewSuite returns a suite on curve id drawing randomness from prng.
func NewSuite(id edwards.ID, prng PRNG) Suite {
	return Suite{Curve: id, AEAD: AEADCTRAES256HMACSHA256, prng: prng}
}

// DeterministicSuite returns a reproducible suite for tests.
func DeterministicSuite(seed []byte) Suite {
	s := make([]byte, SeedLength)
	copy(s, seed)
	return NewSuite(edwards.Curve25519, NewPRNG(Seed(s)))
}

// PRNG returns the suite's randomness source.
func (s Suite) PRNG() PRNG {
	if s.prng == nil {
		return SystemPRNG()
	}
	return s.prng
}
