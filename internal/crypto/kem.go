package crypto

import (
	"fmt"
	"math/big"

	"trustline/internal/crypto/edwards"
)

// KEMCiphertextLength is the size of an encapsulation: the y coordinate of
// the ephemeral point.
const KEMCiphertextLength = 32

// GenerateKEMKeyPair draws a public-key encryption keypair on curve id.
func GenerateKEMKeyPair(id edwards.ID, prng PRNG) (KeyPair, error) {
	return generateKeyPair(ClassPublicKeyEncryption, id, prng)
}

// Encapsulate draws a fresh ephemeral scalar r and returns y(r·G) together
// with the AEAD key derived from y(r·G) ‖ y(r·pub).
func Encapsulate(pub PublicKey, prng PRNG) ([]byte, AEADKey, error) {
	if pub.Class != ClassPublicKeyEncryption {
		return nil, AEADKey{}, ErrAlgorithmMismatch
	}
	c, err := curveOf(pub.Curve)
	if err != nil {
		return nil, AEADKey{}, err
	}
	if !validPeerY(c, pub.Y) {
		return nil, AEADKey{}, ErrInvalidKey
	}
	r, rG, err := c.RandomScalarAndPoint(prng)
	if err != nil {
		return nil, AEADKey{}, err
	}
	shared, ok := c.ScalarMultY(r, pub.Y)
	if !ok {
		return nil, AEADKey{}, ErrDegenerate
	}
	ct := make([]byte, KEMCiphertextLength)
	rG.Y.FillBytes(ct)
	return ct, kemKey(ct, shared), nil
}

// Decapsulate recovers the AEAD key from an encapsulation. Ciphertexts
// encoding the identity, a small-order point or anything off the curve are
// rejected.
func Decapsulate(priv PrivateKey, ct []byte) (AEADKey, error) {
	if priv.Class != ClassPublicKeyEncryption {
		return AEADKey{}, ErrAlgorithmMismatch
	}
	if len(ct) != KEMCiphertextLength {
		return AEADKey{}, ErrCiphertextTooShort
	}
	c, err := curveOf(priv.Curve)
	if err != nil {
		return AEADKey{}, err
	}
	shared, err := sharedY(c, priv.Scalar, new(big.Int).SetBytes(ct))
	if err != nil {
		return AEADKey{}, err
	}
	return kemKey(ct, shared), nil
}

func kemKey(ct []byte, shared *big.Int) AEADKey {
	seed := make([]byte, KEMCiphertextLength*2)
	copy(seed, ct)
	shared.FillBytes(seed[KEMCiphertextLength:])
	defer Wipe(seed)
	return AEADKeyFromSeed(Seed(seed))
}

// Seal encrypts plaintext to pub: encapsulation ‖ AEAD ciphertext.
func Seal(pub PublicKey, plaintext []byte, prng PRNG) ([]byte, error) {
	ct, key, err := Encapsulate(pub, prng)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()
	body, err := Encrypt(key, plaintext, prng)
	if err != nil {
		return nil, err
	}
	return append(ct, body...), nil
}

// Open reverses Seal. A mismatched private key derives a different AEAD
// key, so the result is ErrAuthentication rather than garbage.
func Open(priv PrivateKey, sealed []byte) ([]byte, error) {
	if len(sealed) < KEMCiphertextLength {
		return nil, ErrCiphertextTooShort
	}
	key, err := Decapsulate(priv, sealed[:KEMCiphertextLength])
	if err != nil {
		return nil, fmt.Errorf("decapsulate: %w", err)
	}
	defer key.Wipe()
	return Decrypt(key, sealed[KEMCiphertextLength:])
}
