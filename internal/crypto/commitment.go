package crypto

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
)

const commitmentNonceLength = 32

// ErrBadDecommitment is returned when a decommitment does not open its
// commitment.
var ErrBadDecommitment = errors.New("crypto: decommitment does not match")

// Commit binds value under tag. The commitment can be published right away;
// the decommitment is revealed later to open it.
func Commit(tag, value []byte, prng PRNG) (commitment, decommitment []byte) {
	nonce := prng.Bytes(commitmentNonceLength)
	commitment = commitHash(tag, value, nonce)
	decommitment = append(bytes.Clone(value), nonce...)
	return commitment, decommitment
}

// OpenCommitment checks decommitment against commitment and returns the
// committed value.
func OpenCommitment(tag, commitment, decommitment []byte) ([]byte, error) {
	if len(decommitment) < commitmentNonceLength {
		return nil, ErrBadDecommitment
	}
	split := len(decommitment) - commitmentNonceLength
	value, nonce := decommitment[:split], decommitment[split:]
	if subtle.ConstantTimeCompare(commitHash(tag, value, nonce), commitment) != 1 {
		return nil, ErrBadDecommitment
	}
	return bytes.Clone(value), nil
}

func commitHash(tag, value, nonce []byte) []byte {
	h := sha256.New()
	h.Write(tag)
	h.Write(value)
	h.Write(nonce)
	return h.Sum(nil)
}
