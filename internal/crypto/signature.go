package crypto

import (
	"crypto/sha256"
	"errors"
	"math/big"

	"trustline/internal/crypto/edwards"
)

// SignatureLength is the size of an EC-SDSA signature e ‖ s.
const SignatureLength = 64

// ErrBadSignature is returned when a signature does not verify.
var ErrBadSignature = errors.New("crypto: signature verification failed")

// GenerateSignatureKeyPair draws an EC-SDSA keypair on curve id.
func GenerateSignatureKeyPair(id edwards.ID, prng PRNG) (KeyPair, error) {
	return generateKeyPair(ClassSignature, id, prng)
}

func sdsaChallenge(c *edwards.Curve, ry, pubY *big.Int, msg []byte) *big.Int {
	buf := make([]byte, 2*c.ByteLength)
	ry.FillBytes(buf[:c.ByteLength])
	pubY.FillBytes(buf[c.ByteLength:])
	h := sha256.New()
	h.Write(buf)
	h.Write(msg)
	e := new(big.Int).SetBytes(h.Sum(nil))
	return e.Mod(e, c.Q)
}

// Sign produces an EC-SDSA signature of msg. pub must match priv.
func Sign(kp KeyPair, msg []byte, prng PRNG) ([]byte, error) {
	if kp.Private.Class != ClassSignature || kp.Public.Class != ClassSignature || kp.Public.Curve != kp.Private.Curve {
		return nil, ErrAlgorithmMismatch
	}
	c, err := curveOf(kp.Private.Curve)
	if err != nil {
		return nil, err
	}
	for {
		k, r, err := c.RandomScalarAndPoint(prng)
		if err != nil {
			return nil, err
		}
		e := sdsaChallenge(c, r.Y, kp.Public.Y, msg)
		s := new(big.Int).Mul(kp.Private.Scalar, e)
		s.Sub(k, s)
		s.Mod(s, c.Q)
		if e.Sign() == 0 || s.Sign() == 0 {
			continue
		}
		sig := make([]byte, SignatureLength)
		e.FillBytes(sig[:32])
		s.FillBytes(sig[32:])
		return sig, nil
	}
}

// Verify checks sig over msg against pub.
func Verify(pub PublicKey, msg, sig []byte) error {
	if pub.Class != ClassSignature {
		return ErrAlgorithmMismatch
	}
	if len(sig) != SignatureLength {
		return ErrBadSignature
	}
	c, err := curveOf(pub.Curve)
	if err != nil {
		return err
	}
	e := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	if e.Sign() == 0 || s.Sign() == 0 || e.Cmp(c.Q) >= 0 || s.Cmp(c.Q) >= 0 {
		return ErrBadSignature
	}
	candidates, ok := c.MulAddY(s, c.G, e, pub.Y)
	if !ok {
		return ErrBadSignature
	}
	for _, r := range candidates {
		if sdsaChallenge(c, r.Y, pub.Y, msg).Cmp(e) == 0 {
			return nil
		}
	}
	return ErrBadSignature
}
