package crypto

import (
	"errors"
	"math/big"

	"trustline/internal/crypto/edwards"
)

// ErrDegenerate is returned when an exchange lands on a small-order point.
var ErrDegenerate = errors.New("crypto: degenerate shared point")

// GenerateDHKeyPair draws a Diffie-Hellman keypair on curve id.
func GenerateDHKeyPair(id edwards.ID, prng PRNG) (KeyPair, error) {
	return generateKeyPair(ClassDH, id, prng)
}

// SharedSeed returns y(priv·pub) as a 32-byte seed. Keys from different
// curves yield ErrAlgorithmMismatch.
func SharedSeed(pub PublicKey, priv PrivateKey) (Seed, error) {
	if pub.Class != ClassDH || priv.Class != ClassDH || pub.Curve != priv.Curve {
		return nil, ErrAlgorithmMismatch
	}
	c, err := curveOf(pub.Curve)
	if err != nil {
		return nil, err
	}
	y, err := sharedY(c, priv.Scalar, pub.Y)
	if err != nil {
		return nil, err
	}
	out := make([]byte, c.ByteLength)
	y.FillBytes(out)
	return Seed(out), nil
}

// sharedY computes y(k·P) from y(P), rejecting inputs and results of small
// order.
func sharedY(c *edwards.Curve, k, y *big.Int) (*big.Int, error) {
	if !validPeerY(c, y) {
		return nil, ErrDegenerate
	}
	r, ok := c.ScalarMultY(k, y)
	if !ok || r.Cmp(big.NewInt(1)) == 0 {
		return nil, ErrDegenerate
	}
	return r, nil
}

// validPeerY reports whether y is a usable public coordinate: in range,
// not 0 or ±1, on the curve and outside the small subgroup.
func validPeerY(c *edwards.Curve, y *big.Int) bool {
	if y == nil || y.Sign() <= 0 || y.Cmp(c.P) >= 0 {
		return false
	}
	minusOne := new(big.Int).Sub(c.P, big.NewInt(1))
	if y.Cmp(big.NewInt(1)) == 0 || y.Cmp(minusOne) == 0 {
		return false
	}
	if _, ok := c.PointsForY(y); !ok {
		return false
	}
	return !c.IsLowOrder(y)
}
