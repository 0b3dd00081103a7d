package edwards

import "math/big"

// ScalarSource draws uniform integers below a bound.
type ScalarSource interface {
	BigIntBelow(bound *big.Int) (*big.Int, error)
}

// RandomScalar draws a scalar in [2, Q).
func (c *Curve) RandomScalar(rnd ScalarSource) (*big.Int, error) {
	for {
		k, err := rnd.BigIntBelow(c.Q)
		if err != nil {
			return nil, err
		}
		if k.Cmp(big.NewInt(1)) > 0 {
			return k, nil
		}
	}
}

// RandomScalarAndPoint draws a scalar k in [2, Q) and returns (k, k·G).
func (c *Curve) RandomScalarAndPoint(rnd ScalarSource) (*big.Int, Point, error) {
	k, err := c.RandomScalar(rnd)
	if err != nil {
		return nil, Point{}, err
	}
	return k, c.ScalarBaseMult(k), nil
}
