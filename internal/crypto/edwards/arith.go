package edwards

import "math/big"

// Add returns a + b. The second result is false when one of the
// denominators is not invertible, which cannot happen for points on the
// curve since d is not a square.
func (c *Curve) Add(a, b Point) (Point, bool) {
	t := new(big.Int).Mul(c.D, a.X)
	t.Mul(t, b.X)
	t.Mul(t, a.Y)
	t.Mul(t, b.Y)
	c.mod(t)

	invPlus := c.inverse(new(big.Int).Add(big.NewInt(1), t))
	invMinus := c.inverse(new(big.Int).Sub(big.NewInt(1), t))
	if invPlus == nil || invMinus == nil {
		return Point{}, false
	}

	x := new(big.Int).Mul(a.X, b.Y)
	x.Add(x, new(big.Int).Mul(a.Y, b.X))
	x.Mul(x, invPlus)
	c.mod(x)

	y := new(big.Int).Mul(a.Y, b.Y)
	y.Sub(y, new(big.Int).Mul(a.X, b.X))
	y.Mul(y, invMinus)
	c.mod(y)

	return Point{X: x, Y: y}, true
}

// Negate returns -pt.
func (c *Curve) Negate(pt Point) Point {
	x := new(big.Int).Neg(pt.X)
	return Point{X: c.mod(x), Y: new(big.Int).Set(pt.Y)}
}

// ScalarMult computes n·pt with a Montgomery ladder that always runs over
// the bit length of the curve cardinality.
func (c *Curve) ScalarMult(n *big.Int, pt Point) (Point, bool) {
	k := new(big.Int).Mod(n, c.Cardinality)
	if k.Sign() == 0 || pt.Y.Cmp(big.NewInt(1)) == 0 {
		return c.Identity(), true
	}
	if pt.Y.Cmp(c.minusOne()) == 0 {
		if k.Bit(0) == 1 {
			return Point{X: big.NewInt(0), Y: c.minusOne()}, true
		}
		return c.Identity(), true
	}

	r0 := c.Identity()
	r1 := pt
	bits := c.Cardinality.BitLen()
	var ok bool
	for i := bits - 1; i >= 0; i-- {
		if k.Bit(i) == 1 {
			if r0, ok = c.Add(r0, r1); !ok {
				return Point{}, false
			}
			if r1, ok = c.Add(r1, r1); !ok {
				return Point{}, false
			}
		} else {
			if r1, ok = c.Add(r0, r1); !ok {
				return Point{}, false
			}
			if r0, ok = c.Add(r0, r0); !ok {
				return Point{}, false
			}
		}
	}
	return r0, true
}

// ScalarBaseMult computes n·G.
func (c *Curve) ScalarBaseMult(n *big.Int) Point {
	pt, _ := c.ScalarMult(n, c.G)
	return pt
}

// ScalarMultY computes y(n·P) given only y(P). The ladder runs on the
// projective pair (1+y : 1-y) and the result is recovered as
// (X - Z)/(X + Z). The second result is false when that final division is
// impossible.
func (c *Curve) ScalarMultY(n, y *big.Int) (*big.Int, bool) {
	k := new(big.Int).Mod(n, c.Cardinality)
	one := big.NewInt(1)
	if k.Sign() == 0 || y.Cmp(one) == 0 {
		return big.NewInt(1), true
	}
	if y.Cmp(c.minusOne()) == 0 {
		if k.Bit(0) == 1 {
			return c.minusOne(), true
		}
		return big.NewInt(1), true
	}

	cst := c.inverse(new(big.Int).Sub(one, c.D))
	if cst == nil {
		return nil, false
	}

	px := c.mod(new(big.Int).Add(one, y))
	pz := c.mod(new(big.Int).Sub(one, y))
	qx, qz := big.NewInt(1), big.NewInt(0)
	rx, rz := new(big.Int).Set(px), new(big.Int).Set(pz)

	sq := func(v *big.Int) *big.Int { return c.mod(new(big.Int).Mul(v, v)) }
	mul := func(a, b *big.Int) *big.Int { return c.mod(new(big.Int).Mul(a, b)) }
	add := func(a, b *big.Int) *big.Int { return c.mod(new(big.Int).Add(a, b)) }
	sub := func(a, b *big.Int) *big.Int { return c.mod(new(big.Int).Sub(a, b)) }

	for i := c.Cardinality.BitLen() - 1; i >= 0; i-- {
		bit := k.Bit(i)

		// Differential addition Q + R, whose difference is P.
		t1 := mul(sub(qx, qz), add(rx, rz))
		t2 := mul(add(qx, qz), sub(rx, rz))
		ax := mul(pz, sq(add(t1, t2)))
		az := mul(px, sq(sub(t1, t2)))

		// Doubling of R when the bit is set, of Q otherwise.
		dx, dz := qx, qz
		if bit == 1 {
			dx, dz = rx, rz
		}
		t1 = sq(add(dx, dz))
		t2 = sq(sub(dx, dz))
		t3 := sub(t1, t2)
		bx := mul(t1, t2)
		bz := mul(t3, add(mul(cst, t3), t2))

		if bit == 1 {
			qx, qz, rx, rz = ax, az, bx, bz
		} else {
			qx, qz, rx, rz = bx, bz, ax, az
		}
	}

	den := c.inverse(add(qx, qz))
	if den == nil {
		return nil, false
	}
	return mul(sub(qx, qz), den), true
}

// PointsForY returns the two points whose y coordinate is y. The second
// result is false if y is not the y coordinate of any curve point.
func (c *Curve) PointsForY(y *big.Int) ([2]Point, bool) {
	if y.Sign() < 0 || y.Cmp(c.P) >= 0 {
		return [2]Point{}, false
	}
	one := big.NewInt(1)
	y2 := c.mod(new(big.Int).Mul(y, y))
	num := new(big.Int).Sub(y2, one)
	den := c.inverse(new(big.Int).Sub(new(big.Int).Mul(c.D, y2), one))
	if den == nil {
		return [2]Point{}, false
	}
	x2 := c.mod(num.Mul(num, den))
	x := new(big.Int).ModSqrt(x2, c.P)
	if x == nil {
		return [2]Point{}, false
	}
	negX := c.mod(new(big.Int).Neg(x))
	return [2]Point{
		{X: x, Y: new(big.Int).Set(y)},
		{X: negX, Y: new(big.Int).Set(y)},
	}, true
}

// IsLowOrder reports whether the point with coordinate y lies in the small
// subgroup, that is whether cofactor·P is the identity.
func (c *Curve) IsLowOrder(y *big.Int) bool {
	r, ok := c.ScalarMultY(c.Cofactor, y)
	return !ok || r.Cmp(big.NewInt(1)) == 0
}

// MulAdd computes a·p1 + b·p2.
func (c *Curve) MulAdd(a *big.Int, p1 Point, b *big.Int, p2 Point) (Point, bool) {
	l, ok := c.ScalarMult(a, p1)
	if !ok {
		return Point{}, false
	}
	r, ok := c.ScalarMult(b, p2)
	if !ok {
		return Point{}, false
	}
	return c.Add(l, r)
}

// MulAddY computes a·p1 + b·P2 for both points P2 having y coordinate y2.
func (c *Curve) MulAddY(a *big.Int, p1 Point, b *big.Int, y2 *big.Int) ([]Point, bool) {
	candidates, ok := c.PointsForY(y2)
	if !ok {
		return nil, false
	}
	out := make([]Point, 0, 2)
	for _, p2 := range candidates {
		if r, ok := c.MulAdd(a, p1, b, p2); ok {
			out = append(out, r)
		}
	}
	return out, len(out) > 0
}
