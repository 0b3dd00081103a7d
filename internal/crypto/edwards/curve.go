package edwards

import (
	"errors"
	"fmt"
	"math/big"
)

// ID is the one byte curve identifier carried in key encodings.
type ID byte

const (
	MDC        ID = 0x00
	Curve25519 ID = 0x01
)

// ErrUnknownCurve is returned by ByID for unregistered identifiers.
var ErrUnknownCurve = errors.New("edwards: unknown curve id")

// Point is an affine point. Coordinates are always reduced modulo p.
type Point struct {
	X, Y *big.Int
}

// Curve holds the parameters of an Edwards curve and its distinguished
// subgroup of prime order Q generated by G.
type Curve struct {
	ID          ID
	Name        string
	P           *big.Int // field prime
	D           *big.Int
	G           Point
	Q           *big.Int // order of G
	Cofactor    *big.Int
	Cardinality *big.Int // Cofactor * Q

	// ByteLength is the size of a serialized coordinate or scalar.
	ByteLength int
}

var (
	curveMDC = &Curve{
		ID:          MDC,
		Name:        "MDC",
		P:           mustInt("109112363276961190442711090369149551676330307646118204517771511330536253156371"),
		D:           mustInt("39384817741350628573161184301225915800358770588933756071948264625804612259721"),
		G:           Point{X: mustInt("82549803222202399340024462032964942512025856818700414254726364205096731424315"), Y: mustInt("91549545637415734422658288799119041756378259523097147807813396915125932811445")},
		Q:           mustInt("27278090819240297610677772592287387918930509574048068887630978293185521973243"),
		Cofactor:    big.NewInt(4),
		Cardinality: mustInt("109112363276961190442711090369149551675722038296192275550523913172742087892972"),
		ByteLength:  32,
	}
	curve25519 = &Curve{
		ID:          Curve25519,
		Name:        "Curve25519",
		P:           mustInt("57896044618658097711785492504343953926634992332820282019728792003956564819949"),
		D:           mustInt("20800338683988658368647408995589388737092878452977063003340006470870624536394"),
		G:           Point{X: mustInt("9771384041963202563870679428059935816164187996444183106833894008023910952347"), Y: mustInt("46316835694926478169428394003475163141307993866256225615783033603165251855960")},
		Q:           mustInt("7237005577332262213973186563042994240857116359379907606001950938285454250989"),
		Cofactor:    big.NewInt(8),
		Cardinality: mustInt("57896044618658097711785492504343953926856930875039260848015607506283634007912"),
		ByteLength:  32,
	}
)

func mustInt(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("edwards: bad constant " + s)
	}
	return n
}

// ByID returns the curve registered under id.
func ByID(id ID) (*Curve, error) {
	switch id {
	case MDC:
		return curveMDC, nil
	case Curve25519:
		return curve25519, nil
	default:
		return nil, fmt.Errorf("%w: %#02x", ErrUnknownCurve, byte(id))
	}
}

// NewMDC returns the MDC curve.
func NewMDC() *Curve { return curveMDC }

// NewCurve25519 returns Curve25519 in Edwards form.
func NewCurve25519() *Curve { return curve25519 }

// Identity returns the neutral element (0, 1).
func (c *Curve) Identity() Point { return Point{X: big.NewInt(0), Y: big.NewInt(1)} }

func (c *Curve) mod(x *big.Int) *big.Int { return x.Mod(x, c.P) }

// inverse returns x⁻¹ mod p, or nil if x ≡ 0.
func (c *Curve) inverse(x *big.Int) *big.Int {
	r := new(big.Int).Mod(x, c.P)
	if r.Sign() == 0 {
		return nil
	}
	return r.ModInverse(r, c.P)
}

func (c *Curve) minusOne() *big.Int { return new(big.Int).Sub(c.P, big.NewInt(1)) }

// IsOnCurve reports whether pt satisfies the curve equation.
func (c *Curve) IsOnCurve(pt Point) bool {
	if pt.X == nil || pt.Y == nil {
		return false
	}
	if pt.X.Sign() < 0 || pt.X.Cmp(c.P) >= 0 || pt.Y.Sign() < 0 || pt.Y.Cmp(c.P) >= 0 {
		return false
	}
	x2 := new(big.Int).Mul(pt.X, pt.X)
	y2 := new(big.Int).Mul(pt.Y, pt.Y)
	lhs := c.mod(new(big.Int).Add(x2, y2))
	rhs := new(big.Int).Mul(c.D, x2)
	rhs.Mul(rhs, y2)
	rhs.Add(rhs, big.NewInt(1))
	c.mod(rhs)
	return lhs.Cmp(rhs) == 0
}

// Equal compares two points coordinate-wise.
func (p Point) Equal(o Point) bool {
	return p.X.Cmp(o.X) == 0 && p.Y.Cmp(o.Y) == 0
}
