package edwards_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"trustline/internal/crypto/edwards"
)

func n(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, s)
	return v
}

func curves() []*edwards.Curve {
	return []*edwards.Curve{edwards.NewMDC(), edwards.NewCurve25519()}
}

func TestGenerator_OnCurveAndOfOrderQ(t *testing.T) {
	for _, c := range curves() {
		require.True(t, c.IsOnCurve(c.G), c.Name)
		pt, ok := c.ScalarMult(c.Q, c.G)
		require.True(t, ok)
		require.True(t, pt.Equal(c.Identity()), c.Name)
		require.Zero(t, new(big.Int).Mul(c.Q, c.Cofactor).Cmp(c.Cardinality))
	}
}

func TestByID(t *testing.T) {
	c, err := edwards.ByID(edwards.Curve25519)
	require.NoError(t, err)
	require.Equal(t, "Curve25519", c.Name)

	_, err = edwards.ByID(0x07)
	require.ErrorIs(t, err, edwards.ErrUnknownCurve)
}

func TestMDC_AddKnownVector(t *testing.T) {
	c := edwards.NewMDC()
	p := edwards.Point{
		X: n(t, "26926286912707212984851849530098714424667601252981694206161593602596842431391"),
		Y: n(t, "5456905123696657259759107481936513081225861366744333629652350178402361417785"),
	}
	q := edwards.Point{
		X: n(t, "40925455819463360826860655029472922055904763516916222833288091586413709973852"),
		Y: n(t, "91190939406558957767439196887396192154354052008741953387657582196834655948691"),
	}
	want := edwards.Point{
		X: n(t, "24412056480195062022556665521641511918322922555493540862278897801578629047523"),
		Y: n(t, "84599690519184401412549724368908336923446920305826884235247446681859838035108"),
	}
	got, ok := c.Add(p, q)
	require.True(t, ok)
	require.True(t, got.Equal(want))
}

func TestMDC_DoubleKnownVector(t *testing.T) {
	c := edwards.NewMDC()
	p := edwards.Point{
		X: n(t, "63818240566781518740636218113320467026060602342834058135906153766031597012147"),
		Y: n(t, "36631876470030997325435186440201271827372980350334529431614623981369427578982"),
	}
	want := edwards.Point{
		X: n(t, "5341886641984798922505720296465259185834919606160597102391932801121735222363"),
		Y: n(t, "78714519783538993017271773696077087272897326208082857761287466498510289109908"),
	}
	got, ok := c.Add(p, p)
	require.True(t, ok)
	require.True(t, got.Equal(want))

	viaLadder, ok := c.ScalarMult(big.NewInt(2), p)
	require.True(t, ok)
	require.True(t, viaLadder.Equal(want))
}

func TestCurve25519_PointsForY(t *testing.T) {
	c := edwards.NewCurve25519()
	y := n(t, "28948022309329048855892746252171976963317496166410141009864396001978282409972")
	pts, ok := c.PointsForY(y)
	require.True(t, ok)

	got := []string{pts[0].X.String(), pts[1].X.String()}
	require.ElementsMatch(t, []string{
		"38917511199502689536259284455909343854654668289251455506793045931053174163997",
		"18978533419155408175526208048434610071980324043568826512935746072903390655952",
	}, got)
	for _, p := range pts {
		require.True(t, c.IsOnCurve(p))
	}

	_, ok = c.PointsForY(new(big.Int).Add(y, big.NewInt(1)))
	require.False(t, ok)
}

func TestScalarMultY_MatchesFullLadder(t *testing.T) {
	for _, c := range curves() {
		scalars := []*big.Int{
			big.NewInt(2),
			big.NewInt(3),
			big.NewInt(5),
			n(t, "12345678901234567890"),
			new(big.Int).Sub(c.Q, big.NewInt(1)),
		}
		for _, k := range scalars {
			full, ok := c.ScalarMult(k, c.G)
			require.True(t, ok)
			y, ok := c.ScalarMultY(k, c.G.Y)
			require.True(t, ok)
			require.Zero(t, full.Y.Cmp(y), "%s k=%s", c.Name, k)
		}
	}
}

func TestScalarMultY_IgnoresSignOfX(t *testing.T) {
	c := edwards.NewCurve25519()
	k := big.NewInt(977)
	a, ok := c.ScalarMult(k, c.G)
	require.True(t, ok)
	b, ok := c.ScalarMult(k, c.Negate(c.G))
	require.True(t, ok)
	require.Zero(t, a.Y.Cmp(b.Y))
	require.Zero(t, a.X.Cmp(new(big.Int).Mod(new(big.Int).Neg(b.X), c.P)))
}

func TestScalarMult_SmallOrderSpecialCases(t *testing.T) {
	c := edwards.NewMDC()
	minusOne := new(big.Int).Sub(c.P, big.NewInt(1))

	y, ok := c.ScalarMultY(big.NewInt(3), minusOne)
	require.True(t, ok)
	require.Zero(t, y.Cmp(minusOne))

	y, ok = c.ScalarMultY(big.NewInt(4), minusOne)
	require.True(t, ok)
	require.Zero(t, y.Cmp(big.NewInt(1)))

	y, ok = c.ScalarMultY(big.NewInt(0), c.G.Y)
	require.True(t, ok)
	require.Zero(t, y.Cmp(big.NewInt(1)))

	require.True(t, c.IsLowOrder(big.NewInt(1)))
	require.True(t, c.IsLowOrder(minusOne))
	require.False(t, c.IsLowOrder(c.G.Y))
}

func TestMulAddY_ContainsExpected(t *testing.T) {
	c := edwards.NewCurve25519()
	a, b := big.NewInt(11), big.NewInt(29)
	p2 := c.ScalarBaseMult(big.NewInt(123456))

	want, ok := c.MulAdd(a, c.G, b, p2)
	require.True(t, ok)

	cands, ok := c.MulAddY(a, c.G, b, p2.Y)
	require.True(t, ok)
	found := false
	for _, p := range cands {
		if p.Equal(want) {
			found = true
		}
	}
	require.True(t, found)
}
