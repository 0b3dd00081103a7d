package crypto_test

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"trustline/internal/codec"
	"trustline/internal/crypto"
	"trustline/internal/crypto/edwards"
)

var curveIDs = []edwards.ID{edwards.MDC, edwards.Curve25519}

func testPRNG(tag byte) crypto.PRNG {
	return crypto.NewPRNG(crypto.Seed(bytes.Repeat([]byte{tag}, crypto.SeedLength)))
}

func TestPRNG_DeterministicPerSeed(t *testing.T) {
	a := testPRNG(1).Bytes(100)
	b := testPRNG(1).Bytes(100)
	c := testPRNG(2).Bytes(100)
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)

	// Successive reads differ.
	p := testPRNG(1)
	require.NotEqual(t, p.Bytes(32), p.Bytes(32))
}

func TestPRNG_BigIntBelow(t *testing.T) {
	p := testPRNG(3)
	bound := big.NewInt(1000)
	for i := 0; i < 500; i++ {
		n, err := p.BigIntBelow(bound)
		require.NoError(t, err)
		require.True(t, n.Sign() >= 0 && n.Cmp(bound) < 0)
	}
	_, err := p.BigIntBelow(big.NewInt(0))
	require.ErrorIs(t, err, crypto.ErrBadBound)

	n, err := crypto.SystemPRNG().BigIntBelow(big.NewInt(7))
	require.NoError(t, err)
	require.True(t, n.Cmp(big.NewInt(7)) < 0)
}

func TestAEAD_RoundTrip(t *testing.T) {
	p := testPRNG(4)
	key := crypto.GenerateAEADKey(p)
	ct, err := crypto.Encrypt(key, []byte("attack at dawn"), p)
	require.NoError(t, err)

	pt, err := crypto.Decrypt(key, ct)
	require.NoError(t, err)
	require.Equal(t, []byte("attack at dawn"), pt)
}

func TestAEAD_FailsClosedOnAnyBitFlip(t *testing.T) {
	p := testPRNG(5)
	key := crypto.GenerateAEADKey(p)
	ct, err := crypto.Encrypt(key, []byte("payload"), p)
	require.NoError(t, err)

	for i := 0; i < len(ct)*8; i++ {
		bad := bytes.Clone(ct)
		bad[i/8] ^= 1 << (i % 8)
		pt, err := crypto.Decrypt(key, bad)
		require.ErrorIs(t, err, crypto.ErrAuthentication, "bit %d", i)
		require.Nil(t, pt)
	}

	_, err = crypto.Decrypt(key, ct[:30])
	require.ErrorIs(t, err, crypto.ErrCiphertextTooShort)

	other := crypto.GenerateAEADKey(p)
	_, err = crypto.Decrypt(other, ct)
	require.ErrorIs(t, err, crypto.ErrAuthentication)
}

func TestAEADKey_EncodeDecode(t *testing.T) {
	key := crypto.AEADKeyFromSeed(crypto.Seed(bytes.Repeat([]byte{9}, 32)))
	got, err := crypto.DecodeAEADKey(key.Encode())
	require.NoError(t, err)
	require.True(t, key.Equal(got))
	require.True(t, key.Equal(crypto.AEADKeyFromSeed(crypto.Seed(bytes.Repeat([]byte{9}, 32)))))
}

func TestDH_Symmetry(t *testing.T) {
	p := testPRNG(6)
	for _, id := range curveIDs {
		a, err := crypto.GenerateDHKeyPair(id, p)
		require.NoError(t, err)
		b, err := crypto.GenerateDHKeyPair(id, p)
		require.NoError(t, err)

		ab, err := crypto.SharedSeed(b.Public, a.Private)
		require.NoError(t, err)
		ba, err := crypto.SharedSeed(a.Public, b.Private)
		require.NoError(t, err)
		require.Equal(t, ab, ba)
		require.Len(t, ab, 32)
	}
}

func TestDH_AlgorithmMismatch(t *testing.T) {
	p := testPRNG(7)
	a, err := crypto.GenerateDHKeyPair(edwards.MDC, p)
	require.NoError(t, err)
	b, err := crypto.GenerateDHKeyPair(edwards.Curve25519, p)
	require.NoError(t, err)
	_, err = crypto.SharedSeed(b.Public, a.Private)
	require.ErrorIs(t, err, crypto.ErrAlgorithmMismatch)
}

func TestKEM_RoundTripAndMismatch(t *testing.T) {
	p := testPRNG(8)
	for _, id := range curveIDs {
		kp, err := crypto.GenerateKEMKeyPair(id, p)
		require.NoError(t, err)
		other, err := crypto.GenerateKEMKeyPair(id, p)
		require.NoError(t, err)

		ct, key, err := crypto.Encapsulate(kp.Public, p)
		require.NoError(t, err)
		got, err := crypto.Decapsulate(kp.Private, ct)
		require.NoError(t, err)
		require.True(t, key.Equal(got))

		wrong, err := crypto.Decapsulate(other.Private, ct)
		if err == nil {
			require.False(t, key.Equal(wrong))
		}

		// Fresh randomness per call.
		ct2, _, err := crypto.Encapsulate(kp.Public, p)
		require.NoError(t, err)
		require.NotEqual(t, ct, ct2)
	}
}

func TestKEM_RejectsDegenerateCiphertexts(t *testing.T) {
	p := testPRNG(9)
	for _, id := range curveIDs {
		c, err := edwards.ByID(id)
		require.NoError(t, err)
		kp, err := crypto.GenerateKEMKeyPair(id, p)
		require.NoError(t, err)

		minusOne := new(big.Int).Sub(c.P, big.NewInt(1))
		for _, y := range []*big.Int{big.NewInt(0), big.NewInt(1), minusOne, c.P} {
			ct := make([]byte, 32)
			y.FillBytes(ct)
			_, err := crypto.Decapsulate(kp.Private, ct)
			require.ErrorIs(t, err, crypto.ErrDegenerate, "%s y=%s", c.Name, y)
		}
	}
}

func TestSealOpen_Hello(t *testing.T) {
	p := testPRNG(10)
	bob, err := crypto.GenerateKEMKeyPair(edwards.Curve25519, p)
	require.NoError(t, err)
	eve, err := crypto.GenerateKEMKeyPair(edwards.Curve25519, p)
	require.NoError(t, err)

	sealed, err := crypto.Seal(bob.Public, []byte("hello"), p)
	require.NoError(t, err)

	pt, err := crypto.Open(bob.Private, sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), pt)

	pt, err = crypto.Open(eve.Private, sealed)
	require.Error(t, err)
	require.Nil(t, pt)
}

func TestSignature_SignVerify(t *testing.T) {
	p := testPRNG(11)
	for _, id := range curveIDs {
		kp, err := crypto.GenerateSignatureKeyPair(id, p)
		require.NoError(t, err)
		sig, err := crypto.Sign(kp, []byte("message"), p)
		require.NoError(t, err)
		require.NoError(t, crypto.Verify(kp.Public, []byte("message"), sig))

		require.ErrorIs(t, crypto.Verify(kp.Public, []byte("messagf"), sig), crypto.ErrBadSignature)
		bad := bytes.Clone(sig)
		bad[40] ^= 0x01
		require.ErrorIs(t, crypto.Verify(kp.Public, []byte("message"), bad), crypto.ErrBadSignature)

		other, err := crypto.GenerateSignatureKeyPair(id, p)
		require.NoError(t, err)
		require.ErrorIs(t, crypto.Verify(other.Public, []byte("message"), sig), crypto.ErrBadSignature)
	}
}

func TestKeyEncoding_RoundTripAndUnknownIDs(t *testing.T) {
	p := testPRNG(12)
	kp, err := crypto.GenerateKEMKeyPair(edwards.MDC, p)
	require.NoError(t, err)

	got, err := crypto.DecodeKeyPair(crypto.EncodeKeyPair(kp))
	require.NoError(t, err)
	require.True(t, kp.Public.Equal(got.Public))
	require.Zero(t, kp.Private.Scalar.Cmp(got.Private.Scalar))

	compact, err := crypto.ParseCompactPublicKey(crypto.ClassPublicKeyEncryption, kp.Public.Compact())
	require.NoError(t, err)
	require.True(t, kp.Public.Equal(compact))

	// Unknown implementation byte.
	raw := kp.Public.Compact()
	raw[0] = 0x7f
	_, err = crypto.ParseCompactPublicKey(crypto.ClassPublicKeyEncryption, raw)
	require.ErrorIs(t, err, crypto.ErrUnknownAlgorithm)

	// Unknown class byte in a full encoding.
	forged := codec.Tagged(codec.TagPublicKey, append(
		codec.Bytes([]byte{0x55, 0x01}).Raw(),
		codec.Dict(map[string]codec.Encoded{"y": codec.Bytes([]byte("not a number"))}).Raw()...,
	))
	_, err = crypto.DecodePublicKey(forged)
	require.ErrorIs(t, err, crypto.ErrUnknownAlgorithm)
}

func TestIdentity_BytesRoundTrip(t *testing.T) {
	p := testPRNG(13)
	id, err := crypto.GenerateOwnedIdentity(edwards.Curve25519, p)
	require.NoError(t, err)

	raw := id.Public().Bytes()
	require.Len(t, raw, crypto.IdentityLength)
	pub, err := crypto.ParsePublicIdentity(raw)
	require.NoError(t, err)
	require.True(t, pub.Sign.Equal(id.Sign.Public))
	require.True(t, pub.Encrypt.Equal(id.Encrypt.Public))

	decoded, err := crypto.DecodeOwnedIdentity(id.Encode())
	require.NoError(t, err)
	require.Equal(t, raw, decoded.Public().Bytes())
	require.Len(t, crypto.Fingerprint(raw), 20)
}

func TestCommitment(t *testing.T) {
	p := testPRNG(14)
	c, d := crypto.Commit([]byte("tag"), []byte("seed-value"), p)
	v, err := crypto.OpenCommitment([]byte("tag"), c, d)
	require.NoError(t, err)
	require.Equal(t, []byte("seed-value"), v)

	_, err = crypto.OpenCommitment([]byte("other"), c, d)
	require.ErrorIs(t, err, crypto.ErrBadDecommitment)
	d[0] ^= 1
	_, err = crypto.OpenCommitment([]byte("tag"), c, d)
	require.ErrorIs(t, err, crypto.ErrBadDecommitment)
}

func TestSAS_FormatAndAsymmetry(t *testing.T) {
	a := bytes.Repeat([]byte{1}, 32)
	b := bytes.Repeat([]byte{2}, 32)
	s := crypto.SAS(a, b)
	require.Len(t, s, crypto.SASDigits)
	require.Equal(t, s, crypto.SAS(a, b))
	require.True(t, crypto.CheckSAS(s, crypto.SAS(a, b)))
	require.False(t, crypto.CheckSAS("abcd", s))
}

func TestSeedFromKeys_OrderMatters(t *testing.T) {
	k1, k2 := []byte("one"), []byte("two")
	require.Equal(t, crypto.SeedFromKeys("x", k1, k2), crypto.SeedFromKeys("x", k1, k2))
	require.NotEqual(t, crypto.SeedFromKeys("x", k1, k2), crypto.SeedFromKeys("x", k2, k1))
	require.NotEqual(t, crypto.SeedFromKeys("x", k1, k2), crypto.SeedFromKeys("y", k1, k2))
}
