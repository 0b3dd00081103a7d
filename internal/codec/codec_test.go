package codec_test

import (
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trustline/internal/codec"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestBytes_KnownEncoding(t *testing.T) {
	require.Equal(t, mustHex(t, "000000000100"), codec.Bytes([]byte{0x00}).Raw())
}

func TestList_KnownEncoding(t *testing.T) {
	e := codec.List(codec.Bytes([]byte{1, 2, 3, 4}))
	require.Equal(t, mustHex(t, "0300000009"+"000000000401020304"), e.Raw())
}

func TestBigUint_KnownEncoding(t *testing.T) {
	n, ok := new(big.Int).SetString("72399060075591592624572526114977173298662156850259520786814677005338978386724", 10)
	require.True(t, ok)

	e, err := codec.BigUint(n, 32)
	require.NoError(t, err)
	require.Equal(t, mustHex(t, "8000000020a0106a755d1d0e97285c2a7a5c0f7d07c19573f9145747b140bed416dc118324"), e.Raw())

	_, err = codec.BigUint(n, 31)
	require.Error(t, err)

	got, err := e.AsBigUint()
	require.NoError(t, err)
	require.Zero(t, n.Cmp(got))
}

func TestRoundTrip_Primitives(t *testing.T) {
	now := time.UnixMilli(time.Now().UnixMilli())
	cases := []codec.Encoded{
		codec.Bytes(nil),
		codec.Bytes([]byte("payload")),
		codec.Int(0),
		codec.Int(-42),
		codec.Int(1 << 62),
		codec.Bool(true),
		codec.Bool(false),
		codec.String("héllo"),
		codec.Time(now),
	}
	for _, c := range cases {
		got, err := codec.Parse(c.Raw())
		require.NoError(t, err)
		require.True(t, c.Equal(got))
	}

	v, err := codec.Int(-42).AsInt()
	require.NoError(t, err)
	require.EqualValues(t, -42, v)

	s, err := codec.String("héllo").AsString()
	require.NoError(t, err)
	require.Equal(t, "héllo", s)

	ts, err := codec.Time(now).AsTime()
	require.NoError(t, err)
	require.True(t, now.Equal(ts))
}

func TestRoundTrip_DeepNesting(t *testing.T) {
	e := codec.Bytes([]byte{0xaa})
	for i := 0; i < 64; i++ {
		if i%2 == 0 {
			e = codec.List(codec.Int(int64(i)), e)
		} else {
			e = codec.Dict(map[string]codec.Encoded{"k": e, "n": codec.Int(int64(i))})
		}
	}
	got, err := codec.Parse(e.Raw())
	require.NoError(t, err)
	require.True(t, e.Equal(got))

	// Walk back down to the leaf.
	cur := got
	for i := 63; i >= 0; i-- {
		if i%2 == 0 {
			items, err := cur.ListOf(2)
			require.NoError(t, err)
			cur = items[1]
		} else {
			m, err := cur.AsDict()
			require.NoError(t, err)
			cur = m["k"]
		}
	}
	leaf, err := cur.AsBytes()
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa}, leaf)
}

func TestDict_Deterministic(t *testing.T) {
	a := codec.Dict(map[string]codec.Encoded{"b": codec.Int(2), "a": codec.Int(1), "c": codec.Bool(true)})
	b := codec.Dict(map[string]codec.Encoded{"c": codec.Bool(true), "a": codec.Int(1), "b": codec.Int(2)})
	require.True(t, a.Equal(b))
}

func TestParse_Rejects(t *testing.T) {
	valid := codec.List(codec.Int(1), codec.Bytes([]byte("x"))).Raw()

	_, err := codec.Parse(valid[:3])
	require.ErrorIs(t, err, codec.ErrTruncated)

	_, err = codec.Parse(valid[:len(valid)-1])
	require.ErrorIs(t, err, codec.ErrTruncated)

	_, err = codec.Parse(append(append([]byte{}, valid...), 0x00))
	require.ErrorIs(t, err, codec.ErrTrailing)

	_, err = codec.ParsePadded(append(append([]byte{}, valid...), 0x00, 0x00))
	require.NoError(t, err)

	_, err = codec.ParsePadded(append(append([]byte{}, valid...), 0x01))
	require.ErrorIs(t, err, codec.ErrTrailing)

	_, err = codec.Parse([]byte{0x07, 0, 0, 0, 0})
	require.ErrorIs(t, err, codec.ErrUnknownTag)

	nested := codec.Tagged(codec.TagList, []byte{0x05, 0, 0, 0, 0})
	e, err := codec.Parse(nested.Raw())
	require.NoError(t, err)
	_, err = e.AsList()
	require.ErrorIs(t, err, codec.ErrUnknownTag)
}

func TestAccessors_Reject(t *testing.T) {
	_, err := codec.Int(3).AsBytes()
	require.ErrorIs(t, err, codec.ErrTagMismatch)

	_, err = codec.Tagged(codec.TagInt, []byte{0, 1}).AsInt()
	require.ErrorIs(t, err, codec.ErrMalformed)

	_, err = codec.Tagged(codec.TagBool, []byte{2}).AsBool()
	require.ErrorIs(t, err, codec.ErrMalformed)

	_, err = codec.List(codec.Int(1)).ListOf(2)
	require.ErrorIs(t, err, codec.ErrArity)

	// Inner element claims more bytes than the list holds.
	bad := codec.Tagged(codec.TagList, []byte{0x00, 0x00, 0x00, 0x00, 0x09, 0x01})
	_, err = bad.AsList()
	require.ErrorIs(t, err, codec.ErrTruncated)

	dup := codec.Tagged(codec.TagDict, append(
		append(codec.Bytes([]byte("k")).Raw(), codec.Int(1).Raw()...),
		append(codec.Bytes([]byte("k")).Raw(), codec.Int(2).Raw()...)...,
	))
	_, err = dup.AsDict()
	require.ErrorIs(t, err, codec.ErrDuplicateKey)

	nonBytesKey := codec.Tagged(codec.TagDict, append(codec.Int(1).Raw(), codec.Int(2).Raw()...))
	_, err = nonBytesKey.AsDict()
	require.ErrorIs(t, err, codec.ErrMalformed)
}
