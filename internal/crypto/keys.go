package crypto

import (
	"errors"
	"fmt"
	"math/big"

	"trustline/internal/codec"
	"trustline/internal/crypto/edwards"
)

// Class is the algorithm class byte of an encoded key.
type Class byte

const (
	ClassAuthenticatedEncryption Class = 0x02
	ClassPublicKeyEncryption     Class = 0x12
	ClassSignature               Class = 0x14
	ClassDH                      Class = 0x16
)

// CompactKeyLength is the size of a compact public key: one implementation
// byte followed by the 32-byte y coordinate.
const CompactKeyLength = 33

var (
	// ErrUnknownAlgorithm is returned when a key's class or implementation
	// byte is not recognised.
	ErrUnknownAlgorithm = errors.New("crypto: unknown algorithm")
	// ErrAlgorithmMismatch is returned when keys of different algorithms are
	// combined.
	ErrAlgorithmMismatch = errors.New("crypto: algorithm mismatch")
	// ErrInvalidKey is returned for keys whose fields are malformed or whose
	// point is not on the curve.
	ErrInvalidKey = errors.New("crypto: invalid key")
)

func knownClass(c Class) bool {
	switch c {
	case ClassPublicKeyEncryption, ClassSignature, ClassDH:
		return true
	default:
		return false
	}
}

// PublicKey is an Edwards-curve public key. X is optional; Y alone
// identifies the key for every operation in this package.
type PublicKey struct {
	Class Class
	Curve edwards.ID
	X     *big.Int
	Y     *big.Int
}

// PrivateKey is the scalar matching a PublicKey.
type PrivateKey struct {
	Class  Class
	Curve  edwards.ID
	Scalar *big.Int
}

// KeyPair holds both halves of an asymmetric key.
type KeyPair struct {
	Public  PublicKey
	Private PrivateKey
}

// generateKeyPair draws a keypair of class on curve id.
func generateKeyPair(class Class, id edwards.ID, prng PRNG) (KeyPair, error) {
	c, err := edwards.ByID(id)
	if err != nil {
		return KeyPair{}, err
	}
	k, pt, err := c.RandomScalarAndPoint(prng)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{
		Public:  PublicKey{Class: class, Curve: id, X: pt.X, Y: pt.Y},
		Private: PrivateKey{Class: class, Curve: id, Scalar: k},
	}, nil
}

// Equal compares class, curve and y coordinate.
func (k PublicKey) Equal(o PublicKey) bool {
	return k.Class == o.Class && k.Curve == o.Curve && k.Y != nil && o.Y != nil && k.Y.Cmp(o.Y) == 0
}

// Compact returns impl ‖ y(32).
func (k PublicKey) Compact() []byte {
	out := make([]byte, CompactKeyLength)
	out[0] = byte(k.Curve)
	k.Y.FillBytes(out[1:])
	return out
}

// ParseCompactPublicKey decodes a compact key of the given class and checks
// that y is the coordinate of a curve point.
func ParseCompactPublicKey(class Class, b []byte) (PublicKey, error) {
	if len(b) != CompactKeyLength {
		return PublicKey{}, fmt.Errorf("%w: compact length %d", ErrInvalidKey, len(b))
	}
	if !knownClass(class) {
		return PublicKey{}, fmt.Errorf("%w: class %#02x", ErrUnknownAlgorithm, byte(class))
	}
	c, err := edwards.ByID(edwards.ID(b[0]))
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, err)
	}
	y := new(big.Int).SetBytes(b[1:])
	if _, ok := c.PointsForY(y); !ok {
		return PublicKey{}, fmt.Errorf("%w: not on curve", ErrInvalidKey)
	}
	return PublicKey{Class: class, Curve: c.ID, Y: y}, nil
}

// Encode serializes the key as a public key unit.
func (k PublicKey) Encode() codec.Encoded {
	fields := map[string]codec.Encoded{"y": mustBig(k.Y)}
	if k.X != nil {
		fields["x"] = mustBig(k.X)
	}
	return encodeKey(codec.TagPublicKey, k.Class, byte(k.Curve), fields)
}

// Encode serializes the key as a private key unit.
func (k PrivateKey) Encode() codec.Encoded {
	return encodeKey(codec.TagPrivateKey, k.Class, byte(k.Curve), map[string]codec.Encoded{"n": mustBig(k.Scalar)})
}

// DecodePublicKey parses a public key unit. The class and implementation
// bytes are checked before any curve field is read.
func DecodePublicKey(e codec.Encoded) (PublicKey, error) {
	class, impl, fields, err := splitKey(e, codec.TagPublicKey)
	if err != nil {
		return PublicKey{}, err
	}
	c, err := curveFor(class, impl)
	if err != nil {
		return PublicKey{}, err
	}
	yEnc, ok := fields["y"]
	if !ok {
		return PublicKey{}, fmt.Errorf("%w: missing y", ErrInvalidKey)
	}
	y, err := yEnc.AsBigUint()
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	k := PublicKey{Class: class, Curve: c.ID, Y: y}
	if xEnc, ok := fields["x"]; ok {
		x, err := xEnc.AsBigUint()
		if err != nil {
			return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		if !c.IsOnCurve(edwards.Point{X: x, Y: y}) {
			return PublicKey{}, fmt.Errorf("%w: not on curve", ErrInvalidKey)
		}
		k.X = x
	} else if _, ok := c.PointsForY(y); !ok {
		return PublicKey{}, fmt.Errorf("%w: not on curve", ErrInvalidKey)
	}
	return k, nil
}

// DecodePrivateKey parses a private key unit.
func DecodePrivateKey(e codec.Encoded) (PrivateKey, error) {
	class, impl, fields, err := splitKey(e, codec.TagPrivateKey)
	if err != nil {
		return PrivateKey{}, err
	}
	c, err := curveFor(class, impl)
	if err != nil {
		return PrivateKey{}, err
	}
	nEnc, ok := fields["n"]
	if !ok {
		return PrivateKey{}, fmt.Errorf("%w: missing scalar", ErrInvalidKey)
	}
	n, err := nEnc.AsBigUint()
	if err != nil || n.Cmp(c.Q) >= 0 {
		return PrivateKey{}, fmt.Errorf("%w: scalar", ErrInvalidKey)
	}
	return PrivateKey{Class: class, Curve: c.ID, Scalar: n}, nil
}

// EncodeKeyPair encodes both halves as a list.
func EncodeKeyPair(kp KeyPair) codec.Encoded {
	return codec.List(kp.Public.Encode(), kp.Private.Encode())
}

// DecodeKeyPair parses the output of EncodeKeyPair.
func DecodeKeyPair(e codec.Encoded) (KeyPair, error) {
	items, err := e.ListOf(2)
	if err != nil {
		return KeyPair{}, err
	}
	pub, err := DecodePublicKey(items[0])
	if err != nil {
		return KeyPair{}, err
	}
	priv, err := DecodePrivateKey(items[1])
	if err != nil {
		return KeyPair{}, err
	}
	if pub.Class != priv.Class || pub.Curve != priv.Curve {
		return KeyPair{}, ErrAlgorithmMismatch
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

func curveFor(class Class, impl byte) (*edwards.Curve, error) {
	if !knownClass(class) {
		return nil, fmt.Errorf("%w: class %#02x", ErrUnknownAlgorithm, byte(class))
	}
	c, err := edwards.ByID(edwards.ID(impl))
	if err != nil {
		return nil, fmt.Errorf("%w: impl %#02x", ErrUnknownAlgorithm, impl)
	}
	return c, nil
}

func curveOf(id edwards.ID) (*edwards.Curve, error) {
	c, err := edwards.ByID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, err)
	}
	return c, nil
}

func mustBig(n *big.Int) codec.Encoded {
	e, err := codec.BigUint(n, 32)
	if err != nil {
		panic(err) // coordinates and scalars are reduced below a 256-bit prime
	}
	return e
}

func encodeKey(tag codec.Tag, class Class, impl byte, fields map[string]codec.Encoded) codec.Encoded {
	return codec.Tagged(tag, append(codec.Bytes([]byte{byte(class), impl}).Raw(), codec.Dict(fields).Raw()...))
}

// splitKey reads the algorithm header and field dictionary of a key unit.
func splitKey(e codec.Encoded, tag codec.Tag) (Class, byte, map[string]codec.Encoded, error) {
	if e.Tag() != tag {
		return 0, 0, nil, fmt.Errorf("%w: %v", ErrInvalidKey, codec.ErrTagMismatch)
	}
	parts, err := codec.ParseAll(e.Inner())
	if err != nil || len(parts) != 2 {
		return 0, 0, nil, fmt.Errorf("%w: layout", ErrInvalidKey)
	}
	hdr, err := parts[0].AsBytes()
	if err != nil || len(hdr) != 2 {
		return 0, 0, nil, fmt.Errorf("%w: header", ErrInvalidKey)
	}
	fields, err := parts[1].AsDict()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("%w: fields", ErrInvalidKey)
	}
	return Class(hdr[0]), hdr[1], fields, nil
}

func fieldBytes(fields map[string]codec.Encoded, name string, n int) ([]byte, error) {
	f, ok := fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidKey, name)
	}
	b, err := f.AsBytes()
	if err != nil || len(b) != n {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, name)
	}
	return b, nil
}
