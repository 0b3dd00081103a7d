package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"
	"unicode/utf8"
)

// Tag identifies the type of an encoded unit.
type Tag byte

const (
	TagBytes        Tag = 0x00
	TagInt          Tag = 0x01
	TagBool         Tag = 0x02
	TagList         Tag = 0x03
	TagDict         Tag = 0x04
	TagBigUint      Tag = 0x80
	TagSymmetricKey Tag = 0x90
	TagPublicKey    Tag = 0x91
	TagPrivateKey   Tag = 0x92
)

const headerLen = 5

// Known reports whether t is one of the defined tags.
func (t Tag) Known() bool {
	switch t {
	case TagBytes, TagInt, TagBool, TagList, TagDict,
		TagBigUint, TagSymmetricKey, TagPublicKey, TagPrivateKey:
		return true
	}
	return false
}

var (
	// ErrTruncated is returned when a header or payload is shorter than declared.
	ErrTruncated = errors.New("codec: truncated input")
	// ErrTrailing is returned by strict parsing when bytes follow the unit.
	ErrTrailing = errors.New("codec: trailing bytes")
	// ErrUnknownTag is returned by parsing when a unit has an undefined tag.
	ErrUnknownTag = errors.New("codec: unknown tag")
	// ErrTagMismatch is returned when an accessor is used on the wrong type.
	ErrTagMismatch = errors.New("codec: tag mismatch")
	// ErrMalformed is returned for payloads that violate the type's layout.
	ErrMalformed = errors.New("codec: malformed payload")
	// ErrDuplicateKey is returned when a dictionary repeats a key.
	ErrDuplicateKey = errors.New("codec: duplicate dictionary key")
	// ErrArity is returned when a list does not have the expected length.
	ErrArity = errors.New("codec: unexpected list length")
)

// Encoded is a single encoded unit. The zero value is invalid.
type Encoded struct {
	raw []byte
}

// Tagged builds a unit from a tag and its inner payload.
func Tagged(tag Tag, inner []byte) Encoded {
	raw := make([]byte, headerLen+len(inner))
	raw[0] = byte(tag)
	binary.BigEndian.PutUint32(raw[1:headerLen], uint32(len(inner)))
	copy(raw[headerLen:], inner)
	return Encoded{raw: raw}
}

// Bytes encodes a raw byte string.
func Bytes(b []byte) Encoded { return Tagged(TagBytes, b) }

// String encodes s as UTF-8 bytes.
func String(s string) Encoded { return Tagged(TagBytes, []byte(s)) }

// Int encodes a signed 64-bit integer.
func Int(v int64) Encoded {
	var inner [8]byte
	binary.BigEndian.PutUint64(inner[:], uint64(v))
	return Tagged(TagInt, inner[:])
}

// Bool encodes a boolean.
func Bool(v bool) Encoded {
	if v {
		return Tagged(TagBool, []byte{0x01})
	}
	return Tagged(TagBool, []byte{0x00})
}

// Time encodes t as milliseconds since the Unix epoch.
func Time(t time.Time) Encoded { return Int(t.UnixMilli()) }

// List encodes items in order.
func List(items ...Encoded) Encoded {
	n := 0
	for _, it := range items {
		n += len(it.raw)
	}
	inner := make([]byte, 0, n)
	for _, it := range items {
		inner = append(inner, it.raw...)
	}
	return Tagged(TagList, inner)
}

// Dict encodes m with keys in sorted byte order so that equal maps encode
// identically.
func Dict(m map[string]Encoded) Encoded {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var inner []byte
	for _, k := range keys {
		inner = append(inner, Bytes([]byte(k)).raw...)
		inner = append(inner, m[k].raw...)
	}
	return Tagged(TagDict, inner)
}

// BigUint encodes a non-negative integer as a fixed-length big-endian
// magnitude. It fails if n does not fit in length bytes.
func BigUint(n *big.Int, length int) (Encoded, error) {
	if n.Sign() < 0 {
		return Encoded{}, fmt.Errorf("codec: negative big integer")
	}
	if (n.BitLen()+7)/8 > length {
		return Encoded{}, fmt.Errorf("codec: big integer does not fit in %d bytes", length)
	}
	inner := make([]byte, length)
	n.FillBytes(inner)
	return Tagged(TagBigUint, inner), nil
}

// Parse decodes exactly one unit from b and rejects trailing bytes.
func Parse(b []byte) (Encoded, error) {
	e, rest, err := next(b)
	if err != nil {
		return Encoded{}, err
	}
	if len(rest) != 0 {
		return Encoded{}, ErrTrailing
	}
	return e, nil
}

// ParsePadded decodes one unit from b, ignoring trailing zero padding.
func ParsePadded(b []byte) (Encoded, error) {
	e, rest, err := next(b)
	if err != nil {
		return Encoded{}, err
	}
	for _, c := range rest {
		if c != 0 {
			return Encoded{}, ErrTrailing
		}
	}
	return e, nil
}

// ParseAll decodes a concatenation of units, such as a list payload.
func ParseAll(b []byte) ([]Encoded, error) {
	var out []Encoded
	for len(b) > 0 {
		it, rest, err := next(b)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
		b = rest
	}
	return out, nil
}

// next splits the first unit off b.
func next(b []byte) (Encoded, []byte, error) {
	if len(b) < headerLen {
		return Encoded{}, nil, ErrTruncated
	}
	if t := Tag(b[0]); !t.Known() {
		return Encoded{}, nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTag, byte(t))
	}
	n := binary.BigEndian.Uint32(b[1:headerLen])
	if uint64(len(b)-headerLen) < uint64(n) {
		return Encoded{}, nil, ErrTruncated
	}
	end := headerLen + int(n)
	raw := make([]byte, end)
	copy(raw, b[:end])
	return Encoded{raw: raw}, b[end:], nil
}

// Raw returns the full encoding, header included.
func (e Encoded) Raw() []byte { return e.raw }

// Tag returns the unit's type tag.
func (e Encoded) Tag() Tag {
	if len(e.raw) == 0 {
		return 0xff
	}
	return Tag(e.raw[0])
}

// Inner returns the payload without the header.
func (e Encoded) Inner() []byte {
	if len(e.raw) < headerLen {
		return nil
	}
	return e.raw[headerLen:]
}

// IsZero reports whether e holds no unit at all.
func (e Encoded) IsZero() bool { return len(e.raw) == 0 }

// Equal compares two units byte for byte.
func (e Encoded) Equal(o Encoded) bool { return bytes.Equal(e.raw, o.raw) }

func (e Encoded) expect(tag Tag) error {
	if e.Tag() != tag {
		return fmt.Errorf("%w: want %#02x, got %#02x", ErrTagMismatch, byte(tag), byte(e.Tag()))
	}
	return nil
}

// AsBytes returns the payload of a bytes unit.
func (e Encoded) AsBytes() ([]byte, error) {
	if err := e.expect(TagBytes); err != nil {
		return nil, err
	}
	out := make([]byte, len(e.Inner()))
	copy(out, e.Inner())
	return out, nil
}

// AsString returns the payload of a bytes unit as a UTF-8 string.
func (e Encoded) AsString() (string, error) {
	b, err := e.AsBytes()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: invalid utf-8", ErrMalformed)
	}
	return string(b), nil
}

// AsInt returns the value of an int unit.
func (e Encoded) AsInt() (int64, error) {
	if err := e.expect(TagInt); err != nil {
		return 0, err
	}
	if len(e.Inner()) != 8 {
		return 0, fmt.Errorf("%w: int payload of %d bytes", ErrMalformed, len(e.Inner()))
	}
	return int64(binary.BigEndian.Uint64(e.Inner())), nil
}

// AsBool returns the value of a bool unit.
func (e Encoded) AsBool() (bool, error) {
	if err := e.expect(TagBool); err != nil {
		return false, err
	}
	in := e.Inner()
	if len(in) != 1 || in[0] > 1 {
		return false, fmt.Errorf("%w: bool payload", ErrMalformed)
	}
	return in[0] == 1, nil
}

// AsTime returns the value of an int unit read as Unix milliseconds.
func (e Encoded) AsTime() (time.Time, error) {
	ms, err := e.AsInt()
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// AsBigUint returns the value of a big unsigned integer unit.
func (e Encoded) AsBigUint() (*big.Int, error) {
	if err := e.expect(TagBigUint); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(e.Inner()), nil
}

// AsList splits a list unit into its elements.
func (e Encoded) AsList() ([]Encoded, error) {
	if err := e.expect(TagList); err != nil {
		return nil, err
	}
	return ParseAll(e.Inner())
}

// ListOf is AsList with an exact length check.
func (e Encoded) ListOf(n int) ([]Encoded, error) {
	items, err := e.AsList()
	if err != nil {
		return nil, err
	}
	if len(items) != n {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrArity, n, len(items))
	}
	return items, nil
}

// AsDict decodes a dictionary unit. Keys must be bytes units and unique.
func (e Encoded) AsDict() (map[string]Encoded, error) {
	if err := e.expect(TagDict); err != nil {
		return nil, err
	}
	out := make(map[string]Encoded)
	rest := e.Inner()
	for len(rest) > 0 {
		k, r, err := next(rest)
		if err != nil {
			return nil, err
		}
		key, err := k.AsBytes()
		if err != nil {
			return nil, fmt.Errorf("%w: dictionary key", ErrMalformed)
		}
		v, r, err := next(r)
		if err != nil {
			return nil, err
		}
		if _, dup := out[string(key)]; dup {
			return nil, ErrDuplicateKey
		}
		out[string(key)] = v
		rest = r
	}
	return out, nil
}
