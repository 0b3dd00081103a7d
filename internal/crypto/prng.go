package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"math/big"
	"sync"
)

// PRNG is a source of random bytes and uniformly distributed integers.
// Implementations are safe for concurrent use.
type PRNG interface {
	io.Reader
	// Bytes returns n random bytes.
	Bytes(n int) []byte
	// BigIntBelow returns an integer uniformly distributed in [0, bound).
	BigIntBelow(bound *big.Int) (*big.Int, error)
}

// ErrBadBound is returned for non-positive bounds.
var ErrBadBound = errors.New("crypto: bound must be positive")

// hmacDRBG is the HMAC-SHA-256 deterministic generator of SP 800-90A,
// without reseeding or additional input.
type hmacDRBG struct {
	mu sync.Mutex
	k  [32]byte
	v  [32]byte
}

// NewPRNG instantiates a deterministic generator from seed. Two generators
// built from the same seed produce the same stream.
func NewPRNG(seed Seed) PRNG {
	d := &hmacDRBG{}
	for i := range d.v {
		d.v[i] = 0x01
	}
	d.update(seed)
	return d
}

func (d *hmacDRBG) update(data []byte) {
	m := hmac.New(sha256.New, d.k[:])
	m.Write(d.v[:])
	m.Write([]byte{0x00})
	m.Write(data)
	copy(d.k[:], m.Sum(nil))

	m = hmac.New(sha256.New, d.k[:])
	m.Write(d.v[:])
	copy(d.v[:], m.Sum(nil))

	if len(data) == 0 {
		return
	}

	m = hmac.New(sha256.New, d.k[:])
	m.Write(d.v[:])
	m.Write([]byte{0x01})
	m.Write(data)
	copy(d.k[:], m.Sum(nil))

	m = hmac.New(sha256.New, d.k[:])
	m.Write(d.v[:])
	copy(d.v[:], m.Sum(nil))
}

func (d *hmacDRBG) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	off := 0
	for off < len(p) {
		m := hmac.New(sha256.New, d.k[:])
		m.Write(d.v[:])
		copy(d.v[:], m.Sum(nil))
		off += copy(p[off:], d.v[:])
	}
	d.update(nil)
	return len(p), nil
}

func (d *hmacDRBG) Bytes(n int) []byte {
	b := make([]byte, n)
	_, _ = d.Read(b)
	return b
}

func (d *hmacDRBG) BigIntBelow(bound *big.Int) (*big.Int, error) {
	return bigIntBelow(d, bound)
}

type systemPRNG struct{}

// SystemPRNG returns a generator backed by the operating system's entropy
// source.
func SystemPRNG() PRNG { return systemPRNG{} }

func (systemPRNG) Read(p []byte) (int, error) { return rand.Read(p) }

func (s systemPRNG) Bytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read never fails on supported platforms.
		panic(err)
	}
	return b
}

func (s systemPRNG) BigIntBelow(bound *big.Int) (*big.Int, error) {
	return bigIntBelow(s, bound)
}

// bigIntBelow draws byte strings of the bound's size, masks the excess high
// bits and rejects values not below bound.
func bigIntBelow(r io.Reader, bound *big.Int) (*big.Int, error) {
	if bound.Sign() <= 0 {
		return nil, ErrBadBound
	}
	bits := bound.BitLen()
	buf := make([]byte, (bits+7)/8)
	mask := byte(0xff >> (8*len(buf) - bits))
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		buf[0] &= mask
		n := new(big.Int).SetBytes(buf)
		if n.Cmp(bound) < 0 {
			return n, nil
		}
	}
}
