package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"trustline/internal/codec"
)

// AEADID identifies an authenticated encryption scheme.
type AEADID byte

// AEADCTRAES256HMACSHA256 is AES-256 in counter mode followed by
// HMAC-SHA-256 over the IV and ciphertext.
const AEADCTRAES256HMACSHA256 AEADID = 0x00

const (
	aeadIVLen  = 8
	aeadMACLen = sha256.Size
	aeadKeyLen = 32
)

var (
	// ErrAuthentication is returned when a ciphertext fails its MAC check.
	ErrAuthentication = errors.New("crypto: message authentication failed")
	// ErrCiphertextTooShort is returned for inputs shorter than IV plus MAC.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
)

// AEADKey is the pair of keys used by the authenticated encryption scheme.
type AEADKey struct {
	Enc [aeadKeyLen]byte
	Mac [aeadKeyLen]byte
}

// GenerateAEADKey draws a fresh key.
func GenerateAEADKey(prng PRNG) AEADKey {
	return aeadKeyFromBytes(prng.Bytes(2 * aeadKeyLen))
}

// AEADKeyFromSeed deterministically derives a key from seed.
func AEADKeyFromSeed(seed Seed) AEADKey {
	return aeadKeyFromBytes(DeriveKey(seed, 2*aeadKeyLen))
}

func aeadKeyFromBytes(b []byte) AEADKey {
	var k AEADKey
	copy(k.Enc[:], b[:aeadKeyLen])
	copy(k.Mac[:], b[aeadKeyLen:])
	Wipe(b)
	return k
}

// Equal compares two keys in constant time.
func (k AEADKey) Equal(o AEADKey) bool {
	return subtle.ConstantTimeCompare(k.Enc[:], o.Enc[:])&subtle.ConstantTimeCompare(k.Mac[:], o.Mac[:]) == 1
}

// Wipe zeroes the key.
func (k *AEADKey) Wipe() {
	Wipe(k.Enc[:])
	Wipe(k.Mac[:])
}

// Encode serializes the key as a symmetric key unit.
func (k AEADKey) Encode() codec.Encoded {
	return codec.Tagged(codec.TagSymmetricKey, append(
		codec.Bytes([]byte{byte(ClassAuthenticatedEncryption), byte(AEADCTRAES256HMACSHA256)}).Raw(),
		codec.Dict(map[string]codec.Encoded{
			"enc": codec.Bytes(k.Enc[:]),
			"mac": codec.Bytes(k.Mac[:]),
		}).Raw()...,
	))
}

// DecodeAEADKey parses a key produced by Encode.
func DecodeAEADKey(e codec.Encoded) (AEADKey, error) {
	class, impl, fields, err := splitKey(e, codec.TagSymmetricKey)
	if err != nil {
		return AEADKey{}, err
	}
	if class != ClassAuthenticatedEncryption || AEADID(impl) != AEADCTRAES256HMACSHA256 {
		return AEADKey{}, fmt.Errorf("%w: class %#02x impl %#02x", ErrUnknownAlgorithm, byte(class), impl)
	}
	enc, err1 := fieldBytes(fields, "enc", aeadKeyLen)
	mac, err2 := fieldBytes(fields, "mac", aeadKeyLen)
	if err := errors.Join(err1, err2); err != nil {
		return AEADKey{}, err
	}
	var k AEADKey
	copy(k.Enc[:], enc)
	copy(k.Mac[:], mac)
	return k, nil
}

func ctrStream(key []byte, iv []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	var counter [aes.BlockSize]byte
	copy(counter[:aeadIVLen], iv)
	return cipher.NewCTR(block, counter[:]), nil
}

// Encrypt returns iv ‖ ciphertext ‖ mac.
func Encrypt(key AEADKey, plaintext []byte, prng PRNG) ([]byte, error) {
	iv := prng.Bytes(aeadIVLen)
	stream, err := ctrStream(key.Enc[:], iv)
	if err != nil {
		return nil, err
	}
	out := make([]byte, aeadIVLen+len(plaintext), aeadIVLen+len(plaintext)+aeadMACLen)
	copy(out, iv)
	stream.XORKeyStream(out[aeadIVLen:], plaintext)

	m := hmac.New(sha256.New, key.Mac[:])
	m.Write(out)
	return m.Sum(out), nil
}

// Decrypt checks the MAC before decrypting. On any failure it returns a
// nil plaintext.
func Decrypt(key AEADKey, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < aeadIVLen+aeadMACLen {
		return nil, ErrCiphertextTooShort
	}
	body := ciphertext[:len(ciphertext)-aeadMACLen]
	tag := ciphertext[len(ciphertext)-aeadMACLen:]

	m := hmac.New(sha256.New, key.Mac[:])
	m.Write(body)
	if !hmac.Equal(m.Sum(nil), tag) {
		return nil, ErrAuthentication
	}

	stream, err := ctrStream(key.Enc[:], body[:aeadIVLen])
	if err != nil {
		return nil, err
	}
	pt := make([]byte, len(body)-aeadIVLen)
	stream.XORKeyStream(pt, body[aeadIVLen:])
	return pt, nil
}
