package crypto

import (
	"crypto/subtle"
	"math/big"
	"runtime"
)

// Wipe zeroes the provided buffer.
//
//go:noinline
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
	runtime.KeepAlive(&b)
}

// WipeScalar clears the limbs of a secret scalar and sets it to zero.
func WipeScalar(n *big.Int) {
	if n == nil {
		return
	}
	words := n.Bits()
	for i := range words {
		words[i] = 0
	}
	n.SetInt64(0)
}

// Wipe clears the private scalar.
func (k *PrivateKey) Wipe() { WipeScalar(k.Scalar) }
