package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"math/big"
)

// SASDigits is the number of decimal digits in a short authentication
// string.
const SASDigits = 4

// SAS derives the short authentication string shown for the pair of seeds.
// It is not symmetric: a device displays SAS(own, peer) and expects the
// user to type SAS(peer, own).
func SAS(first, second []byte) string {
	h := sha256.New()
	h.Write(first)
	h.Write(second)
	n := new(big.Int).SetBytes(h.Sum(nil))
	mod := new(big.Int).Exp(big.NewInt(10), big.NewInt(SASDigits), nil)
	n.Mod(n, mod)
	return fmt.Sprintf("%0*d", SASDigits, n.Int64())
}

// CheckSAS compares an entered SAS with the expected one in constant time.
func CheckSAS(entered, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(entered), []byte(expected)) == 1
}
