// Package testkit holds helpers shared by tests across packages:
// deterministic accounts, suites and a settable clock.
package testkit

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trustline/internal/crypto"
	"trustline/internal/crypto/edwards"
	"trustline/internal/domain"
)

// Suite returns a deterministic Curve25519 suite keyed by tag.
func Suite(tag byte) crypto.Suite {
	return crypto.DeterministicSuite(bytes.Repeat([]byte{tag}, crypto.SeedLength))
}

// Account generates a deterministic account keyed by tag.
func Account(t testing.TB, tag byte) domain.Account {
	t.Helper()
	prng := crypto.NewPRNG(crypto.Seed(bytes.Repeat([]byte{tag, 0xA5}, crypto.SeedLength/2)))
	owned, err := crypto.GenerateOwnedIdentity(edwards.Curve25519, prng)
	require.NoError(t, err)
	dev, err := domain.NewUID(prng)
	require.NoError(t, err)
	return domain.Account{Identity: owned, Device: dev}
}

// SecondDevice returns another device of the same identity.
func SecondDevice(t testing.TB, acct domain.Account, tag byte) domain.Account {
	t.Helper()
	dev, err := domain.NewUID(crypto.NewPRNG(crypto.Seed(bytes.Repeat([]byte{tag, 0x5A}, crypto.SeedLength/2))))
	require.NoError(t, err)
	return domain.Account{Identity: acct.Identity, Device: dev}
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
