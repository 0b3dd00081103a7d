package identity

import (
	"errors"
	"fmt"
	"unicode"

	"trustline/internal/crypto"
	"trustline/internal/domain"
)

// minPassphraseLength is the shortest passphrase accepted.
const minPassphraseLength = 12

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
	// ErrAccountExists is returned when generating over an existing account.
	ErrAccountExists = errors.New("identity: account already exists")
)

// Service creates and loads the owned identity of this device.
//
// An account is an owned identity (signature and encryption key pairs on
// the configured curve) plus a random device UID. It is stored encrypted
// under the passphrase.
type Service struct {
	store domain.AccountStore
	suite crypto.Suite
}

// New returns an identity service backed by store.
func New(store domain.AccountStore, suite crypto.Suite) *Service {
	return &Service{store: store, suite: suite}
}

// GenerateIdentity creates and saves a new account.
func (s *Service) GenerateIdentity(passphrase string) (domain.Account, domain.Fingerprint, error) {
	if !isSecurePassphrase(passphrase) {
		return domain.Account{}, "", ErrWeakPassphrase
	}
	exists, err := s.store.HasAccount()
	if err != nil {
		return domain.Account{}, "", err
	}
	if exists {
		return domain.Account{}, "", ErrAccountExists
	}

	prng := s.suite.PRNG()
	owned, err := crypto.GenerateOwnedIdentity(s.suite.Curve, prng)
	if err != nil {
		return domain.Account{}, "", err
	}
	dev, err := domain.NewUID(prng)
	if err != nil {
		return domain.Account{}, "", err
	}
	acct := domain.Account{Identity: owned, Device: dev}
	if err := s.store.SaveAccount(passphrase, acct); err != nil {
		return domain.Account{}, "", err
	}
	return acct, acct.ID().Fingerprint(), nil
}

// LoadIdentity decrypts and returns the account.
func (s *Service) LoadIdentity(passphrase string) (domain.Account, error) {
	return s.store.LoadAccount(passphrase)
}

// FingerprintIdentity returns the display fingerprint of the owned identity.
func (s *Service) FingerprintIdentity(passphrase string) (domain.Fingerprint, error) {
	acct, err := s.store.LoadAccount(passphrase)
	if err != nil {
		return "", err
	}
	return acct.ID().Fingerprint(), nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len([]rune(passphrase)) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

var _ domain.IdentityService = (*Service)(nil)
