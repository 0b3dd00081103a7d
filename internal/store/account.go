package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"trustline/internal/codec"
	"trustline/internal/domain"
)

// AccountFile is the name of the sealed account inside the home directory.
const AccountFile = "account.enc"

// AccountFileStore keeps the account in a passphrase-sealed file.
type AccountFileStore struct {
	mu   sync.Mutex
	path string
	kdf  kdfParams
}

// NewAccountFileStore returns a store rooted at dir.
func NewAccountFileStore(dir string) *AccountFileStore {
	return &AccountFileStore{path: filepath.Join(dir, AccountFile), kdf: defaultKDF()}
}

var _ domain.AccountStore = (*AccountFileStore)(nil)

func (s *AccountFileStore) SaveAccount(passphrase string, account domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := sealWithPassphrase(passphrase, account.Encode().Raw(), s.kdf)
	if err != nil {
		return fmt.Errorf("seal account: %w", err)
	}
	return writeFile(s.path, b, 0o600)
}

func (s *AccountFileStore) LoadAccount(passphrase string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := readFile(s.path)
	if err != nil {
		return domain.Account{}, err
	}
	if b == nil {
		return domain.Account{}, fmt.Errorf("load account: %w", os.ErrNotExist)
	}
	raw, err := openWithPassphrase(passphrase, b)
	if err != nil {
		return domain.Account{}, err
	}
	e, err := codec.Parse(raw)
	if err != nil {
		return domain.Account{}, fmt.Errorf("decode account: %w", err)
	}
	return domain.DecodeAccount(e)
}

func (s *AccountFileStore) HasAccount() (bool, error) {
	_, err := os.Stat(s.path)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}
