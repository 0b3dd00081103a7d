package interfaces

import domaintypes "trustline/internal/domain/types"

// AccountStore persists the owned identity and device UID, encrypted
// under a passphrase.
type AccountStore interface {
	SaveAccount(passphrase string, account domaintypes.Account) error
	LoadAccount(passphrase string) (domaintypes.Account, error)
	HasAccount() (bool, error)
}
