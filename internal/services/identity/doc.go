// Package identity creates, encrypts and loads the account of this
// device: the owned identity key pairs and the device UID.
//
// It enforces the passphrase policy and persists the account through a
// domain.AccountStore.
package identity
