package types

import (
	"trustline/internal/codec"
	"trustline/internal/crypto"
)

// Account is the local owned identity and the UID of this device.
type Account struct {
	Identity crypto.OwnedIdentity
	Device   UID
}

// ID returns the serialized public identity.
func (a Account) ID() Identity {
	var id Identity
	copy(id[:], a.Identity.Public().Bytes())
	return id
}

// Encode serializes the account, private keys included.
func (a Account) Encode() codec.Encoded {
	return codec.List(a.Identity.Encode(), codec.Bytes(a.Device[:]))
}

// DecodeAccount parses the output of Account.Encode.
func DecodeAccount(e codec.Encoded) (Account, error) {
	items, err := e.ListOf(2)
	if err != nil {
		return Account{}, err
	}
	owned, err := crypto.DecodeOwnedIdentity(items[0])
	if err != nil {
		return Account{}, err
	}
	raw, err := items[1].AsBytes()
	if err != nil {
		return Account{}, err
	}
	dev, err := UIDFromBytes(raw)
	if err != nil {
		return Account{}, err
	}
	return Account{Identity: owned, Device: dev}, nil
}
