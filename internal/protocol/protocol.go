// Package protocol holds the identifiers of the concrete protocols and the
// input helpers they share. The protocols themselves live in
// subpackages, one per protocol family.
package protocol

import (
	"context"
	"crypto/sha256"
	"fmt"

	"trustline/internal/codec"
	"trustline/internal/domain"
	"trustline/internal/protocol/engine"
)

const (
	DeviceDiscoveryRemote  engine.ProtocolID = 1
	DeviceDiscoveryContact engine.ProtocolID = 2
	TrustEstablishment     engine.ProtocolID = 3
	FullRatchet            engine.ProtocolID = 4
	KeycloakContact        engine.ProtocolID = 5
	GroupPhoto             engine.ProtocolID = 6
	BackupKey              engine.ProtocolID = 7
	ChannelCreation        engine.ProtocolID = 8
)

// EncodeIdentity encodes an identity input.
func EncodeIdentity(id domain.Identity) codec.Encoded { return codec.Bytes(id[:]) }

// DecodeIdentity decodes an identity input.
func DecodeIdentity(e codec.Encoded) (domain.Identity, error) {
	raw, err := e.AsBytes()
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.IdentityFromBytes(raw)
}

// EncodeUID encodes a UID input.
func EncodeUID(u domain.UID) codec.Encoded { return codec.Bytes(u[:]) }

// DecodeUID decodes a UID input.
func DecodeUID(e codec.Encoded) (domain.UID, error) {
	raw, err := e.AsBytes()
	if err != nil {
		return domain.UID{}, err
	}
	return domain.UIDFromBytes(raw)
}

// EncodeUIDs encodes a list of UIDs.
func EncodeUIDs(uids []domain.UID) codec.Encoded {
	items := make([]codec.Encoded, 0, len(uids))
	for _, u := range uids {
		items = append(items, EncodeUID(u))
	}
	return codec.List(items...)
}

// DecodeUIDs decodes a list of UIDs.
func DecodeUIDs(e codec.Encoded) ([]domain.UID, error) {
	items, err := e.AsList()
	if err != nil {
		return nil, err
	}
	out := make([]domain.UID, 0, len(items))
	for _, it := range items {
		u, err := DecodeUID(it)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Inputs checks that msg carries exactly n inputs.
func Inputs(msg engine.Message, n int) ([]codec.Encoded, error) {
	if len(msg.Inputs) != n {
		return nil, fmt.Errorf("message %d: want %d inputs, got %d", msg.ID, n, len(msg.Inputs))
	}
	return msg.Inputs, nil
}

// Empty is the encoding of a state without fields.
func Empty() codec.Encoded { return codec.List() }

// AddDevices merges uids into devices and reports whether anything
// changed.
func AddDevices(devices []domain.UID, uids ...domain.UID) ([]domain.UID, bool) {
	changed := false
	for _, u := range uids {
		found := false
		for _, d := range devices {
			if d == u {
				found = true
				break
			}
		}
		if !found {
			devices = append(devices, u)
			changed = true
		}
	}
	return devices, changed
}

// Initiates reports whether the owned side starts a symmetric exchange
// with remote. Exactly one of the two sides does.
func Initiates(owned domain.Identity, ownedDevice domain.UID, remote domain.Identity, remoteDevice domain.UID) bool {
	a := append(owned.Bytes(), ownedDevice[:]...)
	b := append(remote.Bytes(), remoteDevice[:]...)
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// KnownPeer reports whether remote is a contact of owned, or owned itself.
func KnownPeer(ctx context.Context, contacts domain.ContactStore, owned, remote domain.Identity) (bool, error) {
	if remote == owned {
		return true, nil
	}
	_, ok, err := contacts.GetContact(ctx, owned, remote)
	return ok, err
}

// PairInstance derives an instance UID shared by both devices of a pair.
// ordered keeps the direction: (a, b) and (b, a) give different UIDs.
func PairInstance(label string, a, b domain.UID, ordered bool) domain.UID {
	if !ordered && string(b[:]) < string(a[:]) {
		a, b = b, a
	}
	h := sha256.New()
	h.Write([]byte(label))
	h.Write(a[:])
	h.Write(b[:])
	var u domain.UID
	copy(u[:], h.Sum(nil))
	return u
}
