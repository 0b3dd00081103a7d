// Package catalog registers every concrete protocol with an engine.
package catalog

import (
	"context"

	"trustline/internal/channel"
	"trustline/internal/crypto"
	"trustline/internal/domain"
	"trustline/internal/protocol/backupkey"
	"trustline/internal/protocol/channelcreation"
	"trustline/internal/protocol/devicediscovery"
	"trustline/internal/protocol/engine"
	"trustline/internal/protocol/fullratchet"
	"trustline/internal/protocol/keycloak"
	"trustline/internal/protocol/photo"
	"trustline/internal/protocol/trust"
)

// Channels is the channel manager surface used by the protocols.
type Channels interface {
	ChannelID(remote domain.Identity, device domain.UID) channel.ID
	CreateChannel(ctx context.Context, id channel.ID, sendSeed, recvSeed crypto.Seed) error
	UpdateSendSeed(ctx context.Context, id channel.ID, seed crypto.Seed) error
	CreateProvision(ctx context.Context, id channel.ID, seed crypto.Seed) error
	Delete(ctx context.Context, id channel.ID) error
}

// Deps gathers the collaborators of all protocols.
type Deps struct {
	Account     domain.Account
	DisplayName string
	Contacts    domain.ContactStore
	Channels    Channels
	BackupKeys  domain.BackupKeyStore
	Photos      domain.PhotoSink
	Suite       crypto.Suite

	// Keycloak is nil when no identity provider is configured; the
	// keycloak protocol then rejects every token.
	Keycloak      *keycloak.Verifier
	SignedDetails string
}

// Definitions builds every protocol.
func Definitions(d Deps) []*engine.Definition {
	return []*engine.Definition{
		devicediscovery.NewRemote(),
		devicediscovery.NewContact(devicediscovery.ContactDeps{
			Account:  d.Account,
			Contacts: d.Contacts,
			Channels: d.Channels,
		}),
		trust.New(trust.Deps{
			Account:     d.Account,
			Contacts:    d.Contacts,
			DisplayName: d.DisplayName,
		}),
		fullratchet.New(fullratchet.Deps{
			Channels: d.Channels,
			Suite:    d.Suite,
		}),
		keycloak.New(keycloak.Deps{
			Account:       d.Account,
			Contacts:      d.Contacts,
			Verifier:      d.Keycloak,
			SignedDetails: d.SignedDetails,
		}),
		photo.New(photo.Deps{Photos: d.Photos}),
		backupkey.New(backupkey.Deps{Store: d.BackupKeys, Suite: d.Suite}),
		channelcreation.New(channelcreation.Deps{
			Account:  d.Account,
			Contacts: d.Contacts,
			Channels: d.Channels,
			Suite:    d.Suite,
		}),
	}
}

// Register adds every protocol to e.
func Register(e *engine.Engine, d Deps) {
	e.Register(Definitions(d)...)
}
