package keycloak_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"trustline/internal/domain"
	"trustline/internal/protocol/engine"
	"trustline/internal/protocol/keycloak"
	"trustline/internal/testkit"
	"trustline/internal/testkit/network"
)

var addition = domain.UID{0x4B}

type realm struct {
	net          *network.Network
	is           *issuer
	alice, bob   *network.Device
	bobDetails   string
	aliceDetails string
}

func newRealm(t *testing.T) *realm {
	is := newIssuer(t, "k1", 9)
	n := network.New(t)
	aliceID, bobID := testkit.Account(t, 1).ID(), testkit.Account(t, 2).ID()
	r := &realm{
		net:          n,
		is:           is,
		aliceDetails: is.details(aliceID, "Alice A."),
		bobDetails:   is.details(bobID, "Bob B."),
	}
	r.alice = n.NewDevice("alice", 1, network.Options{Keycloak: is.verifier(), SignedDetails: r.aliceDetails})
	r.bob = n.NewDevice("bob", 2, network.Options{Keycloak: is.verifier(), SignedDetails: r.bobDetails})
	return r
}

func keycloakOrigin(t *testing.T, c domain.Contact) {
	t.Helper()
	require.Len(t, c.Origins, 1)
	require.Equal(t, domain.TrustKeycloak, c.Origins[0].Kind)
	require.Equal(t, server, c.Origins[0].KeycloakServer)
}

func TestKeycloakContactAddition(t *testing.T) {
	r := newRealm(t)
	alice, bob := r.alice, r.bob

	alice.Start(keycloak.StartMessage(alice.ID(), addition, bob.ID(), r.bobDetails))
	c, ok := alice.Contact(bob)
	require.True(t, ok)
	require.Equal(t, "Bob B.", c.DisplayName)
	require.Equal(t, []domain.UID{bob.Account.Device}, c.Devices)
	keycloakOrigin(t, c)
	require.Len(t, alice.Instances(), 1, "waiting for the confirmation")

	r.net.Settle()

	c, ok = bob.Contact(alice)
	require.True(t, ok)
	require.Equal(t, "Alice A.", c.DisplayName)
	keycloakOrigin(t, c)
	for _, d := range []*network.Device{alice, bob} {
		require.Empty(t, d.Instances(), d.Name)
		_, ok := d.Events.Last(domain.EventContactAdded)
		require.True(t, ok, d.Name)
		_, ok = d.Events.Last(domain.EventChannelCreated)
		require.True(t, ok, d.Name)
	}
}

func TestInvitationFromRevokedIdentity(t *testing.T) {
	r := newRealm(t)
	alice, bob := r.alice, r.bob
	require.NoError(t, r.net.Relay.Revoke(context.Background(), alice.ID()))

	alice.Start(keycloak.StartMessage(alice.ID(), addition, bob.ID(), r.bobDetails))
	r.net.Settle()

	_, ok := bob.Contact(alice)
	require.False(t, ok)
	_, ok = alice.Contact(bob)
	require.False(t, ok, "a declined keycloak-only contact is removed")
	ev, ok := alice.Events.Last(domain.EventContactDeleted)
	require.True(t, ok)
	require.Equal(t, bob.ID(), ev.Contact)
	require.Empty(t, alice.Instances())
}

func TestExistingContactGainsOrigin(t *testing.T) {
	r := newRealm(t)
	alice, bob := r.alice, r.bob
	require.NoError(t, alice.Contacts.SaveContact(context.Background(), domain.Contact{
		Owned:    alice.ID(),
		Identity: bob.ID(),
		Origins:  []domain.TrustOrigin{{Kind: domain.TrustDirect}},
		Active:   true,
	}))

	// An existing contact only gains the origin; no invitation is sent.
	res := alice.Start(keycloak.StartMessage(alice.ID(), addition, bob.ID(), r.bobDetails))
	require.Equal(t, keycloak.StateWaitingForDeviceDiscovery, res.State)
	require.Empty(t, alice.Instances())
	c, ok := alice.Contact(bob)
	require.True(t, ok)
	require.Len(t, c.Origins, 2)
	require.Equal(t, domain.TrustLevelDirect, c.TrustLevel())

	r.net.Settle()
	_, ok = bob.Contact(alice)
	require.False(t, ok)
}

func TestDetailsForAnotherIdentityAreRejected(t *testing.T) {
	r := newRealm(t)
	alice, bob := r.alice, r.bob

	_, err := alice.Messaging.StartProtocol(context.Background(),
		keycloak.StartMessage(alice.ID(), addition, bob.ID(), r.aliceDetails))
	require.True(t, engine.IsDrop(err))
	require.ErrorIs(t, err, keycloak.ErrIdentityMismatch)
	_, ok := alice.Contact(bob)
	require.False(t, ok)
}

func TestInviteeWithoutProviderDeclines(t *testing.T) {
	is := newIssuer(t, "k1", 9)
	n := network.New(t)
	bobID := testkit.Account(t, 2).ID()
	alice := n.NewDevice("alice", 1, network.Options{
		Keycloak:      is.verifier(),
		SignedDetails: is.details(testkit.Account(t, 1).ID(), "Alice A."),
	})
	bob := n.NewDevice("bob", 2, network.Options{})

	alice.Start(keycloak.StartMessage(alice.ID(), addition, bobID, is.details(bobID, "Bob B.")))
	n.Settle()

	_, ok := bob.Contact(alice)
	require.False(t, ok)
	_, ok = alice.Contact(bob)
	require.False(t, ok)
}

func TestPropagationToOwnedDevice(t *testing.T) {
	r := newRealm(t)
	alice, bob := r.alice, r.bob
	laptop := r.net.AddDevice(alice, "alice-laptop", 4, network.Options{Keycloak: r.is.verifier(), SignedDetails: r.aliceDetails})
	ctx := context.Background()
	require.NoError(t, alice.Contacts.SetOwnedDevices(ctx, alice.ID(), []domain.UID{laptop.Account.Device}))
	require.NoError(t, laptop.Contacts.SetOwnedDevices(ctx, alice.ID(), []domain.UID{alice.Account.Device}))

	alice.Start(keycloak.StartMessage(alice.ID(), addition, bob.ID(), r.bobDetails))
	r.net.Settle()

	c, ok := laptop.Contact(bob)
	require.True(t, ok)
	keycloakOrigin(t, c)
	require.Contains(t, c.Devices, bob.Account.Device)
}
