package devicediscovery_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"trustline/internal/codec"
	"trustline/internal/domain"
	"trustline/internal/protocol"
	"trustline/internal/protocol/devicediscovery"
	"trustline/internal/protocol/engine"
	"trustline/internal/testkit/network"
)

func addContact(t *testing.T, d, other *network.Device, devices ...domain.UID) {
	t.Helper()
	require.NoError(t, d.Contacts.SaveContact(context.Background(), domain.Contact{
		Owned:    d.ID(),
		Identity: other.ID(),
		Devices:  devices,
		Active:   true,
	}))
}

func TestRemoteDiscovery(t *testing.T) {
	n := network.New(t)
	a := n.NewDevice("alice", 1, network.Options{})
	b := n.NewDevice("bob", 2, network.Options{})
	n.AddDevice(b, "bob-tablet", 3, network.Options{})

	res := a.Start(engine.Message{
		Protocol: protocol.DeviceDiscoveryRemote,
		Instance: domain.UID{7},
		ID:       devicediscovery.MsgInitial,
		Inputs:   []codec.Encoded{protocol.EncodeIdentity(b.ID())},
		Channel:  domain.ReceptionChannel{Kind: domain.ChannelLocal},
	})
	require.Equal(t, engine.Consumed, res.Outcome)
	require.Equal(t, devicediscovery.StateWaitingForDeviceUIDs, res.State)
	// The relay answered during the flush, so the instance is already final.
	require.Empty(t, a.Instances())
}

func TestContactDiscoveryAddsDevices(t *testing.T) {
	n := network.New(t)
	a := n.NewDevice("alice", 1, network.Options{})
	b := n.NewDevice("bob", 2, network.Options{})
	b2 := n.AddDevice(b, "bob-tablet", 3, network.Options{})
	addContact(t, a, b, b.Account.Device)
	addContact(t, b2, a, a.Account.Device)

	a.Start(devicediscovery.ContactMessage(a.ID(), domain.UID{1}, b.ID()))

	c, ok := a.Contact(b)
	require.True(t, ok)
	require.ElementsMatch(t, []domain.UID{b.Account.Device, b2.Account.Device}, c.Devices)
	ev, ok := a.Events.Last(domain.EventDevicesUpdated)
	require.True(t, ok)
	require.Equal(t, b.ID(), ev.Contact)
	require.Equal(t, "+1 -0", ev.Value)

	n.Settle()
	require.Empty(t, a.Instances())
	if protocol.Initiates(a.ID(), a.Account.Device, b2.ID(), b2.Account.Device) {
		_, err := a.ChannelTo(b2)
		require.NoError(t, err)
	}
}

func TestContactDiscoveryRemovesStaleDevices(t *testing.T) {
	n := network.New(t)
	a := n.NewDevice("alice", 1, network.Options{})
	b := n.NewDevice("bob", 2, network.Options{})
	stale := domain.UID{0xEE}
	addContact(t, a, b, b.Account.Device, stale)

	a.Start(devicediscovery.ContactMessage(a.ID(), domain.UID{1}, b.ID()))

	c, ok := a.Contact(b)
	require.True(t, ok)
	require.Equal(t, []domain.UID{b.Account.Device}, c.Devices)
	ev, ok := a.Events.Last(domain.EventDevicesUpdated)
	require.True(t, ok)
	require.Equal(t, "+0 -1", ev.Value)
}

func TestContactDiscoveryUnchanged(t *testing.T) {
	n := network.New(t)
	a := n.NewDevice("alice", 1, network.Options{})
	b := n.NewDevice("bob", 2, network.Options{})
	addContact(t, a, b, b.Account.Device)

	a.Start(devicediscovery.ContactMessage(a.ID(), domain.UID{1}, b.ID()))

	_, ok := a.Events.Last(domain.EventDevicesUpdated)
	require.False(t, ok)
	require.Empty(t, a.Instances())
}

func TestOwnedDiscoverySkipsThisDevice(t *testing.T) {
	n := network.New(t)
	a := n.NewDevice("alice", 1, network.Options{})
	a2 := n.AddDevice(a, "alice-laptop", 4, network.Options{})

	a.Start(devicediscovery.ContactMessage(a.ID(), domain.UID{1}, a.ID()))

	devs, err := a.Contacts.OwnedDevices(context.Background(), a.ID())
	require.NoError(t, err)
	require.Equal(t, []domain.UID{a2.Account.Device}, devs)
}

func TestDiscoveryOfStrangerIsCancelled(t *testing.T) {
	n := network.New(t)
	a := n.NewDevice("alice", 1, network.Options{})
	c := n.NewDevice("carol", 5, network.Options{})

	res := a.Start(devicediscovery.ContactMessage(a.ID(), domain.UID{1}, c.ID()))
	require.True(t, res.Final)
	require.Equal(t, devicediscovery.StateCancelled, res.State)
	require.Empty(t, a.Instances())
	_, ok := a.Contact(c)
	require.False(t, ok)
}
