package channelcreation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"trustline/internal/domain"
	"trustline/internal/protocol"
	"trustline/internal/protocol/channelcreation"
	"trustline/internal/protocol/engine"
	"trustline/internal/testkit/network"
)

// pair returns the two devices ordered so that the first one initiates.
func pair(a, b *network.Device) (*network.Device, *network.Device) {
	if protocol.Initiates(a.ID(), a.Account.Device, b.ID(), b.Account.Device) {
		return a, b
	}
	return b, a
}

func TestInstanceIsSymmetric(t *testing.T) {
	n := network.New(t)
	a := n.NewDevice("alice", 1, network.Options{})
	b := n.NewDevice("bob", 2, network.Options{})
	require.Equal(t,
		channelcreation.Instance(a.Account.Device, b.Account.Device),
		channelcreation.Instance(b.Account.Device, a.Account.Device))
}

func TestCreateChannel(t *testing.T) {
	n := network.New(t)
	first, second := pair(n.NewDevice("alice", 1, network.Options{}), n.NewDevice("bob", 2, network.Options{}))
	n.Befriend(first, second)

	first.Start(channelcreation.InitialMessage(first.ID(), first.Account.Device, second.ID(), second.Account.Device))
	n.Settle()

	st, err := first.ChannelTo(second)
	require.NoError(t, err)
	require.True(t, st.Confirmed)
	_, err = second.ChannelTo(first)
	require.NoError(t, err)

	require.Empty(t, first.Instances())
	require.Empty(t, second.Instances())
	for _, d := range []*network.Device{first, second} {
		ev, ok := d.Events.Last(domain.EventChannelCreated)
		require.True(t, ok, d.Name)
		require.Equal(t, d.ID(), ev.Owned)
	}

	ctx := context.Background()
	require.NoError(t, first.Messaging.SendApplication(ctx, second.ID(), []byte("hello")))
	n.Settle()
	require.Len(t, second.Inbox, 1)
	require.Equal(t, []byte("hello"), second.Inbox[0].Payload)
	require.Equal(t, domain.ChannelRatcheting, second.Inbox[0].Channel)
	require.Equal(t, first.ID(), second.Inbox[0].From)

	require.NoError(t, second.Messaging.SendApplication(ctx, first.ID(), []byte("hi back")))
	n.Settle()
	require.Len(t, first.Inbox, 1)
	require.Equal(t, []byte("hi back"), first.Inbox[0].Payload)
	require.Equal(t, domain.ChannelRatcheting, first.Inbox[0].Channel)

	st, err = second.ChannelTo(first)
	require.NoError(t, err)
	require.True(t, st.Confirmed)
}

func TestStartWithStrangerIsDropped(t *testing.T) {
	n := network.New(t)
	a := n.NewDevice("alice", 1, network.Options{})
	c := n.NewDevice("carol", 3, network.Options{})

	_, err := a.Messaging.StartProtocol(context.Background(),
		channelcreation.InitialMessage(a.ID(), a.Account.Device, c.ID(), c.Account.Device))
	require.True(t, engine.IsDrop(err))
	require.ErrorIs(t, err, channelcreation.ErrNotAContact)
	require.Empty(t, a.Instances())

	n.Settle()
	_, err = a.ChannelTo(c)
	require.Error(t, err)
}

func TestPingFromStrangerIsIgnored(t *testing.T) {
	n := network.New(t)
	a := n.NewDevice("alice", 1, network.Options{})
	b := n.NewDevice("bob", 2, network.Options{})
	// Only a knows b: b drops the ping and no channel appears.
	require.NoError(t, a.Contacts.SaveContact(context.Background(), domain.Contact{
		Owned:    a.ID(),
		Identity: b.ID(),
		Devices:  []domain.UID{b.Account.Device},
		Active:   true,
	}))

	a.Start(channelcreation.InitialMessage(a.ID(), a.Account.Device, b.ID(), b.Account.Device))
	n.Settle()

	require.Len(t, a.Instances(), 1)
	require.Empty(t, b.Instances())
	_, err := b.ChannelTo(a)
	require.Error(t, err)
}
