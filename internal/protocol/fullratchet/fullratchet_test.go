package fullratchet_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"trustline/internal/channel"
	"trustline/internal/domain"
	"trustline/internal/protocol/fullratchet"
	"trustline/internal/testkit/network"
)

func roundTrip(t *testing.T, n *network.Network, from, to *network.Device, payload string) {
	t.Helper()
	before := len(to.Inbox)
	require.NoError(t, from.Messaging.SendApplication(context.Background(), to.ID(), []byte(payload)))
	n.Settle()
	require.Len(t, to.Inbox, before+1)
	got := to.Inbox[before]
	require.Equal(t, payload, string(got.Payload))
	require.Equal(t, domain.ChannelRatcheting, got.Channel)
}

func TestInstanceIsDirectional(t *testing.T) {
	a, b := domain.UID{1}, domain.UID{2}
	require.NotEqual(t, fullratchet.Instance(a, b), fullratchet.Instance(b, a))
}

func TestFullRatchet(t *testing.T) {
	n := network.New(t)
	alice, bob := n.Connect(n.NewDevice("alice", 1, network.Options{}), n.NewDevice("bob", 2, network.Options{}))
	roundTrip(t, n, alice, bob, "before")

	id := alice.Channels.ChannelID(bob.ID(), bob.Account.Device)
	require.NoError(t, alice.Messaging.StartFullRatchet(context.Background(), id, false))
	n.Settle()

	ev, ok := alice.Events.Last(domain.EventFullRatchetDone)
	require.True(t, ok)
	require.Equal(t, bob.ID(), ev.Contact)
	st, err := alice.ChannelTo(bob)
	require.NoError(t, err)
	require.Equal(t, 1, st.SendFullRatchetCount)
	require.False(t, st.Stats.FullRatchetInProgress)
	require.Empty(t, alice.Instances())
	require.Empty(t, bob.Instances())

	// Bob decrypts with the provision created during the exchange.
	roundTrip(t, n, alice, bob, "after")
	roundTrip(t, n, bob, alice, "reply")
}

func TestRestartAfterLostMessage(t *testing.T) {
	n := network.New(t)
	alice, bob := n.Connect(n.NewDevice("alice", 1, network.Options{}), n.NewDevice("bob", 2, network.Options{}))
	ctx := context.Background()
	id := alice.Channels.ChannelID(bob.ID(), bob.Account.Device)

	require.NoError(t, alice.Messaging.StartFullRatchet(ctx, id, false))
	require.Equal(t, 1, n.Drop(bob))
	require.Len(t, alice.Instances(), 1)

	require.NoError(t, alice.Messaging.StartFullRatchet(ctx, id, true))
	n.Settle()

	_, ok := alice.Events.Last(domain.EventFullRatchetDone)
	require.True(t, ok)
	roundTrip(t, n, alice, bob, "after restart")
}

func TestPolicyStartsRatchet(t *testing.T) {
	policy := channel.DefaultPolicy()
	policy.FullMessageThreshold = 2
	n := network.New(t)
	alice, bob := n.Connect(
		n.NewDevice("alice", 1, network.Options{Policy: &policy}),
		n.NewDevice("bob", 2, network.Options{Policy: &policy}),
	)

	for _, m := range []string{"one", "two", "three"} {
		roundTrip(t, n, alice, bob, m)
	}
	ev, ok := alice.Events.Last(domain.EventFullRatchetDone)
	require.True(t, ok)
	require.Equal(t, bob.ID(), ev.Contact)

	st, err := alice.ChannelTo(bob)
	require.NoError(t, err)
	require.GreaterOrEqual(t, st.SendFullRatchetCount, 1)
	roundTrip(t, n, alice, bob, "four")
}

func TestOldProvisionSurvivesRatchet(t *testing.T) {
	n := network.New(t)
	alice, bob := n.Connect(n.NewDevice("alice", 1, network.Options{}), n.NewDevice("bob", 2, network.Options{}))
	id := alice.Channels.ChannelID(bob.ID(), bob.Account.Device)

	require.NoError(t, alice.Messaging.StartFullRatchet(context.Background(), id, false))
	n.Settle()
	_, ok := alice.Events.Last(domain.EventFullRatchetDone)
	require.True(t, ok)

	// Messages alice encrypted before the switch are still in flight.
	st, err := bob.ChannelTo(alice)
	require.NoError(t, err)
	require.GreaterOrEqual(t, st.Provisions, 2)
}
