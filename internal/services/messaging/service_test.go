package messaging_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"trustline/internal/channel"
	"trustline/internal/domain"
	"trustline/internal/protocol/engine"
	"trustline/internal/services/messaging"
	"trustline/internal/testkit/network"
)

// mailbox fetches everything waiting for d without acknowledging it.
func mailbox(t *testing.T, n *network.Network, d *network.Device) []domain.Envelope {
	t.Helper()
	envs, err := n.Relay.Fetch(context.Background(), d.ID(), d.Account.Device, 0)
	require.NoError(t, err)
	return envs
}

func TestReceiveApplication(t *testing.T) {
	n := network.New(t)
	alice, bob := n.Connect(n.NewDevice("alice", 1, network.Options{}), n.NewDevice("bob", 2, network.Options{}))
	ctx := context.Background()

	require.NoError(t, alice.Messaging.SendApplication(ctx, bob.ID(), []byte("hi")))
	envs := mailbox(t, n, bob)
	require.Len(t, envs, 1)

	c, err := bob.Messaging.Receive(ctx, envs[0])
	require.NoError(t, err)
	require.Equal(t, messaging.Application, c.Kind)
	require.Equal(t, "hi", string(c.Application.Payload))
	require.Equal(t, alice.ID(), c.Application.From)
	require.Equal(t, alice.Account.Device, c.Application.FromDevice)
	require.False(t, c.Application.ServerTimestamp.IsZero())
}

func TestReceiveUnknownProtocolIsDropped(t *testing.T) {
	n := network.New(t)
	alice, bob := n.Connect(n.NewDevice("alice", 1, network.Options{}), n.NewDevice("bob", 2, network.Options{}))
	ctx := context.Background()

	require.NoError(t, alice.Messaging.Send(ctx, alice.ID(), engine.OutboundMessage{
		Protocol: 99,
		Instance: domain.UID{1},
		ID:       1,
		Channel: domain.SendChannel{
			Kind:       domain.ChannelRatcheting,
			ToIdentity: bob.ID(),
			ToDevices:  []domain.UID{bob.Account.Device},
		},
	}))
	envs := mailbox(t, n, bob)
	require.Len(t, envs, 1)

	c, err := bob.Messaging.Receive(ctx, envs[0])
	require.NoError(t, err)
	require.Equal(t, messaging.ProtocolDropped, c.Kind)
	var drop *engine.DropError
	require.True(t, errors.As(c.Err, &drop))
	require.Equal(t, engine.DropUnknownProtocol, drop.Reason)
}

func TestReceiveGarbage(t *testing.T) {
	n := network.New(t)
	bob := n.NewDevice("bob", 2, network.Options{})

	c, err := bob.Messaging.Receive(context.Background(), domain.Envelope{
		ID:         "junk",
		ToIdentity: bob.ID(),
		ToDevice:   bob.Account.Device,
		WrappedKey: []byte{byte(domain.ChannelRatcheting), 1, 2, 3},
		Body:       []byte("nothing"),
	})
	require.NoError(t, err)
	require.Equal(t, messaging.DecryptFailed, c.Kind)
	require.Error(t, c.Err)
}

func TestPollAcknowledgesDrops(t *testing.T) {
	n := network.New(t)
	bob := n.NewDevice("bob", 2, network.Options{})
	ctx := context.Background()
	require.NoError(t, n.Client.PostEnvelopes(ctx, []domain.Envelope{{
		ToIdentity: bob.ID(),
		ToDevice:   bob.Account.Device,
		WrappedKey: []byte{0xFF},
	}}))
	require.Len(t, mailbox(t, n, bob), 1)

	apps, err := bob.Messaging.Poll(ctx)
	require.NoError(t, err)
	require.Empty(t, apps)
	require.Empty(t, mailbox(t, n, bob))
}

func TestStartProtocolMustBeLocal(t *testing.T) {
	n := network.New(t)
	alice := n.NewDevice("alice", 1, network.Options{})
	_, err := alice.Messaging.StartProtocol(context.Background(), engine.Message{
		Protocol: 1,
		Channel:  domain.ReceptionChannel{Kind: domain.ChannelRatcheting},
	})
	require.ErrorIs(t, err, messaging.ErrNotLocal)
}

func TestSendToStrangerIsUndeliverable(t *testing.T) {
	n := network.New(t)
	alice := n.NewDevice("alice", 1, network.Options{})
	bob := n.NewDevice("bob", 2, network.Options{})

	err := alice.Messaging.Send(context.Background(), alice.ID(), engine.OutboundMessage{
		Protocol: 1,
		Channel:  domain.SendChannel{Kind: domain.ChannelRatcheting, ToIdentity: bob.ID()},
	})
	require.ErrorIs(t, err, engine.ErrUndeliverable)
}

func TestChannels(t *testing.T) {
	n := network.New(t)
	alice, bob := n.Connect(n.NewDevice("alice", 1, network.Options{}), n.NewDevice("bob", 2, network.Options{}))

	all, err := alice.Messaging.Channels(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, channel.ID{
		Local:          alice.Account.Device,
		RemoteIdentity: bob.ID(),
		RemoteDevice:   bob.Account.Device,
	}, all[0].ID)
}

func TestKindString(t *testing.T) {
	require.Equal(t, "application", messaging.Application.String())
	require.Equal(t, "decrypt-failed", messaging.DecryptFailed.String())
	require.Equal(t, "kind(9)", messaging.Kind(9).String())
}
