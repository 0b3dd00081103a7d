package relay_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trustline/internal/channel"
	"trustline/internal/domain"
	"trustline/internal/logging"
	"trustline/internal/relay"
	"trustline/internal/testkit"
)

func newService() *relay.Service {
	return relay.NewService(relay.NewMemoryBackend(), logging.Nop(), nil)
}

func TestPostFansOutToRegisteredDevices(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	a := testkit.Account(t, 1)
	a2 := testkit.SecondDevice(t, a, 2)
	require.NoError(t, svc.RegisterDevice(ctx, a.ID(), a.Device))
	require.NoError(t, svc.RegisterDevice(ctx, a.ID(), a2.Device))

	require.NoError(t, svc.Post(ctx, []domain.Envelope{{ToIdentity: a.ID(), Body: []byte("hi")}}))

	for _, dev := range []domain.UID{a.Device, a2.Device} {
		envs, err := svc.Fetch(ctx, a.ID(), dev, 0)
		require.NoError(t, err)
		require.Len(t, envs, 1)
		require.Equal(t, dev, envs[0].ToDevice)
		require.NotEmpty(t, envs[0].ID)
		require.False(t, envs[0].ServerTimestamp.IsZero())
	}
}

func TestPostToUnknownIdentity(t *testing.T) {
	svc := newService()
	a := testkit.Account(t, 1)
	err := svc.Post(context.Background(), []domain.Envelope{{ToIdentity: a.ID()}})
	require.ErrorIs(t, err, relay.ErrUnknownIdentity)
}

func TestFetchOrderAndAck(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	a := testkit.Account(t, 1)
	for _, b := range []string{"one", "two", "three"} {
		require.NoError(t, svc.Post(ctx, []domain.Envelope{{ToIdentity: a.ID(), ToDevice: a.Device, Body: []byte(b)}}))
	}

	envs, err := svc.Fetch(ctx, a.ID(), a.Device, 2)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	require.Equal(t, "one", string(envs[0].Body))
	require.Equal(t, "two", string(envs[1].Body))

	require.NoError(t, svc.Ack(ctx, a.ID(), a.Device, []string{envs[0].ID}))
	envs, err = svc.Fetch(ctx, a.ID(), a.Device, 0)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	require.Equal(t, "two", string(envs[0].Body))
}

func TestPublishPreKeyRegistersDevice(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	a := testkit.Account(t, 1)
	_, spk, err := channel.GeneratePreKey(a, testkit.Suite(1), time.Hour, time.Now())
	require.NoError(t, err)

	require.NoError(t, svc.PublishPreKey(ctx, spk))
	devs, err := svc.Devices(ctx, a.ID())
	require.NoError(t, err)
	require.Equal(t, []domain.UID{a.Device}, devs)

	spks, err := svc.PreKeys(ctx, a.ID())
	require.NoError(t, err)
	require.Len(t, spks, 1)
	require.Equal(t, spk.ID, spks[0].ID)
}

func TestPublishPreKeyRejectsTampering(t *testing.T) {
	svc := newService()
	a := testkit.Account(t, 1)
	_, spk, err := channel.GeneratePreKey(a, testkit.Suite(1), time.Hour, time.Now())
	require.NoError(t, err)
	spk.ExpiresAt = spk.ExpiresAt.Add(time.Hour)

	require.ErrorIs(t, svc.PublishPreKey(context.Background(), spk), relay.ErrBadPreKey)
}

func TestPhotosAndRevocation(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	a := testkit.Account(t, 1)

	_, ok, err := svc.Photo(ctx, "ab")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, svc.PutPhoto(ctx, "ab", []byte{1, 2}))
	p, ok, err := svc.Photo(ctx, "ab")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2}, p)

	revoked, err := svc.IsRevoked(ctx, a.ID())
	require.NoError(t, err)
	require.False(t, revoked)
	require.NoError(t, svc.Revoke(ctx, a.ID()))
	revoked, err = svc.IsRevoked(ctx, a.ID())
	require.NoError(t, err)
	require.True(t, revoked)
}
