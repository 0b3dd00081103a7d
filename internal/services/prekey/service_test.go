package prekey_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trustline/internal/channel"
	"trustline/internal/relay"
	"trustline/internal/services/prekey"
	"trustline/internal/store/memory"
	"trustline/internal/testkit"
)

type fixture struct {
	svc   *prekey.Service
	store *memory.PreKeys
	relay *relay.LocalClient
	clock *testkit.Clock
}

func newFixture(t *testing.T) *fixture {
	clock := testkit.NewClock()
	st := memory.NewPreKeys()
	rc := relay.NewLocalClient(relay.NewService(relay.NewMemoryBackend(), nil, nil, relay.WithClock(clock.Now)))
	return &fixture{
		svc:   prekey.New(st, rc, testkit.Suite(1), prekey.WithClock(clock.Now), prekey.WithTTL(24*time.Hour)),
		store: st,
		relay: rc,
		clock: clock,
	}
}

func TestRotatePreKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := testkit.Account(t, 1)

	first, err := f.svc.RotatePreKey(ctx, acct)
	require.NoError(t, err)
	_, err = channel.VerifySignedPreKey(first, f.clock.Now())
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	second, err := f.svc.RotatePreKey(ctx, acct)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	cur, ok, err := f.store.CurrentPreKey(ctx, acct.ID())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second.ID, cur.ID)

	old, ok, err := f.store.LoadPreKey(ctx, acct.ID(), first.ID)
	require.NoError(t, err)
	require.True(t, ok, "the replaced pre-key stays for envelopes in flight")
	require.Equal(t, f.clock.Now(), old.ReplacedAt)
}

func TestPublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := testkit.Account(t, 1)

	require.NoError(t, f.svc.Publish(ctx, acct))
	devs, err := f.relay.DeviceUIDs(ctx, acct.ID())
	require.NoError(t, err)
	require.Contains(t, devs, acct.Device)
	keys, err := f.relay.FetchPreKeys(ctx, acct.ID())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	published := keys[0].ID

	// A fresh pre-key is published again as is.
	f.clock.Advance(time.Hour)
	require.NoError(t, f.svc.Publish(ctx, acct))
	keys, err = f.relay.FetchPreKeys(ctx, acct.ID())
	require.NoError(t, err)
	require.Equal(t, published, keys[0].ID)

	// Close to expiry it is rotated first.
	f.clock.Advance(20 * time.Hour)
	require.NoError(t, f.svc.Publish(ctx, acct))
	keys, err = f.relay.FetchPreKeys(ctx, acct.ID())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.NotEqual(t, published, keys[0].ID)
}
