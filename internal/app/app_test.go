package app_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"trustline/internal/app"
	"trustline/internal/config"
	"trustline/internal/domain"
	"trustline/internal/logging"
	"trustline/internal/metrics"
	"trustline/internal/protocol"
	"trustline/internal/protocol/channelcreation"
	"trustline/internal/relay"
	"trustline/internal/store/memory"
)

const pass = "Open-Sesame-42!"

type device struct {
	cfg     config.Config
	app     *app.App
	events  *memory.Events
	metrics *metrics.Metrics
}

func newDevice(t *testing.T, rc domain.RelayClient, name string) *device {
	cfg := config.Default()
	cfg.Client.Home = t.TempDir()
	cfg.Client.DisplayName = name
	ids, err := app.Identity(cfg)
	require.NoError(t, err)
	_, _, err = ids.GenerateIdentity(pass)
	require.NoError(t, err)

	d := &device{cfg: cfg, events: &memory.Events{}, metrics: metrics.New(prometheus.NewRegistry())}
	d.open(t, rc)
	return d
}

func (d *device) open(t *testing.T, rc domain.RelayClient) {
	a, err := app.Open(d.cfg, app.Options{
		Passphrase: pass,
		Relay:      rc,
		Events:     d.events,
		Logger:     logging.Nop(),
		Metrics:    d.metrics,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, a.PreKeys.Publish(context.Background(), a.Account))
	d.app = a
}

func (d *device) id() domain.Identity { return d.app.Account.ID() }

func befriend(t *testing.T, a, b *device) {
	require.NoError(t, a.app.DB.SaveContact(context.Background(), domain.Contact{
		Owned:       a.id(),
		Identity:    b.id(),
		DisplayName: b.cfg.Client.DisplayName,
		Devices:     []domain.UID{b.app.Account.Device},
		Origins:     []domain.TrustOrigin{{Kind: domain.TrustDirect}},
		Active:      true,
	}))
}

func settle(t *testing.T, devs ...*device) []domain.ApplicationMessage {
	var apps []domain.ApplicationMessage
	for range 16 {
		for _, d := range devs {
			got, err := d.app.Messaging.Poll(context.Background())
			require.NoError(t, err)
			apps = append(apps, got...)
		}
	}
	return apps
}

func TestOpenWithoutAccount(t *testing.T) {
	cfg := config.Default()
	cfg.Client.Home = t.TempDir()
	_, err := app.Open(cfg, app.Options{Passphrase: pass})
	require.ErrorIs(t, err, app.ErrNoAccount)
}

func TestDevicesExchangeMessages(t *testing.T) {
	ctx := context.Background()
	rc := relay.NewLocalClient(relay.NewService(relay.NewMemoryBackend(), nil, nil))
	alice, bob := newDevice(t, rc, "alice"), newDevice(t, rc, "bob")
	befriend(t, alice, bob)
	befriend(t, bob, alice)

	first, second := alice, bob
	if !protocol.Initiates(alice.id(), alice.app.Account.Device, bob.id(), bob.app.Account.Device) {
		first, second = bob, alice
	}
	_, err := first.app.Messaging.StartProtocol(ctx, channelcreation.InitialMessage(
		first.id(), first.app.Account.Device, second.id(), second.app.Account.Device))
	require.NoError(t, err)
	settle(t, alice, bob)
	_, ok := alice.events.Last(domain.EventChannelCreated)
	require.True(t, ok)

	ratchetingBefore := testutil.ToFloat64(second.metrics.ChannelMessages.WithLabelValues("in", "ratcheting"))
	require.NoError(t, first.app.Messaging.SendApplication(ctx, second.id(), []byte("persisted")))
	apps := settle(t, alice, bob)
	require.Len(t, apps, 1)
	require.Equal(t, "persisted", string(apps[0].Payload))
	require.Positive(t, testutil.ToFloat64(first.metrics.ProtocolSteps.WithLabelValues("channel-creation", "consumed")))
	require.Greater(t, testutil.ToFloat64(second.metrics.ChannelMessages.WithLabelValues("in", "ratcheting")), ratchetingBefore)

	// The channel survives a restart.
	require.NoError(t, first.app.Close())
	first.open(t, rc)
	chans, err := first.app.Messaging.Channels(ctx)
	require.NoError(t, err)
	require.Len(t, chans, 1)
	require.True(t, chans[0].Confirmed)
}
