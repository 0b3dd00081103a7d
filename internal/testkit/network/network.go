// Package network runs several devices against one in-process relay, so
// protocol tests can drive complete exchanges end to end.
package network

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"trustline/internal/channel"
	"trustline/internal/domain"
	"trustline/internal/logging"
	"trustline/internal/protocol"
	"trustline/internal/protocol/catalog"
	"trustline/internal/protocol/channelcreation"
	"trustline/internal/protocol/engine"
	"trustline/internal/protocol/keycloak"
	"trustline/internal/relay"
	"trustline/internal/retry"
	"trustline/internal/services/messaging"
	"trustline/internal/services/prekey"
	"trustline/internal/store/memory"
	"trustline/internal/testkit"
)

// maxRounds bounds Settle; a protocol that keeps messages flowing for
// longer is broken.
const maxRounds = 64

// Network is a relay plus the devices attached to it.
type Network struct {
	t       testing.TB
	Clock   *testkit.Clock
	Relay   *relay.Service
	Client  *relay.LocalClient
	Devices []*Device
}

// Device is one device with in-memory stores.
type Device struct {
	Name       string
	Account    domain.Account
	Contacts   *memory.Contacts
	PreKeys    *memory.PreKeys
	BackupKeys *memory.BackupKeys
	Photos     *memory.Photos
	Events     *memory.Events
	Repo       *engine.MemoryRepository
	Channels   *channel.Manager
	Engine     *engine.Engine
	Messaging  *messaging.Service

	// Inbox collects application payloads received by Settle.
	Inbox []domain.ApplicationMessage

	net *Network
}

// Options customise a device.
type Options struct {
	DisplayName   string
	Keycloak      *keycloak.Verifier
	SignedDetails string
	Policy        *channel.Policy
}

// New returns an empty network.
func New(t testing.TB) *Network {
	clock := testkit.NewClock()
	svc := relay.NewService(relay.NewMemoryBackend(), logging.Nop(), nil, relay.WithClock(clock.Now))
	return &Network{t: t, Clock: clock, Relay: svc, Client: relay.NewLocalClient(svc)}
}

// NewDevice creates a device of a fresh identity derived from tag.
func (n *Network) NewDevice(name string, tag byte, opts Options) *Device {
	return n.attach(name, tag, testkit.Account(n.t, tag), opts)
}

// AddDevice creates another device of the identity of d.
func (n *Network) AddDevice(d *Device, name string, tag byte, opts Options) *Device {
	return n.attach(name, tag, testkit.SecondDevice(n.t, d.Account, tag), opts)
}

func (n *Network) attach(name string, tag byte, acct domain.Account, opts Options) *Device {
	n.t.Helper()
	suite := testkit.Suite(tag)
	policy := channel.DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	if opts.DisplayName == "" {
		opts.DisplayName = name
	}
	d := &Device{
		Name:       name,
		Account:    acct,
		Contacts:   memory.NewContacts(),
		PreKeys:    memory.NewPreKeys(),
		BackupKeys: memory.NewBackupKeys(),
		Photos:     memory.NewPhotos(),
		Events:     &memory.Events{},
		Repo:       engine.NewMemoryRepository(),
		net:        n,
	}
	log := logging.Nop()
	d.Channels = channel.NewManager(channel.Config{
		Account:   acct,
		Store:     channel.NewMemoryStore(),
		PreKeys:   d.PreKeys,
		Contacts:  d.Contacts,
		Directory: n.Client,
		Policy:    policy,
		Suite:     suite,
		Logger:    log,
		Now:       n.Clock.Now,
	})
	d.Engine = engine.New(engine.Config{
		Repository: d.Repo,
		Suite:      suite,
		Logger:     log,
		Now:        n.Clock.Now,
	})
	catalog.Register(d.Engine, catalog.Deps{
		Account:       acct,
		DisplayName:   opts.DisplayName,
		Contacts:      d.Contacts,
		Channels:      d.Channels,
		BackupKeys:    d.BackupKeys,
		Photos:        d.Photos,
		Suite:         suite,
		Keycloak:      opts.Keycloak,
		SignedDetails: opts.SignedDetails,
	})
	d.Messaging = messaging.New(messaging.Config{
		Account:  acct,
		Engine:   d.Engine,
		Channels: d.Channels,
		Relay:    n.Client,
		Events:   d.Events,
		Backoff:  retry.Backoff{MaxAttempts: 1},
		Logger:   log,
	})

	pk := prekey.New(d.PreKeys, n.Client, suite, prekey.WithClock(n.Clock.Now))
	require.NoError(n.t, pk.Publish(context.Background(), acct))
	n.Devices = append(n.Devices, d)
	return d
}

// ID returns the identity of the device.
func (d *Device) ID() domain.Identity { return d.Account.ID() }

// Start submits a local protocol message and requires it to be consumed.
func (d *Device) Start(msg engine.Message) engine.Result {
	d.net.t.Helper()
	res, err := d.Messaging.StartProtocol(context.Background(), msg)
	require.NoError(d.net.t, err)
	return res
}

// Contact returns the contact record d holds for other.
func (d *Device) Contact(other *Device) (domain.Contact, bool) {
	d.net.t.Helper()
	c, ok, err := d.Contacts.GetContact(context.Background(), d.ID(), other.ID())
	require.NoError(d.net.t, err)
	return c, ok
}

// Instances lists the live protocol instances of d.
func (d *Device) Instances() []engine.Instance {
	d.net.t.Helper()
	out, err := d.Engine.Instances(context.Background(), d.ID())
	require.NoError(d.net.t, err)
	return out
}

// ChannelTo returns the status of the channel from d to a device of other.
func (d *Device) ChannelTo(other *Device) (channel.Status, error) {
	return d.Messaging.ChannelStatus(context.Background(), other.ID(), other.Account.Device)
}

// Befriend stores a and b as contacts of each other, each knowing the
// one device of the other.
func (n *Network) Befriend(a, b *Device) {
	n.t.Helper()
	ctx := context.Background()
	for _, p := range [][2]*Device{{a, b}, {b, a}} {
		c, _ := p[0].Contact(p[1])
		c.Owned, c.Identity, c.Active = p[0].ID(), p[1].ID(), true
		if c.DisplayName == "" {
			c.DisplayName = p[1].Name
		}
		c.Devices, _ = protocol.AddDevices(c.Devices, p[1].Account.Device)
		require.NoError(n.t, p[0].Contacts.SaveContact(ctx, c))
	}
}

// Connect befriends a and b and creates the ratcheting channel between
// them. It returns the pair with the initiator of the exchange first; the
// initiator's side of the channel is confirmed.
func (n *Network) Connect(a, b *Device) (*Device, *Device) {
	n.t.Helper()
	n.Befriend(a, b)
	if !protocol.Initiates(a.ID(), a.Account.Device, b.ID(), b.Account.Device) {
		a, b = b, a
	}
	a.Start(channelcreation.InitialMessage(a.ID(), a.Account.Device, b.ID(), b.Account.Device))
	n.Settle()
	st, err := a.ChannelTo(b)
	require.NoError(n.t, err)
	require.True(n.t, st.Confirmed, "channel %s to %s", a.Name, b.Name)
	return a, b
}

// Settle polls every device until all mailboxes are empty.
func (n *Network) Settle() {
	n.t.Helper()
	ctx := context.Background()
	for range maxRounds {
		for _, d := range n.Devices {
			apps, err := d.Messaging.Poll(ctx)
			require.NoError(n.t, err, "poll %s", d.Name)
			d.Inbox = append(d.Inbox, apps...)
		}
		if n.quiet(ctx) {
			return
		}
	}
	n.t.Fatalf("network did not settle after %d rounds", maxRounds)
}

func (n *Network) quiet(ctx context.Context) bool {
	for _, d := range n.Devices {
		envs, err := n.Relay.Fetch(ctx, d.ID(), d.Account.Device, 1)
		require.NoError(n.t, err)
		if len(envs) > 0 {
			return false
		}
	}
	return true
}

// Drop discards everything waiting in the mailbox of d.
func (n *Network) Drop(d *Device) int {
	n.t.Helper()
	ctx := context.Background()
	envs, err := n.Relay.Fetch(ctx, d.ID(), d.Account.Device, 0)
	require.NoError(n.t, err)
	ids := make([]string, 0, len(envs))
	for _, e := range envs {
		ids = append(ids, e.ID)
	}
	require.NoError(n.t, n.Relay.Ack(ctx, d.ID(), d.Account.Device, ids))
	return len(ids)
}
