package store_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trustline/internal/channel"
	"trustline/internal/codec"
	"trustline/internal/crypto"
	"trustline/internal/domain"
	"trustline/internal/protocol/engine"
	"trustline/internal/store"
	"trustline/internal/store/memory"
	"trustline/internal/testkit"
)

const pass = "Tr0ub4dor&3xyz"

func openDB(t *testing.T, path string) *store.DB {
	t.Helper()
	db, err := store.Open(path, pass, store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_WrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), store.DBFile)
	db, err := store.Open(path, pass, store.Options{})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = store.Open(path, "something else", store.Options{})
	require.ErrorIs(t, err, store.ErrWrongPassphrase)
}

func TestRepository(t *testing.T) {
	ctx := context.Background()
	clock := testkit.NewClock()
	db := openDB(t, filepath.Join(t.TempDir(), store.DBFile))
	owned := testkit.Account(t, 1).ID()
	parent := engine.Key{Owned: owned, Protocol: 1, Instance: domain.UID{1}}
	child := engine.Key{Owned: owned, Protocol: 2, Instance: domain.UID{2}}
	link := engine.Link{Parent: parent, Reply: 7, Child: child, Expect: 3}

	inst := engine.Instance{Key: parent, State: 4, Raw: []byte{1, 2}, Version: 1, UpdatedAt: clock.Now()}
	require.NoError(t, db.Commit(ctx, engine.Transition{
		Key:      parent,
		Next:     &inst,
		NewLinks: []engine.Link{link},
		Outbox: []engine.OutboxItem{
			{Owned: owned, Kind: engine.ItemEvent, Event: domain.Event{Kind: domain.EventContactAdded, Owned: owned, Value: "a"}},
			{Owned: owned, Kind: engine.ItemQuery, Query: engine.ServerQuery{
				Kind:     engine.QueryCheckRevocation,
				Args:     []codec.Encoded{codec.Bytes(owned[:])},
				Protocol: 1,
				Instance: parent.Instance,
				Response: 9,
			}},
		},
	}))

	got, ok, err := db.Get(ctx, parent)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, inst.State, got.State)
	require.Equal(t, inst.Raw, got.Raw)
	require.True(t, inst.UpdatedAt.Equal(got.UpdatedAt))

	list, err := db.List(ctx, owned)
	require.NoError(t, err)
	require.Len(t, list, 1)
	other, err := db.List(ctx, testkit.Account(t, 2).ID())
	require.NoError(t, err)
	require.Empty(t, other)

	items, err := db.PendingOutbox(ctx, owned)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Less(t, items[0].Seq, items[1].Seq)
	require.Equal(t, "a", items[0].Event.Value)
	require.Equal(t, engine.MessageID(9), items[1].Query.Response)
	require.NoError(t, db.AckOutbox(ctx, owned, items[0].Seq))
	items, err = db.PendingOutbox(ctx, owned)
	require.NoError(t, err)
	require.Len(t, items, 1)

	links, err := db.LinksForChild(ctx, child)
	require.NoError(t, err)
	require.Equal(t, []engine.Link{link}, links)

	// Stale versions conflict.
	next := inst
	next.Version = 2
	require.ErrorIs(t, db.Commit(ctx, engine.Transition{Key: parent, PrevVersion: 5, Next: &next}), engine.ErrConflict)
	require.ErrorIs(t, db.Commit(ctx, engine.Transition{Key: child, PrevVersion: 1, Next: &next}), engine.ErrConflict)

	// Deleting the parent drops its links.
	require.NoError(t, db.Commit(ctx, engine.Transition{Key: parent, PrevVersion: 1}))
	_, ok, err = db.Get(ctx, parent)
	require.NoError(t, err)
	require.False(t, ok)
	links, err = db.LinksForChild(ctx, child)
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestRecords(t *testing.T) {
	ctx := context.Background()
	clock := testkit.NewClock()
	path := filepath.Join(t.TempDir(), store.DBFile)
	db := openDB(t, path)
	owned := testkit.Account(t, 1).ID()
	bob := testkit.Account(t, 2)

	c := domain.Contact{
		Owned:       owned,
		Identity:    bob.ID(),
		DisplayName: "bob",
		Devices:     []domain.UID{bob.Device},
		Origins:     []domain.TrustOrigin{{Kind: domain.TrustDirect, Timestamp: clock.Now()}},
		Active:      true,
	}
	require.NoError(t, db.SaveContact(ctx, c))
	require.NoError(t, db.SetOwnedDevices(ctx, owned, []domain.UID{{9}}))

	rec := domain.PreKeyRecord{ID: domain.UID{1}, Public: []byte{1}, Private: []byte{2}, ExpiresAt: clock.Now().Add(time.Hour)}
	require.NoError(t, db.SavePreKey(ctx, owned, rec))
	replaced := domain.PreKeyRecord{ID: domain.UID{2}, ReplacedAt: clock.Now()}
	require.NoError(t, db.SavePreKey(ctx, owned, replaced))

	info := domain.BackupKeyInfo{UID: domain.UID{3}, MACKey: []byte{4}, SuccessfulVerifications: 2}
	require.NoError(t, db.SaveBackupKey(ctx, owned, info))
	require.NoError(t, db.SavePhoto(ctx, owned, domain.UID{5}, []byte("jpeg")))
	require.NoError(t, db.Close())

	// Everything survives a reopen.
	db = openDB(t, path)

	got, ok, err := db.GetContact(ctx, owned, bob.ID())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bob", got.DisplayName)
	require.Equal(t, c.Devices, got.Devices)
	require.Equal(t, domain.TrustLevelDirect, got.TrustLevel())
	all, err := db.ListContacts(ctx, owned)
	require.NoError(t, err)
	require.Len(t, all, 1)

	devs, err := db.OwnedDevices(ctx, owned)
	require.NoError(t, err)
	require.Equal(t, []domain.UID{{9}}, devs)

	cur, ok, err := db.CurrentPreKey(ctx, owned)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.ID, cur.ID)
	require.Equal(t, rec.Private, cur.Private)
	_, ok, err = db.LoadPreKey(ctx, owned, replaced.ID)
	require.NoError(t, err)
	require.True(t, ok)

	gotInfo, ok, err := db.LoadBackupKey(ctx, owned)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, info.SuccessfulVerifications, gotInfo.SuccessfulVerifications)
	require.NoError(t, db.DeleteBackupKey(ctx, owned))
	_, ok, err = db.LoadBackupKey(ctx, owned)
	require.NoError(t, err)
	require.False(t, ok)

	photo, ok, err := db.Photo(ctx, owned, domain.UID{5})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "jpeg", string(photo))

	require.NoError(t, db.DeleteContact(ctx, owned, bob.ID()))
	_, ok, err = db.GetContact(ctx, owned, bob.ID())
	require.NoError(t, err)
	require.False(t, ok)
}

func seed(tag byte) crypto.Seed { return crypto.Seed(bytes.Repeat([]byte{tag}, crypto.SeedLength)) }

func TestChannelStore(t *testing.T) {
	ctx := context.Background()
	clock := testkit.NewClock()
	db := openDB(t, filepath.Join(t.TempDir(), store.DBFile))
	alice, bob := testkit.Account(t, 1), testkit.Account(t, 2)

	sender := channel.NewManager(channel.Config{
		Account:  alice,
		Store:    channel.NewMemoryStore(),
		PreKeys:  memory.NewPreKeys(),
		Contacts: memory.NewContacts(),
		Suite:    testkit.Suite(1),
		Now:      clock.Now,
	})
	receiver := channel.NewManager(channel.Config{
		Account:  bob,
		Store:    db,
		PreKeys:  db,
		Contacts: db,
		Suite:    testkit.Suite(2),
		Now:      clock.Now,
	})
	aliceID := receiver.ChannelID(alice.ID(), alice.Device)
	require.NoError(t, sender.CreateChannel(ctx, sender.ChannelID(bob.ID(), bob.Device), seed(0xA1), seed(0xB1)))
	require.NoError(t, receiver.CreateChannel(ctx, aliceID, seed(0xB1), seed(0xA1)))

	chans, err := db.ListChannels(ctx, bob.Device)
	require.NoError(t, err)
	require.Len(t, chans, 1)

	envs, err := sender.Post(ctx, domain.SendChannel{
		Kind:             domain.ChannelRatcheting,
		ToIdentity:       bob.ID(),
		ToDevices:        []domain.UID{bob.Device},
		AllowUnconfirmed: true,
	}, []byte("hello"))
	require.NoError(t, err)
	require.Len(t, envs, 1)

	pt, rc, err := receiver.Decrypt(ctx, envs[0])
	require.NoError(t, err)
	require.Equal(t, "hello", string(pt))
	require.Equal(t, alice.ID(), rc.RemoteIdentity)

	// The consumed key left the index.
	_, _, err = receiver.Decrypt(ctx, envs[0])
	require.ErrorIs(t, err, channel.ErrNoKey)

	require.NoError(t, db.DeleteChannel(ctx, aliceID))
	_, ok, err := db.GetChannel(ctx, aliceID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChannelStore_SkippedKeysFollowManagerClock(t *testing.T) {
	ctx := context.Background()
	clock := testkit.NewClock()
	db := openDB(t, filepath.Join(t.TempDir(), store.DBFile))
	alice, bob := testkit.Account(t, 1), testkit.Account(t, 2)

	sender := channel.NewManager(channel.Config{
		Account:  alice,
		Store:    channel.NewMemoryStore(),
		PreKeys:  memory.NewPreKeys(),
		Contacts: memory.NewContacts(),
		Suite:    testkit.Suite(1),
		Now:      clock.Now,
	})
	receiver := channel.NewManager(channel.Config{
		Account:  bob,
		Store:    db,
		PreKeys:  db,
		Contacts: db,
		Suite:    testkit.Suite(2),
		Now:      clock.Now,
	})
	require.NoError(t, sender.CreateChannel(ctx, sender.ChannelID(bob.ID(), bob.Device), seed(0xA1), seed(0xB1)))
	require.NoError(t, receiver.CreateChannel(ctx, receiver.ChannelID(alice.ID(), alice.Device), seed(0xB1), seed(0xA1)))

	sc := domain.SendChannel{
		Kind:             domain.ChannelRatcheting,
		ToIdentity:       bob.ID(),
		ToDevices:        []domain.UID{bob.Device},
		AllowUnconfirmed: true,
	}
	var envs []domain.Envelope
	for _, msg := range []string{"1", "2", "3"} {
		out, err := sender.Post(ctx, sc, []byte(msg))
		require.NoError(t, err)
		envs = append(envs, out...)
	}

	_, _, err := receiver.Decrypt(ctx, envs[2])
	require.NoError(t, err)

	// The clock sits far from wall time; only the manager's clock decides
	// whether the skipped keys are still in their grace window.
	clock.Advance(24 * time.Hour)
	pt, _, err := receiver.Decrypt(ctx, envs[0])
	require.NoError(t, err)
	require.Equal(t, "1", string(pt))

	clock.Advance(channel.DefaultPolicy().GracePeriod)
	_, _, err = receiver.Decrypt(ctx, envs[1])
	require.ErrorIs(t, err, channel.ErrNoKey)
}
