package photo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"trustline/internal/crypto"
	"trustline/internal/domain"
	"trustline/internal/protocol/photo"
	"trustline/internal/testkit"
	"trustline/internal/testkit/network"
)

var (
	group    = domain.UID{0x61}
	download = domain.UID{0x62}
	label    = []byte("group-photo-label")
	jpeg     = []byte("\xff\xd8\xff\xe0 not really a jpeg")
)

func upload(t *testing.T, n *network.Network, key crypto.AEADKey) {
	t.Helper()
	enc, err := crypto.Encrypt(key, jpeg, testkit.Suite(7).PRNG())
	require.NoError(t, err)
	require.NoError(t, n.Client.PutPhoto(context.Background(), label, enc))
}

func TestDownloadPhoto(t *testing.T) {
	n := network.New(t)
	a := n.NewDevice("alice", 1, network.Options{})
	key := crypto.GenerateAEADKey(testkit.Suite(8).PRNG())
	upload(t, n, key)

	res := a.Start(photo.StartMessage(a.ID(), download, group, label, key))
	require.Equal(t, photo.StateDownloadingPhoto, res.State)

	got, ok := a.Photos.Photo(group)
	require.True(t, ok)
	require.Equal(t, jpeg, got)
	ev, ok := a.Events.Last(domain.EventPhotoDownloaded)
	require.True(t, ok)
	require.Equal(t, group.String(), ev.Value)
	require.Empty(t, a.Instances())
}

func TestMissingPhoto(t *testing.T) {
	n := network.New(t)
	a := n.NewDevice("alice", 1, network.Options{})

	a.Start(photo.StartMessage(a.ID(), download, group, label, crypto.GenerateAEADKey(testkit.Suite(8).PRNG())))

	_, ok := a.Photos.Photo(group)
	require.False(t, ok)
	_, ok = a.Events.Last(domain.EventPhotoDownloaded)
	require.False(t, ok)
	require.Empty(t, a.Instances())
}

func TestPhotoUnderWrongKey(t *testing.T) {
	n := network.New(t)
	a := n.NewDevice("alice", 1, network.Options{})
	upload(t, n, crypto.GenerateAEADKey(testkit.Suite(8).PRNG()))

	a.Start(photo.StartMessage(a.ID(), download, group, label, crypto.GenerateAEADKey(testkit.Suite(9).PRNG())))

	_, ok := a.Photos.Photo(group)
	require.False(t, ok)
	require.Empty(t, a.Instances())
}
