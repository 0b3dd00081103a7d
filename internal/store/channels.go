package store

import (
	"bytes"
	"context"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"

	"trustline/internal/channel"
	"trustline/internal/domain"
)

var _ channel.Store = (*DB)(nil)

// Receive keys are indexed as local ‖ key id ‖ channel key.
func recvKey(local domain.UID, id channel.KeyID, ch channel.ID) []byte {
	return join(local[:], id[:], ch.Key())
}

func (d *DB) getChannel(tx *bolt.Tx, id channel.ID) (*channel.Channel, error) {
	raw, err := d.get(tx, channelBucket, id.Key())
	if err != nil || raw == nil {
		return nil, err
	}
	return channel.ParseChannel(raw)
}

func (d *DB) GetChannel(_ context.Context, id channel.ID) (*channel.Channel, bool, error) {
	var ch *channel.Channel
	err := d.db.View(func(tx *bolt.Tx) error {
		var err error
		ch, err = d.getChannel(tx, id)
		return err
	})
	return ch, ch != nil, err
}

// PutChannel stores ch and reindexes its receive keys.
func (d *DB) PutChannel(_ context.Context, ch *channel.Channel) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := d.unindex(tx, ch.ID); err != nil {
			return err
		}
		if err := d.put(tx, channelBucket, ch.ID.Key(), ch.Encode().Raw()); err != nil {
			return err
		}
		idx := tx.Bucket(recvKeyBucket)
		for _, kid := range ch.KeyIDs(time.Time{}) {
			if err := idx.Put(recvKey(ch.ID.Local, kid, ch.ID), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
}

// unindex removes the receive keys of the stored version of id. The zero
// time lists every key, expired ones included.
func (d *DB) unindex(tx *bolt.Tx, id channel.ID) error {
	old, err := d.getChannel(tx, id)
	if err != nil || old == nil {
		return err
	}
	idx := tx.Bucket(recvKeyBucket)
	for _, kid := range old.KeyIDs(time.Time{}) {
		if err := idx.Delete(recvKey(id.Local, kid, id)); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) DeleteChannel(_ context.Context, id channel.ID) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := d.unindex(tx, id); err != nil {
			return err
		}
		return tx.Bucket(channelBucket).Delete(id.Key())
	})
}

func (d *DB) ListChannels(_ context.Context, local domain.UID) ([]*channel.Channel, error) {
	var out []*channel.Channel
	err := d.db.View(func(tx *bolt.Tx) error {
		return d.scan(tx, channelBucket, local[:], func(_, v []byte) error {
			ch, err := channel.ParseChannel(v)
			if err != nil {
				return err
			}
			out = append(out, ch)
			return nil
		})
	})
	return out, err
}

// ChannelsForKeyID looks keyID up in the index, which holds every stored
// key, expired or not. The channel manager filters expiry with its own
// clock and purges expired keys on cleanup.
func (d *DB) ChannelsForKeyID(_ context.Context, local domain.UID, keyID channel.KeyID) ([]channel.ID, error) {
	var out []channel.ID
	err := d.db.View(func(tx *bolt.Tx) error {
		prefix := join(local[:], keyID[:])
		c := tx.Bucket(recvKeyBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			id, err := channel.ParseID(k[len(prefix):])
			if err != nil {
				return err
			}
			ch, err := d.getChannel(tx, id)
			if err != nil {
				return err
			}
			if ch != nil && slices.Contains(ch.KeyIDs(time.Time{}), keyID) {
				out = append(out, id)
			}
		}
		return nil
	})
	return out, err
}
