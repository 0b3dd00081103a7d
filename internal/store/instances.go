package store

import (
	"context"
	"sort"

	bolt "go.etcd.io/bbolt"

	"trustline/internal/codec"
	"trustline/internal/domain"
	"trustline/internal/protocol/engine"
)

var _ engine.Repository = (*DB)(nil)

func decodeInstance(raw []byte) (engine.Instance, error) {
	e, err := codec.Parse(raw)
	if err != nil {
		return engine.Instance{}, err
	}
	return engine.DecodeInstance(e)
}

func (d *DB) Get(_ context.Context, key engine.Key) (engine.Instance, bool, error) {
	var (
		inst engine.Instance
		ok   bool
	)
	err := d.db.View(func(tx *bolt.Tx) error {
		raw, err := d.get(tx, instanceBucket, key.Bytes())
		if err != nil || raw == nil {
			return err
		}
		ok = true
		inst, err = decodeInstance(raw)
		return err
	})
	return inst, ok, err
}

// linkKey orders links by child so LinksForChild is a prefix scan.
func linkKey(l engine.Link) []byte {
	return join(l.Child.Bytes(), l.Parent.Bytes(), be64(uint64(l.Reply)))
}

// Commit applies tx in a single database transaction.
func (d *DB) Commit(_ context.Context, t engine.Transition) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		key := t.Key.Bytes()
		raw, err := d.get(tx, instanceBucket, key)
		if err != nil {
			return err
		}
		switch {
		case raw == nil && t.PrevVersion != 0:
			return engine.ErrConflict
		case raw != nil:
			cur, err := decodeInstance(raw)
			if err != nil {
				return err
			}
			if cur.Version != t.PrevVersion {
				return engine.ErrConflict
			}
		}

		if t.Next == nil {
			if err := tx.Bucket(instanceBucket).Delete(key); err != nil {
				return err
			}
			if err := d.dropLinksOf(tx, t.Key); err != nil {
				return err
			}
		} else if err := d.put(tx, instanceBucket, key, t.Next.Encode().Raw()); err != nil {
			return err
		}

		for _, l := range t.NewLinks {
			if err := d.put(tx, linkBucket, linkKey(l), l.Encode().Raw()); err != nil {
				return err
			}
		}
		for _, l := range t.DoneLinks {
			if err := tx.Bucket(linkBucket).Delete(linkKey(l)); err != nil {
				return err
			}
		}

		ob := tx.Bucket(outboxBucket)
		for _, it := range t.Outbox {
			seq, err := ob.NextSequence()
			if err != nil {
				return err
			}
			it.Seq = seq
			if err := d.put(tx, outboxBucket, join(it.Owned[:], be64(seq)), it.Encode().Raw()); err != nil {
				return err
			}
		}
		return nil
	})
}

// dropLinksOf removes the links whose parent is key.
func (d *DB) dropLinksOf(tx *bolt.Tx, parent engine.Key) error {
	var stale [][]byte
	err := d.scan(tx, linkBucket, nil, func(k, v []byte) error {
		l, err := decodeLink(v)
		if err != nil {
			return err
		}
		if l.Parent == parent {
			stale = append(stale, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range stale {
		if err := tx.Bucket(linkBucket).Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func decodeLink(raw []byte) (engine.Link, error) {
	e, err := codec.Parse(raw)
	if err != nil {
		return engine.Link{}, err
	}
	return engine.DecodeLink(e)
}

func (d *DB) List(_ context.Context, owned domain.Identity) ([]engine.Instance, error) {
	var out []engine.Instance
	err := d.db.View(func(tx *bolt.Tx) error {
		return d.scan(tx, instanceBucket, owned[:], func(_, v []byte) error {
			inst, err := decodeInstance(v)
			if err != nil {
				return err
			}
			out = append(out, inst)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, err
}

func (d *DB) PendingOutbox(_ context.Context, owned domain.Identity) ([]engine.OutboxItem, error) {
	var out []engine.OutboxItem
	err := d.db.View(func(tx *bolt.Tx) error {
		return d.scan(tx, outboxBucket, owned[:], func(_, v []byte) error {
			e, err := codec.Parse(v)
			if err != nil {
				return err
			}
			it, err := engine.DecodeOutboxItem(e)
			if err != nil {
				return err
			}
			out = append(out, it)
			return nil
		})
	})
	return out, err
}

func (d *DB) AckOutbox(_ context.Context, owned domain.Identity, seq uint64) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(outboxBucket).Delete(join(owned[:], be64(seq)))
	})
}

func (d *DB) LinksForChild(_ context.Context, child engine.Key) ([]engine.Link, error) {
	var out []engine.Link
	err := d.db.View(func(tx *bolt.Tx) error {
		return d.scan(tx, linkBucket, child.Bytes(), func(_, v []byte) error {
			l, err := decodeLink(v)
			if err != nil {
				return err
			}
			out = append(out, l)
			return nil
		})
	})
	return out, err
}
