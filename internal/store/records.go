package store

import (
	"context"
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"trustline/internal/domain"
)

var (
	_ domain.ContactStore   = (*DB)(nil)
	_ domain.PreKeyStore    = (*DB)(nil)
	_ domain.BackupKeyStore = (*DB)(nil)
	_ domain.PhotoSink      = (*DB)(nil)
)

func (d *DB) GetContact(_ context.Context, owned, contact domain.Identity) (domain.Contact, bool, error) {
	var (
		c  domain.Contact
		ok bool
	)
	err := d.db.View(func(tx *bolt.Tx) error {
		var err error
		ok, err = getJSON(d, tx, contactBucket, join(owned[:], contact[:]), &c)
		return err
	})
	return c, ok, err
}

func (d *DB) SaveContact(_ context.Context, c domain.Contact) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return putJSON(d, tx, contactBucket, join(c.Owned[:], c.Identity[:]), c)
	})
}

func (d *DB) DeleteContact(_ context.Context, owned, contact domain.Identity) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(contactBucket).Delete(join(owned[:], contact[:]))
	})
}

func (d *DB) ListContacts(_ context.Context, owned domain.Identity) ([]domain.Contact, error) {
	var out []domain.Contact
	err := d.db.View(func(tx *bolt.Tx) error {
		return d.scan(tx, contactBucket, owned[:], func(_, v []byte) error {
			var c domain.Contact
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	return out, err
}

func (d *DB) OwnedDevices(_ context.Context, owned domain.Identity) ([]domain.UID, error) {
	var out []domain.UID
	err := d.db.View(func(tx *bolt.Tx) error {
		_, err := getJSON(d, tx, deviceBucket, owned[:], &out)
		return err
	})
	return out, err
}

func (d *DB) SetOwnedDevices(_ context.Context, owned domain.Identity, devices []domain.UID) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return putJSON(d, tx, deviceBucket, owned[:], devices)
	})
}

// SavePreKey stores rec. A record that was never replaced becomes the
// current pre-key.
func (d *DB) SavePreKey(_ context.Context, owned domain.Identity, rec domain.PreKeyRecord) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := putJSON(d, tx, preKeyBucket, join(owned[:], rec.ID[:]), rec); err != nil {
			return err
		}
		if !rec.ReplacedAt.IsZero() {
			return nil
		}
		return tx.Bucket(currentBucket).Put(owned[:], rec.ID.Bytes())
	})
}

func (d *DB) LoadPreKey(_ context.Context, owned domain.Identity, id domain.UID) (domain.PreKeyRecord, bool, error) {
	var (
		rec domain.PreKeyRecord
		ok  bool
	)
	err := d.db.View(func(tx *bolt.Tx) error {
		var err error
		ok, err = getJSON(d, tx, preKeyBucket, join(owned[:], id[:]), &rec)
		return err
	})
	return rec, ok, err
}

func (d *DB) CurrentPreKey(ctx context.Context, owned domain.Identity) (domain.PreKeyRecord, bool, error) {
	var cur []byte
	if err := d.db.View(func(tx *bolt.Tx) error {
		cur = append(cur, tx.Bucket(currentBucket).Get(owned[:])...)
		return nil
	}); err != nil || cur == nil {
		return domain.PreKeyRecord{}, false, err
	}
	id, err := domain.UIDFromBytes(cur)
	if err != nil {
		return domain.PreKeyRecord{}, false, err
	}
	return d.LoadPreKey(ctx, owned, id)
}

func (d *DB) SaveBackupKey(_ context.Context, owned domain.Identity, info domain.BackupKeyInfo) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return putJSON(d, tx, backupBucket, owned[:], info)
	})
}

func (d *DB) LoadBackupKey(_ context.Context, owned domain.Identity) (domain.BackupKeyInfo, bool, error) {
	var (
		info domain.BackupKeyInfo
		ok   bool
	)
	err := d.db.View(func(tx *bolt.Tx) error {
		var err error
		ok, err = getJSON(d, tx, backupBucket, owned[:], &info)
		return err
	})
	return info, ok, err
}

func (d *DB) DeleteBackupKey(_ context.Context, owned domain.Identity) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(backupBucket).Delete(owned[:])
	})
}

func (d *DB) SavePhoto(_ context.Context, owned domain.Identity, group domain.UID, photo []byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return d.put(tx, photoBucket, join(owned[:], group[:]), photo)
	})
}

// Photo returns the downloaded photo of group.
func (d *DB) Photo(_ context.Context, owned domain.Identity, group domain.UID) ([]byte, bool, error) {
	var photo []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		var err error
		photo, err = d.get(tx, photoBucket, join(owned[:], group[:]))
		return err
	})
	return photo, photo != nil, err
}
