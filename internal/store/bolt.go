package store

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"trustline/internal/logging"
)

// DBFile is the name of the device database inside the home directory.
const DBFile = "trustline.db"

const schemaVersion = 1

var (
	metadataBucket = []byte("metadata")
	instanceBucket = []byte("instances")
	outboxBucket   = []byte("outbox")
	linkBucket     = []byte("links")
	channelBucket  = []byte("channels")
	recvKeyBucket  = []byte("recvkeys")
	contactBucket  = []byte("contacts")
	deviceBucket   = []byte("devices")
	preKeyBucket   = []byte("prekeys")
	currentBucket  = []byte("current")
	backupBucket   = []byte("backup")
	photoBucket    = []byte("photos")

	versionKey = []byte("version")
	kdfKey     = []byte("kdf")
	checkKey   = []byte("check")
	checkValue = []byte("trustline")
)

var allBuckets = [][]byte{
	metadataBucket, instanceBucket, outboxBucket, linkBucket, channelBucket, recvKeyBucket,
	contactBucket, deviceBucket, preKeyBucket, currentBucket, backupBucket, photoBucket,
}

// Options customises Open.
type Options struct {
	// Timeout bounds the wait for the file lock; zero waits one second.
	Timeout time.Duration
	Logger  *zap.Logger

	kdf kdfParams
}

// DB is the persistent state of one device: protocol instances and their
// outbox, ratcheting channels, contacts, pre-keys and the backup key.
// Keys are stored in the clear; every value is sealed under a key derived
// from the passphrase.
type DB struct {
	db   *bolt.DB
	seal *sealer
	log  *zap.Logger
}

type kdfRecord struct {
	Salt []byte `json:"salt"`
	kdfParams
}

// Open opens, or creates, the database at path.
func Open(path, passphrase string, opts Options) (*DB, error) {
	if opts.Timeout == 0 {
		opts.Timeout = time.Second
	}
	if opts.kdf.N == 0 {
		opts.kdf = defaultKDF()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	d := &DB{db: bdb, log: logging.Or(opts.Logger).Named("store")}

	if err := bdb.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(metadataBucket)
		if v := meta.Get(versionKey); v != nil {
			if len(v) != 1 || v[0] != schemaVersion {
				return fmt.Errorf("store: incompatible version %v", v)
			}
			var rec kdfRecord
			if err := json.Unmarshal(meta.Get(kdfKey), &rec); err != nil {
				return fmt.Errorf("store: metadata: %w", err)
			}
			if err := d.unlock(passphrase, rec); err != nil {
				return err
			}
			if _, err := d.seal.open(metadataBucket, checkKey, meta.Get(checkKey)); err != nil {
				return ErrWrongPassphrase
			}
			return nil
		}

		rec := kdfRecord{Salt: make([]byte, 16), kdfParams: opts.kdf}
		if _, err := rand.Read(rec.Salt); err != nil {
			return err
		}
		if err := d.unlock(passphrase, rec); err != nil {
			return err
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		check, err := d.seal.seal(metadataBucket, checkKey, checkValue)
		if err != nil {
			return err
		}
		if err := meta.Put(kdfKey, raw); err != nil {
			return err
		}
		if err := meta.Put(checkKey, check); err != nil {
			return err
		}
		d.log.Info("created database", zap.String("path", path))
		return meta.Put(versionKey, []byte{schemaVersion})
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) unlock(passphrase string, rec kdfRecord) error {
	key, err := rec.derive(passphrase, rec.Salt)
	if err != nil {
		return err
	}
	d.seal, err = newSealer(key)
	return err
}

// Close releases the database file.
func (d *DB) Close() error {
	return d.db.Close()
}

// put seals v and stores it under key.
func (d *DB) put(tx *bolt.Tx, bucket, key, v []byte) error {
	sealed, err := d.seal.seal(bucket, key, v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put(key, sealed)
}

// get returns the opened value under key, or nil when absent.
func (d *DB) get(tx *bolt.Tx, bucket, key []byte) ([]byte, error) {
	sealed := tx.Bucket(bucket).Get(key)
	if sealed == nil {
		return nil, nil
	}
	return d.seal.open(bucket, key, sealed)
}

// scan calls fn with the opened value of every key starting with prefix.
func (d *DB) scan(tx *bolt.Tx, bucket, prefix []byte, fn func(k, v []byte) error) error {
	c := tx.Bucket(bucket).Cursor()
	for k, sealed := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, sealed = c.Next() {
		v, err := d.seal.open(bucket, k, sealed)
		if err != nil {
			return err
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

// deletePrefix removes every key starting with prefix.
func deletePrefix(tx *bolt.Tx, bucket, prefix []byte) error {
	var keys [][]byte
	c := tx.Bucket(bucket).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, bytes.Clone(k))
	}
	for _, k := range keys {
		if err := tx.Bucket(bucket).Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func putJSON(d *DB, tx *bolt.Tx, bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return d.put(tx, bucket, key, raw)
}

func getJSON(d *DB, tx *bolt.Tx, bucket, key []byte, out any) (bool, error) {
	raw, err := d.get(tx, bucket, key)
	if err != nil || raw == nil {
		return false, err
	}
	return true, json.Unmarshal(raw, out)
}

func join(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func be64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}
