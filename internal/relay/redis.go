package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"trustline/internal/domain"
)

// RedisBackend stores relay data in Redis. A mailbox is a list of
// envelope ids, in arrival order, next to a hash of the envelopes.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisBackend returns a backend using rdb. Keys are namespaced by
// prefix. A mailbox left untouched for ttl expires; zero keeps it forever.
func NewRedisBackend(rdb *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = "trustline"
	}
	return &RedisBackend{rdb: rdb, prefix: prefix, ttl: ttl}
}

var _ Backend = (*RedisBackend)(nil)

func (b *RedisBackend) key(parts ...string) string {
	k := b.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (b *RedisBackend) mailbox(identity domain.Identity, device domain.UID) (order, bodies string) {
	return b.key("mbox", identity.Hex(), device.String()), b.key("env", identity.Hex(), device.String())
}

func (b *RedisBackend) Enqueue(ctx context.Context, env domain.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	order, bodies := b.mailbox(env.ToIdentity, env.ToDevice)
	_, err = b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, bodies, env.ID, raw)
		p.RPush(ctx, order, env.ID)
		if b.ttl > 0 {
			p.Expire(ctx, bodies, b.ttl)
			p.Expire(ctx, order, b.ttl)
		}
		return nil
	})
	return err
}

func (b *RedisBackend) Fetch(ctx context.Context, identity domain.Identity, device domain.UID, limit int) ([]domain.Envelope, error) {
	order, bodies := b.mailbox(identity, device)
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := b.rdb.LRange(ctx, order, 0, stop).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	vals, err := b.rdb.HMGet(ctx, bodies, ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Envelope, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// Acked concurrently.
			continue
		}
		var env domain.Envelope
		if err := json.Unmarshal([]byte(s), &env); err != nil {
			return nil, fmt.Errorf("relay: envelope %s: %w", ids[i], err)
		}
		out = append(out, env)
	}
	return out, nil
}

func (b *RedisBackend) Ack(ctx context.Context, identity domain.Identity, device domain.UID, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	order, bodies := b.mailbox(identity, device)
	_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range ids {
			p.LRem(ctx, order, 1, id)
		}
		p.HDel(ctx, bodies, ids...)
		return nil
	})
	return err
}

func (b *RedisBackend) AddDevice(ctx context.Context, identity domain.Identity, device domain.UID) error {
	return b.rdb.SAdd(ctx, b.key("devices", identity.Hex()), device.String()).Err()
}

func (b *RedisBackend) Devices(ctx context.Context, identity domain.Identity) ([]domain.UID, error) {
	members, err := b.rdb.SMembers(ctx, b.key("devices", identity.Hex())).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.UID, 0, len(members))
	for _, m := range members {
		u, err := domain.ParseUID(m)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (b *RedisBackend) PutPreKey(ctx context.Context, spk domain.SignedPreKey) error {
	raw, err := json.Marshal(spk)
	if err != nil {
		return err
	}
	return b.rdb.Set(ctx, b.key("prekey", spk.Identity.Hex(), spk.Device.String()), raw, 0).Err()
}

func (b *RedisBackend) PreKeys(ctx context.Context, identity domain.Identity) ([]domain.SignedPreKey, error) {
	devices, err := b.Devices(ctx, identity)
	if err != nil {
		return nil, err
	}
	var out []domain.SignedPreKey
	for _, d := range devices {
		raw, err := b.rdb.Get(ctx, b.key("prekey", identity.Hex(), d.String())).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var spk domain.SignedPreKey
		if err := json.Unmarshal(raw, &spk); err != nil {
			return nil, err
		}
		out = append(out, spk)
	}
	return out, nil
}

func (b *RedisBackend) PutPhoto(ctx context.Context, label string, data []byte) error {
	return b.rdb.Set(ctx, b.key("photo", label), data, 0).Err()
}

func (b *RedisBackend) Photo(ctx context.Context, label string) ([]byte, bool, error) {
	raw, err := b.rdb.Get(ctx, b.key("photo", label)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (b *RedisBackend) Revoke(ctx context.Context, identity domain.Identity) error {
	return b.rdb.SAdd(ctx, b.key("revoked"), identity.Hex()).Err()
}

func (b *RedisBackend) IsRevoked(ctx context.Context, identity domain.Identity) (bool, error) {
	return b.rdb.SIsMember(ctx, b.key("revoked"), identity.Hex()).Result()
}
