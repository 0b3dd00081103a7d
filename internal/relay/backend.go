package relay

import (
	"context"
	"slices"
	"sync"

	"trustline/internal/domain"
)

// Backend stores what the relay holds between requests. Mailboxes are
// per device; envelopes are returned in the order they were enqueued.
type Backend interface {
	Enqueue(ctx context.Context, env domain.Envelope) error
	Fetch(ctx context.Context, identity domain.Identity, device domain.UID, limit int) ([]domain.Envelope, error)
	Ack(ctx context.Context, identity domain.Identity, device domain.UID, ids []string) error

	AddDevice(ctx context.Context, identity domain.Identity, device domain.UID) error
	Devices(ctx context.Context, identity domain.Identity) ([]domain.UID, error)

	PutPreKey(ctx context.Context, spk domain.SignedPreKey) error
	PreKeys(ctx context.Context, identity domain.Identity) ([]domain.SignedPreKey, error)

	PutPhoto(ctx context.Context, label string, data []byte) error
	Photo(ctx context.Context, label string) ([]byte, bool, error)

	Revoke(ctx context.Context, identity domain.Identity) error
	IsRevoked(ctx context.Context, identity domain.Identity) (bool, error)
}

type mailboxKey struct {
	identity domain.Identity
	device   domain.UID
}

// MemoryBackend keeps everything in process memory.
type MemoryBackend struct {
	mu        sync.RWMutex
	mailboxes map[mailboxKey][]domain.Envelope
	devices   map[domain.Identity][]domain.UID
	prekeys   map[mailboxKey]domain.SignedPreKey
	photos    map[string][]byte
	revoked   map[domain.Identity]bool
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		mailboxes: make(map[mailboxKey][]domain.Envelope),
		devices:   make(map[domain.Identity][]domain.UID),
		prekeys:   make(map[mailboxKey]domain.SignedPreKey),
		photos:    make(map[string][]byte),
		revoked:   make(map[domain.Identity]bool),
	}
}

var _ Backend = (*MemoryBackend)(nil)

func (b *MemoryBackend) Enqueue(_ context.Context, env domain.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := mailboxKey{env.ToIdentity, env.ToDevice}
	b.mailboxes[k] = append(b.mailboxes[k], env)
	return nil
}

func (b *MemoryBackend) Fetch(_ context.Context, identity domain.Identity, device domain.UID, limit int) ([]domain.Envelope, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	box := b.mailboxes[mailboxKey{identity, device}]
	if limit > 0 && len(box) > limit {
		box = box[:limit]
	}
	return slices.Clone(box), nil
}

func (b *MemoryBackend) Ack(_ context.Context, identity domain.Identity, device domain.UID, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := mailboxKey{identity, device}
	b.mailboxes[k] = slices.DeleteFunc(b.mailboxes[k], func(e domain.Envelope) bool {
		return slices.Contains(ids, e.ID)
	})
	return nil
}

func (b *MemoryBackend) AddDevice(_ context.Context, identity domain.Identity, device domain.UID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !slices.Contains(b.devices[identity], device) {
		b.devices[identity] = append(b.devices[identity], device)
	}
	return nil
}

func (b *MemoryBackend) Devices(_ context.Context, identity domain.Identity) ([]domain.UID, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.devices[identity]), nil
}

func (b *MemoryBackend) PutPreKey(_ context.Context, spk domain.SignedPreKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prekeys[mailboxKey{spk.Identity, spk.Device}] = spk
	return nil
}

func (b *MemoryBackend) PreKeys(_ context.Context, identity domain.Identity) ([]domain.SignedPreKey, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.SignedPreKey
	for _, dev := range b.devices[identity] {
		if spk, ok := b.prekeys[mailboxKey{identity, dev}]; ok {
			out = append(out, spk)
		}
	}
	return out, nil
}

func (b *MemoryBackend) PutPhoto(_ context.Context, label string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.photos[label] = slices.Clone(data)
	return nil
}

func (b *MemoryBackend) Photo(_ context.Context, label string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.photos[label]
	return slices.Clone(p), ok, nil
}

func (b *MemoryBackend) Revoke(_ context.Context, identity domain.Identity) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[identity] = true
	return nil
}

func (b *MemoryBackend) IsRevoked(_ context.Context, identity domain.Identity) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.revoked[identity], nil
}
