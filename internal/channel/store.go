package channel

import (
	"context"
	"sync"
	"time"

	"trustline/internal/domain"
)

// Store persists ratcheting channels and indexes their receive key ids.
type Store interface {
	GetChannel(ctx context.Context, id ID) (*Channel, bool, error)
	PutChannel(ctx context.Context, ch *Channel) error
	DeleteChannel(ctx context.Context, id ID) error
	ListChannels(ctx context.Context, local domain.UID) ([]*Channel, error)
	// ChannelsForKeyID returns the channels of local holding a receive
	// key with the given id. Expiry is left to the caller, whose clock
	// decides which keys are still usable.
	ChannelsForKeyID(ctx context.Context, local domain.UID, keyID KeyID) ([]ID, error)
}

// MemoryStore is an in-memory Store. Channels are stored encoded so that
// callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	channels map[string][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{channels: make(map[string][]byte)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) GetChannel(_ context.Context, id ID) (*Channel, bool, error) {
	m.mu.RLock()
	raw, ok := m.channels[string(id.Key())]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	ch, err := ParseChannel(raw)
	if err != nil {
		return nil, false, err
	}
	return ch, true, nil
}

func (m *MemoryStore) PutChannel(_ context.Context, ch *Channel) error {
	raw := ch.Encode().Raw()
	m.mu.Lock()
	m.channels[string(ch.ID.Key())] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteChannel(_ context.Context, id ID) error {
	m.mu.Lock()
	delete(m.channels, string(id.Key()))
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListChannels(_ context.Context, local domain.UID) ([]*Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Channel
	for _, raw := range m.channels {
		ch, err := ParseChannel(raw)
		if err != nil {
			return nil, err
		}
		if ch.ID.Local == local {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (m *MemoryStore) ChannelsForKeyID(ctx context.Context, local domain.UID, keyID KeyID) ([]ID, error) {
	chans, err := m.ListChannels(ctx, local)
	if err != nil {
		return nil, err
	}
	var out []ID
	for _, ch := range chans {
		if len(ch.lookup(keyID, time.Time{})) > 0 {
			out = append(out, ch.ID)
		}
	}
	return out, nil
}
