// Package memory provides in-memory implementations of the domain stores.
// They back tests and the ephemeral CLI mode; nothing survives the process.
package memory

import (
	"context"
	"slices"
	"sync"

	"trustline/internal/domain"
)

type contactKey struct {
	owned, contact domain.Identity
}

// Contacts is an in-memory domain.ContactStore.
type Contacts struct {
	mu       sync.RWMutex
	contacts map[contactKey]domain.Contact
	devices  map[domain.Identity][]domain.UID
}

// NewContacts returns an empty contact store.
func NewContacts() *Contacts {
	return &Contacts{
		contacts: make(map[contactKey]domain.Contact),
		devices:  make(map[domain.Identity][]domain.UID),
	}
}

var _ domain.ContactStore = (*Contacts)(nil)

func cloneContact(c domain.Contact) domain.Contact {
	c.Devices = slices.Clone(c.Devices)
	c.Origins = slices.Clone(c.Origins)
	return c
}

func (s *Contacts) GetContact(_ context.Context, owned, contact domain.Identity) (domain.Contact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[contactKey{owned, contact}]
	return cloneContact(c), ok, nil
}

func (s *Contacts) SaveContact(_ context.Context, c domain.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[contactKey{c.Owned, c.Identity}] = cloneContact(c)
	return nil
}

func (s *Contacts) DeleteContact(_ context.Context, owned, contact domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contacts, contactKey{owned, contact})
	return nil
}

func (s *Contacts) ListContacts(_ context.Context, owned domain.Identity) ([]domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Contact
	for k, c := range s.contacts {
		if k.owned == owned {
			out = append(out, cloneContact(c))
		}
	}
	return out, nil
}

func (s *Contacts) OwnedDevices(_ context.Context, owned domain.Identity) ([]domain.UID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.devices[owned]), nil
}

func (s *Contacts) SetOwnedDevices(_ context.Context, owned domain.Identity, devices []domain.UID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[owned] = slices.Clone(devices)
	return nil
}

type preKeyKey struct {
	owned domain.Identity
	id    domain.UID
}

// PreKeys is an in-memory domain.PreKeyStore. The most recently saved
// record is the current one.
type PreKeys struct {
	mu      sync.RWMutex
	records map[preKeyKey]domain.PreKeyRecord
	current map[domain.Identity]domain.UID
}

// NewPreKeys returns an empty pre-key store.
func NewPreKeys() *PreKeys {
	return &PreKeys{
		records: make(map[preKeyKey]domain.PreKeyRecord),
		current: make(map[domain.Identity]domain.UID),
	}
}

var _ domain.PreKeyStore = (*PreKeys)(nil)

func (s *PreKeys) SavePreKey(_ context.Context, owned domain.Identity, rec domain.PreKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[preKeyKey{owned, rec.ID}] = rec
	if rec.ReplacedAt.IsZero() {
		s.current[owned] = rec.ID
	}
	return nil
}

func (s *PreKeys) LoadPreKey(_ context.Context, owned domain.Identity, id domain.UID) (domain.PreKeyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[preKeyKey{owned, id}]
	return rec, ok, nil
}

func (s *PreKeys) CurrentPreKey(_ context.Context, owned domain.Identity) (domain.PreKeyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.current[owned]
	if !ok {
		return domain.PreKeyRecord{}, false, nil
	}
	rec, ok := s.records[preKeyKey{owned, id}]
	return rec, ok, nil
}

// BackupKeys is an in-memory domain.BackupKeyStore.
type BackupKeys struct {
	mu   sync.RWMutex
	keys map[domain.Identity]domain.BackupKeyInfo
}

// NewBackupKeys returns an empty backup key store.
func NewBackupKeys() *BackupKeys {
	return &BackupKeys{keys: make(map[domain.Identity]domain.BackupKeyInfo)}
}

var _ domain.BackupKeyStore = (*BackupKeys)(nil)

func (s *BackupKeys) SaveBackupKey(_ context.Context, owned domain.Identity, info domain.BackupKeyInfo) error {
	s.mu.Lock()
	s.keys[owned] = info
	s.mu.Unlock()
	return nil
}

func (s *BackupKeys) LoadBackupKey(_ context.Context, owned domain.Identity) (domain.BackupKeyInfo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.keys[owned]
	return info, ok, nil
}

func (s *BackupKeys) DeleteBackupKey(_ context.Context, owned domain.Identity) error {
	s.mu.Lock()
	delete(s.keys, owned)
	s.mu.Unlock()
	return nil
}

// Photos is an in-memory domain.PhotoSink.
type Photos struct {
	mu     sync.Mutex
	photos map[domain.UID][]byte
}

// NewPhotos returns an empty photo sink.
func NewPhotos() *Photos { return &Photos{photos: make(map[domain.UID][]byte)} }

var _ domain.PhotoSink = (*Photos)(nil)

func (p *Photos) SavePhoto(_ context.Context, _ domain.Identity, group domain.UID, photo []byte) error {
	p.mu.Lock()
	p.photos[group] = slices.Clone(photo)
	p.mu.Unlock()
	return nil
}

// Photo returns the stored photo of group.
func (p *Photos) Photo(group domain.UID) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.photos[group]
	return b, ok
}

// Events records emitted events in order.
type Events struct {
	mu     sync.Mutex
	events []domain.Event
}

var _ domain.EventSink = (*Events)(nil)

func (e *Events) Emit(_ context.Context, ev domain.Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

// All returns a copy of the recorded events.
func (e *Events) All() []domain.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.events)
}

// Last returns the most recent event of kind.
func (e *Events) Last(kind domain.EventKind) (domain.Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.events) - 1; i >= 0; i-- {
		if e.events[i].Kind == kind {
			return e.events[i], true
		}
	}
	return domain.Event{}, false
}
