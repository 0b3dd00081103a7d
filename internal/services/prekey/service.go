package prekey

import (
	"context"
	"time"

	"trustline/internal/channel"
	"trustline/internal/crypto"
	"trustline/internal/domain"
)

// DefaultTTL is the lifetime of a signed pre-key.
const DefaultTTL = 7 * 24 * time.Hour

// Service generates this device's signed pre-keys and publishes them.
type Service struct {
	store domain.PreKeyStore
	relay domain.RelayClient
	suite crypto.Suite
	ttl   time.Duration
	now   func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithTTL sets the pre-key lifetime.
func WithTTL(ttl time.Duration) Option { return func(s *Service) { s.ttl = ttl } }

// WithClock sets the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(store domain.PreKeyStore, relay domain.RelayClient, suite crypto.Suite, opts ...Option) *Service {
	s := &Service{store: store, relay: relay, suite: suite, ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ domain.PreKeyService = (*Service)(nil)

// RotatePreKey creates a new current pre-key. The previous one is marked
// replaced and stays usable for envelopes already in flight until it
// expires.
func (s *Service) RotatePreKey(ctx context.Context, account domain.Account) (domain.SignedPreKey, error) {
	owned := account.ID()
	now := s.now()
	prev, ok, err := s.store.CurrentPreKey(ctx, owned)
	if err != nil {
		return domain.SignedPreKey{}, err
	}
	rec, spk, err := channel.GeneratePreKey(account, s.suite, s.ttl, now)
	if err != nil {
		return domain.SignedPreKey{}, err
	}
	if ok {
		prev.ReplacedAt = now
		if err := s.store.SavePreKey(ctx, owned, prev); err != nil {
			return domain.SignedPreKey{}, err
		}
	}
	if err := s.store.SavePreKey(ctx, owned, rec); err != nil {
		return domain.SignedPreKey{}, err
	}
	return spk, nil
}

// Publish registers the device and publishes its current pre-key,
// rotating first when there is none or it expires within a quarter of
// its lifetime.
func (s *Service) Publish(ctx context.Context, account domain.Account) error {
	owned := account.ID()
	if err := s.relay.RegisterDevice(ctx, owned, account.Device); err != nil {
		return err
	}
	rec, ok, err := s.store.CurrentPreKey(ctx, owned)
	if err != nil {
		return err
	}
	var spk domain.SignedPreKey
	if !ok || rec.ExpiresAt.Sub(s.now()) < s.ttl/4 {
		if spk, err = s.RotatePreKey(ctx, account); err != nil {
			return err
		}
	} else {
		spk = domain.SignedPreKey{
			Identity:  owned,
			Device:    account.Device,
			ID:        rec.ID,
			Key:       rec.Public,
			ExpiresAt: rec.ExpiresAt,
			Signature: rec.Signature,
		}
	}
	return s.relay.PublishPreKey(ctx, spk)
}
