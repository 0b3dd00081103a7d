package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trustline/internal/channel"
	"trustline/internal/domain"
	"trustline/internal/logging"
	"trustline/internal/metrics"
)

// DefaultFetchLimit caps a mailbox fetch when the caller gives no limit.
const DefaultFetchLimit = 100

var (
	// ErrUnknownIdentity is returned when an envelope is addressed to an
	// identity with no registered device.
	ErrUnknownIdentity = errors.New("relay: no registered device for identity")
	// ErrBadPreKey is returned for pre-keys whose signature does not verify.
	ErrBadPreKey = errors.New("relay: invalid pre-key")
)

// Service is the relay logic shared by the HTTP server and the in-process
// client: it stamps envelopes, fans out identity-wide envelopes to every
// device and checks published pre-keys.
type Service struct {
	backend Backend
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithClock sets the time source used for timestamps and pre-key expiry.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService returns a service over backend.
func NewService(backend Backend, log *zap.Logger, m *metrics.Metrics, opts ...ServiceOption) *Service {
	s := &Service{backend: backend, log: logging.Or(log).Named("relay"), metrics: m, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Post stores envelopes. An envelope with a zero device is copied to every
// registered device of its identity.
func (s *Service) Post(ctx context.Context, envs []domain.Envelope) error {
	now := s.now().UTC()
	for _, env := range envs {
		targets := []domain.UID{env.ToDevice}
		if env.ToDevice.IsZero() {
			devs, err := s.backend.Devices(ctx, env.ToIdentity)
			if err != nil {
				return err
			}
			if len(devs) == 0 {
				return fmt.Errorf("%w: %s", ErrUnknownIdentity, env.ToIdentity)
			}
			targets = devs
		}
		for _, dev := range targets {
			e := env
			e.ID = uuid.NewString()
			e.ToDevice = dev
			e.ServerTimestamp = now
			if err := s.backend.Enqueue(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fetch returns up to limit envelopes of a mailbox.
func (s *Service) Fetch(ctx context.Context, identity domain.Identity, device domain.UID, limit int) ([]domain.Envelope, error) {
	if limit <= 0 || limit > DefaultFetchLimit {
		limit = DefaultFetchLimit
	}
	envs, err := s.backend.Fetch(ctx, identity, device, limit)
	if err != nil {
		return nil, err
	}
	s.metrics.MailboxDepth(len(envs))
	return envs, nil
}

// Ack removes delivered envelopes.
func (s *Service) Ack(ctx context.Context, identity domain.Identity, device domain.UID, ids []string) error {
	return s.backend.Ack(ctx, identity, device, ids)
}

// RegisterDevice records a device of identity.
func (s *Service) RegisterDevice(ctx context.Context, identity domain.Identity, device domain.UID) error {
	if _, err := identity.Public(); err != nil {
		return err
	}
	return s.backend.AddDevice(ctx, identity, device)
}

// Devices lists the registered devices of identity.
func (s *Service) Devices(ctx context.Context, identity domain.Identity) ([]domain.UID, error) {
	return s.backend.Devices(ctx, identity)
}

// PublishPreKey stores a pre-key after checking its signature. The device
// is registered along the way.
func (s *Service) PublishPreKey(ctx context.Context, spk domain.SignedPreKey) error {
	if _, err := channel.VerifySignedPreKey(spk, s.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPreKey, err)
	}
	if err := s.backend.AddDevice(ctx, spk.Identity, spk.Device); err != nil {
		return err
	}
	return s.backend.PutPreKey(ctx, spk)
}

// PreKeys returns the published pre-keys of identity.
func (s *Service) PreKeys(ctx context.Context, identity domain.Identity) ([]domain.SignedPreKey, error) {
	return s.backend.PreKeys(ctx, identity)
}

// PutPhoto stores an encrypted photo under label.
func (s *Service) PutPhoto(ctx context.Context, label string, data []byte) error {
	return s.backend.PutPhoto(ctx, label, data)
}

// Photo returns the encrypted photo stored under label.
func (s *Service) Photo(ctx context.Context, label string) ([]byte, bool, error) {
	return s.backend.Photo(ctx, label)
}

// Revoke marks identity as revoked.
func (s *Service) Revoke(ctx context.Context, identity domain.Identity) error {
	s.log.Info("identity revoked", zap.Stringer("identity", identity))
	return s.backend.Revoke(ctx, identity)
}

// IsRevoked reports whether identity was revoked.
func (s *Service) IsRevoked(ctx context.Context, identity domain.Identity) (bool, error) {
	return s.backend.IsRevoked(ctx, identity)
}
