package relay

import (
	"context"
	"encoding/hex"

	"trustline/internal/domain"
)

// LocalClient is a RelayClient calling a Service in the same process.
type LocalClient struct {
	svc *Service
}

// NewLocalClient returns a client for svc.
func NewLocalClient(svc *Service) *LocalClient { return &LocalClient{svc: svc} }

var _ domain.RelayClient = (*LocalClient)(nil)

func (c *LocalClient) PostEnvelopes(ctx context.Context, envs []domain.Envelope) error {
	return c.svc.Post(ctx, envs)
}

func (c *LocalClient) FetchEnvelopes(ctx context.Context, identity domain.Identity, device domain.UID, limit int) ([]domain.Envelope, error) {
	return c.svc.Fetch(ctx, identity, device, limit)
}

func (c *LocalClient) AckEnvelopes(ctx context.Context, identity domain.Identity, device domain.UID, ids []string) error {
	return c.svc.Ack(ctx, identity, device, ids)
}

func (c *LocalClient) RegisterDevice(ctx context.Context, identity domain.Identity, device domain.UID) error {
	return c.svc.RegisterDevice(ctx, identity, device)
}

func (c *LocalClient) DeviceUIDs(ctx context.Context, identity domain.Identity) ([]domain.UID, error) {
	return c.svc.Devices(ctx, identity)
}

func (c *LocalClient) PublishPreKey(ctx context.Context, spk domain.SignedPreKey) error {
	return c.svc.PublishPreKey(ctx, spk)
}

func (c *LocalClient) FetchPreKeys(ctx context.Context, identity domain.Identity) ([]domain.SignedPreKey, error) {
	return c.svc.PreKeys(ctx, identity)
}

func (c *LocalClient) PutPhoto(ctx context.Context, label, encrypted []byte) error {
	return c.svc.PutPhoto(ctx, hex.EncodeToString(label), encrypted)
}

func (c *LocalClient) GetPhoto(ctx context.Context, label []byte) ([]byte, bool, error) {
	return c.svc.Photo(ctx, hex.EncodeToString(label))
}

func (c *LocalClient) Revoke(ctx context.Context, identity domain.Identity) error {
	return c.svc.Revoke(ctx, identity)
}

func (c *LocalClient) IsRevoked(ctx context.Context, identity domain.Identity) (bool, error) {
	return c.svc.IsRevoked(ctx, identity)
}
