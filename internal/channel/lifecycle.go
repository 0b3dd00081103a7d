package channel

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trustline/internal/crypto"
	"trustline/internal/domain"
)

// Status is a diagnostic snapshot of a ratcheting channel.
type Status struct {
	ID                   ID
	Confirmed            bool
	SendFullRatchetCount int
	SendSelfRatchetCount int
	Provisions           int
	ReceiveKeys          int
	Stats                Stats
	CreatedAt            time.Time
}

func statusOf(ch *Channel, now time.Time) Status {
	return Status{
		ID:                   ch.ID,
		Confirmed:            ch.Confirmed,
		SendFullRatchetCount: ch.SendFullRatchetCount,
		SendSelfRatchetCount: ch.SendSelfRatchetCount,
		Provisions:           len(ch.Provisions),
		ReceiveKeys:          len(ch.KeyIDs(now)),
		Stats:                ch.Stats,
		CreatedAt:            ch.CreatedAt,
	}
}

// update runs fn on channel id under its lock and saves the result.
func (m *Manager) update(ctx context.Context, id ID, fn func(*Channel, time.Time) error) error {
	unlock, err := m.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	ch, ok, err := m.store.GetChannel(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoChannel, id)
	}
	if err := fn(ch, m.now()); err != nil {
		return err
	}
	return m.store.PutChannel(ctx, ch)
}

// CreateChannel installs a new unconfirmed ratcheting channel, replacing
// any previous channel with the same id. The channel becomes confirmed
// once a message has been decrypted on it.
func (m *Manager) CreateChannel(ctx context.Context, id ID, sendSeed, recvSeed crypto.Seed) error {
	if id.Local != m.account.Device {
		return fmt.Errorf("%w: channel %s belongs to another device", ErrNoChannel, id)
	}
	unlock, err := m.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	ch := newChannel(id, append(crypto.Seed(nil), sendSeed...), append(crypto.Seed(nil), recvSeed...), m.policy.ProvisionWindow, m.now())
	if err := m.store.PutChannel(ctx, ch); err != nil {
		return err
	}
	m.log.Info("channel created", zap.Stringer("channel", id))
	return nil
}

// UpdateSendSeed installs the send side of a completed full ratchet.
func (m *Manager) UpdateSendSeed(ctx context.Context, id ID, seed crypto.Seed) error {
	return m.update(ctx, id, func(ch *Channel, now time.Time) error {
		ch.updateSendSeed(append(crypto.Seed(nil), seed...), now)
		return nil
	})
}

// CreateProvision installs the receive side of a completed full ratchet.
// Keys of earlier provisions stay usable for the grace period.
func (m *Manager) CreateProvision(ctx context.Context, id ID, seed crypto.Seed) error {
	return m.update(ctx, id, func(ch *Channel, now time.Time) error {
		ch.addProvision(append(crypto.Seed(nil), seed...), m.policy.ProvisionWindow)
		expiry := now.Add(m.policy.GracePeriod)
		latest := ch.Provisions[len(ch.Provisions)-1].FullRatchetCount
		for i := range ch.Provisions {
			if ch.Provisions[i].FullRatchetCount == latest {
				continue
			}
			for j := range ch.Provisions[i].Keys {
				if ch.Provisions[i].Keys[j].ExpiresAt.IsZero() {
					ch.Provisions[i].Keys[j].ExpiresAt = expiry
				}
			}
		}
		return nil
	})
}

// MarkFullRatchetSent records that a full ratchet message went out.
func (m *Manager) MarkFullRatchetSent(ctx context.Context, id ID) error {
	return m.update(ctx, id, func(ch *Channel, now time.Time) error {
		ch.markFullRatchetSent(now)
		return nil
	})
}

// Status reports the state of one channel.
func (m *Manager) Status(ctx context.Context, id ID) (Status, error) {
	ch, ok, err := m.store.GetChannel(ctx, id)
	if err != nil {
		return Status{}, err
	}
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrNoChannel, id)
	}
	return statusOf(ch, m.now()), nil
}

// List reports every channel of this device.
func (m *Manager) List(ctx context.Context) ([]Status, error) {
	chans, err := m.store.ListChannels(ctx, m.account.Device)
	if err != nil {
		return nil, err
	}
	now := m.now()
	out := make([]Status, 0, len(chans))
	for _, ch := range chans {
		out = append(out, statusOf(ch, now))
	}
	return out, nil
}

// HasConfirmedChannel reports whether a confirmed channel to the remote
// device exists.
func (m *Manager) HasConfirmedChannel(ctx context.Context, remote domain.Identity, device domain.UID) (bool, error) {
	ch, ok, err := m.store.GetChannel(ctx, m.ChannelID(remote, device))
	if err != nil || !ok {
		return false, err
	}
	return ch.Confirmed, nil
}

// Delete removes a channel.
func (m *Manager) Delete(ctx context.Context, id ID) error {
	unlock, err := m.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return m.store.DeleteChannel(ctx, id)
}

// DeleteForContact removes every channel to the devices of remote.
func (m *Manager) DeleteForContact(ctx context.Context, remote domain.Identity) error {
	chans, err := m.store.ListChannels(ctx, m.account.Device)
	if err != nil {
		return err
	}
	for _, ch := range chans {
		if ch.ID.RemoteIdentity != remote {
			continue
		}
		if err := m.Delete(ctx, ch.ID); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup purges expired keys across all channels of this device.
func (m *Manager) Cleanup(ctx context.Context) error {
	chans, err := m.store.ListChannels(ctx, m.account.Device)
	if err != nil {
		return err
	}
	for _, ch := range chans {
		err := m.update(ctx, ch.ID, func(c *Channel, now time.Time) error {
			c.cleanup(now)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
