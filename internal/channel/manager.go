package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trustline/internal/codec"
	"trustline/internal/crypto"
	"trustline/internal/domain"
	"trustline/internal/logging"
	"trustline/internal/metrics"
	"trustline/internal/util/keyedlock"
)

// PreKeyDirectory fetches the published pre-keys of an identity.
type PreKeyDirectory interface {
	FetchPreKeys(ctx context.Context, identity domain.Identity) ([]domain.SignedPreKey, error)
}

// RatchetStarter is told when the policy wants a full ratchet on a
// channel. restart is true when an exchange already in progress should
// be started over.
type RatchetStarter interface {
	StartFullRatchet(ctx context.Context, id ID, restart bool) error
}

// Config holds the dependencies of a Manager.
type Config struct {
	Account   domain.Account
	Store     Store
	PreKeys   domain.PreKeyStore
	Contacts  domain.ContactStore
	Directory PreKeyDirectory
	Policy    Policy
	Suite     crypto.Suite
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Manager encrypts and decrypts envelopes for one owned device.
type Manager struct {
	account   domain.Account
	owned     domain.Identity
	store     Store
	prekeys   domain.PreKeyStore
	contacts  domain.ContactStore
	directory PreKeyDirectory
	policy    Policy
	suite     crypto.Suite
	log       *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	locks     *keyedlock.Locks
	starter   RatchetStarter
}

// NewManager returns a Manager for cfg.Account.
func NewManager(cfg Config) *Manager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	policy := cfg.Policy
	if policy.ProvisionWindow <= 0 {
		policy = DefaultPolicy()
	}
	return &Manager{
		account:   cfg.Account,
		owned:     cfg.Account.ID(),
		store:     cfg.Store,
		prekeys:   cfg.PreKeys,
		contacts:  cfg.Contacts,
		directory: cfg.Directory,
		policy:    policy,
		suite:     cfg.Suite,
		log:       logging.Or(cfg.Logger).Named("channel"),
		metrics:   cfg.Metrics,
		now:       now,
		locks:     keyedlock.New(),
	}
}

// SetRatchetStarter installs the hook called on ratchet policy decisions.
func (m *Manager) SetRatchetStarter(rs RatchetStarter) { m.starter = rs }

// Owned returns the owned identity served by the manager.
func (m *Manager) Owned() domain.Identity { return m.owned }

// Device returns the UID of this device.
func (m *Manager) Device() domain.UID { return m.account.Device }

// ChannelID returns the id of the channel to a remote device.
func (m *Manager) ChannelID(remote domain.Identity, device domain.UID) ID {
	return ID{Local: m.account.Device, RemoteIdentity: remote, RemoteDevice: device}
}

func (m *Manager) lock(ctx context.Context, id ID) (func(), error) {
	return m.locks.Lock(ctx, string(id.Key()))
}

// Post encrypts plaintext for every device selected by sc. The body is
// encrypted once; each envelope carries its own wrapped message key.
// Devices that cannot be reached are skipped and logged; Post fails only
// when no device can be reached.
func (m *Manager) Post(ctx context.Context, sc domain.SendChannel, plaintext []byte) ([]domain.Envelope, error) {
	if sc.Kind == domain.ChannelLocal {
		return nil, ErrLocal
	}
	devices, err := m.recipients(ctx, sc)
	if err != nil {
		return nil, err
	}

	prng := m.suite.PRNG()
	messageKey := crypto.GenerateAEADKey(prng)
	defer messageKey.Wipe()
	body, err := crypto.Encrypt(messageKey, plaintext, prng)
	if err != nil {
		return nil, err
	}

	var envs []domain.Envelope
	var errs []error
	for _, dev := range devices {
		wrapped, kind, err := m.wrap(ctx, sc, dev, messageKey)
		if err != nil {
			m.log.Warn("cannot reach device",
				zap.Stringer("identity", sc.ToIdentity),
				zap.String("device", dev.Short()),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		m.metrics.ChannelMessage("out", kind.String())
		envs = append(envs, domain.Envelope{
			ToIdentity: sc.ToIdentity,
			ToDevice:   dev,
			WrappedKey: wrapped,
			Body:       body,
		})
	}
	if len(envs) == 0 {
		return nil, errors.Join(append([]error{ErrNoChannel}, errs...)...)
	}
	return envs, nil
}

// recipients resolves the devices addressed by sc. Asymmetric messages to
// an identity with no known device get a single envelope with a zero
// device UID, which the relay delivers to every device of the identity.
func (m *Manager) recipients(ctx context.Context, sc domain.SendChannel) ([]domain.UID, error) {
	if len(sc.ToDevices) > 0 {
		return sc.ToDevices, nil
	}
	var devices []domain.UID
	if sc.ToIdentity == m.owned {
		owned, err := m.contacts.OwnedDevices(ctx, m.owned)
		if err != nil {
			return nil, err
		}
		devices = owned
	} else {
		c, ok, err := m.contacts.GetContact(ctx, m.owned, sc.ToIdentity)
		if err != nil {
			return nil, err
		}
		if ok {
			devices = c.Devices
		}
	}
	if len(devices) == 0 && sc.Kind == domain.ChannelAsymmetric {
		return []domain.UID{{}}, nil
	}
	if len(devices) == 0 {
		return nil, ErrNoRecipients
	}
	return devices, nil
}

func (m *Manager) wrap(ctx context.Context, sc domain.SendChannel, dev domain.UID, mk crypto.AEADKey) ([]byte, domain.ChannelKind, error) {
	switch sc.Kind {
	case domain.ChannelRatcheting:
		w, err := m.wrapRatcheting(ctx, sc, dev, mk)
		if errors.Is(err, ErrNoChannel) && sc.Fallback != 0 && sc.Fallback != domain.ChannelRatcheting {
			fb := sc
			fb.Kind = sc.Fallback
			return m.wrap(ctx, fb, dev, mk)
		}
		return w, domain.ChannelRatcheting, err
	case domain.ChannelPreKey:
		w, err := m.wrapPreKey(ctx, sc.ToIdentity, dev, mk)
		return w, domain.ChannelPreKey, err
	case domain.ChannelAsymmetric:
		w, err := m.wrapAsymmetric(sc.ToIdentity, mk)
		return w, domain.ChannelAsymmetric, err
	case domain.ChannelLocal:
		return nil, domain.ChannelLocal, ErrLocal
	default:
		return nil, sc.Kind, fmt.Errorf("%w: %d", ErrUnknownKind, sc.Kind)
	}
}

func (m *Manager) wrapRatcheting(ctx context.Context, sc domain.SendChannel, dev domain.UID, mk crypto.AEADKey) ([]byte, error) {
	id := m.ChannelID(sc.ToIdentity, dev)
	unlock, err := m.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	ch, ok, err := m.store.GetChannel(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	if !ok || (!ch.Confirmed && !sc.AllowUnconfirmed) {
		unlock()
		return nil, ErrNoChannel
	}

	now := m.now()
	decision := DecisionNone
	if !sc.PartOfFullRatchet {
		decision = m.policy.Evaluate(ch.Stats, now)
		if decision != DecisionNone {
			ch.markFullRatchetSent(now)
		}
	}

	keyID, key := ch.nextSendKey()
	ct, err := crypto.Encrypt(key, mk.Encode().Raw(), m.suite.PRNG())
	key.Wipe()
	if err != nil {
		unlock()
		return nil, err
	}
	ch.Stats.Encrypted++
	ch.Stats.EncryptedSinceFullRatchet++
	if ch.Stats.FullRatchetInProgress {
		ch.Stats.EncryptedSinceFullRatchetSent++
	}
	err = m.store.PutChannel(ctx, ch)
	unlock()
	if err != nil {
		return nil, err
	}
	m.fire(ctx, id, decision)

	wrapped := make([]byte, 0, 1+KeyIDLength+len(ct))
	wrapped = append(wrapped, byte(domain.ChannelRatcheting))
	wrapped = append(wrapped, keyID[:]...)
	return append(wrapped, ct...), nil
}

func (m *Manager) wrapAsymmetric(to domain.Identity, mk crypto.AEADKey) ([]byte, error) {
	pub, err := to.Public()
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.Seal(pub.Encrypt, mk.Encode().Raw(), m.suite.PRNG())
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(domain.ChannelAsymmetric)}, sealed...), nil
}

// Decrypt opens an envelope addressed to this device and reports the
// channel it arrived on. Failures are never partial: either the full
// plaintext is returned or an error.
func (m *Manager) Decrypt(ctx context.Context, env domain.Envelope) ([]byte, domain.ReceptionChannel, error) {
	if env.ToIdentity != m.owned || len(env.WrappedKey) == 0 {
		m.metrics.DecryptFailure()
		return nil, domain.ReceptionChannel{}, ErrNoKey
	}
	kind := domain.ChannelKind(env.WrappedKey[0])
	rest := env.WrappedKey[1:]

	if kind == domain.ChannelRatcheting {
		pt, rc, err := m.openRatcheting(ctx, rest, env.Body)
		if err != nil {
			m.metrics.DecryptFailure()
			return nil, domain.ReceptionChannel{}, err
		}
		m.metrics.ChannelMessage("in", kind.String())
		return pt, rc, nil
	}

	var (
		mk  crypto.AEADKey
		rc  domain.ReceptionChannel
		err error
	)
	switch kind {
	case domain.ChannelPreKey:
		mk, rc, err = m.unwrapPreKey(ctx, rest)
	case domain.ChannelAsymmetric:
		mk, rc, err = m.unwrapAsymmetric(rest)
	case domain.ChannelLocal:
		err = ErrLocal
	default:
		err = fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	if err != nil {
		m.metrics.DecryptFailure()
		return nil, domain.ReceptionChannel{}, err
	}
	defer mk.Wipe()

	pt, err := crypto.Decrypt(mk, env.Body)
	if err != nil {
		m.metrics.DecryptFailure()
		return nil, domain.ReceptionChannel{}, err
	}
	m.metrics.ChannelMessage("in", kind.String())
	return pt, rc, nil
}

func parseMessageKey(b []byte) (crypto.AEADKey, error) {
	e, err := codec.Parse(b)
	if err != nil {
		return crypto.AEADKey{}, err
	}
	return crypto.DecodeAEADKey(e)
}

// openRatcheting unwraps the message key with a receive key of one of the
// channels holding keyID and opens body with it. The receive key is only
// consumed once body authenticates, so a corrupted envelope leaves the
// channel untouched.
func (m *Manager) openRatcheting(ctx context.Context, b, body []byte) ([]byte, domain.ReceptionChannel, error) {
	if len(b) < KeyIDLength {
		return nil, domain.ReceptionChannel{}, ErrMalformed
	}
	var keyID KeyID
	copy(keyID[:], b[:KeyIDLength])
	ct := b[KeyIDLength:]

	ids, err := m.store.ChannelsForKeyID(ctx, m.account.Device, keyID)
	if err != nil {
		return nil, domain.ReceptionChannel{}, err
	}
	var bodyErr error
	for _, id := range ids {
		pt, err := m.tryChannel(ctx, id, keyID, ct, body)
		switch {
		case err == nil:
			return pt, domain.ReceptionChannel{
				Kind:           domain.ChannelRatcheting,
				RemoteIdentity: id.RemoteIdentity,
				RemoteDevice:   id.RemoteDevice,
			}, nil
		case errors.Is(err, crypto.ErrAuthentication):
			bodyErr = err
		case !errors.Is(err, ErrNoKey):
			return nil, domain.ReceptionChannel{}, err
		}
	}
	if bodyErr != nil {
		m.log.Info("message body failed authentication", zap.Stringer("key_id", keyID))
		return nil, domain.ReceptionChannel{}, bodyErr
	}
	m.log.Info("no key allowed to decrypt", zap.Stringer("key_id", keyID))
	return nil, domain.ReceptionChannel{}, ErrNoKey
}

// tryChannel attempts every unexpired key of channel id matching keyID.
// It returns ErrNoKey when none unwraps ct and crypto.ErrAuthentication
// when a key unwraps ct but the body does not open.
func (m *Manager) tryChannel(ctx context.Context, id ID, keyID KeyID, ct, body []byte) ([]byte, error) {
	unlock, err := m.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	ch, ok, err := m.store.GetChannel(ctx, id)
	if err != nil || !ok {
		unlock()
		if err == nil {
			err = ErrNoKey
		}
		return nil, err
	}
	now := m.now()
	result := ErrNoKey
	for _, loc := range ch.lookup(keyID, now) {
		key := ch.Provisions[loc[0]].Keys[loc[1]].Key
		wrapped, err := crypto.Decrypt(key, ct)
		if err != nil {
			continue
		}
		mk, err := parseMessageKey(wrapped)
		if err != nil {
			continue
		}
		pt, err := crypto.Decrypt(mk, body)
		mk.Wipe()
		if err != nil {
			result = err
			continue
		}
		ch.consume(loc[0], loc[1], m.policy.ProvisionWindow, m.policy.GracePeriod, now)
		ch.cleanup(now)
		decision := m.policy.Evaluate(ch.Stats, now)
		if decision != DecisionNone {
			ch.markFullRatchetSent(now)
		}
		err = m.store.PutChannel(ctx, ch)
		unlock()
		if err != nil {
			return nil, err
		}
		m.fire(ctx, id, decision)
		return pt, nil
	}
	unlock()
	return nil, result
}

func (m *Manager) unwrapAsymmetric(b []byte) (crypto.AEADKey, domain.ReceptionChannel, error) {
	pt, err := crypto.Open(m.account.Identity.Encrypt.Private, b)
	if err != nil {
		return crypto.AEADKey{}, domain.ReceptionChannel{}, ErrNoKey
	}
	mk, err := parseMessageKey(pt)
	if err != nil {
		return crypto.AEADKey{}, domain.ReceptionChannel{}, ErrMalformed
	}
	return mk, domain.ReceptionChannel{Kind: domain.ChannelAsymmetric}, nil
}

// fire reports a policy decision outside of any channel lock.
func (m *Manager) fire(ctx context.Context, id ID, d Decision) {
	if d == DecisionNone {
		return
	}
	m.metrics.RatchetTrigger(d.String())
	m.log.Info("ratchet policy triggered", zap.Stringer("channel", id), zap.Stringer("decision", d))
	if m.starter == nil {
		return
	}
	if err := m.starter.StartFullRatchet(ctx, id, d == DecisionPartial); err != nil {
		m.log.Warn("start full ratchet", zap.Stringer("channel", id), zap.Error(err))
	}
}
