package channel

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trustline/internal/codec"
	"trustline/internal/crypto"
	"trustline/internal/domain"
)

const wrapLabel = "trustline prekey wrap"

// PreKeySigningBytes returns the bytes covered by a pre-key signature.
func PreKeySigningBytes(spk domain.SignedPreKey) []byte {
	out := make([]byte, 0, 2*domain.UIDLength+len(spk.Key)+8)
	out = append(out, spk.ID[:]...)
	out = append(out, spk.Device[:]...)
	out = append(out, spk.Key...)
	return binary.BigEndian.AppendUint64(out, uint64(spk.ExpiresAt.UnixMilli()))
}

// VerifySignedPreKey checks the signature and expiry of spk and returns
// its public KEM key.
func VerifySignedPreKey(spk domain.SignedPreKey, now time.Time) (crypto.PublicKey, error) {
	if !spk.ExpiresAt.After(now) {
		return crypto.PublicKey{}, ErrPreKeyExpired
	}
	id, err := spk.Identity.Public()
	if err != nil {
		return crypto.PublicKey{}, err
	}
	if err := crypto.Verify(id.Sign, PreKeySigningBytes(spk), spk.Signature); err != nil {
		return crypto.PublicKey{}, err
	}
	e, err := codec.Parse(spk.Key)
	if err != nil {
		return crypto.PublicKey{}, err
	}
	pub, err := crypto.DecodePublicKey(e)
	if err != nil {
		return crypto.PublicKey{}, err
	}
	if pub.Class != crypto.ClassPublicKeyEncryption {
		return crypto.PublicKey{}, crypto.ErrAlgorithmMismatch
	}
	return pub, nil
}

// GeneratePreKey creates a signed KEM pre-key for the device of account.
// The record keeps the private half; the signed pre-key is what gets
// published.
func GeneratePreKey(account domain.Account, suite crypto.Suite, ttl time.Duration, now time.Time) (domain.PreKeyRecord, domain.SignedPreKey, error) {
	prng := suite.PRNG()
	kp, err := crypto.GenerateKEMKeyPair(suite.Curve, prng)
	if err != nil {
		return domain.PreKeyRecord{}, domain.SignedPreKey{}, err
	}
	id, err := domain.NewUID(prng)
	if err != nil {
		return domain.PreKeyRecord{}, domain.SignedPreKey{}, err
	}
	spk := domain.SignedPreKey{
		Identity:  account.ID(),
		Device:    account.Device,
		ID:        id,
		Key:       kp.Public.Encode().Raw(),
		ExpiresAt: now.Add(ttl).Truncate(time.Millisecond),
	}
	spk.Signature, err = crypto.Sign(account.Identity.Sign, PreKeySigningBytes(spk), prng)
	if err != nil {
		return domain.PreKeyRecord{}, domain.SignedPreKey{}, err
	}
	rec := domain.PreKeyRecord{
		ID:        id,
		Public:    spk.Key,
		Private:   kp.Private.Encode().Raw(),
		ExpiresAt: spk.ExpiresAt,
		Signature: spk.Signature,
	}
	return rec, spk, nil
}

func wrapSigningBytes(mk crypto.AEADKey, preKeyID domain.UID, to domain.Identity, dev domain.UID) []byte {
	out := []byte(wrapLabel)
	out = append(out, mk.Encode().Raw()...)
	out = append(out, preKeyID[:]...)
	out = append(out, to[:]...)
	return append(out, dev[:]...)
}

// selectPreKey picks the verified pre-key of dev with the latest expiry.
func (m *Manager) selectPreKey(ctx context.Context, to domain.Identity, dev domain.UID) (domain.SignedPreKey, crypto.PublicKey, error) {
	if m.directory == nil {
		return domain.SignedPreKey{}, crypto.PublicKey{}, ErrNoPreKey
	}
	spks, err := m.directory.FetchPreKeys(ctx, to)
	if err != nil {
		return domain.SignedPreKey{}, crypto.PublicKey{}, fmt.Errorf("fetch pre-keys: %w", err)
	}
	var (
		best    domain.SignedPreKey
		bestKey crypto.PublicKey
		found   bool
	)
	now := m.now()
	for _, spk := range spks {
		if spk.Identity != to || spk.Device != dev {
			continue
		}
		pub, err := VerifySignedPreKey(spk, now)
		if err != nil {
			m.log.Info("ignoring pre-key", zap.String("device", dev.Short()), zap.Error(err))
			continue
		}
		if !found || spk.ExpiresAt.After(best.ExpiresAt) {
			best, bestKey, found = spk, pub, true
		}
	}
	if !found {
		return domain.SignedPreKey{}, crypto.PublicKey{}, ErrNoPreKey
	}
	return best, bestKey, nil
}

func (m *Manager) wrapPreKey(ctx context.Context, to domain.Identity, dev domain.UID, mk crypto.AEADKey) ([]byte, error) {
	spk, pub, err := m.selectPreKey(ctx, to, dev)
	if err != nil {
		return nil, err
	}
	prng := m.suite.PRNG()
	sig, err := crypto.Sign(m.account.Identity.Sign, wrapSigningBytes(mk, spk.ID, to, dev), prng)
	if err != nil {
		return nil, err
	}
	inner := codec.List(
		mk.Encode(),
		codec.Bytes(m.owned[:]),
		codec.Bytes(m.account.Device[:]),
		codec.Bytes(sig),
	)
	sealed, err := crypto.Seal(pub, inner.Raw(), prng)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+domain.UIDLength+len(sealed))
	out = append(out, byte(domain.ChannelPreKey))
	out = append(out, spk.ID[:]...)
	return append(out, sealed...), nil
}

func (m *Manager) unwrapPreKey(ctx context.Context, b []byte) (crypto.AEADKey, domain.ReceptionChannel, error) {
	var none domain.ReceptionChannel
	if len(b) < domain.UIDLength || m.prekeys == nil {
		return crypto.AEADKey{}, none, ErrMalformed
	}
	preKeyID, _ := domain.UIDFromBytes(b[:domain.UIDLength])
	rec, ok, err := m.prekeys.LoadPreKey(ctx, m.owned, preKeyID)
	if err != nil {
		return crypto.AEADKey{}, none, err
	}
	if !ok {
		return crypto.AEADKey{}, none, ErrNoKey
	}
	now := m.now()
	if !rec.ExpiresAt.After(now) {
		return crypto.AEADKey{}, none, ErrPreKeyExpired
	}
	pe, err := codec.Parse(rec.Private)
	if err != nil {
		return crypto.AEADKey{}, none, err
	}
	priv, err := crypto.DecodePrivateKey(pe)
	if err != nil {
		return crypto.AEADKey{}, none, err
	}
	defer priv.Wipe()

	pt, err := crypto.Open(priv, b[domain.UIDLength:])
	if err != nil {
		return crypto.AEADKey{}, none, ErrNoKey
	}
	e, err := codec.Parse(pt)
	if err != nil {
		return crypto.AEADKey{}, none, ErrMalformed
	}
	items, err := e.ListOf(4)
	if err != nil {
		return crypto.AEADKey{}, none, ErrMalformed
	}
	mk, err := crypto.DecodeAEADKey(items[0])
	if err != nil {
		return crypto.AEADKey{}, none, ErrMalformed
	}
	rawFrom, err1 := items[1].AsBytes()
	rawDev, err2 := items[2].AsBytes()
	sig, err3 := items[3].AsBytes()
	if err1 != nil || err2 != nil || err3 != nil {
		return crypto.AEADKey{}, none, ErrMalformed
	}
	from, err := domain.IdentityFromBytes(rawFrom)
	if err != nil {
		return crypto.AEADKey{}, none, ErrMalformed
	}
	dev, err := domain.UIDFromBytes(rawDev)
	if err != nil {
		return crypto.AEADKey{}, none, ErrMalformed
	}
	fromPub, err := from.Public()
	if err != nil {
		return crypto.AEADKey{}, none, ErrMalformed
	}
	if err := crypto.Verify(fromPub.Sign, wrapSigningBytes(mk, preKeyID, m.owned, m.account.Device), sig); err != nil {
		return crypto.AEADKey{}, none, err
	}
	return mk, domain.ReceptionChannel{Kind: domain.ChannelPreKey, RemoteIdentity: from, RemoteDevice: dev}, nil
}
