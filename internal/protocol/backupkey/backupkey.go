// Package backupkey issues, verifies and revokes the key that protects
// backups of the owned identity. Only the public material derived from
// the key is kept; the key itself is shown to the user once.
package backupkey

import (
	"context"
	"crypto/sha256"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"trustline/internal/codec"
	"trustline/internal/crypto"
	"trustline/internal/domain"
	"trustline/internal/protocol"
	"trustline/internal/protocol/engine"
)

// Messages.
const (
	MsgGenerate engine.MessageID = iota
	MsgVerify
	MsgRevoke
)

// States.
const (
	StateActive engine.StateID = iota + 1
	StateRevoked
)

// ErrNoBackupKey is returned when verifying without a current key.
var ErrNoBackupKey = errors.New("backupkey: no backup key")

// Deps are the collaborators of the protocol.
type Deps struct {
	Store domain.BackupKeyStore
	Suite crypto.Suite
}

// Instance is the single backup key instance of an owned identity.
func Instance(owned domain.Identity) domain.UID {
	sum := sha256.Sum256(append([]byte("trustline backup key"), owned[:]...))
	return domain.UID(sum)
}

// Message builds a local message for the backup key instance of owned.
func Message(owned domain.Identity, id engine.MessageID, inputs ...codec.Encoded) engine.Message {
	return engine.Message{
		Protocol: protocol.BackupKey,
		Instance: Instance(owned),
		Owned:    owned,
		ID:       id,
		Inputs:   inputs,
		Channel:  domain.ReceptionChannel{Kind: domain.ChannelLocal},
	}
}

// VerifyMessage submits a candidate key for verification.
func VerifyMessage(owned domain.Identity, candidate string) engine.Message {
	return Message(owned, MsgVerify, codec.String(candidate))
}

type initialState struct{}

func (initialState) ID() engine.StateID    { return engine.StateInitial }
func (initialState) Encode() codec.Encoded { return protocol.Empty() }

// Active holds the UID of the current key.
type Active struct {
	Key domain.UID
}

func (Active) ID() engine.StateID      { return StateActive }
func (s Active) Encode() codec.Encoded { return codec.List(protocol.EncodeUID(s.Key)) }

// Revoked is the final state.
type Revoked struct{}

func (Revoked) ID() engine.StateID    { return StateRevoked }
func (Revoked) Encode() codec.Encoded { return protocol.Empty() }

// New returns the backup key protocol.
func New(d Deps) *engine.Definition {
	r := runner{Deps: d}
	return &engine.Definition{
		ID:      protocol.BackupKey,
		Name:    "backup-key",
		Initial: initialState{},
		States: map[engine.StateID]engine.StateDecoder{
			StateActive: func(e codec.Encoded) (engine.State, error) {
				f := protocol.ReadFields(e, 1)
				s := Active{Key: f.UID()}
				return s, f.Err()
			},
		},
		FinalStates: []engine.StateID{StateRevoked},
		Steps: []engine.Step{
			{Name: "generate", From: engine.StateInitial, On: MsgGenerate, Channel: domain.LocalOnly, Run: r.generate},
			{Name: "replace", From: StateActive, On: MsgGenerate, Channel: domain.LocalOnly, Run: r.generate},
			{Name: "verify", From: StateActive, On: MsgVerify, Channel: domain.LocalOnly, Run: r.verify},
			{Name: "revoke", From: StateActive, On: MsgRevoke, Channel: domain.LocalOnly, Run: r.revoke},
		},
	}
}

type runner struct{ Deps }

func (r runner) generate(ctx context.Context, sc *engine.StepContext, _ engine.State, _ engine.Message) (engine.State, error) {
	key := NewKey(sc.PRNG)
	d, err := Derive(key, r.Suite.Curve)
	if err != nil {
		return nil, err
	}
	defer d.KeyPair.Private.Wipe()
	uid, err := domain.NewUID(sc.PRNG)
	if err != nil {
		return nil, err
	}
	info := domain.BackupKeyInfo{
		UID:       uid,
		PublicKey: d.KeyPair.Public.Encode().Raw(),
		MACKey:    d.MACKey,
		CreatedAt: sc.Now,
	}
	if err := r.Store.SaveBackupKey(ctx, sc.Owned, info); err != nil {
		return nil, err
	}
	sc.Log.Info("backup key generated", zap.String("uid", uid.Short()))
	sc.Notify(domain.EventBackupKeyGenerated, domain.Identity{}, Format(key))
	return Active{Key: uid}, nil
}

func (r runner) verify(ctx context.Context, sc *engine.StepContext, s engine.State, msg engine.Message) (engine.State, error) {
	in, err := protocol.Inputs(msg, 1)
	if err != nil {
		return nil, err
	}
	candidate, err := in[0].AsString()
	if err != nil {
		return nil, err
	}
	info, ok, err := r.Store.LoadBackupKey(ctx, sc.Owned)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoBackupKey
	}
	pub, err := decodePublic(info.PublicKey)
	if err != nil {
		return nil, err
	}
	match := false
	if d, err := Derive(candidate, pub.Curve); err == nil {
		match = d.Matches(pub, info.MACKey)
		d.KeyPair.Private.Wipe()
	}
	info.LastVerificationAt = sc.Now
	if match {
		info.SuccessfulVerifications++
	} else {
		info.FailedVerifications++
	}
	if err := r.Store.SaveBackupKey(ctx, sc.Owned, info); err != nil {
		return nil, err
	}
	sc.Notify(domain.EventBackupKeyVerified, domain.Identity{}, strconv.FormatBool(match))
	return s, nil
}

func (r runner) revoke(ctx context.Context, sc *engine.StepContext, _ engine.State, _ engine.Message) (engine.State, error) {
	if err := r.Store.DeleteBackupKey(ctx, sc.Owned); err != nil {
		return nil, err
	}
	sc.Notify(domain.EventBackupKeyRevoked, domain.Identity{}, "")
	return Revoked{}, nil
}

func decodePublic(raw []byte) (crypto.PublicKey, error) {
	e, err := codec.Parse(raw)
	if err != nil {
		return crypto.PublicKey{}, err
	}
	return crypto.DecodePublicKey(e)
}

// SealFor encrypts a backup blob to the current key described by info.
func SealFor(info domain.BackupKeyInfo, plaintext []byte, prng crypto.PRNG) ([]byte, error) {
	pub, err := decodePublic(info.PublicKey)
	if err != nil {
		return nil, err
	}
	return Seal(pub, info.MACKey, plaintext, prng)
}
