package channel

import (
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"trustline/internal/codec"
	"trustline/internal/crypto"
	"trustline/internal/domain"
)

// KeyIDLength is the size of a ratcheting key identifier.
const KeyIDLength = 32

// KeyID names one ratcheted key. Sender and receiver derive it from the
// same seed, so it can be sent in the clear to select the receive key.
type KeyID [KeyIDLength]byte

func (k KeyID) String() string { return hex.EncodeToString(k[:4]) }

// ID is the identity of a ratcheting channel.
type ID struct {
	Local          domain.UID
	RemoteIdentity domain.Identity
	RemoteDevice   domain.UID
}

// Key returns a stable byte key for maps and storage.
func (id ID) Key() []byte {
	out := make([]byte, 0, 2*domain.UIDLength+domain.IdentityLength)
	out = append(out, id.Local[:]...)
	out = append(out, id.RemoteIdentity[:]...)
	return append(out, id.RemoteDevice[:]...)
}

// ParseID reverses ID.Key.
func ParseID(b []byte) (ID, error) {
	if len(b) != 2*domain.UIDLength+domain.IdentityLength {
		return ID{}, fmt.Errorf("channel id: %d bytes", len(b))
	}
	var id ID
	copy(id.Local[:], b)
	copy(id.RemoteIdentity[:], b[domain.UIDLength:])
	copy(id.RemoteDevice[:], b[domain.UIDLength+domain.IdentityLength:])
	return id, nil
}

func (id ID) String() string {
	return fmt.Sprintf("%s->%s/%s", id.Local.Short(), id.RemoteIdentity, id.RemoteDevice.Short())
}

// Stats are the counters the ratchet policy looks at.
type Stats struct {
	Encrypted                     int
	Decrypted                     int
	EncryptedSinceFullRatchet     int
	EncryptedSinceFullRatchetSent int
	DecryptedSinceFullRatchetSent int
	LastFullRatchet               time.Time
	FullRatchetSentAt             time.Time
	FullRatchetInProgress         bool
}

// ReceiveKey is a provisioned key waiting for a message.
type ReceiveKey struct {
	ID               KeyID
	Key              crypto.AEADKey
	SelfRatchetCount int
	ExpiresAt        time.Time // zero means no expiry
}

func (k ReceiveKey) expired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && now.After(k.ExpiresAt)
}

// Provision is the receive side of one full-ratchet epoch.
type Provision struct {
	FullRatchetCount     int
	NextSeed             crypto.Seed
	NextSelfRatchetCount int
	Keys                 []ReceiveKey
}

// Channel is the state of a ratcheting channel.
type Channel struct {
	ID                   ID
	Confirmed            bool
	SendSeed             crypto.Seed
	SendFullRatchetCount int
	SendSelfRatchetCount int
	Stats                Stats
	Provisions           []Provision
	CreatedAt            time.Time
}

// selfRatchet expands seed into the next seed, a key id and a key.
func selfRatchet(seed crypto.Seed) (crypto.Seed, KeyID, crypto.AEADKey) {
	prng := crypto.NewPRNG(seed)
	next := crypto.Seed(prng.Bytes(crypto.SeedLength))
	var id KeyID
	copy(id[:], prng.Bytes(KeyIDLength))
	keySeed := crypto.Seed(prng.Bytes(crypto.SeedLength))
	key := crypto.AEADKeyFromSeed(keySeed)
	keySeed.Wipe()
	return next, id, key
}

// newChannel builds an unconfirmed channel from a pair of seeds.
func newChannel(id ID, sendSeed, recvSeed crypto.Seed, window int, now time.Time) *Channel {
	ch := &Channel{
		ID:         id,
		SendSeed:   sendSeed,
		CreatedAt:  now,
		Stats:      Stats{LastFullRatchet: now},
		Provisions: []Provision{{NextSeed: recvSeed}},
	}
	ch.Provisions[0].topUp(window)
	return ch
}

// nextSendKey ratchets the send seed once.
func (c *Channel) nextSendKey() (KeyID, crypto.AEADKey) {
	next, id, key := selfRatchet(c.SendSeed)
	c.SendSeed.Wipe()
	c.SendSeed = next
	c.SendSelfRatchetCount++
	return id, key
}

// topUp derives keys until the provision holds window unused keys.
func (p *Provision) topUp(window int) {
	for len(p.Keys) < window {
		next, id, key := selfRatchet(p.NextSeed)
		p.Keys = append(p.Keys, ReceiveKey{ID: id, Key: key, SelfRatchetCount: p.NextSelfRatchetCount})
		p.NextSeed.Wipe()
		p.NextSeed = next
		p.NextSelfRatchetCount++
	}
}

// lookup returns the provision and key indexes holding id.
func (c *Channel) lookup(id KeyID, now time.Time) [][2]int {
	var out [][2]int
	for pi := range c.Provisions {
		for ki, k := range c.Provisions[pi].Keys {
			if k.ID == id && !k.expired(now) {
				out = append(out, [2]int{pi, ki})
			}
		}
	}
	return out
}

// KeyIDs lists the unexpired receive key identifiers.
func (c *Channel) KeyIDs(now time.Time) []KeyID {
	var out []KeyID
	for _, p := range c.Provisions {
		for _, k := range p.Keys {
			if !k.expired(now) {
				out = append(out, k.ID)
			}
		}
	}
	return out
}

// consume records a successful decryption with key ki of provision pi.
// Older keys of the same provision and every key of older provisions get
// a grace expiry; the provision is then refilled.
func (c *Channel) consume(pi, ki int, window int, grace time.Duration, now time.Time) {
	p := &c.Provisions[pi]
	used := p.Keys[ki]
	p.Keys = append(p.Keys[:ki], p.Keys[ki+1:]...)

	expiry := now.Add(grace)
	for i := range p.Keys {
		if p.Keys[i].SelfRatchetCount < used.SelfRatchetCount && p.Keys[i].ExpiresAt.IsZero() {
			p.Keys[i].ExpiresAt = expiry
		}
	}
	for i := range c.Provisions {
		if c.Provisions[i].FullRatchetCount >= p.FullRatchetCount {
			continue
		}
		for j := range c.Provisions[i].Keys {
			if c.Provisions[i].Keys[j].ExpiresAt.IsZero() {
				c.Provisions[i].Keys[j].ExpiresAt = expiry
			}
		}
	}
	p.topUp(window)

	c.Confirmed = true
	c.Stats.Decrypted++
	if c.Stats.FullRatchetInProgress {
		c.Stats.DecryptedSinceFullRatchetSent++
	}
}

// addProvision installs the receive side of a completed full ratchet.
func (c *Channel) addProvision(seed crypto.Seed, window int) {
	latest := 0
	for _, p := range c.Provisions {
		if p.FullRatchetCount > latest {
			latest = p.FullRatchetCount
		}
	}
	p := Provision{FullRatchetCount: latest + 1, NextSeed: seed}
	p.topUp(window)
	c.Provisions = append(c.Provisions, p)
}

// updateSendSeed installs the send side of a completed full ratchet.
func (c *Channel) updateSendSeed(seed crypto.Seed, now time.Time) {
	c.SendSeed.Wipe()
	c.SendSeed = seed
	c.SendFullRatchetCount++
	c.SendSelfRatchetCount = 0
	c.Stats.EncryptedSinceFullRatchet = 0
	c.Stats.EncryptedSinceFullRatchetSent = 0
	c.Stats.DecryptedSinceFullRatchetSent = 0
	c.Stats.FullRatchetInProgress = false
	c.Stats.LastFullRatchet = now
}

// markFullRatchetSent starts, or restarts, the send-side counters of a
// full ratchet exchange.
func (c *Channel) markFullRatchetSent(now time.Time) {
	c.Stats.FullRatchetInProgress = true
	c.Stats.EncryptedSinceFullRatchetSent = 0
	c.Stats.DecryptedSinceFullRatchetSent = 0
	c.Stats.FullRatchetSentAt = now
}

// cleanup drops expired keys and emptied provisions other than the
// latest one.
func (c *Channel) cleanup(now time.Time) {
	latest := -1
	for _, p := range c.Provisions {
		if p.FullRatchetCount > latest {
			latest = p.FullRatchetCount
		}
	}
	kept := c.Provisions[:0]
	for _, p := range c.Provisions {
		keys := p.Keys[:0]
		for _, k := range p.Keys {
			if !k.expired(now) {
				keys = append(keys, k)
			}
		}
		p.Keys = keys
		if len(p.Keys) == 0 && p.FullRatchetCount != latest {
			p.NextSeed.Wipe()
			continue
		}
		kept = append(kept, p)
	}
	c.Provisions = kept
	sort.Slice(c.Provisions, func(i, j int) bool {
		return c.Provisions[i].FullRatchetCount < c.Provisions[j].FullRatchetCount
	})
}

// Encode serializes the channel.
func (c *Channel) Encode() codec.Encoded {
	provs := make([]codec.Encoded, 0, len(c.Provisions))
	for _, p := range c.Provisions {
		keys := make([]codec.Encoded, 0, len(p.Keys))
		for _, k := range p.Keys {
			keys = append(keys, codec.List(
				codec.Bytes(k.ID[:]),
				k.Key.Encode(),
				codec.Int(int64(k.SelfRatchetCount)),
				encodeTime(k.ExpiresAt),
			))
		}
		provs = append(provs, codec.List(
			codec.Int(int64(p.FullRatchetCount)),
			codec.Bytes(p.NextSeed),
			codec.Int(int64(p.NextSelfRatchetCount)),
			codec.List(keys...),
		))
	}
	s := c.Stats
	return codec.Dict(map[string]codec.Encoded{
		"id":         encodeID(c.ID),
		"confirmed":  codec.Bool(c.Confirmed),
		"send_seed":  codec.Bytes(c.SendSeed),
		"send_frc":   codec.Int(int64(c.SendFullRatchetCount)),
		"send_src":   codec.Int(int64(c.SendSelfRatchetCount)),
		"created_at": encodeTime(c.CreatedAt),
		"stats": codec.List(
			codec.Int(int64(s.Encrypted)),
			codec.Int(int64(s.Decrypted)),
			codec.Int(int64(s.EncryptedSinceFullRatchet)),
			codec.Int(int64(s.EncryptedSinceFullRatchetSent)),
			codec.Int(int64(s.DecryptedSinceFullRatchetSent)),
			encodeTime(s.LastFullRatchet),
			encodeTime(s.FullRatchetSentAt),
			codec.Bool(s.FullRatchetInProgress),
		),
		"provisions": codec.List(provs...),
	})
}

// DecodeChannel parses the output of Channel.Encode.
func DecodeChannel(e codec.Encoded) (*Channel, error) {
	d, err := e.AsDict()
	if err != nil {
		return nil, err
	}
	r := &reader{}
	c := &Channel{
		ID:                   r.id(d["id"]),
		Confirmed:            r.bool(d["confirmed"]),
		SendSeed:             crypto.Seed(r.bytes(d["send_seed"])),
		SendFullRatchetCount: r.int(d["send_frc"]),
		SendSelfRatchetCount: r.int(d["send_src"]),
		CreatedAt:            r.time(d["created_at"]),
	}
	stats := r.list(d["stats"], 8)
	if len(stats) == 8 {
		c.Stats = Stats{
			Encrypted:                     r.int(stats[0]),
			Decrypted:                     r.int(stats[1]),
			EncryptedSinceFullRatchet:     r.int(stats[2]),
			EncryptedSinceFullRatchetSent: r.int(stats[3]),
			DecryptedSinceFullRatchetSent: r.int(stats[4]),
			LastFullRatchet:               r.time(stats[5]),
			FullRatchetSentAt:             r.time(stats[6]),
			FullRatchetInProgress:         r.bool(stats[7]),
		}
	}
	for _, pe := range r.list(d["provisions"], -1) {
		pf := r.list(pe, 4)
		if len(pf) != 4 {
			break
		}
		p := Provision{
			FullRatchetCount:     r.int(pf[0]),
			NextSeed:             crypto.Seed(r.bytes(pf[1])),
			NextSelfRatchetCount: r.int(pf[2]),
		}
		for _, ke := range r.list(pf[3], -1) {
			kf := r.list(ke, 4)
			if len(kf) != 4 {
				break
			}
			k := ReceiveKey{SelfRatchetCount: r.int(kf[2]), ExpiresAt: r.time(kf[3])}
			copy(k.ID[:], r.bytes(kf[0]))
			if r.err == nil {
				k.Key, r.err = crypto.DecodeAEADKey(kf[1])
			}
			p.Keys = append(p.Keys, k)
		}
		c.Provisions = append(c.Provisions, p)
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode channel: %w", r.err)
	}
	return c, nil
}

func encodeID(id ID) codec.Encoded {
	return codec.List(codec.Bytes(id.Local[:]), codec.Bytes(id.RemoteIdentity[:]), codec.Bytes(id.RemoteDevice[:]))
}

// DecodeID parses an encoded channel ID.
func DecodeID(e codec.Encoded) (ID, error) {
	r := &reader{}
	id := r.id(e)
	return id, r.err
}

func encodeTime(t time.Time) codec.Encoded {
	if t.IsZero() {
		return codec.Int(0)
	}
	return codec.Time(t)
}

// reader accumulates the first decoding error so field extraction reads
// linearly.
type reader struct{ err error }

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) bytes(e codec.Encoded) []byte {
	if r.err != nil {
		return nil
	}
	b, err := e.AsBytes()
	r.fail(err)
	return b
}

func (r *reader) int(e codec.Encoded) int {
	if r.err != nil {
		return 0
	}
	v, err := e.AsInt()
	r.fail(err)
	return int(v)
}

func (r *reader) bool(e codec.Encoded) bool {
	if r.err != nil {
		return false
	}
	v, err := e.AsBool()
	r.fail(err)
	return v
}

func (r *reader) time(e codec.Encoded) time.Time {
	if r.err != nil {
		return time.Time{}
	}
	v, err := e.AsInt()
	r.fail(err)
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}

func (r *reader) list(e codec.Encoded, n int) []codec.Encoded {
	if r.err != nil {
		return nil
	}
	var items []codec.Encoded
	var err error
	if n < 0 {
		items, err = e.AsList()
	} else {
		items, err = e.ListOf(n)
	}
	r.fail(err)
	return items
}

func (r *reader) id(e codec.Encoded) ID {
	f := r.list(e, 3)
	if len(f) != 3 {
		return ID{}
	}
	var id ID
	var err error
	id.Local, err = domain.UIDFromBytes(r.bytes(f[0]))
	r.fail(err)
	id.RemoteIdentity, err = domain.IdentityFromBytes(r.bytes(f[1]))
	r.fail(err)
	id.RemoteDevice, err = domain.UIDFromBytes(r.bytes(f[2]))
	r.fail(err)
	return id
}

// ParseChannel decodes raw bytes produced by Channel.Encode().Raw().
func ParseChannel(raw []byte) (*Channel, error) {
	e, err := codec.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("decode channel: %w", err)
	}
	return DecodeChannel(e)
}
