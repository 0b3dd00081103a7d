package engine

import (
	"fmt"
	"time"

	"trustline/internal/codec"
	"trustline/internal/domain"
)

// OutboundMessage is a protocol message a step asks to send.
type OutboundMessage struct {
	Protocol ProtocolID
	Instance domain.UID
	ID       MessageID
	Inputs   []codec.Encoded
	Channel  domain.SendChannel
}

// QueryKind names a request to the relay server.
type QueryKind uint8

const (
	// QueryDeviceDiscovery asks for the device UIDs of an identity.
	// Args: identity. Response: list of device UIDs.
	QueryDeviceDiscovery QueryKind = iota + 1
	// QueryGetPhoto downloads an encrypted photo. Args: label. Response:
	// the encrypted photo, or nothing when absent.
	QueryGetPhoto
	// QueryCheckRevocation asks whether an identity was revoked. Args:
	// identity. Response: bool.
	QueryCheckRevocation
)

func (k QueryKind) String() string {
	switch k {
	case QueryDeviceDiscovery:
		return "device-discovery"
	case QueryGetPhoto:
		return "get-photo"
	case QueryCheckRevocation:
		return "check-revocation"
	default:
		return fmt.Sprintf("query(%d)", uint8(k))
	}
}

// ServerQuery is a relay request whose response is delivered back to the
// instance as a local message with id Response.
type ServerQuery struct {
	Kind     QueryKind
	Args     []codec.Encoded
	Protocol ProtocolID
	Instance domain.UID
	Response MessageID
}

// ItemKind classifies outbox items.
type ItemKind uint8

const (
	ItemPost ItemKind = iota + 1
	ItemQuery
	ItemEvent
)

// OutboxItem is one side effect committed with a state transition.
type OutboxItem struct {
	Seq   uint64
	Owned domain.Identity
	Kind  ItemKind
	Post  OutboundMessage
	Query ServerQuery
	Event domain.Event
}

// Instance is a stored protocol instance.
type Instance struct {
	Key       Key
	State     StateID
	Raw       []byte
	Version   uint64
	UpdatedAt time.Time
}

// Link ties a child instance to the parent waiting for it.
type Link struct {
	Parent Key
	Reply  MessageID
	Child  Key
	Expect StateID
}

// EncodeWire frames an outbound message as a protocol payload.
func EncodeWire(m OutboundMessage) codec.Encoded {
	return codec.List(
		codec.Int(int64(m.Protocol)),
		codec.Bytes(m.Instance[:]),
		codec.Int(int64(m.ID)),
		codec.List(m.Inputs...),
	)
}

// DecodeWire parses a protocol payload into a Message. The caller fills
// in the reception details.
func DecodeWire(e codec.Encoded) (Message, error) {
	items, err := e.ListOf(4)
	if err != nil {
		return Message{}, err
	}
	proto, err := items[0].AsInt()
	if err != nil {
		return Message{}, err
	}
	raw, err := items[1].AsBytes()
	if err != nil {
		return Message{}, err
	}
	inst, err := domain.UIDFromBytes(raw)
	if err != nil {
		return Message{}, err
	}
	id, err := items[2].AsInt()
	if err != nil {
		return Message{}, err
	}
	inputs, err := items[3].AsList()
	if err != nil {
		return Message{}, err
	}
	return Message{Protocol: ProtocolID(proto), Instance: inst, ID: MessageID(id), Inputs: inputs}, nil
}

func encodeKey(k Key) codec.Encoded {
	return codec.List(codec.Bytes(k.Owned[:]), codec.Int(int64(k.Protocol)), codec.Bytes(k.Instance[:]))
}

func decodeKey(e codec.Encoded) (Key, error) {
	items, err := e.ListOf(3)
	if err != nil {
		return Key{}, err
	}
	var k Key
	var raw []byte
	if raw, err = items[0].AsBytes(); err != nil {
		return Key{}, err
	}
	if k.Owned, err = domain.IdentityFromBytes(raw); err != nil {
		return Key{}, err
	}
	p, err := items[1].AsInt()
	if err != nil {
		return Key{}, err
	}
	k.Protocol = ProtocolID(p)
	if raw, err = items[2].AsBytes(); err != nil {
		return Key{}, err
	}
	if k.Instance, err = domain.UIDFromBytes(raw); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Bytes returns a fixed-width storage key: owned ‖ protocol(8) ‖ instance.
func (k Key) Bytes() []byte {
	out := make([]byte, 0, domain.IdentityLength+8+domain.UIDLength)
	out = append(out, k.Owned[:]...)
	p := uint64(k.Protocol)
	for i := 7; i >= 0; i-- {
		out = append(out, byte(p>>(8*i)))
	}
	return append(out, k.Instance[:]...)
}

// Encode serializes the instance.
func (i Instance) Encode() codec.Encoded {
	return codec.List(
		encodeKey(i.Key),
		codec.Int(int64(i.State)),
		codec.Bytes(i.Raw),
		codec.Int(int64(i.Version)),
		codec.Time(i.UpdatedAt),
	)
}

// DecodeInstance parses the output of Instance.Encode.
func DecodeInstance(e codec.Encoded) (Instance, error) {
	items, err := e.ListOf(5)
	if err != nil {
		return Instance{}, err
	}
	var inst Instance
	if inst.Key, err = decodeKey(items[0]); err != nil {
		return Instance{}, err
	}
	st, err := items[1].AsInt()
	if err != nil {
		return Instance{}, err
	}
	inst.State = StateID(st)
	if inst.Raw, err = items[2].AsBytes(); err != nil {
		return Instance{}, err
	}
	v, err := items[3].AsInt()
	if err != nil {
		return Instance{}, err
	}
	inst.Version = uint64(v)
	if inst.UpdatedAt, err = items[4].AsTime(); err != nil {
		return Instance{}, err
	}
	return inst, nil
}

// Encode serializes the link.
func (l Link) Encode() codec.Encoded {
	return codec.List(encodeKey(l.Parent), codec.Int(int64(l.Reply)), encodeKey(l.Child), codec.Int(int64(l.Expect)))
}

// DecodeLink parses the output of Link.Encode.
func DecodeLink(e codec.Encoded) (Link, error) {
	items, err := e.ListOf(4)
	if err != nil {
		return Link{}, err
	}
	var l Link
	if l.Parent, err = decodeKey(items[0]); err != nil {
		return Link{}, err
	}
	r, err := items[1].AsInt()
	if err != nil {
		return Link{}, err
	}
	l.Reply = MessageID(r)
	if l.Child, err = decodeKey(items[2]); err != nil {
		return Link{}, err
	}
	x, err := items[3].AsInt()
	if err != nil {
		return Link{}, err
	}
	l.Expect = StateID(x)
	return l, nil
}

func encodeSendChannel(sc domain.SendChannel) codec.Encoded {
	devs := make([]codec.Encoded, 0, len(sc.ToDevices))
	for _, d := range sc.ToDevices {
		devs = append(devs, codec.Bytes(d[:]))
	}
	return codec.List(
		codec.Int(int64(sc.Kind)),
		codec.Bytes(sc.ToIdentity[:]),
		codec.List(devs...),
		codec.Int(int64(sc.Fallback)),
		codec.Bool(sc.AllowUnconfirmed),
		codec.Bool(sc.PartOfFullRatchet),
	)
}

func decodeSendChannel(e codec.Encoded) (domain.SendChannel, error) {
	items, err := e.ListOf(6)
	if err != nil {
		return domain.SendChannel{}, err
	}
	d := decoder{}
	sc := domain.SendChannel{
		Kind:              domain.ChannelKind(d.int(items[0])),
		Fallback:          domain.ChannelKind(d.int(items[3])),
		AllowUnconfirmed:  d.bool(items[4]),
		PartOfFullRatchet: d.bool(items[5]),
	}
	if raw := d.bytes(items[1]); d.err == nil {
		sc.ToIdentity, d.err = domain.IdentityFromBytes(raw)
	}
	for _, de := range d.list(items[2]) {
		raw := d.bytes(de)
		if d.err != nil {
			break
		}
		var uid domain.UID
		uid, d.err = domain.UIDFromBytes(raw)
		sc.ToDevices = append(sc.ToDevices, uid)
	}
	return sc, d.err
}

// Encode serializes the item for persistent outboxes.
func (it OutboxItem) Encode() codec.Encoded {
	var body codec.Encoded
	switch it.Kind {
	case ItemPost:
		body = codec.List(
			codec.Int(int64(it.Post.Protocol)),
			codec.Bytes(it.Post.Instance[:]),
			codec.Int(int64(it.Post.ID)),
			codec.List(it.Post.Inputs...),
			encodeSendChannel(it.Post.Channel),
		)
	case ItemQuery:
		body = codec.List(
			codec.Int(int64(it.Query.Kind)),
			codec.List(it.Query.Args...),
			codec.Int(int64(it.Query.Protocol)),
			codec.Bytes(it.Query.Instance[:]),
			codec.Int(int64(it.Query.Response)),
		)
	case ItemEvent:
		ev := it.Event
		body = codec.List(
			codec.Int(int64(ev.Kind)),
			codec.Bytes(ev.Owned[:]),
			codec.Bytes(ev.Contact[:]),
			codec.Int(int64(ev.Protocol)),
			codec.Bytes(ev.Instance[:]),
			codec.String(ev.Value),
		)
	}
	return codec.List(
		codec.Int(int64(it.Seq)),
		codec.Bytes(it.Owned[:]),
		codec.Int(int64(it.Kind)),
		body,
	)
}

// DecodeOutboxItem parses the output of OutboxItem.Encode.
func DecodeOutboxItem(e codec.Encoded) (OutboxItem, error) {
	items, err := e.ListOf(4)
	if err != nil {
		return OutboxItem{}, err
	}
	d := decoder{}
	it := OutboxItem{Seq: uint64(d.int(items[0])), Kind: ItemKind(d.int(items[2]))}
	it.Owned = d.identity(items[1])
	switch it.Kind {
	case ItemPost:
		f := d.listOf(items[3], 5)
		if len(f) == 5 {
			it.Post = OutboundMessage{
				Protocol: ProtocolID(d.int(f[0])),
				Instance: d.uid(f[1]),
				ID:       MessageID(d.int(f[2])),
				Inputs:   d.list(f[3]),
			}
			if d.err == nil {
				it.Post.Channel, d.err = decodeSendChannel(f[4])
			}
		}
	case ItemQuery:
		f := d.listOf(items[3], 5)
		if len(f) == 5 {
			it.Query = ServerQuery{
				Kind:     QueryKind(d.int(f[0])),
				Args:     d.list(f[1]),
				Protocol: ProtocolID(d.int(f[2])),
				Instance: d.uid(f[3]),
				Response: MessageID(d.int(f[4])),
			}
		}
	case ItemEvent:
		f := d.listOf(items[3], 6)
		if len(f) == 6 {
			it.Event = domain.Event{
				Kind:     domain.EventKind(d.int(f[0])),
				Owned:    d.identity(f[1]),
				Contact:  d.identity(f[2]),
				Protocol: d.int(f[3]),
				Instance: d.uid(f[4]),
				Value:    d.string(f[5]),
			}
		}
	default:
		return OutboxItem{}, fmt.Errorf("engine: unknown outbox item kind %d", it.Kind)
	}
	if d.err != nil {
		return OutboxItem{}, fmt.Errorf("engine: decode outbox item: %w", d.err)
	}
	return it, nil
}

// decoder keeps the first error so field extraction reads linearly.
type decoder struct{ err error }

func (d *decoder) keep(err error) {
	if d.err == nil && err != nil {
		d.err = err
	}
}

func (d *decoder) int(e codec.Encoded) int {
	if d.err != nil {
		return 0
	}
	v, err := e.AsInt()
	d.keep(err)
	return int(v)
}

func (d *decoder) bool(e codec.Encoded) bool {
	if d.err != nil {
		return false
	}
	v, err := e.AsBool()
	d.keep(err)
	return v
}

func (d *decoder) bytes(e codec.Encoded) []byte {
	if d.err != nil {
		return nil
	}
	v, err := e.AsBytes()
	d.keep(err)
	return v
}

func (d *decoder) string(e codec.Encoded) string {
	if d.err != nil {
		return ""
	}
	v, err := e.AsString()
	d.keep(err)
	return v
}

func (d *decoder) list(e codec.Encoded) []codec.Encoded {
	if d.err != nil {
		return nil
	}
	v, err := e.AsList()
	d.keep(err)
	return v
}

func (d *decoder) listOf(e codec.Encoded, n int) []codec.Encoded {
	if d.err != nil {
		return nil
	}
	v, err := e.ListOf(n)
	d.keep(err)
	return v
}

func (d *decoder) uid(e codec.Encoded) domain.UID {
	raw := d.bytes(e)
	if d.err != nil {
		return domain.UID{}
	}
	u, err := domain.UIDFromBytes(raw)
	d.keep(err)
	return u
}

func (d *decoder) identity(e codec.Encoded) domain.Identity {
	raw := d.bytes(e)
	if d.err != nil {
		return domain.Identity{}
	}
	id, err := domain.IdentityFromBytes(raw)
	d.keep(err)
	return id
}
