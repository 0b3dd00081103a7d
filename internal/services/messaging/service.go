package messaging

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trustline/internal/channel"
	"trustline/internal/codec"
	"trustline/internal/domain"
	"trustline/internal/logging"
	"trustline/internal/protocol"
	"trustline/internal/protocol/engine"
	"trustline/internal/protocol/fullratchet"
	"trustline/internal/retry"
)

// DefaultPollLimit is the number of envelopes fetched per Poll.
const DefaultPollLimit = 50

// ErrNotLocal is returned by StartProtocol for messages that did not
// originate on this device.
var ErrNotLocal = errors.New("messaging: protocol start must be local")

// Kind classifies a received envelope.
type Kind uint8

const (
	// Application is a payload for the application layer.
	Application Kind = iota + 1
	// ProtocolConsumed is a protocol message a step accepted.
	ProtocolConsumed
	// ProtocolDropped is a protocol message no step accepted.
	ProtocolDropped
	// DecryptFailed is an envelope no key could open.
	DecryptFailed
)

func (k Kind) String() string {
	switch k {
	case Application:
		return "application"
	case ProtocolConsumed:
		return "protocol-consumed"
	case ProtocolDropped:
		return "protocol-dropped"
	case DecryptFailed:
		return "decrypt-failed"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Classified is the outcome of Receive.
type Classified struct {
	Kind        Kind
	Application domain.ApplicationMessage
	Result      engine.Result
	// Err is the decrypt or drop cause, for diagnostics.
	Err error
}

// Config holds the collaborators of a Service.
type Config struct {
	Account  domain.Account
	Engine   *engine.Engine
	Channels *channel.Manager
	Relay    domain.RelayClient
	Events   domain.EventSink
	Backoff  retry.Backoff
	Logger   *zap.Logger
}

// Service connects the channel layer, the protocol engine and the relay
// for one device. It is the engine's Dispatcher and the channel
// manager's RatchetStarter.
type Service struct {
	account  domain.Account
	owned    domain.Identity
	engine   *engine.Engine
	channels *channel.Manager
	relay    domain.RelayClient
	events   domain.EventSink
	backoff  retry.Backoff
	log      *zap.Logger
}

var (
	_ engine.Dispatcher      = (*Service)(nil)
	_ channel.RatchetStarter = (*Service)(nil)
)

// New returns a service and installs it on the engine and channel manager.
func New(cfg Config) *Service {
	b := cfg.Backoff
	if b.MaxAttempts == 0 {
		b = retry.Default()
	}
	s := &Service{
		account:  cfg.Account,
		owned:    cfg.Account.ID(),
		engine:   cfg.Engine,
		channels: cfg.Channels,
		relay:    cfg.Relay,
		events:   cfg.Events,
		backoff:  b,
		log:      logging.Or(cfg.Logger).Named("messaging"),
	}
	cfg.Engine.SetDispatcher(s)
	cfg.Channels.SetRatchetStarter(s)
	return s
}

// Receive decrypts env and routes it. Protocol messages are run through
// the engine. The returned error is set only for failures worth retrying;
// drops and decrypt failures are reported in Classified.
func (s *Service) Receive(ctx context.Context, env domain.Envelope) (Classified, error) {
	pt, rc, err := s.channels.Decrypt(ctx, env)
	if err != nil {
		s.log.Info("dropping envelope", zap.String("reason", "decrypt"), zap.String("id", env.ID), zap.Error(err))
		return Classified{Kind: DecryptFailed, Err: err}, nil
	}
	kind, content, err := channel.DecodePlaintext(pt)
	if err != nil {
		s.log.Warn("dropping envelope", zap.String("reason", "frame"), zap.String("id", env.ID), zap.Error(err))
		return Classified{Kind: DecryptFailed, Err: err}, nil
	}
	if kind == domain.PayloadApplication {
		payload, err := content.AsBytes()
		if err != nil {
			return Classified{Kind: DecryptFailed, Err: err}, nil
		}
		return Classified{Kind: Application, Application: domain.ApplicationMessage{
			From:            rc.RemoteIdentity,
			FromDevice:      rc.RemoteDevice,
			Channel:         rc.Kind,
			Payload:         payload,
			ServerTimestamp: env.ServerTimestamp,
		}}, nil
	}

	msg, err := engine.DecodeWire(content)
	if err != nil {
		s.log.Warn("dropping envelope", zap.String("reason", "wire"), zap.String("id", env.ID), zap.Error(err))
		return Classified{Kind: ProtocolDropped, Err: err}, nil
	}
	msg.Owned = s.owned
	msg.Channel = rc
	msg.ServerTimestamp = env.ServerTimestamp
	return s.Advance(ctx, msg)
}

// Advance runs msg through its protocol instance.
func (s *Service) Advance(ctx context.Context, msg engine.Message) (Classified, error) {
	res, err := s.engine.Process(ctx, msg)
	if engine.IsDrop(err) {
		return Classified{Kind: ProtocolDropped, Result: res, Err: err}, nil
	}
	if err != nil {
		return Classified{}, err
	}
	return Classified{Kind: ProtocolConsumed, Result: res}, nil
}

// StartProtocol submits a local message built by a protocol package.
func (s *Service) StartProtocol(ctx context.Context, msg engine.Message) (engine.Result, error) {
	if msg.Channel.Kind != domain.ChannelLocal {
		return engine.Result{}, ErrNotLocal
	}
	if msg.Owned.IsZero() {
		msg.Owned = s.owned
	}
	msg.Channel.RemoteIdentity = s.owned
	return s.engine.Process(ctx, msg)
}

// SendApplication encrypts payload for every device of contact. A device
// without a ratcheting channel is reached through its pre-key.
func (s *Service) SendApplication(ctx context.Context, contact domain.Identity, payload []byte) error {
	sc := domain.SendChannel{
		Kind:       domain.ChannelRatcheting,
		ToIdentity: contact,
		Fallback:   domain.ChannelPreKey,
	}
	envs, err := s.channels.Post(ctx, sc, channel.EncodePlaintext(domain.PayloadApplication, codec.Bytes(payload)))
	if err != nil {
		return err
	}
	return s.post(ctx, envs)
}

// ChannelStatus reports the state of the channel to a remote device.
func (s *Service) ChannelStatus(ctx context.Context, remote domain.Identity, device domain.UID) (channel.Status, error) {
	return s.channels.Status(ctx, s.channels.ChannelID(remote, device))
}

// Channels reports every channel of this device.
func (s *Service) Channels(ctx context.Context) ([]channel.Status, error) {
	return s.channels.List(ctx)
}

// Poll fetches one batch from the mailbox and processes it in order.
// Envelopes are acknowledged once handled, dropped ones included; an
// envelope whose processing hit a resource failure stays for the next
// poll. Application payloads are returned.
func (s *Service) Poll(ctx context.Context) ([]domain.ApplicationMessage, error) {
	var envs []domain.Envelope
	err := s.backoff.Do(ctx, func(ctx context.Context) error {
		var err error
		envs, err = s.relay.FetchEnvelopes(ctx, s.owned, s.account.Device, DefaultPollLimit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch envelopes: %w", err)
	}

	var (
		apps  []domain.ApplicationMessage
		acks  []string
		first error
	)
	for _, env := range envs {
		c, err := s.Receive(ctx, env)
		if err != nil {
			s.log.Warn("envelope left for retry", zap.String("id", env.ID), zap.Error(err))
			if first == nil {
				first = err
			}
			break
		}
		acks = append(acks, env.ID)
		if c.Kind == Application {
			apps = append(apps, c.Application)
		}
	}
	if len(acks) > 0 {
		err := s.backoff.Do(ctx, func(ctx context.Context) error {
			return s.relay.AckEnvelopes(ctx, s.owned, s.account.Device, acks)
		})
		if err != nil {
			return apps, fmt.Errorf("ack envelopes: %w", err)
		}
	}
	return apps, first
}

// Send encrypts an outbound protocol message and hands it to the relay.
func (s *Service) Send(ctx context.Context, _ domain.Identity, msg engine.OutboundMessage) error {
	pt := channel.EncodePlaintext(domain.PayloadProtocol, engine.EncodeWire(msg))
	envs, err := s.channels.Post(ctx, msg.Channel, pt)
	if errors.Is(err, channel.ErrNoRecipients) || errors.Is(err, channel.ErrNoChannel) ||
		errors.Is(err, channel.ErrNoPreKey) || errors.Is(err, channel.ErrLocal) {
		return fmt.Errorf("%w: %v", engine.ErrUndeliverable, err)
	}
	if err != nil {
		return err
	}
	return s.post(ctx, envs)
}

// Query asks the relay and injects the answer into the waiting instance.
func (s *Service) Query(ctx context.Context, owned domain.Identity, q engine.ServerQuery) error {
	inputs, err := s.answer(ctx, q)
	if err != nil {
		return err
	}
	_, err = s.engine.Process(ctx, engine.Message{
		Protocol: q.Protocol,
		Instance: q.Instance,
		Owned:    owned,
		ID:       q.Response,
		Inputs:   inputs,
		Channel:  domain.ReceptionChannel{Kind: domain.ChannelLocal, RemoteIdentity: owned},
	})
	if engine.IsDrop(err) {
		s.log.Info("query response dropped", zap.Stringer("query", q.Kind), zap.Error(err))
		return nil
	}
	return err
}

func (s *Service) answer(ctx context.Context, q engine.ServerQuery) ([]codec.Encoded, error) {
	if len(q.Args) != 1 {
		return nil, fmt.Errorf("%w: %s with %d args", engine.ErrUndeliverable, q.Kind, len(q.Args))
	}
	var call func(ctx context.Context) ([]codec.Encoded, error)
	switch q.Kind {
	case engine.QueryDeviceDiscovery, engine.QueryCheckRevocation:
		id, err := protocol.DecodeIdentity(q.Args[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrUndeliverable, err)
		}
		if q.Kind == engine.QueryDeviceDiscovery {
			call = func(ctx context.Context) ([]codec.Encoded, error) {
				uids, err := s.relay.DeviceUIDs(ctx, id)
				return []codec.Encoded{protocol.EncodeUIDs(uids)}, err
			}
		} else {
			call = func(ctx context.Context) ([]codec.Encoded, error) {
				revoked, err := s.relay.IsRevoked(ctx, id)
				return []codec.Encoded{codec.Bool(revoked)}, err
			}
		}
	case engine.QueryGetPhoto:
		label, err := q.Args[0].AsBytes()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrUndeliverable, err)
		}
		call = func(ctx context.Context) ([]codec.Encoded, error) {
			photo, ok, err := s.relay.GetPhoto(ctx, label)
			if err != nil || !ok {
				return nil, err
			}
			return []codec.Encoded{codec.Bytes(photo)}, nil
		}
	default:
		return nil, fmt.Errorf("%w: unknown query %s", engine.ErrUndeliverable, q.Kind)
	}

	var out []codec.Encoded
	err := s.backoff.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = call(ctx)
		return err
	})
	return out, err
}

// Notify forwards a protocol event to the event sink.
func (s *Service) Notify(ctx context.Context, ev domain.Event) {
	s.log.Debug("event", zap.Stringer("kind", ev.Kind), zap.Int("protocol", ev.Protocol))
	if s.events != nil {
		s.events.Emit(ctx, ev)
	}
}

// StartFullRatchet starts, or restarts, the full ratchet exchange on id.
func (s *Service) StartFullRatchet(ctx context.Context, id channel.ID, restart bool) error {
	res, err := s.engine.Process(ctx, fullratchet.StartMessage(s.owned, id))
	if err != nil {
		return err
	}
	s.log.Info("full ratchet started", zap.Stringer("channel", id), zap.Bool("restart", restart), zap.Int("state", int(res.State)))
	return s.channels.MarkFullRatchetSent(ctx, id)
}

func (s *Service) post(ctx context.Context, envs []domain.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	return s.backoff.Do(ctx, func(ctx context.Context) error {
		return s.relay.PostEnvelopes(ctx, envs)
	})
}
