package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trustline/internal/codec"
	"trustline/internal/crypto"
	"trustline/internal/domain"
	"trustline/internal/logging"
	"trustline/internal/metrics"
	"trustline/internal/retry"
	"trustline/internal/util/keyedlock"
)

// Dispatcher performs the side effects committed by steps. Local posts
// never reach it; the engine delivers those itself.
type Dispatcher interface {
	Send(ctx context.Context, owned domain.Identity, msg OutboundMessage) error
	Query(ctx context.Context, owned domain.Identity, q ServerQuery) error
	Notify(ctx context.Context, ev domain.Event)
}

// Config holds the dependencies of an Engine.
type Config struct {
	Repository Repository
	Dispatcher Dispatcher
	Suite      crypto.Suite
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
	// Retry spaces out automatic outbox flushes after a failed delivery.
	// The zero value uses retry.Default.
	Retry retry.Backoff
}

// Engine dispatches messages to protocol instances.
type Engine struct {
	defs       map[ProtocolID]*Definition
	repo       Repository
	dispatcher Dispatcher
	suite      crypto.Suite
	log        *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	locks      *keyedlock.Locks
	retries    *retry.Tracker

	fmu      sync.Mutex
	flushing map[domain.Identity]*flushState
}

type flushState struct{ dirty bool }

// New returns an engine with no protocols registered.
func New(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	backoff := cfg.Retry
	if backoff == (retry.Backoff{}) {
		backoff = retry.Default()
	}
	return &Engine{
		defs:       make(map[ProtocolID]*Definition),
		repo:       cfg.Repository,
		dispatcher: cfg.Dispatcher,
		suite:      cfg.Suite,
		log:        logging.Or(cfg.Logger).Named("engine"),
		metrics:    cfg.Metrics,
		now:        now,
		locks:      keyedlock.New(),
		retries:    retry.NewTracker(backoff, now),
		flushing:   make(map[domain.Identity]*flushState),
	}
}

// SetDispatcher installs the dispatcher. It must be called before the
// first message is processed.
func (e *Engine) SetDispatcher(d Dispatcher) { e.dispatcher = d }

// Register adds a protocol. Registering the same id twice panics.
func (e *Engine) Register(defs ...*Definition) {
	for _, d := range defs {
		if _, dup := e.defs[d.ID]; dup {
			panic(fmt.Sprintf("engine: protocol %d registered twice", d.ID))
		}
		e.defs[d.ID] = d
	}
}

// Definition returns the registered protocol with id.
func (e *Engine) Definition(id ProtocolID) (*Definition, bool) {
	d, ok := e.defs[id]
	return d, ok
}

// Process runs msg through its protocol instance and then flushes the
// outbox of the owned identity, unless an earlier delivery failed and the
// backoff has not elapsed. Drops are reported as a *DropError; other
// errors are resource failures worth retrying.
func (e *Engine) Process(ctx context.Context, msg Message) (Result, error) {
	res, err := e.process(ctx, msg)
	if err == nil || IsDrop(err) {
		e.autoFlush(ctx, msg.Owned)
	}
	return res, err
}

func (e *Engine) autoFlush(ctx context.Context, owned domain.Identity) {
	if !e.retries.Ready(owned.Hex()) {
		e.log.Debug("outbox flush deferred", zap.Int("failures", e.retries.Failures(owned.Hex())))
		return
	}
	if err := e.Flush(ctx, owned); err != nil {
		e.log.Warn("outbox flush failed", zap.Error(err))
	}
}

func (e *Engine) process(ctx context.Context, msg Message) (Result, error) {
	key := msg.Key()
	def, ok := e.defs[msg.Protocol]
	if !ok {
		return e.dropped(key, "unknown", DropUnknownProtocol, nil)
	}
	log := e.log.With(zap.String("protocol", def.Name), zap.Stringer("instance", key), zap.Int("message", int(msg.ID)))

	unlock, err := e.locks.Lock(ctx, key.lockKey())
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	inst, exists, err := e.repo.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}
	var state State
	if exists {
		state, err = def.decodeState(inst.State, inst.Raw)
		if err != nil {
			log.Warn("dropping message", zap.Stringer("reason", DropDecode), zap.Error(err))
			return e.dropped(key, def.Name, DropDecode, err)
		}
	} else {
		if len(def.steps(StateInitial, msg.ID)) == 0 {
			log.Info("dropping message", zap.Stringer("reason", DropUnexpectedMessage))
			return e.dropped(key, def.Name, DropUnexpectedMessage, nil)
		}
		state = def.Initial
	}

	candidates := def.steps(state.ID(), msg.ID)
	if len(candidates) == 0 {
		log.Info("dropping message", zap.Stringer("reason", DropNoStep), zap.Int("state", int(state.ID())))
		return e.dropped(key, def.Name, DropNoStep, nil)
	}
	var step *Step
	for i := range candidates {
		if candidates[i].Channel.Allows(msg.Channel, msg.Owned) {
			step = &candidates[i]
			break
		}
	}
	if step == nil {
		log.Warn("message on a channel the step does not accept",
			zap.Stringer("reason", DropChannelNotAllowed),
			zap.Stringer("channel", msg.Channel.Kind),
			zap.Stringer("required", candidates[0].Channel))
		return e.dropped(key, def.Name, DropChannelNotAllowed, nil)
	}

	sc := &StepContext{
		Owned:    msg.Owned,
		Protocol: msg.Protocol,
		Instance: msg.Instance,
		PRNG:     e.suite.PRNG(),
		Now:      e.now(),
		Log:      log.With(zap.String("step", step.Name)),
	}
	next, err := step.Run(ctx, sc, state, msg)
	if errors.Is(err, ErrCancelled) {
		return e.cancel(ctx, def, inst, exists, sc, log)
	}
	if err != nil {
		log.Info("dropping message", zap.Stringer("reason", DropStepFailed), zap.String("step", step.Name), zap.Error(err))
		return e.dropped(key, def.Name, DropStepFailed, err)
	}
	if next == nil {
		return e.dropped(key, def.Name, DropStepFailed, errors.New("step returned no state"))
	}

	tx := Transition{Key: key, Outbox: sc.outbox, NewLinks: sc.links}
	if exists {
		tx.PrevVersion = inst.Version
	}
	links, err := e.repo.LinksForChild(ctx, key)
	if err != nil {
		return Result{}, err
	}
	final := def.IsFinal(next.ID())
	encoded := next.Encode()
	for _, l := range links {
		switch {
		case l.Expect == next.ID():
			outcome := ChildOutcome{Protocol: key.Protocol, Instance: key.Instance, State: next.ID(), Encoded: encoded}
			tx.Outbox = append(tx.Outbox, reply(l, outcome))
			tx.DoneLinks = append(tx.DoneLinks, l)
		case final:
			tx.Outbox = append(tx.Outbox, reply(l, cancelledOutcome(key)))
			tx.DoneLinks = append(tx.DoneLinks, l)
		}
	}
	if !final {
		tx.Next = &Instance{
			Key:       key,
			State:     next.ID(),
			Raw:       encoded.Raw(),
			Version:   tx.PrevVersion + 1,
			UpdatedAt: sc.Now,
		}
	}
	if err := e.repo.Commit(ctx, tx); err != nil {
		return Result{}, fmt.Errorf("commit %s: %w", key, err)
	}
	e.metrics.Step(def.Name, "consumed")
	log.Debug("step done", zap.String("step", step.Name), zap.Int("state", int(next.ID())), zap.Bool("final", final))
	return Result{Outcome: Consumed, State: next.ID(), Final: final, Instance: key}, nil
}

func (e *Engine) cancel(ctx context.Context, def *Definition, inst Instance, exists bool, sc *StepContext, log *zap.Logger) (Result, error) {
	key := Key{Owned: sc.Owned, Protocol: sc.Protocol, Instance: sc.Instance}
	tx := Transition{Key: key, Outbox: sc.outbox}
	if exists {
		tx.PrevVersion = inst.Version
	}
	if err := e.releaseParents(ctx, &tx); err != nil {
		return Result{}, err
	}
	if err := e.repo.Commit(ctx, tx); err != nil {
		return Result{}, fmt.Errorf("commit %s: %w", key, err)
	}
	e.metrics.Step(def.Name, "cancelled")
	log.Info("protocol cancelled")
	return Result{Outcome: Consumed, Final: true, Instance: key}, nil
}

// releaseParents adds to tx, which deletes its instance, a cancelled
// outcome for every parent still waiting on it and drops their links.
func (e *Engine) releaseParents(ctx context.Context, tx *Transition) error {
	links, err := e.repo.LinksForChild(ctx, tx.Key)
	if err != nil {
		return err
	}
	for _, l := range links {
		tx.Outbox = append(tx.Outbox, reply(l, cancelledOutcome(tx.Key)))
		tx.DoneLinks = append(tx.DoneLinks, l)
	}
	return nil
}

// reply posts outcome locally to the parent of l.
func reply(l Link, outcome ChildOutcome) OutboxItem {
	return OutboxItem{
		Owned: l.Parent.Owned,
		Kind:  ItemPost,
		Post: OutboundMessage{
			Protocol: l.Parent.Protocol,
			Instance: l.Parent.Instance,
			ID:       l.Reply,
			Inputs:   outcome.Inputs(),
			Channel:  domain.LocalChannel(),
		},
	}
}

func cancelledOutcome(child Key) ChildOutcome {
	return ChildOutcome{Protocol: child.Protocol, Instance: child.Instance, State: StateChildCancelled, Encoded: codec.List()}
}

func (e *Engine) dropped(key Key, name string, reason DropReason, err error) (Result, error) {
	e.metrics.Step(name, reason.String())
	return Result{Outcome: Dropped, Reason: reason, Instance: key}, drop(reason, err)
}

// Abort deletes an instance from outside its protocol.
func (e *Engine) Abort(ctx context.Context, key Key) error {
	unlock, err := e.locks.Lock(ctx, key.lockKey())
	if err != nil {
		return err
	}
	inst, ok, err := e.repo.Get(ctx, key)
	if err != nil || !ok {
		unlock()
		if err == nil {
			err = fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return err
	}
	ev := OutboxItem{Owned: key.Owned, Kind: ItemEvent, Event: domain.Event{
		Kind:     domain.EventProtocolCancelled,
		Owned:    key.Owned,
		Protocol: int(key.Protocol),
		Instance: key.Instance,
	}}
	tx := Transition{Key: key, PrevVersion: inst.Version, Outbox: []OutboxItem{ev}}
	if err := e.releaseParents(ctx, &tx); err != nil {
		unlock()
		return err
	}
	err = e.repo.Commit(ctx, tx)
	unlock()
	if err != nil {
		return err
	}
	e.log.Info("protocol aborted", zap.Stringer("instance", key))
	e.autoFlush(ctx, key.Owned)
	return nil
}

// Instances lists the live instances of owned.
func (e *Engine) Instances(ctx context.Context, owned domain.Identity) ([]Instance, error) {
	return e.repo.List(ctx, owned)
}

// Flush delivers pending outbox items of owned in commit order. An item
// is acknowledged only after it was handed off. Concurrent callers
// coalesce into the one already flushing. Flush ignores the backoff that
// automatic flushes observe.
func (e *Engine) Flush(ctx context.Context, owned domain.Identity) error {
	e.fmu.Lock()
	if st, busy := e.flushing[owned]; busy {
		st.dirty = true
		e.fmu.Unlock()
		return nil
	}
	st := &flushState{}
	e.flushing[owned] = st
	e.fmu.Unlock()

	for {
		err := e.flushOnce(ctx, owned)
		e.fmu.Lock()
		if err != nil || !st.dirty {
			delete(e.flushing, owned)
			e.fmu.Unlock()
			return err
		}
		st.dirty = false
		e.fmu.Unlock()
	}
}

func (e *Engine) flushOnce(ctx context.Context, owned domain.Identity) error {
	for {
		items, err := e.repo.PendingOutbox(ctx, owned)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			e.retries.Succeeded(owned.Hex())
			return nil
		}
		for _, it := range items {
			if err := e.deliver(ctx, it); err != nil {
				if !errors.Is(err, ErrUndeliverable) {
					wait := e.retries.Failed(owned.Hex())
					e.log.Debug("outbox delivery failed", zap.Uint64("seq", it.Seq), zap.Duration("retry_in", wait))
					return err
				}
				e.log.Warn("dropping undeliverable outbox item", zap.Uint64("seq", it.Seq), zap.Error(err))
			}
			if err := e.repo.AckOutbox(ctx, owned, it.Seq); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) deliver(ctx context.Context, it OutboxItem) error {
	switch it.Kind {
	case ItemPost:
		if it.Post.Channel.Kind == domain.ChannelLocal {
			_, err := e.process(ctx, Message{
				Protocol:        it.Post.Protocol,
				Instance:        it.Post.Instance,
				Owned:           it.Owned,
				ID:              it.Post.ID,
				Inputs:          it.Post.Inputs,
				Channel:         domain.ReceptionChannel{Kind: domain.ChannelLocal, RemoteIdentity: it.Owned},
				ServerTimestamp: e.now(),
			})
			if IsDrop(err) {
				return nil
			}
			return err
		}
		if e.dispatcher == nil {
			return fmt.Errorf("%w: no dispatcher", ErrUndeliverable)
		}
		return e.dispatcher.Send(ctx, it.Owned, it.Post)
	case ItemQuery:
		if e.dispatcher == nil {
			return fmt.Errorf("%w: no dispatcher", ErrUndeliverable)
		}
		return e.dispatcher.Query(ctx, it.Owned, it.Query)
	case ItemEvent:
		if e.dispatcher != nil {
			e.dispatcher.Notify(ctx, it.Event)
		}
		return nil
	default:
		return fmt.Errorf("%w: item kind %d", ErrUndeliverable, it.Kind)
	}
}
