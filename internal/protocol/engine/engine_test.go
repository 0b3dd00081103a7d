package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"trustline/internal/codec"
	"trustline/internal/domain"
	"trustline/internal/protocol/engine"
	"trustline/internal/testkit"
)

const (
	counterID engine.ProtocolID = 1
	parentID  engine.ProtocolID = 2

	stateCounting engine.StateID = 1
	stateDone     engine.StateID = 2

	msgStart     engine.MessageID = 1
	msgIncrement engine.MessageID = 2
	msgFail      engine.MessageID = 3
	msgCancel    engine.MessageID = 4
	msgFinish    engine.MessageID = 5
	msgAsk       engine.MessageID = 6
	msgAnswer    engine.MessageID = 7
	msgSecure    engine.MessageID = 8
	msgChildDone engine.MessageID = 9
)

type initial struct{}

func (initial) ID() engine.StateID    { return engine.StateInitial }
func (initial) Encode() codec.Encoded { return codec.List() }

type counting struct{ n int64 }

func (counting) ID() engine.StateID      { return stateCounting }
func (c counting) Encode() codec.Encoded { return codec.Int(c.n) }

type done struct{}

func (done) ID() engine.StateID    { return stateDone }
func (done) Encode() codec.Encoded { return codec.List() }

var peer = domain.Identity{1, 2, 3}

func counterProtocol() *engine.Definition {
	add := func(k int64) engine.RunFunc {
		return func(_ context.Context, _ *engine.StepContext, s engine.State, _ engine.Message) (engine.State, error) {
			return counting{n: s.(counting).n + k}, nil
		}
	}
	return &engine.Definition{
		ID:      counterID,
		Name:    "counter",
		Initial: initial{},
		States: map[engine.StateID]engine.StateDecoder{
			stateCounting: func(e codec.Encoded) (engine.State, error) {
				n, err := e.AsInt()
				return counting{n: n}, err
			},
		},
		FinalStates: []engine.StateID{stateDone},
		Steps: []engine.Step{
			{Name: "start", From: engine.StateInitial, On: msgStart, Channel: domain.LocalOnly,
				Run: func(_ context.Context, sc *engine.StepContext, _ engine.State, _ engine.Message) (engine.State, error) {
					sc.Post(engine.OutboundMessage{ID: msgIncrement, Channel: domain.SendChannel{Kind: domain.ChannelAsymmetric, ToIdentity: peer}})
					return counting{}, nil
				}},
			{Name: "increment", From: stateCounting, On: msgIncrement, Channel: domain.LocalOnly, Run: add(1)},
			{Name: "secure", From: stateCounting, On: msgSecure, Channel: domain.RatchetingOnly, Run: add(100)},
			{Name: "fail", From: stateCounting, On: msgFail, Channel: domain.LocalOnly,
				Run: func(context.Context, *engine.StepContext, engine.State, engine.Message) (engine.State, error) {
					return nil, errors.New("boom")
				}},
			{Name: "cancel", From: stateCounting, On: msgCancel, Channel: domain.LocalOnly,
				Run: func(context.Context, *engine.StepContext, engine.State, engine.Message) (engine.State, error) {
					return nil, engine.ErrCancelled
				}},
			{Name: "finish", From: stateCounting, On: msgFinish, Channel: domain.LocalOnly,
				Run: func(context.Context, *engine.StepContext, engine.State, engine.Message) (engine.State, error) {
					return done{}, nil
				}},
			{Name: "ask", From: stateCounting, On: msgAsk, Channel: domain.LocalOnly,
				Run: func(_ context.Context, sc *engine.StepContext, s engine.State, _ engine.Message) (engine.State, error) {
					sc.Query(engine.ServerQuery{Kind: engine.QueryDeviceDiscovery, Args: []codec.Encoded{codec.Bytes(peer[:])}, Response: msgAnswer})
					return s, nil
				}},
			{Name: "answer", From: stateCounting, On: msgAnswer, Channel: domain.LocalOnly,
				Run: func(_ context.Context, _ *engine.StepContext, s engine.State, m engine.Message) (engine.State, error) {
					k, err := m.Input(0).AsInt()
					if err != nil {
						return nil, err
					}
					return counting{n: s.(counting).n + k}, nil
				}},
		},
	}
}

type waiting struct{}

func (waiting) ID() engine.StateID    { return stateCounting }
func (waiting) Encode() codec.Encoded { return codec.List() }

func parentProtocol() *engine.Definition {
	return &engine.Definition{
		ID:      parentID,
		Name:    "parent",
		Initial: initial{},
		States: map[engine.StateID]engine.StateDecoder{
			stateCounting: func(codec.Encoded) (engine.State, error) { return waiting{}, nil },
		},
		FinalStates: []engine.StateID{stateDone},
		Steps: []engine.Step{
			{Name: "spawn", From: engine.StateInitial, On: msgStart, Channel: domain.LocalOnly,
				Run: func(_ context.Context, sc *engine.StepContext, _ engine.State, _ engine.Message) (engine.State, error) {
					_, err := sc.StartChild(counterID, msgStart, nil, stateDone, msgChildDone)
					return waiting{}, err
				}},
			{Name: "child-done", From: stateCounting, On: msgChildDone, Channel: domain.LocalOnly,
				Run: func(_ context.Context, sc *engine.StepContext, _ engine.State, m engine.Message) (engine.State, error) {
					out, err := engine.ChildOutcomeFrom(m)
					if err != nil {
						return nil, err
					}
					if out.Cancelled() {
						sc.Notify(domain.EventDevicesUpdated, domain.Identity{}, "child-cancelled")
						return nil, engine.ErrCancelled
					}
					if out.Protocol != counterID || out.State != stateDone {
						return nil, errors.New("unexpected child")
					}
					sc.Notify(domain.EventDevicesUpdated, domain.Identity{}, "child-done")
					return done{}, nil
				}},
		},
	}
}

type dispatcher struct {
	mu      sync.Mutex
	sent    []engine.OutboundMessage
	queries []engine.ServerQuery
	events  []domain.Event
	fail    error
}

func (d *dispatcher) Send(_ context.Context, _ domain.Identity, m engine.OutboundMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.sent = append(d.sent, m)
	return nil
}

func (d *dispatcher) Query(_ context.Context, _ domain.Identity, q engine.ServerQuery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries = append(d.queries, q)
	return nil
}

func (d *dispatcher) Notify(_ context.Context, ev domain.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

type fixture struct {
	eng   *engine.Engine
	repo  *engine.MemoryRepository
	disp  *dispatcher
	owned domain.Identity
}

func newFixture(t *testing.T) *fixture {
	repo := engine.NewMemoryRepository()
	disp := &dispatcher{}
	eng := engine.New(engine.Config{Repository: repo, Dispatcher: disp, Suite: testkit.Suite(7)})
	eng.Register(counterProtocol(), parentProtocol())
	return &fixture{eng: eng, repo: repo, disp: disp, owned: testkit.Account(t, 1).ID()}
}

func (f *fixture) local(proto engine.ProtocolID, inst domain.UID, id engine.MessageID, inputs ...codec.Encoded) engine.Message {
	return engine.Message{
		Protocol: proto,
		Instance: inst,
		Owned:    f.owned,
		ID:       id,
		Inputs:   inputs,
		Channel:  domain.ReceptionChannel{Kind: domain.ChannelLocal},
	}
}

func (f *fixture) count(t *testing.T, inst domain.UID) int64 {
	t.Helper()
	got, ok, err := f.repo.Get(context.Background(), engine.Key{Owned: f.owned, Protocol: counterID, Instance: inst})
	require.NoError(t, err)
	require.True(t, ok)
	e, err := codec.Parse(got.Raw)
	require.NoError(t, err)
	n, err := e.AsInt()
	require.NoError(t, err)
	return n
}

var inst = domain.UID{9}

func dropReason(t *testing.T, err error) engine.DropReason {
	t.Helper()
	var d *engine.DropError
	require.True(t, errors.As(err, &d), "expected a drop, got %v", err)
	return d.Reason
}

func TestProcess_StartCommitsAndSends(t *testing.T) {
	f := newFixture(t)
	res, err := f.eng.Process(context.Background(), f.local(counterID, inst, msgStart))
	require.NoError(t, err)
	require.Equal(t, engine.Consumed, res.Outcome)
	require.Equal(t, stateCounting, res.State)

	require.Len(t, f.disp.sent, 1)
	require.Equal(t, counterID, f.disp.sent[0].Protocol)
	require.Equal(t, inst, f.disp.sent[0].Instance)
	pending, err := f.repo.PendingOutbox(context.Background(), f.owned)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestProcess_Drops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.eng.Process(ctx, f.local(99, inst, msgStart))
	require.Equal(t, engine.DropUnknownProtocol, dropReason(t, err))

	_, err = f.eng.Process(ctx, f.local(counterID, inst, msgIncrement))
	require.Equal(t, engine.DropUnexpectedMessage, dropReason(t, err))

	_, err = f.eng.Process(ctx, f.local(counterID, inst, msgStart))
	require.NoError(t, err)

	_, err = f.eng.Process(ctx, f.local(counterID, inst, msgStart))
	require.Equal(t, engine.DropNoStep, dropReason(t, err))

	_, err = f.eng.Process(ctx, f.local(counterID, inst, msgSecure))
	require.Equal(t, engine.DropChannelNotAllowed, dropReason(t, err))

	_, err = f.eng.Process(ctx, f.local(counterID, inst, msgFail))
	require.Equal(t, engine.DropStepFailed, dropReason(t, err))
	require.Equal(t, int64(0), f.count(t, inst), "failed steps leave the state alone")

	msg := f.local(counterID, inst, msgSecure)
	msg.Channel = domain.ReceptionChannel{Kind: domain.ChannelRatcheting, RemoteIdentity: peer}
	_, err = f.eng.Process(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, int64(100), f.count(t, inst))
}

func TestProcess_CancelAndFinalDeleteInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := domain.UID{10}

	for _, id := range []domain.UID{inst, other} {
		_, err := f.eng.Process(ctx, f.local(counterID, id, msgStart))
		require.NoError(t, err)
	}

	res, err := f.eng.Process(ctx, f.local(counterID, inst, msgCancel))
	require.NoError(t, err)
	require.True(t, res.Final)

	res, err = f.eng.Process(ctx, f.local(counterID, other, msgFinish))
	require.NoError(t, err)
	require.True(t, res.Final)
	require.Equal(t, stateDone, res.State)

	list, err := f.eng.Instances(ctx, f.owned)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestProcess_ConcurrentMessagesAreSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.eng.Process(ctx, f.local(counterID, inst, msgStart))
	require.NoError(t, err)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.eng.Process(ctx, f.local(counterID, inst, msgIncrement)); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(n), f.count(t, inst))
}

func TestProcess_ChildOutcomeReachesParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := domain.UID{20}

	_, err := f.eng.Process(ctx, f.local(parentID, parent, msgStart))
	require.NoError(t, err)

	list, err := f.eng.Instances(ctx, f.owned)
	require.NoError(t, err)
	require.Len(t, list, 2)
	var child engine.Key
	for _, i := range list {
		if i.Key.Protocol == counterID {
			child = i.Key
		}
	}
	require.False(t, child.Instance.IsZero())

	_, err = f.eng.Process(ctx, f.local(counterID, child.Instance, msgFinish))
	require.NoError(t, err)

	list, err = f.eng.Instances(ctx, f.owned)
	require.NoError(t, err)
	require.Empty(t, list, "parent finished once the child did")
	require.Len(t, f.disp.events, 1)
	require.Equal(t, "child-done", f.disp.events[0].Value)
}

// spawnChild starts a parent and returns the key of the counter child it
// waits on.
func (f *fixture) spawnChild(t *testing.T, parent domain.UID) engine.Key {
	t.Helper()
	ctx := context.Background()
	_, err := f.eng.Process(ctx, f.local(parentID, parent, msgStart))
	require.NoError(t, err)

	list, err := f.eng.Instances(ctx, f.owned)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, i := range list {
		if i.Key.Protocol == counterID {
			return i.Key
		}
	}
	t.Fatal("no child instance")
	return engine.Key{}
}

func TestProcess_CancelledChildReleasesParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	child := f.spawnChild(t, domain.UID{21})

	_, err := f.eng.Process(ctx, f.local(counterID, child.Instance, msgCancel))
	require.NoError(t, err)

	list, err := f.eng.Instances(ctx, f.owned)
	require.NoError(t, err)
	require.Empty(t, list, "parent gave up once the child was cancelled")
	links, err := f.repo.LinksForChild(ctx, child)
	require.NoError(t, err)
	require.Empty(t, links)
	require.Len(t, f.disp.events, 1)
	require.Equal(t, "child-cancelled", f.disp.events[0].Value)
}

func TestAbort_ReleasesParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	child := f.spawnChild(t, domain.UID{22})

	require.NoError(t, f.eng.Abort(ctx, child))

	list, err := f.eng.Instances(ctx, f.owned)
	require.NoError(t, err)
	require.Empty(t, list)
	links, err := f.repo.LinksForChild(ctx, child)
	require.NoError(t, err)
	require.Empty(t, links)
	require.Len(t, f.disp.events, 2)
	require.Equal(t, domain.EventProtocolCancelled, f.disp.events[0].Kind)
	require.Equal(t, "child-cancelled", f.disp.events[1].Value)
}

func TestProcess_QueryResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.eng.Process(ctx, f.local(counterID, inst, msgStart))
	require.NoError(t, err)
	_, err = f.eng.Process(ctx, f.local(counterID, inst, msgAsk))
	require.NoError(t, err)

	require.Len(t, f.disp.queries, 1)
	q := f.disp.queries[0]
	require.Equal(t, engine.QueryDeviceDiscovery, q.Kind)
	require.Equal(t, inst, q.Instance)

	_, err = f.eng.Process(ctx, f.local(q.Protocol, q.Instance, q.Response, codec.Int(5)))
	require.NoError(t, err)
	require.Equal(t, int64(5), f.count(t, inst))
}

func TestFlush_RetainsItemsUntilDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.disp.fail = errors.New("relay down")

	_, err := f.eng.Process(ctx, f.local(counterID, inst, msgStart))
	require.NoError(t, err, "delivery failures do not fail the step")
	pending, err := f.repo.PendingOutbox(ctx, f.owned)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	f.disp.fail = nil
	require.NoError(t, f.eng.Flush(ctx, f.owned))
	require.Len(t, f.disp.sent, 1)
	pending, err = f.repo.PendingOutbox(ctx, f.owned)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestFlush_BacksOffAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.disp.fail = errors.New("relay down")
	_, err := f.eng.Process(ctx, f.local(counterID, inst, msgStart))
	require.NoError(t, err)

	// The relay is back, but the next step does not flush before the
	// backoff elapses.
	f.disp.fail = nil
	_, err = f.eng.Process(ctx, f.local(counterID, domain.UID{10}, msgStart))
	require.NoError(t, err)
	require.Empty(t, f.disp.sent)

	require.NoError(t, f.eng.Flush(ctx, f.owned))
	require.Len(t, f.disp.sent, 2)
}

func TestAbort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := engine.Key{Owned: f.owned, Protocol: counterID, Instance: inst}
	require.ErrorIs(t, f.eng.Abort(ctx, key), engine.ErrNotFound)

	_, err := f.eng.Process(ctx, f.local(counterID, inst, msgStart))
	require.NoError(t, err)
	require.NoError(t, f.eng.Abort(ctx, key))

	_, ok, err := f.repo.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, f.disp.events, 1)
	require.Equal(t, domain.EventProtocolCancelled, f.disp.events[0].Kind)
}

func TestRepository_StaleVersionConflicts(t *testing.T) {
	repo := engine.NewMemoryRepository()
	ctx := context.Background()
	key := engine.Key{Protocol: 1, Instance: inst}
	next := &engine.Instance{Key: key, State: 1, Version: 1}
	require.NoError(t, repo.Commit(ctx, engine.Transition{Key: key, Next: next}))
	require.ErrorIs(t, repo.Commit(ctx, engine.Transition{Key: key, Next: next}), engine.ErrConflict)
}

func TestOutboxItem_EncodeDecode(t *testing.T) {
	it := engine.OutboxItem{
		Seq:   3,
		Owned: peer,
		Kind:  engine.ItemPost,
		Post: engine.OutboundMessage{
			Protocol: 4,
			Instance: inst,
			ID:       2,
			Inputs:   []codec.Encoded{codec.String("x")},
			Channel:  domain.SendChannel{Kind: domain.ChannelRatcheting, ToIdentity: peer, ToDevices: []domain.UID{{1}}, Fallback: domain.ChannelPreKey, PartOfFullRatchet: true},
		},
	}
	got, err := engine.DecodeOutboxItem(it.Encode())
	require.NoError(t, err)
	require.Equal(t, it.Seq, got.Seq)
	require.Equal(t, it.Post.Channel, got.Post.Channel)
	require.True(t, it.Post.Inputs[0].Equal(got.Post.Inputs[0]))
}
