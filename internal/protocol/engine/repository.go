package engine

import (
	"context"
	"slices"
	"sort"
	"sync"

	"trustline/internal/domain"
)

// Transition is everything a step changes, committed atomically.
type Transition struct {
	Key Key
	// PrevVersion is the version the step started from; zero when the
	// instance did not exist.
	PrevVersion uint64
	// Next is the new instance, or nil to delete it.
	Next *Instance
	// Outbox items get their Seq assigned by the repository.
	Outbox    []OutboxItem
	NewLinks  []Link
	DoneLinks []Link
}

// Repository persists protocol instances, their outbox and child links.
type Repository interface {
	Get(ctx context.Context, key Key) (Instance, bool, error)
	Commit(ctx context.Context, tx Transition) error
	List(ctx context.Context, owned domain.Identity) ([]Instance, error)
	PendingOutbox(ctx context.Context, owned domain.Identity) ([]OutboxItem, error)
	AckOutbox(ctx context.Context, owned domain.Identity, seq uint64) error
	LinksForChild(ctx context.Context, child Key) ([]Link, error)
}

// MemoryRepository is an in-memory Repository.
type MemoryRepository struct {
	mu        sync.Mutex
	instances map[Key]Instance
	outbox    map[domain.Identity][]OutboxItem
	links     map[Key][]Link
	seq       uint64
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		instances: make(map[Key]Instance),
		outbox:    make(map[domain.Identity][]OutboxItem),
		links:     make(map[Key][]Link),
	}
}

var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) Get(_ context.Context, key Key) (Instance, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[key]
	inst.Raw = slices.Clone(inst.Raw)
	return inst, ok, nil
}

func (r *MemoryRepository) Commit(_ context.Context, tx Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.instances[tx.Key]
	switch {
	case !ok && tx.PrevVersion != 0:
		return ErrConflict
	case ok && cur.Version != tx.PrevVersion:
		return ErrConflict
	}

	if tx.Next == nil {
		delete(r.instances, tx.Key)
		for child, ls := range r.links {
			r.links[child] = slices.DeleteFunc(ls, func(l Link) bool { return l.Parent == tx.Key })
		}
	} else {
		next := *tx.Next
		next.Raw = slices.Clone(next.Raw)
		r.instances[tx.Key] = next
	}
	for _, l := range tx.NewLinks {
		r.links[l.Child] = append(r.links[l.Child], l)
	}
	for _, done := range tx.DoneLinks {
		r.links[done.Child] = slices.DeleteFunc(r.links[done.Child], func(l Link) bool { return l == done })
		if len(r.links[done.Child]) == 0 {
			delete(r.links, done.Child)
		}
	}
	for _, it := range tx.Outbox {
		r.seq++
		it.Seq = r.seq
		r.outbox[it.Owned] = append(r.outbox[it.Owned], it)
	}
	return nil
}

func (r *MemoryRepository) List(_ context.Context, owned domain.Identity) ([]Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Instance
	for k, inst := range r.instances {
		if k.Owned == owned {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (r *MemoryRepository) PendingOutbox(_ context.Context, owned domain.Identity) ([]OutboxItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.outbox[owned]), nil
}

func (r *MemoryRepository) AckOutbox(_ context.Context, owned domain.Identity, seq uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outbox[owned] = slices.DeleteFunc(r.outbox[owned], func(it OutboxItem) bool { return it.Seq == seq })
	return nil
}

func (r *MemoryRepository) LinksForChild(_ context.Context, child Key) ([]Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.links[child]), nil
}
