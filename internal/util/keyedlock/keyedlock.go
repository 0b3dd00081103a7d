// Package keyedlock provides mutual exclusion per string key.
//
// Entries are reference counted and removed when the last holder or
// waiter leaves, so the map only holds keys currently in use.
package keyedlock

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Locks is a set of independent mutexes addressed by key. The zero value is
// ready to use.
type Locks struct {
	mu sync.Mutex
	m  map[string]*entry
}

// New returns an empty lock set.
func New() *Locks { return &Locks{} }

func (l *Locks) acquireEntry(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m == nil {
		l.m = make(map[string]*entry)
	}
	e, ok := l.m[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		l.m[key] = e
	}
	e.refs++
	return e
}

func (l *Locks) releaseEntry(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.m, key)
	}
}

// Lock blocks until key is held or ctx is done. The returned function
// releases the lock and must be called exactly once.
func (l *Locks) Lock(ctx context.Context, key string) (func(), error) {
	e := l.acquireEntry(key)
	if err := e.sem.Acquire(ctx, 1); err != nil {
		l.releaseEntry(key, e)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			l.releaseEntry(key, e)
		})
	}, nil
}

// Len reports how many keys are currently held or awaited.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
