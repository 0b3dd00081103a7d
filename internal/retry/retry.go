// Package retry implements exponential backoff for relay operations.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxAttempts = 8
	DefaultBase        = 500 * time.Millisecond
	DefaultMax         = 30 * time.Second
	DefaultJitter      = 0.2
)

// Backoff holds the retry schedule.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	Jitter      float64
	MaxAttempts int
}

// Default returns the standard schedule.
func Default() Backoff {
	return Backoff{Base: DefaultBase, Max: DefaultMax, Jitter: DefaultJitter, MaxAttempts: DefaultMaxAttempts}
}

// Delay is the wait before retry number attempt, counting from zero.
func (b Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.Base) * math.Pow(2, float64(attempt))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter > 0 {
		delay *= 1 - b.Jitter + rand.Float64()*2*b.Jitter
	}
	return time.Duration(delay)
}

// Do calls fn until it succeeds, returns a permanent error, the attempts
// run out or ctx is done.
func (b Backoff) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := b.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil || !IsTransient(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		t := time.NewTimer(b.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
	return err
}

// IsTransient reports whether err is likely to go away on retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te interface{ Temporary() bool }
	if errors.As(err, &te) && te.Temporary() {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"no route to host",
		"network is unreachable",
		"broken pipe",
		"eof",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Tracker spaces out retries of operations identified by key. It does
// not sleep; callers ask Ready before trying and report the outcome.
type Tracker struct {
	backoff Backoff
	now     func() time.Time

	mu    sync.Mutex
	state map[string]trackState
}

type trackState struct {
	failures int
	next     time.Time
}

// NewTracker returns a tracker using b.
func NewTracker(b Backoff, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{backoff: b, now: now, state: make(map[string]trackState)}
}

// Ready reports whether key may be tried now.
func (t *Tracker) Ready(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.state[key]
	return !ok || !t.now().Before(st.next)
}

// Failed records a failed attempt and schedules the next one.
func (t *Tracker) Failed(key string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state[key]
	d := t.backoff.Delay(st.failures)
	st.failures++
	st.next = t.now().Add(d)
	t.state[key] = st
	return d
}

// Succeeded forgets key.
func (t *Tracker) Succeeded(key string) {
	t.mu.Lock()
	delete(t.state, key)
	t.mu.Unlock()
}

// Failures returns the consecutive failures recorded for key.
func (t *Tracker) Failures(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state[key].failures
}
