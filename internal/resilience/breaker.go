// Package resilience provides failover primitives for the provider layer.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open) that
// stops hammering a backend once it fails repeatedly. [Chain] composes a
// primary provider with ordered fallbacks, each behind its own breaker, so a
// tripped primary is bypassed instead of failing every request. Typed
// wrappers ([LLM], [STT], [TTS]) implement the provider interfaces over a
// Chain so the rest of the pipeline never sees the failover machinery.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Sentinel errors.
var (
	// ErrOpen is returned by [Breaker.Do] while the breaker is open and the
	// cooldown has not elapsed.
	ErrOpen = errors.New("resilience: circuit open")

	// ErrExhausted is returned by a [Chain] when every backend failed or was
	// skipped with an open breaker.
	ErrExhausted = errors.New("resilience: all backends failed")
)

// Breaker tuning defaults.
const (
	DefaultMaxFailures = 5
	DefaultCooldown    = 30 * time.Second
	DefaultProbeBudget = 3
)

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrOpen] until the cooldown elapses.
	BreakerOpen

	// BreakerHalfOpen lets a bounded number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a three-state circuit breaker guarding one backend.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probeBudget int

	mu         sync.Mutex
	state      BreakerState
	fails      int
	lastFail   time.Time
	probes     int
	probeFails int
}

// BreakerOption tunes a Breaker (and every breaker a [Chain] creates).
type BreakerOption func(*Breaker)

// WithMaxFailures sets how many consecutive failures trip the breaker.
func WithMaxFailures(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.maxFailures = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before probing again.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithProbeBudget sets how many half-open probes must succeed before the
// breaker closes.
func WithProbeBudget(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.probeBudget = n
		}
	}
}

// NewBreaker creates a closed breaker labelled name for log output.
func NewBreaker(name string, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:        name,
		maxFailures: DefaultMaxFailures,
		cooldown:    DefaultCooldown,
		probeBudget: DefaultProbeBudget,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Do runs fn unless the breaker rejects the call. An open breaker returns
// [ErrOpen] without invoking fn; once the cooldown elapses the breaker moves
// to half-open and admits probe calls.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if time.Since(b.lastFail) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = BreakerHalfOpen
		b.probes = 0
		b.probeFails = 0
		slog.Info("breaker half-open", "backend", b.name)

	case BreakerHalfOpen:
		if b.probes >= b.probeBudget {
			// Probe budget spent, verdict pending.
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == BreakerHalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure updates state after a failed call. Caller holds b.mu.
func (b *Breaker) onFailure(probing bool) {
	b.lastFail = time.Now()
	if probing {
		// One failed probe re-opens immediately.
		b.probeFails++
		b.state = BreakerOpen
		b.fails = b.maxFailures
		slog.Warn("breaker re-opened", "backend", b.name)
		return
	}
	b.fails++
	if b.fails >= b.maxFailures {
		b.state = BreakerOpen
		slog.Warn("breaker opened", "backend", b.name, "failures", b.fails)
	}
}

// onSuccess updates state after a successful call. Caller holds b.mu.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probes-b.probeFails >= b.probeBudget {
			b.state = BreakerClosed
			b.fails = 0
			slog.Info("breaker closed", "backend", b.name)
		}
		return
	}
	b.fails = 0
}

// State reports the breaker's effective state: an open breaker whose
// cooldown has elapsed reads as half-open even though the transition is
// applied on the next Do.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.lastFail) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.fails = 0
	b.probes = 0
	b.probeFails = 0
}
