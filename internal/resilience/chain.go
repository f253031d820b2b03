package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// backend pairs one provider instance with its breaker.
type backend[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain holds a primary provider and ordered fallbacks of the same type.
// Requests go to the first backend whose breaker admits the call; on failure
// the next backend is tried in registration order.
type Chain[T any] struct {
	opts []BreakerOption

	mu       sync.RWMutex
	backends []backend[T]
}

// NewChain creates a Chain with primary as its first backend. The breaker
// options apply to every backend registered on this chain.
func NewChain[T any](name string, primary T, opts ...BreakerOption) *Chain[T] {
	c := &Chain[T]{opts: opts}
	c.Add(name, primary)
	return c
}

// Add appends a fallback backend. Fallbacks are tried in the order added.
func (c *Chain[T]) Add(name string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backends = append(c.backends, backend[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(name, c.opts...),
	})
}

// Len returns the number of registered backends.
func (c *Chain[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.backends)
}

// Do tries fn against each backend until one succeeds. Backends with open
// breakers are skipped. When every backend fails, the returned error wraps
// [ErrExhausted] together with the last failure.
//
// Do is a package-level function because Go methods cannot introduce the
// result type parameter.
func Do[T, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	c.mu.RLock()
	backends := c.backends
	c.mu.RUnlock()

	var (
		zero    R
		lastErr error
	)
	for i := range backends {
		be := &backends[i]
		var result R
		err := be.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(be.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping backend, breaker open", "backend", be.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", be.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}
