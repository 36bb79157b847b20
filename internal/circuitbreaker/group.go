package circuitbreaker

import (
	"sync"
	"time"
)

// Group lazily creates one breaker per key, e.g. per credential name
type Group struct {
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewGroup creates a group whose breakers share the same thresholds
func NewGroup(maxFailures int, resetTimeout time.Duration) *Group {
	return &Group{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		breakers:     make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for key
func (g *Group) Get(key string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	cb, exists := g.breakers[key]
	if !exists {
		cb = newCircuitBreaker(g.maxFailures, g.resetTimeout, g.now)
		g.breakers[key] = cb
	}
	return cb
}

// Call runs fn through the breaker for key
func (g *Group) Call(key string, fn func() error) error {
	return g.Get(key).Call(fn)
}

// States returns the state of every breaker created so far
func (g *Group) States() map[string]State {
	g.mu.Lock()
	defer g.mu.Unlock()

	states := make(map[string]State, len(g.breakers))
	for key, cb := range g.breakers {
		states[key] = cb.State()
	}
	return states
}

// Forget drops the breaker for key, e.g. after the credential is removed
func (g *Group) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.breakers, key)
}
