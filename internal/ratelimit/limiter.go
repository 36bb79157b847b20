// Package ratelimit keeps one token bucket per identifier (client IP,
// credential name, ...).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed manages rate limiters for multiple identifiers
type Keyed struct {
	limiters map[string]*entry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	idle     time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a keyed limiter allowing r events per second with burst b.
// Limiters unused for idle are dropped; idle <= 0 disables the sweeper.
func New(r rate.Limit, b int, idle time.Duration) *Keyed {
	if b < 1 {
		b = 1
	}
	k := &Keyed{
		limiters: make(map[string]*entry),
		rate:     r,
		burst:    b,
		idle:     idle,
		stop:     make(chan struct{}),
	}

	if idle > 0 {
		go k.sweep()
	}

	return k
}

// Get returns the limiter for an identifier
func (k *Keyed) Get(id string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, exists := k.limiters[id]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(k.rate, k.burst)}
		k.limiters[id] = e
	}
	e.lastSeen = time.Now()

	return e.limiter
}

// Allow reports whether an event for id may happen now
func (k *Keyed) Allow(id string) bool {
	return k.Get(id).Allow()
}

// Wait blocks until an event for id is permitted or ctx is done
func (k *Keyed) Wait(ctx context.Context, id string) error {
	return k.Get(id).Wait(ctx)
}

// Len returns the number of tracked identifiers
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

// Stop ends the background sweeper
func (k *Keyed) Stop() {
	k.stopOnce.Do(func() { close(k.stop) })
}

func (k *Keyed) sweep() {
	ticker := time.NewTicker(k.idle)
	defer ticker.Stop()

	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
			k.evictIdle(time.Now())
		}
	}
}

func (k *Keyed) evictIdle(now time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for id, e := range k.limiters {
		if now.Sub(e.lastSeen) > k.idle {
			delete(k.limiters, id)
		}
	}
}
