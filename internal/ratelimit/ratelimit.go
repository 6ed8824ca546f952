// Package ratelimit enforces a minimum interval between requests per
// client identity. State is process-local and lost on restart, which is
// acceptable for a soft anti-abuse measure.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Limiter struct {
	cooldown time.Duration

	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

func New(cooldown time.Duration) *Limiter {
	return &Limiter{
		cooldown: cooldown,
		clients:  make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the client may proceed now. A zero cooldown
// disables limiting.
func (l *Limiter) Allow(clientKey string) bool {
	if l.cooldown <= 0 {
		return true
	}
	l.mu.Lock()
	lim, ok := l.clients[clientKey]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.cooldown), 1)
		l.clients[clientKey] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
