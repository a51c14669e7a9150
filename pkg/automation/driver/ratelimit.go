package driver

import (
	"sync"
	"time"

	"github.com/entrhq/herald/pkg/automation"
)

// rateLimiter tracks the throttling state observed on the session's network
// responses. It is tripped by the response hook and checked before every
// mutating action; the limit clears lazily once the cooldown has elapsed.
type rateLimiter struct {
	mu       sync.Mutex
	limited  bool
	until    time.Time
	cooldown time.Duration

	now func() time.Time // injectable for tests
}

func newRateLimiter(cooldown time.Duration) *rateLimiter {
	return &rateLimiter{cooldown: cooldown, now: time.Now}
}

// trip records a throttling signal and starts (or restarts) the cooldown.
func (l *rateLimiter) trip() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limited = true
	l.until = l.now().Add(l.cooldown)
	return l.until
}

// check fails fast with a RateLimitError while the cooldown is active. It
// never blocks; retry scheduling belongs to the caller.
func (l *rateLimiter) check() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.limited {
		return nil
	}
	if l.now().Before(l.until) {
		return &automation.RateLimitError{Until: l.until}
	}
	l.limited = false
	l.until = time.Time{}
	return nil
}
