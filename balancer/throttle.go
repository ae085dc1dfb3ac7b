package balancer

import (
	"sync"

	"golang.org/x/time/rate"
)

// Throttle caps dispatch bursts to any single target, supplementing
// strategy selection: a candidate can be the best-scored pick and still be
// asked to wait if it's already receiving dispatches faster than its
// configured rate.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewThrottle builds a Throttle allowing rps dispatches per second per
// target, with the given burst allowance.
func NewThrottle(rps float64, burst int) *Throttle {
	return &Throttle{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (t *Throttle) limiterFor(target string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[target]
	if !ok {
		l = rate.NewLimiter(t.rps, t.burst)
		t.limiters[target] = l
	}
	return l
}

// Allow reports whether a dispatch to target may proceed right now without
// exceeding its configured rate.
func (t *Throttle) Allow(target string) bool {
	return t.limiterFor(target).Allow()
}
