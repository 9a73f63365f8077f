package bridge

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// logThrottle applies a token bucket per bridge name so a caller hammering an
// unavailable bridge produces a bounded number of warnings.
type logThrottle struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu     sync.Mutex
	byName map[string]*throttleEntry
	hits   uint64
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newLogThrottle returns nil, which allows everything, for non-positive
// arguments.
func newLogThrottle(rps float64, burst int) *logThrottle {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &logThrottle{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		byName:  make(map[string]*throttleEntry),
	}
}

func (t *logThrottle) allow(name string, now time.Time) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byName[name]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.byName[name] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	t.hits++
	if t.hits%512 == 0 {
		cutoff := now.Add(-t.idleTTL)
		for k, v := range t.byName {
			if v.lastSeen.Before(cutoff) {
				delete(t.byName, k)
			}
		}
	}
	return allowed
}
