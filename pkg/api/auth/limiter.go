package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"clipshare/pkg/timeutil"
)

// Per-key rate limiter pool.
type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

type limiterPool struct {
	rps   float64
	burst int
	ttl   time.Duration

	mu sync.Mutex
	m  map[string]*limiterEntry

	startCleanup sync.Once
	stopOnce     sync.Once
	stopCh       chan struct{}
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	return &limiterPool{rps: rps, burst: burst, ttl: 10 * time.Minute, m: make(map[string]*limiterEntry), stopCh: make(chan struct{})}
}

// Allow reports whether key may make one more request now. A non-positive
// rate disables limiting.
func (p *limiterPool) Allow(key string) bool {
	if p.rps <= 0 {
		return true
	}
	p.startCleanup.Do(func() { go p.cleanupLoop(time.Minute) })

	now := timeutil.Now()
	p.mu.Lock()
	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(rate.Limit(p.rps), p.burst)}
		p.m[key] = e
	}
	e.lastSeen = now
	p.mu.Unlock()
	return e.l.AllowN(now, 1)
}

// Stop ends the cleanup goroutine.
func (p *limiterPool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// evict drops limiters idle since before cutoff.
func (p *limiterPool) evict(cutoff time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
			n++
		}
	}
	return n
}

func (p *limiterPool) cleanupLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.evict(timeutil.Now().Add(-p.ttl))
		case <-p.stopCh:
			return
		}
	}
}
