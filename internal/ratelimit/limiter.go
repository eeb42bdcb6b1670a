// Package ratelimit enforces request limits for the API: per-user token
// buckets against bursts, and per-IP sliding windows on the paid AI routes.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the per-user burst limits.
type Config struct {
	FreeRPS         float64       // Requests per second for free users
	FreeBurst       int           // Burst size for free users
	PaidRPS         float64       // Requests per second for subscribers
	PaidBurst       int           // Burst size for subscribers
	CleanupInterval time.Duration // How long an idle bucket survives
}

// DefaultConfig is used when no overrides are configured.
var DefaultConfig = Config{
	FreeRPS:         5,
	FreeBurst:       20,
	PaidRPS:         50,
	PaidBurst:       200,
	CleanupInterval: time.Hour,
}

type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
	isPaid   bool
}

// UserLimiter holds one token bucket per user.
type UserLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	config  Config
	now     func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewUserLimiter creates a limiter and starts its idle-bucket sweeper.
func NewUserLimiter(config Config) *UserLimiter {
	l := &UserLimiter{
		buckets: make(map[string]*bucket),
		config:  config,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.sweepLoop()
	return l
}

// Reserve takes one token for the user. It returns false and the wait until
// a token is available when the bucket is empty; the token is not consumed
// in that case.
func (l *UserLimiter) Reserve(userID string, isPaid bool) (bool, time.Duration) {
	now := l.now()
	lim := l.bucketFor(userID, isPaid, now)

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Allow reports whether a request from the user may proceed.
func (l *UserLimiter) Allow(userID string, isPaid bool) bool {
	ok, _ := l.Reserve(userID, isPaid)
	return ok
}

// Tokens returns the tokens left in the user's bucket, or the full burst
// when the user has no bucket yet.
func (l *UserLimiter) Tokens(userID string, isPaid bool) float64 {
	now := l.now()
	return l.bucketFor(userID, isPaid, now).TokensAt(now)
}

// bucketFor returns the user's bucket. A tier change replaces the bucket so
// an upgrade takes effect on the next request.
func (l *UserLimiter) bucketFor(userID string, isPaid bool, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[userID]; ok && b.isPaid == isPaid {
		b.lastUsed = now
		return b.limiter
	}

	rps, burst := l.config.FreeRPS, l.config.FreeBurst
	if isPaid {
		rps, burst = l.config.PaidRPS, l.config.PaidBurst
	}
	b := &bucket{
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		lastUsed: now,
		isPaid:   isPaid,
	}
	l.buckets[userID] = b
	return b.limiter
}

// Sweep drops buckets idle for longer than the cleanup interval.
func (l *UserLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.config.CleanupInterval)
	for userID, b := range l.buckets {
		if b.lastUsed.Before(cutoff) {
			delete(l.buckets, userID)
		}
	}
}

func (l *UserLimiter) sweepLoop() {
	defer l.wg.Done()

	interval := l.config.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stopCh:
			return
		}
	}
}

// Stop ends the sweeper goroutine.
func (l *UserLimiter) Stop() {
	close(l.stopCh)
	l.wg.Wait()
}

// Len returns the number of live buckets.
func (l *UserLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
