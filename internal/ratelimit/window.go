package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jacobjmc/lightpad/internal/errs"
)

// Result describes the state of a sliding window after a request.
type Result struct {
	Success   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Window is a sliding-window counter backend.
type Window interface {
	// Limit counts one request against key and reports whether it fits in
	// limit requests per period.
	Limit(ctx context.Context, key string, limit int, period time.Duration) (Result, error)
}

// ExceededError is returned when a route window is full.
type ExceededError struct {
	Result Result
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit of %d exceeded", e.Result.Limit)
}

func (e *ExceededError) Unwrap() error {
	return errs.New(errs.ResourceExhausted, "You have reached your request limit for the day.")
}

// SetHeaders writes the X-RateLimit-* headers. Reset is in unix milliseconds.
func (r Result) SetHeaders(h http.Header) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(r.Reset.UnixMilli(), 10))
}

// RouteLimiter applies one sliding window per client IP to a route.
// A nil *RouteLimiter allows everything.
type RouteLimiter struct {
	window Window
	prefix string
	limit  int
	period time.Duration
}

// NewRouteLimiter builds a limiter keyed lightpad_<route>_ratelimit_<ip>.
func NewRouteLimiter(window Window, route string, limit int, period time.Duration) *RouteLimiter {
	return &RouteLimiter{
		window: window,
		prefix: "lightpad_" + route + "_ratelimit_",
		limit:  limit,
		period: period,
	}
}

// Check counts a request from ip. It returns *ExceededError when the window
// is full; the result is returned either way so callers can set headers.
func (l *RouteLimiter) Check(ctx context.Context, ip string) (Result, error) {
	if l == nil {
		return Result{Success: true}, nil
	}
	res, err := l.window.Limit(ctx, l.prefix+ip, l.limit, l.period)
	if err != nil {
		return Result{}, fmt.Errorf("check rate limit: %w", err)
	}
	if !res.Success {
		return res, &ExceededError{Result: res}
	}
	return res, nil
}

// ClientIP returns the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// weightedCount estimates requests in the trailing period from the current
// fixed window and a linearly decayed share of the previous one.
func weightedCount(now time.Time, period time.Duration, current, previous int64) int64 {
	elapsed := float64(now.UnixMilli()%period.Milliseconds()) / float64(period.Milliseconds())
	return current + int64(math.Floor((1-elapsed)*float64(previous)))
}

func windowIndex(now time.Time, period time.Duration) int64 {
	return now.UnixMilli() / period.Milliseconds()
}

func windowReset(now time.Time, period time.Duration) time.Time {
	return time.UnixMilli((windowIndex(now, period) + 1) * period.Milliseconds())
}

// MemoryWindow is a process-local Window for tests and single-instance runs.
type MemoryWindow struct {
	mu     sync.Mutex
	counts map[string]int64
	now    func() time.Time
}

// NewMemoryWindow returns an empty MemoryWindow. A nil clock means time.Now.
func NewMemoryWindow(now func() time.Time) *MemoryWindow {
	if now == nil {
		now = time.Now
	}
	return &MemoryWindow{counts: make(map[string]int64), now: now}
}

func (m *MemoryWindow) Limit(_ context.Context, key string, limit int, period time.Duration) (Result, error) {
	if period < time.Millisecond {
		return Result{}, fmt.Errorf("period %s is below one millisecond", period)
	}
	now := m.now()
	idx := windowIndex(now, period)
	currentKey := fmt.Sprintf("%s:%d", key, idx)
	previousKey := fmt.Sprintf("%s:%d", key, idx-1)

	m.mu.Lock()
	defer m.mu.Unlock()

	// Forget windows that can no longer contribute.
	for k := range m.counts {
		if strings.HasPrefix(k, key+":") && k != currentKey && k != previousKey {
			delete(m.counts, k)
		}
	}

	res := Result{Limit: limit, Reset: windowReset(now, period)}
	used := weightedCount(now, period, m.counts[currentKey], m.counts[previousKey])
	if used >= int64(limit) {
		return res, nil
	}
	m.counts[currentKey]++
	res.Success = true
	res.Remaining = int(int64(limit) - (used + 1))
	return res, nil
}
