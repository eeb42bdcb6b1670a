// Package usage enforces the free-generation allowance and the paid
// subscription check in front of every model call.
package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jacobjmc/lightpad/internal/auth"
	"github.com/jacobjmc/lightpad/internal/db"
	"github.com/jacobjmc/lightpad/internal/errs"
	"github.com/jacobjmc/lightpad/internal/obs"
)

const (
	DefaultMaxFreeCounts = 5
	DefaultGrace         = 24 * time.Hour
)

type Store interface {
	db.UsageStore
	db.SubscriptionStore
}

type Config struct {
	MaxFreeCounts int
	Grace         time.Duration
	BypassEmails  []string
}

// Decision is the outcome of Gate.
type Decision struct {
	FreeTrial bool // free generations remain
	IsPro     bool // active subscription or bypass
}

// Allowed reports whether a generation may run.
func (d Decision) Allowed() bool { return d.FreeTrial || d.IsPro }

type Limiter struct {
	store  Store
	max    int
	grace  time.Duration
	bypass map[string]struct{}
	now    func() time.Time
}

func NewLimiter(store Store, cfg Config) *Limiter {
	bypass := make(map[string]struct{}, len(cfg.BypassEmails))
	for _, e := range cfg.BypassEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			bypass[e] = struct{}{}
		}
	}
	return &Limiter{
		store:  store,
		max:    cfg.MaxFreeCounts,
		grace:  cfg.Grace,
		bypass: bypass,
		now:    time.Now,
	}
}

// SetClock overrides the clock; tests only.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

func (l *Limiter) MaxFreeCounts() int { return l.max }

// CheckAPILimit is true when the user has no counter yet or is under the cap.
func (l *Limiter) CheckAPILimit(ctx context.Context, userID string) (bool, error) {
	count, err := l.GetAPILimitCount(ctx, userID)
	if err != nil {
		return false, err
	}
	return count < l.max, nil
}

// IncreaseAPILimit creates the counter at 1 or adds exactly 1.
func (l *Limiter) IncreaseAPILimit(ctx context.Context, userID string) error {
	count, err := l.store.IncrementUsage(ctx, userID, l.now())
	if err != nil {
		return fmt.Errorf("increase api limit: %w", err)
	}
	obs.From(ctx).Debug("usage_incremented", "count", count, "max", l.max)
	return nil
}

// GetAPILimitCount returns the free generations used, 0 without a counter.
func (l *Limiter) GetAPILimitCount(ctx context.Context, userID string) (int, error) {
	u, err := l.store.GetUsage(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get api limit: %w", err)
	}
	return u.Count, nil
}

// CheckSubscription is true for bypass emails, otherwise when a price is set
// and the period end plus the grace period is still ahead.
func (l *Limiter) CheckSubscription(ctx context.Context, user auth.User) (bool, error) {
	if _, ok := l.bypass[strings.ToLower(strings.TrimSpace(user.Email))]; ok && user.Email != "" {
		return true, nil
	}
	if user.ID == "" {
		return false, nil
	}

	sub, err := l.store.GetSubscription(ctx, user.ID)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check subscription: %w", err)
	}
	return IsActive(sub, l.grace, l.now()), nil
}

// IsActive applies the subscription validity rule.
func IsActive(sub db.Subscription, grace time.Duration, now time.Time) bool {
	if sub.StripePriceID == "" || sub.StripeCurrentPeriodEnd.IsZero() {
		return false
	}
	return sub.StripeCurrentPeriodEnd.Add(grace).After(now)
}

// Gate evaluates both checks and fails with errs.QuotaExceeded when the free
// trial is spent and the user is not subscribed.
func (l *Limiter) Gate(ctx context.Context, user auth.User) (Decision, error) {
	var d Decision
	var err error
	if d.FreeTrial, err = l.CheckAPILimit(ctx, user.ID); err != nil {
		return d, err
	}
	if d.IsPro, err = l.CheckSubscription(ctx, user); err != nil {
		return d, err
	}
	if !d.Allowed() {
		return d, errs.New(errs.QuotaExceeded, "Free trial has expired.")
	}
	return d, nil
}
