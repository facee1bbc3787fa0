// Package ratelimit implements fixed-window request counting per client.
//
// A Limiter pairs a Budget (how many requests per window) with a Store that
// holds the counters. MemoryStore keeps counters in process; RedisStore
// shares them between instances.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Budget is a request allowance per window.
type Budget struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Budgets per endpoint class.
var (
	TokenValidation = Budget{Name: "token", Limit: 30, Window: time.Minute}
	GeneralAPI      = Budget{Name: "general", Limit: 60, Window: time.Minute}
	Webhooks        = Budget{Name: "webhook", Limit: 200, Window: time.Minute}
	AuthOperations  = Budget{Name: "auth", Limit: 10, Window: time.Minute}
)

// Store counts hits per key in fixed windows.
type Store interface {
	// Increment adds one hit to key and returns the count in the current
	// window and when that window ends. A key whose window has passed starts
	// again at 1.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
	Close() error
}

// Result describes one rate-limit decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero when allowed
}

type Limiter struct {
	budget Budget
	store  Store
	clock  clockwork.Clock
}

func New(budget Budget, store Store, clock clockwork.Clock) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{budget: budget, store: store, clock: clock}
}

func (l *Limiter) Name() string { return l.budget.Name }

// Allow records a hit for key. The (Limit+1)-th hit in a window is refused.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	count, resetAt, err := l.store.Increment(ctx, l.budget.Name+":"+key, l.budget.Window)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit %s: %w", l.budget.Name, err)
	}

	res := Result{
		Allowed:   count <= int64(l.budget.Limit),
		Limit:     l.budget.Limit,
		Remaining: max(l.budget.Limit-int(count), 0),
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = max(resetAt.Sub(l.clock.Now()), time.Second)
	}
	return res, nil
}
