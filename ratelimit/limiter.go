// Package ratelimit implements an identity-keyed sliding-window throttle.
// The window is an append-only set of timestamped entries per subject:
// every consume purges expired entries, appends one, and compares the
// resulting cardinality against the action class budget. There is no ban
// state; a subject that stops acting regains budget as entries age out.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	apperrors "roomlink/errors"
)

// Class is an independent budget. Exhausting one class never affects the
// others.
type Class string

const (
	ClassMessageSend Class = "message-send"
	ClassTyping      Class = "typing"
	ClassRoomJoin    Class = "room-join"
	ClassGenericAPI  Class = "generic-api"
)

// Budget is the point/duration/cooldown triple of one action class.
type Budget struct {
	Points   int
	Window   time.Duration
	Cooldown time.Duration
}

// Result of one consume call.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	// Degraded marks a fail-open decision taken because the backing store
	// was unreachable.
	Degraded bool
}

// CounterStore executes the purge-then-append-then-count sequence as a
// single atomic unit and returns the resulting cardinality. Two concurrent
// callers must never both observe "under budget" for the budget-exceeding
// Nth call.
type CounterStore interface {
	Slide(ctx context.Context, key string, cutoff, now time.Time,
		ttl time.Duration) (int, error)
}

// Limiter applies class budgets over a CounterStore.
//
// Fail-open policy: when the store errors or times out, the action is
// allowed and the degradation is logged. Falsely blocking legitimate users
// costs more than temporarily under-throttling; this trade-off applies to
// throttling only, never to write durability.
type Limiter struct {
	store   CounterStore
	budgets map[Class]Budget
	log     *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func New(store CounterStore, budgets map[Class]Budget, log *slog.Logger,
	timeout time.Duration) *Limiter {
	return &Limiter{
		store:   store,
		budgets: budgets,
		log:     log,
		timeout: timeout,
		now:     time.Now,
	}
}

// WithClock overrides the time source. Test seam.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Consume spends one point of the class budget for the subject.
func (l *Limiter) Consume(ctx context.Context, subject string, class Class) Result {
	budget, ok := l.budgets[class]
	if !ok {
		budget = l.budgets[ClassGenericAPI]
	}
	if budget.Points <= 0 {
		return Result{Allowed: true}
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	now := l.now().UTC()
	key := string(class) + ":" + subject
	ttl := budget.Window + budget.Cooldown

	count, err := l.store.Slide(ctx, key, now.Add(-budget.Window), now, ttl)
	if err != nil {
		degraded := &apperrors.DegradedError{Store: "rate limit counter", Err: err}
		l.log.Warn("rate limit store unreachable, failing open",
			"class", class, "subject", subject, "error", degraded)
		return Result{Allowed: true, Remaining: budget.Points, Degraded: true}
	}

	if count > budget.Points {
		return Result{Allowed: false, RetryAfter: budget.Cooldown}
	}
	return Result{Allowed: true, Remaining: budget.Points - count}
}

// DefaultBudgets returns the built-in class budgets. The caller may replace
// any of them from configuration.
func DefaultBudgets() map[Class]Budget {
	return map[Class]Budget{
		ClassMessageSend: {Points: 50, Window: time.Minute, Cooldown: 30 * time.Second},
		ClassTyping:      {Points: 20, Window: 10 * time.Second, Cooldown: 5 * time.Second},
		ClassRoomJoin:    {Points: 10, Window: time.Minute, Cooldown: 30 * time.Second},
		ClassGenericAPI:  {Points: 120, Window: time.Minute, Cooldown: 10 * time.Second},
	}
}
