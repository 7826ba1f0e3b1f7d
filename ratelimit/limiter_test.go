package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Slide(context.Context, string, time.Time, time.Time,
	time.Duration) (int, error) {
	return 0, fmt.Errorf("counter store unreachable")
}

func testBudgets(points int, window, cooldown time.Duration) map[Class]Budget {
	return map[Class]Budget{
		ClassMessageSend: {Points: points, Window: window, Cooldown: cooldown},
		ClassTyping:      {Points: points, Window: window, Cooldown: cooldown},
		ClassGenericAPI:  {Points: points, Window: window, Cooldown: cooldown},
	}
}

func TestLimiter_Exactly_Budget_Calls_Pass_Then_Reject(t *testing.T) {
	req := require.New(t)
	limiter := New(NewMemoryStore(), testBudgets(5, time.Minute, 30*time.Second),
		slog.Default(), time.Second)

	// Given a budget of 5 actions per window
	// When 5 consecutive calls are made within the window
	for i := 0; i < 5; i++ {
		res := limiter.Consume(context.Background(), "alice", ClassMessageSend)
		req.True(res.Allowed, "call %d should pass", i+1)
		req.Equal(4-i, res.Remaining)
	}

	// Then the 6th call is rejected with the cooldown as retry-after
	res := limiter.Consume(context.Background(), "alice", ClassMessageSend)
	req.False(res.Allowed)
	req.Equal(30*time.Second, res.RetryAfter)
	req.False(res.Degraded)
}

func TestLimiter_Budget_Recovers_Once_Window_Slides(t *testing.T) {
	req := require.New(t)
	now := time.Now().UTC()
	limiter := New(NewMemoryStore(), testBudgets(3, time.Minute, 10*time.Second),
		slog.Default(), time.Second).
		WithClock(func() time.Time { return now })

	// Given an exhausted budget
	for i := 0; i < 3; i++ {
		req.True(limiter.Consume(context.Background(), "alice", ClassMessageSend).Allowed)
	}
	req.False(limiter.Consume(context.Background(), "alice", ClassMessageSend).Allowed)

	// When the full window passes with no further calls
	now = now.Add(time.Minute + time.Second)

	// Then a new call succeeds: entries aged out, no separate ban state
	req.True(limiter.Consume(context.Background(), "alice", ClassMessageSend).Allowed)
}

func TestLimiter_Action_Classes_Are_Independent(t *testing.T) {
	req := require.New(t)
	limiter := New(NewMemoryStore(), testBudgets(1, time.Minute, time.Second),
		slog.Default(), time.Second)

	// Given the message-send budget is exhausted
	req.True(limiter.Consume(context.Background(), "alice", ClassMessageSend).Allowed)
	req.False(limiter.Consume(context.Background(), "alice", ClassMessageSend).Allowed)

	// Then typing and generic-api budgets are unaffected
	req.True(limiter.Consume(context.Background(), "alice", ClassTyping).Allowed)
	req.True(limiter.Consume(context.Background(), "alice", ClassGenericAPI).Allowed)
}

func TestLimiter_Subjects_Are_Independent(t *testing.T) {
	req := require.New(t)
	limiter := New(NewMemoryStore(), testBudgets(1, time.Minute, time.Second),
		slog.Default(), time.Second)

	req.True(limiter.Consume(context.Background(), "alice", ClassMessageSend).Allowed)
	req.False(limiter.Consume(context.Background(), "alice", ClassMessageSend).Allowed)

	req.True(limiter.Consume(context.Background(), "bob", ClassMessageSend).Allowed)
}

func TestLimiter_Fails_Open_When_Store_Unreachable(t *testing.T) {
	req := require.New(t)
	limiter := New(failingStore{}, testBudgets(1, time.Minute, time.Second),
		slog.Default(), time.Second)

	// With the counter store down, every call is allowed and marked degraded
	for i := 0; i < 10; i++ {
		res := limiter.Consume(context.Background(), "alice", ClassMessageSend)
		req.True(res.Allowed)
		req.True(res.Degraded)
	}
}

func TestLimiter_Unknown_Class_Falls_Back_To_Generic(t *testing.T) {
	req := require.New(t)
	limiter := New(NewMemoryStore(), testBudgets(1, time.Minute, time.Second),
		slog.Default(), time.Second)

	req.True(limiter.Consume(context.Background(), "alice", Class("mystery")).Allowed)
	req.False(limiter.Consume(context.Background(), "alice", Class("mystery")).Allowed)
}

func TestMemoryStore_Sweep_Removes_Idle_Subjects_Only(t *testing.T) {
	req := require.New(t)
	store := NewMemoryStore()
	now := time.Now().UTC()

	// Given an old subject and a fresh one
	_, err := store.Slide(context.Background(), "stale", now.Add(-time.Hour), now.Add(-30*time.Minute), 0)
	req.NoError(err)
	_, err = store.Slide(context.Background(), "fresh", now.Add(-time.Minute), now, 0)
	req.NoError(err)
	req.Equal(2, store.Len())

	// When sweeping everything idle for more than 10 minutes
	removed := store.Sweep(now.Add(-10 * time.Minute))

	// Then only the stale subject is gone
	req.Equal(1, removed)
	req.Equal(1, store.Len())
}
