package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"
)

func countAttempts(t *testing.T, p Policy) int {
	t.Helper()
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		return errors.New("boom")
	}, p.BackOff(context.Background()))
	if err == nil {
		t.Fatal("expected error from always-failing operation")
	}
	return attempts
}

func TestDefaultPolicyMakesThreeAttempts(t *testing.T) {
	if got := countAttempts(t, Default()); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestOncePolicyDoesNotRetry(t *testing.T) {
	if got := countAttempts(t, Once()); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestZeroMaxAttemptsMeansOne(t *testing.T) {
	p := Policy{}
	if p.Attempts() != 1 {
		t.Errorf("Attempts() = %d, want 1", p.Attempts())
	}
	if got := countAttempts(t, p); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestCustomBackOffIsCapped(t *testing.T) {
	p := Policy{
		MaxAttempts: 5,
		NewBackOff: func() backoff.BackOff {
			return &backoff.ZeroBackOff{}
		},
	}
	if got := countAttempts(t, p); got != 5 {
		t.Errorf("attempts = %d, want 5", got)
	}
}

func TestBackOffIsFreshPerCall(t *testing.T) {
	p := Default()
	for i := 0; i < 3; i++ {
		if got := countAttempts(t, p); got != 3 {
			t.Fatalf("call %d: attempts = %d, want 3", i, got)
		}
	}
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		return errors.New("boom")
	}, Default().BackOff(ctx))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
