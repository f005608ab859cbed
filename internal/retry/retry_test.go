package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"wheresmymoney/internal/core"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := Backoff(tt.attempt, time.Second, 30*time.Second); got != tt.expected {
				t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return core.TransientError("op", errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	perm := core.AuthorizationError("op", errors.New("revoked"))
	err := Do(context.Background(), fastPolicy(5), "op", func(ctx context.Context) error {
		calls++
		return perm
	})
	if !errors.Is(err, perm) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := DoValue(context.Background(), fastPolicy(2), "op", func(ctx context.Context) (int, error) {
		calls++
		return 0, core.TransientError("op", errors.New("down"))
	})
	if !core.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}
	err := Do(ctx, p, "op", func(ctx context.Context) error {
		cancel()
		return core.TransientError("op", errors.New("down"))
	})
	if !core.IsTransient(err) && !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestCallTimeoutIsTransient(t *testing.T) {
	p := Policy{MaxAttempts: 1, CallTimeout: 5 * time.Millisecond}
	err := Do(context.Background(), p, "op", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !core.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
}
