package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), DefaultRetryPolicy(), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want ok", result)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryRetriesRetryableErrors(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2.0}
	calls := 0
	result, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &ServerError{BackendError: BackendError{
				ClientError: ClientError{Message: "server exploded"},
				Retryable:   true,
			}}
		}
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "recovered" {
		t.Errorf("result = %q, want recovered", result)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2.0}
	calls := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		return "", &AuthenticationError{BackendError: BackendError{
			ClientError: ClientError{Message: "bad key"},
		}}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries for auth errors)", calls)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2.0}
	calls := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		return "", &ServerError{BackendError: BackendError{
			ClientError: ClientError{Message: "still down"},
			Retryable:   true,
		}}
	})
	if err == nil {
		t.Fatal("expected error after budget exhaustion")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", calls)
	}
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	after := 0.005
	policy := RetryPolicy{MaxRetries: 1, BaseDelay: 10 * time.Second, MaxDelay: time.Minute, Multiplier: 2.0}
	calls := 0
	start := time.Now()
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &RateLimitError{BackendError: BackendError{
				ClientError: ClientError{Message: "slow down"},
				Retryable:   true,
				RetryAfter:  &after,
			}}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Retry-After overrides the 10s base delay.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("retry took %v, Retry-After was not honored", elapsed)
	}
}

func TestRetryRetryAfterExceedsMaxDelay(t *testing.T) {
	after := 120.0
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Minute, Multiplier: 2.0}
	calls := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		return "", &RateLimitError{BackendError: BackendError{
			ClientError: ClientError{Message: "slow down"},
			Retryable:   true,
			RetryAfter:  &after,
		}}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (excessive Retry-After raises immediately)", calls)
	}
}

func TestRetryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := RetryPolicy{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2.0}
	_, err := Retry(ctx, policy, func(ctx context.Context) (string, error) {
		return "", &ServerError{BackendError: BackendError{
			ClientError: ClientError{Message: "down"},
			Retryable:   true,
		}}
	})
	var abort *AbortError
	if !errors.As(err, &abort) {
		t.Fatalf("error = %v, want AbortError", err)
	}
}

func TestDelayGrowsExponentially(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2.0}
	d0 := policy.Delay(0)
	d2 := policy.Delay(2)
	if d0 != time.Second {
		t.Errorf("Delay(0) = %v, want 1s", d0)
	}
	if d2 != 4*time.Second {
		t.Errorf("Delay(2) = %v, want 4s", d2)
	}
}

func TestDelayCapsAtMax(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2.0}
	if d := policy.Delay(10); d != 5*time.Second {
		t.Errorf("Delay(10) = %v, want 5s cap", d)
	}
}
