package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastPolicy keeps tests from sleeping.
func fastPolicy() Policy {
	return Policy{InitialMs: 1, MaxMs: 2, Factor: 1, Jitter: 0}
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	result, err := Retry(context.Background(), fastPolicy(), 3, func(attempt int) (int, error) {
		return attempt * 10, nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if result.Value != 10 {
		t.Errorf("Value = %d, want 10", result.Value)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
}

func TestRetryRecoversAfterFailures(t *testing.T) {
	failUntil := 3
	result, err := Retry(context.Background(), fastPolicy(), 5, func(attempt int) (string, error) {
		if attempt < failUntil {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if result.Value != "ok" {
		t.Errorf("Value = %q, want %q", result.Value, "ok")
	}
	if result.Attempts != failUntil {
		t.Errorf("Attempts = %d, want %d", result.Attempts, failUntil)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("still broken")
	result, err := Retry(context.Background(), fastPolicy(), 3, func(int) (struct{}, error) {
		return struct{}{}, wantErr
	})
	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Fatalf("Retry() error = %v, want ErrMaxAttemptsExhausted", err)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
	if !errors.Is(result.LastError, wantErr) {
		t.Errorf("LastError = %v, want %v", result.LastError, wantErr)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), fastPolicy(), 3, func(int) (int, error) {
		calls++
		return 0, Permanent(errors.New("bad request"))
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !IsPermanent(err) {
		t.Errorf("Retry() error = %v, want permanent", err)
	}
	if result.Attempts != 1 || result.LastError == nil {
		t.Errorf("result = %+v", result)
	}
}

func TestPermanentClassification(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) != nil")
	}
	if IsPermanent(errors.New("plain")) {
		t.Error("plain error classified as permanent")
	}
	wrapped := Permanent(errors.New("rejected"))
	if !IsPermanent(errors.Join(errors.New("outer"), wrapped)) {
		t.Error("wrapped permanent error not detected")
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, Policy{InitialMs: 50, MaxMs: 50, Factor: 1, Jitter: 0}, 10,
		func(int) (struct{}, error) {
			calls++
			cancel()
			return struct{}{}, errors.New("fail")
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestSleepWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepWithContext(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("SleepWithContext() error = %v, want context.Canceled", err)
	}
}

func TestSleepWithContextZeroDuration(t *testing.T) {
	if err := SleepWithContext(context.Background(), 0); err != nil {
		t.Fatalf("SleepWithContext() error = %v", err)
	}
}
