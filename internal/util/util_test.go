package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRateLimiterNew(t *testing.T) {
	rl := NewRateLimiter(60)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait should not block or fail: %v", err)
	}
}

func TestTradingDayHelpers(t *testing.T) {
	fri := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)
	sat := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	mon := time.Date(2024, 6, 17, 0, 0, 0, 0, time.UTC)

	if !IsTradingDay(fri) {
		t.Error("Friday should be a trading day")
	}
	if IsTradingDay(sat) {
		t.Error("Saturday should not be a trading day")
	}

	if got := NextTradingDay(sat); !got.Equal(mon) {
		t.Errorf("NextTradingDay(Sat) = %s, want Monday", got.Format("2006-01-02"))
	}
	if got := NextTradingDay(fri); !got.Equal(fri) {
		t.Errorf("NextTradingDay(Fri) should be identity, got %s", got.Format("2006-01-02"))
	}

	// Friday + 1 trading day skips the weekend.
	if got := AddTradingDays(fri, 1); !got.Equal(mon) {
		t.Errorf("AddTradingDays(Fri, 1) = %s, want Monday", got.Format("2006-01-02"))
	}

	days := TradingDays(fri, mon)
	if len(days) != 2 {
		t.Fatalf("TradingDays(Fri..Mon) returned %d days, want 2", len(days))
	}
	if !days[0].Equal(fri) || !days[1].Equal(mon) {
		t.Error("TradingDays should contain exactly Friday and Monday")
	}
}
