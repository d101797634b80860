package util

import (
	"context"
	"errors"
	"log/slog"
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

func TestRateLimiterFirstCallDoesNotBlock(t *testing.T) {
	rl := NewRateLimiter(60)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait blocked: %v", err)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	ctx := context.Background()
	if l := NewLogger("debug", "json"); !l.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug logger should enable debug records")
	}
	if l := NewLogger("bogus", "text"); l.Enabled(ctx, slog.LevelDebug) {
		t.Error("unknown level should default to info")
	}
	if l := NewLogger("warn", ""); l.Enabled(ctx, slog.LevelInfo) {
		t.Error("warn logger should suppress info records")
	}
}

func TestTradingCalendarHours(t *testing.T) {
	cal := NewTradingCalendar()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}

	// Wednesday 2024-01-10.
	open := time.Date(2024, 1, 10, 10, 0, 0, 0, ny)
	if !cal.IsMarketOpen(open) {
		t.Error("market should be open Wednesday 10:00 ET")
	}
	early := time.Date(2024, 1, 10, 9, 15, 0, 0, ny)
	if cal.IsMarketOpen(early) {
		t.Error("market should be closed before 9:30 ET")
	}
	late := time.Date(2024, 1, 10, 16, 30, 0, 0, ny)
	if cal.IsMarketOpen(late) {
		t.Error("market should be closed after 16:00 ET")
	}
	saturday := time.Date(2024, 1, 13, 11, 0, 0, 0, ny)
	if cal.IsMarketOpen(saturday) {
		t.Error("market should be closed on Saturday")
	}
	if cal.IsTradingDay(saturday) {
		t.Error("Saturday is not a trading day")
	}
}

func TestLatestCompleteTradingDay(t *testing.T) {
	cal := NewTradingCalendar()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}

	cases := []struct {
		name string
		now  time.Time
		want string
	}{
		{"weekday after close", time.Date(2024, 1, 10, 17, 0, 0, 0, ny), "2024-01-10"},
		{"weekday before close", time.Date(2024, 1, 10, 12, 0, 0, 0, ny), "2024-01-09"},
		{"monday morning", time.Date(2024, 1, 8, 8, 0, 0, 0, ny), "2024-01-05"},
		{"sunday", time.Date(2024, 1, 7, 12, 0, 0, 0, ny), "2024-01-05"},
	}
	for _, tc := range cases {
		got := cal.LatestCompleteTradingDay(tc.now).Format("2006-01-02")
		if got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}
