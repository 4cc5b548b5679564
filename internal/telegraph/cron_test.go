package telegraph

import (
	"testing"
	"time"
)

func TestNextCronDuration_ValidExpression(t *testing.T) {
	// "0 9 * * *" = daily at 09:00. Duration should be positive and < 24h.
	d := nextCronDuration("0 9 * * *")
	if d <= 0 {
		t.Fatalf("expected positive duration, got %v", d)
	}
	if d > 24*time.Hour {
		t.Fatalf("expected duration < 24h, got %v", d)
	}
}

func TestNextCronDuration_InvalidExpression(t *testing.T) {
	d := nextCronDuration("not a cron expr")
	if d != 0 {
		t.Fatalf("expected 0 for invalid expression, got %v", d)
	}
}

func TestNextCronDuration_EveryMinute(t *testing.T) {
	// "* * * * *" = every minute. Duration should be < 61s.
	d := nextCronDuration("* * * * *")
	if d <= 0 {
		t.Fatalf("expected positive duration, got %v", d)
	}
	if d > 61*time.Second {
		t.Fatalf("expected duration < 61s, got %v", d)
	}
}

func TestNewFlushCron(t *testing.T) {
	c, err := newFlushCron("*/5 * * * *", nil, func() {})
	if err != nil {
		t.Fatalf("newFlushCron: %v", err)
	}
	entries := c.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	at := time.Date(2026, 3, 10, 8, 31, 0, 0, time.UTC)
	if next := entries[0].Schedule.Next(at); !next.Equal(time.Date(2026, 3, 10, 8, 35, 0, 0, time.UTC)) {
		t.Errorf("next = %v", next)
	}

	if _, err := newFlushCron("@every banana", time.UTC, func() {}); err == nil {
		t.Error("expected error for bad schedule")
	}
}
