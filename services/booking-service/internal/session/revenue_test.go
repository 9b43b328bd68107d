package session

import (
	"testing"
	"time"
)

func TestRevenue_ShortCallEarnsNothing(t *testing.T) {
	cfg := DefaultConfig()
	if got := Revenue(300, 20, 0, 2800, 1500, cfg); got != 0 {
		t.Fatalf("a call at the minimum length must earn 0, got %d", got)
	}
	if got := Revenue(299, 20, 0, 2800, 1500, cfg); got != 0 {
		t.Fatalf("a call under the minimum length must earn 0, got %d", got)
	}
}

func TestRevenue_WithinScheduledWindow(t *testing.T) {
	cfg := DefaultConfig()
	if got := Revenue(1100, 20, 0, 2800, 1500, cfg); got != 2800 {
		t.Fatalf("expected the pre-quoted price 2800, got %d", got)
	}
	if got := Revenue(1200, 20, 600, 2800, 1500, cfg); got != 2800 {
		t.Fatalf("a call ending exactly at the window earns the quote, got %d", got)
	}
}

func TestRevenue_ExtensionsAddPerQuantumPrice(t *testing.T) {
	cfg := DefaultConfig()
	// 20-minute call that ran 35 minutes with two quanta granted.
	if got := Revenue(2100, 20, 1200, 2800, 1500, cfg); got != 2800+2*1500 {
		t.Fatalf("expected 5800, got %d", got)
	}
}

func TestRevenue_MonotonicInExtendedDuration(t *testing.T) {
	cfg := DefaultConfig()
	prev := int64(-1)
	for extended := 0; extended <= 3600; extended += 300 {
		got := Revenue(2400, 20, extended, 2800, 1500, cfg)
		if got < prev {
			t.Fatalf("revenue decreased from %d to %d at extended=%d", prev, got, extended)
		}
		prev = got
	}
}

func TestFixExtendedDuration(t *testing.T) {
	quantum := 10 * time.Minute

	// Two quanta granted, barely over one consumed: refund one.
	if got := FixExtendedDuration(1200, 1600, 20, quantum); got != 600 {
		t.Fatalf("expected 600, got %d", got)
	}
	// Credit fully consumed: untouched.
	if got := FixExtendedDuration(600, 1800, 20, quantum); got != 600 {
		t.Fatalf("expected 600, got %d", got)
	}
	// Difference exactly one quantum: not refunded (strict inequality).
	if got := FixExtendedDuration(600, 1200, 20, quantum); got != 600 {
		t.Fatalf("expected 600, got %d", got)
	}
	// No extensions granted: nothing to correct.
	if got := FixExtendedDuration(0, 900, 20, quantum); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
