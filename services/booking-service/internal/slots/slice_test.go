package slots

import (
	"testing"
	"time"
)

func TestSlice_ThirtyMinuteSlices(t *testing.T) {
	// Free 11:00-12:00 at duration 30 with now before the block: slices at
	// 11:00 and 11:30.
	free := []Interval{utcInterval(t, "2017-04-05", "11:00", "12:00", 3)}
	now := time.Date(2017, 4, 5, 9, 0, 0, 0, time.UTC)

	out := Slice(free, 30, time.UTC, now)
	starts := out["2017-04-05"]
	if len(starts) != 2 {
		t.Fatalf("expected 2 slices, got %v", starts)
	}
	if starts[0] != "11:00" || starts[1] != "11:30" {
		t.Fatalf("expected [11:00 11:30], got %v", starts)
	}
}

func TestSlice_SkipsBlocksShorterThanDuration(t *testing.T) {
	free := []Interval{utcInterval(t, "2017-04-05", "11:00", "11:20", 3)}
	now := time.Date(2017, 4, 5, 9, 0, 0, 0, time.UTC)

	out := Slice(free, 30, time.UTC, now)
	if len(out) != 0 {
		t.Fatalf("expected no slices from a 20-minute block, got %v", out)
	}
}

func TestSlice_SkipsBlocksEntirelyInThePast(t *testing.T) {
	free := []Interval{utcInterval(t, "2017-04-05", "08:00", "09:00", 3)}
	now := time.Date(2017, 4, 5, 10, 0, 0, 0, time.UTC)

	out := Slice(free, 30, time.UTC, now)
	if len(out) != 0 {
		t.Fatalf("expected no slices from a past block, got %v", out)
	}
}

func TestSlice_ClampsStraddlingStartToNow(t *testing.T) {
	// Block 10:00-12:00, now 10:40: start clamps to 10:40 and rounds forward
	// to 11:00 for a 30-minute duration.
	free := []Interval{utcInterval(t, "2017-04-05", "10:00", "12:00", 3)}
	now := time.Date(2017, 4, 5, 10, 40, 0, 0, time.UTC)

	out := Slice(free, 30, time.UTC, now)
	starts := out["2017-04-05"]
	if len(starts) != 2 || starts[0] != "11:00" || starts[1] != "11:30" {
		t.Fatalf("expected [11:00 11:30], got %v", starts)
	}
}

func TestSlice_RoundsUnalignedStartForward(t *testing.T) {
	// 10:40 % 20 == 0 at duration 20; at duration 30 it rounds to 11:00.
	free := []Interval{utcInterval(t, "2017-04-05", "10:40", "12:30", 3)}
	now := time.Date(2017, 4, 5, 9, 0, 0, 0, time.UTC)

	twenty := Slice(free, 20, time.UTC, now)["2017-04-05"]
	if len(twenty) == 0 || twenty[0] != "10:40" {
		t.Fatalf("expected 20-minute slices to start at 10:40, got %v", twenty)
	}
	thirty := Slice(free, 30, time.UTC, now)["2017-04-05"]
	if len(thirty) == 0 || thirty[0] != "11:00" {
		t.Fatalf("expected 30-minute slices to start at 11:00, got %v", thirty)
	}
}

func TestSlice_AlignmentInvariant(t *testing.T) {
	free := []Interval{
		utcInterval(t, "2017-04-05", "09:10", "12:30", 3),
		utcInterval(t, "2017-04-05", "14:05", "18:00", 3),
	}
	now := time.Date(2017, 4, 5, 0, 0, 0, 0, time.UTC)

	for _, duration := range []int{10, 20, 30, 60} {
		for date, starts := range Slice(free, duration, time.UTC, now) {
			for _, hhmm := range starts {
				parsed, err := time.Parse("15:04", hhmm)
				if err != nil {
					t.Fatalf("bad slice time %q: %v", hhmm, err)
				}
				if parsed.Minute()%duration != 0 {
					t.Fatalf("slice %s %s not aligned to %d minutes", date, hhmm, duration)
				}
			}
		}
	}
}

func TestSlice_DisplayTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	// 11:00-12:00 UTC is 16:30-17:30 IST.
	free := []Interval{utcInterval(t, "2017-04-05", "11:00", "12:00", 3)}
	now := time.Date(2017, 4, 5, 9, 0, 0, 0, time.UTC)

	out := Slice(free, 30, loc, now)
	starts := out["2017-04-05"]
	if len(starts) != 2 || starts[0] != "16:30" || starts[1] != "17:00" {
		t.Fatalf("expected [16:30 17:00] in IST, got %v", starts)
	}
}

func TestSliceAll_IndependentDurations(t *testing.T) {
	free := []Interval{utcInterval(t, "2017-04-05", "11:00", "12:00", 3)}
	now := time.Date(2017, 4, 5, 9, 0, 0, 0, time.UTC)

	out := SliceAll(free, []int{10, 20, 30, 60}, time.UTC, now)
	if len(out[10]["2017-04-05"]) != 6 {
		t.Fatalf("expected 6 ten-minute slices, got %v", out[10]["2017-04-05"])
	}
	if len(out[60]["2017-04-05"]) != 1 {
		t.Fatalf("expected 1 sixty-minute slice, got %v", out[60]["2017-04-05"])
	}
}
