package slots

import (
	"testing"
	"time"
)

func utcInterval(t *testing.T, date string, startHHMM, endHHMM string, weekday int) Interval {
	t.Helper()
	start, err := time.Parse("2006-01-02 15:04", date+" "+startHHMM)
	if err != nil {
		t.Fatalf("bad start: %v", err)
	}
	end, err := time.Parse("2006-01-02 15:04", date+" "+endHHMM)
	if err != nil {
		t.Fatalf("bad end: %v", err)
	}
	return Interval{Start: start, End: end, Weekday: weekday, Date: date}
}

func TestMerge_DisjointSameDayStaySeparate(t *testing.T) {
	// Two Wednesday windows, 04:40-05:30 and 10:40-11:30, expanded from
	// Tuesday 2017-04-04: both land on 2017-04-05 and must not merge.
	in := []Interval{
		utcInterval(t, "2017-04-05", "10:40", "11:30", 3),
		utcInterval(t, "2017-04-05", "04:40", "05:30", 3),
	}
	out := Merge(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 merged intervals, got %d", len(out))
	}
	if !out[0].Start.Equal(in[1].Start) || !out[0].End.Equal(in[1].End) {
		t.Fatalf("expected first block 04:40-05:30, got %s-%s", out[0].Start, out[0].End)
	}
	if !out[1].Start.Equal(in[0].Start) || !out[1].End.Equal(in[0].End) {
		t.Fatalf("expected second block 10:40-11:30, got %s-%s", out[1].Start, out[1].End)
	}
}

func TestMerge_OverlapExtendsEnd(t *testing.T) {
	in := []Interval{
		utcInterval(t, "2017-04-05", "10:00", "11:00", 3),
		utcInterval(t, "2017-04-05", "10:30", "12:00", 3),
	}
	out := Merge(in)
	if len(out) != 1 {
		t.Fatalf("expected 1 merged interval, got %d", len(out))
	}
	if !out[0].Start.Equal(in[0].Start) || !out[0].End.Equal(in[1].End) {
		t.Fatalf("expected 10:00-12:00, got %s-%s", out[0].Start, out[0].End)
	}
}

func TestMerge_ContainedIntervalIsAbsorbed(t *testing.T) {
	// The contained successor must not disturb the surviving block's start
	// or end.
	in := []Interval{
		utcInterval(t, "2017-04-05", "10:00", "13:00", 3),
		utcInterval(t, "2017-04-05", "11:00", "12:00", 3),
	}
	out := Merge(in)
	if len(out) != 1 {
		t.Fatalf("expected 1 merged interval, got %d", len(out))
	}
	if !out[0].Start.Equal(in[0].Start) || !out[0].End.Equal(in[0].End) {
		t.Fatalf("expected 10:00-13:00, got %s-%s", out[0].Start, out[0].End)
	}
}

func TestMerge_TouchingBlocksMerge(t *testing.T) {
	in := []Interval{
		utcInterval(t, "2017-04-05", "10:00", "11:00", 3),
		utcInterval(t, "2017-04-05", "11:00", "12:00", 3),
	}
	out := Merge(in)
	if len(out) != 1 {
		t.Fatalf("expected touching blocks to merge, got %d", len(out))
	}
}

func TestMerge_DifferentWeekdaysNeverMerge(t *testing.T) {
	// Same absolute times can belong to different local calendar days.
	a := utcInterval(t, "2017-04-05", "23:00", "23:59", 3)
	b := utcInterval(t, "2017-04-06", "23:30", "23:59", 4)
	b.Start = a.End.Add(-10 * time.Minute) // overlap in absolute time
	out := Merge([]Interval{a, b})
	if len(out) != 2 {
		t.Fatalf("expected intervals on different weekdays to stay separate, got %d", len(out))
	}
}

func TestMerge_Idempotent(t *testing.T) {
	in := []Interval{
		utcInterval(t, "2017-04-05", "10:00", "11:00", 3),
		utcInterval(t, "2017-04-05", "10:30", "12:00", 3),
		utcInterval(t, "2017-04-05", "14:00", "15:00", 3),
		utcInterval(t, "2017-04-12", "10:00", "11:00", 3),
	}
	once := Merge(in)
	twice := Merge(once)
	if len(once) != len(twice) {
		t.Fatalf("merge not idempotent: %d then %d intervals", len(once), len(twice))
	}
	for i := range once {
		if !once[i].Start.Equal(twice[i].Start) || !once[i].End.Equal(twice[i].End) {
			t.Fatalf("merge not idempotent at %d: %v vs %v", i, once[i], twice[i])
		}
	}
}

func TestMerge_Empty(t *testing.T) {
	if out := Merge(nil); len(out) != 0 {
		t.Fatalf("expected empty output, got %d", len(out))
	}
}
