package slots

import (
	"testing"
	"time"
)

func TestNormalize_NextWeekdayOnOrAfterToday(t *testing.T) {
	// Tuesday 2017-04-04; rule covers Wednesdays.
	today := time.Date(2017, 4, 4, 0, 0, 0, 0, time.UTC)
	rules := []Rule{{
		Start:    ClockTime{Hour: 4, Minute: 40},
		End:      ClockTime{Hour: 5, Minute: 30},
		Weekdays: []int{3},
		Timezone: "UTC",
	}}

	intervals, err := Normalize(rules, today, 2)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(intervals) != 2 {
		t.Fatalf("expected 2 intervals over a 2-week horizon, got %d", len(intervals))
	}

	first := intervals[0]
	want := time.Date(2017, 4, 5, 4, 40, 0, 0, time.UTC)
	if !first.Start.Equal(want) {
		t.Fatalf("expected first occurrence %s, got %s", want, first.Start)
	}
	if first.Date != "2017-04-05" {
		t.Fatalf("expected local date 2017-04-05, got %s", first.Date)
	}
	if first.Weekday != 3 {
		t.Fatalf("expected weekday 3, got %d", first.Weekday)
	}
	if !intervals[1].Start.Equal(want.AddDate(0, 0, 7)) {
		t.Fatalf("expected second occurrence one week later, got %s", intervals[1].Start)
	}
}

func TestNormalize_WeekdayAlreadyPassedRollsForward(t *testing.T) {
	// Thursday; a Wednesday rule must land on the following Wednesday.
	today := time.Date(2017, 4, 6, 0, 0, 0, 0, time.UTC)
	rules := []Rule{{
		Start:    ClockTime{Hour: 10, Minute: 0},
		End:      ClockTime{Hour: 11, Minute: 0},
		Weekdays: []int{3},
		Timezone: "UTC",
	}}

	intervals, err := Normalize(rules, today, 1)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(intervals) != 1 {
		t.Fatalf("expected 1 interval, got %d", len(intervals))
	}
	want := time.Date(2017, 4, 12, 10, 0, 0, 0, time.UTC)
	if !intervals[0].Start.Equal(want) {
		t.Fatalf("expected %s, got %s", want, intervals[0].Start)
	}
}

func TestNormalize_TimezoneConversion(t *testing.T) {
	today := time.Date(2017, 4, 4, 0, 0, 0, 0, time.UTC)
	rules := []Rule{{
		Start:    ClockTime{Hour: 9, Minute: 0},
		End:      ClockTime{Hour: 10, Minute: 0},
		Weekdays: []int{3},
		Timezone: "Asia/Kolkata", // UTC+05:30, no DST
	}}

	intervals, err := Normalize(rules, today, 1)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	want := time.Date(2017, 4, 5, 3, 30, 0, 0, time.UTC)
	if !intervals[0].Start.Equal(want) {
		t.Fatalf("expected 09:00 IST = %s UTC, got %s", want, intervals[0].Start)
	}
	if intervals[0].Date != "2017-04-05" {
		t.Fatalf("expected local date tag 2017-04-05, got %s", intervals[0].Date)
	}
}

func TestNormalize_NoRules(t *testing.T) {
	intervals, err := Normalize(nil, time.Now(), 2)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(intervals) != 0 {
		t.Fatalf("expected empty output for no rules, got %d intervals", len(intervals))
	}
}

func TestRuleValidate(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		name string
		rule Rule
		ok   bool
	}{
		{
			name: "valid",
			rule: Rule{Start: ClockTime{10, 0}, End: ClockTime{11, 0}, Weekdays: []int{1, 3}, Timezone: "UTC"},
			ok:   true,
		},
		{
			name: "start after end",
			rule: Rule{Start: ClockTime{11, 0}, End: ClockTime{10, 0}, Weekdays: []int{1}, Timezone: "UTC"},
		},
		{
			name: "window under minimum gap",
			rule: Rule{Start: ClockTime{10, 0}, End: ClockTime{10, 15}, Weekdays: []int{1}, Timezone: "UTC"},
		},
		{
			name: "unaligned minutes",
			rule: Rule{Start: ClockTime{10, 2}, End: ClockTime{11, 0}, Weekdays: []int{1}, Timezone: "UTC"},
		},
		{
			name: "weekday out of range",
			rule: Rule{Start: ClockTime{10, 0}, End: ClockTime{11, 0}, Weekdays: []int{8}, Timezone: "UTC"},
		},
		{
			name: "bad timezone",
			rule: Rule{Start: ClockTime{10, 0}, End: ClockTime{11, 0}, Weekdays: []int{1}, Timezone: "Mars/Olympus"},
		},
	}
	for _, tc := range cases {
		err := tc.rule.Validate(cfg)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
