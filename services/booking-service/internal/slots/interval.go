package slots

import (
	"fmt"
	"time"
)

// Interval is a concrete half-open [Start, End) span in UTC, tagged with the
// ISO weekday (1=Monday..7=Sunday) and local calendar date it was expanded from.
// Intervals are computed on demand and never persisted.
type Interval struct {
	Start   time.Time
	End     time.Time
	Weekday int
	Date    string // local YYYY-MM-DD
}

func (iv Interval) Span() time.Duration {
	return iv.End.Sub(iv.Start)
}

// ClockTime is a minutes-precision time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c ClockTime) MinutesFromMidnight() int {
	return c.Hour*60 + c.Minute
}

func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Rule is one weekly recurring availability window offered by an expert.
type Rule struct {
	Start    ClockTime
	End      ClockTime
	Weekdays []int // ISO ordinals, 1=Monday..7=Sunday
	Timezone string
}

// Config carries the engine tunables.
type Config struct {
	MinGap       time.Duration // minimum usable free-block remainder
	Granularity  int           // rule times must align to this many minutes
	HorizonWeeks int           // how far ahead rules are expanded
}

func DefaultConfig() Config {
	return Config{
		MinGap:       20 * time.Minute,
		Granularity:  5,
		HorizonWeeks: 2,
	}
}

// Validate checks the rule invariants: start before end, at least MinGap
// between them, both aligned to the configured minute granularity, weekday
// ordinals in 1..7, and a resolvable IANA timezone.
func (r Rule) Validate(cfg Config) error {
	start := r.Start.MinutesFromMidnight()
	end := r.End.MinutesFromMidnight()
	if start >= end {
		return fmt.Errorf("start %s must be before end %s", r.Start, r.End)
	}
	if time.Duration(end-start)*time.Minute < cfg.MinGap {
		return fmt.Errorf("window %s-%s is shorter than the %s minimum", r.Start, r.End, cfg.MinGap)
	}
	if cfg.Granularity > 0 {
		if start%cfg.Granularity != 0 || end%cfg.Granularity != 0 {
			return fmt.Errorf("times must align to %d-minute boundaries", cfg.Granularity)
		}
	}
	if len(r.Weekdays) == 0 {
		return fmt.Errorf("at least one weekday is required")
	}
	for _, wd := range r.Weekdays {
		if wd < 1 || wd > 7 {
			return fmt.Errorf("weekday ordinal %d out of range 1..7", wd)
		}
	}
	if _, err := time.LoadLocation(r.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", r.Timezone, err)
	}
	return nil
}

// isoWeekday maps time.Weekday (Sunday=0) onto ISO ordinals (Monday=1..Sunday=7).
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
