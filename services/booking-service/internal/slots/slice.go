package slots

import "time"

// DaySlices maps a local calendar date (YYYY-MM-DD) to the ordered slice
// start times (HH:MM) emitted for that date.
type DaySlices map[string][]string

// Slice cuts the free blocks into bookable starts of one fixed duration,
// rendered in loc (UTC when nil).
//
// A block shorter than the duration, or entirely in the past, emits nothing.
// A block straddling now has its start clamped to now. The (possibly clamped)
// start is rounded forward to the next multiple of the duration within the
// hour, then starts are emitted every duration while a full slice still fits
// before the block's end.
func Slice(intervals []Interval, durationMinutes int, loc *time.Location, now time.Time) DaySlices {
	if durationMinutes <= 0 {
		return DaySlices{}
	}
	if loc == nil {
		loc = time.UTC
	}
	d := time.Duration(durationMinutes) * time.Minute
	nowLocal := now.In(loc)

	out := DaySlices{}
	for _, iv := range intervals {
		if iv.Span() < d {
			continue
		}
		end := iv.End.In(loc)
		if !end.After(nowLocal) {
			continue
		}
		start := iv.Start.In(loc)
		if start.Before(nowLocal) {
			start = nowLocal
		}
		start = ceilToMinute(start)
		if rem := start.Minute() % durationMinutes; rem != 0 {
			start = start.Add(time.Duration(durationMinutes-rem) * time.Minute)
		}
		for cursor := start; !cursor.Add(d).After(end); cursor = cursor.Add(d) {
			date := cursor.Format("2006-01-02")
			out[date] = append(out[date], cursor.Format("15:04"))
		}
	}
	return out
}

// SliceAll runs Slice once per supported duration, each invocation independent.
func SliceAll(intervals []Interval, durations []int, loc *time.Location, now time.Time) map[int]DaySlices {
	out := make(map[int]DaySlices, len(durations))
	for _, d := range durations {
		out[d] = Slice(intervals, d, loc, now)
	}
	return out
}

func ceilToMinute(t time.Time) time.Time {
	truncated := t.Truncate(time.Minute)
	if truncated.Equal(t) {
		return t
	}
	return truncated.Add(time.Minute)
}
