package slots

import (
	"sort"
	"time"
)

// Combine flattens the per-duration, per-date slice buckets into one
// ascending sequence of concrete local start datetimes for display. When
// onlyThroughTomorrow is set, only starts falling on today's or tomorrow's
// date survive. Identical starts coming from different duration buckets are
// kept as-is, one entry per bucket.
func Combine(buckets map[int]DaySlices, loc *time.Location, today time.Time, onlyThroughTomorrow bool) []time.Time {
	if loc == nil {
		loc = time.UTC
	}
	todayStr := today.In(loc).Format("2006-01-02")
	tomorrowStr := today.In(loc).AddDate(0, 0, 1).Format("2006-01-02")

	var out []time.Time
	for _, days := range buckets {
		for date, starts := range days {
			if onlyThroughTomorrow && date != todayStr && date != tomorrowStr {
				continue
			}
			for _, hhmm := range starts {
				t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+hhmm, loc)
				if err != nil {
					continue
				}
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
