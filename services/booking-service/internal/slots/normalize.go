package slots

import "time"

// Normalize expands weekly recurring rules into concrete UTC intervals over
// the next horizonWeeks weeks, one interval per (rule, weekday, week offset).
//
// For each weekday a rule covers, the first occurrence on or after today is
// found (a weekday already passed this week rolls to next week), then each
// week offset adds seven days. The rule's local start/end clock times are
// combined with that date in the rule's timezone and converted to UTC.
//
// No rules produces no intervals, not an error.
func Normalize(rules []Rule, today time.Time, horizonWeeks int) ([]Interval, error) {
	if horizonWeeks <= 0 {
		horizonWeeks = DefaultConfig().HorizonWeeks
	}

	var out []Interval
	for _, rule := range rules {
		loc, err := time.LoadLocation(rule.Timezone)
		if err != nil {
			return nil, err
		}
		base := today.In(loc)
		for _, wd := range rule.Weekdays {
			delta := (wd - isoWeekday(base) + 7) % 7
			first := base.AddDate(0, 0, delta)
			for week := 0; week < horizonWeeks; week++ {
				date := first.AddDate(0, 0, 7*week)
				start := time.Date(date.Year(), date.Month(), date.Day(),
					rule.Start.Hour, rule.Start.Minute, 0, 0, loc)
				end := time.Date(date.Year(), date.Month(), date.Day(),
					rule.End.Hour, rule.End.Minute, 0, 0, loc)
				out = append(out, Interval{
					Start:   start.UTC(),
					End:     end.UTC(),
					Weekday: wd,
					Date:    date.Format("2006-01-02"),
				})
			}
		}
	}
	return out, nil
}
