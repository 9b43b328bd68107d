package slots

import "sort"

// Merge collapses overlapping or touching intervals on the same calendar day
// into maximal free blocks, returned sorted by (start, weekday).
//
// Two intervals merge when the successor starts no later than the current
// block ends and both fall on the same weekday. A successor wholly contained
// in the current block is absorbed; otherwise only the end is extended, so
// the earlier start always survives. Merging an already-merged list is a
// no-op.
func Merge(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}

	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return sorted[i].Weekday < sorted[j].Weekday
	})

	out := make([]Interval, 0, len(sorted))
	out = append(out, sorted[0])
	for _, next := range sorted[1:] {
		cur := &out[len(out)-1]
		if next.Weekday == cur.Weekday && !next.Start.After(cur.End) {
			if next.End.After(cur.End) {
				cur.End = next.End
			}
			continue
		}
		out = append(out, next)
	}
	return out
}
