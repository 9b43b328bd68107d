package slots

import "time"

// Subtract removes each booked interval from the merged free blocks. Both
// inputs must be sorted by start. A booking strictly inside a block splits it
// when at least minGap remains on both sides; a booking touching one edge
// shrinks the block from that side; a booking that consumes the block, or one
// that leaves less than minGap on both sides, drops the block entirely.
// Remaining blocks keep processing order.
func Subtract(free, booked []Interval, minGap time.Duration) []Interval {
	remaining := make([]Interval, len(free))
	copy(remaining, free)

	idx := 0
	for _, b := range booked {
		// Blocks ending before this booking starts are untouched by it and
		// by every later booking.
		for idx < len(remaining) && b.Start.After(remaining[idx].End) {
			idx++
		}
		if idx >= len(remaining) {
			break
		}
		cur := remaining[idx]
		if b.Start.Before(cur.Start) {
			continue
		}

		startGap := b.Start.Sub(cur.Start)
		endGap := cur.End.Sub(b.End)
		switch {
		case startGap >= minGap && endGap >= minGap:
			left := cur
			left.End = b.Start
			right := cur
			right.Start = b.End
			remaining[idx] = left
			remaining = append(remaining, Interval{})
			copy(remaining[idx+2:], remaining[idx+1:])
			remaining[idx+1] = right
		case startGap >= minGap:
			cur.End = b.Start
			remaining[idx] = cur
		case endGap >= minGap:
			cur.Start = b.End
			remaining[idx] = cur
		default:
			// Covers exact consumption and the case where both remainders are
			// under minGap: too short to book, so the whole block goes.
			remaining = append(remaining[:idx], remaining[idx+1:]...)
		}
	}
	return remaining
}
