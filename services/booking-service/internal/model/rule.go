package model

import "time"

// AvailabilityRule is one weekly recurring availability window offered by an
// expert. Times are minutes-precision local clock strings (HH:MM) in the
// rule's timezone.
type AvailabilityRule struct {
	ID        string
	ExpertID  string
	StartTime string
	EndTime   string
	Weekdays  []int // ISO ordinals, 1=Monday..7=Sunday
	Timezone  string
	CreatedAt time.Time
}
