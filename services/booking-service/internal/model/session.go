package model

import "time"

// CallStatus is the lifecycle state of a consultation session.
type CallStatus string

const (
	CallScheduled CallStatus = "scheduled" // future-dated booking, call not started
	CallInitiated CallStatus = "initiated" // user is calling the expert
	CallAccepted  CallStatus = "accepted"  // expert picked up, media session live
	CallDeclined  CallStatus = "declined"
	CallDelayed   CallStatus = "delayed"
	CallCompleted CallStatus = "completed"
)

// Terminal reports whether no further transition is allowed from s.
func (s CallStatus) Terminal() bool {
	return s == CallDeclined || s == CallCompleted
}

// Session is a confirmed or in-progress consultation call, scheduled or
// instant. Deletion is always the soft flag, never a row removal; a
// soft-deleted session must not block future slot computation.
type Session struct {
	ID       string
	ExpertID string
	UserID   string

	ScheduledAt      time.Time // UTC
	ScheduledMinutes int
	ExtendedSeconds  int // extension credit granted so far

	Status  CallStatus
	Deleted bool

	StartedAt *time.Time
	EndedAt   *time.Time

	// CallSeconds is the measured media-session length reported by the video
	// provider (or by the disconnecting client when the provider reports zero).
	CallSeconds int

	EstimatedRevenueCents int64 // price quoted at scheduling time
	RevenueCents          int64

	VideoSessionID string
	PromoCode      string
	TransactionID  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScheduledEnd is the moment the booked window elapses, extensions excluded.
func (s *Session) ScheduledEnd() time.Time {
	return s.ScheduledAt.Add(time.Duration(s.ScheduledMinutes) * time.Minute)
}
