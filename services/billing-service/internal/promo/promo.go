package promo

import (
	"errors"
	"fmt"
	"time"
)

type Type string

const (
	TypePromo  Type = "PROMO"
	TypeCredit Type = "CREDIT" // a consumable balance spent across bookings
)

type ValueType string

const (
	ValuePercent ValueType = "PERCENT"
	ValueFixed   ValueType = "FIXED"
)

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Code is a promotional discount code. Value is a percentage for PERCENT
// codes and cents otherwise; for CREDIT codes it doubles as the total
// spendable balance.
type Code struct {
	ID   string
	Code string

	Type      Type
	ValueType ValueType
	Value     int64

	// Nil bounds mean unbounded on that side.
	StartAt   *time.Time
	ExpiresAt *time.Time

	UsageLimit     int
	UserUsageLimit int

	// Empty allow-lists mean unrestricted.
	AllowedExperts []string
	AllowedUsers   []string

	Status  Status
	Deleted bool
}

// Usage aggregates the UNSETTLED and SETTLED transactions that reference a
// code at validation time.
type Usage struct {
	Count       int
	AmountCents int64
}

// ErrInvalid is the root of every validation rejection; callers match it
// with errors.Is and surface the wrapped reason.
var ErrInvalid = errors.New("invalid promo code")

// Validate checks whether the code applies to a booking of the given expert
// and user at scheduleAt. Usage limits compare against the overall
// transaction count; the per-user limit is not attributed to the requesting
// user.
func Validate(c Code, expertID, userID string, scheduleAt time.Time, usage Usage) error {
	if c.Deleted || c.Status != StatusActive {
		return fmt.Errorf("%w: code is inactive", ErrInvalid)
	}
	if c.StartAt != nil && scheduleAt.Before(*c.StartAt) {
		return fmt.Errorf("%w: not yet valid", ErrInvalid)
	}
	if c.ExpiresAt != nil && scheduleAt.After(*c.ExpiresAt) {
		return fmt.Errorf("%w: expired", ErrInvalid)
	}
	if len(c.AllowedExperts) > 0 && !contains(c.AllowedExperts, expertID) {
		return fmt.Errorf("%w: not valid for this expert", ErrInvalid)
	}
	if len(c.AllowedUsers) > 0 && !contains(c.AllowedUsers, userID) {
		return fmt.Errorf("%w: not valid for this user", ErrInvalid)
	}
	if c.UsageLimit > 0 && usage.Count >= c.UsageLimit {
		return fmt.Errorf("%w: usage limit reached", ErrInvalid)
	}
	if c.UserUsageLimit > 0 && usage.Count >= c.UserUsageLimit {
		return fmt.Errorf("%w: user usage limit reached", ErrInvalid)
	}
	if c.Type == TypeCredit && usage.AmountCents >= c.Value {
		return fmt.Errorf("%w: credit balance exhausted", ErrInvalid)
	}
	return nil
}

// Discount computes the discount in cents for a session priced at
// priceCents. CREDIT codes are capped at their remaining balance, and no
// discount ever exceeds the price itself.
func Discount(c Code, priceCents, usedAmountCents int64) int64 {
	var d int64
	switch c.ValueType {
	case ValuePercent:
		d = roundPercent(priceCents, c.Value)
	default:
		d = c.Value
	}
	if c.Type == TypeCredit {
		remaining := c.Value - usedAmountCents
		if remaining < 0 {
			remaining = 0
		}
		if d > remaining {
			d = remaining
		}
	}
	if d > priceCents {
		d = priceCents
	}
	if d < 0 {
		d = 0
	}
	return d
}

// PreAuthAmount is the hold placed on the payment method. A fully discounted
// booking still charges cancellationPercent of the original price so the
// reservation carries a real hold.
func PreAuthAmount(priceCents, discountCents int64, cancellationPercent int) int64 {
	if cancellationPercent <= 0 {
		cancellationPercent = 25
	}
	amount := priceCents - discountCents
	if amount <= 0 {
		return roundPercent(priceCents, int64(cancellationPercent))
	}
	return amount
}

// roundPercent computes cents*percent/100 rounded half up.
func roundPercent(cents, percent int64) int64 {
	return (cents*percent + 50) / 100
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
