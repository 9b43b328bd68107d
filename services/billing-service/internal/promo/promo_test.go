package promo

import (
	"errors"
	"testing"
	"time"
)

func activeCode() Code {
	return Code{
		ID:        "pc-1",
		Code:      "WELCOME",
		Type:      TypePromo,
		ValueType: ValuePercent,
		Value:     10,
		Status:    StatusActive,
	}
}

func TestValidate_FullPercentCodeWithinWindow(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 30, 23, 59, 59, 0, time.UTC)
	c := activeCode()
	c.Value = 100
	c.StartAt = &start
	c.ExpiresAt = &end
	c.AllowedExperts = []string{"exp-1"}
	c.AllowedUsers = []string{"user-1"}

	at := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	if err := Validate(c, "exp-1", "user-1", at, Usage{}); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if d := Discount(c, 100, 0); d != 100 {
		t.Fatalf("discount = %d, want 100", d)
	}
}

func TestValidate_Rejections(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	at := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		mutate func(*Code)
		at     time.Time
		usage  Usage
	}{
		{"inactive", func(c *Code) { c.Status = StatusInactive }, at, Usage{}},
		{"deleted", func(c *Code) { c.Deleted = true }, at, Usage{}},
		{"before window", func(c *Code) { c.StartAt = &start }, start.Add(-time.Hour), Usage{}},
		{"after window", func(c *Code) { c.ExpiresAt = &end }, end.Add(time.Hour), Usage{}},
		{"expert not allowed", func(c *Code) { c.AllowedExperts = []string{"other"} }, at, Usage{}},
		{"user not allowed", func(c *Code) { c.AllowedUsers = []string{"other"} }, at, Usage{}},
		{"global limit", func(c *Code) { c.UsageLimit = 3 }, at, Usage{Count: 3}},
		{"user limit", func(c *Code) { c.UserUsageLimit = 1 }, at, Usage{Count: 1}},
	}
	for _, tc := range cases {
		c := activeCode()
		tc.mutate(&c)
		if err := Validate(c, "exp-1", "user-1", tc.at, tc.usage); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: err = %v, want ErrInvalid", tc.name, err)
		}
	}
}

func TestValidate_UserLimitCountsAllUsers(t *testing.T) {
	// The per-user cap compares against the overall count, so usage by one
	// user locks the code for everyone once the cap is hit.
	c := activeCode()
	c.UserUsageLimit = 2
	if err := Validate(c, "exp-1", "fresh-user", time.Now(), Usage{Count: 2}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestValidate_CreditBalanceExhausted(t *testing.T) {
	c := activeCode()
	c.Type = TypeCredit
	c.ValueType = ValueFixed
	c.Value = 5000
	if err := Validate(c, "e", "u", time.Now(), Usage{Count: 2, AmountCents: 5000}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if err := Validate(c, "e", "u", time.Now(), Usage{Count: 2, AmountCents: 4999}); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDiscount_PercentRoundsHalfUp(t *testing.T) {
	c := activeCode()
	c.Value = 15
	if d := Discount(c, 999, 0); d != 150 {
		t.Fatalf("discount = %d, want 150", d)
	}
}

func TestDiscount_NeverExceedsPrice(t *testing.T) {
	c := activeCode()
	c.ValueType = ValueFixed
	c.Value = 5000
	if d := Discount(c, 4000, 0); d != 4000 {
		t.Fatalf("discount = %d, want 4000", d)
	}
}

func TestDiscount_CreditCappedAtRemainingBalance(t *testing.T) {
	c := activeCode()
	c.Type = TypeCredit
	c.ValueType = ValueFixed
	c.Value = 5000
	if d := Discount(c, 2800, 3500); d != 1500 {
		t.Fatalf("discount = %d, want 1500", d)
	}
	if d := Discount(c, 2800, 5000); d != 0 {
		t.Fatalf("discount = %d, want 0", d)
	}
}

func TestPreAuthAmount(t *testing.T) {
	if got := PreAuthAmount(4000, 400, 25); got != 3600 {
		t.Fatalf("amount = %d, want 3600", got)
	}
	// Fully discounted bookings fall back to the cancellation hold.
	if got := PreAuthAmount(4000, 4000, 25); got != 1000 {
		t.Fatalf("amount = %d, want 1000", got)
	}
	if got := PreAuthAmount(4000, 4000, 0); got != 1000 {
		t.Fatalf("amount = %d, want 1000 via default percent", got)
	}
}
