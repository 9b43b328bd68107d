package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stripe/stripe-go/v79"
)

func TestLocalGatewayAuthorize(t *testing.T) {
	gw := NewLocalGateway()

	ref, err := gw.Authorize(context.Background(), "tok_test", 4000, "sess-1")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !strings.HasPrefix(ref, "local-") {
		t.Fatalf("unexpected reference %q", ref)
	}

	if err := gw.Capture(context.Background(), ref, 4000); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if err := gw.Cancel(context.Background(), ref); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}

func TestLocalGatewayRejectsEmptyToken(t *testing.T) {
	gw := NewLocalGateway()
	if _, err := gw.Authorize(context.Background(), "  ", 4000, "sess-1"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestMapStripeError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"card declined", &stripe.Error{Code: stripe.ErrorCodeCardDeclined}, ErrDeclined},
		{"expired card", &stripe.Error{Code: stripe.ErrorCodeExpiredCard}, ErrDeclined},
		{"incorrect cvc", &stripe.Error{Code: stripe.ErrorCodeIncorrectCVC}, ErrDeclined},
		{"missing payment method", &stripe.Error{Code: stripe.ErrorCodeResourceMissing}, ErrInvalidToken},
		{"generic card error", &stripe.Error{Type: stripe.ErrorTypeCard}, ErrDeclined},
		{"invalid request", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest}, ErrInvalidToken},
		{"api error", &stripe.Error{Type: stripe.ErrorTypeAPI}, ErrUnavailable},
		{"network error", errors.New("connection refused"), ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapStripeError(tc.in); !errors.Is(got, tc.want) {
				t.Fatalf("mapStripeError(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
