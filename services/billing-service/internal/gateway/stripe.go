package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
)

// StripeGateway implements holds as manual-capture PaymentIntents: Authorize
// confirms an intent without capturing, Capture settles it for the final
// amount, Cancel releases the hold.
type StripeGateway struct{}

func NewStripeGateway(secretKey string) *StripeGateway {
	stripe.Key = strings.TrimSpace(secretKey)
	return &StripeGateway{}
}

func (g *StripeGateway) Authorize(ctx context.Context, token string, amountCents int64, sessionID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountCents),
		Currency:      stripe.String(string(stripe.CurrencyUSD)),
		PaymentMethod: stripe.String(token),
		Confirm:       stripe.Bool(true),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	params.AddMetadata("session_id", sessionID)

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", mapStripeError(err)
	}
	if pi.Status != stripe.PaymentIntentStatusRequiresCapture {
		return "", fmt.Errorf("%w: intent status %s", ErrDeclined, pi.Status)
	}
	return pi.ID, nil
}

func (g *StripeGateway) Capture(ctx context.Context, ref string, amountCents int64) error {
	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(amountCents),
	}
	params.Context = ctx
	_, err := paymentintent.Capture(ref, params)
	if err != nil {
		return mapStripeError(err)
	}
	return nil
}

func (g *StripeGateway) Cancel(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(ref, params)
	if err != nil {
		return mapStripeError(err)
	}
	return nil
}

func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch stripeErr.Code {
	case stripe.ErrorCodeCardDeclined, stripe.ErrorCodeExpiredCard, stripe.ErrorCodeIncorrectCVC:
		return fmt.Errorf("%w: %s", ErrDeclined, stripeErr.Code)
	case stripe.ErrorCodeResourceMissing:
		return fmt.Errorf("%w: %s", ErrInvalidToken, stripeErr.Code)
	}
	switch stripeErr.Type {
	case stripe.ErrorTypeCard:
		return fmt.Errorf("%w: %s", ErrDeclined, stripeErr.Code)
	case stripe.ErrorTypeInvalidRequest:
		return fmt.Errorf("%w: %s", ErrInvalidToken, stripeErr.Code)
	}
	return fmt.Errorf("%w: %s", ErrUnavailable, stripeErr.Code)
}
