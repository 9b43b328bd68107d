package gateway

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Failure kinds the pre-auth and settlement flows need to distinguish.
var (
	ErrDeclined     = errors.New("card declined")
	ErrInvalidToken = errors.New("invalid payment token")
	ErrUnavailable  = errors.New("payment gateway unavailable")
)

// Gateway places, captures and releases payment holds. Authorize returns the
// provider's reference for the hold; Capture may settle less than the
// authorized amount.
type Gateway interface {
	Authorize(ctx context.Context, token string, amountCents int64, sessionID string) (string, error)
	Capture(ctx context.Context, ref string, amountCents int64) error
	Cancel(ctx context.Context, ref string) error
}

// LocalGateway approves everything and keeps no state. It stands in for the
// real provider in development and tests.
type LocalGateway struct{}

func NewLocalGateway() *LocalGateway {
	return &LocalGateway{}
}

func (g *LocalGateway) Authorize(_ context.Context, token string, _ int64, _ string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	return "local-" + uuid.NewString(), nil
}

func (g *LocalGateway) Capture(_ context.Context, _ string, _ int64) error {
	return nil
}

func (g *LocalGateway) Cancel(_ context.Context, _ string) error {
	return nil
}
