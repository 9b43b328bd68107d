package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Failure modes the scheduling flow needs to tell apart: a decline aborts the
// booking with a client error, an unavailable gateway maps to a retryable 503.
var (
	ErrPaymentDeclined    = errors.New("payment declined")
	ErrInvalidPromoCode   = errors.New("invalid promo code")
	ErrInvalidToken       = errors.New("invalid payment token")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// PreAuthRequest asks billing to validate the promo code and place a hold for
// the discounted amount before the session row is committed.
type PreAuthRequest struct {
	SessionID    string `json:"session_id"`
	ExpertID     string `json:"expert_id"`
	UserID       string `json:"user_id"`
	ScheduledAt  string `json:"scheduled_at"`
	AmountCents  int64  `json:"amount_cents"`
	PromoCode    string `json:"promo_code,omitempty"`
	PaymentToken string `json:"payment_token"`
}

type PreAuthResult struct {
	TransactionID string `json:"transaction_id"`
	ChargedCents  int64  `json:"charged_cents"`
	DiscountCents int64  `json:"discount_cents"`
}

// Client is the booking side of the internal billing API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *Client) PreAuthorize(ctx context.Context, reqBody PreAuthRequest) (PreAuthResult, error) {
	var result PreAuthResult
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return result, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/v1/preauth", bytes.NewReader(raw))
	if err != nil {
		return result, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return result, err
		}
		if result.TransactionID == "" {
			return result, errors.New("preauth response missing transaction id")
		}
		return result, nil
	}

	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)
	switch apiErr.Error {
	case "payment_declined":
		return result, ErrPaymentDeclined
	case "invalid_promo_code":
		return result, ErrInvalidPromoCode
	case "invalid_payment_token":
		return result, ErrInvalidToken
	}
	if resp.StatusCode >= 500 {
		return result, ErrGatewayUnavailable
	}
	return result, fmt.Errorf("preauth failed with status %d", resp.StatusCode)
}

// ValidatePromo checks a promo code against an amount without placing a hold.
// Clients call this to preview the discount before confirming a booking.
func (c *Client) ValidatePromo(ctx context.Context, userID, code string, amountCents int64) (int64, error) {
	raw, err := json.Marshal(map[string]any{
		"user_id":      userID,
		"code":         code,
		"amount_cents": amountCents,
	})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/v1/promo/validate", bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return 0, ErrGatewayUnavailable
		}
		return 0, ErrInvalidPromoCode
	}
	var out struct {
		DiscountCents int64 `json:"discount_cents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.DiscountCents, nil
}
