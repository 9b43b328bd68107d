package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPreAuthorizeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/v1/preauth" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req PreAuthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.AmountCents != 4000 || req.PromoCode != "WELCOME10" {
			t.Fatalf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(PreAuthResult{
			TransactionID: "txn-1",
			ChargedCents:  3600,
			DiscountCents: 400,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	res, err := client.PreAuthorize(context.Background(), PreAuthRequest{
		SessionID:    "sess-1",
		UserID:       "user-1",
		AmountCents:  4000,
		PromoCode:    "WELCOME10",
		PaymentToken: "tok_visa",
	})
	if err != nil {
		t.Fatalf("PreAuthorize: %v", err)
	}
	if res.TransactionID != "txn-1" || res.ChargedCents != 3600 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestPreAuthorizeMapsErrorCodes(t *testing.T) {
	cases := []struct {
		code    string
		status  int
		wantErr error
	}{
		{"payment_declined", http.StatusPaymentRequired, ErrPaymentDeclined},
		{"invalid_promo_code", http.StatusUnprocessableEntity, ErrInvalidPromoCode},
		{"invalid_payment_token", http.StatusUnprocessableEntity, ErrInvalidToken},
		{"internal", http.StatusServiceUnavailable, ErrGatewayUnavailable},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": tc.code})
		}))
		client := NewClient(srv.URL)
		_, err := client.PreAuthorize(context.Background(), PreAuthRequest{SessionID: "s", UserID: "u", AmountCents: 100})
		srv.Close()
		if !errors.Is(err, tc.wantErr) {
			t.Fatalf("code %q: err = %v, want %v", tc.code, err, tc.wantErr)
		}
	}
}

func TestPreAuthorizeUnreachableGateway(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	_, err := client.PreAuthorize(context.Background(), PreAuthRequest{SessionID: "s", UserID: "u", AmountCents: 100})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
}

func TestValidatePromo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/v1/promo/validate" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]int64{"discount_cents": 250})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	discount, err := client.ValidatePromo(context.Background(), "user-1", "SAVE25", 1000)
	if err != nil {
		t.Fatalf("ValidatePromo: %v", err)
	}
	if discount != 250 {
		t.Fatalf("discount = %d, want 250", discount)
	}
}
