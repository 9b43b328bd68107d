package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/experchat/experchat/services/booking-service/internal/pricing"
	"github.com/experchat/experchat/services/booking-service/internal/session"
	"github.com/experchat/experchat/services/booking-service/internal/slots"
)

func newInstantCallHandler(t *testing.T) *CallHandler {
	t.Helper()
	prices, err := pricing.Parse("30:5000")
	if err != nil {
		t.Fatalf("parse prices: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scheduler := NewScheduleHandler(nil, nil, nil, nil, nil, nil, prices, slots.DefaultConfig(), session.DefaultConfig(), logger)
	return NewCallHandler(nil, nil, scheduler, logger)
}

func TestInitiateWithoutSessionEntersInstantBooking(t *testing.T) {
	h := newInstantCallHandler(t)

	// No session_id routes to instant-call creation, which validates the
	// booking fields instead of failing the session lookup.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/calls/initiate",
		strings.NewReader(`{"expert_id": "exp-1"}`))
	rec := httptest.NewRecorder()
	h.Initiate(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if body := rec.Body.String(); !strings.Contains(body, "payment_token") {
		t.Fatalf("body = %q, want booking-field validation error", body)
	}
}

func TestInitiateInstantRejectsUnknownDuration(t *testing.T) {
	h := newInstantCallHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/calls/initiate",
		strings.NewReader(`{"expert_id": "exp-1", "user_id": "user-1", "duration_minutes": 7, "payment_token": "tok"}`))
	rec := httptest.NewRecorder()
	h.Initiate(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	if body := rec.Body.String(); !strings.Contains(body, "unsupported duration") {
		t.Fatalf("body = %q, want unsupported duration", body)
	}
}

func TestInitiateRejectsNonPost(t *testing.T) {
	h := newInstantCallHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/calls/initiate", nil)
	rec := httptest.NewRecorder()
	h.Initiate(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
