package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/experchat/experchat/services/booking-service/internal/billing"
	"github.com/experchat/experchat/services/booking-service/internal/jobs"
	"github.com/experchat/experchat/services/booking-service/internal/model"
	"github.com/experchat/experchat/services/booking-service/internal/outbox"
	"github.com/experchat/experchat/services/booking-service/internal/pricing"
	"github.com/experchat/experchat/services/booking-service/internal/session"
	"github.com/experchat/experchat/services/booking-service/internal/slots"
	"github.com/experchat/experchat/services/booking-service/internal/storage"
)

// PreAuthorizer is the slice of the billing client the scheduling flow needs.
type PreAuthorizer interface {
	PreAuthorize(ctx context.Context, req billing.PreAuthRequest) (billing.PreAuthResult, error)
}

type ScheduleHandler struct {
	sessions   *storage.SessionRepository
	rules      *storage.RulesRepository
	jobsRepo   *jobs.Repository
	outboxRepo *outbox.Repository
	billing    PreAuthorizer
	machine    *session.Machine
	prices     pricing.Table
	slotCfg    slots.Config
	sessionCfg session.Config
	logger     *slog.Logger

	now func() time.Time
}

func NewScheduleHandler(
	sessions *storage.SessionRepository,
	rules *storage.RulesRepository,
	jobsRepo *jobs.Repository,
	outboxRepo *outbox.Repository,
	billingClient PreAuthorizer,
	machine *session.Machine,
	prices pricing.Table,
	slotCfg slots.Config,
	sessionCfg session.Config,
	logger *slog.Logger,
) *ScheduleHandler {
	return &ScheduleHandler{
		sessions:   sessions,
		rules:      rules,
		jobsRepo:   jobsRepo,
		outboxRepo: outboxRepo,
		billing:    billingClient,
		machine:    machine,
		prices:     prices,
		slotCfg:    slotCfg,
		sessionCfg: sessionCfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type scheduleRequest struct {
	ExpertID        string `json:"expert_id"`
	UserID          string `json:"user_id"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int    `json:"duration_minutes"`
	PromoCode       string `json:"promo_code"`
	PaymentToken    string `json:"payment_token"`
}

type scheduleResponse struct {
	SessionID     string `json:"session_id"`
	TransactionID string `json:"transaction_id"`
	PriceCents    int64  `json:"price_cents"`
	DiscountCents int64  `json:"discount_cents"`
	ChargedCents  int64  `json:"charged_cents"`
	ScheduledAt   string `json:"scheduled_at"`
	CallStatus    string `json:"call_status,omitempty"`
}

type sessionItem struct {
	SessionID       string `json:"session_id"`
	ExpertID        string `json:"expert_id"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	StartedAt       string `json:"started_at,omitempty"`
	EndedAt         string `json:"ended_at,omitempty"`
}

// Sessions serves POST (book a slot) and GET (list the caller's sessions).
func (h *ScheduleHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.schedule(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ScheduleHandler) schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ExpertID = strings.TrimSpace(req.ExpertID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.PromoCode = strings.TrimSpace(req.PromoCode)
	req.PaymentToken = strings.TrimSpace(req.PaymentToken)
	if req.ExpertID == "" || req.UserID == "" || req.PaymentToken == "" {
		http.Error(w, "expert_id, user_id and payment_token required", http.StatusBadRequest)
		return
	}

	price, ok := h.prices.Price(req.DurationMinutes)
	if !ok {
		http.Error(w, "unsupported duration", http.StatusUnprocessableEntity)
		return
	}
	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		http.Error(w, "invalid scheduled_at", http.StatusBadRequest)
		return
	}
	scheduledAt = scheduledAt.UTC()

	now := h.now()
	if !scheduledAt.After(now) {
		http.Error(w, "scheduled_at must be in the future", http.StatusUnprocessableEntity)
		return
	}

	ctx := r.Context()
	tx, err := h.sessions.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.sessions.LockIdempotencyKey(ctx, tx, req.UserID, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if exists && rec.StatusCode > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	overlap, err := h.sessions.UserHasOverlap(ctx, req.UserID, scheduledAt, req.DurationMinutes)
	if err != nil {
		http.Error(w, "failed to check user schedule", http.StatusInternalServerError)
		return
	}
	if overlap {
		h.rejectBooking(ctx, tx, w, req.UserID, idempotencyKey, http.StatusConflict, "user already has a session in this window")
		return
	}

	free, err := h.expertFreeIntervals(ctx, req.ExpertID, now)
	if err != nil {
		http.Error(w, "failed to compute availability", http.StatusInternalServerError)
		return
	}
	requestedEnd := scheduledAt.Add(time.Duration(req.DurationMinutes) * time.Minute)
	if !intervalCovered(free, scheduledAt, requestedEnd) {
		h.rejectBooking(ctx, tx, w, req.UserID, idempotencyKey, http.StatusUnprocessableEntity, "requested slot is not available")
		return
	}

	s := &model.Session{
		ExpertID:              req.ExpertID,
		UserID:                req.UserID,
		ScheduledAt:           scheduledAt,
		ScheduledMinutes:      req.DurationMinutes,
		Status:                model.CallScheduled,
		EstimatedRevenueCents: price,
		PromoCode:             req.PromoCode,
	}
	id, err := h.sessions.Create(ctx, tx, s)
	if err != nil {
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	s.ID = id

	// Hold the money before the row commits. A billing failure rolls the
	// whole booking back, so the slot never shows as taken without a hold.
	preAuth, err := h.billing.PreAuthorize(ctx, billing.PreAuthRequest{
		SessionID:    id,
		ExpertID:     req.ExpertID,
		UserID:       req.UserID,
		ScheduledAt:  scheduledAt.Format(timeLayout),
		AmountCents:  price,
		PromoCode:    req.PromoCode,
		PaymentToken: req.PaymentToken,
	})
	if err != nil {
		h.handlePreAuthError(ctx, tx, w, req.UserID, idempotencyKey, err)
		return
	}
	s.TransactionID = preAuth.TransactionID
	if err := h.sessions.UpdateState(ctx, tx, s); err != nil {
		http.Error(w, "failed to store transaction", http.StatusInternalServerError)
		return
	}

	graceDeadline := scheduledAt.Add(h.sessionCfg.GracePeriod)
	if err := h.jobsRepo.Schedule(ctx, tx, session.TaskMissedCall, id, graceDeadline); err != nil {
		http.Error(w, "failed to arm missed-call timer", http.StatusInternalServerError)
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"session_id":        id,
		"expert_id":         req.ExpertID,
		"user_id":           req.UserID,
		"scheduled_at":      scheduledAt.Format(timeLayout),
		"scheduled_minutes": req.DurationMinutes,
		"charged_cents":     preAuth.ChargedCents,
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "session",
		AggregateID:   id,
		EventType:     "consult.session.scheduled.v1",
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	respBody, err := json.Marshal(scheduleResponse{
		SessionID:     id,
		TransactionID: preAuth.TransactionID,
		PriceCents:    price,
		DiscountCents: preAuth.DiscountCents,
		ChargedCents:  preAuth.ChargedCents,
		ScheduledAt:   scheduledAt.Format(timeLayout),
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		if err := h.sessions.FinalizeIdempotency(ctx, tx, req.UserID, idempotencyKey, id, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

type instantCallParams struct {
	ExpertID        string
	UserID          string
	DurationMinutes int
	PromoCode       string
	PaymentToken    string
}

// instantCall books and rings a call in one step. The slot pipeline is not
// consulted: the expert answers or declines the ring directly. The payment
// hold is taken exactly as for a scheduled booking, and a failed pre-auth
// aborts the whole creation.
func (h *ScheduleHandler) instantCall(w http.ResponseWriter, r *http.Request, p instantCallParams) {
	if p.ExpertID == "" || p.UserID == "" || p.PaymentToken == "" {
		http.Error(w, "expert_id, user_id and payment_token required", http.StatusBadRequest)
		return
	}
	price, ok := h.prices.Price(p.DurationMinutes)
	if !ok {
		http.Error(w, "unsupported duration", http.StatusUnprocessableEntity)
		return
	}

	now := h.now()
	ctx := r.Context()
	tx, err := h.sessions.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	overlap, err := h.sessions.UserHasOverlap(ctx, p.UserID, now, p.DurationMinutes)
	if err != nil {
		http.Error(w, "failed to check user schedule", http.StatusInternalServerError)
		return
	}
	if overlap {
		h.rejectBooking(ctx, tx, w, p.UserID, "", http.StatusConflict, "user already has a session in this window")
		return
	}

	s := &model.Session{
		ExpertID:              p.ExpertID,
		UserID:                p.UserID,
		ScheduledAt:           now,
		ScheduledMinutes:      p.DurationMinutes,
		Status:                model.CallScheduled,
		EstimatedRevenueCents: price,
		PromoCode:             p.PromoCode,
	}
	id, err := h.sessions.Create(ctx, tx, s)
	if err != nil {
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	s.ID = id

	preAuth, err := h.billing.PreAuthorize(ctx, billing.PreAuthRequest{
		SessionID:    id,
		ExpertID:     p.ExpertID,
		UserID:       p.UserID,
		ScheduledAt:  now.Format(timeLayout),
		AmountCents:  price,
		PromoCode:    p.PromoCode,
		PaymentToken: p.PaymentToken,
	})
	if err != nil {
		h.handlePreAuthError(ctx, tx, w, p.UserID, "", err)
		return
	}
	s.TransactionID = preAuth.TransactionID

	// Ring the expert inside the same transaction that creates the row.
	if _, err := h.machine.Initiate(ctx, tx, s); err != nil {
		http.Error(w, "failed to ring expert", http.StatusInternalServerError)
		return
	}
	if err := h.sessions.UpdateState(ctx, tx, s); err != nil {
		http.Error(w, "failed to persist session", http.StatusInternalServerError)
		return
	}

	graceDeadline := now.Add(h.sessionCfg.GracePeriod)
	if err := h.jobsRepo.Schedule(ctx, tx, session.TaskMissedCall, id, graceDeadline); err != nil {
		http.Error(w, "failed to arm missed-call timer", http.StatusInternalServerError)
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"session_id":        id,
		"expert_id":         p.ExpertID,
		"user_id":           p.UserID,
		"scheduled_at":      now.Format(timeLayout),
		"scheduled_minutes": p.DurationMinutes,
		"charged_cents":     preAuth.ChargedCents,
		"instant":           true,
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "session",
		AggregateID:   id,
		EventType:     "consult.session.scheduled.v1",
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(scheduleResponse{
		SessionID:     id,
		TransactionID: preAuth.TransactionID,
		PriceCents:    price,
		DiscountCents: preAuth.DiscountCents,
		ChargedCents:  preAuth.ChargedCents,
		ScheduledAt:   now.Format(timeLayout),
		CallStatus:    string(s.Status),
	})
}

func (h *ScheduleHandler) list(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	sessions, err := h.sessions.ListByUser(r.Context(), userID, limit)
	if err != nil {
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}

	items := make([]sessionItem, 0, len(sessions))
	for _, s := range sessions {
		item := sessionItem{
			SessionID:       s.ID,
			ExpertID:        s.ExpertID,
			ScheduledAt:     s.ScheduledAt.UTC().Format(timeLayout),
			DurationMinutes: s.ScheduledMinutes,
			Status:          string(s.Status),
		}
		if s.StartedAt != nil {
			item.StartedAt = s.StartedAt.UTC().Format(timeLayout)
		}
		if s.EndedAt != nil {
			item.EndedAt = s.EndedAt.UTC().Format(timeLayout)
		}
		items = append(items, item)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(items)
}

// expertFreeIntervals runs the availability pipeline up to the subtraction
// stage; slicing is not needed to check containment of one requested window.
func (h *ScheduleHandler) expertFreeIntervals(ctx context.Context, expertID string, now time.Time) ([]slots.Interval, error) {
	stored, err := h.rules.ListByExpert(ctx, expertID)
	if err != nil {
		return nil, err
	}
	ruleSet := make([]slots.Rule, 0, len(stored))
	for _, rec := range stored {
		start, err := slots.ParseClockTime(rec.StartTime)
		if err != nil {
			continue
		}
		end, err := slots.ParseClockTime(rec.EndTime)
		if err != nil {
			continue
		}
		ruleSet = append(ruleSet, slots.Rule{Start: start, End: end, Weekdays: rec.Weekdays, Timezone: rec.Timezone})
	}
	free, err := slots.Normalize(ruleSet, now, h.slotCfg.HorizonWeeks)
	if err != nil {
		return nil, err
	}
	free = slots.Merge(free)

	horizon := now.AddDate(0, 0, 7*h.slotCfg.HorizonWeeks+1)
	bookedSessions, err := h.sessions.ListBookedIntervals(ctx, expertID, now.AddDate(0, 0, -1), horizon)
	if err != nil {
		return nil, err
	}
	booked := make([]slots.Interval, 0, len(bookedSessions))
	for _, s := range bookedSessions {
		end := s.ScheduledEnd().Add(time.Duration(s.ExtendedSeconds) * time.Second)
		booked = append(booked, slots.Interval{Start: s.ScheduledAt.UTC(), End: end.UTC()})
	}
	sort.Slice(booked, func(i, j int) bool { return booked[i].Start.Before(booked[j].Start) })
	return slots.Subtract(free, booked, h.slotCfg.MinGap), nil
}

func intervalCovered(free []slots.Interval, start, end time.Time) bool {
	for _, iv := range free {
		if !start.Before(iv.Start) && !end.After(iv.End) {
			return true
		}
	}
	return false
}

func (h *ScheduleHandler) handlePreAuthError(ctx context.Context, tx pgx.Tx, w http.ResponseWriter, userID, key string, err error) {
	switch {
	case errors.Is(err, billing.ErrPaymentDeclined):
		h.rejectBooking(ctx, tx, w, userID, key, http.StatusPaymentRequired, "payment declined")
	case errors.Is(err, billing.ErrInvalidPromoCode):
		h.rejectBooking(ctx, tx, w, userID, key, http.StatusUnprocessableEntity, "invalid promo code")
	case errors.Is(err, billing.ErrInvalidToken):
		h.rejectBooking(ctx, tx, w, userID, key, http.StatusUnprocessableEntity, "invalid payment token")
	default:
		// Transient billing outage: leave the idempotency key open so the
		// client can retry with the same key.
		h.logger.Error("preauth failed", "user_id", userID, "err", err)
		http.Error(w, "billing unavailable", http.StatusServiceUnavailable)
	}
}

// rejectBooking rolls the booking transaction back, which drops any session
// row created in it, then records the terminal client error under the
// idempotency key in a fresh transaction so replays return the same answer.
func (h *ScheduleHandler) rejectBooking(ctx context.Context, tx pgx.Tx, w http.ResponseWriter, userID, key string, statusCode int, msg string) {
	body, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		http.Error(w, msg, statusCode)
		return
	}
	if key != "" {
		_ = tx.Rollback(ctx)
		finalTx, txErr := h.sessions.Begin(ctx)
		if txErr == nil {
			if _, _, lockErr := h.sessions.LockIdempotencyKey(ctx, finalTx, userID, key); lockErr == nil {
				if finErr := h.sessions.FinalizeIdempotency(ctx, finalTx, userID, key, "", statusCode, body); finErr == nil {
					_ = finalTx.Commit(ctx)
				} else {
					_ = finalTx.Rollback(ctx)
				}
			} else {
				_ = finalTx.Rollback(ctx)
			}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}
