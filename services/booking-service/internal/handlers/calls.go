package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/experchat/experchat/services/booking-service/internal/model"
	"github.com/experchat/experchat/services/booking-service/internal/session"
	"github.com/experchat/experchat/services/booking-service/internal/storage"
)

type CallHandler struct {
	sessions  *storage.SessionRepository
	machine   *session.Machine
	scheduler *ScheduleHandler
	logger    *slog.Logger
}

func NewCallHandler(sessions *storage.SessionRepository, machine *session.Machine, scheduler *ScheduleHandler, logger *slog.Logger) *CallHandler {
	return &CallHandler{sessions: sessions, machine: machine, scheduler: scheduler, logger: logger}
}

type callRequest struct {
	SessionID string `json:"session_id"`

	// Accept only.
	Device string `json:"device"`

	// Delay only.
	DelayMinutes int `json:"delay_minutes"`

	// Disconnect only.
	Initiator   string `json:"initiator"`
	CallSeconds int    `json:"call_seconds"`
}

type callResponse struct {
	SessionID       string `json:"session_id"`
	CallStatus      string `json:"call_status"`
	Changed         bool   `json:"changed"`
	ExtendedSeconds int    `json:"extended_seconds,omitempty"`
}

func (h *CallHandler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, tx pgx.Tx, s *model.Session) (bool, error)) {
	h.transitionWithRequest(w, r, func(ctx context.Context, tx pgx.Tx, s *model.Session, _ callRequest) (bool, error) {
		return fn(ctx, tx, s)
	})
}

type initiateRequest struct {
	SessionID string `json:"session_id"`

	// Instant-call creation, used when session_id is absent.
	ExpertID        string `json:"expert_id"`
	UserID          string `json:"user_id"`
	DurationMinutes int    `json:"duration_minutes"`
	PromoCode       string `json:"promo_code"`
	PaymentToken    string `json:"payment_token"`
}

// Initiate starts a call. With a session_id the existing booking rings the
// expert; without one an instant call is booked on the spot, pre-authorized
// like any scheduled session, and rung immediately.
func (h *CallHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		h.scheduler.instantCall(w, r, instantCallParams{
			ExpertID:        strings.TrimSpace(req.ExpertID),
			UserID:          strings.TrimSpace(req.UserID),
			DurationMinutes: req.DurationMinutes,
			PromoCode:       strings.TrimSpace(req.PromoCode),
			PaymentToken:    strings.TrimSpace(req.PaymentToken),
		})
		return
	}
	h.runTransition(w, r, callRequest{SessionID: req.SessionID}, func(ctx context.Context, tx pgx.Tx, s *model.Session, _ callRequest) (bool, error) {
		return h.machine.Initiate(ctx, tx, s)
	})
}

func (h *CallHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, tx pgx.Tx, s *model.Session) (bool, error) {
		return h.machine.Reconnect(ctx, tx, s)
	})
}

func (h *CallHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transitionWithRequest(w, r, func(ctx context.Context, tx pgx.Tx, s *model.Session, req callRequest) (bool, error) {
		return h.machine.Accept(ctx, tx, s, strings.TrimSpace(req.Device))
	})
}

func (h *CallHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, tx pgx.Tx, s *model.Session) (bool, error) {
		return h.machine.Decline(ctx, tx, s)
	})
}

func (h *CallHandler) Delay(w http.ResponseWriter, r *http.Request) {
	h.transitionWithRequest(w, r, func(ctx context.Context, tx pgx.Tx, s *model.Session, req callRequest) (bool, error) {
		return h.machine.Delay(ctx, tx, s, req.DelayMinutes)
	})
}

func (h *CallHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.transitionWithRequest(w, r, func(ctx context.Context, tx pgx.Tx, s *model.Session, req callRequest) (bool, error) {
		return h.machine.Disconnect(ctx, tx, s, strings.TrimSpace(req.Initiator), req.CallSeconds)
	})
}

func (h *CallHandler) Extend(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(_ context.Context, _ pgx.Tx, s *model.Session) (bool, error) {
		return h.machine.Extend(s), nil
	})
}

func (h *CallHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, tx pgx.Tx, s *model.Session) (bool, error) {
		return h.machine.Cancel(ctx, tx, s)
	})
}

// transitionWithRequest decodes the request, then loads the session under a
// row lock, applies fn and persists the result in the same transaction.
func (h *CallHandler) transitionWithRequest(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, tx pgx.Tx, s *model.Session, req callRequest) (bool, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}
	h.runTransition(w, r, req, fn)
}

// runTransition applies fn to the locked session row. Guard failures inside
// the machine are not errors: the response carries the resulting status and
// whether it changed.
func (h *CallHandler) runTransition(w http.ResponseWriter, r *http.Request, req callRequest, fn func(ctx context.Context, tx pgx.Tx, s *model.Session, req callRequest) (bool, error)) {
	ctx := r.Context()
	tx, err := h.sessions.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	s, err := h.sessions.GetForUpdate(ctx, tx, req.SessionID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}

	changed, err := fn(ctx, tx, &s, req)
	if err != nil {
		h.logger.Error("call transition failed", "session_id", s.ID, "err", err)
		http.Error(w, "transition failed", http.StatusInternalServerError)
		return
	}
	if changed {
		if err := h.sessions.UpdateState(ctx, tx, &s); err != nil {
			http.Error(w, "failed to persist session", http.StatusInternalServerError)
			return
		}
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	resp := callResponse{
		SessionID:  s.ID,
		CallStatus: string(s.Status),
		Changed:    changed,
	}
	if s.ExtendedSeconds > 0 {
		resp.ExtendedSeconds = s.ExtendedSeconds
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
