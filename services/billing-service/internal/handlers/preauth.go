package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/experchat/experchat/services/billing-service/internal/gateway"
	"github.com/experchat/experchat/services/billing-service/internal/promo"
	"github.com/experchat/experchat/services/billing-service/internal/storage"
)

type Handler struct {
	repo    *storage.Repository
	gateway gateway.Gateway
	logger  *slog.Logger

	// CancellationPercent is charged instead of a zero hold when a promo
	// fully covers the price.
	cancellationPercent int
}

type Config struct {
	CancellationPercent int
}

func New(repo *storage.Repository, gw gateway.Gateway, logger *slog.Logger, cfg Config) *Handler {
	pct := cfg.CancellationPercent
	if pct <= 0 {
		pct = 25
	}
	return &Handler{
		repo:                repo,
		gateway:             gw,
		logger:              logger,
		cancellationPercent: pct,
	}
}

type preAuthRequest struct {
	SessionID    string `json:"session_id"`
	ExpertID     string `json:"expert_id"`
	UserID       string `json:"user_id"`
	ScheduledAt  string `json:"scheduled_at"`
	AmountCents  int64  `json:"amount_cents"`
	PromoCode    string `json:"promo_code"`
	PaymentToken string `json:"payment_token"`
}

type preAuthResponse struct {
	TransactionID string `json:"transaction_id"`
	ChargedCents  int64  `json:"charged_cents"`
	DiscountCents int64  `json:"discount_cents"`
}

// PreAuth validates the promo code and places a hold for the discounted
// amount. Promo usage counting and the transaction insert run under the promo
// row lock, so two concurrent bookings cannot both consume the last slot.
func (h *Handler) PreAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req preAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.PromoCode = strings.ToUpper(strings.TrimSpace(req.PromoCode))
	req.PaymentToken = strings.TrimSpace(req.PaymentToken)
	if req.SessionID == "" || req.UserID == "" || req.PaymentToken == "" || req.AmountCents <= 0 {
		http.Error(w, "session_id, user_id, payment_token and amount_cents required", http.StatusBadRequest)
		return
	}
	scheduledAt := time.Now().UTC()
	if raw := strings.TrimSpace(req.ScheduledAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid scheduled_at", http.StatusBadRequest)
			return
		}
		scheduledAt = parsed.UTC()
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var discount int64
	if req.PromoCode != "" {
		discount, err = h.applyPromo(ctx, tx, req, scheduledAt)
		if err != nil {
			if errors.Is(err, promo.ErrInvalid) || storage.IsNotFound(err) {
				writeError(w, http.StatusUnprocessableEntity, "invalid_promo_code")
				return
			}
			http.Error(w, "promo validation failed", http.StatusInternalServerError)
			return
		}
	}
	amount := promo.PreAuthAmount(req.AmountCents, discount, h.cancellationPercent)

	ref, err := h.gateway.Authorize(ctx, req.PaymentToken, amount, req.SessionID)
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}

	txn := &storage.Transaction{
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		AmountCents: amount,
		Status:      storage.TxnUnsettled,
		PromoCode:   req.PromoCode,
		GatewayRef:  ref,
	}
	id, err := h.repo.CreateTransaction(ctx, tx, txn)
	if err != nil {
		// The hold exists at the gateway but no local row; release it so the
		// money is not stuck until reconciliation.
		if cancelErr := h.gateway.Cancel(ctx, ref); cancelErr != nil {
			h.logger.Error("failed to release orphan hold", "gateway_ref", ref, "err", cancelErr)
		}
		http.Error(w, "failed to record transaction", http.StatusInternalServerError)
		return
	}

	meta, _ := json.Marshal(map[string]any{
		"session_id":     req.SessionID,
		"amount_cents":   amount,
		"discount_cents": discount,
		"gateway_ref":    ref,
	})
	if err := h.repo.InsertAuditEvent(ctx, tx, storage.AuditEvent{
		EventType:     "payment.preauthorized",
		ActorType:     "user",
		ActorID:       req.UserID,
		TransactionID: id,
		Metadata:      meta,
	}); err != nil {
		h.logger.Error("audit insert failed", "transaction_id", id, "err", err)
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(preAuthResponse{
		TransactionID: id,
		ChargedCents:  amount,
		DiscountCents: discount,
	})
}

func (h *Handler) applyPromo(ctx context.Context, tx pgx.Tx, req preAuthRequest, scheduledAt time.Time) (int64, error) {
	code, err := h.repo.GetPromoForUpdate(ctx, tx, req.PromoCode)
	if err != nil {
		return 0, err
	}
	usage, err := h.repo.PromoUsage(ctx, tx, req.PromoCode)
	if err != nil {
		return 0, err
	}
	if err := promo.Validate(code, req.ExpertID, req.UserID, scheduledAt, usage); err != nil {
		return 0, err
	}
	return promo.Discount(code, req.AmountCents, usage.AmountCents), nil
}

type validatePromoRequest struct {
	Code        string `json:"code"`
	ExpertID    string `json:"expert_id"`
	UserID      string `json:"user_id"`
	ScheduledAt string `json:"scheduled_at"`
	AmountCents int64  `json:"amount_cents"`
}

// ValidatePromo previews the discount without placing a hold. The result is
// advisory: the pre-auth step re-validates under the row lock.
func (h *Handler) ValidatePromo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req validatePromoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if req.Code == "" || req.AmountCents <= 0 {
		http.Error(w, "code and amount_cents required", http.StatusBadRequest)
		return
	}
	scheduledAt := time.Now().UTC()
	if raw := strings.TrimSpace(req.ScheduledAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid scheduled_at", http.StatusBadRequest)
			return
		}
		scheduledAt = parsed.UTC()
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	code, err := h.repo.GetPromoForUpdate(ctx, tx, req.Code)
	if err != nil {
		if storage.IsNotFound(err) {
			writeError(w, http.StatusUnprocessableEntity, "invalid_promo_code")
			return
		}
		http.Error(w, "failed to load promo code", http.StatusInternalServerError)
		return
	}
	usage, err := h.repo.PromoUsage(ctx, tx, req.Code)
	if err != nil {
		http.Error(w, "failed to compute usage", http.StatusInternalServerError)
		return
	}
	if err := promo.Validate(code, strings.TrimSpace(req.ExpertID), strings.TrimSpace(req.UserID), scheduledAt, usage); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_promo_code")
		return
	}
	discount := promo.Discount(code, req.AmountCents, usage.AmountCents)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int64{"discount_cents": discount})
}

// Transaction exposes the settlement state of one hold.
func (h *Handler) Transaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	txn, err := h.repo.GetTransaction(r.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "transaction not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load transaction", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"transaction_id": txn.ID,
		"session_id":     txn.SessionID,
		"amount_cents":   txn.AmountCents,
		"settled_cents":  txn.SettledCents,
		"status":         string(txn.Status),
		"promo_code":     txn.PromoCode,
	})
}

func (h *Handler) writeGatewayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrDeclined):
		writeError(w, http.StatusPaymentRequired, "payment_declined")
	case errors.Is(err, gateway.ErrInvalidToken):
		writeError(w, http.StatusUnprocessableEntity, "invalid_payment_token")
	default:
		h.logger.Error("gateway authorize failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "gateway_unavailable")
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
