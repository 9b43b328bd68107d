package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/experchat/experchat/services/billing-service/internal/promo"
	"github.com/experchat/experchat/services/billing-service/internal/storage"
)

type createPromoRequest struct {
	Code           string   `json:"code"`
	Type           string   `json:"type"`
	ValueType      string   `json:"value_type"`
	Value          int64    `json:"value"`
	StartAt        string   `json:"start_at"`
	ExpiresAt      string   `json:"expires_at"`
	UsageLimit     int      `json:"usage_limit"`
	UserUsageLimit int      `json:"user_usage_limit"`
	AllowedExperts []string `json:"allowed_experts"`
	AllowedUsers   []string `json:"allowed_users"`
}

// Promos serves the admin code collection: POST creates, GET inspects,
// DELETE deactivates (codes are never physically removed).
func (h *Handler) Promos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createPromo(w, r)
	case http.MethodGet:
		h.getPromo(w, r)
	case http.MethodDelete:
		h.deletePromo(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) createPromo(w http.ResponseWriter, r *http.Request) {
	var req createPromoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Code = strings.TrimSpace(strings.ToUpper(req.Code))
	if req.Code == "" {
		http.Error(w, "code required", http.StatusBadRequest)
		return
	}

	kind := promo.Type(strings.TrimSpace(strings.ToUpper(req.Type)))
	if kind == "" {
		kind = promo.TypePromo
	}
	if kind != promo.TypePromo && kind != promo.TypeCredit {
		http.Error(w, "type must be PROMO or CREDIT", http.StatusUnprocessableEntity)
		return
	}
	valueType := promo.ValueType(strings.TrimSpace(strings.ToUpper(req.ValueType)))
	if valueType != promo.ValuePercent && valueType != promo.ValueFixed {
		http.Error(w, "value_type must be PERCENT or FIXED", http.StatusUnprocessableEntity)
		return
	}
	if req.Value <= 0 {
		http.Error(w, "value must be positive", http.StatusUnprocessableEntity)
		return
	}
	if valueType == promo.ValuePercent && req.Value > 100 {
		http.Error(w, "percent value must not exceed 100", http.StatusUnprocessableEntity)
		return
	}

	var startAt, expiresAt *time.Time
	if raw := strings.TrimSpace(req.StartAt); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid start_at", http.StatusBadRequest)
			return
		}
		t = t.UTC()
		startAt = &t
	}
	if raw := strings.TrimSpace(req.ExpiresAt); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid expires_at", http.StatusBadRequest)
			return
		}
		t = t.UTC()
		expiresAt = &t
	}
	if startAt != nil && expiresAt != nil && !expiresAt.After(*startAt) {
		http.Error(w, "expires_at must be after start_at", http.StatusUnprocessableEntity)
		return
	}

	id, err := h.repo.CreatePromo(r.Context(), promo.Code{
		Code:           req.Code,
		Type:           kind,
		ValueType:      valueType,
		Value:          req.Value,
		StartAt:        startAt,
		ExpiresAt:      expiresAt,
		UsageLimit:     req.UsageLimit,
		UserUsageLimit: req.UserUsageLimit,
		AllowedExperts: req.AllowedExperts,
		AllowedUsers:   req.AllowedUsers,
		Status:         promo.StatusActive,
	})
	if err != nil {
		h.logger.Error("create promo failed", "code", req.Code, "err", err)
		http.Error(w, "failed to create promo code", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"promo_id": id, "code": req.Code})
}

func (h *Handler) getPromo(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("code")))
	if code == "" {
		http.Error(w, "code required", http.StatusBadRequest)
		return
	}
	c, err := h.repo.GetPromo(r.Context(), code)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "promo code not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load promo code", http.StatusInternalServerError)
		return
	}

	out := map[string]any{
		"promo_id":         c.ID,
		"code":             c.Code,
		"type":             string(c.Type),
		"value_type":       string(c.ValueType),
		"value":            c.Value,
		"usage_limit":      c.UsageLimit,
		"user_usage_limit": c.UserUsageLimit,
		"allowed_experts":  c.AllowedExperts,
		"allowed_users":    c.AllowedUsers,
		"status":           string(c.Status),
	}
	if c.StartAt != nil {
		out["start_at"] = c.StartAt.UTC().Format(time.RFC3339)
	}
	if c.ExpiresAt != nil {
		out["expires_at"] = c.ExpiresAt.UTC().Format(time.RFC3339)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (h *Handler) deletePromo(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("code")))
	if code == "" {
		http.Error(w, "code required", http.StatusBadRequest)
		return
	}
	if err := h.repo.DeactivatePromo(r.Context(), code); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "promo code not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to deactivate promo code", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
