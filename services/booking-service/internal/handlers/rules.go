package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/experchat/experchat/services/booking-service/internal/model"
	"github.com/experchat/experchat/services/booking-service/internal/slots"
	"github.com/experchat/experchat/services/booking-service/internal/storage"
)

type RulesHandler struct {
	repo   *storage.RulesRepository
	cfg    slots.Config
	logger *slog.Logger
}

func NewRulesHandler(repo *storage.RulesRepository, cfg slots.Config, logger *slog.Logger) *RulesHandler {
	return &RulesHandler{repo: repo, cfg: cfg, logger: logger}
}

type createRuleRequest struct {
	ExpertID  string `json:"expert_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Weekdays  []int  `json:"weekdays"`
	Timezone  string `json:"timezone"`
}

type ruleItem struct {
	RuleID    string `json:"rule_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Weekdays  []int  `json:"weekdays"`
	Timezone  string `json:"timezone"`
	CreatedAt string `json:"created_at"`
}

// Rules serves the expert's availability rule collection: POST creates,
// GET lists, DELETE removes.
func (h *RulesHandler) Rules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	case http.MethodDelete:
		h.delete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *RulesHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ExpertID = strings.TrimSpace(req.ExpertID)
	req.StartTime = strings.TrimSpace(req.StartTime)
	req.EndTime = strings.TrimSpace(req.EndTime)
	req.Timezone = strings.TrimSpace(req.Timezone)
	if req.ExpertID == "" {
		http.Error(w, "expert_id required", http.StatusBadRequest)
		return
	}

	start, err := slots.ParseClockTime(req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time, want HH:MM", http.StatusBadRequest)
		return
	}
	end, err := slots.ParseClockTime(req.EndTime)
	if err != nil {
		http.Error(w, "invalid end_time, want HH:MM", http.StatusBadRequest)
		return
	}
	rule := slots.Rule{
		Start:    start,
		End:      end,
		Weekdays: req.Weekdays,
		Timezone: req.Timezone,
	}
	if err := rule.Validate(h.cfg); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	stored := &model.AvailabilityRule{
		ExpertID:  req.ExpertID,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Weekdays:  req.Weekdays,
		Timezone:  req.Timezone,
	}
	id, err := h.repo.Create(r.Context(), stored)
	if err != nil {
		h.logger.Error("create availability rule failed", "expert_id", req.ExpertID, "err", err)
		http.Error(w, "failed to create rule", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"rule_id": id})
}

func (h *RulesHandler) list(w http.ResponseWriter, r *http.Request) {
	expertID := strings.TrimSpace(r.URL.Query().Get("expert_id"))
	if expertID == "" {
		http.Error(w, "expert_id required", http.StatusBadRequest)
		return
	}

	rules, err := h.repo.ListByExpert(r.Context(), expertID)
	if err != nil {
		http.Error(w, "failed to list rules", http.StatusInternalServerError)
		return
	}

	items := make([]ruleItem, 0, len(rules))
	for _, rule := range rules {
		items = append(items, ruleItem{
			RuleID:    rule.ID,
			StartTime: rule.StartTime,
			EndTime:   rule.EndTime,
			Weekdays:  rule.Weekdays,
			Timezone:  rule.Timezone,
			CreatedAt: rule.CreatedAt.UTC().Format(timeLayout),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(items)
}

func (h *RulesHandler) delete(w http.ResponseWriter, r *http.Request) {
	expertID := strings.TrimSpace(r.URL.Query().Get("expert_id"))
	ruleID := strings.TrimSpace(r.URL.Query().Get("rule_id"))
	if expertID == "" || ruleID == "" {
		http.Error(w, "expert_id and rule_id required", http.StatusBadRequest)
		return
	}

	if err := h.repo.Delete(r.Context(), expertID, ruleID); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "rule not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to delete rule", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
