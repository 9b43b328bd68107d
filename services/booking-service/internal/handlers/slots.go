package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/experchat/experchat/services/booking-service/internal/pricing"
	"github.com/experchat/experchat/services/booking-service/internal/slots"
	"github.com/experchat/experchat/services/booking-service/internal/storage"
)

const timeLayout = time.RFC3339

type SlotsHandler struct {
	rules    *storage.RulesRepository
	sessions *storage.SessionRepository
	prices   pricing.Table
	cfg      slots.Config
	logger   *slog.Logger

	now func() time.Time
}

func NewSlotsHandler(rules *storage.RulesRepository, sessions *storage.SessionRepository, prices pricing.Table, cfg slots.Config, logger *slog.Logger) *SlotsHandler {
	return &SlotsHandler{
		rules:    rules,
		sessions: sessions,
		prices:   prices,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type durationSlots struct {
	Minutes    int             `json:"minutes"`
	PriceCents int64           `json:"price_cents"`
	Days       slots.DaySlices `json:"days"`
}

type slotsResponse struct {
	ExpertID  string          `json:"expert_id"`
	Timezone  string          `json:"timezone"`
	Durations []durationSlots `json:"durations"`
}

type combinedResponse struct {
	ExpertID string   `json:"expert_id"`
	Timezone string   `json:"timezone"`
	Starts   []string `json:"starts"`
}

// Slots computes the bookable slot grid for one expert: availability rules
// are expanded over the horizon, merged, reduced by existing bookings and
// sliced per supported duration. With view=combined the per-duration buckets
// are flattened into one chronological list limited to today and tomorrow,
// which feeds the instant-call picker.
func (h *SlotsHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	expertID := strings.TrimSpace(r.URL.Query().Get("expert_id"))
	if expertID == "" {
		http.Error(w, "expert_id required", http.StatusBadRequest)
		return
	}
	tzName := strings.TrimSpace(r.URL.Query().Get("tz"))
	if tzName == "" {
		tzName = "UTC"
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		http.Error(w, "invalid tz", http.StatusBadRequest)
		return
	}

	stored, err := h.rules.ListByExpert(r.Context(), expertID)
	if err != nil {
		http.Error(w, "failed to load availability rules", http.StatusInternalServerError)
		return
	}
	ruleSet := make([]slots.Rule, 0, len(stored))
	for _, rec := range stored {
		start, err := slots.ParseClockTime(rec.StartTime)
		if err != nil {
			h.logger.Error("stored rule has bad start_time", "rule_id", rec.ID, "err", err)
			continue
		}
		end, err := slots.ParseClockTime(rec.EndTime)
		if err != nil {
			h.logger.Error("stored rule has bad end_time", "rule_id", rec.ID, "err", err)
			continue
		}
		ruleSet = append(ruleSet, slots.Rule{
			Start:    start,
			End:      end,
			Weekdays: rec.Weekdays,
			Timezone: rec.Timezone,
		})
	}

	now := h.now()
	free, err := slots.Normalize(ruleSet, now, h.cfg.HorizonWeeks)
	if err != nil {
		http.Error(w, "failed to expand availability rules", http.StatusInternalServerError)
		return
	}
	free = slots.Merge(free)

	booked, err := h.bookedIntervals(r, expertID, now)
	if err != nil {
		http.Error(w, "failed to load bookings", http.StatusInternalServerError)
		return
	}
	free = slots.Subtract(free, booked, h.cfg.MinGap)

	durations := h.prices.Durations()
	buckets := slots.SliceAll(free, durations, loc, now)

	if strings.TrimSpace(r.URL.Query().Get("view")) == "combined" {
		starts := slots.Combine(buckets, loc, now, true)
		out := combinedResponse{ExpertID: expertID, Timezone: tzName, Starts: make([]string, 0, len(starts))}
		for _, s := range starts {
			out.Starts = append(out.Starts, s.Format(timeLayout))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
		return
	}

	resp := slotsResponse{ExpertID: expertID, Timezone: tzName, Durations: make([]durationSlots, 0, len(durations))}
	for _, d := range durations {
		price, _ := h.prices.Price(d)
		days := buckets[d]
		if days == nil {
			days = slots.DaySlices{}
		}
		resp.Durations = append(resp.Durations, durationSlots{Minutes: d, PriceCents: price, Days: days})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *SlotsHandler) bookedIntervals(r *http.Request, expertID string, now time.Time) ([]slots.Interval, error) {
	horizon := now.AddDate(0, 0, 7*h.cfg.HorizonWeeks+1)
	booked, err := h.sessions.ListBookedIntervals(r.Context(), expertID, now.AddDate(0, 0, -1), horizon)
	if err != nil {
		return nil, err
	}
	out := make([]slots.Interval, 0, len(booked))
	for _, s := range booked {
		end := s.ScheduledEnd().Add(time.Duration(s.ExtendedSeconds) * time.Second)
		out = append(out, slots.Interval{Start: s.ScheduledAt.UTC(), End: end.UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
