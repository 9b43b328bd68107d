package tasks

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/experchat/experchat/services/booking-service/internal/jobs"
	"github.com/experchat/experchat/services/booking-service/internal/model"
	"github.com/experchat/experchat/services/booking-service/internal/outbox"
	"github.com/experchat/experchat/services/booking-service/internal/session"
	"github.com/experchat/experchat/services/booking-service/internal/storage"
)

const (
	settlementEventType   = "billing.settlement.requested.v1"
	cancellationEventType = "billing.cancellation.requested.v1"
)

// Handlers holds the deferred-work handlers for the session job queue.
// Each handler runs inside the worker's transaction and must tolerate
// replays: a crash after partial work re-delivers the job.
type Handlers struct {
	sessions *storage.SessionRepository
	stats    *storage.StatsRepository
	outbox   *outbox.Repository
	notifier session.Notifier
	cfg      session.Config

	// PerExtensionCents prices one extension quantum at settlement time.
	perExtensionCents int64

	logger *slog.Logger
}

func NewHandlers(
	sessions *storage.SessionRepository,
	stats *storage.StatsRepository,
	outboxRepo *outbox.Repository,
	notifier session.Notifier,
	cfg session.Config,
	perExtensionCents int64,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		sessions:          sessions,
		stats:             stats,
		outbox:            outboxRepo,
		notifier:          notifier,
		cfg:               cfg,
		perExtensionCents: perExtensionCents,
		logger:            logger,
	}
}

func (h *Handlers) Register(w *jobs.Worker) {
	w.Register(session.TaskRevenue, h.Revenue)
	w.Register(session.TaskPaymentCancel, h.PaymentCancel)
	w.Register(session.TaskMissedCall, h.MissedCall)
}

// Revenue finalises a completed call: it prices the measured call length,
// records the expert's daily stats and asks billing to settle or release
// the payment hold.
func (h *Handlers) Revenue(ctx context.Context, tx pgx.Tx, job jobs.Job) error {
	s, err := h.sessions.GetForUpdate(ctx, tx, job.SessionID)
	if err != nil {
		if storage.IsNotFound(err) {
			h.logger.Warn("revenue job for missing session", "session_id", job.SessionID)
			return nil
		}
		return err
	}
	if s.Status != model.CallCompleted {
		return nil
	}

	s.RevenueCents = session.Revenue(
		s.CallSeconds, s.ScheduledMinutes, s.ExtendedSeconds,
		s.EstimatedRevenueCents, h.perExtensionCents, h.cfg,
	)
	if err := h.sessions.UpdateState(ctx, tx, &s); err != nil {
		return err
	}

	day := s.ScheduledAt
	if s.StartedAt != nil {
		day = *s.StartedAt
	}
	if err := h.stats.AddCall(ctx, tx, s.ExpertID, day.UTC().Truncate(24*time.Hour), s.CallSeconds, s.RevenueCents); err != nil {
		return err
	}

	if s.TransactionID == "" {
		return nil
	}
	if s.RevenueCents == 0 {
		// Nothing earned, so the pre-authorisation is released instead of
		// captured.
		return h.requestCancellation(ctx, tx, &s, "zero_revenue")
	}
	payload, err := json.Marshal(map[string]any{
		"session_id":     s.ID,
		"transaction_id": s.TransactionID,
		"amount_cents":   s.RevenueCents,
		"call_seconds":   s.CallSeconds,
	})
	if err != nil {
		return err
	}
	return h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "session",
		AggregateID:   s.ID,
		EventType:     settlementEventType,
		Payload:       payload,
	})
}

// PaymentCancel releases the payment hold of a cancelled session.
func (h *Handlers) PaymentCancel(ctx context.Context, tx pgx.Tx, job jobs.Job) error {
	s, err := h.sessions.GetForUpdate(ctx, tx, job.SessionID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil
		}
		return err
	}
	if s.TransactionID == "" {
		return nil
	}
	return h.requestCancellation(ctx, tx, &s, "cancelled")
}

// MissedCall fires at the end of the grace period after the scheduled start.
// A session still sitting in scheduled state was never initiated, and a ring
// nobody answered by the deadline is equally dead, so the session is
// soft-deleted, its hold released and the counterpart told the call fell
// through. An accepted call has StartedAt set and is never touched.
func (h *Handlers) MissedCall(ctx context.Context, tx pgx.Tx, job jobs.Job) error {
	s, err := h.sessions.GetForUpdate(ctx, tx, job.SessionID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil
		}
		return err
	}
	stillWaiting := s.Status == model.CallScheduled ||
		(s.Status == model.CallInitiated && s.StartedAt == nil)
	if s.Deleted || !stillWaiting {
		return nil
	}

	s.Deleted = true
	if err := h.sessions.UpdateState(ctx, tx, &s); err != nil {
		return err
	}
	if s.TransactionID != "" {
		if err := h.requestCancellation(ctx, tx, &s, "missed"); err != nil {
			return err
		}
	}
	return h.notifier.CallEvent(ctx, tx, &s, session.EventCancelled, map[string]any{"reason": "missed"})
}

func (h *Handlers) requestCancellation(ctx context.Context, tx pgx.Tx, s *model.Session, reason string) error {
	payload, err := json.Marshal(map[string]any{
		"session_id":     s.ID,
		"transaction_id": s.TransactionID,
		"reason":         reason,
	})
	if err != nil {
		return err
	}
	return h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "session",
		AggregateID:   s.ID,
		EventType:     cancellationEventType,
		Payload:       payload,
	})
}
