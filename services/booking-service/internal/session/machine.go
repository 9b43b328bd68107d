package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/experchat/experchat/services/booking-service/internal/model"
)

// Notifier publishes a structured call event to the counterpart's devices.
// Delivery is fire-and-forget; the machine never waits for confirmation.
type Notifier interface {
	CallEvent(ctx context.Context, tx pgx.Tx, s *model.Session, event string, extra map[string]any) error
}

// VideoProvider creates media sessions and access tokens on demand.
type VideoProvider interface {
	CreateSession(ctx context.Context) (string, error)
	GenerateToken(ctx context.Context, sessionID string, expiresAt time.Time) (string, error)
}

// TaskScheduler enqueues background work keyed by session id, optionally
// deferred to runAt. Tasks must be idempotent; the queue deduplicates on
// (kind, session id).
type TaskScheduler interface {
	Schedule(ctx context.Context, tx pgx.Tx, kind, sessionID string, runAt time.Time) error
}

// Task kinds the machine schedules.
const (
	TaskRevenue       = "revenue"        // revenue + daily stats + settlement request
	TaskPaymentCancel = "payment_cancel" // release the pre-authorization
	TaskMissedCall    = "missed_call"    // grace-period timer armed at scheduling
)

// Call event names. The notifier maps them onto outbox event types.
const (
	EventCalling   = "calling"
	EventAccepted  = "accepted"
	EventDeclined  = "declined"
	EventDelayed   = "delayed"
	EventCompleted = "completed"
	EventCancelled = "cancelled"
)

// Config carries the state machine tunables.
type Config struct {
	ExtensionQuantum time.Duration // duration one Extend call adds
	MinRevenueLength time.Duration // calls at or under this earn nothing
	MinStatsLength   time.Duration // calls over this enter revenue/stats jobs
	GracePeriod      time.Duration // missed-call timer offset past the slot start
	TokenTTL         time.Duration // video access token lifetime
}

func DefaultConfig() Config {
	return Config{
		ExtensionQuantum: 10 * time.Minute,
		MinRevenueLength: 5 * time.Minute,
		MinStatsLength:   10 * time.Second,
		GracePeriod:      5 * time.Minute,
		TokenTTL:         24 * time.Hour,
	}
}

// Machine governs the call lifecycle of a single session. Guard checks and
// the mutation they protect are assumed to run under one row lock held by the
// caller (load FOR UPDATE, transition, persist, commit).
//
// Invalid transitions are silent no-ops: every method reports
// whether it changed the session, and callers inspect the resulting status
// rather than handling an error.
type Machine struct {
	notifier Notifier
	video    VideoProvider
	tasks    TaskScheduler
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewMachine(notifier Notifier, video VideoProvider, tasks TaskScheduler, cfg Config, logger *slog.Logger) *Machine {
	if cfg.ExtensionQuantum <= 0 {
		cfg.ExtensionQuantum = DefaultConfig().ExtensionQuantum
	}
	if cfg.MinRevenueLength <= 0 {
		cfg.MinRevenueLength = DefaultConfig().MinRevenueLength
	}
	if cfg.MinStatsLength <= 0 {
		cfg.MinStatsLength = DefaultConfig().MinStatsLength
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultConfig().GracePeriod
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultConfig().TokenTTL
	}
	return &Machine{
		notifier: notifier,
		video:    video,
		tasks:    tasks,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Initiate marks the session as ringing and notifies the expert's devices.
// Allowed from any state.
func (m *Machine) Initiate(ctx context.Context, tx pgx.Tx, s *model.Session) (bool, error) {
	s.Status = model.CallInitiated
	if err := m.notifier.CallEvent(ctx, tx, s, EventCalling, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Reconnect re-enters the ringing state after a dropped connection. It is a
// no-op when the session is soft-deleted, still only scheduled, or the booked
// window has already elapsed.
func (m *Machine) Reconnect(ctx context.Context, tx pgx.Tx, s *model.Session) (bool, error) {
	if s.Deleted || s.Status == model.CallScheduled || !s.ScheduledEnd().After(m.now()) {
		return false, nil
	}
	s.Status = model.CallInitiated
	if err := m.notifier.CallEvent(ctx, tx, s, EventCalling, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Accept answers a ringing call on the given device, lazily creating the
// media session, and publishes the access token back to both parties.
func (m *Machine) Accept(ctx context.Context, tx pgx.Tx, s *model.Session, device string) (bool, error) {
	if s.Status != model.CallInitiated {
		return false, nil
	}
	if s.VideoSessionID == "" {
		sessionID, err := m.video.CreateSession(ctx)
		if err != nil {
			return false, err
		}
		s.VideoSessionID = sessionID
	}
	now := m.now()
	s.Status = model.CallAccepted
	s.StartedAt = &now

	token, err := m.video.GenerateToken(ctx, s.VideoSessionID, now.Add(m.cfg.TokenTTL))
	if err != nil {
		return false, err
	}
	extra := map[string]any{
		"video_session_id": s.VideoSessionID,
		"token":            token,
		"device":           device,
	}
	if err := m.notifier.CallEvent(ctx, tx, s, EventAccepted, extra); err != nil {
		return false, err
	}
	return true, nil
}

// Decline rejects a ringing call.
func (m *Machine) Decline(ctx context.Context, tx pgx.Tx, s *model.Session) (bool, error) {
	if s.Status != model.CallInitiated {
		return false, nil
	}
	now := m.now()
	s.Status = model.CallDeclined
	s.EndedAt = &now
	if err := m.notifier.CallEvent(ctx, tx, s, EventDeclined, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Delay postpones a ringing call by delayMinutes.
func (m *Machine) Delay(ctx context.Context, tx pgx.Tx, s *model.Session, delayMinutes int) (bool, error) {
	if s.Status != model.CallInitiated {
		return false, nil
	}
	now := m.now()
	s.Status = model.CallDelayed
	s.EndedAt = &now
	extra := map[string]any{"delay_minutes": delayMinutes}
	if err := m.notifier.CallEvent(ctx, tx, s, EventDelayed, extra); err != nil {
		return false, err
	}
	return true, nil
}

// Disconnect completes a live or ringing call. When the stored media-session
// length is zero the initiator-reported length is adopted. The extension
// credit is corrected against the measured length, and calls longer than the
// stats threshold are handed to the revenue job (daily stats aggregation and
// payment settlement ride along with it).
func (m *Machine) Disconnect(ctx context.Context, tx pgx.Tx, s *model.Session, initiator string, reportedSeconds int) (bool, error) {
	if s.Status != model.CallAccepted && s.Status != model.CallInitiated {
		return false, nil
	}
	now := m.now()
	s.Status = model.CallCompleted
	s.EndedAt = &now
	if s.CallSeconds == 0 {
		s.CallSeconds = reportedSeconds
	}
	s.ExtendedSeconds = FixExtendedDuration(s.ExtendedSeconds, s.CallSeconds, s.ScheduledMinutes, m.cfg.ExtensionQuantum)

	if time.Duration(s.CallSeconds)*time.Second > m.cfg.MinStatsLength {
		if err := m.tasks.Schedule(ctx, tx, TaskRevenue, s.ID, now); err != nil {
			return false, err
		}
	}
	extra := map[string]any{
		"initiator":    initiator,
		"call_seconds": s.CallSeconds,
	}
	if err := m.notifier.CallEvent(ctx, tx, s, EventCompleted, extra); err != nil {
		return false, err
	}
	return true, nil
}

// Extend grants one more extension quantum on a live call.
func (m *Machine) Extend(s *model.Session) bool {
	if s.Status != model.CallAccepted {
		return false
	}
	s.ExtendedSeconds += int(m.cfg.ExtensionQuantum.Seconds())
	return true
}

// Cancel soft-deletes a still-future scheduled booking and hands the
// pre-authorization release to the payment-cancel job.
func (m *Machine) Cancel(ctx context.Context, tx pgx.Tx, s *model.Session) (bool, error) {
	if s.Status != model.CallScheduled || !s.ScheduledAt.After(m.now()) {
		return false, nil
	}
	s.Deleted = true
	if err := m.tasks.Schedule(ctx, tx, TaskPaymentCancel, s.ID, m.now()); err != nil {
		return false, err
	}
	if err := m.notifier.CallEvent(ctx, tx, s, EventCancelled, nil); err != nil {
		return false, err
	}
	return true, nil
}
