package session

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/experchat/experchat/services/booking-service/internal/model"
)

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) CallEvent(_ context.Context, _ pgx.Tx, _ *model.Session, event string, _ map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

type fakeVideo struct {
	sessions int
}

func (f *fakeVideo) CreateSession(context.Context) (string, error) {
	f.sessions++
	return "vs-123", nil
}

func (f *fakeVideo) GenerateToken(_ context.Context, sessionID string, _ time.Time) (string, error) {
	return "tok-" + sessionID, nil
}

type fakeTasks struct {
	kinds []string
	etas  []time.Time
}

func (f *fakeTasks) Schedule(_ context.Context, _ pgx.Tx, kind, _ string, runAt time.Time) error {
	f.kinds = append(f.kinds, kind)
	f.etas = append(f.etas, runAt)
	return nil
}

func newTestMachine(now time.Time) (*Machine, *fakeNotifier, *fakeVideo, *fakeTasks) {
	notifier := &fakeNotifier{}
	video := &fakeVideo{}
	tasks := &fakeTasks{}
	m := NewMachine(notifier, video, tasks, DefaultConfig(), slog.Default())
	m.now = func() time.Time { return now }
	return m, notifier, video, tasks
}

func instantSession() *model.Session {
	return &model.Session{
		ID:               "s1",
		ExpertID:         "e1",
		UserID:           "u1",
		ScheduledAt:      time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		ScheduledMinutes: 20,
		Status:           model.CallInitiated,
	}
}

func TestAccept_FromInitiated(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 30, 0, time.UTC)
	m, notifier, video, _ := newTestMachine(now)
	s := instantSession()

	changed, err := m.Accept(context.Background(), nil, s, "device-1")
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if !changed {
		t.Fatal("expected Accept to transition the session")
	}
	if s.Status != model.CallAccepted {
		t.Fatalf("expected accepted, got %s", s.Status)
	}
	if s.StartedAt == nil || !s.StartedAt.Equal(now) {
		t.Fatalf("expected start timestamp %s, got %v", now, s.StartedAt)
	}
	if s.VideoSessionID != "vs-123" || video.sessions != 1 {
		t.Fatalf("expected lazy video session creation, got %q after %d calls", s.VideoSessionID, video.sessions)
	}
	if len(notifier.events) != 1 || notifier.events[0] != EventAccepted {
		t.Fatalf("expected accepted event, got %v", notifier.events)
	}
}

func TestAccept_ReusesExistingVideoSession(t *testing.T) {
	m, _, video, _ := newTestMachine(time.Now().UTC())
	s := instantSession()
	s.VideoSessionID = "vs-existing"

	if _, err := m.Accept(context.Background(), nil, s, "device-1"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if video.sessions != 0 {
		t.Fatal("expected no new video session when one already exists")
	}
	if s.VideoSessionID != "vs-existing" {
		t.Fatalf("video session id overwritten: %s", s.VideoSessionID)
	}
}

func TestDecline_AfterAcceptIsNoOp(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 30, 0, time.UTC)
	m, notifier, _, _ := newTestMachine(now)
	s := instantSession()

	if _, err := m.Accept(context.Background(), nil, s, "device-1"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	changed, err := m.Decline(context.Background(), nil, s)
	if err != nil {
		t.Fatalf("Decline failed: %v", err)
	}
	if changed {
		t.Fatal("expected Decline on an accepted call to be a no-op")
	}
	if s.Status != model.CallAccepted {
		t.Fatalf("status changed to %s", s.Status)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("no-op must not notify, got %v", notifier.events)
	}
}

func TestDecline_FromInitiated(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 30, 0, time.UTC)
	m, _, _, _ := newTestMachine(now)
	s := instantSession()

	changed, err := m.Decline(context.Background(), nil, s)
	if err != nil {
		t.Fatalf("Decline failed: %v", err)
	}
	if !changed || s.Status != model.CallDeclined {
		t.Fatalf("expected declined, got %s", s.Status)
	}
	if s.EndedAt == nil || !s.EndedAt.Equal(now) {
		t.Fatalf("expected end timestamp %s, got %v", now, s.EndedAt)
	}
}

func TestDelay_FromInitiated(t *testing.T) {
	m, notifier, _, _ := newTestMachine(time.Now().UTC())
	s := instantSession()

	changed, err := m.Delay(context.Background(), nil, s, 15)
	if err != nil {
		t.Fatalf("Delay failed: %v", err)
	}
	if !changed || s.Status != model.CallDelayed {
		t.Fatalf("expected delayed, got %s", s.Status)
	}
	if s.EndedAt == nil {
		t.Fatal("expected end timestamp")
	}
	if len(notifier.events) != 1 || notifier.events[0] != EventDelayed {
		t.Fatalf("expected delayed event, got %v", notifier.events)
	}
}

func TestReconnect_Guards(t *testing.T) {
	scheduledAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		mutate  func(*model.Session)
		now     time.Time
		allowed bool
	}{
		{
			name:    "within window",
			mutate:  func(s *model.Session) { s.Status = model.CallDelayed },
			now:     scheduledAt.Add(5 * time.Minute),
			allowed: true,
		},
		{
			name:    "soft deleted",
			mutate:  func(s *model.Session) { s.Deleted = true },
			now:     scheduledAt.Add(5 * time.Minute),
			allowed: false,
		},
		{
			name:    "still scheduled",
			mutate:  func(s *model.Session) { s.Status = model.CallScheduled },
			now:     scheduledAt.Add(5 * time.Minute),
			allowed: false,
		},
		{
			name:    "window elapsed",
			mutate:  func(s *model.Session) { s.Status = model.CallAccepted },
			now:     scheduledAt.Add(21 * time.Minute),
			allowed: false,
		},
	}
	for _, tc := range cases {
		m, _, _, _ := newTestMachine(tc.now)
		s := instantSession()
		s.ScheduledAt = scheduledAt
		tc.mutate(s)

		changed, err := m.Reconnect(context.Background(), nil, s)
		if err != nil {
			t.Fatalf("%s: Reconnect failed: %v", tc.name, err)
		}
		if changed != tc.allowed {
			t.Fatalf("%s: expected allowed=%v, got %v", tc.name, tc.allowed, changed)
		}
		if tc.allowed && s.Status != model.CallInitiated {
			t.Fatalf("%s: expected re-entry into initiated, got %s", tc.name, s.Status)
		}
	}
}

func TestDisconnect_AdoptsReportedLengthAndSchedulesRevenue(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 25, 0, 0, time.UTC)
	m, notifier, _, tasks := newTestMachine(now)
	s := instantSession()
	s.Status = model.CallAccepted

	changed, err := m.Disconnect(context.Background(), nil, s, "user", 1200)
	if err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if !changed || s.Status != model.CallCompleted {
		t.Fatalf("expected completed, got %s", s.Status)
	}
	if s.CallSeconds != 1200 {
		t.Fatalf("expected reported length to be adopted, got %d", s.CallSeconds)
	}
	if len(tasks.kinds) != 1 || tasks.kinds[0] != TaskRevenue {
		t.Fatalf("expected revenue task, got %v", tasks.kinds)
	}
	if len(notifier.events) != 1 || notifier.events[0] != EventCompleted {
		t.Fatalf("expected completed event, got %v", notifier.events)
	}
}

func TestDisconnect_ShortCallSkipsRevenueTask(t *testing.T) {
	m, _, _, tasks := newTestMachine(time.Now().UTC())
	s := instantSession()
	s.Status = model.CallAccepted

	if _, err := m.Disconnect(context.Background(), nil, s, "user", 8); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if len(tasks.kinds) != 0 {
		t.Fatalf("expected no tasks for an 8-second call, got %v", tasks.kinds)
	}
}

func TestDisconnect_RefundsUnconsumedExtension(t *testing.T) {
	m, _, _, _ := newTestMachine(time.Now().UTC())
	s := instantSession()
	s.Status = model.CallAccepted
	s.ExtendedSeconds = 1200            // two quanta requested
	reported := s.ScheduledMinutes*60 + 400 // only ~one quantum consumed

	if _, err := m.Disconnect(context.Background(), nil, s, "user", reported); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if s.ExtendedSeconds != 600 {
		t.Fatalf("expected one quantum refunded (600s), got %d", s.ExtendedSeconds)
	}
}

func TestExtend_OnlyWhileAccepted(t *testing.T) {
	m, _, _, _ := newTestMachine(time.Now().UTC())
	s := instantSession()

	if m.Extend(s) {
		t.Fatal("expected Extend on a ringing call to be refused")
	}
	s.Status = model.CallAccepted
	if !m.Extend(s) {
		t.Fatal("expected Extend on a live call to succeed")
	}
	if s.ExtendedSeconds != 600 {
		t.Fatalf("expected one quantum (600s), got %d", s.ExtendedSeconds)
	}
	if !m.Extend(s) || s.ExtendedSeconds != 1200 {
		t.Fatalf("expected two quanta (1200s), got %d", s.ExtendedSeconds)
	}
}

func TestCancel_ScheduledAndFutureOnly(t *testing.T) {
	scheduledAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	m, _, _, tasks := newTestMachine(scheduledAt.Add(-time.Hour))
	s := instantSession()
	s.ScheduledAt = scheduledAt
	s.Status = model.CallScheduled

	changed, err := m.Cancel(context.Background(), nil, s)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if !changed || !s.Deleted {
		t.Fatal("expected soft delete of a future scheduled session")
	}
	if len(tasks.kinds) != 1 || tasks.kinds[0] != TaskPaymentCancel {
		t.Fatalf("expected payment-cancel task, got %v", tasks.kinds)
	}

	// Past-dated or already-started sessions cannot be cancelled.
	m2, _, _, tasks2 := newTestMachine(scheduledAt.Add(time.Minute))
	s2 := instantSession()
	s2.ScheduledAt = scheduledAt
	s2.Status = model.CallScheduled
	if changed, _ := m2.Cancel(context.Background(), nil, s2); changed || s2.Deleted {
		t.Fatal("expected cancel of a past slot to be a no-op")
	}
	if len(tasks2.kinds) != 0 {
		t.Fatalf("no-op cancel must not schedule tasks, got %v", tasks2.kinds)
	}
}

func TestInitiate_PublishesCalling(t *testing.T) {
	m, notifier, _, _ := newTestMachine(time.Now().UTC())
	s := instantSession()
	s.Status = model.CallScheduled

	changed, err := m.Initiate(context.Background(), nil, s)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if !changed || s.Status != model.CallInitiated {
		t.Fatalf("expected initiated, got %s", s.Status)
	}
	if len(notifier.events) != 1 || notifier.events[0] != EventCalling {
		t.Fatalf("expected calling event, got %v", notifier.events)
	}
}
