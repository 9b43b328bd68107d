package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/experchat/experchat/services/booking-service/internal/model"
	"github.com/experchat/experchat/services/booking-service/internal/outbox"
)

// Call events go to the counterpart of whoever acted: the expert's devices
// ring on "calling", the user's devices learn about accept/decline/delay.
var eventTarget = map[string]string{
	"calling":   "expert",
	"accepted":  "user",
	"declined":  "user",
	"delayed":   "user",
	"completed": "user",
	"cancelled": "expert",
}

// Publisher writes structured call events to the outbox; the outbox publisher
// fans them out to Kafka, one topic per event type. Delivery confirmation is
// never awaited.
type Publisher struct {
	outbox *outbox.Repository
}

func NewPublisher(outboxRepo *outbox.Repository) *Publisher {
	return &Publisher{outbox: outboxRepo}
}

func (p *Publisher) CallEvent(ctx context.Context, tx pgx.Tx, s *model.Session, event string, extra map[string]any) error {
	targetUserID := s.ExpertID
	targetType := eventTarget[event]
	if targetType == "user" {
		targetUserID = s.UserID
	} else if targetType == "" {
		targetType = "expert"
	}

	payload := map[string]any{
		"session_id":        s.ID,
		"expert_id":         s.ExpertID,
		"user_id":           s.UserID,
		"target_user_id":    targetUserID,
		"target_user_type":  targetType,
		"call_status":       string(s.Status),
		"scheduled_at":      s.ScheduledAt.UTC().Format(time.RFC3339),
		"scheduled_minutes": s.ScheduledMinutes,
	}
	if s.StartedAt != nil {
		payload["started_at"] = s.StartedAt.UTC().Format(time.RFC3339)
	}
	if s.EndedAt != nil {
		payload["ended_at"] = s.EndedAt.UTC().Format(time.RFC3339)
	}
	for k, v := range extra {
		payload[k] = v
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "session",
		AggregateID:   s.ID,
		EventType:     "consult.call." + event + ".v1",
		Payload:       body,
	})
}
