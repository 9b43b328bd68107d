package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/experchat/experchat/services/billing-service/internal/gateway"
	"github.com/experchat/experchat/services/billing-service/internal/outbox"
	"github.com/experchat/experchat/services/billing-service/internal/storage"
)

const (
	SettlementTopic   = "billing.settlement.requested.v1"
	CancellationTopic = "billing.cancellation.requested.v1"
)

// Processor applies settlement and cancellation requests from the booking
// side to the payment gateway. A transaction only ever leaves UNSETTLED once;
// redelivered requests find it already moved and do nothing.
type Processor struct {
	repo       *storage.Repository
	outboxRepo *outbox.Repository
	gateway    gateway.Gateway
	logger     *slog.Logger
}

func NewProcessor(repo *storage.Repository, outboxRepo *outbox.Repository, gw gateway.Gateway, logger *slog.Logger) *Processor {
	return &Processor{
		repo:       repo,
		outboxRepo: outboxRepo,
		gateway:    gw,
		logger:     logger,
	}
}

type settlementRequest struct {
	SessionID     string `json:"session_id"`
	TransactionID string `json:"transaction_id"`
	AmountCents   int64  `json:"amount_cents"`
	CallSeconds   int    `json:"call_seconds"`
}

// HandleSettlement captures the hold for the earned amount. The captured
// amount never exceeds the authorized hold; revenue past the hold (late
// extensions) is forfeited rather than failing the capture.
func (p *Processor) HandleSettlement(ctx context.Context, msg kafka.Message) error {
	var req settlementRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		p.logger.Error("invalid settlement payload", "err", err)
		return nil
	}
	if strings.TrimSpace(req.TransactionID) == "" || req.AmountCents <= 0 {
		p.logger.Error("settlement request missing fields", "session_id", req.SessionID)
		return nil
	}

	tx, err := p.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	txn, err := p.repo.GetTransactionForUpdate(ctx, tx, req.TransactionID)
	if err != nil {
		if storage.IsNotFound(err) {
			p.logger.Warn("settlement for unknown transaction", "transaction_id", req.TransactionID)
			return nil
		}
		return err
	}
	if txn.Status != storage.TxnUnsettled {
		return nil
	}

	amount := req.AmountCents
	if amount > txn.AmountCents {
		amount = txn.AmountCents
	}

	if err := p.gateway.Capture(ctx, txn.GatewayRef, amount); err != nil {
		if errors.Is(err, gateway.ErrUnavailable) {
			return err
		}
		p.logger.Error("capture failed", "transaction_id", txn.ID, "err", err)
		if err := p.repo.UpdateTransactionStatus(ctx, tx, txn.ID, storage.TxnFailed, 0); err != nil {
			return err
		}
		return p.finish(ctx, tx, txn, "billing.transaction.failed.v1", 0)
	}

	if err := p.repo.UpdateTransactionStatus(ctx, tx, txn.ID, storage.TxnSettled, amount); err != nil {
		return err
	}
	return p.finish(ctx, tx, txn, "billing.transaction.settled.v1", amount)
}

type cancellationRequest struct {
	SessionID     string `json:"session_id"`
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

// HandleCancellation releases the hold of a cancelled or worthless session.
func (p *Processor) HandleCancellation(ctx context.Context, msg kafka.Message) error {
	var req cancellationRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		p.logger.Error("invalid cancellation payload", "err", err)
		return nil
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		p.logger.Error("cancellation request missing transaction id", "session_id", req.SessionID)
		return nil
	}

	tx, err := p.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	txn, err := p.repo.GetTransactionForUpdate(ctx, tx, req.TransactionID)
	if err != nil {
		if storage.IsNotFound(err) {
			p.logger.Warn("cancellation for unknown transaction", "transaction_id", req.TransactionID)
			return nil
		}
		return err
	}
	if txn.Status != storage.TxnUnsettled {
		return nil
	}

	if err := p.gateway.Cancel(ctx, txn.GatewayRef); err != nil {
		if errors.Is(err, gateway.ErrUnavailable) {
			return err
		}
		p.logger.Error("hold release failed", "transaction_id", txn.ID, "err", err)
		if err := p.repo.UpdateTransactionStatus(ctx, tx, txn.ID, storage.TxnFailed, 0); err != nil {
			return err
		}
		return p.finish(ctx, tx, txn, "billing.transaction.failed.v1", 0)
	}

	if err := p.repo.UpdateTransactionStatus(ctx, tx, txn.ID, storage.TxnCancelled, 0); err != nil {
		return err
	}
	return p.finish(ctx, tx, txn, "billing.transaction.cancelled.v1", 0)
}

func (p *Processor) finish(ctx context.Context, tx pgx.Tx, txn storage.Transaction, eventType string, settledCents int64) error {
	meta, _ := json.Marshal(map[string]any{
		"session_id":    txn.SessionID,
		"settled_cents": settledCents,
		"gateway_ref":   txn.GatewayRef,
	})
	if err := p.repo.InsertAuditEvent(ctx, tx, storage.AuditEvent{
		EventType:     eventType,
		ActorType:     "system",
		TransactionID: txn.ID,
		Metadata:      meta,
	}); err != nil {
		p.logger.Error("audit insert failed", "transaction_id", txn.ID, "err", err)
	}

	payload, err := json.Marshal(map[string]any{
		"transaction_id": txn.ID,
		"session_id":     txn.SessionID,
		"user_id":        txn.UserID,
		"amount_cents":   txn.AmountCents,
		"settled_cents":  settledCents,
	})
	if err != nil {
		return err
	}
	if err := p.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "transaction",
		AggregateID:   txn.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
