package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/experchat/experchat/libs/db"
	"github.com/experchat/experchat/services/billing-service/internal/gateway"
	"github.com/experchat/experchat/services/billing-service/internal/storage"
)

// Reconciler releases payment holds that never received a settlement or
// cancellation request. A hold goes stale when the booking side crashes
// between authorizing and committing, or when its outbox event is lost;
// without this sweep the money stays frozen until the gateway expires it.
type Reconciler struct {
	pool        *db.Pool
	repo        *storage.Repository
	gateway     gateway.Gateway
	logger      *slog.Logger
	maxAge      time.Duration
	batchSize   int
	advisoryKey int64
}

type Config struct {
	// MaxAge is how long a hold may stay UNSETTLED before it is released.
	// It must comfortably exceed the longest possible session plus the
	// missed-call grace period.
	MaxAge          time.Duration
	Interval        time.Duration
	BatchSize       int
	AdvisoryLockKey int64
}

func NewReconciler(pool *db.Pool, repo *storage.Repository, gw gateway.Gateway, logger *slog.Logger, cfg Config) *Reconciler {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 48 * time.Hour
	}
	bs := cfg.BatchSize
	if bs <= 0 {
		bs = 50
	}
	lockKey := cfg.AdvisoryLockKey
	if lockKey == 0 {
		// Stable-ish default; override via env if you run multiple billing instances.
		lockKey = 4242002
	}
	return &Reconciler{
		pool:        pool,
		repo:        repo,
		gateway:     gw,
		logger:      logger,
		maxAge:      maxAge,
		batchSize:   bs,
		advisoryKey: lockKey,
	}
}

func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	// Best-effort leader election for multi-instance deployments.
	// Only the instance holding the advisory lock will reconcile.
	for {
		if ctx.Err() != nil {
			return
		}
		var locked bool
		if err := r.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, r.advisoryKey).Scan(&locked); err != nil {
			r.logger.Error("reconcile: failed to acquire advisory lock", "err", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if !locked {
			r.logger.Info("reconcile: advisory lock held by another instance", "lock_key", r.advisoryKey)
			time.Sleep(30 * time.Second)
			continue
		}
		r.logger.Info("reconcile: advisory lock acquired", "lock_key", r.advisoryKey)
		defer func() {
			_, _ = r.pool.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, r.advisoryKey)
		}()
		break
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on startup to self-heal faster after downtime.
	r.reconcileOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileOnce(ctx)
		}
	}
}

func (r *Reconciler) reconcileOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.maxAge)
	stale, err := r.repo.ListStaleUnsettled(ctx, cutoff, r.batchSize)
	if err != nil {
		r.logger.Error("reconcile: failed to list stale holds", "err", err)
		return
	}
	if len(stale) == 0 {
		return
	}
	r.logger.Info("reconcile: releasing stale holds", "count", len(stale))

	for _, txn := range stale {
		if ctx.Err() != nil {
			return
		}
		if err := r.release(ctx, txn.ID); err != nil {
			r.logger.Warn("reconcile: release failed", "err", err, "transaction_id", txn.ID)
		}
	}
}

func (r *Reconciler) release(ctx context.Context, id string) error {
	tx, err := r.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Re-read under lock; a settlement request may have landed since the scan.
	txn, err := r.repo.GetTransactionForUpdate(ctx, tx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil
		}
		return err
	}
	if txn.Status != storage.TxnUnsettled {
		return nil
	}

	if err := r.gateway.Cancel(ctx, txn.GatewayRef); err != nil {
		if errors.Is(err, gateway.ErrUnavailable) {
			return err
		}
		// The gateway rejected the cancel outright; the hold likely expired
		// on its side already. Record the row as cancelled anyway.
		r.logger.Warn("reconcile: gateway cancel rejected", "err", err, "transaction_id", txn.ID)
	}

	if err := r.repo.UpdateTransactionStatus(ctx, tx, txn.ID, storage.TxnCancelled, 0); err != nil {
		return err
	}

	meta, _ := json.Marshal(map[string]any{
		"session_id":  txn.SessionID,
		"gateway_ref": txn.GatewayRef,
		"reason":      "stale_hold",
	})
	if err := r.repo.InsertAuditEvent(ctx, tx, storage.AuditEvent{
		EventType:     "billing.transaction.reconciled.v1",
		ActorType:     "system",
		TransactionID: txn.ID,
		Metadata:      meta,
	}); err != nil {
		r.logger.Error("reconcile: audit insert failed", "err", err, "transaction_id", txn.ID)
	}

	return tx.Commit(ctx)
}
