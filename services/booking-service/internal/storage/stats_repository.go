package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/experchat/experchat/libs/db"
)

// StatsRepository maintains the per-expert daily aggregates the revenue job
// feeds. One row per (expert, local day). The upsert itself is additive; it
// does not double-count on replay because the job's processed mark commits in
// the same transaction as the upsert, so a re-delivered job never reaches it.
type StatsRepository struct {
	pool *db.Pool
}

func NewStatsRepository(pool *db.Pool) *StatsRepository {
	return &StatsRepository{pool: pool}
}

func (r *StatsRepository) AddCall(ctx context.Context, tx pgx.Tx, expertID string, day time.Time, callSeconds int, revenueCents int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO daily_expert_stats (expert_id, day, calls, call_seconds, revenue_cents)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (expert_id, day) DO UPDATE
		SET calls = daily_expert_stats.calls + 1,
		    call_seconds = daily_expert_stats.call_seconds + EXCLUDED.call_seconds,
		    revenue_cents = daily_expert_stats.revenue_cents + EXCLUDED.revenue_cents,
		    updated_at = now()
	`, expertID, day.UTC().Format("2006-01-02"), callSeconds, revenueCents)
	return err
}
