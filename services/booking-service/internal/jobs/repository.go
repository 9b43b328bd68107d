package jobs

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	otelx "github.com/experchat/experchat/libs/otel"
)

// Job is one unit of deferred work keyed by session id. RunAt doubles as the
// ETA for timer jobs (the missed-call grace period); immediate work uses now.
type Job struct {
	ID          int64
	Kind        string
	SessionID   string
	RunAt       time.Time
	Traceparent string
	Tracestate  string
	Attempts    int
	MaxAttempts int
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Schedule enqueues work inside the caller's transaction. Jobs deduplicate on
// (kind, session_id): scheduling the same work twice is a no-op, which keeps
// fire-and-forget callers idempotent.
func (r *Repository) Schedule(ctx context.Context, tx pgx.Tx, kind, sessionID string, runAt time.Time) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO session_jobs (kind, session_id, run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, session_id) DO NOTHING
	`, kind, sessionID, runAt, traceparent, tracestate)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, kind, session_id, run_at, traceparent, tracestate, attempts, max_attempts
		FROM session_jobs
		WHERE status = 'pending' AND run_at <= now()
		ORDER BY run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Kind, &j.SessionID, &j.RunAt, &j.Traceparent, &j.Tracestate, &j.Attempts, &j.MaxAttempts); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE session_jobs
		SET status = 'processed', updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE session_jobs
		SET attempts = $2,
		    status = $3,
		    run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}
