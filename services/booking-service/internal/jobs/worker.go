package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/experchat/experchat/libs/db"
	otelx "github.com/experchat/experchat/libs/otel"
)

// HandlerFunc processes one due job inside the worker's transaction.
// Handlers must be idempotent: a job that fails after partial work is retried.
type HandlerFunc func(ctx context.Context, tx pgx.Tx, job Job) error

type Worker struct {
	pool      *db.Pool
	repo      *Repository
	logger    *slog.Logger
	handlers  map[string]HandlerFunc
	interval  time.Duration
	batchSize int
	backoff   time.Duration
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	return &Worker{
		pool:      pool,
		repo:      repo,
		logger:    logger,
		handlers:  make(map[string]HandlerFunc),
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
	}
}

func (w *Worker) Register(kind string, fn HandlerFunc) {
	w.handlers[kind] = fn
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("job batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	due, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return tx.Commit(ctx)
	}

	var processed []int64
	var failed []Job
	for _, job := range due {
		handler, ok := w.handlers[job.Kind]
		if !ok {
			w.logger.Error("no handler for job kind", "kind", job.Kind, "session_id", job.SessionID)
			failed = append(failed, job)
			continue
		}
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)
		if err := runJob(jobCtx, tx, handler, job); err != nil {
			w.logger.Error("job handler failed", "kind", job.Kind, "session_id", job.SessionID, "err", err)
			failed = append(failed, job)
			continue
		}
		processed = append(processed, job.ID)
	}

	if err := w.repo.MarkProcessed(ctx, tx, processed); err != nil {
		return err
	}
	for _, job := range failed {
		nextRunAt := time.Now().UTC().Add(w.backoff)
		if err := w.repo.MarkFailed(ctx, tx, job.ID, job.Attempts+1, job.MaxAttempts, nextRunAt, "handler failed"); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// runJob executes one handler inside a savepoint. A statement error in the
// handler would otherwise abort the whole batch transaction, taking the
// MarkFailed bookkeeping down with it; rolling back to the savepoint keeps
// the outer transaction usable so failures count their attempts.
func runJob(ctx context.Context, tx pgx.Tx, handler HandlerFunc, job Job) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := handler(ctx, sp, job); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}
