package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/experchat/experchat/libs/db"
	"github.com/experchat/experchat/services/booking-service/internal/model"
)

type SessionRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	UserID          string
	IdempotencyKey  string
	SessionID       string
	StatusCode      int
	ResponsePayload []byte
}

func NewSessionRepository(pool *db.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *SessionRepository) Create(ctx context.Context, tx pgx.Tx, s *model.Session) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO sessions
			(expert_id, user_id, scheduled_at, scheduled_minutes, status,
			 estimated_revenue_cents, promo_code, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, s.ExpertID, s.UserID, s.ScheduledAt, s.ScheduledMinutes, s.Status,
		s.EstimatedRevenueCents, nullable(s.PromoCode), nullable(s.TransactionID)).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

const sessionColumns = `
	id, expert_id, user_id, scheduled_at, scheduled_minutes, extended_seconds,
	status, is_deleted, started_at, ended_at, call_seconds,
	estimated_revenue_cents, revenue_cents,
	COALESCE(video_session_id, ''), COALESCE(promo_code, ''), COALESCE(transaction_id, ''),
	created_at, updated_at`

func scanSession(row pgx.Row) (model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID, &s.ExpertID, &s.UserID, &s.ScheduledAt, &s.ScheduledMinutes, &s.ExtendedSeconds,
		&s.Status, &s.Deleted, &s.StartedAt, &s.EndedAt, &s.CallSeconds,
		&s.EstimatedRevenueCents, &s.RevenueCents,
		&s.VideoSessionID, &s.PromoCode, &s.TransactionID,
		&s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

// GetForUpdate loads a session under a row lock so the state machine's guard
// check and mutation commit as one serializable unit.
func (r *SessionRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, sessionID string) (model.Session, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id = $1
		FOR UPDATE
	`, sessionID)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	return s, err
}

func (r *SessionRepository) Get(ctx context.Context, sessionID string) (model.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id = $1
	`, sessionID)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	return s, err
}

// UpdateState persists every field the state machine mutates.
func (r *SessionRepository) UpdateState(ctx context.Context, tx pgx.Tx, s *model.Session) error {
	_, err := tx.Exec(ctx, `
		UPDATE sessions
		SET status = $2,
		    is_deleted = $3,
		    started_at = $4,
		    ended_at = $5,
		    call_seconds = $6,
		    extended_seconds = $7,
		    revenue_cents = $8,
		    video_session_id = $9,
		    updated_at = now()
		WHERE id = $1
	`, s.ID, s.Status, s.Deleted, s.StartedAt, s.EndedAt, s.CallSeconds,
		s.ExtendedSeconds, s.RevenueCents, nullable(s.VideoSessionID))
	return err
}

// ListBookedIntervals returns the expert's non-deleted upcoming bookings in
// [from, to), ordered by start, for slot subtraction. Soft-deleted sessions
// never block slots.
func (r *SessionRepository) ListBookedIntervals(ctx context.Context, expertID string, from, to time.Time) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE expert_id = $1
		  AND is_deleted = false
		  AND status NOT IN ('declined', 'completed')
		  AND scheduled_at < $3
		  AND scheduled_at + make_interval(mins => scheduled_minutes) > $2
		ORDER BY scheduled_at ASC
	`, expertID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// UserHasOverlap reports whether the user already holds a live booking that
// overlaps [start, start+minutes).
func (r *SessionRepository) UserHasOverlap(ctx context.Context, userID string, start time.Time, minutes int) (bool, error) {
	end := start.Add(time.Duration(minutes) * time.Minute)
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sessions
			WHERE user_id = $1
			  AND is_deleted = false
			  AND status NOT IN ('declined', 'completed')
			  AND scheduled_at < $3
			  AND scheduled_at + make_interval(mins => scheduled_minutes) > $2
		)
	`, userID, start, end).Scan(&exists)
	return exists, err
}

func (r *SessionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id = $1 AND is_deleted = false
		ORDER BY scheduled_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (r *SessionRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, userID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, userID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO scheduling_idempotency_keys (user_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (user_id, idempotency_key) DO NOTHING
	`, userID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, userID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *SessionRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, userID, key, sessionID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE scheduling_idempotency_keys
		SET session_id = $3,
		    status_code = $4,
		    response_payload = $5,
		    updated_at = now()
		WHERE user_id = $1 AND idempotency_key = $2
	`, userID, key, sessionID, statusCode, response)
	return err
}

func (r *SessionRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, userID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := tx.QueryRow(ctx, `
		SELECT user_id, idempotency_key, COALESCE(session_id, ''), COALESCE(status_code, 0), response_payload
		FROM scheduling_idempotency_keys
		WHERE user_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, userID, key).Scan(&rec.UserID, &rec.IdempotencyKey, &rec.SessionID, &rec.StatusCode, &rec.ResponsePayload)
	return rec, err
}

func collectSessions(rows pgx.Rows) ([]model.Session, error) {
	var out []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
