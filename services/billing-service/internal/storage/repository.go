package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/experchat/experchat/libs/db"
	"github.com/experchat/experchat/services/billing-service/internal/promo"
)

var ErrNotFound = errors.New("not found")

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

type TransactionStatus string

const (
	TxnUnsettled TransactionStatus = "UNSETTLED"
	TxnSettled   TransactionStatus = "SETTLED"
	TxnCancelled TransactionStatus = "CANCELLED"
	TxnFailed    TransactionStatus = "FAILED"
)

// Transaction is one payment hold and its settlement outcome. Rows are never
// deleted; reconciliation only moves status forward.
type Transaction struct {
	ID           string
	SessionID    string
	UserID       string
	AmountCents  int64
	SettledCents int64
	Status       TransactionStatus
	PromoCode    string
	GatewayRef   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const promoColumns = `
	id::text, coupon_code, promo_code_type, value_type, value,
	start_datetime, expiry_datetime,
	usage_limit, user_usage_limit,
	allowed_experts, allowed_users,
	status, is_deleted
`

// GetPromoForUpdate loads a code under a row lock. Usage counting and the
// transaction insert that consumes a slot happen under the same lock, which
// serializes concurrent bookings against the same code.
func (r *Repository) GetPromoForUpdate(ctx context.Context, tx pgx.Tx, code string) (promo.Code, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+promoColumns+`
		FROM promo_codes
		WHERE coupon_code = $1
		FOR UPDATE
	`, code)
	return scanPromo(row)
}

func (r *Repository) GetPromo(ctx context.Context, code string) (promo.Code, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+promoColumns+`
		FROM promo_codes
		WHERE coupon_code = $1
	`, code)
	return scanPromo(row)
}

func scanPromo(row pgx.Row) (promo.Code, error) {
	var c promo.Code
	var kind, valueType, status string
	err := row.Scan(
		&c.ID, &c.Code, &kind, &valueType, &c.Value,
		&c.StartAt, &c.ExpiresAt,
		&c.UsageLimit, &c.UserUsageLimit,
		&c.AllowedExperts, &c.AllowedUsers,
		&status, &c.Deleted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return promo.Code{}, ErrNotFound
		}
		return promo.Code{}, err
	}
	c.Type = promo.Type(kind)
	c.ValueType = promo.ValueType(valueType)
	c.Status = promo.Status(status)
	return c, nil
}

func (r *Repository) CreatePromo(ctx context.Context, c promo.Code) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO promo_codes (coupon_code, promo_code_type, value_type, value,
		                         start_datetime, expiry_datetime,
		                         usage_limit, user_usage_limit,
		                         allowed_experts, allowed_users, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id::text
	`, c.Code, string(c.Type), string(c.ValueType), c.Value,
		c.StartAt, c.ExpiresAt, c.UsageLimit, c.UserUsageLimit,
		c.AllowedExperts, c.AllowedUsers, string(c.Status)).Scan(&id)
	return id, err
}

// DeactivatePromo is the only removal path for codes; rows stay for audit.
func (r *Repository) DeactivatePromo(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE promo_codes
		SET is_deleted = true, status = 'INACTIVE', updated_at = now()
		WHERE coupon_code = $1
	`, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PromoUsage aggregates the UNSETTLED and SETTLED transactions referencing
// the code. The caller must hold the promo row lock for a race-free read.
func (r *Repository) PromoUsage(ctx context.Context, tx pgx.Tx, code string) (promo.Usage, error) {
	var u promo.Usage
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount_cents), 0)
		FROM transactions
		WHERE promo_code = $1 AND status IN ('UNSETTLED', 'SETTLED')
	`, code).Scan(&u.Count, &u.AmountCents)
	return u, err
}

const txnColumns = `
	id::text, session_id::text, user_id::text, amount_cents, settled_cents,
	status, COALESCE(promo_code, ''), COALESCE(gateway_ref, ''),
	created_at, updated_at
`

func (r *Repository) CreateTransaction(ctx context.Context, tx pgx.Tx, t *Transaction) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO transactions (session_id, user_id, amount_cents, status, promo_code, gateway_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id::text
	`, t.SessionID, t.UserID, t.AmountCents, string(t.Status), nullIfEmpty(t.PromoCode), nullIfEmpty(t.GatewayRef)).Scan(&id)
	return id, err
}

func (r *Repository) GetTransactionForUpdate(ctx context.Context, tx pgx.Tx, id string) (Transaction, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+txnColumns+`
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanTransaction(row)
}

func (r *Repository) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+txnColumns+`
		FROM transactions
		WHERE id = $1
	`, id)
	return scanTransaction(row)
}

func (r *Repository) UpdateTransactionStatus(ctx context.Context, tx pgx.Tx, id string, status TransactionStatus, settledCents int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE transactions
		SET status = $2, settled_cents = $3, updated_at = now()
		WHERE id = $1
	`, id, string(status), settledCents)
	return err
}

// ListStaleUnsettled returns holds that never received a settlement or
// cancellation request; the reconciler releases them.
func (r *Repository) ListStaleUnsettled(ctx context.Context, olderThan time.Time, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+txnColumns+`
		FROM transactions
		WHERE status = 'UNSETTLED' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var status string
	err := row.Scan(
		&t.ID, &t.SessionID, &t.UserID, &t.AmountCents, &t.SettledCents,
		&status, &t.PromoCode, &t.GatewayRef,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}
	t.Status = TransactionStatus(status)
	return t, nil
}

type AuditEvent struct {
	EventType     string
	ActorType     string
	ActorID       string
	TransactionID string
	Metadata      []byte
}

func (r *Repository) InsertAuditEvent(ctx context.Context, tx pgx.Tx, evt AuditEvent) error {
	var payload any
	if len(evt.Metadata) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(evt.Metadata, &payload); err != nil {
		return err
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO audit_events (event_type, actor_type, actor_id, transaction_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, evt.EventType, evt.ActorType, nullIfEmpty(evt.ActorID), nullIfEmpty(evt.TransactionID), payload)
	return err
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
