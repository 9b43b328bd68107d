package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/experchat/experchat/libs/db"
	"github.com/experchat/experchat/services/booking-service/internal/model"
)

var ErrNotFound = errors.New("not found")

// RulesRepository reads and writes the weekly availability calendar.
type RulesRepository struct {
	pool *db.Pool
}

func NewRulesRepository(pool *db.Pool) *RulesRepository {
	return &RulesRepository{pool: pool}
}

func (r *RulesRepository) Create(ctx context.Context, rule *model.AvailabilityRule) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO availability_rules (expert_id, start_time, end_time, weekdays, timezone)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, rule.ExpertID, rule.StartTime, rule.EndTime, rule.Weekdays, rule.Timezone).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListByExpert returns the expert's rules ordered by start time of day.
func (r *RulesRepository) ListByExpert(ctx context.Context, expertID string) ([]model.AvailabilityRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, expert_id, start_time, end_time, weekdays, timezone, created_at
		FROM availability_rules
		WHERE expert_id = $1
		ORDER BY start_time ASC
	`, expertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.AvailabilityRule
	for rows.Next() {
		var rule model.AvailabilityRule
		if err := rows.Scan(&rule.ID, &rule.ExpertID, &rule.StartTime, &rule.EndTime, &rule.Weekdays, &rule.Timezone, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

// Delete removes a rule. Rules are the one entity hard-deleted here: removing
// availability must stop producing slots immediately and has no audit value.
func (r *RulesRepository) Delete(ctx context.Context, expertID, ruleID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM availability_rules
		WHERE id = $1 AND expert_id = $2
	`, ruleID, expertID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}
