package rewards

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mbd888/fittrust/internal/validation"
	"github.com/shopspring/decimal"
)

// PostgresStore persists reward history in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed rewards store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// RecordDay locks the user's totals row for the whole read-modify-write so
// concurrent writers for the same user serialize.
func (p *PostgresStore) RecordDay(ctx context.Context, rec *DayRecord) (decimal.Decimal, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return decimal.Zero, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reward_totals (user_id, total_points, updated_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, rec.UserID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to ensure totals row: %w", err)
	}

	var locked string
	err = tx.QueryRowContext(ctx, `
		SELECT user_id FROM reward_totals WHERE user_id = $1 FOR UPDATE
	`, rec.UserID).Scan(&locked)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to lock totals row: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reward_history (user_id, date, health_score, confidence_score, multiplier, total_score, points_earned, updated_at)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, date) DO UPDATE SET
			health_score     = EXCLUDED.health_score,
			confidence_score = EXCLUDED.confidence_score,
			multiplier       = EXCLUDED.multiplier,
			total_score      = EXCLUDED.total_score,
			points_earned    = EXCLUDED.points_earned,
			updated_at       = EXCLUDED.updated_at
	`, rec.UserID, rec.Date, rec.HealthScore, rec.ConfidenceScore, rec.Multiplier,
		rec.TotalScore, rec.PointsEarned, rec.UpdatedAt)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to upsert history: %w", err)
	}

	var total decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		UPDATE reward_totals SET
			total_points = (SELECT COALESCE(SUM(points_earned), 0) FROM reward_history WHERE user_id = $1),
			updated_at   = NOW()
		WHERE user_id = $1
		RETURNING total_points
	`, rec.UserID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to recompute total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (p *PostgresStore) Total(ctx context.Context, userID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := p.db.QueryRowContext(ctx, `
		SELECT total_points FROM reward_totals WHERE user_id = $1
	`, userID).Scan(&total)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (p *PostgresStore) History(ctx context.Context, userID, since string) ([]*DayRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, date, health_score, confidence_score, multiplier, total_score, points_earned, updated_at
		FROM reward_history
		WHERE user_id = $1 AND date >= $2::date
		ORDER BY date DESC
	`, userID, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*DayRecord
	for rows.Next() {
		r := &DayRecord{}
		var date time.Time
		if err := rows.Scan(&r.UserID, &date, &r.HealthScore, &r.ConfidenceScore, &r.Multiplier,
			&r.TotalScore, &r.PointsEarned, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Date = date.Format(validation.DateLayout)
		out = append(out, r)
	}
	return out, rows.Err()
}
