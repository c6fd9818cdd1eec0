package consistency

import (
	"context"
	"database/sql"
	"time"
)

// PostgresSource reads raw entries from the platform's log tables.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource creates a new PostgreSQL-backed entry source.
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) SleepSince(ctx context.Context, since time.Time) ([]SleepEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, hours, score, created_at
		FROM sleep_logs
		WHERE created_at >= $1
		ORDER BY created_at ASC
	`, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []SleepEntry
	for rows.Next() {
		var (
			e            SleepEntry
			hours, score sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &hours, &score, &e.LoggedAt); err != nil {
			return nil, err
		}
		e.Hours = nullFloat(hours)
		e.Score = nullFloat(score)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresSource) WorkoutsSince(ctx context.Context, since time.Time) ([]WorkoutEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.user_id, w.duration_minutes, w.created_at,
		       (SELECT COUNT(*) FROM workout_logs d
		         WHERE d.user_id = w.user_id
		           AND (d.created_at AT TIME ZONE 'UTC')::date = (w.created_at AT TIME ZONE 'UTC')::date)
		FROM workout_logs w
		WHERE w.created_at >= $1
		ORDER BY w.created_at ASC
	`, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []WorkoutEntry
	for rows.Next() {
		var e WorkoutEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.DurationMinutes, &e.LoggedAt, &e.WorkoutsThatDay); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresSource) MetricsSince(ctx context.Context, since time.Time) ([]MetricEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, metric, value, created_at, previous FROM (
			SELECT id, user_id, metric, value, created_at,
			       LAG(value) OVER (PARTITION BY user_id, metric ORDER BY created_at, id) AS previous
			FROM body_metrics
		) m
		WHERE created_at >= $1
		ORDER BY created_at ASC
	`, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []MetricEntry
	for rows.Next() {
		var (
			e    MetricEntry
			prev sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Metric, &e.Value, &e.LoggedAt, &prev); err != nil {
			return nil, err
		}
		e.Previous = nullFloat(prev)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
