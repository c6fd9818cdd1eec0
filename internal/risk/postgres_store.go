package risk

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mbd888/fittrust/internal/typing"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed risk store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) TouchDevice(ctx context.Context, userID, deviceHash string, seenAt time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO risk_device_bindings (user_id, device_hash, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id, device_hash) DO UPDATE SET
			first_seen_at = LEAST(risk_device_bindings.first_seen_at, EXCLUDED.first_seen_at),
			last_seen_at  = GREATEST(risk_device_bindings.last_seen_at, EXCLUDED.last_seen_at)
	`, userID, deviceHash, seenAt)
	return err
}

func (p *PostgresStore) TouchIPPrefix(ctx context.Context, userID, prefix string, seenAt time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO risk_ip_observations (user_id, ip_prefix, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id, ip_prefix) DO UPDATE SET
			first_seen_at = LEAST(risk_ip_observations.first_seen_at, EXCLUDED.first_seen_at),
			last_seen_at  = GREATEST(risk_ip_observations.last_seen_at, EXCLUDED.last_seen_at)
	`, userID, prefix, seenAt)
	return err
}

func (p *PostgresStore) AddTypingSample(ctx context.Context, userID string, f typing.Features, capturedAt time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO risk_typing_samples
			(user_id, mean_dwell_ms, std_dwell_ms, mean_flight_ms, std_flight_ms,
			 backspace_ratio, paste_count, sample_size, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, userID, f.MeanDwellMs, f.StdDwellMs, f.MeanFlightMs, f.StdFlightMs,
		f.BackspaceRatio, f.PasteCount, f.SampleSize, capturedAt)
	return err
}

func (p *PostgresStore) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id FROM risk_device_bindings WHERE last_seen_at >= $1
		UNION
		SELECT user_id FROM risk_ip_observations WHERE last_seen_at >= $1
		UNION
		SELECT user_id FROM risk_typing_samples WHERE captured_at >= $1
		ORDER BY user_id
	`, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *PostgresStore) DeviceDegree(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT device_hash) FROM risk_device_bindings
		WHERE user_id = $1 AND last_seen_at >= $2
	`, userID, since).Scan(&n)
	return n, err
}

func (p *PostgresStore) IPDegree(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT ip_prefix) FROM risk_ip_observations
		WHERE user_id = $1 AND last_seen_at >= $2
	`, userID, since).Scan(&n)
	return n, err
}

func (p *PostgresStore) RecentTypingSamples(ctx context.Context, userID string, limit int) ([]TypingSample, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT mean_dwell_ms, mean_flight_ms, captured_at
		FROM risk_typing_samples
		WHERE user_id = $1
		ORDER BY captured_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []TypingSample
	for rows.Next() {
		var (
			s             TypingSample
			dwell, flight sql.NullFloat64
		)
		if err := rows.Scan(&dwell, &flight, &s.CapturedAt); err != nil {
			return nil, err
		}
		s.MeanDwellMs = nullable(dwell)
		s.MeanFlightMs = nullable(flight)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) EarliestSignal(ctx context.Context, userID string) (time.Time, error) {
	var earliest sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT MIN(t) FROM (
			SELECT MIN(first_seen_at) AS t FROM risk_device_bindings WHERE user_id = $1
			UNION ALL
			SELECT MIN(first_seen_at) FROM risk_ip_observations WHERE user_id = $1
			UNION ALL
			SELECT MIN(captured_at) FROM risk_typing_samples WHERE user_id = $1
		) s
	`, userID).Scan(&earliest)
	if err != nil {
		return time.Time{}, err
	}
	if !earliest.Valid {
		return time.Time{}, nil
	}
	return earliest.Time, nil
}

func (p *PostgresStore) UpsertFeatures(ctx context.Context, f *UserFeatures) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO risk_user_features
			(user_id, device_degree, ip_degree, account_age_days,
			 avg_typing_dwell, std_typing_dwell, avg_typing_flight, std_typing_flight,
			 typing_baseline_count, last_computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			device_degree         = EXCLUDED.device_degree,
			ip_degree             = EXCLUDED.ip_degree,
			account_age_days      = EXCLUDED.account_age_days,
			avg_typing_dwell      = EXCLUDED.avg_typing_dwell,
			std_typing_dwell      = EXCLUDED.std_typing_dwell,
			avg_typing_flight     = EXCLUDED.avg_typing_flight,
			std_typing_flight     = EXCLUDED.std_typing_flight,
			typing_baseline_count = EXCLUDED.typing_baseline_count,
			last_computed_at      = EXCLUDED.last_computed_at
	`, f.UserID, f.DeviceDegree, f.IPDegree, f.AccountAgeDays,
		f.AvgTypingDwell, f.StdTypingDwell, f.AvgTypingFlight, f.StdTypingFlight,
		f.TypingBaselineCount, f.LastComputedAt)
	return err
}

func (p *PostgresStore) GetFeatures(ctx context.Context, userID string) (*UserFeatures, error) {
	var (
		f                                     UserFeatures
		avgDwell, stdDwell, avgFlight, stdFlt sql.NullFloat64
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT user_id, device_degree, ip_degree, account_age_days,
		       avg_typing_dwell, std_typing_dwell, avg_typing_flight, std_typing_flight,
		       typing_baseline_count, last_computed_at
		FROM risk_user_features WHERE user_id = $1
	`, userID).Scan(&f.UserID, &f.DeviceDegree, &f.IPDegree, &f.AccountAgeDays,
		&avgDwell, &stdDwell, &avgFlight, &stdFlt, &f.TypingBaselineCount, &f.LastComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.AvgTypingDwell = nullable(avgDwell)
	f.StdTypingDwell = nullable(stdDwell)
	f.AvgTypingFlight = nullable(avgFlight)
	f.StdTypingFlight = nullable(stdFlt)
	return &f, nil
}

func nullable(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
