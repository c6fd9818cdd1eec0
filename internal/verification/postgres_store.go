package verification

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed event store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, ev *Event) error {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verification_events
			(id, user_id, entity_type, entity_id, method, status, confidence, multiplier, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::JSONB, $10)
	`, ev.ID, ev.UserID, string(ev.EntityType), ev.EntityID, string(ev.Method),
		string(ev.Status), string(ev.Confidence), ev.Multiplier, string(meta), ev.CreatedAt)
	return err
}

func (s *PostgresStore) List(ctx context.Context, userID string, f Filter) ([]*Event, error) {
	var (
		where = []string{"user_id = $1"}
		args  = []any{userID}
	)
	if f.EntityType != "" {
		args = append(args, string(f.EntityType))
		where = append(where, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.Cursor != nil {
		args = append(args, f.Cursor.CreatedAt, f.Cursor.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit)

	query := `
		SELECT id, user_id, entity_type, entity_id, method, status, confidence, multiplier,
		       COALESCE(metadata::TEXT, '{}'), created_at
		FROM verification_events
		WHERE ` + strings.Join(where, " AND ") + fmt.Sprintf(`
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	events := make([]*Event, 0)
	for rows.Next() {
		var (
			e        Event
			entityID sql.NullString
			meta     string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.EntityType, &entityID, &e.Method,
			&e.Status, &e.Confidence, &e.Multiplier, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if entityID.Valid {
			id := entityID.String
			e.EntityID = &id
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", e.ID, err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context, userID string, q CountQuery) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM verification_events
		WHERE user_id = $1
		  AND ($2 = '' OR method = $2)
		  AND ($3 = '' OR status = $3)
		  AND created_at >= $4
	`, userID, string(q.Method), string(q.Status), q.Since).Scan(&n)
	return n, err
}
