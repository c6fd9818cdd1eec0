package confidence

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// Profile is the read-only onboarding record for a user.
type Profile struct {
	UserID      string    `json:"userId"`
	HasWearable bool      `json:"hasWearable"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// ProfileProvider looks up profiles. A user without a profile yields
// (nil, nil): absence is scored as no wearable and no tenure.
type ProfileProvider interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// MemoryProfiles implements ProfileProvider in memory.
type MemoryProfiles struct {
	profiles map[string]*Profile
	mu       sync.RWMutex
}

// NewMemoryProfiles creates an empty in-memory profile provider.
func NewMemoryProfiles() *MemoryProfiles {
	return &MemoryProfiles{profiles: make(map[string]*Profile)}
}

// Put stores or replaces a profile.
func (m *MemoryProfiles) Put(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = &p
}

func (m *MemoryProfiles) GetProfile(_ context.Context, userID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// PostgresProfiles reads the platform's health_profiles table.
type PostgresProfiles struct {
	db *sql.DB
}

// NewPostgresProfiles creates a PostgreSQL-backed profile provider.
func NewPostgresProfiles(db *sql.DB) *PostgresProfiles {
	return &PostgresProfiles{db: db}
}

func (p *PostgresProfiles) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var prof Profile
	err := p.db.QueryRowContext(ctx, `
		SELECT user_id, has_wearable, created_at FROM health_profiles WHERE user_id = $1
	`, userID).Scan(&prof.UserID, &prof.HasWearable, &prof.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &prof, nil
}
