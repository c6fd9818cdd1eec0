// Package risk derives per-user behavioral trust signals: device and network
// diversity, tenure and a keystroke-timing baseline.
//
// Features are advisory. Nothing in this package blocks, rate-limits or
// rejects a user action.
//
// Raw IP addresses never reach storage: ReduceIP keeps only the /24 (IPv4)
// or /48 (IPv6) network prefix, and device identifiers are stored as
// SHA-256 digests.
package risk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/mbd888/fittrust/internal/typing"
)

const (
	// ActiveWindow bounds the users considered by a recomputation run.
	ActiveWindow = 30 * 24 * time.Hour
	// DegreeWindow bounds device and IP degree counts.
	DegreeWindow = 7 * 24 * time.Hour
	// TypingSampleLimit is how many recent typing samples feed a baseline.
	TypingSampleLimit = 50
	// MinTypingSamples is the fewest valid samples that yield a baseline.
	MinTypingSamples = 5

	ipv4PrefixBits = 24
	ipv6PrefixBits = 48
)

// ErrNotFound is returned when a user has no feature row yet.
var ErrNotFound = errors.New("risk features not found")

// UserFeatures is the single, fully overwritten feature row for a user.
// Typing fields are nil when there were too few samples for a baseline.
type UserFeatures struct {
	UserID              string    `json:"userId"`
	DeviceDegree        int       `json:"deviceDegree"`
	IPDegree            int       `json:"ipDegree"`
	AccountAgeDays      int       `json:"accountAgeDays"`
	AvgTypingDwell      *float64  `json:"avgTypingDwell"`
	StdTypingDwell      *float64  `json:"stdTypingDwell"`
	AvgTypingFlight     *float64  `json:"avgTypingFlight"`
	StdTypingFlight     *float64  `json:"stdTypingFlight"`
	TypingBaselineCount int       `json:"typingBaselineCount"`
	LastComputedAt      time.Time `json:"lastComputedAt"`
}

// TypingSample is one stored feature vector, reduced to what a baseline
// needs.
type TypingSample struct {
	MeanDwellMs  *float64
	MeanFlightMs *float64
	CapturedAt   time.Time
}

// Store holds raw signals and the derived feature rows.
type Store interface {
	// Signal writes.
	TouchDevice(ctx context.Context, userID, deviceHash string, seenAt time.Time) error
	TouchIPPrefix(ctx context.Context, userID, prefix string, seenAt time.Time) error
	AddTypingSample(ctx context.Context, userID string, f typing.Features, capturedAt time.Time) error

	// Reads used by recomputation.
	ActiveUsers(ctx context.Context, since time.Time) ([]string, error)
	DeviceDegree(ctx context.Context, userID string, since time.Time) (int, error)
	IPDegree(ctx context.Context, userID string, since time.Time) (int, error)
	RecentTypingSamples(ctx context.Context, userID string, limit int) ([]TypingSample, error)
	// EarliestSignal returns the zero time when the user has no signals.
	EarliestSignal(ctx context.Context, userID string) (time.Time, error)

	// UpsertFeatures replaces the user's whole row in one write.
	UpsertFeatures(ctx context.Context, f *UserFeatures) error
	GetFeatures(ctx context.Context, userID string) (*UserFeatures, error)
}

// ReduceIP parses raw and returns its network prefix in CIDR form:
// 192.168.1.57 becomes "192.168.1.0/24". IPv4-mapped IPv6 addresses are
// treated as IPv4 and zones are dropped.
func ReduceIP(raw string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse ip: %w", err)
	}
	addr = addr.Unmap().WithZone("")
	bits := ipv6PrefixBits
	if addr.Is4() {
		bits = ipv4PrefixBits
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "", fmt.Errorf("reduce ip: %w", err)
	}
	return prefix.String(), nil
}

// HashDevice returns the hex SHA-256 digest stored in place of a device id.
func HashDevice(deviceID string) string {
	sum := sha256.Sum256([]byte(deviceID))
	return hex.EncodeToString(sum[:])
}
