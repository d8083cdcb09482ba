// Package idempotency remembers submitted orders by their derived idempotency key so a
// caller retry after a network failure replays the original submission result instead of
// reaching the provider again. Provider-side external-reference deduplication remains the
// backstop; this store just short-circuits the common retry path.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/pagecraft/api/internal/domain"
)

// DefaultTTL is the default duration submission records are retained.
const DefaultTTL = 24 * time.Hour

// Status represents the lifecycle state of a submission record.
type Status string

const (
	// StatusPending indicates a submit has reserved the key but not yet stored its order.
	StatusPending Status = "pending"
	// StatusCompleted indicates the provider order is stored and can be replayed.
	StatusCompleted Status = "completed"
)

// ReservationState describes the outcome of attempting to reserve a key.
type ReservationState int

const (
	// ReservationStateNew means no record exists and the caller should submit.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a stored order should be replayed.
	ReservationStateCompleted
	// ReservationStatePending means another submit for this key is in flight.
	ReservationStatePending
)

// Reservation is the result of reserving a key, including the stored record if any.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record captures the persisted submission outcome for an idempotency key.
type Record struct {
	Key         string
	Fingerprint string
	Status      Status
	Order       domain.Order
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

// Store persists submission reservations and their provider orders.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveOrder(ctx context.Context, key, fingerprint string, order domain.Order, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when a key is reused with a different request
// fingerprint, which indicates two distinct submissions colliding on one key.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

func compositeKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}
