package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pagecraft/api/internal/domain"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestReserveNewKey(t *testing.T) {
	store := NewMemoryStore()

	reservation, err := store.Reserve(context.Background(), "sub_k1", "fp1", baseTime, time.Hour)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if reservation.State != ReservationStateNew {
		t.Errorf("expected new reservation, got %v", reservation.State)
	}
	if reservation.Record.Status != StatusPending {
		t.Errorf("expected pending record, got %s", reservation.Record.Status)
	}
	if reservation.Record.ExpiresAt != baseTime.Add(time.Hour) {
		t.Errorf("unexpected expiry %s", reservation.Record.ExpiresAt)
	}
}

func TestReservePendingConflict(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Reserve(context.Background(), "sub_k1", "fp1", baseTime, time.Hour); err != nil {
		t.Fatalf("first Reserve returned error: %v", err)
	}

	reservation, err := store.Reserve(context.Background(), "sub_k1", "fp1", baseTime.Add(time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("second Reserve returned error: %v", err)
	}
	if reservation.State != ReservationStatePending {
		t.Errorf("expected pending state for in-flight key, got %v", reservation.State)
	}
}

func TestReserveReplaysCompletedOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "sub_k1", "fp1", baseTime, time.Hour); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}

	order := domain.Order{ID: "4411", Provider: "printful", Status: domain.OrderStatusAccepted}
	if err := store.SaveOrder(ctx, "sub_k1", "fp1", order, baseTime, time.Hour); err != nil {
		t.Fatalf("SaveOrder returned error: %v", err)
	}

	reservation, err := store.Reserve(ctx, "sub_k1", "fp1", baseTime.Add(time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if reservation.State != ReservationStateCompleted {
		t.Fatalf("expected completed state, got %v", reservation.State)
	}
	if reservation.Record.Order.ID != "4411" {
		t.Errorf("expected stored order to replay, got %+v", reservation.Record.Order)
	}
}

func TestReserveFingerprintMismatch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "sub_k1", "fp1", baseTime, time.Hour); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}

	if _, err := store.Reserve(ctx, "sub_k1", "fp2", baseTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Errorf("expected ErrFingerprintMismatch, got %v", err)
	}
	if err := store.SaveOrder(ctx, "sub_k1", "fp2", domain.Order{ID: "x"}, baseTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Errorf("expected ErrFingerprintMismatch on save, got %v", err)
	}
}

func TestReserveExpiredRecordIsReplaced(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "sub_k1", "fp1", baseTime, time.Hour); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}

	later := baseTime.Add(2 * time.Hour)
	reservation, err := store.Reserve(ctx, "sub_k1", "fp2", later, time.Hour)
	if err != nil {
		t.Fatalf("Reserve after expiry returned error: %v", err)
	}
	if reservation.State != ReservationStateNew {
		t.Errorf("expired record should be replaced, got %v", reservation.State)
	}
	if reservation.Record.Fingerprint != "fp2" {
		t.Errorf("replacement should carry the new fingerprint, got %q", reservation.Record.Fingerprint)
	}
}

func TestReleaseAllowsRetry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "sub_k1", "fp1", baseTime, time.Hour); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if err := store.Release(ctx, "sub_k1", "fp1"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}

	reservation, err := store.Reserve(ctx, "sub_k1", "fp1", baseTime, time.Hour)
	if err != nil {
		t.Fatalf("Reserve after Release returned error: %v", err)
	}
	if reservation.State != ReservationStateNew {
		t.Errorf("released key should reserve fresh, got %v", reservation.State)
	}
}

func TestReleaseIgnoresForeignFingerprint(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "sub_k1", "fp1", baseTime, time.Hour); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if err := store.Release(ctx, "sub_k1", "other"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}

	reservation, err := store.Reserve(ctx, "sub_k1", "fp1", baseTime, time.Hour)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if reservation.State != ReservationStatePending {
		t.Errorf("record should survive a foreign release, got %v", reservation.State)
	}
}

func TestCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, key := range []string{"sub_a", "sub_b", "sub_c"} {
		if _, err := store.Reserve(ctx, key, "fp", baseTime, time.Hour); err != nil {
			t.Fatalf("Reserve(%s) returned error: %v", key, err)
		}
	}
	// A fresher record that must survive cleanup.
	if _, err := store.Reserve(ctx, "sub_fresh", "fp", baseTime.Add(3*time.Hour), time.Hour); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, baseTime.Add(2*time.Hour), 0)
	if err != nil {
		t.Fatalf("CleanupExpired returned error: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 expired records removed, got %d", removed)
	}

	reservation, err := store.Reserve(ctx, "sub_fresh", "fp", baseTime.Add(3*time.Hour), time.Hour)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if reservation.State != ReservationStatePending {
		t.Errorf("fresh record should survive cleanup, got %v", reservation.State)
	}
}

func TestCleanupExpiredHonoursLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, key := range []string{"sub_a", "sub_b", "sub_c"} {
		if _, err := store.Reserve(ctx, key, "fp", baseTime, time.Hour); err != nil {
			t.Fatalf("Reserve(%s) returned error: %v", key, err)
		}
	}

	removed, err := store.CleanupExpired(ctx, baseTime.Add(2*time.Hour), 2)
	if err != nil {
		t.Fatalf("CleanupExpired returned error: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected the batch limit to cap removals, got %d", removed)
	}
}
