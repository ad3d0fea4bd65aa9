package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/lumistory/go-studio-backend/internal/domain"
)

func newIdemDB(t *testing.T) *gorm.DB {
	t.Helper()
	return newLedgerDB(t, &domain.IdempotencyRecord{})
}

func TestIdempotency_CreateAndGet(t *testing.T) {
	db := newIdemDB(t)
	ctx := context.Background()

	rec, err := CreateIdempotency(ctx, db, "user:u1", "key-1", "job-1", time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if rec.JobID != "job-1" || rec.ExpiresAt.Before(rec.CreatedAt) {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, err := GetIdempotency(ctx, db, "user:u1", "key-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("GetIdempotency: %v", err)
	}
	if got.JobID != "job-1" {
		t.Fatalf("expected job-1, got %q", got.JobID)
	}
}

func TestIdempotency_ExpiredRecordIsNotFound(t *testing.T) {
	db := newIdemDB(t)
	ctx := context.Background()

	if _, err := CreateIdempotency(ctx, db, "user:u1", "key-ttl", "job-2", time.Minute); err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}

	future := time.Now().UTC().Add(2 * time.Minute)
	if _, err := GetIdempotency(ctx, db, "user:u1", "key-ttl", future); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound past expiry, got %v", err)
	}
}

func TestIdempotency_ScopedPerOwner(t *testing.T) {
	db := newIdemDB(t)
	ctx := context.Background()

	if _, err := CreateIdempotency(ctx, db, "guest:s1", "shared-key", "job-g", time.Hour); err != nil {
		t.Fatalf("guest create: %v", err)
	}
	// Same key under another owner is a distinct record, not a conflict.
	if _, err := CreateIdempotency(ctx, db, "user:u1", "shared-key", "job-u", time.Hour); err != nil {
		t.Fatalf("user create: %v", err)
	}

	got, err := GetIdempotency(ctx, db, "guest:s1", "shared-key", time.Now().UTC())
	if err != nil || got.JobID != "job-g" {
		t.Fatalf("guest lookup = %+v, %v", got, err)
	}
}

func TestIdempotency_DuplicateKey(t *testing.T) {
	db := newIdemDB(t)
	ctx := context.Background()

	if _, err := CreateIdempotency(ctx, db, "user:u1", "key-dup", "job-1", time.Hour); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, "user:u1", "key-dup", "job-other", time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}
