// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the
// IdempotencyRecord model used to implement safe-retry semantics for the
// generation POST endpoints.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumistory/go-studio-backend/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given (owner_key, key) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, ownerKey, key string, now time.Time) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := db.WithContext(ctx).
		Where("owner_key = ? AND key = ? AND expires_at > ?", ownerKey, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record mapping the key to the job it produced,
// returning ErrDuplicate on unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, ownerKey, key, jobID string, ttl time.Duration) (*domain.IdempotencyRecord, error) {
	now := time.Now().UTC()
	rec := &domain.IdempotencyRecord{
		ID:        uuid.NewString(),
		OwnerKey:  ownerKey,
		Key:       key,
		JobID:     jobID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// IdempotencyStore is the repository-backed lookup and record pair consumed
// by the HTTP handlers.
type IdempotencyStore struct {
	DB *gorm.DB
	// TTL bounds how long a recorded key replays; defaults to 24h.
	TTL time.Duration
}

// Lookup returns the job ID recorded for (ownerKey, key), or ErrNotFound when
// no live record exists.
func (s IdempotencyStore) Lookup(ctx context.Context, ownerKey, key string) (string, error) {
	rec, err := GetIdempotency(ctx, s.DB, ownerKey, key, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return rec.JobID, nil
}

// Record stores the (ownerKey, key) -> jobID mapping. A concurrent duplicate
// is not an error; the first writer wins.
func (s IdempotencyStore) Record(ctx context.Context, ownerKey, key, jobID string) error {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	_, err := CreateIdempotency(ctx, s.DB, ownerKey, key, jobID, ttl)
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}
