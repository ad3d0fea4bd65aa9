// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for generation
// jobs.
//
// State transitions are enforced at the storage layer: each Mark* function is
// a guarded UPDATE whose WHERE clause names the only legal predecessor state.
// A transition attempted from any other state affects zero rows and surfaces
// as ErrIllegalTransition, so the PENDING -> PROCESSING -> terminal path can
// not be skipped even by buggy callers.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumistory/go-studio-backend/internal/domain"
)

// ErrIllegalTransition is returned when a job status update matched no row,
// meaning the job does not exist or is not in the required predecessor state.
var ErrIllegalTransition = errors.New("illegal job state transition")

// CreateJob inserts a new job row in PENDING with the given opaque input.
func CreateJob(ctx context.Context, db *gorm.DB, ownerKey string, kind domain.JobKind, input string) (*domain.GenerationJob, error) {
	j := &domain.GenerationJob{
		ID:        uuid.NewString(),
		OwnerKey:  ownerKey,
		Kind:      kind,
		Status:    domain.JobPending,
		Input:     input,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(j).Error; err != nil {
		return nil, err
	}
	return j, nil
}

// DeleteJob removes a job row. Only used for the PENDING cleanup path when
// the debit fails; jobs that reached PROCESSING are never deleted.
func DeleteJob(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Where("id = ? AND status = ?", id, domain.JobPending).
		Delete(&domain.GenerationJob{}).Error
}

// GetJob fetches a job by ID, or ErrNotFound.
func GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.GenerationJob, error) {
	var j domain.GenerationJob
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&j).Error
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// MarkProcessing transitions a PENDING job to PROCESSING and stamps
// started_at. Returns ErrIllegalTransition if the job is not PENDING.
func MarkProcessing(ctx context.Context, db *gorm.DB, id string) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.GenerationJob{}).
		Where("id = ? AND status = ?", id, domain.JobPending).
		Updates(map[string]any{
			"status":     domain.JobProcessing,
			"started_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrIllegalTransition
	}
	return nil
}

// SetJobRemote records the provider name and remote job ID on a PROCESSING
// row. Racing a settlement is harmless; the update simply misses.
func SetJobRemote(ctx context.Context, db *gorm.DB, id, provider, remoteID string) error {
	return db.WithContext(ctx).
		Model(&domain.GenerationJob{}).
		Where("id = ? AND status = ?", id, domain.JobProcessing).
		Updates(map[string]any{
			"provider":  provider,
			"remote_id": remoteID,
		}).Error
}

// MarkCompleted transitions a PROCESSING job to COMPLETED, recording the
// provider that produced the result and the opaque output payload.
func MarkCompleted(ctx context.Context, db *gorm.DB, id, provider, output string) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.GenerationJob{}).
		Where("id = ? AND status = ?", id, domain.JobProcessing).
		Updates(map[string]any{
			"status":       domain.JobCompleted,
			"provider":     provider,
			"output":       output,
			"completed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrIllegalTransition
	}
	return nil
}

// MarkFailed transitions a PROCESSING job to FAILED with an error message.
// Provider records the last provider attempted, which may be empty when no
// provider was available at all.
func MarkFailed(ctx context.Context, db *gorm.DB, id, provider, errMsg string) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.GenerationJob{}).
		Where("id = ? AND status = ?", id, domain.JobProcessing).
		Updates(map[string]any{
			"status":        domain.JobFailed,
			"provider":      provider,
			"error_message": errMsg,
			"completed_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrIllegalTransition
	}
	return nil
}

// CountJobs returns the total number of jobs owned by ownerKey.
func CountJobs(ctx context.Context, db *gorm.DB, ownerKey string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.GenerationJob{}).
		Where("owner_key = ?", ownerKey).
		Count(&total).Error
	return total, err
}

// ListJobsPage returns a paginated slice of jobs for ownerKey, newest first.
func ListJobsPage(ctx context.Context, db *gorm.DB, ownerKey string, offset, limit int) ([]domain.GenerationJob, error) {
	var out []domain.GenerationJob
	err := db.WithContext(ctx).
		Where("owner_key = ?", ownerKey).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountProcessing returns the number of jobs currently in PROCESSING for
// ownerKey. Used to seed the admission gauge after a restart.
func CountProcessing(ctx context.Context, db *gorm.DB, ownerKey string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.GenerationJob{}).
		Where("owner_key = ? AND status = ?", ownerKey, domain.JobProcessing).
		Count(&n).Error
	return n, err
}

// ListStaleProcessing returns jobs stuck in PROCESSING whose started_at is
// older than before. The reconciliation sweep fails and refunds these so a
// crashed orchestrator run cannot wedge an owner's quota forever.
func ListStaleProcessing(ctx context.Context, db *gorm.DB, before time.Time) ([]domain.GenerationJob, error) {
	var out []domain.GenerationJob
	err := db.WithContext(ctx).
		Where("status = ? AND started_at < ?", domain.JobProcessing, before).
		Find(&out).Error
	return out, err
}
