// Package services – StatusService
//
// This file implements the job status reader. It is strictly read-only: it
// never mutates job rows, and the progress figure it reports is a derived
// estimate, not stored state. Ownership is enforced here so a job ID leaking
// to another owner reveals nothing.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/lumistory/go-studio-backend/internal/domain"
	"github.com/lumistory/go-studio-backend/internal/provider"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// progressCeiling caps the estimated progress of a running job. The last few
// percent are only ever reported by an actual completion.
const progressCeiling = 95

// StatusRepo defines the repository contract required by StatusService.
type StatusRepo interface {
	// GetJob fetches a job by ID.
	GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.GenerationJob, error)

	// CountJobs returns the owner's total job count.
	CountJobs(ctx context.Context, db *gorm.DB, ownerKey string) (int64, error)

	// ListJobsPage returns a page of the owner's jobs, newest first.
	ListJobsPage(ctx context.Context, db *gorm.DB, ownerKey string, offset, limit int) ([]domain.GenerationJob, error)
}

// JobStatusView is the externally reported state of a job. Status uses the
// lowercase external vocabulary (pending, processing, completed, failed)
// rather than the stored constants.
type JobStatusView struct {
	JobID        string     `json:"job_id"`
	Kind         string     `json:"kind"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	Provider     string     `json:"provider,omitempty"`
	Output       string     `json:"output,omitempty"`
	ErrorMessage string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// StatusService reads job state on behalf of its owner.
type StatusService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the job repository used by this service.
	Repo StatusRepo

	// Primary and Fallback mirror the orchestrator's provider order; the
	// progress estimate is derived from their typical durations.
	Primary  provider.Provider
	Fallback provider.Provider

	// Now is the clock, overridable in tests. Defaults to time.Now.
	Now func() time.Time
}

// now returns the service clock.
func (s *StatusService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// GetStatus returns the view of one job. It returns ErrJobNotFound when no
// such job exists and ErrUnauthorised when it belongs to someone else.
func (s *StatusService) GetStatus(ctx context.Context, ownerKey, jobID string) (*JobStatusView, error) {
	tr := otel.Tracer("services/StatusService")
	ctx, span := tr.Start(ctx, "GetStatus",
		trace.WithAttributes(
			attribute.String("owner.key", ownerKey),
			attribute.String("job.id", jobID),
		),
	)
	defer span.End()

	job, err := s.Repo.GetJob(ctx, s.DB, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if job.OwnerKey != ownerKey {
		return nil, ErrUnauthorised
	}
	v := s.view(job)
	if job.Status == domain.JobProcessing && job.RemoteID != "" {
		if st := s.remoteState(ctx, job); st != nil {
			v.Progress = remoteAdjustedProgress(st, v.Progress)
		}
	}
	return &v, nil
}

// remoteStatusTimeout bounds the remote lookup a single status read may cost.
const remoteStatusTimeout = 5 * time.Second

// remoteState consults the provider that owns the job's remote prediction.
// Any lookup failure degrades to the elapsed-time estimate rather than
// failing the status read.
func (s *StatusService) remoteState(ctx context.Context, job *domain.GenerationJob) *provider.RemoteState {
	for _, p := range []provider.Provider{s.Primary, s.Fallback} {
		if p == nil || p.Name() != job.Provider {
			continue
		}
		pp, ok := p.(provider.PollingProvider)
		if !ok {
			return nil
		}
		ctx, cancel := context.WithTimeout(ctx, remoteStatusTimeout)
		defer cancel()
		st, err := pp.RemoteStatus(ctx, job.RemoteID)
		if err != nil {
			return nil
		}
		return st
	}
	return nil
}

// remoteAdjustedProgress refines an elapsed-time estimate with the observed
// remote state. A remote terminal state whose settlement has not landed yet
// reports the ceiling rather than a mid-flight guess.
func remoteAdjustedProgress(st *provider.RemoteState, estimated int) int {
	switch st.Status {
	case "succeeded", "failed", "canceled":
		return progressCeiling
	}
	return estimated
}

// ListJobs returns a page of the owner's jobs, newest first, with the total
// count for pagination. Invalid page/pageSize fall back to defaults.
func (s *StatusService) ListJobs(ctx context.Context, ownerKey string, page, pageSize int) ([]JobStatusView, int64, int, int, error) {
	tr := otel.Tracer("services/StatusService")
	ctx, span := tr.Start(ctx, "ListJobs",
		trace.WithAttributes(
			attribute.String("owner.key", ownerKey),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	total, err := s.Repo.CountJobs(ctx, s.DB, ownerKey)
	if err != nil {
		return nil, 0, page, pageSize, err
	}
	jobs, err := s.Repo.ListJobsPage(ctx, s.DB, ownerKey, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, page, pageSize, err
	}

	out := make([]JobStatusView, 0, len(jobs))
	for i := range jobs {
		out = append(out, s.view(&jobs[i]))
	}
	return out, total, page, pageSize, nil
}

// view builds the external representation of a job.
func (s *StatusService) view(job *domain.GenerationJob) JobStatusView {
	v := JobStatusView{
		JobID:     job.ID,
		Kind:      strings.ToLower(string(job.Kind)),
		Status:    strings.ToLower(string(job.Status)),
		Progress:  s.progress(job),
		Provider:  job.Provider,
		CreatedAt: job.CreatedAt,
	}
	switch job.Status {
	case domain.JobCompleted:
		v.Output = job.Output
		v.CompletedAt = job.CompletedAt
	case domain.JobFailed:
		v.ErrorMessage = job.ErrorMessage
		v.CompletedAt = job.CompletedAt
	}
	return v
}

// progress derives the reported percentage. Running jobs scale elapsed time
// against the provider's typical duration, capped at progressCeiling; only a
// real terminal state reports 100.
func (s *StatusService) progress(job *domain.GenerationJob) int {
	switch job.Status {
	case domain.JobPending:
		return 0
	case domain.JobCompleted, domain.JobFailed:
		return 100
	}

	if job.StartedAt == nil {
		return 0
	}
	est := s.estimate(job.Kind)
	if est <= 0 {
		return 0
	}
	elapsed := s.now().Sub(*job.StartedAt)
	pct := int(elapsed * 100 / est)
	if pct > progressCeiling {
		pct = progressCeiling
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

// estimate picks the typical duration for a job kind from the first provider
// in the configured order that can serve it.
func (s *StatusService) estimate(kind domain.JobKind) time.Duration {
	for _, p := range []provider.Provider{s.Primary, s.Fallback} {
		if p == nil || !p.Supports(kind) {
			continue
		}
		return p.EstimatedDuration(kind)
	}
	// No provider to ask; assume a slow generation so progress still moves.
	return time.Minute
}
