// Package services – GenerationService
//
// This file implements the GenerationService, the orchestrator that drives a
// generation request through its whole lifecycle: input validation, admission
// gates, credit debit, job state transitions, provider attempts with a single
// fallback, asset storage, and the compensating refund when the attempt chain
// fails. It also runs the reconciliation sweep that repairs jobs left in
// PROCESSING by a crashed run.
//
// Two invariants this file is responsible for:
//
//   - a credit is spent iff a job row exists for it, and a failed job always
//     gets its credit back exactly once;
//   - a job only ever moves PENDING -> PROCESSING -> COMPLETED|FAILED, with
//     the storage layer rejecting any other transition.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/lumistory/go-studio-backend/internal/admission"
	"github.com/lumistory/go-studio-backend/internal/domain"
	"github.com/lumistory/go-studio-backend/internal/provider"
	"github.com/lumistory/go-studio-backend/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Image dimension bounds and defaults, in pixels.
const (
	DefaultImageSize = 1024
	MinImageSize     = 256
	MaxImageSize     = 2048
)

// Story parameter bounds and defaults.
const (
	DefaultPageCount  = 5
	MaxPageCount      = 10
	MaxSubjectNameLen = 100
	MaxSubjectAge     = 18
	MaxCustomElements = 5
)

// settleAttempts bounds the retries of the failure settlement (refund plus
// MarkFailed) against transient storage errors.
const settleAttempts = 3

// JobRepo defines the repository contract required by GenerationService.
// Implementations enforce the legal state transitions at the storage layer.
type JobRepo interface {
	// CreateJob inserts a new PENDING job.
	CreateJob(ctx context.Context, db *gorm.DB, ownerKey string, kind domain.JobKind, input string) (*domain.GenerationJob, error)

	// DeleteJob removes a job that is still PENDING.
	DeleteJob(ctx context.Context, db *gorm.DB, id string) error

	// MarkProcessing transitions PENDING -> PROCESSING.
	MarkProcessing(ctx context.Context, db *gorm.DB, id string) error

	// SetJobRemote records the provider and remote job ID on a PROCESSING row.
	SetJobRemote(ctx context.Context, db *gorm.DB, id, provider, remoteID string) error

	// MarkCompleted transitions PROCESSING -> COMPLETED.
	MarkCompleted(ctx context.Context, db *gorm.DB, id, provider, output string) error

	// MarkFailed transitions PROCESSING -> FAILED.
	MarkFailed(ctx context.Context, db *gorm.DB, id, provider, errMsg string) error

	// CountProcessing counts the owner's jobs currently in PROCESSING.
	CountProcessing(ctx context.Context, db *gorm.DB, ownerKey string) (int64, error)

	// ListStaleProcessing returns PROCESSING jobs started before the cutoff.
	ListStaleProcessing(ctx context.Context, db *gorm.DB, before time.Time) ([]domain.GenerationJob, error)
}

// ImageParams are the user-supplied inputs of an image generation request.
type ImageParams struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Style          string `json:"style,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
}

// StoryParams are the user-supplied inputs of a story generation request.
type StoryParams struct {
	SubjectName    string   `json:"subject_name"`
	SubjectAge     int      `json:"subject_age,omitempty"`
	Theme          string   `json:"theme"`
	PageCount      int      `json:"page_count,omitempty"`
	CustomElements []string `json:"custom_elements,omitempty"`
}

// imageOutput is the persisted output payload of a completed image job.
type imageOutput struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Provider string `json:"provider"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Style    string `json:"style,omitempty"`
}

// storyOutput is the persisted output payload of a completed story job.
type storyOutput struct {
	Type     string          `json:"type"`
	Provider string          `json:"provider"`
	Story    *provider.Story `json:"story"`
}

// GenerateResult is the synchronous outcome of a generation request. Provider
// failures are a business outcome, not a transport error: they come back with
// Success=false and a nil error so handlers return 200 with the failed job.
type GenerateResult struct {
	Success          bool
	Job              *domain.GenerationJob
	Output           string
	ErrorMessage     string
	FailureClass     provider.FailureClass
	CreditsRemaining int
}

// GenerationService orchestrates the credit-metered generation pipeline.
type GenerationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Jobs is the job repository used by this service.
	Jobs JobRepo
	// Ledger owns all credit movement.
	Ledger *LedgerService
	// Gates applies the rate and concurrency admission checks.
	Gates *admission.Controller
	// Primary and Fallback are the provider preference order. Fallback may
	// be nil.
	Primary  provider.Provider
	Fallback provider.Provider
	// Blobs stores generated image bytes and hands back a serving URL.
	Blobs storage.Store

	// StaleJobAge is how long a job may sit in PROCESSING before the
	// reconciliation sweep declares it abandoned.
	StaleJobAge time.Duration
}

// GenerateImage runs one image generation request end to end.
func (s *GenerationService) GenerateImage(ctx context.Context, owner Owner, origin string, p ImageParams) (*GenerateResult, error) {
	tr := otel.Tracer("services/GenerationService")
	ctx, span := tr.Start(ctx, "GenerateImage",
		trace.WithAttributes(attribute.String("owner.key", owner.Key)),
	)
	defer span.End()

	req, problems := s.buildImageRequest(p)
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	input, _ := json.Marshal(p)
	return s.generate(ctx, owner, origin, domain.JobImage, req, string(input))
}

// GenerateStory runs one story generation request end to end.
func (s *GenerationService) GenerateStory(ctx context.Context, owner Owner, origin string, p StoryParams) (*GenerateResult, error) {
	tr := otel.Tracer("services/GenerationService")
	ctx, span := tr.Start(ctx, "GenerateStory",
		trace.WithAttributes(attribute.String("owner.key", owner.Key)),
	)
	defer span.End()

	req, problems := s.buildStoryRequest(p)
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	input, _ := json.Marshal(p)
	return s.generate(ctx, owner, origin, domain.JobStory, req, string(input))
}

// buildImageRequest validates and normalizes image parameters into a provider
// request. Returned problems are user-facing.
func (s *GenerationService) buildImageRequest(p ImageParams) (provider.Request, []string) {
	var problems []string

	ok, sanitised, errs := provider.ValidatePrompt(p.Prompt)
	if !ok {
		problems = append(problems, errs...)
	}

	w, h := p.Width, p.Height
	if w == 0 {
		w = DefaultImageSize
	}
	if h == 0 {
		h = DefaultImageSize
	}
	if w < MinImageSize || w > MaxImageSize {
		problems = append(problems, "width out of range")
	}
	if h < MinImageSize || h > MaxImageSize {
		problems = append(problems, "height out of range")
	}

	return provider.Request{
		Kind:           domain.JobImage,
		Prompt:         provider.BuildEnhancedPrompt(sanitised, p.Style),
		NegativePrompt: provider.BuildNegativePrompt(p.NegativePrompt, p.Style),
		Style:          p.Style,
		Width:          w,
		Height:         h,
	}, problems
}

// buildStoryRequest validates and normalizes story parameters into a provider
// request.
func (s *GenerationService) buildStoryRequest(p StoryParams) (provider.Request, []string) {
	var problems []string

	okName, name, _ := provider.ValidatePrompt(p.SubjectName)
	if !okName {
		problems = append(problems, "subject_name is required")
	} else if len([]rune(name)) > MaxSubjectNameLen {
		problems = append(problems, "subject_name is too long")
	}

	okTheme, theme, _ := provider.ValidatePrompt(p.Theme)
	if !okTheme {
		problems = append(problems, "theme is required")
	}

	if p.SubjectAge < 0 || p.SubjectAge > MaxSubjectAge {
		problems = append(problems, "subject_age out of range")
	}

	pages := p.PageCount
	if pages == 0 {
		pages = DefaultPageCount
	}
	if pages < 1 || pages > MaxPageCount {
		problems = append(problems, "page_count out of range")
	}
	if len(p.CustomElements) > MaxCustomElements {
		problems = append(problems, "too many custom elements")
	}

	return provider.Request{
		Kind:           domain.JobStory,
		SubjectName:    name,
		SubjectAge:     p.SubjectAge,
		Theme:          theme,
		PageCount:      pages,
		CustomElements: p.CustomElements,
	}, problems
}

// generate is the shared pipeline behind both request kinds. The ordering is
// deliberate: every gate that can reject the request runs before the debit,
// and the debit runs before any provider work, so a spent credit always maps
// to a job row that will reach a terminal state.
func (s *GenerationService) generate(ctx context.Context, owner Owner, origin string, kind domain.JobKind, req provider.Request, input string) (*GenerateResult, error) {
	if allowed, retryAfter := s.Gates.CheckRate(owner.Key, origin); !allowed {
		admissionRejects.WithLabelValues("rate").Inc()
		return nil, &RateLimitError{RetryAfterSeconds: retryAfter}
	}
	if allowed, reason := s.Gates.CheckConcurrency(owner.Key); !allowed {
		admissionRejects.WithLabelValues("concurrency").Inc()
		return nil, &ConcurrencyLimitError{Reason: reason}
	}

	hasCredits, _, err := s.Ledger.CheckBalance(ctx, owner)
	if err != nil {
		return nil, err
	}
	if !hasCredits {
		admissionRejects.WithLabelValues("credits").Inc()
		return nil, ErrInsufficientCredits
	}

	job, err := s.Jobs.CreateJob(ctx, s.DB, owner.Key, kind, input)
	if err != nil {
		return nil, err
	}

	balance, err := s.Ledger.Debit(ctx, owner, job.ID)
	if err != nil {
		// The balance check above raced another request. The job never left
		// PENDING, so deleting it leaves no trace of the rejected attempt.
		if derr := s.Jobs.DeleteJob(ctx, s.DB, job.ID); derr != nil {
			log.Error().Err(derr).Str("job_id", job.ID).Msg("failed to delete pending job after debit rejection")
		}
		if errors.Is(err, ErrInsufficientCredits) {
			admissionRejects.WithLabelValues("credits").Inc()
		}
		return nil, err
	}
	creditsDebited.Inc()

	if err := s.Jobs.MarkProcessing(ctx, s.DB, job.ID); err != nil {
		// The credit is already spent and the row is still PENDING, where no
		// settlement or sweep would ever find it. Compensate here.
		s.abandonDebited(ctx, owner, job)
		return nil, err
	}
	s.Gates.Acquire(owner.Key)
	defer s.Gates.Release(owner.Key)

	result, attemptErr := s.attempt(ctx, job, req)
	if attemptErr != nil {
		return s.settleFailure(ctx, owner, job, attemptErr, balance)
	}
	return s.settleSuccess(ctx, owner, job, req, result, balance)
}

// abandonDebited compensates a debit whose job never left PENDING: the credit
// is returned and the row removed, so no charge is left hanging on a job that
// never ran. The refund is idempotent per job, so a partial compensation here
// can be repeated safely.
func (s *GenerationService) abandonDebited(ctx context.Context, owner Owner, job *domain.GenerationJob) {
	var refundErr error
	for i := 0; i < settleAttempts; i++ {
		if _, refundErr = s.Ledger.Refund(ctx, owner, job.ID); refundErr == nil {
			creditsRefunded.Inc()
			break
		}
	}
	if refundErr != nil {
		log.Error().Err(refundErr).Str("job_id", job.ID).Msg("refund failed for job that never started")
	}
	if derr := s.Jobs.DeleteJob(ctx, s.DB, job.ID); derr != nil {
		log.Error().Err(derr).Str("job_id", job.ID).Msg("failed to delete pending job after refund")
	}
}

// attempt walks the provider chain: the primary, then at most one fallback.
// A content-policy rejection stops the chain immediately since it would fail
// identically on any backend.
func (s *GenerationService) attempt(ctx context.Context, job *domain.GenerationJob, req provider.Request) (*provider.Result, error) {
	kind := job.Kind
	chain := provider.Chain(kind, s.Primary, s.Fallback)
	if len(chain) == 0 {
		return nil, ErrNoProvider
	}

	var lastErr error
	for _, p := range chain {
		start := time.Now()
		result, err := s.run(ctx, p, job, req)
		providerDuration.WithLabelValues(p.Name(), string(kind)).Observe(time.Since(start).Seconds())
		if err == nil {
			providerAttempts.WithLabelValues(p.Name(), "ok").Inc()
			return result, nil
		}
		providerAttempts.WithLabelValues(p.Name(), string(provider.ClassOf(err))).Inc()
		log.Warn().
			Err(err).
			Str("provider", p.Name()).
			Str("kind", string(kind)).
			Msg("provider attempt failed")
		lastErr = err
		if !provider.IsRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

// run executes one provider attempt. A fire-and-poll provider exposes the
// remote job ID before completion; it is persisted on the row right away so
// the status reader can consult the remote side while the job is in flight.
func (s *GenerationService) run(ctx context.Context, p provider.Provider, job *domain.GenerationJob, req provider.Request) (*provider.Result, error) {
	pp, polling := p.(provider.PollingProvider)
	if !polling {
		return p.Generate(ctx, req)
	}
	remoteID, err := pp.Begin(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.Jobs.SetJobRemote(ctx, s.DB, job.ID, p.Name(), remoteID); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Str("remote_id", remoteID).Msg("failed to record remote job id")
	}
	return pp.Await(ctx, remoteID)
}

// settleSuccess stores the generated asset, persists the output payload, and
// completes the job. Storage or persistence failures after a successful
// generation are settled as job failures so the credit comes back.
func (s *GenerationService) settleSuccess(ctx context.Context, owner Owner, job *domain.GenerationJob, req provider.Request, result *provider.Result, balance int) (*GenerateResult, error) {
	output, err := s.encodeOutput(ctx, req, result)
	if err != nil {
		return s.settleFailure(ctx, owner, job, err, balance)
	}

	if err := s.Jobs.MarkCompleted(ctx, s.DB, job.ID, result.Provider, output); err != nil {
		return s.settleFailure(ctx, owner, job, err, balance)
	}
	jobsTotal.WithLabelValues(string(job.Kind), string(domain.JobCompleted)).Inc()

	job.Status = domain.JobCompleted
	job.Provider = result.Provider
	job.Output = output
	return &GenerateResult{
		Success:          true,
		Job:              job,
		Output:           output,
		CreditsRemaining: balance,
	}, nil
}

// encodeOutput turns a provider result into the opaque output payload stored
// on the job row. Image bytes go to blob storage first.
func (s *GenerationService) encodeOutput(ctx context.Context, req provider.Request, result *provider.Result) (string, error) {
	switch {
	case result.Story != nil:
		b, err := json.Marshal(storyOutput{
			Type:     "story",
			Provider: result.Provider,
			Story:    result.Story,
		})
		return string(b), err
	case len(result.ImageData) > 0:
		obj, err := s.Blobs.Put(ctx, result.ImageData, result.ContentType)
		if err != nil {
			return "", err
		}
		b, merr := json.Marshal(imageOutput{
			Type:     "image",
			URL:      obj.URL,
			Provider: result.Provider,
			Width:    req.Width,
			Height:   req.Height,
			Style:    req.Style,
		})
		return string(b), merr
	default:
		return "", errors.New("provider returned an empty result")
	}
}

// settleFailure refunds the job's credit and marks it FAILED. Both steps are
// retried a few times against transient storage errors; the refund runs first
// because it is idempotent per job and therefore safe to repeat, while a lost
// refund would silently eat the user's credit.
func (s *GenerationService) settleFailure(ctx context.Context, owner Owner, job *domain.GenerationJob, cause error, balanceAfterDebit int) (*GenerateResult, error) {
	class := provider.ClassOf(cause)
	if errors.Is(cause, ErrNoProvider) {
		class = provider.ClassUnavailable
	}

	var balance int
	var refundErr error
	for i := 0; i < settleAttempts; i++ {
		balance, refundErr = s.Ledger.Refund(ctx, owner, job.ID)
		if refundErr == nil {
			break
		}
	}
	if refundErr != nil {
		log.Error().Err(refundErr).Str("job_id", job.ID).Msg("refund failed after retries")
		balance = balanceAfterDebit
	} else {
		creditsRefunded.Inc()
	}

	providerName := ""
	var pe *provider.Error
	if errors.As(cause, &pe) {
		providerName = pe.Provider
	}
	var markErr error
	for i := 0; i < settleAttempts; i++ {
		markErr = s.Jobs.MarkFailed(ctx, s.DB, job.ID, providerName, cause.Error())
		if markErr == nil || errors.Is(markErr, context.Canceled) {
			break
		}
	}
	if markErr != nil {
		log.Error().Err(markErr).Str("job_id", job.ID).Msg("failed to mark job failed")
	}
	jobsTotal.WithLabelValues(string(job.Kind), string(domain.JobFailed)).Inc()

	job.Status = domain.JobFailed
	job.Provider = providerName
	job.ErrorMessage = cause.Error()
	return &GenerateResult{
		Success:          false,
		Job:              job,
		ErrorMessage:     cause.Error(),
		FailureClass:     class,
		CreditsRemaining: balance,
	}, nil
}

// Reconcile repairs jobs abandoned in PROCESSING: anything started more than
// StaleJobAge ago is failed, refunded, and has its owner's in-flight counter
// resynchronized from storage. Safe to run concurrently with live traffic;
// the guarded transitions make double-settlement impossible.
func (s *GenerationService) Reconcile(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.StaleJobAge)
	stale, err := s.Jobs.ListStaleProcessing(ctx, s.DB, cutoff)
	if err != nil {
		return err
	}

	owners := make(map[string]domain.OwnerKind, len(stale))
	for _, job := range stale {
		if err := s.Jobs.MarkFailed(ctx, s.DB, job.ID, job.Provider, "job abandoned: processing timed out"); err != nil {
			// Raced a live settlement; the other side owns this job now.
			continue
		}
		owner := Owner{Key: job.OwnerKey, Kind: domain.OwnerGuest}
		if _, err := s.Ledger.Refund(ctx, owner, job.ID); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("reconcile refund failed")
		} else {
			creditsRefunded.Inc()
		}
		reconciledJobs.Inc()
		jobsTotal.WithLabelValues(string(job.Kind), string(domain.JobFailed)).Inc()
		owners[job.OwnerKey] = domain.OwnerGuest
		log.Info().
			Str("job_id", job.ID).
			Str("owner_key", job.OwnerKey).
			Time("started_at", derefTime(job.StartedAt)).
			Msg("reconciled stale processing job")
	}

	for ownerKey := range owners {
		n, err := s.Jobs.CountProcessing(ctx, s.DB, ownerKey)
		if err != nil {
			continue
		}
		s.Gates.Sync(ownerKey, int(n))
	}
	return nil
}

// RunReconciler runs Reconcile on a fixed interval until ctx is cancelled.
// Intended to be launched as a goroutine from main.
func (s *GenerationService) RunReconciler(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.Reconcile(ctx); err != nil {
				log.Error().Err(err).Msg("reconciliation sweep failed")
			}
		}
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
