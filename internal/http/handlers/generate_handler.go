// Generation HTTP handlers.
//
// This file exposes the REST endpoints that start generation jobs:
//   - POST /generate/image   (credit-metered image generation)
//   - POST /generate/story   (credit-metered story generation)
//
// Handlers are transport-thin:
//   - resolve the caller identity (guest session or registered user)
//   - bind & lightly sanitize inputs; real validation lives in the service
//   - delegate to the orchestrator and translate its outcomes to HTTP
//
// A provider failure is a business outcome, not a transport error: the job
// exists, is FAILED, and the credit came back, so the endpoint answers 200
// with success=false and a classified error object.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous job exists
// for (owner, key), the handler returns that job's current state and sets
// `Idempotency-Replayed: true` instead of charging again.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lumistory/go-studio-backend/internal/domain"
	"github.com/lumistory/go-studio-backend/internal/provider"
	"github.com/lumistory/go-studio-backend/internal/services"
)

//
// Service contracts
//

// GenerationService defines the orchestrator operations used by the
// generation endpoints.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type GenerationService interface {
	// GenerateImage runs one image generation request end to end.
	GenerateImage(ctx context.Context, owner services.Owner, origin string, p services.ImageParams) (*services.GenerateResult, error)
	// GenerateStory runs one story generation request end to end.
	GenerateStory(ctx context.Context, owner services.Owner, origin string, p services.StoryParams) (*services.GenerateResult, error)
}

// StatusService defines the read-only job status operations.
type StatusService interface {
	// GetStatus returns the external view of one job owned by ownerKey.
	GetStatus(ctx context.Context, ownerKey, jobID string) (*services.JobStatusView, error)
	// ListJobs returns a page of the owner's jobs, newest first.
	ListJobs(ctx context.Context, ownerKey string, page, pageSize int) ([]services.JobStatusView, int64, int, int, error)
}

// CreditsService defines the ledger operations exposed at the boundary.
type CreditsService interface {
	// CheckBalance reports spendability and balance, creating the account
	// lazily with its starting grant.
	CheckBalance(ctx context.Context, owner services.Owner) (bool, int, error)
	// Migrate moves a guest session's balance into a user account.
	Migrate(ctx context.Context, sessionKey, userKey string) (int, error)
}

// IdempotencyStore persists and replays (owner, Idempotency-Key) -> job
// mappings. A nil store disables idempotent replays.
type IdempotencyStore interface {
	// Lookup returns the job ID recorded for the pair, or an error when the
	// pair is unknown or expired.
	Lookup(ctx context.Context, ownerKey, key string) (jobID string, err error)
	// Record stores the pair. Recording an already stored pair is a no-op.
	Record(ctx context.Context, ownerKey, key, jobID string) error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for generation, job status, and credits.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	genSvc    GenerationService
	statusSvc StatusService
	creditSvc CreditsService
	idem      IdempotencyStore
}

// New constructs and returns a Handlers instance bound to the given services.
// idem may be nil, which disables idempotent replays.
func New(genSvc GenerationService, statusSvc StatusService, creditSvc CreditsService, idem IdempotencyStore) *Handlers {
	return &Handlers{genSvc: genSvc, statusSvc: statusSvc, creditSvc: creditSvc, idem: idem}
}

//
// Identity
//

// requestOwner resolves the caller identity from the identity headers. A
// registered user (X-User-ID) wins over a guest session (X-Session-ID); the
// stored owner keys are namespaced so the two can never collide.
func requestOwner(c *gin.Context) (services.Owner, bool) {
	if id := strings.TrimSpace(c.GetHeader("X-User-ID")); id != "" {
		return services.Owner{Key: "user:" + id, Kind: domain.OwnerUser}, true
	}
	if id := strings.TrimSpace(c.GetHeader("X-Session-ID")); id != "" {
		return services.Owner{Key: "guest:" + id, Kind: domain.OwnerGuest}, true
	}
	return services.Owner{}, false
}

//
// DTOs
//

// GenerateImageRequest is the JSON payload for starting an image generation.
type GenerateImageRequest struct {
	// Prompt describes the desired image. It must be non-empty.
	Prompt string `json:"prompt" binding:"required,min=1" example:"a fox reading under a maple tree"`
	// NegativePrompt lists things to avoid in the image.
	NegativePrompt string `json:"negative_prompt,omitempty" example:"text, watermark"`
	// Style selects a named style preset (watercolor, cartoon, storybook, pixel, sketch).
	Style string `json:"style,omitempty" example:"watercolor"`
	// Width in pixels; defaults to 1024.
	Width int `json:"width,omitempty" example:"1024"`
	// Height in pixels; defaults to 1024.
	Height int `json:"height,omitempty" example:"1024"`
}

// GenerateStoryRequest is the JSON payload for starting a story generation.
type GenerateStoryRequest struct {
	// SubjectName is the story protagonist's name.
	SubjectName string `json:"subject_name" binding:"required,min=1" example:"Mila"`
	// SubjectAge tailors vocabulary to the reader's age.
	SubjectAge int `json:"subject_age,omitempty" example:"6"`
	// Theme is the story setting or topic.
	Theme string `json:"theme" binding:"required,min=1" example:"a trip to the moon"`
	// PageCount is the requested number of pages; defaults to 5, max 10.
	PageCount int `json:"page_count,omitempty" example:"5"`
	// CustomElements are extra details to weave into the story.
	CustomElements []string `json:"custom_elements,omitempty"`
}

// GenerateError is the classified failure attached to an unsuccessful
// generation outcome.
type GenerateError struct {
	Code    string `json:"code" example:"provider_timeout"`
	Message string `json:"message" example:"openai: timeout"`
}

// GenerateResponse is the JSON envelope for a settled generation request,
// successful or not.
type GenerateResponse struct {
	Success          bool            `json:"success"`
	JobID            string          `json:"job_id"`
	Status           string          `json:"status" example:"completed"`
	Result           json.RawMessage `json:"result,omitempty"`
	Error            *GenerateError  `json:"error,omitempty"`
	CreditsRemaining int             `json:"credits_remaining"`
}

//
// Helpers
//

// classCode maps a provider failure class to an envelope error code.
func classCode(class provider.FailureClass) string {
	switch class {
	case provider.ClassContentPolicy:
		return ErrCodeContentPolicy
	case provider.ClassTimeout:
		return ErrCodeProviderTimeout
	case provider.ClassRateLimited, provider.ClassUnavailable:
		return ErrCodeProviderUnavailable
	default:
		return ErrCodeGenerationFailed
	}
}

// generateResponse builds the settled-outcome envelope from an orchestrator
// result.
func generateResponse(res *services.GenerateResult) GenerateResponse {
	out := GenerateResponse{
		Success:          res.Success,
		JobID:            res.Job.ID,
		Status:           strings.ToLower(string(res.Job.Status)),
		CreditsRemaining: res.CreditsRemaining,
	}
	if res.Success {
		out.Result = json.RawMessage(res.Output)
	} else {
		out.Error = &GenerateError{
			Code:    classCode(res.FailureClass),
			Message: res.ErrorMessage,
		}
	}
	return out
}

// failGenerate translates orchestrator rejection errors to HTTP responses.
// Only pre-debit rejections reach here; settled outcomes flow through
// generateResponse instead.
func failGenerate(c *gin.Context, err error) {
	var vErr *services.ValidationError
	var rlErr *services.RateLimitError
	var ccErr *services.ConcurrencyLimitError
	switch {
	case errors.As(err, &vErr):
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, strings.Join(vErr.Problems, "; "))
	case errors.As(err, &rlErr):
		failRetryAfter(c, rlErr.RetryAfterSeconds, ErrCodeRateLimited, "too many requests, slow down")
	case errors.As(err, &ccErr):
		failRetryAfter(c, 5, ErrCodeConcurrencyLimited, ccErr.Reason)
	case errors.Is(err, services.ErrInsufficientCredits):
		fail(c, http.StatusPaymentRequired, ErrCodeInsufficientCredits, "not enough credits to start a generation")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// idempotencyKey reads the validated Idempotency-Key header, if any.
func idempotencyKey(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader("Idempotency-Key"))
}

// replayJob answers with the recorded job for a previously seen
// (owner, Idempotency-Key) pair. Returns true when the replay was served.
func (h *Handlers) replayJob(c *gin.Context, owner services.Owner, key string) bool {
	if key == "" || h.idem == nil {
		return false
	}
	ctx := c.Request.Context()
	jobID, err := h.idem.Lookup(ctx, owner.Key, key)
	if err != nil {
		return false
	}
	view, err := h.statusSvc.GetStatus(ctx, owner.Key, jobID)
	if err != nil {
		return false
	}
	c.Header("Idempotency-Replayed", "true")
	ok(c, http.StatusOK, view)
	return true
}

// recordIdempotency stores the (owner, key) -> job mapping, best effort.
func (h *Handlers) recordIdempotency(ctx context.Context, owner services.Owner, key, jobID string) {
	if key == "" || jobID == "" || h.idem == nil {
		return
	}
	_ = h.idem.Record(ctx, owner.Key, key, jobID)
}

//
// Handlers
//

// GenerateImage godoc
// @ID          generateImage
// @Summary     Generate an image
// @Description Spends one credit and runs an image generation through the configured provider chain.
// @Description Supports idempotency via the Idempotency-Key header (same key → same job).
// @Tags        Generation
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "Registered user ID"   example(user123)
// @Param       X-Session-ID     header  string  false "Guest session ID"     example(3f2c1b7a)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"
// @Param       body             body    handlers.GenerateImageRequest  true  "Image generation payload"
//
// @Success     200  {object}  handlers.GenerateResponse  "Settled outcome (success or classified failure)"
// @Failure     400  {object}  handlers.ErrorResponse     "Validation failed"
// @Failure     401  {object}  handlers.ErrorResponse     "Missing identity"
// @Failure     402  {object}  handlers.ErrorResponse     "Insufficient credits"
// @Failure     429  {object}  handlers.ErrorResponse     "Rate or concurrency limited"
// @Failure     500  {object}  handlers.ErrorResponse     "Internal error"
// @Router      /generate/image [post]
func (h *Handlers) GenerateImage(c *gin.Context) {
	ctx := c.Request.Context()

	owner, known := requestOwner(c)
	if !known {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID or X-Session-ID header required")
		return
	}

	var req GenerateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "prompt required")
		return
	}

	idemKey := idempotencyKey(c)
	if h.replayJob(c, owner, idemKey) {
		return
	}

	res, err := h.genSvc.GenerateImage(ctx, owner, c.ClientIP(), services.ImageParams{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Style:          req.Style,
		Width:          req.Width,
		Height:         req.Height,
	})
	if err != nil {
		failGenerate(c, err)
		return
	}

	h.recordIdempotency(ctx, owner, idemKey, res.Job.ID)
	ok(c, http.StatusOK, generateResponse(res))
}

// GenerateStory godoc
// @ID          generateStory
// @Summary     Generate a story
// @Description Spends one credit and runs a personalized story generation.
// @Description Supports idempotency via the Idempotency-Key header (same key → same job).
// @Tags        Generation
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "Registered user ID"   example(user123)
// @Param       X-Session-ID     header  string  false "Guest session ID"     example(3f2c1b7a)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"
// @Param       body             body    handlers.GenerateStoryRequest  true  "Story generation payload"
//
// @Success     200  {object}  handlers.GenerateResponse  "Settled outcome (success or classified failure)"
// @Failure     400  {object}  handlers.ErrorResponse     "Validation failed"
// @Failure     401  {object}  handlers.ErrorResponse     "Missing identity"
// @Failure     402  {object}  handlers.ErrorResponse     "Insufficient credits"
// @Failure     429  {object}  handlers.ErrorResponse     "Rate or concurrency limited"
// @Failure     500  {object}  handlers.ErrorResponse     "Internal error"
// @Router      /generate/story [post]
func (h *Handlers) GenerateStory(c *gin.Context) {
	ctx := c.Request.Context()

	owner, known := requestOwner(c)
	if !known {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID or X-Session-ID header required")
		return
	}

	var req GenerateStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "subject_name and theme required")
		return
	}

	idemKey := idempotencyKey(c)
	if h.replayJob(c, owner, idemKey) {
		return
	}

	res, err := h.genSvc.GenerateStory(ctx, owner, c.ClientIP(), services.StoryParams{
		SubjectName:    req.SubjectName,
		SubjectAge:     req.SubjectAge,
		Theme:          req.Theme,
		PageCount:      req.PageCount,
		CustomElements: req.CustomElements,
	})
	if err != nil {
		failGenerate(c, err)
		return
	}

	h.recordIdempotency(ctx, owner, idemKey, res.Job.ID)
	ok(c, http.StatusOK, generateResponse(res))
}
