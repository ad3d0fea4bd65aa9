// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/lumistory/go-studio-backend/internal/admission"
	"github.com/lumistory/go-studio-backend/internal/config"
	"github.com/lumistory/go-studio-backend/internal/domain"
	"github.com/lumistory/go-studio-backend/internal/http/handlers"
	"github.com/lumistory/go-studio-backend/internal/http/middleware"
	"github.com/lumistory/go-studio-backend/internal/provider"
	"github.com/lumistory/go-studio-backend/internal/repo"
	"github.com/lumistory/go-studio-backend/internal/services"
	"github.com/lumistory/go-studio-backend/internal/storage"
)

// ledgerRepoShim adapts the repository free functions to the
// services.LedgerRepo interface expected by the LedgerService. This keeps
// services decoupled from the concrete repo package while reusing existing
// functions.
type ledgerRepoShim struct{}

// GetAccount proxies repo.GetAccount.
func (ledgerRepoShim) GetAccount(ctx context.Context, db *gorm.DB, ownerKey string) (*domain.CreditAccount, error) {
	return repo.GetAccount(ctx, db, ownerKey)
}

// CreateAccount proxies repo.CreateAccount.
func (ledgerRepoShim) CreateAccount(ctx context.Context, db *gorm.DB, ownerKey string, kind domain.OwnerKind, grant int) (*domain.CreditAccount, error) {
	return repo.CreateAccount(ctx, db, ownerKey, kind, grant)
}

// DebitCredit proxies repo.DebitCredit.
func (ledgerRepoShim) DebitCredit(ctx context.Context, db *gorm.DB, ownerKey, jobID string) (int, error) {
	return repo.DebitCredit(ctx, db, ownerKey, jobID)
}

// RefundCredit proxies repo.RefundCredit.
func (ledgerRepoShim) RefundCredit(ctx context.Context, db *gorm.DB, ownerKey, jobID string) (int, error) {
	return repo.RefundCredit(ctx, db, ownerKey, jobID)
}

// MigrateBalance proxies repo.MigrateBalance.
func (ledgerRepoShim) MigrateBalance(ctx context.Context, db *gorm.DB, fromOwner, toOwner string) (int, error) {
	return repo.MigrateBalance(ctx, db, fromOwner, toOwner)
}

// jobRepoShim adapts the job repository free functions to the
// services.JobRepo interface expected by the GenerationService.
type jobRepoShim struct{}

// CreateJob proxies repo.CreateJob.
func (jobRepoShim) CreateJob(ctx context.Context, db *gorm.DB, ownerKey string, kind domain.JobKind, input string) (*domain.GenerationJob, error) {
	return repo.CreateJob(ctx, db, ownerKey, kind, input)
}

// DeleteJob proxies repo.DeleteJob.
func (jobRepoShim) DeleteJob(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteJob(ctx, db, id)
}

// MarkProcessing proxies repo.MarkProcessing.
func (jobRepoShim) MarkProcessing(ctx context.Context, db *gorm.DB, id string) error {
	return repo.MarkProcessing(ctx, db, id)
}

// SetJobRemote proxies repo.SetJobRemote.
func (jobRepoShim) SetJobRemote(ctx context.Context, db *gorm.DB, id, provider, remoteID string) error {
	return repo.SetJobRemote(ctx, db, id, provider, remoteID)
}

// MarkCompleted proxies repo.MarkCompleted.
func (jobRepoShim) MarkCompleted(ctx context.Context, db *gorm.DB, id, providerName, output string) error {
	return repo.MarkCompleted(ctx, db, id, providerName, output)
}

// MarkFailed proxies repo.MarkFailed.
func (jobRepoShim) MarkFailed(ctx context.Context, db *gorm.DB, id, providerName, errMsg string) error {
	return repo.MarkFailed(ctx, db, id, providerName, errMsg)
}

// CountProcessing proxies repo.CountProcessing.
func (jobRepoShim) CountProcessing(ctx context.Context, db *gorm.DB, ownerKey string) (int64, error) {
	return repo.CountProcessing(ctx, db, ownerKey)
}

// ListStaleProcessing proxies repo.ListStaleProcessing.
func (jobRepoShim) ListStaleProcessing(ctx context.Context, db *gorm.DB, before time.Time) ([]domain.GenerationJob, error) {
	return repo.ListStaleProcessing(ctx, db, before)
}

// statusRepoShim adapts the read-only job lookups to services.StatusRepo.
type statusRepoShim struct{}

// GetJob proxies repo.GetJob.
func (statusRepoShim) GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.GenerationJob, error) {
	return repo.GetJob(ctx, db, id)
}

// CountJobs proxies repo.CountJobs.
func (statusRepoShim) CountJobs(ctx context.Context, db *gorm.DB, ownerKey string) (int64, error) {
	return repo.CountJobs(ctx, db, ownerKey)
}

// ListJobsPage proxies repo.ListJobsPage.
func (statusRepoShim) ListJobsPage(ctx context.Context, db *gorm.DB, ownerKey string, offset, limit int) ([]domain.GenerationJob, error) {
	return repo.ListJobsPage(ctx, db, ownerKey, offset, limit)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and returns the orchestrator so the caller can run the background
// reconciliation sweep. It configures observability (tracing, metrics),
// idempotency and rate limiting, CORS and security headers, health and
// metrics endpoints, and then mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip compression (stories and job lists squash well)
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per owner/IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, primary, fallback provider.Provider, blobs storage.Store, cfg config.Config) *services.GenerationService {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key",
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Response compression
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, ownerKey, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, ownerKey, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 9) Token-bucket rate limiter per owner/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByOwnerOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-Session-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Retry-After"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-Session-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (opt-in)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/providers/storage
	ledgerSvc := &services.LedgerService{
		DB:             db,
		Repo:           ledgerRepoShim{},
		GuestGrant:     cfg.Credits.GuestGrant,
		UserGrant:      cfg.Credits.UserGrant,
		IsInsufficient: repo.IsInsufficientBalance,
	}
	gates := admission.NewController(admission.Config{
		WindowRequests: cfg.Admission.WindowRequests,
		Window:         cfg.Admission.Window,
		MaxConcurrent:  cfg.Admission.MaxConcurrentJobs,
	})
	genSvc := &services.GenerationService{
		DB:          db,
		Jobs:        jobRepoShim{},
		Ledger:      ledgerSvc,
		Gates:       gates,
		Primary:     primary,
		Fallback:    fallback,
		Blobs:       blobs,
		StaleJobAge: cfg.Admission.StaleJobAge,
	}
	statusSvc := &services.StatusService{
		DB:       db,
		Repo:     statusRepoShim{},
		Primary:  primary,
		Fallback: fallback,
	}
	h := handlers.New(genSvc, statusSvc, ledgerSvc, repo.IdempotencyStore{DB: db, TTL: cfg.IdempotencyTTL})

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Generation
		api.POST("/generate/image", h.GenerateImage)
		api.POST("/generate/story", h.GenerateStory)

		// Jobs
		api.GET("/jobs", h.ListJobs)
		api.GET("/jobs/:id", h.GetJob)

		// Credits
		api.GET("/credits", h.GetCredits)
		api.POST("/credits/migrate", h.MigrateCredits)
	}

	return genSvc
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
