// Command server runs the credit-metered generation API.
//
// Startup order:
//  1. Load .env (best effort) and configuration from the environment
//  2. Configure zerolog (level, optional pretty console output)
//  3. Open SQLite, run migrations
//  4. Set up OpenTelemetry (no-op unless enabled)
//  5. Build providers and the asset store from configuration
//  6. Wire the Gin router and start the HTTP server
//  7. Run the reconciliation sweep in the background
//
// Shutdown is graceful: SIGINT/SIGTERM stops accepting connections, waits for
// in-flight requests up to the write timeout, then flushes traces.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lumistory/go-studio-backend/docs"
	"github.com/lumistory/go-studio-backend/internal/config"
	httpapi "github.com/lumistory/go-studio-backend/internal/http"
	"github.com/lumistory/go-studio-backend/internal/observability"
	"github.com/lumistory/go-studio-backend/internal/provider"
	"github.com/lumistory/go-studio-backend/internal/repo"
	"github.com/lumistory/go-studio-backend/internal/storage"
	"github.com/lumistory/go-studio-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// @title       Studio Backend API
// @version     1.0
// @description Credit-metered image and story generation service.
// @BasePath    /api/v1
func main() {
	// Best effort: local development convenience, never required.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup tracing")
	}

	primary, fallback := buildProviders(cfg)
	blobs := buildStore(ctx, cfg)

	docs.SwaggerInfo.BasePath = cfg.APIBasePath

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	genSvc := httpapi.RegisterRoutes(r, db, primary, fallback, blobs, cfg)

	go genSvc.RunReconciler(ctx, cfg.Admission.ReconcileInterval)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Str("primary_provider", cfg.PrimaryProvider).
			Str("fallback_provider", cfg.FallbackProvider).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
}

// buildProviders constructs the primary and fallback providers from config.
// A provider without credentials is still constructed; it reports itself
// unavailable and selection skips it.
func buildProviders(cfg config.Config) (primary, fallback provider.Provider) {
	byName := func(name string) provider.Provider {
		switch name {
		case "openai":
			return provider.NewOpenAI(provider.OpenAIConfig{
				APIKey:         cfg.OpenAI.APIKey,
				BaseURL:        cfg.OpenAI.BaseURL,
				ImageModel:     cfg.OpenAI.ImageModel,
				StoryModel:     cfg.OpenAI.StoryModel,
				RequestTimeout: cfg.OpenAI.RequestTimeout,
			})
		case "replicate":
			return provider.NewReplicate(provider.ReplicateConfig{
				APIToken:     cfg.Replicate.APIToken,
				BaseURL:      cfg.Replicate.BaseURL,
				ImageModel:   cfg.Replicate.ImageModel,
				PollInterval: cfg.Replicate.PollInterval,
				PollTimeout:  cfg.Replicate.PollTimeout,
			})
		default:
			return nil
		}
	}
	return byName(cfg.PrimaryProvider), byName(cfg.FallbackProvider)
}

// buildStore picks the asset store: MinIO when an endpoint is configured,
// otherwise an in-memory store suitable for development and tests.
func buildStore(ctx context.Context, cfg config.Config) storage.Store {
	if cfg.Minio.Endpoint == "" {
		log.Warn().Msg("MINIO_ENDPOINT not set; generated assets are held in memory")
		return storage.NewMemoryStore()
	}
	st, err := storage.NewMinioStore(ctx, storage.MinioConfig{
		Endpoint:      cfg.Minio.Endpoint,
		AccessKey:     cfg.Minio.AccessKey,
		SecretKey:     cfg.Minio.SecretKey,
		Bucket:        cfg.Minio.Bucket,
		UseSSL:        cfg.Minio.UseSSL,
		PublicBaseURL: cfg.Minio.PublicBaseURL,
	})
	if err != nil {
		log.Fatal().Err(err).Str("endpoint", cfg.Minio.Endpoint).Msg("connect object store")
	}
	return st
}
