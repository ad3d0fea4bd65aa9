// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, credit grants, admission
// limits, provider credentials, and observability.
//
// Provider and storage credentials are carried in explicit config structs and
// handed to constructors; no package reads the environment at load time.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-studio-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// CreditsConfig defines the starting grants per owner kind. Tunable values,
// not architecture: tests and deployments may override freely.
type CreditsConfig struct {
	GuestGrant int // CREDITS_GUEST_GRANT
	UserGrant  int // CREDITS_USER_GRANT
}

// AdmissionConfig bounds the pre-flight gates and the reconciliation sweep.
type AdmissionConfig struct {
	WindowRequests    int           // ADMISSION_WINDOW_REQUESTS
	Window            time.Duration // ADMISSION_WINDOW
	MaxConcurrentJobs int           // ADMISSION_MAX_CONCURRENT
	StaleJobAge       time.Duration // ADMISSION_STALE_JOB_AGE
	ReconcileInterval time.Duration // ADMISSION_RECONCILE_INTERVAL
}

// OpenAIConfig carries credentials for the synchronous provider.
type OpenAIConfig struct {
	APIKey         string        // OPENAI_API_KEY
	BaseURL        string        // OPENAI_BASE_URL
	ImageModel     string        // OPENAI_IMAGE_MODEL
	StoryModel     string        // OPENAI_STORY_MODEL
	RequestTimeout time.Duration // OPENAI_REQUEST_TIMEOUT
}

// ReplicateConfig carries credentials for the fire-and-poll provider.
type ReplicateConfig struct {
	APIToken     string        // REPLICATE_API_TOKEN
	BaseURL      string        // REPLICATE_BASE_URL
	ImageModel   string        // REPLICATE_IMAGE_MODEL
	PollInterval time.Duration // REPLICATE_POLL_INTERVAL
	PollTimeout  time.Duration // REPLICATE_POLL_TIMEOUT
}

// MinioConfig carries object-store settings for generated assets.
type MinioConfig struct {
	Endpoint      string // MINIO_ENDPOINT (empty disables uploads; outputs are inlined)
	AccessKey     string // MINIO_ACCESS_KEY
	SecretKey     string // MINIO_SECRET_KEY
	Bucket        string // MINIO_BUCKET
	UseSSL        bool   // MINIO_USE_SSL
	PublicBaseURL string // MINIO_PUBLIC_BASE_URL
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath    string // SQLite path
	Credits   CreditsConfig
	Admission AdmissionConfig

	// Providers
	PrimaryProvider  string // PRIMARY_PROVIDER: openai|replicate
	FallbackProvider string // FALLBACK_PROVIDER: openai|replicate|"" (none)
	OpenAI           OpenAIConfig
	Replicate        ReplicateConfig

	// Storage
	Minio MinioConfig

	// Edge rate limiting (token bucket in front of admission)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "app.db"),
		Credits: CreditsConfig{
			GuestGrant: getint("CREDITS_GUEST_GRANT", 5),
			UserGrant:  getint("CREDITS_USER_GRANT", 10),
		},
		Admission: AdmissionConfig{
			WindowRequests:    getint("ADMISSION_WINDOW_REQUESTS", 10),
			Window:            getdur("ADMISSION_WINDOW", time.Minute),
			MaxConcurrentJobs: getint("ADMISSION_MAX_CONCURRENT", 2),
			StaleJobAge:       getdur("ADMISSION_STALE_JOB_AGE", 10*time.Minute),
			ReconcileInterval: getdur("ADMISSION_RECONCILE_INTERVAL", time.Minute),
		},

		// Providers
		PrimaryProvider:  strings.ToLower(getenv("PRIMARY_PROVIDER", "openai")),
		FallbackProvider: strings.ToLower(getenv("FALLBACK_PROVIDER", "replicate")),
		OpenAI: OpenAIConfig{
			APIKey:         getenv("OPENAI_API_KEY", ""),
			BaseURL:        getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			ImageModel:     getenv("OPENAI_IMAGE_MODEL", "dall-e-3"),
			StoryModel:     getenv("OPENAI_STORY_MODEL", "gpt-4o-mini"),
			RequestTimeout: getdur("OPENAI_REQUEST_TIMEOUT", 2*time.Minute),
		},
		Replicate: ReplicateConfig{
			APIToken:     getenv("REPLICATE_API_TOKEN", ""),
			BaseURL:      getenv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
			ImageModel:   getenv("REPLICATE_IMAGE_MODEL", ""),
			PollInterval: getdur("REPLICATE_POLL_INTERVAL", 2*time.Second),
			PollTimeout:  getdur("REPLICATE_POLL_TIMEOUT", 3*time.Minute),
		},

		// Storage
		Minio: MinioConfig{
			Endpoint:      getenv("MINIO_ENDPOINT", ""),
			AccessKey:     getenv("MINIO_ACCESS_KEY", ""),
			SecretKey:     getenv("MINIO_SECRET_KEY", ""),
			Bucket:        getenv("MINIO_BUCKET", "generated-assets"),
			UseSSL:        getbool("MINIO_USE_SSL", false),
			PublicBaseURL: getenv("MINIO_PUBLIC_BASE_URL", ""),
		},

		// Edge rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-studio-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.FallbackProvider == "none" {
		cfg.FallbackProvider = ""
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.Credits.GuestGrant < 0 || cfg.Credits.UserGrant < 0 {
		return cfg, errors.New("credit grants must be >= 0")
	}
	if cfg.Admission.WindowRequests < 1 {
		return cfg, errors.New("ADMISSION_WINDOW_REQUESTS must be >= 1")
	}
	if cfg.Admission.Window <= 0 || cfg.Admission.StaleJobAge <= 0 || cfg.Admission.ReconcileInterval <= 0 {
		return cfg, errors.New("admission durations must be positive")
	}
	if cfg.Admission.MaxConcurrentJobs < 1 {
		return cfg, errors.New("ADMISSION_MAX_CONCURRENT must be >= 1")
	}
	switch cfg.PrimaryProvider {
	case "openai", "replicate":
	default:
		return cfg, errors.New("PRIMARY_PROVIDER must be openai or replicate")
	}
	switch cfg.FallbackProvider {
	case "", "openai", "replicate":
	default:
		return cfg, errors.New("FALLBACK_PROVIDER must be openai, replicate, or none")
	}
	if cfg.FallbackProvider != "" && cfg.FallbackProvider == cfg.PrimaryProvider {
		return cfg, errors.New("FALLBACK_PROVIDER must differ from PRIMARY_PROVIDER")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
