package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging / Docs
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v1/") // no leading slash + trailing slash -> "/api/v1"

	// App
	t.Setenv("DB_PATH", "db.sqlite")
	t.Setenv("CREDITS_GUEST_GRANT", "3")
	t.Setenv("CREDITS_USER_GRANT", "20")
	t.Setenv("ADMISSION_WINDOW_REQUESTS", "7")
	t.Setenv("ADMISSION_WINDOW", "30s")
	t.Setenv("ADMISSION_MAX_CONCURRENT", "4")
	t.Setenv("ADMISSION_STALE_JOB_AGE", "5m")

	// Providers
	t.Setenv("PRIMARY_PROVIDER", "REPLICATE") // lowercased
	t.Setenv("FALLBACK_PROVIDER", "none")     // normalized to ""
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("REPLICATE_POLL_INTERVAL", "500ms")

	// Rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 5.0
	t.Setenv("RATE_BURST", "nope") // -> default 10

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// Idempotency
	t.Setenv("IDEMPOTENCY_TTL", "48h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "8088" || cfg.ReadTimeout != 2*time.Second || cfg.MaxHeaderBytes != 8192 {
		t.Fatalf("server settings: %+v", cfg)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("GinMode normalization: %q", cfg.GinMode)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled {
		t.Fatalf("logging settings: level=%q pretty=%v swagger=%v", cfg.LogLevel, cfg.LogPretty, cfg.SwaggerEnabled)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("base path normalization: %q", cfg.APIBasePath)
	}
	if cfg.Credits.GuestGrant != 3 || cfg.Credits.UserGrant != 20 {
		t.Fatalf("credit grants: %+v", cfg.Credits)
	}
	if cfg.Admission.WindowRequests != 7 || cfg.Admission.Window != 30*time.Second ||
		cfg.Admission.MaxConcurrentJobs != 4 || cfg.Admission.StaleJobAge != 5*time.Minute {
		t.Fatalf("admission settings: %+v", cfg.Admission)
	}
	if cfg.PrimaryProvider != "replicate" || cfg.FallbackProvider != "" {
		t.Fatalf("provider selection: %q / %q", cfg.PrimaryProvider, cfg.FallbackProvider)
	}
	if cfg.OpenAI.APIKey != "sk-test" || cfg.Replicate.PollInterval != 500*time.Millisecond {
		t.Fatalf("provider configs: %+v %+v", cfg.OpenAI, cfg.Replicate)
	}
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limits fell back wrong: %v %v", cfg.RateRPS, cfg.RateBurst)
	}
	if want := []string{"https://a.com", "http://b"}; !reflect.DeepEqual(cfg.CORS.AllowedOrigins, want) {
		t.Fatalf("CORS origins: %v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security settings: %+v", cfg.Security)
	}
	if cfg.IdempotencyTTL != 48*time.Hour {
		t.Fatalf("idempotency TTL: %v", cfg.IdempotencyTTL)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with empty env: %v", err)
	}
	if cfg.Port != "8080" || cfg.APIBasePath != "/api/v1" || cfg.DBPath != "app.db" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Credits.GuestGrant != 5 || cfg.Credits.UserGrant != 10 {
		t.Fatalf("default grants: %+v", cfg.Credits)
	}
	if cfg.PrimaryProvider != "openai" || cfg.FallbackProvider != "replicate" {
		t.Fatalf("default providers: %q / %q", cfg.PrimaryProvider, cfg.FallbackProvider)
	}
	if cfg.Admission.WindowRequests != 10 || cfg.Admission.MaxConcurrentJobs != 2 {
		t.Fatalf("default admission: %+v", cfg.Admission)
	}
	if cfg.Minio.Bucket != "generated-assets" || cfg.Minio.Endpoint != "" {
		t.Fatalf("default storage: %+v", cfg.Minio)
	}
}

// --- validation errors ---

func TestLoad_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad log level", map[string]string{"LOG_LEVEL": "chatty"}, "LOG_LEVEL"},
		{"zero timeout", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts"},
		{"bad header bytes", map[string]string{"MAX_HEADER_BYTES": "-1"}, "MAX_HEADER_BYTES"},
		{"negative grant", map[string]string{"CREDITS_GUEST_GRANT": "-1"}, "credit grants"},
		{"zero window requests", map[string]string{"ADMISSION_WINDOW_REQUESTS": "0"}, "ADMISSION_WINDOW_REQUESTS"},
		{"zero concurrency", map[string]string{"ADMISSION_MAX_CONCURRENT": "0"}, "ADMISSION_MAX_CONCURRENT"},
		{"unknown primary", map[string]string{"PRIMARY_PROVIDER": "dalle"}, "PRIMARY_PROVIDER"},
		{"unknown fallback", map[string]string{"FALLBACK_PROVIDER": "dalle"}, "FALLBACK_PROVIDER"},
		{"same fallback", map[string]string{"PRIMARY_PROVIDER": "openai", "FALLBACK_PROVIDER": "openai"}, "differ"},
		{"negative rps", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"zero burst", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"zero idempotency ttl", map[string]string{"IDEMPOTENCY_TTL": "0s"}, "IDEMPOTENCY_TTL"},
		{"bad sample ratio", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}
