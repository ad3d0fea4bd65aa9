package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lumistory/go-studio-backend/internal/config"
	"github.com/lumistory/go-studio-backend/internal/domain"
	"github.com/lumistory/go-studio-backend/internal/provider"
	"github.com/lumistory/go-studio-backend/internal/storage"
)

// --- scripted provider so no real API is hit ---

type fakeProvider struct {
	name   string
	kinds  []domain.JobKind
	result *provider.Result
	err    error
}

func (p fakeProvider) Name() string      { return p.name }
func (p fakeProvider) IsAvailable() bool { return true }

func (p fakeProvider) Supports(kind domain.JobKind) bool {
	for _, k := range p.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (p fakeProvider) EstimatedDuration(domain.JobKind) time.Duration { return 30 * time.Second }

func (p fakeProvider) Generate(context.Context, provider.Request) (*provider.Result, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

// --- test DB helper (pure-Go sqlite, no CGO) ---

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:routerdb?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.CreditAccount{}, &domain.CreditTransaction{}, &domain.GenerationJob{}, &domain.IdempotencyRecord{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		Credits:     config.CreditsConfig{GuestGrant: 5, UserGrant: 10},
		Admission: config.AdmissionConfig{
			WindowRequests:    100,
			Window:            time.Minute,
			MaxConcurrentJobs: 2,
			StaleJobAge:       10 * time.Minute,
		},
		Security: config.SecurityConfig{EnableHSTS: false},
		OTEL:     config.OTELConfig{ServiceName: "test-svc"},
	}
}

func okProvider() fakeProvider {
	return fakeProvider{
		name:   "openai",
		kinds:  []domain.JobKind{domain.JobImage, domain.JobStory},
		result: &provider.Result{Provider: "openai", ImageData: []byte("png"), ContentType: "image/png"},
	}
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: nil} // triggers AllowAllOrigins branch

	RegisterRoutes(r, newTestDB(t), okProvider(), nil, storage.NewMemoryStore(), cfg)

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}

	RegisterRoutes(r, newTestDB(t), okProvider(), nil, storage.NewMemoryStore(), cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected origin echo, got %q", got)
	}
}

// End-to-end through the full stack: generate, then read balance and history.
func TestRegisterRoutes_GenerateFlow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	RegisterRoutes(r, newTestDB(t), okProvider(), nil, storage.NewMemoryStore(), baseConfig())

	headers := map[string]string{"X-Session-ID": "router-s1", "Content-Type": "application/json"}
	do := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		var req *http.Request
		if body != "" {
			req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		} else {
			req = httptest.NewRequest(method, path, nil)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		r.ServeHTTP(w, req)
		return w
	}

	// Spend one credit.
	w := do(http.MethodPost, "/api/v1/generate/image", `{"prompt":"a red fox"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("generate = %d body=%s", w.Code, w.Body.String())
	}
	var gen struct {
		Success          bool   `json:"success"`
		JobID            string `json:"job_id"`
		CreditsRemaining int    `json:"credits_remaining"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &gen); err != nil {
		t.Fatalf("decode generate: %v", err)
	}
	if !gen.Success || gen.JobID == "" || gen.CreditsRemaining != 4 {
		t.Fatalf("unexpected envelope: %+v", gen)
	}

	// Balance reflects the spend.
	w = do(http.MethodGet, "/api/v1/credits", "")
	if w.Code != http.StatusOK {
		t.Fatalf("credits = %d", w.Code)
	}
	var credits struct {
		Balance int `json:"balance"`
	}
	json.Unmarshal(w.Body.Bytes(), &credits)
	if credits.Balance != 4 {
		t.Fatalf("expected balance 4, got %d", credits.Balance)
	}

	// The job shows up in history and individually.
	w = do(http.MethodGet, "/api/v1/jobs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("jobs = %d", w.Code)
	}
	var list struct {
		Jobs []struct {
			JobID  string `json:"job_id"`
			Status string `json:"status"`
		} `json:"jobs"`
	}
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Jobs) != 1 || list.Jobs[0].JobID != gen.JobID || list.Jobs[0].Status != "completed" {
		t.Fatalf("unexpected history: %+v", list.Jobs)
	}

	w = do(http.MethodGet, "/api/v1/jobs/"+gen.JobID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("job = %d body=%s", w.Code, w.Body.String())
	}
}
