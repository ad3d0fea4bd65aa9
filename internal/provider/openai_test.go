package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lumistory/go-studio-backend/internal/domain"
)

func newOpenAITestProvider(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAI(OpenAIConfig{
		APIKey:         "test-key",
		BaseURL:        srv.URL,
		RequestTimeout: 2 * time.Second,
	})
}

func TestOpenAI_GenerateImage_Success(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req openaiImageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Size != "1024x1024" || req.ResponseFormat != "b64_json" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(png)}},
		})
	})

	res, err := p.Generate(context.Background(), Request{
		Kind:   domain.JobImage,
		Prompt: "a red fox",
		Width:  1024,
		Height: 1024,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Provider != "openai" || res.ContentType != "image/png" || string(res.ImageData) != string(png) {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestOpenAI_GenerateImage_ContentPolicy(t *testing.T) {
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{
				"code":    "content_policy_violation",
				"type":    "invalid_request_error",
				"message": "Your request was rejected by the safety system.",
			},
		})
	})

	_, err := p.Generate(context.Background(), Request{Kind: domain.JobImage, Prompt: "x", Width: 1024, Height: 1024})
	if ClassOf(err) != ClassContentPolicy {
		t.Fatalf("expected content-policy class, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatalf("content-policy failure must not be retryable")
	}
}

func TestOpenAI_GenerateImage_RateLimited(t *testing.T) {
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "Rate limit reached"},
		})
	})

	_, err := p.Generate(context.Background(), Request{Kind: domain.JobImage, Prompt: "x", Width: 1024, Height: 1024})
	if ClassOf(err) != ClassRateLimited {
		t.Fatalf("expected rate-limited class, got %v", err)
	}
	if !IsRetryable(err) {
		t.Fatalf("rate-limited failure should allow a fallback attempt")
	}
}

func TestOpenAI_GenerateImage_Timeout(t *testing.T) {
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	p.hc.Timeout = 50 * time.Millisecond

	_, err := p.Generate(context.Background(), Request{Kind: domain.JobImage, Prompt: "x", Width: 1024, Height: 1024})
	if ClassOf(err) != ClassTimeout {
		t.Fatalf("expected timeout class, got %v", err)
	}
}

func TestOpenAI_GenerateImage_ServerError(t *testing.T) {
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := p.Generate(context.Background(), Request{Kind: domain.JobImage, Prompt: "x", Width: 1024, Height: 1024})
	if ClassOf(err) != ClassUnavailable {
		t.Fatalf("expected unavailable class, got %v", err)
	}
}

func TestOpenAI_GenerateStory_ParsesPages(t *testing.T) {
	content := "Mila and the Moonlit Garden\n\nMila tiptoed into the garden.\n\nThe flowers began to glow.\n\nShe smiled and went home."
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req openaiChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, "Mila") {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	})

	res, err := p.Generate(context.Background(), Request{
		Kind:        domain.JobStory,
		SubjectName: "mila",
		SubjectAge:  6,
		Theme:       "night garden",
		PageCount:   3,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	st := res.Story
	if st == nil || st.Title != "Mila and the Moonlit Garden" {
		t.Fatalf("unexpected story: %+v", st)
	}
	if len(st.Pages) != 3 || st.Pages[0].Number != 1 || st.Pages[2].Text != "She smiled and went home." {
		t.Fatalf("unexpected pages: %+v", st.Pages)
	}
}

func TestParseStory_TitleFallback(t *testing.T) {
	st := parseStory("", "Mila", "night garden")
	if st.Title != "Mila and the night garden" {
		t.Errorf("unexpected fallback title: %q", st.Title)
	}
}

func TestOpenAI_AvailabilityAndSupport(t *testing.T) {
	p := NewOpenAI(OpenAIConfig{})
	if p.IsAvailable() {
		t.Errorf("provider without credentials must be unavailable")
	}
	if !p.Supports(domain.JobImage) || !p.Supports(domain.JobStory) {
		t.Errorf("provider must support both kinds")
	}
	if p.EstimatedDuration(domain.JobStory) <= p.EstimatedDuration(domain.JobImage) {
		t.Errorf("default story latency should exceed image latency")
	}
}
