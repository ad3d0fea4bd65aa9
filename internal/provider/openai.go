// OpenAI-compatible synchronous provider.
//
// This is the synchronous variant of the provider contract: Generate returns
// within the call, bounded by the configured request timeout. Images come
// back base64-encoded in the response body; stories are produced through the
// chat completions endpoint and parsed into pages.
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/lumistory/go-studio-backend/internal/domain"
)

// OpenAIConfig configures the synchronous provider. Credentials are passed
// explicitly; an empty APIKey makes the provider unavailable.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string        // defaults to https://api.openai.com/v1
	ImageModel     string        // defaults to dall-e-3
	StoryModel     string        // defaults to gpt-4o-mini
	RequestTimeout time.Duration // per-call bound; defaults to 2m
	ImageDuration  time.Duration // typical image latency; defaults to 30s
	StoryDuration  time.Duration // typical story latency; defaults to 60s
}

// OpenAI is the synchronous provider implementation.
type OpenAI struct {
	cfg OpenAIConfig
	hc  *http.Client
}

// NewOpenAI constructs the provider, applying defaults for unset fields.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ImageModel == "" {
		cfg.ImageModel = "dall-e-3"
	}
	if cfg.StoryModel == "" {
		cfg.StoryModel = "gpt-4o-mini"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if cfg.ImageDuration <= 0 {
		cfg.ImageDuration = 30 * time.Second
	}
	if cfg.StoryDuration <= 0 {
		cfg.StoryDuration = 60 * time.Second
	}
	return &OpenAI{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Name identifies this provider.
func (p *OpenAI) Name() string { return "openai" }

// IsAvailable reports whether credentials are configured.
func (p *OpenAI) IsAvailable() bool { return p.cfg.APIKey != "" }

// Supports reports kind support; this provider serves both kinds.
func (p *OpenAI) Supports(kind domain.JobKind) bool {
	return kind == domain.JobImage || kind == domain.JobStory
}

// EstimatedDuration returns the typical latency for kind.
func (p *OpenAI) EstimatedDuration(kind domain.JobKind) time.Duration {
	if kind == domain.JobStory {
		return p.cfg.StoryDuration
	}
	return p.cfg.ImageDuration
}

// Generate runs one synchronous generation attempt.
func (p *OpenAI) Generate(ctx context.Context, req Request) (*Result, error) {
	switch req.Kind {
	case domain.JobStory:
		return p.generateStory(ctx, req)
	default:
		return p.generateImage(ctx, req)
	}
}

type openaiImageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type openaiImageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

type openaiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *OpenAI) generateImage(ctx context.Context, req Request) (*Result, error) {
	body := openaiImageRequest{
		Model:          p.cfg.ImageModel,
		Prompt:         req.Prompt,
		N:              1,
		Size:           fmt.Sprintf("%dx%d", req.Width, req.Height),
		ResponseFormat: "b64_json",
	}
	raw, err := p.post(ctx, "/images/generations", body)
	if err != nil {
		return nil, err
	}

	var resp openaiImageResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, newError(p.Name(), ClassUnknown, "malformed image response", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, newError(p.Name(), ClassUnknown, "empty image response", nil)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, newError(p.Name(), ClassUnknown, "invalid base64 image payload", err)
	}
	return &Result{
		Provider:    p.Name(),
		ImageData:   data,
		ContentType: "image/png",
	}, nil
}

type openaiChatRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
}

func (p *OpenAI) generateStory(ctx context.Context, req Request) (*Result, error) {
	subject := cases.Title(language.English).String(strings.TrimSpace(req.SubjectName))
	prompt := storyPrompt(subject, req)

	body := openaiChatRequest{
		Model: p.cfg.StoryModel,
		Messages: []openaiMessage{
			{Role: "system", Content: "You write short children's stories. Output one paragraph per page, separated by blank lines. The first line is the story title."},
			{Role: "user", Content: prompt},
		},
	}
	raw, err := p.post(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var resp openaiChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, newError(p.Name(), ClassUnknown, "malformed chat response", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, newError(p.Name(), ClassUnknown, "empty story response", nil)
	}

	story := parseStory(resp.Choices[0].Message.Content, subject, req.Theme)
	return &Result{Provider: p.Name(), Story: story}, nil
}

// storyPrompt assembles the user message for the story request.
func storyPrompt(subject string, req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a %d-page story about %s", req.PageCount, subject)
	if req.SubjectAge > 0 {
		fmt.Fprintf(&b, ", who is %d years old", req.SubjectAge)
	}
	if req.Theme != "" {
		fmt.Fprintf(&b, ". Theme: %s", req.Theme)
	}
	if len(req.CustomElements) > 0 {
		fmt.Fprintf(&b, ". Include: %s", strings.Join(req.CustomElements, ", "))
	}
	b.WriteString(".")
	return b.String()
}

// parseStory splits model output into a title and numbered pages. The first
// non-empty line is the title; each following paragraph becomes one page.
func parseStory(content, subject, theme string) *Story {
	blocks := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n")
	st := &Story{}
	for _, blk := range blocks {
		blk = strings.TrimSpace(blk)
		if blk == "" {
			continue
		}
		if st.Title == "" {
			// First block is the title line; anything after a newline is page text.
			if i := strings.IndexByte(blk, '\n'); i >= 0 {
				st.Title = strings.TrimSpace(blk[:i])
				blk = strings.TrimSpace(blk[i+1:])
				if blk == "" {
					continue
				}
			} else {
				st.Title = blk
				continue
			}
		}
		st.Pages = append(st.Pages, StoryPage{Number: len(st.Pages) + 1, Text: blk})
	}
	if st.Title == "" {
		st.Title = strings.TrimSpace(subject + " and the " + theme)
	}
	return st
}

// post sends one JSON request and returns the response body, classifying any
// transport or HTTP failure.
func (p *OpenAI) post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, newError(p.Name(), ClassUnknown, "encode request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, newError(p.Name(), ClassUnknown, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.hc.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			return nil, newError(p.Name(), ClassTimeout, "request timed out", err)
		}
		return nil, newError(p.Name(), ClassUnavailable, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, newError(p.Name(), ClassUnknown, "read response", err)
	}
	if resp.StatusCode == http.StatusOK {
		return raw, nil
	}

	var apiErr openaiErrorResponse
	_ = json.Unmarshal(raw, &apiErr)
	msg := apiErr.Error.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return nil, newError(p.Name(), classifyStatus(resp.StatusCode, apiErr.Error.Code+" "+apiErr.Error.Type+" "+msg), msg, nil)
}

// classifyStatus maps an HTTP failure to a FailureClass. detail is scanned
// for content-policy markers since providers report those as plain 400s.
func classifyStatus(status int, detail string) FailureClass {
	low := strings.ToLower(detail)
	switch {
	case strings.Contains(low, "content_policy") || strings.Contains(low, "safety system") || strings.Contains(low, "nsfw"):
		return ClassContentPolicy
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ClassTimeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status >= 500:
		return ClassUnavailable
	default:
		return ClassUnknown
	}
}

// isClientTimeout reports whether err carries a net-level timeout.
func isClientTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
