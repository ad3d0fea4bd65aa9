// Replicate-style fire-and-poll provider.
//
// This is the asynchronous variant of the provider contract: a prediction is
// fired remotely and polled to a terminal state under a bounded overall
// timeout. Begin and Await split that cycle so the caller can persist the
// remote ID mid-flight, and RemoteStatus exposes the raw remote state for
// the status reader. A poll deadline expiring returns a Timeout-classified
// failure rather than polling forever.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lumistory/go-studio-backend/internal/domain"
)

// ReplicateConfig configures the fire-and-poll provider.
type ReplicateConfig struct {
	APIToken      string
	BaseURL       string        // defaults to https://api.replicate.com/v1
	ImageModel    string        // model version identifier sent with predictions
	PollInterval  time.Duration // defaults to 2s
	PollTimeout   time.Duration // overall bound on the poll loop; defaults to 3m
	ImageDuration time.Duration // typical image latency; defaults to 45s
}

// Replicate is the fire-and-poll provider implementation. It serves images
// only; story generation stays on the synchronous provider.
type Replicate struct {
	cfg ReplicateConfig
	hc  *http.Client
}

// NewReplicate constructs the provider, applying defaults for unset fields.
func NewReplicate(cfg ReplicateConfig) *Replicate {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.replicate.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 3 * time.Minute
	}
	if cfg.ImageDuration <= 0 {
		cfg.ImageDuration = 45 * time.Second
	}
	return &Replicate{
		cfg: cfg,
		hc:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Name identifies this provider.
func (p *Replicate) Name() string { return "replicate" }

// IsAvailable reports whether credentials are configured.
func (p *Replicate) IsAvailable() bool { return p.cfg.APIToken != "" }

// Supports reports kind support; only images are served here.
func (p *Replicate) Supports(kind domain.JobKind) bool { return kind == domain.JobImage }

// EstimatedDuration returns the typical latency for kind.
func (p *Replicate) EstimatedDuration(domain.JobKind) time.Duration { return p.cfg.ImageDuration }

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

type replicateCreateRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

// buildInput assembles the prediction input payload from the request.
func (p *Replicate) buildInput(req Request) map[string]any {
	input := map[string]any{
		"prompt": req.Prompt,
		"width":  req.Width,
		"height": req.Height,
	}
	if req.NegativePrompt != "" {
		input["negative_prompt"] = req.NegativePrompt
	}
	return input
}

// Generate fires a prediction and polls it until terminal or until the poll
// deadline expires.
func (p *Replicate) Generate(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PollTimeout)
	defer cancel()

	pred, err := p.create(ctx, replicateCreateRequest{Version: p.cfg.ImageModel, Input: p.buildInput(req)})
	if err != nil {
		return nil, err
	}
	return p.poll(ctx, pred)
}

// Begin fires a prediction without waiting for it and returns its remote ID.
func (p *Replicate) Begin(ctx context.Context, req Request) (string, error) {
	pred, err := p.create(ctx, replicateCreateRequest{Version: p.cfg.ImageModel, Input: p.buildInput(req)})
	if err != nil {
		return "", err
	}
	return pred.ID, nil
}

// Await polls an already-started prediction until terminal, under the poll
// deadline.
func (p *Replicate) Await(ctx context.Context, remoteID string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PollTimeout)
	defer cancel()

	pred, err := p.get(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	return p.poll(ctx, pred)
}

// poll drives a prediction to a terminal state, re-fetching it on the poll
// interval. ctx must already carry the overall poll deadline.
func (p *Replicate) poll(ctx context.Context, pred *replicatePrediction) (*Result, error) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		switch pred.Status {
		case "succeeded":
			return p.fetchOutput(ctx, pred)
		case "failed", "canceled":
			msg := pred.Error
			if msg == "" {
				msg = "prediction " + pred.Status
			}
			return nil, newError(p.Name(), classifyRemoteFailure(msg), msg, nil)
		}

		select {
		case <-ctx.Done():
			return nil, newError(p.Name(), ClassTimeout, "poll deadline exceeded", ctx.Err())
		case <-ticker.C:
		}

		var err error
		pred, err = p.get(ctx, pred.ID)
		if err != nil {
			return nil, err
		}
	}
}

// RemoteStatus fetches the current state of the remote prediction. Used by
// the status reader for jobs whose completion cannot be observed
// synchronously at reasonable cost.
func (p *Replicate) RemoteStatus(ctx context.Context, remoteID string) (*RemoteState, error) {
	pred, err := p.get(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	st := &RemoteState{Status: pred.Status, Error: pred.Error}
	if urls := decodeOutputURLs(pred.Output); len(urls) > 0 {
		st.OutputURL = urls[0]
	}
	return st, nil
}

// fetchOutput downloads the first output artefact of a succeeded prediction.
func (p *Replicate) fetchOutput(ctx context.Context, pred *replicatePrediction) (*Result, error) {
	urls := decodeOutputURLs(pred.Output)
	if len(urls) == 0 {
		return nil, newError(p.Name(), ClassUnknown, "prediction succeeded without output", nil)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, urls[0], nil)
	if err != nil {
		return nil, newError(p.Name(), ClassUnknown, "build output request", err)
	}
	resp, err := p.hc.Do(httpReq)
	if err != nil {
		return nil, p.transportError(err, "download output")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, newError(p.Name(), ClassUnavailable, "output download failed", nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, newError(p.Name(), ClassUnknown, "read output", err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "image/png"
	}
	return &Result{
		Provider:    p.Name(),
		ImageData:   data,
		ContentType: ct,
		RemoteID:    pred.ID,
	}, nil
}

// decodeOutputURLs accepts the two shapes the predictions API emits: a bare
// string or an array of strings.
func decodeOutputURLs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil && one != "" {
		return []string{one}
	}
	return nil
}

// create fires a new prediction.
func (p *Replicate) create(ctx context.Context, body replicateCreateRequest) (*replicatePrediction, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, newError(p.Name(), ClassUnknown, "encode request", err)
	}
	return p.do(ctx, http.MethodPost, "/predictions", bytes.NewReader(payload))
}

// get fetches a prediction by remote ID.
func (p *Replicate) get(ctx context.Context, id string) (*replicatePrediction, error) {
	return p.do(ctx, http.MethodGet, "/predictions/"+id, nil)
}

func (p *Replicate) do(ctx context.Context, method, path string, body io.Reader) (*replicatePrediction, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, body)
	if err != nil {
		return nil, newError(p.Name(), ClassUnknown, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Token "+p.cfg.APIToken)

	resp, err := p.hc.Do(httpReq)
	if err != nil {
		return nil, p.transportError(err, "request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, newError(p.Name(), ClassUnknown, "read response", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, newError(p.Name(), classifyStatus(resp.StatusCode, string(raw)), strings.TrimSpace(string(raw)), nil)
	}

	var pred replicatePrediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		return nil, newError(p.Name(), ClassUnknown, "malformed prediction response", err)
	}
	return &pred, nil
}

func (p *Replicate) transportError(err error, msg string) *Error {
	if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
		return newError(p.Name(), ClassTimeout, msg+": timed out", err)
	}
	return newError(p.Name(), ClassUnavailable, msg, err)
}

// classifyRemoteFailure inspects a remote failure message. Safety filters on
// the remote side report through the error string, not the HTTP status.
func classifyRemoteFailure(msg string) FailureClass {
	low := strings.ToLower(msg)
	if strings.Contains(low, "nsfw") || strings.Contains(low, "content policy") || strings.Contains(low, "safety") {
		return ClassContentPolicy
	}
	return ClassUnknown
}
