// Package provider defines the generation provider capability contract and
// its two behavioural variants: a synchronous provider that returns within
// the call, and a fire-and-poll provider that exposes remote job status for
// asynchronous completion.
//
// Providers are constructed from explicit config structs; nothing in this
// package reads the environment, so availability and credentials are testable
// without process-wide mutation. Failure classification lives in errors.go so
// the orchestrator can decide whether a fallback attempt is worthwhile.
package provider

import (
	"context"
	"time"

	"github.com/lumistory/go-studio-backend/internal/domain"
)

// Request carries the parameters of one generation attempt. Kind selects
// which of the field groups applies; the other group is ignored.
type Request struct {
	Kind domain.JobKind

	// Image fields
	Prompt         string
	NegativePrompt string
	Style          string
	Width          int
	Height         int

	// Story fields
	SubjectName    string
	SubjectAge     int
	Theme          string
	PageCount      int
	CustomElements []string
}

// Result is the outcome of a successful generation. Exactly one of the
// payload groups is populated depending on the request kind: ImageData (raw
// bytes, with ContentType) for images, Story for stories. RemoteID is set by
// fire-and-poll providers so the remote job can be observed afterwards.
type Result struct {
	Provider    string
	ImageData   []byte
	ContentType string
	Story       *Story
	RemoteID    string
}

// Story is a generated multi-page story.
type Story struct {
	Title string      `json:"title"`
	Pages []StoryPage `json:"pages"`
}

// StoryPage is a single page of story text.
type StoryPage struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Provider is the single capability contract implemented by every generation
// backend, synchronous or not.
//
// Generate must honor ctx for cancellation: the provider call is the only
// long-blocking step of the pipeline and carries the request deadline.
// A synchronous implementation may itself poll a remote job internally, but
// must translate a remote timeout into a Timeout-classified error rather than
// blocking past the deadline.
type Provider interface {
	// Name identifies the provider in job rows, logs, and metrics.
	Name() string

	// IsAvailable reports whether the provider is configured with usable
	// credentials. Selection skips unavailable providers.
	IsAvailable() bool

	// Supports reports whether the provider can serve the given job kind.
	Supports(kind domain.JobKind) bool

	// EstimatedDuration is the typical wall-clock time for a generation of
	// the given kind. The status reader derives its progress estimate from
	// this value.
	EstimatedDuration(kind domain.JobKind) time.Duration

	// Generate runs one generation attempt to completion. Failures are
	// returned as *Error so callers can classify them.
	Generate(ctx context.Context, req Request) (*Result, error)
}

// RemoteState is the externally observable state of an asynchronous remote
// generation job.
type RemoteState struct {
	Status    string // starting | processing | succeeded | failed | canceled
	OutputURL string
	Error     string
}

// PollingProvider is implemented by fire-and-poll providers whose remote
// completion can be observed directly, at low cost, by the status reader.
type PollingProvider interface {
	Provider

	// Begin fires the remote job without waiting and returns its remote ID.
	Begin(ctx context.Context, req Request) (string, error)

	// Await polls an already-started remote job until it reaches a terminal
	// state, under the provider's poll deadline.
	Await(ctx context.Context, remoteID string) (*Result, error)

	// RemoteStatus fetches the current state of the remote job.
	RemoteStatus(ctx context.Context, remoteID string) (*RemoteState, error)
}

// Chain returns the providers eligible to serve kind, primary first. The
// selection is a pure function of configuration plus availability: nil
// entries, providers without credentials, and providers that do not support
// the kind are skipped.
func Chain(kind domain.JobKind, primary, fallback Provider) []Provider {
	out := make([]Provider, 0, 2)
	for _, p := range []Provider{primary, fallback} {
		if p == nil || !p.IsAvailable() || !p.Supports(kind) {
			continue
		}
		out = append(out, p)
	}
	return out
}
