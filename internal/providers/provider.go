// Package providers contains the adapters that talk to upstream generation
// backends. Every adapter implements the same contract: Generate never
// returns a Go error; failures travel in-band in Response.Err so a fan-out
// over many models can rank a failed backend instead of aborting on it.
package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/raeburn-ai/raeburn/internal/tracing"
)

// Provider kind tags. The set is closed: the registry canonicalizes aliases
// (openai, openai_compatible, litelm, local) onto these before construction.
const (
	KindLocalEcho    = "local-echo"
	KindOpenAICompat = "openai-compatible"
	KindOpenRouter   = "openrouter"
	KindHuggingFace  = "huggingface"
	KindOllama       = "ollama"
)

// In-band error markers carried in Response.Err. Other failures carry
// "upstream_error: <description>" built with UpstreamError.
const (
	ErrTextMissingCredentials = "missing_credentials"
	ErrTextCancelled          = "cancelled"
)

// UpstreamError renders a terminal transport or provider failure as the
// in-band error string.
func UpstreamError(err error) string {
	return "upstream_error: " + err.Error()
}

// DefaultTimeout is the per-attempt ceiling for provider HTTP requests.
// The effective deadline of each attempt is min(remaining caller deadline,
// configured timeout).
const DefaultTimeout = 30 * time.Second

// Response is the uniform outcome of one Generate call. Err is set iff the
// generation failed after retries; LatencyMS is wall clock from call start
// to final outcome either way. Health is a snapshot of the adapter state
// taken when the response was built.
type Response struct {
	Model     string         `json:"model"`
	Content   string         `json:"content"`
	LatencyMS float64        `json:"latency_ms"`
	Err       string         `json:"error,omitempty"`
	Health    HealthSnapshot `json:"health"`
}

// HealthSnapshot is a point-in-time copy of an adapter's mutable state.
// LastPassed is the zero time when no health probe has ever succeeded.
type HealthSnapshot struct {
	OK              bool      `json:"ok"`
	FailureCount    int64     `json:"failure_count"`
	RecentLatencyMS float64   `json:"recent_latency_ms"`
	LastError       string    `json:"last_error,omitempty"`
	LastPassed      time.Time `json:"last_passed_health,omitempty"`
}

// Adapter is one upstream generation backend.
type Adapter interface {
	// Name returns the registry name this adapter was built for.
	Name() string
	// Kind returns the provider tag (one of the Kind constants).
	Kind() string
	// Generate produces a completion for prompt. The session id is used only
	// for correlation; it never changes the request semantics.
	Generate(ctx context.Context, prompt, sessionID string) Response
	// Probe issues a canned minimal generation and reports success. A
	// passing probe stamps the adapter's last-passed timestamp.
	Probe(ctx context.Context) bool
	// Health returns a snapshot of the adapter's mutable state.
	Health() HealthSnapshot
}

// Config carries everything the registry resolves from a model descriptor
// before constructing an adapter. API keys are looked up from the
// environment at call time so that rotated credentials take effect without
// a reload; KeyEnv overrides the provider's default variable name.
type Config struct {
	// Name is the registry name of the model (also the wire model id unless
	// ModelID overrides it).
	Name string
	// ModelID is the upstream model identifier, when it differs from Name.
	ModelID string
	// Endpoint overrides the provider's default base URL.
	Endpoint string
	// KeyEnv names the environment variable holding the credential.
	KeyEnv string
	// AllowUnauthenticated skips the credential check (self-hosted
	// openai-compatible gateways).
	AllowUnauthenticated bool
	// Timeout is the per-attempt ceiling; zero means DefaultTimeout.
	Timeout time.Duration
	// LastPassed seeds the health-probe timestamp from persisted descriptor
	// data. Zero means never probed.
	LastPassed time.Time
}

// WireModel resolves the model identifier sent on the wire.
func (c Config) WireModel() string {
	if c.ModelID != "" {
		return c.ModelID
	}
	return c.Name
}

// AttemptTimeout resolves the per-attempt ceiling.
func (c Config) AttemptTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// NewHTTPClient returns the pooled client shared by all requests of one
// adapter. Deadlines come from the per-attempt context, not the client;
// the transport propagates trace context to the upstream.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: tracing.HTTPTransport(nil)}
}

// Cancelled reports whether ctx ended the call, in which case the response
// carries ErrTextCancelled instead of an upstream error.
func Cancelled(ctx context.Context) bool {
	return ctx.Err() != nil
}
