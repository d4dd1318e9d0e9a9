// Package openrouter implements the adapter for the OpenRouter aggregation
// API. The wire format matches OpenAI chat completions plus the attribution
// headers OpenRouter requires.
package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/raeburn-ai/raeburn/internal/providers"
)

const (
	defaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"
	keyEnv          = "OPENROUTER_API_KEY"

	refererHeader = "https://raeburn.ai"
	titleHeader   = "Raeburn"
)

// Adapter issues chat completion requests against OpenRouter.
type Adapter struct {
	cfg    providers.Config
	state  *providers.State
	client *http.Client
}

// New creates an OpenRouter adapter.
func New(cfg providers.Config) *Adapter {
	st := providers.NewState()
	st.SeedLastPassed(cfg.LastPassed)
	return &Adapter{cfg: cfg, state: st, client: providers.NewHTTPClient()}
}

func (a *Adapter) Name() string { return a.cfg.Name }

func (a *Adapter) Kind() string { return providers.KindOpenRouter }

func (a *Adapter) endpoint() string {
	if a.cfg.Endpoint != "" {
		return a.cfg.Endpoint
	}
	return defaultEndpoint
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
	if key == "" {
		return providers.Immediate(a.cfg, a.state, start, prompt+" - openrouter", providers.ErrTextMissingCredentials)
	}

	ctx = providers.WithSessionID(ctx, sessionID)
	url := a.endpoint()
	payload := map[string]any{
		"model": a.cfg.WireModel(),
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	headers := map[string]string{
		"Authorization": "Bearer " + key,
		"HTTP-Referer":  refererHeader,
		"X-Title":       titleHeader,
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
		if len(parsed.Choices) == 0 {
			return "", &providers.DecodeError{Err: errors.New("no choices in response")}
		}
		return parsed.Choices[0].Message.Content, nil
	})
}

func (a *Adapter) Probe(ctx context.Context) bool {
	return providers.ProbeGenerate(ctx, a, a.state)
}

func (a *Adapter) Health() providers.HealthSnapshot { return a.state.Snapshot() }
