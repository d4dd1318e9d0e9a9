// Package ollama implements the adapter for a local Ollama daemon. Ollama
// needs no credentials; when the daemon is unreachable the adapter still
// produces the echo fallback content next to the error so scoring has an
// honest low-value candidate to rank.
package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"github.com/raeburn-ai/raeburn/internal/providers"
)

const (
	defaultURL = "http://localhost:11434/api/generate"
	urlEnv     = "OLLAMA_URL"
)

// Adapter issues generate requests against one Ollama endpoint.
type Adapter struct {
	cfg    providers.Config
	state  *providers.State
	client *http.Client
}

// New creates an Ollama adapter.
func New(cfg providers.Config) *Adapter {
	st := providers.NewState()
	st.SeedLastPassed(cfg.LastPassed)
	return &Adapter{cfg: cfg, state: st, client: providers.NewHTTPClient()}
}

func (a *Adapter) Name() string { return a.cfg.Name }

func (a *Adapter) Kind() string { return providers.KindOllama }

func (a *Adapter) endpoint() string {
	if a.cfg.Endpoint != "" {
		return a.cfg.Endpoint
	}
	if url := os.Getenv(urlEnv); url != "" {
		return url
	}
	return defaultURL
}

func (a *Adapter) Generate(ctx context.Context, prompt, sessionID string) providers.Response {
	ctx = providers.WithSessionID(ctx, sessionID)
	url := a.endpoint()
	payload := map[string]string{
		"model":  a.cfg.WireModel(),
		"prompt": prompt,
	}

	resp := providers.Run(ctx, a.cfg, a.state, func(ctx context.Context) (string, error) {
		body, err := providers.DoRequest(ctx, a.client, url, payload, nil)
		if err != nil {
			return "", err
		}
		var parsed struct {
			Response string `json:"response"`
			Output   string `json:"output"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", &providers.DecodeError{Err: err}
		}
		if parsed.Response != "" {
			return parsed.Response, nil
		}
		return parsed.Output, nil
	})
	if resp.Content == "" {
		resp.Content = prompt + " - ollama"
	}
	return resp
}

func (a *Adapter) Probe(ctx context.Context) bool {
	return providers.ProbeGenerate(ctx, a, a.state)
}

func (a *Adapter) Health() providers.HealthSnapshot { return a.state.Snapshot() }
