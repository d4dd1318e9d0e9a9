// Package huggingface implements the adapter for the HuggingFace serverless
// inference API.
package huggingface

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
	baseURL  = "https://api-inference.huggingface.co/models/"
	tokenEnv = "HF_API_TOKEN"
)

// Adapter issues text generation requests against the inference API.
type Adapter struct {
	cfg    providers.Config
	state  *providers.State
	client *http.Client
}

// New creates a HuggingFace adapter.
func New(cfg providers.Config) *Adapter {
	st := providers.NewState()
	st.SeedLastPassed(cfg.LastPassed)
	return &Adapter{cfg: cfg, state: st, client: providers.NewHTTPClient()}
}

func (a *Adapter) Name() string { return a.cfg.Name }

func (a *Adapter) Kind() string { return providers.KindHuggingFace }

func (a *Adapter) endpoint() string {
	if a.cfg.Endpoint != "" {
		return a.cfg.Endpoint
	}
	return baseURL + a.cfg.WireModel()
}

func (a *Adapter) token() string {
	env := a.cfg.KeyEnv
	if env == "" {
		env = tokenEnv
	}
	return os.Getenv(env)
}

func (a *Adapter) Generate(ctx context.Context, prompt, sessionID string) providers.Response {
	start := time.Now()
	token := a.token()
	if token == "" {
		return providers.Immediate(a.cfg, a.state, start, prompt+" - huggingface", providers.ErrTextMissingCredentials)
	}

	ctx = providers.WithSessionID(ctx, sessionID)
	url := a.endpoint()
	payload := map[string]string{"inputs": prompt}
	headers := map[string]string{"Authorization": "Bearer " + token}

	return providers.Run(ctx, a.cfg, a.state, func(ctx context.Context) (string, error) {
		body, err := providers.DoRequest(ctx, a.client, url, payload, headers)
		if err != nil {
			return "", err
		}
		return parseGenerated(body)
	})
}

// parseGenerated handles both response shapes the inference API produces:
// a list of generations or a single object.
func parseGenerated(body []byte) (string, error) {
	var asList []struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.Unmarshal(body, &asList); err == nil {
		if len(asList) == 0 {
			return "", &providers.DecodeError{Err: errors.New("empty generation list")}
		}
		return asList[0].GeneratedText, nil
	}
	var asObject struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.Unmarshal(body, &asObject); err != nil {
		return "", &providers.DecodeError{Err: err}
	}
	return asObject.GeneratedText, nil
}

func (a *Adapter) Probe(ctx context.Context) bool {
	return providers.ProbeGenerate(ctx, a, a.state)
}

func (a *Adapter) Health() providers.HealthSnapshot { return a.state.Snapshot() }
