package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/raeburn-ai/raeburn/internal/providers"
)

func TestGenerateSuccess(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "or-key")

	var gotHeaders http.Header
	var gotPayload map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"routed reply"}}]}`))
	}))
	defer ts.Close()

	a := New(providers.Config{Name: "openrouter/auto", Endpoint: ts.URL})
	resp := a.Generate(context.Background(), "hi", "sess_1")

	if resp.Err != "" {
		t.Fatalf("unexpected error: %q", resp.Err)
	}
	if resp.Content != "routed reply" {
		t.Errorf("Content = %q, want %q", resp.Content, "routed reply")
	}
	if got := gotHeaders.Get("Authorization"); got != "Bearer or-key" {
		t.Errorf("Authorization = %q, want Bearer or-key", got)
	}
	if got := gotHeaders.Get("HTTP-Referer"); got != "https://raeburn.ai" {
		t.Errorf("HTTP-Referer = %q, want https://raeburn.ai", got)
	}
	if got := gotHeaders.Get("X-Title"); got != "Raeburn" {
		t.Errorf("X-Title = %q, want Raeburn", got)
	}
	if _, has := gotPayload["stream"]; has {
		t.Error("openrouter payload must not carry a stream field")
	}
}

func TestGenerateMissingCredentials(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")

	a := New(providers.Config{Name: "openrouter/auto"})
	resp := a.Generate(context.Background(), "draft a tagline", "sess_1")

	if resp.Err != providers.ErrTextMissingCredentials {
		t.Fatalf("Err = %q, want %q", resp.Err, providers.ErrTextMissingCredentials)
	}
	if want := "draft a tagline - openrouter"; resp.Content != want {
		t.Errorf("Content = %q, want %q", resp.Content, want)
	}
	if resp.Health.OK {
		t.Error("health should be false")
	}
}

func TestGenerateNoChoicesIsTerminal(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "or-key")

	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer ts.Close()

	a := New(providers.Config{Name: "openrouter/auto", Endpoint: ts.URL})
	resp := a.Generate(context.Background(), "hi", "sess_1")

	if got := calls.Load(); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
	if !strings.Contains(resp.Err, "no choices") {
		t.Errorf("Err = %q, want a no-choices error", resp.Err)
	}
	if resp.Content != "" {
		t.Errorf("Content = %q, want empty", resp.Content)
	}
}

func TestGenerateRetriesServerError(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "or-key")

	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`upstream hiccup`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"second try"}}]}`))
	}))
	defer ts.Close()

	a := New(providers.Config{Name: "openrouter/auto", Endpoint: ts.URL})
	resp := a.Generate(context.Background(), "hi", "sess_1")

	if resp.Err != "" {
		t.Fatalf("unexpected error: %q", resp.Err)
	}
	if resp.Content != "second try" {
		t.Errorf("Content = %q, want %q", resp.Content, "second try")
	}
	if resp.Health.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", resp.Health.FailureCount)
	}
	if !resp.Health.OK {
		t.Error("health should recover on success")
	}
}

func TestDefaultEndpoint(t *testing.T) {
	a := New(providers.Config{Name: "openrouter/auto"})
	if got := a.endpoint(); got != "https://openrouter.ai/api/v1/chat/completions" {
		t.Errorf("endpoint = %q", got)
	}
}

func TestKind(t *testing.T) {
	a := New(providers.Config{Name: "x"})
	if a.Kind() != providers.KindOpenRouter {
		t.Errorf("Kind = %q, want %q", a.Kind(), providers.KindOpenRouter)
	}
}
