// Package registry owns the model descriptors and the adapter instances
// built from them. It loads descriptor JSON from the config directory,
// overlays locally-installed model info, and hands the router an ordered,
// capability-filtered candidate list that is never empty.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/raeburn-ai/raeburn/internal/providers"
	"github.com/raeburn-ai/raeburn/internal/providers/echo"
	"github.com/raeburn-ai/raeburn/internal/providers/huggingface"
	"github.com/raeburn-ai/raeburn/internal/providers/ollama"
	"github.com/raeburn-ai/raeburn/internal/providers/openai"
	"github.com/raeburn-ai/raeburn/internal/providers/openrouter"
	"golang.org/x/sync/errgroup"
)

const (
	registryFile  = "model_registry.json"
	installedFile = "models_installed.json"

	fallbackName = "local-echo"
)

// Options configures a Registry.
type Options struct {
	// Dir is the config directory holding model_registry.json and
	// models_installed.json. Defaults to "config".
	Dir string
	// AttemptTimeout is the per-attempt ceiling handed to every adapter.
	AttemptTimeout time.Duration
	// Logger overrides the component logger.
	Logger *slog.Logger
}

// Candidate pairs a descriptor with its live adapter.
type Candidate struct {
	Descriptor *Descriptor
	Adapter    providers.Adapter
}

// ChooseOptions narrow the candidate list per request.
type ChooseOptions struct {
	Task             string
	RequireJSON      bool
	RequireStreaming bool
	RequiredRoles    []string
}

type adapterEntry struct {
	adapter providers.Adapter
	cfg     providers.Config
}

// Registry loads model descriptors and caches one adapter per model name.
// Reload swaps the descriptor list while keeping adapter state (health,
// failure counts) for models whose wiring did not change.
type Registry struct {
	opts Options
	log  *slog.Logger

	mu          sync.RWMutex
	descriptors []*Descriptor
	adapters    map[string]adapterEntry
}

// New builds a Registry and performs the initial load. Missing or corrupt
// config files behave as empty; an empty registry gets the synthetic
// local-echo descriptor so selection can never come up dry.
func New(opts Options) *Registry {
	if opts.Dir == "" {
		opts.Dir = "config"
	}
	log := opts.Logger
	if log == nil {
		log = slog.With("component", "registry")
	}
	r := &Registry{
		opts:     opts,
		log:      log,
		adapters: map[string]adapterEntry{},
	}
	r.descriptors = r.load()
	r.log.Info("model registry loaded", "dir", opts.Dir, "models", len(r.descriptors))
	return r
}

// load parses both config files into the ordered descriptor list.
func (r *Registry) load() []*Descriptor {
	models := r.readModels(filepath.Join(r.opts.Dir, registryFile))
	overlay := r.readOverlay(filepath.Join(r.opts.Dir, installedFile))

	descs := make([]*Descriptor, 0, len(models))
	for _, raw := range models {
		d := ParseModel(raw)
		if d.Name == "" {
			continue
		}
		applyOverlay(&d, overlay)
		descs = append(descs, &d)
	}
	if len(descs) == 0 {
		descs = append(descs, fallbackDescriptor())
	}
	return descs
}

func (r *Registry) readModels(path string) []map[string]any {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.log.Warn("model registry unreadable, treating as empty", "path", path, "error", err)
		}
		return nil
	}
	var parsed struct {
		Models []map[string]any `json:"models"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		r.log.Warn("model registry corrupt, treating as empty", "path", path, "error", err)
		return nil
	}
	return parsed.Models
}

func (r *Registry) readOverlay(path string) map[string]any {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.log.Warn("installed-models overlay unreadable, ignoring", "path", path, "error", err)
		}
		return nil
	}
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		r.log.Warn("installed-models overlay corrupt, ignoring", "path", path, "error", err)
		return nil
	}
	return parsed
}

// applyOverlay merges one model's installed-info into its extras without
// clobbering values the registry file already set.
func applyOverlay(d *Descriptor, overlay map[string]any) {
	info, _ := overlay[d.Name].(map[string]any)
	if _, ok := d.Extras["installed"]; !ok {
		installed := true
		if v, ok := info["installed"].(bool); ok {
			installed = v
		}
		d.Extras["installed"] = installed
	}
	if ep, _ := info["endpoint"].(string); ep != "" {
		if _, ok := d.Extras["endpoint"]; !ok {
			d.Extras["endpoint"] = ep
		}
	}
}

func fallbackDescriptor() *Descriptor {
	return &Descriptor{
		Name:     fallbackName,
		Provider: "local",
		Capabilities: Capabilities{
			RolesSupported: []string{"user"},
		},
		Extras: map[string]any{},
	}
}

// Reload re-parses the config files. Adapters keep their live state when the
// descriptor still produces identical wiring; renamed, retyped, or repointed
// models get a fresh adapter on next use.
func (r *Registry) Reload() {
	descs := r.load()

	r.mu.Lock()
	defer r.mu.Unlock()
	kept := make(map[string]adapterEntry, len(r.adapters))
	for _, d := range descs {
		e, ok := r.adapters[d.Name]
		if !ok {
			continue
		}
		cfg := r.providerConfig(d)
		if e.adapter.Kind() == kindFor(d.Provider) && sameWiring(e.cfg, cfg) {
			kept[d.Name] = e
		}
	}
	r.descriptors = descs
	r.adapters = kept
	r.log.Info("model registry reloaded", "models", len(descs))
}

// Models returns the descriptors in registry order.
func (r *Registry) Models() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Get returns the descriptor with the given name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.descriptors {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// AdapterFor returns the cached adapter for a descriptor, constructing it on
// first use.
func (r *Registry) AdapterFor(d *Descriptor) providers.Adapter {
	r.mu.RLock()
	e, ok := r.adapters[d.Name]
	r.mu.RUnlock()
	if ok {
		return e.adapter
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.adapters[d.Name]; ok {
		return e.adapter
	}
	cfg := r.providerConfig(d)
	a := buildAdapter(cfg, d.Provider)
	r.adapters[d.Name] = adapterEntry{adapter: a, cfg: cfg}
	return a
}

// Choose walks the descriptors in order and returns up to limit candidates
// passing every filter: forbidden task, auto-disable failure threshold,
// JSON/streaming capability, required roles, allowed hosts. When everything
// is filtered out it falls back to the local echo adapter.
func (r *Registry) Choose(limit int, opts ChooseOptions) []Candidate {
	r.mu.RLock()
	descs := make([]*Descriptor, len(r.descriptors))
	copy(descs, r.descriptors)
	r.mu.RUnlock()

	var selected []Candidate
	for _, d := range descs {
		if opts.Task != "" && slices.Contains(d.ForbiddenTasks, opts.Task) {
			continue
		}
		adapter := r.AdapterFor(d)
		if t := d.AutoDisableThresholdFailures; t != nil && adapter.Health().FailureCount >= int64(*t) {
			continue
		}
		if opts.RequireJSON && !d.Capabilities.JSONMode {
			continue
		}
		if opts.RequireStreaming && !d.Capabilities.Streaming {
			continue
		}
		if !rolesCovered(d.Capabilities.RolesSupported, opts.RequiredRoles) {
			continue
		}
		if !d.HostAllowed(d.Endpoint()) {
			continue
		}
		selected = append(selected, Candidate{Descriptor: d, Adapter: adapter})
		if limit > 0 && len(selected) >= limit {
			break
		}
	}
	if len(selected) == 0 {
		fb := fallbackDescriptor()
		selected = append(selected, Candidate{Descriptor: fb, Adapter: r.AdapterFor(fb)})
	}
	return selected
}

// ProbeAll probes every model concurrently and reports per-model success.
func (r *Registry) ProbeAll(ctx context.Context) map[string]bool {
	descs := r.Models()
	results := make(map[string]bool, len(descs))

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, d := range descs {
		adapter := r.AdapterFor(d)
		name := d.Name
		g.Go(func() error {
			ok := adapter.Probe(ctx)
			mu.Lock()
			results[name] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func rolesCovered(supported, required []string) bool {
	for _, role := range required {
		if !slices.Contains(supported, role) {
			return false
		}
	}
	return true
}

// providerConfig derives the adapter construction config from a descriptor.
func (r *Registry) providerConfig(d *Descriptor) providers.Config {
	cfg := providers.Config{
		Name:                 d.Name,
		ModelID:              d.ExtraString("model"),
		Endpoint:             d.ExtraString("endpoint"),
		KeyEnv:               d.ExtraString("api_key_env"),
		AllowUnauthenticated: d.ExtraBool("allow_unauthenticated", false),
		Timeout:              r.opts.AttemptTimeout,
	}
	if d.LastPassedHealth != "" {
		if t, err := time.Parse(time.RFC3339, d.LastPassedHealth); err == nil {
			cfg.LastPassed = t
		}
	}
	return cfg
}

// sameWiring compares adapter configs ignoring the seeded probe timestamp,
// which changes at runtime without affecting construction.
func sameWiring(a, b providers.Config) bool {
	a.LastPassed = time.Time{}
	b.LastPassed = time.Time{}
	return a == b
}

// kindFor canonicalizes a provider tag onto the closed adapter kind set.
func kindFor(provider string) string {
	switch strings.ToLower(provider) {
	case "openrouter":
		return providers.KindOpenRouter
	case "openai", "openai_compatible", "litelm":
		return providers.KindOpenAICompat
	case "huggingface":
		return providers.KindHuggingFace
	case "ollama":
		return providers.KindOllama
	default:
		return providers.KindLocalEcho
	}
}

func buildAdapter(cfg providers.Config, provider string) providers.Adapter {
	switch kindFor(provider) {
	case providers.KindOpenRouter:
		return openrouter.New(cfg)
	case providers.KindOpenAICompat:
		return openai.New(cfg)
	case providers.KindHuggingFace:
		return huggingface.New(cfg)
	case providers.KindOllama:
		return ollama.New(cfg)
	default:
		return echo.New(cfg)
	}
}
