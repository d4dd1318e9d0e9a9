// Package agents resolves task roles to agent personas.
//
// Two personas are built in. An optional JSON config file (a role -> agent
// object) overlays or extends them; entries that fail to decode are skipped
// so one bad persona cannot take down the rest.
package agents

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"
)

// Agent is a resolved persona. Only Name is guaranteed non-empty.
type Agent struct {
	Name             string   `json:"name"`
	SystemPrompt     string   `json:"system_prompt,omitempty"`
	PromptStyle      string   `json:"prompt_style,omitempty"`
	Capabilities     []string `json:"capabilities,omitempty"`
	ModelPreferences []string `json:"model_preferences,omitempty"`
}

// GeneralistRole is the fallback persona for unknown roles.
const GeneralistRole = "generalist"

func builtins() map[string]Agent {
	return map[string]Agent{
		GeneralistRole: {
			Name:         GeneralistRole,
			SystemPrompt: "You are a versatile assistant able to tackle any task.",
		},
		"copywriter": {
			Name:         "copywriter",
			SystemPrompt: "You craft concise and compelling marketing copy.",
			PromptStyle:  "energetic",
		},
	}
}

// Resolver maps roles to agents, overlaying builtins with a config file.
type Resolver struct {
	path string
	log  *slog.Logger

	mu     sync.RWMutex
	byRole map[string]Agent
}

// New builds a resolver from the builtins plus the JSON config at path.
// An empty path means builtins only.
func New(path string, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	r := &Resolver{path: path, log: log.With("component", "agents")}
	r.byRole = r.load()
	return r
}

// Reload re-reads the config file and swaps in the result. Builtins are
// always restored first, so deleting an overlay entry reverts the role.
func (r *Resolver) Reload() {
	loaded := r.load()
	r.mu.Lock()
	r.byRole = loaded
	r.mu.Unlock()
	r.log.Info("agent definitions loaded", "roles", len(loaded))
}

// Resolve returns the agent for role, or the generalist when the role is
// unknown.
func (r *Resolver) Resolve(role string) Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.byRole[role]; ok {
		return a
	}
	return r.byRole[GeneralistRole]
}

// Register adds or replaces a role at runtime. An empty name defaults to
// the role.
func (r *Resolver) Register(role string, a Agent) Agent {
	if a.Name == "" {
		a.Name = role
	}
	r.mu.Lock()
	r.byRole[role] = a
	r.mu.Unlock()
	return a
}

// Roles lists the known roles, sorted.
func (r *Resolver) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]string, 0, len(r.byRole))
	for role := range r.byRole {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

func (r *Resolver) load() map[string]Agent {
	agents := builtins()
	if r.path == "" {
		return agents
	}
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.log.Warn("agent config unreadable", "path", r.path, "error", err)
		}
		return agents
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		r.log.Warn("agent config is not a JSON object", "path", r.path, "error", err)
		return agents
	}
	for role, msg := range entries {
		var a Agent
		if err := json.Unmarshal(msg, &a); err != nil {
			r.log.Warn("skipping invalid agent entry", "role", role, "error", err)
			continue
		}
		if a.Name == "" {
			a.Name = role
		}
		agents[role] = a
	}
	return agents
}
