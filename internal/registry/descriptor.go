package registry

import (
	"net/url"
	"slices"
	"strings"
)

// RouterBias carries the task-affinity hints the router folds into scores.
type RouterBias struct {
	PreferFor []string `json:"prefer_for"`
	AvoidFor  []string `json:"avoid_for"`
}

// Capabilities gates which requests a model may serve.
type Capabilities struct {
	Streaming      bool     `json:"streaming"`
	JSONMode       bool     `json:"json_mode"`
	RolesSupported []string `json:"roles_supported"`
	Multimodal     bool     `json:"multimodal"`
	MaxContext     *int     `json:"max_context,omitempty"`
}

// Descriptor is one model entry from the registry config. Extras preserves
// every unrecognized key so provider-specific settings (endpoint, model,
// allow_unauthenticated, installed) survive the round trip.
type Descriptor struct {
	Name                         string         `json:"name"`
	Provider                     string         `json:"provider"`
	CostUSDPer1K                 float64        `json:"cost_usd_per_1k"`
	SpeedTPS                     float64        `json:"speed_tps_estimate"`
	Strengths                    []string       `json:"strengths,omitempty"`
	Weaknesses                   []string       `json:"weaknesses,omitempty"`
	ForbiddenTasks               []string       `json:"forbidden_tasks,omitempty"`
	RouterBias                   RouterBias     `json:"router_bias"`
	AutoDisableThresholdFailures *int           `json:"auto_disable_threshold_failures,omitempty"`
	LastPassedHealth             string         `json:"last_passed_health,omitempty"`
	AllowedHosts                 []string       `json:"allowed_hosts,omitempty"`
	Capabilities                 Capabilities   `json:"capabilities"`
	Extras                       map[string]any `json:"extras,omitempty"`
}

// recognizedKeys are consumed by ParseModel; everything else lands in Extras.
var recognizedKeys = map[string]struct{}{
	"name": {}, "id": {}, "provider": {}, "type": {}, "cost": {}, "speed": {},
	"strengths": {}, "weaknesses": {}, "forbidden_tasks": {}, "router_bias": {},
	"auto_disable_threshold_failures": {}, "last_passed_health": {},
	"allowed_hosts": {}, "capabilities": {},
}

// ParseModel builds a Descriptor from one decoded JSON object, accepting the
// field aliases the config format grew over time: provider|type, cost as a
// bare number or {usd_per_1k|usd_per_k}, speed {tps_estimate|tps},
// multimodal|multi_modality, name|id. A descriptor with an empty name is
// skipped by the loader.
func ParseModel(data map[string]any) Descriptor {
	provider := strings.ToLower(firstString(data["provider"], data["type"]))
	if provider == "" {
		provider = "local"
	}

	d := Descriptor{
		Name:             firstString(data["name"], data["id"]),
		Provider:         provider,
		CostUSDPer1K:     parseCost(data["cost"]),
		SpeedTPS:         parseSpeed(data["speed"]),
		Strengths:        stringList(data["strengths"]),
		Weaknesses:       stringList(data["weaknesses"]),
		ForbiddenTasks:   stringList(data["forbidden_tasks"]),
		LastPassedHealth: firstString(data["last_passed_health"]),
		AllowedHosts:     stringList(data["allowed_hosts"]),
		Extras:           map[string]any{},
	}

	if n, ok := asNumber(data["auto_disable_threshold_failures"]); ok {
		v := int(n)
		d.AutoDisableThresholdFailures = &v
	}

	if bias, ok := data["router_bias"].(map[string]any); ok {
		d.RouterBias.PreferFor = stringList(bias["prefer_for"])
		d.RouterBias.AvoidFor = stringList(bias["avoid_for"])
	}

	rawCaps, _ := data["capabilities"].(map[string]any)
	d.Capabilities = parseCapabilities(rawCaps, provider)

	for k, v := range data {
		if _, ok := recognizedKeys[k]; !ok {
			d.Extras[k] = v
		}
	}

	// Provider defaults for auth and endpoint behavior.
	switch provider {
	case "litelm":
		if _, ok := d.Extras["allow_unauthenticated"]; !ok {
			d.Extras["allow_unauthenticated"] = true
		}
	case "openrouter":
		if _, ok := d.Extras["endpoint"]; !ok {
			d.Extras["endpoint"] = "https://openrouter.ai/api/v1/chat/completions"
		}
	}

	return d
}

// parseCapabilities applies the provider-tag capability defaults: the OpenAI
// family and OpenRouter default streaming/json_mode true and the full role
// set unless the config states otherwise; HuggingFace serverless defaults
// both off.
func parseCapabilities(raw map[string]any, provider string) Capabilities {
	caps := Capabilities{
		Streaming:      boolAt(raw, "streaming", false),
		JSONMode:       boolAt(raw, "json_mode", false),
		RolesSupported: stringList(raw["roles_supported"]),
		Multimodal:     boolAt(raw, "multimodal", boolAt(raw, "multi_modality", false)),
	}
	if len(caps.RolesSupported) == 0 {
		caps.RolesSupported = []string{"user"}
	}
	if n, ok := asNumber(raw["max_context"]); ok {
		v := int(n)
		caps.MaxContext = &v
	}

	switch provider {
	case "openai", "openai_compatible", "litelm", "openrouter":
		caps.Streaming = boolAt(raw, "streaming", true)
		caps.JSONMode = boolAt(raw, "json_mode", true)
		if _, present := raw["roles_supported"]; present {
			caps.RolesSupported = stringList(raw["roles_supported"])
		} else {
			caps.RolesSupported = []string{"system", "user", "assistant"}
		}
	case "huggingface":
		caps.Streaming = boolAt(raw, "streaming", false)
		caps.JSONMode = boolAt(raw, "json_mode", false)
	}
	return caps
}

// HostAllowed reports whether the endpoint's hostname passes the allow-list.
// An empty list, an absent endpoint, or an unparseable host all pass; the
// list only constrains endpoints it can actually check.
func (d *Descriptor) HostAllowed(endpoint string) bool {
	if len(d.AllowedHosts) == 0 || endpoint == "" {
		return true
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return true
	}
	return slices.Contains(d.AllowedHosts, u.Hostname())
}

// ExtraString returns a string-typed extras value, or "".
func (d *Descriptor) ExtraString(key string) string {
	s, _ := d.Extras[key].(string)
	return s
}

// ExtraBool returns a bool-typed extras value, or def.
func (d *Descriptor) ExtraBool(key string, def bool) bool {
	if b, ok := d.Extras[key].(bool); ok {
		return b
	}
	return def
}

// Endpoint returns the per-model endpoint override, when configured.
func (d *Descriptor) Endpoint() string { return d.ExtraString("endpoint") }

// Installed reports the installed-models overlay flag (absent means true).
func (d *Descriptor) Installed() bool { return d.ExtraBool("installed", true) }

func parseCost(v any) float64 {
	if n, ok := asNumber(v); ok {
		return n
	}
	m, _ := v.(map[string]any)
	if n, ok := asNumber(m["usd_per_1k"]); ok {
		return n
	}
	if n, ok := asNumber(m["usd_per_k"]); ok {
		return n
	}
	return 0
}

func parseSpeed(v any) float64 {
	m, _ := v.(map[string]any)
	if n, ok := asNumber(m["tps_estimate"]); ok {
		return n
	}
	if n, ok := asNumber(m["tps"]); ok {
		return n
	}
	return 0
}

func firstString(vals ...any) string {
	for _, v := range vals {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func boolAt(m map[string]any, key string, def bool) bool {
	if b, ok := m[key].(bool); ok {
		return b
	}
	return def
}
