package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/raeburn-ai/raeburn/internal/durable"
	"github.com/raeburn-ai/raeburn/internal/memory"
	"github.com/raeburn-ai/raeburn/internal/orchestrator"
)

// Config is the full service configuration, read from the environment.
type Config struct {
	ListenAddr string
	LogLevel   string

	// ConfigDir holds model_registry.json and models_installed.json.
	ConfigDir string
	// MemoryDir is the memory store root.
	MemoryDir string

	// ScoreWeights is the raw RAEBURN_SCORE_WEIGHTS value (JSON or CSV);
	// empty means the built-in blend.
	ScoreWeights  string
	JudgeBackend  string
	RouterTimeout time.Duration

	OrchestratorMode     string
	OrchestratorParallel bool
	// MemoryLimit caps injected context lines; zero uses the injector default.
	MemoryLimit int

	// AgentConfig is an optional persona overlay JSON file.
	AgentConfig string

	MemorySharding        bool
	MemoryTTLDefault      time.Duration
	MemoryMaxResults      int
	MemoryQueryStrict     bool
	MemoryImportanceDecay bool
	MemoryDecayFactor     float64
	// MaintenanceCron schedules memory maintenance; empty disables it.
	MaintenanceCron string

	// TemporalHostPort enables durable dispatch when set.
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string

	// TracingEndpoint is the OTLP HTTP endpoint; empty leaves tracing off.
	TracingEndpoint string

	// CORSOrigins lists allowed origins; empty means all.
	CORSOrigins []string
}

// LoadConfig reads the environment and validates the result.
func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("RAEBURN_LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("RAEBURN_LOG_LEVEL", "info"),

		ConfigDir: getEnv("RAEBURN_CONFIG_DIR", "config"),
		MemoryDir: getEnv("RAEBURN_MEMORY_DIR", "memory"),

		ScoreWeights:  getEnv("RAEBURN_SCORE_WEIGHTS", ""),
		JudgeBackend:  getEnv("RAEBURN_JUDGE_BACKEND", "rule"),
		RouterTimeout: getEnvDuration("RAEBURN_ROUTER_TIMEOUT", 30*time.Second),

		OrchestratorMode:     getEnv("RAEBURN_ORCHESTRATOR_MODE", orchestrator.ModeProd),
		OrchestratorParallel: getEnvFlag("RAEBURN_ORCHESTRATOR_PARALLEL"),
		MemoryLimit:          getEnvInt("RAEBURN_ORCHESTRATOR_MEMORY_LIMIT", 0),

		AgentConfig: getEnv("RAEBURN_AGENT_CONFIG", ""),

		MemorySharding:        getEnvBool("RAEBURN_MEMORY_SHARDING", true),
		MemoryTTLDefault:      getEnvDuration("RAEBURN_MEMORY_TTL_DEFAULT", 0),
		MemoryMaxResults:      getEnvInt("RAEBURN_MEMORY_MAX_RESULTS", memory.DefaultMaxResults),
		MemoryQueryStrict:     getEnvBool("RAEBURN_MEMORY_QUERY_STRICT", false),
		MemoryImportanceDecay: getEnvBool("RAEBURN_MEMORY_IMPORTANCE_DECAY", false),
		MemoryDecayFactor:     getEnvFloat("RAEBURN_MEMORY_DECAY_FACTOR", memory.DefaultDecayFactor),
		MaintenanceCron:       getEnv("RAEBURN_MEMORY_MAINTENANCE_CRON", ""),

		TemporalHostPort:  getEnv("RAEBURN_TEMPORAL_HOSTPORT", ""),
		TemporalNamespace: getEnv("RAEBURN_TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue: getEnv("RAEBURN_TEMPORAL_TASK_QUEUE", durable.DefaultTaskQueue),

		TracingEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		CORSOrigins: getEnvStringSlice("RAEBURN_CORS_ORIGINS", nil),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	switch c.OrchestratorMode {
	case orchestrator.ModeProd, orchestrator.ModeDryRun, orchestrator.ModeTest:
	default:
		return fmt.Errorf("RAEBURN_ORCHESTRATOR_MODE must be prod, dry-run, or test, got %q", c.OrchestratorMode)
	}
	switch c.JudgeBackend {
	case "rule", "model":
	default:
		return fmt.Errorf("RAEBURN_JUDGE_BACKEND must be rule or model, got %q", c.JudgeBackend)
	}
	if c.RouterTimeout <= 0 {
		return fmt.Errorf("RAEBURN_ROUTER_TIMEOUT must be > 0, got %s", c.RouterTimeout)
	}
	if c.MemoryLimit < 0 {
		return fmt.Errorf("RAEBURN_ORCHESTRATOR_MEMORY_LIMIT must be >= 0, got %d", c.MemoryLimit)
	}
	if c.MemoryTTLDefault < 0 {
		return fmt.Errorf("RAEBURN_MEMORY_TTL_DEFAULT must be >= 0, got %s", c.MemoryTTLDefault)
	}
	if c.MemoryMaxResults <= 0 {
		return fmt.Errorf("RAEBURN_MEMORY_MAX_RESULTS must be > 0, got %d", c.MemoryMaxResults)
	}
	if c.MemoryDecayFactor <= 0 || c.MemoryDecayFactor > 1 {
		return fmt.Errorf("RAEBURN_MEMORY_DECAY_FACTOR must be in (0, 1], got %g", c.MemoryDecayFactor)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvFlag treats 1/true/yes (any case) as set.
func getEnvFlag(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// parseEnv converts the variable with parse, falling back to def when it is
// unset or malformed. Misconfiguration degrades to defaults rather than
// refusing to start.
func parseEnv[T any](key string, def T, parse func(string) (T, error)) T {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func getEnvBool(key string, def bool) bool {
	return parseEnv(key, def, strconv.ParseBool)
}

func getEnvInt(key string, def int) int {
	return parseEnv(key, def, strconv.Atoi)
}

func getEnvFloat(key string, def float64) float64 {
	return parseEnv(key, def, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// getEnvDuration accepts either a bare number of seconds or a
// time.ParseDuration string.
func getEnvDuration(key string, def time.Duration) time.Duration {
	return parseEnv(key, def, func(s string) (time.Duration, error) {
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return time.ParseDuration(s)
	})
}

func getEnvStringSlice(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
