// Package orchestrator runs one complete task cycle: resolve the agent
// persona, inject relevant memories into the prompt, route it across the
// candidate models, judge a winner, and record what happened.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/raeburn-ai/raeburn/internal/agents"
	"github.com/raeburn-ai/raeburn/internal/events"
	"github.com/raeburn-ai/raeburn/internal/injector"
	"github.com/raeburn-ai/raeburn/internal/memory"
	"github.com/raeburn-ai/raeburn/internal/metrics"
	"github.com/raeburn-ai/raeburn/internal/router"
)

// Pipeline execution modes.
const (
	ModeProd   = "prod"
	ModeDryRun = "dry-run"
	ModeTest   = "test"
)

// ErrPipeline marks a failed pipeline step. The wrapped message names the
// step that failed.
var ErrPipeline = errors.New("pipeline_error")

var tracer = otel.Tracer("raeburn/orchestrator")

// Task describes one unit of work for the pipeline.
type Task struct {
	UserInput string `json:"user_input"`
	AgentRole string `json:"agent_role,omitempty"`
	Priority  int    `json:"priority,omitempty"`
}

// Normalize applies the default role and priority to unset fields.
func (t *Task) Normalize() {
	if t.AgentRole == "" {
		t.AgentRole = agents.GeneralistRole
	}
	if t.Priority <= 0 {
		t.Priority = 1
	}
}

// Result is the outcome of one pipeline run.
type Result struct {
	Result     string  `json:"result"`
	ModelUsed  string  `json:"model_used"`
	Score      float64 `json:"score"`
	Agent      string  `json:"agent"`
	SessionID  string  `json:"session_id"`
	Mode       string  `json:"mode"`
	DurationMS int64   `json:"duration_ms"`
	Priority   int     `json:"priority"`
}

// Router dispatches a prompt and returns ranked candidates, best first.
type Router interface {
	Route(ctx context.Context, req router.Request) ([]router.Routed, error)
}

// Picker chooses the winner among ranked candidates.
type Picker interface {
	Pick(ctx context.Context, userInput string, ranked []router.Routed) (router.Routed, error)
}

// Options wires a pipeline's collaborators and behavior.
type Options struct {
	Resolver *agents.Resolver
	Injector *injector.Injector
	Store    *memory.Store
	Router   Router
	Judge    Picker

	// Mode is prod, dry-run, or test. Empty means prod.
	Mode string
	// Parallel forces fan-out routing regardless of task priority.
	Parallel bool
	// MemoryLimit caps injected context lines; zero uses the injector default.
	MemoryLimit int

	Metrics *metrics.Registry
	Events  *events.Bus
	Logger  *slog.Logger
}

// Pipeline orchestrates task runs.
type Pipeline struct {
	resolver *agents.Resolver
	injector *injector.Injector
	store    *memory.Store
	router   Router
	judge    Picker

	mode        string
	parallel    bool
	memoryLimit int

	metrics *metrics.Registry
	events  *events.Bus
	log     *slog.Logger
}

// New builds a pipeline from opts.
func New(opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	mode := strings.TrimSpace(opts.Mode)
	if mode == "" {
		mode = ModeProd
	}
	return &Pipeline{
		resolver:    opts.Resolver,
		injector:    opts.Injector,
		store:       opts.Store,
		router:      opts.Router,
		judge:       opts.Judge,
		mode:        mode,
		parallel:    opts.Parallel,
		memoryLimit: opts.MemoryLimit,
		metrics:     opts.Metrics,
		events:      opts.Events,
		log:         log.With("component", "orchestrator"),
	}
}

// Mode reports the pipeline's execution mode.
func (p *Pipeline) Mode() string { return p.mode }

// Run executes one task cycle and returns the winning response. Quality is
// recorded for every run; the interaction memory is skipped in dry-run mode.
func (p *Pipeline) Run(ctx context.Context, task Task) (Result, error) {
	task.Normalize()
	start := time.Now()
	session := NewSessionID()
	log := p.log.With("session_id", session, "agent_role", task.AgentRole)

	ctx, span := tracer.Start(ctx, "orchestration", trace.WithAttributes(
		attribute.String("agent_role", task.AgentRole),
		attribute.Int("priority", task.Priority),
	))
	defer span.End()

	status := "error"
	defer func() {
		if p.metrics != nil {
			p.metrics.PipelineRuns.WithLabelValues(p.mode, status).Inc()
			p.metrics.PipelineDuration.Observe(float64(time.Since(start).Milliseconds()))
		}
	}()

	agent := p.resolver.Resolve(task.AgentRole)
	p.publish(events.Event{
		Type:      events.EventPipelineStarted,
		SessionID: session,
		Agent:     agent.Name,
		Mode:      p.mode,
		Task:      task.AgentRole,
	})

	contextLines, err := p.injector.RelevantTexts(ctx, task.AgentRole, task.UserInput, nil, p.memoryLimit)
	if err != nil {
		return Result{}, p.fail(log, session, "inject", err)
	}
	prompt := agents.BuildPrompt(agent, task.UserInput, contextLines)

	parallel := p.parallel || task.Priority > 1
	routeCtx, routeSpan := tracer.Start(ctx, "route_prompt", trace.WithAttributes(
		attribute.Bool("parallel", parallel),
		attribute.Int("priority", task.Priority),
	))
	ranked, err := p.router.Route(routeCtx, router.Request{
		Prompt:     prompt,
		SessionID:  session,
		Task:       task.AgentRole,
		Sequential: !parallel,
	})
	routeSpan.End()
	if err != nil {
		return Result{}, p.fail(log, session, "route", err)
	}

	best, err := p.judge.Pick(ctx, task.UserInput, ranked)
	if err != nil {
		return Result{}, p.fail(log, session, "judge", err)
	}

	res := Result{
		Result:     best.Content,
		ModelUsed:  best.Model,
		Score:      best.Score,
		Agent:      agent.Name,
		SessionID:  session,
		Mode:       p.mode,
		DurationMS: time.Since(start).Milliseconds(),
		Priority:   task.Priority,
	}

	if err := p.recordQuality(ctx, best.Model, best.Score, session); err != nil {
		return Result{}, p.fail(log, session, "record", err)
	}
	if p.mode != ModeDryRun {
		if err := p.recordInteraction(ctx, task, res); err != nil {
			return Result{}, p.fail(log, session, "record", err)
		}
	}

	status = "ok"
	if p.mode != ModeTest {
		log.Info("orchestration complete",
			"model", res.ModelUsed,
			"score", res.Score,
			"duration_ms", res.DurationMS,
			"parallel", parallel)
	}
	p.publish(events.Event{
		Type:      events.EventPipelineCompleted,
		SessionID: session,
		Agent:     agent.Name,
		Mode:      p.mode,
		Task:      task.AgentRole,
		Model:     res.ModelUsed,
		Score:     res.Score,
		LatencyMS: float64(res.DurationMS),
	})
	return res, nil
}

// PlanPrompt resolves the task's persona and composes the routed prompt from
// the persona's system prompt, the user input, and relevant memory context.
// It is the first step of Run, split out so durable workflows can execute it
// as a standalone activity.
func (p *Pipeline) PlanPrompt(ctx context.Context, task Task) (agents.Agent, string, error) {
	task.Normalize()
	agent := p.resolver.Resolve(task.AgentRole)
	contextLines, err := p.injector.RelevantTexts(ctx, task.AgentRole, task.UserInput, nil, p.memoryLimit)
	if err != nil {
		return agent, "", err
	}
	return agent, agents.BuildPrompt(agent, task.UserInput, contextLines), nil
}

// RoutePrompt dispatches the prompt and returns the judged winner. High
// priority tasks fan out in parallel like they do in Run.
func (p *Pipeline) RoutePrompt(ctx context.Context, task Task, prompt, session string) (router.Routed, error) {
	task.Normalize()
	parallel := p.parallel || task.Priority > 1
	ctx, span := tracer.Start(ctx, "route_prompt", trace.WithAttributes(
		attribute.Bool("parallel", parallel),
		attribute.Int("priority", task.Priority),
	))
	defer span.End()
	ranked, err := p.router.Route(ctx, router.Request{
		Prompt:     prompt,
		SessionID:  session,
		Task:       task.AgentRole,
		Sequential: !parallel,
	})
	if err != nil {
		return router.Routed{}, err
	}
	return p.judge.Pick(ctx, task.UserInput, ranked)
}

// Record persists a finished run: the quality memory always, the interaction
// memory outside dry-run.
func (p *Pipeline) Record(ctx context.Context, task Task, res Result) error {
	task.Normalize()
	if err := p.recordQuality(ctx, res.ModelUsed, res.Score, res.SessionID); err != nil {
		return err
	}
	if p.mode != ModeDryRun {
		return p.recordInteraction(ctx, task, res)
	}
	return nil
}

// recordQuality stores the winner's score as a global quality memory. It
// runs in every mode so dry runs still feed model statistics.
func (p *Pipeline) recordQuality(ctx context.Context, model string, score float64, session string) error {
	text := fmt.Sprintf("Quality: %s scored %.3f", model, score)
	_, err := p.store.Global().Add(ctx, text, memory.AddOptions{
		Tags: []string{"quality"},
		Metadata: map[string]any{
			"model":   model,
			"score":   score,
			"session": session,
		},
	})
	return err
}

// recordInteraction stores the full interaction in the agent's shard, where
// the injector will find it on later runs.
func (p *Pipeline) recordInteraction(ctx context.Context, task Task, res Result) error {
	text := "Task: " + task.UserInput + "\nResult: " + res.Result
	_, err := p.store.ForAgent(task.AgentRole).Add(ctx, text, memory.AddOptions{
		Tags: []string{"interaction"},
		Metadata: map[string]any{
			"input":       task.UserInput,
			"output":      res.Result,
			"agent":       res.Agent,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"score":       res.Score,
			"session":     res.SessionID,
			"mode":        res.Mode,
			"model_used":  res.ModelUsed,
			"duration_ms": res.DurationMS,
			"priority":    res.Priority,
		},
	})
	return err
}

func (p *Pipeline) fail(log *slog.Logger, session, step string, err error) error {
	wrapped := fmt.Errorf("%w: %s: %v", ErrPipeline, step, err)
	log.Error("pipeline step failed", "step", step, "error", err)
	p.publish(events.Event{
		Type:      events.EventPipelineFailed,
		SessionID: session,
		Mode:      p.mode,
		ErrorMsg:  wrapped.Error(),
	})
	return wrapped
}

func (p *Pipeline) publish(ev events.Event) {
	if p.events != nil {
		p.events.Publish(ev)
	}
}

// NewSessionID returns "sess_" plus eight lowercase alphanumerics.
func NewSessionID() string {
	return "sess_" + uuid.NewString()[:8]
}
