package durable

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/activity"

	"github.com/raeburn-ai/raeburn/internal/events"
	"github.com/raeburn-ai/raeburn/internal/orchestrator"
)

// Activities holds dependencies for Temporal activity implementations. Each
// activity wraps one pipeline step, so a run survives worker restarts between
// steps instead of being dropped.
type Activities struct {
	Pipeline *orchestrator.Pipeline
	EventBus *events.Bus
	Log      *slog.Logger
}

// NewActivities bundles the pipeline behind the activity surface.
func NewActivities(p *orchestrator.Pipeline, bus *events.Bus, log *slog.Logger) *Activities {
	if log == nil {
		log = slog.Default()
	}
	return &Activities{
		Pipeline: p,
		EventBus: bus,
		Log:      log.With("component", "durable"),
	}
}

// PlanPrompt resolves the task's persona and composes the routed prompt,
// memory context included.
func (a *Activities) PlanPrompt(ctx context.Context, input PlanInput) (PlanOutput, error) {
	input.Task.Normalize()
	activity.RecordHeartbeat(ctx, "planning")

	agent, prompt, err := a.Pipeline.PlanPrompt(ctx, input.Task)
	if err != nil {
		return PlanOutput{}, a.fail(input.SessionID, "inject", err)
	}
	a.publish(events.Event{
		Type:      events.EventPipelineStarted,
		SessionID: input.SessionID,
		Agent:     agent.Name,
		Mode:      a.Pipeline.Mode(),
		Task:      input.Task.AgentRole,
	})
	return PlanOutput{
		AgentName: agent.Name,
		Mode:      a.Pipeline.Mode(),
		Prompt:    prompt,
	}, nil
}

// RoutePrompt dispatches the prompt across candidate models and returns the
// judged winner.
func (a *Activities) RoutePrompt(ctx context.Context, input RouteInput) (RouteOutput, error) {
	input.Task.Normalize()
	activity.RecordHeartbeat(ctx, "routing")

	best, err := a.Pipeline.RoutePrompt(ctx, input.Task, input.Prompt, input.SessionID)
	if err != nil {
		return RouteOutput{}, a.fail(input.SessionID, "route", err)
	}
	return RouteOutput{
		Model:   best.Model,
		Content: best.Content,
		Score:   best.Score,
	}, nil
}

// RecordRun persists the finished run and publishes the completion event.
func (a *Activities) RecordRun(ctx context.Context, input RecordInput) error {
	input.Task.Normalize()
	activity.RecordHeartbeat(ctx, "recording")

	if err := a.Pipeline.Record(ctx, input.Task, input.Result); err != nil {
		return a.fail(input.Result.SessionID, "record", err)
	}
	a.publish(events.Event{
		Type:      events.EventPipelineCompleted,
		SessionID: input.Result.SessionID,
		Agent:     input.Result.Agent,
		Mode:      input.Result.Mode,
		Task:      input.Task.AgentRole,
		Model:     input.Result.ModelUsed,
		Score:     input.Result.Score,
		LatencyMS: float64(input.Result.DurationMS),
	})
	return nil
}

func (a *Activities) fail(session, step string, err error) error {
	wrapped := fmt.Errorf("%w: %s: %v", orchestrator.ErrPipeline, step, err)
	a.Log.Error("pipeline step failed", "step", step, "session_id", session, "error", err)
	a.publish(events.Event{
		Type:      events.EventPipelineFailed,
		SessionID: session,
		Mode:      a.Pipeline.Mode(),
		ErrorMsg:  wrapped.Error(),
	})
	return wrapped
}

func (a *Activities) publish(ev events.Event) {
	if a.EventBus != nil {
		a.EventBus.Publish(ev)
	}
}
