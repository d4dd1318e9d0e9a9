// Package durable runs orchestration cycles as Temporal workflows so that a
// worker crash mid-run resumes the run instead of dropping it. When Temporal
// is not configured, or its circuit breaker is open, runs fall back to the
// in-process pipeline.
package durable

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/raeburn-ai/raeburn/internal/orchestrator"
)

const activityTimeout = 60 * time.Second

// RunWorkflow executes one orchestration cycle: plan the prompt, route it,
// record the outcome. Each step is a separate activity so replay picks up at
// the last completed step.
func RunWorkflow(ctx workflow.Context, input RunInput) (RunOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1, // The router and memory layers handle their own retry logic.
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	start := workflow.Now(ctx)
	input.Task.Normalize()

	// Step 1: Resolve the persona and compose the prompt.
	var plan PlanOutput
	err := workflow.ExecuteActivity(ctx, (*Activities).PlanPrompt, PlanInput{
		Task:      input.Task,
		SessionID: input.SessionID,
	}).Get(ctx, &plan)
	if err != nil {
		return RunOutput{}, err
	}

	// Step 2: Route across candidate models and judge the winner.
	var routed RouteOutput
	err = workflow.ExecuteActivity(ctx, (*Activities).RoutePrompt, RouteInput{
		Task:      input.Task,
		Prompt:    plan.Prompt,
		SessionID: input.SessionID,
	}).Get(ctx, &routed)
	if err != nil {
		return RunOutput{}, err
	}

	res := orchestrator.Result{
		Result:     routed.Content,
		ModelUsed:  routed.Model,
		Score:      routed.Score,
		Agent:      plan.AgentName,
		SessionID:  input.SessionID,
		Mode:       plan.Mode,
		DurationMS: workflow.Now(ctx).Sub(start).Milliseconds(),
		Priority:   input.Task.Priority,
	}

	// Step 3: Record quality and interaction memories.
	err = workflow.ExecuteActivity(ctx, (*Activities).RecordRun, RecordInput{
		Task:   input.Task,
		Result: res,
	}).Get(ctx, nil)
	if err != nil {
		return RunOutput{}, err
	}

	return RunOutput{Result: res}, nil
}
