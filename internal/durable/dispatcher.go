package durable

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"

	"github.com/raeburn-ai/raeburn/internal/circuitbreaker"
	"github.com/raeburn-ai/raeburn/internal/orchestrator"
)

// starter is the slice of client.Client the dispatcher needs, kept narrow so
// tests can fake workflow submission.
type starter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow any, args ...any) (client.WorkflowRun, error)
}

// Dispatcher sends runs through Temporal when a manager is wired and the
// circuit is closed, and through the in-process pipeline otherwise. A
// submission failure trips the breaker, so an unreachable Temporal cluster
// degrades to plain in-process runs instead of failing requests.
type Dispatcher struct {
	starter   starter
	taskQueue string
	pipeline  *orchestrator.Pipeline
	breaker   *circuitbreaker.Breaker
	log       *slog.Logger
}

// NewDispatcher wires the fallback pipeline and, when m is non-nil, the
// Temporal client. A nil manager keeps every run in-process.
func NewDispatcher(m *Manager, p *orchestrator.Pipeline, log *slog.Logger, opts ...circuitbreaker.Option) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		pipeline: p,
		log:      log.With("component", "durable"),
	}
	if m != nil {
		d.starter = m.Client()
		d.taskQueue = m.TaskQueue()
	}
	opts = append([]circuitbreaker.Option{
		circuitbreaker.WithOnStateChange(func(from, to circuitbreaker.State) {
			d.log.Warn("durable dispatch circuit changed", "from", from.String(), "to", to.String())
		}),
	}, opts...)
	d.breaker = circuitbreaker.New(opts...)
	return d
}

// Durable reports whether Temporal dispatch is configured.
func (d *Dispatcher) Durable() bool {
	return d.starter != nil
}

// Run executes one task, durably when possible.
func (d *Dispatcher) Run(ctx context.Context, task orchestrator.Task) (orchestrator.Result, error) {
	if d.starter == nil || !d.breaker.Allow() {
		return d.pipeline.Run(ctx, task)
	}

	task.Normalize()
	input := RunInput{Task: task, SessionID: orchestrator.NewSessionID()}
	run, err := d.starter.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "run-" + input.SessionID,
		TaskQueue: d.taskQueue,
	}, RunWorkflow, input)
	if err != nil {
		d.breaker.RecordFailure()
		d.log.Warn("temporal dispatch failed, running in-process", "error", err)
		return d.pipeline.Run(ctx, task)
	}
	d.breaker.RecordSuccess()

	var out RunOutput
	if err := run.Get(ctx, &out); err != nil {
		// Temporal accepted the run, so the breaker stays closed; the
		// failure belongs to the run itself.
		return orchestrator.Result{}, fmt.Errorf("%w: %v", orchestrator.ErrPipeline, err)
	}
	return out.Result, nil
}
