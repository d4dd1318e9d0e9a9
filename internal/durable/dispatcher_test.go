package durable

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"

	"github.com/raeburn-ai/raeburn/internal/agents"
	"github.com/raeburn-ai/raeburn/internal/circuitbreaker"
	"github.com/raeburn-ai/raeburn/internal/injector"
	"github.com/raeburn-ai/raeburn/internal/judge"
	"github.com/raeburn-ai/raeburn/internal/memory"
	"github.com/raeburn-ai/raeburn/internal/orchestrator"
	"github.com/raeburn-ai/raeburn/internal/providers"
	"github.com/raeburn-ai/raeburn/internal/router"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubRouter struct {
	ranked []router.Routed
}

func (s *stubRouter) Route(_ context.Context, _ router.Request) ([]router.Routed, error) {
	return s.ranked, nil
}

// fakeRun implements client.WorkflowRun.
type fakeRun struct {
	result RunOutput
	err    error
}

func (r *fakeRun) GetID() string    { return "run-test" }
func (r *fakeRun) GetRunID() string { return "rid-test" }

func (r *fakeRun) Get(_ context.Context, valuePtr any) error {
	if r.err != nil {
		return r.err
	}
	if out, ok := valuePtr.(*RunOutput); ok {
		*out = r.result
	}
	return nil
}

func (r *fakeRun) GetWithOptions(ctx context.Context, valuePtr any, _ client.WorkflowRunGetOptions) error {
	return r.Get(ctx, valuePtr)
}

// fakeStarter fakes workflow submission so the dispatcher can be tested
// without a Temporal cluster.
type fakeStarter struct {
	run       *fakeRun
	err       error
	calls     int
	lastOpts  client.StartWorkflowOptions
	lastInput RunInput
}

func (s *fakeStarter) ExecuteWorkflow(_ context.Context, opts client.StartWorkflowOptions, _ any, args ...any) (client.WorkflowRun, error) {
	s.calls++
	s.lastOpts = opts
	if len(args) == 1 {
		if in, ok := args[0].(RunInput); ok {
			s.lastInput = in
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.run, nil
}

func newTestPipeline(t *testing.T) *orchestrator.Pipeline {
	t.Helper()
	mopts := memory.DefaultOptions()
	mopts.Dir = t.TempDir()
	mopts.Logger = discardLogger()
	store, err := memory.New(mopts)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return orchestrator.New(orchestrator.Options{
		Resolver: agents.New("", discardLogger()),
		Injector: injector.New(store, 0),
		Store:    store,
		Router: &stubRouter{ranked: []router.Routed{
			{Response: providers.Response{Model: "m1", Content: "in-process answer"}, Score: 0.8},
		}},
		Judge:  judge.New("rule", nil, discardLogger()),
		Mode:   orchestrator.ModeTest,
		Logger: discardLogger(),
	})
}

func newTestDispatcher(t *testing.T, fs *fakeStarter, opts ...circuitbreaker.Option) *Dispatcher {
	t.Helper()
	d := &Dispatcher{
		taskQueue: DefaultTaskQueue,
		pipeline:  newTestPipeline(t),
		breaker:   circuitbreaker.New(opts...),
		log:       discardLogger(),
	}
	if fs != nil {
		d.starter = fs
	}
	return d
}

func TestDispatcher_NilManagerRunsInProcess(t *testing.T) {
	d := NewDispatcher(nil, newTestPipeline(t), discardLogger())

	require.False(t, d.Durable())

	res, err := d.Run(context.Background(), orchestrator.Task{UserInput: "hello"})
	require.NoError(t, err)
	require.Equal(t, "in-process answer", res.Result)
	require.Equal(t, "m1", res.ModelUsed)
}

func TestDispatcher_SubmitsWorkflow(t *testing.T) {
	fs := &fakeStarter{run: &fakeRun{result: RunOutput{Result: orchestrator.Result{
		Result:    "durable answer",
		ModelUsed: "m9",
		SessionID: "sess_ab12cd34",
	}}}}
	d := newTestDispatcher(t, fs)

	require.True(t, d.Durable())

	res, err := d.Run(context.Background(), orchestrator.Task{UserInput: "hello"})
	require.NoError(t, err)
	require.Equal(t, "durable answer", res.Result)
	require.Equal(t, 1, fs.calls)

	require.Equal(t, DefaultTaskQueue, fs.lastOpts.TaskQueue)
	require.Equal(t, "run-"+fs.lastInput.SessionID, fs.lastOpts.ID)

	// The dispatcher normalizes the task before dispatch.
	require.Equal(t, "generalist", fs.lastInput.Task.AgentRole)
	require.Equal(t, 1, fs.lastInput.Task.Priority)

	require.Equal(t, circuitbreaker.Closed, d.breaker.CurrentState())
}

func TestDispatcher_SubmitFailureFallsBack(t *testing.T) {
	fs := &fakeStarter{err: errors.New("connection refused")}
	d := newTestDispatcher(t, fs)

	res, err := d.Run(context.Background(), orchestrator.Task{UserInput: "hello"})
	require.NoError(t, err)
	require.Equal(t, "in-process answer", res.Result)
	require.Equal(t, 1, fs.calls)
}

func TestDispatcher_BreakerOpensAfterThreshold(t *testing.T) {
	fs := &fakeStarter{err: errors.New("connection refused")}
	d := newTestDispatcher(t, fs)

	for i := 0; i < 3; i++ {
		res, err := d.Run(context.Background(), orchestrator.Task{UserInput: "hello"})
		require.NoError(t, err)
		require.Equal(t, "in-process answer", res.Result)
	}
	require.Equal(t, circuitbreaker.Open, d.breaker.CurrentState())

	// With the circuit open, Temporal is not even attempted.
	_, err := d.Run(context.Background(), orchestrator.Task{UserInput: "hello"})
	require.NoError(t, err)
	require.Equal(t, 3, fs.calls)
}

func TestDispatcher_BreakerRecoversViaProbe(t *testing.T) {
	fs := &fakeStarter{err: errors.New("connection refused")}
	d := newTestDispatcher(t, fs, circuitbreaker.WithCooldown(time.Millisecond))

	for i := 0; i < 3; i++ {
		_, err := d.Run(context.Background(), orchestrator.Task{UserInput: "hello"})
		require.NoError(t, err)
	}
	require.Equal(t, circuitbreaker.Open, d.breaker.CurrentState())

	// After the cooldown a probe run goes through and closes the circuit.
	time.Sleep(5 * time.Millisecond)
	fs.err = nil
	fs.run = &fakeRun{result: RunOutput{Result: orchestrator.Result{Result: "durable answer"}}}

	res, err := d.Run(context.Background(), orchestrator.Task{UserInput: "hello"})
	require.NoError(t, err)
	require.Equal(t, "durable answer", res.Result)
	require.Equal(t, circuitbreaker.Closed, d.breaker.CurrentState())
}

func TestDispatcher_WorkflowErrorKeepsBreakerClosed(t *testing.T) {
	fs := &fakeStarter{run: &fakeRun{err: errors.New("activity error: pipeline_error: route: boom")}}
	d := newTestDispatcher(t, fs)

	_, err := d.Run(context.Background(), orchestrator.Task{UserInput: "hello"})
	require.Error(t, err)
	require.ErrorIs(t, err, orchestrator.ErrPipeline)
	require.Contains(t, err.Error(), "boom")

	// Submission succeeded, so the failure belongs to the run, not Temporal.
	require.Equal(t, circuitbreaker.Closed, d.breaker.CurrentState())
}
