package durable

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// DefaultTaskQueue is used when the config names no task queue.
const DefaultTaskQueue = "raeburn-runs"

// Config names the Temporal server and the queue the worker serves.
type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

func (c Config) withDefaults() Config {
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if c.TaskQueue == "" {
		c.TaskQueue = DefaultTaskQueue
	}
	return c
}

// Manager pairs a Temporal client with the worker that serves its queue.
type Manager struct {
	client client.Client
	worker worker.Worker
	queue  string
}

// New dials Temporal and builds a worker with the run workflow and its
// activities registered. The worker does not poll until Start.
func New(cfg Config, acts *Activities) (*Manager, error) {
	cfg = cfg.withDefaults()

	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", cfg.HostPort, err)
	}

	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflow(RunWorkflow)
	for _, a := range []any{acts.PlanPrompt, acts.RoutePrompt, acts.RecordRun} {
		w.RegisterActivity(a)
	}

	return &Manager{client: c, worker: w, queue: cfg.TaskQueue}, nil
}

// Start puts the worker on its queue; it polls until Stop.
func (m *Manager) Start() error {
	return m.worker.Start()
}

// Client exposes the dialed client so callers can start workflows.
func (m *Manager) Client() client.Client {
	return m.client
}

// TaskQueue returns the queue workflows must be started on.
func (m *Manager) TaskQueue() string {
	return m.queue
}

// Stop halts the worker before closing the client so in-flight activities
// are not left talking to a closed connection.
func (m *Manager) Stop() {
	if m.worker != nil {
		m.worker.Stop()
	}
	if m.client != nil {
		m.client.Close()
	}
}
