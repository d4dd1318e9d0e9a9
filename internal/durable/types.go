package durable

import "github.com/raeburn-ai/raeburn/internal/orchestrator"

// RunInput starts RunWorkflow. The dispatcher generates the session ID up
// front because workflow code must stay deterministic.
type RunInput struct {
	Task      orchestrator.Task `json:"task"`
	SessionID string            `json:"session_id"`
}

// RunOutput is the workflow result.
type RunOutput struct {
	Result orchestrator.Result `json:"result"`
}

// PlanInput asks the PlanPrompt activity to resolve the task's persona and
// compose the routed prompt.
type PlanInput struct {
	Task      orchestrator.Task `json:"task"`
	SessionID string            `json:"session_id"`
}

// PlanOutput carries the composed prompt back to the workflow.
type PlanOutput struct {
	AgentName string `json:"agent_name"`
	Mode      string `json:"mode"`
	Prompt    string `json:"prompt"`
}

// RouteInput asks the RoutePrompt activity to dispatch a prompt and judge
// the winner.
type RouteInput struct {
	Task      orchestrator.Task `json:"task"`
	Prompt    string            `json:"prompt"`
	SessionID string            `json:"session_id"`
}

// RouteOutput is the judged winner.
type RouteOutput struct {
	Model   string  `json:"model"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// RecordInput asks the RecordRun activity to persist a finished run.
type RecordInput struct {
	Task   orchestrator.Task   `json:"task"`
	Result orchestrator.Result `json:"result"`
}
