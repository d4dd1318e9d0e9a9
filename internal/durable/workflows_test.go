package durable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/raeburn-ai/raeburn/internal/orchestrator"
)

// actsRef exists only so OnActivity can take method references; the SDK
// reads the method name by reflection and never calls through the nil
// receiver.
var actsRef *Activities

func defaultRunInput() RunInput {
	return RunInput{
		Task: orchestrator.Task{
			UserInput: "Summarize the launch notes",
			AgentRole: "generalist",
			Priority:  1,
		},
		SessionID: "sess_ab12cd34",
	}
}

func samplePlan() PlanOutput {
	return PlanOutput{
		AgentName: "generalist",
		Mode:      "prod",
		Prompt:    "You are a versatile assistant able to tackle any task.\n\nUser: Summarize the launch notes",
	}
}

func sampleRoute() RouteOutput {
	return RouteOutput{
		Model:   "gpt-4o-mini",
		Content: "The launch went fine.",
		Score:   0.91,
	}
}

func TestRunWorkflow_Success(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	plan := samplePlan()
	routed := sampleRoute()

	env.OnActivity(actsRef.PlanPrompt, mock.Anything, mock.Anything).Return(plan, nil)
	env.OnActivity(actsRef.RoutePrompt, mock.Anything, mock.Anything).Return(routed, nil)
	env.OnActivity(actsRef.RecordRun, mock.Anything, mock.Anything).Return(nil)

	input := defaultRunInput()
	env.ExecuteWorkflow(RunWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var output RunOutput
	require.NoError(t, env.GetWorkflowResult(&output))

	require.Equal(t, routed.Content, output.Result.Result)
	require.Equal(t, routed.Model, output.Result.ModelUsed)
	require.Equal(t, routed.Score, output.Result.Score)
	require.Equal(t, plan.AgentName, output.Result.Agent)
	require.Equal(t, plan.Mode, output.Result.Mode)
	require.Equal(t, input.SessionID, output.Result.SessionID)
	require.Equal(t, 1, output.Result.Priority)

	env.AssertExpectations(t)
}

func TestRunWorkflow_ThreadsPromptAndSession(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	plan := samplePlan()

	env.OnActivity(actsRef.PlanPrompt, mock.Anything, mock.MatchedBy(func(in PlanInput) bool {
		return in.SessionID == "sess_ab12cd34" && in.Task.UserInput == "Summarize the launch notes"
	})).Return(plan, nil)

	// The route step must receive the planned prompt verbatim.
	env.OnActivity(actsRef.RoutePrompt, mock.Anything, mock.MatchedBy(func(in RouteInput) bool {
		return in.Prompt == plan.Prompt && in.SessionID == "sess_ab12cd34"
	})).Return(sampleRoute(), nil)

	env.OnActivity(actsRef.RecordRun, mock.Anything, mock.MatchedBy(func(in RecordInput) bool {
		return in.Result.SessionID == "sess_ab12cd34" && in.Result.ModelUsed == "gpt-4o-mini"
	})).Return(nil)

	env.ExecuteWorkflow(RunWorkflow, defaultRunInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestRunWorkflow_NormalizesTask(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.OnActivity(actsRef.PlanPrompt, mock.Anything, mock.MatchedBy(func(in PlanInput) bool {
		return in.Task.AgentRole == "generalist" && in.Task.Priority == 1
	})).Return(samplePlan(), nil)
	env.OnActivity(actsRef.RoutePrompt, mock.Anything, mock.Anything).Return(sampleRoute(), nil)
	env.OnActivity(actsRef.RecordRun, mock.Anything, mock.Anything).Return(nil)

	// No role and no priority set.
	env.ExecuteWorkflow(RunWorkflow, RunInput{
		Task:      orchestrator.Task{UserInput: "hello"},
		SessionID: "sess_00000000",
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var output RunOutput
	require.NoError(t, env.GetWorkflowResult(&output))
	require.Equal(t, 1, output.Result.Priority)

	env.AssertExpectations(t)
}

func TestRunWorkflow_PlanFails(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.OnActivity(actsRef.PlanPrompt, mock.Anything, mock.Anything).Return(
		PlanOutput{}, fmt.Errorf("pipeline_error: inject: shard unavailable"),
	)

	env.ExecuteWorkflow(RunWorkflow, defaultRunInput())

	require.True(t, env.IsWorkflowCompleted())

	err := env.GetWorkflowError()
	require.Error(t, err)
	require.Contains(t, err.Error(), "shard unavailable")

	env.AssertExpectations(t)
}

func TestRunWorkflow_RouteFails(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.OnActivity(actsRef.PlanPrompt, mock.Anything, mock.Anything).Return(samplePlan(), nil)
	env.OnActivity(actsRef.RoutePrompt, mock.Anything, mock.Anything).Return(
		RouteOutput{}, fmt.Errorf("pipeline_error: route: all adapters failed"),
	)

	env.ExecuteWorkflow(RunWorkflow, defaultRunInput())

	require.True(t, env.IsWorkflowCompleted())

	err := env.GetWorkflowError()
	require.Error(t, err)
	require.Contains(t, err.Error(), "all adapters failed")

	env.AssertExpectations(t)
}

func TestRunWorkflow_RecordFails(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.OnActivity(actsRef.PlanPrompt, mock.Anything, mock.Anything).Return(samplePlan(), nil)
	env.OnActivity(actsRef.RoutePrompt, mock.Anything, mock.Anything).Return(sampleRoute(), nil)
	env.OnActivity(actsRef.RecordRun, mock.Anything, mock.Anything).Return(
		fmt.Errorf("pipeline_error: record: database is locked"),
	)

	env.ExecuteWorkflow(RunWorkflow, defaultRunInput())

	require.True(t, env.IsWorkflowCompleted())

	err := env.GetWorkflowError()
	require.Error(t, err)
	require.Contains(t, err.Error(), "database is locked")

	env.AssertExpectations(t)
}
