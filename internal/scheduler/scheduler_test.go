package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountCompletedJobs(t *testing.T) {
	events := []ExecutionEvent{
		{Type: "TaskStateExited", StateName: "Job_extract_End"},
		{Type: "TaskStateExited", StateName: "Operation_op-extract"},
		{Type: "TaskStateFailed", StateName: "Operation_op-load", OperationID: "op-load"},
		{Type: "TaskStateExited", StateName: "Job_load_End"},
	}
	completed, failed := CountCompletedJobs(events, 2)
	assert.Equal(t, 2, completed)
	assert.Equal(t, 1, failed)
}

func TestCountCompletedJobsDedupesFailuresByOperationID(t *testing.T) {
	events := []ExecutionEvent{
		{Type: "TaskStateFailed", StateName: "Operation_op-load", OperationID: "op-load"},
		{Type: "TaskStateFailed", StateName: "Operation_op-load", OperationID: "op-load"},
		{Type: "TaskStateFailed", StateName: "Operation_op-load", OperationID: "op-load"},
	}
	_, failed := CountCompletedJobs(events, 5)
	assert.Equal(t, 1, failed, "retries of the same operation should count once")
}

func TestCountCompletedJobsCapsFailedAtTotalJobs(t *testing.T) {
	events := []ExecutionEvent{
		{Type: "TaskStateFailed", StateName: "Operation_op-a", OperationID: "op-a"},
		{Type: "TaskStateFailed", StateName: "Operation_op-b", OperationID: "op-b"},
		{Type: "TaskStateFailed", StateName: "Operation_op-c", OperationID: "op-c"},
	}
	_, failed := CountCompletedJobs(events, 2)
	assert.Equal(t, 2, failed)
}

func TestSummarize(t *testing.T) {
	execs := []Execution{
		{Status: ExecutionRunning},
		{Status: ExecutionSucceeded},
		{Status: ExecutionFailed},
		{Status: ExecutionAborted},
		{Status: ExecutionTimedOut},
	}
	summary := Summarize(execs)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 1, summary.Running)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 3, summary.Failed)
}

func TestExecutionStatusTerminal(t *testing.T) {
	assert.True(t, ExecutionSucceeded.Terminal())
	assert.True(t, ExecutionFailed.Terminal())
	assert.False(t, ExecutionRunning.Terminal())
}

func TestDefinitionsEqualIgnoresKeyOrder(t *testing.T) {
	a := `{"StartAt":"A","States":{"A":{"Type":"Pass","End":true}}}`
	b := `{"States":{"A":{"End":true,"Type":"Pass"}},"StartAt":"A"}`
	equal, err := definitionsEqual(a, b)
	assert.NoError(t, err)
	assert.True(t, equal, "reordered keys should still compare equal")
}

func TestDefinitionsEqualDetectsRealDrift(t *testing.T) {
	a := `{"StartAt":"A","States":{"A":{"Type":"Pass","End":true}}}`
	b := `{"StartAt":"A","States":{"A":{"Type":"Pass","End":false}}}`
	equal, err := definitionsEqual(a, b)
	assert.NoError(t, err)
	assert.False(t, equal)
}

func TestOperationIDFromStateName(t *testing.T) {
	assert.Equal(t, "op-extract", operationIDFromStateName("Operation_op-extract"))
	assert.Equal(t, "", operationIDFromStateName("Job_extract_End"))
}
