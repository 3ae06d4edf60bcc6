// Package scheduler defines the adapter interface used to reconcile a
// compiled state-machine definition against AWS Step Functions and drive
// pipeline executions, plus its AWS implementation.
package scheduler

import (
	"context"
	"time"

	"github.com/bunsuihq/bunsui/internal/compiler"
)

// ExecutionStatus mirrors the Step Functions execution status values this
// adapter understands.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionAborted   ExecutionStatus = "ABORTED"
	ExecutionTimedOut  ExecutionStatus = "TIMED_OUT"
)

func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionSucceeded, ExecutionFailed, ExecutionAborted, ExecutionTimedOut:
		return true
	default:
		return false
	}
}

// Execution describes the state of a single Step Functions execution.
type Execution struct {
	ExecutionARN string
	Name         string
	Status       ExecutionStatus
	StartDate    time.Time
	StopDate     *time.Time
	Cause        string
	Error        string
}

// ExecutionEvent is a single entry from an execution's history, used to
// derive job-completion counts for progress reporting. OperationID is the
// operation a TaskState* event belongs to (recovered from the "Operation_"
// prefixed state name the compiler assigns), empty for events that don't
// correspond to an operation state.
type ExecutionEvent struct {
	Type        string
	Timestamp   time.Time
	StateName   string
	OperationID string
}

// ExecutionSummary aggregates executions for a pipeline's state machine.
type ExecutionSummary struct {
	Total     int
	Running   int
	Succeeded int
	Failed    int
}

// Scheduler is the execution-engine contract every consumer of this package
// depends on; satisfied by *StepFunctionsScheduler.
type Scheduler interface {
	// EnsureStateMachine reconciles def against the state machine named in
	// sm, creating it if absent and updating it in place when the
	// definition has drifted; falls back to a timestamp-suffixed name if
	// the in-place update is rejected.
	EnsureStateMachine(ctx context.Context, sm *compiler.StateMachine) (stateMachineARN string, err error)

	StartExecution(ctx context.Context, stateMachineARN, name string, input map[string]any) (executionARN string, err error)
	DescribeExecution(ctx context.Context, executionARN string) (*Execution, error)
	StopExecution(ctx context.Context, executionARN, cause string) error
	GetExecutionHistory(ctx context.Context, executionARN string) ([]ExecutionEvent, error)

	ListExecutions(ctx context.Context, stateMachineARN string) ([]Execution, error)
	ExecutionSummary(ctx context.Context, stateMachineARN string) (ExecutionSummary, error)
}

// CountCompletedJobs counts job-completion and job-failure events the way
// the session manager does when reconciling progress: a TaskStateExited
// event whose state name ends in "_End" marks one job complete, a
// TaskStateFailed event marks one job failed. TaskStateFailed events are
// deduplicated by OperationID, since Step Functions retries of the same
// task emit one TaskStateFailed per attempt, and the failed count is
// capped at totalJobs so a flapping task can never push it past the
// number of jobs the session actually has.
func CountCompletedJobs(events []ExecutionEvent, totalJobs int) (completed, failed int) {
	failedOps := make(map[string]bool)
	for _, e := range events {
		switch e.Type {
		case "TaskStateExited":
			if len(e.StateName) >= 4 && e.StateName[len(e.StateName)-4:] == "_End" {
				completed++
			}
		case "TaskStateFailed":
			if e.OperationID != "" {
				failedOps[e.OperationID] = true
			} else {
				failed++
			}
		}
	}
	failed += len(failedOps)
	if failed > totalJobs {
		failed = totalJobs
	}
	return completed, failed
}

// Summarize builds an ExecutionSummary from a raw execution list, the way
// list_executions_for_pipeline's summary block does.
func Summarize(executions []Execution) ExecutionSummary {
	summary := ExecutionSummary{}
	for _, e := range executions {
		summary.Total++
		switch e.Status {
		case ExecutionRunning:
			summary.Running++
		case ExecutionSucceeded:
			summary.Succeeded++
		case ExecutionFailed, ExecutionAborted, ExecutionTimedOut:
			summary.Failed++
		}
	}
	return summary
}
