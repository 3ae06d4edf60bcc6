// Package compiler translates a domain.Pipeline into an Amazon States
// Language-shaped state machine definition, mirroring
// bunsui/aws/stepfunctions/asl_generator.py state for state.
package compiler

import (
	"fmt"

	"github.com/bunsuihq/bunsui/internal/bunsuierr"
	"github.com/bunsuihq/bunsui/internal/dag"
	"github.com/bunsuihq/bunsui/internal/domain"
)

const (
	pipelineSuccess = "PipelineSuccess"
	pipelineFailure = "PipelineFailure"
)

// StateMachine is the full create-state-machine request the scheduler
// adapter needs, not just the ASL document.
type StateMachine struct {
	Name        string
	Definition  *StateMachineDefinition
	RoleARN     string
	Description string
	Tags        map[string]string
}

// Compile validates the pipeline's dependency graph and produces a
// StateMachine ready to hand to the scheduler adapter.
func Compile(pipeline *domain.Pipeline, roleARN string) (*StateMachine, error) {
	if err := dag.ValidateDependencies(pipeline.Jobs); err != nil {
		return nil, err
	}
	if cycles := dag.DetectCycles(pipeline.Jobs); len(cycles) > 0 {
		return nil, bunsuierr.New(bunsuierr.Validation, "compiler", "compile",
			fmt.Sprintf("pipeline has dependency cycles: %v", cycles))
	}
	order, err := dag.ExecutionOrder(pipeline.Jobs)
	if err != nil {
		return nil, err
	}

	states := generateStates(pipeline, order)
	def := &StateMachineDefinition{
		Comment:        fmt.Sprintf("State machine for pipeline: %s", pipeline.Name),
		StartAt:        startState(order),
		States:         states,
		TimeoutSeconds: pipeline.TimeoutSeconds,
	}

	return &StateMachine{
		Name:        fmt.Sprintf("bunsui-%s-%s", pipeline.PipelineID, pipeline.Version),
		Definition:  def,
		RoleARN:     roleARN,
		Description: fmt.Sprintf("Pipeline: %s (v%s)", pipeline.Name, pipeline.Version),
		Tags: map[string]string{
			"BunsuiPipeline":    pipeline.PipelineID,
			"BunsuiVersion":     pipeline.Version,
			"BunsuiEnvironment": "production",
		},
	}, nil
}

func startState(order []string) string {
	if len(order) == 0 {
		return pipelineSuccess
	}
	return fmt.Sprintf("Job_%s_Start", order[0])
}

func generateStates(pipeline *domain.Pipeline, order []string) map[string]State {
	states := map[string]State{}
	byID := make(map[string]*domain.Job, len(pipeline.Jobs))
	for _, j := range pipeline.Jobs {
		byID[j.JobID] = j
	}

	for i, jobID := range order {
		job := byID[jobID]
		for name, s := range generateJobStates(job) {
			states[name] = s
		}

		next := pipelineSuccess
		if i < len(order)-1 {
			next = fmt.Sprintf("Job_%s_Start", order[i+1])
		}
		endName := fmt.Sprintf("Job_%s_End", jobID)
		if s, ok := states[endName]; ok {
			s.Next = next
			states[endName] = s
		}
	}

	states[pipelineSuccess] = State{Type: stateTypeSucceed, Comment: "Pipeline completed successfully"}
	states[pipelineFailure] = State{Type: stateTypeFail, Comment: "Pipeline failed", Cause: "One or more jobs failed"}
	return states
}

func generateJobStates(job *domain.Job) map[string]State {
	states := map[string]State{}

	startName := fmt.Sprintf("Job_%s_Start", job.JobID)
	opsName := fmt.Sprintf("Job_%s_Operations", job.JobID)
	endName := fmt.Sprintf("Job_%s_End", job.JobID)

	states[startName] = State{
		Type:    stateTypePass,
		Comment: "Starting job: " + job.Name,
		Parameters: map[string]any{
			"job_id":           job.JobID,
			"job_name":         job.Name,
			"pipeline_id.$":    "$.pipeline_id",
			"session_id.$":     "$.session_id",
			"started_at.$":     "$$.State.EnteredTime",
		},
		ResultPath: "$.current_job",
		Next:       opsName,
	}

	switch len(job.Operations) {
	case 0:
		states[opsName] = State{Type: stateTypePass, Next: endName}
	case 1:
		op := job.Operations[0]
		for name, s := range generateOperationStates(job, op) {
			states[name] = s
		}
		states[opsName] = State{Type: stateTypePass, Next: fmt.Sprintf("Operation_%s", op.OperationID)}
	default:
		var branches []Branch
		for _, op := range job.Operations {
			opStates := generateOperationStates(job, op)
			for name, s := range opStates {
				states[name] = s
			}
			branchStates := map[string]State{}
			prefix := fmt.Sprintf("Operation_%s", op.OperationID)
			for name, s := range opStates {
				if name == prefix {
					branchStates[name] = s
				}
			}
			branches = append(branches, Branch{StartAt: prefix, States: branchStates})
		}
		states[opsName] = State{
			Type:    "Parallel",
			Comment: "Execute operations for job: " + job.Name,
			Branches: branches,
			Next:    endName,
			Catch: []CatchRule{
				{ErrorEquals: []string{"States.ALL"}, Next: pipelineFailure, ResultPath: "$.error"},
			},
		}
	}

	states[endName] = State{
		Type:    stateTypePass,
		Comment: "Completed job: " + job.Name,
		Parameters: map[string]any{
			"job_id":          job.JobID,
			"status":          "completed",
			"completed_at.$":  "$$.State.EnteredTime",
		},
		ResultPath: "$.job_result",
	}

	return states
}

func generateOperationStates(job *domain.Job, op domain.Operation) map[string]State {
	name := fmt.Sprintf("Operation_%s", op.OperationID)
	var s State
	switch op.Type {
	case domain.OperationLambda:
		s = generateLambdaState(job, op)
	case domain.OperationECS:
		s = generateECSState(job, op)
	default:
		s = generateGenericState(job, op)
	}

	s.Retry = []RetryRule{
		{
			ErrorEquals:     []string{"Lambda.ServiceException", "Lambda.AWSLambdaException", "Lambda.SdkClientException"},
			IntervalSeconds: op.Config.RetryDelaySeconds,
			MaxAttempts:     op.Config.RetryCount,
			BackoffRate:     2.0,
		},
	}
	s.Catch = []CatchRule{
		{ErrorEquals: []string{"States.ALL"}, Next: pipelineFailure, ResultPath: "$.error"},
	}

	return map[string]State{name: s}
}

func generateLambdaState(job *domain.Job, op domain.Operation) State {
	return State{
		Type:     stateTypeTask,
		Resource: "arn:aws:states:::lambda:invoke",
		Comment:  "Execute Lambda operation: " + op.Name,
		Parameters: map[string]any{
			"FunctionName": op.ResourceARN,
			"Payload": map[string]any{
				"job_id":        job.JobID,
				"operation_id":  op.OperationID,
				"pipeline_id.$": "$.pipeline_id",
				"session_id.$":  "$.session_id",
				"input.$":       "$",
				"parameters":    op.Config.Parameters,
				"environment":   op.Config.EnvironmentVariables,
			},
		},
		ResultPath:     fmt.Sprintf("$.operation_results.%s", op.OperationID),
		TimeoutSeconds: op.Config.TimeoutSeconds,
		Next:           fmt.Sprintf("Job_%s_End", job.JobID),
	}
}

func generateECSState(job *domain.Job, op domain.Operation) State {
	cluster := op.Cluster
	if cluster == "" {
		cluster = "default"
	}
	containerName := "default"
	var subnets, securityGroups []string
	if v, ok := op.Config.Parameters["container_name"].(string); ok {
		containerName = v
	}
	if v, ok := op.Config.Parameters["subnets"].([]string); ok {
		subnets = v
	}
	if v, ok := op.Config.Parameters["security_groups"].([]string); ok {
		securityGroups = v
	}

	var env []map[string]string
	for k, v := range op.Config.EnvironmentVariables {
		env = append(env, map[string]string{"Name": k, "Value": v})
	}

	return State{
		Type:     stateTypeTask,
		Resource: ecsResource,
		Comment:  "Execute ECS operation: " + op.Name,
		Parameters: map[string]any{
			"TaskDefinition": op.ResourceARN,
			"Cluster":        cluster,
			"LaunchType":     "FARGATE",
			"NetworkConfiguration": map[string]any{
				"AwsvpcConfiguration": map[string]any{
					"AssignPublicIp": "ENABLED",
					"Subnets":        subnets,
					"SecurityGroups": securityGroups,
				},
			},
			"Overrides": map[string]any{
				"ContainerOverrides": []map[string]any{
					{"Name": containerName, "Environment": env},
				},
			},
		},
		ResultPath:     fmt.Sprintf("$.operation_results.%s", op.OperationID),
		TimeoutSeconds: op.Config.TimeoutSeconds,
		Next:           fmt.Sprintf("Job_%s_End", job.JobID),
	}
}

func generateGenericState(job *domain.Job, op domain.Operation) State {
	return State{
		Type:    stateTypePass,
		Comment: fmt.Sprintf("Placeholder for operation: %s (type: %s)", op.Name, op.Type),
		Parameters: map[string]any{
			"operation_id":   op.OperationID,
			"operation_type": string(op.Type),
			"status":         "skipped",
			"message":        "operation type not implemented",
		},
		ResultPath: fmt.Sprintf("$.operation_results.%s", op.OperationID),
		Next:       fmt.Sprintf("Job_%s_End", job.JobID),
	}
}

// BuildExecutionInput produces the input document passed to StartExecution,
// matching generate_execution_input.
func BuildExecutionInput(pipeline *domain.Pipeline, sessionID string, parameters map[string]any) map[string]any {
	if parameters == nil {
		parameters = map[string]any{}
	}
	return map[string]any{
		"pipeline_id":      pipeline.PipelineID,
		"pipeline_name":    pipeline.Name,
		"pipeline_version": pipeline.Version,
		"session_id":       sessionID,
		"parameters":       parameters,
		"operation_results": map[string]any{},
		"job_results":       map[string]any{},
	}
}

// Validate checks the structural invariants validate_state_machine_definition
// checks: StartAt must name an existing state, and every Next must name an
// existing state.
func Validate(def *StateMachineDefinition) bool {
	if def == nil || def.StartAt == "" || def.States == nil {
		return false
	}
	if _, ok := def.States[def.StartAt]; !ok {
		return false
	}
	for _, s := range def.States {
		if s.Next != "" {
			if _, ok := def.States[s.Next]; !ok {
				return false
			}
		}
	}
	return true
}

// Optimize drops Pass states that carry no Parameters (pure passthroughs),
// matching optimize_state_machine. It does not rewrite Next pointers that
// targeted a removed state — same simplification the original notes as
// incomplete.
func Optimize(def *StateMachineDefinition) *StateMachineDefinition {
	optimized := map[string]State{}
	for name, s := range def.States {
		if s.Type == stateTypePass && s.Parameters == nil {
			continue
		}
		optimized[name] = s
	}
	out := *def
	out.States = optimized
	return &out
}
