package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sfn"

	"github.com/bunsuihq/bunsui/internal/bunsuierr"
	"github.com/bunsuihq/bunsui/internal/compiler"
	"github.com/bunsuihq/bunsui/internal/config"
	"github.com/bunsuihq/bunsui/internal/obs"
	"github.com/bunsuihq/bunsui/internal/retry"
)

// StepFunctionsScheduler is the AWS Step Functions implementation of
// Scheduler.
type StepFunctionsScheduler struct {
	client  *sfn.SFN
	backoff retry.BackoffPolicy
	breaker *retry.CircuitBreaker
}

func NewStepFunctionsScheduler(cfg *config.Config) (*StepFunctionsScheduler, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Region)})
	if err != nil {
		return nil, bunsuierr.Wrap(bunsuierr.Configuration, "scheduler", "new_session", err)
	}
	return &StepFunctionsScheduler{
		client:  sfn.New(sess),
		backoff: retry.DefaultBackoffPolicy(),
		breaker: retry.NewCircuitBreaker("scheduler", cfg.CircuitBreaker),
	}, nil
}

func (s *StepFunctionsScheduler) call(ctx context.Context, operation string, fn func(attempt int) error) error {
	_, span := obs.StartAdapterSpan(ctx, "scheduler", operation)
	defer span.End()
	start := time.Now()
	err := s.breaker.Call(func() error {
		return s.backoff.Do(ctx, func(attempt int) error {
			if attempt > 0 {
				obs.AdapterRetries.WithLabelValues("scheduler", operation).Inc()
			}
			return fn(attempt)
		})
	})
	obs.AdapterLatency.WithLabelValues("scheduler", operation).Observe(time.Since(start).Seconds())
	if err != nil {
		obs.RecordError(ctx, err)
		return err
	}
	obs.SetSpanSuccess(ctx)
	return nil
}

// EnsureStateMachine looks for a state machine named sm.Name; if found and
// its definition has drifted, it updates in place, falling back to a
// timestamp-suffixed name on update failure (mirroring
// _update_state_machine_if_needed's recovery path). If not found, it
// creates a new one.
func (s *StepFunctionsScheduler) EnsureStateMachine(ctx context.Context, sm *compiler.StateMachine) (string, error) {
	defJSON, err := json.Marshal(sm.Definition)
	if err != nil {
		return "", bunsuierr.Wrap(bunsuierr.Validation, "scheduler", "ensure_state_machine", err)
	}

	var arn string
	err = s.call(ctx, "ensure_state_machine", func(int) error {
		existingARN, existingDef, found, err := s.findStateMachine(ctx, sm.Name)
		if err != nil {
			return err
		}
		if !found {
			created, err := s.createStateMachine(ctx, sm.Name, string(defJSON), sm)
			if err != nil {
				return err
			}
			arn = created
			return nil
		}
		equal, err := definitionsEqual(existingDef, string(defJSON))
		if err != nil {
			return err
		}
		if equal {
			arn = existingARN
			return nil
		}
		if err := s.updateStateMachine(ctx, existingARN, string(defJSON), sm); err != nil {
			fallbackName := fmt.Sprintf("%s-v%d", sm.Name, time.Now().Unix())
			created, err2 := s.createStateMachine(ctx, fallbackName, string(defJSON), sm)
			if err2 != nil {
				return err2
			}
			arn = created
			return nil
		}
		arn = existingARN
		return nil
	})
	return arn, err
}

func (s *StepFunctionsScheduler) findStateMachine(ctx context.Context, name string) (arn, definition string, found bool, err error) {
	var nextToken *string
	for {
		resp, apiErr := s.client.ListStateMachinesWithContext(ctx, &sfn.ListStateMachinesInput{NextToken: nextToken})
		if apiErr != nil {
			return "", "", false, translateErr("scheduler", "list_state_machines", apiErr)
		}
		for _, m := range resp.StateMachines {
			if aws.StringValue(m.Name) == name {
				desc, descErr := s.client.DescribeStateMachineWithContext(ctx, &sfn.DescribeStateMachineInput{
					StateMachineArn: m.StateMachineArn,
				})
				if descErr != nil {
					return "", "", false, translateErr("scheduler", "describe_state_machine", descErr)
				}
				return aws.StringValue(m.StateMachineArn), aws.StringValue(desc.Definition), true, nil
			}
		}
		if resp.NextToken == nil {
			return "", "", false, nil
		}
		nextToken = resp.NextToken
	}
}

func (s *StepFunctionsScheduler) createStateMachine(ctx context.Context, name, definition string, sm *compiler.StateMachine) (string, error) {
	tags := make([]*sfn.Tag, 0, len(sm.Tags))
	for k, v := range sm.Tags {
		tags = append(tags, &sfn.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	resp, err := s.client.CreateStateMachineWithContext(ctx, &sfn.CreateStateMachineInput{
		Name:       aws.String(name),
		Definition: aws.String(definition),
		RoleArn:    aws.String(sm.RoleARN),
		Tags:       tags,
	})
	if err != nil {
		return "", translateErr("scheduler", "create_state_machine", err)
	}
	return aws.StringValue(resp.StateMachineArn), nil
}

func (s *StepFunctionsScheduler) updateStateMachine(ctx context.Context, arn, definition string, sm *compiler.StateMachine) error {
	_, err := s.client.UpdateStateMachineWithContext(ctx, &sfn.UpdateStateMachineInput{
		StateMachineArn: aws.String(arn),
		Definition:      aws.String(definition),
		RoleArn:         aws.String(sm.RoleARN),
	})
	return translateErr("scheduler", "update_state_machine", err)
}

func (s *StepFunctionsScheduler) StartExecution(ctx context.Context, stateMachineARN, name string, input map[string]any) (string, error) {
	var arn string
	err := s.call(ctx, "start_execution", func(int) error {
		body, err := json.Marshal(input)
		if err != nil {
			return bunsuierr.Wrap(bunsuierr.Validation, "scheduler", "start_execution", err)
		}
		resp, err := s.client.StartExecutionWithContext(ctx, &sfn.StartExecutionInput{
			StateMachineArn: aws.String(stateMachineARN),
			Name:            aws.String(name),
			Input:           aws.String(string(body)),
		})
		if err != nil {
			return translateErr("scheduler", "start_execution", err)
		}
		arn = aws.StringValue(resp.ExecutionArn)
		return nil
	})
	return arn, err
}

func (s *StepFunctionsScheduler) DescribeExecution(ctx context.Context, executionARN string) (*Execution, error) {
	var out *Execution
	err := s.call(ctx, "describe_execution", func(int) error {
		resp, err := s.client.DescribeExecutionWithContext(ctx, &sfn.DescribeExecutionInput{
			ExecutionArn: aws.String(executionARN),
		})
		if err != nil {
			return translateErr("scheduler", "describe_execution", err)
		}
		exec := &Execution{
			ExecutionARN: executionARN,
			Name:         aws.StringValue(resp.Name),
			Status:       ExecutionStatus(aws.StringValue(resp.Status)),
			Cause:        aws.StringValue(resp.Cause),
			Error:        aws.StringValue(resp.Error),
		}
		if resp.StartDate != nil {
			exec.StartDate = *resp.StartDate
		}
		if resp.StopDate != nil {
			exec.StopDate = resp.StopDate
		}
		out = exec
		return nil
	})
	return out, err
}

func (s *StepFunctionsScheduler) StopExecution(ctx context.Context, executionARN, cause string) error {
	return s.call(ctx, "stop_execution", func(int) error {
		_, err := s.client.StopExecutionWithContext(ctx, &sfn.StopExecutionInput{
			ExecutionArn: aws.String(executionARN),
			Cause:        aws.String(cause),
		})
		return translateErr("scheduler", "stop_execution", err)
	})
}

func (s *StepFunctionsScheduler) GetExecutionHistory(ctx context.Context, executionARN string) ([]ExecutionEvent, error) {
	var events []ExecutionEvent
	err := s.call(ctx, "get_execution_history", func(int) error {
		var nextToken *string
		for {
			resp, err := s.client.GetExecutionHistoryWithContext(ctx, &sfn.GetExecutionHistoryInput{
				ExecutionArn: aws.String(executionARN),
				NextToken:    nextToken,
			})
			if err != nil {
				return translateErr("scheduler", "get_execution_history", err)
			}
			for _, e := range resp.Events {
				ev := ExecutionEvent{Type: aws.StringValue(e.Type)}
				if e.Timestamp != nil {
					ev.Timestamp = *e.Timestamp
				}
				if e.StateExitedEventDetails != nil {
					ev.StateName = aws.StringValue(e.StateExitedEventDetails.Name)
				} else if e.StateEnteredEventDetails != nil {
					ev.StateName = aws.StringValue(e.StateEnteredEventDetails.Name)
				}
				ev.OperationID = operationIDFromStateName(ev.StateName)
				events = append(events, ev)
			}
			if resp.NextToken == nil {
				return nil
			}
			nextToken = resp.NextToken
		}
	})
	return events, err
}

func (s *StepFunctionsScheduler) ListExecutions(ctx context.Context, stateMachineARN string) ([]Execution, error) {
	var out []Execution
	err := s.call(ctx, "list_executions", func(int) error {
		var nextToken *string
		for {
			resp, err := s.client.ListExecutionsWithContext(ctx, &sfn.ListExecutionsInput{
				StateMachineArn: aws.String(stateMachineARN),
				NextToken:       nextToken,
			})
			if err != nil {
				return translateErr("scheduler", "list_executions", err)
			}
			for _, e := range resp.Executions {
				exec := Execution{
					ExecutionARN: aws.StringValue(e.ExecutionArn),
					Name:         aws.StringValue(e.Name),
					Status:       ExecutionStatus(aws.StringValue(e.Status)),
				}
				if e.StartDate != nil {
					exec.StartDate = *e.StartDate
				}
				if e.StopDate != nil {
					exec.StopDate = e.StopDate
				}
				out = append(out, exec)
			}
			if resp.NextToken == nil {
				return nil
			}
			nextToken = resp.NextToken
		}
	})
	return out, err
}

func (s *StepFunctionsScheduler) ExecutionSummary(ctx context.Context, stateMachineARN string) (ExecutionSummary, error) {
	execs, err := s.ListExecutions(ctx, stateMachineARN)
	if err != nil {
		return ExecutionSummary{}, err
	}
	return Summarize(execs), nil
}

// operationStatePrefix is the prefix the compiler gives every operation
// state (see compiler.generateOperationStates); recovering the operation id
// from a history event's state name lets CountCompletedJobs dedup
// TaskStateFailed retries by operation instead of counting each attempt.
const operationStatePrefix = "Operation_"

func operationIDFromStateName(name string) string {
	if !strings.HasPrefix(name, operationStatePrefix) {
		return ""
	}
	return strings.TrimPrefix(name, operationStatePrefix)
}

// definitionsEqual compares two ASL documents structurally rather than
// byte-for-byte: DescribeStateMachine hands back a definition it has
// re-serialized itself, with no guarantee of preserving our key order, so a
// literal string comparison reports drift on every reconcile even when
// nothing actually changed.
func definitionsEqual(a, b string) (bool, error) {
	var av, bv any
	if err := json.Unmarshal([]byte(a), &av); err != nil {
		return false, bunsuierr.Wrap(bunsuierr.Validation, "scheduler", "ensure_state_machine", err)
	}
	if err := json.Unmarshal([]byte(b), &bv); err != nil {
		return false, bunsuierr.Wrap(bunsuierr.Validation, "scheduler", "ensure_state_machine", err)
	}
	return reflect.DeepEqual(av, bv), nil
}

func translateErr(service, operation string, err error) error {
	if err == nil {
		return nil
	}
	aerr, ok := err.(awserr.Error)
	if !ok {
		return bunsuierr.Wrap(bunsuierr.ServiceUnavailable, service, operation, err)
	}
	switch aerr.Code() {
	case sfn.ErrCodeStateMachineDoesNotExist, sfn.ErrCodeExecutionDoesNotExist:
		return bunsuierr.Wrap(bunsuierr.ResourceNotFound, service, operation, err)
	case sfn.ErrCodeStateMachineAlreadyExists, sfn.ErrCodeInvalidDefinition, sfn.ErrCodeInvalidArn, sfn.ErrCodeInvalidName:
		return bunsuierr.Wrap(bunsuierr.Validation, service, operation, err)
	case sfn.ErrCodeTooManyRequests:
		return bunsuierr.Wrap(bunsuierr.Throttling, service, operation, err)
	default:
		return bunsuierr.Wrap(bunsuierr.ServiceUnavailable, service, operation, err)
	}
}
