// Package session implements the Manager that owns a Session's lifecycle:
// creation, status transitions, checkpointing, progress tracking, and
// driving a pipeline through the scheduler adapter to completion. It
// mirrors bunsui.core.session.manager.SessionManager.
package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bunsuihq/bunsui/internal/bunsuierr"
	"github.com/bunsuihq/bunsui/internal/compiler"
	"github.com/bunsuihq/bunsui/internal/domain"
	"github.com/bunsuihq/bunsui/internal/obs"
	"github.com/bunsuihq/bunsui/internal/scheduler"
	"github.com/bunsuihq/bunsui/internal/store/tabular"
)

// StatusCallback is invoked after every successful status transition. A
// callback that panics is recovered and logged, not propagated, matching
// _trigger_status_callbacks swallowing callback exceptions.
type StatusCallback func(ctx context.Context, s *domain.Session, from, to domain.SessionStatus)

// Manager owns session persistence and lifecycle transitions, and drives a
// session's pipeline execution through a scheduler adapter.
type Manager struct {
	store     tabular.Store
	scheduler scheduler.Scheduler
	logger    *zap.Logger

	callbacks []StatusCallback
}

func NewManager(store tabular.Store, sched scheduler.Scheduler, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, scheduler: sched, logger: logger}
}

// RegisterStatusCallback adds a callback invoked on every status
// transition this manager performs. Callbacks are best-effort: a panic is
// recovered and logged, never propagated to the caller driving the
// transition.
func (m *Manager) RegisterStatusCallback(cb StatusCallback) {
	m.callbacks = append(m.callbacks, cb)
}

func (m *Manager) triggerCallbacks(ctx context.Context, s *domain.Session, from, to domain.SessionStatus) {
	for _, cb := range m.callbacks {
		m.safeCallback(ctx, cb, s, from, to)
	}
}

func (m *Manager) safeCallback(ctx context.Context, cb StatusCallback, s *domain.Session, from, to domain.SessionStatus) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("status callback panicked", zap.Any("recovered", r), zap.String("session_id", s.SessionID))
		}
	}()
	cb(ctx, s, from, to)
}

// CreateSession validates its inputs, always generates a new session ID (a
// caller-supplied ID is not accepted), and persists a freshly created Session. Mirrors SessionManager.create_session.
func (m *Manager) CreateSession(ctx context.Context, pipelineID, pipelineName, userID string, totalJobs int, configuration map[string]any, tags map[string]string) (*domain.Session, error) {
	if pipelineID == "" {
		return nil, bunsuierr.New(bunsuierr.Validation, "session", "create_session", "pipeline_id must be set")
	}
	if totalJobs < 1 {
		return nil, bunsuierr.New(bunsuierr.Validation, "session", "create_session", "total_jobs must be >= 1")
	}

	s := domain.NewSession(domain.NewSessionID(), pipelineID, pipelineName, userID, configuration, tags)
	s.TotalJobs = totalJobs

	if err := m.store.PutSession(ctx, s); err != nil {
		return nil, err
	}
	m.logger.Info("session created", zap.String("session_id", s.SessionID), zap.String("pipeline_id", pipelineID))
	return s, nil
}

func (m *Manager) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.store.GetSession(ctx, sessionID)
}

func (m *Manager) ListSessions(ctx context.Context, filter tabular.SessionFilter) ([]*domain.Session, error) {
	return m.store.ListSessions(ctx, filter)
}

// DeleteSession refuses to delete a session that is still running, the
// way delete_session does.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.Status.IsRunning() {
		return bunsuierr.New(bunsuierr.Validation, "session", "delete_session", "cannot delete a running session")
	}
	return m.store.DeleteSession(ctx, sessionID)
}

func (m *Manager) transition(ctx context.Context, s *domain.Session, to domain.SessionStatus, message string) error {
	from := s.Status
	if err := s.TransitionTo(to, message); err != nil {
		return err
	}
	// TransitionTo checkpoints Completed, Failed and Cancelled itself; other
	// transitions that carry a message get their milestone here.
	if message != "" && to != domain.SessionCompleted && to != domain.SessionFailed && to != domain.SessionCancelled {
		s.AddCheckpoint(domain.CheckpointMilestone, "session", map[string]any{
			"status":  string(to),
			"message": message,
		}, "", message)
	}
	if err := m.store.PutSession(ctx, s); err != nil {
		return err
	}
	obs.SessionTransitions.WithLabelValues(string(from), string(to)).Inc()
	if len(s.Checkpoints) > 0 {
		if latest, ok := s.LatestCheckpoint(); ok && latest.Type == domain.CheckpointMilestone {
			obs.CheckpointsWritten.Inc()
		}
	}
	m.triggerCallbacks(ctx, s, from, to)
	return nil
}

// StartSession moves a session from Created to Running, passing through
// Queued, and records a "Session started" milestone. Mirrors
// SessionManager.start_session's double transition when starting fresh.
func (m *Manager) StartSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	ctx, span := obs.StartSessionSpan(ctx, "start", sessionID, "")
	defer span.End()

	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		obs.EndSessionSpan(span, "", err)
		return nil, err
	}

	if s.Status == domain.SessionCreated {
		if err := m.transition(ctx, s, domain.SessionQueued, ""); err != nil {
			obs.EndSessionSpan(span, string(s.Status), err)
			return nil, err
		}
	}
	if err := m.transition(ctx, s, domain.SessionRunning, "Session started"); err != nil {
		obs.EndSessionSpan(span, string(s.Status), err)
		return nil, err
	}
	obs.EndSessionSpan(span, string(s.Status), nil)
	return s, nil
}

// UpdateProgress validates 0 <= currentStep <= TotalJobs and records a
// milestone checkpoint only when progress actually advanced, matching
// update_progress.
func (m *Manager) UpdateProgress(ctx context.Context, sessionID string, currentStep, failedStep int) (*domain.Session, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if currentStep < 0 || currentStep > s.TotalJobs {
		return nil, bunsuierr.New(bunsuierr.Validation, "session", "update_progress",
			fmt.Sprintf("current_step %d out of range [0, %d]", currentStep, s.TotalJobs))
	}

	advanced := currentStep > s.CompletedJobs
	s.UpdateProgress(currentStep, failedStep)
	if advanced {
		s.AddCheckpoint(domain.CheckpointMilestone, "", map[string]any{
			"completed_jobs": currentStep,
			"failed_jobs":    failedStep,
		}, "", fmt.Sprintf("progress: %d/%d jobs complete", currentStep, s.TotalJobs))
		obs.CheckpointsWritten.Inc()
	}
	if err := m.store.PutSession(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// CompleteSession validates the session is Running or Paused, transitions
// it to Completed on success or Failed on failure, and always appends a
// final milestone checkpoint carrying the outcome and total runtime.
// Mirrors complete_session.
func (m *Manager) CompleteSession(ctx context.Context, sessionID string, success bool, errorMessage, errorCode string) (*domain.Session, error) {
	ctx, span := obs.StartSessionSpan(ctx, "complete", sessionID, "")
	defer span.End()

	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		obs.EndSessionSpan(span, "", err)
		return nil, err
	}
	if s.Status != domain.SessionRunning && s.Status != domain.SessionPaused {
		err := bunsuierr.New(bunsuierr.Session, "session", "complete_session",
			fmt.Sprintf("cannot complete a session in status %q", s.Status))
		obs.EndSessionSpan(span, string(s.Status), err)
		return nil, err
	}

	to := domain.SessionCompleted
	if !success {
		to = domain.SessionFailed
		s.ErrorMessage = errorMessage
		s.ErrorCode = errorCode
	}

	from := s.Status
	if err := s.TransitionTo(to, ""); err != nil {
		obs.EndSessionSpan(span, string(from), err)
		return nil, err
	}
	s.AddCheckpoint(domain.CheckpointMilestone, "", map[string]any{
		"success":         success,
		"error_message":   errorMessage,
		"total_runtime_s": s.Duration().Seconds(),
	}, "", "session completed")
	obs.CheckpointsWritten.Inc()

	if err := m.store.PutSession(ctx, s); err != nil {
		obs.EndSessionSpan(span, string(s.Status), err)
		return nil, err
	}
	obs.SessionTransitions.WithLabelValues(string(from), string(to)).Inc()
	m.triggerCallbacks(ctx, s, from, to)
	obs.EndSessionSpan(span, string(s.Status), nil)
	return s, nil
}

// PauseSession, ResumeSession, and CancelSession each validate the
// session's current status before transitioning, add a milestone
// checkpoint, and trigger status callbacks.
func (m *Manager) PauseSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := m.transition(ctx, s, domain.SessionPaused, "session paused"); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) ResumeSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := m.transition(ctx, s, domain.SessionRunning, "session resumed"); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) CancelSession(ctx context.Context, sessionID, reason string) (*domain.Session, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msg := reason
	if msg == "" {
		msg = "session cancelled"
	}
	if err := m.transition(ctx, s, domain.SessionCancelled, msg); err != nil {
		return nil, err
	}
	if s.ExecutionARN != "" {
		if err := m.scheduler.StopExecution(ctx, s.ExecutionARN, msg); err != nil {
			m.logger.Warn("failed to stop execution on cancel",
				zap.String("session_id", sessionID), zap.String("execution_arn", s.ExecutionARN), zap.Error(err))
		}
	}
	return s, nil
}

// RetryExecution mirrors pipeline_executor.retry_failed_execution: a session
// left in Failed or Timeout (the two statuses the transition table lets
// re-enter Queued) can be retried up to MaxRetries times. It increments
// RetryCount, fails with a Session-kind error once that exceeds MaxRetries
// (leaving RetryCount at its prior value), otherwise clears the execution
// identifiers and error fields, transitions Queued then Running the same
// way StartSession resumes a non-fresh session, and re-invokes Execute.
func (m *Manager) RetryExecution(ctx context.Context, sessionID string, pipeline *domain.Pipeline, roleARN string) (*domain.Session, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != domain.SessionFailed && s.Status != domain.SessionTimeout {
		return nil, bunsuierr.New(bunsuierr.Session, "session", "retry_execution",
			fmt.Sprintf("cannot retry a session in status %q", s.Status))
	}

	nextRetryCount := s.RetryCount + 1
	if nextRetryCount > s.MaxRetries {
		return nil, bunsuierr.New(bunsuierr.Session, "session", "retry_execution", "Maximum retry count exceeded")
	}
	s.RetryCount = nextRetryCount

	s.ExecutionARN = ""
	s.ExecutionName = ""
	s.ErrorMessage = ""
	s.ErrorCode = ""
	s.StartedAt = nil
	s.CompletedAt = nil

	if err := m.transition(ctx, s, domain.SessionQueued, "retrying failed execution"); err != nil {
		return nil, err
	}
	if err := m.transition(ctx, s, domain.SessionRunning, "retrying failed execution"); err != nil {
		return nil, err
	}

	if err := m.Execute(ctx, s, pipeline, roleARN); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) GetSessionCheckpoints(ctx context.Context, sessionID string) ([]domain.Checkpoint, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.Checkpoints, nil
}

// AddCheckpoint appends an arbitrary checkpoint to a session, for callers
// (e.g. job executors) that want to record progress outside the
// transition-driven milestones above. Mirrors add_checkpoint.
func (m *Manager) AddCheckpoint(ctx context.Context, sessionID string, typ domain.CheckpointType, jobID string, stateData map[string]any, operationID, message string) (domain.Checkpoint, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Checkpoint{}, err
	}
	cp := s.AddCheckpoint(typ, jobID, stateData, operationID, message)
	if err := m.store.PutSession(ctx, s); err != nil {
		return domain.Checkpoint{}, err
	}
	obs.CheckpointsWritten.Inc()
	return cp, nil
}

// Statistics is the supplemented get_session_statistics response: a
// progress snapshot plus either elapsed or total runtime depending on
// whether the session has finished.
type Statistics struct {
	SessionID            string
	PipelineID           string
	Status               domain.SessionStatus
	TotalJobs            int
	CompletedJobs        int
	FailedJobs           int
	CompletionPercentage float64
	CheckpointsCount     int
	Configuration        map[string]any
	StartTime            *time.Time
	EndTime              *time.Time
	RuntimeSeconds       float64
	RuntimeIsFinal       bool
}

func (m *Manager) GetSessionStatistics(ctx context.Context, sessionID string) (Statistics, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return Statistics{}, err
	}
	stats := Statistics{
		SessionID:            s.SessionID,
		PipelineID:           s.PipelineID,
		Status:               s.Status,
		TotalJobs:            s.TotalJobs,
		CompletedJobs:        s.CompletedJobs,
		FailedJobs:           s.FailedJobs,
		CompletionPercentage: s.ProgressPercentage(),
		CheckpointsCount:     len(s.Checkpoints),
		Configuration:        s.Configuration,
		StartTime:            s.StartedAt,
		EndTime:              s.CompletedAt,
	}
	if s.StartedAt != nil {
		stats.RuntimeSeconds = s.Duration().Seconds()
		stats.RuntimeIsFinal = s.CompletedAt != nil
	}
	return stats, nil
}

// Execute compiles pipeline into a state machine, reconciles it with the
// scheduler adapter, and starts a fresh execution, persisting the
// resulting ARNs onto the session. It does not block for completion; call
// PollExecution to reconcile progress and drive the session to a terminal
// status.
func (m *Manager) Execute(ctx context.Context, s *domain.Session, pipeline *domain.Pipeline, roleARN string) error {
	ctx, span := obs.StartSessionSpan(ctx, "execute", s.SessionID, pipeline.PipelineID)
	defer span.End()

	sm, err := compiler.Compile(pipeline, roleARN)
	if err != nil {
		obs.CompilerRuns.WithLabelValues("error").Inc()
		obs.EndSessionSpan(span, string(s.Status), err)
		return err
	}
	obs.CompilerRuns.WithLabelValues("ok").Inc()

	stateMachineARN, err := m.scheduler.EnsureStateMachine(ctx, sm)
	if err != nil {
		obs.EndSessionSpan(span, string(s.Status), err)
		return err
	}

	input := compiler.BuildExecutionInput(pipeline, s.SessionID, nil)

	execName := fmt.Sprintf("%s-%s", s.SessionID, time.Now().UTC().Format("20060102T150405"))
	executionARN, err := m.scheduler.StartExecution(ctx, stateMachineARN, execName, input)
	if err != nil {
		obs.EndSessionSpan(span, string(s.Status), err)
		return err
	}

	s.ExecutionARN = executionARN
	s.ExecutionName = execName
	if err := m.store.PutSession(ctx, s); err != nil {
		obs.EndSessionSpan(span, string(s.Status), err)
		return err
	}
	obs.EndSessionSpan(span, string(s.Status), nil)
	return nil
}

// PollExecution reconciles a running session's progress against its Step
// Functions execution history, updating job counts and, once the
// execution reaches a terminal state, completing the session. Returns the
// refreshed session and whether execution has reached a terminal state.
func (m *Manager) PollExecution(ctx context.Context, sessionID string) (*domain.Session, bool, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if s.ExecutionARN == "" {
		return s, false, bunsuierr.New(bunsuierr.Validation, "session", "poll_execution", "session has no execution")
	}

	exec, err := m.scheduler.DescribeExecution(ctx, s.ExecutionARN)
	if err != nil {
		return nil, false, err
	}

	events, err := m.scheduler.GetExecutionHistory(ctx, s.ExecutionARN)
	if err != nil {
		return nil, false, err
	}
	completed, failed := scheduler.CountCompletedJobs(events, s.TotalJobs)
	progressed, err := m.UpdateProgress(ctx, sessionID, completed, failed)
	if err != nil {
		return nil, false, err
	}

	if !exec.Status.Terminal() {
		return progressed, false, nil
	}

	success := exec.Status == scheduler.ExecutionSucceeded
	errMsg := exec.Error
	if errMsg == "" && exec.Cause != "" {
		errMsg = exec.Cause
	}
	updated, err := m.CompleteSession(ctx, sessionID, success, errMsg, "")
	if err != nil {
		return nil, false, err
	}
	return updated, true, nil
}
