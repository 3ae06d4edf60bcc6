package domain

import "time"

type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionQueued    SessionStatus = "queued"
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
	SessionTimeout   SessionStatus = "timeout"
)

var sessionTransitions = map[SessionStatus]map[SessionStatus]bool{
	SessionCreated:   {SessionQueued: true, SessionCancelled: true},
	SessionQueued:    {SessionRunning: true, SessionCancelled: true},
	SessionRunning:   {SessionPaused: true, SessionCompleted: true, SessionFailed: true, SessionCancelled: true, SessionTimeout: true},
	SessionPaused:    {SessionRunning: true, SessionCancelled: true},
	SessionCompleted: {},
	SessionFailed:    {SessionQueued: true, SessionCancelled: true},
	SessionCancelled: {},
	SessionTimeout:   {SessionQueued: true, SessionCancelled: true},
}

func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled, SessionTimeout:
		return true
	default:
		return false
	}
}

func (s SessionStatus) IsRunning() bool {
	return s == SessionQueued || s == SessionRunning
}

type CheckpointType string

const (
	CheckpointManual    CheckpointType = "manual"
	CheckpointAutomatic CheckpointType = "automatic"
	CheckpointError     CheckpointType = "error"
	CheckpointMilestone CheckpointType = "milestone"
)

type Checkpoint struct {
	CheckpointID string         `json:"checkpoint_id"`
	Type         CheckpointType `json:"checkpoint_type"`
	JobID        string         `json:"job_id"`
	OperationID  string         `json:"operation_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StateData    map[string]any `json:"state_data,omitempty"`
	Message      string         `json:"message,omitempty"`
}

// Session is one execution instance of a Pipeline.
type Session struct {
	SessionID    string `json:"session_id"`
	PipelineID   string `json:"pipeline_id"`
	PipelineName string `json:"pipeline_name,omitempty"`

	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`

	ExecutionARN  string `json:"execution_arn,omitempty"`
	ExecutionName string `json:"execution_name,omitempty"`

	TotalJobs     int `json:"total_jobs"`
	CompletedJobs int `json:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs"`

	Configuration map[string]any    `json:"configuration,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	RetryCount   int    `json:"retry_count"`
	MaxRetries   int    `json:"max_retries"`

	Checkpoints []Checkpoint `json:"checkpoints,omitempty"`

	UserID   string `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`

	Environment string `json:"environment,omitempty"`
	Region      string `json:"region,omitempty"`
}

func NewSession(sessionID, pipelineID, pipelineName, userID string, configuration map[string]any, tags map[string]string) *Session {
	now := time.Now().UTC()
	return &Session{
		SessionID:     sessionID,
		PipelineID:    pipelineID,
		PipelineName:  pipelineName,
		Status:        SessionCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
		Configuration: configuration,
		Tags:          tags,
		UserID:        userID,
		MaxRetries:    3,
	}
}

func (s *Session) CanTransitionTo(to SessionStatus) bool {
	return sessionTransitions[s.Status][to]
}

// TransitionTo mirrors bunsui.core.models.session.SessionMetadata.transition_to:
// it stamps StartedAt on first entry to Running, CompletedAt on entry to any
// terminal status, and appends a Milestone checkpoint for
// Completed/Failed/Cancelled (but not Timeout, matching the original).
func (s *Session) TransitionTo(to SessionStatus, message string) error {
	if !s.CanTransitionTo(to) {
		return errInvalidTransition("session", s.SessionID, string(s.Status), string(to))
	}
	now := time.Now().UTC()
	if to == SessionRunning && s.StartedAt == nil {
		s.StartedAt = &now
	} else if to.IsTerminal() {
		s.CompletedAt = &now
	}
	s.Status = to
	s.UpdatedAt = now

	if to == SessionCompleted || to == SessionFailed || to == SessionCancelled {
		msg := message
		if msg == "" {
			msg = "session transitioned to " + string(to)
		}
		s.AddCheckpoint(CheckpointMilestone, "session", map[string]any{"status": string(to)}, "", msg)
	}
	return nil
}

func (s *Session) AddCheckpoint(typ CheckpointType, jobID string, stateData map[string]any, operationID, message string) Checkpoint {
	cp := Checkpoint{
		CheckpointID: newUUID(),
		Type:         typ,
		JobID:        jobID,
		OperationID:  operationID,
		CreatedAt:    time.Now().UTC(),
		StateData:    stateData,
		Message:      message,
	}
	s.Checkpoints = append(s.Checkpoints, cp)
	return cp
}

func (s *Session) LatestCheckpoint() (Checkpoint, bool) {
	if len(s.Checkpoints) == 0 {
		return Checkpoint{}, false
	}
	latest := s.Checkpoints[0]
	for _, cp := range s.Checkpoints[1:] {
		if cp.CreatedAt.After(latest.CreatedAt) {
			latest = cp
		}
	}
	return latest, true
}

func (s *Session) CheckpointsByJob(jobID string) []Checkpoint {
	var out []Checkpoint
	for _, cp := range s.Checkpoints {
		if cp.JobID == jobID {
			out = append(out, cp)
		}
	}
	return out
}

func (s *Session) UpdateProgress(completed, failed int) {
	s.CompletedJobs = completed
	s.FailedJobs = failed
	s.UpdatedAt = time.Now().UTC()
}

func (s *Session) SetError(message, code string) {
	s.ErrorMessage = message
	s.ErrorCode = code
	s.Status = SessionFailed
	s.UpdatedAt = time.Now().UTC()
}

func (s *Session) Duration() time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	end := time.Now().UTC()
	if s.CompletedAt != nil {
		end = *s.CompletedAt
	}
	return end.Sub(*s.StartedAt)
}

func (s *Session) ProgressPercentage() float64 {
	if s.TotalJobs == 0 {
		return 0
	}
	return float64(s.CompletedJobs) / float64(s.TotalJobs) * 100
}
