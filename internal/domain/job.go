package domain

import "time"

// JobStatus mirrors the Python JobStatus enum exactly.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
	JobTimeout   JobStatus = "timeout"
)

// jobTransitions is the allowed-transition table: Failed and Timeout may
// retry back to Running, Completed/Cancelled are terminal.
var jobTransitions = map[JobStatus]map[JobStatus]bool{
	JobPending:   {JobRunning: true, JobCancelled: true},
	JobRunning:   {JobCompleted: true, JobFailed: true, JobCancelled: true, JobTimeout: true},
	JobCompleted: {},
	JobFailed:    {JobRunning: true},
	JobCancelled: {},
	JobTimeout:   {JobRunning: true},
}

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled, JobTimeout:
		return true
	default:
		return false
	}
}

// Job is a Step-Functions-state-machine-shaped unit of work: a sequence of
// Operations gated on a set of upstream Job dependencies.
type Job struct {
	JobID       string      `json:"job_id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Operations  []Operation `json:"operations"`
	Dependencies []string   `json:"dependencies,omitempty"`

	Status    JobStatus  `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ExecutionARN    string `json:"execution_arn,omitempty"`
	StateMachineARN string `json:"state_machine_arn,omitempty"`

	TimeoutSeconds    int `json:"timeout_seconds"`
	RetryCount        int `json:"retry_count"`
	RetryDelaySeconds int `json:"retry_delay_seconds"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`

	Tags     map[string]string `json:"tags,omitempty"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

func NewJob(jobID, name string, operations []Operation, dependencies []string) *Job {
	now := time.Now().UTC()
	return &Job{
		JobID:             jobID,
		Name:              name,
		Operations:        operations,
		Dependencies:      dependencies,
		Status:            JobPending,
		CreatedAt:         now,
		UpdatedAt:         now,
		TimeoutSeconds:    3600,
		RetryCount:        3,
		RetryDelaySeconds: 60,
	}
}

func (j *Job) CanTransitionTo(to JobStatus) bool {
	return jobTransitions[j.Status][to]
}

// TransitionTo moves the job to a new status, stamping StartedAt on first
// entry to Running and CompletedAt on entry to any terminal status.
func (j *Job) TransitionTo(to JobStatus, message string) error {
	if !j.CanTransitionTo(to) {
		return errInvalidTransition("job", j.JobID, string(j.Status), string(to))
	}
	now := time.Now().UTC()
	j.Status = to
	j.UpdatedAt = now
	if to == JobRunning && j.StartedAt == nil {
		j.StartedAt = &now
	} else if to.IsTerminal() {
		j.CompletedAt = &now
	}
	if message != "" {
		if j.Metadata == nil {
			j.Metadata = map[string]any{}
		}
		j.Metadata["status_change_message"] = message
	}
	return nil
}

func (j *Job) SetError(message, code string) {
	j.ErrorMessage = message
	j.ErrorCode = code
	j.Status = JobFailed
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) Duration() (time.Duration, bool) {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0, false
	}
	return j.CompletedAt.Sub(*j.StartedAt), true
}

// CanStart reports whether every dependency of j is present in completed.
func (j *Job) CanStart(completed map[string]bool) bool {
	for _, dep := range j.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

func (j *Job) GetOperation(operationID string) (Operation, bool) {
	for _, op := range j.Operations {
		if op.OperationID == operationID {
			return op, true
		}
	}
	return Operation{}, false
}
