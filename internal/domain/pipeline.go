package domain

import "time"

type PipelineStatus string

const (
	PipelineDraft      PipelineStatus = "draft"
	PipelineActive     PipelineStatus = "active"
	PipelineInactive   PipelineStatus = "inactive"
	PipelineDeprecated PipelineStatus = "deprecated"
)

// Pipeline is a versioned DAG of Jobs. Dependency validation, cycle
// detection, and execution ordering live in package dag, which operates on
// Pipeline.Jobs directly.
type Pipeline struct {
	PipelineID  string `json:"pipeline_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`

	Jobs []*Job `json:"jobs"`

	Status    PipelineStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`

	TimeoutSeconds   int `json:"timeout_seconds"`
	MaxConcurrentJobs int `json:"max_concurrent_jobs"`

	Tags     map[string]string `json:"tags,omitempty"`
	Metadata map[string]any    `json:"metadata,omitempty"`

	UserID   string `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
}

func NewPipeline(pipelineID, name, version string) *Pipeline {
	now := time.Now().UTC()
	return &Pipeline{
		PipelineID:        pipelineID,
		Name:              name,
		Version:           version,
		Status:            PipelineDraft,
		CreatedAt:         now,
		UpdatedAt:         now,
		TimeoutSeconds:    3600,
		MaxConcurrentJobs: 10,
	}
}

func (p *Pipeline) AddJob(job *Job) {
	p.Jobs = append(p.Jobs, job)
	p.UpdatedAt = time.Now().UTC()
}

func (p *Pipeline) RemoveJob(jobID string) bool {
	for i, j := range p.Jobs {
		if j.JobID == jobID {
			p.Jobs = append(p.Jobs[:i], p.Jobs[i+1:]...)
			p.UpdatedAt = time.Now().UTC()
			return true
		}
	}
	return false
}

func (p *Pipeline) GetJob(jobID string) (*Job, bool) {
	for _, j := range p.Jobs {
		if j.JobID == jobID {
			return j, true
		}
	}
	return nil, false
}

func (p *Pipeline) GetJobByName(name string) (*Job, bool) {
	for _, j := range p.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return nil, false
}

// JobStats mirrors get_job_stats: per-status counts plus completion
// percentage over the pipeline's jobs.
type JobStats struct {
	TotalJobs            int     `json:"total_jobs"`
	CompletedJobs        int     `json:"completed_jobs"`
	FailedJobs           int     `json:"failed_jobs"`
	RunningJobs          int     `json:"running_jobs"`
	PendingJobs          int     `json:"pending_jobs"`
	CompletionPercentage float64 `json:"completion_percentage"`
}

func (p *Pipeline) JobStats() JobStats {
	stats := JobStats{TotalJobs: len(p.Jobs)}
	for _, j := range p.Jobs {
		switch j.Status {
		case JobCompleted:
			stats.CompletedJobs++
		case JobFailed:
			stats.FailedJobs++
		case JobRunning:
			stats.RunningJobs++
		case JobPending:
			stats.PendingJobs++
		}
	}
	if stats.TotalJobs > 0 {
		stats.CompletionPercentage = float64(stats.CompletedJobs) / float64(stats.TotalJobs) * 100
	}
	return stats
}
