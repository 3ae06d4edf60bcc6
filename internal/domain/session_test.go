package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTransitionStampsTimestamps(t *testing.T) {
	s := NewSession("s1", "p1", "pipe", "user1", nil, nil)
	require.True(t, s.CanTransitionTo(SessionQueued))
	require.NoError(t, s.TransitionTo(SessionQueued, ""))
	require.NoError(t, s.TransitionTo(SessionRunning, ""))
	assert.NotNil(t, s.StartedAt)
	assert.Nil(t, s.CompletedAt)

	require.NoError(t, s.TransitionTo(SessionCompleted, "all jobs finished"))
	assert.NotNil(t, s.CompletedAt)
	assert.Equal(t, SessionCompleted, s.Status)

	cp, ok := s.LatestCheckpoint()
	require.True(t, ok)
	assert.Equal(t, CheckpointMilestone, cp.Type)
	assert.Equal(t, "all jobs finished", cp.Message)
}

func TestSessionInvalidTransitionRejected(t *testing.T) {
	s := NewSession("s1", "p1", "pipe", "", nil, nil)
	err := s.TransitionTo(SessionCompleted, "")
	assert.Error(t, err)
}

func TestSessionTimeoutDoesNotCheckpoint(t *testing.T) {
	s := NewSession("s1", "p1", "pipe", "", nil, nil)
	require.NoError(t, s.TransitionTo(SessionQueued, ""))
	require.NoError(t, s.TransitionTo(SessionRunning, ""))
	require.NoError(t, s.TransitionTo(SessionTimeout, ""))
	assert.Empty(t, s.Checkpoints)
}

func TestJobRetryFromFailed(t *testing.T) {
	j := NewJob("j1", "extract", nil, nil)
	require.NoError(t, j.TransitionTo(JobRunning, ""))
	require.NoError(t, j.TransitionTo(JobFailed, "boom"))
	assert.True(t, j.CanTransitionTo(JobRunning))
	require.NoError(t, j.TransitionTo(JobRunning, ""))
	assert.Equal(t, JobRunning, j.Status)
}

func TestOperationValidation(t *testing.T) {
	op := Operation{OperationID: "o1", Type: OperationLambda, Config: OperationConfig{TimeoutSeconds: 30}}
	assert.Error(t, op.Validate(), "lambda without resource_arn should fail")

	op.ResourceARN = "arn:aws:lambda:us-east-1:123:function:f"
	assert.NoError(t, op.Validate())
}

func TestPipelineJobStats(t *testing.T) {
	p := NewPipeline("p1", "etl", "1.0.0")
	j1 := NewJob("j1", "extract", nil, nil)
	j2 := NewJob("j2", "load", nil, []string{"j1"})
	j2.Status = JobCompleted
	p.AddJob(j1)
	p.AddJob(j2)

	stats := p.JobStats()
	assert.Equal(t, 2, stats.TotalJobs)
	assert.Equal(t, 1, stats.CompletedJobs)
	assert.Equal(t, 1, stats.PendingJobs)
	assert.Equal(t, 50.0, stats.CompletionPercentage)
}
