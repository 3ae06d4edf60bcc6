package dag

import (
	"testing"

	"github.com/bunsuihq/bunsui/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func job(id string, deps ...string) *domain.Job {
	return domain.NewJob(id, id, nil, deps)
}

func TestExecutionOrderLinear(t *testing.T) {
	jobs := []*domain.Job{job("c", "b"), job("a"), job("b", "a")}
	order, err := ExecutionOrder(jobs)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestDetectCyclesFindsLoop(t *testing.T) {
	jobs := []*domain.Job{job("a", "b"), job("b", "c"), job("c", "a")}
	cycles := DetectCycles(jobs)
	require.NotEmpty(t, cycles)
}

func TestValidateDependenciesMissingJob(t *testing.T) {
	jobs := []*domain.Job{job("a", "missing")}
	err := ValidateDependencies(jobs)
	assert.Error(t, err)
}

func TestReadyJobs(t *testing.T) {
	jobs := []*domain.Job{job("a"), job("b", "a")}
	ready := ReadyJobs(jobs, map[string]bool{})
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].JobID)

	ready = ReadyJobs(jobs, map[string]bool{"a": true})
	require.Len(t, ready, 1)
	assert.Equal(t, "b", ready[0].JobID)
}

func TestExecutionOrderRejectsCycle(t *testing.T) {
	jobs := []*domain.Job{job("a", "b"), job("b", "a")}
	_, err := ExecutionOrder(jobs)
	assert.Error(t, err)
}
