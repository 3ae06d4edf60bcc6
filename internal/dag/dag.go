// Package dag implements the dependency graph algorithms a Pipeline's Jobs
// must satisfy before they can be compiled or executed: dependency
// existence, cycle detection, topological ordering, and readiness queries.
package dag

import (
	"fmt"
	"strings"

	"github.com/bunsuihq/bunsui/internal/bunsuierr"
	"github.com/bunsuihq/bunsui/internal/domain"
)

// ValidateDependencies checks that every Job's Dependencies refer to a Job
// that actually exists in the pipeline.
func ValidateDependencies(jobs []*domain.Job) error {
	ids := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		ids[j.JobID] = true
	}
	for _, j := range jobs {
		for _, dep := range j.Dependencies {
			if !ids[dep] {
				return bunsuierr.New(bunsuierr.Validation, "dag", "validate_dependencies",
					fmt.Sprintf("job %s depends on unknown job %s", j.JobID, dep))
			}
		}
	}
	return nil
}

// DetectCycles runs a DFS with an explicit recursion stack (mirroring the
// teacher's visual-dag-builder validateCycles) over each job's Dependencies
// edge and returns every cycle found as the path of job IDs that form it,
// closed by repeating the first ID.
func DetectCycles(jobs []*domain.Job) [][]string {
	byID := make(map[string]*domain.Job, len(jobs))
	for _, j := range jobs {
		byID[j.JobID] = j
	}

	var cycles [][]string
	visited := map[string]bool{}
	recStack := map[string]bool{}

	var walk func(jobID string, path []string)
	walk = func(jobID string, path []string) {
		if recStack[jobID] {
			start := 0
			for i, id := range path {
				if id == jobID {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), jobID)
			cycles = append(cycles, cycle)
			return
		}
		if visited[jobID] {
			return
		}
		visited[jobID] = true
		recStack[jobID] = true

		if job, ok := byID[jobID]; ok {
			for _, dep := range job.Dependencies {
				walk(dep, append(path, jobID))
			}
		}
		delete(recStack, jobID)
	}

	for _, j := range jobs {
		if !visited[j.JobID] {
			walk(j.JobID, nil)
		}
	}
	return cycles
}

func cyclesError(cycles [][]string) error {
	parts := make([]string, len(cycles))
	for i, c := range cycles {
		parts[i] = strings.Join(c, " -> ")
	}
	return bunsuierr.New(bunsuierr.Validation, "dag", "detect_cycles",
		"circular dependencies detected: "+strings.Join(parts, "; "))
}

// ExecutionOrder returns job IDs in a valid topological order (Kahn's
// algorithm, matching get_execution_order). It validates dependencies and
// cycles first.
func ExecutionOrder(jobs []*domain.Job) ([]string, error) {
	if err := ValidateDependencies(jobs); err != nil {
		return nil, err
	}
	if cycles := DetectCycles(jobs); len(cycles) > 0 {
		return nil, cyclesError(cycles)
	}

	byID := make(map[string]*domain.Job, len(jobs))
	inDegree := make(map[string]int, len(jobs))
	for _, j := range jobs {
		byID[j.JobID] = j
		if _, ok := inDegree[j.JobID]; !ok {
			inDegree[j.JobID] = 0
		}
	}
	for _, j := range jobs {
		for range j.Dependencies {
			inDegree[j.JobID]++
		}
	}

	// Kahn's algorithm over the "depends on" edges: a job is ready once all
	// of its dependencies have been emitted, so each pass over jobs checks
	// every unemitted job's dependencies against the emitted set rather than
	// inverting the graph.
	remaining := make(map[string]int, len(jobs))
	for id, d := range inDegree {
		remaining[id] = d
	}
	emitted := map[string]bool{}
	var order []string

	for len(order) < len(jobs) {
		progressed := false
		for _, j := range jobs {
			if emitted[j.JobID] {
				continue
			}
			ready := true
			for _, dep := range j.Dependencies {
				if !emitted[dep] {
					ready = false
					break
				}
			}
			if ready {
				order = append(order, j.JobID)
				emitted[j.JobID] = true
				progressed = true
			}
		}
		if !progressed {
			return nil, bunsuierr.New(bunsuierr.Validation, "dag", "execution_order", "unable to order jobs: unresolved dependency")
		}
	}
	return order, nil
}

// ReadyJobs returns the Pending jobs whose dependencies are all present in
// completed.
func ReadyJobs(jobs []*domain.Job, completed map[string]bool) []*domain.Job {
	var ready []*domain.Job
	for _, j := range jobs {
		if j.Status == domain.JobPending && j.CanStart(completed) {
			ready = append(ready, j)
		}
	}
	return ready
}
