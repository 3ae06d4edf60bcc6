// Package visualize renders a Pipeline's job DAG as DOT or Mermaid text for
// external graph tools, and computes a simple layered canvas layout for a
// frontend to draw directly. Grounded on visual-dag-builder's node/edge/
// Position/ViewOffset canvas model, re-targeted from an editable workflow
// canvas to a read-only rendering of an already-compiled Pipeline.
package visualize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bunsuihq/bunsui/internal/dag"
	"github.com/bunsuihq/bunsui/internal/domain"
)

// Position is a canvas coordinate for one job node, mirroring
// visual-dag-builder's Position type.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Layout maps every job in a pipeline to a Position, laid out in
// topological layers: a job's layer is one more than the deepest layer of
// its dependencies, and siblings within a layer are spread along X in the
// order dag.ExecutionOrder emits them.
type Layout struct {
	Positions map[string]Position `json:"positions"`
	Layers    int                 `json:"layers"`
}

const (
	layerHeight = 140
	nodeWidth   = 220
)

// ComputeLayout assigns every job a Position based on its dependency depth.
func ComputeLayout(p *domain.Pipeline) (*Layout, error) {
	order, err := dag.ExecutionOrder(p.Jobs)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.Job, len(p.Jobs))
	for _, j := range p.Jobs {
		byID[j.JobID] = j
	}

	depth := make(map[string]int, len(order))
	maxDepth := 0
	for _, id := range order {
		job := byID[id]
		d := 0
		for _, dep := range job.Dependencies {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	layerCounts := map[int]int{}
	positions := make(map[string]Position, len(order))
	for _, id := range order {
		d := depth[id]
		col := layerCounts[d]
		layerCounts[d]++
		positions[id] = Position{X: col * nodeWidth, Y: d * layerHeight}
	}

	return &Layout{Positions: positions, Layers: maxDepth + 1}, nil
}

// DOT renders the pipeline's jobs and dependency edges as a Graphviz DOT
// digraph, labeling each node with the job's name and status.
func DOT(p *domain.Pipeline) string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %s {\n", quoteID(p.PipelineID))
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  node [shape=box, style=rounded];\n")

	for _, j := range sortedJobs(p.Jobs) {
		fmt.Fprintf(&b, "  %s [label=%q, color=%q];\n",
			quoteID(j.JobID), fmt.Sprintf("%s\\n(%s)", j.Name, j.Status), statusColor(j.Status))
	}
	for _, j := range sortedJobs(p.Jobs) {
		for _, dep := range j.Dependencies {
			fmt.Fprintf(&b, "  %s -> %s;\n", quoteID(dep), quoteID(j.JobID))
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// Mermaid renders the same graph as a Mermaid flowchart definition.
func Mermaid(p *domain.Pipeline) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")

	for _, j := range sortedJobs(p.Jobs) {
		fmt.Fprintf(&b, "  %s[\"%s (%s)\"]\n", mermaidID(j.JobID), j.Name, j.Status)
	}
	for _, j := range sortedJobs(p.Jobs) {
		for _, dep := range j.Dependencies {
			fmt.Fprintf(&b, "  %s --> %s\n", mermaidID(dep), mermaidID(j.JobID))
		}
	}
	return b.String()
}

func sortedJobs(jobs []*domain.Job) []*domain.Job {
	out := append([]*domain.Job{}, jobs...)
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

func quoteID(id string) string {
	return fmt.Sprintf("%q", id)
}

func mermaidID(id string) string {
	replacer := strings.NewReplacer("-", "_", ".", "_", " ", "_")
	return replacer.Replace(id)
}

func statusColor(status domain.JobStatus) string {
	switch status {
	case domain.JobCompleted:
		return "green"
	case domain.JobFailed, domain.JobTimeout:
		return "red"
	case domain.JobRunning:
		return "blue"
	case domain.JobCancelled:
		return "gray"
	default:
		return "black"
	}
}
