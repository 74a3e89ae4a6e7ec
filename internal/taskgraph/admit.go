package taskgraph

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/taskpilot/internal/apperr"
)

// Draft is a task proposed by a decomposer, before admission.
type Draft struct {
	ID           string   `json:"id" yaml:"id"`
	ParentID     string   `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Description  string   `json:"description" yaml:"description"`
	Type         TaskType `json:"task_type" yaml:"type"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// Admit validates a decomposition batch and converts it into Pending tasks
// in batch order. Any structural violation rejects the whole batch.
func Admit(drafts []Draft) ([]Task, error) {
	index := make(map[string]int, len(drafts))
	for i, d := range drafts {
		if strings.TrimSpace(d.ID) == "" {
			return nil, apperr.Configuration("admit_tasks", fmt.Sprintf("task at index %d has an empty id", i))
		}
		if _, dup := index[d.ID]; dup {
			return nil, apperr.Duplicate(d.ID)
		}
		index[d.ID] = i
	}

	for _, d := range drafts {
		for _, dep := range d.Dependencies {
			if _, ok := index[dep]; !ok {
				return nil, apperr.TaskDependency(d.ID, dep)
			}
		}
		if d.ParentID != "" {
			if _, ok := index[d.ParentID]; !ok {
				return nil, apperr.TaskDependency(d.ID, d.ParentID)
			}
		}
	}

	deps := make(map[string][]string, len(drafts))
	parents := make(map[string][]string, len(drafts))
	for _, d := range drafts {
		deps[d.ID] = d.Dependencies
		if d.ParentID != "" {
			parents[d.ID] = []string{d.ParentID}
		}
	}
	if path := findCycle(drafts, deps); path != nil {
		return nil, apperr.Cycle(path)
	}
	if path := findCycle(drafts, parents); path != nil {
		return nil, apperr.Cycle(path)
	}

	tasks := make([]Task, len(drafts))
	for i, d := range drafts {
		typ := d.Type
		if typ == "" {
			typ = TypeImplementFunction
		}
		tasks[i] = Task{
			ID:           d.ID,
			ParentID:     d.ParentID,
			Description:  d.Description,
			Type:         typ,
			Status:       Pending(),
			Dependencies: append([]string(nil), d.Dependencies...),
		}
	}
	for _, t := range tasks {
		if t.ParentID != "" {
			p := &tasks[index[t.ParentID]]
			p.SubTaskIDs = append(p.SubTaskIDs, t.ID)
		}
	}
	return tasks, nil
}

// findCycle runs a DFS over edges and returns the first cycle path found.
func findCycle(drafts []Draft, edges map[string][]string) []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string, path []string) []string
	visit = func(id string, path []string) []string {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)
		for _, next := range edges[id] {
			if !visited[next] {
				if cyc := visit(next, path); cyc != nil {
					return cyc
				}
			} else if onStack[next] {
				return append(append([]string(nil), path...), next)
			}
		}
		onStack[id] = false
		return nil
	}

	for _, d := range drafts {
		if !visited[d.ID] {
			if cyc := visit(d.ID, nil); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}
