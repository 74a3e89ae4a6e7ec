package planner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/taskpilot/internal/apperr"
	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

const maxPlanSize = 1024 * 1024

// Plan is the document decomposers produce.
type Plan struct {
	Tasks []taskgraph.Draft `yaml:"tasks"`
}

// ParsePlan decodes a YAML plan. Unknown fields are rejected. Structural
// checks (ids, dependencies, cycles) are left to taskgraph.Admit.
func ParsePlan(data []byte) ([]taskgraph.Draft, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var plan Plan
	if err := dec.Decode(&plan); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperr.Configuration("parse_plan", "plan is empty")
		}
		return nil, apperr.Configuration("parse_plan", "invalid plan: "+err.Error())
	}
	if len(plan.Tasks) == 0 {
		return nil, apperr.Configuration("parse_plan", "plan has no tasks")
	}
	for i, d := range plan.Tasks {
		if d.Type != "" && !d.Type.Valid() {
			return nil, apperr.Configuration("parse_plan", fmt.Sprintf("task %d (%s) has unknown type %q", i, d.ID, d.Type))
		}
	}
	return plan.Tasks, nil
}

var fence = regexp.MustCompile("(?s)```(?:ya?ml|json)?\\s*\\n(.*?)```")

// extractBlock returns the first fenced block of s, or s itself.
func extractBlock(s string) string {
	if m := fence.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// PlanFileDecomposer reads the specification reference as a YAML plan file.
type PlanFileDecomposer struct{}

// NewPlanFileDecomposer returns a file-based decomposer.
func NewPlanFileDecomposer() *PlanFileDecomposer {
	return &PlanFileDecomposer{}
}

// Decompose reads and parses the plan at path.
func (PlanFileDecomposer) Decompose(_ context.Context, path string) ([]taskgraph.Draft, error) {
	data, err := readBounded(path)
	if err != nil {
		return nil, err
	}
	return ParsePlan(data)
}

func readBounded(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, apperr.Configuration("read_spec", fmt.Sprintf("cannot read %s: %v", path, err))
	}
	if !info.Mode().IsRegular() {
		return nil, apperr.Configuration("read_spec", path+" is not a regular file")
	}
	if info.Size() > maxPlanSize {
		return nil, apperr.Configuration("read_spec", fmt.Sprintf("%s exceeds %d bytes", path, maxPlanSize))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.IO("read_spec", err)
	}
	return data, nil
}

// Decomposer is the subset of orchestrator.Decomposer the router needs.
type Decomposer interface {
	Decompose(ctx context.Context, spec string) ([]taskgraph.Draft, error)
}

// Router sends .yaml and .yml references to Plans and everything else to
// Model. A nil Model makes every non-plan reference a configuration error.
type Router struct {
	Plans Decomposer
	Model Decomposer
}

// Decompose implements orchestrator.Decomposer.
func (r Router) Decompose(ctx context.Context, spec string) ([]taskgraph.Draft, error) {
	switch strings.ToLower(filepath.Ext(spec)) {
	case ".yaml", ".yml":
		return r.Plans.Decompose(ctx, spec)
	}
	if r.Model == nil {
		return nil, apperr.Configuration("decompose", "no model configured for "+spec+"; pass a .yaml plan")
	}
	return r.Model.Decompose(ctx, spec)
}
