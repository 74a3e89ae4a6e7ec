package selector

import (
	"fmt"

	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

// typeRank groups task types: setup, definitions, implementation, tests,
// documentation, everything else.
var typeRank = map[taskgraph.TaskType]int{
	taskgraph.TypeAnalyzeSpec:              0,
	taskgraph.TypeDecomposeSpec:            0,
	taskgraph.TypeSetupNewCrate:            0,
	taskgraph.TypeQualifyCrate:             0,
	taskgraph.TypeDefineStruct:             1,
	taskgraph.TypeImplementFunction:        2,
	taskgraph.TypeRefactorCode:             2,
	taskgraph.TypeWriteUnitTest:            3,
	taskgraph.TypeWriteIntegrationTest:     3,
	taskgraph.TypeWriteE2ETest:             3,
	taskgraph.TypeRunVerificationStage:     3,
	taskgraph.TypeUpdateFileDocumentation:  4,
	taskgraph.TypeUpdateCrateDocumentation: 4,
}

const otherRank = 5

// TypePriority runs setup before definitions before implementation before
// tests before documentation.
func TypePriority(a, b *taskgraph.Task) int {
	return rank(a) - rank(b)
}

func rank(t *taskgraph.Task) int {
	if r, ok := typeRank[t.Type]; ok {
		return r
	}
	return otherRank
}

// ForPolicy returns the comparator for a configured selection policy.
func ForPolicy(policy string) (Comparator, error) {
	switch policy {
	case "", "insertion":
		return nil, nil
	case "type_priority":
		return TypePriority, nil
	}
	return nil, fmt.Errorf("unknown selection policy %q", policy)
}
