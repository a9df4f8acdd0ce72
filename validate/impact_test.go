package validate_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowspec/engine/truth"
	"github.com/flowspec/engine/validate"
)

func TestAnalyzeImpact_RemovedNodeIsBreaking(t *testing.T) {
	n1, n2 := uuid.New(), uuid.New()
	published := truth.WorkflowVersion{
		Nodes: []truth.Node{
			{ID: n1, Name: "N1", Tasks: []truth.Task{{Name: "T1", Outcomes: []truth.Outcome{{Name: "DONE"}}}}},
			{ID: n2, Name: "N2", Tasks: []truth.Task{{Name: "T2", Outcomes: []truth.Outcome{{Name: "FINISH"}}}}},
		},
	}
	draft := truth.WorkflowVersion{
		Nodes: []truth.Node{
			{ID: uuid.New(), Name: "N1", Tasks: []truth.Task{{Name: "T1", Outcomes: []truth.Outcome{{Name: "DONE"}}}}},
		},
	}
	flow := truth.Flow{ID: uuid.New()}

	a := validate.NewImpactAnalyzer(100)
	report, err := a.AnalyzeImpact(context.Background(), draft, published, []truth.Flow{flow})
	require.NoError(t, err)
	assert.True(t, report.IsAnalysisComplete)
	require.Len(t, report.BreakingChanges, 1)
	assert.Equal(t, validate.BreakingRemovedNode, report.BreakingChanges[0].Kind)
	assert.Equal(t, "N2", report.BreakingChanges[0].NodeName)
}

func TestAnalyzeImpact_NoChangesIsComplete(t *testing.T) {
	n1 := uuid.New()
	snap := truth.WorkflowVersion{Nodes: []truth.Node{{ID: n1, Name: "N1", Tasks: []truth.Task{{Name: "T1", Outcomes: []truth.Outcome{{Name: "DONE"}}}}}}}
	a := validate.NewImpactAnalyzer(100)
	report, err := a.AnalyzeImpact(context.Background(), snap, snap, nil)
	require.NoError(t, err)
	assert.True(t, report.IsAnalysisComplete)
	assert.Empty(t, report.BreakingChanges)
}
