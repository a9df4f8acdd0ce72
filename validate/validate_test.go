package validate_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/flowspec/engine/truth"
	"github.com/flowspec/engine/validate"
)

func TestValidateGraph_NoEntryNode(t *testing.T) {
	v := validate.New()
	issues := v.ValidateGraph([]truth.Node{{ID: uuid.New(), Name: "N1"}}, nil)
	assertHasCode(t, issues, validate.CodeNoEntryNode)
}

func TestValidateGraph_OrphanedOutcomeAndUnreachable(t *testing.T) {
	n1 := uuid.New()
	n2 := uuid.New()
	nodes := []truth.Node{
		{ID: n1, Name: "N1", IsEntry: true, Tasks: []truth.Task{{ID: uuid.New(), Name: "T1", Outcomes: []truth.Outcome{{Name: "DONE"}}}}},
		{ID: n2, Name: "N2", Tasks: []truth.Task{{ID: uuid.New(), Name: "T2", Outcomes: []truth.Outcome{{Name: "FINISH"}}}}},
	}
	v := validate.New()
	issues := v.ValidateGraph(nodes, nil)
	assertHasCode(t, issues, validate.CodeOrphanedOutcome)
	assertHasCode(t, issues, validate.CodeUnreachableNode)
}

func TestValidateGraph_MissingEvidenceSchema(t *testing.T) {
	n1 := uuid.New()
	nodes := []truth.Node{
		{ID: n1, Name: "N1", IsEntry: true, Tasks: []truth.Task{
			{ID: uuid.New(), Name: "T1", EvidenceRequired: true, Outcomes: []truth.Outcome{{Name: "DONE"}}},
		}},
	}
	gates := []truth.Gate{{SourceNodeID: n1, OutcomeName: "DONE"}}
	v := validate.New()
	issues := v.ValidateGraph(nodes, gates)
	assertHasCode(t, issues, validate.CodeMissingEvidenceSchema)
}

func TestValidateGraph_CleanGraphHasNoIssues(t *testing.T) {
	n1, n2 := uuid.New(), uuid.New()
	nodes := []truth.Node{
		{ID: n1, Name: "N1", IsEntry: true, Tasks: []truth.Task{{ID: uuid.New(), Name: "T1", Outcomes: []truth.Outcome{{Name: "DONE"}}}}},
		{ID: n2, Name: "N2", Tasks: []truth.Task{{ID: uuid.New(), Name: "T2", Outcomes: []truth.Outcome{{Name: "FINISH"}}}}},
	}
	gates := []truth.Gate{
		{SourceNodeID: n1, OutcomeName: "DONE", TargetNodeID: &n2},
		{SourceNodeID: n2, OutcomeName: "FINISH"},
	}
	v := validate.New()
	assert.Empty(t, v.ValidateGraph(nodes, gates))
}

func assertHasCode(t *testing.T, issues []validate.Issue, code validate.Code) {
	t.Helper()
	for _, i := range issues {
		if i.Code == code {
			return
		}
	}
	t.Fatalf("expected issue with code %s, got %+v", code, issues)
}
