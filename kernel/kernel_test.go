package kernel_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowspec/engine/kernel"
	"github.com/flowspec/engine/truth"
)

func linearSnapshot() (truth.WorkflowVersion, uuid.UUID, uuid.UUID, uuid.UUID, uuid.UUID) {
	n1, n2 := uuid.New(), uuid.New()
	t1, t2 := uuid.New(), uuid.New()
	snap := truth.WorkflowVersion{
		Nodes: []truth.Node{
			{
				ID: n1, Name: "N1", IsEntry: true, CompletionRule: truth.AllTasksDone,
				TransitiveSuccessors: []uuid.UUID{n2},
				Tasks: []truth.Task{{ID: t1, Name: "T1", DisplayOrder: 0, Outcomes: []truth.Outcome{{Name: "DONE"}}}},
			},
			{
				ID: n2, Name: "N2", CompletionRule: truth.AllTasksDone,
				Tasks: []truth.Task{{ID: t2, Name: "T2", DisplayOrder: 0, Outcomes: []truth.Outcome{{Name: "FINISH"}}}},
			},
		},
		Gates: []truth.Gate{{SourceNodeID: n1, OutcomeName: "DONE", TargetNodeID: &n2}},
	}
	return snap, n1, n2, t1, t2
}

// Seed scenario 1 (§8): two-node linear flow. After T1's outcome is
// recorded, T2 must be the sole actionable task.
func TestComputeActionableTasks_LinearFlow(t *testing.T) {
	snap, n1, n2, t1, t2 := linearSnapshot()
	flowID := uuid.New()
	now := time.Now()

	exec1 := truth.TaskExecution{ID: uuid.New(), FlowID: flowID, TaskID: t1, Iteration: 1, Outcome: strPtr("DONE")}
	ft := kernel.FlowTruth{
		Flow:     truth.Flow{ID: flowID},
		Snapshot: snap,
		Activations: []truth.NodeActivation{
			{FlowID: flowID, NodeID: n1, Iteration: 1, ActivatedAt: now},
			{FlowID: flowID, NodeID: n2, Iteration: 1, ActivatedAt: now},
		},
		Executions: []truth.TaskExecution{exec1},
	}
	group := kernel.GroupTruth{Siblings: map[uuid.UUID]kernel.FlowTruth{}}
	// workflowId used as the map key throughout this package's API; tests
	// use a dedicated id distinct from node/task ids.
	wfID := uuid.New()
	group.Siblings[wfID] = ft

	tasks := kernel.ComputeActionableTasks(group, wfID)
	require.Len(t, tasks, 1)
	assert.Equal(t, t2, tasks[0].TaskID)
	assert.Equal(t, n2, tasks[0].NodeID)
}

func TestComputeValidityMap_LatestWins(t *testing.T) {
	execID := uuid.New()
	t0 := time.Now()
	events := []truth.ValidityEvent{
		{ID: uuid.New(), TaskExecutionID: execID, State: truth.Valid, CreatedAt: t0},
		{ID: uuid.New(), TaskExecutionID: execID, State: truth.Invalid, CreatedAt: t0.Add(time.Minute)},
	}
	m := kernel.ComputeValidityMap(events)
	assert.Equal(t, truth.Invalid, m[execID])

	// Scenario 6 (§8): a later VALID event restores completion.
	events = append(events, truth.ValidityEvent{ID: uuid.New(), TaskExecutionID: execID, State: truth.Valid, CreatedAt: t0.Add(2 * time.Minute)})
	m = kernel.ComputeValidityMap(events)
	assert.Equal(t, truth.Valid, m[execID])
}

func TestComputeValidityMap_AbsenceIsValid(t *testing.T) {
	m := kernel.ComputeValidityMap(nil)
	assert.Equal(t, truth.Valid, kernel.ValidityOf(m, uuid.New()))
}

func TestComputeNodeComplete_Rules(t *testing.T) {
	t1, t2 := uuid.New(), uuid.New()
	node := truth.Node{
		CompletionRule: truth.AnyTaskDone,
		Tasks:          []truth.Task{{ID: t1}, {ID: t2}},
	}
	execs := []truth.TaskExecution{{ID: uuid.New(), TaskID: t1, Iteration: 1, Outcome: strPtr("X")}}
	assert.True(t, kernel.ComputeNodeComplete(node, execs, nil, 1))

	node.CompletionRule = truth.AllTasksDone
	assert.False(t, kernel.ComputeNodeComplete(node, execs, nil, 1))

	node.CompletionRule = truth.SpecificTasksDone
	node.SpecificTasks = []uuid.UUID{t1}
	assert.True(t, kernel.ComputeNodeComplete(node, execs, nil, 1))
}

func TestComputeNodeComplete_ProvisionalIsNotDone(t *testing.T) {
	execID := uuid.New()
	taskID := uuid.New()
	node := truth.Node{CompletionRule: truth.AllTasksDone, Tasks: []truth.Task{{ID: taskID}}}
	execs := []truth.TaskExecution{{ID: execID, TaskID: taskID, Iteration: 1, Outcome: strPtr("X")}}
	validity := map[uuid.UUID]truth.ValidityState{execID: truth.Provisional}
	assert.False(t, kernel.ComputeNodeComplete(node, execs, validity, 1))
}

func strPtr(s string) *string { return &s }
