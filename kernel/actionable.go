package kernel

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/flowspec/engine/truth"
)

// ActionableTask is one entry in the canonical actionable-task set (§4.C).
// Enrichment (assignments, signals, recommendations — §9) appends fields
// or wraps this value; it never reorders the slice it came from.
type ActionableTask struct {
	FlowID      uuid.UUID
	NodeID      uuid.UUID
	TaskID      uuid.UUID
	Iteration   int
	Task        truth.Task
	ActivatedAt time.Time
}

// FlowTruth bundles one flow's Truth rows with the snapshot it is bound
// to. It is the unit of input the kernel operates over.
type FlowTruth struct {
	Flow        truth.Flow
	Snapshot    truth.WorkflowVersion
	Activations []truth.NodeActivation
	Executions  []truth.TaskExecution
	Evidence    []truth.EvidenceAttachment
	Validity    []truth.ValidityEvent
	Detours     []truth.DetourRecord
}

// GroupTruth bundles every sibling flow in a FlowGroup, keyed by
// workflowId, so cross-flow dependencies (§4.C rule 3) can be resolved
// without the kernel performing any I/O of its own.
type GroupTruth struct {
	Siblings map[uuid.UUID]FlowTruth
}

// ComputeActionableTasks returns the actionable-task set for the flow
// bound to workflowID within group, in the canonical ordering
// `flowId ASC, taskId ASC, iteration ASC` (§4.C).
func ComputeActionableTasks(group GroupTruth, workflowID uuid.UUID) []ActionableTask {
	ft, ok := group.Siblings[workflowID]
	if !ok {
		return nil
	}
	idx := BuildIndex(ft.Snapshot)
	validity := ComputeValidityMap(ft.Validity)
	byKey := indexExecutions(ft.Executions)
	activated := activatedNodeSet(ft.Activations)

	var out []ActionableTask
	for nodeID := range activated {
		node := idx.Node(nodeID)
		if node == nil {
			continue
		}
		iter := CurrentIteration(ft.Activations, nodeID)
		activatedAt := activationTime(ft.Activations, nodeID, iter)
		for _, t := range node.Tasks {
			if computeTaskActionable(idx, group, ft, *node, t, iter, byKey, validity, activated) {
				out = append(out, ActionableTask{
					FlowID:      ft.Flow.ID,
					NodeID:      nodeID,
					TaskID:      t.ID,
					Iteration:   iter,
					Task:        t,
					ActivatedAt: activatedAt,
				})
			}
		}
	}
	sortActionable(out)
	return out
}

func activationTime(activations []truth.NodeActivation, nodeID uuid.UUID, iteration int) time.Time {
	for _, a := range activations {
		if a.NodeID == nodeID && a.Iteration == iteration {
			return a.ActivatedAt
		}
	}
	return time.Time{}
}

// sortActionable applies the canonical `flowId ASC, taskId ASC,
// iteration ASC` ordering (§4.C, §8 "Canonical ordering").
func sortActionable(tasks []ActionableTask) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if c := compareUUID(a.FlowID, b.FlowID); c != 0 {
			return c < 0
		}
		if c := compareUUID(a.TaskID, b.TaskID); c != 0 {
			return c < 0
		}
		return a.Iteration < b.Iteration
	})
}

// computeTaskActionable implements the five rules of §4.C
// computeTaskActionable.
func computeTaskActionable(
	idx *Index,
	group GroupTruth,
	ft FlowTruth,
	node truth.Node,
	task truth.Task,
	iteration int,
	byKey map[executionKey]truth.TaskExecution,
	validity map[uuid.UUID]truth.ValidityState,
	activatedNodes map[uuid.UUID]struct{},
) bool {
	// Rule 1: node must be activated at iteration k — guaranteed by the
	// caller, which only iterates activated nodes.

	// Rule 2: no VALID outcome exists for (task, k).
	if hasValidOutcome(byKey, validity, task.ID, iteration) {
		return false
	}

	// Rule 3: cross-flow dependency gate.
	for _, dep := range task.CrossFlowDependencies {
		if !crossFlowSatisfied(group, dep) {
			return false
		}
	}

	// Rule 4: no ACTIVE BLOCKING detour's blockedScope contains this node.
	for _, d := range ft.Detours {
		if d.Status != truth.DetourActive || d.Type != truth.DetourBlocking {
			continue
		}
		if inBlockedScope(idx, d, node.ID) {
			return false
		}
	}

	// Rule 5: join barrier — if the node has multiple inbound gates,
	// every ancestor feeding an inbound edge in the current iteration
	// must itself be unblocked (i.e. activated and not itself held by a
	// detour), otherwise the task is held.
	if len(idx.InboundGates(node.ID)) > 1 {
		for _, g := range idx.InboundGates(node.ID) {
			if _, ok := activatedNodes[g.SourceNodeID]; !ok {
				return false
			}
			for _, d := range ft.Detours {
				if d.Status == truth.DetourActive && d.Type == truth.DetourBlocking && inBlockedScope(idx, d, g.SourceNodeID) {
					return false
				}
			}
		}
	}

	return true
}

// inBlockedScope reports whether nodeID falls in a detour's blocked
// scope: {checkpointNode} ∪ transitiveSuccessors(checkpointNode) \
// transitiveSuccessors(resumeTargetNode) (§4.C rule 4).
func inBlockedScope(idx *Index, d truth.DetourRecord, nodeID uuid.UUID) bool {
	if nodeID == d.CheckpointNodeID {
		return true
	}
	succ := idx.successorSet(d.CheckpointNodeID)
	if _, ok := succ[nodeID]; !ok {
		return false
	}
	resumeSucc := idx.successorSet(d.ResumeTargetNodeID)
	_, excluded := resumeSucc[nodeID]
	return !excluded
}

// InBlockedScope reports whether nodeID falls within detour d's blocked
// scope. Exported for component M (diagnose), which needs to explain
// *why* a task is held, not just whether it is (§4.C rule 4, §4.M).
func InBlockedScope(idx *Index, d truth.DetourRecord, nodeID uuid.UUID) bool {
	return inBlockedScope(idx, d, nodeID)
}

// CrossFlowSatisfied resolves a CrossFlowDependency against the sibling
// flow bound to dep.SourceWorkflowID within the same FlowGroup. Exported
// for component M, which needs to name the specific unresolved
// dependency rather than just reject the task as non-actionable.
func CrossFlowSatisfied(group GroupTruth, dep truth.CrossFlowDependency) bool {
	return crossFlowSatisfied(group, dep)
}

// crossFlowSatisfied resolves a CrossFlowDependency against the sibling
// flow bound to dep.SourceWorkflowID within the same FlowGroup.
func crossFlowSatisfied(group GroupTruth, dep truth.CrossFlowDependency) bool {
	sibling, ok := group.Siblings[dep.SourceWorkflowID]
	if !ok {
		return false
	}
	idx := BuildIndex(sibling.Snapshot)
	taskID, ok := resolveTaskPath(idx, dep.SourceTaskPath)
	if !ok {
		return false
	}
	for _, e := range sibling.Executions {
		if e.TaskID != taskID || e.Outcome == nil {
			continue
		}
		if *e.Outcome == dep.RequiredOutcome {
			return true
		}
	}
	return false
}

// resolveTaskPath resolves a "NodeName/TaskName" source task path against
// a sibling's snapshot. The path format matches how WorkflowVersion
// snapshots are addressed elsewhere in this package (by name, not id,
// since cross-flow dependencies are authored against a workflow
// definition rather than a specific frozen version's ids).
func resolveTaskPath(idx *Index, path string) (uuid.UUID, bool) {
	nodeName, taskName := splitPath(path)
	for i := range idx.Snapshot.Nodes {
		n := &idx.Snapshot.Nodes[i]
		if n.Name != nodeName {
			continue
		}
		for _, t := range n.Tasks {
			if t.Name == taskName {
				return t.ID, true
			}
		}
	}
	return uuid.Nil, false
}

func splitPath(path string) (node, task string) {
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return path, ""
}
