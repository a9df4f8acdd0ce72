package kernel

import (
	"github.com/google/uuid"
	"github.com/flowspec/engine/truth"
)

// executionKey identifies one TaskExecution attempt.
type executionKey struct {
	TaskID    uuid.UUID
	Iteration int
}

// indexExecutions groups executions by (taskId, iteration) for O(1)
// lookup.
func indexExecutions(execs []truth.TaskExecution) map[executionKey]truth.TaskExecution {
	out := make(map[executionKey]truth.TaskExecution, len(execs))
	for _, e := range execs {
		out[executionKey{TaskID: e.TaskID, Iteration: e.Iteration}] = e
	}
	return out
}

// hasValidOutcome reports whether the execution at (taskID, iteration)
// exists, has an outcome, and that outcome's validity is VALID —
// PROVISIONAL and INVALID both count as "not done" (§4.C
// computeNodeComplete).
func hasValidOutcome(byKey map[executionKey]truth.TaskExecution, validity map[uuid.UUID]truth.ValidityState, taskID uuid.UUID, iteration int) bool {
	e, ok := byKey[executionKey{TaskID: taskID, Iteration: iteration}]
	if !ok || e.Outcome == nil {
		return false
	}
	return ValidityOf(validity, e.ID) == truth.Valid
}

// TaskHasValidOutcome reports whether (taskID, iteration) already has a
// VALID outcome recorded, given the flow's executions and validity
// events. The execution engine's precondition checks (§4.F steps 2 and
// the startTask "no VALID outcome yet" guard) use this instead of
// re-deriving the validity map inline.
func TaskHasValidOutcome(execs []truth.TaskExecution, events []truth.ValidityEvent, taskID uuid.UUID, iteration int) bool {
	return hasValidOutcome(indexExecutions(execs), ComputeValidityMap(events), taskID, iteration)
}

// ComputeNodeComplete evaluates node's completion rule over the
// TaskExecutions at the given iteration, treating PROVISIONAL/INVALID
// outcomes as not done.
func ComputeNodeComplete(node truth.Node, execs []truth.TaskExecution, validity map[uuid.UUID]truth.ValidityState, iteration int) bool {
	byKey := indexExecutions(execs)
	switch node.CompletionRule {
	case truth.AnyTaskDone:
		for _, t := range node.Tasks {
			if hasValidOutcome(byKey, validity, t.ID, iteration) {
				return true
			}
		}
		return len(node.Tasks) == 0
	case truth.SpecificTasksDone:
		for _, taskID := range node.SpecificTasks {
			if !hasValidOutcome(byKey, validity, taskID, iteration) {
				return false
			}
		}
		return true
	case truth.AllTasksDone:
		fallthrough
	default:
		for _, t := range node.Tasks {
			if !hasValidOutcome(byKey, validity, t.ID, iteration) {
				return false
			}
		}
		return true
	}
}

// CurrentIteration returns the highest NodeActivation.Iteration recorded
// for nodeID, or 0 if the node has never been activated (§4.F "Iteration
// semantics").
func CurrentIteration(activations []truth.NodeActivation, nodeID uuid.UUID) int {
	max := 0
	for _, a := range activations {
		if a.NodeID == nodeID && a.Iteration > max {
			max = a.Iteration
		}
	}
	return max
}

// activatedNodeSet returns the set of node ids that have at least one
// activation.
func activatedNodeSet(activations []truth.NodeActivation) map[uuid.UUID]struct{} {
	set := map[uuid.UUID]struct{}{}
	for _, a := range activations {
		set[a.NodeID] = struct{}{}
	}
	return set
}

// ComputeFlowComplete reports whether every node reachable from an
// activated node has either been reached and completed, or cannot be
// reached any further (no path remains from the activated frontier), with
// no ACTIVE detour outstanding and the workflow not marked
// IsNonTerminating (§4.C computeFlowComplete).
func ComputeFlowComplete(idx *Index, activations []truth.NodeActivation, execs []truth.TaskExecution, detours []truth.DetourRecord, validity map[uuid.UUID]truth.ValidityState) bool {
	if idx.Snapshot.IsNonTerminating {
		return false
	}
	for _, d := range detours {
		if d.Status == truth.DetourActive {
			return false
		}
	}
	activated := activatedNodeSet(activations)
	for nodeID := range activated {
		node := idx.Node(nodeID)
		if node == nil {
			continue
		}
		iter := CurrentIteration(activations, nodeID)
		if !ComputeNodeComplete(*node, execs, validity, iter) {
			return false
		}
		// Terminal gates are skipped. A non-terminal gate whose target
		// was never activated holds the flow open only when a task on
		// this node recorded that gate's outcome at the current
		// iteration (the branch was taken but its target not reached);
		// gates whose outcome was never recorded are branches not taken.
		for _, g := range idx.GatesFrom(nodeID) {
			if g.TargetNodeID == nil {
				continue
			}
			if _, ok := activated[*g.TargetNodeID]; !ok {
				if gateOutcomeRecorded(execs, idx, nodeID, g.OutcomeName, iter) {
					return false
				}
			}
		}
	}
	return true
}

// gateOutcomeRecorded reports whether any task on nodeID recorded the
// given outcome at iteration.
func gateOutcomeRecorded(execs []truth.TaskExecution, idx *Index, nodeID uuid.UUID, outcome string, iteration int) bool {
	node := idx.Node(nodeID)
	if node == nil {
		return false
	}
	taskSet := map[uuid.UUID]struct{}{}
	for _, t := range node.Tasks {
		taskSet[t.ID] = struct{}{}
	}
	for _, e := range execs {
		if e.Iteration != iteration || e.Outcome == nil {
			continue
		}
		if _, ok := taskSet[e.TaskID]; !ok {
			continue
		}
		if *e.Outcome == outcome {
			return true
		}
	}
	return false
}
