// Package diagnose implements component M: classifying why an ACTIVE
// flow currently has no actionable tasks, when it is neither blocked nor
// complete. Grounded on the teacher's runtime/agent/runtime/await_errors.go
// — a typed, exhaustive Reason enum plus one struct carrying whichever
// fields that reason needs — adapted from "why is this run waiting" to
// "why is this flow stalled". Diagnose is deterministic on Truth: the
// same flow/group snapshot always yields the same Diagnosis.
package diagnose

import (
	"sort"

	"github.com/google/uuid"

	"github.com/flowspec/engine/kernel"
	"github.com/flowspec/engine/truth"
)

// Reason classifies why a flow is stalled (§4.M).
type Reason string

const (
	// ReasonCrossFlowDependency: a task is held on an outcome a sibling
	// flow in the same FlowGroup has not yet recorded.
	ReasonCrossFlowDependency Reason = "CROSS_FLOW_DEPENDENCY"
	// ReasonBlockingDetour: an ACTIVE BLOCKING DetourRecord's blocked
	// scope covers the only reachable work.
	ReasonBlockingDetour Reason = "BLOCKING_DETOUR"
	// ReasonJoinBarrier: a multi-inbound node is waiting on an ancestor
	// that has not yet reached it.
	ReasonJoinBarrier Reason = "JOIN_BARRIER"
)

// Diagnosis is diagnose(flow)'s result. Only the fields relevant to
// Reason are populated.
type Diagnosis struct {
	Reason Reason

	// ReasonCrossFlowDependency fields.
	SourceWorkflowID uuid.UUID
	RequiredOutcome  string

	// ReasonBlockingDetour field.
	Detour truth.DetourRecord

	// ReasonJoinBarrier field.
	BlockingAncestorNodeID uuid.UUID
}

// Diagnose classifies why the flow bound to workflowID within group has
// no actionable tasks (§4.M). ok is false when there is nothing to
// explain: the flow is not ACTIVE, already complete, or does in fact
// have actionable work.
func Diagnose(group kernel.GroupTruth, workflowID uuid.UUID) (Diagnosis, bool) {
	ft, ok := group.Siblings[workflowID]
	if !ok || ft.Flow.Status != truth.FlowActive {
		return Diagnosis{}, false
	}
	if len(kernel.ComputeActionableTasks(group, workflowID)) > 0 {
		return Diagnosis{}, false
	}

	idx := kernel.BuildIndex(ft.Snapshot)
	validity := kernel.ComputeValidityMap(ft.Validity)
	if kernel.ComputeFlowComplete(idx, ft.Activations, ft.Executions, ft.Detours, validity) {
		return Diagnosis{}, false
	}

	activated := map[uuid.UUID]struct{}{}
	for _, a := range ft.Activations {
		activated[a.NodeID] = struct{}{}
	}

	for _, nodeID := range sortedNodeIDs(activated) {
		node := idx.Node(nodeID)
		if node == nil {
			continue
		}
		iter := kernel.CurrentIteration(ft.Activations, nodeID)
		for _, task := range node.Tasks {
			if kernel.TaskHasValidOutcome(ft.Executions, ft.Validity, task.ID, iter) {
				continue
			}
			if d, found := blockingDependency(group, task); found {
				return Diagnosis{Reason: ReasonCrossFlowDependency, SourceWorkflowID: d.SourceWorkflowID, RequiredOutcome: d.RequiredOutcome}, true
			}
			if d, found := blockingDetour(idx, ft.Detours, nodeID); found {
				return Diagnosis{Reason: ReasonBlockingDetour, Detour: d}, true
			}
			if ancestor, found := blockingAncestor(idx, ft.Detours, activated, nodeID); found {
				return Diagnosis{Reason: ReasonJoinBarrier, BlockingAncestorNodeID: ancestor}, true
			}
		}
	}
	return Diagnosis{}, false
}

func blockingDependency(group kernel.GroupTruth, task truth.Task) (truth.CrossFlowDependency, bool) {
	for _, dep := range task.CrossFlowDependencies {
		if !kernel.CrossFlowSatisfied(group, dep) {
			return dep, true
		}
	}
	return truth.CrossFlowDependency{}, false
}

func blockingDetour(idx *kernel.Index, detours []truth.DetourRecord, nodeID uuid.UUID) (truth.DetourRecord, bool) {
	for _, d := range detours {
		if d.Status != truth.DetourActive || d.Type != truth.DetourBlocking {
			continue
		}
		if kernel.InBlockedScope(idx, d, nodeID) {
			return d, true
		}
	}
	return truth.DetourRecord{}, false
}

// blockingAncestor implements §4.C rule 5's join-barrier check, but
// reports WHICH inbound ancestor is holding nodeID back instead of a
// plain bool.
func blockingAncestor(idx *kernel.Index, detours []truth.DetourRecord, activated map[uuid.UUID]struct{}, nodeID uuid.UUID) (uuid.UUID, bool) {
	gates := idx.InboundGates(nodeID)
	if len(gates) <= 1 {
		return uuid.Nil, false
	}
	for _, g := range gates {
		if _, ok := activated[g.SourceNodeID]; !ok {
			return g.SourceNodeID, true
		}
		for _, d := range detours {
			if d.Status == truth.DetourActive && d.Type == truth.DetourBlocking && kernel.InBlockedScope(idx, d, g.SourceNodeID) {
				return g.SourceNodeID, true
			}
		}
	}
	return uuid.Nil, false
}

func sortedNodeIDs(set map[uuid.UUID]struct{}) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
