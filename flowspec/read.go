package flowspec

import (
	"context"

	"github.com/google/uuid"

	"github.com/flowspec/engine/kernel"
	"github.com/flowspec/engine/truth"
)

// ReadStore is the persistence surface every derived-state query needs:
// the full truth.Store, since assembling one flow's GroupTruth requires
// reading every sibling flow's Truth plus the snapshot each is bound to
// (§4.C "siblings in a FlowGroup").
type ReadStore = truth.Store

// loadGroupTruth assembles the kernel.GroupTruth for flowID's FlowGroup:
// every sibling flow, each paired with the WorkflowVersion snapshot it is
// permanently bound to (INV-010) and its own slice of Truth rows. This
// is read-path orchestration, not kernel logic — the kernel itself never
// performs I/O (§4.C).
func loadGroupTruth(ctx context.Context, store ReadStore, flowID uuid.UUID) (kernel.GroupTruth, uuid.UUID, error) {
	flow, err := store.GetFlow(ctx, flowID)
	if err != nil {
		return kernel.GroupTruth{}, uuid.Nil, err
	}
	siblings, err := store.ListFlowsByGroup(ctx, flow.FlowGroupID)
	if err != nil {
		return kernel.GroupTruth{}, uuid.Nil, err
	}

	group := kernel.GroupTruth{Siblings: make(map[uuid.UUID]kernel.FlowTruth, len(siblings))}
	for _, sibling := range siblings {
		ft, err := loadFlowTruth(ctx, store, sibling)
		if err != nil {
			return kernel.GroupTruth{}, uuid.Nil, err
		}
		group.Siblings[sibling.WorkflowID] = ft
	}
	return group, flow.WorkflowID, nil
}

func loadFlowTruth(ctx context.Context, store ReadStore, flow truth.Flow) (kernel.FlowTruth, error) {
	snapshot, err := store.GetWorkflowVersion(ctx, flow.WorkflowVersionID)
	if err != nil {
		return kernel.FlowTruth{}, err
	}
	activations, err := store.ListActivations(ctx, flow.ID)
	if err != nil {
		return kernel.FlowTruth{}, err
	}
	executions, err := store.ListExecutions(ctx, flow.ID)
	if err != nil {
		return kernel.FlowTruth{}, err
	}
	validityEvents, err := store.ListValidityEvents(ctx, flow.ID)
	if err != nil {
		return kernel.FlowTruth{}, err
	}
	detours, err := store.ListActiveDetours(ctx, flow.ID)
	if err != nil {
		return kernel.FlowTruth{}, err
	}
	evidence, err := loadEvidence(ctx, store, flow.ID, executions)
	if err != nil {
		return kernel.FlowTruth{}, err
	}
	return kernel.FlowTruth{
		Flow:        flow,
		Snapshot:    snapshot,
		Activations: activations,
		Executions:  executions,
		Evidence:    evidence,
		Validity:    validityEvents,
		Detours:     detours,
	}, nil
}

// loadEvidence gathers every EvidenceAttachment for flowID across the
// distinct tasks it has executions for. ListEvidence is scoped per
// (flowID, taskID) (§6), so the flow-wide FlowTruth.Evidence slice is
// assembled by querying once per distinct task seen in executions.
func loadEvidence(ctx context.Context, store ReadStore, flowID uuid.UUID, executions []truth.TaskExecution) ([]truth.EvidenceAttachment, error) {
	seen := make(map[uuid.UUID]struct{}, len(executions))
	var evidence []truth.EvidenceAttachment
	for _, e := range executions {
		if _, ok := seen[e.TaskID]; ok {
			continue
		}
		seen[e.TaskID] = struct{}{}
		items, err := store.ListEvidence(ctx, flowID, e.TaskID)
		if err != nil {
			return nil, err
		}
		evidence = append(evidence, items...)
	}
	return evidence, nil
}
