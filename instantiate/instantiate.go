// Package instantiate implements component E: creating a Flow bound to a
// published Workflow, including the FlowGroup upsert, the within-group
// duplicate-flow policy, anchor-task resolution, and entry-node
// activation.
package instantiate

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/flowspec/engine/truth"
)

// Store is the narrow persistence surface createFlow needs.
type Store interface {
	truth.WorkflowStore
	truth.FlowGroupStore
	truth.FlowStore
	truth.ActivationStore
	truth.EvidenceStore
}

// Params are the inputs to CreateFlow beyond the workflow identity.
type Params struct {
	CompanyID       uuid.UUID
	ScopeType       string
	ScopeID         string
	FlowGroupID     *uuid.UUID // when set, join this existing group instead of upserting by scope
	InitialEvidence *InitialEvidence
	ActorID         uuid.UUID
}

// InitialEvidence is the anchor-identity payload attached to the anchor
// task at flow creation, e.g. `{customerId, ...}` (§4.E step 5).
type InitialEvidence struct {
	Content        any
	IdempotencyKey *string
}

// Service implements createFlow (§4.E). It has no fields: every
// dependency is threaded through CreateFlow's Store parameter, matching
// the rest of the engine's preference for explicit transactional scope
// over package-level state.
type Service struct{}

// New builds a Service.
func New() *Service { return &Service{} }

// CreateFlow runs the full 6-step sequence of §4.E inside the caller's
// transaction. All steps are idempotent: calling it twice for the same
// (companyId, scope, workflowId) returns the same Flow both times.
func (s *Service) CreateFlow(ctx context.Context, store Store, workflowID uuid.UUID, p Params, now time.Time) (truth.Flow, error) {
	// Step 1: resolve workflow, require Published.
	w, err := store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return truth.Flow{}, err
	}
	if w.Status != truth.StatusPublished {
		return truth.Flow{}, truth.ErrWorkflowNotPublished
	}

	// Step 2: upsert FlowGroup by (companyId, scopeType, scopeId), unless
	// the caller already bound one explicitly (the fan-out path, §4.G,
	// always supplies FlowGroupID so every child flow lands in the
	// parent's group rather than a freshly upserted one).
	var group truth.FlowGroup
	if p.FlowGroupID != nil {
		group, err = store.GetFlowGroup(ctx, *p.FlowGroupID)
		if err != nil {
			return truth.Flow{}, err
		}
	} else {
		group, err = store.UpsertFlowGroup(ctx, p.CompanyID, p.ScopeType, p.ScopeID)
		if err != nil {
			return truth.Flow{}, err
		}
	}

	// Step 3: duplicate policy C1 — at most one Flow per workflowId
	// within a FlowGroup.
	if existing, found, err := store.FindFlowByWorkflow(ctx, group.ID, workflowID); err != nil {
		return truth.Flow{}, err
	} else if found {
		return existing, nil
	}

	version, err := store.GetLatestWorkflowVersion(ctx, workflowID)
	if err != nil {
		return truth.Flow{}, err
	}

	// Step 4: create Flow bound to the latest WorkflowVersion.
	flow, err := store.CreateFlow(ctx, truth.Flow{
		ID:                uuid.New(),
		FlowGroupID:       group.ID,
		WorkflowID:        workflowID,
		WorkflowVersionID: version.ID,
		Status:            truth.FlowActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		return truth.Flow{}, err
	}

	// Step 5: locate the anchor task and attach initial evidence to it.
	anchor, ok := AnchorTask(version)
	if p.InitialEvidence != nil {
		if !ok {
			return truth.Flow{}, truth.ErrAnchorTaskMissing
		}
		if _, err := store.AttachEvidence(ctx, truth.EvidenceAttachment{
			ID:             uuid.New(),
			FlowID:         flow.ID,
			TaskID:         anchor.ID,
			Type:           truth.EvidenceStructured,
			Data:           truth.EvidenceData{Content: p.InitialEvidence.Content},
			AttachedBy:     p.ActorID,
			AttachedAt:     now,
			IdempotencyKey: p.InitialEvidence.IdempotencyKey,
		}); err != nil {
			return truth.Flow{}, err
		}
	}

	// Step 6: activate every entry node at iteration 1.
	for _, n := range version.Nodes {
		if !n.IsEntry {
			continue
		}
		if _, _, err := store.ActivateNode(ctx, truth.NodeActivation{FlowID: flow.ID, NodeID: n.ID, Iteration: 1, ActivatedAt: now}); err != nil {
			return truth.Flow{}, err
		}
	}

	return flow, nil
}

// AnchorTask resolves the unique anchor task: the first task of the
// first entry node. Entry nodes are ordered by node name `ASC`; within
// the chosen node, tasks are ordered by `displayOrder ASC`, then task
// name `ASC` — the spec leaves the tie-break
// unspecified for the case of multiple entry nodes or multiple
// zero-displayOrder tasks, so this package fixes it deterministically.
func AnchorTask(snap truth.WorkflowVersion) (truth.Task, bool) {
	var entries []truth.Node
	for _, n := range snap.Nodes {
		if n.IsEntry {
			entries = append(entries, n)
		}
	}
	if len(entries) == 0 {
		return truth.Task{}, false
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	first := entries[0]
	if len(first.Tasks) == 0 {
		return truth.Task{}, false
	}
	tasks := append([]truth.Task(nil), first.Tasks...)
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].DisplayOrder != tasks[j].DisplayOrder {
			return tasks[i].DisplayOrder < tasks[j].DisplayOrder
		}
		return tasks[i].Name < tasks[j].Name
	})
	return tasks[0], true
}
