// Package lifecycle implements component D: the Workflow state machine
// (Draft/Validated/Published) and the branch/revert/delete transitions
// that move a workflow between those states.
package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowspec/engine/snapshot"
	"github.com/flowspec/engine/truth"
	"github.com/flowspec/engine/validate"
)

// Store is the narrow persistence surface this package needs: the
// workflow/version aggregate plus the draft graph it hydrates into and
// out of. truth.Store satisfies it structurally.
type Store interface {
	truth.WorkflowStore
	truth.DraftGraphStore
}

// Controller drives the lifecycle state machine. It re-runs validation
// synchronously inside the same transaction as every transition that
// could leave a workflow published on stale or never-checked structure,
// per the spec's insistence that a workflow can never reach Published
// with a cached validation result.
type Controller struct {
	validator *validate.Validator
}

// New builds a Controller backed by v.
func New(v *validate.Validator) *Controller {
	return &Controller{validator: v}
}

// Validate moves a Draft workflow to Validated, running the full §4.J
// suite. A failing suite leaves the workflow in Draft and returns
// ErrValidationFailed together with the individual issues.
func (c *Controller) Validate(ctx context.Context, s Store, workflowID uuid.UUID, now time.Time) ([]validate.Issue, error) {
	w, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if w.Status != truth.StatusDraft {
		return nil, truth.ErrWorkflowNotEditable
	}
	nodes, gates, err := s.GetDraftGraph(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	issues := c.validator.ValidateGraph(nodes, gates)
	if len(issues) > 0 {
		return issues, truth.ErrValidationFailed
	}
	if err := s.UpdateWorkflowStatus(ctx, workflowID, truth.StatusValidated, now); err != nil {
		return nil, err
	}
	return nil, nil
}

// Edit moves a Validated workflow back to Draft. Any further structural
// change invalidates the prior validation pass, so re-entering Draft is
// the only way back to Validated.
func (c *Controller) Edit(ctx context.Context, s Store, workflowID uuid.UUID, now time.Time) error {
	w, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if w.Status != truth.StatusValidated {
		return truth.ErrInvalidState
	}
	return s.UpdateWorkflowStatus(ctx, workflowID, truth.StatusDraft, now)
}

// Publish re-runs validation (to catch post-validation drift, §4.D) even
// when the workflow is already Validated, then freezes the Draft graph
// into a new WorkflowVersion and bumps workflow.version.
func (c *Controller) Publish(ctx context.Context, s Store, workflowID uuid.UUID, publishedBy uuid.UUID, now time.Time) (truth.WorkflowVersion, []validate.Issue, error) {
	w, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return truth.WorkflowVersion{}, nil, err
	}
	if w.Status != truth.StatusDraft && w.Status != truth.StatusValidated {
		return truth.WorkflowVersion{}, nil, truth.ErrWorkflowNotEditable
	}
	nodes, gates, err := s.GetDraftGraph(ctx, workflowID)
	if err != nil {
		return truth.WorkflowVersion{}, nil, err
	}
	if issues := c.validator.ValidateGraph(nodes, gates); len(issues) > 0 {
		return truth.WorkflowVersion{}, issues, truth.ErrValidationFailed
	}

	nextVersion := w.Version + 1
	snap := snapshot.CreateWorkflowSnapshot(workflowID, nextVersion, w.Name, w.IsNonTerminating, nodes, gates, now)
	stored, err := s.PutWorkflowVersion(ctx, snap)
	if err != nil {
		return truth.WorkflowVersion{}, nil, err
	}
	if err := s.BumpWorkflowVersion(ctx, workflowID, nextVersion, now, publishedBy); err != nil {
		return truth.WorkflowVersion{}, nil, err
	}
	return stored, nil, nil
}

// BranchFromVersion hydrates a new Draft workflow out of a previously
// published snapshot (any version, not just the latest — INV-011 never
// prevents reading old snapshots, only writing them). The clone is deep
// and id-remapping; its normalized structure is byte-equivalent to the
// source snapshot (§8 hydration equivalence).
func (c *Controller) BranchFromVersion(ctx context.Context, s Store, snap truth.WorkflowVersion, companyID uuid.UUID, now time.Time) (uuid.UUID, error) {
	workflowID, _, _, err := snapshot.HydrateSnapshotToWorkflow(ctx, s, snap, companyID, snap.Version+1, snap.Name, now)
	return workflowID, err
}

// Delete removes a Draft workflow with no published versions. A workflow
// that has ever been published, or that currently is, cannot be deleted
// (INV-011 / PUBLISHED_IMMUTABLE); a Draft-with-any-version is itself an
// ERROR state per §4.D's state table, reported the same way.
func (c *Controller) Delete(ctx context.Context, s Store, workflowID uuid.UUID) error {
	w, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if w.Status != truth.StatusDraft {
		return truth.ErrPublishedImmutable
	}
	versions, err := s.ListWorkflowVersions(ctx, workflowID)
	if err != nil {
		return err
	}
	if len(versions) > 0 {
		return truth.ErrPublishedImmutable
	}
	return s.DeleteWorkflow(ctx, workflowID)
}
