package truth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the tenant-scoped persistence surface the rest of the engine
// is built against (component A, §4.A). A Store reached via WithTx shares
// one underlying transaction across every method call; a Store obtained
// any other way performs each call in its own implicit transaction.
//
// Only this package's postgres implementation may mutate Truth tables
// (NodeActivation, TaskExecution, EvidenceAttachment) — the scheduling
// guard in §6 is enforced by code review and the import graph, not by a
// runtime check, exactly as the derived-state kernel's purity is.
type Store interface {
	WorkflowStore
	FlowGroupStore
	FlowStore
	ActivationStore
	ExecutionStore
	EvidenceStore
	ValidityStore
	DetourStore
	ScheduleStore
	PolicyStore
	FanOutStore
	JobStore
	DraftGraphStore

	// WithTx opens a transaction at REPEATABLE READ isolation (§5) and
	// invokes fn with a Store bound to it. If fn returns an error, the
	// transaction is rolled back and the same error is returned; a panic
	// inside fn also rolls back before propagating. On success the
	// transaction is committed before WithTx returns.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// WorkflowStore persists Workflow and WorkflowVersion rows.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, w Workflow) (Workflow, error)
	GetWorkflow(ctx context.Context, id uuid.UUID) (Workflow, error)
	// GetWorkflowByName looks up a workflow by its (companyId, name)
	// unique key, used to enforce (workflow, name, version=1).
	GetWorkflowByName(ctx context.Context, companyID uuid.UUID, name string) (Workflow, error)
	UpdateWorkflowStatus(ctx context.Context, id uuid.UUID, status LifecycleStatus, now time.Time) error
	BumpWorkflowVersion(ctx context.Context, id uuid.UUID, version int, publishedAt time.Time, publishedBy uuid.UUID) error
	DeleteWorkflow(ctx context.Context, id uuid.UUID) error

	PutWorkflowVersion(ctx context.Context, v WorkflowVersion) (WorkflowVersion, error)
	GetWorkflowVersion(ctx context.Context, id uuid.UUID) (WorkflowVersion, error)
	GetLatestWorkflowVersion(ctx context.Context, workflowID uuid.UUID) (WorkflowVersion, error)
	ListWorkflowVersions(ctx context.Context, workflowID uuid.UUID) ([]WorkflowVersion, error)
}

// FlowGroupStore persists FlowGroup rows.
type FlowGroupStore interface {
	// UpsertFlowGroup returns the existing row for (companyId, scopeType,
	// scopeId) if one exists, otherwise creates it (§4.E step 2).
	UpsertFlowGroup(ctx context.Context, companyID uuid.UUID, scopeType, scopeID string) (FlowGroup, error)
	GetFlowGroup(ctx context.Context, id uuid.UUID) (FlowGroup, error)
}

// FlowStore persists Flow rows.
type FlowStore interface {
	// FindFlowByWorkflow implements duplicate policy C1: at most one Flow
	// per workflowId within a FlowGroup.
	FindFlowByWorkflow(ctx context.Context, flowGroupID, workflowID uuid.UUID) (Flow, bool, error)
	CreateFlow(ctx context.Context, f Flow) (Flow, error)
	GetFlow(ctx context.Context, id uuid.UUID) (Flow, error)
	UpdateFlowStatus(ctx context.Context, id uuid.UUID, status FlowStatus) error
	ListFlowsByGroup(ctx context.Context, flowGroupID uuid.UUID) ([]Flow, error)
	// BumpTruthVersion increments and returns a flow's TruthVersion.
	// Every component-F mutator calls this exactly once per write so a
	// read-through cache keyed on TruthVersion never serves a stale hit.
	BumpTruthVersion(ctx context.Context, id uuid.UUID) (int64, error)
}

// ActivationStore persists NodeActivation rows (append-only).
type ActivationStore interface {
	// ActivateNode inserts a NodeActivation. The unique key on
	// (flowId, nodeId, iteration) makes this idempotent on retry: a
	// conflict is not an error, the existing row is returned with created=false.
	ActivateNode(ctx context.Context, a NodeActivation) (activation NodeActivation, created bool, err error)
	ListActivations(ctx context.Context, flowID uuid.UUID) ([]NodeActivation, error)
}

// ExecutionStore persists TaskExecution rows.
type ExecutionStore interface {
	// GetExecution returns the TaskExecution for (flowId, taskId,
	// iteration) if one has been started, regardless of whether it has an
	// outcome yet.
	GetExecution(ctx context.Context, flowID, taskID uuid.UUID, iteration int) (TaskExecution, bool, error)
	StartExecution(ctx context.Context, e TaskExecution) (TaskExecution, error)
	// RecordExecutionOutcome sets the outcome fields on an existing row.
	// Implementations must reject the call if the outcome is already set
	// (INV-007).
	RecordExecutionOutcome(ctx context.Context, id uuid.UUID, outcome string, by uuid.UUID, at time.Time) (TaskExecution, error)
	ListExecutions(ctx context.Context, flowID uuid.UUID) ([]TaskExecution, error)
}

// EvidenceStore persists EvidenceAttachment metadata rows (append-only).
// It is distinct from the blob object store consumed via evidence.Store
// (§6) — this interface stores the small, queryable row; the blob store
// holds the bytes for FILE evidence.
type EvidenceStore interface {
	// AttachEvidence inserts an EvidenceAttachment. If idempotencyKey is
	// set and a row already exists for (taskId, idempotencyKey), the
	// existing row is returned instead of a duplicate insert.
	AttachEvidence(ctx context.Context, e EvidenceAttachment) (EvidenceAttachment, error)
	ListEvidence(ctx context.Context, flowID, taskID uuid.UUID) ([]EvidenceAttachment, error)
	LatestEvidence(ctx context.Context, flowID, taskID uuid.UUID) (EvidenceAttachment, bool, error)
}

// ValidityStore persists ValidityEvent rows.
type ValidityStore interface {
	RecordValidityEvent(ctx context.Context, v ValidityEvent) (ValidityEvent, error)
	ListValidityEvents(ctx context.Context, flowID uuid.UUID) ([]ValidityEvent, error)
}

// DetourStore persists DetourRecord rows.
type DetourStore interface {
	CreateDetour(ctx context.Context, d DetourRecord) (DetourRecord, error)
	GetDetour(ctx context.Context, id uuid.UUID) (DetourRecord, error)
	ListActiveDetours(ctx context.Context, flowID uuid.UUID) ([]DetourRecord, error)
	SetDetourStatus(ctx context.Context, id uuid.UUID, status DetourStatus) error
}

// ScheduleStore persists ScheduleBlock and ScheduleChangeRequest rows.
type ScheduleStore interface {
	CreateChangeRequest(ctx context.Context, r ScheduleChangeRequest) (ScheduleChangeRequest, error)
	GetChangeRequest(ctx context.Context, id uuid.UUID) (ScheduleChangeRequest, error)
	UpdateChangeRequestStatus(ctx context.Context, id uuid.UUID, status ChangeRequestStatus, reviewedBy *uuid.UUID) (ScheduleChangeRequest, error)

	// CurrentBlock returns the non-superseded block for (taskId, flowId),
	// if any.
	CurrentBlock(ctx context.Context, taskID uuid.UUID, flowID *uuid.UUID) (ScheduleBlock, bool, error)
	// SupersedeAndCreate atomically marks prior as superseded by the new
	// block's id and inserts the new block. Implementations must fail the
	// call (and the caller's transaction) if prior was already superseded
	// by a concurrent writer, satisfying the "update-then-insert pair
	// that fails if another transaction already superseded" guarantee
	// from §5.
	SupersedeAndCreate(ctx context.Context, priorID *uuid.UUID, next ScheduleBlock) (ScheduleBlock, error)
}

// PolicyStore persists FlowGroupPolicy rows.
type PolicyStore interface {
	GetPolicy(ctx context.Context, flowGroupID uuid.UUID) (FlowGroupPolicy, bool, error)
	PutPolicy(ctx context.Context, p FlowGroupPolicy) (FlowGroupPolicy, error)
}

// FanOutStore persists FanOutRule rows.
type FanOutStore interface {
	ListFanOutRules(ctx context.Context, workflowID, sourceNodeID uuid.UUID, outcome string) ([]FanOutRule, error)
}

// JobStore persists Job rows (§4.G provisioning side effect).
type JobStore interface {
	// CreateJob enforces the (flowGroupId) unique constraint: a second
	// attempt for the same FlowGroup returns ErrJobAlreadyExists.
	CreateJob(ctx context.Context, j Job) (Job, error)
	GetJobByFlowGroup(ctx context.Context, flowGroupID uuid.UUID) (Job, bool, error)

	// CreateAssignment attaches a person or external party to a Job.
	// Assignments are enrichment data (§9 "assignments, signals,
	// recommendations"), never part of derived state.
	CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
	ListAssignments(ctx context.Context, jobID uuid.UUID) ([]Assignment, error)
}

// DraftGraphStore persists the editable Node/Task/Gate graph owned by a
// Draft Workflow (component B, §4.B). PutDraftGraph replaces the entire
// graph for a workflow in one call, which is what makes
// snapshot.HydrateSnapshotToWorkflow idempotent: a retried hydration
// overwrites rather than appends.
type DraftGraphStore interface {
	PutDraftGraph(ctx context.Context, workflowID uuid.UUID, nodes []Node, gates []Gate) error
	GetDraftGraph(ctx context.Context, workflowID uuid.UUID) (nodes []Node, gates []Gate, err error)
}
