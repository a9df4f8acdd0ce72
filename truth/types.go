// Package truth defines the FlowSpec data model and the persistence
// interfaces that the rest of the engine is built against. Workflow,
// FlowGroup, Job, ScheduleBlock and ScheduleChangeRequest carry a
// CompanyID; every other entity belongs to a company through the
// workflow, flow group, flow or job it hangs off. AssertOwned in
// context.go compares a companyId with the request's Tenant.
package truth

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// LifecycleStatus is the Workflow lifecycle state.
type LifecycleStatus string

const (
	StatusDraft     LifecycleStatus = "DRAFT"
	StatusValidated LifecycleStatus = "VALIDATED"
	StatusPublished LifecycleStatus = "PUBLISHED"
)

// FlowStatus is the Flow execution state.
type FlowStatus string

const (
	FlowActive    FlowStatus = "ACTIVE"
	FlowCompleted FlowStatus = "COMPLETED"
	FlowBlocked   FlowStatus = "BLOCKED"
)

// NodeKind distinguishes mainline nodes from detour (compensation) nodes.
type NodeKind string

const (
	NodeMainline NodeKind = "MAINLINE"
	NodeDetour   NodeKind = "DETOUR"
)

// CompletionRule determines when a node is considered complete given its
// tasks' outcomes.
type CompletionRule string

const (
	AllTasksDone      CompletionRule = "ALL_TASKS_DONE"
	AnyTaskDone        CompletionRule = "ANY_TASK_DONE"
	SpecificTasksDone CompletionRule = "SPECIFIC_TASKS_DONE"
)

// ValidityState is the latest-wins verdict on a TaskExecution's outcome.
type ValidityState string

const (
	Valid       ValidityState = "VALID"
	Provisional ValidityState = "PROVISIONAL"
	Invalid     ValidityState = "INVALID"
)

// DetourType classifies a DetourRecord. BLOCKING detours gate node
// actionability (§4.C rule 4); other types are reserved for future use.
type DetourType string

const (
	DetourBlocking DetourType = "BLOCKING"
)

// DetourStatus is the lifecycle state of a DetourRecord.
type DetourStatus string

const (
	DetourActive    DetourStatus = "ACTIVE"
	DetourResolved  DetourStatus = "RESOLVED"
	DetourCancelled DetourStatus = "CANCELLED"
)

// TimeClass is the confidence level of a ScheduleBlock.
type TimeClass string

const (
	Tentative TimeClass = "TENTATIVE"
	Planned   TimeClass = "PLANNED"
	Committed TimeClass = "COMMITTED"
)

// ChangeRequestStatus is the lifecycle state of a ScheduleChangeRequest.
type ChangeRequestStatus string

const (
	RequestPending   ChangeRequestStatus = "PENDING"
	RequestInReview  ChangeRequestStatus = "IN_REVIEW"
	RequestAccepted  ChangeRequestStatus = "ACCEPTED"
	RequestCommitted ChangeRequestStatus = "COMMITTED"
	RequestRejected  ChangeRequestStatus = "REJECTED"
	RequestCancelled ChangeRequestStatus = "CANCELLED"
)

// JobPriority is the coarse priority band carried by FlowGroupPolicy.
type JobPriority string

const (
	PriorityLow    JobPriority = "LOW"
	PriorityNormal JobPriority = "NORMAL"
	PriorityHigh   JobPriority = "HIGH"
	PriorityUrgent JobPriority = "URGENT"
)

// EvidenceType tags the shape of an EvidenceAttachment's payload.
type EvidenceType string

const (
	EvidenceStructured EvidenceType = "STRUCTURED"
	EvidenceText       EvidenceType = "TEXT"
	EvidenceFile       EvidenceType = "FILE"
)

type (
	// Outcome is a named terminal label a task execution can end in.
	Outcome struct {
		Name string `json:"name"`
	}

	// CrossFlowDependency gates a task on an outcome recorded by a task in
	// a sibling flow bound to a different workflow within the same
	// FlowGroup.
	CrossFlowDependency struct {
		SourceWorkflowID uuid.UUID `json:"sourceWorkflowId"`
		SourceTaskPath   string    `json:"sourceTaskPath"`
		RequiredOutcome  string    `json:"requiredOutcome"`
	}

	// Task is a unit of work embedded in a Node within a WorkflowVersion
	// snapshot.
	Task struct {
		ID                   uuid.UUID             `json:"id"`
		Name                 string                `json:"name"`
		Instructions         string                `json:"instructions,omitempty"`
		DisplayOrder         int                   `json:"displayOrder"`
		EvidenceRequired     bool                  `json:"evidenceRequired"`
		EvidenceSchema       json.RawMessage       `json:"evidenceSchema,omitempty"`
		Metadata             map[string]any        `json:"metadata,omitempty"`
		DefaultSLAHours      *float64              `json:"defaultSlaHours,omitempty"`
		Outcomes             []Outcome             `json:"outcomes"`
		CrossFlowDependencies []CrossFlowDependency `json:"crossFlowDependencies,omitempty"`
	}

	// Node is a vertex in the workflow graph, owning an ordered set of
	// tasks.
	Node struct {
		ID                   uuid.UUID      `json:"id"`
		Name                 string         `json:"name"`
		IsEntry              bool           `json:"isEntry"`
		NodeKind             NodeKind       `json:"nodeKind"`
		CompletionRule       CompletionRule `json:"completionRule"`
		SpecificTasks        []uuid.UUID    `json:"specificTasks,omitempty"`
		TransitiveSuccessors []uuid.UUID    `json:"transitiveSuccessors"`
		Tasks                []Task         `json:"tasks"`
	}

	// Gate routes a task outcome on a source node to a target node, or to
	// nil for a terminal branch.
	Gate struct {
		SourceNodeID uuid.UUID  `json:"sourceNodeId"`
		OutcomeName  string     `json:"outcomeName"`
		TargetNodeID *uuid.UUID `json:"targetNodeId,omitempty"`
	}

	// Workflow is the editable spec graph owned by a company.
	Workflow struct {
		ID               uuid.UUID       `json:"id"`
		CompanyID        uuid.UUID       `json:"companyId"`
		Name             string          `json:"name"`
		Status           LifecycleStatus `json:"status"`
		Version          int             `json:"version"`
		IsNonTerminating bool            `json:"isNonTerminating"`
		PublishedAt      *time.Time      `json:"publishedAt,omitempty"`
		PublishedBy      *uuid.UUID      `json:"publishedBy,omitempty"`
		CreatedAt        time.Time       `json:"createdAt"`
		UpdatedAt        time.Time       `json:"updatedAt"`
	}

	// WorkflowVersion is the immutable snapshot frozen at
	// publish time. Its bytes never change once written (INV-011).
	WorkflowVersion struct {
		ID               uuid.UUID `json:"id"`
		WorkflowID       uuid.UUID `json:"workflowId"`
		Version          int       `json:"version"`
		Name             string    `json:"name"`
		IsNonTerminating bool      `json:"isNonTerminating"`
		Nodes            []Node    `json:"nodes"`
		Gates            []Gate    `json:"gates"`
		CreatedAt        time.Time `json:"createdAt"`
	}

	// FlowGroup is an execution scope grouping sibling flows that share an
	// identity (e.g. a job or an opportunity).
	FlowGroup struct {
		ID        uuid.UUID `json:"id"`
		CompanyID uuid.UUID `json:"companyId"`
		ScopeType string    `json:"scopeType"`
		ScopeID   string    `json:"scopeId"`
		CreatedAt time.Time `json:"createdAt"`
	}

	// Flow is one workflow instance bound permanently to a WorkflowVersion
	// (INV-010).
	Flow struct {
		ID                uuid.UUID  `json:"id"`
		FlowGroupID       uuid.UUID  `json:"flowGroupId"`
		WorkflowID        uuid.UUID  `json:"workflowId"`
		WorkflowVersionID uuid.UUID  `json:"workflowVersionId"`
		Status            FlowStatus `json:"status"`
		// TruthVersion is a monotonic counter bumped once by every
		// mutating component-F step (startTask, attachEvidence,
		// recordOutcome) that touches this flow. It exists solely so a
		// read-through cache (§5 EXPANSION) can key on "the Truth this
		// flow had as of its last write" without inspecting row contents.
		TruthVersion int64     `json:"truthVersion"`
		CreatedAt    time.Time `json:"createdAt"`
		UpdatedAt    time.Time `json:"updatedAt"`
	}

	// NodeActivation records that a node became reachable at a given
	// iteration. Append-only; unique on (FlowID, NodeID, Iteration).
	NodeActivation struct {
		FlowID      uuid.UUID `json:"flowId"`
		NodeID      uuid.UUID `json:"nodeId"`
		Iteration   int       `json:"iteration"`
		ActivatedAt time.Time `json:"activatedAt"`
	}

	// TaskExecution is the single row tracking one (FlowID, TaskID,
	// Iteration) attempt. Outcome fields are write-once (INV-007).
	TaskExecution struct {
		ID         uuid.UUID  `json:"id"`
		FlowID     uuid.UUID  `json:"flowId"`
		TaskID     uuid.UUID  `json:"taskId"`
		Iteration  int        `json:"iteration"`
		StartedAt  *time.Time `json:"startedAt,omitempty"`
		StartedBy  *uuid.UUID `json:"startedBy,omitempty"`
		Outcome    *string    `json:"outcome,omitempty"`
		OutcomeAt  *time.Time `json:"outcomeAt,omitempty"`
		OutcomeBy  *uuid.UUID `json:"outcomeBy,omitempty"`
		DetourID   *uuid.UUID `json:"detourId,omitempty"`
	}

	// FilePointer is the strict, no-base64 reference to a FILE evidence
	// payload. Unknown keys at the boundary must be rejected by decoders.
	FilePointer struct {
		StorageKey string `json:"storageKey"`
		FileName   string `json:"fileName"`
		MimeType   string `json:"mimeType"`
		Size       int64  `json:"size"`
		Bucket     string `json:"bucket"`
	}

	// EvidenceData is the tagged-union payload of an EvidenceAttachment.
	// Exactly one of Content or Pointer is set, matching EvidenceType.
	EvidenceData struct {
		Content any          `json:"content,omitempty"`
		Pointer *FilePointer `json:"pointer,omitempty"`
	}

	// EvidenceAttachment is an append-only record attached to a task
	// execution's flow/task pair.
	EvidenceAttachment struct {
		ID             uuid.UUID    `json:"id"`
		FlowID         uuid.UUID    `json:"flowId"`
		TaskID         uuid.UUID    `json:"taskId"`
		Type           EvidenceType `json:"type"`
		Data           EvidenceData `json:"data"`
		AttachedBy     uuid.UUID    `json:"attachedBy"`
		AttachedAt     time.Time    `json:"attachedAt"`
		IdempotencyKey *string      `json:"idempotencyKey,omitempty"`
	}

	// ValidityEvent overrides the default VALID verdict on a task
	// execution's outcome. Latest-wins by (CreatedAt DESC, ID DESC).
	ValidityEvent struct {
		ID              uuid.UUID     `json:"id"`
		TaskExecutionID uuid.UUID     `json:"taskExecutionId"`
		State           ValidityState `json:"state"`
		CreatedAt       time.Time     `json:"createdAt"`
	}

	// DetourRecord links a checkpoint to a resume target for a blocking
	// compensation subgraph.
	DetourRecord struct {
		ID                      uuid.UUID    `json:"id"`
		FlowID                  uuid.UUID    `json:"flowId"`
		CheckpointNodeID        uuid.UUID    `json:"checkpointNodeId"`
		ResumeTargetNodeID      uuid.UUID    `json:"resumeTargetNodeId"`
		CheckpointTaskExecution uuid.UUID    `json:"checkpointTaskExecutionId"`
		Type                    DetourType   `json:"type"`
		Status                  DetourStatus `json:"status"`
		ChangeRequestID         *uuid.UUID   `json:"changeRequestId,omitempty"`
		CreatedAt               time.Time    `json:"createdAt"`
	}

	// ScheduleBlock is a supersedable time slot linked to a task/flow.
	ScheduleBlock struct {
		ID              uuid.UUID      `json:"id"`
		CompanyID       uuid.UUID      `json:"companyId"`
		TaskID          uuid.UUID      `json:"taskId"`
		FlowID          *uuid.UUID     `json:"flowId,omitempty"`
		TimeClass       TimeClass      `json:"timeClass"`
		StartAt         time.Time      `json:"startAt"`
		EndAt           time.Time      `json:"endAt"`
		Metadata        map[string]any `json:"metadata,omitempty"`
		CreatedBy       uuid.UUID      `json:"createdBy"`
		CreatedAt       time.Time      `json:"createdAt"`
		SupersededAt    *time.Time     `json:"supersededAt,omitempty"`
		SupersededBy    *uuid.UUID     `json:"supersededBy,omitempty"`
		ChangeRequestID *uuid.UUID     `json:"changeRequestId,omitempty"`
	}

	// ScheduleChangeRequest captures a proposal to add or move a
	// ScheduleBlock; it never mutates ScheduleBlocks directly.
	ScheduleChangeRequest struct {
		ID              uuid.UUID           `json:"id"`
		CompanyID       uuid.UUID           `json:"companyId"`
		FlowID          *uuid.UUID          `json:"flowId,omitempty"`
		TaskID          *uuid.UUID          `json:"taskId,omitempty"`
		DetourRecordID  *uuid.UUID          `json:"detourRecordId,omitempty"`
		TimeClass       TimeClass           `json:"timeClass"`
		Reason          string              `json:"reason"`
		Metadata        map[string]any      `json:"metadata,omitempty"`
		Status          ChangeRequestStatus `json:"status"`
		RequestedBy     uuid.UUID           `json:"requestedBy"`
		ReviewedBy      *uuid.UUID          `json:"reviewedBy,omitempty"`
		CreatedAt       time.Time           `json:"createdAt"`
		UpdatedAt       time.Time           `json:"updatedAt"`
	}

	// FanOutRule triggers instantiation of a child workflow when a given
	// outcome fires on a given source node.
	FanOutRule struct {
		WorkflowID      uuid.UUID `json:"workflowId"`
		SourceNodeID    uuid.UUID `json:"sourceNodeId"`
		TriggerOutcome  string    `json:"triggerOutcome"`
		TargetWorkflowID uuid.UUID `json:"targetWorkflowId"`
	}

	// TaskOverride customizes the SLA for one task within a FlowGroup.
	TaskOverride struct {
		TaskID   uuid.UUID `json:"taskId"`
		SLAHours *float64  `json:"slaHours,omitempty"`
	}

	// FlowGroupPolicy is the per-flow-group policy layer influencing
	// signals without changing structure.
	FlowGroupPolicy struct {
		FlowGroupID   uuid.UUID      `json:"flowGroupId"`
		JobPriority   JobPriority    `json:"jobPriority"`
		GroupDueAt    *time.Time     `json:"groupDueAt,omitempty"`
		TaskOverrides []TaskOverride `json:"taskOverrides,omitempty"`
	}

	// Job is the durable side effect of a SALE_CLOSED-class outcome
	// (§4.G). One Job per FlowGroup.
	Job struct {
		ID          uuid.UUID `json:"id"`
		CompanyID   uuid.UUID `json:"companyId"`
		FlowGroupID uuid.UUID `json:"flowGroupId"`
		CustomerID  string    `json:"customerId"`
		Address     string    `json:"address"`
		CreatedAt   time.Time `json:"createdAt"`
	}

	// Assignment attaches a person or an external party to a Job. Rich
	// union variant (§9 "Rich union variants"): exactly one of ActorID or
	// ExternalLabel is set, matching Kind. Adding or removing assignments
	// never changes the actionable-task set or its order (§7 "Assignment
	// non-reduction") — assignments are enrichment, not derived state.
	Assignment struct {
		ID            uuid.UUID      `json:"id"`
		JobID         uuid.UUID      `json:"jobId"`
		Kind          AssignmentKind `json:"kind"`
		ActorID       *uuid.UUID     `json:"actorId,omitempty"`
		ExternalLabel string         `json:"externalLabel,omitempty"`
		CreatedAt     time.Time      `json:"createdAt"`
	}
)

// AssignmentKind tags an Assignment's variant.
type AssignmentKind string

const (
	AssignmentPerson   AssignmentKind = "PERSON"
	AssignmentExternal AssignmentKind = "EXTERNAL"
)
