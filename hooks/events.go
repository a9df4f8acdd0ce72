package hooks

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of a published Event (§4.K).
type EventType string

const (
	TaskStarted   EventType = "TASK_STARTED"
	TaskDone      EventType = "TASK_DONE"
	NodeActivated EventType = "NODE_ACTIVATED"
	FlowCompleted EventType = "FLOW_COMPLETED"
	FlowBlocked   EventType = "FLOW_BLOCKED"
)

// Event is the interface every published event implements. The engine
// publishes events through the Bus post-commit (§4.F step 12); subscribers
// type-switch on the concrete value to reach event-specific fields.
type Event interface {
	Type() EventType
	FlowIDValue() uuid.UUID
	CompanyIDValue() uuid.UUID
	TimestampValue() time.Time
}

type base struct {
	FlowID    uuid.UUID
	CompanyID uuid.UUID
	At        time.Time
}

func (b base) FlowIDValue() uuid.UUID      { return b.FlowID }
func (b base) CompanyIDValue() uuid.UUID   { return b.CompanyID }
func (b base) TimestampValue() time.Time   { return b.At }

// TaskStartedEvent is published when startTask commits.
type TaskStartedEvent struct {
	base
	TaskID    uuid.UUID
	Iteration int
}

func (TaskStartedEvent) Type() EventType { return TaskStarted }

// TaskDoneEvent is published when recordOutcome commits a new outcome.
type TaskDoneEvent struct {
	base
	TaskID    uuid.UUID
	Iteration int
	Outcome   string
}

func (TaskDoneEvent) Type() EventType { return TaskDone }

// NodeActivatedEvent is published once per node newly routed to by a
// recordOutcome call (§4.F step 12 — "one NODE_ACTIVATED per routed node").
type NodeActivatedEvent struct {
	base
	NodeID    uuid.UUID
	Iteration int
}

func (NodeActivatedEvent) Type() EventType { return NodeActivated }

// FlowCompletedEvent is published when a recordOutcome call drives the
// flow to COMPLETED.
type FlowCompletedEvent struct {
	base
}

func (FlowCompletedEvent) Type() EventType { return FlowCompleted }

// FlowBlockedEvent is published when a recordOutcome call leaves the flow
// with no actionable tasks and it is not complete — the diagnose-eligible
// stall state (§4.M).
type FlowBlockedEvent struct {
	base
}

func (FlowBlockedEvent) Type() EventType { return FlowBlocked }

// NewTaskStarted builds a TaskStartedEvent.
func NewTaskStarted(companyID, flowID, taskID uuid.UUID, iteration int, at time.Time) Event {
	return TaskStartedEvent{base: base{FlowID: flowID, CompanyID: companyID, At: at}, TaskID: taskID, Iteration: iteration}
}

// NewTaskDone builds a TaskDoneEvent.
func NewTaskDone(companyID, flowID, taskID uuid.UUID, iteration int, outcome string, at time.Time) Event {
	return TaskDoneEvent{base: base{FlowID: flowID, CompanyID: companyID, At: at}, TaskID: taskID, Iteration: iteration, Outcome: outcome}
}

// NewNodeActivated builds a NodeActivatedEvent.
func NewNodeActivated(companyID, flowID, nodeID uuid.UUID, iteration int, at time.Time) Event {
	return NodeActivatedEvent{base: base{FlowID: flowID, CompanyID: companyID, At: at}, NodeID: nodeID, Iteration: iteration}
}

// NewFlowCompleted builds a FlowCompletedEvent.
func NewFlowCompleted(companyID, flowID uuid.UUID, at time.Time) Event {
	return FlowCompletedEvent{base: base{FlowID: flowID, CompanyID: companyID, At: at}}
}

// NewFlowBlocked builds a FlowBlockedEvent.
func NewFlowBlocked(companyID, flowID uuid.UUID, at time.Time) Event {
	return FlowBlockedEvent{base: base{FlowID: flowID, CompanyID: companyID, At: at}}
}
