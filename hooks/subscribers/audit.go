// Package subscribers provides hooks.Subscriber implementations that
// react to FlowSpec's TASK_STARTED/TASK_DONE/NODE_ACTIVATED/
// FLOW_COMPLETED/FLOW_BLOCKED family by writing to an external system,
// rather than by mutating Truth. Both adapters below subscribe through
// the same composition root every other hooks.Subscriber does
// (component K); they carry no special status in the hook dispatch
// order.
package subscribers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowspec/engine/evidence"
	"github.com/flowspec/engine/hooks"
)

// auditEnvelope is the canonical JSON shape written to the object store
// for every dispatched event — one object per event, no update path.
type auditEnvelope struct {
	CompanyID string         `json:"companyId"`
	FlowID    string         `json:"flowId"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// Audit durably records every event it receives as canonical JSON in the
// Evidence object store (§6), through the same Put contract FILE evidence
// payloads use. This reuses the content-addressed store as a second,
// replay-oriented log rather than standing up a dedicated audit database.
type Audit struct {
	store evidence.Store
}

// NewAudit builds an Audit subscriber backed by store.
func NewAudit(store evidence.Store) *Audit {
	return &Audit{store: store}
}

// HandleEvent implements hooks.Subscriber.
func (a *Audit) HandleEvent(ctx context.Context, event hooks.Event) error {
	envelope := auditEnvelope{
		CompanyID: event.CompanyIDValue().String(),
		FlowID:    event.FlowIDValue().String(),
		Type:      string(event.Type()),
		Payload:   eventPayload(event),
		Timestamp: event.TimestampValue().UTC(),
	}
	content, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal audit envelope: %w", err)
	}
	_, err = a.store.Put(ctx, content)
	return err
}

// eventPayload flattens the event-specific fields of a hooks.Event into a
// map so one envelope shape covers every event type without a union
// field per variant.
func eventPayload(event hooks.Event) map[string]any {
	switch e := event.(type) {
	case hooks.TaskStartedEvent:
		return map[string]any{"taskId": e.TaskID.String(), "iteration": e.Iteration}
	case hooks.TaskDoneEvent:
		return map[string]any{"taskId": e.TaskID.String(), "iteration": e.Iteration, "outcome": e.Outcome}
	case hooks.NodeActivatedEvent:
		return map[string]any{"nodeId": e.NodeID.String(), "iteration": e.Iteration}
	case hooks.FlowCompletedEvent, hooks.FlowBlockedEvent:
		return map[string]any{}
	default:
		return map[string]any{}
	}
}
