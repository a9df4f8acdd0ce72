// Package policy implements component I: computeEffectivePolicy and
// computeTaskSignals. Both are read-only enrichment — signals they
// produce never reorder actionable output (§4.I) — grounded on the
// teacher's features/policy/basic.Engine: an explicit Options-shaped
// input, an override-before-default-before-null precedence chain, and a
// single pure Decide-style entry point per concern.
package policy

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowspec/engine/kernel"
	"github.com/flowspec/engine/truth"
)

// Store is the persistence surface computeEffectivePolicy needs.
type Store interface {
	truth.PolicyStore
}

// Signals is computeTaskSignals' pure output (§4.I).
type Signals struct {
	EffectiveSLAHours *float64
	EffectiveDueAt    *time.Time
	IsOverdue         bool
	IsDueSoon         bool
	JobPriority       truth.JobPriority
}

// Engine implements computeEffectivePolicy and computeTaskSignals. It
// owns no state of its own: every call is a pure function of its
// arguments (or, for ComputeEffectivePolicy, a single read through
// Store).
type Engine struct{}

// New builds an Engine.
func New() *Engine { return &Engine{} }

// ComputeEffectivePolicy reads the FlowGroupPolicy for flowGroupID,
// defaulting to the zero policy (NORMAL priority, no overrides, no group
// due date) if none has been set. It validates that every
// taskOverrides[].taskId named by the policy actually exists in idx's
// snapshot, returning ErrInvalidTaskOverrides otherwise (§4.I).
func (e *Engine) ComputeEffectivePolicy(ctx context.Context, store Store, flowGroupID uuid.UUID, idx *kernel.Index) (truth.FlowGroupPolicy, error) {
	p, found, err := store.GetPolicy(ctx, flowGroupID)
	if err != nil {
		return truth.FlowGroupPolicy{}, err
	}
	if !found {
		return truth.FlowGroupPolicy{FlowGroupID: flowGroupID, JobPriority: truth.PriorityNormal}, nil
	}
	for _, o := range p.TaskOverrides {
		if idx.Task(o.TaskID) == nil {
			return truth.FlowGroupPolicy{}, truth.ErrInvalidTaskOverrides
		}
	}
	return p, nil
}

// ComputeTaskSignals derives the read-only scheduling signals for one
// task's current activation (§4.I). The TaskOverride for task.ID within
// policy.TaskOverrides, if any, takes precedence over task.DefaultSLAHours.
func (e *Engine) ComputeTaskSignals(policy truth.FlowGroupPolicy, task truth.Task, activatedAt, asOf time.Time) Signals {
	override := findOverride(policy.TaskOverrides, task.ID)

	effectiveSLA := override
	if effectiveSLA == nil {
		effectiveSLA = task.DefaultSLAHours
	}

	var effectiveDueAt *time.Time
	if effectiveSLA != nil {
		due := activatedAt.Add(time.Duration(*effectiveSLA * float64(time.Hour)))
		if policy.GroupDueAt != nil && policy.GroupDueAt.Before(due) {
			due = *policy.GroupDueAt
		}
		effectiveDueAt = &due
	}

	var isOverdue, isDueSoon bool
	if effectiveDueAt != nil {
		isOverdue = asOf.After(*effectiveDueAt)
		remaining := effectiveDueAt.Sub(asOf)
		isDueSoon = remaining > 0 && remaining <= 24*time.Hour
	}

	priority := policy.JobPriority
	if priority == "" {
		priority = truth.PriorityNormal
	}

	return Signals{
		EffectiveSLAHours: effectiveSLA,
		EffectiveDueAt:    effectiveDueAt,
		IsOverdue:         isOverdue,
		IsDueSoon:         isDueSoon,
		JobPriority:       priority,
	}
}

func findOverride(overrides []truth.TaskOverride, taskID uuid.UUID) *float64 {
	for _, o := range overrides {
		if o.TaskID == taskID {
			return o.SLAHours
		}
	}
	return nil
}
