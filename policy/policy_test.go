package policy_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowspec/engine/kernel"
	"github.com/flowspec/engine/policy"
	"github.com/flowspec/engine/truth"
)

type fakeStore struct {
	policies map[uuid.UUID]truth.FlowGroupPolicy
}

func (f *fakeStore) GetPolicy(_ context.Context, flowGroupID uuid.UUID) (truth.FlowGroupPolicy, bool, error) {
	p, ok := f.policies[flowGroupID]
	return p, ok, nil
}
func (f *fakeStore) PutPolicy(_ context.Context, p truth.FlowGroupPolicy) (truth.FlowGroupPolicy, error) {
	f.policies[p.FlowGroupID] = p
	return p, nil
}

func sla(v float64) *float64 { return &v }

func TestComputeEffectivePolicy_DefaultsWhenNoneSet(t *testing.T) {
	store := &fakeStore{policies: map[uuid.UUID]truth.FlowGroupPolicy{}}
	groupID := uuid.New()
	idx := kernel.BuildIndex(truth.WorkflowVersion{})

	p, err := policy.New().ComputeEffectivePolicy(context.Background(), store, groupID, idx)
	require.NoError(t, err)
	assert.Equal(t, truth.PriorityNormal, p.JobPriority)
	assert.Empty(t, p.TaskOverrides)
}

func TestComputeEffectivePolicy_RejectsOverrideForUnknownTask(t *testing.T) {
	groupID := uuid.New()
	store := &fakeStore{policies: map[uuid.UUID]truth.FlowGroupPolicy{
		groupID: {FlowGroupID: groupID, TaskOverrides: []truth.TaskOverride{{TaskID: uuid.New(), SLAHours: sla(4)}}},
	}}
	idx := kernel.BuildIndex(truth.WorkflowVersion{})

	_, err := policy.New().ComputeEffectivePolicy(context.Background(), store, groupID, idx)
	assert.ErrorIs(t, err, truth.ErrInvalidTaskOverrides)
}

func TestComputeTaskSignals_OverridePrecedesDefault(t *testing.T) {
	taskID := uuid.New()
	task := truth.Task{ID: taskID, DefaultSLAHours: sla(48)}
	p := truth.FlowGroupPolicy{JobPriority: truth.PriorityHigh, TaskOverrides: []truth.TaskOverride{{TaskID: taskID, SLAHours: sla(4)}}}
	activatedAt := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	asOf := activatedAt.Add(5 * time.Hour)

	signals := policy.New().ComputeTaskSignals(p, task, activatedAt, asOf)
	require.NotNil(t, signals.EffectiveSLAHours)
	assert.Equal(t, 4.0, *signals.EffectiveSLAHours)
	assert.True(t, signals.IsOverdue)
	assert.Equal(t, truth.PriorityHigh, signals.JobPriority)
}

func TestComputeTaskSignals_NullWhenNeitherOverrideNorDefault(t *testing.T) {
	task := truth.Task{ID: uuid.New()}
	p := truth.FlowGroupPolicy{}
	now := time.Now()

	signals := policy.New().ComputeTaskSignals(p, task, now, now)
	assert.Nil(t, signals.EffectiveSLAHours)
	assert.Nil(t, signals.EffectiveDueAt)
	assert.False(t, signals.IsOverdue)
	assert.False(t, signals.IsDueSoon)
	assert.Equal(t, truth.PriorityNormal, signals.JobPriority)
}

func TestComputeTaskSignals_GroupDueAtCapsEarlier(t *testing.T) {
	task := truth.Task{ID: uuid.New(), DefaultSLAHours: sla(100)}
	groupDue := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	p := truth.FlowGroupPolicy{GroupDueAt: &groupDue}
	activatedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	signals := policy.New().ComputeTaskSignals(p, task, activatedAt, activatedAt)
	require.NotNil(t, signals.EffectiveDueAt)
	assert.True(t, signals.EffectiveDueAt.Equal(groupDue))
}
