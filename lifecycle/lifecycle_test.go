package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowspec/engine/lifecycle"
	"github.com/flowspec/engine/truth"
	"github.com/flowspec/engine/validate"
)

type fakeStore struct {
	workflows map[uuid.UUID]truth.Workflow
	versions  map[uuid.UUID][]truth.WorkflowVersion
	nodes     map[uuid.UUID][]truth.Node
	gates     map[uuid.UUID][]truth.Gate
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workflows: map[uuid.UUID]truth.Workflow{},
		versions:  map[uuid.UUID][]truth.WorkflowVersion{},
		nodes:     map[uuid.UUID][]truth.Node{},
		gates:     map[uuid.UUID][]truth.Gate{},
	}
}

func (f *fakeStore) CreateWorkflow(_ context.Context, w truth.Workflow) (truth.Workflow, error) {
	f.workflows[w.ID] = w
	return w, nil
}
func (f *fakeStore) GetWorkflow(_ context.Context, id uuid.UUID) (truth.Workflow, error) {
	w, ok := f.workflows[id]
	if !ok {
		return truth.Workflow{}, truth.ErrFlowGroupNotFound
	}
	return w, nil
}
func (f *fakeStore) GetWorkflowByName(_ context.Context, companyID uuid.UUID, name string) (truth.Workflow, error) {
	for _, w := range f.workflows {
		if w.CompanyID == companyID && w.Name == name {
			return w, nil
		}
	}
	return truth.Workflow{}, truth.ErrFlowGroupNotFound
}
func (f *fakeStore) UpdateWorkflowStatus(_ context.Context, id uuid.UUID, status truth.LifecycleStatus, now time.Time) error {
	w := f.workflows[id]
	w.Status = status
	w.UpdatedAt = now
	f.workflows[id] = w
	return nil
}
func (f *fakeStore) BumpWorkflowVersion(_ context.Context, id uuid.UUID, version int, publishedAt time.Time, publishedBy uuid.UUID) error {
	w := f.workflows[id]
	w.Version = version
	w.Status = truth.StatusPublished
	w.PublishedAt = &publishedAt
	w.PublishedBy = &publishedBy
	f.workflows[id] = w
	return nil
}
func (f *fakeStore) DeleteWorkflow(_ context.Context, id uuid.UUID) error {
	delete(f.workflows, id)
	return nil
}
func (f *fakeStore) PutWorkflowVersion(_ context.Context, v truth.WorkflowVersion) (truth.WorkflowVersion, error) {
	f.versions[v.WorkflowID] = append(f.versions[v.WorkflowID], v)
	return v, nil
}
func (f *fakeStore) GetWorkflowVersion(_ context.Context, id uuid.UUID) (truth.WorkflowVersion, error) {
	for _, vs := range f.versions {
		for _, v := range vs {
			if v.ID == id {
				return v, nil
			}
		}
	}
	return truth.WorkflowVersion{}, truth.ErrFlowGroupNotFound
}
func (f *fakeStore) GetLatestWorkflowVersion(_ context.Context, workflowID uuid.UUID) (truth.WorkflowVersion, error) {
	vs := f.versions[workflowID]
	if len(vs) == 0 {
		return truth.WorkflowVersion{}, truth.ErrFlowGroupNotFound
	}
	return vs[len(vs)-1], nil
}
func (f *fakeStore) ListWorkflowVersions(_ context.Context, workflowID uuid.UUID) ([]truth.WorkflowVersion, error) {
	return f.versions[workflowID], nil
}
func (f *fakeStore) PutDraftGraph(_ context.Context, workflowID uuid.UUID, nodes []truth.Node, gates []truth.Gate) error {
	f.nodes[workflowID] = nodes
	f.gates[workflowID] = gates
	return nil
}
func (f *fakeStore) GetDraftGraph(_ context.Context, workflowID uuid.UUID) ([]truth.Node, []truth.Gate, error) {
	return f.nodes[workflowID], f.gates[workflowID], nil
}

func linearGraph() (uuid.UUID, []truth.Node, []truth.Gate) {
	n1, n2 := uuid.New(), uuid.New()
	nodes := []truth.Node{
		{ID: n1, Name: "N1", IsEntry: true, Tasks: []truth.Task{{ID: uuid.New(), Name: "T1", Outcomes: []truth.Outcome{{Name: "DONE"}}}}},
		{ID: n2, Name: "N2", Tasks: []truth.Task{{ID: uuid.New(), Name: "T2", Outcomes: []truth.Outcome{{Name: "FINISH"}}}}},
	}
	gates := []truth.Gate{
		{SourceNodeID: n1, OutcomeName: "DONE", TargetNodeID: &n2},
		{SourceNodeID: n2, OutcomeName: "FINISH"},
	}
	return n1, nodes, gates
}

func TestPublish_RunsValidationAndFreezesSnapshot(t *testing.T) {
	store := newFakeStore()
	wfID := uuid.New()
	companyID := uuid.New()
	now := time.Now()
	_, nodes, gates := linearGraph()
	_, err := store.CreateWorkflow(context.Background(), truth.Workflow{ID: wfID, CompanyID: companyID, Name: "Onboarding", Status: truth.StatusDraft, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	require.NoError(t, store.PutDraftGraph(context.Background(), wfID, nodes, gates))

	c := lifecycle.New(validate.New())
	snap, issues, err := c.Publish(context.Background(), store, wfID, uuid.New(), now)
	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.Equal(t, 1, snap.Version)
	assert.Equal(t, truth.StatusPublished, store.workflows[wfID].Status)
}

func TestPublish_FailsValidationLeavesWorkflowUnpublished(t *testing.T) {
	store := newFakeStore()
	wfID := uuid.New()
	now := time.Now()
	_, err := store.CreateWorkflow(context.Background(), truth.Workflow{ID: wfID, Status: truth.StatusDraft, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	require.NoError(t, store.PutDraftGraph(context.Background(), wfID, []truth.Node{{ID: uuid.New(), Name: "N1"}}, nil))

	c := lifecycle.New(validate.New())
	_, issues, err := c.Publish(context.Background(), store, wfID, uuid.New(), now)
	require.Error(t, err)
	assert.NotEmpty(t, issues)
	assert.Equal(t, truth.StatusDraft, store.workflows[wfID].Status)
}

func TestDelete_PublishedWorkflowIsImmutable(t *testing.T) {
	store := newFakeStore()
	wfID := uuid.New()
	now := time.Now()
	store.workflows[wfID] = truth.Workflow{ID: wfID, Status: truth.StatusPublished, CreatedAt: now}
	c := lifecycle.New(validate.New())
	err := c.Delete(context.Background(), store, wfID)
	assert.ErrorIs(t, err, truth.ErrPublishedImmutable)
}
