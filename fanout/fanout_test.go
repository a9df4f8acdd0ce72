package fanout_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowspec/engine/fanout"
	"github.com/flowspec/engine/instantiate"
	"github.com/flowspec/engine/truth"
)

type fakeStore struct {
	workflows map[uuid.UUID]truth.Workflow
	versions  map[uuid.UUID]truth.WorkflowVersion
	groups    map[uuid.UUID]truth.FlowGroup
	flows     map[uuid.UUID][]truth.Flow
	activated []truth.NodeActivation
	evidence  []truth.EvidenceAttachment
	rules       []truth.FanOutRule
	jobs        map[uuid.UUID]truth.Job
	assignments []truth.Assignment
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workflows: map[uuid.UUID]truth.Workflow{},
		versions:  map[uuid.UUID]truth.WorkflowVersion{},
		groups:    map[uuid.UUID]truth.FlowGroup{},
		flows:     map[uuid.UUID][]truth.Flow{},
		jobs:      map[uuid.UUID]truth.Job{},
	}
}

func (f *fakeStore) CreateWorkflow(context.Context, truth.Workflow) (truth.Workflow, error) {
	return truth.Workflow{}, nil
}
func (f *fakeStore) GetWorkflow(_ context.Context, id uuid.UUID) (truth.Workflow, error) {
	return f.workflows[id], nil
}
func (f *fakeStore) GetWorkflowByName(context.Context, uuid.UUID, string) (truth.Workflow, error) {
	return truth.Workflow{}, nil
}
func (f *fakeStore) UpdateWorkflowStatus(context.Context, uuid.UUID, truth.LifecycleStatus, time.Time) error {
	return nil
}
func (f *fakeStore) BumpWorkflowVersion(context.Context, uuid.UUID, int, time.Time, uuid.UUID) error {
	return nil
}
func (f *fakeStore) DeleteWorkflow(context.Context, uuid.UUID) error { return nil }
func (f *fakeStore) PutWorkflowVersion(_ context.Context, v truth.WorkflowVersion) (truth.WorkflowVersion, error) {
	f.versions[v.WorkflowID] = v
	return v, nil
}
func (f *fakeStore) GetWorkflowVersion(context.Context, uuid.UUID) (truth.WorkflowVersion, error) {
	return truth.WorkflowVersion{}, nil
}
func (f *fakeStore) GetLatestWorkflowVersion(_ context.Context, workflowID uuid.UUID) (truth.WorkflowVersion, error) {
	return f.versions[workflowID], nil
}
func (f *fakeStore) ListWorkflowVersions(context.Context, uuid.UUID) ([]truth.WorkflowVersion, error) {
	return nil, nil
}

func (f *fakeStore) UpsertFlowGroup(_ context.Context, companyID uuid.UUID, scopeType, scopeID string) (truth.FlowGroup, error) {
	g := truth.FlowGroup{ID: uuid.New(), CompanyID: companyID, ScopeType: scopeType, ScopeID: scopeID}
	f.groups[g.ID] = g
	return g, nil
}
func (f *fakeStore) GetFlowGroup(_ context.Context, id uuid.UUID) (truth.FlowGroup, error) {
	return f.groups[id], nil
}

func (f *fakeStore) FindFlowByWorkflow(_ context.Context, flowGroupID, workflowID uuid.UUID) (truth.Flow, bool, error) {
	for _, fl := range f.flows[flowGroupID] {
		if fl.WorkflowID == workflowID {
			return fl, true, nil
		}
	}
	return truth.Flow{}, false, nil
}
func (f *fakeStore) CreateFlow(_ context.Context, fl truth.Flow) (truth.Flow, error) {
	f.flows[fl.FlowGroupID] = append(f.flows[fl.FlowGroupID], fl)
	return fl, nil
}
func (f *fakeStore) GetFlow(context.Context, uuid.UUID) (truth.Flow, error) { return truth.Flow{}, nil }
func (f *fakeStore) UpdateFlowStatus(context.Context, uuid.UUID, truth.FlowStatus) error {
	return nil
}
func (f *fakeStore) BumpTruthVersion(context.Context, uuid.UUID) (int64, error) { return 0, nil }
func (f *fakeStore) ListFlowsByGroup(_ context.Context, flowGroupID uuid.UUID) ([]truth.Flow, error) {
	return f.flows[flowGroupID], nil
}

func (f *fakeStore) ActivateNode(_ context.Context, a truth.NodeActivation) (truth.NodeActivation, bool, error) {
	f.activated = append(f.activated, a)
	return a, true, nil
}
func (f *fakeStore) ListActivations(context.Context, uuid.UUID) ([]truth.NodeActivation, error) {
	return f.activated, nil
}

func (f *fakeStore) AttachEvidence(_ context.Context, e truth.EvidenceAttachment) (truth.EvidenceAttachment, error) {
	f.evidence = append(f.evidence, e)
	return e, nil
}
func (f *fakeStore) ListEvidence(context.Context, uuid.UUID, uuid.UUID) ([]truth.EvidenceAttachment, error) {
	return f.evidence, nil
}
func (f *fakeStore) LatestEvidence(context.Context, uuid.UUID, uuid.UUID) (truth.EvidenceAttachment, bool, error) {
	return truth.EvidenceAttachment{}, false, nil
}

func (f *fakeStore) ListFanOutRules(_ context.Context, workflowID, sourceNodeID uuid.UUID, outcome string) ([]truth.FanOutRule, error) {
	var out []truth.FanOutRule
	for _, r := range f.rules {
		if r.WorkflowID == workflowID && r.SourceNodeID == sourceNodeID && r.TriggerOutcome == outcome {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateJob(_ context.Context, j truth.Job) (truth.Job, error) {
	f.jobs[j.FlowGroupID] = j
	return j, nil
}
func (f *fakeStore) GetJobByFlowGroup(_ context.Context, flowGroupID uuid.UUID) (truth.Job, bool, error) {
	j, ok := f.jobs[flowGroupID]
	return j, ok, nil
}
func (f *fakeStore) CreateAssignment(_ context.Context, a truth.Assignment) (truth.Assignment, error) {
	f.assignments = append(f.assignments, a)
	return a, nil
}
func (f *fakeStore) ListAssignments(_ context.Context, jobID uuid.UUID) ([]truth.Assignment, error) {
	var out []truth.Assignment
	for _, a := range f.assignments {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	return out, nil
}

func TestExecuteFanOut_CreatesChildFlowInParentGroup(t *testing.T) {
	store := newFakeStore()
	parentWF, childWF := uuid.New(), uuid.New()
	nodeID := uuid.New()
	store.workflows[childWF] = truth.Workflow{ID: childWF, Status: truth.StatusPublished}
	store.versions[childWF] = truth.WorkflowVersion{ID: uuid.New(), WorkflowID: childWF, Nodes: []truth.Node{
		{ID: uuid.New(), Name: "N1", IsEntry: true, Tasks: []truth.Task{{ID: uuid.New(), Name: "T1"}}},
	}}
	store.rules = []truth.FanOutRule{{WorkflowID: parentWF, SourceNodeID: nodeID, TriggerOutcome: "APPROVED", TargetWorkflowID: childWF}}

	group := truth.FlowGroup{ID: uuid.New(), CompanyID: uuid.New()}
	store.groups[group.ID] = group
	parentFlow := truth.Flow{ID: uuid.New(), FlowGroupID: group.ID, WorkflowID: parentWF}

	svc := fanout.New(instantiate.New())
	created, blocked, err := svc.ExecuteFanOut(context.Background(), store, parentFlow, group.CompanyID, truth.Node{ID: nodeID}, "APPROVED", uuid.New(), time.Now())
	require.NoError(t, err)
	assert.False(t, blocked)
	require.Len(t, created, 1)
	assert.Equal(t, group.ID, created[0].FlowGroupID)
	assert.Equal(t, childWF, created[0].WorkflowID)
}

func TestExecuteFanOut_NoMatchingRulesCreatesNothing(t *testing.T) {
	store := newFakeStore()
	svc := fanout.New(instantiate.New())
	created, blocked, err := svc.ExecuteFanOut(context.Background(), store, truth.Flow{ID: uuid.New(), FlowGroupID: uuid.New(), WorkflowID: uuid.New()}, uuid.New(), truth.Node{ID: uuid.New()}, "OTHER", uuid.New(), time.Now())
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.Empty(t, created)
}

func TestProvisionJob_CustomerMismatchBlocksWithoutCreatingJob(t *testing.T) {
	store := newFakeStore()
	svc := fanout.New(instantiate.New())
	companyID, groupID := uuid.New(), uuid.New()

	job, blocked, err := svc.ProvisionJob(context.Background(), store, companyID, groupID, "customer-A", fanout.SaleEvidence{CustomerID: "customer-B", ServiceAddress: "456 Oak St"}, time.Now())
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Equal(t, truth.Job{}, job)
	_, found, _ := store.GetJobByFlowGroup(context.Background(), groupID)
	assert.False(t, found)
}

func TestProvisionJob_MatchingCustomerCreatesJobIdempotently(t *testing.T) {
	store := newFakeStore()
	svc := fanout.New(instantiate.New())
	companyID, groupID := uuid.New(), uuid.New()
	sale := fanout.SaleEvidence{CustomerID: "customer-A", ServiceAddress: "456 Oak St"}

	job1, blocked, err := svc.ProvisionJob(context.Background(), store, companyID, groupID, "customer-A", sale, time.Now())
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.Equal(t, "456 Oak St", job1.Address)

	job2, blocked, err := svc.ProvisionJob(context.Background(), store, companyID, groupID, "customer-A", sale, time.Now())
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.Equal(t, job1.ID, job2.ID, "re-entry must not create a second Job for the same FlowGroup")
}
