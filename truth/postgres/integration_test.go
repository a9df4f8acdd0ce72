//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/flowspec/engine/detour"
	"github.com/flowspec/engine/flowspec"
	"github.com/flowspec/engine/instantiate"
	"github.com/flowspec/engine/truth"
	"github.com/flowspec/engine/truth/postgres"
)

// setupPostgres starts a disposable PostgreSQL container and applies
// every migration under postgres/migrations, grounded on the pack's
// testcontainers setup (evalgo-org-eve/containers/testing/postgres.go).
func setupPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "flowspec",
			"POSTGRES_PASSWORD": "flowspec",
			"POSTGRES_DB":       "flowspec",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://flowspec:flowspec@%s:%s/flowspec?sslmode=disable", host, port.Port())

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(db, "migrations"))

	return dsn
}

// publishWorkflow inserts a Workflow already in PUBLISHED status plus its
// single WorkflowVersion, bypassing component D's own Validate/Publish
// (lifecycle/lifecycle_test.go exercises that transition directly) so each scenario below can focus on component
// E/F/G/H behavior against a real snapshot.
func publishWorkflow(t *testing.T, ctx context.Context, store *postgres.Store, companyID uuid.UUID, name string, nodes []truth.Node, gates []truth.Gate) truth.Workflow {
	t.Helper()
	w, err := store.CreateWorkflow(ctx, truth.Workflow{
		CompanyID: companyID,
		Name:      name,
		Status:    truth.StatusPublished,
		Version:   1,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	_, err = store.PutWorkflowVersion(ctx, truth.WorkflowVersion{
		WorkflowID: w.ID,
		Version:    1,
		Name:       w.Name,
		Nodes:      nodes,
		Gates:      gates,
		CreatedAt:  time.Now(),
	})
	require.NoError(t, err)
	return w
}

// insertFanOutRule writes a FanOutRule row directly: truth.FanOutStore has
// no Put method (fan-out rules are authored some other way upstream of
// this engine), so the test inserts through its own connection, the same
// way setupPostgres reaches past the Store interface to run migrations.
func insertFanOutRule(t *testing.T, dsn string, r truth.FanOutRule) {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`
		INSERT INTO fan_out_rules (workflow_id, source_node_id, trigger_outcome, target_workflow_id)
		VALUES ($1, $2, $3, $4)`, r.WorkflowID, r.SourceNodeID, r.TriggerOutcome, r.TargetWorkflowID)
	require.NoError(t, err)
}

// fetchScheduleBlockByID reads one schedule_blocks row directly. The Store
// interface only exposes CurrentBlock (the live, non-superseded block) and
// SupersedeAndCreate, neither of which can look up a block that has
// already been superseded by id, so scenario 5 below reaches past the
// interface the same way insertFanOutRule does.
func fetchScheduleBlockByID(t *testing.T, dsn string, id uuid.UUID) truth.ScheduleBlock {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()
	var b truth.ScheduleBlock
	var metadata []byte
	err = db.QueryRow(`
		SELECT id, company_id, task_id, flow_id, time_class, start_at, end_at, metadata, created_by, created_at, superseded_at, superseded_by, change_request_id
		FROM schedule_blocks WHERE id = $1`, id).
		Scan(&b.ID, &b.CompanyID, &b.TaskID, &b.FlowID, &b.TimeClass, &b.StartAt, &b.EndAt, &metadata, &b.CreatedBy, &b.CreatedAt, &b.SupersededAt, &b.SupersededBy, &b.ChangeRequestID)
	require.NoError(t, err)
	if len(metadata) > 0 {
		require.NoError(t, json.Unmarshal(metadata, &b.Metadata))
	}
	return b
}

func TestStore_CreateAndGetFlowRoundTrips(t *testing.T) {
	dsn := setupPostgres(t)
	ctx := context.Background()
	store, err := postgres.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	companyID := uuid.New()
	w, err := store.CreateWorkflow(ctx, truth.Workflow{
		CompanyID: companyID,
		Name:      "onboarding",
		Status:    truth.StatusDraft,
		Version:   1,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	v, err := store.PutWorkflowVersion(ctx, truth.WorkflowVersion{
		WorkflowID: w.ID,
		Version:    1,
		Name:       w.Name,
		CreatedAt:  time.Now(),
	})
	require.NoError(t, err)

	group, err := store.UpsertFlowGroup(ctx, companyID, "job", "job-1")
	require.NoError(t, err)

	f, err := store.CreateFlow(ctx, truth.Flow{
		FlowGroupID:       group.ID,
		WorkflowID:        w.ID,
		WorkflowVersionID: v.ID,
		Status:            truth.FlowActive,
		CreatedAt:         time.Now(),
	})
	require.NoError(t, err)

	got, err := store.GetFlow(ctx, f.ID)
	require.NoError(t, err)
	require.Equal(t, f.ID, got.ID)
	require.Equal(t, truth.FlowActive, got.Status)
}

// Scenario 1 (two-node linear flow): startTask/recordOutcome on T1 routes
// to N2 and makes T2 actionable; finishing T2 completes the Flow.
func TestIntegration_Scenario1_TwoNodeLinearFlowCompletes(t *testing.T) {
	dsn := setupPostgres(t)
	ctx := context.Background()
	store, err := postgres.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	companyID, actorID := uuid.New(), uuid.New()
	n1, n2 := uuid.New(), uuid.New()
	t1, t2 := uuid.New(), uuid.New()
	wf := publishWorkflow(t, ctx, store, companyID, "linear-onboarding", []truth.Node{
		{ID: n1, Name: "N1", IsEntry: true, CompletionRule: truth.AllTasksDone, Tasks: []truth.Task{
			{ID: t1, Name: "T1", Outcomes: []truth.Outcome{{Name: "DONE"}}},
		}},
		{ID: n2, Name: "N2", CompletionRule: truth.AllTasksDone, Tasks: []truth.Task{
			{ID: t2, Name: "T2", Outcomes: []truth.Outcome{{Name: "FINISH"}}},
		}},
	}, []truth.Gate{
		{SourceNodeID: n1, OutcomeName: "DONE", TargetNodeID: &n2},
		{SourceNodeID: n2, OutcomeName: "FINISH"},
	})

	engine := flowspec.New()
	flow, err := engine.CreateFlow(ctx, store, wf.ID, instantiate.Params{
		CompanyID: companyID, ScopeType: "job", ScopeID: "job_x", ActorID: actorID,
	}, time.Now())
	require.NoError(t, err)

	_, err = engine.StartTask(ctx, store, companyID, flow.ID, t1, actorID, time.Now())
	require.NoError(t, err)
	res, err := engine.RecordOutcome(ctx, store, companyID, flow.ID, t1, "DONE", actorID, nil, nil, time.Now())
	require.NoError(t, err)
	assert.False(t, res.FlowCompleted)

	activations, err := store.ListActivations(ctx, flow.ID)
	require.NoError(t, err)
	var sawN2 bool
	for _, a := range activations {
		if a.NodeID == n2 && a.Iteration == 1 {
			sawN2 = true
		}
	}
	assert.True(t, sawN2, "NodeActivation(N2, 1) must exist")

	actionable, err := engine.ActionableTasks(ctx, store, flow.ID)
	require.NoError(t, err)
	require.Len(t, actionable, 1)
	assert.Equal(t, t2, actionable[0].TaskID)

	_, err = engine.StartTask(ctx, store, companyID, flow.ID, t2, actorID, time.Now())
	require.NoError(t, err)
	res, err = engine.RecordOutcome(ctx, store, companyID, flow.ID, t2, "FINISH", actorID, nil, nil, time.Now())
	require.NoError(t, err)
	assert.True(t, res.FlowCompleted)

	got, err := store.GetFlow(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, truth.FlowCompleted, got.Status)
}

// Scenario 2 (evidence-gated outcome): recordOutcome fails EVIDENCE_REQUIRED
// until one evidence row is attached, then succeeds.
func TestIntegration_Scenario2_EvidenceGatedOutcome(t *testing.T) {
	dsn := setupPostgres(t)
	ctx := context.Background()
	store, err := postgres.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	companyID, actorID := uuid.New(), uuid.New()
	n1 := uuid.New()
	taskID := uuid.New()
	schema := json.RawMessage(`{"type":"object","required":["note"],"properties":{"note":{"type":"string"}}}`)
	wf := publishWorkflow(t, ctx, store, companyID, "evidence-gated", []truth.Node{
		{ID: n1, Name: "N1", IsEntry: true, CompletionRule: truth.AllTasksDone, Tasks: []truth.Task{
			{ID: taskID, Name: "T", EvidenceRequired: true, EvidenceSchema: schema, Outcomes: []truth.Outcome{{Name: "DONE"}}},
		}},
	}, []truth.Gate{{SourceNodeID: n1, OutcomeName: "DONE"}})

	engine := flowspec.New()
	flow, err := engine.CreateFlow(ctx, store, wf.ID, instantiate.Params{
		CompanyID: companyID, ScopeType: "job", ScopeID: "job_evidence", ActorID: actorID,
	}, time.Now())
	require.NoError(t, err)

	_, err = engine.StartTask(ctx, store, companyID, flow.ID, taskID, actorID, time.Now())
	require.NoError(t, err)

	_, err = engine.RecordOutcome(ctx, store, companyID, flow.ID, taskID, "DONE", actorID, nil, nil, time.Now())
	assert.ErrorIs(t, err, truth.ErrEvidenceRequired)

	_, err = engine.AttachEvidence(ctx, store, flow.ID, taskID, truth.EvidenceStructured,
		truth.EvidenceData{Content: map[string]any{"note": "inspected"}}, actorID, nil, time.Now())
	require.NoError(t, err)

	res, err := engine.RecordOutcome(ctx, store, companyID, flow.ID, taskID, "DONE", actorID, nil, nil, time.Now())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.FlowCompleted)
}

// Scenario 3 (fan-out with provisioning): closing a sale with matching
// anchor/sale customer ids provisions exactly one Job, and two fan-out
// rules sharing a target workflow still yield exactly one child Flow.
func TestIntegration_Scenario3_FanOutWithProvisioning(t *testing.T) {
	dsn := setupPostgres(t)
	ctx := context.Background()
	store, err := postgres.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	companyID, actorID := uuid.New(), uuid.New()

	childWF := publishWorkflow(t, ctx, store, companyID, "provisioning-child", []truth.Node{
		{ID: uuid.New(), Name: "ChildEntry", IsEntry: true, CompletionRule: truth.AllTasksDone, Tasks: []truth.Task{
			{ID: uuid.New(), Name: "ChildTask", Outcomes: []truth.Outcome{{Name: "DONE"}}},
		}},
	}, nil)

	nIdentify, nClose := uuid.New(), uuid.New()
	identifyTask, closeTask := uuid.New(), uuid.New()
	salesWF := publishWorkflow(t, ctx, store, companyID, "sales-flow", []truth.Node{
		{ID: nIdentify, Name: "Identify", IsEntry: true, CompletionRule: truth.AllTasksDone, Tasks: []truth.Task{
			{ID: identifyTask, Name: "identify_customer", DisplayOrder: 0, Outcomes: []truth.Outcome{{Name: "DONE"}}},
		}},
		{ID: nClose, Name: "Close", CompletionRule: truth.AnyTaskDone, Tasks: []truth.Task{
			{ID: closeTask, Name: "task_close", DisplayOrder: 0, Outcomes: []truth.Outcome{{Name: "SALE_CLOSED"}}},
		}},
	}, []truth.Gate{
		{SourceNodeID: nIdentify, OutcomeName: "DONE", TargetNodeID: &nClose},
		{SourceNodeID: nClose, OutcomeName: "SALE_CLOSED"},
	})

	// Two distinct rules (different source node/outcome keys) both
	// targeting childWF: this is how "duplicate target workflow ids"
	// arises given fan_out_rules' PK is (workflowId, sourceNodeId,
	// triggerOutcome) and cannot itself carry two rows for one key.
	insertFanOutRule(t, dsn, truth.FanOutRule{WorkflowID: salesWF.ID, SourceNodeID: nIdentify, TriggerOutcome: "DONE", TargetWorkflowID: childWF.ID})
	insertFanOutRule(t, dsn, truth.FanOutRule{WorkflowID: salesWF.ID, SourceNodeID: nClose, TriggerOutcome: "SALE_CLOSED", TargetWorkflowID: childWF.ID})

	engine := flowspec.New()
	customerID := "cust-123"
	flow, err := engine.CreateFlow(ctx, store, salesWF.ID, instantiate.Params{
		CompanyID: companyID, ScopeType: "job", ScopeID: "job_sale", ActorID: actorID,
		InitialEvidence: &instantiate.InitialEvidence{Content: map[string]any{"customerId": customerID}},
	}, time.Now())
	require.NoError(t, err)

	_, err = engine.StartTask(ctx, store, companyID, flow.ID, identifyTask, actorID, time.Now())
	require.NoError(t, err)
	_, err = engine.RecordOutcome(ctx, store, companyID, flow.ID, identifyTask, "DONE", actorID, nil, nil, time.Now())
	require.NoError(t, err)

	_, err = engine.StartTask(ctx, store, companyID, flow.ID, closeTask, actorID, time.Now())
	require.NoError(t, err)
	_, err = engine.AttachEvidence(ctx, store, flow.ID, closeTask, truth.EvidenceStructured,
		truth.EvidenceData{Content: map[string]any{"customerId": customerID, "serviceAddress": "456 Oak St"}}, actorID, nil, time.Now())
	require.NoError(t, err)
	res, err := engine.RecordOutcome(ctx, store, companyID, flow.ID, closeTask, "SALE_CLOSED", actorID, nil, nil, time.Now())
	require.NoError(t, err)
	assert.False(t, res.Blocked)

	job, found, err := store.GetJobByFlowGroup(ctx, flow.FlowGroupID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, customerID, job.CustomerID)
	assert.Equal(t, flow.FlowGroupID, job.FlowGroupID)
	assert.Equal(t, "456 Oak St", job.Address)

	siblings, err := store.ListFlowsByGroup(ctx, flow.FlowGroupID)
	require.NoError(t, err)
	var childCount int
	for _, f := range siblings {
		if f.WorkflowID == childWF.ID {
			childCount++
		}
	}
	assert.Equal(t, 1, childCount, "two fan-out rules sharing the same target workflow must still yield exactly one child flow")
}

// Scenario 4 (customer mismatch): sale evidence naming a different
// customer than the flow's anchor identity blocks the Flow and leaves no
// Job behind, while the outcome itself is still recorded.
func TestIntegration_Scenario4_CustomerMismatchBlocksFlowWithoutJob(t *testing.T) {
	dsn := setupPostgres(t)
	ctx := context.Background()
	store, err := postgres.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	companyID, actorID := uuid.New(), uuid.New()
	nClose := uuid.New()
	identifyTask, closeTask := uuid.New(), uuid.New()
	wf := publishWorkflow(t, ctx, store, companyID, "sales-flow-mismatch", []truth.Node{
		{ID: nClose, Name: "Close", IsEntry: true, CompletionRule: truth.AnyTaskDone, Tasks: []truth.Task{
			{ID: identifyTask, Name: "identify_customer", DisplayOrder: 0},
			{ID: closeTask, Name: "task_close", DisplayOrder: 1, Outcomes: []truth.Outcome{{Name: "SALE_CLOSED"}}},
		}},
	}, []truth.Gate{{SourceNodeID: nClose, OutcomeName: "SALE_CLOSED"}})

	engine := flowspec.New()
	flow, err := engine.CreateFlow(ctx, store, wf.ID, instantiate.Params{
		CompanyID: companyID, ScopeType: "job", ScopeID: "job_mismatch", ActorID: actorID,
		InitialEvidence: &instantiate.InitialEvidence{Content: map[string]any{"customerId": "correct-id"}},
	}, time.Now())
	require.NoError(t, err)

	_, err = engine.StartTask(ctx, store, companyID, flow.ID, closeTask, actorID, time.Now())
	require.NoError(t, err)
	_, err = engine.AttachEvidence(ctx, store, flow.ID, closeTask, truth.EvidenceStructured,
		truth.EvidenceData{Content: map[string]any{"customerId": "wrong-id", "serviceAddress": "456 Oak St"}}, actorID, nil, time.Now())
	require.NoError(t, err)

	res, err := engine.RecordOutcome(ctx, store, companyID, flow.ID, closeTask, "SALE_CLOSED", actorID, nil, nil, time.Now())
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.True(t, res.Success, "the outcome itself is still recorded even though provisioning is blocked")

	got, err := store.GetFlow(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, truth.FlowBlocked, got.Status)

	_, found, err := store.GetJobByFlowGroup(ctx, flow.FlowGroupID)
	require.NoError(t, err)
	assert.False(t, found)

	execs, err := store.ListExecutions(ctx, flow.ID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	require.NotNil(t, execs[0].Outcome)
	assert.Equal(t, "SALE_CLOSED", *execs[0].Outcome)
}

// Scenario 5 (detour commit-via-outcome): recording the checkpoint task's
// outcome with an accepted request's detourId supersedes the prior
// COMMITTED block and commits the requested window, committing the
// request itself.
func TestIntegration_Scenario5_DetourCommitViaOutcome(t *testing.T) {
	dsn := setupPostgres(t)
	ctx := context.Background()
	store, err := postgres.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	companyID, actorID := uuid.New(), uuid.New()
	nCheckpoint := uuid.New()
	checkpointTask := uuid.New()
	wf := publishWorkflow(t, ctx, store, companyID, "scheduling-flow", []truth.Node{
		{ID: nCheckpoint, Name: "Checkpoint", IsEntry: true, CompletionRule: truth.AllTasksDone, Tasks: []truth.Task{
			{ID: checkpointTask, Name: "checkpoint_task", Outcomes: []truth.Outcome{{Name: "DONE"}}},
		}},
	}, []truth.Gate{{SourceNodeID: nCheckpoint, OutcomeName: "DONE"}})

	engine := flowspec.New()
	flow, err := engine.CreateFlow(ctx, store, wf.ID, instantiate.Params{
		CompanyID: companyID, ScopeType: "job", ScopeID: "job_detour", ActorID: actorID,
	}, time.Now())
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	initialBlock, err := store.SupersedeAndCreate(ctx, nil, truth.ScheduleBlock{
		ID: uuid.New(), CompanyID: companyID, TaskID: checkpointTask, FlowID: &flow.ID,
		TimeClass: truth.Committed, StartAt: now.Add(9 * time.Hour), EndAt: now.Add(11 * time.Hour),
		CreatedBy: actorID, CreatedAt: now,
	})
	require.NoError(t, err)

	execution, err := engine.StartTask(ctx, store, companyID, flow.ID, checkpointTask, actorID, now)
	require.NoError(t, err)

	requestedStart, requestedEnd := now.Add(13*time.Hour), now.Add(15*time.Hour)
	detourSvc := detour.New()
	request, err := detourSvc.CreateChangeRequest(ctx, store, companyID, &flow.ID, &checkpointTask, nil, truth.Committed,
		"customer requested later window",
		map[string]any{"requestedStartAt": requestedStart, "requestedEndAt": requestedEnd}, actorID, now)
	require.NoError(t, err)

	_, _, err = detourSvc.ReviewRequest(ctx, store, companyID, request.ID, detour.ActionStartReview, actorID, uuid.Nil, uuid.Nil, uuid.Nil, now)
	require.NoError(t, err)
	_, detourRecord, err := detourSvc.ReviewRequest(ctx, store, companyID, request.ID, detour.ActionAccept, actorID,
		nCheckpoint, uuid.New(), execution.ID, now)
	require.NoError(t, err)
	require.NotNil(t, detourRecord)

	_, err = engine.RecordOutcome(ctx, store, companyID, flow.ID, checkpointTask, "DONE", actorID, &detourRecord.ID, nil, now)
	require.NoError(t, err)

	oldBlock := fetchScheduleBlockByID(t, dsn, initialBlock.ID)
	require.NotNil(t, oldBlock.SupersededAt)
	require.NotNil(t, oldBlock.SupersededBy)

	newBlock, found, err := store.CurrentBlock(ctx, checkpointTask, &flow.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, *oldBlock.SupersededBy, newBlock.ID)
	assert.WithinDuration(t, requestedStart, newBlock.StartAt, time.Second)
	assert.WithinDuration(t, requestedEnd, newBlock.EndAt, time.Second)
	require.NotNil(t, newBlock.ChangeRequestID)
	assert.Equal(t, request.ID, *newBlock.ChangeRequestID)

	committed, err := store.GetChangeRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, truth.RequestCommitted, committed.Status)
}

// Scenario 6 (validity re-open): an INVALID verdict on a completed task's
// execution makes it actionable again; a later VALID verdict restores
// completion.
func TestIntegration_Scenario6_ValidityReopenAndRestore(t *testing.T) {
	dsn := setupPostgres(t)
	ctx := context.Background()
	store, err := postgres.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	companyID, actorID := uuid.New(), uuid.New()
	n1 := uuid.New()
	taskID := uuid.New()
	wf := publishWorkflow(t, ctx, store, companyID, "validity-flow", []truth.Node{
		{ID: n1, Name: "N1", IsEntry: true, CompletionRule: truth.AllTasksDone, Tasks: []truth.Task{
			{ID: taskID, Name: "T", Outcomes: []truth.Outcome{{Name: "DONE"}}},
		}},
	}, []truth.Gate{{SourceNodeID: n1, OutcomeName: "DONE"}})

	engine := flowspec.New()
	flow, err := engine.CreateFlow(ctx, store, wf.ID, instantiate.Params{
		CompanyID: companyID, ScopeType: "job", ScopeID: "job_validity", ActorID: actorID,
	}, time.Now())
	require.NoError(t, err)

	execution, err := engine.StartTask(ctx, store, companyID, flow.ID, taskID, actorID, time.Now())
	require.NoError(t, err)
	res, err := engine.RecordOutcome(ctx, store, companyID, flow.ID, taskID, "DONE", actorID, nil, nil, time.Now())
	require.NoError(t, err)
	assert.True(t, res.FlowCompleted)

	actionable, err := engine.ActionableTasks(ctx, store, flow.ID)
	require.NoError(t, err)
	assert.Empty(t, actionable, "a completed task must not be actionable")

	invalidAt := time.Now().Add(time.Minute)
	_, err = store.RecordValidityEvent(ctx, truth.ValidityEvent{TaskExecutionID: execution.ID, State: truth.Invalid, CreatedAt: invalidAt})
	require.NoError(t, err)

	actionable, err = engine.ActionableTasks(ctx, store, flow.ID)
	require.NoError(t, err)
	require.Len(t, actionable, 1, "an INVALID verdict must reopen the task")
	assert.Equal(t, taskID, actionable[0].TaskID)

	validAt := invalidAt.Add(time.Minute)
	_, err = store.RecordValidityEvent(ctx, truth.ValidityEvent{TaskExecutionID: execution.ID, State: truth.Valid, CreatedAt: validAt})
	require.NoError(t, err)

	actionable, err = engine.ActionableTasks(ctx, store, flow.ID)
	require.NoError(t, err)
	assert.Empty(t, actionable, "a later VALID verdict must restore completion")
}
