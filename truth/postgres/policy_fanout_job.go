package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/flowspec/engine/truth"
)

func (s *Store) GetPolicy(ctx context.Context, flowGroupID uuid.UUID) (truth.FlowGroupPolicy, bool, error) {
	var p truth.FlowGroupPolicy
	var overrides []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT flow_group_id, job_priority, group_due_at, task_overrides
		FROM flow_group_policies WHERE flow_group_id = $1`, flowGroupID).
		Scan(&p.FlowGroupID, &p.JobPriority, &p.GroupDueAt, &overrides)
	if errors.Is(err, sql.ErrNoRows) {
		return truth.FlowGroupPolicy{}, false, nil
	}
	if err != nil {
		return truth.FlowGroupPolicy{}, false, fmt.Errorf("get policy: %w", err)
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &p.TaskOverrides); err != nil {
			return truth.FlowGroupPolicy{}, false, fmt.Errorf("unmarshal task overrides: %w", err)
		}
	}
	return p, true, nil
}

func (s *Store) PutPolicy(ctx context.Context, p truth.FlowGroupPolicy) (truth.FlowGroupPolicy, error) {
	overrides, err := json.Marshal(p.TaskOverrides)
	if err != nil {
		return truth.FlowGroupPolicy{}, fmt.Errorf("marshal task overrides: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow_group_policies (flow_group_id, job_priority, group_due_at, task_overrides)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (flow_group_id) DO UPDATE SET job_priority = $2, group_due_at = $3, task_overrides = $4`,
		p.FlowGroupID, p.JobPriority, p.GroupDueAt, overrides)
	if err != nil {
		return truth.FlowGroupPolicy{}, fmt.Errorf("put policy: %w", err)
	}
	return p, nil
}

func (s *Store) ListFanOutRules(ctx context.Context, workflowID, sourceNodeID uuid.UUID, outcome string) ([]truth.FanOutRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workflow_id, source_node_id, trigger_outcome, target_workflow_id
		FROM fan_out_rules WHERE workflow_id = $1 AND source_node_id = $2 AND trigger_outcome = $3`,
		workflowID, sourceNodeID, outcome)
	if err != nil {
		return nil, fmt.Errorf("list fan-out rules: %w", err)
	}
	defer rows.Close()

	var out []truth.FanOutRule
	for rows.Next() {
		var r truth.FanOutRule
		if err := rows.Scan(&r.WorkflowID, &r.SourceNodeID, &r.TriggerOutcome, &r.TargetWorkflowID); err != nil {
			return nil, fmt.Errorf("scan fan-out rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateJob enforces the (flow_group_id) unique constraint at the
// database level; a conflicting second attempt is surfaced to the
// caller as ErrJobAlreadyExists (§4.G).
func (s *Store) CreateJob(ctx context.Context, j truth.Job) (truth.Job, error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, company_id, flow_group_id, customer_id, address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		j.ID, j.CompanyID, j.FlowGroupID, j.CustomerID, j.Address, j.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return truth.Job{}, truth.ErrJobAlreadyExists
		}
		return truth.Job{}, fmt.Errorf("create job: %w", err)
	}
	return j, nil
}

func (s *Store) GetJobByFlowGroup(ctx context.Context, flowGroupID uuid.UUID) (truth.Job, bool, error) {
	var j truth.Job
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, flow_group_id, customer_id, address, created_at
		FROM jobs WHERE flow_group_id = $1`, flowGroupID).
		Scan(&j.ID, &j.CompanyID, &j.FlowGroupID, &j.CustomerID, &j.Address, &j.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return truth.Job{}, false, nil
	}
	if err != nil {
		return truth.Job{}, false, fmt.Errorf("get job by flow group: %w", err)
	}
	return j, true, nil
}

// CreateAssignment inserts one Assignment row. Assignments are pure
// enrichment (§9) and carry no uniqueness constraint beyond their id: a
// Job may accumulate any number of person/external assignments over time.
func (s *Store) CreateAssignment(ctx context.Context, a truth.Assignment) (truth.Assignment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_assignments (id, job_id, kind, actor_id, external_label, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.JobID, a.Kind, a.ActorID, a.ExternalLabel, a.CreatedAt)
	if err != nil {
		return truth.Assignment{}, fmt.Errorf("create assignment: %w", err)
	}
	return a, nil
}

func (s *Store) ListAssignments(ctx context.Context, jobID uuid.UUID) ([]truth.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, kind, actor_id, external_label, created_at
		FROM job_assignments WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []truth.Assignment
	for rows.Next() {
		var a truth.Assignment
		if err := rows.Scan(&a.ID, &a.JobID, &a.Kind, &a.ActorID, &a.ExternalLabel, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
