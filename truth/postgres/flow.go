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

func (s *Store) UpsertFlowGroup(ctx context.Context, companyID uuid.UUID, scopeType, scopeID string) (truth.FlowGroup, error) {
	var g truth.FlowGroup
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO flow_groups (id, company_id, scope_type, scope_id, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (company_id, scope_type, scope_id)
		DO UPDATE SET scope_id = flow_groups.scope_id
		RETURNING id, company_id, scope_type, scope_id, created_at`,
		uuid.New(), companyID, scopeType, scopeID).
		Scan(&g.ID, &g.CompanyID, &g.ScopeType, &g.ScopeID, &g.CreatedAt)
	if err != nil {
		return truth.FlowGroup{}, fmt.Errorf("upsert flow group: %w", err)
	}
	return g, nil
}

func (s *Store) GetFlowGroup(ctx context.Context, id uuid.UUID) (truth.FlowGroup, error) {
	var g truth.FlowGroup
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, scope_type, scope_id, created_at FROM flow_groups WHERE id = $1`, id).
		Scan(&g.ID, &g.CompanyID, &g.ScopeType, &g.ScopeID, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return truth.FlowGroup{}, truth.ErrNotFound
	}
	if err != nil {
		return truth.FlowGroup{}, fmt.Errorf("get flow group: %w", err)
	}
	return g, nil
}

func (s *Store) FindFlowByWorkflow(ctx context.Context, flowGroupID, workflowID uuid.UUID) (truth.Flow, bool, error) {
	f, err := s.scanFlow(s.db.QueryRowContext(ctx, `
		SELECT id, flow_group_id, workflow_id, workflow_version_id, status, truth_version, created_at, updated_at
		FROM flows WHERE flow_group_id = $1 AND workflow_id = $2`, flowGroupID, workflowID))
	if errors.Is(err, truth.ErrNotFound) {
		return truth.Flow{}, false, nil
	}
	if err != nil {
		return truth.Flow{}, false, err
	}
	return f, true, nil
}

func (s *Store) CreateFlow(ctx context.Context, f truth.Flow) (truth.Flow, error) {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flows (id, flow_group_id, workflow_id, workflow_version_id, status, truth_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $6)`,
		f.ID, f.FlowGroupID, f.WorkflowID, f.WorkflowVersionID, f.Status, f.CreatedAt)
	if err != nil {
		return truth.Flow{}, fmt.Errorf("create flow: %w", err)
	}
	return f, nil
}

func (s *Store) GetFlow(ctx context.Context, id uuid.UUID) (truth.Flow, error) {
	return s.scanFlow(s.db.QueryRowContext(ctx, `
		SELECT id, flow_group_id, workflow_id, workflow_version_id, status, truth_version, created_at, updated_at
		FROM flows WHERE id = $1`, id))
}

func (s *Store) scanFlow(row *sql.Row) (truth.Flow, error) {
	var f truth.Flow
	err := row.Scan(&f.ID, &f.FlowGroupID, &f.WorkflowID, &f.WorkflowVersionID, &f.Status, &f.TruthVersion, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return truth.Flow{}, truth.ErrNotFound
	}
	if err != nil {
		return truth.Flow{}, fmt.Errorf("scan flow: %w", err)
	}
	return f, nil
}

func (s *Store) UpdateFlowStatus(ctx context.Context, id uuid.UUID, status truth.FlowStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE flows SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update flow status: %w", err)
	}
	return nil
}

// BumpTruthVersion increments a flow's TruthVersion in place and returns
// the new value, so the cache.ActionableTasks key a caller builds right
// after a write always reflects that write.
func (s *Store) BumpTruthVersion(ctx context.Context, id uuid.UUID) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE flows SET truth_version = truth_version + 1, updated_at = now()
		WHERE id = $1 RETURNING truth_version`, id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, truth.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("bump truth version: %w", err)
	}
	return v, nil
}

func (s *Store) ListFlowsByGroup(ctx context.Context, flowGroupID uuid.UUID) ([]truth.Flow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_group_id, workflow_id, workflow_version_id, status, truth_version, created_at, updated_at
		FROM flows WHERE flow_group_id = $1 ORDER BY created_at ASC`, flowGroupID)
	if err != nil {
		return nil, fmt.Errorf("list flows by group: %w", err)
	}
	defer rows.Close()

	var out []truth.Flow
	for rows.Next() {
		var f truth.Flow
		if err := rows.Scan(&f.ID, &f.FlowGroupID, &f.WorkflowID, &f.WorkflowVersionID, &f.Status, &f.TruthVersion, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// PutDraftGraph replaces the editable Node/Gate graph for workflowID in
// one statement, making a retried hydration idempotent (component B).
func (s *Store) PutDraftGraph(ctx context.Context, workflowID uuid.UUID, nodes []truth.Node, gates []truth.Gate) error {
	nodesJSON, err := json.Marshal(nodes)
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}
	gatesJSON, err := json.Marshal(gates)
	if err != nil {
		return fmt.Errorf("marshal gates: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO draft_graphs (workflow_id, nodes, gates)
		VALUES ($1, $2, $3)
		ON CONFLICT (workflow_id) DO UPDATE SET nodes = $2, gates = $3`,
		workflowID, nodesJSON, gatesJSON)
	if err != nil {
		return fmt.Errorf("put draft graph: %w", err)
	}
	return nil
}

func (s *Store) GetDraftGraph(ctx context.Context, workflowID uuid.UUID) ([]truth.Node, []truth.Gate, error) {
	var nodesJSON, gatesJSON []byte
	err := s.db.QueryRowContext(ctx, `SELECT nodes, gates FROM draft_graphs WHERE workflow_id = $1`, workflowID).
		Scan(&nodesJSON, &gatesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, truth.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get draft graph: %w", err)
	}
	var nodes []truth.Node
	var gates []truth.Gate
	if err := json.Unmarshal(nodesJSON, &nodes); err != nil {
		return nil, nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal(gatesJSON, &gates); err != nil {
		return nil, nil, fmt.Errorf("unmarshal gates: %w", err)
	}
	return nodes, gates, nil
}
