package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowspec/engine/truth"
)

func (s *Store) CreateWorkflow(ctx context.Context, w truth.Workflow) (truth.Workflow, error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, company_id, name, status, version, is_non_terminating, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		w.ID, w.CompanyID, w.Name, w.Status, w.Version, w.IsNonTerminating, w.CreatedAt)
	if err != nil {
		return truth.Workflow{}, fmt.Errorf("create workflow: %w", err)
	}
	return w, nil
}

func (s *Store) GetWorkflow(ctx context.Context, id uuid.UUID) (truth.Workflow, error) {
	return s.scanWorkflow(s.db.QueryRowContext(ctx, `
		SELECT id, company_id, name, status, version, is_non_terminating, published_at, published_by, created_at, updated_at
		FROM workflows WHERE id = $1`, id))
}

func (s *Store) GetWorkflowByName(ctx context.Context, companyID uuid.UUID, name string) (truth.Workflow, error) {
	return s.scanWorkflow(s.db.QueryRowContext(ctx, `
		SELECT id, company_id, name, status, version, is_non_terminating, published_at, published_by, created_at, updated_at
		FROM workflows WHERE company_id = $1 AND name = $2`, companyID, name))
}

func (s *Store) scanWorkflow(row *sql.Row) (truth.Workflow, error) {
	var w truth.Workflow
	err := row.Scan(&w.ID, &w.CompanyID, &w.Name, &w.Status, &w.Version, &w.IsNonTerminating, &w.PublishedAt, &w.PublishedBy, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return truth.Workflow{}, truth.ErrNotFound
	}
	if err != nil {
		return truth.Workflow{}, fmt.Errorf("scan workflow: %w", err)
	}
	return w, nil
}

func (s *Store) UpdateWorkflowStatus(ctx context.Context, id uuid.UUID, status truth.LifecycleStatus, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workflows SET status = $1, updated_at = $2 WHERE id = $3`, status, now, id)
	if err != nil {
		return fmt.Errorf("update workflow status: %w", err)
	}
	return nil
}

func (s *Store) BumpWorkflowVersion(ctx context.Context, id uuid.UUID, version int, publishedAt time.Time, publishedBy uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflows SET version = $1, status = $2, published_at = $3, published_by = $4, updated_at = $3
		WHERE id = $5`, version, truth.StatusPublished, publishedAt, publishedBy, id)
	if err != nil {
		return fmt.Errorf("bump workflow version: %w", err)
	}
	return nil
}

func (s *Store) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return nil
}

func (s *Store) PutWorkflowVersion(ctx context.Context, v truth.WorkflowVersion) (truth.WorkflowVersion, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	nodes, err := json.Marshal(v.Nodes)
	if err != nil {
		return truth.WorkflowVersion{}, fmt.Errorf("marshal nodes: %w", err)
	}
	gates, err := json.Marshal(v.Gates)
	if err != nil {
		return truth.WorkflowVersion{}, fmt.Errorf("marshal gates: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_versions (id, workflow_id, version, name, is_non_terminating, nodes, gates, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.WorkflowID, v.Version, v.Name, v.IsNonTerminating, nodes, gates, v.CreatedAt)
	if err != nil {
		return truth.WorkflowVersion{}, fmt.Errorf("put workflow version: %w", err)
	}
	return v, nil
}

func (s *Store) GetWorkflowVersion(ctx context.Context, id uuid.UUID) (truth.WorkflowVersion, error) {
	return s.scanWorkflowVersion(s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, version, name, is_non_terminating, nodes, gates, created_at
		FROM workflow_versions WHERE id = $1`, id))
}

func (s *Store) GetLatestWorkflowVersion(ctx context.Context, workflowID uuid.UUID) (truth.WorkflowVersion, error) {
	return s.scanWorkflowVersion(s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, version, name, is_non_terminating, nodes, gates, created_at
		FROM workflow_versions WHERE workflow_id = $1 ORDER BY version DESC LIMIT 1`, workflowID))
}

func (s *Store) scanWorkflowVersion(row *sql.Row) (truth.WorkflowVersion, error) {
	var v truth.WorkflowVersion
	var nodes, gates []byte
	err := row.Scan(&v.ID, &v.WorkflowID, &v.Version, &v.Name, &v.IsNonTerminating, &nodes, &gates, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return truth.WorkflowVersion{}, truth.ErrNotFound
	}
	if err != nil {
		return truth.WorkflowVersion{}, fmt.Errorf("scan workflow version: %w", err)
	}
	if err := json.Unmarshal(nodes, &v.Nodes); err != nil {
		return truth.WorkflowVersion{}, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal(gates, &v.Gates); err != nil {
		return truth.WorkflowVersion{}, fmt.Errorf("unmarshal gates: %w", err)
	}
	return v, nil
}

func (s *Store) ListWorkflowVersions(ctx context.Context, workflowID uuid.UUID) ([]truth.WorkflowVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, version, name, is_non_terminating, nodes, gates, created_at
		FROM workflow_versions WHERE workflow_id = $1 ORDER BY version ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow versions: %w", err)
	}
	defer rows.Close()

	var out []truth.WorkflowVersion
	for rows.Next() {
		var v truth.WorkflowVersion
		var nodes, gates []byte
		if err := rows.Scan(&v.ID, &v.WorkflowID, &v.Version, &v.Name, &v.IsNonTerminating, &nodes, &gates, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow version: %w", err)
		}
		if err := json.Unmarshal(nodes, &v.Nodes); err != nil {
			return nil, fmt.Errorf("unmarshal nodes: %w", err)
		}
		if err := json.Unmarshal(gates, &v.Gates); err != nil {
			return nil, fmt.Errorf("unmarshal gates: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
